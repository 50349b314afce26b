package kernel

// Scheduler holds the ready-queue state: 8 MLFQ priority levels plus a
// dedicated real-time queue, one current/idle thread slot per CPU, and the
// bookkeeping the five selection algorithms and load balancer need.
type Scheduler struct {
	k *Kernel

	lock SpinLock

	levels        [numPriorityLevels]*List[TCB]
	realTimeQueue *List[TCB]

	algorithm Algorithm
	rrCursor  int // RoundRobin's rotating scan start

	currentThread []*TCB
	idleThread    []*TCB

	fairShareGroups map[uint64]*fairShareGroup

	cpuTopology []cpuState

	schedules        uint64
	contextSwitches  uint64
	starvationBoosts uint64
	loadBalanceOps   uint64
}

// cpuState is spec §3's `cpu_topology: per-CPU {load 0..100, online,
// temperature}`. temperature is carried as opaque telemetry only (like the
// PCB's resource limits, "consumed by core only as an opaque budget") — no
// selection algorithm reads it; load and online drive LoadBalanced
// selection and the periodic load-balance scan.
type cpuState struct {
	load        int
	online      bool
	temperature int
}

// fairShareGroup is the fair-share accounting unit: a quota that decays
// once per second and is consumed as group members run.
type fairShareGroup struct {
	id    uint64
	quota float64 // remaining budget, arbitrary units
	share float64 // target fraction of CPU time, 0 < share <= 1
}

func newScheduler(cfg *kernelOptions) *Scheduler {
	s := &Scheduler{
		algorithm:       cfg.algorithm,
		currentThread:   make([]*TCB, cfg.cpuCount),
		idleThread:      make([]*TCB, cfg.cpuCount),
		fairShareGroups: make(map[uint64]*fairShareGroup),
		cpuTopology:     make([]cpuState, cfg.cpuCount),
	}
	for i := range s.cpuTopology {
		s.cpuTopology[i] = cpuState{online: true, temperature: roomTemperature}
	}
	for i := range s.levels {
		s.levels[i] = NewList(func(t *TCB) *Links[TCB] { return &t.queueLink })
	}
	s.realTimeQueue = NewList(func(t *TCB) *Links[TCB] { return &t.queueLink })
	return s
}

// roomTemperature is the idle baseline recorded for a freshly-online CPU;
// never read by any selection algorithm (see cpuState).
const roomTemperature = 40

// updateLoadLocked folds a single busy/idle observation into cpu's load via
// an exponential moving average (caller holds sc.lock) that keeps 0.8 of the
// previous load and takes 0.2 of the new observation. This is the same
// weighted-average form decayFairShareQuotas uses, with fixed weights rather
// than the configurable fairShareDecay.
func (sc *Scheduler) updateLoadLocked(cpu int, busy bool) {
	if cpu < 0 || cpu >= len(sc.cpuTopology) {
		return
	}
	target := 0.0
	if busy {
		target = 100.0
	}
	cur := float64(sc.cpuTopology[cpu].load)
	sc.cpuTopology[cpu].load = int(cur*0.8 + target*0.2 + 0.5)
}

func (s *Scheduler) queueFor(priority int32) *List[TCB] {
	if priority >= RealTimeThreshold {
		return s.realTimeQueue
	}
	return s.levels[priorityLevel(priority)]
}

// Enqueue places t in the queue matching its current priority, stamping
// readyTime for aging.
func (s *Scheduler) Enqueue(t *TCB) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.enqueueLocked(t)
}

func (s *Scheduler) enqueueLocked(t *TCB) {
	t.state.Store(ThreadReady)
	t.readyTime = s.k.Ticks()
	t.inSchedulerQueue = true
	s.queueFor(t.priority).PushBack(t)
}

// removeFromSchedulerIfPresent unlinks t from whichever ready queue
// currently holds it, if any. Safe to call on a thread that isn't queued
// (e.g. Waiting or Running).
func (s *Scheduler) removeFromSchedulerIfPresent(t *TCB) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if !t.inSchedulerQueue {
		return
	}
	s.queueFor(t.priority).Remove(t)
	t.inSchedulerQueue = false
}

// CreateFairShareGroup registers a fair-share accounting group. share is
// its target fraction of CPU time in (0, 1].
func (k *Kernel) CreateFairShareGroup(id uint64, share float64) error {
	if share <= 0 || share > 1 {
		return wrapError(ErrInvalidParameter, "fair-share must be in (0, 1], got %f", share)
	}
	sc := k.scheduler
	sc.lock.Lock()
	defer sc.lock.Unlock()
	if _, exists := sc.fairShareGroups[id]; exists {
		return wrapError(ErrAlreadyInitialized, "fair-share group %d already exists", id)
	}
	sc.fairShareGroups[id] = &fairShareGroup{id: id, share: share, quota: share * fairShareQuotaUnit}
	return nil
}

// fairShareQuotaUnit is the arbitrary per-decay-period budget a group with
// share == 1 receives; groups with smaller shares get a proportional slice.
const fairShareQuotaUnit = 1000

// SetThreadAffinity records which CPUs t is allowed to run on. The
// affinity mask is consumed only by LoadBalanced selection
// (selectLoadBalanced); the periodic load-balance pass does not read it,
// and setting it does not itself move an already-queued thread.
func (k *Kernel) SetThreadAffinity(t *TCB, mask uint64) error {
	if t == nil {
		return wrapError(ErrInvalidParameter, "thread is nil")
	}
	if mask == 0 {
		return wrapError(ErrInvalidParameter, "affinity mask must select at least one cpu")
	}
	t.cpuAffinity = mask
	return nil
}

// SetAlgorithm switches the active selection algorithm.
func (k *Kernel) SetAlgorithm(alg Algorithm) {
	k.scheduler.lock.Lock()
	k.scheduler.algorithm = alg
	k.scheduler.lock.Unlock()
}

// Algorithm returns the currently active selection algorithm. Under
// Adaptive this can change between calls as an observable side effect of
// ScheduleNext (see selectAdaptive).
func (s *Scheduler) Algorithm() Algorithm {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.algorithm
}

// shouldPreempt decides whether candidate should displace current: a
// real-time candidate always preempts a non-real-time current, a
// candidate whose priority exceeds current's by more than two preempts
// regardless of quantum, and a current thread whose quantum has expired
// is always preempted. quantumExpired substitutes for a live re-read of
// current.quantum: the timer interrupt resets quantum to the next slice
// in the very same step that detects expiry, so by the time ScheduleNext
// runs the field itself no longer reflects expiry; callers driven by
// TimerInterrupt thread the fact through explicitly instead.
//
// A running real-time thread is never preempted by an arriving real-time
// candidate, regardless of priority: spec §5/§9's FIFO-among-real-time-peers
// guarantee means a new arrival waits its turn rather than displacing
// whichever real-time thread already holds the CPU.
func shouldPreempt(current, candidate *TCB, quantumExpired bool) bool {
	if current.priority >= RealTimeThreshold {
		return false
	}
	if candidate.priority >= RealTimeThreshold {
		return true
	}
	if candidate.priority > current.priority+2 {
		return true
	}
	if quantumExpired || current.quantum <= 0 {
		return true
	}
	return false
}

// ScheduleNext is the public entry point for callers outside the
// timer-interrupt path. It derives quantum-expiry from the current
// thread's live quantum field.
func (k *Kernel) ScheduleNext(cpu int) *TCB {
	sc := k.scheduler
	sc.lock.Lock()
	var expired bool
	if cpu >= 0 && cpu < len(sc.currentThread) && sc.currentThread[cpu] != nil {
		expired = sc.currentThread[cpu].quantum <= 0
	}
	sc.lock.Unlock()
	return k.scheduleNext(cpu, expired)
}

// scheduleNext picks a candidate according to the active algorithm, then
// compares it against cpu's current thread via shouldPreempt's rules. If
// preemption isn't warranted, the candidate is pushed back to the front of
// the queue it came from (preserving its position relative to threads
// behind it) and the current thread keeps running untouched. If
// preemption proceeds, the displaced thread re-enters its priority queue
// at the tail rather than being silently dropped. If no thread is ready,
// the current thread keeps running; a CPU with no current thread gets its
// idle thread (if installed).
func (k *Kernel) scheduleNext(cpu int, quantumExpired bool) *TCB {
	sc := k.scheduler
	sc.lock.Lock()
	defer sc.lock.Unlock()

	sc.schedules++

	var current *TCB
	if cpu >= 0 && cpu < len(sc.currentThread) {
		current = sc.currentThread[cpu]
	}
	isIdle := current != nil && cpu >= 0 && cpu < len(sc.idleThread) && current == sc.idleThread[cpu]

	// Real-time threads bypass algorithm choice entirely but still pass
	// through the preemption comparison below, which preserves real-time's
	// strict FIFO ordering among peers (see DESIGN.md for why this isn't an
	// unconditional early return).
	var candidate *TCB
	if candidate = sc.realTimeQueue.PopFront(); candidate == nil {
		switch sc.algorithm {
		case RoundRobin:
			candidate = sc.selectRoundRobin()
		case Priority:
			candidate = sc.selectPriority()
		case FairShare:
			candidate = sc.selectFairShare()
		case LoadBalanced:
			candidate = sc.selectLoadBalanced()
		case Adaptive:
			candidate = sc.selectAdaptive()
		default:
			candidate = sc.selectPriority()
		}
	}

	if candidate == nil {
		if current != nil {
			return current
		}
		if cpu >= 0 && cpu < len(sc.idleThread) {
			sc.currentThread[cpu] = sc.idleThread[cpu]
			return sc.idleThread[cpu]
		}
		return nil
	}

	if current != nil && !isIdle && !shouldPreempt(current, candidate, quantumExpired) {
		sc.queueFor(candidate.priority).PushFront(candidate)
		return current
	}

	if current != nil && !isIdle {
		sc.enqueueLocked(current)
	}

	candidate.inSchedulerQueue = false
	candidate.state.Store(ThreadRunning)
	candidate.contextSwitchCount++
	if cpu >= 0 && cpu < len(sc.currentThread) {
		sc.currentThread[cpu] = candidate
		sc.contextSwitches++
	}
	return candidate
}

func (sc *Scheduler) selectPriority() *TCB {
	for level := numPriorityLevels - 1; level >= 0; level-- {
		if t := sc.levels[level].PopFront(); t != nil {
			return t
		}
	}
	return nil
}

func (sc *Scheduler) selectRoundRobin() *TCB {
	for i := 0; i < numPriorityLevels; i++ {
		level := (sc.rrCursor + i) % numPriorityLevels
		if t := sc.levels[level].PopFront(); t != nil {
			sc.rrCursor = (level + 1) % numPriorityLevels
			return t
		}
	}
	return nil
}

// selectFairShare prefers a ready thread whose fair-share group still has
// quota remaining, in priority order, falling back to plain priority order
// if every group with a ready thread is exhausted: quota exhaustion defers
// a group, it never starves it forever.
func (sc *Scheduler) selectFairShare() *TCB {
	for level := numPriorityLevels - 1; level >= 0; level-- {
		var withQuota *TCB
		sc.levels[level].Walk(func(t *TCB) bool {
			g := sc.fairShareGroups[t.GroupID()]
			if g == nil || g.quota > 0 {
				withQuota = t
				return false
			}
			return true
		})
		if withQuota != nil {
			sc.levels[level].Remove(withQuota)
			if g := sc.fairShareGroups[withQuota.GroupID()]; g != nil {
				g.quota--
			}
			return withQuota
		}
	}
	// Every ready thread's group is exhausted; fall back to priority order
	// so the system still makes progress.
	return sc.selectPriority()
}

// selectLoadBalanced implements spec §4.7's LoadBalanced algorithm: find
// the online CPU with the minimum load, then scan priority levels
// high-to-low for the first ready thread whose affinity is unset (0, "any
// CPU") or includes that CPU; fall back to plain Priority order if no
// online CPU or no affinity-eligible thread is found.
func (sc *Scheduler) selectLoadBalanced() *TCB {
	target, minLoad := -1, 101
	for cpu, c := range sc.cpuTopology {
		if !c.online {
			continue
		}
		if c.load < minLoad {
			minLoad, target = c.load, cpu
		}
	}
	if target < 0 || target >= 64 {
		return sc.selectPriority()
	}
	mask := uint64(1) << uint(target)
	for level := numPriorityLevels - 1; level >= 0; level-- {
		var match *TCB
		sc.levels[level].Walk(func(t *TCB) bool {
			if t.cpuAffinity == 0 || t.cpuAffinity&mask != 0 {
				match = t
				return false
			}
			return true
		})
		if match != nil {
			sc.levels[level].Remove(match)
			return match
		}
	}
	return sc.selectPriority()
}

// selectAdaptive implements spec §4.7's Adaptive algorithm literally:
// system load is the sum of per-CPU loads; above 80 it behaves as
// LoadBalanced, below 20 as Priority, otherwise as FairShare. It mutates
// the scheduler's active algorithm as an observable side effect
// (preserved per spec §9's callout that `KiSelectNextThreadAdaptive` does
// this and other components read it), then defers to that algorithm's own
// selection rather than literally recursing into scheduleNext (which would
// re-run the real-time check scheduleNext already performed).
func (sc *Scheduler) selectAdaptive() *TCB {
	sum := 0
	for _, c := range sc.cpuTopology {
		sum += c.load
	}
	switch {
	case sum > 80:
		sc.algorithm = LoadBalanced
		return sc.selectLoadBalanced()
	case sum < 20:
		sc.algorithm = Priority
		return sc.selectPriority()
	default:
		sc.algorithm = FairShare
		return sc.selectFairShare()
	}
}

// SetCPUOnline marks cpu online or offline for load-balancing purposes
// (spec §4.9: "scan online CPUs for max_load and min_load"). An offline CPU
// is skipped by both the periodic load-balance scan and LoadBalanced
// selection's target-CPU search; threads already queued are unaffected.
func (k *Kernel) SetCPUOnline(cpu int, online bool) error {
	sc := k.scheduler
	sc.lock.Lock()
	defer sc.lock.Unlock()
	if cpu < 0 || cpu >= len(sc.cpuTopology) {
		return wrapError(ErrInvalidParameter, "cpu %d out of range", cpu)
	}
	sc.cpuTopology[cpu].online = online
	return nil
}

// CPULoad returns cpu's most recently observed load estimate, 0-100.
func (k *Kernel) CPULoad(cpu int) int {
	sc := k.scheduler
	sc.lock.Lock()
	defer sc.lock.Unlock()
	if cpu < 0 || cpu >= len(sc.cpuTopology) {
		return 0
	}
	return sc.cpuTopology[cpu].load
}

// SetIdleThread installs the idle thread used by cpu when nothing else is
// ready.
func (k *Kernel) SetIdleThread(cpu int, t *TCB) error {
	sc := k.scheduler
	sc.lock.Lock()
	defer sc.lock.Unlock()
	if cpu < 0 || cpu >= len(sc.idleThread) {
		return wrapError(ErrInvalidParameter, "cpu %d out of range", cpu)
	}
	sc.idleThread[cpu] = t
	return nil
}

// ageThreads boosts any ready thread that has waited longer than
// agingThreshold ticks without running by one priority increment and
// moves it to its new level, preventing starvation under strict Priority
// selection. Level 0 is exempt: idle-priority threads are never aged.
func (k *Kernel) ageThreads() {
	sc := k.scheduler
	now := k.Ticks()
	threshold := k.cfg.agingThreshold

	sc.lock.Lock()
	defer sc.lock.Unlock()

	for level := 1; level < numPriorityLevels; level++ {
		var stale []*TCB
		sc.levels[level].Walk(func(t *TCB) bool {
			if now-t.readyTime > threshold {
				stale = append(stale, t)
			}
			return true
		})
		for _, t := range stale {
			sc.levels[level].Remove(t)
			t.priority = clampPriority(t.priority + PriorityIncrement)
			t.readyTime = now
			sc.queueFor(t.priority).PushBack(t)
			sc.starvationBoosts++
		}
	}
}

// tickLoadBalance implements spec §4.9: at most once every
// loadBalanceInterval ticks, scan online CPUs for max/min load and, if the
// spread exceeds loadBalanceThreshold, record a balance operation. Per
// spec §4.9/§9, no thread migration actually happens here — "thread
// migration itself is modelled as updating affinity hints... actual
// migration happens lazily in LoadBalanced selection" (selectLoadBalanced
// already consults live per-CPU load on every selection, so the deferred
// migration is real, just lazy rather than eager).
func (k *Kernel) tickLoadBalance() {
	sc := k.scheduler
	sc.lock.Lock()
	maxLoad, minLoad, any := -1, 101, false
	for _, c := range sc.cpuTopology {
		if !c.online {
			continue
		}
		any = true
		if c.load > maxLoad {
			maxLoad = c.load
		}
		if c.load < minLoad {
			minLoad = c.load
		}
	}
	triggered := any && maxLoad-minLoad > k.cfg.loadBalanceThreshold
	if triggered {
		sc.loadBalanceOps++
	}
	sc.lock.Unlock()

	if triggered {
		k.logEvent(levelDebug, categoryScheduler, "load balance pass", map[string]any{
			"max_load": maxLoad,
			"min_load": minLoad,
		})
	}
}

// VerifyInvariants runs consistency checks cheap enough to call
// opportunistically (e.g. from tests at a quiescent point, or from a debug
// build between scheduling passes): every queued thread reports Ready and
// InSchedulerQueue, a real-time priority thread is never parked in a
// non-real-time level, and the measured queue lengths agree with
// List.Len(). A failed check does not return an error — it panics via
// panicInvariant, deliberately without a recover path (see errors.go).
func (k *Kernel) VerifyInvariants() {
	sc := k.scheduler
	sc.lock.Lock()
	defer sc.lock.Unlock()

	check := func(level int, list *List[TCB], isRealTime bool) {
		n := 0
		list.Walk(func(t *TCB) bool {
			n++
			if !t.inSchedulerQueue || t.State() != ThreadReady {
				panicInvariant(k, "queued thread is not marked Ready/InSchedulerQueue")
			}
			if isRealTime && t.priority < RealTimeThreshold {
				panicInvariant(k, "non-real-time thread queued on the real-time queue")
			}
			if !isRealTime && t.priority >= RealTimeThreshold {
				panicInvariant(k, "real-time-priority thread queued on a non-real-time level")
			}
			if !isRealTime && priorityLevel(t.priority) != level {
				panicInvariant(k, "thread queued at a level inconsistent with its priority")
			}
			return true
		})
		if n != list.Len() {
			panicInvariant(k, "ready queue length disagrees with its list")
		}
	}

	for level, list := range sc.levels {
		check(level, list, false)
	}
	check(-1, sc.realTimeQueue, true)
}

// decayFairShareQuotas implements spec §4.10: once per second, every
// group's quota resets toward its share-proportional budget, scaled by
// fairShareDecay rather than snapped back to full (so groups that
// overspent recover gradually rather than immediately).
func (k *Kernel) decayFairShareQuotas() {
	sc := k.scheduler
	sc.lock.Lock()
	defer sc.lock.Unlock()
	for _, g := range sc.fairShareGroups {
		target := g.share * fairShareQuotaUnit
		g.quota = g.quota*k.cfg.fairShareDecay + target*(1-k.cfg.fairShareDecay)
	}
}
