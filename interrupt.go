package kernel

// defaultQuantum is the tick budget a thread receives each time it starts
// running, in the absence of a more specific quota mechanism. Not a value
// named explicitly by the kernel's interface, so picked as a reasonable
// round default (20 ticks) rather than left unset.
const defaultQuantum = 20

// TimerInterrupt implements spec §4.12: the periodic heartbeat that
// advances the tick counter, charges the running thread's quantum,
// processes expired timers, drains DPCs, ages starved ready threads, and
// finally asks the scheduler to pick each CPU's next thread.
//
// In a real kernel this runs on a hardware interrupt; here it is driven
// explicitly by the caller, for example a test advancing ticks one at a
// time. The kernel starts no ticker of its own.
func (k *Kernel) TimerInterrupt() {
	k.dpcNesting.Add(1)
	defer k.dpcNesting.Add(-1)

	now := k.ticks.Add(1)

	// Step 2: debit the running thread's quantum. A thread that completes
	// its quantum is behavior-adjusted (spec §4.8: boosted if I/O-bound,
	// demoted if CPU-bound) and flagged so ScheduleNext's should_preempt
	// check (rule 3, "current.quantum <= 0") fires even though the quantum
	// is reset in this same step — the reset must not erase the signal that
	// a reschedule was requested.
	quantumExpired := make([]bool, len(k.scheduler.currentThread))
	idleCPUs := make([]int, 0, len(k.scheduler.currentThread))
	k.scheduler.lock.Lock()
	for cpu, cur := range k.scheduler.currentThread {
		idle := cur == nil || cur == k.scheduler.idleThread[cpu]
		k.scheduler.updateLoadLocked(cpu, !idle)
		if idle {
			// spec §4.13: the idle loop "sets CPU load to 0" each pass.
			k.scheduler.cpuTopology[cpu].load = 0
			idleCPUs = append(idleCPUs, cpu)
			continue
		}
		cur.cpuTime++
		cur.quantum--
		if cur.quantum <= 0 {
			quantumExpired[cpu] = true
			adjustPriorityForBehavior(cur)
			cur.quantum = baseQuantumForLevel(priorityLevel(cur.priority))
		}
	}
	k.scheduler.lock.Unlock()

	// Idle-loop power-management hook (spec §4.13, SPEC_FULL.md's
	// WithIdleHook supplement). Invoked outside the scheduler lock since
	// it's an external callback.
	if k.cfg.idleHook != nil {
		for _, cpu := range idleCPUs {
			k.cfg.idleHook(cpu, 0)
		}
	}

	k.processExpiredTimers(now)

	if k.dpcNesting.Load() == 1 {
		k.drainDPCs()
	}

	k.ageThreads()

	if k.cfg.loadBalanceInterval > 0 && now%k.cfg.loadBalanceInterval == 0 {
		k.tickLoadBalance()
	}
	if secs := k.ticksPerSecond(); secs > 0 && now%secs == 0 {
		k.decayFairShareQuotas()
	}

	for cpu := range k.scheduler.currentThread {
		prev := k.scheduler.currentThread[cpu]
		next := k.scheduleNext(cpu, quantumExpired[cpu])
		if k.arch != nil && prev != nil && next != nil && prev != next {
			k.arch.SwitchContext(prev.archContext, next.archContext)
		}
	}
}

// baseQuantumForLevel implements spec §3's per-level time slice:
// `base_time_slice = 10·(level+1) ms`, expressed in ticks.
func baseQuantumForLevel(level int) int64 {
	return int64(10 * (level + 1))
}

// adjustPriorityForBehavior implements spec §4.8's after-quantum priority
// adjustment: I/O-bound threads are boosted, CPU-bound threads are demoted,
// clamped to [LowestPriority, HighestPriority].
func adjustPriorityForBehavior(t *TCB) {
	switch {
	case t.ioCount > t.cpuTime/1000:
		t.priority = clampPriority(t.priority + PriorityIncrement)
	case t.cpuTime > t.ioCount*1000:
		t.priority = clampPriority(t.priority - PriorityIncrement)
	}
}

// ticksPerSecond converts the configured wall-clock tick duration into a
// tick count, used to pace once-per-second bookkeeping like fair-share
// quota decay (spec §4.10).
func (k *Kernel) ticksPerSecond() uint64 {
	if k.cfg.tickDuration <= 0 {
		return 1000
	}
	n := uint64(1_000_000_000 / k.cfg.tickDuration.Nanoseconds())
	if n == 0 {
		return 1
	}
	return n
}
