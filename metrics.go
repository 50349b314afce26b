package kernel

import "sync/atomic"

// quantileEstimator is Jain & Chlamtac's P² algorithm: an O(1)-space,
// O(1)-update streaming estimator for a single quantile, needing no stored
// sample history. Adapted from the teacher's psquare.go (eventloop package),
// which uses the identical five-marker technique for its latency
// percentiles; this kernel needs the same shape for object wait-time
// percentiles (spec's "Statistics snapshot" supplement) and reimplements it
// locally rather than depending on an unexported type from another module.
type quantileEstimator struct {
	p           float64
	q           [5]float64
	n           [5]int
	np          [5]float64
	dn          [5]float64
	initialized bool
	count       int
	initBuffer  [5]float64
}

func newQuantileEstimator(p float64) *quantileEstimator {
	e := &quantileEstimator{p: p}
	e.dn = [5]float64{0, p / 2, p, (1 + p) / 2, 1}
	return e
}

func (e *quantileEstimator) Update(x float64) {
	e.count++
	if !e.initialized {
		e.initBuffer[e.count-1] = x
		if e.count == 5 {
			// insertion sort the seed buffer
			for i := 1; i < 5; i++ {
				v := e.initBuffer[i]
				j := i - 1
				for j >= 0 && e.initBuffer[j] > v {
					e.initBuffer[j+1] = e.initBuffer[j]
					j--
				}
				e.initBuffer[j+1] = v
			}
			for i := 0; i < 5; i++ {
				e.q[i] = e.initBuffer[i]
				e.n[i] = i + 1
			}
			e.np = [5]float64{1, 1 + 2*e.p, 1 + 4*e.p, 3 + 2*e.p, 5}
			e.initialized = true
		}
		return
	}

	k := 0
	switch {
	case x < e.q[0]:
		e.q[0] = x
		k = 0
	case x >= e.q[4]:
		e.q[4] = x
		k = 3
	default:
		for i := 0; i < 4; i++ {
			if x < e.q[i+1] {
				k = i
				break
			}
		}
	}

	for i := k + 1; i < 5; i++ {
		e.n[i]++
	}
	for i := 0; i < 5; i++ {
		e.np[i] += e.dn[i]
	}

	for i := 1; i < 4; i++ {
		d := e.np[i] - float64(e.n[i])
		if (d >= 1 && e.n[i+1]-e.n[i] > 1) || (d <= -1 && e.n[i-1]-e.n[i] < -1) {
			sign := 1.0
			if d < 0 {
				sign = -1.0
			}
			qNew := e.parabolic(i, sign)
			if e.q[i-1] < qNew && qNew < e.q[i+1] {
				e.q[i] = qNew
			} else {
				e.q[i] = e.linear(i, sign)
			}
			e.n[i] += int(sign)
		}
	}
}

func (e *quantileEstimator) parabolic(i int, d float64) float64 {
	return e.q[i] + d/float64(e.n[i+1]-e.n[i-1])*
		((float64(e.n[i]-e.n[i-1])+d)*(e.q[i+1]-e.q[i])/float64(e.n[i+1]-e.n[i])+
			(float64(e.n[i+1]-e.n[i])-d)*(e.q[i]-e.q[i-1])/float64(e.n[i]-e.n[i-1]))
}

func (e *quantileEstimator) linear(i int, d float64) float64 {
	return e.q[i] + d*(e.q[i+int(d)]-e.q[i])/float64(e.n[i+int(d)]-e.n[i])
}

// Quantile returns the current estimate, or 0 if no sample has been
// observed yet. With 1 to 4 samples it returns one of the samples seen so
// far, picked by position in arrival order (the seed buffer is not sorted
// until the fifth sample).
func (e *quantileEstimator) Quantile() float64 {
	if !e.initialized {
		if e.count == 0 {
			return 0
		}
		// Not enough samples for the P^2 markers; return a seed by position.
		idx := int(e.p * float64(e.count-1))
		return e.initBuffer[idx]
	}
	return e.q[2]
}

// waitTimeStats tracks P50/P90/P99 of object wait durations (ticks
// between a thread entering Waiting and being woken), per SPEC_FULL.md's
// "Statistics snapshot" supplement. Guarded by its own lock since updates
// happen off the scheduler's hot path.
type waitTimeStats struct {
	lock SpinLock
	p50  *quantileEstimator
	p90  *quantileEstimator
	p99  *quantileEstimator
	sum  float64
	n    uint64
	max  float64
}

func newWaitTimeStats() *waitTimeStats {
	return &waitTimeStats{
		p50: newQuantileEstimator(0.50),
		p90: newQuantileEstimator(0.90),
		p99: newQuantileEstimator(0.99),
	}
}

func (w *waitTimeStats) record(ticks float64) {
	w.lock.Lock()
	defer w.lock.Unlock()
	w.p50.Update(ticks)
	w.p90.Update(ticks)
	w.p99.Update(ticks)
	w.sum += ticks
	w.n++
	if ticks > w.max {
		w.max = ticks
	}
}

func (w *waitTimeStats) snapshot() WaitTimeSnapshot {
	w.lock.Lock()
	defer w.lock.Unlock()
	var mean float64
	if w.n > 0 {
		mean = w.sum / float64(w.n)
	}
	return WaitTimeSnapshot{
		Count: w.n,
		Mean:  mean,
		Max:   w.max,
		P50:   w.p50.Quantile(),
		P90:   w.p90.Quantile(),
		P99:   w.p99.Quantile(),
	}
}

// WaitTimeSnapshot is a point-in-time view of object wait latency.
type WaitTimeSnapshot struct {
	Count uint64
	Mean  float64
	Max   float64
	P50   float64
	P90   float64
	P99   float64
}

// kernelStats holds the plain atomic counters referenced from thread.go and
// kernel.go. Percentile tracking lives separately in waitTimeStats since
// it needs its own lock rather than being lock-free.
type kernelStats struct {
	threadsCreated    atomic.Uint64
	threadsActive     atomic.Uint64
	threadsTerminated atomic.Uint64
	waitTimes         *waitTimeStats
}

func newKernelStats() *kernelStats {
	return &kernelStats{waitTimes: newWaitTimeStats()}
}

// SchedulerStats is the snapshot returned by Kernel.Stats(): spec's
// "Statistics snapshot" supplement, combining thread lifecycle counters,
// scheduler selection counters, and wait-time percentiles in one value so
// callers don't have to poke at internal locks themselves.
type SchedulerStats struct {
	ThreadsCreated    uint64
	ThreadsActive     uint64
	ThreadsTerminated uint64

	Schedules        uint64
	ContextSwitches  uint64
	StarvationBoosts uint64
	LoadBalanceOps   uint64

	Algorithm Algorithm
	WaitTimes WaitTimeSnapshot
}

// Stats implements SPEC_FULL.md's Kernel.Stats() supplement, grounded on
// eventloop.Loop.Metrics()'s snapshot-struct shape.
func (k *Kernel) Stats() SchedulerStats {
	sc := k.scheduler
	sc.lock.Lock()
	snap := SchedulerStats{
		ThreadsCreated:    k.stats.threadsCreated.Load(),
		ThreadsActive:     k.stats.threadsActive.Load(),
		ThreadsTerminated: k.stats.threadsTerminated.Load(),
		Schedules:         sc.schedules,
		ContextSwitches:   sc.contextSwitches,
		StarvationBoosts:  sc.starvationBoosts,
		LoadBalanceOps:    sc.loadBalanceOps,
		Algorithm:         sc.algorithm,
	}
	sc.lock.Unlock()
	if k.cfg.metricsEnabled {
		snap.WaitTimes = k.stats.waitTimes.snapshot()
	}
	return snap
}
