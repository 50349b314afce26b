package kernel

import (
	"context"
	"sync/atomic"
	"time"
)

// KernelState is the overall scheduler lifecycle state (spec §6's
// scheduler_init/start/stop), modelled the same way eventloop.LoopState
// models its own lifecycle: an explicit enum driving an AtomicState rather
// than a scattered set of booleans.
type KernelState uint32

const (
	KernelUninitialized KernelState = iota
	KernelInitialized
	KernelRunning
	KernelStopped
)

func (s KernelState) String() string {
	switch s {
	case KernelUninitialized:
		return "Uninitialized"
	case KernelInitialized:
		return "Initialized"
	case KernelRunning:
		return "Running"
	case KernelStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// Kernel is the execution core: the scheduler, thread/process registries,
// timer/DPC subsystem, and the collaborators (Allocator, Arch, Logger) it
// consumes but does not itself implement (spec §1, §2).
type Kernel struct {
	cfg       *kernelOptions
	logger    *Logger
	rate      *logRate
	allocator Allocator
	arch      Arch

	state *AtomicState[KernelState]

	ticks        atomic.Uint64
	nextThreadID atomic.Uint64
	nextTimerID  atomic.Uint64

	globalThreadLock SpinLock
	globalThreadList *List[TCB]

	scheduler *Scheduler
	stats     *kernelStats

	timerLock  SpinLock
	timerQueue timerHeap

	dpcLock    SpinLock
	dpcQueue   *List[DPC]
	dpcNesting atomic.Int32
}

// NewKernel constructs a Kernel in the Uninitialized state. Call Init then
// Start before creating threads or scheduling.
func NewKernel(opts ...KernelOption) (*Kernel, error) {
	cfg, err := resolveKernelOptions(opts)
	if err != nil {
		return nil, err
	}

	logger := cfg.logger
	if logger == nil {
		logger = NewLogger()
	}

	k := &Kernel{
		cfg:              cfg,
		logger:           logger,
		rate:             newLogRate(),
		allocator:        cfg.allocator,
		arch:             cfg.arch,
		state:            NewAtomicState(KernelUninitialized),
		globalThreadList: NewList(func(t *TCB) *Links[TCB] { return &t.globalLink }),
		dpcQueue:         NewList(func(d *DPC) *Links[DPC] { return &d.link }),
		stats:            newKernelStats(),
	}
	k.scheduler = newScheduler(cfg)
	k.scheduler.k = k

	return k, nil
}

// Ticks returns the number of TimerInterrupt calls observed so far, the
// kernel's own notion of "now" (spec §6: units are kernel ticks, not
// wall-clock time).
func (k *Kernel) Ticks() uint64 { return k.ticks.Load() }

// State returns the kernel's lifecycle state.
func (k *Kernel) State() KernelState { return k.state.Load() }

// Init implements spec §6 `scheduler_init()`.
func (k *Kernel) Init() error {
	if !k.state.TryTransition(KernelUninitialized, KernelInitialized) {
		return wrapError(ErrAlreadyInitialized, "kernel already initialized")
	}
	k.logEvent(levelInfo, categoryScheduler, "kernel initialized", map[string]any{
		"cpu_count": k.cfg.cpuCount,
		"algorithm": k.cfg.algorithm.String(),
	})
	return nil
}

// Start implements spec §6 `scheduler_start()`.
func (k *Kernel) Start() error {
	if !k.state.TryTransition(KernelInitialized, KernelRunning) {
		return wrapError(ErrNotInitialized, "kernel not initialized")
	}
	k.logEvent(levelInfo, categoryScheduler, "kernel started", nil)
	return nil
}

// Stop implements spec §6 `scheduler_stop()`.
func (k *Kernel) Stop() error {
	if !k.state.TransitionAny([]KernelState{KernelRunning, KernelInitialized}, KernelStopped) {
		return wrapError(ErrNotInitialized, "kernel not running")
	}
	k.logEvent(levelInfo, categoryScheduler, "kernel stopped", nil)
	return nil
}

// Shutdown implements SPEC_FULL.md's "Kernel lifecycle" supplement, grounded
// on eventloop.Loop.Shutdown's two-phase drain: move the kernel to
// Stopped, then wait for every existing thread to terminate (rather than
// tearing them down forcibly), honoring ctx as a deadline. Stopped is a
// lifecycle state only: scheduling and thread-creation entry points do not
// check it, and queued DPCs are not run by Shutdown.
func (k *Kernel) Shutdown(ctx context.Context) error {
	if err := k.Stop(); err != nil {
		return err
	}
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for k.stats.threadsActive.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// SchedulerAdd implements spec §6 `scheduler_add(tcb)`.
func (k *Kernel) SchedulerAdd(t *TCB) error {
	if t == nil {
		return wrapError(ErrInvalidParameter, "thread is nil")
	}
	k.scheduler.Enqueue(t)
	return nil
}

// SchedulerRemove implements spec §6 `scheduler_remove(tcb)`.
func (k *Kernel) SchedulerRemove(t *TCB) error {
	if t == nil {
		return wrapError(ErrInvalidParameter, "thread is nil")
	}
	k.scheduler.removeFromSchedulerIfPresent(t)
	return nil
}
