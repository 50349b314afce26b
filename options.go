package kernel

import "time"

// Algorithm selects the scheduling policy used by the next-thread selector
// (see scheduler.go). Adaptive mutates this field as an observable side
// effect of selection, since other components read the active algorithm.
type Algorithm int

const (
	RoundRobin Algorithm = iota
	Priority
	FairShare
	LoadBalanced
	Adaptive
)

func (a Algorithm) String() string {
	switch a {
	case RoundRobin:
		return "RoundRobin"
	case Priority:
		return "Priority"
	case FairShare:
		return "FairShare"
	case LoadBalanced:
		return "LoadBalanced"
	case Adaptive:
		return "Adaptive"
	default:
		return "Unknown"
	}
}

// kernelOptions holds configuration resolved by NewKernel.
type kernelOptions struct {
	cpuCount             int
	algorithm            Algorithm
	tickDuration         time.Duration // wall-clock duration of one scheduler tick, used by ticksPerSecond
	logger               *Logger
	metricsEnabled       bool
	agingThreshold       uint64 // ticks; default 10_000 (10s at 1ms tick)
	loadBalanceInterval  uint64 // ticks; default 1_000 (1s)
	loadBalanceThreshold int    // load-spread percentage points; default 10
	fairShareDecay       float64
	idleHook             func(cpu int, load int)
	allocator            Allocator
	arch                 Arch
}

// KernelOption configures a Kernel instance.
type KernelOption interface {
	applyKernel(*kernelOptions) error
}

type kernelOptionImpl struct {
	applyKernelFunc func(*kernelOptions) error
}

func (o *kernelOptionImpl) applyKernel(opts *kernelOptions) error {
	return o.applyKernelFunc(opts)
}

// WithCPUCount sets the number of simulated CPUs.
func WithCPUCount(n int) KernelOption {
	return &kernelOptionImpl{func(opts *kernelOptions) error {
		if n < 1 {
			return wrapError(ErrInvalidParameter, "cpu count must be >= 1, got %d", n)
		}
		opts.cpuCount = n
		return nil
	}}
}

// WithSchedulingAlgorithm sets the initial selection algorithm.
func WithSchedulingAlgorithm(alg Algorithm) KernelOption {
	return &kernelOptionImpl{func(opts *kernelOptions) error {
		opts.algorithm = alg
		return nil
	}}
}

// WithTickDuration sets the wall-clock duration one TimerInterrupt call
// stands for. The kernel runs no ticker of its own; the caller invokes
// TimerInterrupt. The duration is used only to convert once-per-second
// bookkeeping (fair-share quota decay) into a tick count.
func WithTickDuration(d time.Duration) KernelOption {
	return &kernelOptionImpl{func(opts *kernelOptions) error {
		if d <= 0 {
			return wrapError(ErrInvalidParameter, "tick duration must be positive")
		}
		opts.tickDuration = d
		return nil
	}}
}

// WithLogger attaches a structured logger (see logging.go). A nil logger is
// treated like no WithLogger option at all: NewKernel installs its default
// logger, so logging is not disabled by passing nil.
func WithLogger(l *Logger) KernelOption {
	return &kernelOptionImpl{func(opts *kernelOptions) error {
		opts.logger = l
		return nil
	}}
}

// WithMetrics enables wait-time percentile tracking (see metrics.go).
func WithMetrics(enabled bool) KernelOption {
	return &kernelOptionImpl{func(opts *kernelOptions) error {
		opts.metricsEnabled = enabled
		return nil
	}}
}

// WithAgingThreshold overrides the 10s/10_000-tick starvation threshold.
func WithAgingThreshold(ticks uint64) KernelOption {
	return &kernelOptionImpl{func(opts *kernelOptions) error {
		opts.agingThreshold = ticks
		return nil
	}}
}

// WithLoadBalanceInterval overrides the default 1s/1_000-tick load-balance
// interval.
func WithLoadBalanceInterval(ticks uint64) KernelOption {
	return &kernelOptionImpl{func(opts *kernelOptions) error {
		opts.loadBalanceInterval = ticks
		return nil
	}}
}

// WithLoadBalanceThreshold overrides the default load-spread threshold (10
// percentage points, spec §4.9's "default 10") that triggers a recorded
// balance operation.
func WithLoadBalanceThreshold(threshold int) KernelOption {
	return &kernelOptionImpl{func(opts *kernelOptions) error {
		if threshold < 0 {
			return wrapError(ErrInvalidParameter, "load balance threshold must be >= 0")
		}
		opts.loadBalanceThreshold = threshold
		return nil
	}}
}

// WithFairShareDecay overrides the 0.9-per-second decay factor.
func WithFairShareDecay(decay float64) KernelOption {
	return &kernelOptionImpl{func(opts *kernelOptions) error {
		opts.fairShareDecay = decay
		return nil
	}}
}

// WithIdleHook installs an optional power-management callback invoked from
// each CPU's idle loop.
func WithIdleHook(fn func(cpu int, load int)) KernelOption {
	return &kernelOptionImpl{func(opts *kernelOptions) error {
		opts.idleHook = fn
		return nil
	}}
}

// WithAllocator installs a memory-manager collaborator (see thread.go's
// Allocator interface). Defaults to a plain Go-heap-backed implementation.
func WithAllocator(a Allocator) KernelOption {
	return &kernelOptionImpl{func(opts *kernelOptions) error {
		if a == nil {
			return wrapError(ErrInvalidParameter, "allocator is nil")
		}
		opts.allocator = a
		return nil
	}}
}

// WithArch installs an architecture collaborator (see thread.go's Arch
// interface). Defaults to a no-op implementation adequate for exercising
// scheduling decisions without real register contexts.
func WithArch(a Arch) KernelOption {
	return &kernelOptionImpl{func(opts *kernelOptions) error {
		if a == nil {
			return wrapError(ErrInvalidParameter, "arch is nil")
		}
		opts.arch = a
		return nil
	}}
}

func resolveKernelOptions(opts []KernelOption) (*kernelOptions, error) {
	cfg := &kernelOptions{
		cpuCount:             1,
		algorithm:            Priority,
		tickDuration:         time.Millisecond,
		agingThreshold:       10_000,
		loadBalanceInterval:  1_000,
		loadBalanceThreshold: 10,
		fairShareDecay:       0.9,
		allocator:            defaultAllocator{},
		arch:                 defaultArch{},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyKernel(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
