package kernel

import (
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Level aliases keep call sites in this package terse without a
// package-qualified logiface.LevelX everywhere.
const (
	levelDebug = logiface.LevelDebug
	levelInfo  = logiface.LevelInformational
	levelWarn  = logiface.LevelWarning
	levelErr   = logiface.LevelError
)

// Logger is the structured logger used throughout the kernel. It is a
// concrete instantiation of logiface's generic Logger over stumpy's JSON
// event type.
//
// Built on logiface rather than a hand-rolled log.Logger wrapper, so
// category vocabularies and rate limiting compose the same way they
// would in any other logiface-based service.
type Logger = logiface.Logger[*stumpy.Event]

// NewLogger constructs a Logger writing newline-delimited JSON to options'
// configured writer (stderr by default), via stumpy. Grounded directly on
// logiface-stumpy/example_test.go's ExampleEvent_Bytes_customWriterImplementation:
// `stumpy.L.New(stumpy.L.WithStumpy(...))`.
func NewLogger(options ...stumpy.Option) *Logger {
	return stumpy.L.New(stumpy.L.WithStumpy(options...))
}

// logCategory identifies the kernel subsystem that produced a log event,
// mirroring the Category field of eventloop.LogEntry.
type logCategory string

const (
	categoryScheduler logCategory = "scheduler"
	categoryThread    logCategory = "thread"
	categoryProcess   logCategory = "process"
	categorySync      logCategory = "sync"
	categoryTimer     logCategory = "timer"
	categoryDPC       logCategory = "dpc"
	categoryInterrupt logCategory = "interrupt"
	categoryInvariant logCategory = "invariant"
)

// logRate throttles high-frequency, low-value log categories. Grounded on
// justanotherdot-biscuit's kernel main loop, which hand-rolls a once-per-
// second "limit hits" counter reset around its trap handler; go-catrate is
// the real sliding-window rate limiter in the pack, so the kernel uses it
// instead of reproducing that hand-rolled counter.
type logRate struct {
	limiter *catrate.Limiter
}

func newLogRate() *logRate {
	return &logRate{
		limiter: catrate.NewLimiter(map[time.Duration]int{
			time.Second: 5,
		}),
	}
}

// allow reports whether an event in category should be emitted now.
func (r *logRate) allow(category logCategory) bool {
	if r == nil || r.limiter == nil {
		return true
	}
	_, ok := r.limiter.Allow(string(category))
	return ok
}

// logEvent is the common entry point for structured kernel log lines. It
// mirrors the field vocabulary of eventloop.LogEntry (category, a handful
// of kernel-specific correlation ids, and a tick) without reimplementing
// eventloop's hand-rolled Logger interface.
func (k *Kernel) logEvent(level logiface.Level, category logCategory, msg string, fields map[string]any) {
	if k == nil || k.logger == nil {
		return
	}
	if k.rate != nil && !k.rate.allow(category) {
		return
	}
	b := k.logger.Build(level)
	if b == nil {
		return
	}
	b = b.Str("category", string(category))
	for key, val := range fields {
		switch v := val.(type) {
		case string:
			b = b.Str(key, v)
		case uint64:
			b = b.Uint64(key, v)
		case int:
			b = b.Int(key, v)
		case bool:
			b = b.Bool(key, v)
		default:
			b = b.Any(key, v)
		}
	}
	b.Log(msg)
}

// logFatal logs an invariant violation at the Emergency level, bypassing
// rate limiting: a fatal fault must never be silently dropped.
func (k *Kernel) logFatal(err error) {
	if k == nil || k.logger == nil {
		return
	}
	k.logger.Build(logiface.LevelEmergency).
		Str("category", string(categoryInvariant)).
		Err(err).
		Log("invariant violation, halting")
}
