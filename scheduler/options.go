package scheduler

import "time"

// Options controls a single execution run
type Options struct {
	DebugMode        bool
	MaxIterations    int           // global dispatch safety cap
	TimeoutSeconds   int           // whole-execution deadline, 0 = none
	MaxParallelNodes int           // worker pool size per step
	PollInterval     time.Duration // empty-poll sleep
	MaxPollRetries   int           // empty polls with no state change before DeadlockDetected
	AbortGrace       time.Duration // wait for cancelled handlers before abandoning them
	Variables        map[string]interface{}
}

// Defaults per option, applied by the scheduler
const (
	DefaultMaxParallelNodes = 10
	DefaultMaxIterations    = 1000
	DefaultPollInterval     = 20 * time.Millisecond
	DefaultMaxPollRetries   = 100
)

func (o *Options) withDefaults() Options {
	out := Options{}
	if o != nil {
		out = *o
	}
	if out.MaxParallelNodes < 1 {
		out.MaxParallelNodes = DefaultMaxParallelNodes
	}
	if out.MaxIterations <= 0 {
		out.MaxIterations = DefaultMaxIterations
	}
	if out.PollInterval <= 0 {
		out.PollInterval = DefaultPollInterval
	}
	if out.MaxPollRetries <= 0 {
		out.MaxPollRetries = DefaultMaxPollRetries
	}
	if out.AbortGrace <= 0 {
		out.AbortGrace = abortGracePeriod
	}
	return out
}
