// Package callback holds epoch-end observers: periodic visualizations,
// checkpointing and learning-rate schedules.
package callback

import (
	"math/rand"
	"time"
)

// Func adapts a plain function to the trainer callback contract.
type Func func(epoch int) error

func (f Func) OnEpochEnd(epoch int) error { return f(epoch) }

// fires reports whether a callback with the given period runs after epoch
// (zero based).
func fires(epoch, period int) bool {
	if period <= 0 {
		return false
	}
	return (epoch+1)%period == 0
}

// Option tunes the sampling visualization callbacks.
type Option func(*options)

type options struct {
	rng *rand.Rand
}

// WithSeed makes random sample selection reproducible.
func WithSeed(seed int64) Option {
	return func(o *options) { o.rng = rand.New(rand.NewSource(seed)) }
}

func buildOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.rng == nil {
		o.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return o
}
