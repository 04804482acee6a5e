package callback

import (
	"fmt"
	"math"

	"epochforge/internal/model"
)

// Schedule maps an epoch index to a learning-rate value or multiplier.
type Schedule interface {
	At(epoch int) float64
}

// LearningRateScheduler is the polynomial decay (1 - epoch/maxEpoch)^power.
type LearningRateScheduler struct {
	MaxEpoch int
	Power    float64
}

// NewLearningRateScheduler uses power 0.9 when power <= 0. maxEpoch must be
// positive.
func NewLearningRateScheduler(maxEpoch int, power float64) (LearningRateScheduler, error) {
	if maxEpoch <= 0 {
		return LearningRateScheduler{}, fmt.Errorf("lr scheduler: max epoch must be > 0 (got %d)", maxEpoch)
	}
	if power <= 0 {
		power = 0.9
	}
	return LearningRateScheduler{MaxEpoch: maxEpoch, Power: power}, nil
}

// At returns 0 when MaxEpoch is not positive.
func (s LearningRateScheduler) At(epoch int) float64 {
	if s.MaxEpoch <= 0 {
		return 0
	}
	base := 1 - float64(epoch)/float64(s.MaxEpoch)
	if base <= 0 {
		return 0
	}
	return math.Pow(base, s.Power)
}

// WarmUpLRScheduler returns WarmUpLR for the first WarmUpEpochs epochs and LR after.
type WarmUpLRScheduler struct {
	WarmUpLR     float64
	LR           float64
	WarmUpEpochs int
}

// NewWarmUpLRScheduler returns the default 1e-2 / 1e-4 / 10 epoch schedule.
func NewWarmUpLRScheduler() WarmUpLRScheduler {
	return WarmUpLRScheduler{WarmUpLR: 1e-2, LR: 1e-4, WarmUpEpochs: 10}
}

func (s WarmUpLRScheduler) At(epoch int) float64 {
	if epoch < s.WarmUpEpochs {
		return s.WarmUpLR
	}
	return s.LR
}

// ScheduleLR sets the optimizer learning rate to base * schedule.At(epoch+1)
// after every epoch, so the value is in place for the next one. The rate for
// epoch 0 is applied on construction.
type ScheduleLR struct {
	opt      model.Optimizer
	schedule Schedule
	base     float64
}

// NewScheduleLR wires schedule to opt. Use base 1 for schedules that return
// absolute rates.
func NewScheduleLR(opt model.Optimizer, schedule Schedule, base float64) *ScheduleLR {
	opt.SetLearningRate(base * schedule.At(0))
	return &ScheduleLR{opt: opt, schedule: schedule, base: base}
}

func (s *ScheduleLR) OnEpochEnd(epoch int) error {
	s.opt.SetLearningRate(s.base * s.schedule.At(epoch+1))
	return nil
}
