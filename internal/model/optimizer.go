package model

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Optimizer exposes the knobs callbacks are allowed to touch.
type Optimizer interface {
	Name() string
	LearningRate() float64
	SetLearningRate(lr float64)
}

// param is a named learnable matrix with its gradient.
type param struct {
	name  string
	value *mat.Dense
	grad  *mat.Dense
}

// SGD is stochastic gradient descent with momentum and L2 weight decay.
type SGD struct {
	lr          float64
	momentum    float64
	weightDecay float64
	buffers     map[string]*mat.Dense
}

// NewSGD constructs an optimizer with empty momentum buffers.
func NewSGD(lr, momentum, weightDecay float64) *SGD {
	return &SGD{
		lr:          lr,
		momentum:    momentum,
		weightDecay: weightDecay,
		buffers:     make(map[string]*mat.Dense),
	}
}

func (o *SGD) Name() string               { return "SGD" }
func (o *SGD) LearningRate() float64      { return o.lr }
func (o *SGD) SetLearningRate(lr float64) { o.lr = lr }

// step applies one update to every parameter using its accumulated gradient.
func (o *SGD) step(params []*param) {
	for _, p := range params {
		d := mat.DenseCopyOf(p.grad)
		if o.weightDecay != 0 {
			var decay mat.Dense
			decay.Scale(o.weightDecay, p.value)
			d.Add(d, &decay)
		}
		if o.momentum != 0 {
			buf, ok := o.buffers[p.name]
			if !ok {
				buf = d
				o.buffers[p.name] = buf
			} else {
				buf.Scale(o.momentum, buf)
				buf.Add(buf, d)
			}
			d = buf
		}
		var delta mat.Dense
		delta.Scale(o.lr, d)
		p.value.Sub(p.value, &delta)
	}
}

// optimizerState is the serialized form of an SGD optimizer.
type optimizerState struct {
	Name        string
	LR          float64
	Momentum    float64
	WeightDecay float64
	Buffers     map[string][]byte
}

func (o *SGD) state() (optimizerState, error) {
	st := optimizerState{
		Name:        o.Name(),
		LR:          o.lr,
		Momentum:    o.momentum,
		WeightDecay: o.weightDecay,
		Buffers:     make(map[string][]byte, len(o.buffers)),
	}
	for name, buf := range o.buffers {
		raw, err := buf.MarshalBinary()
		if err != nil {
			return optimizerState{}, fmt.Errorf("marshal momentum %s: %w", name, err)
		}
		st.Buffers[name] = raw
	}
	return st, nil
}

// assign copies the hyperparameters and momentum buffers of src into o, so
// holders of o observe the restored state.
func (o *SGD) assign(src *SGD) {
	o.lr = src.lr
	o.momentum = src.momentum
	o.weightDecay = src.weightDecay
	o.buffers = make(map[string]*mat.Dense, len(src.buffers))
	for name, buf := range src.buffers {
		o.buffers[name] = buf
	}
}

// restoreSGD decodes an optimizer state, checking buffer dims against params.
func restoreSGD(st optimizerState, params []*param) (*SGD, error) {
	if st.Name != "SGD" {
		return nil, fmt.Errorf("%w: optimizer %q", ErrArchitectureMismatch, st.Name)
	}
	byName := make(map[string]*param, len(params))
	for _, p := range params {
		byName[p.name] = p
	}
	o := NewSGD(st.LR, st.Momentum, st.WeightDecay)
	for name, raw := range st.Buffers {
		p, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown momentum buffer %s", ErrArchitectureMismatch, name)
		}
		buf, err := decodeMatrix(raw)
		if err != nil {
			return nil, fmt.Errorf("momentum %s: %w", name, err)
		}
		if err := sameDims(p.value, buf); err != nil {
			return nil, fmt.Errorf("momentum %s: %w", name, err)
		}
		o.buffers[name] = buf
	}
	return o, nil
}
