package model

import (
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

// ClassifierOptions configures a Classifier.
type ClassifierOptions struct {
	NumClasses int
	// Network is "linear" or "mlp-<hidden>".
	Network     string
	Channels    int
	Height      int
	Width       int
	LR          float64
	Momentum    float64
	WeightDecay float64
	Seed        int64
}

// Classifier is a softmax image classifier trained with cross-entropy and SGD.
type Classifier struct {
	numClasses int
	network    string
	channels   int
	height     int
	width      int
	layers     []layer
	opt        *SGD
}

type layer struct {
	weight *param
	bias   *param
	relu   bool
}

// NewClassifier constructs the model with random initialization.
func NewClassifier(opts ClassifierOptions) (*Classifier, error) {
	if opts.NumClasses <= 0 {
		return nil, fmt.Errorf("classifier: num classes must be > 0 (got %d)", opts.NumClasses)
	}
	if opts.Channels <= 0 || opts.Height <= 0 || opts.Width <= 0 {
		return nil, fmt.Errorf("classifier: invalid input shape %dx%dx%d", opts.Channels, opts.Height, opts.Width)
	}
	if opts.Network == "" {
		opts.Network = "linear"
	}
	if opts.LR <= 0 {
		opts.LR = 0.1
	}
	hidden, err := parseNetwork(opts.Network)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	inputSize := opts.Channels * opts.Height * opts.Width
	c := &Classifier{
		numClasses: opts.NumClasses,
		network:    opts.Network,
		channels:   opts.Channels,
		height:     opts.Height,
		width:      opts.Width,
		opt:        NewSGD(opts.LR, opts.Momentum, opts.WeightDecay),
	}
	if hidden > 0 {
		c.layers = []layer{
			newLayer(rng, "fc1", inputSize, hidden, true),
			newLayer(rng, "fc2", hidden, opts.NumClasses, false),
		}
	} else {
		c.layers = []layer{newLayer(rng, "fc", inputSize, opts.NumClasses, false)}
	}
	return c, nil
}

func parseNetwork(network string) (int, error) {
	if network == "linear" {
		return 0, nil
	}
	if rest, ok := strings.CutPrefix(network, "mlp-"); ok {
		hidden, err := strconv.Atoi(rest)
		if err == nil && hidden > 0 {
			return hidden, nil
		}
	}
	return 0, fmt.Errorf("classifier: unknown network %q", network)
}

func newLayer(rng *rand.Rand, name string, in, out int, relu bool) layer {
	bound := 1 / math.Sqrt(float64(in))
	w := make([]float64, out*in)
	for i := range w {
		w[i] = (rng.Float64()*2 - 1) * bound
	}
	b := make([]float64, out)
	for i := range b {
		b[i] = (rng.Float64()*2 - 1) * bound
	}
	return layer{
		weight: &param{name: name + ".weight", value: mat.NewDense(out, in, w), grad: mat.NewDense(out, in, nil)},
		bias:   &param{name: name + ".bias", value: mat.NewDense(1, out, b), grad: mat.NewDense(1, out, nil)},
		relu:   relu,
	}
}

func (c *Classifier) params() []*param {
	out := make([]*param, 0, 2*len(c.layers))
	for _, l := range c.layers {
		out = append(out, l.weight, l.bias)
	}
	return out
}

// TrainBatch executes one SGD step and returns the mean cross-entropy loss.
func (c *Classifier) TrainBatch(batch Batch) (float64, error) {
	x, err := c.flatten(batch.Inputs)
	if err != nil {
		return 0, err
	}
	n, _ := x.Dims()
	if len(batch.Labels) != n {
		return 0, fmt.Errorf("%w: %d labels for batch of %d", ErrShape, len(batch.Labels), n)
	}
	for _, label := range batch.Labels {
		if label < 0 || label >= c.numClasses {
			return 0, fmt.Errorf("%w: label %d outside [0, %d)", ErrShape, label, c.numClasses)
		}
	}

	logits, tr := c.forward(x)
	probs := softmaxRows(logits)
	loss := 0.0
	for i, label := range batch.Labels {
		loss += logSumExp(logits.RawRowView(i)) - logits.At(i, label)
		probs.Set(i, label, probs.At(i, label)-1)
	}
	probs.Scale(1/float64(n), probs)

	c.backward(tr, probs, true)
	c.opt.step(c.params())
	return loss / float64(n), nil
}

// Predict runs inference and returns (batch, num_classes) probabilities.
func (c *Classifier) Predict(inputs *tensor.Dense) (*mat.Dense, error) {
	x, err := c.flatten(inputs)
	if err != nil {
		return nil, err
	}
	logits, _ := c.forward(x)
	return softmaxRows(logits), nil
}

// Attention returns the predicted class of each sample together with a
// height x width saliency map scaled to [0, 1].
func (c *Classifier) Attention(inputs *tensor.Dense) ([]int, []*mat.Dense, error) {
	x, err := c.flatten(inputs)
	if err != nil {
		return nil, nil, err
	}
	n, _ := x.Dims()
	logits, tr := c.forward(x)
	preds := make([]int, n)
	seed := mat.NewDense(n, c.numClasses, nil)
	for i := 0; i < n; i++ {
		preds[i] = floats.MaxIdx(logits.RawRowView(i))
		seed.Set(i, preds[i], 1)
	}
	dx := c.backward(tr, seed, false)

	plane := c.height * c.width
	maps := make([]*mat.Dense, n)
	for i := 0; i < n; i++ {
		row := dx.RawRowView(i)
		m := mat.NewDense(c.height, c.width, nil)
		raw := m.RawMatrix().Data
		for ch := 0; ch < c.channels; ch++ {
			for j := 0; j < plane; j++ {
				raw[j] += math.Abs(row[ch*plane+j])
			}
		}
		if peak := floats.Max(raw); peak > 0 {
			floats.Scale(1/peak, raw)
		}
		maps[i] = m
	}
	return preds, maps, nil
}

// Config describes the classifier for logs.
func (c *Classifier) Config() Config {
	return Config{
		ModelName:  "Classifier",
		NumClasses: c.numClasses,
		Optimizer:  c.opt.Name(),
		Network:    c.network,
	}
}

// Optimizer returns the optimizer driving TrainBatch.
func (c *Classifier) Optimizer() Optimizer {
	return c.opt
}

func (c *Classifier) flatten(inputs *tensor.Dense) (*mat.Dense, error) {
	if inputs == nil {
		return nil, fmt.Errorf("%w: nil inputs", ErrShape)
	}
	shape := inputs.Shape()
	if len(shape) != 4 {
		return nil, fmt.Errorf("%w: want (batch, channel, height, width), got %v", ErrShape, shape)
	}
	if shape[1] != c.channels || shape[2] != c.height || shape[3] != c.width {
		return nil, fmt.Errorf("%w: want (*, %d, %d, %d), got %v", ErrShape, c.channels, c.height, c.width, shape)
	}
	data, ok := inputs.Data().([]float64)
	if !ok {
		return nil, fmt.Errorf("%w: inputs must be float64, got %v", ErrShape, inputs.Dtype())
	}
	n, size := shape[0], c.channels*c.height*c.width
	if n == 0 || len(data) != n*size {
		return nil, fmt.Errorf("%w: %d values for shape %v", ErrShape, len(data), shape)
	}
	return mat.NewDense(n, size, data), nil
}

// trace keeps what backward needs from a forward pass.
type trace struct {
	inputs []*mat.Dense
	pre    []*mat.Dense
}

func (c *Classifier) forward(x *mat.Dense) (*mat.Dense, *trace) {
	tr := &trace{}
	out := x
	for _, l := range c.layers {
		tr.inputs = append(tr.inputs, out)
		var z mat.Dense
		z.Mul(out, l.weight.value.T())
		bias := l.bias.value.RawRowView(0)
		rows, _ := z.Dims()
		for i := 0; i < rows; i++ {
			floats.Add(z.RawRowView(i), bias)
		}
		tr.pre = append(tr.pre, &z)
		if l.relu {
			var a mat.Dense
			a.Apply(func(_, _ int, v float64) float64 { return math.Max(v, 0) }, &z)
			out = &a
		} else {
			out = &z
		}
	}
	return out, tr
}

// backward propagates grad (d loss / d logits) through the layers and returns
// d loss / d inputs. Parameter gradients are stored only when accumulate is set.
func (c *Classifier) backward(tr *trace, grad *mat.Dense, accumulate bool) *mat.Dense {
	g := grad
	for i := len(c.layers) - 1; i >= 0; i-- {
		l := c.layers[i]
		if l.relu {
			var masked mat.Dense
			masked.Apply(func(r, col int, v float64) float64 {
				if tr.pre[i].At(r, col) > 0 {
					return v
				}
				return 0
			}, g)
			g = &masked
		}
		if accumulate {
			l.weight.grad.Mul(g.T(), tr.inputs[i])
			sums := l.bias.grad.RawRowView(0)
			for j := range sums {
				sums[j] = floats.Sum(mat.Col(nil, j, g))
			}
		}
		var next mat.Dense
		next.Mul(g, l.weight.value)
		g = &next
	}
	return g
}

func softmaxRows(logits *mat.Dense) *mat.Dense {
	rows, cols := logits.Dims()
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		copy(out.RawRowView(i), softmax(logits.RawRowView(i)))
	}
	return out
}

func softmax(logits []float64) []float64 {
	maxLogit := floats.Max(logits)
	sum := 0.0
	out := make([]float64, len(logits))
	for i, v := range logits {
		exp := math.Exp(v - maxLogit)
		out[i] = exp
		sum += exp
	}
	inv := 1.0 / sum
	for i := range out {
		out[i] *= inv
	}
	return out
}

func logSumExp(logits []float64) float64 {
	maxLogit := floats.Max(logits)
	sum := 0.0
	for _, v := range logits {
		sum += math.Exp(v - maxLogit)
	}
	return maxLogit + math.Log(sum)
}
