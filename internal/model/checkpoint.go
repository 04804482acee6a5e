package model

import (
	"compress/zlib"
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"
)

// checkpoint is the on-disk layout: a zlib-compressed gob stream.
// Parameters and optimizer state always travel together.
type checkpoint struct {
	NumClass  int
	Network   string
	Channels  int
	Height    int
	Width     int
	StateDict map[string][]byte
	Optimizer optimizerState
}

// SaveWeight writes the classifier and its optimizer state to path,
// replacing any existing file.
func (c *Classifier) SaveWeight(path string) error {
	ck := checkpoint{
		NumClass:  c.numClasses,
		Network:   c.network,
		Channels:  c.channels,
		Height:    c.height,
		Width:     c.width,
		StateDict: make(map[string][]byte),
	}
	for _, p := range c.params() {
		raw, err := p.value.MarshalBinary()
		if err != nil {
			return fmt.Errorf("marshal %s: %w", p.name, err)
		}
		ck.StateDict[p.name] = raw
	}
	st, err := c.opt.state()
	if err != nil {
		return err
	}
	ck.Optimizer = st
	return writeCheckpoint(path, ck)
}

// LoadWeight replaces parameters and optimizer state with the checkpoint at path.
// Nothing is modified when the checkpoint cannot be applied.
func (c *Classifier) LoadWeight(path string) error {
	ck, err := readCheckpoint(path)
	if err != nil {
		return err
	}
	return c.apply(ck)
}

// Load builds a fresh classifier from the checkpoint at path.
func Load(path string) (*Classifier, error) {
	ck, err := readCheckpoint(path)
	if err != nil {
		return nil, err
	}
	c, err := NewClassifier(ClassifierOptions{
		NumClasses: ck.NumClass,
		Network:    ck.Network,
		Channels:   ck.Channels,
		Height:     ck.Height,
		Width:      ck.Width,
		LR:         ck.Optimizer.LR,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrArchitectureMismatch, err)
	}
	if err := c.apply(ck); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Classifier) apply(ck checkpoint) error {
	if ck.Network != c.network || ck.NumClass != c.numClasses {
		return fmt.Errorf("%w: checkpoint %s/%d classes, model %s/%d classes",
			ErrArchitectureMismatch, ck.Network, ck.NumClass, c.network, c.numClasses)
	}
	if ck.Channels != c.channels || ck.Height != c.height || ck.Width != c.width {
		return fmt.Errorf("%w: checkpoint input %dx%dx%d, model %dx%dx%d",
			ErrArchitectureMismatch, ck.Channels, ck.Height, ck.Width, c.channels, c.height, c.width)
	}

	params := c.params()
	if len(ck.StateDict) != len(params) {
		return fmt.Errorf("%w: %d tensors in checkpoint, model has %d", ErrArchitectureMismatch, len(ck.StateDict), len(params))
	}
	values := make([]*mat.Dense, len(params))
	for i, p := range params {
		raw, ok := ck.StateDict[p.name]
		if !ok {
			return fmt.Errorf("%w: missing tensor %s", ErrArchitectureMismatch, p.name)
		}
		m, err := decodeMatrix(raw)
		if err != nil {
			return fmt.Errorf("tensor %s: %w", p.name, err)
		}
		if err := sameDims(p.value, m); err != nil {
			return fmt.Errorf("tensor %s: %w", p.name, err)
		}
		values[i] = m
	}
	opt, err := restoreSGD(ck.Optimizer, params)
	if err != nil {
		return err
	}

	for i, p := range params {
		p.value.Copy(values[i])
		p.grad.Zero()
	}
	c.opt.assign(opt)
	return nil
}

func writeCheckpoint(path string, ck checkpoint) error {
	return writeAtomic(path, func(w io.Writer) error {
		zw := zlib.NewWriter(w)
		if err := gob.NewEncoder(zw).Encode(ck); err != nil {
			zw.Close()
			return fmt.Errorf("encode checkpoint: %w", err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("compress checkpoint: %w", err)
		}
		return nil
	})
}

// writeAtomic writes to a temporary file next to path and renames it into
// place once write succeeds. A failed write leaves any existing file intact.
func writeAtomic(path string, write func(io.Writer) error) error {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create checkpoint: %w", err)
	}
	tmp := f.Name()
	if err := write(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}

func readCheckpoint(path string) (checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return checkpoint{}, fmt.Errorf("%w: %w", ErrCheckpoint, err)
	}
	defer f.Close()

	zr, err := zlib.NewReader(f)
	if err != nil {
		return checkpoint{}, fmt.Errorf("%w: %s: %w", ErrCheckpoint, path, err)
	}
	defer zr.Close()

	var ck checkpoint
	if err := gob.NewDecoder(zr).Decode(&ck); err != nil {
		return checkpoint{}, fmt.Errorf("%w: %s: %w", ErrCheckpoint, path, err)
	}
	return ck, nil
}

func decodeMatrix(raw []byte) (*mat.Dense, error) {
	var m mat.Dense
	if err := m.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCheckpoint, err)
	}
	return &m, nil
}

func sameDims(want, got *mat.Dense) error {
	wr, wc := want.Dims()
	gr, gc := got.Dims()
	if wr != gr || wc != gc {
		return fmt.Errorf("%w: dims %dx%d, want %dx%d", ErrArchitectureMismatch, gr, gc, wr, wc)
	}
	return nil
}
