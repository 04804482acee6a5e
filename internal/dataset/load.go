package dataset

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math/rand"

	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"epochforge/internal/visualize"
)

// LoadOptions configures LoadShards.
type LoadOptions struct {
	Roots      map[string][]string
	Seed       int64
	NumWorkers int
	PendingCap int
	Channels   int
	Height     int
	Width      int
}

// LoadShards decodes every shard under opts.Roots into an in-memory dataset.
// Shards are decoded concurrently; the resulting order only depends on Seed.
func LoadShards(ctx context.Context, opts LoadOptions) (*Memory, error) {
	if len(opts.Roots) == 0 {
		return nil, errors.New("dataset: no roots provided")
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 1
	}
	if opts.Seed == 0 {
		opts.Seed = 42
	}
	order := interleaveShards(opts.Roots, rand.New(rand.NewSource(opts.Seed)))
	if len(order) == 0 {
		return nil, errors.New("dataset: no shards discovered")
	}

	perShard := make([][]Sample, len(order))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.NumWorkers)
	for i, entry := range order {
		g.Go(func() error {
			samples, err := decodeShard(ctx, entry.path, opts)
			if err != nil {
				return err
			}
			perShard[i] = samples
			klog.V(1).Infof("root=%s shard=%s samples=%d", entry.root, entry.path, len(samples))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []Sample
	for _, samples := range perShard {
		all = append(all, samples...)
	}
	if len(all) == 0 {
		return nil, errors.New("dataset: shards hold no samples")
	}
	return NewMemory(all), nil
}

func decodeShard(ctx context.Context, path string, opts LoadOptions) ([]Sample, error) {
	var samples []Sample
	err := ReadShard(ctx, path, opts.PendingCap, func(rec Record) error {
		img, _, err := image.Decode(bytes.NewReader(rec.Image))
		if err != nil {
			return fmt.Errorf("decode %s in %s: %w", rec.Key, path, err)
		}
		t, err := visualize.ImageToTensor(img, opts.Channels, opts.Height, opts.Width)
		if err != nil {
			return err
		}
		samples = append(samples, Sample{Image: t, Label: rec.Label})
		return nil
	})
	return samples, err
}
