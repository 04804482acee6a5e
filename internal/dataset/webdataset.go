package dataset

import (
	"archive/tar"
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Record is a paired image/label entry from a WebDataset shard.
type Record struct {
	Key   string
	Image []byte
	Label int
}

// ErrPendingOverflow indicates the pairing map exceeded the configured bound.
var ErrPendingOverflow = errors.New("webdataset: pending pair buffer exceeded")

const defaultPendingCap = 1024

// ReadShard pairs the image and .cls entries of the tar shard at path and
// hands each completed record to fn in archive order.
func ReadShard(ctx context.Context, path string, pendingCap int, fn func(Record) error) error {
	if pendingCap <= 0 {
		pendingCap = defaultPendingCap
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open shard: %w", err)
	}
	defer f.Close()

	tr := tar.NewReader(bufio.NewReader(f))
	pending := make(map[string]*partial)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read tar %s: %w", path, err)
		}
		if hdr.FileInfo().IsDir() {
			continue
		}
		name := filepath.Base(hdr.Name)
		ext := strings.ToLower(filepath.Ext(name))
		key := strings.TrimSuffix(name, ext)

		var part *partial
		switch ext {
		case ".jpg", ".jpeg", ".png":
			data, err := io.ReadAll(tr)
			if err != nil {
				return fmt.Errorf("read image %s: %w", name, err)
			}
			part = pendingFor(pending, key)
			part.image = data
		case ".cls":
			payload, err := io.ReadAll(tr)
			if err != nil {
				return fmt.Errorf("read label %s: %w", name, err)
			}
			label, err := strconv.Atoi(strings.TrimSpace(string(payload)))
			if err != nil {
				return fmt.Errorf("parse label %s: %w", name, err)
			}
			part = pendingFor(pending, key)
			part.label = &label
		default:
			continue
		}

		if len(pending) > pendingCap {
			return ErrPendingOverflow
		}
		if part.ready() {
			delete(pending, key)
			if err := fn(Record{Key: key, Image: part.image, Label: *part.label}); err != nil {
				return err
			}
		}
	}

	if len(pending) > 0 {
		return fmt.Errorf("%s: %d samples incomplete", path, len(pending))
	}
	return nil
}

func pendingFor(pending map[string]*partial, key string) *partial {
	part := pending[key]
	if part == nil {
		part = &partial{}
		pending[key] = part
	}
	return part
}

type partial struct {
	image []byte
	label *int
}

func (p *partial) ready() bool {
	return len(p.image) > 0 && p.label != nil
}
