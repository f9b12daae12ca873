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

	"github.com/klauspost/compress/zstd"
)

// Record is one paired image/label entry of a WebDataset shard.
type Record struct {
	Key   string
	Shard string
	Image []byte
	Label int
}

// ErrPendingOverflow indicates the pairing map exceeded the configured bound.
var ErrPendingOverflow = errors.New("webdataset: pending pair buffer exceeded")

const defaultPendingCap = 1024

// openShard opens path for TAR reading, decompressing `.zst` shards.
func openShard(path string) (io.Reader, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open shard: %w", err)
	}
	if !strings.HasSuffix(path, ".zst") {
		return bufio.NewReader(f), f.Close, nil
	}
	dec, err := zstd.NewReader(bufio.NewReader(f))
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("open zstd shard: %w", err)
	}
	return dec, func() error {
		dec.Close()
		return f.Close()
	}, nil
}

// StreamShard streams paired records from the shard at path. Images and
// labels are matched by key; at most pendingCap unmatched keys are held.
func StreamShard(ctx context.Context, path string, pendingCap int) (<-chan Record, <-chan error) {
	if pendingCap <= 0 {
		pendingCap = defaultPendingCap
	}
	out := make(chan Record)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		r, closeFn, err := openShard(path)
		if err != nil {
			errCh <- err
			return
		}
		defer closeFn()

		tr := tar.NewReader(r)
		pending := make(map[string]*partial)

		for {
			if err := ctx.Err(); err != nil {
				errCh <- err
				return
			}

			hdr, err := tr.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				errCh <- fmt.Errorf("read tar: %w", err)
				return
			}
			if hdr.FileInfo().IsDir() {
				continue
			}
			name := filepath.Base(hdr.Name)
			ext := strings.ToLower(filepath.Ext(name))
			key := strings.TrimSuffix(name, filepath.Ext(name))

			part := pending[key]
			switch ext {
			case ".jpg", ".jpeg", ".png", ".webp":
				data, err := io.ReadAll(tr)
				if err != nil {
					errCh <- fmt.Errorf("read image %s: %w", name, err)
					return
				}
				if part == nil {
					part = &partial{}
					pending[key] = part
				}
				part.image = data
			case ".cls":
				payload, err := io.ReadAll(tr)
				if err != nil {
					errCh <- fmt.Errorf("read label %s: %w", name, err)
					return
				}
				label, err := strconv.Atoi(strings.TrimSpace(string(payload)))
				if err != nil {
					errCh <- fmt.Errorf("parse label %s: %w", name, err)
					return
				}
				if part == nil {
					part = &partial{}
					pending[key] = part
				}
				part.label = &label
			default:
				continue
			}

			if len(pending) > pendingCap {
				errCh <- ErrPendingOverflow
				return
			}
			if !part.ready() {
				continue
			}
			delete(pending, key)
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case out <- Record{Key: key, Shard: path, Image: part.image, Label: *part.label}:
			}
		}

		if len(pending) > 0 {
			errCh <- fmt.Errorf("%s: %d samples incomplete", path, len(pending))
		}
	}()

	return out, errCh
}

// ReadShard collects every record of the shard at path.
func ReadShard(ctx context.Context, path string, pendingCap int) ([]Record, error) {
	records, errCh := StreamShard(ctx, path, pendingCap)
	var out []Record
	for rec := range records {
		out = append(out, rec)
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	return out, nil
}

type partial struct {
	image []byte
	label *int
}

func (p *partial) ready() bool {
	return len(p.image) > 0 && p.label != nil
}
