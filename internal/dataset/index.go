package dataset

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// IndexOptions configures shard indexing.
type IndexOptions struct {
	Workers    int
	PendingCap int
}

// IndexShards reads every shard with a bounded pool of workers and returns
// the records in shard order, then in-shard order, so sample ids do not
// depend on which worker finished first.
func IndexShards(ctx context.Context, shards []string, opts IndexOptions) ([]Record, error) {
	if len(shards) == 0 {
		return nil, errors.New("index: no shards provided")
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.PendingCap <= 0 {
		opts.PendingCap = defaultPendingCap
	}

	perShard := make([][]Record, len(shards))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for i, shard := range shards {
		g.Go(func() error {
			records, err := ReadShard(gctx, shard, opts.PendingCap)
			if err != nil {
				return fmt.Errorf("index %s: %w", shard, err)
			}
			perShard[i] = records
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := 0
	for _, records := range perShard {
		total += len(records)
	}
	out := make([]Record, 0, total)
	for _, records := range perShard {
		out = append(out, records...)
	}
	return out, nil
}
