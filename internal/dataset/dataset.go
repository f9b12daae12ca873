// Package dataset indexes WebDataset shards into training, validation and
// test splits and serves decoded, augmented samples to the batch loader.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
)

// Kind names a dataset partition.
type Kind int

const (
	Training Kind = iota
	Validation
	Test
)

func (k Kind) String() string {
	switch k {
	case Training:
		return "training"
	case Validation:
		return "validation"
	case Test:
		return "test"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Kinds lists every partition in a stable order.
var Kinds = []Kind{Training, Validation, Test}

// Split is the ordered list of sample ids of one partition. Shuffle may run
// while a loader traversal is in flight: Indices hands out copies.
type Split struct {
	kind    Kind
	mu      sync.RWMutex
	indices []int
}

// Kind reports which partition the split holds.
func (s *Split) Kind() Kind { return s.kind }

// Len is the number of samples in the split.
func (s *Split) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.indices)
}

// Indices returns a copy of the current order.
func (s *Split) Indices() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]int(nil), s.indices...)
}

// Shuffle permutes the split with rng.
func (s *Split) Shuffle(rng *rand.Rand) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rng.Shuffle(len(s.indices), func(i, j int) {
		s.indices[i], s.indices[j] = s.indices[j], s.indices[i]
	})
}

// Dataset is the in-memory index of every record across all splits. Sample
// ids are positions in Records.
type Dataset struct {
	Records    []Record
	NumClasses int

	splits map[Kind]*Split
}

// Options configures Open.
type Options struct {
	Roots      map[Kind]string
	NumClasses int
	Workers    int
	PendingCap int
	Logger     *slog.Logger
}

// Open discovers and indexes the shards below each split root. Labels are
// checked against NumClasses.
func Open(ctx context.Context, opts Options) (*Dataset, error) {
	if opts.NumClasses <= 0 {
		return nil, fmt.Errorf("dataset: num classes must be > 0 (got %d)", opts.NumClasses)
	}
	if opts.Roots[Training] == "" {
		return nil, errors.New("dataset: training root must be set")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	byKind, err := DiscoverByKind(opts.Roots)
	if err != nil {
		return nil, err
	}

	ds := &Dataset{NumClasses: opts.NumClasses, splits: make(map[Kind]*Split, len(Kinds))}
	for _, kind := range Kinds {
		split := &Split{kind: kind}
		ds.splits[kind] = split
		shards, ok := byKind[kind]
		if !ok {
			continue
		}
		if len(shards) == 0 {
			return nil, fmt.Errorf("dataset: no shards discovered under %s", opts.Roots[kind])
		}
		records, err := IndexShards(ctx, shards, IndexOptions{Workers: opts.Workers, PendingCap: opts.PendingCap})
		if err != nil {
			return nil, fmt.Errorf("dataset: %s: %w", kind, err)
		}
		if err := ds.add(split, records); err != nil {
			return nil, fmt.Errorf("dataset: %s: %w", kind, err)
		}
		logger.Info("split indexed", "split", kind.String(), "root", opts.Roots[kind], "shards", len(shards), "samples", len(records))
	}
	return ds, nil
}

// New builds a dataset from records already in memory, assigning them to
// splits in the given order.
func New(numClasses int, records map[Kind][]Record) (*Dataset, error) {
	ds := &Dataset{NumClasses: numClasses, splits: make(map[Kind]*Split, len(Kinds))}
	for _, kind := range Kinds {
		split := &Split{kind: kind}
		ds.splits[kind] = split
		if err := ds.add(split, records[kind]); err != nil {
			return nil, fmt.Errorf("dataset: %s: %w", kind, err)
		}
	}
	return ds, nil
}

func (ds *Dataset) add(split *Split, records []Record) error {
	for _, rec := range records {
		if rec.Label < 0 || rec.Label >= ds.NumClasses {
			return fmt.Errorf("record %s: label %d outside [0, %d)", rec.Key, rec.Label, ds.NumClasses)
		}
		split.indices = append(split.indices, len(ds.Records))
		ds.Records = append(ds.Records, rec)
	}
	return nil
}

// Split returns the partition of the given kind. It is never nil.
func (ds *Dataset) Split(kind Kind) *Split {
	return ds.splits[kind]
}

// ClassCounts counts the samples per label in a split.
func (ds *Dataset) ClassCounts(kind Kind) []int {
	counts := make([]int, ds.NumClasses)
	for _, id := range ds.splits[kind].Indices() {
		counts[ds.Records[id].Label]++
	}
	return counts
}

// Keys returns the sorted record keys of a split, mostly for inspection.
func (ds *Dataset) Keys(kind Kind) []string {
	ids := ds.splits[kind].Indices()
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, ds.Records[id].Key)
	}
	sort.Strings(keys)
	return keys
}
