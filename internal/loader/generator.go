// Package loader runs the concurrent batch-loading pipeline that feeds the
// training loop: a fixed pool of workers claims batch slots of a split
// snapshot, assembles them from a Source and publishes them to a bounded
// completion queue that the consumer drains with PopBatch.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// State is the lifecycle state of a Generator.
type State int

const (
	Idle State = iota
	Running
	Draining
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Split yields the current order of a dataset partition. The generator
// copies the result at Start, so the split may be reshuffled while a
// traversal is in flight.
type Split interface {
	Indices() []int
}

// Options configures a Generator.
type Options struct {
	BatchSize int
	Workers   int
	// QueueCapacity bounds the finished batches buffered ahead of the
	// consumer. Defaults to Workers.
	QueueCapacity int
	Shape         Shape
	Logger        *slog.Logger
}

// Generator owns the pipeline lifecycle for repeated traversals of one split.
// Start, HasNext, PopBatch, Size and Stop may be called from any goroutine,
// but batches are meant for a single consumer.
type Generator struct {
	split Split
	opts  Options
	log   *slog.Logger
	asm   *assembler

	mu    sync.Mutex
	state State
	cur   *traversal
}

// traversal is the state of one Start..Stop cycle.
type traversal struct {
	ctx       context.Context
	snapshot  []int
	total     int
	next      atomic.Int64
	delivered int // guarded by Generator.mu

	q       *queue
	cancel  context.CancelFunc
	done    chan struct{} // workers exited
	stopped chan struct{} // Stop finished
	failed  atomic.Int64

	// aborted is the Start context's error once workers quit because it
	// ended. Guarded by Generator.mu.
	aborted error
}

// NewGenerator validates opts and returns an idle generator.
func NewGenerator(split Split, src Source, opts Options) (*Generator, error) {
	if split == nil {
		return nil, errors.New("loader: split is nil")
	}
	if src == nil {
		return nil, errors.New("loader: source is nil")
	}
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("loader: batch size must be > 0 (got %d)", opts.BatchSize)
	}
	if opts.Workers <= 0 {
		return nil, fmt.Errorf("loader: workers must be > 0 (got %d)", opts.Workers)
	}
	if opts.QueueCapacity < 0 {
		return nil, fmt.Errorf("loader: queue capacity must be >= 0 (got %d)", opts.QueueCapacity)
	}
	if opts.QueueCapacity == 0 {
		opts.QueueCapacity = opts.Workers
	}
	if !opts.Shape.valid() {
		return nil, fmt.Errorf("loader: invalid sample shape %+v", opts.Shape)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		split: split,
		opts:  opts,
		log:   logger,
		asm: &assembler{
			src:       src,
			shape:     opts.Shape,
			batchSize: opts.BatchSize,
			pool:      newBufferPool(opts.BatchSize, opts.Shape),
		},
	}, nil
}

// Start snapshots the split and launches the workers. Workers stop when ctx
// ends or Stop is called. Starting a running generator is an error.
//
// The worker group only joins the workers: slot failures travel through the
// queue as SlotErrors, so no worker ever returns an error.
func (g *Generator) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch g.state {
	case Running:
		return ErrAlreadyRunning
	case Draining:
		return ErrShutdown
	}

	snapshot := append([]int(nil), g.split.Indices()...)
	wctx, cancel := context.WithCancel(ctx)
	t := &traversal{
		ctx:      ctx,
		snapshot: snapshot,
		total:    len(snapshot) / g.opts.BatchSize,
		q:        newQueue(g.opts.QueueCapacity),
		cancel:   cancel,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}

	eg, wctx := errgroup.WithContext(wctx)
	for w := 0; w < g.opts.Workers; w++ {
		eg.Go(func() error {
			g.work(wctx, t, w)
			return nil
		})
	}
	go func() {
		_ = eg.Wait()
		if err := ctx.Err(); err != nil {
			g.mu.Lock()
			t.aborted = err
			g.mu.Unlock()
		}
		t.q.finish()
		close(t.done)
	}()

	g.cur = t
	g.state = Running
	g.log.Debug("loader started",
		"samples", len(snapshot),
		"batches", t.total,
		"workers", g.opts.Workers,
		"queue_capacity", g.opts.QueueCapacity)
	return nil
}

// work claims slots until none remain or the traversal is cancelled.
func (g *Generator) work(ctx context.Context, t *traversal, id int) {
	for ctx.Err() == nil {
		slot := int(t.next.Add(1) - 1)
		if slot >= t.total {
			break
		}
		b, err := g.asm.assemble(ctx, t.snapshot, slot)
		var it item
		switch {
		case err == nil:
			it = item{batch: b}
		case ctx.Err() != nil:
			return
		default:
			t.failed.Add(1)
			g.log.Warn("loader slot failed", "worker", id, "slot", slot, "err", err)
			it = item{err: err}
		}
		if !t.q.push(ctx, it) {
			it.release()
			return
		}
	}
	g.log.Debug("loader worker exited", "worker", id)
}

// State reports the current lifecycle state.
func (g *Generator) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Batches is the number of slots in the current traversal.
func (g *Generator) Batches() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cur == nil {
		return 0
	}
	return g.cur.total
}

// HasNext reports whether PopBatch can still deliver anything in this
// traversal. It returns true while slots are being produced or are queued,
// even if the queue is momentarily empty, and false once the Start context
// has ended and the batches finished before that were drained.
func (g *Generator) HasNext() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != Running || g.cur.delivered >= g.cur.total {
		return false
	}
	return g.cur.aborted == nil || g.cur.q.len() > 0
}

// Size is the number of finished slots waiting in the queue.
func (g *Generator) Size() int {
	g.mu.Lock()
	t := g.cur
	g.mu.Unlock()
	if t == nil {
		return 0
	}
	return t.q.len()
}

// PopBatch blocks until the next finished slot is available and transfers
// ownership of its batch to the caller. A slot that could not be loaded is
// reported as a *SlotError and still counts as consumed. io.EOF signals that
// every slot of the traversal has been delivered.
func (g *Generator) PopBatch(ctx context.Context) (*Batch, error) {
	g.mu.Lock()
	switch g.state {
	case Idle:
		g.mu.Unlock()
		return nil, ErrNotStarted
	case Draining, Stopped:
		g.mu.Unlock()
		return nil, ErrShutdown
	}
	t := g.cur
	if t.delivered >= t.total {
		g.mu.Unlock()
		return nil, io.EOF
	}
	g.mu.Unlock()

	it, err := t.q.pop(ctx)
	switch {
	case errors.Is(err, errQueueCancelled):
		return nil, ErrShutdown
	case errors.Is(err, errQueueDone):
		// Workers only quit early when the Start context ended.
		if err := t.ctx.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	case err != nil:
		return nil, err
	}

	g.mu.Lock()
	t.delivered++
	g.mu.Unlock()
	if it.err != nil {
		return nil, it.err
	}
	return it.batch, nil
}

// Stop cancels the workers, waits for them to exit and releases any batch
// still buffered. It is idempotent and may race with PopBatch; a blocked
// PopBatch returns ErrShutdown.
func (g *Generator) Stop() error {
	g.mu.Lock()
	switch g.state {
	case Idle, Stopped:
		g.mu.Unlock()
		return nil
	case Draining:
		t := g.cur
		g.mu.Unlock()
		<-t.stopped
		return nil
	}
	t := g.cur
	g.state = Draining
	g.mu.Unlock()

	t.cancel()
	left := t.q.cancel()
	for _, it := range left {
		it.release()
	}
	<-t.done

	g.mu.Lock()
	g.state = Stopped
	delivered := t.delivered
	g.mu.Unlock()
	close(t.stopped)

	g.log.Debug("loader stopped",
		"delivered", delivered,
		"batches", t.total,
		"discarded", len(left),
		"failed", t.failed.Load())
	return nil
}
