package vectorstore

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/adalundhe/recall/core/memory"
)

// Batcher coalesces upserts and writes them in batches. The last upsert for
// an id wins; a delete drops any pending upsert for that id. Upsert returns
// once the item is queued, and flush errors are logged.
type Batcher struct {
	inner    VectorStore
	size     int
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]Item
	order   []string
	closed  bool

	flushMu   sync.Mutex
	flushCh   chan struct{}
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func NewBatcher(inner VectorStore, size int, interval time.Duration, logger *slog.Logger) *Batcher {
	if size < 1 {
		size = 1
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}

	b := &Batcher{
		inner:    inner,
		size:     size,
		interval: interval,
		logger:   logger,
		pending:  make(map[string]Item),
		flushCh:  make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go b.loop()
	return b
}

func (b *Batcher) Upsert(_ context.Context, id, text string, meta Metadata) error {
	if id == "" {
		return ErrEmptyID
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrStoreClosed
	}
	if _, queued := b.pending[id]; !queued {
		b.order = append(b.order, id)
	}
	b.pending[id] = Item{ID: id, Text: text, Meta: meta}
	full := len(b.pending) >= b.size
	b.mu.Unlock()

	if full {
		select {
		case b.flushCh <- struct{}{}:
		default:
		}
	}
	return nil
}

// Delete waits for an in-flight flush so a drained upsert cannot land
// after the delete.
func (b *Batcher) Delete(ctx context.Context, id string) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()

	return b.inner.Delete(ctx, id)
}

func (b *Batcher) SimilarityQuery(ctx context.Context, text string, k int, threshold float64, filters memory.Filters) ([]Match, error) {
	return b.inner.SimilarityQuery(ctx, text, k, threshold, filters)
}

// Pending reports the number of queued upserts.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *Batcher) Len() int {
	n, _ := Len(b.inner)
	return n
}

// Flush writes every queued upsert now.
func (b *Batcher) Flush(ctx context.Context) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	items := b.drain()
	if len(items) == 0 {
		return nil
	}

	if bu, ok := b.inner.(BatchUpserter); ok {
		return bu.UpsertBatch(ctx, items)
	}

	var errs []error
	for _, item := range items {
		if err := b.inner.Upsert(ctx, item.ID, item.Text, item.Meta); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *Batcher) drain() []Item {
	b.mu.Lock()
	defer b.mu.Unlock()

	items := make([]Item, 0, len(b.pending))
	for _, id := range b.order {
		if item, ok := b.pending[id]; ok {
			items = append(items, item)
		}
	}
	b.pending = make(map[string]Item)
	b.order = nil
	return items
}

func (b *Batcher) loop() {
	defer close(b.done)

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			b.flushAndLog()
		case <-b.flushCh:
			b.flushAndLog()
		}
	}
}

func (b *Batcher) flushAndLog() {
	if err := b.Flush(context.Background()); err != nil {
		b.logger.Warn("vector batch flush failed", "error", err)
	}
}

// Close stops the flush loop, writes what is queued and closes the inner
// store.
func (b *Batcher) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()

		close(b.stop)
		<-b.done

		err = errors.Join(b.Flush(context.Background()), Close(b.inner))
	})
	return err
}
