// Package queue implements the background article ingestion queue: a
// priority-ordered FIFO drained by a single worker goroutine.
package queue

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/threatlens/scout/internal/ingest"
	"github.com/threatlens/scout/internal/metrics"
)

// Item is one pending ingestion request.
type Item struct {
	URL        string    `json:"url"`
	OwnerID    uuid.UUID `json:"ownerId"`
	Priority   int       `json:"priority"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// Status is a point-in-time queue snapshot.
type Status struct {
	QueueLength  int   `json:"queueLength"`
	IsProcessing bool  `json:"isProcessing"`
	NextItem     *Item `json:"nextItem,omitempty"`
}

// Config controls worker behavior.
type Config struct {
	// ItemTimeout bounds one ingestion pass (default 2m).
	ItemTimeout time.Duration
}

// IngestQueue is constructed once at startup and injected wherever enqueue,
// status, or clear are needed. The drain loop is deliberately sequential:
// ingestion hits rate-limited targets and the AI API, and parallel drains
// would amplify rate-limit and anti-bot risk.
type IngestQueue struct {
	mu    sync.Mutex
	items []Item

	// processing is the reentrancy guard: at most one drain loop runs at a
	// time. CompareAndSwap replaces the event-loop boolean the design notes
	// call out as unsafe under real parallelism.
	processing atomic.Bool

	pipeline *ingest.Pipeline
	cfg      Config
	baseCtx  context.Context
	logger   *zap.Logger
}

// New builds an IngestQueue. baseCtx is the parent of every per-item context;
// canceling it stops the drain loop after the in-flight item.
func New(baseCtx context.Context, pipeline *ingest.Pipeline, cfg Config, logger *zap.Logger) *IngestQueue {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if cfg.ItemTimeout <= 0 {
		cfg.ItemTimeout = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestQueue{
		pipeline: pipeline,
		cfg:      cfg,
		baseCtx:  baseCtx,
		logger:   logger,
	}
}

// Enqueue inserts the item, re-sorting by descending priority with insertion
// order preserved among equal priorities, and starts the worker if idle. The
// returned position is 1-based.
func (q *IngestQueue) Enqueue(url string, ownerID uuid.UUID, priority int) int {
	item := Item{URL: url, OwnerID: ownerID, Priority: priority, EnqueuedAt: time.Now().UTC()}

	q.mu.Lock()
	q.items = append(q.items, item)
	sort.SliceStable(q.items, func(i, j int) bool {
		return q.items[i].Priority > q.items[j].Priority
	})
	position := 0
	for i := range q.items {
		if q.items[i] == item {
			position = i + 1
			break
		}
	}
	depth := len(q.items)
	// Claim the worker inside the critical section: the flag must already
	// read true by the time any Status call can observe the new item.
	start := q.processing.CompareAndSwap(false, true)
	q.mu.Unlock()

	metrics.SetQueueDepth(depth)
	if start {
		go q.drain()
	}
	return position
}

// Clear empties the queue and reports how many items were removed. Calling
// it mid-drain stops further processing after the in-flight item; the
// in-flight item itself is not interrupted.
func (q *IngestQueue) Clear() int {
	q.mu.Lock()
	cleared := len(q.items)
	q.items = nil
	q.mu.Unlock()
	metrics.SetQueueDepth(0)
	return cleared
}

// Status reports queue depth, worker state, and the next item to run.
func (q *IngestQueue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	st := Status{
		QueueLength:  len(q.items),
		IsProcessing: q.processing.Load(),
	}
	if len(q.items) > 0 {
		next := q.items[0]
		st.NextItem = &next
	}
	return st
}

// drain pops and processes items until the queue is empty. The processing
// flag flips only inside the queue lock, in pop and Enqueue, so Status can
// never observe an idle worker with items still queued: a racing enqueue
// either sees the flag still set or claims the worker itself.
func (q *IngestQueue) drain() {
	for {
		if q.baseCtx.Err() != nil {
			q.processing.Store(false)
			return
		}
		item, ok := q.pop()
		if !ok {
			return
		}
		q.process(item)
	}
}

// pop removes the head item. When the queue is empty it releases the worker
// claim in the same critical section that observed emptiness.
func (q *IngestQueue) pop() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		q.processing.Store(false)
		return Item{}, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	metrics.SetQueueDepth(len(q.items))
	return item, true
}

// process runs one item through the pipeline. Failures are logged and
// swallowed so a single bad URL never halts the loop.
func (q *IngestQueue) process(item Item) {
	defer func() {
		if rec := recover(); rec != nil {
			q.logger.Error("ingest worker panic",
				zap.String("url", item.URL),
				zap.Any("panic", rec),
			)
			metrics.ObserveIngest("panic")
		}
	}()

	ctx, cancel := context.WithTimeout(q.baseCtx, q.cfg.ItemTimeout)
	defer cancel()

	article, err := q.pipeline.Ingest(ctx, item.URL, item.OwnerID, nil)
	if err != nil {
		q.logger.Warn("ingest item failed",
			zap.String("url", item.URL),
			zap.Int("priority", item.Priority),
			zap.Error(err),
		)
		metrics.ObserveIngest("failed")
		return
	}
	q.logger.Info("article ingested",
		zap.String("url", item.URL),
		zap.String("article_id", article.ID.String()),
		zap.Bool("is_threat", article.IsThreat),
	)
	metrics.ObserveIngest("succeeded")
}
