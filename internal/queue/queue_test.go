package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threatlens/scout/internal/analysis"
	"github.com/threatlens/scout/internal/ingest"
	"github.com/threatlens/scout/internal/scrape"
	"github.com/threatlens/scout/internal/store"
)

// recordingEngine tracks fetch order and optionally blocks until released.
type recordingEngine struct {
	mu      sync.Mutex
	fetched []string
	gate    chan struct{}
}

func (e *recordingEngine) FetchSourceLinks(context.Context, string) ([]string, error) {
	return nil, nil
}

func (e *recordingEngine) FetchArticle(_ context.Context, url string) (scrape.Article, error) {
	if e.gate != nil {
		<-e.gate
	}
	e.mu.Lock()
	e.fetched = append(e.fetched, url)
	e.mu.Unlock()
	return scrape.Article{
		URL:        url,
		Title:      "title for " + url,
		Content:    "Long enough content body for validation to pass. " + url,
		Method:     "static",
		Confidence: 0.9,
	}, nil
}

func (e *recordingEngine) Snapshot(context.Context) scrape.Stats { return scrape.Stats{} }

func (e *recordingEngine) order() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.fetched...)
}

func newTestQueue(t *testing.T, engine scrape.Engine) *IngestQueue {
	t.Helper()
	pipeline := ingest.NewPipeline(engine, analysis.KeywordAnalyzer{},
		store.NewMemoryArticleStore(), nil, ingest.Options{}, nil)
	return New(context.Background(), pipeline, Config{ItemTimeout: 5 * time.Second}, nil)
}

func TestEnqueueProcessesInPriorityOrder(t *testing.T) {
	t.Parallel()

	engine := &recordingEngine{gate: make(chan struct{})}
	q := newTestQueue(t, engine)

	// The max-priority item goes in first so the worker's initial pop is
	// deterministic; everything behind it is ordered by the stable sort.
	q.Enqueue("https://a.example/high", uuid.New(), 5)
	q.Enqueue("https://a.example/low", uuid.New(), 0)
	q.Enqueue("https://a.example/mid", uuid.New(), 2)
	q.Enqueue("https://a.example/high2", uuid.New(), 5)
	close(engine.gate)

	require.Eventually(t, func() bool {
		return len(engine.order()) == 4
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{
		"https://a.example/high",
		"https://a.example/high2",
		"https://a.example/mid",
		"https://a.example/low",
	}, engine.order())
}

func TestStatusReflectsProcessing(t *testing.T) {
	t.Parallel()

	engine := &recordingEngine{gate: make(chan struct{})}
	q := newTestQueue(t, engine)

	pos := q.Enqueue("https://a.example/one", uuid.New(), 0)
	assert.Equal(t, 1, pos)

	st := q.Status()
	assert.True(t, st.IsProcessing)

	close(engine.gate)
	require.Eventually(t, func() bool {
		st := q.Status()
		return !st.IsProcessing && st.QueueLength == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestClearEmptyQueueIsIdempotent(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, &recordingEngine{})
	assert.Equal(t, 0, q.Clear())
	assert.Equal(t, 0, q.Clear())
}

func TestClearMidDrainStopsProcessing(t *testing.T) {
	t.Parallel()

	engine := &recordingEngine{gate: make(chan struct{}, 1)}
	q := newTestQueue(t, engine)

	q.Enqueue("https://a.example/one", uuid.New(), 0)
	q.Enqueue("https://a.example/two", uuid.New(), 0)
	q.Enqueue("https://a.example/three", uuid.New(), 0)

	// Let exactly the in-flight item finish, then clear the rest.
	engine.gate <- struct{}{}
	cleared := q.Clear()
	assert.GreaterOrEqual(t, cleared, 1)
	close(engine.gate)

	require.Eventually(t, func() bool {
		return !q.Status().IsProcessing
	}, 5*time.Second, 10*time.Millisecond)
	assert.LessOrEqual(t, len(engine.order()), 2)
}

func TestEnqueueDuringDrainIsPickedUp(t *testing.T) {
	t.Parallel()

	engine := &recordingEngine{}
	q := newTestQueue(t, engine)

	q.Enqueue("https://a.example/first", uuid.New(), 0)
	require.Eventually(t, func() bool {
		return len(engine.order()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	q.Enqueue("https://a.example/second", uuid.New(), 0)
	require.Eventually(t, func() bool {
		return len(engine.order()) == 2
	}, 5*time.Second, 10*time.Millisecond)
}

func TestStatusNeverReportsIdleWorkerWithBacklog(t *testing.T) {
	t.Parallel()

	engine := &recordingEngine{}
	q := newTestQueue(t, engine)
	owner := uuid.New()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 40; i++ {
			q.Enqueue(fmt.Sprintf("https://a.example/item-%d", i), owner, i%3)
		}
	}()

	// Hammer Status while the worker churns: a backlog with no worker
	// running must never be observable.
	drained := false
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		st := q.Status()
		if st.QueueLength > 0 {
			require.True(t, st.IsProcessing,
				"status reported %d queued items with no worker running", st.QueueLength)
		}
		select {
		case <-done:
			if st.QueueLength == 0 && !st.IsProcessing {
				drained = true
			}
		default:
		}
		if drained {
			break
		}
	}
	require.True(t, drained, "queue never fully drained")
	assert.Len(t, engine.order(), 40)
}

func TestStatusNextItemIsHighestPriority(t *testing.T) {
	t.Parallel()

	// Block the worker before it can pop anything by filling the gate with
	// nothing: use an engine gate that is never released until the check.
	engine := &recordingEngine{gate: make(chan struct{})}
	q := newTestQueue(t, engine)

	q.Enqueue("https://a.example/low", uuid.New(), 0)
	// The worker has likely popped "low" already; the next enqueue must
	// surface as NextItem because the queue head is re-sorted.
	q.Enqueue("https://a.example/high", uuid.New(), 9)

	st := q.Status()
	require.NotNil(t, st.NextItem)
	assert.Equal(t, "https://a.example/high", st.NextItem.URL)
	close(engine.gate)
}
