package probe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threatlens/scout/internal/analysis"
	"github.com/threatlens/scout/internal/ingest"
	"github.com/threatlens/scout/internal/progress"
	"github.com/threatlens/scout/internal/scrape"
	"github.com/threatlens/scout/internal/store"
)

// stubEngine serves canned links and articles, with per-URL failures.
type stubEngine struct {
	links      map[string][]string
	linksErr   map[string]error
	articles   map[string]scrape.Article
	articleErr map[string]error
}

func (e *stubEngine) FetchSourceLinks(_ context.Context, url string) ([]string, error) {
	if err := e.linksErr[url]; err != nil {
		return nil, err
	}
	return e.links[url], nil
}

func (e *stubEngine) FetchArticle(_ context.Context, url string) (scrape.Article, error) {
	if err := e.articleErr[url]; err != nil {
		return scrape.Article{}, err
	}
	art, ok := e.articles[url]
	if !ok {
		return scrape.Article{}, errors.New("no canned article")
	}
	return art, nil
}

func (e *stubEngine) Snapshot(context.Context) scrape.Stats {
	return scrape.Stats{TLSClientReady: true, UserAgent: "stub/1.0"}
}

func goodArticle(url string) scrape.Article {
	return scrape.Article{
		URL:        url,
		Title:      "Title for " + url,
		Content:    strings.Repeat("A perfectly ordinary paragraph of article text. ", 20),
		Method:     "static",
		Confidence: 0.9,
	}
}

// ipServer returns a fake outbound-IP endpoint.
func ipServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("203.0.113.7"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestRunner(t *testing.T, engine scrape.Engine, sources store.SourceStore, articles store.ArticleStore) *Runner {
	t.Helper()
	if sources == nil {
		sources = store.NewMemorySourceStore()
	}
	if articles == nil {
		articles = store.NewMemoryArticleStore()
	}
	pipeline := ingest.NewPipeline(engine, analysis.KeywordAnalyzer{}, articles, nil, ingest.Options{}, nil)
	return NewRunner(sources, engine, pipeline,
		Env{Name: "test", CloudHosted: false},
		Config{IPCheckURL: ipServer(t).URL, IPCheckTimeout: time.Second},
		nil,
	)
}

func TestRunReportShapeWhenEveryNetworkCallFails(t *testing.T) {
	t.Parallel()

	target := "https://dead.example/feed"
	engine := &stubEngine{
		linksErr: map[string]error{target: errors.New("connection reset")},
	}
	r := newTestRunner(t, engine, nil, nil)
	// Unroutable IP-check endpoint: the diagnostics stage must tolerate it.
	r.cfg.IPCheckURL = "http://127.0.0.1:1"
	r.http.SetTimeout(200 * time.Millisecond)

	report := r.Run(context.Background(), Request{TargetURL: target, Mode: ModeQuick, RequestID: "req-1"})

	assert.False(t, report.Success)
	assert.Equal(t, 0, report.Scraping.Found)
	assert.NotNil(t, report.Scraping.Samples)
	require.NotEmpty(t, report.Scraping.Errors)
	assert.Contains(t, report.Scraping.Errors[0], "connection reset")
	assert.NotEmpty(t, report.Diagnostics.Errors)
	assert.NotEmpty(t, report.Logs)
	assert.Equal(t, target, report.Source.URL)
	assert.False(t, report.Source.IsKnown)
}

func TestRunSucceedsWhenLinkStageSucceeds(t *testing.T) {
	t.Parallel()

	target := "https://feed.example/"
	links := []string{
		"https://feed.example/a",
		"https://feed.example/b",
		"https://feed.example/c",
	}
	engine := &stubEngine{
		links: map[string][]string{target: links},
		articles: map[string]scrape.Article{
			links[0]: goodArticle(links[0]),
		},
		articleErr: map[string]error{
			links[1]: errors.New("timeout"),
			links[2]: errors.New("timeout"),
		},
	}
	r := newTestRunner(t, engine, nil, nil)

	report := r.Run(context.Background(), Request{TargetURL: target, Mode: ModeQuick, RequestID: "req-2"})

	assert.True(t, report.Success)
	assert.Equal(t, 3, report.Scraping.Found)
	assert.Equal(t, 3, report.Scraping.Processed)

	succeeded := 0
	for _, s := range report.Scraping.Samples {
		if s.Success {
			succeeded++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Len(t, report.Scraping.Errors, 2)
}

func TestRunQuickEndToEndWithOneFailingLink(t *testing.T) {
	t.Parallel()

	target := "https://example.com/feed"
	links := []string{
		"https://example.com/one",
		"https://example.com/two",
		"https://example.com/three",
		"https://example.com/four",
		"https://example.com/five",
	}
	engine := &stubEngine{
		links: map[string][]string{target: links},
		articles: map[string]scrape.Article{
			links[0]: goodArticle(links[0]),
			links[2]: goodArticle(links[2]),
		},
		articleErr: map[string]error{
			links[1]: errors.New("network timeout"),
		},
	}
	r := newTestRunner(t, engine, nil, nil)

	report := r.Run(context.Background(), Request{TargetURL: target, Mode: ModeQuick, RequestID: "req-3"})

	assert.True(t, report.Success)
	assert.Equal(t, 5, report.Scraping.Found)
	assert.LessOrEqual(t, report.Scraping.Processed, 3)

	var sawLinkTwo bool
	for _, msg := range report.Scraping.Errors {
		if strings.Contains(msg, links[1]) {
			sawLinkTwo = true
		}
	}
	assert.True(t, sawLinkTwo, "errors must reference the failing link")

	require.NotEmpty(t, report.Logs)
	for i := 1; i < len(report.Logs); i++ {
		assert.False(t, report.Logs[i].Timestamp.Before(report.Logs[i-1].Timestamp))
	}
}

func TestRunIdentifiesKnownSource(t *testing.T) {
	t.Parallel()

	target := "https://known.example/feed"
	src := store.Source{ID: uuid.New(), Name: "Known Feed", URL: target, Active: true}
	engine := &stubEngine{links: map[string][]string{target: nil}}
	r := newTestRunner(t, engine, store.NewMemorySourceStore(src), nil)

	report := r.Run(context.Background(), Request{TargetURL: target, Mode: ModeQuick, RequestID: "req-4"})

	assert.True(t, report.Source.IsKnown)
	assert.Equal(t, "Known Feed", report.Source.Name)
	require.NotNil(t, report.Source.ID)
	assert.Equal(t, src.ID, *report.Source.ID)
}

func TestFullRunPersistsValidLinksAndSkipsRejects(t *testing.T) {
	t.Parallel()

	target := "https://full.example/feed"
	links := []string{
		"https://full.example/good",
		"https://full.example/empty",
		"https://full.example/low-confidence",
		"https://full.example/good", // duplicate of the first
	}
	empty := goodArticle(links[1])
	empty.Content = "   "
	lowConf := goodArticle(links[2])
	lowConf.Confidence = 0.1

	engine := &stubEngine{
		links: map[string][]string{target: links},
		articles: map[string]scrape.Article{
			links[0]: goodArticle(links[0]),
			links[1]: empty,
			links[2]: lowConf,
		},
	}
	articles := store.NewMemoryArticleStore()
	r := newTestRunner(t, engine, nil, articles)

	report := r.Run(context.Background(), Request{TargetURL: target, Mode: ModeFull, RequestID: "req-5"})

	assert.True(t, report.Success)
	require.NotNil(t, report.FullRun)
	assert.Equal(t, 1, report.FullRun.Saved)
	assert.Len(t, report.FullRun.SavedArticles, 1)
	assert.Len(t, report.FullRun.SavingErrors, 3)
	assert.Equal(t, 1, articles.Len())
	assert.Equal(t, 4, report.Scraping.Processed)
}

func TestSuccessRule(t *testing.T) {
	t.Parallel()

	linkErr := errors.New("boom")
	assert.True(t, successOf(nil, ScrapingResult{}, nil))
	assert.False(t, successOf(linkErr, ScrapingResult{}, nil))
	assert.True(t, successOf(linkErr, ScrapingResult{Samples: []Sample{{Success: true}}}, nil))
	assert.True(t, successOf(linkErr, ScrapingResult{}, &FullRun{Saved: 1}))
	assert.False(t, successOf(linkErr, ScrapingResult{Samples: []Sample{{Success: false}}}, &FullRun{}))
}

// captureEmitter records emitted events in order.
type captureEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (c *captureEmitter) Emit(evt progress.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func (c *captureEmitter) kinds() []progress.Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]progress.Kind, len(c.events))
	for i, e := range c.events {
		out[i] = e.Kind
	}
	return out
}

func TestRunAllContinuesPastFailingSources(t *testing.T) {
	t.Parallel()

	good := store.Source{ID: uuid.New(), Name: "Good", URL: "https://good.example/", Active: true}
	bad := store.Source{ID: uuid.New(), Name: "Bad", URL: "https://bad.example/", Active: true}

	engine := &stubEngine{
		links:    map[string][]string{good.URL: nil},
		linksErr: map[string]error{bad.URL: errors.New("blocked")},
	}
	r := newTestRunner(t, engine, store.NewMemorySourceStore(good, bad), nil)

	emitter := &captureEmitter{}
	summary := r.RunAll(context.Background(), emitter)

	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Passed)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.PerSource, 2)
	assert.True(t, summary.PerSource[0].Success)
	assert.False(t, summary.PerSource[1].Success)

	assert.Equal(t, []progress.Kind{
		progress.KindStarted,
		progress.KindSourceStart,
		progress.KindSourceComplete,
		progress.KindSourceStart,
		progress.KindSourceComplete,
		progress.KindCompleted,
	}, emitter.kinds())
}

func TestRunAllEmitsFailedWhenListingBreaks(t *testing.T) {
	t.Parallel()

	engine := &stubEngine{}
	r := newTestRunner(t, engine, failingSourceStore{}, nil)

	emitter := &captureEmitter{}
	summary := r.RunAll(context.Background(), emitter)

	assert.Zero(t, summary.Total)
	require.Len(t, emitter.events, 1)
	assert.Equal(t, progress.KindFailed, emitter.events[0].Kind)
}

type failingSourceStore struct{}

func (failingSourceStore) GetByURL(context.Context, string) (store.Source, error) {
	return store.Source{}, store.ErrNotFound
}

func (failingSourceStore) ListActive(context.Context) ([]store.Source, error) {
	return nil, errors.New("db unavailable")
}

func TestPreviewKeepsRuneBoundaries(t *testing.T) {
	t.Parallel()

	s := strings.Repeat("д", 40) // 2 bytes per rune
	got := preview(s, 25)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("д", 12)+"…", got)

	assert.Equal(t, "short", preview("  short  ", 25))
}
