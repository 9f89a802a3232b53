package ingest

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threatlens/scout/internal/analysis"
	"github.com/threatlens/scout/internal/publish"
	"github.com/threatlens/scout/internal/scrape"
	"github.com/threatlens/scout/internal/store"
)

// stubEngine serves canned articles keyed by URL.
type stubEngine struct {
	articles map[string]scrape.Article
	links    []string
	linksErr error
}

func (s *stubEngine) FetchSourceLinks(context.Context, string) ([]string, error) {
	return s.links, s.linksErr
}

func (s *stubEngine) FetchArticle(_ context.Context, url string) (scrape.Article, error) {
	art, ok := s.articles[url]
	if !ok {
		return scrape.Article{}, assert.AnError
	}
	return art, nil
}

func (s *stubEngine) Snapshot(context.Context) scrape.Stats {
	return scrape.Stats{TLSClientReady: true}
}

func goodArticle(url string) scrape.Article {
	return scrape.Article{
		URL:        url,
		Title:      "Ransomware crew exploits new CVE",
		Content:    strings.Repeat("The exploit chain drops ransomware on patched hosts. ", 30),
		Method:     "static",
		Confidence: 0.9,
	}
}

func TestIngestPersistsAndNotifies(t *testing.T) {
	t.Parallel()

	url := "https://darkfeed.example/post/1"
	engine := &stubEngine{articles: map[string]scrape.Article{url: goodArticle(url)}}
	articles := store.NewMemoryArticleStore()
	pub := publish.NewMemoryPublisher()
	p := NewPipeline(engine, analysis.KeywordAnalyzer{}, articles, NewMemoryDedupCache(),
		Options{Publisher: pub, Topic: "articles.ingested"}, nil)

	art, err := p.Ingest(context.Background(), url, uuid.New(), &store.Source{Keywords: []string{"ransomware"}})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, art.ID)
	assert.True(t, art.IsThreat)
	assert.Equal(t, 1, articles.Len())
	require.Len(t, pub.Messages(), 1)
	assert.Equal(t, "articles.ingested", pub.Messages()[0].Topic)
}

func TestIngestRejectsDuplicateURL(t *testing.T) {
	t.Parallel()

	url := "https://darkfeed.example/post/1"
	engine := &stubEngine{articles: map[string]scrape.Article{url: goodArticle(url)}}
	p := NewPipeline(engine, analysis.KeywordAnalyzer{}, store.NewMemoryArticleStore(),
		NewMemoryDedupCache(), Options{}, nil)

	_, err := p.Ingest(context.Background(), url, uuid.New(), nil)
	require.NoError(t, err)

	_, err = p.Ingest(context.Background(), url, uuid.New(), nil)
	require.ErrorIs(t, err, ErrDuplicateURL)
}

func TestIngestRejectsLowConfidence(t *testing.T) {
	t.Parallel()

	url := "https://darkfeed.example/post/2"
	art := goodArticle(url)
	art.Confidence = 0.1
	engine := &stubEngine{articles: map[string]scrape.Article{url: art}}
	p := NewPipeline(engine, analysis.KeywordAnalyzer{}, store.NewMemoryArticleStore(), nil, Options{}, nil)

	_, err := p.Ingest(context.Background(), url, uuid.New(), nil)
	require.ErrorIs(t, err, ErrLowConfidence)
}

func TestValidateBlockPageHeuristic(t *testing.T) {
	t.Parallel()

	_, err := Validate(Candidate{
		URL:        "https://example.com/a",
		Title:      "Attention Required",
		Content:    "Attention Required! Cloudflare. Please verify you are a human.",
		Confidence: 0.8,
	})
	require.ErrorIs(t, err, ErrBlockedPage)

	// The same phrase in a long article body is fine.
	long := strings.Repeat("Analysis of captcha-farm infrastructure. ", 30)
	_, err = Validate(Candidate{URL: "https://example.com/b", Title: "t", Content: long, Confidence: 0.8})
	require.NoError(t, err)
}

func TestValidateEmptyContent(t *testing.T) {
	t.Parallel()

	_, err := Validate(Candidate{URL: "https://example.com/a", Title: "t", Content: "   ", Confidence: 0.9})
	require.ErrorIs(t, err, ErrEmptyContent)
}

func TestValidateFallbackTitleFromURL(t *testing.T) {
	t.Parallel()

	title, err := Validate(Candidate{
		URL:        "https://example.com/posts/new-ransomware-strain.html",
		Content:    strings.Repeat("body text ", 100),
		Confidence: 0.9,
	})
	require.NoError(t, err)
	assert.Equal(t, "New ransomware strain", title)
}

func TestFallbackTitleEmptyPath(t *testing.T) {
	t.Parallel()

	assert.Empty(t, FallbackTitle("https://example.com/"))
}

func TestValidateCorruptContent(t *testing.T) {
	t.Parallel()

	corrupt := strings.Repeat(string(rune(0x01)), 50) + "some text"
	_, err := Validate(Candidate{URL: "https://example.com/a", Title: "t", Content: corrupt, Confidence: 0.9})
	require.ErrorIs(t, err, ErrCorruptText)
}

func TestBoltDedupCacheRoundTrip(t *testing.T) {
	t.Parallel()

	cache, err := OpenBoltDedupCache(t.TempDir() + "/dedup.db")
	require.NoError(t, err)
	defer cache.Close()

	seen, err := cache.Seen("https://example.com/a")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, cache.Mark("https://example.com/a"))
	seen, err = cache.Seen("https://example.com/a")
	require.NoError(t, err)
	assert.True(t, seen)
}
