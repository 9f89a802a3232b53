package scrape

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// Config controls the colly-backed engine.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// MaxLinks caps the number of links returned per source page.
	MaxLinks int
}

// CollyEngine implements Engine with a colly collector for transport and
// goquery for extraction.
type CollyEngine struct {
	cfg      Config
	base     *colly.Collector
	headless *HeadlessProbe
	logger   *zap.Logger
}

// NewCollyEngine builds an engine. headless may be nil when no browser is
// installed; Snapshot then reports it unavailable.
func NewCollyEngine(cfg Config, headless *HeadlessProbe, logger *zap.Logger) *CollyEngine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxLinks <= 0 {
		cfg.MaxLinks = 100
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "scout-probe/0.1"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	return &CollyEngine{cfg: cfg, base: c, headless: headless, logger: logger}
}

// FetchSourceLinks implements Engine.
func (e *CollyEngine) FetchSourceLinks(ctx context.Context, sourceURL string) ([]string, error) {
	parsed, err := url.Parse(sourceURL)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("invalid source url %q", sourceURL)
	}

	collector := e.newCollector(ctx)
	seen := make(map[string]struct{})
	var links []string

	collector.OnHTML("a[href]", func(el *colly.HTMLElement) {
		if len(links) >= e.cfg.MaxLinks {
			return
		}
		abs := normalizeLink(el.Request.AbsoluteURL(el.Attr("href")))
		if abs == "" || abs == sourceURL {
			return
		}
		if _, ok := seen[abs]; ok {
			return
		}
		seen[abs] = struct{}{}
		links = append(links, abs)
	})

	var fetchErr error
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	if err := collector.Visit(sourceURL); err != nil {
		return nil, fmt.Errorf("visit source: %w", err)
	}
	collector.Wait()
	if fetchErr != nil {
		return nil, fmt.Errorf("fetch source links: %w", fetchErr)
	}
	return links, nil
}

// FetchArticle implements Engine.
func (e *CollyEngine) FetchArticle(ctx context.Context, articleURL string) (Article, error) {
	collector := e.newCollector(ctx)

	var (
		body     []byte
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		body = r.Body
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	if err := collector.Visit(articleURL); err != nil {
		return Article{}, fmt.Errorf("visit article: %w", err)
	}
	collector.Wait()
	if fetchErr != nil {
		return Article{}, fmt.Errorf("fetch article: %w", fetchErr)
	}

	art, err := extract(articleURL, body)
	if err != nil {
		return Article{}, err
	}
	return art, nil
}

// Snapshot implements Engine.
func (e *CollyEngine) Snapshot(ctx context.Context) Stats {
	return Stats{
		HeadlessAvailable: e.headless != nil && e.headless.Available(ctx),
		TLSClientReady:    true,
		UserAgent:         e.cfg.UserAgent,
	}
}

func (e *CollyEngine) newCollector(ctx context.Context) *colly.Collector {
	collector := e.base.Clone()
	collector.UserAgent = e.cfg.UserAgent
	collector.SetRequestTimeout(e.cfg.Timeout)
	collector.Context = ctx
	return collector
}

// normalizeLink strips fragments and drops non-HTTP links. It returns ""
// for anything unusable.
func normalizeLink(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	u.Fragment = ""
	return u.String()
}

// extract pulls title/content/author/date out of an HTML document.
func extract(articleURL string, body []byte) (Article, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Article{}, fmt.Errorf("parse article html: %w", err)
	}

	art := Article{URL: articleURL, Method: "static"}

	art.Title = strings.TrimSpace(doc.Find(`meta[property="og:title"]`).AttrOr("content", ""))
	if art.Title == "" {
		art.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	if art.Title == "" {
		art.Title = strings.TrimSpace(doc.Find("h1").First().Text())
	}

	art.Content = extractContent(doc)
	art.Author = strings.TrimSpace(doc.Find(`meta[name="author"]`).AttrOr("content", ""))

	if raw := doc.Find(`meta[property="article:published_time"]`).AttrOr("content", ""); raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			art.PublishDate = &ts
		}
	}
	if art.PublishDate == nil {
		if raw := doc.Find("time[datetime]").AttrOr("datetime", ""); raw != "" {
			if ts, err := time.Parse(time.RFC3339, raw); err == nil {
				art.PublishDate = &ts
			}
		}
	}

	art.Confidence = scoreExtraction(art)
	return art, nil
}

func extractContent(doc *goquery.Document) string {
	for _, sel := range []string{"article", "main", "body"} {
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		var parts []string
		node.Find("p").Each(func(_ int, p *goquery.Selection) {
			text := strings.TrimSpace(p.Text())
			if text != "" {
				parts = append(parts, text)
			}
		})
		if len(parts) > 0 {
			return strings.Join(parts, "\n\n")
		}
	}
	return strings.TrimSpace(doc.Find("body").Text())
}

// scoreExtraction is a coarse quality heuristic: full marks need a title and
// a substantial body.
func scoreExtraction(art Article) float64 {
	score := 0.0
	if art.Title != "" {
		score += 0.4
	}
	switch n := len(art.Content); {
	case n >= 2000:
		score += 0.5
	case n >= 500:
		score += 0.4
	case n >= 100:
		score += 0.2
	case n > 0:
		score += 0.1
	}
	if art.Author != "" || art.PublishDate != nil {
		score += 0.1
	}
	if score > 1 {
		score = 1
	}
	return score
}

var _ Engine = (*CollyEngine)(nil)
