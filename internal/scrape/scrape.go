// Package scrape defines the scraping engine contract consumed by the probe
// harness and the ingestion pipeline.
package scrape

import (
	"context"
	"time"
)

// Article is the raw extraction result for a single page.
type Article struct {
	URL         string
	Title       string
	Content     string
	Author      string
	PublishDate *time.Time
	// Method records which extraction path produced the content
	// (e.g. "static", "headless").
	Method string
	// Confidence scores extraction quality in [0, 1].
	Confidence float64
}

// Stats is a point-in-time snapshot of engine capabilities, reported by the
// health endpoint and the probe's environment-diagnostics stage.
type Stats struct {
	HeadlessAvailable bool   `json:"headlessAvailable"`
	TLSClientReady    bool   `json:"tlsClientReady"`
	UserAgent         string `json:"userAgent"`
}

// Engine is the scraping collaborator. Implementations own transport details
// (TLS fingerprinting, anti-bot measures, headless browsers); callers only see
// this contract.
type Engine interface {
	// FetchSourceLinks extracts candidate article URLs from a source page.
	FetchSourceLinks(ctx context.Context, url string) ([]string, error)
	// FetchArticle fetches and extracts a single article.
	FetchArticle(ctx context.Context, url string) (Article, error)
	// Snapshot reports engine capability stats. It must be cheap and must not
	// hit the network.
	Snapshot(ctx context.Context) Stats
}
