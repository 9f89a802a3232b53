// Package probe implements the diagnostic test-scraping harness: a bounded,
// multi-stage probe of the scraping pipeline against one source or every
// active source.
package probe

import (
	"time"

	"github.com/google/uuid"
)

// SampleMode selects how deep a probe run goes.
type SampleMode string

// Supported sample modes.
const (
	// ModeQuick fetches at most three sample articles without persisting.
	ModeQuick SampleMode = "quick"
	// ModeFull pushes every discovered link through the production
	// ingestion pipeline.
	ModeFull SampleMode = "full"
)

// Request describes one probe run. It is immutable and discarded afterwards.
type Request struct {
	TargetURL string
	Mode      SampleMode
	RequestID string
}

// Diagnostics is owned by exactly one probe run and frozen into its report.
type Diagnostics struct {
	StartTime              time.Time `json:"startTime"`
	SourceFetchDurationMs  int64     `json:"sourceFetchDurationMs"`
	ArticleFetchDurationMs *int64    `json:"articleFetchDurationMs,omitempty"`
	OutboundIP             string    `json:"outboundIp,omitempty"`
	Environment            string    `json:"environment"`
	CloudHosted            bool      `json:"cloudHosted"`
	Errors                 []string  `json:"errors"`
}

// SourceInfo identifies the probe target. Absence from the source registry is
// informational, not an error.
type SourceInfo struct {
	URL     string     `json:"url"`
	Name    string     `json:"name,omitempty"`
	IsKnown bool       `json:"isKnown"`
	ID      *uuid.UUID `json:"id,omitempty"`
}

// Sample is an ephemeral, response-only article extraction result.
type Sample struct {
	URL            string     `json:"url"`
	Title          string     `json:"title"`
	ContentPreview string     `json:"contentPreview"`
	Author         string     `json:"author,omitempty"`
	PublishDate    *time.Time `json:"publishDate,omitempty"`
	Method         string     `json:"method"`
	Success        bool       `json:"success"`
	Errors         []string   `json:"errors,omitempty"`
}

// SavedArticle records a persisted full-run article.
type SavedArticle struct {
	ID    uuid.UUID `json:"id"`
	URL   string    `json:"url"`
	Title string    `json:"title"`
}

// ScrapingResult aggregates the link-extraction and sampling stages.
type ScrapingResult struct {
	Found     int      `json:"found"`
	Processed int      `json:"processed"`
	Samples   []Sample `json:"samples"`
	Errors    []string `json:"errors"`
}

// FullRun is present only for ModeFull reports.
type FullRun struct {
	Saved         int            `json:"saved"`
	SavedArticles []SavedArticle `json:"savedArticles"`
	SavingErrors  []string       `json:"savingErrors"`
}

// RiskAssessment is the informational anti-bypass flag for the target.
type RiskAssessment struct {
	Applicable bool     `json:"applicable"`
	Level      string   `json:"level"`
	Reasons    []string `json:"reasons,omitempty"`
}

// EngineSnapshot mirrors the scraping engine capability stats into the report.
type EngineSnapshot struct {
	HeadlessAvailable bool   `json:"headlessAvailable"`
	TLSClientReady    bool   `json:"tlsClientReady"`
	UserAgent         string `json:"userAgent"`
}

// Report is the terminal artifact of one probe run; immutable once returned.
//
// Success is true iff the source-link stage produced no error, or at least
// one sample/save succeeded. Partial success is a first-class outcome.
type Report struct {
	Success       bool           `json:"success"`
	Source        SourceInfo     `json:"source"`
	Scraping      ScrapingResult `json:"scraping"`
	FullRun       *FullRun       `json:"fullRun,omitempty"`
	AntiDetection RiskAssessment `json:"antiDetection"`
	Engine        EngineSnapshot `json:"engine"`
	Diagnostics   Diagnostics    `json:"diagnostics"`
	Logs          []LogEntry     `json:"logs"`
}

// SourceResult is one entry of an aggregate run summary.
type SourceResult struct {
	URL     string   `json:"url"`
	Name    string   `json:"name"`
	Success bool     `json:"success"`
	Found   int      `json:"found"`
	Errors  []string `json:"errors,omitempty"`
}

// Summary aggregates an all-sources run.
type Summary struct {
	Total     int            `json:"total"`
	Passed    int            `json:"passed"`
	Failed    int            `json:"failed"`
	PerSource []SourceResult `json:"perSource"`
}
