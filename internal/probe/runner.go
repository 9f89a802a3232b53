package probe

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/threatlens/scout/internal/ingest"
	"github.com/threatlens/scout/internal/metrics"
	"github.com/threatlens/scout/internal/scrape"
	"github.com/threatlens/scout/internal/store"
)

// Env captures the deployment flags that shape diagnostics output.
type Env struct {
	// Name is the deployment environment (development, staging, production).
	Name string
	// CloudHosted marks datacenter egress, which affects anti-detection
	// reporting only.
	CloudHosted bool
}

// Config tunes runner behavior.
type Config struct {
	// QuickSampleLimit caps quick-mode article fetches (default 3).
	QuickSampleLimit int
	// IPCheckURL is the endpoint returning the caller's public IP as text.
	IPCheckURL string
	// IPCheckTimeout bounds the outbound-IP lookup (default 5s).
	IPCheckTimeout time.Duration
}

// Runner executes probe runs. One Runner serves the whole process; all
// per-run state lives in the run itself.
type Runner struct {
	sources  store.SourceStore
	engine   scrape.Engine
	pipeline *ingest.Pipeline
	http     *resty.Client
	env      Env
	cfg      Config
	logger   *zap.Logger
}

// NewRunner wires the probe collaborators.
func NewRunner(
	sources store.SourceStore,
	engine scrape.Engine,
	pipeline *ingest.Pipeline,
	env Env,
	cfg Config,
	logger *zap.Logger,
) *Runner {
	if cfg.QuickSampleLimit <= 0 {
		cfg.QuickSampleLimit = 3
	}
	if cfg.IPCheckURL == "" {
		cfg.IPCheckURL = "https://api.ipify.org"
	}
	if cfg.IPCheckTimeout <= 0 {
		cfg.IPCheckTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		sources:  sources,
		engine:   engine,
		pipeline: pipeline,
		http:     resty.New().SetTimeout(cfg.IPCheckTimeout),
		env:      env,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run executes the full probe state machine for one target. Every per-stage
// failure is recovered, logged, and folded into the report; only a panic
// escaping the whole run produces a hard-failure report, and even that is
// converted rather than propagated.
func (r *Runner) Run(ctx context.Context, req Request) (report Report) {
	start := time.Now()
	rec := NewRecorder(r.logger, req.RequestID)

	defer func() {
		if panicked := recover(); panicked != nil {
			report = r.hardFailure(req, rec, fmt.Sprintf("%v", panicked))
		}
		metrics.ObserveProbeRun(string(req.Mode), report.Success, time.Since(start))
	}()

	diag := Diagnostics{
		StartTime:   start.UTC(),
		Environment: r.env.Name,
		CloudHosted: r.env.CloudHosted,
		Errors:      []string{},
	}

	rec.Append(LevelInfo, "probe started", map[string]any{
		"url":  req.TargetURL,
		"mode": string(req.Mode),
	})

	// Stage 1: identify the target among registered sources.
	source := r.identify(ctx, req.TargetURL, rec)

	// Stage 2: environment diagnostics, all best-effort.
	r.environmentDiagnostics(ctx, &diag, rec)
	engineStats := r.engine.Snapshot(ctx)

	// Stage 3: source-link extraction.
	linkStart := time.Now()
	links, linkErr := r.engine.FetchSourceLinks(ctx, req.TargetURL)
	diag.SourceFetchDurationMs = time.Since(linkStart).Milliseconds()

	scraping := ScrapingResult{Samples: []Sample{}, Errors: []string{}}
	var fullRun *FullRun

	if linkErr != nil {
		msg := fmt.Sprintf("source link extraction failed: %v", linkErr)
		scraping.Errors = append(scraping.Errors, msg)
		diag.Errors = append(diag.Errors, msg)
		rec.Append(LevelError, msg, nil)
		metrics.ObserveProbeStageError("links")
	} else {
		scraping.Found = len(links)
		rec.Append(LevelInfo, fmt.Sprintf("found %d candidate links", len(links)), nil)

		// Stage 4: sampling or full persistence.
		articleStart := time.Now()
		switch req.Mode {
		case ModeFull:
			fullRun = r.fullRun(ctx, links, source, &scraping, rec)
		default:
			r.quickSamples(ctx, links, &scraping, rec)
		}
		ms := time.Since(articleStart).Milliseconds()
		diag.ArticleFetchDurationMs = &ms
	}

	// Stage 5: anti-bypass flagging, informational only.
	risk := r.classifyRisk(req.TargetURL)

	// Stage 6: compose the terminal report.
	report = Report{
		Success:       successOf(linkErr, scraping, fullRun),
		Source:        source,
		Scraping:      scraping,
		FullRun:       fullRun,
		AntiDetection: risk,
		Engine: EngineSnapshot{
			HeadlessAvailable: engineStats.HeadlessAvailable,
			TLSClientReady:    engineStats.TLSClientReady,
			UserAgent:         engineStats.UserAgent,
		},
		Diagnostics: diag,
		Logs:        rec.Entries(),
	}
	rec.Append(LevelInfo, "probe finished", map[string]any{"success": report.Success})
	report.Logs = rec.Entries()
	return report
}

// successOf implements the partial-success rule: a run passes iff link
// extraction worked, or at least one sample/save succeeded.
func successOf(linkErr error, scraping ScrapingResult, fullRun *FullRun) bool {
	if linkErr == nil {
		return true
	}
	for _, s := range scraping.Samples {
		if s.Success {
			return true
		}
	}
	return fullRun != nil && fullRun.Saved > 0
}

func (r *Runner) identify(ctx context.Context, targetURL string, rec *Recorder) SourceInfo {
	info := SourceInfo{URL: targetURL}
	src, err := r.sources.GetByURL(ctx, targetURL)
	switch {
	case err == nil:
		info.IsKnown = true
		info.Name = src.Name
		id := src.ID
		info.ID = &id
		rec.Append(LevelInfo, "target matches registered source", map[string]any{"name": src.Name})
	case errors.Is(err, store.ErrNotFound):
		rec.Append(LevelInfo, "target is not a registered source", nil)
	default:
		// Lookup failure is tolerated; the probe still runs as unknown.
		rec.Append(LevelWarning, fmt.Sprintf("source lookup failed: %v", err), nil)
	}
	return info
}

// environmentDiagnostics records outbound IP and engine compatibility.
// Both checks tolerate failure; a hung endpoint is bounded by the timeout.
func (r *Runner) environmentDiagnostics(ctx context.Context, diag *Diagnostics, rec *Recorder) {
	ipCtx, cancel := context.WithTimeout(ctx, r.cfg.IPCheckTimeout)
	defer cancel()

	resp, err := r.http.R().SetContext(ipCtx).Get(r.cfg.IPCheckURL)
	if err != nil {
		rec.Append(LevelWarning, fmt.Sprintf("outbound ip check failed: %v", err), nil)
		return
	}
	ip := strings.TrimSpace(string(resp.Body()))
	if resp.StatusCode() != 200 || ip == "" {
		rec.Append(LevelWarning, fmt.Sprintf("outbound ip check returned status %d", resp.StatusCode()), nil)
		return
	}
	diag.OutboundIP = ip
	rec.Append(LevelInfo, "outbound ip resolved", map[string]any{"ip": ip})
}

// quickSamples fetches up to the configured limit of articles without
// persisting anything. Per-article failures become failed samples.
func (r *Runner) quickSamples(ctx context.Context, links []string, scraping *ScrapingResult, rec *Recorder) {
	limit := r.cfg.QuickSampleLimit
	if len(links) < limit {
		limit = len(links)
	}
	for _, link := range links[:limit] {
		scraping.Processed++
		art, err := r.engine.FetchArticle(ctx, link)
		if err != nil {
			msg := fmt.Sprintf("sample fetch failed for %s: %v", link, err)
			scraping.Errors = append(scraping.Errors, msg)
			scraping.Samples = append(scraping.Samples, Sample{URL: link, Errors: []string{err.Error()}})
			rec.Append(LevelWarning, msg, nil)
			metrics.ObserveProbeStageError("sample")
			continue
		}
		title, err := ingest.Validate(ingest.Candidate{
			URL:        link,
			Title:      art.Title,
			Content:    art.Content,
			Confidence: art.Confidence,
		})
		if err != nil {
			msg := fmt.Sprintf("sample rejected for %s: %v", link, err)
			scraping.Errors = append(scraping.Errors, msg)
			scraping.Samples = append(scraping.Samples, Sample{URL: link, Method: art.Method, Errors: []string{err.Error()}})
			rec.Append(LevelWarning, msg, nil)
			continue
		}
		scraping.Samples = append(scraping.Samples, Sample{
			URL:            link,
			Title:          title,
			ContentPreview: preview(art.Content, 300),
			Author:         art.Author,
			PublishDate:    art.PublishDate,
			Method:         art.Method,
			Success:        true,
		})
		rec.Append(LevelInfo, "sample extracted", map[string]any{"url": link, "title": title})
	}
}

// fullRun pushes every link through the production ingestion pipeline,
// skipping per-article failures.
func (r *Runner) fullRun(ctx context.Context, links []string, source SourceInfo, scraping *ScrapingResult, rec *Recorder) *FullRun {
	out := &FullRun{SavedArticles: []SavedArticle{}, SavingErrors: []string{}}

	var src *store.Source
	if source.IsKnown && source.ID != nil {
		src = &store.Source{ID: *source.ID, Name: source.Name, URL: source.URL}
	}
	owner := uuid.Nil
	if src != nil {
		owner = src.OwnerID
	}

	for _, link := range links {
		scraping.Processed++
		article, err := r.pipeline.Ingest(ctx, link, owner, src)
		if err != nil {
			out.SavingErrors = append(out.SavingErrors, err.Error())
			rec.Append(LevelWarning, fmt.Sprintf("full-run save skipped for %s: %v", link, err), nil)
			metrics.ObserveProbeStageError("save")
			continue
		}
		out.Saved++
		out.SavedArticles = append(out.SavedArticles, SavedArticle{
			ID:    article.ID,
			URL:   article.URL,
			Title: article.Title,
		})
		if len(scraping.Samples) < r.cfg.QuickSampleLimit {
			scraping.Samples = append(scraping.Samples, Sample{
				URL:            article.URL,
				Title:          article.Title,
				ContentPreview: preview(article.Content, 300),
				Method:         article.Method,
				Success:        true,
			})
		}
		rec.Append(LevelInfo, "article saved", map[string]any{"url": link, "id": article.ID.String()})
	}
	return out
}

// protectedSuffixes are domains known to sit behind aggressive anti-bot
// frontends; probing them from datacenter IPs usually needs the bypass stack.
var protectedSuffixes = []string{
	"bloomberg.com",
	"reuters.com",
	"medium.com",
	"linkedin.com",
	"glassdoor.com",
}

// classifyRisk produces the informational anti-bypass flag from the runtime
// environment and the target domain.
func (r *Runner) classifyRisk(targetURL string) RiskAssessment {
	risk := RiskAssessment{Level: "low"}
	host := ""
	if u, err := url.Parse(targetURL); err == nil {
		host = strings.ToLower(u.Hostname())
	}
	if r.env.CloudHosted {
		risk.Applicable = true
		risk.Level = "medium"
		risk.Reasons = append(risk.Reasons, "datacenter egress IP is easily fingerprinted")
	}
	for _, suffix := range protectedSuffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			risk.Applicable = true
			risk.Level = "high"
			risk.Reasons = append(risk.Reasons, "target domain is behind a known anti-bot frontend")
			break
		}
	}
	return risk
}

// hardFailure converts an escaped panic into a terminal failure report.
func (r *Runner) hardFailure(req Request, rec *Recorder, msg string) Report {
	rec.Append(LevelError, "probe run aborted: "+msg, nil)
	r.logger.Error("probe run aborted", zap.String("url", req.TargetURL), zap.String("panic", msg))
	return Report{
		Success: false,
		Source:  SourceInfo{URL: req.TargetURL},
		Scraping: ScrapingResult{
			Samples: []Sample{},
			Errors:  []string{"probe run failed: " + msg},
		},
		Diagnostics: Diagnostics{
			StartTime:   time.Now().UTC(),
			Environment: r.env.Name,
			CloudHosted: r.env.CloudHosted,
			Errors:      []string{"probe run failed: " + msg},
		},
		Logs: rec.Entries(),
	}
}

// preview truncates to at most n bytes, backing off to the nearest rune
// boundary so multi-byte text is never split mid-sequence.
func preview(content string, n int) string {
	content = strings.TrimSpace(content)
	if len(content) <= n {
		return content
	}
	for n > 0 && !utf8.RuneStart(content[n]) {
		n--
	}
	return content[:n] + "…"
}
