// Package ingest implements the production article ingestion pipeline:
// fetch, validate, analyze, deduplicate, persist, notify.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/threatlens/scout/internal/analysis"
	"github.com/threatlens/scout/internal/publish"
	"github.com/threatlens/scout/internal/scrape"
	"github.com/threatlens/scout/internal/store"
)

// Pipeline wires the ingestion collaborators. Both the background queue
// worker and the probe's full-run mode push articles through it, so the
// diagnostic path exercises exactly the production path.
type Pipeline struct {
	engine    scrape.Engine
	analyzer  analysis.Analyzer
	articles  store.ArticleStore
	dedup     DedupCache
	publisher publish.Publisher
	topic     string
	logger    *zap.Logger
}

// Options carries optional pipeline collaborators.
type Options struct {
	Publisher publish.Publisher
	Topic     string
}

// NewPipeline constructs a Pipeline. dedup may be nil to skip the cache layer.
func NewPipeline(
	engine scrape.Engine,
	analyzer analysis.Analyzer,
	articles store.ArticleStore,
	dedup DedupCache,
	opts Options,
	logger *zap.Logger,
) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		engine:    engine,
		analyzer:  analyzer,
		articles:  articles,
		dedup:     dedup,
		publisher: opts.Publisher,
		topic:     opts.Topic,
		logger:    logger,
	}
}

// Ingest runs one URL through the full pipeline. source may be nil for
// ad-hoc URLs. A validation rejection comes back as one of the Err* sentinels
// wrapped with context; callers skip, not abort.
func (p *Pipeline) Ingest(ctx context.Context, rawURL string, ownerID uuid.UUID, source *store.Source) (store.Article, error) {
	if dup, err := p.isDuplicate(ctx, rawURL); err != nil {
		return store.Article{}, err
	} else if dup {
		return store.Article{}, fmt.Errorf("%s: %w", rawURL, ErrDuplicateURL)
	}

	raw, err := p.engine.FetchArticle(ctx, rawURL)
	if err != nil {
		return store.Article{}, fmt.Errorf("fetch article: %w", err)
	}

	title, err := Validate(Candidate{
		URL:        rawURL,
		Title:      raw.Title,
		Content:    raw.Content,
		Confidence: raw.Confidence,
	})
	if err != nil {
		return store.Article{}, fmt.Errorf("validate %s: %w", rawURL, err)
	}

	var keywords []string
	if source != nil {
		keywords = source.Keywords
	}
	res, err := p.analyzer.Analyze(ctx, raw.Content, keywords)
	if err != nil {
		return store.Article{}, fmt.Errorf("analyze article: %w", err)
	}
	verdict, err := p.analyzer.ClassifyThreat(ctx, title, raw.Content)
	if err != nil {
		return store.Article{}, fmt.Errorf("classify article: %w", err)
	}

	article := store.Article{
		OwnerID:        ownerID,
		URL:            rawURL,
		Title:          title,
		Content:        raw.Content,
		Method:         raw.Method,
		Confidence:     raw.Confidence,
		Summary:        res.Summary,
		RelevanceScore: res.RelevanceScore,
		IsThreat:       verdict.IsThreat,
		ThreatScore:    verdict.Score,
		PublishDate:    raw.PublishDate,
		CreatedAt:      time.Now().UTC(),
	}
	if raw.Author != "" {
		article.Author = &raw.Author
	}
	if source != nil {
		sid := source.ID
		article.SourceID = &sid
	}

	id, err := p.articles.Insert(ctx, article)
	if err != nil {
		return store.Article{}, fmt.Errorf("persist article: %w", err)
	}
	article.ID = id

	if p.dedup != nil {
		if err := p.dedup.Mark(rawURL); err != nil {
			// Cache failure is not fatal; the store remains authoritative.
			p.logger.Warn("dedup cache mark failed", zap.String("url", rawURL), zap.Error(err))
		}
	}

	p.notify(ctx, article)
	return article, nil
}

func (p *Pipeline) isDuplicate(ctx context.Context, rawURL string) (bool, error) {
	if p.dedup != nil {
		seen, err := p.dedup.Seen(rawURL)
		if err != nil {
			p.logger.Warn("dedup cache read failed", zap.String("url", rawURL), zap.Error(err))
		} else if seen {
			return true, nil
		}
	}
	exists, err := p.articles.ExistsByURL(ctx, rawURL)
	if err != nil {
		return false, fmt.Errorf("check duplicate url: %w", err)
	}
	return exists, nil
}

func (p *Pipeline) notify(ctx context.Context, article store.Article) {
	if p.publisher == nil || p.topic == "" {
		return
	}
	payload := map[string]any{
		"articleId": article.ID.String(),
		"url":       article.URL,
		"isThreat":  article.IsThreat,
		"relevance": article.RelevanceScore,
		"createdAt": article.CreatedAt.Format(time.RFC3339),
	}
	if _, err := p.publisher.Publish(ctx, p.topic, payload); err != nil {
		p.logger.Warn("ingest notification failed", zap.String("url", article.URL), zap.Error(err))
	}
}
