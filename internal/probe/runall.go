package probe

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/threatlens/scout/internal/progress"
)

// RunAll probes every active source sequentially, emitting a progress event
// per iteration. Sequential on purpose: parallel probes would multiply load
// on target sites and on the shared scraping and AI collaborators.
//
// A failure inside one source's probe is folded into that source's entry and
// the loop moves on. Only a failure to list the sources aborts the run, and
// even that surfaces as a Failed event rather than an error return.
func (r *Runner) RunAll(ctx context.Context, emitter progress.Emitter) Summary {
	if emitter == nil {
		emitter = progress.NewLogEmitter(r.logger)
	}

	sources, err := r.sources.ListActive(ctx)
	if err != nil {
		r.logger.Error("active source listing failed", zap.Error(err))
		emitter.Emit(progress.Timestamped(progress.Event{
			Kind:    progress.KindFailed,
			Payload: map[string]any{"error": fmt.Sprintf("list active sources: %v", err)},
		}))
		return Summary{PerSource: []SourceResult{}}
	}

	summary := Summary{Total: len(sources), PerSource: []SourceResult{}}
	emitter.Emit(progress.Timestamped(progress.Event{
		Kind:    progress.KindStarted,
		Payload: map[string]any{"total": len(sources)},
	}))

	for i, src := range sources {
		emitter.Emit(progress.Timestamped(progress.Event{
			Kind: progress.KindSourceStart,
			Payload: map[string]any{
				"index": i + 1,
				"total": len(sources),
				"name":  src.Name,
				"url":   src.URL,
			},
		}))

		report := r.Run(ctx, Request{
			TargetURL: src.URL,
			Mode:      ModeQuick,
			RequestID: uuid.NewString(),
		})

		result := SourceResult{
			URL:     src.URL,
			Name:    src.Name,
			Success: report.Success,
			Found:   report.Scraping.Found,
			Errors:  report.Scraping.Errors,
		}
		if result.Success {
			summary.Passed++
		} else {
			summary.Failed++
		}
		summary.PerSource = append(summary.PerSource, result)

		emitter.Emit(progress.Timestamped(progress.Event{
			Kind: progress.KindSourceComplete,
			Payload: map[string]any{
				"index":   i + 1,
				"total":   len(sources),
				"name":    src.Name,
				"url":     src.URL,
				"success": result.Success,
				"found":   result.Found,
				"errors":  result.Errors,
			},
		}))
	}

	emitter.Emit(progress.Timestamped(progress.Event{
		Kind: progress.KindCompleted,
		Payload: map[string]any{
			"total":  summary.Total,
			"passed": summary.Passed,
			"failed": summary.Failed,
		},
	}))
	r.logger.Info("all-sources probe finished",
		zap.Int("total", summary.Total),
		zap.Int("passed", summary.Passed),
		zap.Int("failed", summary.Failed),
	)
	return summary
}
