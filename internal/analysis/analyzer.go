// Package analysis wraps the AI content-analysis collaborator.
package analysis

import (
	"context"
	"strings"
)

// Result is the relevance analysis of one article body.
type Result struct {
	Summary          string
	RelevanceScore   float64
	DetectedKeywords []string
}

// ThreatVerdict is the binary threat classification of an article.
type ThreatVerdict struct {
	IsThreat bool
	Score    float64
}

// Analyzer is the AI collaborator contract.
type Analyzer interface {
	// Analyze scores content against the tenant's keywords.
	Analyze(ctx context.Context, content string, keywords []string) (Result, error)
	// ClassifyThreat judges whether the article describes an active threat.
	ClassifyThreat(ctx context.Context, title, content string) (ThreatVerdict, error)
}

// threatTerms drive the keyword fallback classifier.
var threatTerms = []string{
	"ransomware", "zero-day", "0-day", "exploit", "breach", "malware",
	"phishing", "botnet", "cve-", "backdoor", "data leak", "credential",
}

// KeywordAnalyzer is a deterministic fallback used when no AI API key is
// configured, and in tests. It scores by keyword hits only.
type KeywordAnalyzer struct{}

// Analyze implements Analyzer.
func (KeywordAnalyzer) Analyze(_ context.Context, content string, keywords []string) (Result, error) {
	lower := strings.ToLower(content)
	var hits []string
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			hits = append(hits, kw)
		}
	}
	score := 0.0
	if len(keywords) > 0 {
		score = float64(len(hits)) / float64(len(keywords))
	}
	return Result{
		Summary:          firstSentences(content, 2),
		RelevanceScore:   score,
		DetectedKeywords: hits,
	}, nil
}

// ClassifyThreat implements Analyzer.
func (KeywordAnalyzer) ClassifyThreat(_ context.Context, title, content string) (ThreatVerdict, error) {
	lower := strings.ToLower(title + " " + content)
	hits := 0
	for _, term := range threatTerms {
		if strings.Contains(lower, term) {
			hits++
		}
	}
	score := float64(hits) / 4.0
	if score > 1 {
		score = 1
	}
	return ThreatVerdict{IsThreat: hits >= 2, Score: score}, nil
}

func firstSentences(content string, n int) string {
	content = strings.TrimSpace(content)
	out := content
	idx := 0
	for i := 0; i < n; i++ {
		next := strings.IndexAny(content[idx:], ".!?")
		if next < 0 {
			break
		}
		idx += next + 1
	}
	if idx > 0 && idx < len(content) {
		out = content[:idx]
	}
	if len(out) > 400 {
		out = out[:400]
	}
	return strings.TrimSpace(out)
}
