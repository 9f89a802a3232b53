package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const analyzePrompt = `You analyze scraped articles for a threat-intelligence
platform. Reply with strict JSON: {"summary": string, "relevanceScore": number
between 0 and 1, "detectedKeywords": [string]}. Score relevance against the
provided keywords only.`

const classifyPrompt = `You classify scraped articles for a threat-intelligence
platform. Reply with strict JSON: {"isThreat": bool, "score": number between 0
and 1} where isThreat means the article describes an active or emerging cyber
threat.`

// OpenAIConfig configures the OpenAI-backed analyzer.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// OpenAIAnalyzer implements Analyzer using chat completions.
type OpenAIAnalyzer struct {
	model string
	opts  []option.RequestOption
}

// NewOpenAIAnalyzer validates config and builds the analyzer.
func NewOpenAIAnalyzer(cfg OpenAIConfig) (*OpenAIAnalyzer, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("analysis api key missing")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIAnalyzer{model: cfg.Model, opts: opts}, nil
}

// Analyze implements Analyzer.
func (a *OpenAIAnalyzer) Analyze(ctx context.Context, content string, keywords []string) (Result, error) {
	user := fmt.Sprintf("Keywords: %s\n\nArticle:\n%s", strings.Join(keywords, ", "), clip(content, 12000))
	raw, err := a.complete(ctx, analyzePrompt, user)
	if err != nil {
		return Result{}, err
	}
	var out struct {
		Summary          string   `json:"summary"`
		RelevanceScore   float64  `json:"relevanceScore"`
		DetectedKeywords []string `json:"detectedKeywords"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return Result{}, fmt.Errorf("parse analysis response: %w", err)
	}
	return Result{
		Summary:          out.Summary,
		RelevanceScore:   clamp(out.RelevanceScore),
		DetectedKeywords: out.DetectedKeywords,
	}, nil
}

// ClassifyThreat implements Analyzer.
func (a *OpenAIAnalyzer) ClassifyThreat(ctx context.Context, title, content string) (ThreatVerdict, error) {
	user := fmt.Sprintf("Title: %s\n\nArticle:\n%s", title, clip(content, 12000))
	raw, err := a.complete(ctx, classifyPrompt, user)
	if err != nil {
		return ThreatVerdict{}, err
	}
	var out struct {
		IsThreat bool    `json:"isThreat"`
		Score    float64 `json:"score"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return ThreatVerdict{}, fmt.Errorf("parse classification response: %w", err)
	}
	return ThreatVerdict{IsThreat: out.IsThreat, Score: clamp(out.Score)}, nil
}

func (a *OpenAIAnalyzer) complete(ctx context.Context, system, user string) (string, error) {
	client := openai.NewClient(a.opts...)
	resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(a.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion: empty choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// clip truncates s to at most n bytes without splitting a UTF-8 sequence.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func clamp(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

var _ Analyzer = (*OpenAIAnalyzer)(nil)
