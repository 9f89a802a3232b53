package analysis

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClipKeepsRuneBoundaries(t *testing.T) {
	t.Parallel()

	s := strings.Repeat("威", 10) // 3 bytes per rune
	got := clip(s, 10)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("威", 3), got)
	assert.Equal(t, s, clip(s, len(s)))
}

func TestKeywordAnalyzerScoresHits(t *testing.T) {
	t.Parallel()

	res, err := KeywordAnalyzer{}.Analyze(
		context.Background(),
		"A new Ransomware campaign abuses stolen credentials.",
		[]string{"ransomware", "phishing"},
	)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, res.RelevanceScore, 0.001)
	assert.Equal(t, []string{"ransomware"}, res.DetectedKeywords)
	assert.NotEmpty(t, res.Summary)
}

func TestKeywordAnalyzerNoKeywords(t *testing.T) {
	t.Parallel()

	res, err := KeywordAnalyzer{}.Analyze(context.Background(), "body", nil)
	require.NoError(t, err)
	assert.Zero(t, res.RelevanceScore)
	assert.Empty(t, res.DetectedKeywords)
}

func TestClassifyThreatRequiresMultipleSignals(t *testing.T) {
	t.Parallel()

	benign, err := KeywordAnalyzer{}.ClassifyThreat(context.Background(), "Weather update", "Sunny with a chance of rain.")
	require.NoError(t, err)
	assert.False(t, benign.IsThreat)

	hostile, err := KeywordAnalyzer{}.ClassifyThreat(
		context.Background(),
		"Ransomware gang exploits CVE-2026-1234",
		"The exploit drops a backdoor used for credential theft.",
	)
	require.NoError(t, err)
	assert.True(t, hostile.IsThreat)
	assert.Greater(t, hostile.Score, 0.4)
}

func TestNewOpenAIAnalyzerRequiresKey(t *testing.T) {
	t.Parallel()

	_, err := NewOpenAIAnalyzer(OpenAIConfig{})
	require.Error(t, err)
}
