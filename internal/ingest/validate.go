package ingest

import (
	"errors"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Rejection reasons surfaced by Validate. Callers treat all of them as
// skip-this-article, never as run-aborting failures.
var (
	ErrDuplicateURL  = errors.New("article url already ingested")
	ErrEmptyContent  = errors.New("article content is empty")
	ErrLowConfidence = errors.New("extraction confidence below threshold")
	ErrCorruptText   = errors.New("article content looks corrupt")
	ErrBlockedPage   = errors.New("content looks like a captcha or block page")
	ErrMissingTitle  = errors.New("article has no title and no usable fallback")
)

const (
	minConfidence  = 0.2
	blockPageLimit = 500
)

// blockPhrases are fragments seen on captcha/anti-bot interstitials and
// generic error pages.
var blockPhrases = []string{
	"captcha",
	"access denied",
	"attention required",
	"cloudflare",
	"please verify you are a human",
	"enable javascript and cookies",
	"robot check",
	"403 forbidden",
	"too many requests",
}

// Candidate is the subset of an extraction result that validation inspects.
type Candidate struct {
	URL        string
	Title      string
	Content    string
	Confidence float64
}

// Validate applies the production acceptance rules in order. The returned
// title is the original one or, when it was missing, a URL-derived fallback.
func Validate(c Candidate) (title string, err error) {
	content := strings.TrimSpace(c.Content)
	if content == "" {
		return "", ErrEmptyContent
	}
	if c.Confidence < minConfidence {
		return "", ErrLowConfidence
	}
	if looksCorrupt(content) {
		return "", ErrCorruptText
	}
	if looksBlocked(content) {
		return "", ErrBlockedPage
	}
	title = strings.TrimSpace(c.Title)
	if title == "" {
		title = FallbackTitle(c.URL)
	}
	if title == "" {
		return "", ErrMissingTitle
	}
	return title, nil
}

// looksCorrupt flags content dominated by replacement characters or control
// bytes, which usually means a charset or decompression failure upstream.
func looksCorrupt(content string) bool {
	if !utf8.ValidString(content) {
		return true
	}
	var bad, total int
	for _, r := range content {
		total++
		if r == utf8.RuneError || (unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t') {
			bad++
		}
	}
	return total > 0 && float64(bad)/float64(total) > 0.05
}

// looksBlocked applies the captcha/error-page heuristic: short content plus a
// known block-page phrase.
func looksBlocked(content string) bool {
	if len(content) >= blockPageLimit {
		return false
	}
	lower := strings.ToLower(content)
	for _, phrase := range blockPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// FallbackTitle derives a title from the final URL path segment. It returns
// "" when the URL has no usable segment.
func FallbackTitle(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	last := segments[len(segments)-1]
	if last == "" {
		return ""
	}
	// Strip a file extension and rewrite separators as spaces.
	if idx := strings.LastIndex(last, "."); idx > 0 {
		last = last[:idx]
	}
	last = strings.NewReplacer("-", " ", "_", " ", "+", " ").Replace(last)
	last = strings.Join(strings.Fields(last), " ")
	if last == "" {
		return ""
	}
	return strings.ToUpper(last[:1]) + last[1:]
}
