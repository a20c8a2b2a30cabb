// Package cleaner turns raw extracted page text into analysis-ready content.
// Cleaning is deterministic: the same input always yields the same output.
package cleaner

import (
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/docsift/docsift/internal/docs"
)

var (
	reSpaces     = regexp.MustCompile(`[ \t]+`)
	reBlankLines = regexp.MustCompile(`\n{3,}`)
	reWord       = regexp.MustCompile(`[\p{L}\p{N}_]+`)
)

// TruncationMarker joins the head and tail of truncated content.
const TruncationMarker = "\n...\n"

// Config bounds the cleaner's output.
type Config struct {
	// MinWords drops documents below this word count as non-informative stubs.
	MinWords int
	// MaxChars is the content budget before head+tail truncation kicks in.
	MaxChars int
}

// Cleaner normalizes and truncates document text.
type Cleaner struct {
	cfg    Config
	logger *zap.Logger
}

// New constructs a Cleaner.
func New(cfg Config, logger *zap.Logger) *Cleaner {
	return &Cleaner{cfg: cfg, logger: logger}
}

// NormalizeWhitespace converts line endings to \n, collapses runs of spaces
// and tabs, and caps consecutive blank lines at one.
func NormalizeWhitespace(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = reSpaces.ReplaceAllString(text, " ")
	text = reBlankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// TruncateSmart bounds text to maxChars runes, keeping roughly the first 70%
// of the budget from the head and the remainder from the tail, joined by the
// truncation marker. Preserving both introduction and conclusion beats naive
// head-only truncation for doc pages.
func TruncateSmart(text string, maxChars int) string {
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	headLen := int(float64(maxChars) * 0.7)
	tailLen := maxChars - headLen - len(TruncationMarker)
	if tailLen < 1 {
		tailLen = 1
	}
	head := strings.TrimRight(string(runes[:headLen]), " \t\n")
	tail := strings.TrimLeft(string(runes[len(runes)-tailLen:]), " \t\n")
	return head + TruncationMarker + tail
}

// WordCount tokenizes text into Unicode words (letters, digits, underscore).
func WordCount(text string) int {
	return len(reWord.FindAllString(text, -1))
}

// dropRepeatedLines removes consecutive duplicate lines, which are almost
// always sidebar or menu leakage, along with empty lines.
func dropRepeatedLines(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	prev := ""
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || line == prev {
			continue
		}
		out = append(out, line)
		prev = line
	}
	return strings.Join(out, "\n")
}

// Clean produces the analysis-ready form of a raw document, or nil when the
// content falls below the minimum word count. A dropped document is not an
// error: short stubs simply carry no signal worth scoring.
func (c *Cleaner) Clean(raw docs.Document) *docs.CleanDocument {
	text := NormalizeWhitespace(raw.Content)
	text = dropRepeatedLines(text)
	text = TruncateSmart(text, c.cfg.MaxChars)

	wc := WordCount(text)
	if wc < c.cfg.MinWords {
		c.logger.Debug("dropping short document",
			zap.String("id", raw.ID),
			zap.Int("word_count", wc),
			zap.Int("min_words", c.cfg.MinWords),
		)
		return nil
	}

	return &docs.CleanDocument{
		ID:        raw.ID,
		URL:       raw.URL,
		Title:     raw.Title,
		Content:   text,
		WordCount: wc,
	}
}

// CleanAll cleans each document independently. Output order matches input
// order minus dropped entries.
func (c *Cleaner) CleanAll(raws []docs.Document) []docs.CleanDocument {
	out := make([]docs.CleanDocument, 0, len(raws))
	for _, raw := range raws {
		if cleaned := c.Clean(raw); cleaned != nil {
			out = append(out, *cleaned)
		}
	}
	return out
}
