package analyzer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/docsift/docsift/internal/docs"
)

// ErrMalformed reports a backend response that could not be turned into an
// Evaluation. The raw text travels with the error for retry logging.
var ErrMalformed = errors.New("analyzer: malformed evaluation response")

// defaultScore fills in when the backend omits the score field; the midpoint
// is neutral under the later rank normalization.
const defaultScore = 50

// rawEvaluation tolerates the field shapes the backend actually emits:
// strengths/weaknesses as either strings or lists, score possibly missing.
type rawEvaluation struct {
	Summary    string          `json:"summary"`
	Strengths  json.RawMessage `json:"strengths"`
	Weaknesses json.RawMessage `json:"weaknesses"`
	Score      *int            `json:"score"`
}

// parseEvaluation decodes the backend's JSON response into an Evaluation.
// List-valued strengths/weaknesses are flattened into bulleted text and a
// missing score defaults to the midpoint; anything else out of shape yields
// ErrMalformed carrying the raw text.
func parseEvaluation(raw string) (docs.Evaluation, error) {
	var parsed rawEvaluation
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return docs.Evaluation{}, fmt.Errorf("%w: %v: %q", ErrMalformed, err, snippet(raw))
	}

	strengths, err := flattenField(parsed.Strengths)
	if err != nil {
		return docs.Evaluation{}, fmt.Errorf("%w: strengths: %v: %q", ErrMalformed, err, snippet(raw))
	}
	weaknesses, err := flattenField(parsed.Weaknesses)
	if err != nil {
		return docs.Evaluation{}, fmt.Errorf("%w: weaknesses: %v: %q", ErrMalformed, err, snippet(raw))
	}

	score := defaultScore
	if parsed.Score != nil {
		score = *parsed.Score
	}

	eval := docs.Evaluation{
		Summary:    strings.TrimSpace(parsed.Summary),
		Strengths:  strengths,
		Weaknesses: weaknesses,
		Score:      score,
	}
	if eval.Summary == "" || eval.Strengths == "" || eval.Weaknesses == "" {
		return docs.Evaluation{}, fmt.Errorf("%w: empty required field: %q", ErrMalformed, snippet(raw))
	}
	if eval.Score < 0 || eval.Score > 100 {
		return docs.Evaluation{}, fmt.Errorf("%w: score %d out of range: %q", ErrMalformed, eval.Score, snippet(raw))
	}
	return eval, nil
}

// flattenField accepts a string or a list of strings, rendering lists as
// "- item" bullets joined by newlines.
func flattenField(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return strings.TrimSpace(asString), nil
	}
	var asList []any
	if err := json.Unmarshal(raw, &asList); err != nil {
		return "", fmt.Errorf("neither string nor list")
	}
	bullets := make([]string, 0, len(asList))
	for _, item := range asList {
		bullets = append(bullets, fmt.Sprintf("- %v", item))
	}
	return strings.Join(bullets, "\n"), nil
}

const snippetLen = 200

func snippet(raw string) string {
	runes := []rune(raw)
	if len(runes) <= snippetLen {
		return raw
	}
	return string(runes[:snippetLen]) + "..."
}
