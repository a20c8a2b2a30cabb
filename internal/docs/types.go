// Package docs defines the entities flowing through the ingest pipeline.
package docs

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Document is a raw page as fetched: extracted visible text, not markup.
// Immutable once stored; superseded only by a re-fetch under the same ID.
type Document struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	FetchedAt time.Time `json:"fetched_at"`
}

// CleanDocument is a Document after normalization and truncation.
type CleanDocument struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	WordCount int    `json:"word_count"`
}

// Evaluation is the structured verdict returned by the scoring backend.
// After normalization Score is a percentile rank within its batch, not an
// absolute rating.
type Evaluation struct {
	Summary    string `json:"summary"`
	Strengths  string `json:"strengths"`
	Weaknesses string `json:"weaknesses"`
	Score      int    `json:"score"`
}

// ScoredDocument pairs a clean document with its evaluation.
type ScoredDocument struct {
	CleanDocument
	Analysis Evaluation `json:"analysis"`
}

// ScrapeStats counts the outcomes of one scrape run.
type ScrapeStats struct {
	Discovered int `json:"discovered"`
	Fetched    int `json:"fetched"`
	Skipped    int `json:"skipped"`
	Errors     int `json:"errors"`
}

// ScoreStats counts the outcomes of one scoring run.
type ScoreStats struct {
	Analyzed int `json:"analyzed"`
	Skipped  int `json:"skipped"`
	Errors   int `json:"errors"`
}

// IDLength is the number of hex characters kept from the URL hash.
const IDLength = 16

// IDFromURL derives a stable document identity from a source URL, so
// re-scraping the same URL always maps to the same record.
func IDFromURL(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])[:IDLength]
}
