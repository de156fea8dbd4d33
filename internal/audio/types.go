// Package audio keeps narration artifacts in sync with devotional content.
//
// An item's artifact is current when the fingerprint recorded in its metadata
// equals the fingerprint of the item's present text. Generation is skipped
// for current items unless forced; everything else composes a script,
// synthesizes it, stores the MP3 at a content-addressed path and records new
// metadata.
package audio

import (
	"errors"
	"fmt"
	"time"

	"narrator/internal/content"
)

var (
	ErrContentNotFound     = errors.New("content not found")
	ErrNoNarratableContent = errors.New("no narratable content")
	ErrGenerationFailed    = errors.New("audio generation failed")
	// ErrBatchInProgress is returned when another batch operation holds the pipeline.
	ErrBatchInProgress = errors.New("audio batch already in progress")
)

// GenerationError wraps the cause of a failed generation. It matches both
// ErrGenerationFailed and the cause under errors.Is.
type GenerationError struct {
	ContentID int64
	Stage     string
	Err       error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("audio: item %d: %s: %v", e.ContentID, e.Stage, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

func (e *GenerationError) Is(target error) bool { return target == ErrGenerationFailed }

type GenerateOptions struct {
	Force bool
}

type BatchOptions struct {
	Force bool
	// Concurrency bounds in-flight generations. 0 uses the pipeline default.
	Concurrency int
}

// Result is the outcome for one item.
type Result struct {
	ContentID int64                  `json:"content_id"`
	Skipped   bool                   `json:"skipped"`
	Metadata  *content.AudioMetadata `json:"metadata,omitempty"`
	Err       error                  `json:"-"`
}

func (r Result) OK() bool { return r.Err == nil }

// ErrorString is the error text or "".
func (r Result) ErrorString() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

type BatchReport struct {
	ID         string        `json:"id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Total      int           `json:"total"`
	Succeeded  int           `json:"succeeded"`
	Skipped    int           `json:"skipped"`
	Failed     int           `json:"failed"`
	Ignored    int           `json:"ignored"` // items without narratable content
	Results    []Result      `json:"results"`
}

func (r BatchReport) Took() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

type ItemState string

const (
	StateGenerated ItemState = "generated"
	StateOutdated  ItemState = "outdated"
	StatePending   ItemState = "pending"
)

type ItemStatus struct {
	ContentID   int64      `json:"content_id"`
	Title       string     `json:"title"`
	State       ItemState  `json:"state"`
	CurrentHash string     `json:"current_hash"`
	StoredHash  string     `json:"stored_hash,omitempty"`
	GeneratedAt *time.Time `json:"generated_at,omitempty"`
	PublicURL   string     `json:"public_url,omitempty"`
	SizeBytes   int64      `json:"size_bytes,omitempty"`
}

type StatusReport struct {
	Total     int          `json:"total"`
	Generated int          `json:"generated"`
	Pending   int          `json:"pending"`
	Outdated  int          `json:"outdated"`
	Ignored   int          `json:"ignored"`
	Items     []ItemStatus `json:"items"`
}

type PurgeError struct {
	ContentID int64  `json:"content_id"`
	Error     string `json:"error"`
}

type PurgeReport struct {
	Deleted int          `json:"deleted"`
	Errors  []PurgeError `json:"errors"`
}

// GenerationEvent is published for every generated or failed item.
type GenerationEvent struct {
	ContentID int64         `json:"content_id"`
	Hash      string        `json:"hash"`
	Voice     string        `json:"voice,omitempty"`
	Bytes     int64         `json:"bytes,omitempty"`
	Took      time.Duration `json:"took"`
	Error     string        `json:"error,omitempty"`
}
