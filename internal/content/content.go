// Package content holds the narratable projection of a devotional item and
// the pure functions derived from it: the content fingerprint and the
// narration script.
package content

import (
	"context"
	"time"
)

// Item is the narratable projection of a devotional. Missing fields are empty strings.
type Item struct {
	ID                 int64  `json:"id" yaml:"id" validate:"required,gt=0"`
	Title              string `json:"title" yaml:"title"`
	ScriptureRef       string `json:"scripture_ref" yaml:"scripture_ref"`
	ScripturePassage   string `json:"scripture_passage" yaml:"scripture_passage"`
	Teaching           string `json:"teaching" yaml:"teaching"`
	ReflectionQuestion string `json:"reflection_question" yaml:"reflection_question"`
	ActionStep         string `json:"action_step" yaml:"action_step"`
	Prayer             string `json:"prayer" yaml:"prayer"`
}

// AudioMetadata describes the narration artifact currently attached to an item.
type AudioMetadata struct {
	ContentID     int64     `json:"content_id" validate:"required,gt=0"`
	ContentHash   string    `json:"content_hash" validate:"required,len=16,hexadecimal,lowercase"`
	GeneratedAt   time.Time `json:"generated_at" validate:"required"`
	FileSizeBytes int64     `json:"file_size_bytes" validate:"gt=0"`
	StoragePath   string    `json:"storage_path" validate:"required"`
	PublicURL     string    `json:"public_url" validate:"required"`
	Voice         string    `json:"voice,omitempty"`
}

// Current reports whether md was generated from the item's present content.
func (md AudioMetadata) Current(it Item) bool {
	return md.ContentHash == Fingerprint(it)
}

// Repository is the narrow view of the content store the audio pipeline needs.
type Repository interface {
	ListAll(ctx context.Context) ([]Item, error)
	Get(ctx context.Context, id int64) (Item, bool, error)
	ArtifactMetadata(ctx context.Context, id int64) (AudioMetadata, bool, error)
	SaveArtifactMetadata(ctx context.Context, id int64, md AudioMetadata) error
	ClearArtifactMetadata(ctx context.Context, id int64) error
}
