package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"narrator/internal/content"
)

var _ content.Repository = (*DB)(nil)

const itemColumns = `id, title, scripture_ref, scripture_passage, teaching, reflection_question, action_step, prayer`

func scanItem(row interface{ Scan(...any) error }) (content.Item, error) {
	var it content.Item
	err := row.Scan(&it.ID, &it.Title, &it.ScriptureRef, &it.ScripturePassage, &it.Teaching,
		&it.ReflectionQuestion, &it.ActionStep, &it.Prayer)
	return it, err
}

// ListAll returns every item ordered by id.
func (s *DB) ListAll(ctx context.Context) ([]content.Item, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+itemColumns+` FROM devotionals ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list devotionals: %w", err)
	}
	defer rows.Close()

	var out []content.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan devotional: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *DB) Get(ctx context.Context, id int64) (content.Item, bool, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+itemColumns+` FROM devotionals WHERE id = ?`), id)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return content.Item{}, false, nil
	}
	if err != nil {
		return content.Item{}, false, fmt.Errorf("get devotional %d: %w", id, err)
	}
	return it, true, nil
}

// UpsertItem inserts or replaces the narratable fields of an item. Audio
// metadata is left untouched so an edit makes the artifact outdated.
func (s *DB) UpsertItem(ctx context.Context, it content.Item) error {
	if err := s.validate.Struct(it); err != nil {
		return fmt.Errorf("invalid devotional: %w", err)
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO devotionals(`+itemColumns+`, updated_at) VALUES(?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   title=excluded.title,
		   scripture_ref=excluded.scripture_ref,
		   scripture_passage=excluded.scripture_passage,
		   teaching=excluded.teaching,
		   reflection_question=excluded.reflection_question,
		   action_step=excluded.action_step,
		   prayer=excluded.prayer,
		   updated_at=excluded.updated_at`),
		it.ID, it.Title, it.ScriptureRef, it.ScripturePassage, it.Teaching,
		it.ReflectionQuestion, it.ActionStep, it.Prayer, time.Now().UTC().Format(tsLayout),
	)
	if err != nil {
		return fmt.Errorf("upsert devotional %d: %w", it.ID, err)
	}
	return nil
}

func (s *DB) ArtifactMetadata(ctx context.Context, id int64) (content.AudioMetadata, bool, error) {
	var (
		hash, generatedAt, path, url, voice sql.NullString
		size                                sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT audio_content_hash, audio_generated_at, audio_file_size_bytes, audio_storage_path, audio_public_url, audio_voice
		 FROM devotionals WHERE id = ?`), id,
	).Scan(&hash, &generatedAt, &size, &path, &url, &voice)
	if errors.Is(err, sql.ErrNoRows) {
		return content.AudioMetadata{}, false, nil
	}
	if err != nil {
		return content.AudioMetadata{}, false, fmt.Errorf("get audio metadata %d: %w", id, err)
	}
	if !hash.Valid || hash.String == "" {
		return content.AudioMetadata{}, false, nil
	}
	at, err := time.Parse(time.RFC3339Nano, generatedAt.String)
	if err != nil {
		return content.AudioMetadata{}, false, fmt.Errorf("audio metadata %d: generated_at: %w", id, err)
	}
	return content.AudioMetadata{
		ContentID:     id,
		ContentHash:   hash.String,
		GeneratedAt:   at,
		FileSizeBytes: size.Int64,
		StoragePath:   path.String,
		PublicURL:     url.String,
		Voice:         voice.String,
	}, true, nil
}

// SaveArtifactMetadata validates md and attaches it to item id.
func (s *DB) SaveArtifactMetadata(ctx context.Context, id int64, md content.AudioMetadata) error {
	if md.ContentID != id {
		return fmt.Errorf("audio metadata content id %d does not match item %d", md.ContentID, id)
	}
	if err := s.validate.Struct(md); err != nil {
		return fmt.Errorf("invalid audio metadata: %w", err)
	}
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE devotionals SET
		   audio_content_hash = ?,
		   audio_generated_at = ?,
		   audio_file_size_bytes = ?,
		   audio_storage_path = ?,
		   audio_public_url = ?,
		   audio_voice = ?
		 WHERE id = ?`),
		md.ContentHash, md.GeneratedAt.UTC().Format(tsLayout), md.FileSizeBytes,
		md.StoragePath, md.PublicURL, nullStr(md.Voice), id,
	)
	if err != nil {
		return fmt.Errorf("save audio metadata %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("save audio metadata: devotional %d not found", id)
	}
	return nil
}

func (s *DB) ClearArtifactMetadata(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE devotionals SET
		   audio_content_hash = NULL,
		   audio_generated_at = NULL,
		   audio_file_size_bytes = NULL,
		   audio_storage_path = NULL,
		   audio_public_url = NULL,
		   audio_voice = NULL
		 WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("clear audio metadata %d: %w", id, err)
	}
	return nil
}
