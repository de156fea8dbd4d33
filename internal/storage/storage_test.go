package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"narrator/internal/content"
	logx "narrator/pkg/logx"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "narrator.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func item(id int64) content.Item {
	return content.Item{ID: id, Title: "Day", Teaching: "Be still.", Prayer: "Amen."}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "mysql"}, logx.Nop())
	require.Error(t, err)
}

func TestOpenIsRepeatable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "narrator.db")
	for i := 0; i < 2; i++ {
		db, err := Open(context.Background(), Config{Path: path}, logx.Nop())
		require.NoError(t, err)
		require.NoError(t, db.Ping(context.Background()))
		require.NoError(t, db.Close())
	}
}

func TestUpsertGetList(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	require.NoError(t, db.UpsertItem(ctx, item(2)))
	require.NoError(t, db.UpsertItem(ctx, item(1)))

	updated := item(2)
	updated.Teaching = "Be still and know."
	require.NoError(t, db.UpsertItem(ctx, updated))

	got, ok, err := db.Get(ctx, 2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, updated, got)

	_, ok, err = db.Get(ctx, 99)
	require.NoError(t, err)
	assert.False(t, ok)

	all, err := db.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.EqualValues(t, 1, all[0].ID)
	assert.EqualValues(t, 2, all[1].ID)

	assert.Error(t, db.UpsertItem(ctx, content.Item{}), "id is required")
}

func TestArtifactMetadataLifecycle(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	it := item(5)
	require.NoError(t, db.UpsertItem(ctx, it))

	_, ok, err := db.ArtifactMetadata(ctx, 5)
	require.NoError(t, err)
	assert.False(t, ok)

	md := content.AudioMetadata{
		ContentID:     5,
		ContentHash:   content.Fingerprint(it),
		GeneratedAt:   time.Date(2026, 1, 19, 10, 0, 0, 123, time.UTC),
		FileSizeBytes: 2048,
		StoragePath:   "public/audio/item-5-" + content.Fingerprint(it) + ".mp3",
		PublicURL:     "https://example.org/media/public/audio/item-5.mp3",
		Voice:         "nova",
	}
	require.NoError(t, db.SaveArtifactMetadata(ctx, 5, md))

	got, ok, err := db.ArtifactMetadata(ctx, 5)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, md.GeneratedAt.Equal(got.GeneratedAt))
	got.GeneratedAt = md.GeneratedAt
	assert.Equal(t, md, got)

	// Editing content keeps the metadata; it is now outdated.
	edited := it
	edited.Teaching = "Changed."
	require.NoError(t, db.UpsertItem(ctx, edited))
	got, ok, err = db.ArtifactMetadata(ctx, 5)
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, got.Current(edited))

	require.NoError(t, db.ClearArtifactMetadata(ctx, 5))
	_, ok, err = db.ArtifactMetadata(ctx, 5)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSaveArtifactMetadataValidates(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	require.NoError(t, db.UpsertItem(ctx, item(1)))

	valid := content.AudioMetadata{
		ContentID:     1,
		ContentHash:   "0123456789abcdef",
		GeneratedAt:   time.Now(),
		FileSizeBytes: 1,
		StoragePath:   "p",
		PublicURL:     "u",
	}
	tests := []struct {
		name   string
		id     int64
		mutate func(*content.AudioMetadata)
	}{
		{name: "short hash", id: 1, mutate: func(m *content.AudioMetadata) { m.ContentHash = "abc" }},
		{name: "uppercase hash", id: 1, mutate: func(m *content.AudioMetadata) { m.ContentHash = "0123456789ABCDEF" }},
		{name: "no path", id: 1, mutate: func(m *content.AudioMetadata) { m.StoragePath = "" }},
		{name: "zero size", id: 1, mutate: func(m *content.AudioMetadata) { m.FileSizeBytes = 0 }},
		{name: "id mismatch", id: 2, mutate: func(m *content.AudioMetadata) {}},
		{name: "unknown item", id: 3, mutate: func(m *content.AudioMetadata) { m.ContentID = 3 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			md := valid
			tt.mutate(&md)
			assert.Error(t, db.SaveArtifactMetadata(ctx, tt.id, md))
		})
	}
	require.NoError(t, db.SaveArtifactMetadata(ctx, 1, valid))
}

func TestAudit(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	base := time.Date(2026, 1, 19, 10, 0, 0, 0, time.UTC)

	require.NoError(t, db.AppendAudit(ctx, AuditEntry{At: base, Kind: "job.finished", Target: "nightly", OK: 1, TookMS: 12}))
	require.NoError(t, db.AppendAudit(ctx, AuditEntry{At: base.Add(time.Minute), Kind: "job.failed", Target: "nightly", Fail: 1, Error: "boom"}))

	entries, err := db.RecentAudit(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "job.failed", entries[0].Kind)
	assert.Equal(t, "boom", entries[0].Error)
	assert.True(t, entries[1].At.Equal(base))

	n, err := db.PruneAudit(ctx, base.Add(30*time.Second))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestRecentAuditRejectsCorruptTimestamp(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	_, err := db.db.ExecContext(ctx, `INSERT INTO audit(at, kind, target, ok, fail, took_ms) VALUES('yesterday', 'job.finished', 'nightly', 1, 0, 5)`)
	require.NoError(t, err)

	_, err = db.RecentAudit(ctx, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "yesterday")
}

func TestRebind(t *testing.T) {
	pg := &DB{dialect: dialectPostgres}
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", pg.rebind("SELECT * FROM t WHERE a = ? AND b = ?"))
	lite := &DB{dialect: dialectSQLite}
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}
