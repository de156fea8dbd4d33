package storage

import (
	"context"
	"fmt"
	"time"
)

func (s *DB) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO audit(at, kind, target, ok, fail, err, took_ms, meta) VALUES(?,?,?,?,?,?,?,?)`),
		e.At.UTC().Format(tsLayout), e.Kind, e.Target, e.OK, e.Fail, nullStr(e.Error), e.TookMS, nullStr(e.Meta),
	)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

// RecentAudit returns up to limit entries, newest first.
func (s *DB) RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT at, kind, target, ok, fail, COALESCE(err, ''), took_ms, COALESCE(meta, '')
		 FROM audit ORDER BY at DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var (
			e  AuditEntry
			at string
		)
		if err := rows.Scan(&at, &e.Kind, &e.Target, &e.OK, &e.Fail, &e.Error, &e.TookMS, &e.Meta); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("audit timestamp %q: %w", at, err)
		}
		e.At = ts
		out = append(out, e)
	}
	return out, rows.Err()
}

// PruneAudit deletes entries older than cutoff.
func (s *DB) PruneAudit(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM audit WHERE at < ?`), cutoff.UTC().Format(tsLayout))
	if err != nil {
		return 0, fmt.Errorf("prune audit: %w", err)
	}
	return res.RowsAffected()
}
