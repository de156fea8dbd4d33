package app

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"narrator/internal/audio"
	"narrator/internal/eventbus"
	"narrator/internal/storage"
	"narrator/internal/task/scheduler"
	logx "narrator/pkg/logx"
)

type auditAppender interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

// auditPrefixes are the event types worth keeping. Successful per-item
// generations are left out; the batch summary covers them.
var auditPrefixes = []string{
	eventbus.JobFinished,
	eventbus.JobFailed,
	eventbus.AudioFailed,
	eventbus.AudioBatchDone,
	eventbus.AudioPurged,
	eventbus.AudioRegenerated,
}

// recordAudit drains bus events into the audit table until ctx is done.
func recordAudit(ctx context.Context, bus eventbus.Bus, db auditAppender, log logx.Logger) {
	events, unsub := bus.Subscribe(256, auditPrefixes...)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			entry, keep := auditEntryFor(e)
			if !keep {
				continue
			}
			wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			if err := db.AppendAudit(wctx, entry); err != nil {
				log.Warn("audit write failed", logx.String("kind", entry.Kind), logx.Err(err))
			}
			cancel()
		}
	}
}

func auditEntryFor(e eventbus.Event) (storage.AuditEntry, bool) {
	entry := storage.AuditEntry{At: e.Time, Kind: e.Type}
	switch d := e.Data.(type) {
	case scheduler.JobEvent:
		entry.Target = d.Name
		entry.TookMS = d.Duration.Milliseconds()
		entry.Error = d.Error
		if d.Error == "" {
			entry.OK = 1
		} else {
			entry.Fail = 1
		}
		entry.Meta = metaJSON(map[string]any{"run_id": d.RunID, "manual": d.Manual})
	case audio.GenerationEvent:
		entry.Target = strconv.FormatInt(d.ContentID, 10)
		entry.Fail = 1
		entry.Error = d.Error
		entry.TookMS = d.Took.Milliseconds()
		entry.Meta = metaJSON(map[string]any{"hash": d.Hash})
	case audio.BatchSummary:
		entry.Target = d.ID
		entry.OK = d.Succeeded + d.Skipped
		entry.Fail = d.Failed
		entry.TookMS = d.Took.Milliseconds()
		entry.Meta = metaJSON(d)
	case map[string]int:
		switch e.Type {
		case eventbus.AudioPurged:
			entry.OK, entry.Fail = d["deleted"], d["errors"]
		case eventbus.AudioRegenerated:
			entry.OK, entry.Fail = d["items"]-d["failed"], d["failed"]
		}
	default:
		return storage.AuditEntry{}, false
	}
	return entry, true
}

func metaJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
