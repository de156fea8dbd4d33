package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"narrator/internal/artifact"
	"narrator/internal/audio"
	"narrator/internal/content"
	"narrator/internal/speech"
	"narrator/internal/storage"
	"narrator/internal/task/scheduler"
	logx "narrator/pkg/logx"
)

// PurgeConfirmation must be echoed back to delete every artifact.
const PurgeConfirmation = "DELETE_ALL_AUDIO"

type generateAllRequest struct {
	Force       bool `json:"force"`
	Concurrency int  `json:"concurrency" validate:"gte=0,lte=32"`
}

type purgeRequest struct {
	Confirm string `json:"confirm" validate:"required,eq=DELETE_ALL_AUDIO"`
}

type acceptedResponse struct {
	Accepted  bool   `json:"accepted"`
	Operation string `json:"operation"`
}

type itemResponse struct {
	ContentID int64                  `json:"content_id"`
	Skipped   bool                   `json:"skipped"`
	Metadata  *content.AudioMetadata `json:"metadata,omitempty"`
}

func (a *api) audioStatus(w http.ResponseWriter, r *http.Request) {
	rep, err := a.deps.Pipeline.Status(r.Context())
	if err != nil {
		a.log.Error("audio status failed", logx.Err(err))
		writeError(w, r, http.StatusInternalServerError, "status unavailable")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (a *api) generateAll(w http.ResponseWriter, r *http.Request) {
	var req generateAllRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	a.startBatch(w, r, "generate_all", func(ctx context.Context, b Batch) error {
		rep, err := b.GenerateAll(ctx, audio.BatchOptions{Force: req.Force, Concurrency: req.Concurrency})
		if err == nil {
			a.log.Info("admin batch finished",
				logx.String("batch_id", rep.ID),
				logx.Int("succeeded", rep.Succeeded),
				logx.Int("skipped", rep.Skipped),
				logx.Int("failed", rep.Failed),
			)
		}
		return err
	})
}

func (a *api) regenerateOutdated(w http.ResponseWriter, r *http.Request) {
	a.startBatch(w, r, "regenerate_outdated", func(ctx context.Context, b Batch) error {
		_, err := b.RegenerateOutdated(ctx)
		return err
	})
}

// startBatch reserves the batch slot, answers 202 and hands fn to the
// background runner. It answers 409 when another batch holds the slot.
func (a *api) startBatch(w http.ResponseWriter, r *http.Request, op string, fn func(ctx context.Context, b Batch) error) {
	b, err := a.deps.Pipeline.ReserveBatch()
	if err != nil {
		if errors.Is(err, audio.ErrBatchInProgress) {
			writeError(w, r, http.StatusConflict, err.Error())
			return
		}
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	a.deps.Async("admin."+op, func(ctx context.Context) {
		defer b.Release()
		if err := fn(ctx, b); err != nil {
			a.log.Warn("admin batch failed", logx.String("op", op), logx.Err(err))
		}
	})
	writeJSON(w, http.StatusAccepted, acceptedResponse{Accepted: true, Operation: op})
}

func (a *api) generateItem(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, http.StatusBadRequest, "id must be a positive integer")
		return
	}
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	res, err := a.deps.Pipeline.GenerateForItem(r.Context(), id, audio.GenerateOptions{Force: force})
	if err != nil {
		writeError(w, r, statusForGeneration(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, itemResponse{ContentID: res.ContentID, Skipped: res.Skipped, Metadata: res.Metadata})
}

func statusForGeneration(err error) int {
	switch {
	case errors.Is(err, audio.ErrContentNotFound):
		return http.StatusNotFound
	case errors.Is(err, audio.ErrNoNarratableContent):
		return http.StatusUnprocessableEntity
	case errors.Is(err, speech.ErrSynthesis):
		return http.StatusBadGateway
	case errors.Is(err, artifact.ErrStorage):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (a *api) purge(w http.ResponseWriter, r *http.Request) {
	var req purgeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, `body must be {"confirm":"`+PurgeConfirmation+`"}`)
		return
	}
	rep, err := a.deps.Pipeline.DeleteAll(r.Context())
	switch {
	case errors.Is(err, audio.ErrBatchInProgress):
		writeError(w, r, http.StatusConflict, err.Error())
		return
	case err != nil:
		a.log.Error("audio purge failed", logx.Err(err))
		writeError(w, r, http.StatusInternalServerError, "purge failed")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

type jobView struct {
	scheduler.JobStatus
	LastDurationMS int64 `json:"last_duration_ms"`
}

func (a *api) listJobs(w http.ResponseWriter, r *http.Request) {
	st := a.deps.Jobs.Status()
	out := make([]jobView, 0, len(st))
	for _, s := range st {
		out = append(out, jobView{JobStatus: s, LastDurationMS: s.LastDuration.Milliseconds()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) runJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	// ?wait=30s blocks until the run finishes or the wait expires.
	var wait time.Duration
	if raw := r.URL.Query().Get("wait"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeError(w, r, http.StatusBadRequest, "wait must be a positive duration")
			return
		}
		wait = d
	}

	done, err := a.deps.Jobs.RunNow(name)
	switch {
	case errors.Is(err, scheduler.ErrJobNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, scheduler.ErrJobAlreadyRunning):
		writeError(w, r, http.StatusConflict, err.Error())
		return
	case err != nil:
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	if wait > 0 {
		select {
		case runErr := <-done:
			body := map[string]any{"job": name, "finished": true}
			if runErr != nil {
				body["error"] = runErr.Error()
			}
			writeJSON(w, http.StatusOK, body)
			return
		case <-time.After(wait):
		case <-r.Context().Done():
			return
		}
	}
	writeJSON(w, http.StatusAccepted, acceptedResponse{Accepted: true, Operation: "job:" + name})
}

func (a *api) healthz(w http.ResponseWriter, r *http.Request) {
	if a.deps.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.deps.Store.Ping(ctx); err != nil {
			a.log.Warn("health check failed", logx.Err(err))
			writeError(w, r, http.StatusServiceUnavailable, "storage unavailable")
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

// listAudit returns recent audit entries, newest first. ?limit caps the
// count at 500.
func (a *api) listAudit(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, r, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, 500)
	}
	entries, err := a.deps.Store.RecentAudit(r.Context(), limit)
	if err != nil {
		a.log.Warn("audit listing failed", logx.Err(err))
		writeError(w, r, http.StatusInternalServerError, "audit unavailable")
		return
	}
	if entries == nil {
		entries = []storage.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
