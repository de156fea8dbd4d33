package httpapi

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"narrator/internal/artifact"
	"narrator/internal/audio"
	"narrator/internal/runtime/supervisor"
	"narrator/internal/storage"
	"narrator/internal/task/scheduler"
	logx "narrator/pkg/logx"
)

// Pipeline is the part of audio.Pipeline the admin surface drives.
type Pipeline interface {
	Status(ctx context.Context) (audio.StatusReport, error)
	GenerateForItem(ctx context.Context, id int64, opts audio.GenerateOptions) (audio.Result, error)
	DeleteAll(ctx context.Context) (audio.PurgeReport, error)
	// ReserveBatch takes the batch slot before a 202 is sent, so a second
	// trigger is refused with 409 instead of failing in the background.
	ReserveBatch() (Batch, error)
}

// Batch is a reserved slot; one operation runs on it, or Release frees it.
type Batch interface {
	GenerateAll(ctx context.Context, opts audio.BatchOptions) (audio.BatchReport, error)
	RegenerateOutdated(ctx context.Context) ([]audio.Result, error)
	Release()
}

// Jobs is the part of scheduler.Scheduler exposed to operators.
type Jobs interface {
	Status() []scheduler.JobStatus
	RunNow(name string) (<-chan error, error)
}

// Media reads stored artifacts for the public media route.
type Media interface {
	Read(ctx context.Context, path string) (artifact.Object, error)
}

// Store backs health checks and the audit listing.
type Store interface {
	Ping(ctx context.Context) error
	RecentAudit(ctx context.Context, limit int) ([]storage.AuditEntry, error)
}

// Runtime reports supervised goroutines.
type Runtime interface {
	Snapshot() supervisor.Snapshot
}

// Deps are the collaborators of the router. Media may be nil when artifacts
// are served by an external host (e.g. a bucket behind a CDN).
type Deps struct {
	Pipeline Pipeline
	Jobs     Jobs
	Media    Media
	Store    Store
	Runtime  Runtime
	Log      logx.Logger

	// Async runs accepted batch work in the background. Defaults to a bare
	// goroutine on context.Background().
	Async func(name string, fn func(ctx context.Context))
}

type Options struct {
	AdminToken string
	MediaPath  string
	Pprof      bool
}

type api struct {
	deps Deps
	log  logx.Logger
}

// NewRouter builds the HTTP surface: /healthz, the media route and, when an
// admin token is set, the /admin API.
func NewRouter(deps Deps, opts Options) http.Handler {
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	if deps.Async == nil {
		deps.Async = func(_ string, fn func(ctx context.Context)) { go fn(context.Background()) }
	}
	a := &api{deps: deps, log: deps.Log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(a.accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", a.healthz)

	if deps.Media != nil {
		mp := normalizeMediaPath(opts.MediaPath)
		r.Get(mp+"/*", a.serveMedia)
		r.Head(mp+"/*", a.serveMedia)
	}

	token := strings.TrimSpace(opts.AdminToken)
	if token == "" {
		a.log.Warn("admin api disabled: no admin token configured")
		return r
	}

	r.Route("/admin", func(r chi.Router) {
		r.Use(bearer(token))
		if opts.Pprof {
			r.Mount("/debug", middleware.Profiler())
		}
		r.Route("/audio", func(r chi.Router) {
			r.Get("/status", a.audioStatus)
			r.Post("/generate", a.generateAll)
			r.Post("/items/{id}/generate", a.generateItem)
			r.Post("/regenerate-outdated", a.regenerateOutdated)
			r.Delete("/", a.purge)
		})
		r.Get("/jobs", a.listJobs)
		r.Post("/jobs/{name}/run", a.runJob)
		if deps.Store != nil {
			r.Get("/audit", a.listAudit)
		}
		if deps.Runtime != nil {
			r.Get("/runtime", func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusOK, deps.Runtime.Snapshot())
			})
		}
	})
	return r
}

func normalizeMediaPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		p = "/media"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return strings.TrimSuffix(p, "/")
}

// bearer accepts "Authorization: Bearer <token>" only.
func bearer(token string) func(http.Handler) http.Handler {
	want := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const p = "Bearer "
			ah := r.Header.Get("Authorization")
			if !strings.HasPrefix(ah, p) ||
				subtle.ConstantTimeCompare([]byte(strings.TrimSpace(ah[len(p):])), want) != 1 {
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeError(w, r, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (a *api) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		t0 := time.Now()
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		fields := []logx.Field{
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", status),
			logx.Int("bytes", ww.BytesWritten()),
			logx.Duration("took", time.Since(t0)),
			logx.String("request_id", middleware.GetReqID(r.Context())),
		}
		if status >= 500 {
			a.log.Warn("http request", fields...)
			return
		}
		a.log.Debug("http request", fields...)
	})
}
