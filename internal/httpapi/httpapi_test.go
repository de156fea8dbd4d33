package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"narrator/internal/artifact"
	"narrator/internal/audio"
	"narrator/internal/content"
	"narrator/internal/runtime/supervisor"
	"narrator/internal/speech"
	"narrator/internal/storage"
	"narrator/internal/task/scheduler"
	logx "narrator/pkg/logx"
)

const token = "s3cret"

type fakePipeline struct {
	mu       sync.Mutex
	running  bool
	batches  []string
	lastOpts audio.BatchOptions
	itemErr  error
	purged   int
	purgeErr error
}

func (p *fakePipeline) Status(ctx context.Context) (audio.StatusReport, error) {
	return audio.StatusReport{Total: 2, Generated: 1, Pending: 1}, nil
}

func (p *fakePipeline) GenerateForItem(ctx context.Context, id int64, opts audio.GenerateOptions) (audio.Result, error) {
	if p.itemErr != nil {
		return audio.Result{ContentID: id}, &audio.GenerationError{ContentID: id, Stage: "test", Err: p.itemErr}
	}
	return audio.Result{ContentID: id, Skipped: !opts.Force, Metadata: &content.AudioMetadata{ContentID: id, ContentHash: "0123456789abcdef"}}, nil
}

func (p *fakePipeline) DeleteAll(ctx context.Context) (audio.PurgeReport, error) {
	if p.purgeErr != nil {
		return audio.PurgeReport{}, p.purgeErr
	}
	p.purged++
	return audio.PurgeReport{Deleted: 2}, nil
}

func (p *fakePipeline) ReserveBatch() (Batch, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil, audio.ErrBatchInProgress
	}
	p.running = true
	return &fakeBatch{p: p}, nil
}

type fakeBatch struct {
	p    *fakePipeline
	once sync.Once
}

func (b *fakeBatch) GenerateAll(ctx context.Context, opts audio.BatchOptions) (audio.BatchReport, error) {
	defer b.Release()
	b.p.mu.Lock()
	defer b.p.mu.Unlock()
	b.p.batches = append(b.p.batches, "generate_all")
	b.p.lastOpts = opts
	return audio.BatchReport{ID: "b1"}, nil
}

func (b *fakeBatch) RegenerateOutdated(ctx context.Context) ([]audio.Result, error) {
	defer b.Release()
	b.p.mu.Lock()
	defer b.p.mu.Unlock()
	b.p.batches = append(b.p.batches, "regenerate_outdated")
	return nil, nil
}

func (b *fakeBatch) Release() {
	b.once.Do(func() {
		b.p.mu.Lock()
		b.p.running = false
		b.p.mu.Unlock()
	})
}

type fakeJobs struct {
	running map[string]bool
	runs    []string
}

func (j *fakeJobs) Status() []scheduler.JobStatus {
	return []scheduler.JobStatus{{Name: "nightly", Spec: "0 3 * * *", State: scheduler.StateArmed, LastDuration: 1500 * time.Millisecond}}
}

func (j *fakeJobs) RunNow(name string) (<-chan error, error) {
	if name != "nightly" {
		return nil, fmt.Errorf("%w: %s", scheduler.ErrJobNotFound, name)
	}
	if j.running[name] {
		return nil, fmt.Errorf("%w: %s", scheduler.ErrJobAlreadyRunning, name)
	}
	j.runs = append(j.runs, name)
	ch := make(chan error, 1)
	ch <- nil
	close(ch)
	return ch, nil
}

type fakeStore struct {
	pingErr error
	limit   int
}

func (s *fakeStore) Ping(ctx context.Context) error { return s.pingErr }

func (s *fakeStore) RecentAudit(ctx context.Context, limit int) ([]storage.AuditEntry, error) {
	s.limit = limit
	return []storage.AuditEntry{{Kind: "job.finished", Target: "nightly", OK: 1}}, nil
}

type fakeRuntime struct{}

func (fakeRuntime) Snapshot() supervisor.Snapshot {
	return supervisor.Snapshot{Goroutines: []supervisor.GoroutineStats{{Name: "http.serve", Active: 1, Started: 1}}}
}

type fakeMedia map[string][]byte

func (m fakeMedia) Read(ctx context.Context, key string) (artifact.Object, error) {
	b, ok := m[key]
	if !ok {
		return artifact.Object{}, &artifact.StorageError{Op: "read", Path: key, Err: artifact.ErrNotFound}
	}
	return artifact.Object{Data: b, ContentType: artifact.ContentTypeMP3, ModTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}, nil
}

type fixture struct {
	pipe  *fakePipeline
	jobs  *fakeJobs
	store *fakeStore
	srv   *httptest.Server
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{pipe: &fakePipeline{}, jobs: &fakeJobs{running: map[string]bool{}}, store: &fakeStore{}}
	media := fakeMedia{
		"public/audio/item-1-0123456789abcdef.mp3": []byte("ID3-audio-bytes"),
		"public/audio/item-1.mp3":                  []byte("ID3-legacy"),
	}
	h := NewRouter(Deps{
		Pipeline: f.pipe,
		Jobs:     f.jobs,
		Media:    media,
		Store:    f.store,
		Runtime:  fakeRuntime{},
		Log:      logx.Nop(),
		// Run accepted work inline so assertions see its effect.
		Async: func(_ string, fn func(ctx context.Context)) { fn(context.Background()) },
	}, opts)
	f.srv = httptest.NewServer(h)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string, auth bool) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	require.NoError(t, err)
	if auth {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, Options{AdminToken: token})
	resp := f.do(t, http.MethodGet, "/healthz", "", false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMediaServesWithImmutableCaching(t *testing.T) {
	f := newFixture(t, Options{AdminToken: token, MediaPath: "/media"})

	resp := f.do(t, http.MethodGet, "/media/public/audio/item-1-0123456789abcdef.mp3", "", false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "audio/mpeg", resp.Header.Get("Content-Type"))
	assert.Equal(t, "public, max-age=31536000", resp.Header.Get("Cache-Control"))
	b, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "ID3-audio-bytes", string(b))

	missing := f.do(t, http.MethodGet, "/media/public/audio/item-9.mp3", "", false)
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestMediaRejectsUnhashedKeys(t *testing.T) {
	f := newFixture(t, Options{})
	for _, p := range []string{"/media/public/audio/item-1.mp3", "/media/public/audio/notes.txt", "/media/"} {
		resp := f.do(t, http.MethodGet, p, "", false)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, p)
	}
}

func TestMediaRange(t *testing.T) {
	f := newFixture(t, Options{})
	req, err := http.NewRequest(http.MethodGet, f.srv.URL+"/media/public/audio/item-1-0123456789abcdef.mp3", nil)
	require.NoError(t, err)
	req.Header.Set("Range", "bytes=0-2")
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusPartialContent, resp.StatusCode)
	b, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "ID3", string(b))
}

func TestAdminRequiresBearer(t *testing.T) {
	f := newFixture(t, Options{AdminToken: token})
	resp := f.do(t, http.MethodGet, "/admin/audio/status", "", false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Bearer", resp.Header.Get("WWW-Authenticate"))

	ok := f.do(t, http.MethodGet, "/admin/audio/status", "", true)
	require.Equal(t, http.StatusOK, ok.StatusCode)
	rep := decode[audio.StatusReport](t, ok)
	assert.Equal(t, 2, rep.Total)
}

func TestAdminDisabledWithoutToken(t *testing.T) {
	f := newFixture(t, Options{})
	resp := f.do(t, http.MethodGet, "/admin/audio/status", "", true)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGenerateAllAccepted(t *testing.T) {
	f := newFixture(t, Options{AdminToken: token})
	resp := f.do(t, http.MethodPost, "/admin/audio/generate", `{"force":true,"concurrency":2}`, true)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, []string{"generate_all"}, f.pipe.batches)
	assert.Equal(t, audio.BatchOptions{Force: true, Concurrency: 2}, f.pipe.lastOpts)
}

func TestSecondTriggerConflictsBeforeFirstRuns(t *testing.T) {
	pipe := &fakePipeline{}
	var pending []func(ctx context.Context)
	h := NewRouter(Deps{
		Pipeline: pipe,
		Jobs:     &fakeJobs{running: map[string]bool{}},
		Log:      logx.Nop(),
		Async:    func(_ string, fn func(ctx context.Context)) { pending = append(pending, fn) },
	}, Options{AdminToken: token})

	post := func(path string) int {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusAccepted, post("/admin/audio/generate"))
	assert.Equal(t, http.StatusConflict, post("/admin/audio/generate"))
	assert.Equal(t, http.StatusConflict, post("/admin/audio/regenerate-outdated"))

	require.Len(t, pending, 1)
	pending[0](context.Background())
	assert.Equal(t, []string{"generate_all"}, pipe.batches)
	assert.Equal(t, http.StatusAccepted, post("/admin/audio/regenerate-outdated"))
}

func TestGenerateAllRejectsBadBody(t *testing.T) {
	f := newFixture(t, Options{AdminToken: token})
	resp := f.do(t, http.MethodPost, "/admin/audio/generate", `{"concurrency":100}`, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = f.do(t, http.MethodPost, "/admin/audio/generate", `{"nope":1}`, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, f.pipe.batches)
}

func TestBatchConflict(t *testing.T) {
	f := newFixture(t, Options{AdminToken: token})
	f.pipe.running = true
	for _, p := range []string{"/admin/audio/generate", "/admin/audio/regenerate-outdated"} {
		resp := f.do(t, http.MethodPost, p, "", true)
		assert.Equal(t, http.StatusConflict, resp.StatusCode, p)
	}
	assert.Empty(t, f.pipe.batches)
}

func TestGenerateItemStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		err    error
		status int
	}{
		{name: "ok", path: "/admin/audio/items/1/generate?force=true", status: http.StatusOK},
		{name: "bad id", path: "/admin/audio/items/abc/generate", status: http.StatusBadRequest},
		{name: "zero id", path: "/admin/audio/items/0/generate", status: http.StatusBadRequest},
		{name: "not found", path: "/admin/audio/items/7/generate", err: audio.ErrContentNotFound, status: http.StatusNotFound},
		{name: "empty", path: "/admin/audio/items/7/generate", err: audio.ErrNoNarratableContent, status: http.StatusUnprocessableEntity},
		{name: "tts", path: "/admin/audio/items/7/generate", err: &speech.SynthesisError{Provider: "openai", Status: 500}, status: http.StatusBadGateway},
		{name: "storage", path: "/admin/audio/items/7/generate", err: &artifact.StorageError{Op: "save", Err: io.ErrUnexpectedEOF}, status: http.StatusBadGateway},
		{name: "other", path: "/admin/audio/items/7/generate", err: io.ErrClosedPipe, status: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Options{AdminToken: token})
			f.pipe.itemErr = tt.err
			resp := f.do(t, http.MethodPost, tt.path, "", true)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestGenerateItemBody(t *testing.T) {
	f := newFixture(t, Options{AdminToken: token})
	resp := f.do(t, http.MethodPost, "/admin/audio/items/3/generate", "", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[itemResponse](t, resp)
	assert.Equal(t, int64(3), body.ContentID)
	assert.True(t, body.Skipped)
	require.NotNil(t, body.Metadata)
	assert.Equal(t, "0123456789abcdef", body.Metadata.ContentHash)
}

func TestPurgeNeedsConfirmation(t *testing.T) {
	f := newFixture(t, Options{AdminToken: token})

	resp := f.do(t, http.MethodDelete, "/admin/audio", "", true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = f.do(t, http.MethodDelete, "/admin/audio", `{"confirm":"yes"}`, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Zero(t, f.pipe.purged)

	resp = f.do(t, http.MethodDelete, "/admin/audio", `{"confirm":"DELETE_ALL_AUDIO"}`, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, decode[audio.PurgeReport](t, resp).Deleted)
	assert.Equal(t, 1, f.pipe.purged)
}

func TestPurgeConflict(t *testing.T) {
	f := newFixture(t, Options{AdminToken: token})
	f.pipe.purgeErr = audio.ErrBatchInProgress
	resp := f.do(t, http.MethodDelete, "/admin/audio", `{"confirm":"DELETE_ALL_AUDIO"}`, true)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestJobs(t *testing.T) {
	f := newFixture(t, Options{AdminToken: token})

	resp := f.do(t, http.MethodGet, "/admin/jobs", "", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	jobs := decode[[]map[string]any](t, resp)
	require.Len(t, jobs, 1)
	assert.Equal(t, "nightly", jobs[0]["name"])
	assert.Equal(t, "armed", jobs[0]["state"])
	assert.EqualValues(t, 1500, jobs[0]["last_duration_ms"])

	resp = f.do(t, http.MethodPost, "/admin/jobs/nightly/run", "", true)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/admin/jobs/nightly/run?wait=1s", "", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decode[map[string]any](t, resp)["finished"])

	resp = f.do(t, http.MethodPost, "/admin/jobs/nightly/run?wait=soon", "", true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Len(t, f.jobs.runs, 2)

	resp = f.do(t, http.MethodPost, "/admin/jobs/missing/run", "", true)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	f.jobs.running["nightly"] = true
	resp = f.do(t, http.MethodPost, "/admin/jobs/nightly/run", "", true)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestServerLifecycle(t *testing.T) {
	s := NewServer(ServerConfig{Enabled: true, Addr: "127.0.0.1:0"}, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("v1"))
	}), logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	select {
	case <-s.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("server did not start")
	}
	get := func() string {
		resp, err := http.Get("http://" + s.Addr() + "/")
		require.NoError(t, err)
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		return string(b)
	}
	assert.Equal(t, "v1", get())

	s.SetHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("v2")) }))
	assert.Equal(t, "v2", get())

	s.Reconfigure(context.Background(), ServerConfig{Enabled: false})
	assert.Empty(t, s.Addr())
}

func TestIsLoopbackAddr(t *testing.T) {
	assert.True(t, isLoopbackAddr("127.0.0.1:8080"))
	assert.True(t, isLoopbackAddr("localhost:8080"))
	assert.False(t, isLoopbackAddr(":8080"))
	assert.False(t, isLoopbackAddr("0.0.0.0:8080"))
}

func TestHealthzReportsStorageFailure(t *testing.T) {
	f := newFixture(t, Options{})
	f.store.pingErr = errors.New("db gone")
	resp := f.do(t, http.MethodGet, "/healthz", "", false)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestAuditListing(t *testing.T) {
	f := newFixture(t, Options{AdminToken: token})

	resp := f.do(t, http.MethodGet, "/admin/audit?limit=9000", "", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got []storage.AuditEntry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Len(t, got, 1)
	assert.Equal(t, "nightly", got[0].Target)
	assert.Equal(t, 500, f.store.limit)

	resp = f.do(t, http.MethodGet, "/admin/audit?limit=zero", "", true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRuntimeSnapshot(t *testing.T) {
	f := newFixture(t, Options{AdminToken: token})
	resp := f.do(t, http.MethodGet, "/admin/runtime", "", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap supervisor.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	require.Len(t, snap.Goroutines, 1)
	assert.Equal(t, "http.serve", snap.Goroutines[0].Name)
}
