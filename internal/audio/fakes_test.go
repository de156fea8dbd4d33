package audio

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"narrator/internal/artifact"
	"narrator/internal/content"
)

type fakeRepo struct {
	mu    sync.Mutex
	items map[int64]content.Item
	meta  map[int64]content.AudioMetadata

	saveMetaErr error
}

func newFakeRepo(items ...content.Item) *fakeRepo {
	r := &fakeRepo{items: map[int64]content.Item{}, meta: map[int64]content.AudioMetadata{}}
	for _, it := range items {
		r.items[it.ID] = it
	}
	return r
}

func (r *fakeRepo) ListAll(ctx context.Context) ([]content.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]content.Item, 0, len(r.items))
	for _, it := range r.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

func (r *fakeRepo) Get(ctx context.Context, id int64) (content.Item, bool, error) {
	if err := ctx.Err(); err != nil {
		return content.Item{}, false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[id]
	return it, ok, nil
}

func (r *fakeRepo) ArtifactMetadata(ctx context.Context, id int64) (content.AudioMetadata, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	md, ok := r.meta[id]
	return md, ok, nil
}

func (r *fakeRepo) SaveArtifactMetadata(ctx context.Context, id int64, md content.AudioMetadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveMetaErr != nil {
		return r.saveMetaErr
	}
	r.meta[id] = md
	return nil
}

func (r *fakeRepo) ClearArtifactMetadata(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.meta, id)
	return nil
}

func (r *fakeRepo) edit(id int64, fn func(*content.Item)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	it := r.items[id]
	fn(&it)
	r.items[id] = it
}

type fakeGateway struct {
	calls    atomic.Int32
	inflight atomic.Int32
	maxSeen  atomic.Int32
	delay    time.Duration
	failFor  map[string]bool // item titles whose synthesis fails
	mu       sync.Mutex
	voices   []string
}

func (g *fakeGateway) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	g.calls.Add(1)
	n := g.inflight.Add(1)
	defer g.inflight.Add(-1)
	for {
		m := g.maxSeen.Load()
		if n <= m || g.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	g.mu.Lock()
	g.voices = append(g.voices, voice)
	g.mu.Unlock()
	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	for title := range g.failFor {
		if strings.Contains(text, "Today's devotional: "+title+".") {
			return nil, errors.New("tts unavailable for " + title)
		}
	}
	return []byte("mp3:" + text), nil
}

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	saves   int
	deletes []string
	saveErr error
	delErr  map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}, delErr: map[string]error{}}
}

func (s *fakeStore) Save(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return "", s.saveErr
	}
	s.saves++
	s.objects[path] = append([]byte(nil), data...)
	return s.URL(path), nil
}

func (s *fakeStore) Exists(ctx context.Context, path string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[path]
	return ok, nil
}

func (s *fakeStore) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.delErr[path]; err != nil {
		return &artifact.StorageError{Op: "delete", Path: path, Err: err}
	}
	s.deletes = append(s.deletes, path)
	delete(s.objects, path)
	return nil
}

func (s *fakeStore) Read(ctx context.Context, path string) (artifact.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects[path]
	if !ok {
		return artifact.Object{}, &artifact.StorageError{Op: "read", Path: path, Err: artifact.ErrNotFound}
	}
	return artifact.Object{Data: b, ContentType: artifact.ContentTypeMP3}, nil
}

func (s *fakeStore) URL(path string) string { return "https://cdn.test/" + path }

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

func (s *fakeStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func devotional(id int64) content.Item {
	return content.Item{
		ID:                 id,
		Title:              fmt.Sprintf("Day %d", id),
		ScriptureRef:       "Psalm 46:10",
		ScripturePassage:   "Be still, and know that I am God.",
		Teaching:           fmt.Sprintf("Teaching for day %d.", id),
		ReflectionQuestion: "Where do you need stillness?",
		Prayer:             "Quiet my heart.",
	}
}
