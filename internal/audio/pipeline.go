package audio

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"narrator/internal/artifact"
	"narrator/internal/content"
	"narrator/internal/eventbus"
	"narrator/internal/speech"
	logx "narrator/pkg/logx"
)

const (
	defaultConcurrency = 3
	defaultItemTimeout = 2 * time.Minute
)

type Config struct {
	// Voices is the roster; item id selects voices[id % len].
	Voices      []string
	Prefix      string
	Concurrency int
	// ItemTimeout bounds each gateway and store call.
	ItemTimeout time.Duration
}

type Option func(*Pipeline)

// WithClock overrides time.Now for GeneratedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

type Pipeline struct {
	repo  content.Repository
	tts   speech.Gateway
	store artifact.Store
	cfg   Config
	log   logx.Logger
	bus   eventbus.Bus
	now   func() time.Time

	batch atomic.Bool
}

func New(repo content.Repository, tts speech.Gateway, store artifact.Store, cfg Config, log logx.Logger, bus eventbus.Bus, opts ...Option) *Pipeline {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.ItemTimeout <= 0 {
		cfg.ItemTimeout = defaultItemTimeout
	}
	if cfg.Prefix == "" {
		cfg.Prefix = artifact.DefaultPrefix
	}
	p := &Pipeline{
		repo:  repo,
		tts:   tts,
		store: store,
		cfg:   cfg,
		log:   log.With(logx.String("comp", "audio")),
		bus:   bus,
		now:   time.Now,
	}
	for _, o := range opts {
		if o != nil {
			o(p)
		}
	}
	return p
}

// batchRunning reports whether a batch operation currently holds the pipeline.
func (p *Pipeline) batchRunning() bool { return p.batch.Load() }

func (p *Pipeline) acquireBatch() error {
	if !p.batch.CompareAndSwap(false, true) {
		return ErrBatchInProgress
	}
	return nil
}

func (p *Pipeline) releaseBatch() { p.batch.Store(false) }

// GenerateForItem brings the artifact of item id up to date. A current
// artifact is returned as Skipped without touching the gateway or the store
// unless opts.Force is set.
func (p *Pipeline) GenerateForItem(ctx context.Context, id int64, opts GenerateOptions) (Result, error) {
	res := Result{ContentID: id}
	fail := func(stage string, err error) (Result, error) {
		gerr := &GenerationError{ContentID: id, Stage: stage, Err: err}
		res.Err = gerr
		return res, gerr
	}

	item, ok, err := p.repo.Get(ctx, id)
	if err != nil {
		return fail("load", err)
	}
	if !ok {
		return fail("load", ErrContentNotFound)
	}
	if !content.HasNarratableContent(item) {
		return fail("compose", ErrNoNarratableContent)
	}

	hash := content.Fingerprint(item)
	prev, hasPrev, err := p.repo.ArtifactMetadata(ctx, id)
	if err != nil {
		return fail("load", err)
	}
	if hasPrev && !opts.Force && prev.ContentHash == hash {
		res.Skipped = true
		res.Metadata = &prev
		p.log.Debug("artifact current; skipped", logx.Int64("content_id", id), logx.String("hash", hash))
		return res, nil
	}

	started := time.Now()
	voice := speech.VoiceFor(id, p.cfg.Voices)
	script := content.ComposeNarration(item)

	data, err := p.synthesize(ctx, script, voice)
	if err != nil {
		p.publishFailure(id, hash, started, err)
		return fail("synthesize", err)
	}

	key := artifact.HashedPath(p.cfg.Prefix, id, hash)
	overwrite := hasPrev && prev.StoragePath == key
	var previous []byte
	if overwrite {
		previous = p.readForRestore(ctx, id, key)
	}
	url, err := p.save(ctx, key, data)
	if err != nil {
		p.publishFailure(id, hash, started, err)
		return fail("store", err)
	}

	md := content.AudioMetadata{
		ContentID:     id,
		ContentHash:   hash,
		GeneratedAt:   p.now().UTC(),
		FileSizeBytes: int64(len(data)),
		StoragePath:   key,
		PublicURL:     url,
		Voice:         voice,
	}
	if err := p.repo.SaveArtifactMetadata(ctx, id, md); err != nil {
		switch {
		case !overwrite:
			p.bestEffortDelete(ctx, id, key, "orphan")
		case previous != nil:
			// Put back the bytes the stored metadata still describes.
			if _, rerr := p.save(ctx, key, previous); rerr != nil {
				p.log.Warn("artifact restore failed", logx.Int64("content_id", id), logx.String("path", key), logx.Err(rerr))
			}
		}
		p.publishFailure(id, hash, started, err)
		return fail("record", err)
	}

	p.bestEffortDelete(ctx, id, artifact.LegacyPath(p.cfg.Prefix, id), "legacy")
	if hasPrev && prev.StoragePath != "" && prev.StoragePath != key {
		p.bestEffortDelete(ctx, id, prev.StoragePath, "previous")
	}

	took := time.Since(started)
	p.log.Info("audio generated",
		logx.Int64("content_id", id),
		logx.String("hash", hash),
		logx.String("voice", voice),
		logx.String("size", humanize.Bytes(uint64(len(data)))),
		logx.Duration("took", took),
	)
	p.bus.Publish(eventbus.Event{Type: eventbus.AudioGenerated, Data: GenerationEvent{
		ContentID: id, Hash: hash, Voice: voice, Bytes: md.FileSizeBytes, Took: took,
	}})

	res.Metadata = &md
	return res, nil
}

func (p *Pipeline) synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	cctx, cancel := context.WithTimeout(ctx, p.cfg.ItemTimeout)
	defer cancel()
	data, err := p.tts.Synthesize(cctx, text, voice)
	if err != nil {
		if !errors.Is(err, speech.ErrSynthesis) {
			err = &speech.SynthesisError{Provider: "gateway", Err: err}
		}
		return nil, err
	}
	if len(data) == 0 {
		return nil, &speech.SynthesisError{Provider: "gateway", Err: errors.New("empty audio")}
	}
	return data, nil
}

func (p *Pipeline) save(ctx context.Context, key string, data []byte) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, p.cfg.ItemTimeout)
	defer cancel()
	url, err := p.store.Save(cctx, key, data, artifact.ContentTypeMP3)
	if err != nil && !errors.Is(err, artifact.ErrStorage) {
		err = &artifact.StorageError{Op: "save", Path: key, Err: err}
	}
	return url, err
}

// readForRestore returns the bytes currently at key, or nil when they cannot
// be read.
func (p *Pipeline) readForRestore(ctx context.Context, id int64, key string) []byte {
	cctx, cancel := context.WithTimeout(ctx, p.cfg.ItemTimeout)
	defer cancel()
	obj, err := p.store.Read(cctx, key)
	if err != nil {
		p.log.Debug("previous artifact unreadable", logx.Int64("content_id", id), logx.String("path", key), logx.Err(err))
		return nil
	}
	return obj.Data
}

func (p *Pipeline) deleteArtifact(ctx context.Context, key string) error {
	cctx, cancel := context.WithTimeout(ctx, p.cfg.ItemTimeout)
	defer cancel()
	err := p.store.Delete(cctx, key)
	if err != nil && !errors.Is(err, artifact.ErrStorage) {
		err = &artifact.StorageError{Op: "delete", Path: key, Err: err}
	}
	return err
}

func (p *Pipeline) bestEffortDelete(ctx context.Context, id int64, key, kind string) {
	if err := p.deleteArtifact(ctx, key); err != nil {
		p.log.Warn("artifact cleanup failed",
			logx.Int64("content_id", id),
			logx.String("kind", kind),
			logx.String("path", key),
			logx.Err(err),
		)
	}
}

func (p *Pipeline) publishFailure(id int64, hash string, started time.Time, err error) {
	took := time.Since(started)
	p.log.Warn("audio generation failed",
		logx.Int64("content_id", id),
		logx.Bool("quota", speech.IsQuota(err)),
		logx.Duration("took", took),
		logx.Err(err),
	)
	p.bus.Publish(eventbus.Event{Type: eventbus.AudioFailed, Data: GenerationEvent{
		ContentID: id, Hash: hash, Took: took, Error: err.Error(),
	}})
}
