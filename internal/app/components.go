package app

import (
	"context"
	"fmt"

	"narrator/internal/artifact"
	"narrator/internal/audio"
	"narrator/internal/config"
	"narrator/internal/eventbus"
	"narrator/internal/speech"
	"narrator/internal/storage"
	logx "narrator/pkg/logx"
)

// Components are the long-lived collaborators of the audio pipeline. The
// server and the one-shot CLI commands both build them through Open.
type Components struct {
	DB       *storage.DB
	Store    artifact.Store
	Speech   speech.Gateway
	Pipeline *audio.Pipeline
}

// Open connects storage, the artifact store and the speech provider and
// assembles a pipeline from them. Close releases what Open acquired.
func Open(ctx context.Context, cfg *config.Config, log logx.Logger, bus eventbus.Bus) (*Components, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	db, err := storage.Open(ctx, sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	c := &Components{DB: db}
	fail := func(err error) (*Components, error) {
		_ = c.Close()
		return nil, err
	}

	if c.Store, err = openArtifactStore(ctx, cfg); err != nil {
		return fail(err)
	}

	opts, err := mapSpeechOptions(cfg)
	if err != nil {
		return fail(err)
	}
	if c.Speech, err = speech.New(ctx, opts); err != nil {
		return fail(err)
	}

	pc, err := mapPipelineConfig(cfg)
	if err != nil {
		return fail(err)
	}
	c.Pipeline = audio.New(db, c.Speech, c.Store, pc, log.With(logx.String("comp", "audio")), bus)

	log.Info("components ready",
		logx.String("storage", sc.Driver),
		logx.String("artifacts", cfg.Artifacts.Driver),
		logx.String("speech", opts.Provider),
		logx.Int("voices", len(pc.Voices)),
	)
	return c, nil
}

func openArtifactStore(ctx context.Context, cfg *config.Config) (artifact.Store, error) {
	switch cfg.Artifacts.Driver {
	case "", "fs":
		st, err := artifact.NewFS(cfg.Artifacts.FS.Root, mediaBaseURL(cfg))
		if err != nil {
			return nil, err
		}
		return st, nil
	case "s3":
		st, err := artifact.NewS3FromEnv(ctx, mapS3Config(cfg))
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown artifacts.driver: %s", cfg.Artifacts.Driver)
	}
}

func (c *Components) Close() error {
	if c == nil || c.DB == nil {
		return nil
	}
	return c.DB.Close()
}
