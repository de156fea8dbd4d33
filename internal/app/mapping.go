package app

import (
	"strings"
	"time"

	"narrator/internal/artifact"
	"narrator/internal/audio"
	"narrator/internal/config"
	"narrator/internal/httpapi"
	"narrator/internal/speech"
	"narrator/internal/storage"
	"narrator/internal/task/scheduler"
	logx "narrator/pkg/logx"
)

// The mappers below turn validated config into component configs. Durations
// were checked by config.Validate, so parse errors here are returned but not
// expected.

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:       strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:         strings.TrimSpace(sc.Path),
		DSN:          sc.DSN,
		BusyTimeout:  busy,
		MaxOpenConns: sc.MaxOpenConns,
	}, nil
}

func mapSpeechOptions(cfg *config.Config) (speech.Options, error) {
	sc := cfg.Speech
	timeout, err := config.ParseDurationOrDefault("speech.timeout", sc.Timeout, 90*time.Second)
	if err != nil {
		return speech.Options{}, err
	}
	return speech.Options{
		Provider: sc.Provider,
		OpenAI: speech.OpenAIConfig{
			BaseURL: sc.OpenAI.BaseURL,
			APIKey:  sc.OpenAI.APIKey,
			Model:   sc.OpenAI.Model,
			Speed:   sc.OpenAI.Speed,
			Timeout: timeout,
		},
		Polly:             speech.PollyConfig{Engine: sc.Polly.Engine},
		Region:            sc.Polly.Region,
		RequestsPerMinute: sc.RequestsPerMinute,
		Burst:             sc.Burst,
	}, nil
}

// mediaBaseURL is where the HTTP surface serves filesystem artifacts.
func mediaBaseURL(cfg *config.Config) string {
	base := strings.TrimRight(strings.TrimSpace(cfg.HTTP.PublicBaseURL), "/")
	if base == "" {
		return ""
	}
	mp := strings.Trim(cfg.HTTP.MediaPath, "/")
	if mp == "" {
		return base
	}
	return base + "/" + mp
}

func mapS3Config(cfg *config.Config) artifact.S3Config {
	s := cfg.Artifacts.S3
	return artifact.S3Config{
		Bucket:        s.Bucket,
		Region:        s.Region,
		Endpoint:      s.Endpoint,
		KeyPrefix:     s.KeyPrefix,
		PublicBaseURL: s.PublicBaseURL,
		PathStyle:     s.PathStyle,
	}
}

func mapPipelineConfig(cfg *config.Config) (audio.Config, error) {
	itemTimeout, err := config.ParseDurationField("pipeline.item_timeout", cfg.Pipeline.ItemTimeout)
	if err != nil {
		return audio.Config{}, err
	}
	prefix := strings.TrimSpace(cfg.Artifacts.Prefix)
	if prefix == "" {
		prefix = artifact.DefaultPrefix
	}
	return audio.Config{
		Voices:      cfg.Speech.Voices,
		Prefix:      prefix,
		Concurrency: cfg.Pipeline.Concurrency,
		ItemTimeout: itemTimeout,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	sc := cfg.Scheduler
	minDelay, err := config.ParseDurationField("scheduler.min_delay", sc.MinDelay)
	if err != nil {
		return scheduler.Config{}, err
	}
	// Empty means one hour; an explicit "0s" disables the default timeout.
	defTimeout := time.Hour
	if strings.TrimSpace(sc.DefaultTimeout) != "" {
		if defTimeout, err = config.ParseDurationField("scheduler.default_timeout", sc.DefaultTimeout); err != nil {
			return scheduler.Config{}, err
		}
	}
	return scheduler.Config{
		Enabled:        sc.Enabled,
		Timezone:       sc.Timezone,
		MinDelay:       minDelay,
		DefaultTimeout: defTimeout,
	}, nil
}

func mapServerConfig(cfg *config.Config) (httpapi.ServerConfig, error) {
	h := cfg.HTTP
	read, err := config.ParseDurationOrDefault("http.read_timeout", h.ReadTimeout, 30*time.Second)
	if err != nil {
		return httpapi.ServerConfig{}, err
	}
	// Media responses can be large; writes get a longer default.
	write, err := config.ParseDurationOrDefault("http.write_timeout", h.WriteTimeout, 5*time.Minute)
	if err != nil {
		return httpapi.ServerConfig{}, err
	}
	shutdown, err := config.ParseDurationOrDefault("http.shutdown_timeout", h.ShutdownTimeout, 10*time.Second)
	if err != nil {
		return httpapi.ServerConfig{}, err
	}
	return httpapi.ServerConfig{
		Enabled:         h.Enabled,
		Addr:            h.Addr,
		ReadTimeout:     read,
		WriteTimeout:    write,
		IdleTimeout:     2 * time.Minute,
		ShutdownTimeout: shutdown,
	}, nil
}

func mapRouterOptions(cfg *config.Config) httpapi.Options {
	return httpapi.Options{
		AdminToken: cfg.HTTP.AdminToken,
		MediaPath:  cfg.HTTP.MediaPath,
		Pprof:      cfg.HTTP.Pprof,
	}
}

// adminPipeline narrows audio.Pipeline's reserved batch to httpapi.Batch.
type adminPipeline struct{ *audio.Pipeline }

func (p adminPipeline) ReserveBatch() (httpapi.Batch, error) {
	b, err := p.Pipeline.ReserveBatch()
	if err != nil {
		return nil, err
	}
	return b, nil
}

var _ httpapi.Pipeline = adminPipeline{}
