package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"narrator/internal/task/cronexpr"
)

var validate = validator.New()

// defaultVoices is the roster used when speech.voices is omitted.
var defaultVoices = map[string][]string{
	"openai": {"alloy", "nova"},
	"polly":  {"Joanna", "Matthew"},
}

// ApplyDefaults fills omitted fields in place.
func (c *Config) ApplyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.MediaPath == "" {
		c.HTTP.MediaPath = "/media"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.Path == "" && c.Storage.Driver != "postgres" && c.Storage.Driver != "pgx" {
		c.Storage.Path = "./data/narrator.db"
	}
	if c.Speech.Provider == "" {
		c.Speech.Provider = "openai"
	}
	if len(c.Speech.Voices) == 0 {
		c.Speech.Voices = append([]string(nil), defaultVoices[c.Speech.Provider]...)
	}
	if c.Artifacts.Driver == "" {
		c.Artifacts.Driver = "fs"
	}
	if c.Artifacts.Driver == "fs" && c.Artifacts.FS.Root == "" {
		c.Artifacts.FS.Root = "./data/media"
	}
	if c.Pipeline.Concurrency == 0 {
		c.Pipeline.Concurrency = 3
	}
}

// Validate checks struct tags, durations, cross-field requirements and job
// schedules. It reports every problem found.
func Validate(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Errorf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
		} else {
			errs = append(errs, err)
		}
	}

	durations := map[string]string{
		"http.read_timeout":         c.HTTP.ReadTimeout,
		"http.write_timeout":        c.HTTP.WriteTimeout,
		"http.shutdown_timeout":     c.HTTP.ShutdownTimeout,
		"storage.busy_timeout":      c.Storage.BusyTimeout,
		"speech.timeout":            c.Speech.Timeout,
		"pipeline.item_timeout":     c.Pipeline.ItemTimeout,
		"scheduler.min_delay":       c.Scheduler.MinDelay,
		"scheduler.default_timeout": c.Scheduler.DefaultTimeout,
	}
	for path, raw := range durations {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	switch c.Storage.Driver {
	case "postgres", "pgx":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			errs = append(errs, errors.New("storage.dsn: required for postgres"))
		}
	}
	if c.Speech.Provider == "openai" && strings.TrimSpace(c.Speech.OpenAI.APIKey) == "" {
		errs = append(errs, errors.New("speech.openai.api_key: required for the openai provider"))
	}
	if c.Artifacts.Driver == "s3" && strings.TrimSpace(c.Artifacts.S3.Bucket) == "" {
		errs = append(errs, errors.New("artifacts.s3.bucket: required for the s3 driver"))
	}
	if c.HTTP.Enabled && c.Artifacts.Driver == "fs" && c.HTTP.PublicBaseURL == "" {
		errs = append(errs, errors.New("http.public_base_url: required to serve filesystem artifacts"))
	}

	seen := map[string]struct{}{}
	for i, j := range c.Jobs {
		path := fmt.Sprintf("jobs[%d]", i)
		if _, dup := seen[j.Name]; dup && j.Name != "" {
			errs = append(errs, fmt.Errorf("%s: duplicate job name %q", path, j.Name))
		}
		seen[j.Name] = struct{}{}
		if j.Schedule != "" {
			if _, err := cronexpr.Parse(j.Schedule); err != nil {
				errs = append(errs, fmt.Errorf("%s.schedule: %w", path, err))
			}
		}
		if _, err := ParseDurationField(path+".timeout", j.Timeout); err != nil {
			errs = append(errs, err)
		}
		if _, err := ParseDurationField(path+".retention", j.Retention); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
