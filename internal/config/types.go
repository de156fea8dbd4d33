package config

// Config is the root document. All durations are Go duration strings
// (e.g. "500ms", "10s", "1m"); string values may reference environment
// variables as ${NAME}.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	HTTP      HTTPConfig      `json:"http"`
	Storage   StorageConfig   `json:"storage"`
	Speech    SpeechConfig    `json:"speech"`
	Artifacts ArtifactsConfig `json:"artifacts"`
	Pipeline  PipelineConfig  `json:"pipeline"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Jobs      []JobConfig     `json:"jobs" validate:"dive"`
}

type LoggingConfig struct {
	Level   string      `json:"level" validate:"omitempty,oneof=trace debug info warn warning error fatal panic disabled"`
	Format  string      `json:"format,omitempty" validate:"omitempty,oneof=console json"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path" validate:"required_if=Enabled true"`
}

// HTTPConfig controls the admin and media server.
//
// Security note: the admin surface is disabled unless admin_token is set.
type HTTPConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default ":8080"
	AdminToken    string `json:"admin_token,omitempty"`
	PublicBaseURL string `json:"public_base_url,omitempty" validate:"omitempty,url"`
	// MediaPath is where artifacts are served, default "/media".
	MediaPath string `json:"media_path,omitempty" validate:"omitempty,startswith=/"`
	Pprof     bool   `json:"pprof,omitempty"`

	ReadTimeout     string `json:"read_timeout,omitempty"`
	WriteTimeout    string `json:"write_timeout,omitempty"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`
}

// StorageConfig selects the content database.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/narrator.db" }
type StorageConfig struct {
	Driver       string `json:"driver" validate:"omitempty,oneof=sqlite sqlite3 postgres pgx"`
	Path         string `json:"path,omitempty"`
	DSN          string `json:"dsn,omitempty"`
	BusyTimeout  string `json:"busy_timeout,omitempty"` // sqlite only
	MaxOpenConns int    `json:"max_open_conns,omitempty" validate:"gte=0"`
}

type SpeechConfig struct {
	Provider string       `json:"provider" validate:"omitempty,oneof=openai polly"`
	OpenAI   OpenAIConfig `json:"openai"`
	Polly    PollyConfig  `json:"polly"`
	// Voices is the roster; content id selects voices[id % len].
	Voices            []string `json:"voices" validate:"min=1,dive,required"`
	RequestsPerMinute int      `json:"requests_per_minute,omitempty" validate:"gte=0"`
	Burst             int      `json:"burst,omitempty" validate:"gte=0"`
	Timeout           string   `json:"timeout,omitempty"`
}

type OpenAIConfig struct {
	BaseURL string  `json:"base_url,omitempty" validate:"omitempty,url"`
	APIKey  string  `json:"api_key,omitempty"`
	Model   string  `json:"model,omitempty"`
	Speed   float64 `json:"speed,omitempty" validate:"omitempty,gte=0.25,lte=4"`
}

type PollyConfig struct {
	Region string `json:"region,omitempty"`
	Engine string `json:"engine,omitempty" validate:"omitempty,oneof=standard neural long-form generative"`
}

type ArtifactsConfig struct {
	Driver string      `json:"driver" validate:"omitempty,oneof=fs s3"`
	Prefix string      `json:"prefix,omitempty"`
	FS     FSArtifacts `json:"fs"`
	S3     S3Artifacts `json:"s3"`
}

type FSArtifacts struct {
	Root string `json:"root,omitempty"`
}

type S3Artifacts struct {
	Bucket        string `json:"bucket,omitempty"`
	Region        string `json:"region,omitempty"`
	Endpoint      string `json:"endpoint,omitempty" validate:"omitempty,url"`
	KeyPrefix     string `json:"key_prefix,omitempty"`
	PublicBaseURL string `json:"public_base_url,omitempty" validate:"omitempty,url"`
	PathStyle     bool   `json:"path_style,omitempty"`
}

type PipelineConfig struct {
	Concurrency int    `json:"concurrency,omitempty" validate:"gte=0,lte=32"`
	ItemTimeout string `json:"item_timeout,omitempty"`
}

type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"`
	MinDelay string `json:"min_delay,omitempty"`
	// DefaultTimeout applies to jobs without their own timeout. "0s" disables it.
	DefaultTimeout string `json:"default_timeout,omitempty"`
}

// Job actions understood by the application.
const (
	ActionGenerateAll        = "generate_all"
	ActionRegenerateOutdated = "regenerate_outdated"
	ActionStatusReport       = "status_report"
	ActionPruneAudit         = "prune_audit"
)

type JobConfig struct {
	Name     string `json:"name" validate:"required"`
	Schedule string `json:"schedule" validate:"required"`
	Action   string `json:"action" validate:"required,oneof=generate_all regenerate_outdated status_report prune_audit"`
	// Enabled is a pointer so an omitted key defaults to true.
	Enabled *bool  `json:"enabled,omitempty"`
	Timeout string `json:"timeout,omitempty"`
	Force   bool   `json:"force,omitempty"`
	// Retention applies to prune_audit.
	Retention string `json:"retention,omitempty"`
}

func (j JobConfig) IsEnabled() bool { return j.Enabled == nil || *j.Enabled }
