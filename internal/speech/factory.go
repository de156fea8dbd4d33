package speech

import (
	"context"
	"fmt"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
)

// Options selects and configures a provider.
type Options struct {
	Provider string // "openai" (default) or "polly"

	OpenAI OpenAIConfig
	Polly  PollyConfig
	Region string

	RequestsPerMinute int
	Burst             int
}

// New builds the configured gateway wrapped in a rate limiter.
func New(ctx context.Context, opts Options) (Gateway, error) {
	var g Gateway
	switch strings.ToLower(strings.TrimSpace(opts.Provider)) {
	case "", "openai":
		if opts.OpenAI.APIKey == "" {
			return nil, fmt.Errorf("speech: openai api key is required")
		}
		g = NewOpenAI(opts.OpenAI, nil)
	case "polly":
		loadOpts := []func(*awsconfig.LoadOptions) error{}
		if opts.Region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
		}
		lctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		awsCfg, err := awsconfig.LoadDefaultConfig(lctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("speech: load aws config: %w", err)
		}
		g = NewPollyFromConfig(awsCfg, opts.Polly)
	default:
		return nil, fmt.Errorf("speech: unknown provider %q", opts.Provider)
	}
	return NewLimited(g, opts.RequestsPerMinute, opts.Burst), nil
}
