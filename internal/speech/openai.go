package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultOpenAIModel   = "tts-1"

	// OpenAIInputLimit is the maximum input length accepted by /audio/speech.
	OpenAIInputLimit = 4096
)

type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Speed   float64
	Timeout time.Duration
}

// OpenAIGateway talks to an OpenAI-compatible /audio/speech endpoint.
type OpenAIGateway struct {
	cfg    OpenAIConfig
	client *http.Client
	wait   waitFunc
}

func NewOpenAI(cfg OpenAIConfig, client *http.Client) *OpenAIGateway {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 120 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &OpenAIGateway{cfg: cfg, client: client}
}

type speechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed,omitempty"`
}

func (g *OpenAIGateway) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	out, err := synthesizeChunks(ctx, text, OpenAIInputLimit, g.wait, func(ctx context.Context, chunk string) ([]byte, error) {
		return g.call(ctx, chunk, voice)
	})
	if err != nil {
		return nil, g.wrap(err)
	}
	return out, nil
}

func (g *OpenAIGateway) throttle(wait waitFunc) { g.wait = wait }

func (g *OpenAIGateway) call(ctx context.Context, input, voice string) ([]byte, error) {
	body, err := json.Marshal(speechRequest{
		Model:          g.cfg.Model,
		Input:          input,
		Voice:          voice,
		ResponseFormat: "mp3",
		Speed:          g.cfg.Speed,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/audio/speech", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &SynthesisError{
			Provider: "openai",
			Status:   resp.StatusCode,
			Quota:    resp.StatusCode == http.StatusTooManyRequests,
			Err:      fmt.Errorf("API error: %s", apiMessage(data)),
		}
	}
	if len(data) == 0 {
		return nil, errors.New("empty audio response")
	}
	return data, nil
}

func (g *OpenAIGateway) wrap(err error) error {
	var se *SynthesisError
	if errors.As(err, &se) {
		return se
	}
	return &SynthesisError{Provider: "openai", Err: err}
}

// apiMessage extracts {"error":{"message":...}} or falls back to the raw body.
func apiMessage(body []byte) string {
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
