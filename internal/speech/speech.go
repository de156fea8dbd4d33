// Package speech turns narration text into MP3 audio through a hosted
// text-to-speech provider.
package speech

import (
	"context"
	"errors"
	"fmt"
)

// ErrSynthesis is matched by every error a Gateway returns.
var ErrSynthesis = errors.New("speech synthesis failed")

// Gateway synthesizes text with the given voice and returns MP3 bytes.
type Gateway interface {
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
}

// SynthesisError describes a provider failure.
type SynthesisError struct {
	Provider string
	Status   int  // HTTP status when known
	Quota    bool // rate limit or quota exhausted
	Err      error
}

func (e *SynthesisError) Error() string {
	msg := "speech: " + e.Provider
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Quota {
		msg += " quota exceeded"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SynthesisError) Unwrap() error { return e.Err }

func (e *SynthesisError) Is(target error) bool { return target == ErrSynthesis }

// IsQuota reports whether err is a rate limit or quota failure.
func IsQuota(err error) bool {
	var se *SynthesisError
	return errors.As(err, &se) && se.Quota
}

// VoiceFor picks a voice from the roster for a content id. The same id
// always maps to the same voice.
func VoiceFor(id int64, voices []string) string {
	if len(voices) == 0 {
		return ""
	}
	n := int64(len(voices))
	return voices[((id%n)+n)%n]
}

// waitFunc blocks until one provider request may be sent.
type waitFunc func(ctx context.Context) error

// chunkThrottler is implemented by gateways that split text into several
// provider requests; the limiter is then charged once per request.
type chunkThrottler interface {
	throttle(wait waitFunc)
}

// synthesizeChunks runs fn once per chunk and concatenates the MP3 frames.
// A non-nil wait is called before every chunk.
func synthesizeChunks(ctx context.Context, text string, limit int, wait waitFunc, fn func(ctx context.Context, chunk string) ([]byte, error)) ([]byte, error) {
	chunks := SplitText(text, limit)
	if len(chunks) == 0 {
		return nil, errors.New("empty text")
	}
	var out []byte
	for _, c := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if wait != nil {
			if err := wait(ctx); err != nil {
				return nil, &SynthesisError{Provider: "ratelimit", Err: err}
			}
		}
		b, err := fn(ctx, c)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}
