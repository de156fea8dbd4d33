package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/service/polly"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVoiceFor(t *testing.T) {
	voices := []string{"alloy", "nova", "onyx"}
	assert.Equal(t, "alloy", VoiceFor(3, voices))
	assert.Equal(t, "nova", VoiceFor(4, voices))
	assert.Equal(t, "onyx", VoiceFor(-1, voices))
	assert.Equal(t, "", VoiceFor(1, nil))
}

func TestSynthesisErrorMatching(t *testing.T) {
	cause := errors.New("boom")
	var err error = &SynthesisError{Provider: "openai", Status: 429, Quota: true, Err: cause}
	assert.ErrorIs(t, err, ErrSynthesis)
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsQuota(err))
	assert.Contains(t, err.Error(), "status 429")
	assert.False(t, IsQuota(errors.New("plain")))
}

func TestSplitText(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		limit int
		want  []string
	}{
		{name: "short", text: "Hello.", limit: 100, want: []string{"Hello."}},
		{name: "empty", text: "  ", limit: 100, want: nil},
		{name: "paragraphs", text: "One two.\n\nThree four.", limit: 12, want: []string{"One two.", "Three four."}},
		{name: "sentences", text: "Aa bb. Cc dd. Ee ff.", limit: 14, want: []string{"Aa bb. Cc dd.", "Ee ff."}},
		{name: "hard wrap", text: "abcdefghij", limit: 4, want: []string{"abcd", "efgh", "ij"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitText(tt.text, tt.limit))
		})
	}
}

func TestSplitTextRespectsLimit(t *testing.T) {
	text := strings.Repeat("Grace upon grace is given to us daily. ", 300)
	chunks := SplitText(text, OpenAIInputLimit)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), OpenAIInputLimit)
	}
}

func TestOpenAISynthesize(t *testing.T) {
	var got speechRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/speech", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3fake"))
	}))
	defer srv.Close()

	g := NewOpenAI(OpenAIConfig{BaseURL: srv.URL + "/v1/", APIKey: "sk-test"}, srv.Client())
	data, err := g.Synthesize(context.Background(), "Hello world.", "nova")
	require.NoError(t, err)
	assert.Equal(t, []byte("ID3fake"), data)
	assert.Equal(t, DefaultOpenAIModel, got.Model)
	assert.Equal(t, "nova", got.Voice)
	assert.Equal(t, "mp3", got.ResponseFormat)
}

func TestOpenAIConcatenatesChunks(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	g := NewOpenAI(OpenAIConfig{BaseURL: srv.URL, APIKey: "k"}, srv.Client())
	text := strings.Repeat("a", OpenAIInputLimit) + "\n\n" + "tail."
	data, err := g.Synthesize(context.Background(), text, "alloy")
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
	assert.Equal(t, []byte("xx"), data)
}

func TestOpenAIQuotaError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"Rate limit reached"}}`))
	}))
	defer srv.Close()

	g := NewOpenAI(OpenAIConfig{BaseURL: srv.URL, APIKey: "k"}, srv.Client())
	_, err := g.Synthesize(context.Background(), "Hi.", "alloy")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSynthesis)
	assert.True(t, IsQuota(err))
	assert.Contains(t, err.Error(), "Rate limit reached")
}

func TestOpenAITransportErrorIsSynthesisError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	g := NewOpenAI(OpenAIConfig{BaseURL: url, APIKey: "k"}, nil)
	_, err := g.Synthesize(context.Background(), "Hi.", "alloy")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSynthesis)
	assert.False(t, IsQuota(err))
}

type fakePolly struct {
	inputs []*polly.SynthesizeSpeechInput
	err    error
}

func (f *fakePolly) SynthesizeSpeech(ctx context.Context, in *polly.SynthesizeSpeechInput, _ ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	return &polly.SynthesizeSpeechOutput{AudioStream: io.NopCloser(bytes.NewReader([]byte("mp3")))}, nil
}

func TestPollySynthesize(t *testing.T) {
	api := &fakePolly{}
	g := NewPolly(api, PollyConfig{})
	data, err := g.Synthesize(context.Background(), "Let's pray.", "Joanna")
	require.NoError(t, err)
	assert.Equal(t, []byte("mp3"), data)
	require.Len(t, api.inputs, 1)
	assert.EqualValues(t, "Joanna", api.inputs[0].VoiceId)
	assert.EqualValues(t, "mp3", api.inputs[0].OutputFormat)
	assert.EqualValues(t, "neural", api.inputs[0].Engine)
}

func TestPollyThrottling(t *testing.T) {
	api := &fakePolly{err: &smithy.GenericAPIError{Code: "ThrottlingException", Message: "slow down"}}
	g := NewPolly(api, PollyConfig{Engine: "standard"})
	_, err := g.Synthesize(context.Background(), "Hi.", "Matthew")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSynthesis)
	assert.True(t, IsQuota(err))
}

type countingGateway struct{ calls atomic.Int32 }

func (c *countingGateway) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	c.calls.Add(1)
	return []byte(text), nil
}

func TestLimitedHonoursContext(t *testing.T) {
	next := &countingGateway{}
	g := NewLimited(next, 1, 1)

	_, err := g.Synthesize(context.Background(), "first", "v")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.Synthesize(ctx, "second", "v")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSynthesis)
	assert.EqualValues(t, 1, next.calls.Load())
}

func TestLimitedChargesEveryChunkRequest(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	g := NewLimited(NewOpenAI(OpenAIConfig{BaseURL: srv.URL, APIKey: "k"}, srv.Client()), 1, 1)
	text := strings.Repeat("a", OpenAIInputLimit) + "\n\n" + "tail."

	// One token covers the first chunk; the second would wait a full minute.
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := g.Synthesize(ctx, text, "alloy")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSynthesis)
	var se *SynthesisError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "ratelimit", se.Provider)
	assert.EqualValues(t, 1, calls.Load())
}

func TestLimitedDisabled(t *testing.T) {
	next := &countingGateway{}
	assert.Same(t, Gateway(next), NewLimited(next, 0, 0))
}

func TestNewUnknownProvider(t *testing.T) {
	_, err := New(context.Background(), Options{Provider: "espeak"})
	require.Error(t, err)
	_, err = New(context.Background(), Options{Provider: "openai"})
	require.Error(t, err)
}
