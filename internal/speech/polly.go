package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	"github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// PollyInputLimit is the plain-text limit of SynthesizeSpeech.
const PollyInputLimit = 3000

// PollyAPI is the subset of *polly.Client used here.
type PollyAPI interface {
	SynthesizeSpeech(ctx context.Context, in *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

type PollyConfig struct {
	Engine string // "standard", "neural", "long-form", "generative"
}

// PollyGateway synthesizes through Amazon Polly.
type PollyGateway struct {
	api    PollyAPI
	engine types.Engine
	wait   waitFunc
}

func NewPolly(api PollyAPI, cfg PollyConfig) *PollyGateway {
	engine := types.Engine(cfg.Engine)
	if engine == "" {
		engine = types.EngineNeural
	}
	return &PollyGateway{api: api, engine: engine}
}

// NewPollyFromConfig builds a gateway from a loaded AWS config.
func NewPollyFromConfig(awsCfg aws.Config, cfg PollyConfig) *PollyGateway {
	return NewPolly(polly.NewFromConfig(awsCfg), cfg)
}

func (g *PollyGateway) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	out, err := synthesizeChunks(ctx, text, PollyInputLimit, g.wait, func(ctx context.Context, chunk string) ([]byte, error) {
		return g.call(ctx, chunk, voice)
	})
	if err != nil {
		return nil, pollyError(err)
	}
	return out, nil
}

func (g *PollyGateway) throttle(wait waitFunc) { g.wait = wait }

func (g *PollyGateway) call(ctx context.Context, text, voice string) ([]byte, error) {
	resp, err := g.api.SynthesizeSpeech(ctx, &polly.SynthesizeSpeechInput{
		OutputFormat: types.OutputFormatMp3,
		Text:         aws.String(text),
		TextType:     types.TextTypeText,
		VoiceId:      types.VoiceId(voice),
		Engine:       g.engine,
	})
	if err != nil {
		return nil, err
	}
	if resp.AudioStream == nil {
		return nil, errors.New("empty audio stream")
	}
	defer resp.AudioStream.Close()
	data, err := io.ReadAll(resp.AudioStream)
	if err != nil {
		return nil, fmt.Errorf("read audio stream: %w", err)
	}
	return data, nil
}

func pollyError(err error) error {
	var prior *SynthesisError
	if errors.As(err, &prior) {
		return prior
	}
	se := &SynthesisError{Provider: "polly", Err: err}
	var re *smithyhttp.ResponseError
	if errors.As(err, &re) {
		se.Status = re.HTTPStatusCode()
	}
	var ae smithy.APIError
	if errors.As(err, &ae) {
		switch ae.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException", "LimitExceededException":
			se.Quota = true
		}
	}
	if se.Status == http.StatusTooManyRequests {
		se.Quota = true
	}
	return se
}
