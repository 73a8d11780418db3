package llm

import (
	"context"
	"strings"
	"time"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/examprep/examprep/pkg/buildinfo"
	"github.com/examprep/examprep/pkg/errors"
)

// OpenAIConfig configures the OpenAI client.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string // optional, for compatible gateways
	Model       string // text model
	VisionModel string // used when a request carries an image
	Timeout     time.Duration
}

// OpenAI implements Client with the chat completions API.
type OpenAI struct {
	client      openai.Client
	model       string
	visionModel string
}

// NewOpenAI creates a client. Missing models fall back to gpt-4o-mini for
// text and the text model for vision.
func NewOpenAI(cfg OpenAIConfig, opts ...option.RequestOption) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New(errors.ErrCodeInternal, "openai api key missing")
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHeader("User-Agent", buildinfo.UserAgent()),
	}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(cfg.Timeout))
	}
	reqOpts = append(reqOpts, opts...)

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	vision := cfg.VisionModel
	if vision == "" {
		vision = model
	}
	return &OpenAI{client: openai.NewClient(reqOpts...), model: model, visionModel: vision}, nil
}

func (o *OpenAI) Complete(ctx context.Context, req Request) (string, error) {
	model := req.Model
	if model == "" {
		model = o.model
		if req.HasImage() {
			model = o.visionModel
		}
	}

	var msgs []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch {
		case m.Role == RoleAssistant:
			msgs = append(msgs, openai.ChatCompletionMessageParamOfAssistant(m.Content))
		case m.ImageURL != "":
			parts := []openai.ChatCompletionContentPartUnionParam{}
			if m.Content != "" {
				parts = append(parts, openai.TextContentPart(m.Content))
			}
			parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: m.ImageURL}))
			msgs = append(msgs, openai.UserMessage(parts))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: msgs,
	})
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeUpstream, err, "llm request failed")
	}
	if len(resp.Choices) == 0 {
		return "", errors.New(errors.ErrCodeUpstream, "llm returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
