// Package openai provides a core.Provider backed by the OpenAI Chat
// Completions API. It shapes reconstructed prompt fragments into the SDK's
// message format and classifies API failures into the core taxonomy.
package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"

	"github.com/conclave-ai/conclave/core"
)

// Options configure the OpenAI provider adapter. Fields mirror a small
// subset of Chat Completion parameters; extend via functional options.
type Options struct {
	Temperature float64
}

// Provider wraps the OpenAI Chat Completions API behind core.Provider.
type Provider struct {
	client  *openai.Client
	profile core.Profile
	opts    Options
}

// New creates an OpenAI provider using the default client (API key from the
// environment).
func New(profile core.Profile, optFns ...func(o *Options)) *Provider {
	client := openai.NewClient()
	return NewFromClient(&client, profile, optFns...)
}

// NewFromClient creates an OpenAI provider from an existing client.
func NewFromClient(client *openai.Client, profile core.Profile, optFns ...func(o *Options)) *Provider {
	opts := Options{Temperature: 0.7}
	for _, fn := range optFns {
		fn(&opts)
	}
	if profile.Model == "" {
		profile.Model = openai.ChatModelGPT4oMini
	}
	return &Provider{client: client, profile: profile, opts: opts}
}

// Profile implements core.Provider.
func (p *Provider) Profile() core.Profile { return p.profile }

// Send implements core.Provider with a single non-streaming completion.
func (p *Provider) Send(ctx context.Context, req core.Request) (*core.Result, error) {
	params := p.buildParams(req)

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, p.classify(ctx, err)
	}
	if len(completion.Choices) == 0 {
		return nil, core.NewCallError(p.profile.ID, core.ErrBackend, errors.New("empty choices in completion"))
	}

	choice := completion.Choices[0]
	return &core.Result{
		ProviderID:   p.profile.ID,
		Text:         choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		InputTokens:  int(completion.Usage.PromptTokens),
		OutputTokens: int(completion.Usage.CompletionTokens),
	}, nil
}

func (p *Provider) buildParams(req core.Request) openai.ChatCompletionNewParams {
	var messages []openai.ChatCompletionMessageParamUnion
	if req.Options.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.Options.SystemPrompt))
	}
	for _, f := range req.Fragments {
		text := renderFragment(f)
		if text == "" {
			continue
		}
		switch f.Role {
		case core.RoleProvider:
			messages = append(messages, openai.AssistantMessage(text))
		default:
			messages = append(messages, openai.UserMessage(text))
		}
	}

	maxOutput := req.Options.MaxOutputTokens
	if maxOutput <= 0 || maxOutput > p.profile.MaxOutput {
		maxOutput = p.profile.MaxOutput
	}
	temperature := req.Options.Temperature
	if temperature == 0 {
		temperature = p.opts.Temperature
	}

	return openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               p.profile.Model,
		Temperature:         openai.Float(temperature),
		MaxCompletionTokens: openai.Int(int64(maxOutput)),
	}
}

// renderFragment turns a dedup reference into a short citation instead of
// re-sending the full content the backend already saw.
func renderFragment(f core.Fragment) string {
	if f.IsReference() {
		return fmt.Sprintf("[content %s previously provided above]", f.Ref)
	}
	return f.Text
}

func (p *Provider) classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return core.NewCallError(p.profile.ID, core.ErrTimeout, err)
	}
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == 429:
			return core.NewCallError(p.profile.ID, core.ErrRateLimited, err)
		case apierr.StatusCode == 503:
			return core.NewCallError(p.profile.ID, core.ErrUnavailable, err)
		}
	}
	return core.NewCallError(p.profile.ID, core.ErrBackend, err)
}
