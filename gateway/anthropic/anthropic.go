// Package anthropic provides a core.Provider backed by the Anthropic
// Messages API.
package anthropic

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/conclave-ai/conclave/core"
)

// Options configure the Anthropic provider adapter.
type Options struct {
	Temperature float64
	APIKey      string
}

// Provider wraps the Anthropic Messages API behind core.Provider.
type Provider struct {
	client  *anthropic.Client
	profile core.Profile
	opts    Options
}

// New creates an Anthropic provider using the official client.
func New(profile core.Profile, optFns ...func(o *Options)) *Provider {
	opts := Options{Temperature: 0.7}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)
	return newProvider(&client, profile, opts)
}

// NewFromClient creates an Anthropic provider from an existing client.
func NewFromClient(client *anthropic.Client, profile core.Profile, optFns ...func(o *Options)) *Provider {
	opts := Options{Temperature: 0.7}
	for _, fn := range optFns {
		fn(&opts)
	}
	return newProvider(client, profile, opts)
}

func newProvider(client *anthropic.Client, profile core.Profile, opts Options) *Provider {
	if profile.Model == "" {
		profile.Model = string(anthropic.ModelClaude3_5Sonnet20241022)
	}
	return &Provider{client: client, profile: profile, opts: opts}
}

// Profile implements core.Provider.
func (p *Provider) Profile() core.Profile { return p.profile }

// Send implements core.Provider with a single non-streaming message call.
func (p *Provider) Send(ctx context.Context, req core.Request) (*core.Result, error) {
	params := p.buildParams(req)

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, p.classify(ctx, err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.AsText().Text
		}
	}

	finishReason := "stop"
	if resp.StopReason != "" {
		finishReason = string(resp.StopReason)
	}

	return &core.Result{
		ProviderID:   p.profile.ID,
		Text:         text,
		FinishReason: finishReason,
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
	}, nil
}

func (p *Provider) buildParams(req core.Request) anthropic.MessageNewParams {
	var messages []anthropic.MessageParam
	for _, f := range req.Fragments {
		text := renderFragment(f)
		if text == "" {
			continue
		}
		switch f.Role {
		case core.RoleProvider:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(text)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))
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

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(p.profile.Model),
		Messages:    messages,
		MaxTokens:   int64(maxOutput),
		Temperature: anthropic.Float(temperature),
	}
	if req.Options.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.Options.SystemPrompt}}
	}
	return params
}

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
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		switch apierr.StatusCode {
		case 429:
			return core.NewCallError(p.profile.ID, core.ErrRateLimited, err)
		case 503, 529:
			return core.NewCallError(p.profile.ID, core.ErrUnavailable, err)
		}
	}
	return core.NewCallError(p.profile.ID, core.ErrBackend, err)
}
