package ai

import (
	"context"
	"strings"

	anthropicclient "github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	appcfg "github.com/mx-space/distill/internal/config"
)

const defaultAnthropicModel = "claude-haiku-4-5-20251001"

type anthropicProvider struct {
	client anthropicclient.Client
	model  string
}

func newAnthropicProvider(provider *appcfg.AIProvider) *anthropicProvider {
	modelID := strings.TrimSpace(provider.DefaultModel)
	if modelID == "" {
		modelID = defaultAnthropicModel
	}

	opts := []anthropicoption.RequestOption{
		anthropicoption.WithAPIKey(strings.TrimSpace(provider.APIKey)),
		anthropicoption.WithMaxRetries(0),
	}
	if endpoint := strings.TrimSpace(provider.Endpoint); endpoint != "" {
		opts = append(opts, anthropicoption.WithBaseURL(strings.TrimRight(endpoint, "/")))
	}

	return &anthropicProvider{
		client: anthropicclient.NewClient(opts...),
		model:  modelID,
	}
}

func (p *anthropicProvider) Identity() ModelIdentity {
	return ModelIdentity{Provider: appcfg.ProviderAnthropic, Model: p.model}
}

func (p *anthropicProvider) params(req Request) anthropicclient.MessageNewParams {
	params := anthropicclient.MessageNewParams{
		Model:     anthropicclient.Model(p.model),
		MaxTokens: int64(req.MaxTokens),
		Messages: []anthropicclient.MessageParam{
			anthropicclient.NewUserMessage(anthropicclient.NewTextBlock(req.Prompt)),
		},
	}
	if strings.TrimSpace(req.System) != "" {
		params.System = []anthropicclient.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropicclient.Float(*req.Temperature)
	}
	return params
}

func (p *anthropicProvider) Generate(ctx context.Context, req Request) (*Completion, error) {
	msg, err := p.client.Messages.New(ctx, p.params(req))
	if err != nil {
		return nil, err
	}

	var full strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			full.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(full.String()) == "" {
		return nil, ErrEmptyResponse
	}
	return &Completion{
		Text:         full.String(),
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
	}, nil
}

func (p *anthropicProvider) Stream(ctx context.Context, req Request, onChunk func(string)) (*Completion, error) {
	stream := p.client.Messages.NewStreaming(ctx, p.params(req))
	defer stream.Close()

	acc := anthropicclient.Message{}
	var full strings.Builder
	for stream.Next() {
		event := stream.Current()
		if err := acc.Accumulate(event); err != nil {
			return nil, err
		}
		delta, ok := event.AsAny().(anthropicclient.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		text, ok := delta.Delta.AsAny().(anthropicclient.TextDelta)
		if !ok || text.Text == "" {
			continue
		}
		full.WriteString(text.Text)
		if onChunk != nil {
			onChunk(text.Text)
		}
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(full.String()) == "" {
		return nil, ErrEmptyResponse
	}
	return &Completion{
		Text:         full.String(),
		InputTokens:  acc.Usage.InputTokens,
		OutputTokens: acc.Usage.OutputTokens,
	}, nil
}
