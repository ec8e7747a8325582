package ai

import (
	"context"
	"strings"

	appcfg "github.com/mx-space/distill/internal/config"
	openaiclient "github.com/openai/openai-go/v2"
	openaioption "github.com/openai/openai-go/v2/option"
)

const defaultOpenAIModel = "gpt-4o-mini"

type openAIProvider struct {
	client openaiclient.Client
	model  string
}

func newOpenAIProvider(provider *appcfg.AIProvider) *openAIProvider {
	modelID := strings.TrimSpace(provider.DefaultModel)
	if modelID == "" {
		modelID = defaultOpenAIModel
	}

	opts := []openaioption.RequestOption{
		openaioption.WithAPIKey(strings.TrimSpace(provider.APIKey)),
		openaioption.WithMaxRetries(0),
	}
	if normalized := normalizeOpenAIBaseURL(provider.Endpoint); normalized != "" {
		opts = append(opts, openaioption.WithBaseURL(normalized))
	}

	return &openAIProvider{
		client: openaiclient.NewClient(opts...),
		model:  modelID,
	}
}

func (p *openAIProvider) Identity() ModelIdentity {
	return ModelIdentity{Provider: appcfg.ProviderOpenAI, Model: p.model}
}

func (p *openAIProvider) params(req Request) openaiclient.ChatCompletionNewParams {
	messages := make([]openaiclient.ChatCompletionMessageParamUnion, 0, 2)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, openaiclient.SystemMessage(req.System))
	}
	messages = append(messages, openaiclient.UserMessage(req.Prompt))

	params := openaiclient.ChatCompletionNewParams{
		Model:    openaiclient.ChatModel(p.model),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openaiclient.Int(int64(req.MaxTokens))
	}
	if req.Temperature != nil {
		params.Temperature = openaiclient.Float(*req.Temperature)
	}
	return params
}

func (p *openAIProvider) Generate(ctx context.Context, req Request) (*Completion, error) {
	resp, err := p.client.Chat.Completions.New(ctx, p.params(req))
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, ErrEmptyResponse
	}
	return &Completion{
		Text:         resp.Choices[0].Message.Content,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

func (p *openAIProvider) Stream(ctx context.Context, req Request, onChunk func(string)) (*Completion, error) {
	params := p.params(req)
	params.StreamOptions = openaiclient.ChatCompletionStreamOptionsParam{
		IncludeUsage: openaiclient.Bool(true),
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	out := &Completion{}
	var full strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		if chunk.Usage.TotalTokens > 0 {
			out.InputTokens = chunk.Usage.PromptTokens
			out.OutputTokens = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		token := chunk.Choices[0].Delta.Content
		full.WriteString(token)
		if onChunk != nil {
			onChunk(token)
		}
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}
	out.Text = full.String()
	if strings.TrimSpace(out.Text) == "" {
		return nil, ErrEmptyResponse
	}
	return out, nil
}
