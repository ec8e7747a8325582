package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"strings"

	appcfg "github.com/mx-space/distill/internal/config"
)

const defaultOpenRouterEndpoint = "https://openrouter.ai/api"

// compatibleProvider speaks the OpenAI chat-completions wire format over
// plain HTTP for self-hosted gateways and OpenRouter.
type compatibleProvider struct {
	kind     string
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
}

func newCompatibleProvider(provider *appcfg.AIProvider, client *http.Client) *compatibleProvider {
	kind := appcfg.NormalizeProviderType(provider.Type)
	endpoint := normalizeOpenAICompatibleEndpoint(provider.Endpoint)
	if kind == appcfg.ProviderOpenRouter && strings.TrimSpace(provider.Endpoint) == "" {
		endpoint = defaultOpenRouterEndpoint
	}
	model := strings.TrimSpace(provider.DefaultModel)
	if model == "" {
		model = defaultOpenAIModel
	}
	if client == nil {
		client = &http.Client{}
	}
	return &compatibleProvider{
		kind:     kind,
		endpoint: endpoint,
		apiKey:   strings.TrimSpace(provider.APIKey),
		model:    model,
		client:   client,
	}
}

func (p *compatibleProvider) Identity() ModelIdentity {
	return ModelIdentity{Provider: p.kind, Model: p.model}
}

type chatUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

func (p *compatibleProvider) newRequest(ctx context.Context, req Request, stream bool) (*http.Request, error) {
	messages := make([]map[string]string, 0, 2)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, map[string]string{"role": "system", "content": req.System})
	}
	messages = append(messages, map[string]string{"role": "user", "content": req.Prompt})

	payload := map[string]interface{}{
		"model":    p.model,
		"messages": messages,
	}
	if req.MaxTokens > 0 {
		payload["max_tokens"] = req.MaxTokens
	}
	if req.Temperature != nil {
		payload["temperature"] = *req.Temperature
	}
	if stream {
		payload["stream"] = true
		payload["stream_options"] = map[string]bool{"include_usage": true}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	return httpReq, nil
}

func (p *compatibleProvider) Generate(ctx context.Context, req Request) (*Completion, error) {
	httpReq, err := p.newRequest(ctx, req, false)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, newStatusError(resp, respBody)
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage chatUsage `json:"usage"`
		Error *struct {
			Message string `json:"message"`
			Code    int    `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode chat completion: %w", err)
	}
	// OpenRouter reports some upstream failures with a 200 and an error body.
	if result.Error != nil && strings.TrimSpace(result.Error.Message) != "" {
		code := result.Error.Code
		if code == 0 {
			code = http.StatusBadGateway
		}
		return nil, &StatusError{StatusCode: code, Message: result.Error.Message}
	}
	if len(result.Choices) == 0 || strings.TrimSpace(result.Choices[0].Message.Content) == "" {
		return nil, ErrEmptyResponse
	}
	return &Completion{
		Text:         result.Choices[0].Message.Content,
		InputTokens:  result.Usage.PromptTokens,
		OutputTokens: result.Usage.CompletionTokens,
	}, nil
}

func (p *compatibleProvider) Stream(ctx context.Context, req Request, onChunk func(string)) (*Completion, error) {
	httpReq, err := p.newRequest(ctx, req, true)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, newStatusError(resp, respBody)
	}

	out := &Completion{}
	var full strings.Builder
	reader := bufio.NewReader(resp.Body)
	for {
		line, readErr := reader.ReadString('\n')
		if done := p.consumeLine(strings.TrimSpace(line), out, &full, onChunk); done {
			break
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return nil, readErr
		}
	}

	out.Text = full.String()
	if strings.TrimSpace(out.Text) == "" {
		return nil, ErrEmptyResponse
	}
	return out, nil
}

// consumeLine handles one SSE line and reports whether the stream is done.
func (p *compatibleProvider) consumeLine(line string, out *Completion, full *strings.Builder, onChunk func(string)) bool {
	if !strings.HasPrefix(line, "data:") {
		return false
	}
	data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if data == "" {
		return false
	}
	if data == "[DONE]" {
		return true
	}

	var event struct {
		Choices []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
		} `json:"choices"`
		Usage *chatUsage `json:"usage"`
	}
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return false
	}
	if event.Usage != nil {
		out.InputTokens = event.Usage.PromptTokens
		out.OutputTokens = event.Usage.CompletionTokens
	}
	if len(event.Choices) == 0 || event.Choices[0].Delta.Content == "" {
		return false
	}

	token := event.Choices[0].Delta.Content
	full.WriteString(token)
	if onChunk != nil {
		onChunk(token)
	}
	return false
}

func normalizeOpenAIBaseURL(raw string) string {
	base := strings.TrimSpace(raw)
	if base == "" {
		return ""
	}
	parsed, err := neturl.Parse(base)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return strings.TrimRight(base, "/")
	}

	path := strings.TrimRight(parsed.Path, "/")
	if !strings.HasSuffix(path, "/v1") {
		path += "/v1"
	}
	parsed.Path = path
	return strings.TrimRight(parsed.String(), "/")
}

func normalizeOpenAICompatibleEndpoint(raw string) string {
	base := strings.TrimSpace(raw)
	if base == "" {
		return "https://api.openai.com"
	}

	parsed, err := neturl.Parse(base)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return strings.TrimSuffix(strings.TrimRight(base, "/"), "/v1")
	}
	parsed.Path = strings.TrimSuffix(strings.TrimRight(parsed.Path, "/"), "/v1")
	return strings.TrimRight(parsed.String(), "/")
}
