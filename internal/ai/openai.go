package ai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider serves both OpenAI and any OpenAI-compatible endpoint
// (OpenRouter). Images go out as data-URL image parts; there is no grounding.
type OpenAIProvider struct {
	name   string
	client *openai.Client
	Model  string
	System string
	hasKey bool
}

// NewOpenAIProvider builds a client for api.openai.com, or baseURL when set.
func NewOpenAIProvider(baseURL, apiKey, model string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	cfg.HTTPClient = &http.Client{Timeout: 90 * time.Second}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIProvider{
		name:   "openai",
		client: openai.NewClientWithConfig(cfg),
		Model:  model,
		System: SystemInstruction,
		hasKey: strings.TrimSpace(apiKey) != "",
	}
}

// NewOpenRouterProvider is NewOpenAIProvider with OpenRouter's attribution
// headers.
func NewOpenRouterProvider(baseURL, apiKey, model, siteURL, appName string) *OpenAIProvider {
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	if model == "" {
		model = "openrouter/auto"
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = strings.TrimRight(baseURL, "/")
	headers := map[string]string{}
	if siteURL != "" {
		headers["HTTP-Referer"] = siteURL
	}
	if appName != "" {
		headers["X-Title"] = appName
	}
	cfg.HTTPClient = &http.Client{
		Timeout:   90 * time.Second,
		Transport: &headerTransport{headers: headers, base: http.DefaultTransport},
	}
	return &OpenAIProvider{
		name:   "openrouter",
		client: openai.NewClientWithConfig(cfg),
		Model:  model,
		System: SystemInstruction,
		hasKey: strings.TrimSpace(apiKey) != "",
	}
}

type headerTransport struct {
	headers map[string]string
	base    http.RoundTripper
}

func (t *headerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	for k, v := range t.headers {
		r.Header.Set(k, v)
	}
	return t.base.RoundTrip(r)
}

func (p *OpenAIProvider) messages(req Request) []openai.ChatCompletionMessage {
	system := p.System
	if req.Location != nil {
		system += fmt.Sprintf("\nThe user's current location is latitude %.6f, longitude %.6f.", req.Location.Lat, req.Location.Lng)
	}

	out := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	if strings.TrimSpace(system) != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, t := range req.History {
		role := openai.ChatMessageRoleUser
		if t.Role == RoleModel {
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: historyText(t)})
	}

	if req.Attachment == nil {
		return append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.NewMessage})
	}
	text := req.NewMessage
	if strings.TrimSpace(text) == "" {
		text = AttachmentOnlyPrompt
	}
	return append(out, openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser,
		MultiContent: []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: text},
			{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
				URL:    "data:" + req.Attachment.MimeType + ";base64," + req.Attachment.Base64Data,
				Detail: openai.ImageURLDetailAuto,
			}},
		},
	})
}

func (p *OpenAIProvider) Chat(ctx context.Context, req Request) (*Response, error) {
	if p.client == nil {
		return nil, transportErr(p.name, 0, errors.New("client not initialized"))
	}
	if !p.hasKey {
		return nil, missingCredential(p.name)
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.Model,
		Messages:    p.messages(req),
		Temperature: 0.2,
	})
	if err != nil {
		status := 0
		var apiErr *openai.APIError
		var reqErr *openai.RequestError
		switch {
		case errors.As(err, &apiErr):
			status = apiErr.HTTPStatusCode
		case errors.As(err, &reqErr):
			status = reqErr.HTTPStatusCode
		}
		return nil, transportErr(p.name, status, err)
	}
	if len(resp.Choices) == 0 {
		return nil, transportErr(p.name, 0, errors.New("empty response"))
	}
	return &Response{Text: resp.Choices[0].Message.Content}, nil
}
