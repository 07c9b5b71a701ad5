package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const providerOllama = "ollama"

// OllamaProvider talks to a local Ollama server. Vision models (llava and
// friends) receive the live attachment through the images field. Ollama has
// no grounding, so responses never carry grounding chunks.
type OllamaProvider struct {
	BaseURL string
	Model   string
	System  string
	Client  *http.Client
}

func NewOllamaProvider(baseURL, model string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llava:latest"
	}
	return &OllamaProvider{
		BaseURL: baseURL,
		Model:   model,
		System:  SystemInstruction,
		Client:  &http.Client{Timeout: 90 * time.Second},
	}
}

type ollamaChatReq struct {
	Model    string      `json:"model"`
	Messages []ollamaMsg `json:"messages"`
	Stream   bool        `json:"stream"`
}

type ollamaMsg struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatResp struct {
	Message ollamaMsg `json:"message"`
	Error   string    `json:"error,omitempty"`
}

func (p *OllamaProvider) messages(req Request) []ollamaMsg {
	out := make([]ollamaMsg, 0, len(req.History)+2)
	if p.System != "" {
		out = append(out, ollamaMsg{Role: "system", Content: p.System})
	}
	for _, t := range req.History {
		role := "user"
		if t.Role == RoleModel {
			role = "assistant"
		}
		out = append(out, ollamaMsg{Role: role, Content: historyText(t)})
	}

	last := ollamaMsg{Role: "user", Content: req.NewMessage}
	if req.Attachment != nil {
		last.Images = []string{req.Attachment.Base64Data}
		if strings.TrimSpace(last.Content) == "" {
			last.Content = AttachmentOnlyPrompt
		}
	}
	if req.Location != nil {
		last.Content += fmt.Sprintf("\n\n(User location: %.6f,%.6f)", req.Location.Lat, req.Location.Lng)
	}
	return append(out, last)
}

func (p *OllamaProvider) Chat(ctx context.Context, req Request) (*Response, error) {
	if p.Client == nil {
		return nil, transportErr(providerOllama, 0, errors.New("http client is nil"))
	}

	b, err := json.Marshal(ollamaChatReq{
		Model:    p.Model,
		Stream:   false,
		Messages: p.messages(req),
	})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/api/chat", strings.TrimRight(p.BaseURL, "/"))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return nil, transportErr(providerOllama, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, transportErr(providerOllama, resp.StatusCode, errors.New(http.StatusText(resp.StatusCode)))
	}

	var decoded ollamaChatResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, transportErr(providerOllama, resp.StatusCode, err)
	}
	if decoded.Error != "" {
		return nil, transportErr(providerOllama, resp.StatusCode, errors.New(decoded.Error))
	}
	return &Response{Text: decoded.Message.Content}, nil
}
