package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const providerGemini = "gemini"

// GeminiProvider calls the generateContent REST endpoint with search and
// maps grounding enabled.
type GeminiProvider struct {
	BaseURL string
	APIKey  string
	Model   string
	System  string
	Client  *http.Client
}

func NewGeminiProvider(baseURL, apiKey, model string) *GeminiProvider {
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &GeminiProvider{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   model,
		System:  SystemInstruction,
		Client:  &http.Client{Timeout: 90 * time.Second},
	}
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiLatLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type geminiToolConfig struct {
	RetrievalConfig struct {
		LatLng geminiLatLng `json:"latLng"`
	} `json:"retrievalConfig"`
}

type geminiTool struct {
	GoogleSearch *struct{} `json:"googleSearch,omitempty"`
	GoogleMaps   *struct{} `json:"googleMaps,omitempty"`
}

type geminiReq struct {
	SystemInstruction *geminiContent    `json:"systemInstruction,omitempty"`
	Contents          []geminiContent   `json:"contents"`
	Tools             []geminiTool      `json:"tools,omitempty"`
	ToolConfig        *geminiToolConfig `json:"toolConfig,omitempty"`
}

type geminiResp struct {
	Candidates []struct {
		Content           geminiContent `json:"content"`
		GroundingMetadata *struct {
			GroundingChunks []GroundingChunk `json:"groundingChunks"`
		} `json:"groundingMetadata,omitempty"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}

func (p *GeminiProvider) buildRequest(req Request) geminiReq {
	contents := make([]geminiContent, 0, len(req.History)+1)
	for _, t := range req.History {
		text := historyText(t)
		if strings.TrimSpace(text) == "" {
			continue
		}
		role := "user"
		if t.Role == RoleModel {
			role = "model"
		}
		// generateContent rejects conversations that open with a model turn
		// (the standing disclaimer), so leading model entries are dropped.
		if len(contents) == 0 && role == "model" {
			continue
		}
		contents = append(contents, geminiContent{Role: role, Parts: []geminiPart{{Text: text}}})
	}

	text := req.NewMessage
	parts := make([]geminiPart, 0, 2)
	if req.Attachment != nil {
		parts = append(parts, geminiPart{InlineData: &geminiInlineData{
			MimeType: req.Attachment.MimeType,
			Data:     req.Attachment.Base64Data,
		}})
		if strings.TrimSpace(text) == "" {
			text = AttachmentOnlyPrompt
		}
	}
	parts = append(parts, geminiPart{Text: text})
	contents = append(contents, geminiContent{Role: "user", Parts: parts})

	out := geminiReq{
		Contents: contents,
		Tools:    []geminiTool{{GoogleSearch: &struct{}{}}, {GoogleMaps: &struct{}{}}},
	}
	if p.System != "" {
		out.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: p.System}}}
	}
	if req.Location != nil {
		tc := &geminiToolConfig{}
		tc.RetrievalConfig.LatLng = geminiLatLng{Latitude: req.Location.Lat, Longitude: req.Location.Lng}
		out.ToolConfig = tc
	}
	return out
}

func (p *GeminiProvider) Chat(ctx context.Context, req Request) (*Response, error) {
	if p.Client == nil {
		return nil, transportErr(providerGemini, 0, errors.New("http client is nil"))
	}
	if strings.TrimSpace(p.APIKey) == "" {
		return nil, missingCredential(providerGemini)
	}

	b, err := json.Marshal(p.buildRequest(req))
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", strings.TrimRight(p.BaseURL, "/"), p.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", p.APIKey)

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return nil, transportErr(providerGemini, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		var decoded geminiResp
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &decoded) == nil && decoded.Error != nil && decoded.Error.Message != "" {
			msg = decoded.Error.Message
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, transportErr(providerGemini, resp.StatusCode, errors.New(msg))
	}

	var decoded geminiResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, transportErr(providerGemini, resp.StatusCode, err)
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return nil, transportErr(providerGemini, decoded.Error.Code, errors.New(decoded.Error.Message))
	}
	if len(decoded.Candidates) == 0 {
		return nil, transportErr(providerGemini, resp.StatusCode, errors.New("empty response"))
	}

	cand := decoded.Candidates[0]
	var sb strings.Builder
	for _, part := range cand.Content.Parts {
		sb.WriteString(part.Text)
	}
	out := &Response{Text: sb.String()}
	if cand.GroundingMetadata != nil {
		out.GroundingChunks = cand.GroundingMetadata.GroundingChunks
	}
	return out, nil
}
