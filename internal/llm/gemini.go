package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"

// Gemini calls the generateContent REST endpoint
type Gemini struct {
	apiKey  string
	model   string
	baseURL string
	timeout time.Duration
	client  *http.Client
}

// NewGemini creates a Gemini classifier
func NewGemini(apiKey, model, baseURL string, timeout time.Duration) *Gemini {
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Gemini{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		client:  &http.Client{},
	}
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	ResponseMimeType string  `json:"responseMimeType"`
	Temperature      float64 `json:"temperature"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// ClassifyReply implements Classifier
func (g *Gemini) ClassifyReply(ctx context.Context, text string, c *Context) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	payload := geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: BuildPrompt(text, c)}}}},
		GenerationConfig: geminiGenerationConfig{
			ResponseMimeType: "application/json",
			Temperature:      0.1,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", g.baseURL, g.model, url.QueryEscape(g.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, transportError(ctx, "gemini", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(ctx, "gemini", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, geminiStatusError(resp.StatusCode, respBody)
	}

	var parsed geminiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, &Error{Code: CodeInvalidResponse, Provider: "gemini", Message: "malformed response body", Err: err}
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return nil, &Error{Code: CodeInvalidResponse, Provider: "gemini", Message: "no candidates returned"}
	}

	return parseResult("gemini", parsed.Candidates[0].Content.Parts[0].Text)
}

func geminiStatusError(status int, body []byte) *Error {
	message := fmt.Sprintf("status %d: %s", status, strings.TrimSpace(string(body)))
	lower := strings.ToLower(string(body))

	switch {
	case status == http.StatusTooManyRequests && strings.Contains(lower, "quota"):
		return &Error{Code: CodeQuota, Provider: "gemini", Message: message}
	case status == http.StatusTooManyRequests:
		return &Error{Code: CodeRateLimit, Provider: "gemini", Message: message}
	case status == http.StatusGatewayTimeout:
		return &Error{Code: CodeTimeout, Provider: "gemini", Message: message}
	default:
		return &Error{Code: CodeProvider, Provider: "gemini", Message: message}
	}
}
