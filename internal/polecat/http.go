package polecat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jordanhubbard/rigs/pkg/models"
)

// chatMessage mirrors the OpenAI-compatible chat completion wire shape
// shared by Claude/Codex/Gemini/Ollama-facing gateways.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens uint64 `json:"total_tokens"`
	} `json:"usage"`
}

// HTTPAdapter calls an OpenAI-compatible chat completion endpoint.
type HTTPAdapter struct {
	Endpoint string
	APIKey   string
	Model    string
	Client   *http.Client
}

// NewHTTPAdapter returns an HTTPAdapter with a sane default client timeout;
// the per-call deadline still comes from ctx (Foreman's per-Polecat
// timeout), this is only an upper bound against a hung transport.
func NewHTTPAdapter(endpoint, apiKey, model string) *HTTPAdapter {
	return &HTTPAdapter{
		Endpoint: endpoint,
		APIKey:   apiKey,
		Model:    model,
		Client:   &http.Client{Timeout: 15 * time.Minute},
	}
}

func (h *HTTPAdapter) Execute(ctx context.Context, bead *models.Bead) (*Result, error) {
	start := time.Now()

	prompt := bead.OptimizedPrompt
	if prompt == "" {
		prompt = bead.Description
	}

	reqBody := chatRequest{
		Model: h.Model,
		Messages: []chatMessage{
			{Role: "user", Content: prompt},
		},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, &Error{Kind: Permanent, Message: err.Error()}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Kind: Permanent, Message: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if h.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+h.APIKey)
	}

	resp, err := h.Client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &Error{Kind: Timeout, Message: err.Error()}
		}
		return nil, &Error{Kind: Transient, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &Error{Kind: RateLimited, Message: string(body)}
	case resp.StatusCode >= 500:
		return nil, &Error{Kind: Transient, Message: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, body)}
	case resp.StatusCode >= 400:
		return nil, &Error{Kind: Permanent, Message: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, body)}
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &Error{Kind: Permanent, Message: "malformed response body: " + err.Error()}
	}
	if len(parsed.Choices) == 0 {
		return nil, &Error{Kind: Permanent, Message: "provider returned no choices"}
	}

	output := parsed.Choices[0].Message.Content
	if strings.TrimSpace(output) == "" {
		return nil, &Error{Kind: Permanent, Message: "provider returned empty output"}
	}

	return &Result{
		ActualTokens: parsed.Usage.TotalTokens,
		Output:       output,
		DurationMS:   uint64(time.Since(start).Milliseconds()),
	}, nil
}
