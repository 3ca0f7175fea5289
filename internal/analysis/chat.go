package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Message is one chat turn sent to an OpenAI-compatible endpoint.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completion is the first choice of a chat completion plus any citations the
// provider attached (search-backed models return them).
type Completion struct {
	Content   string
	Citations []string
}

// ChatClient posts chat completions to an OpenAI-compatible API.
type ChatClient struct {
	Endpoint    string
	Model       string
	APIKey      string
	MaxTokens   int
	Temperature float64
	HTTPClient  *http.Client
}

// NewChatClient builds a client with a bounded HTTP timeout.
func NewChatClient(endpoint, model, apiKey string, timeout time.Duration) *ChatClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &ChatClient{
		Endpoint:   endpoint,
		Model:      model,
		APIKey:     apiKey,
		MaxTokens:  2000,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Citations []string `json:"citations"`
}

// Complete sends messages and returns the first choice.
func (c *ChatClient) Complete(ctx context.Context, messages ...Message) (Completion, error) {
	if c == nil || c.APIKey == "" || c.Endpoint == "" || c.Model == "" {
		return Completion{}, fmt.Errorf("chat client: %w", ErrNotConfigured)
	}
	body, err := json.Marshal(chatRequest{
		Model:       c.Model,
		Messages:    messages,
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
	})
	if err != nil {
		return Completion{}, fmt.Errorf("marshal chat payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Completion{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Completion{}, fmt.Errorf("send chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Completion{}, fmt.Errorf("chat error %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Completion{}, fmt.Errorf("decode chat response: %w", err)
	}
	if len(out.Choices) == 0 {
		return Completion{Citations: out.Citations}, fmt.Errorf("chat response has no choices")
	}
	return Completion{
		Content:   strings.TrimSpace(out.Choices[0].Message.Content),
		Citations: out.Citations,
	}, nil
}

// jsonArray returns the text between the first '[' and the last ']'.
func jsonArray(s string) (string, bool) {
	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start == -1 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}
