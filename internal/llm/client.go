// Package llm wraps the Anthropic messages API behind a small client with
// typed failure classification, so callers branch on error type rather than
// matching error text.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL     = "https://api.anthropic.com"
	defaultTimeout     = 60 * time.Second
	anthropicVersion   = "2023-06-01"
	defaultMaxTokens   = 1024
	defaultTemperature = 0.7
)

// Message is a single chat turn sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client communicates with an Anthropic-compatible messages endpoint.
type Client struct {
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	maxTokens   int
	temperature float64
}

// NewClient creates a Client with the given API key.
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:      apiKey,
		baseURL:     defaultBaseURL,
		httpClient:  &http.Client{Timeout: defaultTimeout},
		maxTokens:   defaultMaxTokens,
		temperature: defaultTemperature,
	}
}

// NewClientWithBaseURL creates a client pointing at a custom base URL (for testing).
func NewClientWithBaseURL(apiKey, baseURL string) *Client {
	c := NewClient(apiKey)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// ErrOverloaded marks an upstream capacity condition that is worth one
// retry against a fallback model.
var ErrOverloaded = errors.New("model overloaded")

// overloadedError carries the HTTP detail behind ErrOverloaded.
type overloadedError struct {
	status int
	reason string
}

func (e *overloadedError) Error() string {
	return fmt.Sprintf("model overloaded (HTTP %d): %s", e.status, e.reason)
}

func (e *overloadedError) Unwrap() error {
	return ErrOverloaded
}

// IsOverloaded reports whether err represents an upstream overload or
// unavailability condition, as opposed to a permanent failure.
func IsOverloaded(err error) bool {
	return errors.Is(err, ErrOverloaded)
}

type messagesRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends one messages request and returns the generated text.
// Overload conditions (HTTP 429/529 or an overloaded_error body) come back
// as an error satisfying IsOverloaded; everything else is fatal for this
// call. A context deadline is treated by callers like any other failure.
func (c *Client) Complete(ctx context.Context, model, system string, messages []Message) (string, error) {
	body, err := json.Marshal(messagesRequest{
		Model:       model,
		System:      system,
		Messages:    messages,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", classifyFailure(resp.StatusCode, respBody)
	}

	var mr messagesResponse
	if err := json.Unmarshal(respBody, &mr); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	text := collectText(mr)
	if text == "" {
		return "", fmt.Errorf("empty response from model %s", model)
	}
	return text, nil
}

func classifyFailure(status int, body []byte) error {
	var ae apiError
	reason := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &ae); err == nil && ae.Error.Message != "" {
		reason = ae.Error.Message
	}

	if status == http.StatusTooManyRequests || status == 529 || ae.Error.Type == "overloaded_error" {
		return &overloadedError{status: status, reason: reason}
	}
	return fmt.Errorf("unexpected status %d: %s", status, reason)
}

func collectText(mr messagesResponse) string {
	var parts []string
	for _, c := range mr.Content {
		if c.Type == "text" && c.Text != "" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "")
}
