package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/dgallion1/devistree/internal/devis"
	"github.com/dgallion1/devistree/internal/doctree"
)

// DefaultURL is the Anthropic Messages API endpoint.
const DefaultURL = "https://api.anthropic.com/v1/messages"

// ErrEmptyResponse is returned when the model answers with no text.
var ErrEmptyResponse = errors.New("empty response from claude")

// Client calls the Anthropic Messages API to turn quote text into line items.
type Client struct {
	apiKey     string
	model      string
	url        string
	httpClient *http.Client

	// Stats receives the latency and token usage of every call. May be nil.
	Stats *LLMStats
}

func NewClient(apiKey, model, url string, stats *LLMStats) *Client {
	if url == "" {
		url = DefaultURL
	}
	return &Client{
		apiKey: apiKey,
		model:  model,
		url:    url,
		httpClient: &http.Client{
			Timeout: 200 * time.Second,
		},
		Stats: stats,
	}
}

// Model returns the model name sent with every request.
func (c *Client) Model() string { return c.model }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// ExtractLineItems sends one chunk prompt and returns the partial quote the
// model reconstructed from it. The result is raw: run it through
// MergeExtractions and SanitizeDocument before use.
func (c *Client) ExtractLineItems(ctx context.Context, prompt string) (*doctree.Node, error) {
	text, err := c.complete(ctx, []anthropicMessage{
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return nil, err
	}
	return parseExtraction(text)
}

// Correct asks the model to fix a reconstruction that failed the price
// checks. The conversation replays the original prompt and the previous
// answer, then lists the inconsistencies found.
func (c *Client) Correct(ctx context.Context, prompt string, previous *doctree.Node, report Report) (*doctree.Node, error) {
	prev, err := json.Marshal(previous)
	if err != nil {
		return nil, fmt.Errorf("marshal previous answer: %w", err)
	}
	text, err := c.complete(ctx, []anthropicMessage{
		{Role: "user", Content: prompt},
		{Role: "assistant", Content: string(prev)},
		{Role: "user", Content: BuildCorrectionPrompt(report)},
	})
	if err != nil {
		return nil, err
	}
	return parseExtraction(text)
}

// complete runs one Messages API call and returns the text of the first
// content block.
func (c *Client) complete(ctx context.Context, messages []anthropicMessage) (string, error) {
	reqBody := anthropicRequest{
		Model:     c.model,
		MaxTokens: 8192,
		System:    SystemPrompt,
		Messages:  messages,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("claude api: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return "", &RetryableError{
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("claude api status %d: %s", resp.StatusCode, truncate(string(respBody), 500))
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if c.Stats != nil {
		c.Stats.RecordCall(time.Since(start).Milliseconds(), apiResp.Usage.InputTokens, apiResp.Usage.OutputTokens)
	}
	if apiResp.Error != nil {
		return "", fmt.Errorf("claude error: %s: %s", apiResp.Error.Type, apiResp.Error.Message)
	}
	if len(apiResp.Content) == 0 || strings.TrimSpace(apiResp.Content[0].Text) == "" {
		return "", ErrEmptyResponse
	}
	return apiResp.Content[0].Text, nil
}

// parseExtraction accepts either a quote object or a bare array of line
// items, which is wrapped as the quote's product list.
func parseExtraction(text string) (*doctree.Node, error) {
	text = stripCodeBlock(text)
	n, err := doctree.Decode([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("parse line items json: %w (raw: %s)", err, truncate(text, 200))
	}
	switch {
	case n.IsObject():
		return n, nil
	case n.IsArray():
		return doctree.NewObject(doctree.Field{Key: devis.FieldLineItems, Value: n}), nil
	}
	return nil, fmt.Errorf("parse line items json: unexpected %s (raw: %s)", n.Kind(), truncate(text, 200))
}

var codeBlockRe = regexp.MustCompile("(?s)^```(?:json)?\\s*(.*?)\\s*```$")

func stripCodeBlock(s string) string {
	s = strings.TrimSpace(s)
	if m := codeBlockRe.FindStringSubmatch(s); len(m) > 1 {
		return m[1]
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// RetryableError indicates a transient failure that can be retried.
type RetryableError struct {
	StatusCode int
	Message    string
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable error (status %d): %s", e.StatusCode, truncate(e.Message, 200))
}

// Close releases resources.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}
