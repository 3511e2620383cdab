package news

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shockfeed/broker-bridge/internal/httpkit"
)

// chatMessage is one entry of a chat-completion request's messages array.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// responseFormat requests a JSON-mode completion so the model's content
// is guaranteed to parse as JSON rather than free-form prose.
type responseFormat struct {
	Type string `json:"type"`
}

// classifyRequest is an OpenAI-style chat-completion request: a model
// name, a messages array carrying the extraction prompt, and a
// structured-output directive.
type classifyRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat responseFormat `json:"response_format"`
}

// classifyResponse is the chat-completion response shape; the ticker
// list itself is JSON-encoded inside the first choice's message content.
type classifyResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

const classifyPromptTemplate = `From the following news article text, extract all relevant US stock market ticker symbols.
The article may contain noise, XML tags, or other non-relevant information.
Focus only on the ticker symbols (e.g., AAPL, GOOG, MSFT).
Return the symbols as a JSON-formatted list of strings. For example: ["TICK1", "TICK2"].
If no symbols are found, return an empty list [].

Article Text:
---
%s
---
`

// ClassifierExtractor implements the external-classifier extraction
// strategy: it sends the raw payload to a chat-completion endpoint as
// an extraction prompt and validates the structured response against
// the 1-5 uppercase-alphabetic token rule, discarding anything the
// model returns that doesn't fit.
type ClassifierExtractor struct {
	url     string
	model   string
	token   string
	client  *http.Client
	timeout time.Duration
}

// NewClassifierExtractor builds a ClassifierExtractor. timeout bounds
// the total request deadline; 0 uses a 15s default per the pipeline's
// design. model is the chat-completion model name sent in every request.
func NewClassifierExtractor(url, model, token string, timeout time.Duration) *ClassifierExtractor {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if model == "" {
		model = "gpt-3.5-turbo"
	}
	return &ClassifierExtractor{
		url:     url,
		model:   model,
		token:   token,
		timeout: timeout,
		client:  httpkit.NewClient(httpkit.WithTimeout(timeout)),
	}
}

// Extract posts payload to the classifier as a chat-completion request
// and returns the tickers it reports, after discarding any that fail
// the uppercase-alphabetic token rule.
func (c *ClassifierExtractor) Extract(ctx context.Context, payload string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqBody := classifyRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "user", Content: fmt.Sprintf(classifyPromptTemplate, payload)},
		},
		ResponseFormat: responseFormat{Type: "json_object"},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("news classifier: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("news classifier: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("news classifier: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 512)
		return nil, fmt.Errorf("news classifier: status %d: %s", resp.StatusCode, errBody)
	}

	var decoded classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("news classifier: decode response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return nil, fmt.Errorf("news classifier: response contained no choices")
	}

	var symbols []string
	content := decoded.Choices[0].Message.Content
	if err := json.Unmarshal([]byte(content), &symbols); err != nil {
		return nil, fmt.Errorf("news classifier: decode completion content as a JSON list: %w", err)
	}

	var valid []string
	for _, t := range symbols {
		if isTickerToken(t) {
			valid = append(valid, t)
		}
	}
	return dedupeTickers(valid), nil
}
