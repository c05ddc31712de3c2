package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/example/masterybot/pkg/models"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"
)

// ChatGPT represents a client for the OpenAI chat completions API
type ChatGPT struct {
	apiKey         string
	baseURL        string
	model          string
	embeddingModel string
	maxTokens      int
	temperature    float64
	client         *http.Client
	limiter        *rate.Limiter
}

// New creates a new ChatGPT client. ratePerSecond <= 0 disables rate limiting.
func New(apiKey, model string, ratePerSecond float64) (*ChatGPT, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is not set")
	}
	if model == "" {
		model = defaultModel
	}
	limit := rate.Inf
	if ratePerSecond > 0 {
		limit = rate.Limit(ratePerSecond)
	}

	return &ChatGPT{
		apiKey:         apiKey,
		baseURL:        defaultBaseURL,
		model:          model,
		embeddingModel: "text-embedding-3-small",
		maxTokens:      400,
		temperature:    0.9,
		client:         &http.Client{Timeout: 30 * time.Second},
		limiter:        rate.NewLimiter(limit, 1),
	}, nil
}

// WithBaseURL points the client at another OpenAI-compatible endpoint
func (c *ChatGPT) WithBaseURL(url string) *ChatGPT {
	c.baseURL = strings.TrimRight(url, "/")
	return c
}

// Message represents a message in the ChatGPT conversation
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest represents a request to the ChatGPT API
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
}

// ChatResponse represents a response from the ChatGPT API
type ChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
}

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Error *apiError `json:"error,omitempty"`
}

// RequestCandidate asks the model for one practice item on topic at tier.
// hints are recent item texts the model is told not to repeat.
func (c *ChatGPT) RequestCandidate(ctx context.Context, topic string, tier models.Tier, hints []string) (models.Candidate, error) {
	prompt := fmt.Sprintf(
		"Write one %s practice problem on the topic '%s'. "+
			"Reply with a JSON object with the keys \"text\", \"answer\" and \"explanation\" and nothing else.",
		tier, topic,
	)
	if len(hints) > 0 {
		prompt += "\nDo not reuse the template, numbers or names of these problems:\n- " + strings.Join(hints, "\n- ")
	}

	request := ChatRequest{
		Model: c.model,
		Messages: []Message{
			{Role: "system", Content: "You write short, self-contained practice problems with a single correct answer."},
			{Role: "user", Content: prompt},
		},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	}

	var response ChatResponse
	if err := c.post(ctx, "/chat/completions", request, &response); err != nil {
		return models.Candidate{}, err
	}
	if response.Error != nil {
		return models.Candidate{}, fmt.Errorf("API error: %s", response.Error.Message)
	}
	if len(response.Choices) == 0 {
		return models.Candidate{}, fmt.Errorf("no response choices returned")
	}
	return ParseCandidate(response.Choices[0].Message.Content)
}

// Embed returns the embedding vector of text
func (c *ChatGPT) Embed(ctx context.Context, text string) ([]float64, error) {
	var response embeddingResponse
	if err := c.post(ctx, "/embeddings", embeddingRequest{Model: c.embeddingModel, Input: text}, &response); err != nil {
		return nil, err
	}
	if response.Error != nil {
		return nil, fmt.Errorf("API error: %s", response.Error.Message)
	}
	if len(response.Data) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return response.Data[0].Embedding, nil
}

func (c *ChatGPT) post(ctx context.Context, path string, body, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return timeoutOr(ctx, fmt.Errorf("failed to wait for rate limiter: %w", err))
	}

	requestData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(requestData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return timeoutOr(ctx, fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return timeoutOr(ctx, fmt.Errorf("failed to decode response (status %d): %w", resp.StatusCode, err))
	}
	return nil
}

// timeoutOr maps context expiry to ErrGenerationTimeout
func timeoutOr(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrGenerationTimeout, err)
	}
	return err
}

// ParseCandidate extracts a candidate from a model reply, tolerating code fences
func ParseCandidate(content string) (models.Candidate, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var c models.Candidate
	if err := json.Unmarshal([]byte(content), &c); err != nil {
		return models.Candidate{}, fmt.Errorf("failed to parse candidate: %w", err)
	}
	c.Text = strings.TrimSpace(c.Text)
	if c.Text == "" {
		return models.Candidate{}, fmt.Errorf("candidate has no text")
	}
	return c, nil
}
