// Package proxy sends chat completions to OpenRouter.
package proxy

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

	backoff "github.com/cenkalti/backoff/v4"
)

const (
	defaultBaseURL = "https://openrouter.ai/api/v1"
	defaultModel   = "openai/gpt-4o-mini"
	defaultTimeout = 60 * time.Second
	maxRetries     = 3
	initialBackoff = 500 * time.Millisecond

	// DefaultSystemPrompt frames every conversation.
	DefaultSystemPrompt = "You are a concise, friendly assistant in a chat app. Answer in the user's language."
)

// ErrNoAPIKey is returned by Complete when the client has no API key.
var ErrNoAPIKey = errors.New("openrouter: api key is not configured")

// Client communicates with the OpenRouter API.
type Client struct {
	apiKey         string
	model          string
	baseURL        string
	system         string
	initialBackoff time.Duration
	httpClient     *http.Client
	referer        string
	title          string
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURL points the client at another OpenAI-compatible endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithSystemPrompt replaces DefaultSystemPrompt.
func WithSystemPrompt(p string) Option {
	return func(c *Client) { c.system = p }
}

// WithInitialBackoff sets the first wait after a 429.
func WithInitialBackoff(d time.Duration) Option {
	return func(c *Client) { c.initialBackoff = d }
}

// NewClient creates an OpenRouter client. An empty model selects the default.
func NewClient(apiKey, model string, opts ...Option) *Client {
	if model == "" {
		model = defaultModel
	}
	c := &Client{
		apiKey:         apiKey,
		model:          model,
		baseURL:        defaultBaseURL,
		system:         DefaultSystemPrompt,
		initialBackoff: initialBackoff,
		httpClient:     &http.Client{Timeout: defaultTimeout},
		referer:        "https://github.com/kalambet/switchboard",
		title:          "switchboard",
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

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
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete answers prompt. history is a plain-text transcript of earlier
// turns and may be empty. Rate-limited requests are retried with
// exponential backoff.
func (c *Client) Complete(ctx context.Context, prompt, history string) (string, error) {
	if c.apiKey == "" {
		return "", ErrNoAPIKey
	}

	msgs := []chatMessage{{Role: "system", Content: c.system}}
	if strings.TrimSpace(history) != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: "Conversation so far:\n" + history})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: prompt})

	body, err := json.Marshal(chatRequest{Model: c.model, Messages: msgs})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.initialBackoff
	exp.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(exp, maxRetries-1), ctx)

	var reply string
	err = backoff.Retry(func() error {
		r, err := c.doChat(ctx, body)
		if err == nil {
			reply = r
			return nil
		}
		if isRateLimit(err) {
			return err
		}
		return backoff.Permanent(err)
	}, b)
	if err != nil {
		if isRateLimit(err) {
			return "", fmt.Errorf("rate limited after %d attempts: %w", maxRetries, err)
		}
		return "", err
	}
	return reply, nil
}

// rateLimitError is returned on HTTP 429.
type rateLimitError struct {
	status int
}

func (e *rateLimitError) Error() string {
	return fmt.Sprintf("rate limited (HTTP %d)", e.status)
}

func isRateLimit(err error) bool {
	var rl *rateLimitError
	return errors.As(err, &rl)
}

func (c *Client) doChat(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("HTTP-Referer", c.referer)
	req.Header.Set("X-Title", c.title)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", &rateLimitError{status: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(msg))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("openrouter: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 || out.Choices[0].Message.Content == "" {
		return "", errors.New("openrouter: empty completion")
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}
