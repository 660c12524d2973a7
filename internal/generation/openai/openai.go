package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"agrirag/internal/domain"
	"agrirag/internal/generation"
	"agrirag/internal/httpretry"
)

// Client calls an OpenAI-compatible /chat/completions endpoint.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	http        *httpretry.Client
}

type Config struct {
	BaseURL     string
	APIKeyEnv   string
	Model       string
	Temperature float64
	Timeout     time.Duration
	// AllowEmptyKey permits keyless endpoints such as a local Ollama server.
	AllowEmptyKey bool
}

// NewClient fails with a configuration error when the API key is missing.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKeyEnv == "" {
		cfg.APIKeyEnv = "OPENAI_API_KEY"
	}
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" && !cfg.AllowEmptyKey {
		return nil, domain.Configurationf("missing API key in env %s", cfg.APIKeyEnv)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-3.5-turbo"
	}
	t := cfg.Timeout
	if t == 0 {
		t = 60 * time.Second
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      key,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		http:        httpretry.New(t, 3),
	}, nil
}

func (c *Client) Name() string { return "openai:" + c.model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Generate sends the system instructions and prompt and returns the first choice.
func (c *Client) Generate(ctx context.Context, req generation.Request) (string, error) {
	messages := make([]chatMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})
	data, err := json.Marshal(chatRequest{Model: c.model, Messages: messages, Temperature: c.temperature})
	if err != nil {
		return "", err
	}
	resp, err := c.http.PostJSON(ctx, httpretry.JoinURL(c.baseURL, "chat/completions"), c.apiKey, data)
	if err != nil {
		return "", err
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", domain.Wrap(domain.ErrConfiguration, "openai chat rejected credentials", errors.New(resp.Status))
	}

	var out chatResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		if resp.StatusCode >= 300 {
			return "", fmt.Errorf("openai chat failed: %s", resp.Status)
		}
		return "", fmt.Errorf("decoding chat response: %w", err)
	}
	if resp.StatusCode >= 300 {
		if out.Error != nil && out.Error.Message != "" {
			return "", fmt.Errorf("openai chat failed: %s: %s", resp.Status, out.Error.Message)
		}
		return "", fmt.Errorf("openai chat failed: %s", resp.Status)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("openai chat returned no choices")
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

var _ generation.Generator = (*Client)(nil)
