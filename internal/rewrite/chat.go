package rewrite

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chaz8081/dictaflow/internal/backend"
)

// ChatConfig configures a chat completion backend.
type ChatConfig struct {
	BaseURL     string
	APIKey      string // empty or "ollama" sends no Authorization header
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	Label       string // display name
}

// Chat rewrites through an OpenAI-compatible /chat/completions endpoint.
type Chat struct {
	cfg    ChatConfig
	client *http.Client
}

// NewChat creates a chat backend. A nil client uses http.DefaultClient.
func NewChat(cfg ChatConfig, client *http.Client) *Chat {
	if client == nil {
		client = http.DefaultClient
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 500
	}
	if cfg.Label == "" {
		cfg.Label = "Chat"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Chat{cfg: cfg, client: client}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Rewrite sends the rendered template as the system message and the raw
// text as the user message.
func (c *Chat) Rewrite(ctx context.Context, req Request) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: Render(req.Template, req.Text, req.AppContext, req.Language)},
			{Role: "user", Content: req.Text},
		},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("rewrite: encode request: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/chat/completions", body, c.cfg.Timeout)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("rewrite: %w: decode response: %v", backend.ErrInvalid, err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("rewrite: %w: no choices in response", backend.ErrInvalid)
	}
	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("rewrite: %w: empty completion", backend.ErrInvalid)
	}
	slog.Debug("[rewrite] completion", "backend", c.cfg.Label, "model", c.cfg.Model, "text", text)
	return text, nil
}

// Available probes local servers and requires a key for remote ones.
func (c *Chat) Available(ctx context.Context) bool {
	if !c.isLocal() {
		return c.cfg.APIKey != ""
	}
	resp, err := c.do(ctx, http.MethodGet, "/models", nil, 3*time.Second)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// Name implements Backend.
func (c *Chat) Name() string {
	return c.cfg.Label
}

// Models lists the model IDs the server offers.
func (c *Chat) Models(ctx context.Context) ([]string, error) {
	resp, err := c.do(ctx, http.MethodGet, "/models", nil, 10*time.Second)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("rewrite: %w: decode models: %v", backend.ErrInvalid, err)
	}
	ids := make([]string, 0, len(out.Data))
	for _, m := range out.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// do sends a request and returns the response once it has a 2xx status.
// The caller closes the body.
func (c *Chat) do(ctx context.Context, method, path string, body []byte, timeout time.Duration) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("rewrite: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key := c.cfg.APIKey; key != "" && key != "ollama" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("rewrite: %w", backend.Transport(err))
	}
	if err := backend.CheckResponse(resp); err != nil {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("rewrite: %w", err)
	}
	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func (c *Chat) isLocal() bool {
	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// cancelBody releases the request context when the body is closed.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
