package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/unclebandit/wa-dispatch/internal/config"
)

var (
	ErrDisabled    = errors.New("paraphraser not configured")
	ErrEmptyOutput = errors.New("model returned empty content")
)

// HTTPClient is satisfied by *http.Client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Rewrite is a paraphrased text and the model that produced it.
type Rewrite struct {
	Text  string
	Model string
}

// Paraphraser rewrites the phrasing of a message.
type Paraphraser interface {
	Rewrite(ctx context.Context, text string) (*Rewrite, error)
}

// Disabled is used when no AI provider is configured.
type Disabled struct{}

func (Disabled) Rewrite(context.Context, string) (*Rewrite, error) { return nil, ErrDisabled }

const systemPrompt = `Você reescreve mensagens de WhatsApp em português do Brasil.
Mude apenas a forma de escrever, mantendo o mesmo sentido, tom e tamanho aproximado.
Trechos no formato [[N]] são dados do cliente: copie cada um exatamente como está, sem traduzir, remover ou duplicar.
Responda somente com a mensagem reescrita, sem aspas nem comentários.`

// Client calls an OpenAI-compatible chat completions endpoint, trying each
// configured model in order until one answers.
type Client struct {
	baseURL    string
	apiKey     string
	models     []string
	httpClient HTTPClient
	log        zerolog.Logger
}

// New returns Disabled when no provider URL is configured.
func New(cfg config.AIConfig, log zerolog.Logger) Paraphraser {
	if cfg.BaseURL == "" {
		return Disabled{}
	}
	return NewClient(cfg, nil, log)
}

func NewClient(cfg config.AIConfig, httpClient HTTPClient, log zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		models:     cfg.Models,
		httpClient: httpClient,
		log:        log.With().Str("component", "paraphraser").Logger(),
	}
}

func (c *Client) Rewrite(ctx context.Context, text string) (*Rewrite, error) {
	var errs []error
	for _, model := range c.models {
		out, err := c.complete(ctx, model, text)
		if err == nil {
			return &Rewrite{Text: out, Model: model}, nil
		}
		c.log.Debug().Err(err).Str("model", model).Msg("Model failed, trying next")
		errs = append(errs, fmt.Errorf("%s: %w", model, err))
		if ctx.Err() != nil {
			break
		}
	}
	if len(errs) == 0 {
		return nil, ErrDisabled
	}
	return nil, errors.Join(errs...)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

func (c *Client) complete(ctx context.Context, model, text string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: text},
		},
		Temperature: 0.7,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API returned non-OK status code %d: %s", resp.StatusCode, gjson.GetBytes(raw, "error.message").String())
	}

	out := strings.TrimSpace(gjson.GetBytes(raw, "choices.0.message.content").String())
	out = strings.Trim(out, `"“”`)
	if out == "" {
		return "", ErrEmptyOutput
	}
	return out, nil
}

var _ Paraphraser = (*Client)(nil)
