package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/unclebandit/wa-dispatch/internal/config"
	"github.com/unclebandit/wa-dispatch/internal/model"
)

// HTTPClient is satisfied by *http.Client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// SendResult is what the provider returned for an accepted message.
type SendResult struct {
	MessageID string
	Raw       []byte
}

// Gateway sends WhatsApp messages through a tenant's instance.
type Gateway interface {
	SendText(ctx context.Context, inst model.Instance, phone, text string) (*SendResult, error)
	SendMedia(ctx context.Context, inst model.Instance, phone, mediaURL, mediaType, caption string) (*SendResult, error)
}

// StatusError is returned for any non-2xx provider response.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 256 {
		body = body[:256]
	}
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, body)
}

// Client talks to an Evolution-style HTTP API: one path per instance, key in the apikey header.
type Client struct {
	baseURL    string
	httpClient HTTPClient
	log        zerolog.Logger
}

func NewClient(cfg config.WhatsAppConfig, httpClient HTTPClient, log zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: httpClient,
		log:        log.With().Str("component", "whatsapp").Logger(),
	}
}

type textRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

type mediaRequest struct {
	Number    string `json:"number"`
	MediaType string `json:"mediatype"`
	Media     string `json:"media"`
	Caption   string `json:"caption,omitempty"`
}

func (c *Client) SendText(ctx context.Context, inst model.Instance, phone, text string) (*SendResult, error) {
	return c.post(ctx, inst, "/message/sendText/", textRequest{Number: phone, Text: text})
}

func (c *Client) SendMedia(ctx context.Context, inst model.Instance, phone, mediaURL, mediaType, caption string) (*SendResult, error) {
	if mediaType == "" {
		mediaType = "image"
	}
	return c.post(ctx, inst, "/message/sendMedia/", mediaRequest{
		Number:    phone,
		MediaType: mediaType,
		Media:     mediaURL,
		Caption:   caption,
	})
}

func (c *Client) post(ctx context.Context, inst model.Instance, path string, payload any) (*SendResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path+url.PathEscape(inst.Name), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", inst.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Warn().Int("status", resp.StatusCode).Str("instance", inst.Name).Msg("Provider rejected message")
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: raw}
	}

	return &SendResult{MessageID: messageID(raw), Raw: raw}, nil
}

// messageID picks the provider id out of the known response shapes.
func messageID(raw []byte) string {
	for _, path := range []string{"key.id", "messageId", "id", "data.key.id"} {
		if v := gjson.GetBytes(raw, path); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

var _ Gateway = (*Client)(nil)
