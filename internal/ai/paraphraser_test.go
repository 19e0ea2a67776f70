package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/wa-dispatch/internal/config"
)

func TestClient_FallsBackToNextModel(t *testing.T) {
	var models []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))

		var req chatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		models = append(models, req.Model)

		if req.Model == "primary" {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":" \"Oi [[1]], tudo bem?\" "}}]}`))
	}))
	defer srv.Close()

	c := NewClient(config.AIConfig{BaseURL: srv.URL, APIKey: "k", Models: []string{"primary", "backup"}, Timeout: time.Second}, nil, zerolog.Nop())
	out, err := c.Rewrite(context.Background(), "Olá [[1]], como vai?")
	require.NoError(t, err)

	assert.Equal(t, "Oi [[1]], tudo bem?", out.Text)
	assert.Equal(t, "backup", out.Model)
	assert.Equal(t, []string{"primary", "backup"}, models)
}

func TestClient_AllModelsFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":""}}]}`))
	}))
	defer srv.Close()

	c := NewClient(config.AIConfig{BaseURL: srv.URL, Models: []string{"a", "b"}, Timeout: time.Second}, nil, zerolog.Nop())
	_, err := c.Rewrite(context.Background(), "Olá")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEmptyOutput))
	assert.Contains(t, err.Error(), "a:")
	assert.Contains(t, err.Error(), "b:")
}

func TestDisabled(t *testing.T) {
	_, err := Disabled{}.Rewrite(context.Background(), "Olá")
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestNew_DisabledWithoutBaseURL(t *testing.T) {
	assert.IsType(t, Disabled{}, New(config.AIConfig{}, zerolog.Nop()))
	assert.IsType(t, &Client{}, New(config.AIConfig{BaseURL: "http://ai.local", Models: []string{"m"}}, zerolog.Nop()))
}
