package analysis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bobby854854854/LexiSense/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCompleter(t *testing.T) {
	ctx := context.Background()

	c, err := NewCompleter(ctx, &config.AIConfig{Provider: "openai", APIKey: "sk-test", Model: "gpt-4o"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAICompleter{}, c)

	_, err = NewCompleter(ctx, &config.AIConfig{Provider: "gemini"})
	assert.Error(t, err, "gemini needs an api key")

	_, err = NewCompleter(ctx, &config.AIConfig{Provider: "vertex"})
	assert.Error(t, err, "vertex needs project and location")

	_, err = NewCompleter(ctx, &config.AIConfig{Provider: "llama"})
	assert.Error(t, err)
}

func TestOpenAICompleter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
			ResponseFormat struct {
				Type string `json:"type"`
			} `json:"response_format"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o", body.Model)
		assert.Equal(t, "json_object", body.ResponseFormat.Type)
		require.Len(t, body.Messages, 2)
		assert.Equal(t, "system", body.Messages[0].Role)
		assert.Equal(t, "the instruction", body.Messages[0].Content)
		assert.Equal(t, "user", body.Messages[1].Role)
		assert.Equal(t, "the contract", body.Messages[1].Content)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"chatcmpl-1","object":"chat.completion","model":"gpt-4o",
			"choices":[{"index":0,"message":{"role":"assistant","content":"{\"riskLevel\":\"low\"}"},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	c := NewOpenAICompleter(&config.AIConfig{APIKey: "sk-test", Model: "gpt-4o", BaseURL: server.URL + "/v1"})
	out, err := c.Complete(context.Background(), "the instruction", "the contract")
	require.NoError(t, err)
	assert.Equal(t, `{"riskLevel":"low"}`, out)
}

func TestOpenAICompleterNoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"chatcmpl-1","object":"chat.completion","choices":[]}`))
	}))
	defer server.Close()

	c := NewOpenAICompleter(&config.AIConfig{APIKey: "sk-test", Model: "gpt-4o", BaseURL: server.URL + "/v1"})
	out, err := c.Complete(context.Background(), "s", "d")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestOpenAICompleterServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer server.Close()

	c := NewOpenAICompleter(&config.AIConfig{APIKey: "sk-test", Model: "gpt-4o", BaseURL: server.URL + "/v1"})
	_, err := c.Complete(context.Background(), "s", "d")
	assert.Error(t, err)
}
