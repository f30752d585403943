package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ArticleClusterer/internal/config"
	"ArticleClusterer/internal/domain"
	"ArticleClusterer/internal/ports"
)

func testConfig(endpoint string) config.LLMConfig {
	return config.LLMConfig{
		Endpoint:     endpoint,
		APIKey:       "secret",
		SystemPrompt: "be terse",
		Timeout:      time.Second,
	}
}

func TestOpenAIComplete(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("unexpected auth header: %q", r.Header.Get("Authorization"))
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "gpt-test" || len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("unexpected request: %+v", req)
		}
		if req.ResponseFormat["type"] != "json_object" {
			t.Errorf("json mode not requested: %+v", req.ResponseFormat)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": `{"action":"ignore"}`}}},
		})
	}))
	defer server.Close()

	client := NewOpenAIClient(testConfig(server.URL))
	out, err := client.Complete(context.Background(), ports.Completion{Prompt: "decide", Model: "gpt-test", JSON: true})
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if out != `{"action":"ignore"}` {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestOllamaComplete(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req generateRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Stream || req.Format != "" || req.Options["num_predict"] != float64(64) {
			t.Errorf("unexpected request: %+v", req)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"response": "A short summary.", "done": true})
	}))
	defer server.Close()

	client := NewOllamaClient(testConfig(server.URL))
	out, err := client.Complete(context.Background(), ports.Completion{Prompt: "summarize", Model: "llama3", MaxTokens: 64})
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if out != "A short summary." {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestGeminiComplete(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1beta/models/gemini-test:generateContent" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("x-goog-api-key") != "secret" {
			t.Errorf("missing api key header")
		}
		var req geminiRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.SystemInstruction == nil || req.GenerationConfig.ResponseMimeType != "application/json" {
			t.Errorf("unexpected request: %+v", req)
		}
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"{\"action\":"},{"text":"\"ignore\"}"}]},"finishReason":"STOP"}]}`))
	}))
	defer server.Close()

	client := NewGeminiClient(testConfig(server.URL))
	out, err := client.Complete(context.Background(), ports.Completion{Prompt: "decide", Model: "gemini-test", JSON: true})
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if out != `{"action":"ignore"}` {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestCompleteErrorsAreProviderErrors(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer server.Close()

	clients := map[string]ports.TextGenerator{
		"openai": NewOpenAIClient(testConfig(server.URL)),
		"ollama": NewOllamaClient(testConfig(server.URL)),
		"gemini": NewGeminiClient(testConfig(server.URL)),
	}
	for name, c := range clients {
		_, err := c.Complete(context.Background(), ports.Completion{Prompt: "p", Model: "m"})
		if !errors.Is(err, domain.ErrProvider) {
			t.Fatalf("%s: expected provider error, got %v", name, err)
		}
		_, err = c.Complete(context.Background(), ports.Completion{Prompt: "p"})
		if !errors.Is(err, domain.ErrProvider) {
			t.Fatalf("%s: expected provider error for empty model, got %v", name, err)
		}
	}
}
