package llm

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap/zaptest"

	"lessongate/internal/upstream"
)

func writeCompletion(t *testing.T, w http.ResponseWriter, content string) {
	t.Helper()
	resp := providerChatResponse{
		ID:      "chatcmpl-1",
		Object:  "chat.completion",
		Created: time.Unix(1_700_000_000, 0).Unix(),
		Model:   "gpt-4o-mini",
		Choices: []providerChatChoice{
			{
				Index:        0,
				Message:      ChatMessage{Role: RoleAssistant, Content: content},
				FinishReason: "stop",
			},
		},
		Usage: &providerUsage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5},
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		t.Errorf("encode response: %v", err)
	}
}

func TestNewClientValidation(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{}, zaptest.NewLogger(t))
	if err == nil {
		t.Fatalf("expected validation error, got nil")
	}
}

func TestChatCompletionSuccess(t *testing.T) {
	t.Parallel()

	var gotReq providerChatRequest
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}

		gotAuth = r.Header.Get("Authorization")
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		if err := json.Unmarshal(body, &gotReq); err != nil {
			t.Errorf("unmarshal request: %v", err)
		}
		writeCompletion(t, w, "response")
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL + "/", APIKey: "test-key"}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer closeClient(client)

	req := &ChatRequest{
		Model:       "gpt-4",
		Messages:    []ChatMessage{{Role: RoleUser, Content: "ping"}},
		Temperature: 0.3,
		MaxTokens:   50,
	}

	resp, err := client.ChatCompletion(context.Background(), req)
	if err != nil {
		t.Fatalf("ChatCompletion: %v", err)
	}

	if gotAuth != "Bearer test-key" {
		t.Fatalf("unexpected Authorization header: %s", gotAuth)
	}
	if gotReq.ResponseFormat != nil {
		t.Fatalf("plain requests must not ask for json_object")
	}
	if gotReq.Model != req.Model {
		t.Fatalf("expected model %s, got %s", req.Model, gotReq.Model)
	}
	if len(gotReq.Messages) != 1 || gotReq.Messages[0].Content != "ping" {
		t.Fatalf("unexpected request messages: %#v", gotReq.Messages)
	}
	if resp.Text() != "response" {
		t.Fatalf("unexpected response text: %q", resp.Text())
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 5 {
		t.Fatalf("usage not mapped correctly: %#v", resp.Usage)
	}
}

func TestCompleteUsesJSONMode(t *testing.T) {
	t.Parallel()

	var gotReq providerChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode: %v", err)
		}
		writeCompletion(t, w, `{"title":"Gravity"}`)
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL, APIKey: "k", Model: "test-model"}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer closeClient(client)

	text, err := client.Complete(context.Background(), "you write lessons", "gravity")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if text != `{"title":"Gravity"}` {
		t.Fatalf("unexpected text %q", text)
	}
	if gotReq.Model != "test-model" {
		t.Fatalf("default model not used: %s", gotReq.Model)
	}
	if gotReq.ResponseFormat == nil || gotReq.ResponseFormat.Type != "json_object" {
		t.Fatalf("expected json_object response format, got %#v", gotReq.ResponseFormat)
	}
	if len(gotReq.Messages) != 2 || gotReq.Messages[0].Role != RoleSystem {
		t.Fatalf("unexpected messages %#v", gotReq.Messages)
	}
	if gotReq.MaxTokens != DefaultMaxTokens {
		t.Fatalf("expected default max tokens, got %d", gotReq.MaxTokens)
	}
}

func TestChatCompletionValidationError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("server should not be called for invalid request")
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL, APIKey: "key"}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer closeClient(client)

	_, err = client.ChatCompletion(context.Background(), &ChatRequest{})
	if err == nil || !strings.Contains(err.Error(), "invalid request") {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestChatCompletionRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeCompletion(t, w, "ok")
	}))
	defer srv.Close()

	client, err := NewClient(Config{
		BaseURL:     srv.URL,
		APIKey:      "k",
		BaseBackoff: time.Millisecond,
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer closeClient(client)

	text, err := client.Complete(context.Background(), "sys", "hi")
	if err != nil || text != "ok" {
		t.Fatalf("unexpected result %q %v", text, err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 upstream calls, got %d", calls.Load())
	}
}

func TestChatCompletionProviderError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"auth"}}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL, APIKey: "k"}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer closeClient(client)

	_, err = client.Complete(context.Background(), "sys", "hi")
	var serr *upstream.StatusError
	if !errors.As(err, &serr) || serr.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401 StatusError, got %v", err)
	}
	if !strings.Contains(serr.Message, "bad key") {
		t.Fatalf("provider message lost: %q", serr.Message)
	}
}

func TestChatCompletionBreakerOpens(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client, err := NewClient(Config{
		BaseURL:     srv.URL,
		APIKey:      "k",
		MaxRetries:  1,
		BaseBackoff: time.Millisecond,
		Breaker:     upstream.BreakerConfig{FailureThreshold: 1, OpenTimeout: time.Minute},
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer closeClient(client)

	if _, err := client.Complete(context.Background(), "sys", "hi"); err == nil {
		t.Fatalf("expected first call to fail")
	}
	before := calls.Load()

	_, err = client.Complete(context.Background(), "sys", "hi")
	if !errors.Is(err, upstream.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if calls.Load() != before {
		t.Fatalf("open breaker must not reach the provider")
	}
}

func closeClient(c Client) {
	if closer, ok := c.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
}
