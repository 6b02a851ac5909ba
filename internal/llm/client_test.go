package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient("openai", "", "", "gpt-4o-mini", 0, 0); err == nil {
		t.Fatal("want error for missing api key")
	}
	if _, err := NewClient("openai", "", "sk-x", "", 0, 0); err == nil {
		t.Fatal("want error for missing model")
	}
	if _, err := NewClient("mystery", "", "sk-x", "m", 0, 0); err == nil {
		t.Fatal("want error for unknown provider")
	}
	c, err := NewClient("", "", "sk-x", "m", 0, 0)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if c.Provider != ProviderOpenAI {
		t.Fatalf("default provider = %q", c.Provider)
	}
}

func TestChatOpenAIWireFormat(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"x","choices":[{"index":0,"message":{"role":"assistant","content":"hello there"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	c, err := NewClient("openai", srv.URL, "sk-test", "gpt-4o-mini", 100, 5*time.Second)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	text, err := c.Complete(context.Background(), "be brief", "say hello", 0.5)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if text != "hello there" {
		t.Fatalf("unexpected completion %q", text)
	}
	if gotAuth != "Bearer sk-test" {
		t.Fatalf("auth header %q", gotAuth)
	}
}

func TestChatOpenAIServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, err := NewClient("openai", srv.URL, "sk-test", "gpt-4o-mini", 0, 5*time.Second)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = c.Complete(context.Background(), "", "hi", 0)
	if err == nil {
		t.Fatal("want error on 429")
	}
	if !IsLikelyRateLimitError(err) {
		t.Fatalf("429 response not classified as rate limit: %v", err)
	}
}

func TestIsLikelyRateLimitError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("connection refused"), false},
		{"rate limit", errors.New("429 Too Many Requests"), true},
		{"quota", errors.New("monthly quota exceeded"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsLikelyRateLimitError(tc.err); got != tc.want {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestResolvedAnthropicBaseURL(t *testing.T) {
	cases := []struct{ in, want string }{
		{"", "https://api.anthropic.com/"},
		{"https://proxy.example.com", "https://proxy.example.com/"},
		{"https://proxy.example.com/v1", "https://proxy.example.com/"},
		{"https://proxy.example.com/v1/", "https://proxy.example.com/"},
	}
	for _, tc := range cases {
		if got := resolvedAnthropicBaseURL(tc.in); got != tc.want {
			t.Fatalf("resolvedAnthropicBaseURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
