package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/applaudehq/applaude-orchestrator/internal/config"
	"github.com/applaudehq/applaude-orchestrator/internal/prompts"
)

type fakeBackend struct {
	status   int
	text     string
	requests []map[string]interface{}
}

func (f *fakeBackend) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.requests = append(f.requests, body)

		if f.status != 0 && f.status != http.StatusOK {
			w.WriteHeader(f.status)
			_, _ = w.Write([]byte(`{"type":"error","error":{"type":"api_error","message":"boom"}}`))
			return
		}

		resp := map[string]interface{}{
			"id":          "msg_test",
			"type":        "message",
			"role":        "assistant",
			"model":       "claude-test",
			"stop_reason": "end_turn",
			"content": []map[string]interface{}{
				{"type": "text", "text": f.text},
			},
			"usage": map[string]int{"input_tokens": 10, "output_tokens": 20},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func newGateway(t *testing.T, backend *fakeBackend) *Gateway {
	t.Helper()
	srv := httptest.NewServer(backend.handler())
	t.Cleanup(srv.Close)

	g, err := New(config.AnthropicConfig{
		APIKey:         "test-key",
		Model:          "claude-test",
		TimeoutSeconds: 10,
	}, prompts.NewLoader(), option.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func TestNew_RequiresAPIKey(t *testing.T) {
	if _, err := New(config.AnthropicConfig{}, nil); err == nil {
		t.Error("missing api key should be rejected")
	}
}

func TestGateway_PlanTests(t *testing.T) {
	backend := &fakeBackend{text: "import pytest\n\ndef test_checkout(): ..."}
	g := newGateway(t, backend)

	out, err := g.PlanTests(context.Background(), "src/app.jsx", "package.json: react", "FULL_STACK")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "test_checkout") {
		t.Errorf("unexpected output %q", out)
	}

	if len(backend.requests) != 1 {
		t.Fatalf("requests = %d, want 1", len(backend.requests))
	}
	req := backend.requests[0]
	// The planner carries the largest budget
	if got := req["max_tokens"].(float64); got != 4096 {
		t.Errorf("max_tokens = %v, want 4096", got)
	}
}

func TestGateway_FixFile_Budget(t *testing.T) {
	backend := &fakeBackend{text: "def checkout(): return 0"}
	g := newGateway(t, backend)

	if _, err := g.FixFile(context.Background(), "checkout.py", "TypeError", "def checkout(): crash"); err != nil {
		t.Fatal(err)
	}
	if got := backend.requests[0]["max_tokens"].(float64); got != 1024 {
		t.Errorf("max_tokens = %v, want 1024", got)
	}
}

func TestGateway_Summarize_DelimiterInPrompt(t *testing.T) {
	backend := &fakeBackend{text: "report\n" + prompts.ScribeDelimiter + "\npr body"}
	g := newGateway(t, backend)

	out, err := g.Summarize(context.Background(), "fixed 2 of 2", 2)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, prompts.ScribeDelimiter) {
		t.Error("scribe output should carry the delimiter through")
	}

	msgs := backend.requests[0]["messages"].([]interface{})
	first := msgs[0].(map[string]interface{})
	content, _ := json.Marshal(first["content"])
	if !strings.Contains(string(content), prompts.ScribeDelimiter) {
		t.Error("scribe user prompt must instruct the delimiter")
	}
}

func TestGateway_NonOKIsTypedFailure(t *testing.T) {
	backend := &fakeBackend{status: http.StatusInternalServerError}
	g := newGateway(t, backend)

	_, err := g.PlanTests(context.Background(), "s", "m", "FULL_STACK")
	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("err = %v, want GenerationError", err)
	}
	if genErr.Role != RolePlanner {
		t.Errorf("Role = %s, want planner", genErr.Role)
	}
}

func TestGateway_EmptyContentIsTypedFailure(t *testing.T) {
	backend := &fakeBackend{text: "   \n"}
	g := newGateway(t, backend)

	_, err := g.FixFile(context.Background(), "p", "log", "content")
	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("err = %v, want GenerationError for missing content", err)
	}
}
