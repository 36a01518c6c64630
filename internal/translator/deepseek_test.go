package translator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// completionServer fakes the chat-completions endpoint, replying to every
// request with the content produced by reply.
func completionServer(t *testing.T, reply func(system, user string) string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var system, user string
		for _, m := range req.Messages {
			switch m.Role {
			case "system":
				system = m.Content
			case "user":
				user = m.Content
			}
		}
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": reply(system, user)}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func newTestService(t *testing.T, srv *httptest.Server) *DeepSeek {
	t.Helper()
	return NewDeepSeek(Config{APIKey: "test-key", BaseURL: srv.URL}, nil)
}

func TestDeepSeek_TranslateBatch(t *testing.T) {
	srv := completionServer(t, func(system, user string) string {
		// Echo each section back with a marker so alignment is visible.
		parts := strings.Split(user, "\n"+Separator+"\n")
		for i := range parts {
			parts[i] = "译:" + parts[i]
		}
		return strings.Join(parts, Separator)
	})
	defer srv.Close()

	svc := newTestService(t, srv)
	got, err := svc.TranslateBatch(context.Background(), Request{
		Texts:      []string{"one", "two", "three"},
		SourceLang: "en",
		TargetLang: "zh-CN",
	})
	if err != nil {
		t.Fatalf("TranslateBatch: %v", err)
	}
	want := []string{"译:one", "译:two", "译:three"}
	if len(got) != len(want) {
		t.Fatalf("got %d sections, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("section %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDeepSeek_TranslateBatch_CountMismatch(t *testing.T) {
	srv := completionServer(t, func(_, _ string) string {
		return "only one section"
	})
	defer srv.Close()

	svc := newTestService(t, srv)
	got, err := svc.TranslateBatch(context.Background(), Request{
		Texts:      []string{"first", "second", "third"},
		SourceLang: "en",
		TargetLang: "fr",
	})
	if err != nil {
		t.Fatalf("TranslateBatch: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d sections, want 3", len(got))
	}
	// Missing sections fall back to their source texts.
	if got[0] != "only one section" {
		t.Errorf("section 0 = %q", got[0])
	}
	if got[1] != "second" || got[2] != "third" {
		t.Errorf("missing sections should carry source texts, got %q, %q", got[1], got[2])
	}
}

func TestDeepSeek_TranslateBatch_GlossaryInPrompt(t *testing.T) {
	var sawSystem string
	srv := completionServer(t, func(system, user string) string {
		sawSystem = system
		return user
	})
	defer srv.Close()

	svc := newTestService(t, srv)
	_, err := svc.TranslateBatch(context.Background(), Request{
		Texts:      []string{"text"},
		SourceLang: "en",
		TargetLang: "zh-CN",
		Glossary:   map[string]string{"gradient descent": "梯度下降"},
	})
	if err != nil {
		t.Fatalf("TranslateBatch: %v", err)
	}
	if !strings.Contains(sawSystem, "gradient descent → 梯度下降") {
		t.Errorf("glossary pair missing from system prompt:\n%s", sawSystem)
	}
	if !strings.Contains(sawSystem, "⟦TERM:") {
		t.Errorf("sentinel instruction missing from system prompt:\n%s", sawSystem)
	}
}

func TestDeepSeek_TranslateBatch_Empty(t *testing.T) {
	svc := NewDeepSeek(Config{APIKey: "k"}, nil)
	got, err := svc.TranslateBatch(context.Background(), Request{})
	if err != nil {
		t.Fatalf("TranslateBatch: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for empty batch, got %v", got)
	}
}

func TestDeepSeek_ExtractTerms_JSON(t *testing.T) {
	srv := completionServer(t, func(_, _ string) string {
		return "Here are the terms:\n" + `{"terms": [
			{"term": "TensorFlow", "frequency": 7, "reason": "product name"},
			{"term": "x", "frequency": 3},
			{"term": "skipped", "frequency": 2, "preserve": false},
			{"term": "Kubernetes", "frequency": 0}
		]}`
	})
	defer srv.Close()

	svc := newTestService(t, srv)
	got, err := svc.ExtractTerms(context.Background(), "sample text", "machine learning")
	if err != nil {
		t.Fatalf("ExtractTerms: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d: %v", len(got), got)
	}
	if got[0].Surface != "TensorFlow" || got[0].Frequency != 7 {
		t.Errorf("candidate 0 = %+v", got[0])
	}
	// Zero frequency is clamped to 1.
	if got[1].Surface != "Kubernetes" || got[1].Frequency != 1 {
		t.Errorf("candidate 1 = %+v", got[1])
	}
}

func TestDeepSeek_ExtractTerms_RegexFallback(t *testing.T) {
	srv := completionServer(t, func(_, _ string) string {
		return `I found term: "TensorFlow" and another term: "PyTorch" in the text.`
	})
	defer srv.Close()

	svc := newTestService(t, srv)
	got, err := svc.ExtractTerms(context.Background(), "sample", "")
	if err != nil {
		t.Fatalf("ExtractTerms: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates from fallback, got %d: %v", len(got), got)
	}
	if got[0].Surface != "TensorFlow" || got[1].Surface != "PyTorch" {
		t.Errorf("candidates = %+v", got)
	}
}
