package services

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestParseWordList(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr bool
	}{
		{"plain array", `["28510500", "Altoona", "104.67"]`, []string{"28510500", "Altoona", "104.67"}, false},
		{"fenced with json tag", "```json\n[\"X\"]\n```", []string{"X"}, false},
		{"fenced without tag", "```\n[\"X\", \"Y\"]\n```", []string{"X", "Y"}, false},
		{"fenced single line", "```json[\"X\"]```", []string{"X"}, false},
		{"surrounding whitespace", "  \n[\"X\"]\n ", []string{"X"}, false},
		{"empty array", `[]`, []string{}, false},
		{"non-string elements dropped", `["John", 42, null, "Doe"]`, []string{"John", "Doe"}, false},
		{"refusal text", "I cannot help with that", nil, true},
		{"object instead of array", `{"words": ["X"]}`, nil, true},
		{"null", `null`, nil, true},
		{"truncated", `["X", "Y"`, nil, true},
		{"prose around array", `Here you go: ["X"]`, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseWordList(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseWordList(%q) = %v, want error", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseWordList(%q) error = %v", tt.input, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseWordList(%q) = %#v, want %#v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseWordListFenceEquivalence(t *testing.T) {
	fenced, err := ParseWordList("```json\n[\"X\"]\n```")
	if err != nil {
		t.Fatal(err)
	}
	plain, err := ParseWordList(`["X"]`)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(fenced, plain) {
		t.Errorf("fenced %v != plain %v", fenced, plain)
	}
}

func TestBuildPIIPrompt(t *testing.T) {
	prompt := buildPIIPrompt("Invoice 28510500 Altoona", []string{"names", "PO numbers"})
	for _, want := range []string{
		"Invoice 28510500 Altoona",
		"names, PO numbers",
		"Return only a JSON list of exact words to mask.",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

// chatServer fakes the chat completions endpoint and captures the last request.
type chatServer struct {
	status  int
	content string
	last    map[string]any
}

func (c *chatServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/chat/completions" {
		http.NotFound(w, r)
		return
	}
	body, _ := io.ReadAll(r.Body)
	_ = json.Unmarshal(body, &c.last)

	w.Header().Set("Content-Type", "application/json")
	if c.status != 0 && c.status != http.StatusOK {
		w.WriteHeader(c.status)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
		return
	}
	resp := map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   "gpt-4o-mini",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]string{"role": "assistant", "content": c.content},
			"finish_reason": "stop",
		}},
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func newTestAIService(t *testing.T, fake *chatServer) *AIService {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return NewAIService("sk-test", "gpt-4o-mini", srv.URL+"/v1", nil, 5*time.Second)
}

func TestAIServiceDetect(t *testing.T) {
	t.Run("fenced reply", func(t *testing.T) {
		fake := &chatServer{content: "```json\n[\"Altoona\", \"28510500\"]\n```"}
		svc := newTestAIService(t, fake)

		det := svc.Detect(context.Background(), "Invoice 28510500 Altoona")
		if !det.OK() {
			t.Fatalf("outcome = %s, err = %v", det.Outcome, det.Err)
		}
		if !reflect.DeepEqual(det.Words, []string{"Altoona", "28510500"}) {
			t.Errorf("words = %v", det.Words)
		}

		if fake.last["model"] != "gpt-4o-mini" {
			t.Errorf("model = %v", fake.last["model"])
		}
		if _, ok := fake.last["temperature"]; !ok {
			t.Error("temperature must be sent explicitly")
		}
		msgs, _ := fake.last["messages"].([]any)
		if len(msgs) != 2 {
			t.Fatalf("got %d messages", len(msgs))
		}
		system, _ := msgs[0].(map[string]any)
		if system["role"] != "system" || system["content"] != piiSystemPrompt {
			t.Errorf("system message = %v", system)
		}
		user, _ := msgs[1].(map[string]any)
		if content, _ := user["content"].(string); !strings.Contains(content, "Invoice 28510500 Altoona") {
			t.Errorf("user prompt does not embed the OCR text: %q", content)
		}
	})

	t.Run("malformed reply fails open", func(t *testing.T) {
		svc := newTestAIService(t, &chatServer{content: "I cannot help with that"})
		det := svc.Detect(context.Background(), "John")
		if det.Outcome != DetectionParseError {
			t.Fatalf("outcome = %s, want %s", det.Outcome, DetectionParseError)
		}
		if len(det.Words) != 0 {
			t.Errorf("words = %v, want none", det.Words)
		}
		if det.Raw != "I cannot help with that" {
			t.Errorf("raw = %q", det.Raw)
		}
	})

	t.Run("server error", func(t *testing.T) {
		svc := newTestAIService(t, &chatServer{status: http.StatusInternalServerError})
		det := svc.Detect(context.Background(), "John")
		if det.Outcome != DetectionAPIError || det.Err == nil {
			t.Fatalf("outcome = %s, err = %v", det.Outcome, det.Err)
		}
	})

	t.Run("empty content", func(t *testing.T) {
		svc := newTestAIService(t, &chatServer{content: "   "})
		det := svc.Detect(context.Background(), "John")
		if det.Outcome != DetectionEmptyResponse {
			t.Fatalf("outcome = %s", det.Outcome)
		}
	})
}

func TestAIServiceNotConfigured(t *testing.T) {
	svc := NewAIService("", "gpt-4o-mini", "", nil, time.Second)
	det := svc.Detect(context.Background(), "John")
	if det.Outcome != DetectionNotConfigured {
		t.Fatalf("outcome = %s", det.Outcome)
	}
	if det.Err != ErrAIUnavailable {
		t.Errorf("err = %v, want ErrAIUnavailable", det.Err)
	}
}
