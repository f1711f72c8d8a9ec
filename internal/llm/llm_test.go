package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pavelanni/examgrade/internal/model"
)

// fakeOpenAI serves a minimal OpenAI-compatible API that always answers
// with content.
func fakeOpenAI(t *testing.T, content string, gotPrompt *string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"object":"list","data":[{"id":"test-model","object":"model"}]}`)
	})
	mux.HandleFunc("POST /v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if gotPrompt != nil && len(req.Messages) > 0 {
			*gotPrompt = req.Messages[0].Content
		}
		resp := map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 0,
			"model":   "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testExam() model.Exam {
	return model.Exam{
		ID:         1,
		Title:      "Concurrency",
		Type:       model.ExamEssay,
		TotalMarks: 100,
		Questions:  []model.Question{{Text: "Explain channels"}},
	}
}

func TestSuggestScore(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    int
		wantErr bool
	}{
		{"rounded", `{"score": 72.6, "feedback": "good"}`, 73, false},
		{"clamped high", `{"score": 140, "feedback": "?"}`, 100, false},
		{"clamped low", `{"score": -3, "feedback": "?"}`, 0, false},
		{"not json", `seventy`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var prompt string
			srv := fakeOpenAI(t, tt.content, &prompt)
			c, err := New(srv.URL+"/v1", "test", "test-model", "standard")
			if err != nil {
				t.Fatalf("New: %v", err)
			}

			sub := model.Submission{ID: 7, ExamID: 1, StudentID: "s", Answers: []string{"Typed pipes"}}
			got, err := c.SuggestScore(context.Background(), testExam(), sub)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("SuggestScore: %v", err)
			}
			if got.Score != tt.want {
				t.Errorf("Score = %d, want %d", got.Score, tt.want)
			}
			if got.SubmissionID != 7 || got.TotalMarks != 100 {
				t.Errorf("unexpected suggestion: %+v", got)
			}
			if !strings.Contains(prompt, "Typed pipes") {
				t.Error("prompt should carry the student's answer")
			}
		})
	}
}

func TestSuggestScoreGraded(t *testing.T) {
	srv := fakeOpenAI(t, `{"score": 1}`, nil)
	c, err := New(srv.URL+"/v1", "test", "test-model", "strict")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = c.SuggestScore(context.Background(), testExam(), model.Submission{ID: 1, Graded: true})
	if err == nil {
		t.Error("expected error for graded submission")
	}
}

func TestPing(t *testing.T) {
	srv := fakeOpenAI(t, "", nil)
	c, err := New(srv.URL+"/v1", "test", "test-model", "lenient")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestNewInvalidVariant(t *testing.T) {
	if _, err := New("http://localhost", "k", "m", "harsh"); err == nil {
		t.Error("expected error for invalid variant")
	}
}

func TestClampScore(t *testing.T) {
	tests := []struct {
		score float64
		total int
		want  int
	}{
		{0, 10, 0},
		{4.49, 10, 4},
		{4.5, 10, 5},
		{10.2, 10, 10},
		{-0.4, 10, 0},
	}
	for _, tt := range tests {
		if got := clampScore(tt.score, tt.total); got != tt.want {
			t.Errorf("clampScore(%v, %d) = %d, want %d", tt.score, tt.total, got, tt.want)
		}
	}
}
