package importer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/pavelanni/examgrade/internal/engine"
	"github.com/pavelanni/examgrade/internal/examerr"
	"github.com/pavelanni/examgrade/internal/model"
	"github.com/pavelanni/examgrade/internal/store"
)

const physicsExam = `{
  "title": "Physics",
  "type": "mcq",
  "total_marks": 10,
  "questions": [
    {"text": "Unit of force?", "options": ["Newton", "Joule"], "correct_answer": "Newton"},
    {"text": "Unit of energy?", "options": ["Newton", "Joule"], "correct_answer": "Joule"}
  ]
}`

const catalog = `[
  {"title": "Essay 1", "type": "essay", "questions": [{"text": "Describe Go."}]},
  {"title": "Coding 1", "type": "coding", "questions": [{"text": "Reverse a string."}]}
]`

func newTestImporter(t *testing.T) (*Importer, *engine.Engine) {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	e, err := engine.New(context.Background(), s, engine.Config{})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	return New(e, s, nil), e
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    int
		wantErr bool
	}{
		{"single object", physicsExam, 1, false},
		{"array", catalog, 2, false},
		{"leading whitespace", "\n  " + catalog, 2, false},
		{"broken", `{"title": `, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse([]byte(tt.data))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("expected %d exams, got %d", tt.want, len(got))
			}
		})
	}
}

func TestImportFiles(t *testing.T) {
	im, e := newTestImporter(t)
	ctx := context.Background()
	dir := t.TempDir()
	physics := writeFile(t, dir, "physics.json", physicsExam)
	more := writeFile(t, dir, "catalog.json", catalog)

	results, err := im.ImportFiles(ctx, []string{physics, more})
	if err != nil {
		t.Fatalf("ImportFiles: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for _, r := range results {
		if r.Status != StatusImported {
			t.Errorf("%s: status %s, want imported", r.Path, r.Status)
		}
	}
	if got := results[0].Exams[0]; got.TotalMarks != 10 || len(got.Questions) != 2 {
		t.Errorf("unexpected physics exam: %+v", got)
	}

	exams, err := e.ListExams(ctx, "")
	if err != nil {
		t.Fatalf("ListExams: %v", err)
	}
	if len(exams) != 3 {
		t.Fatalf("expected 3 exams, got %d", len(exams))
	}

	// Second run: nothing new.
	results, err = im.ImportFiles(ctx, []string{physics, more})
	if err != nil {
		t.Fatalf("ImportFiles again: %v", err)
	}
	for _, r := range results {
		if r.Status != StatusUnchanged {
			t.Errorf("%s: status %s, want unchanged", r.Path, r.Status)
		}
	}

	// Changed content is skipped.
	writeFile(t, dir, "physics.json", physicsExam+"\n")
	results, err = im.ImportFiles(ctx, []string{physics})
	if err != nil {
		t.Fatalf("ImportFiles changed: %v", err)
	}
	if results[0].Status != StatusChanged {
		t.Errorf("status %s, want changed", results[0].Status)
	}

	exams, _ = e.ListExams(ctx, "")
	if len(exams) != 3 {
		t.Errorf("expected still 3 exams, got %d", len(exams))
	}
}

func TestImportFilesErrors(t *testing.T) {
	im, _ := newTestImporter(t)
	ctx := context.Background()
	dir := t.TempDir()

	if _, err := im.ImportFiles(ctx, []string{filepath.Join(dir, "missing.json")}); err == nil {
		t.Error("expected error for missing file")
	}

	bad := writeFile(t, dir, "bad.json", `{"title": "X", "type": "oral"}`)
	if _, err := im.ImportFiles(ctx, []string{bad}); err == nil {
		t.Error("expected error for unknown exam type")
	}

	// A failed file is not recorded and can be retried.
	writeFile(t, dir, "bad.json", `{"title": "X", "type": "essay"}`)
	results, err := im.ImportFiles(ctx, []string{bad})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if results[0].Status != StatusImported || results[0].Exams[0].Type != model.ExamEssay {
		t.Errorf("unexpected retry result: %+v", results[0])
	}
}

func TestImportFileWithInvalidExam(t *testing.T) {
	im, e := newTestImporter(t)
	ctx := context.Background()
	dir := t.TempDir()

	path := writeFile(t, dir, "mixed.json", `[
  {"title": "one", "type": "mcq", "questions": [{"text": "Q1", "correct_answer": "A"}]},
  {"title": "two", "type": "mcq", "questions": [
    {"text": "Q1", "correct_answer": "A"},
    {"text": "Q2"}
  ]}
]`)
	if _, err := im.ImportFiles(ctx, []string{path}); !errors.Is(err, examerr.ErrInvalidExam) {
		t.Fatalf("expected invalid exam, got %v", err)
	}
	exams, err := e.ListExams(ctx, "")
	if err != nil {
		t.Fatalf("ListExams: %v", err)
	}
	if len(exams) != 0 {
		t.Fatalf("expected nothing stored after failed import, got %d exams", len(exams))
	}

	writeFile(t, dir, "mixed.json", `[
  {"title": "one", "type": "mcq", "questions": [{"text": "Q1", "correct_answer": "A"}]},
  {"title": "two", "type": "mcq", "questions": [
    {"text": "Q1", "correct_answer": "A"},
    {"text": "Q2", "correct_answer": "B"}
  ]}
]`)
	results, err := im.ImportFiles(ctx, []string{path})
	if err != nil {
		t.Fatalf("ImportFiles fixed: %v", err)
	}
	if results[0].Status != StatusImported || len(results[0].Exams) != 2 {
		t.Errorf("unexpected result: %+v", results[0])
	}
	exams, _ = e.ListExams(ctx, "")
	if len(exams) != 2 {
		t.Errorf("expected 2 exams without duplicates, got %d", len(exams))
	}
}
