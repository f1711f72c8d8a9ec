package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pavelanni/examgrade/internal/model"
)

func runCLI(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("examgrade %s: %v\n%s", strings.Join(args, " "), err, out.String())
	}
	return out.String()
}

func TestImportAndExport(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "test.db")
	examFile := filepath.Join(dir, "exam.json")
	err := os.WriteFile(examFile, []byte(`{
  "title": "Capitals",
  "type": "mcq",
  "questions": [
    {"text": "France?", "correct_answer": "Paris"},
    {"text": "Italy?", "correct_answer": "Rome"}
  ]
}`), 0o644)
	if err != nil {
		t.Fatalf("write exam file: %v", err)
	}

	out := runCLI(t, "import", "--db", db, "--log-level", "error", examFile)
	if !strings.Contains(out, "1 exam imported.") {
		t.Errorf("unexpected import output %q", out)
	}
	out = runCLI(t, "import", "--db", db, "--log-level", "error", examFile)
	if !strings.Contains(out, "0 exams imported.") {
		t.Errorf("expected re-import to skip, got %q", out)
	}

	out = runCLI(t, "export", "--db", db, "--log-level", "error", "--exam-id", "1")
	var export model.ResultsExport
	if err := json.Unmarshal([]byte(out), &export); err != nil {
		t.Fatalf("parse export: %v\n%s", err, out)
	}
	if export.Title != "Capitals" || export.NumQuestions != 2 || export.TypeName != "Multiple Choice Questions" {
		t.Errorf("unexpected export %+v", export)
	}
	if len(export.Results) != 0 {
		t.Errorf("expected no results, got %d", len(export.Results))
	}

	out = runCLI(t, "export", "--db", db, "--log-level", "error", "--exam-id", "1", "--format", "csv")
	if strings.TrimSpace(out) != strings.Join(model.CSVHeader, ",") {
		t.Errorf("unexpected csv %q", out)
	}
}

func TestWriteCSV(t *testing.T) {
	at := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)
	var buf bytes.Buffer
	err := writeCSV(&buf, []model.StudentResult{
		{SubmissionID: 1, StudentID: "alice", Score: 66, Graded: true, SubmittedAt: at},
		{SubmissionID: 2, StudentID: "bob, jr", Score: 0, Graded: false, SubmittedAt: at},
	})
	if err != nil {
		t.Fatalf("writeCSV: %v", err)
	}
	want := "submission_id,student_id,score,graded,submitted_at\n" +
		"1,alice,66,true,2026-05-01T09:30:00Z\n" +
		"2,\"bob, jr\",0,false,2026-05-01T09:30:00Z\n"
	if buf.String() != want {
		t.Errorf("writeCSV =\n%s\nwant\n%s", buf.String(), want)
	}
}
