package ledger

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/pavelanni/examgrade/internal/examerr"
	"github.com/pavelanni/examgrade/internal/model"
	"github.com/pavelanni/examgrade/internal/store"
)

func newTestLedger(t *testing.T) (*Ledger, *store.Store, int64) {
	t.Helper()
	ctx := context.Background()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	examID, err := s.CreateExam(ctx, model.Exam{
		Title:               "Algebra",
		Type:                model.ExamMCQ,
		TotalMarks:          100,
		Sections:            1,
		QuestionsPerSection: 2,
		DurationMinutes:     30,
	})
	if err != nil {
		t.Fatalf("CreateExam: %v", err)
	}

	l, err := New(ctx, s, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l, s, examID
}

func TestRecordSubmission(t *testing.T) {
	l, _, examID := newTestLedger(t)
	ctx := context.Background()

	sub, err := l.RecordSubmission(ctx, examID, "alice", []string{"A", "B"}, 0, 50, true)
	if err != nil {
		t.Fatalf("RecordSubmission: %v", err)
	}
	if sub.ID == 0 || sub.Score != 50 || !sub.Graded {
		t.Errorf("unexpected submission: %+v", sub)
	}

	_, err = l.RecordSubmission(ctx, examID, "alice", []string{"A", "A"}, 0, 100, true)
	if !errors.Is(err, examerr.ErrAlreadySubmitted) {
		t.Fatalf("expected already submitted, got %v", err)
	}

	// The first write stays in place.
	got, err := l.FindOne(ctx, examID, "alice")
	if err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if got == nil || got.Score != 50 {
		t.Errorf("expected original score 50, got %+v", got)
	}
	if scores := l.Index().StudentScores("alice"); scores[examID] != 50 {
		t.Errorf("expected indexed score 50, got %v", scores)
	}
}

func TestRecordSubmissionKeyChanged(t *testing.T) {
	l, _, examID := newTestLedger(t)
	ctx := context.Background()

	// The exam has no questions, so a score computed against one is stale.
	_, err := l.RecordSubmission(ctx, examID, "carol", []string{"A"}, 1, 100, true)
	if !errors.Is(err, examerr.ErrExamChanged) {
		t.Fatalf("expected exam changed, got %v", err)
	}
	if scores := l.Index().ExamScores(examID); len(scores) != 0 {
		t.Errorf("expected no indexed scores, got %v", scores)
	}
}

func TestOverrideScore(t *testing.T) {
	l, _, examID := newTestLedger(t)
	ctx := context.Background()

	sub, err := l.RecordSubmission(ctx, examID, "bob", []string{"essay"}, 0, 0, false)
	if err != nil {
		t.Fatalf("RecordSubmission: %v", err)
	}

	updated, err := l.OverrideScore(ctx, sub.ID, 72)
	if err != nil {
		t.Fatalf("OverrideScore: %v", err)
	}
	if updated.Score != 72 || !updated.Graded || updated.GradedAt == nil {
		t.Errorf("unexpected override result: %+v", updated)
	}
	if scores := l.Index().ExamScores(examID); scores["bob"] != 72 {
		t.Errorf("expected indexed score 72, got %v", scores)
	}

	_, err = l.OverrideScore(ctx, 9999, 10)
	if !errors.Is(err, examerr.ErrSubmissionNotFound) {
		t.Errorf("expected submission not found, got %v", err)
	}
	_, err = l.Get(ctx, 9999)
	if !errors.Is(err, examerr.ErrSubmissionNotFound) {
		t.Errorf("expected submission not found, got %v", err)
	}
}

func TestLoadRebuildsIndex(t *testing.T) {
	l, s, examID := newTestLedger(t)
	ctx := context.Background()

	for _, student := range []string{"a", "b", "c"} {
		if _, err := l.RecordSubmission(ctx, examID, student, []string{"A", "B"}, 0, 40, true); err != nil {
			t.Fatalf("RecordSubmission: %v", err)
		}
	}

	fresh, err := New(ctx, s, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := len(fresh.Index().ExamScores(examID)); got != 3 {
		t.Errorf("expected 3 indexed scores after reload, got %d", got)
	}

	subs, err := fresh.FindByExam(ctx, examID)
	if err != nil {
		t.Fatalf("FindByExam: %v", err)
	}
	if len(subs) != 3 {
		t.Errorf("expected 3 submissions, got %d", len(subs))
	}
	mine, err := fresh.FindByStudent(ctx, "b")
	if err != nil {
		t.Fatalf("FindByStudent: %v", err)
	}
	if len(mine) != 1 {
		t.Errorf("expected 1 submission for b, got %d", len(mine))
	}
}

func TestScoreIndexCopies(t *testing.T) {
	ix := newScoreIndex()
	ix.set(1, "alice", 80)

	scores := ix.StudentScores("alice")
	scores[1] = 0
	scores[2] = 99

	again := ix.StudentScores("alice")
	if again[1] != 80 || len(again) != 1 {
		t.Errorf("index mutated through returned map: %v", again)
	}
	if empty := ix.StudentScores("nobody"); empty == nil || len(empty) != 0 {
		t.Errorf("expected empty non-nil map, got %v", empty)
	}
}

func TestScoreIndexStats(t *testing.T) {
	tests := []struct {
		name     string
		scores   map[string]int
		passMark int
		want     model.ExamStats
	}{
		{
			name:     "no students",
			passMark: 50,
			want:     model.ExamStats{ExamID: 1, PassMark: 50},
		},
		{
			name:     "mixed",
			scores:   map[string]int{"a": 100, "b": 50, "c": 20, "d": 30},
			passMark: 50,
			want: model.ExamStats{
				ExamID: 1, PassMark: 50,
				TotalStudents: 4, PassedStudents: 2, FailedStudents: 2,
				AverageScore: 50, PassPercentage: 50,
			},
		},
		{
			name:     "all fail",
			scores:   map[string]int{"a": 10, "b": 20},
			passMark: 60,
			want: model.ExamStats{
				ExamID: 1, PassMark: 60,
				TotalStudents: 2, FailedStudents: 2,
				AverageScore: 15,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ix := newScoreIndex()
			for student, score := range tt.scores {
				ix.set(1, student, score)
			}
			got := ix.Stats(1, tt.passMark)
			if got != tt.want {
				t.Errorf("Stats() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestScoreIndexPassedStudents(t *testing.T) {
	ix := newScoreIndex()
	for student, score := range map[string]int{"dave": 70, "alice": 50, "bob": 49, "carol": 100} {
		ix.set(1, student, score)
	}
	ix.set(2, "erin", 100)

	tests := []struct {
		name     string
		examID   int64
		passMark int
		want     []string
	}{
		{"pass mark 50", 1, 50, []string{"alice", "carol", "dave"}},
		{"pass mark 0", 1, 0, []string{"alice", "bob", "carol", "dave"}},
		{"nobody passes", 1, 101, []string{}},
		{"unknown exam", 9, 0, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ix.PassedStudents(tt.examID, tt.passMark)
			if !slices.Equal(got, tt.want) {
				t.Errorf("PassedStudents() = %v, want %v", got, tt.want)
			}
			if got == nil {
				t.Error("expected non-nil slice")
			}
		})
	}
}
