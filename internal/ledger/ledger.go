// Package ledger records submissions and keeps the score index in step with
// the durable store.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/pavelanni/examgrade/internal/examerr"
	"github.com/pavelanni/examgrade/internal/model"
)

// Repo is the persistence contract the ledger needs.
type Repo interface {
	InsertSubmission(ctx context.Context, sub model.Submission, keyLen int) (model.Submission, error)
	GetSubmission(ctx context.Context, id int64) (*model.Submission, error)
	FindSubmission(ctx context.Context, examID int64, studentID string) (*model.Submission, error)
	ListSubmissionsByExam(ctx context.Context, examID int64) ([]model.Submission, error)
	ListSubmissionsByStudent(ctx context.Context, studentID string) ([]model.Submission, error)
	ListSubmissions(ctx context.Context) ([]model.Submission, error)
	UpdateSubmissionScore(ctx context.Context, id int64, score int) error
}

// Ledger is the record of submissions. Writers must serialize per
// (exam, student) key; the ledger itself does not lock.
type Ledger struct {
	repo   Repo
	index  *ScoreIndex
	logger *slog.Logger
}

// New creates a ledger and loads the score index from repo.
func New(ctx context.Context, repo Repo, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Ledger{
		repo:   repo,
		index:  newScoreIndex(),
		logger: logger.With("module", "ledger"),
	}
	if err := l.Load(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

// Load rebuilds the score index from the repository.
func (l *Ledger) Load(ctx context.Context) error {
	subs, err := l.repo.ListSubmissions(ctx)
	if err != nil {
		return fmt.Errorf("load submissions: %w", err)
	}
	l.index.reset(subs)
	l.logger.Debug("score index loaded", "submissions", len(subs))
	return nil
}

// Index returns the read-only score projection.
func (l *Ledger) Index() *ScoreIndex {
	return l.index
}

// RecordSubmission stores the first submission of a student for an exam.
// Any later submission for the same key fails with ErrAlreadySubmitted.
// keyLen is the number of questions the score was computed against; the
// record is refused with ErrExamChanged if the exam no longer matches.
func (l *Ledger) RecordSubmission(ctx context.Context, examID int64, studentID string, answers []string, keyLen, score int, graded bool) (model.Submission, error) {
	existing, err := l.repo.FindSubmission(ctx, examID, studentID)
	if err != nil {
		return model.Submission{}, fmt.Errorf("find submission: %w", err)
	}
	if existing != nil {
		return model.Submission{}, examerr.AlreadySubmitted(examID, studentID)
	}

	sub, err := l.repo.InsertSubmission(ctx, model.Submission{
		ExamID:    examID,
		StudentID: studentID,
		Answers:   slices.Clone(answers),
		Score:     score,
		Graded:    graded,
	}, keyLen)
	if err != nil {
		return model.Submission{}, err
	}
	l.index.set(examID, studentID, score)
	l.logger.Info("submission recorded",
		"submission_id", sub.ID, "exam_id", examID, "student_id", studentID,
		"score", score, "graded", graded)
	return sub, nil
}

// OverrideScore replaces the score of a submission and marks it graded.
func (l *Ledger) OverrideScore(ctx context.Context, submissionID int64, score int) (model.Submission, error) {
	sub, err := l.Get(ctx, submissionID)
	if err != nil {
		return model.Submission{}, err
	}
	if err := l.repo.UpdateSubmissionScore(ctx, submissionID, score); err != nil {
		return model.Submission{}, err
	}
	updated, err := l.Get(ctx, submissionID)
	if err != nil {
		return model.Submission{}, err
	}
	l.index.set(updated.ExamID, updated.StudentID, updated.Score)
	l.logger.Info("score overridden",
		"submission_id", submissionID, "exam_id", sub.ExamID, "student_id", sub.StudentID,
		"old_score", sub.Score, "new_score", score)
	return updated, nil
}

// Get returns a submission by ID.
func (l *Ledger) Get(ctx context.Context, submissionID int64) (model.Submission, error) {
	sub, err := l.repo.GetSubmission(ctx, submissionID)
	if err != nil {
		return model.Submission{}, err
	}
	if sub == nil {
		return model.Submission{}, examerr.SubmissionNotFound(submissionID)
	}
	return *sub, nil
}

// FindOne returns the submission of a student for an exam, or nil.
func (l *Ledger) FindOne(ctx context.Context, examID int64, studentID string) (*model.Submission, error) {
	return l.repo.FindSubmission(ctx, examID, studentID)
}

// FindByExam returns every submission for an exam.
func (l *Ledger) FindByExam(ctx context.Context, examID int64) ([]model.Submission, error) {
	return l.repo.ListSubmissionsByExam(ctx, examID)
}

// FindByStudent returns every submission of a student.
func (l *Ledger) FindByStudent(ctx context.Context, studentID string) ([]model.Submission, error) {
	return l.repo.ListSubmissionsByStudent(ctx, studentID)
}
