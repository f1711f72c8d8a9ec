package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/pavelanni/examgrade/internal/examerr"
	"github.com/pavelanni/examgrade/internal/model"
)

const submissionColumns = `id, exam_id, student_id, answers, score, graded, submitted_at, graded_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row rowScanner) (model.Submission, error) {
	var sub model.Submission
	var answers string
	err := row.Scan(&sub.ID, &sub.ExamID, &sub.StudentID, &answers, &sub.Score, &sub.Graded, &sub.SubmittedAt, &sub.GradedAt)
	if err != nil {
		return sub, err
	}
	sub.Answers, err = DecodeAnswers(answers)
	return sub, err
}

// InsertSubmission stores a new submission scored against keyLen questions.
// A second submission for the same exam and student fails with
// examerr.ErrAlreadySubmitted. If the exam no longer has keyLen questions the
// insert fails with examerr.ErrExamChanged. The count and the insert share a
// transaction with AddQuestion's lock check, so a key never shifts under a
// recorded score.
func (s *Store) InsertSubmission(ctx context.Context, sub model.Submission, keyLen int) (model.Submission, error) {
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = time.Now().UTC()
	}
	if sub.Graded && sub.GradedAt == nil {
		at := sub.SubmittedAt
		sub.GradedAt = &at
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return sub, err
	}
	defer tx.Rollback()

	var questions int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM questions WHERE exam_id = ?`, sub.ExamID).Scan(&questions)
	if err != nil {
		return sub, err
	}
	if questions != keyLen {
		return sub, examerr.ExamChanged(sub.ExamID, keyLen, questions)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO submissions (exam_id, student_id, answers, score, graded, submitted_at, graded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sub.ExamID, sub.StudentID, EncodeAnswers(sub.Answers), sub.Score, sub.Graded, sub.SubmittedAt, sub.GradedAt,
	)
	if isUniqueViolation(err) {
		return sub, examerr.AlreadySubmitted(sub.ExamID, sub.StudentID).WithCause(err)
	}
	if err != nil {
		return sub, err
	}
	if sub.ID, err = res.LastInsertId(); err != nil {
		return sub, err
	}
	if sub.Answers == nil {
		sub.Answers = []string{}
	}
	return sub, tx.Commit()
}

// GetSubmission returns a submission by ID, or nil if it does not exist.
func (s *Store) GetSubmission(ctx context.Context, id int64) (*model.Submission, error) {
	sub, err := scanSubmission(s.db.QueryRowContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// FindSubmission returns the submission of a student for an exam, or nil.
func (s *Store) FindSubmission(ctx context.Context, examID int64, studentID string) (*model.Submission, error) {
	sub, err := scanSubmission(s.db.QueryRowContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE exam_id = ? AND student_id = ?`, examID, studentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// ListSubmissionsByExam returns all submissions for an exam in submission order.
func (s *Store) ListSubmissionsByExam(ctx context.Context, examID int64) ([]model.Submission, error) {
	return s.querySubmissions(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE exam_id = ? ORDER BY id`, examID)
}

// ListSubmissionsByStudent returns all submissions of one student.
func (s *Store) ListSubmissionsByStudent(ctx context.Context, studentID string) ([]model.Submission, error) {
	return s.querySubmissions(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE student_id = ? ORDER BY id`, studentID)
}

// ListSubmissions returns every submission.
func (s *Store) ListSubmissions(ctx context.Context) ([]model.Submission, error) {
	return s.querySubmissions(ctx, `SELECT `+submissionColumns+` FROM submissions ORDER BY id`)
}

func (s *Store) querySubmissions(ctx context.Context, query string, args ...any) ([]model.Submission, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	subs := []model.Submission{}
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// UpdateSubmissionScore sets the score of a submission and marks it graded.
func (s *Store) UpdateSubmissionScore(ctx context.Context, id int64, score int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE submissions SET score = ?, graded = 1, graded_at = ? WHERE id = ?`,
		score, time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return examerr.SubmissionNotFound(id)
	}
	return nil
}
