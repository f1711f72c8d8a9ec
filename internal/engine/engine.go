// Package engine evaluates exam submissions and records them, serializing
// writers per (exam, student).
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pavelanni/examgrade/internal/examerr"
	"github.com/pavelanni/examgrade/internal/grading"
	"github.com/pavelanni/examgrade/internal/ledger"
	"github.com/pavelanni/examgrade/internal/model"
)

// DefaultLockTimeout bounds how long a writer waits for its key lock.
const DefaultLockTimeout = 5 * time.Second

// MaxTotalMarks caps the maximum score of an exam.
const MaxTotalMarks = 1_000_000

// Repo is the storage the engine needs: exam definitions plus the
// submission records behind the ledger.
type Repo interface {
	ledger.Repo
	CreateExam(ctx context.Context, e model.Exam) (int64, error)
	CreateExams(ctx context.Context, exams []model.Exam) ([]int64, error)
	GetExam(ctx context.Context, id int64) (model.Exam, error)
	ListExams(ctx context.Context, typ model.ExamType) ([]model.Exam, error)
	AddQuestion(ctx context.Context, examID int64, q model.Question) (model.Question, error)
}

// Config holds engine settings. Zero values select defaults.
type Config struct {
	LockTimeout time.Duration
	Registry    *grading.Registry
	Logger      *slog.Logger
}

// Counters are process-wide diagnostics.
type Counters struct {
	ExamsCreated        int64 `json:"exams_created"`
	SubmissionsAccepted int64 `json:"submissions_accepted"`
	SubmissionsRejected int64 `json:"submissions_rejected"`
	ScoresOverridden    int64 `json:"scores_overridden"`
}

// Engine is the entry point for creating exams and grading submissions.
type Engine struct {
	repo     Repo
	ledger   *ledger.Ledger
	registry *grading.Registry
	locks    *keyLocks
	timeout  time.Duration
	logger   *slog.Logger

	examsCreated atomic.Int64
	accepted     atomic.Int64
	rejected     atomic.Int64
	overridden   atomic.Int64
}

// New creates an engine over repo and loads the score index.
func New(ctx context.Context, repo Repo, cfg Config) (*Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = DefaultLockTimeout
	}
	if cfg.Registry == nil {
		cfg.Registry = grading.DefaultRegistry(logger.With("module", "grading"))
	}

	l, err := ledger.New(ctx, repo, logger)
	if err != nil {
		return nil, fmt.Errorf("init ledger: %w", err)
	}

	e := &Engine{
		repo:     repo,
		ledger:   l,
		registry: cfg.Registry,
		locks:    newKeyLocks(),
		timeout:  cfg.LockTimeout,
		logger:   logger.With("module", "engine"),
	}
	e.logger.Info("engine ready", "strategies", cfg.Registry.String(), "lock_timeout", cfg.LockTimeout)
	return e, nil
}

// Counters returns a snapshot of the diagnostic counters.
func (e *Engine) Counters() Counters {
	return Counters{
		ExamsCreated:        e.examsCreated.Load(),
		SubmissionsAccepted: e.accepted.Load(),
		SubmissionsRejected: e.rejected.Load(),
		ScoresOverridden:    e.overridden.Load(),
	}
}

// withLock runs fn while holding the lock for (examID, studentID).
func (e *Engine) withLock(ctx context.Context, op string, examID int64, studentID string, fn func() error) error {
	lockCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	release, err := e.locks.acquire(lockCtx, lockKey{examID: examID, studentID: studentID})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			e.logger.Warn("lock wait timed out", "op", op, "exam_id", examID, "student_id", studentID)
			return examerr.Timeout(op)
		}
		return err
	}
	defer release()
	return fn()
}

// Submit grades answers for one student and records the result. A student
// can submit each exam once.
func (e *Engine) Submit(ctx context.Context, examID int64, studentID string, answers []string) (model.ScoreOutcome, error) {
	outcome, err := e.submit(ctx, examID, studentID, answers)
	if err != nil {
		e.rejected.Add(1)
		e.logger.Debug("submission rejected", "exam_id", examID, "student_id", studentID, "error", err)
		return model.ScoreOutcome{}, err
	}
	e.accepted.Add(1)
	return outcome, nil
}

// submit scores answers against a snapshot of the exam. The store refuses
// the record with ErrExamChanged if the snapshot's key is stale by then.
func (e *Engine) submit(ctx context.Context, examID int64, studentID string, answers []string) (model.ScoreOutcome, error) {
	exam, err := e.repo.GetExam(ctx, examID)
	if err != nil {
		return model.ScoreOutcome{}, err
	}
	strategy, err := e.registry.Lookup(exam.Type)
	if err != nil {
		return model.ScoreOutcome{}, err
	}
	if strings.TrimSpace(studentID) == "" {
		return model.ScoreOutcome{}, examerr.InvalidAnswers("student id is empty")
	}
	if answers == nil {
		return model.ScoreOutcome{}, examerr.InvalidAnswers("answers are missing")
	}
	if len(answers) == 0 && len(exam.Questions) > 0 {
		return model.ScoreOutcome{}, examerr.InvalidAnswers("answers are empty")
	}

	key := exam.CorrectAnswers()
	score, err := strategy.Evaluate(answers, key, exam.TotalMarks)
	if err != nil {
		return model.ScoreOutcome{}, err
	}
	graded := strategy.Mode() == model.GradingAuto

	var sub model.Submission
	err = e.withLock(ctx, "submit", examID, studentID, func() error {
		var err error
		sub, err = e.ledger.RecordSubmission(ctx, examID, studentID, answers, len(key), score, graded)
		return err
	})
	if err != nil {
		return model.ScoreOutcome{}, err
	}
	return model.ScoreOutcome{SubmissionID: sub.ID, Score: sub.Score, Graded: sub.Graded}, nil
}

// ExamOption adjusts optional exam settings in CreateExam.
type ExamOption func(*model.Exam)

// WithTotalMarks sets the maximum score of an exam.
func WithTotalMarks(marks int) ExamOption {
	return func(e *model.Exam) { e.TotalMarks = marks }
}

// WithDuration sets the exam duration in minutes.
func WithDuration(minutes int) ExamOption {
	return func(e *model.Exam) { e.DurationMinutes = minutes }
}

// CreateExam stores a new exam without questions. Zero sections or
// questionsPerSection select the defaults.
func (e *Engine) CreateExam(ctx context.Context, typ model.ExamType, title string, sections, questionsPerSection int, opts ...ExamOption) (model.Exam, error) {
	exam, _, err := e.newExam(typ, title, sections, questionsPerSection, opts...)
	if err != nil {
		return model.Exam{}, err
	}

	id, err := e.repo.CreateExam(ctx, exam)
	if err != nil {
		return model.Exam{}, fmt.Errorf("create exam: %w", err)
	}
	e.examsCreated.Add(1)
	e.logger.Info("exam created", "exam_id", id, "type", typ, "title", exam.Title)
	return e.repo.GetExam(ctx, id)
}

// newExam applies defaults and options and validates the result.
func (e *Engine) newExam(typ model.ExamType, title string, sections, questionsPerSection int, opts ...ExamOption) (model.Exam, grading.Strategy, error) {
	strategy, err := e.registry.Lookup(typ)
	if err != nil {
		return model.Exam{}, nil, err
	}
	exam := model.Exam{
		Title:               strings.TrimSpace(title),
		Type:                typ,
		TotalMarks:          model.DefaultTotalMarks,
		Sections:            sections,
		QuestionsPerSection: questionsPerSection,
		DurationMinutes:     model.DefaultDurationMinutes,
	}
	if exam.Sections == 0 {
		exam.Sections = model.DefaultSections
	}
	if exam.QuestionsPerSection == 0 {
		exam.QuestionsPerSection = model.DefaultQuestionsPerSection
	}
	for _, opt := range opts {
		opt(&exam)
	}

	switch {
	case exam.Title == "":
		return model.Exam{}, nil, examerr.InvalidExam("title is empty")
	case exam.TotalMarks <= 0:
		return model.Exam{}, nil, examerr.InvalidExam("total marks must be positive")
	case exam.TotalMarks > MaxTotalMarks:
		return model.Exam{}, nil, examerr.InvalidExam(fmt.Sprintf("total marks must not exceed %d", MaxTotalMarks))
	case exam.Sections < 0:
		return model.Exam{}, nil, examerr.InvalidExam("sections must be positive")
	case exam.QuestionsPerSection < 0:
		return model.Exam{}, nil, examerr.InvalidExam("questions per section must be positive")
	case exam.DurationMinutes <= 0:
		return model.Exam{}, nil, examerr.InvalidExam("duration must be positive")
	}
	return exam, strategy, nil
}

// AddQuestion appends a question to a section of an exam. Exams with
// submissions are locked.
func (e *Engine) AddQuestion(ctx context.Context, examID int64, section int, q model.Question) (model.Question, error) {
	exam, err := e.repo.GetExam(ctx, examID)
	if err != nil {
		return model.Question{}, err
	}
	strategy, err := e.registry.Lookup(exam.Type)
	if err != nil {
		return model.Question{}, err
	}
	if err := checkQuestion(exam, strategy, section, q); err != nil {
		return model.Question{}, err
	}
	q.Section = section
	return e.repo.AddQuestion(ctx, examID, q)
}

func checkQuestion(exam model.Exam, strategy grading.Strategy, section int, q model.Question) error {
	if section < 1 || section > exam.Sections {
		return examerr.InvalidExam(fmt.Sprintf("section %d outside 1..%d", section, exam.Sections))
	}
	if strings.TrimSpace(q.Text) == "" {
		return examerr.InvalidExam("question text is empty")
	}
	if strategy.Mode() == model.GradingAuto && strings.TrimSpace(q.CorrectAnswer) == "" {
		return examerr.InvalidExam("auto-graded question needs a correct answer")
	}
	return nil
}

// ImportExams validates every exam and question first, then stores them all
// in one transaction. Nothing is stored if any of them is invalid.
func (e *Engine) ImportExams(ctx context.Context, ins []model.ExamImport) ([]model.Exam, error) {
	exams := make([]model.Exam, 0, len(ins))
	for _, in := range ins {
		exam, err := e.examFromImport(in)
		if err != nil {
			return nil, fmt.Errorf("exam %q: %w", in.Title, err)
		}
		exams = append(exams, exam)
	}

	ids, err := e.repo.CreateExams(ctx, exams)
	if err != nil {
		return nil, fmt.Errorf("create exams: %w", err)
	}
	e.examsCreated.Add(int64(len(ids)))

	stored := make([]model.Exam, 0, len(ids))
	for _, id := range ids {
		exam, err := e.repo.GetExam(ctx, id)
		if err != nil {
			return nil, err
		}
		e.logger.Info("exam imported", "exam_id", id, "type", exam.Type, "title", exam.Title, "questions", len(exam.Questions))
		stored = append(stored, exam)
	}
	return stored, nil
}

func (e *Engine) examFromImport(in model.ExamImport) (model.Exam, error) {
	var opts []ExamOption
	if in.TotalMarks != 0 {
		opts = append(opts, WithTotalMarks(in.TotalMarks))
	}
	if in.DurationMinutes != 0 {
		opts = append(opts, WithDuration(in.DurationMinutes))
	}
	exam, strategy, err := e.newExam(in.Type, in.Title, in.Sections, in.QuestionsPerSection, opts...)
	if err != nil {
		return model.Exam{}, err
	}
	for i, qi := range in.Questions {
		section := qi.Section
		if section == 0 {
			section = 1
		}
		q := model.Question{
			Text:          qi.Text,
			Options:       qi.Options,
			CorrectAnswer: qi.CorrectAnswer,
			Section:       section,
		}
		if err := checkQuestion(exam, strategy, section, q); err != nil {
			return model.Exam{}, fmt.Errorf("question %d: %w", i+1, err)
		}
		exam.Questions = append(exam.Questions, q)
	}
	return exam, nil
}

// GetExam returns an exam with its questions.
func (e *Engine) GetExam(ctx context.Context, examID int64) (model.Exam, error) {
	return e.repo.GetExam(ctx, examID)
}

// ListExams returns all exams, or only those of typ when it is set.
func (e *Engine) ListExams(ctx context.Context, typ model.ExamType) ([]model.Exam, error) {
	if typ != "" {
		if _, err := e.registry.Lookup(typ); err != nil {
			return nil, err
		}
	}
	return e.repo.ListExams(ctx, typ)
}

// GetSubmission returns the submission of a student for an exam.
func (e *Engine) GetSubmission(ctx context.Context, examID int64, studentID string) (*model.Submission, error) {
	if _, err := e.repo.GetExam(ctx, examID); err != nil {
		return nil, err
	}
	sub, err := e.ledger.FindOne(ctx, examID, studentID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, examerr.NoSubmission(examID, studentID)
	}
	return sub, nil
}

// ListSubmissions returns every submission of an exam.
func (e *Engine) ListSubmissions(ctx context.Context, examID int64) ([]model.Submission, error) {
	if _, err := e.repo.GetExam(ctx, examID); err != nil {
		return nil, err
	}
	return e.ledger.FindByExam(ctx, examID)
}

// StudentSubmissions returns every submission of a student.
func (e *Engine) StudentSubmissions(ctx context.Context, studentID string) ([]model.Submission, error) {
	return e.ledger.FindByStudent(ctx, studentID)
}

// OverrideScore sets the final score of a submission, typically after a
// manual review.
func (e *Engine) OverrideScore(ctx context.Context, submissionID int64, score int) (model.Submission, error) {
	sub, err := e.ledger.Get(ctx, submissionID)
	if err != nil {
		return model.Submission{}, err
	}
	exam, err := e.repo.GetExam(ctx, sub.ExamID)
	if err != nil {
		return model.Submission{}, err
	}
	if score < 0 || score > exam.TotalMarks {
		return model.Submission{}, examerr.InvalidScore(score, exam.TotalMarks)
	}

	var updated model.Submission
	err = e.withLock(ctx, "override", sub.ExamID, sub.StudentID, func() error {
		var err error
		updated, err = e.ledger.OverrideScore(ctx, submissionID, score)
		return err
	})
	if err != nil {
		return model.Submission{}, err
	}
	e.overridden.Add(1)
	return updated, nil
}

// ExamStats reports pass-rate statistics for an exam.
func (e *Engine) ExamStats(ctx context.Context, examID int64, passMark int) (model.ExamStats, error) {
	exam, err := e.repo.GetExam(ctx, examID)
	if err != nil {
		return model.ExamStats{}, err
	}
	if passMark < 0 || passMark > exam.TotalMarks {
		return model.ExamStats{}, examerr.InvalidScore(passMark, exam.TotalMarks)
	}
	return e.ledger.Index().Stats(examID, passMark), nil
}

// PassedStudents lists the students of an exam scoring at least passMark.
func (e *Engine) PassedStudents(ctx context.Context, examID int64, passMark int) ([]string, error) {
	exam, err := e.repo.GetExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	if passMark < 0 || passMark > exam.TotalMarks {
		return nil, examerr.InvalidScore(passMark, exam.TotalMarks)
	}
	return e.ledger.Index().PassedStudents(examID, passMark), nil
}

// StudentScores returns exam -> score for one student.
func (e *Engine) StudentScores(studentID string) map[int64]int {
	return e.ledger.Index().StudentScores(studentID)
}
