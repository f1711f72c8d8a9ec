package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pavelanni/examgrade/internal/examerr"
	"github.com/pavelanni/examgrade/internal/model"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite has a single writer; one connection also keeps ":memory:" databases
	// from splitting across the pool.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS exams (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		exam_type TEXT NOT NULL,
		total_marks INTEGER NOT NULL DEFAULT 100,
		sections INTEGER NOT NULL DEFAULT 1,
		questions_per_section INTEGER NOT NULL DEFAULT 10,
		duration_minutes INTEGER NOT NULL DEFAULT 30,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS questions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		exam_id INTEGER NOT NULL,
		text TEXT NOT NULL,
		options TEXT NOT NULL DEFAULT '[]',
		correct_answer TEXT NOT NULL DEFAULT '',
		section INTEGER NOT NULL DEFAULT 1,
		position INTEGER NOT NULL,
		FOREIGN KEY (exam_id) REFERENCES exams(id)
	);

	CREATE TABLE IF NOT EXISTS submissions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		exam_id INTEGER NOT NULL,
		student_id TEXT NOT NULL,
		answers TEXT NOT NULL DEFAULT '[]',
		score INTEGER NOT NULL DEFAULT 0,
		graded INTEGER NOT NULL DEFAULT 0,
		submitted_at DATETIME NOT NULL,
		graded_at DATETIME,
		UNIQUE (exam_id, student_id),
		FOREIGN KEY (exam_id) REFERENCES exams(id)
	);

	CREATE INDEX IF NOT EXISTS idx_submissions_student ON submissions(student_id);

	CREATE TABLE IF NOT EXISTS imported_files (
		path TEXT PRIMARY KEY,
		hash TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateExam stores an exam definition without questions.
func (s *Store) CreateExam(ctx context.Context, e model.Exam) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO exams (title, exam_type, total_marks, sections, questions_per_section, duration_minutes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Title, e.Type, e.TotalMarks, e.Sections, e.QuestionsPerSection, e.DurationMinutes, time.Now().UTC(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetExam returns a snapshot of an exam with its questions in grading order.
func (s *Store) GetExam(ctx context.Context, id int64) (model.Exam, error) {
	var e model.Exam
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, exam_type, total_marks, sections, questions_per_section, duration_minutes, created_at
		 FROM exams WHERE id = ?`, id,
	).Scan(&e.ID, &e.Title, &e.Type, &e.TotalMarks, &e.Sections, &e.QuestionsPerSection, &e.DurationMinutes, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return e, examerr.ExamNotFound(id)
	}
	if err != nil {
		return e, err
	}
	e.Questions, err = s.listQuestions(ctx, id)
	return e, err
}

// ListExams returns exams without their questions. A non-empty typ keeps
// only exams of that type.
func (s *Store) ListExams(ctx context.Context, typ model.ExamType) ([]model.Exam, error) {
	query := `SELECT id, title, exam_type, total_marks, sections, questions_per_section, duration_minutes, created_at
		 FROM exams`
	var args []any
	if typ != "" {
		query += ` WHERE exam_type = ?`
		args = append(args, typ)
	}
	rows, err := s.db.QueryContext(ctx, query+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	exams := []model.Exam{}
	for rows.Next() {
		var e model.Exam
		if err := rows.Scan(&e.ID, &e.Title, &e.Type, &e.TotalMarks, &e.Sections, &e.QuestionsPerSection, &e.DurationMinutes, &e.CreatedAt); err != nil {
			return nil, err
		}
		exams = append(exams, e)
	}
	return exams, rows.Err()
}

func (s *Store) listQuestions(ctx context.Context, examID int64) ([]model.Question, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, exam_id, text, options, correct_answer, section, position
		 FROM questions WHERE exam_id = ? ORDER BY section, position`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	questions := []model.Question{}
	for rows.Next() {
		var q model.Question
		var options string
		if err := rows.Scan(&q.ID, &q.ExamID, &q.Text, &options, &q.CorrectAnswer, &q.Section, &q.Position); err != nil {
			return nil, err
		}
		if q.Options, err = DecodeAnswers(options); err != nil {
			return nil, fmt.Errorf("decode options of question %d: %w", q.ID, err)
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// AddQuestion appends a question to an exam. Exams that already have
// submissions are locked.
func (s *Store) AddQuestion(ctx context.Context, examID int64, q model.Question) (model.Question, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return q, err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM exams WHERE id = ?`, examID).Scan(&exists)
	if err != nil {
		return q, err
	}
	if exists == 0 {
		return q, examerr.ExamNotFound(examID)
	}

	var submitted int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM submissions WHERE exam_id = ?`, examID).Scan(&submitted)
	if err != nil {
		return q, err
	}
	if submitted > 0 {
		return q, examerr.ExamLocked(examID)
	}

	if q, err = insertQuestion(ctx, tx, examID, q); err != nil {
		return q, err
	}
	return q, tx.Commit()
}

// CreateExams stores exams together with their questions in one
// transaction. Either every exam is stored or none is.
func (s *Store) CreateExams(ctx context.Context, exams []model.Exam) ([]int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	ids := make([]int64, 0, len(exams))
	for _, e := range exams {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO exams (title, exam_type, total_marks, sections, questions_per_section, duration_minutes, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.Title, e.Type, e.TotalMarks, e.Sections, e.QuestionsPerSection, e.DurationMinutes, now,
		)
		if err != nil {
			return nil, fmt.Errorf("insert exam %q: %w", e.Title, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		for _, q := range e.Questions {
			if _, err := insertQuestion(ctx, tx, id, q); err != nil {
				return nil, fmt.Errorf("insert question of exam %q: %w", e.Title, err)
			}
		}
		ids = append(ids, id)
	}
	return ids, tx.Commit()
}

func insertQuestion(ctx context.Context, tx *sql.Tx, examID int64, q model.Question) (model.Question, error) {
	var position int
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position), 0) + 1 FROM questions WHERE exam_id = ?`, examID,
	).Scan(&position)
	if err != nil {
		return q, err
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO questions (exam_id, text, options, correct_answer, section, position)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		examID, q.Text, EncodeAnswers(q.Options), q.CorrectAnswer, q.Section, position,
	)
	if err != nil {
		return q, err
	}
	if q.ID, err = res.LastInsertId(); err != nil {
		return q, err
	}
	q.ExamID = examID
	q.Position = position
	if q.Options == nil {
		q.Options = []string{}
	}
	return q, nil
}

// ExamCount returns the number of exams in the database.
func (s *Store) ExamCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM exams`).Scan(&count)
	return count, err
}

// EncodeAnswers serializes answers as a JSON array of strings. A nil slice
// encodes as "[]".
func EncodeAnswers(answers []string) string {
	if answers == nil {
		answers = []string{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(answers)
	return strings.TrimSuffix(buf.String(), "\n")
}

// DecodeAnswers parses the form written by EncodeAnswers.
func DecodeAnswers(raw string) ([]string, error) {
	answers := []string{}
	if strings.TrimSpace(raw) == "" {
		return answers, nil
	}
	if err := json.Unmarshal([]byte(raw), &answers); err != nil {
		return nil, err
	}
	if answers == nil {
		answers = []string{}
	}
	return answers, nil
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), "UNIQUE")
}
