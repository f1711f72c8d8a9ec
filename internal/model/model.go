package model

import (
	"slices"
	"time"
)

// GradingMode says how a submission's score is determined.
type GradingMode string

const (
	// GradingAuto means the score is final at submission time.
	GradingAuto GradingMode = "auto"
	// GradingManual means the submission-time score is a placeholder pending review.
	GradingManual GradingMode = "manual"
)

// ExamType is the display sub-type of an exam.
type ExamType string

const (
	ExamMCQ    ExamType = "mcq"
	ExamCoding ExamType = "coding"
	ExamEssay  ExamType = "essay"
)

type examTypeInfo struct {
	displayName string
	mode        GradingMode
}

var examTypes = map[ExamType]examTypeInfo{
	ExamMCQ:    {"Multiple Choice Questions", GradingAuto},
	ExamCoding: {"Coding Challenge", GradingManual},
	ExamEssay:  {"Essay Type", GradingManual},
}

// DisplayName returns a human-readable name, or the raw value for unknown types.
func (t ExamType) DisplayName() string {
	if info, ok := examTypes[t]; ok {
		return info.displayName
	}
	return string(t)
}

// GradingMode returns the grading mode for t and whether t is known.
func (t ExamType) GradingMode() (GradingMode, bool) {
	info, ok := examTypes[t]
	return info.mode, ok
}

// ExamTypes returns all known exam types in a stable order.
func ExamTypes() []ExamType {
	types := make([]ExamType, 0, len(examTypes))
	for t := range examTypes {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// Exam defaults.
const (
	DefaultTotalMarks          = 100
	DefaultSections            = 1
	DefaultQuestionsPerSection = 10
	DefaultDurationMinutes     = 30
)

// Question is a single exam question. Options is empty for non-MCQ questions.
type Question struct {
	ID            int64    `json:"id"`
	ExamID        int64    `json:"exam_id"`
	Text          string   `json:"text"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correct_answer,omitempty"`
	Section       int      `json:"section"`
	Position      int      `json:"position"`
}

// Exam is an exam definition. Questions are ordered; that order defines which
// answer index is graded against which question.
type Exam struct {
	ID                  int64      `json:"id"`
	Title               string     `json:"title"`
	Type                ExamType   `json:"type"`
	TotalMarks          int        `json:"total_marks"`
	Sections            int        `json:"sections"`
	QuestionsPerSection int        `json:"questions_per_section"`
	DurationMinutes     int        `json:"duration_minutes"`
	Questions           []Question `json:"questions"`
	CreatedAt           time.Time  `json:"created_at"`
}

// CorrectAnswers returns the grading key as a new slice.
func (e Exam) CorrectAnswers() []string {
	key := make([]string, len(e.Questions))
	for i, q := range e.Questions {
		key[i] = q.CorrectAnswer
	}
	return key
}

// QuestionsForSection returns the questions belonging to one section.
func (e Exam) QuestionsForSection(section int) []Question {
	var qs []Question
	for _, q := range e.Questions {
		if q.Section == section {
			qs = append(qs, q)
		}
	}
	return qs
}

// Clone returns a deep copy of e.
func (e Exam) Clone() Exam {
	c := e
	c.Questions = make([]Question, len(e.Questions))
	for i, q := range e.Questions {
		q.Options = slices.Clone(q.Options)
		c.Questions[i] = q
	}
	return c
}

// WithoutKey returns a deep copy of e with every correct answer removed,
// for showing the exam to students.
func (e Exam) WithoutKey() Exam {
	c := e.Clone()
	for i := range c.Questions {
		c.Questions[i].CorrectAnswer = ""
	}
	return c
}

// Submission is the durable record of one student's answers for one exam.
type Submission struct {
	ID          int64      `json:"id"`
	ExamID      int64      `json:"exam_id"`
	StudentID   string     `json:"student_id"`
	Answers     []string   `json:"answers"`
	Score       int        `json:"score"`
	Graded      bool       `json:"graded"`
	SubmittedAt time.Time  `json:"submitted_at"`
	GradedAt    *time.Time `json:"graded_at,omitempty"`
}

// ScoreOutcome is returned to the caller of a submission.
type ScoreOutcome struct {
	SubmissionID int64 `json:"submission_id"`
	Score        int   `json:"score"`
	Graded       bool  `json:"graded"`
}

// ExamStats summarizes scores recorded for one exam.
type ExamStats struct {
	ExamID         int64   `json:"exam_id"`
	PassMark       int     `json:"pass_mark"`
	TotalStudents  int     `json:"total_students"`
	PassedStudents int     `json:"passed_students"`
	FailedStudents int     `json:"failed_students"`
	AverageScore   float64 `json:"average_score"`
	PassPercentage float64 `json:"pass_percentage"`
}

// ExamConfig holds runtime parameters set via CLI flags.
type ExamConfig struct {
	PassMark int // default pass mark for statistics and passed lists
}

// ExamImport is used for loading exam definitions from JSON.
type ExamImport struct {
	Title               string           `json:"title"`
	Type                ExamType         `json:"type"`
	TotalMarks          int              `json:"total_marks"`
	Sections            int              `json:"sections"`
	QuestionsPerSection int              `json:"questions_per_section"`
	DurationMinutes     int              `json:"duration_minutes"`
	Questions           []QuestionImport `json:"questions"`
}

// QuestionImport is one question inside an ExamImport.
type QuestionImport struct {
	Text          string   `json:"text"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correct_answer"`
	Section       int      `json:"section"`
}
