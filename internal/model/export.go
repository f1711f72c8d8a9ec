package model

import (
	"strconv"
	"time"
)

// ResultsExport is the top-level JSON structure for exam result export.
type ResultsExport struct {
	ExamID       int64           `json:"exam_id"`
	Title        string          `json:"title"`
	Type         ExamType        `json:"type"`
	TypeName     string          `json:"type_name"`
	TotalMarks   int             `json:"total_marks"`
	NumQuestions int             `json:"num_questions"`
	Stats        ExamStats       `json:"stats"`
	Results      []StudentResult `json:"results"`
}

// StudentResult holds one student's submission for export.
type StudentResult struct {
	SubmissionID int64      `json:"submission_id"`
	StudentID    string     `json:"student_id"`
	Answers      []string   `json:"answers"`
	Score        int        `json:"score"`
	Graded       bool       `json:"graded"`
	SubmittedAt  time.Time  `json:"submitted_at"`
	GradedAt     *time.Time `json:"graded_at,omitempty"`
}

// CSVHeader is the column order used by CSVRecord.
var CSVHeader = []string{"submission_id", "student_id", "score", "graded", "submitted_at"}

// CSVRecord renders r as a CSV row matching CSVHeader.
func (r StudentResult) CSVRecord() []string {
	return []string{
		strconv.FormatInt(r.SubmissionID, 10),
		r.StudentID,
		strconv.Itoa(r.Score),
		strconv.FormatBool(r.Graded),
		r.SubmittedAt.UTC().Format(time.RFC3339),
	}
}
