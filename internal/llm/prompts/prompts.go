// Package prompts renders the review prompts sent to the language model.
package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/examgrade/internal/model"
)

//go:embed templates/*.txt
var templateFS embed.FS

var (
	studentAnswerRegex      = regexp.MustCompile(`(?i)</?\s*student-answer\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

const maxAnswerRunes = 10000

// PromptVariant represents a review prompt variant.
type PromptVariant string

const (
	// PromptStrict is a strict grading variant for majors.
	PromptStrict PromptVariant = "strict"
	// PromptStandard is the default grading variant.
	PromptStandard PromptVariant = "standard"
	// PromptLenient is a lenient grading variant for electives.
	PromptLenient PromptVariant = "lenient"
)

var validVariants = map[PromptVariant]bool{
	PromptStrict:   true,
	PromptStandard: true,
	PromptLenient:  true,
}

var (
	loadOnce        sync.Once
	loadErr         error
	reviewTemplates map[PromptVariant]*template.Template
)

// IsValidVariant checks if a prompt variant name is valid.
func IsValidVariant(v string) bool {
	return validVariants[PromptVariant(v)]
}

// ReviewItem is one question/answer pair in a review prompt.
type ReviewItem struct {
	Number    int
	Question  string
	Reference string
	Answer    string
}

// ReviewData holds template data for review prompts.
type ReviewData struct {
	ExamTitle  string
	ExamType   string
	TotalMarks int
	Items      []ReviewItem
}

// Load parses the embedded review templates once.
func Load() error {
	return load(templateFS)
}

func load(fsys fs.FS) error {
	loadOnce.Do(func() {
		reviewTemplates = make(map[PromptVariant]*template.Template)
		for _, v := range []PromptVariant{PromptStrict, PromptStandard, PromptLenient} {
			file := "templates/review_" + string(v) + ".txt"
			content, err := fs.ReadFile(fsys, file)
			if err != nil {
				loadErr = fmt.Errorf("read prompt file %s: %w", file, err)
				return
			}
			tmpl, err := template.New("review").Parse(string(content))
			if err != nil {
				loadErr = fmt.Errorf("parse prompt template %s: %w", file, err)
				return
			}
			reviewTemplates[v] = tmpl
		}
	})
	return loadErr
}

// BuildReviewPrompt renders the prompt asking for a score suggestion on a
// manually graded submission.
func BuildReviewPrompt(variant PromptVariant, exam model.Exam, sub model.Submission) (string, error) {
	if reviewTemplates == nil {
		return "", errors.New("templates not initialized: call Load first")
	}
	tmpl, ok := reviewTemplates[variant]
	if !ok {
		return "", errors.New("invalid prompt variant: " + string(variant))
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, reviewData(exam, sub)); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// reviewData pairs answers with questions by position. Manual exams do
// not enforce equal lengths, so either side may run out first.
func reviewData(exam model.Exam, sub model.Submission) ReviewData {
	n := max(len(exam.Questions), len(sub.Answers))
	items := make([]ReviewItem, n)
	for i := range n {
		item := ReviewItem{Number: i + 1, Question: "[No question]"}
		if i < len(exam.Questions) {
			item.Question = exam.Questions[i].Text
			item.Reference = exam.Questions[i].CorrectAnswer
		}
		var answer string
		if i < len(sub.Answers) {
			answer = sub.Answers[i]
		}
		item.Answer = sanitizeAnswer(answer)
		items[i] = item
	}
	return ReviewData{
		ExamTitle:  exam.Title,
		ExamType:   exam.Type.DisplayName(),
		TotalMarks: exam.TotalMarks,
		Items:      items,
	}
}

func sanitizeAnswer(answer string) string {
	answer = studentAnswerRegex.ReplaceAllString(answer, "")
	answer = systemInstructionsRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return "[No answer provided]"
	}

	if utf8.RuneCountInString(answer) > maxAnswerRunes {
		runes := []rune(answer)
		answer = string(runes[:maxAnswerRunes]) + "\n\n[Answer truncated due to length]"
	}

	return answer
}
