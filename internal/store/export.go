package store

import (
	"context"
	"fmt"

	"github.com/pavelanni/examgrade/internal/model"
)

// ExportExamResults builds export-ready student results for one exam.
func (s *Store) ExportExamResults(ctx context.Context, examID int64) ([]model.StudentResult, error) {
	subs, err := s.ListSubmissionsByExam(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}

	results := make([]model.StudentResult, 0, len(subs))
	for _, sub := range subs {
		results = append(results, model.StudentResult{
			SubmissionID: sub.ID,
			StudentID:    sub.StudentID,
			Answers:      sub.Answers,
			Score:        sub.Score,
			Graded:       sub.Graded,
			SubmittedAt:  sub.SubmittedAt,
			GradedAt:     sub.GradedAt,
		})
	}
	return results, nil
}
