package ledger

import (
	"maps"
	"slices"
	"sync"

	"github.com/pavelanni/examgrade/internal/model"
)

// ScoreIndex is an in-memory projection of recorded scores:
// student -> exam -> score. It is rebuilt from the repository and never
// treated as the source of truth.
type ScoreIndex struct {
	mu        sync.RWMutex
	byStudent map[string]map[int64]int
	byExam    map[int64]map[string]int
}

func newScoreIndex() *ScoreIndex {
	return &ScoreIndex{
		byStudent: make(map[string]map[int64]int),
		byExam:    make(map[int64]map[string]int),
	}
}

func (ix *ScoreIndex) set(examID int64, studentID string, score int) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.byStudent[studentID] == nil {
		ix.byStudent[studentID] = make(map[int64]int)
	}
	ix.byStudent[studentID][examID] = score
	if ix.byExam[examID] == nil {
		ix.byExam[examID] = make(map[string]int)
	}
	ix.byExam[examID][studentID] = score
}

func (ix *ScoreIndex) reset(subs []model.Submission) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.byStudent = make(map[string]map[int64]int)
	ix.byExam = make(map[int64]map[string]int)
	for _, s := range subs {
		if ix.byStudent[s.StudentID] == nil {
			ix.byStudent[s.StudentID] = make(map[int64]int)
		}
		ix.byStudent[s.StudentID][s.ExamID] = s.Score
		if ix.byExam[s.ExamID] == nil {
			ix.byExam[s.ExamID] = make(map[string]int)
		}
		ix.byExam[s.ExamID][s.StudentID] = s.Score
	}
}

// StudentScores returns a copy of the exam -> score map for one student.
func (ix *ScoreIndex) StudentScores(studentID string) map[int64]int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	scores := make(map[int64]int, len(ix.byStudent[studentID]))
	maps.Copy(scores, ix.byStudent[studentID])
	return scores
}

// ExamScores returns a copy of the student -> score map for one exam.
func (ix *ScoreIndex) ExamScores(examID int64) map[string]int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	scores := make(map[string]int, len(ix.byExam[examID]))
	maps.Copy(scores, ix.byExam[examID])
	return scores
}

// Stats computes pass-rate statistics for one exam.
func (ix *ScoreIndex) Stats(examID int64, passMark int) model.ExamStats {
	scores := ix.ExamScores(examID)
	stats := model.ExamStats{
		ExamID:        examID,
		PassMark:      passMark,
		TotalStudents: len(scores),
	}
	if len(scores) == 0 {
		return stats
	}

	sum := 0
	for _, score := range scores {
		sum += score
		if score >= passMark {
			stats.PassedStudents++
		}
	}
	stats.FailedStudents = stats.TotalStudents - stats.PassedStudents
	stats.AverageScore = float64(sum) / float64(stats.TotalStudents)
	stats.PassPercentage = float64(stats.PassedStudents) * 100 / float64(stats.TotalStudents)
	return stats
}

// PassedStudents returns the students of an exam scoring at least passMark,
// sorted by student ID.
func (ix *ScoreIndex) PassedStudents(examID int64, passMark int) []string {
	passed := []string{}
	for student, score := range ix.ExamScores(examID) {
		if score >= passMark {
			passed = append(passed, student)
		}
	}
	slices.Sort(passed)
	return passed
}
