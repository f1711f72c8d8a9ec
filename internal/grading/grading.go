// Package grading holds the scoring algorithms applied to submitted answers.
package grading

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/pavelanni/examgrade/internal/examerr"
	"github.com/pavelanni/examgrade/internal/model"
)

// Strategy scores a set of answers against a grading key.
type Strategy interface {
	Evaluate(answers, key []string, totalMarks int) (int, error)
	Mode() model.GradingMode
	Name() string
}

// Exact awards marks for every answer that matches the key at the same
// position, ignoring case and surrounding whitespace.
type Exact struct{}

// Evaluate returns (correct * totalMarks) / len(key), truncated.
func (Exact) Evaluate(answers, key []string, totalMarks int) (int, error) {
	if answers == nil || key == nil {
		return 0, examerr.InvalidAnswers("answers and answer key are required")
	}
	if len(answers) != len(key) {
		return 0, examerr.AnswerCountMismatch(len(key), len(answers))
	}
	if len(key) == 0 {
		return 0, nil
	}

	correct := 0
	for i, a := range answers {
		if strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(key[i])) {
			correct++
		}
	}
	return (correct * totalMarks) / len(key), nil
}

func (Exact) Mode() model.GradingMode { return model.GradingAuto }

func (Exact) Name() string { return "exact-match" }

// Manual defers grading to a human reviewer. Its score is always 0.
type Manual struct {
	Logger *slog.Logger
}

// Evaluate records the submission for review and returns 0. Answers need not
// line up with the key, so only a nil answer set is rejected.
func (m Manual) Evaluate(answers, _ []string, _ int) (int, error) {
	if answers == nil {
		return 0, examerr.InvalidAnswers("answers are required")
	}
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("submission received for manual review", "answers", len(answers))
	return 0, nil
}

func (Manual) Mode() model.GradingMode { return model.GradingManual }

func (Manual) Name() string { return "manual" }

// Registry maps exam types to strategies.
type Registry struct {
	mu         sync.RWMutex
	strategies map[model.ExamType]Strategy
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[model.ExamType]Strategy)}
}

// DefaultRegistry registers a strategy for every known exam type based on its
// grading mode.
func DefaultRegistry(logger *slog.Logger) *Registry {
	r := NewRegistry()
	for _, t := range model.ExamTypes() {
		mode, _ := t.GradingMode()
		switch mode {
		case model.GradingAuto:
			r.Register(t, Exact{})
		case model.GradingManual:
			r.Register(t, Manual{Logger: logger})
		}
	}
	return r
}

// Register binds a strategy to an exam type, replacing any previous binding.
func (r *Registry) Register(t model.ExamType, s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[t] = s
}

// Lookup returns the strategy for t.
func (r *Registry) Lookup(t model.ExamType) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[t]
	if !ok {
		return nil, examerr.UnknownExamType(string(t))
	}
	return s, nil
}

// String lists the registered bindings, for startup logs.
func (r *Registry) String() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	parts := make([]string, 0, len(r.strategies))
	for _, t := range slices.Sorted(maps.Keys(r.strategies)) {
		parts = append(parts, fmt.Sprintf("%s=%s", t, r.strategies[t].Name()))
	}
	return strings.Join(parts, ",")
}
