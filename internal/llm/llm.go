// Package llm asks an OpenAI-compatible model for score suggestions on
// manually graded submissions.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/pavelanni/examgrade/internal/llm/prompts"
	"github.com/pavelanni/examgrade/internal/model"

	openai "github.com/sashabaranov/go-openai"
)

// Suggestion is the model's proposed score for a submission.
type Suggestion struct {
	SubmissionID int64   `json:"submission_id"`
	Score        int     `json:"score"`
	RawScore     float64 `json:"raw_score"`
	TotalMarks   int     `json:"total_marks"`
	Feedback     string  `json:"feedback"`
}

type reviewResponse struct {
	Score    float64 `json:"score"`
	Feedback string  `json:"feedback"`
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api     *openai.Client
	model   string
	variant prompts.PromptVariant
	logger  *slog.Logger
}

// New creates a new LLM client using the given prompt variant.
func New(baseURL, apiKey, modelName, variant string) (*Client, error) {
	if !prompts.IsValidVariant(variant) {
		return nil, fmt.Errorf("invalid prompt variant %q", variant)
	}
	if err := prompts.Load(); err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}

	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:     openai.NewClientWithConfig(config),
		model:   modelName,
		variant: prompts.PromptVariant(variant),
		logger:  slog.Default().With("module", "llm"),
	}, nil
}

// Ping checks that the endpoint answers.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// SuggestScore asks the model to grade a submission that awaits manual
// review. The returned score is clamped to 0..TotalMarks.
func (c *Client) SuggestScore(ctx context.Context, exam model.Exam, sub model.Submission) (*Suggestion, error) {
	if sub.Graded {
		return nil, fmt.Errorf("submission %d is already graded", sub.ID)
	}

	systemPrompt, err := prompts.BuildReviewPrompt(c.variant, exam, sub)
	if err != nil {
		return nil, fmt.Errorf("build review prompt: %w", err)
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: "Grade this submission."},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.1,
	})
	if err != nil {
		return nil, fmt.Errorf("LLM review API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("LLM returned no choices for review")
	}

	raw := resp.Choices[0].Message.Content
	c.logger.Debug("LLM response", "submission_id", sub.ID, "raw", raw)

	var result reviewResponse
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("parse review response: %w (raw: %s)", err, raw)
	}

	return &Suggestion{
		SubmissionID: sub.ID,
		Score:        clampScore(result.Score, exam.TotalMarks),
		RawScore:     result.Score,
		TotalMarks:   exam.TotalMarks,
		Feedback:     result.Feedback,
	}, nil
}

func clampScore(score float64, totalMarks int) int {
	if math.IsNaN(score) || score < 0 {
		return 0
	}
	rounded := int(math.Round(score))
	return min(rounded, totalMarks)
}
