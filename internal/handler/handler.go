// Package handler exposes the grading engine over a JSON HTTP API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/pavelanni/examgrade/internal/engine"
	"github.com/pavelanni/examgrade/internal/examerr"
	appI18n "github.com/pavelanni/examgrade/internal/i18n"
	"github.com/pavelanni/examgrade/internal/importer"
	"github.com/pavelanni/examgrade/internal/model"
)

// Service is the engine surface used by the handlers.
type Service interface {
	CreateExam(ctx context.Context, typ model.ExamType, title string, sections, questionsPerSection int, opts ...engine.ExamOption) (model.Exam, error)
	AddQuestion(ctx context.Context, examID int64, section int, q model.Question) (model.Question, error)
	GetExam(ctx context.Context, examID int64) (model.Exam, error)
	ListExams(ctx context.Context, typ model.ExamType) ([]model.Exam, error)
	Submit(ctx context.Context, examID int64, studentID string, answers []string) (model.ScoreOutcome, error)
	GetSubmission(ctx context.Context, examID int64, studentID string) (*model.Submission, error)
	ListSubmissions(ctx context.Context, examID int64) ([]model.Submission, error)
	StudentSubmissions(ctx context.Context, studentID string) ([]model.Submission, error)
	OverrideScore(ctx context.Context, submissionID int64, score int) (model.Submission, error)
	ExamStats(ctx context.Context, examID int64, passMark int) (model.ExamStats, error)
	PassedStudents(ctx context.Context, examID int64, passMark int) ([]string, error)
	StudentScores(studentID string) map[int64]int
	Counters() engine.Counters
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	svc      Service
	importer *importer.Importer
	config   model.ExamConfig
	logger   *slog.Logger
}

// New creates a new Handler. imp may be nil, which disables uploads.
func New(svc Service, imp *importer.Importer, cfg model.ExamConfig) *Handler {
	return &Handler{
		svc:      svc,
		importer: imp,
		config:   cfg,
		logger:   slog.Default().With("module", "handler"),
	}
}

// Router builds the complete HTTP handler with middleware.
func (h *Handler) Router(lang string, corsOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	if len(corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Accept-Language", "Content-Type"},
			MaxAge:         300,
		}))
	}
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)
	return r
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)

	r.Route("/exams", func(r chi.Router) {
		r.Get("/", h.handleListExams)
		r.Post("/", h.handleCreateExam)
		r.Route("/{examID}", func(r chi.Router) {
			r.Get("/", h.handleGetExam)
			r.Post("/questions", h.handleAddQuestion)
			r.Get("/stats", h.handleExamStats)
			r.Get("/passed", h.handlePassedStudents)
			r.Post("/submissions", h.handleSubmit)
			r.Get("/submissions", h.handleListSubmissions)
			r.Get("/submissions/{studentID}", h.handleGetSubmission)
		})
	})
	r.Get("/students/{studentID}/scores", h.handleStudentScores)
	r.Get("/students/{studentID}/submissions", h.handleStudentSubmissions)
	r.Post("/submissions/{submissionID}/score", h.handleOverrideScore)

	r.Route("/admin", func(r chi.Router) {
		r.Get("/counters", h.handleCounters)
		r.Get("/exams/{examID}", h.handleAdminGetExam)
		r.Post("/exams/upload", h.handleUploadExams)
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorBody struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// writeError renders err as {"code","error"}. Domain errors keep their
// status and get a localized message; anything else is a 500.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = examerr.Timeout(r.Method + " " + r.URL.Path).WithCause(err)
	}
	e := examerr.As(err)
	if e == nil {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		e = examerr.Internal(err)
	} else if e.HTTPStatus() >= http.StatusInternalServerError {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, e.HTTPStatus(), errorBody{
		Code:  e.Code(),
		Error: appI18n.ErrorMessage(ctx, e.Code(), e.Error()),
	})
}

func (h *Handler) badRequest(w http.ResponseWriter, r *http.Request, detail string) {
	h.logger.Debug("bad request", "path", r.URL.Path, "detail", detail)
	writeJSON(w, http.StatusBadRequest, errorBody{
		Code:  "bad_request",
		Error: appI18n.ErrorMessage(r.Context(), "bad_request", detail),
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func int64Param(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil
}
