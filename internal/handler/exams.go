package handler

import (
	"net/http"
	"strconv"

	"github.com/pavelanni/examgrade/internal/engine"
	"github.com/pavelanni/examgrade/internal/model"
)

type createExamRequest struct {
	Title               string         `json:"title"`
	Type                model.ExamType `json:"type"`
	Sections            int            `json:"sections"`
	QuestionsPerSection int            `json:"questions_per_section"`
	TotalMarks          int            `json:"total_marks"`
	DurationMinutes     int            `json:"duration_minutes"`
}

type addQuestionRequest struct {
	Text          string   `json:"text"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correct_answer"`
	Section       int      `json:"section"`
}

type passedResponse struct {
	ExamID   int64    `json:"exam_id"`
	PassMark int      `json:"pass_mark"`
	Students []string `json:"students"`
}

func (h *Handler) handleListExams(w http.ResponseWriter, r *http.Request) {
	exams, err := h.svc.ListExams(r.Context(), model.ExamType(r.URL.Query().Get("type")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exams)
}

func (h *Handler) handleCreateExam(w http.ResponseWriter, r *http.Request) {
	var req createExamRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.badRequest(w, r, err.Error())
		return
	}

	var opts []engine.ExamOption
	if req.TotalMarks != 0 {
		opts = append(opts, engine.WithTotalMarks(req.TotalMarks))
	}
	if req.DurationMinutes != 0 {
		opts = append(opts, engine.WithDuration(req.DurationMinutes))
	}
	exam, err := h.svc.CreateExam(r.Context(), req.Type, req.Title, req.Sections, req.QuestionsPerSection, opts...)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, exam)
}

// handleGetExam serves the student view of an exam, without the key.
func (h *Handler) handleGetExam(w http.ResponseWriter, r *http.Request) {
	h.serveExam(w, r, model.Exam.WithoutKey)
}

func (h *Handler) handleAdminGetExam(w http.ResponseWriter, r *http.Request) {
	h.serveExam(w, r, func(e model.Exam) model.Exam { return e })
}

func (h *Handler) serveExam(w http.ResponseWriter, r *http.Request, view func(model.Exam) model.Exam) {
	examID, ok := int64Param(r, "examID")
	if !ok {
		h.badRequest(w, r, "invalid exam ID")
		return
	}
	exam, err := h.svc.GetExam(r.Context(), examID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view(exam))
}

func (h *Handler) handleAddQuestion(w http.ResponseWriter, r *http.Request) {
	examID, ok := int64Param(r, "examID")
	if !ok {
		h.badRequest(w, r, "invalid exam ID")
		return
	}
	var req addQuestionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.badRequest(w, r, err.Error())
		return
	}
	if req.Section == 0 {
		req.Section = 1
	}

	q, err := h.svc.AddQuestion(r.Context(), examID, req.Section, model.Question{
		Text:          req.Text,
		Options:       req.Options,
		CorrectAnswer: req.CorrectAnswer,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, q)
}

// passMark returns the pass_mark query parameter or the configured default.
func (h *Handler) passMark(r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("pass_mark")
	if raw == "" {
		return h.config.PassMark, true
	}
	v, err := strconv.Atoi(raw)
	return v, err == nil
}

func (h *Handler) handleExamStats(w http.ResponseWriter, r *http.Request) {
	examID, ok := int64Param(r, "examID")
	if !ok {
		h.badRequest(w, r, "invalid exam ID")
		return
	}
	passMark, ok := h.passMark(r)
	if !ok {
		h.badRequest(w, r, "invalid pass_mark")
		return
	}

	stats, err := h.svc.ExamStats(r.Context(), examID, passMark)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) handlePassedStudents(w http.ResponseWriter, r *http.Request) {
	examID, ok := int64Param(r, "examID")
	if !ok {
		h.badRequest(w, r, "invalid exam ID")
		return
	}
	passMark, ok := h.passMark(r)
	if !ok {
		h.badRequest(w, r, "invalid pass_mark")
		return
	}

	students, err := h.svc.PassedStudents(r.Context(), examID, passMark)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, passedResponse{ExamID: examID, PassMark: passMark, Students: students})
}
