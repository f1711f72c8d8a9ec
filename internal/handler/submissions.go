package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

type submitRequest struct {
	StudentID string   `json:"student_id"`
	Answers   []string `json:"answers"`
}

type overrideRequest struct {
	Score *int `json:"score"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	examID, ok := int64Param(r, "examID")
	if !ok {
		h.badRequest(w, r, "invalid exam ID")
		return
	}
	var req submitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.badRequest(w, r, err.Error())
		return
	}

	outcome, err := h.svc.Submit(r.Context(), examID, req.StudentID, req.Answers)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, outcome)
}

func (h *Handler) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	examID, ok := int64Param(r, "examID")
	if !ok {
		h.badRequest(w, r, "invalid exam ID")
		return
	}
	subs, err := h.svc.ListSubmissions(r.Context(), examID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

func (h *Handler) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	examID, ok := int64Param(r, "examID")
	if !ok {
		h.badRequest(w, r, "invalid exam ID")
		return
	}
	sub, err := h.svc.GetSubmission(r.Context(), examID, chi.URLParam(r, "studentID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (h *Handler) handleStudentSubmissions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.svc.StudentSubmissions(r.Context(), chi.URLParam(r, "studentID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

// handleStudentScores returns exam ID -> score. JSON object keys are
// strings, so IDs are rendered in decimal.
func (h *Handler) handleStudentScores(w http.ResponseWriter, r *http.Request) {
	scores := h.svc.StudentScores(chi.URLParam(r, "studentID"))
	out := make(map[string]int, len(scores))
	for examID, score := range scores {
		out[strconv.FormatInt(examID, 10)] = score
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleOverrideScore(w http.ResponseWriter, r *http.Request) {
	submissionID, ok := int64Param(r, "submissionID")
	if !ok {
		h.badRequest(w, r, "invalid submission ID")
		return
	}
	var req overrideRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.badRequest(w, r, err.Error())
		return
	}
	if req.Score == nil {
		h.badRequest(w, r, "score is required")
		return
	}

	sub, err := h.svc.OverrideScore(r.Context(), submissionID, *req.Score)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger.Info("score overridden via API", "submission_id", submissionID, "score", *req.Score)
	writeJSON(w, http.StatusOK, sub)
}
