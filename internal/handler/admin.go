package handler

import (
	"io"
	"net/http"

	"github.com/pavelanni/examgrade/internal/examerr"
	"github.com/pavelanni/examgrade/internal/importer"
)

type uploadResponse struct {
	Status  importer.Status `json:"status"`
	Exams   int             `json:"exams"`
	ExamIDs []int64         `json:"exam_ids,omitempty"`
}

func (h *Handler) handleCounters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Counters())
}

// handleUploadExams imports an exam file sent as multipart field
// "exam_file". The file name is the dedupe key.
func (h *Handler) handleUploadExams(w http.ResponseWriter, r *http.Request) {
	if h.importer == nil {
		http.Error(w, "uploads disabled", http.StatusNotFound)
		return
	}
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		h.badRequest(w, r, "file too large")
		return
	}

	file, header, err := r.FormFile("exam_file")
	if err != nil {
		h.badRequest(w, r, "no file uploaded")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.importer.ImportData(r.Context(), header.Filename, data)
	if err != nil {
		if examerr.As(err) != nil {
			h.writeError(w, r, err)
		} else {
			h.badRequest(w, r, err.Error())
		}
		return
	}

	resp := uploadResponse{Status: res.Status, Exams: len(res.Exams)}
	for _, e := range res.Exams {
		resp.ExamIDs = append(resp.ExamIDs, e.ID)
	}
	status := http.StatusOK
	if res.Status == importer.StatusImported {
		status = http.StatusCreated
	}
	h.logger.Info("uploaded exams via admin", "filename", header.Filename, "status", res.Status, "count", len(res.Exams))
	writeJSON(w, status, resp)
}
