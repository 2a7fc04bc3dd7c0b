package http

import (
	"net/http"

	"paytrack/internal/log"
	"paytrack/internal/ocr"
)

type ocrRequest struct {
	FileData string `json:"fileData"`
}

// handleOCR always answers 200; an unreadable proof yields an empty analysis.
func (s *Server) handleOCR(w http.ResponseWriter, r *http.Request) {
	var req ocrRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		log.FromContext(r.Context()).DebugContext(r.Context(), "Unreadable OCR request", log.FieldError, err)
		writeJSON(w, http.StatusOK, ocr.Analysis{})
		return
	}
	if s.analyzer == nil || req.FileData == "" {
		writeJSON(w, http.StatusOK, ocr.Analysis{})
		return
	}
	writeJSON(w, http.StatusOK, s.analyzer.Analyze(r.Context(), req.FileData))
}
