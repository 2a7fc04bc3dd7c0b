package http

import (
	"errors"
	"net/http"

	"paytrack/internal/core"
	"paytrack/internal/log"
	"paytrack/internal/services"
)

type submitRequest struct {
	ClientID    string  `json:"clientId"`
	Amount      float64 `json:"amount"`
	Description string  `json:"description"`
	ProofURL    string  `json:"proofUrl"`
	FileData    string  `json:"fileData"`
}

type reviewRequest struct {
	Notes string `json:"notes"`
}

// paymentScope reads the clientId and status filters shared by the list and
// stream endpoints. Clients only ever see their own payments. It writes the
// error response itself and reports false when the request is refused.
func paymentScope(w http.ResponseWriter, r *http.Request) (clientID string, status core.Status, ok bool) {
	id, _ := identityFrom(r.Context())
	q := r.URL.Query()
	clientID = sanitizeInput(q.Get("clientId"))
	if !id.IsAdmin() {
		if clientID == "" {
			clientID = id.UserID
		}
		if clientID != id.UserID {
			writeError(w, http.StatusForbidden, "forbidden")
			return "", "", false
		}
	}

	if raw := sanitizeInput(q.Get("status")); raw != "" {
		st, err := core.ParseStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid status")
			return "", "", false
		}
		status = st
	}
	return clientID, status, true
}

// handleListPayments serves GET /api/payments?clientId=&status=.
func (s *Server) handleListPayments(w http.ResponseWriter, r *http.Request) {
	clientID, status, ok := paymentScope(w, r)
	if !ok {
		return
	}

	var payments []core.Payment
	switch {
	case clientID != "":
		payments = filterStatus(s.payments.GetByClient(r.Context(), clientID), status)
	case status != "":
		payments = s.payments.GetByStatus(r.Context(), status)
	default:
		payments = s.payments.GetAll(r.Context())
	}
	if payments == nil {
		payments = []core.Payment{}
	}
	writeJSON(w, http.StatusOK, payments)
}

func filterStatus(ps []core.Payment, status core.Status) []core.Payment {
	if status == "" {
		return ps
	}
	out := make([]core.Payment, 0, len(ps))
	for _, p := range ps {
		if p.Status == status {
			out = append(out, p)
		}
	}
	return out
}

func (s *Server) handleCreatePayment(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	var req submitRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		log.FromContext(r.Context()).DebugContext(r.Context(), "Rejected submission body", log.FieldError, err)
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	clientID := sanitizeInput(req.ClientID)
	if !id.IsAdmin() {
		if clientID == "" {
			clientID = id.UserID
		}
		if clientID != id.UserID {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
	}

	p, err := s.workflow.Submit(r.Context(), services.SubmitInput{
		ClientID:    clientID,
		Amount:      req.Amount,
		Description: sanitizeInput(req.Description),
		ProofURL:    sanitizeInput(req.ProofURL),
		FileData:    req.FileData,
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, p)
	case errors.Is(err, core.ErrEmptyClient), errors.Is(err, core.ErrInvalidAmount), errors.Is(err, core.ErrDescriptionLimit):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeInternal(w, r, log.OpCreate, err)
	}
}

// handleGetPayment answers 404 for payments the caller may not see.
func (s *Server) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	p := s.payments.GetByID(r.Context(), r.PathValue("id"))
	if p == nil || !id.CanAccessClient(p.ClientID) {
		writeError(w, http.StatusNotFound, "payment not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeletePayment(w http.ResponseWriter, r *http.Request) {
	if err := s.payments.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeInternal(w, r, log.OpDelete, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReview(decision core.Status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req reviewRequest
		if err := decodeJSON(w, r, &req, true); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		id, notes := r.PathValue("id"), sanitizeInput(req.Notes)
		var (
			p   core.Payment
			err error
		)
		if decision == core.StatusRejected {
			p, err = s.workflow.Reject(r.Context(), id, notes)
		} else {
			p, err = s.workflow.Approve(r.Context(), id, notes)
		}
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, p)
		case errors.Is(err, services.ErrNotFound):
			writeError(w, http.StatusNotFound, "payment not found")
		case errors.Is(err, core.ErrAlreadyReviewed):
			writeError(w, http.StatusConflict, "payment already reviewed")
		default:
			writeInternal(w, r, log.OpReview, err)
		}
	}
}
