package http

import (
	"net/http"

	"paytrack/internal/core"
)

// clientFromPath returns the {id} path value when the caller may read it.
func clientFromPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, _ := identityFrom(r.Context())
	clientID := sanitizeInput(r.PathValue("id"))
	if !id.CanAccessClient(clientID) {
		writeError(w, http.StatusForbidden, "forbidden")
		return "", false
	}
	return clientID, true
}

func (s *Server) handleClientSummary(w http.ResponseWriter, r *http.Request) {
	clientID, ok := clientFromPath(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.aggregates.ClientSummary(r.Context(), clientID))
}

func (s *Server) handleClientMonths(w http.ResponseWriter, r *http.Request) {
	clientID, ok := clientFromPath(w, r)
	if !ok {
		return
	}
	months := s.aggregates.MonthlyAggregates(r.Context(), clientID)
	if months == nil {
		months = []core.MonthlyAggregate{}
	}
	writeJSON(w, http.StatusOK, months)
}

// handleClientMonth lists the approved payments counted toward one YYYY-MM bucket.
func (s *Server) handleClientMonth(w http.ResponseWriter, r *http.Request) {
	clientID, ok := clientFromPath(w, r)
	if !ok {
		return
	}
	month := r.PathValue("month")
	if !core.ValidMonth(month) {
		writeError(w, http.StatusBadRequest, "invalid month")
		return
	}
	payments := s.aggregates.PaymentsForMonth(r.Context(), clientID, month)
	if payments == nil {
		payments = []core.Payment{}
	}
	writeJSON(w, http.StatusOK, payments)
}
