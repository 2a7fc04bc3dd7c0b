package http

import (
	"net/http"

	"paytrack/internal/log"
)

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	ns, err := s.notifications.ListFor(r.Context(), id.UserID)
	if err != nil {
		writeInternal(w, r, log.OpList, err)
		return
	}
	writeJSON(w, http.StatusOK, ns)
}

// handleMarkRead only touches notifications addressed to the caller.
func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	nid := r.PathValue("id")

	ns, err := s.notifications.ListFor(r.Context(), id.UserID)
	if err != nil {
		writeInternal(w, r, log.OpList, err)
		return
	}
	owned := false
	for _, n := range ns {
		if n.ID == nid {
			owned = true
			break
		}
	}
	if !owned {
		writeError(w, http.StatusNotFound, "notification not found")
		return
	}

	if err := s.notifications.MarkRead(r.Context(), nid); err != nil {
		writeInternal(w, r, log.OpUpdate, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
