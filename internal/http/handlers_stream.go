package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"paytrack/internal/core"
	"paytrack/internal/log"
	"paytrack/internal/repository"
)

const (
	defaultStreamPollInterval = 5 * time.Second
	streamHeartbeat           = 15 * time.Second
)

// PaymentStream is the subscription surface of repository.Repository.
type PaymentStream interface {
	Subscribe(ctx context.Context, f repository.Filter, fn func([]core.Payment)) *repository.Subscription
}

// handleStreamPayments serves GET /api/payments/stream?clientId=&status= as
// server-sent events. Each "payments" event carries the full filtered
// snapshot, newest first. Backends without push are re-read every poll
// interval.
func (s *Server) handleStreamPayments(w http.ResponseWriter, r *http.Request) {
	if s.stream == nil {
		writeError(w, http.StatusServiceUnavailable, "streaming unavailable")
		return
	}
	clientID, status, ok := paymentScope(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	logger := log.FromContext(ctx)
	rc := http.NewResponseController(w)
	// the server's write timeout would cut the stream
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		logger.DebugContext(ctx, "Could not clear write deadline", log.FieldError, err)
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if _, err := io.WriteString(w, "retry: 2000\n\n"); err != nil {
		return
	}

	// latest snapshot wins; a slow reader skips intermediate ones
	snapshots := make(chan []core.Payment, 1)
	sub := s.stream.Subscribe(ctx, repository.Filter{ClientID: clientID, Status: status}, func(ps []core.Payment) {
		for {
			select {
			case snapshots <- ps:
				return
			default:
			}
			select {
			case <-snapshots:
			default:
			}
		}
	})
	defer sub.Close()

	var poll <-chan time.Time
	if !sub.Live() {
		ticker := time.NewTicker(s.streamPollInterval)
		defer ticker.Stop()
		poll = ticker.C
	}
	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	logger.DebugContext(ctx, "Payment stream opened", log.FieldClientID, clientID, log.FieldStatus, string(status), "live", sub.Live())
	for {
		var err error
		select {
		case <-ctx.Done():
			return
		case ps := <-snapshots:
			err = writePaymentsEvent(w, ps)
		case <-poll:
			sub.Refresh(ctx)
			continue
		case <-heartbeat.C:
			_, err = io.WriteString(w, ": heartbeat\n\n")
		}
		if err == nil {
			err = rc.Flush()
		}
		if err != nil {
			logger.DebugContext(ctx, "Payment stream closed", log.FieldError, err)
			return
		}
	}
}

func writePaymentsEvent(w io.Writer, ps []core.Payment) error {
	if ps == nil {
		ps = []core.Payment{}
	}
	data, err := json.Marshal(ps)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: payments\ndata: %s\n\n", data)
	return err
}
