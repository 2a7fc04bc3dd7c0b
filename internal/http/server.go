// Package http serves the paytrack JSON API: payment submission and review,
// client progress summaries, notifications and the OCR bridge.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"paytrack/internal/core"
	"paytrack/internal/log"
	"paytrack/internal/services"
)

const readyTimeout = 2 * time.Second

// PaymentReader is the read and delete surface of repository.Repository.
type PaymentReader interface {
	GetAll(ctx context.Context) []core.Payment
	GetByID(ctx context.Context, id string) *core.Payment
	GetByClient(ctx context.Context, clientID string) []core.Payment
	GetByStatus(ctx context.Context, status core.Status) []core.Payment
	Delete(ctx context.Context, id string) error
}

// PaymentWorkflow is the lifecycle surface of services.PaymentService.
type PaymentWorkflow interface {
	Submit(ctx context.Context, in services.SubmitInput) (core.Payment, error)
	Approve(ctx context.Context, id, notes string) (core.Payment, error)
	Reject(ctx context.Context, id, notes string) (core.Payment, error)
}

type Aggregator interface {
	ClientSummary(ctx context.Context, clientID string) core.ClientSummary
	MonthlyAggregates(ctx context.Context, clientID string) []core.MonthlyAggregate
	PaymentsForMonth(ctx context.Context, clientID, month string) []core.Payment
}

type NotificationInbox interface {
	ListFor(ctx context.Context, userID string) ([]core.Notification, error)
	MarkRead(ctx context.Context, id string) error
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Options carries the server's collaborators. Analyzer and Health may be nil.
type Options struct {
	Payments          PaymentReader
	Workflow          PaymentWorkflow
	Aggregates        Aggregator
	Notifications     NotificationInbox
	Analyzer          services.ProofAnalyzer
	Health            Pinger
	Stream            PaymentStream
	Logger            *log.Logger
	RequestsPerMinute int

	// StreamPollInterval paces re-reads for streams over backends without
	// push. Zero means five seconds.
	StreamPollInterval time.Duration
}

type Server struct {
	http.Server
	payments      PaymentReader
	workflow      PaymentWorkflow
	aggregates    Aggregator
	notifications NotificationInbox
	analyzer      services.ProofAnalyzer
	health        Pinger
	stream        PaymentStream
	logger        *log.Logger
	rateLimiter   *rateLimiter

	streamPollInterval time.Duration

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run http.Server.
func NewServer(addr string, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default(log.ComponentHTTP)
	}
	logger = logger.WithComponent(log.ComponentHTTP)

	mux := http.NewServeMux()
	s := &Server{
		Server: http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 10 * time.Second,
		},
		payments:      opts.Payments,
		workflow:      opts.Workflow,
		aggregates:    opts.Aggregates,
		notifications: opts.Notifications,
		analyzer:      opts.Analyzer,
		health:        opts.Health,
		logger:        logger,
		rateLimiter:   newRateLimiter(opts.RequestsPerMinute),

		stream:             opts.Stream,
		streamPollInterval: opts.StreamPollInterval,
	}
	if s.streamPollInterval <= 0 {
		s.streamPollInterval = defaultStreamPollInterval
	}

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.HandleFunc("POST /api/ocr", withIdentity(s.handleOCR))

	mux.HandleFunc("GET /api/payments", withIdentity(s.handleListPayments))
	mux.HandleFunc("POST /api/payments", withIdentity(s.handleCreatePayment))
	mux.HandleFunc("GET /api/payments/stream", withIdentity(s.handleStreamPayments))
	mux.HandleFunc("GET /api/payments/{id}", withIdentity(s.handleGetPayment))
	mux.HandleFunc("DELETE /api/payments/{id}", withIdentity(adminOnly(s.handleDeletePayment)))
	mux.HandleFunc("POST /api/payments/{id}/approve", withIdentity(adminOnly(s.handleReview(core.StatusApproved))))
	mux.HandleFunc("POST /api/payments/{id}/reject", withIdentity(adminOnly(s.handleReview(core.StatusRejected))))

	mux.HandleFunc("GET /api/clients/{id}/summary", withIdentity(s.handleClientSummary))
	mux.HandleFunc("GET /api/clients/{id}/months", withIdentity(s.handleClientMonths))
	mux.HandleFunc("GET /api/clients/{id}/months/{month}", withIdentity(s.handleClientMonth))

	mux.HandleFunc("GET /api/notifications", withIdentity(s.handleListNotifications))
	mux.HandleFunc("POST /api/notifications/{id}/read", withIdentity(s.handleMarkRead))

	var h http.Handler = mux
	h = s.withSecurityHeaders(h)
	h = log.RequestIDMiddleware(func(r *http.Request) string { return requestIDFrom(r.Context()) })(h)
	h = log.Middleware(logger)(h)
	h = withRequestID(h)
	s.Handler = h

	return s
}

// Shutdown stops the rate limiter and gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := generateRequestID()
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, requestID)))
	})
}

// withSecurityHeaders adds security headers, rate limiting, and request logging to responses
func (s *Server) withSecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := r.Context()
		clientIP := extractClientIP(r)
		logger := log.FromContext(ctx)

		logger.DebugContext(ctx, "Request started",
			log.FieldMethod, r.Method,
			log.FieldPath, r.URL.Path,
			log.FieldClientIP, clientIP)

		// Submissions, reviews and OCR calls are the expensive paths
		if r.Method == http.MethodPost && !s.rateLimiter.allow(clientIP) {
			logger.WarnContext(ctx, "Rate limit exceeded", log.FieldClientIP, clientIP, log.FieldPath, r.URL.Path)
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		setSecurityHeaders(w)

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		log.NewStructuredLogger(logger).LogHTTPEnd(ctx, r, clientIP, rw.statusCode, time.Since(start).Milliseconds())
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the flusher underneath.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReady reports whether the active backend answers.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := s.health.Ping(ctx); err != nil {
			log.FromContext(r.Context()).WarnContext(r.Context(), "Readiness check failed", log.FieldError, err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
