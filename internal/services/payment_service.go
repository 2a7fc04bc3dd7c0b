package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"paytrack/internal/core"
	"paytrack/internal/log"
	"paytrack/internal/ocr"
)

var ErrNotFound = errors.New("payment not found")

// PaymentRepository is the slice of repository.Repository the service uses.
type PaymentRepository interface {
	GetByID(ctx context.Context, id string) *core.Payment
	Save(ctx context.Context, p core.Payment) (core.Payment, error)
}

type ProofAnalyzer interface {
	Analyze(ctx context.Context, fileData string) ocr.Analysis
}

type Notifier interface {
	Record(ctx context.Context, userID, typ, paymentID, title, message string) (core.Notification, error)
}

// ReviewPublisher announces reviewed payments to the ledger worker.
type ReviewPublisher interface {
	PublishPaymentReviewed(ctx context.Context, p core.Payment) error
}

// SubmitInput is what a client sends with a new payment. FileData is the
// proof as a data URL or bare base64 and is only used for analysis.
type SubmitInput struct {
	ClientID    string
	Amount      float64
	Description string
	ProofURL    string
	FileData    string
}

// PaymentService drives the payment lifecycle: persist first, then the
// side channels (notifications, review events) best-effort.
type PaymentService struct {
	payments    PaymentRepository
	analyzer    ProofAnalyzer
	notifier    Notifier
	publisher   ReviewPublisher
	adminUserID string
	logger      *log.Logger
	now         func() time.Time
}

// NewPaymentService wires the service. analyzer, notifier and publisher may
// be nil; the matching step is then skipped.
func NewPaymentService(payments PaymentRepository, analyzer ProofAnalyzer, notifier Notifier, publisher ReviewPublisher, adminUserID string, logger *log.Logger) *PaymentService {
	if logger == nil {
		logger = log.Default(log.ComponentPayments)
	}
	return &PaymentService{
		payments:    payments,
		analyzer:    analyzer,
		notifier:    notifier,
		publisher:   publisher,
		adminUserID: adminUserID,
		logger:      logger.WithComponent(log.ComponentPayments),
		now:         time.Now,
	}
}

// Submit stores a new pending payment. Proof analysis failures never block
// the submission; the detected amount is kept as advisory OCRAmount.
func (s *PaymentService) Submit(ctx context.Context, in SubmitInput) (core.Payment, error) {
	p := core.Payment{
		ClientID:    strings.TrimSpace(in.ClientID),
		Amount:      in.Amount,
		Description: strings.TrimSpace(in.Description),
		ProofURL:    strings.TrimSpace(in.ProofURL),
		Status:      core.StatusPending,
		SubmittedAt: s.now(),
	}
	if err := p.Validate(); err != nil {
		return core.Payment{}, err
	}

	if in.FileData != "" && s.analyzer != nil {
		if a := s.analyzer.Analyze(ctx, in.FileData); a.Amount != nil {
			v := *a.Amount
			p.OCRAmount = &v
			if v != p.Amount {
				s.logger.InfoContext(ctx, "Detected amount differs from submitted amount",
					log.FieldClientID, p.ClientID, log.FieldAmount, p.Amount, "ocr_amount", v)
			}
		}
	}

	saved, err := s.payments.Save(ctx, p)
	if err != nil {
		return core.Payment{}, fmt.Errorf("submit payment: %w", err)
	}

	s.notify(ctx, s.adminUserID, core.NotificationPaymentSubmitted, saved,
		"New payment submitted",
		fmt.Sprintf("Client %s submitted a payment of %.2f", saved.ClientID, saved.Amount))
	return saved, nil
}

// Approve marks a pending payment approved.
func (s *PaymentService) Approve(ctx context.Context, id, notes string) (core.Payment, error) {
	return s.review(ctx, id, core.StatusApproved, notes)
}

// Reject marks a pending payment rejected.
func (s *PaymentService) Reject(ctx context.Context, id, notes string) (core.Payment, error) {
	return s.review(ctx, id, core.StatusRejected, notes)
}

func (s *PaymentService) review(ctx context.Context, id string, decision core.Status, notes string) (core.Payment, error) {
	p := s.payments.GetByID(ctx, id)
	if p == nil {
		return core.Payment{}, ErrNotFound
	}
	if err := p.Review(decision, notes, s.now()); err != nil {
		return core.Payment{}, err
	}

	saved, err := s.payments.Save(ctx, *p)
	if err != nil {
		return core.Payment{}, fmt.Errorf("review payment %s: %w", id, err)
	}
	s.logger.InfoContext(ctx, "Payment reviewed",
		log.FieldOperation, log.OpReview, log.FieldPaymentID, saved.ID,
		log.FieldClientID, saved.ClientID, log.FieldStatus, string(saved.Status))

	typ, title, msg := core.NotificationPaymentApproved, "Payment approved",
		fmt.Sprintf("Your payment of %.2f was approved", saved.Amount)
	if decision == core.StatusRejected {
		typ, title = core.NotificationPaymentRejected, "Payment rejected"
		msg = fmt.Sprintf("Your payment of %.2f was rejected", saved.Amount)
		if saved.AdminNotes != "" {
			msg += ": " + saved.AdminNotes
		}
	}
	s.notify(ctx, saved.ClientID, typ, saved, title, msg)
	s.publishReviewed(ctx, saved)
	return saved, nil
}

func (s *PaymentService) notify(ctx context.Context, userID, typ string, p core.Payment, title, msg string) {
	if s.notifier == nil || userID == "" {
		return
	}
	if _, err := s.notifier.Record(ctx, userID, typ, p.ID, title, msg); err != nil {
		s.logger.ErrorContext(ctx, "Failed to record notification",
			log.FieldPaymentID, p.ID, log.FieldUserID, userID, log.FieldError, err)
	}
}

func (s *PaymentService) publishReviewed(ctx context.Context, p core.Payment) {
	if s.publisher == nil {
		s.logger.DebugContext(ctx, "AMQP client not available, skipping review event", log.FieldPaymentID, p.ID)
		return
	}
	if err := s.publisher.PublishPaymentReviewed(ctx, p); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish review event",
			log.FieldPaymentID, p.ID, log.FieldError, err)
	}
}
