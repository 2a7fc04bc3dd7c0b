package worker

import (
	"context"
	"fmt"
	"sort"
	"time"

	"paytrack/internal/amqp"
	"paytrack/internal/core"
	"paytrack/internal/log"
	"paytrack/internal/sheets"
)

// Ledger is the export target for approved payments.
type Ledger interface {
	AppendPayment(ctx context.Context, p core.Payment) (string, error)
	RecordedIDs(ctx context.Context, year int) (map[string]bool, error)
}

// ApprovedSource lists payments by status; repository.Repository satisfies it.
type ApprovedSource interface {
	GetByStatus(ctx context.Context, status core.Status) []core.Payment
}

// LedgerWorker appends approved payments to the ledger. Appends are
// idempotent per payment id so redelivered events are harmless.
type LedgerWorker struct {
	ledger   Ledger
	payments ApprovedSource
	logger   *log.Logger
}

// NewLedgerWorker builds the worker. payments may be nil, which disables
// Reconcile.
func NewLedgerWorker(ledger Ledger, payments ApprovedSource, logger *log.Logger) *LedgerWorker {
	if logger == nil {
		logger = log.Default(log.ComponentWorker)
	}
	return &LedgerWorker{ledger: ledger, payments: payments, logger: logger.WithComponent(log.ComponentWorker)}
}

// HandlePaymentReviewed is the AMQP handler. A returned error requeues the
// message; rejections are acknowledged without touching the ledger.
func (w *LedgerWorker) HandlePaymentReviewed(ctx context.Context, msg *amqp.PaymentReviewedMessage) error {
	w.logger.InfoContext(ctx, "Processing review event",
		log.FieldPaymentID, msg.PaymentID, log.FieldStatus, msg.Status)

	if !msg.Approved() {
		return nil
	}
	p := msg.Payment()
	recorded, err := w.ledger.RecordedIDs(ctx, sheets.LedgerYear(p))
	if err != nil {
		return fmt.Errorf("read ledger: %w", err)
	}
	if recorded[p.ID] {
		w.logger.InfoContext(ctx, "Payment already in ledger", log.FieldPaymentID, p.ID)
		return nil
	}
	if _, err := w.ledger.AppendPayment(ctx, p); err != nil {
		return fmt.Errorf("append payment %s: %w", p.ID, err)
	}
	return nil
}

// Reconcile appends approved payments missing from the ledger. It recovers
// from events lost while the worker or broker was down.
func (w *LedgerWorker) Reconcile(ctx context.Context) (int, error) {
	if w.payments == nil {
		return 0, nil
	}
	approved := w.payments.GetByStatus(ctx, core.StatusApproved)
	if len(approved) == 0 {
		w.logger.InfoContext(ctx, "No approved payments to reconcile")
		return 0, nil
	}

	byYear := map[int][]core.Payment{}
	for _, p := range approved {
		y := sheets.LedgerYear(p)
		byYear[y] = append(byYear[y], p)
	}
	years := make([]int, 0, len(byYear))
	for y := range byYear {
		years = append(years, y)
	}
	sort.Ints(years)

	appended, failed := 0, 0
	for _, y := range years {
		recorded, err := w.ledger.RecordedIDs(ctx, y)
		if err != nil {
			return appended, fmt.Errorf("read ledger for %d: %w", y, err)
		}
		// oldest first so rows stay in approval order
		ps := byYear[y]
		sort.SliceStable(ps, func(i, j int) bool {
			return approvalTime(ps[i]).Before(approvalTime(ps[j]))
		})
		for _, p := range ps {
			if recorded[p.ID] {
				continue
			}
			if _, err := w.ledger.AppendPayment(ctx, p); err != nil {
				w.logger.ErrorContext(ctx, "Failed to append payment during reconcile",
					log.FieldPaymentID, p.ID, log.FieldError, err)
				failed++
				continue
			}
			appended++
		}
	}

	w.logger.InfoContext(ctx, "Ledger reconcile completed",
		"approved", len(approved), "appended", appended, "errors", failed)
	return appended, nil
}

func approvalTime(p core.Payment) time.Time {
	if p.ApprovedAt != nil {
		return *p.ApprovedAt
	}
	return p.SubmittedAt
}
