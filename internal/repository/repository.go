// Package repository is the single entry point to payment persistence. It
// hides which backend is active and absorbs degraded backend behaviour: reads
// never fail (they log and come back empty), refused query shapes fall back
// to a full scan, and writes get one retry before surfacing a generic error.
package repository

import (
	"context"
	"errors"
	"time"

	"paytrack/internal/core"
	"paytrack/internal/log"
	"paytrack/internal/store"
)

var (
	ErrSaveFailed   = errors.New("could not save payment")
	ErrDeleteFailed = errors.New("could not delete payment")
)

type Repository struct {
	store  store.PaymentStore
	logger *log.Logger
	now    func() time.Time
}

func New(s store.PaymentStore, logger *log.Logger) *Repository {
	if logger == nil {
		logger = log.Default(log.ComponentRepository)
	}
	return &Repository{
		store:  s,
		logger: logger.WithComponent(log.ComponentRepository),
		now:    time.Now,
	}
}

// GetAll returns every payment in the backend's native order.
func (r *Repository) GetAll(ctx context.Context) []core.Payment {
	res := r.store.List(ctx)
	if res.Outcome != store.OK {
		r.logger.ErrorContext(ctx, "Failed to list payments",
			log.FieldOperation, log.OpList, log.FieldOutcome, res.Outcome.String(), log.FieldError, res.Err)
		return []core.Payment{}
	}
	return nonNil(res.Data)
}

// GetByID returns nil when the payment is absent or the backend failed.
func (r *Repository) GetByID(ctx context.Context, id string) *core.Payment {
	if id == "" {
		return nil
	}
	res := r.store.Get(ctx, id)
	if res.Outcome != store.OK {
		r.logger.ErrorContext(ctx, "Failed to read payment",
			log.FieldOperation, log.OpRead, log.FieldPaymentID, id,
			log.FieldOutcome, res.Outcome.String(), log.FieldError, res.Err)
		return nil
	}
	return res.Data
}

// GetByClient returns the client's payments, newest first.
func (r *Repository) GetByClient(ctx context.Context, clientID string) []core.Payment {
	return r.query(ctx, store.FieldClientID, clientID)
}

// GetByStatus returns payments in the given status, newest first.
func (r *Repository) GetByStatus(ctx context.Context, status core.Status) []core.Payment {
	return r.query(ctx, store.FieldStatus, string(status))
}

func (r *Repository) query(ctx context.Context, field store.Field, value string) []core.Payment {
	res := r.store.QueryByField(ctx, field, value)
	switch res.Outcome {
	case store.OK:
		return nonNil(res.Data)
	case store.IndexUnsupported:
		r.logger.WarnContext(ctx, "Filtered query refused by backend, falling back to full scan",
			log.FieldOperation, log.OpQuery, "field", string(field), log.FieldError, res.Err)
		all := r.store.List(ctx)
		if all.Outcome != store.OK {
			r.logger.ErrorContext(ctx, "Fallback scan failed",
				log.FieldOperation, log.OpList, log.FieldOutcome, all.Outcome.String(), log.FieldError, all.Err)
			return []core.Payment{}
		}
		out := store.Filter(all.Data, field, value)
		store.SortBySubmittedDesc(out)
		return out
	default:
		r.logger.ErrorContext(ctx, "Filtered query failed",
			log.FieldOperation, log.OpQuery, "field", string(field),
			log.FieldOutcome, res.Outcome.String(), log.FieldError, res.Err)
		return []core.Payment{}
	}
}

// Save upserts p and returns the stored record. A missing id, or one minted by
// a different backend, makes this a create with a fresh id.
func (r *Repository) Save(ctx context.Context, p core.Payment) (core.Payment, error) {
	p = p.Clone()
	creating := p.ID == "" || !r.store.OwnsID(p.ID)
	if creating {
		p.ID = r.store.NewID()
		if p.Status == "" {
			p.Status = core.StatusPending
		}
	}
	if p.SubmittedAt.IsZero() {
		p.SubmittedAt = r.now()
	}
	normalizeTimes(&p)

	err := r.store.Put(ctx, p)
	if err == nil {
		r.logSaved(ctx, creating, p)
		return p, nil
	}

	r.logger.WarnContext(ctx, "Save failed, retrying once",
		log.FieldPaymentID, p.ID, log.FieldAttempt, 1, "create", creating, log.FieldError, err)
	if !creating {
		// an update that failed is retried as a create
		p.ID = r.store.NewID()
		creating = true
	}
	if err := r.store.Put(ctx, p); err != nil {
		r.logger.ErrorContext(ctx, "Save failed after retry",
			log.FieldPaymentID, p.ID, log.FieldAttempt, 2, log.FieldClientID, p.ClientID, log.FieldError, err)
		return core.Payment{}, ErrSaveFailed
	}
	r.logSaved(ctx, creating, p)
	return p, nil
}

func (r *Repository) logSaved(ctx context.Context, created bool, p core.Payment) {
	op := log.OpUpdate
	if created {
		op = log.OpCreate
	}
	fields := log.NewFields().WithOperation(op).WithPayment(p.ID, p.ClientID, string(p.Status))
	r.logger.DebugContext(ctx, "Payment saved", fields.ToSlice()...)
}

// Delete hard-deletes the payment. Deleting an absent id succeeds.
func (r *Repository) Delete(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	err := r.store.Delete(ctx, id)
	if err == nil {
		return nil
	}
	r.logger.WarnContext(ctx, "Delete failed, retrying once",
		log.FieldPaymentID, id, log.FieldAttempt, 1, log.FieldError, err)
	if err := r.store.Delete(ctx, id); err != nil {
		r.logger.ErrorContext(ctx, "Delete failed after retry",
			log.FieldPaymentID, id, log.FieldAttempt, 2, log.FieldError, err)
		return ErrDeleteFailed
	}
	return nil
}

// normalizeTimes stores timestamps in UTC at millisecond precision, the
// resolution every backend round-trips.
func normalizeTimes(p *core.Payment) {
	p.SubmittedAt = p.SubmittedAt.UTC().Truncate(time.Millisecond)
	if p.ReviewedAt != nil {
		t := p.ReviewedAt.UTC().Truncate(time.Millisecond)
		p.ReviewedAt = &t
	}
	if p.ApprovedAt != nil {
		t := p.ApprovedAt.UTC().Truncate(time.Millisecond)
		p.ApprovedAt = &t
	}
}

func nonNil(ps []core.Payment) []core.Payment {
	if ps == nil {
		return []core.Payment{}
	}
	return ps
}
