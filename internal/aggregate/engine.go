// Package aggregate derives monthly buckets and target progress from a
// client's approved payments. Nothing here is persisted; every call
// recomputes from the repository.
package aggregate

import (
	"context"
	"math"
	"sort"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"paytrack/internal/core"
	"paytrack/internal/log"
)

// DefaultTargetAmount applies when the client record cannot be resolved.
const DefaultTargetAmount = 10000.0

type (
	PaymentSource interface {
		GetByClient(ctx context.Context, clientID string) []core.Payment
	}

	ClientLookup interface {
		GetClient(ctx context.Context, id string) (*core.Client, error)
	}
)

type Engine struct {
	payments      PaymentSource
	clients       ClientLookup
	defaultTarget float64
	logger        *log.Logger
}

// New builds an engine. A non-positive defaultTarget means DefaultTargetAmount.
func New(payments PaymentSource, clients ClientLookup, defaultTarget float64, logger *log.Logger) *Engine {
	if defaultTarget <= 0 {
		defaultTarget = DefaultTargetAmount
	}
	if logger == nil {
		logger = log.Default(log.ComponentAggregate)
	}
	return &Engine{
		payments:      payments,
		clients:       clients,
		defaultTarget: defaultTarget,
		logger:        logger.WithComponent(log.ComponentAggregate),
	}
}

// MonthlyAggregates returns the client's approved totals per month, ascending.
func (e *Engine) MonthlyAggregates(ctx context.Context, clientID string) []core.MonthlyAggregate {
	return Monthly(e.payments.GetByClient(ctx, clientID))
}

// ClientSummary reports progress toward the client's target. The target
// lookup and the payment fetch run concurrently.
func (e *Engine) ClientSummary(ctx context.Context, clientID string) core.ClientSummary {
	var (
		target   = e.defaultTarget
		payments []core.Payment
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		target = e.targetFor(gctx, clientID)
		return nil
	})
	g.Go(func() error {
		payments = e.payments.GetByClient(gctx, clientID)
		return nil
	})
	_ = g.Wait()

	return Summarize(clientID, target, Monthly(payments))
}

// PaymentsForMonth returns the approved payments bucketed into month, in
// repository order.
func (e *Engine) PaymentsForMonth(ctx context.Context, clientID, month string) []core.Payment {
	for _, agg := range e.MonthlyAggregates(ctx, clientID) {
		if agg.Month == month {
			return agg.Payments
		}
	}
	return []core.Payment{}
}

func (e *Engine) targetFor(ctx context.Context, clientID string) float64 {
	if e.clients == nil {
		return e.defaultTarget
	}
	c, err := e.clients.GetClient(ctx, clientID)
	if err != nil {
		e.logger.WarnContext(ctx, "Client lookup failed, using default target",
			log.FieldClientID, clientID, log.FieldError, err)
		return e.defaultTarget
	}
	if c == nil {
		e.logger.DebugContext(ctx, "Client record not found, using default target", log.FieldClientID, clientID)
		return e.defaultTarget
	}
	if !finite(c.TargetAmount) {
		e.logger.WarnContext(ctx, "Client target is not a number, using default target",
			log.FieldClientID, clientID, log.FieldAmount, c.TargetAmount)
		return e.defaultTarget
	}
	return c.TargetAmount
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Monthly buckets approved payments by BucketMonth. Amounts are summed
// exactly; the client-declared amount counts, never the OCR guess. A stored
// amount that is NaN or infinite is left out as unreadable.
func Monthly(payments []core.Payment) []core.MonthlyAggregate {
	type bucket struct {
		sum      decimal.Decimal
		payments []core.Payment
	}
	buckets := map[string]*bucket{}
	for _, p := range payments {
		if p.Status != core.StatusApproved {
			continue
		}
		if !finite(p.Amount) {
			log.Default(log.ComponentAggregate).Warn("Skipping payment with non-finite amount",
				log.FieldPaymentID, p.ID, log.FieldClientID, p.ClientID, log.FieldAmount, p.Amount)
			continue
		}
		key := p.BucketMonth()
		b, ok := buckets[key]
		if !ok {
			b = &bucket{sum: decimal.Zero}
			buckets[key] = b
		}
		b.sum = b.sum.Add(decimal.NewFromFloat(p.Amount))
		b.payments = append(b.payments, p)
	}

	months := make([]string, 0, len(buckets))
	for m := range buckets {
		months = append(months, m)
	}
	sort.Strings(months)

	out := make([]core.MonthlyAggregate, 0, len(months))
	for _, m := range months {
		b := buckets[m]
		out = append(out, core.MonthlyAggregate{
			Month:    m,
			Amount:   b.sum.InexactFloat64(),
			Payments: b.payments,
		})
	}
	return out
}

// Summarize walks months in ascending order; the first month whose
// cumulative total meets target is the reached month.
// A non-finite target counts as zero.
func Summarize(clientID string, target float64, months []core.MonthlyAggregate) core.ClientSummary {
	if !finite(target) {
		target = 0
	}
	total := decimal.Zero
	goal := decimal.NewFromFloat(target)
	reached := ""
	for _, m := range months {
		if !finite(m.Amount) {
			continue
		}
		total = total.Add(decimal.NewFromFloat(m.Amount))
		if reached == "" && total.GreaterThanOrEqual(goal) {
			reached = m.Month
		}
	}

	remaining := decimal.Max(decimal.Zero, goal.Sub(total))
	if months == nil {
		months = []core.MonthlyAggregate{}
	}
	return core.ClientSummary{
		ClientID:           clientID,
		TargetAmount:       target,
		TotalApproved:      total.InexactFloat64(),
		Remaining:          remaining.InexactFloat64(),
		TargetReachedMonth: reached,
		Months:             months,
	}
}
