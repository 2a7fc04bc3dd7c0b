package aggregate

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"paytrack/internal/core"
	"paytrack/internal/log"
)

type fakePayments map[string][]core.Payment

func (f fakePayments) GetByClient(_ context.Context, clientID string) []core.Payment {
	return f[clientID]
}

type fakeClients struct {
	clients map[string]core.Client
	err     error
}

func (f fakeClients) GetClient(_ context.Context, id string) (*core.Client, error) {
	if f.err != nil {
		return nil, f.err
	}
	c, ok := f.clients[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func approved(id string, amount float64, approvedAt time.Time) core.Payment {
	submitted := approvedAt.Add(-48 * time.Hour)
	return core.Payment{
		ID: id, ClientID: "c1", Amount: amount, Status: core.StatusApproved,
		SubmittedAt: submitted, ReviewedAt: &approvedAt, ApprovedAt: &approvedAt,
	}
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

func TestClientSummaryReachesTargetInSecondMonth(t *testing.T) {
	payments := fakePayments{"c1": {
		approved("p2", 700, date(2025, 2, 3)),
		approved("p1", 500, date(2025, 1, 15)),
	}}
	clients := fakeClients{clients: map[string]core.Client{"c1": {ID: "c1", TargetAmount: 1000}}}
	e := New(payments, clients, 0, log.Discard())

	s := e.ClientSummary(context.Background(), "c1")
	if s.TargetReachedMonth != "2025-02" || s.TotalApproved != 1200 || s.Remaining != 0 {
		t.Fatalf("unexpected summary: %+v", s)
	}
	if !s.Reached() || s.TargetAmount != 1000 {
		t.Fatalf("unexpected target fields: %+v", s)
	}
	if len(s.Months) != 2 || s.Months[0].Month != "2025-01" {
		t.Fatalf("months not ascending: %+v", s.Months)
	}
}

func TestMonthlyIgnoresNonApprovedAndOCR(t *testing.T) {
	ocr := 9999.0
	p := approved("p1", 100, date(2025, 3, 1))
	p.OCRAmount = &ocr
	pending := core.Payment{ID: "p2", Amount: 50, Status: core.StatusPending, SubmittedAt: date(2025, 3, 2)}
	rejectedAt := date(2025, 3, 3)
	rejected := core.Payment{ID: "p3", Amount: 70, Status: core.StatusRejected, SubmittedAt: date(2025, 3, 2), ReviewedAt: &rejectedAt}

	got := Monthly([]core.Payment{p, pending, rejected})
	if len(got) != 1 || got[0].Amount != 100 || len(got[0].Payments) != 1 {
		t.Fatalf("unexpected aggregates: %+v", got)
	}
}

func TestMonthlyBucketsByApprovalMonthInUTC(t *testing.T) {
	// submitted in January, approved in February
	p := approved("p1", 100, date(2025, 2, 1))
	p.SubmittedAt = date(2025, 1, 20)

	// approved at 23:30 on Mar 31 in UTC-5 is April in UTC
	ny := time.FixedZone("EST", -5*3600)
	late := time.Date(2025, 3, 31, 23, 30, 0, 0, ny)
	q := approved("p2", 10, late)

	// no approval timestamp falls back to submission date
	r := core.Payment{ID: "p3", Amount: 5, Status: core.StatusApproved, SubmittedAt: date(2025, 5, 5)}

	got := Monthly([]core.Payment{p, q, r})
	months := make([]string, 0, len(got))
	for _, m := range got {
		months = append(months, m.Month)
	}
	if !reflect.DeepEqual(months, []string{"2025-02", "2025-04", "2025-05"}) {
		t.Fatalf("unexpected months: %v", months)
	}
}

func TestMonthlySumsExactly(t *testing.T) {
	ps := []core.Payment{
		approved("a", 0.1, date(2025, 1, 1)),
		approved("b", 0.2, date(2025, 1, 2)),
	}
	got := Monthly(ps)
	if got[0].Amount != 0.3 {
		t.Fatalf("expected exact 0.3, got %v", got[0].Amount)
	}
	if got[0].Payments[0].ID != "a" {
		t.Fatalf("payments should keep retrieval order")
	}
}

func TestSummaryInvariants(t *testing.T) {
	cases := []struct {
		name    string
		target  float64
		amounts []float64
		reached string
		remain  float64
	}{
		{"no payments", 1000, nil, "", 1000},
		{"under target", 1000, []float64{200, 300}, "", 500},
		{"exactly on target", 500, []float64{200, 300}, "2025-02", 0},
		{"over target clamps", 100, []float64{200, 300}, "2025-01", 0},
		{"zero target reached by first month", 0, []float64{50, 60}, "2025-01", 0},
		{"zero target without payments", 0, nil, "", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var ps []core.Payment
			for i, a := range tc.amounts {
				ps = append(ps, approved("p", a, date(2025, time.Month(i+1), 10)))
			}
			s := Summarize("c1", tc.target, Monthly(ps))
			if s.TargetReachedMonth != tc.reached || s.Remaining != tc.remain {
				t.Fatalf("got reached=%q remaining=%v, want %q %v", s.TargetReachedMonth, s.Remaining, tc.reached, tc.remain)
			}
			if s.Remaining < 0 {
				t.Fatalf("remaining negative")
			}
			if s.Months == nil {
				t.Fatalf("months should never be nil")
			}
		})
	}
}

func TestFirstReachedMonthWins(t *testing.T) {
	ps := []core.Payment{
		approved("a", 600, date(2025, 1, 1)),
		approved("b", 600, date(2025, 2, 1)),
		approved("c", 5000, date(2025, 3, 1)),
	}
	s := Summarize("c1", 1000, Monthly(ps))
	if s.TargetReachedMonth != "2025-02" {
		t.Fatalf("reached month %q", s.TargetReachedMonth)
	}
}

func TestDefaultTargetWhenClientUnresolved(t *testing.T) {
	payments := fakePayments{"c1": {approved("p1", 100, date(2025, 1, 1))}}

	for name, clients := range map[string]ClientLookup{
		"missing record": fakeClients{},
		"lookup error":   fakeClients{err: errors.New("down")},
		"no directory":   nil,
	} {
		t.Run(name, func(t *testing.T) {
			e := New(payments, clients, 0, log.Discard())
			s := e.ClientSummary(context.Background(), "c1")
			if s.TargetAmount != DefaultTargetAmount || s.Remaining != DefaultTargetAmount-100 {
				t.Fatalf("unexpected summary: %+v", s)
			}
		})
	}

	e := New(payments, fakeClients{}, 2500, log.Discard())
	if s := e.ClientSummary(context.Background(), "c1"); s.TargetAmount != 2500 {
		t.Fatalf("configured default ignored: %v", s.TargetAmount)
	}
}

func TestAggregationIsIdempotent(t *testing.T) {
	payments := fakePayments{"c1": {
		approved("p1", 500, date(2025, 1, 15)),
		approved("p2", 700, date(2025, 2, 3)),
	}}
	e := New(payments, fakeClients{}, 1000, log.Discard())
	ctx := context.Background()

	first := e.ClientSummary(ctx, "c1")
	for i := 0; i < 3; i++ {
		if again := e.ClientSummary(ctx, "c1"); !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d differs: %+v vs %+v", i, again, first)
		}
	}
}

func TestPaymentsForMonth(t *testing.T) {
	payments := fakePayments{"c1": {
		approved("p3", 10, date(2025, 2, 20)),
		approved("p2", 20, date(2025, 2, 3)),
		approved("p1", 500, date(2025, 1, 15)),
	}}
	e := New(payments, nil, 0, log.Discard())
	ctx := context.Background()

	got := e.PaymentsForMonth(ctx, "c1", "2025-02")
	if len(got) != 2 || got[0].ID != "p3" || got[1].ID != "p2" {
		t.Fatalf("unexpected month payments: %+v", got)
	}
	if none := e.PaymentsForMonth(ctx, "c1", "2024-12"); none == nil || len(none) != 0 {
		t.Fatalf("empty month should be an empty slice")
	}
}

func TestNonFiniteAmountsReadAsNoData(t *testing.T) {
	bad := []core.Payment{
		approved("inf", math.Inf(1), date(2025, 1, 10)),
		approved("nan", math.NaN(), date(2025, 1, 11)),
		approved("neg", math.Inf(-1), date(2025, 2, 1)),
		approved("ok", 300, date(2025, 1, 12)),
	}

	months := Monthly(bad)
	if len(months) != 1 || months[0].Month != "2025-01" || months[0].Amount != 300 || len(months[0].Payments) != 1 {
		t.Fatalf("Monthly() = %+v", months)
	}

	s := Summarize("c1", 1000, months)
	if s.TotalApproved != 300 || s.Remaining != 700 || s.TargetReachedMonth != "" {
		t.Fatalf("Summarize() = %+v", s)
	}

	clients := fakeClients{clients: map[string]core.Client{"c1": {ID: "c1", TargetAmount: math.Inf(1)}}}
	e := New(fakePayments{"c1": bad}, clients, 500, log.Discard())
	got := e.ClientSummary(context.Background(), "c1")
	if got.TargetAmount != 500 || got.TotalApproved != 300 || got.Remaining != 200 {
		t.Fatalf("ClientSummary() = %+v", got)
	}

	if s := Summarize("c1", math.NaN(), months); s.TargetAmount != 0 || s.TargetReachedMonth != "2025-01" {
		t.Fatalf("Summarize(NaN target) = %+v", s)
	}
}
