package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"paytrack/internal/aggregate"
	"paytrack/internal/cache"
	"paytrack/internal/clients"
	"paytrack/internal/core"
	"paytrack/internal/log"
	"paytrack/internal/notify"
	"paytrack/internal/ocr"
	"paytrack/internal/repository"
	"paytrack/internal/services"
	"paytrack/internal/store/memory"
)

type fakeAnalyzer struct{ amount float64 }

func (f fakeAnalyzer) Analyze(context.Context, string) ocr.Analysis {
	a := f.amount
	return ocr.Analysis{Text: "Paid 1,250.00", Amount: &a, IsPayment: true}
}

func newTestServer(t *testing.T, opts Options) (*Server, *memory.Store) {
	t.Helper()
	st := memory.New(core.Client{ID: "c1", Name: "Acme", TargetAmount: 1000})
	repo := repository.New(st, log.Discard())
	notes := notify.NewService(st, nil, log.Discard())
	dir := clients.NewDirectory(st, cache.NewLRUCache[core.Client](16, time.Minute), log.Discard())

	opts.Payments = repo
	opts.Workflow = services.NewPaymentService(repo, nil, notes, nil, "admin", log.Discard())
	opts.Aggregates = aggregate.New(repo, dir, 0, log.Discard())
	opts.Notifications = notes
	opts.Health = st
	if opts.Stream == nil {
		opts.Stream = repo
	}
	opts.Logger = log.Discard()
	if opts.RequestsPerMinute == 0 {
		opts.RequestsPerMinute = 1000
	}

	srv := NewServer(":0", opts)
	t.Cleanup(srv.rateLimiter.stop)
	return srv, st
}

func do(srv *Server, method, path, body, user, role string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set(headerUserID, user)
		req.Header.Set(headerUserRole, role)
	}
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func TestHealthAndReady(t *testing.T) {
	srv, st := newTestServer(t, Options{})

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := do(srv, http.MethodGet, path, "", "", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d", path, rr.Code)
		}
		if rr.Header().Get("X-Request-ID") == "" {
			t.Fatalf("%s missing request id", path)
		}
	}

	st.SetUnavailable(true)
	if rr := do(srv, http.MethodGet, "/readyz", "", "", ""); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when backend is down, got %d", rr.Code)
	}
}

func TestIdentityRequired(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	cases := []struct {
		name, user, role string
	}{
		{"no headers", "", ""},
		{"unknown role", "c1", "owner"},
		{"blank user", " ", "client"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/payments", nil)
			req.Header.Set(headerUserID, tc.user)
			req.Header.Set(headerUserRole, tc.role)
			rr := httptest.NewRecorder()
			srv.Handler.ServeHTTP(rr, req)
			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rr.Code)
			}
			if body := decode[errorResponse](t, rr); body.Error == "" {
				t.Fatalf("expected error body")
			}
		})
	}
}

func TestSubmitReviewAndSummaryFlow(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	rr := do(srv, http.MethodPost, "/api/payments", `{"amount":600,"description":"rent"}`, "c1", "client")
	if rr.Code != http.StatusCreated {
		t.Fatalf("submit status=%d body=%s", rr.Code, rr.Body.String())
	}
	p := decode[core.Payment](t, rr)
	if p.ID == "" || p.ClientID != "c1" || p.Status != core.StatusPending {
		t.Fatalf("unexpected payment: %+v", p)
	}

	if rr := do(srv, http.MethodPost, "/api/payments/"+p.ID+"/approve", "", "c1", "client"); rr.Code != http.StatusForbidden {
		t.Fatalf("client approve should be forbidden, got %d", rr.Code)
	}

	rr = do(srv, http.MethodPost, "/api/payments/"+p.ID+"/approve", `{"notes":"ok"}`, "admin", "admin")
	if rr.Code != http.StatusOK {
		t.Fatalf("approve status=%d body=%s", rr.Code, rr.Body.String())
	}
	approved := decode[core.Payment](t, rr)
	if approved.Status != core.StatusApproved || approved.ApprovedAt == nil || approved.AdminNotes != "ok" {
		t.Fatalf("unexpected approved payment: %+v", approved)
	}

	if rr := do(srv, http.MethodPost, "/api/payments/"+p.ID+"/reject", "", "admin", "admin"); rr.Code != http.StatusConflict {
		t.Fatalf("second review should conflict, got %d", rr.Code)
	}
	if rr := do(srv, http.MethodPost, "/api/payments/missing/approve", "", "admin", "admin"); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown payment should be 404, got %d", rr.Code)
	}

	rr = do(srv, http.MethodGet, "/api/clients/c1/summary", "", "c1", "client")
	if rr.Code != http.StatusOK {
		t.Fatalf("summary status=%d", rr.Code)
	}
	sum := decode[core.ClientSummary](t, rr)
	if sum.TotalApproved != 600 || sum.Remaining != 400 || sum.TargetAmount != 1000 || sum.Reached() {
		t.Fatalf("unexpected summary: %+v", sum)
	}

	month := approved.ApprovedAt.UTC().Format(core.MonthLayout)
	rr = do(srv, http.MethodGet, "/api/clients/c1/months/"+month, "", "admin", "admin")
	if got := decode[[]core.Payment](t, rr); rr.Code != http.StatusOK || len(got) != 1 || got[0].ID != p.ID {
		t.Fatalf("month payments status=%d got=%+v", rr.Code, got)
	}
	rr = do(srv, http.MethodGet, "/api/clients/c1/months", "", "admin", "admin")
	if got := decode[[]core.MonthlyAggregate](t, rr); len(got) != 1 || got[0].Month != month {
		t.Fatalf("unexpected months: %+v", got)
	}
}

func TestNotificationsInbox(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	rr := do(srv, http.MethodPost, "/api/payments", `{"amount":50}`, "c1", "client")
	p := decode[core.Payment](t, rr)
	do(srv, http.MethodPost, "/api/payments/"+p.ID+"/reject", `{"notes":"blurry"}`, "admin", "admin")

	admin := decode[[]core.Notification](t, do(srv, http.MethodGet, "/api/notifications", "", "admin", "admin"))
	if len(admin) != 1 || admin[0].Type != core.NotificationPaymentSubmitted {
		t.Fatalf("unexpected admin inbox: %+v", admin)
	}
	inbox := decode[[]core.Notification](t, do(srv, http.MethodGet, "/api/notifications", "", "c1", "client"))
	if len(inbox) != 1 || inbox[0].Type != core.NotificationPaymentRejected || !strings.Contains(inbox[0].Message, "blurry") {
		t.Fatalf("unexpected client inbox: %+v", inbox)
	}

	// another user cannot touch c1's notification
	if rr := do(srv, http.MethodPost, "/api/notifications/"+inbox[0].ID+"/read", "", "c2", "client"); rr.Code != http.StatusNotFound {
		t.Fatalf("foreign mark read should be 404, got %d", rr.Code)
	}
	if rr := do(srv, http.MethodPost, "/api/notifications/"+inbox[0].ID+"/read", "", "c1", "client"); rr.Code != http.StatusNoContent {
		t.Fatalf("mark read status=%d", rr.Code)
	}
	inbox = decode[[]core.Notification](t, do(srv, http.MethodGet, "/api/notifications", "", "c1", "client"))
	if !inbox[0].Read {
		t.Fatalf("notification not marked read")
	}

	empty := do(srv, http.MethodGet, "/api/notifications", "", "nobody", "client")
	if strings.TrimSpace(empty.Body.String()) != "[]" {
		t.Fatalf("expected empty array, got %s", empty.Body.String())
	}
}

func TestClientScoping(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	p := decode[core.Payment](t, do(srv, http.MethodPost, "/api/payments", `{"amount":10}`, "c1", "client"))

	cases := []struct {
		name, method, path, body string
		want                     int
	}{
		{"list other client", http.MethodGet, "/api/payments?clientId=c1", "", http.StatusForbidden},
		{"read other payment", http.MethodGet, "/api/payments/" + p.ID, "", http.StatusNotFound},
		{"submit for other client", http.MethodPost, "/api/payments", `{"clientId":"c1","amount":10}`, http.StatusForbidden},
		{"other summary", http.MethodGet, "/api/clients/c1/summary", "", http.StatusForbidden},
		{"other months", http.MethodGet, "/api/clients/c1/months", "", http.StatusForbidden},
		{"delete", http.MethodDelete, "/api/payments/" + p.ID, "", http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if rr := do(srv, tc.method, tc.path, tc.body, "c2", "client"); rr.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rr.Code)
			}
		})
	}

	own := decode[[]core.Payment](t, do(srv, http.MethodGet, "/api/payments", "", "c2", "client"))
	if len(own) != 0 {
		t.Fatalf("c2 should see no payments, got %+v", own)
	}
	if rr := do(srv, http.MethodGet, "/api/payments/"+p.ID, "", "c1", "client"); rr.Code != http.StatusOK {
		t.Fatalf("owner read status=%d", rr.Code)
	}
}

func TestListFilters(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	a := decode[core.Payment](t, do(srv, http.MethodPost, "/api/payments", `{"amount":10}`, "c1", "client"))
	decode[core.Payment](t, do(srv, http.MethodPost, "/api/payments", `{"amount":20}`, "c2", "client"))
	do(srv, http.MethodPost, "/api/payments/"+a.ID+"/approve", "", "admin", "admin")

	cases := []struct {
		query string
		want  int
	}{
		{"", 2},
		{"?status=pending", 1},
		{"?status=APPROVED", 1},
		{"?clientId=c1", 1},
		{"?clientId=c1&status=pending", 0},
		{"?clientId=c3", 0},
	}
	for _, tc := range cases {
		rr := do(srv, http.MethodGet, "/api/payments"+tc.query, "", "admin", "admin")
		if got := decode[[]core.Payment](t, rr); len(got) != tc.want {
			t.Fatalf("%q: expected %d payments, got %d", tc.query, tc.want, len(got))
		}
	}

	if rr := do(srv, http.MethodGet, "/api/payments?status=paid", "", "admin", "admin"); rr.Code != http.StatusBadRequest {
		t.Fatalf("invalid status should be 400, got %d", rr.Code)
	}
	if rr := do(srv, http.MethodGet, "/api/clients/c1/months/2025-13", "", "admin", "admin"); rr.Code != http.StatusBadRequest {
		t.Fatalf("invalid month should be 400, got %d", rr.Code)
	}
}

func TestSubmitValidation(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	cases := []struct {
		name, body, user, role string
		want                   int
	}{
		{"zero amount", `{"amount":0}`, "c1", "client", http.StatusUnprocessableEntity},
		{"negative amount", `{"amount":-5}`, "c1", "client", http.StatusUnprocessableEntity},
		{"admin without client", `{"amount":5}`, "admin", "admin", http.StatusUnprocessableEntity},
		{"long description", `{"amount":5,"description":"` + strings.Repeat("x", 501) + `"}`, "c1", "client", http.StatusUnprocessableEntity},
		{"malformed json", `{"amount":`, "c1", "client", http.StatusBadRequest},
		{"unknown field", `{"amount":5,"status":"approved"}`, "c1", "client", http.StatusBadRequest},
		{"empty body", "", "c1", "client", http.StatusBadRequest},
		{"admin on behalf", `{"clientId":"c1","amount":5}`, "admin", "admin", http.StatusCreated},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if rr := do(srv, http.MethodPost, "/api/payments", tc.body, tc.user, tc.role); rr.Code != tc.want {
				t.Fatalf("expected %d, got %d (%s)", tc.want, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestDeletePayment(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	p := decode[core.Payment](t, do(srv, http.MethodPost, "/api/payments", `{"amount":10}`, "c1", "client"))

	if rr := do(srv, http.MethodDelete, "/api/payments/"+p.ID, "", "admin", "admin"); rr.Code != http.StatusNoContent {
		t.Fatalf("delete status=%d", rr.Code)
	}
	if rr := do(srv, http.MethodGet, "/api/payments/"+p.ID, "", "admin", "admin"); rr.Code != http.StatusNotFound {
		t.Fatalf("deleted payment still readable: %d", rr.Code)
	}
	// absent ids delete cleanly
	if rr := do(srv, http.MethodDelete, "/api/payments/"+p.ID, "", "admin", "admin"); rr.Code != http.StatusNoContent {
		t.Fatalf("second delete status=%d", rr.Code)
	}
}

func TestOCRAlwaysAnswers(t *testing.T) {
	bare, _ := newTestServer(t, Options{})
	for _, body := range []string{`{"fileData":"aGVsbG8="}`, `not json`, ""} {
		rr := do(bare, http.MethodPost, "/api/ocr", body, "c1", "client")
		if rr.Code != http.StatusOK {
			t.Fatalf("%q: status=%d", body, rr.Code)
		}
		a := decode[ocr.Analysis](t, rr)
		if a.Text != "" || a.Amount != nil || a.IsPayment {
			t.Fatalf("%q: expected empty analysis, got %+v", body, a)
		}
	}

	srv, _ := newTestServer(t, Options{Analyzer: fakeAnalyzer{amount: 1250}})
	rr := do(srv, http.MethodPost, "/api/ocr", `{"fileData":"aGVsbG8="}`, "c1", "client")
	a := decode[ocr.Analysis](t, rr)
	if a.Amount == nil || *a.Amount != 1250 || !a.IsPayment {
		t.Fatalf("unexpected analysis: %+v", a)
	}
}

func TestRateLimitAppliesToPosts(t *testing.T) {
	srv, _ := newTestServer(t, Options{RequestsPerMinute: 2})

	for i := 0; i < 2; i++ {
		if rr := do(srv, http.MethodPost, "/api/ocr", "", "c1", "client"); rr.Code != http.StatusOK {
			t.Fatalf("request %d status=%d", i, rr.Code)
		}
	}
	rr := do(srv, http.MethodPost, "/api/ocr", "", "c1", "client")
	if rr.Code != http.StatusTooManyRequests || rr.Header().Get("Retry-After") == "" {
		t.Fatalf("expected 429 with Retry-After, got %d", rr.Code)
	}
	if rr := do(srv, http.MethodGet, "/api/payments", "", "c1", "client"); rr.Code != http.StatusOK {
		t.Fatalf("reads should not be limited, got %d", rr.Code)
	}
}

func TestRateLimiterWindowResets(t *testing.T) {
	rl := newRateLimiter(2)
	defer rl.stop()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	if !rl.allow("1.2.3.4") || !rl.allow("1.2.3.4") || rl.allow("1.2.3.4") {
		t.Fatalf("expected two requests per window")
	}
	if !rl.allow("5.6.7.8") {
		t.Fatalf("limits are per client")
	}

	// a steady stream still gets a fresh window once the minute is over
	now = now.Add(30 * time.Second)
	if rl.allow("1.2.3.4") {
		t.Fatalf("window should still be exhausted")
	}
	now = now.Add(31 * time.Second)
	if !rl.allow("1.2.3.4") {
		t.Fatalf("window should reset after a minute")
	}

	now = now.Add(20 * time.Minute)
	rl.dropStale()
	if len(rl.windows) != 0 {
		t.Fatalf("stale entries not removed")
	}
}

func TestExtractClientIP(t *testing.T) {
	cases := []struct {
		name, remote, xff, want string
	}{
		{"direct", "203.0.113.7:5000", "", "203.0.113.7"},
		{"trusted proxy", "10.0.0.2:80", "198.51.100.1, 10.0.0.2", "198.51.100.1"},
		{"untrusted proxy", "203.0.113.7:5000", "198.51.100.1", "203.0.113.7"},
		{"garbage header", "127.0.0.1:80", "not-an-ip", "127.0.0.1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tc.remote
			if tc.xff != "" {
				r.Header.Set("X-Forwarded-For", tc.xff)
			}
			if got := extractClientIP(r); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}
