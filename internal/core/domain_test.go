package core

import (
	"errors"
	"testing"
	"time"
)

func TestParseStatus(t *testing.T) {
	cases := []struct {
		in   string
		want Status
		ok   bool
	}{
		{"pending", StatusPending, true},
		{" Approved ", StatusApproved, true},
		{"REJECTED", StatusRejected, true},
		{"reopened", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := ParseStatus(tc.in)
		if tc.ok && (err != nil || got != tc.want) {
			t.Fatalf("%q expected %q, got %q (err=%v)", tc.in, tc.want, got, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%q expected error", tc.in)
		}
	}
}

func TestPaymentValidate(t *testing.T) {
	good := Payment{ClientID: "c1", Amount: 10, Description: "rent"}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	bads := []struct {
		p    Payment
		want error
	}{
		{Payment{ClientID: "", Amount: 10}, ErrEmptyClient},
		{Payment{ClientID: "c1", Amount: 0}, ErrInvalidAmount},
		{Payment{ClientID: "c1", Amount: -5}, ErrInvalidAmount},
	}
	for i, tc := range bads {
		if err := tc.p.Validate(); !errors.Is(err, tc.want) {
			t.Fatalf("case %d expected %v, got %v", i, tc.want, err)
		}
	}
}

func TestPaymentReview(t *testing.T) {
	now := time.Date(2025, 2, 3, 10, 0, 0, 0, time.UTC)

	t.Run("approve stamps both timestamps", func(t *testing.T) {
		p := Payment{Status: StatusPending}
		if err := p.Review(StatusApproved, " ok ", now); err != nil {
			t.Fatalf("review: %v", err)
		}
		if p.Status != StatusApproved || p.ReviewedAt == nil || p.ApprovedAt == nil {
			t.Fatalf("unexpected payment after approve: %+v", p)
		}
		if !p.ApprovedAt.Equal(now) || p.AdminNotes != "ok" {
			t.Fatalf("unexpected approve fields: %+v", p)
		}
	})

	t.Run("reject leaves approvedAt unset", func(t *testing.T) {
		p := Payment{Status: StatusPending}
		if err := p.Review(StatusRejected, "", now); err != nil {
			t.Fatalf("review: %v", err)
		}
		if p.ApprovedAt != nil || p.ReviewedAt == nil {
			t.Fatalf("unexpected reject fields: %+v", p)
		}
	})

	t.Run("terminal payments are not reopened", func(t *testing.T) {
		p := Payment{Status: StatusRejected}
		if err := p.Review(StatusApproved, "", now); !errors.Is(err, ErrAlreadyReviewed) {
			t.Fatalf("expected ErrAlreadyReviewed, got %v", err)
		}
	})

	t.Run("pending is not a decision", func(t *testing.T) {
		p := Payment{Status: StatusPending}
		if err := p.Review(StatusPending, "", now); !errors.Is(err, ErrInvalidStatus) {
			t.Fatalf("expected ErrInvalidStatus, got %v", err)
		}
	})
}

func TestBucketMonth(t *testing.T) {
	submitted := time.Date(2025, 1, 31, 23, 0, 0, 0, time.UTC)
	approved := time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)

	p := Payment{SubmittedAt: submitted}
	if got := p.BucketMonth(); got != "2025-01" {
		t.Fatalf("expected submission month, got %s", got)
	}
	p.ApprovedAt = &approved
	if got := p.BucketMonth(); got != "2025-02" {
		t.Fatalf("expected approval month, got %s", got)
	}

	// Bucketing happens in UTC regardless of the stored location.
	loc := time.FixedZone("IST", 5*3600+1800)
	p = Payment{SubmittedAt: time.Date(2025, 3, 1, 2, 0, 0, 0, loc)}
	if got := p.BucketMonth(); got != "2025-02" {
		t.Fatalf("expected UTC month 2025-02, got %s", got)
	}
}

func TestCloneDoesNotAlias(t *testing.T) {
	amt := 12.5
	at := time.Now()
	p := Payment{OCRAmount: &amt, ReviewedAt: &at}
	c := p.Clone()
	*c.OCRAmount = 1
	if *p.OCRAmount != 12.5 {
		t.Fatalf("clone aliased ocr amount")
	}
	if c.ReviewedAt == p.ReviewedAt {
		t.Fatalf("clone aliased reviewedAt pointer")
	}
}

func TestValidMonth(t *testing.T) {
	for _, m := range []string{"2025-01", "1999-12"} {
		if !ValidMonth(m) {
			t.Fatalf("%s should be valid", m)
		}
	}
	for _, m := range []string{"2025-13", "2025-1", "202501", ""} {
		if ValidMonth(m) {
			t.Fatalf("%s should be invalid", m)
		}
	}
}
