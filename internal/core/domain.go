package core

import (
	"errors"
	"strings"
	"time"
)

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// MonthLayout is the bucket key layout used by monthly aggregates (YYYY-MM).
const MonthLayout = "2006-01"

type (
	Status string

	// Payment is one submitted proof-of-payment.
	Payment struct {
		ID          string     `json:"id"`
		ClientID    string     `json:"clientId"`
		Amount      float64    `json:"amount"`
		Description string     `json:"description"`
		ProofURL    string     `json:"proofUrl,omitempty"`
		OCRAmount   *float64   `json:"ocrAmount,omitempty"` // advisory only
		Status      Status     `json:"status"`
		SubmittedAt time.Time  `json:"submittedAt"`
		ReviewedAt  *time.Time `json:"reviewedAt,omitempty"`
		ApprovedAt  *time.Time `json:"approvedAt,omitempty"`
		AdminNotes  string     `json:"adminNotes,omitempty"`
	}

	// Client is the collaborator-owned record carrying the target amount.
	Client struct {
		ID              string  `json:"id"`
		Name            string  `json:"name"`
		TargetAmount    float64 `json:"targetAmount"`
		RemainingAmount float64 `json:"remainingAmount"`
	}
)

var (
	ErrInvalidStatus    = errors.New("invalid payment status")
	ErrAlreadyReviewed  = errors.New("payment already reviewed")
	ErrEmptyClient      = errors.New("empty client id")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrDescriptionLimit = errors.New("description too long (max 500 characters)")
)

// IsValid reports whether s is one of the three lifecycle states.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	default:
		return false
	}
}

func (s Status) String() string {
	return string(s)
}

// ParseStatus parses a status case-insensitively.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", ErrInvalidStatus
	}
	return st, nil
}

// Validate checks the fields a client submission must carry. The persistence
// layer does not call it.
func (p Payment) Validate() error {
	if strings.TrimSpace(p.ClientID) == "" {
		return ErrEmptyClient
	}
	if p.Amount <= 0 {
		return ErrInvalidAmount
	}
	if len(p.Description) > 500 {
		return ErrDescriptionLimit
	}
	return nil
}

// Review moves a pending payment to decision, stamping the review timestamps.
// Terminal payments are never reopened.
func (p *Payment) Review(decision Status, notes string, now time.Time) error {
	if decision != StatusApproved && decision != StatusRejected {
		return ErrInvalidStatus
	}
	if p.Status != StatusPending {
		return ErrAlreadyReviewed
	}
	now = now.UTC()
	p.Status = decision
	p.ReviewedAt = &now
	if decision == StatusApproved {
		approved := now
		p.ApprovedAt = &approved
	}
	if strings.TrimSpace(notes) != "" {
		p.AdminNotes = strings.TrimSpace(notes)
	}
	return nil
}

// BucketMonth returns the YYYY-MM key of the month the payment counts toward:
// the approval date when present, the submission date otherwise.
func (p Payment) BucketMonth() string {
	t := p.SubmittedAt
	if p.ApprovedAt != nil && !p.ApprovedAt.IsZero() {
		t = *p.ApprovedAt
	}
	return t.UTC().Format(MonthLayout)
}

// Clone returns a deep copy so callers can't alias the optional fields.
func (p Payment) Clone() Payment {
	out := p
	if p.OCRAmount != nil {
		v := *p.OCRAmount
		out.OCRAmount = &v
	}
	if p.ReviewedAt != nil {
		v := *p.ReviewedAt
		out.ReviewedAt = &v
	}
	if p.ApprovedAt != nil {
		v := *p.ApprovedAt
		out.ApprovedAt = &v
	}
	return out
}

// ValidMonth reports whether s is a YYYY-MM key.
func ValidMonth(s string) bool {
	_, err := time.Parse(MonthLayout, s)
	return err == nil && len(s) == len(MonthLayout)
}
