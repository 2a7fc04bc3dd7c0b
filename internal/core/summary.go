package core

import "time"

// MonthlyAggregate is the approved total for one calendar month. It is derived
// on demand and never persisted.
type MonthlyAggregate struct {
	Month    string    `json:"month"`
	Amount   float64   `json:"amount"`
	Payments []Payment `json:"payments"`
}

// ClientSummary is a client's progress toward their target amount.
// TargetReachedMonth is empty while the target has not been met.
type ClientSummary struct {
	ClientID           string             `json:"clientId"`
	TargetAmount       float64            `json:"targetAmount"`
	TotalApproved      float64            `json:"totalApproved"`
	Remaining          float64            `json:"remaining"`
	TargetReachedMonth string             `json:"targetReachedMonth,omitempty"`
	Months             []MonthlyAggregate `json:"months"`
}

// Reached reports whether the cumulative approved total met the target.
func (s ClientSummary) Reached() bool {
	return s.TargetReachedMonth != ""
}

// Notification is an immutable audit event addressed to one user. Only Read
// changes after creation.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Type      string    `json:"type"`
	PaymentID string    `json:"paymentId,omitempty"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

// Notification types recorded by the payment lifecycle.
const (
	NotificationPaymentSubmitted = "payment_submitted"
	NotificationPaymentApproved  = "payment_approved"
	NotificationPaymentRejected  = "payment_rejected"
)
