package amqp

import (
	"encoding/json"
	"time"

	"paytrack/internal/core"
)

// PaymentReviewedMessage announces that a payment left the pending state.
// It carries enough of the payment for the ledger worker to append a row
// without reading the store.
type PaymentReviewedMessage struct {
	PaymentID   string     `json:"paymentId"`
	ClientID    string     `json:"clientId"`
	Status      string     `json:"status"`
	Amount      float64    `json:"amount"`
	Description string     `json:"description,omitempty"`
	SubmittedAt time.Time  `json:"submittedAt"`
	ReviewedAt  *time.Time `json:"reviewedAt,omitempty"`
	ApprovedAt  *time.Time `json:"approvedAt,omitempty"`
	Timestamp   time.Time  `json:"timestamp"`
}

func NewPaymentReviewedMessage(p core.Payment) *PaymentReviewedMessage {
	return &PaymentReviewedMessage{
		PaymentID:   p.ID,
		ClientID:    p.ClientID,
		Status:      string(p.Status),
		Amount:      p.Amount,
		Description: p.Description,
		SubmittedAt: p.SubmittedAt,
		ReviewedAt:  p.ReviewedAt,
		ApprovedAt:  p.ApprovedAt,
		Timestamp:   time.Now(),
	}
}

// Approved reports whether the review approved the payment.
func (m *PaymentReviewedMessage) Approved() bool {
	return m.Status == string(core.StatusApproved)
}

// Payment rebuilds the reviewed payment from the message.
func (m *PaymentReviewedMessage) Payment() core.Payment {
	return core.Payment{
		ID:          m.PaymentID,
		ClientID:    m.ClientID,
		Status:      core.Status(m.Status),
		Amount:      m.Amount,
		Description: m.Description,
		SubmittedAt: m.SubmittedAt,
		ReviewedAt:  m.ReviewedAt,
		ApprovedAt:  m.ApprovedAt,
	}
}

// ToJSON converts the message to JSON bytes
func (m *PaymentReviewedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func PaymentReviewedMessageFromJSON(data []byte) (*PaymentReviewedMessage, error) {
	var msg PaymentReviewedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// NotificationMessage is the push hint published after a notification is
// recorded. Delivery to devices happens elsewhere.
type NotificationMessage struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Type      string    `json:"type"`
	PaymentID string    `json:"paymentId,omitempty"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

func NewNotificationMessage(n core.Notification) *NotificationMessage {
	return &NotificationMessage{
		ID:        n.ID,
		UserID:    n.UserID,
		Type:      n.Type,
		PaymentID: n.PaymentID,
		Title:     n.Title,
		Message:   n.Message,
		CreatedAt: n.CreatedAt,
	}
}

func (m *NotificationMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}
