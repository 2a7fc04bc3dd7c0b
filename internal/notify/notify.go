// Package notify records per-user notifications for payment lifecycle
// events and forwards a best-effort push hint.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"paytrack/internal/core"
	"paytrack/internal/log"
	"paytrack/internal/store"
)

const defaultPushTimeout = 2 * time.Second

var ErrNoRecipient = errors.New("notification has no recipient")

// Pusher delivers a push hint. Failures never reach the caller of Record.
type Pusher interface {
	PublishNotification(ctx context.Context, n core.Notification) error
}

type Service struct {
	store       store.NotificationStore
	pusher      Pusher
	logger      *log.Logger
	now         func() time.Time
	pushTimeout time.Duration
}

// NewService builds the side channel. pusher may be nil.
func NewService(st store.NotificationStore, pusher Pusher, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default(log.ComponentNotify)
	}
	return &Service{
		store:       st,
		pusher:      pusher,
		logger:      logger.WithComponent(log.ComponentNotify),
		now:         time.Now,
		pushTimeout: defaultPushTimeout,
	}
}

// Record persists an unread notification for userID and then sends the push
// hint. Only persistence failures are returned.
func (s *Service) Record(ctx context.Context, userID, typ, paymentID, title, message string) (core.Notification, error) {
	if userID == "" {
		return core.Notification{}, ErrNoRecipient
	}
	n := core.Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      typ,
		PaymentID: paymentID,
		Title:     title,
		Message:   message,
		CreatedAt: s.now().UTC().Truncate(time.Millisecond),
	}
	if err := s.store.InsertNotification(ctx, n); err != nil {
		return core.Notification{}, fmt.Errorf("record notification: %w", err)
	}

	s.push(ctx, n)
	return n, nil
}

func (s *Service) push(ctx context.Context, n core.Notification) {
	if s.pusher == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.pushTimeout)
	defer cancel()
	if err := s.pusher.PublishNotification(pctx, n); err != nil {
		s.logger.DebugContext(ctx, "Push hint not delivered",
			log.FieldUserID, n.UserID, log.FieldPaymentID, n.PaymentID, log.FieldError, err)
	}
}

// ListFor returns the user's notifications, newest first.
func (s *Service) ListFor(ctx context.Context, userID string) ([]core.Notification, error) {
	ns, err := s.store.ListNotifications(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	if ns == nil {
		ns = []core.Notification{}
	}
	return ns, nil
}

// MarkRead flips Read on one notification. Unknown or already-read ids are
// not an error.
func (s *Service) MarkRead(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := s.store.MarkNotificationRead(ctx, id); err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	return nil
}
