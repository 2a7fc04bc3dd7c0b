package docstore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"paytrack/internal/core"
)

type notificationRow struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	Type      string    `db:"type"`
	PaymentID string    `db:"payment_id"`
	Title     string    `db:"title"`
	Message   string    `db:"message"`
	Read      bool      `db:"read"`
	CreatedAt time.Time `db:"created_at"`
}

func (s *DocStore) InsertNotification(ctx context.Context, n core.Notification) error {
	if err := s.prepare(ctx); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifications (id, user_id, type, payment_id, title, message, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		n.ID, n.UserID, n.Type, n.PaymentID, n.Title, n.Message, n.Read, n.CreatedAt)
	return wrap("insert notification", err)
}

func (s *DocStore) ListNotifications(ctx context.Context, userID string) ([]core.Notification, error) {
	if err := s.prepare(ctx); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, type, payment_id, title, message, read, created_at
		FROM notifications WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, wrap("list notifications", err)
	}
	recs, err := pgx.CollectRows(rows, pgx.RowToStructByName[notificationRow])
	if err != nil {
		return nil, wrap("list notifications", err)
	}
	out := make([]core.Notification, 0, len(recs))
	for _, r := range recs {
		out = append(out, core.Notification{
			ID: r.ID, UserID: r.UserID, Type: r.Type, PaymentID: r.PaymentID,
			Title: r.Title, Message: r.Message, Read: r.Read, CreatedAt: r.CreatedAt.UTC(),
		})
	}
	return out, nil
}

func (s *DocStore) MarkNotificationRead(ctx context.Context, id string) error {
	if err := s.prepare(ctx); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `UPDATE notifications SET read = TRUE WHERE id = $1 AND NOT read`, id)
	return wrap("mark notification read", err)
}
