package storage

import (
	"context"
	"fmt"
	"time"

	"paytrack/internal/core"
)

func (s *SQLiteStore) InsertNotification(ctx context.Context, n core.Notification) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (id, user_id, type, payment_id, title, message, read, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, n.Type, n.PaymentID, n.Title, n.Message, boolToInt(n.Read), n.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListNotifications(ctx context.Context, userID string) ([]core.Notification, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, type, payment_id, title, message, read, created_at
		 FROM notifications WHERE user_id = ? ORDER BY created_at DESC, rowid DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []core.Notification
	for rows.Next() {
		var (
			n       core.Notification
			read    int64
			created int64
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.PaymentID, &n.Title, &n.Message, &read, &created); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Read = read != 0
		n.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkNotificationRead is a no-op for unknown or already-read ids.
func (s *SQLiteStore) MarkNotificationRead(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE notifications SET read = 1 WHERE id = ? AND read = 0`, id); err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
