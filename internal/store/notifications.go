package store

import (
	"context"
	"database/sql"
	"fmt"
)

func (s *PostgresStore) CreateNotification(ctx context.Context, item Notification) (Notification, error) {
	return insertNotification(ctx, s.db, item)
}

// ListNotifications returns a recipient's notifications, newest first.
func (s *PostgresStore) ListNotifications(ctx context.Context, recipientID int64, unreadOnly bool, limit int) ([]Notification, error) {
	query := `
		SELECT id, recipient_id, sender_id, property_id, type, message, read_at, created_at
		FROM notifications
		WHERE recipient_id = $1`
	if unreadOnly {
		query += ` AND read_at IS NULL`
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, recipientID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	items := make([]Notification, 0)
	for rows.Next() {
		var item Notification
		var senderID, propertyID sql.NullInt64
		var readAt sql.NullTime
		if err := rows.Scan(&item.ID, &item.RecipientID, &senderID, &propertyID, &item.Type, &item.Message, &readAt, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		if senderID.Valid {
			item.SenderID = &senderID.Int64
		}
		if propertyID.Valid {
			item.PropertyID = &propertyID.Int64
		}
		if readAt.Valid {
			item.ReadAt = &readAt.Time
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CountUnreadNotifications(ctx context.Context, recipientID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notifications WHERE recipient_id = $1 AND read_at IS NULL`, recipientID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

// MarkNotificationRead returns sql.ErrNoRows when the notification does not
// belong to the recipient.
func (s *PostgresStore) MarkNotificationRead(ctx context.Context, notificationID, recipientID int64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET read_at = COALESCE(read_at, NOW())
		WHERE id = $1 AND recipient_id = $2
	`, notificationID, recipientID)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark notification read rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) MarkAllNotificationsRead(ctx context.Context, recipientID int64) (int64, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE notifications SET read_at = NOW() WHERE recipient_id = $1 AND read_at IS NULL`, recipientID)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	affected, _ := result.RowsAffected()
	return affected, nil
}
