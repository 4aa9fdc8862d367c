package store

import (
	"context"
	"database/sql"
	"fmt"
)

// GetOrCreateConversation returns the buyer's thread for a property, creating it once.
func (s *PostgresStore) GetOrCreateConversation(ctx context.Context, propertyID, buyerID, sellerID int64) (Conversation, error) {
	var item Conversation
	var lastMessageAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO conversations (property_id, buyer_id, seller_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (property_id, buyer_id) DO UPDATE SET property_id = EXCLUDED.property_id
		RETURNING id, property_id, buyer_id, seller_id, created_at, last_message_at
	`, propertyID, buyerID, sellerID).Scan(&item.ID, &item.PropertyID, &item.BuyerID, &item.SellerID, &item.CreatedAt, &lastMessageAt)
	if err != nil {
		return Conversation{}, fmt.Errorf("upsert conversation: %w", err)
	}
	if lastMessageAt.Valid {
		item.LastMessageAt = &lastMessageAt.Time
	}
	return item, nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, conversationID int64) (Conversation, error) {
	var item Conversation
	var lastMessageAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT c.id, c.property_id, c.buyer_id, c.seller_id, p.title, c.created_at, c.last_message_at
		FROM conversations c
		JOIN properties p ON p.id = c.property_id
		WHERE c.id = $1
	`, conversationID).Scan(&item.ID, &item.PropertyID, &item.BuyerID, &item.SellerID, &item.PropertyTitle, &item.CreatedAt, &lastMessageAt)
	if err != nil {
		return Conversation{}, err
	}
	if lastMessageAt.Valid {
		item.LastMessageAt = &lastMessageAt.Time
	}
	return item, nil
}

// ListConversations returns the user's threads with the other participant's
// name and the count of messages the user has not read yet.
func (s *PostgresStore) ListConversations(ctx context.Context, userID int64) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.property_id, c.buyer_id, c.seller_id, p.title,
			CASE WHEN c.buyer_id = $1 THEN su.display_name ELSE bu.display_name END,
			(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id AND m.sender_id <> $1 AND m.read_at IS NULL),
			c.created_at, c.last_message_at
		FROM conversations c
		JOIN properties p ON p.id = c.property_id
		JOIN users bu ON bu.id = c.buyer_id
		JOIN users su ON su.id = c.seller_id
		WHERE c.buyer_id = $1 OR c.seller_id = $1
		ORDER BY COALESCE(c.last_message_at, c.created_at) DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	items := make([]Conversation, 0)
	for rows.Next() {
		var item Conversation
		var lastMessageAt sql.NullTime
		if err := rows.Scan(&item.ID, &item.PropertyID, &item.BuyerID, &item.SellerID, &item.PropertyTitle, &item.OtherName, &item.UnreadCount, &item.CreatedAt, &lastMessageAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		if lastMessageAt.Valid {
			item.LastMessageAt = &lastMessageAt.Time
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return items, nil
}

// ListMessages returns the thread oldest first and marks the other party's
// messages as read by readerID.
func (s *PostgresStore) ListMessages(ctx context.Context, conversationID, readerID int64) ([]Message, error) {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE messages SET read_at = NOW()
		WHERE conversation_id = $1 AND sender_id <> $2 AND read_at IS NULL
	`, conversationID, readerID); err != nil {
		return nil, fmt.Errorf("mark messages read: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, sender_id, body, read_at, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC, id ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	items := make([]Message, 0)
	for rows.Next() {
		var item Message
		var readAt sql.NullTime
		if err := rows.Scan(&item.ID, &item.ConversationID, &item.SenderID, &item.Body, &readAt, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if readAt.Valid {
			item.ReadAt = &readAt.Time
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CreateMessageWithNotification(ctx context.Context, message Message, notification Notification) (Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, fmt.Errorf("begin message tx: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO messages (conversation_id, sender_id, body)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, message.ConversationID, message.SenderID, message.Body).Scan(&message.ID, &message.CreatedAt)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE conversations SET last_message_at = $2 WHERE id = $1`, message.ConversationID, message.CreatedAt); err != nil {
		return Message{}, fmt.Errorf("touch conversation: %w", err)
	}

	if _, err := insertNotification(ctx, tx, notification); err != nil {
		return Message{}, err
	}
	if err := tx.Commit(); err != nil {
		return Message{}, fmt.Errorf("commit message: %w", err)
	}
	return message, nil
}
