package app

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"estately/api/internal/store"
)

const maxMessageLength = 4000

// StartConversation opens (or reopens) the caller's thread with the seller
// of a property.
func (s *Service) StartConversation(ctx context.Context, session Session, propertyID int64) (map[string]any, error) {
	property, err := s.store.GetProperty(ctx, propertyID)
	if err != nil {
		return nil, missing(err, "Property not found")
	}
	if property.SellerID == session.UserID {
		return nil, validationError("You cannot start a conversation on your own property")
	}
	conversation, err := s.store.GetOrCreateConversation(ctx, property.ID, session.UserID, property.SellerID)
	if err != nil {
		return nil, err
	}
	conversation.PropertyTitle = property.Title
	return conversationPayload(conversation), nil
}

func (s *Service) ListConversations(ctx context.Context, session Session) (map[string]any, error) {
	items, err := s.store.ListConversations(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	conversations := make([]map[string]any, 0, len(items))
	for _, item := range items {
		conversations = append(conversations, conversationPayload(item))
	}
	return map[string]any{"conversations": conversations}, nil
}

func (s *Service) ListMessages(ctx context.Context, session Session, conversationID int64) (map[string]any, error) {
	g, err := s.authorize(ctx, session, Resource{Kind: ResourceConversation, ID: conversationID}, CapabilityParticipate)
	if err != nil {
		return nil, err
	}
	items, err := s.store.ListMessages(ctx, conversationID, session.UserID)
	if err != nil {
		return nil, err
	}
	messages := make([]map[string]any, 0, len(items))
	for _, item := range items {
		messages = append(messages, messagePayload(item))
	}
	return map[string]any{
		"conversation": conversationPayload(g.Conversation),
		"messages":     messages,
	}, nil
}

func (s *Service) SendMessage(ctx context.Context, session Session, conversationID int64, body string) (map[string]any, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, validationField("body", "body is required")
	}
	if utf8.RuneCountInString(body) > maxMessageLength {
		return nil, validationField("body", fmt.Sprintf("body must be at most %d characters", maxMessageLength))
	}

	g, err := s.authorize(ctx, session, Resource{Kind: ResourceConversation, ID: conversationID}, CapabilityParticipate)
	if err != nil {
		return nil, err
	}
	conversation := g.Conversation
	recipient := conversation.SellerID
	if session.UserID == conversation.SellerID {
		recipient = conversation.BuyerID
	}

	message, err := s.store.CreateMessageWithNotification(ctx, store.Message{
		ConversationID: conversation.ID,
		SenderID:       session.UserID,
		Body:           body,
	}, store.Notification{
		RecipientID: recipient,
		SenderID:    int64Ptr(session.UserID),
		PropertyID:  int64Ptr(conversation.PropertyID),
		Type:        store.NotificationNewMessage,
		Message:     fmt.Sprintf("New message from %s about %s", session.UserName, conversation.PropertyTitle),
	})
	if err != nil {
		return nil, err
	}
	s.emailRecipient(recipient, "New message about "+conversation.PropertyTitle, "You have a new message",
		session.UserName+" sent you a message.", conversation.PropertyTitle)
	return messagePayload(message), nil
}

func (s *Service) ListNotifications(ctx context.Context, session Session, unreadOnly bool, limit int) (map[string]any, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	items, err := s.store.ListNotifications(ctx, session.UserID, unreadOnly, limit)
	if err != nil {
		return nil, err
	}
	unread, err := s.store.CountUnreadNotifications(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	notifications := make([]map[string]any, 0, len(items))
	for _, item := range items {
		notifications = append(notifications, notificationPayload(item))
	}
	return map[string]any{"notifications": notifications, "unread_count": unread}, nil
}

// MarkNotificationRead only touches the caller's own notifications; anything
// else reads as not found.
func (s *Service) MarkNotificationRead(ctx context.Context, session Session, notificationID int64) error {
	if err := s.store.MarkNotificationRead(ctx, notificationID, session.UserID); err != nil {
		return missing(err, "Notification not found")
	}
	return nil
}

func (s *Service) MarkAllNotificationsRead(ctx context.Context, session Session) (map[string]any, error) {
	updated, err := s.store.MarkAllNotificationsRead(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"ok": true, "updated": updated}, nil
}

type ProfileInput struct {
	DisplayName        *string `json:"display_name"`
	Phone              *string `json:"phone"`
	Bio                *string `json:"bio"`
	EmailNotifications *bool   `json:"email_notifications"`
}

func (s *Service) Profile(ctx context.Context, session Session) (map[string]any, error) {
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return nil, missing(err, "User not found")
	}
	return userPayload(user), nil
}

func (s *Service) UpdateProfile(ctx context.Context, session Session, input ProfileInput) (map[string]any, error) {
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return nil, missing(err, "User not found")
	}
	if input.DisplayName != nil {
		name := strings.TrimSpace(*input.DisplayName)
		if name == "" {
			return nil, validationField("display_name", "display_name cannot be empty")
		}
		user.DisplayName = name
	}
	if input.Phone != nil {
		user.Phone = strings.TrimSpace(*input.Phone)
		if len(user.Phone) > 40 {
			return nil, validationField("phone", "phone must be at most 40 characters")
		}
	}
	if input.Bio != nil {
		user.Bio = strings.TrimSpace(*input.Bio)
		if len(user.Bio) > maxReviewCommentLength {
			return nil, validationField("bio", fmt.Sprintf("bio must be at most %d characters", maxReviewCommentLength))
		}
	}
	if input.EmailNotifications != nil {
		user.EmailNotifications = *input.EmailNotifications
	}

	updated, err := s.store.UpdateProfile(ctx, user)
	if err != nil {
		return nil, err
	}
	return userPayload(updated), nil
}

func (s *Service) SellerDashboard(ctx context.Context, session Session) (map[string]any, error) {
	stats, err := s.store.SellerStats(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"listings_by_status":     stats.ListingsByStatus,
		"offers_by_status":       stats.OffersByStatus,
		"pending_offers":         stats.PendingOffers,
		"average_accepted_offer": stats.AverageAcceptedOffer,
		"upcoming_visits":        stats.UpcomingVisits,
		"average_rating":         stats.AverageRating,
		"review_count":           stats.ReviewCount,
	}, nil
}

func (s *Service) BuyerDashboard(ctx context.Context, session Session) (map[string]any, error) {
	stats, err := s.store.BuyerStats(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"offers_by_status":     stats.OffersByStatus,
		"favorites":            stats.Favorites,
		"upcoming_visits":      stats.UpcomingVisits,
		"unread_notifications": stats.UnreadNotifications,
	}, nil
}
