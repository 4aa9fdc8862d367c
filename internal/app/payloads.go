package app

import (
	"strconv"

	"estately/api/internal/store"
)

func propertyPayload(p store.Property) map[string]any {
	return map[string]any{
		"id":              p.ID,
		"seller_id":       p.SellerID,
		"title":           p.Title,
		"description":     p.Description,
		"address":         p.Address,
		"city":            p.City,
		"property_type":   p.PropertyType,
		"price":           p.Price,
		"bedrooms":        p.Bedrooms,
		"bathrooms":       p.Bathrooms,
		"area_sqft":       p.AreaSqft,
		"image_url":       p.ImageURL,
		"property_status": p.Status,
		"created_at":      p.CreatedAt,
		"updated_at":      p.UpdatedAt,
	}
}

func propertyList(items []store.Property) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		out = append(out, propertyPayload(item))
	}
	return out
}

func offerViewPayload(v store.OfferView) map[string]any {
	return map[string]any{
		"id":              v.ID,
		"property_id":     v.PropertyID,
		"buyer_id":        v.BuyerID,
		"seller_id":       v.SellerID,
		"amount":          v.Amount,
		"status":          v.Status,
		"message":         v.Message,
		"version":         v.Version,
		"created_at":      v.CreatedAt,
		"updated_at":      v.UpdatedAt,
		"buyer_name":      v.BuyerName,
		"buyer_email":     v.BuyerEmail,
		"property_title":  v.PropertyTitle,
		"image_url":       v.PropertyImage,
		"property_status": v.PropertyStatus,
	}
}

func offerViewList(items []store.OfferView) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		out = append(out, offerViewPayload(item))
	}
	return out
}

func notificationPayload(n store.Notification) map[string]any {
	return map[string]any{
		"id":          n.ID,
		"sender_id":   n.SenderID,
		"property_id": n.PropertyID,
		"type":        n.Type,
		"message":     n.Message,
		"read":        n.ReadAt != nil,
		"read_at":     n.ReadAt,
		"created_at":  n.CreatedAt,
	}
}

func visitPayload(v store.Visit) map[string]any {
	return map[string]any{
		"id":             v.ID,
		"property_id":    v.PropertyID,
		"property_title": v.PropertyTitle,
		"buyer_id":       v.BuyerID,
		"seller_id":      v.SellerID,
		"scheduled_at":   v.ScheduledAt,
		"status":         v.Status,
		"note":           v.Note,
		"created_at":     v.CreatedAt,
		"updated_at":     v.UpdatedAt,
	}
}

func reviewPayload(r store.Review) map[string]any {
	return map[string]any{
		"id":            r.ID,
		"property_id":   r.PropertyID,
		"reviewer_id":   r.ReviewerID,
		"reviewer_name": r.ReviewerName,
		"rating":        r.Rating,
		"comment":       r.Comment,
		"created_at":    r.CreatedAt,
	}
}

func conversationPayload(c store.Conversation) map[string]any {
	return map[string]any{
		"id":              c.ID,
		"property_id":     c.PropertyID,
		"property_title":  c.PropertyTitle,
		"buyer_id":        c.BuyerID,
		"seller_id":       c.SellerID,
		"other_name":      c.OtherName,
		"unread_count":    c.UnreadCount,
		"created_at":      c.CreatedAt,
		"last_message_at": c.LastMessageAt,
	}
}

func messagePayload(m store.Message) map[string]any {
	return map[string]any{
		"id":              m.ID,
		"conversation_id": m.ConversationID,
		"sender_id":       m.SenderID,
		"body":            m.Body,
		"read_at":         m.ReadAt,
		"created_at":      m.CreatedAt,
	}
}

func userPayload(u store.User) map[string]any {
	return map[string]any{
		"id":                  u.ID,
		"email":               u.Email,
		"display_name":        u.DisplayName,
		"role":                u.Role,
		"phone":               u.Phone,
		"bio":                 u.Bio,
		"email_notifications": u.EmailNotifications,
		"created_at":          u.CreatedAt,
	}
}

func formatAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', 2, 64)
}
