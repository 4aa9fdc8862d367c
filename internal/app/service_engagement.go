package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"estately/api/internal/store"
)

const maxReviewCommentLength = 2000

type VisitInput struct {
	ScheduledAt string `json:"scheduled_at"`
	Note        string `json:"note"`
}

type ReviewInput struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

// parseRFC3339 accepts both second and sub-second precision, as sent by
// browsers via Date.toISOString().
func parseRFC3339(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, value)
	}
	return t, err
}

func (s *Service) AddFavorite(ctx context.Context, session Session, propertyID int64) (map[string]any, error) {
	if _, err := s.store.GetProperty(ctx, propertyID); err != nil {
		return nil, missing(err, "Property not found")
	}
	if err := s.store.AddFavorite(ctx, session.UserID, propertyID); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true, "property_id": propertyID, "favorite": true}, nil
}

func (s *Service) RemoveFavorite(ctx context.Context, session Session, propertyID int64) (map[string]any, error) {
	if err := s.store.RemoveFavorite(ctx, session.UserID, propertyID); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true, "property_id": propertyID, "favorite": false}, nil
}

func (s *Service) ListFavorites(ctx context.Context, session Session) (map[string]any, error) {
	items, err := s.store.ListFavorites(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	favorites := make([]map[string]any, 0, len(items))
	for _, item := range items {
		favorites = append(favorites, map[string]any{
			"property_id": item.PropertyID,
			"created_at":  item.CreatedAt,
			"property":    propertyPayload(item.Property),
		})
	}
	return map[string]any{"favorites": favorites}, nil
}

func (s *Service) RequestVisit(ctx context.Context, session Session, propertyID int64, input VisitInput) (map[string]any, error) {
	raw := strings.TrimSpace(input.ScheduledAt)
	if raw == "" {
		return nil, validationField("scheduled_at", "scheduled_at is required")
	}
	scheduledAt, err := parseRFC3339(raw)
	if err != nil {
		return nil, validationField("scheduled_at", "scheduled_at must be an RFC3339 timestamp")
	}
	if !scheduledAt.After(s.now()) {
		return nil, validationField("scheduled_at", "scheduled_at must be in the future")
	}

	property, err := s.store.GetProperty(ctx, propertyID)
	if err != nil {
		return nil, missing(err, "Property not found")
	}
	if property.SellerID == session.UserID {
		return nil, validationError("You cannot request a visit to your own property")
	}
	if property.Status == store.PropertySold {
		return nil, conflict("Property has been sold")
	}

	visit, err := s.store.CreateVisitWithNotification(ctx, store.Visit{
		PropertyID:  property.ID,
		BuyerID:     session.UserID,
		SellerID:    property.SellerID,
		ScheduledAt: scheduledAt.UTC(),
		Note:        strings.TrimSpace(input.Note),
	}, store.Notification{
		RecipientID: property.SellerID,
		SenderID:    int64Ptr(session.UserID),
		PropertyID:  int64Ptr(property.ID),
		Type:        store.NotificationVisitRequest,
		Message:     fmt.Sprintf("%s requested a visit to %s on %s", session.UserName, property.Title, scheduledAt.UTC().Format("Jan 2, 2006 15:04 MST")),
	})
	if err != nil {
		return nil, err
	}
	s.emailRecipient(property.SellerID, "Visit requested for "+property.Title, "New visit request",
		fmt.Sprintf("%s would like to visit on %s.", session.UserName, scheduledAt.UTC().Format("Jan 2, 2006 15:04 MST")), property.Title)
	return visitPayload(visit), nil
}

func (s *Service) ListVisits(ctx context.Context, session Session) (map[string]any, error) {
	items, err := s.store.ListVisitsForUser(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	visits := make([]map[string]any, 0, len(items))
	for _, item := range items {
		visits = append(visits, visitPayload(item))
	}
	return map[string]any{"visits": visits}, nil
}

// visitMoves lists the statuses a visit may move out of for each target.
var visitMoves = map[string][]string{
	store.VisitConfirmed: {store.VisitRequested},
	store.VisitCompleted: {store.VisitConfirmed},
	store.VisitCancelled: {store.VisitRequested, store.VisitConfirmed},
}

// UpdateVisit lets the seller confirm or complete a visit and either party
// cancel it. Cancelled and Completed are final.
func (s *Service) UpdateVisit(ctx context.Context, session Session, visitID int64, status string) (map[string]any, error) {
	status = strings.TrimSpace(status)
	from, ok := visitMoves[status]
	if !ok {
		return nil, validationField("status", "status must be one of Confirmed, Cancelled, Completed")
	}

	g, err := s.authorize(ctx, session, Resource{Kind: ResourceVisit, ID: visitID}, CapabilityParticipate)
	if err != nil {
		return nil, err
	}
	visit, property := g.Visit, g.Property

	isSeller := property.SellerID == session.UserID || session.isAdmin()
	if status != store.VisitCancelled && !isSeller {
		return nil, forbidden()
	}
	if !containsString(from, visit.Status) {
		return nil, conflict(fmt.Sprintf("Visit is %s and cannot become %s", strings.ToLower(visit.Status), strings.ToLower(status)))
	}

	recipient := visit.BuyerID
	if session.UserID == visit.BuyerID {
		recipient = visit.SellerID
	}
	text := fmt.Sprintf("Your visit to %s on %s was %s", property.Title, visit.ScheduledAt.UTC().Format("Jan 2, 2006 15:04 MST"), strings.ToLower(status))

	updated, err := s.store.UpdateVisitStatus(ctx, visit.ID, visit.Status, status, store.Notification{
		RecipientID: recipient,
		SenderID:    int64Ptr(session.UserID),
		PropertyID:  int64Ptr(property.ID),
		Type:        store.NotificationVisitUpdated,
		Message:     text,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, conflict("Visit changed concurrently")
		}
		return nil, err
	}
	s.emailRecipient(recipient, "Visit "+strings.ToLower(status), "Visit "+strings.ToLower(status), text, property.Title)
	return visitPayload(updated), nil
}

func (s *Service) CreateReview(ctx context.Context, session Session, propertyID int64, input ReviewInput) (map[string]any, error) {
	if input.Rating < 1 || input.Rating > 5 {
		return nil, validationField("rating", "rating must be between 1 and 5")
	}
	comment := strings.TrimSpace(input.Comment)
	if len(comment) > maxReviewCommentLength {
		return nil, validationField("comment", fmt.Sprintf("comment must be at most %d characters", maxReviewCommentLength))
	}

	property, err := s.store.GetProperty(ctx, propertyID)
	if err != nil {
		return nil, missing(err, "Property not found")
	}
	if property.SellerID == session.UserID {
		return nil, validationError("You cannot review your own property")
	}

	review, err := s.store.CreateReview(ctx, store.Review{
		PropertyID: property.ID,
		ReviewerID: session.UserID,
		Rating:     input.Rating,
		Comment:    comment,
	})
	if errors.Is(err, store.ErrDuplicate) {
		return nil, conflict("You have already reviewed this property")
	}
	if err != nil {
		return nil, err
	}
	review.ReviewerName = session.UserName

	if _, err := s.store.CreateNotification(ctx, store.Notification{
		RecipientID: property.SellerID,
		SenderID:    int64Ptr(session.UserID),
		PropertyID:  int64Ptr(property.ID),
		Type:        store.NotificationNewReview,
		Message:     fmt.Sprintf("%s rated %s %d/5", session.UserName, property.Title, input.Rating),
	}); err != nil {
		log.Printf("review %d: notify seller %d: %v", review.ID, property.SellerID, err)
	}
	return reviewPayload(review), nil
}

func (s *Service) ListReviews(ctx context.Context, propertyID int64) (map[string]any, error) {
	if _, err := s.store.GetProperty(ctx, propertyID); err != nil {
		return nil, missing(err, "Property not found")
	}
	items, err := s.store.ListReviews(ctx, propertyID)
	if err != nil {
		return nil, err
	}
	reviews := make([]map[string]any, 0, len(items))
	for _, item := range items {
		reviews = append(reviews, reviewPayload(item))
	}
	return map[string]any{"reviews": reviews}, nil
}

func containsString(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}
