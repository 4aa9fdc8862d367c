package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"estately/api/internal/store"
)

const maxOfferMessageLength = 2000

type CreateOfferInput struct {
	Amount         *float64 `json:"amount"`
	Message        string   `json:"message"`
	IdempotencyKey string   `json:"-"`
}

type OfferDecisionInput struct {
	Status        string   `json:"status"`
	CounterAmount *float64 `json:"counter_amount"`
	Message       string   `json:"message"`
	Version       *int     `json:"version"`
}

var offerDecisions = map[string]string{
	store.OfferAccepted:  "accepted",
	store.OfferRejected:  "rejected",
	store.OfferCountered: "countered",
}

// CreateOffer records a Pending offer from the caller on a listed property and
// notifies the seller in the same transaction.
func (s *Service) CreateOffer(ctx context.Context, session Session, propertyID int64, input CreateOfferInput) (map[string]any, error) {
	if input.Amount == nil || *input.Amount <= 0 {
		return nil, validationField("amount", "amount must be a positive number")
	}
	message := strings.TrimSpace(input.Message)
	if len(message) > maxOfferMessageLength {
		return nil, validationField("message", fmt.Sprintf("message must be at most %d characters", maxOfferMessageLength))
	}

	property, err := s.store.GetProperty(ctx, propertyID)
	if err != nil {
		return nil, missing(err, "Property not found")
	}
	if property.SellerID == session.UserID {
		return nil, validationError("You cannot make an offer on your own property")
	}
	// Under Offer listings still take backup offers.
	if property.Status == store.PropertySold {
		return nil, conflict("Property has been sold")
	}

	releaseKey, err := s.reserveRequest(ctx, session, input.IdempotencyKey)
	if err != nil {
		return nil, err
	}

	amount := *input.Amount
	offer, err := s.store.CreateOfferWithNotification(ctx, store.Offer{
		PropertyID: property.ID,
		BuyerID:    session.UserID,
		SellerID:   property.SellerID,
		Amount:     amount,
		Message:    message,
	}, store.Notification{
		RecipientID: property.SellerID,
		SenderID:    int64Ptr(session.UserID),
		PropertyID:  int64Ptr(property.ID),
		Type:        store.NotificationOfferReceived,
		Message:     fmt.Sprintf("%s made an offer of $%s on %s", session.UserName, formatAmount(amount), property.Title),
	})
	if err != nil {
		releaseKey()
		if errors.Is(err, store.ErrConflict) {
			return nil, conflict("Property has been sold")
		}
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("Property not found")
		}
		return nil, err
	}

	log.Printf("offer %d placed on property %d by user %d", offer.ID, property.ID, session.UserID)
	s.emailRecipient(property.SellerID,
		"New offer on "+property.Title,
		"You have a new offer",
		fmt.Sprintf("%s offered $%s.", session.UserName, formatAmount(amount)),
		property.Title,
	)

	return map[string]any{
		"offer_id":    offer.ID,
		"property_id": offer.PropertyID,
		"amount":      offer.Amount,
		"status":      offer.Status,
		"created_at":  offer.CreatedAt,
	}, nil
}

// reserveRequest claims an Idempotency-Key for the caller. The returned
// function gives the key back when the request fails.
func (s *Service) reserveRequest(ctx context.Context, session Session, key string) (func(), error) {
	key = strings.TrimSpace(key)
	if key == "" || s.idempotency == nil {
		return func() {}, nil
	}
	scoped := "offer:" + strconv.FormatInt(session.UserID, 10) + ":" + key
	reserved, err := s.idempotency.Reserve(ctx, scoped)
	if err != nil {
		log.Printf("idempotency: reserve %s: %v", scoped, err)
		return func() {}, nil
	}
	if !reserved {
		return nil, domainError(http.StatusConflict, "DUPLICATE_REQUEST", "Duplicate request", nil)
	}
	return func() {
		if err := s.idempotency.Release(context.Background(), scoped); err != nil {
			log.Printf("idempotency: release %s: %v", scoped, err)
		}
	}, nil
}

// DecideOffer applies the seller's Accepted, Rejected or Countered decision.
// Validation runs before any lookup, then existence, ownership and state.
func (s *Service) DecideOffer(ctx context.Context, session Session, offerID int64, input OfferDecisionInput) (map[string]any, error) {
	status := strings.TrimSpace(input.Status)
	verb, ok := offerDecisions[status]
	if !ok {
		return nil, validationField("status", "status must be one of Accepted, Rejected, Countered")
	}
	if input.CounterAmount != nil && *input.CounterAmount <= 0 {
		return nil, validationField("counter_amount", "counter_amount must be a positive number")
	}

	g, err := s.authorize(ctx, session, Resource{Kind: ResourceOffer, ID: offerID}, CapabilityOwn)
	if err != nil {
		return nil, err
	}
	offer, property := g.Offer, g.Property

	if offer.Status == store.OfferAccepted || offer.Status == store.OfferRejected {
		return nil, conflict("Offer is already " + strings.ToLower(offer.Status))
	}
	if input.Version != nil && *input.Version != offer.Version {
		return nil, conflict("Offer has changed since it was loaded")
	}

	amount := offer.Amount
	if status == store.OfferCountered && input.CounterAmount != nil {
		amount = *input.CounterAmount
	}

	var text string
	switch status {
	case store.OfferCountered:
		text = fmt.Sprintf("The seller countered your offer on %s with $%s", property.Title, formatAmount(amount))
	default:
		text = fmt.Sprintf("Your offer of $%s on %s was %s", formatAmount(offer.Amount), property.Title, verb)
	}
	if note := strings.TrimSpace(input.Message); note != "" {
		text += ": " + note
	}

	updated, err := s.store.ApplyOfferTransition(ctx, store.OfferTransition{
		OfferID:         offer.ID,
		ExpectedVersion: offer.Version,
		Status:          status,
		Amount:          amount,
		Notification: store.Notification{
			RecipientID: offer.BuyerID,
			SenderID:    int64Ptr(session.UserID),
			PropertyID:  int64Ptr(offer.PropertyID),
			Type:        store.NotificationOfferUpdated,
			Message:     text,
		},
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, conflict("Offer changed concurrently or the property already has an accepted offer")
		}
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("Offer not found")
		}
		return nil, err
	}

	log.Printf("offer %d %s by user %d", updated.ID, verb, session.UserID)
	if status == store.OfferAccepted {
		property.Status = store.PropertyUnderOffer
		s.indexProperty(property)
	}
	s.emailRecipient(offer.BuyerID, "Your offer was "+verb, "Offer "+verb, text, property.Title)

	return map[string]any{
		"offer_id": updated.ID,
		"status":   updated.Status,
		"amount":   updated.Amount,
		"version":  updated.Version,
		"message":  "Offer " + verb,
	}, nil
}

func (s *Service) SellerOffers(ctx context.Context, session Session) ([]map[string]any, error) {
	items, err := s.store.ListOffersForSeller(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	return offerViewList(items), nil
}

func (s *Service) BuyerOffers(ctx context.Context, session Session) ([]map[string]any, error) {
	items, err := s.store.ListOffersForBuyer(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	return offerViewList(items), nil
}

// PropertyOffers lists every offer on a property for its seller.
func (s *Service) PropertyOffers(ctx context.Context, session Session, propertyID int64) (map[string]any, error) {
	if _, err := s.authorize(ctx, session, Resource{Kind: ResourceProperty, ID: propertyID}, CapabilityOwn); err != nil {
		return nil, err
	}
	items, err := s.store.ListOffersForProperty(ctx, propertyID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"offers": offerViewList(items)}, nil
}
