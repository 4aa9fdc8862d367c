package app

import (
	"context"
	"database/sql"
	"errors"

	"estately/api/internal/store"
)

type ResourceKind string

const (
	ResourceProperty     ResourceKind = "property"
	ResourceOffer        ResourceKind = "offer"
	ResourceVisit        ResourceKind = "visit"
	ResourceConversation ResourceKind = "conversation"
)

// Capability is the relation a caller needs to a resource.
//
//	CapabilityOwn: the seller of the property (for offers and visits, the
//	live owner of the referenced property).
//	CapabilityParticipate: either the buyer or the seller on the record.
type Capability string

const (
	CapabilityOwn         Capability = "own"
	CapabilityParticipate Capability = "participate"
)

type Resource struct {
	Kind ResourceKind
	ID   int64
}

// grant carries the records loaded while authorizing so handlers reuse them.
type grant struct {
	Property     store.Property
	Offer        store.Offer
	Visit        store.Visit
	Conversation store.Conversation
}

// authorize loads the resource and checks the caller's relation to it.
// Missing records are 404, a missing relation is 403. Admins pass any
// relation check once the record exists.
func (s *Service) authorize(ctx context.Context, session Session, resource Resource, capability Capability) (grant, error) {
	var g grant
	var sellerID, buyerID int64

	switch resource.Kind {
	case ResourceProperty:
		property, err := s.store.GetProperty(ctx, resource.ID)
		if err != nil {
			return g, missing(err, "Property not found")
		}
		g.Property = property
		sellerID = property.SellerID

	case ResourceOffer:
		offer, err := s.store.GetOffer(ctx, resource.ID)
		if err != nil {
			return g, missing(err, "Offer not found")
		}
		property, err := s.store.GetProperty(ctx, offer.PropertyID)
		if err != nil {
			return g, missing(err, "Property not found")
		}
		g.Offer, g.Property = offer, property
		sellerID, buyerID = property.SellerID, offer.BuyerID

	case ResourceVisit:
		visit, err := s.store.GetVisit(ctx, resource.ID)
		if err != nil {
			return g, missing(err, "Visit not found")
		}
		property, err := s.store.GetProperty(ctx, visit.PropertyID)
		if err != nil {
			return g, missing(err, "Property not found")
		}
		g.Visit, g.Property = visit, property
		sellerID, buyerID = property.SellerID, visit.BuyerID

	case ResourceConversation:
		conversation, err := s.store.GetConversation(ctx, resource.ID)
		if err != nil {
			return g, missing(err, "Conversation not found")
		}
		g.Conversation = conversation
		sellerID, buyerID = conversation.SellerID, conversation.BuyerID

	default:
		return g, forbidden()
	}

	if session.isAdmin() {
		return g, nil
	}

	switch capability {
	case CapabilityOwn:
		if sellerID == session.UserID {
			return g, nil
		}
	case CapabilityParticipate:
		if sellerID == session.UserID || (buyerID != 0 && buyerID == session.UserID) {
			return g, nil
		}
	}
	return g, forbidden()
}

func missing(err error, message string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(message)
	}
	return err
}
