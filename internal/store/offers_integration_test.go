package store

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
)

type offerFixture struct {
	store    *PostgresStore
	seller   User
	buyer    User
	other    User
	property Property
}

func newOfferFixture(t *testing.T, db *sql.DB, ctx context.Context) offerFixture {
	t.Helper()
	s := NewPostgresStore(db)

	mustUser := func(email, name, role string) User {
		user, err := s.CreateUser(ctx, User{Email: email, DisplayName: name, PasswordHash: "x", Role: role})
		if err != nil {
			t.Fatalf("create user %s: %v", email, err)
		}
		return user
	}
	seller := mustUser("seller@example.com", "Sam Seller", RoleSeller)
	buyer := mustUser("buyer@example.com", "Bea Buyer", RoleBuyer)
	other := mustUser("other@example.com", "Otto Buyer", RoleBuyer)

	property, err := s.CreateProperty(ctx, Property{SellerID: seller.ID, Title: "Harbour cottage", City: "Bristol", PropertyType: "House", Price: 350000})
	if err != nil {
		t.Fatalf("create property: %v", err)
	}
	return offerFixture{store: s, seller: seller, buyer: buyer, other: other, property: property}
}

func (f offerFixture) placeOffer(t *testing.T, ctx context.Context, buyer User, amount float64) Offer {
	t.Helper()
	offer, err := f.store.CreateOfferWithNotification(ctx, Offer{
		PropertyID: f.property.ID,
		BuyerID:    buyer.ID,
		SellerID:   f.seller.ID,
		Amount:     amount,
	}, Notification{RecipientID: f.seller.ID, SenderID: &buyer.ID, PropertyID: &f.property.ID, Type: NotificationOfferReceived, Message: "new offer"})
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	return offer
}

func (f offerFixture) transition(offer Offer, status string, amount float64) OfferTransition {
	return OfferTransition{
		OfferID:         offer.ID,
		ExpectedVersion: offer.Version,
		Status:          status,
		Amount:          amount,
		Notification: Notification{
			RecipientID: offer.BuyerID,
			SenderID:    &f.seller.ID,
			PropertyID:  &f.property.ID,
			Type:        NotificationOfferUpdated,
			Message:     "Your offer was " + status,
		},
	}
}

func countNotifications(t *testing.T, ctx context.Context, db *sql.DB, recipientID int64) int {
	t.Helper()
	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notifications WHERE recipient_id = $1`, recipientID).Scan(&count); err != nil {
		t.Fatalf("count notifications: %v", err)
	}
	return count
}

func TestOfferCreationNotifiesSeller(t *testing.T) {
	db, ctx := openTestDB(t)
	f := newOfferFixture(t, db, ctx)

	offer := f.placeOffer(t, ctx, f.buyer, 340000)
	if offer.Status != OfferPending || offer.Version != 0 || offer.SellerID != f.seller.ID {
		t.Fatalf("unexpected offer: %+v", offer)
	}
	if got := countNotifications(t, ctx, db, f.seller.ID); got != 1 {
		t.Fatalf("expected one seller notification, got %d", got)
	}

	views, err := f.store.ListOffersForSeller(ctx, f.seller.ID)
	if err != nil {
		t.Fatalf("list seller offers: %v", err)
	}
	if len(views) != 1 || views[0].BuyerName != "Bea Buyer" || views[0].PropertyTitle != "Harbour cottage" {
		t.Fatalf("unexpected seller offers: %+v", views)
	}
}

func TestBackupOfferAllowedWhileUnderOffer(t *testing.T) {
	db, ctx := openTestDB(t)
	f := newOfferFixture(t, db, ctx)
	first := f.placeOffer(t, ctx, f.buyer, 340000)
	if _, err := f.store.ApplyOfferTransition(ctx, f.transition(first, OfferAccepted, first.Amount)); err != nil {
		t.Fatalf("accept offer: %v", err)
	}

	backup := f.placeOffer(t, ctx, f.other, 355000)
	if backup.Status != OfferPending {
		t.Fatalf("expected pending backup offer, got %+v", backup)
	}
	_, err := f.store.ApplyOfferTransition(ctx, f.transition(backup, OfferAccepted, backup.Amount))
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected second accept to conflict, got %v", err)
	}
}

func TestOfferCreationRejectedWhenPropertySold(t *testing.T) {
	db, ctx := openTestDB(t)
	f := newOfferFixture(t, db, ctx)

	f.property.Status = PropertySold
	if _, err := f.store.UpdateProperty(ctx, f.property); err != nil {
		t.Fatalf("update property: %v", err)
	}

	_, err := f.store.CreateOfferWithNotification(ctx, Offer{PropertyID: f.property.ID, BuyerID: f.buyer.ID, SellerID: f.seller.ID, Amount: 1},
		Notification{RecipientID: f.seller.ID, Type: NotificationOfferReceived, Message: "new offer"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if got := countNotifications(t, ctx, db, f.seller.ID); got != 0 {
		t.Fatalf("expected no notification, got %d", got)
	}
}

func TestAcceptMarksPropertyUnderOffer(t *testing.T) {
	db, ctx := openTestDB(t)
	f := newOfferFixture(t, db, ctx)
	offer := f.placeOffer(t, ctx, f.buyer, 340000)

	updated, err := f.store.ApplyOfferTransition(ctx, f.transition(offer, OfferAccepted, offer.Amount))
	if err != nil {
		t.Fatalf("accept offer: %v", err)
	}
	if updated.Status != OfferAccepted || updated.Version != offer.Version+1 {
		t.Fatalf("unexpected offer after accept: %+v", updated)
	}

	property, err := f.store.GetProperty(ctx, f.property.ID)
	if err != nil {
		t.Fatalf("get property: %v", err)
	}
	if property.Status != PropertyUnderOffer {
		t.Fatalf("expected property Under Offer, got %q", property.Status)
	}
	if got := countNotifications(t, ctx, db, f.buyer.ID); got != 1 {
		t.Fatalf("expected one buyer notification, got %d", got)
	}
}

func TestStaleVersionIsConflictAndRollsBack(t *testing.T) {
	db, ctx := openTestDB(t)
	f := newOfferFixture(t, db, ctx)
	offer := f.placeOffer(t, ctx, f.buyer, 340000)

	if _, err := f.store.ApplyOfferTransition(ctx, f.transition(offer, OfferCountered, 345000)); err != nil {
		t.Fatalf("counter offer: %v", err)
	}

	// offer still carries version 0
	_, err := f.store.ApplyOfferTransition(ctx, f.transition(offer, OfferAccepted, offer.Amount))
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	property, err := f.store.GetProperty(ctx, f.property.ID)
	if err != nil {
		t.Fatalf("get property: %v", err)
	}
	if property.Status != PropertyAvailable {
		t.Fatalf("expected property to stay Available, got %q", property.Status)
	}
	if got := countNotifications(t, ctx, db, f.buyer.ID); got != 1 {
		t.Fatalf("expected only the counter notification, got %d", got)
	}
}

func TestConcurrentAcceptsOnlyOneWins(t *testing.T) {
	db, ctx := openTestDB(t)
	f := newOfferFixture(t, db, ctx)
	first := f.placeOffer(t, ctx, f.buyer, 340000)
	second := f.placeOffer(t, ctx, f.other, 345000)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, offer := range []Offer{first, second} {
		wg.Add(1)
		go func(i int, offer Offer) {
			defer wg.Done()
			_, errs[i] = f.store.ApplyOfferTransition(context.Background(), f.transition(offer, OfferAccepted, offer.Amount))
		}(i, offer)
	}
	wg.Wait()

	wins, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || conflicts != 1 {
		t.Fatalf("expected one win and one conflict, got wins=%d conflicts=%d", wins, conflicts)
	}

	var accepted int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM offers WHERE property_id = $1 AND status = 'Accepted'`, f.property.ID).Scan(&accepted); err != nil {
		t.Fatalf("count accepted: %v", err)
	}
	if accepted != 1 {
		t.Fatalf("expected exactly one accepted offer, got %d", accepted)
	}
}

func TestCounterWithoutNewAmountKeepsAmount(t *testing.T) {
	db, ctx := openTestDB(t)
	f := newOfferFixture(t, db, ctx)
	offer := f.placeOffer(t, ctx, f.buyer, 1000)

	countered, err := f.store.ApplyOfferTransition(ctx, f.transition(offer, OfferCountered, offer.Amount))
	if err != nil {
		t.Fatalf("counter offer: %v", err)
	}
	if countered.Status != OfferCountered || countered.Amount != 1000 {
		t.Fatalf("expected Countered at 1000, got %+v", countered)
	}
	stored, err := f.store.GetOffer(ctx, offer.ID)
	if err != nil {
		t.Fatalf("get offer: %v", err)
	}
	if stored.Amount != 1000 {
		t.Fatalf("expected stored amount 1000, got %v", stored.Amount)
	}
}

func TestTerminalOfferCannotTransition(t *testing.T) {
	db, ctx := openTestDB(t)
	f := newOfferFixture(t, db, ctx)
	offer := f.placeOffer(t, ctx, f.buyer, 340000)

	rejected, err := f.store.ApplyOfferTransition(ctx, f.transition(offer, OfferRejected, offer.Amount))
	if err != nil {
		t.Fatalf("reject offer: %v", err)
	}
	_, err = f.store.ApplyOfferTransition(ctx, f.transition(rejected, OfferAccepted, offer.Amount))
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestDuplicateEmailAndReview(t *testing.T) {
	db, ctx := openTestDB(t)
	f := newOfferFixture(t, db, ctx)

	if _, err := f.store.CreateUser(ctx, User{Email: "BUYER@example.com", DisplayName: "Again", PasswordHash: "x", Role: RoleBuyer}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for email, got %v", err)
	}

	review := Review{PropertyID: f.property.ID, ReviewerID: f.buyer.ID, Rating: 4}
	if _, err := f.store.CreateReview(ctx, review); err != nil {
		t.Fatalf("create review: %v", err)
	}
	if _, err := f.store.CreateReview(ctx, review); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for review, got %v", err)
	}

	detail, err := f.store.GetPropertyDetail(ctx, f.property.ID)
	if err != nil {
		t.Fatalf("property detail: %v", err)
	}
	if detail.ReviewCount != 1 || detail.AverageRating != 4 {
		t.Fatalf("unexpected review aggregate: %+v", detail)
	}
}
