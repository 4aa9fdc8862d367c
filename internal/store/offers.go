package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const offerColumns = `o.id, o.property_id, o.buyer_id, o.seller_id, o.amount, o.status, o.message, o.version, o.created_at, o.updated_at`

func scanOffer(row interface{ Scan(...any) error }, extra ...any) (Offer, error) {
	var item Offer
	dest := []any{
		&item.ID,
		&item.PropertyID,
		&item.BuyerID,
		&item.SellerID,
		&item.Amount,
		&item.Status,
		&item.Message,
		&item.Version,
		&item.CreatedAt,
		&item.UpdatedAt,
	}
	err := row.Scan(append(dest, extra...)...)
	return item, err
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertNotification(ctx context.Context, q queryer, item Notification) (Notification, error) {
	err := q.QueryRowContext(ctx, `
		INSERT INTO notifications (recipient_id, sender_id, property_id, type, message)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, item.RecipientID, item.SenderID, item.PropertyID, item.Type, item.Message).Scan(&item.ID, &item.CreatedAt)
	if err != nil {
		return Notification{}, fmt.Errorf("insert notification: %w", err)
	}
	return item, nil
}

// CreateOfferWithNotification inserts a Pending offer and the seller's
// notification in one transaction. The property row is share-locked so it
// cannot be marked Sold between the status check and the insert. Under Offer
// listings still accept backup offers.
func (s *PostgresStore) CreateOfferWithNotification(ctx context.Context, offer Offer, notification Notification) (Offer, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Offer{}, fmt.Errorf("begin offer tx: %w", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT property_status FROM properties WHERE id = $1 FOR SHARE`, offer.PropertyID).Scan(&status)
	if err != nil {
		return Offer{}, err
	}
	if status == PropertySold {
		return Offer{}, ErrConflict
	}

	created, err := scanOffer(tx.QueryRowContext(ctx, `
		INSERT INTO offers AS o (property_id, buyer_id, seller_id, amount, status, message)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+offerColumns,
		offer.PropertyID, offer.BuyerID, offer.SellerID, offer.Amount, OfferPending, offer.Message,
	))
	if err != nil {
		return Offer{}, fmt.Errorf("insert offer: %w", err)
	}

	if _, err := insertNotification(ctx, tx, notification); err != nil {
		return Offer{}, err
	}

	if err := tx.Commit(); err != nil {
		return Offer{}, fmt.Errorf("commit offer: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetOffer(ctx context.Context, offerID int64) (Offer, error) {
	return scanOffer(s.db.QueryRowContext(ctx, `SELECT `+offerColumns+` FROM offers o WHERE o.id = $1`, offerID))
}

// ApplyOfferTransition records a seller decision. Inside a single transaction
// it locks the property row, refuses a second acceptance on the property,
// bumps the offer version (failing on a stale one), marks the property
// Under Offer when accepting, and notifies the buyer. Any failure rolls back
// every write.
func (s *PostgresStore) ApplyOfferTransition(ctx context.Context, transition OfferTransition) (Offer, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Offer{}, fmt.Errorf("begin transition tx: %w", err)
	}
	defer tx.Rollback()

	var propertyID int64
	if err := tx.QueryRowContext(ctx, `SELECT property_id FROM offers WHERE id = $1`, transition.OfferID).Scan(&propertyID); err != nil {
		return Offer{}, err
	}

	var propertyStatus string
	if err := tx.QueryRowContext(ctx, `SELECT property_status FROM properties WHERE id = $1 FOR UPDATE`, propertyID).Scan(&propertyStatus); err != nil {
		return Offer{}, err
	}

	if transition.Status == OfferAccepted {
		var alreadyAccepted bool
		err := tx.QueryRowContext(ctx, `
			SELECT EXISTS(SELECT 1 FROM offers WHERE property_id = $1 AND status = $2 AND id <> $3)
		`, propertyID, OfferAccepted, transition.OfferID).Scan(&alreadyAccepted)
		if err != nil {
			return Offer{}, fmt.Errorf("check accepted offers: %w", err)
		}
		if alreadyAccepted {
			return Offer{}, ErrConflict
		}
	}

	updated, err := scanOffer(tx.QueryRowContext(ctx, `
		UPDATE offers AS o
		SET status = $3, amount = $4, version = o.version + 1, updated_at = NOW()
		WHERE o.id = $1 AND o.version = $2 AND o.status NOT IN ('Accepted', 'Rejected')
		RETURNING `+offerColumns,
		transition.OfferID, transition.ExpectedVersion, transition.Status, transition.Amount,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return Offer{}, ErrConflict
	}
	if err != nil {
		return Offer{}, fmt.Errorf("update offer: %w", err)
	}

	if transition.Status == OfferAccepted && propertyStatus != PropertyUnderOffer {
		if _, err := tx.ExecContext(ctx, `
			UPDATE properties SET property_status = $2, updated_at = NOW() WHERE id = $1
		`, propertyID, PropertyUnderOffer); err != nil {
			return Offer{}, fmt.Errorf("mark property under offer: %w", err)
		}
	}

	if _, err := insertNotification(ctx, tx, transition.Notification); err != nil {
		return Offer{}, err
	}

	if err := tx.Commit(); err != nil {
		return Offer{}, fmt.Errorf("commit transition: %w", err)
	}
	return updated, nil
}

const offerViewQuery = `
	SELECT ` + offerColumns + `, u.display_name, u.email, p.title, p.image_url, p.property_status
	FROM offers o
	JOIN users u ON u.id = o.buyer_id
	JOIN properties p ON p.id = o.property_id
`

func (s *PostgresStore) listOfferViews(ctx context.Context, where string, arg any) ([]OfferView, error) {
	rows, err := s.db.QueryContext(ctx, offerViewQuery+where+` ORDER BY o.created_at DESC, o.id DESC`, arg)
	if err != nil {
		return nil, fmt.Errorf("list offers: %w", err)
	}
	defer rows.Close()

	items := make([]OfferView, 0)
	for rows.Next() {
		var view OfferView
		offer, err := scanOffer(rows, &view.BuyerName, &view.BuyerEmail, &view.PropertyTitle, &view.PropertyImage, &view.PropertyStatus)
		if err != nil {
			return nil, fmt.Errorf("scan offer: %w", err)
		}
		view.Offer = offer
		items = append(items, view)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate offers: %w", err)
	}
	return items, nil
}

// ListOffersForSeller returns offers whose seller snapshot is the given user, newest first.
func (s *PostgresStore) ListOffersForSeller(ctx context.Context, sellerID int64) ([]OfferView, error) {
	return s.listOfferViews(ctx, `WHERE o.seller_id = $1`, sellerID)
}

func (s *PostgresStore) ListOffersForBuyer(ctx context.Context, buyerID int64) ([]OfferView, error) {
	return s.listOfferViews(ctx, `WHERE o.buyer_id = $1`, buyerID)
}

func (s *PostgresStore) ListOffersForProperty(ctx context.Context, propertyID int64) ([]OfferView, error) {
	return s.listOfferViews(ctx, `WHERE o.property_id = $1`, propertyID)
}
