package store

import (
	"context"
	"fmt"
)

func (s *PostgresStore) countByStatus(ctx context.Context, query string, arg any) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

func (s *PostgresStore) SellerStats(ctx context.Context, sellerID int64) (SellerStats, error) {
	var stats SellerStats
	var err error

	stats.ListingsByStatus, err = s.countByStatus(ctx, `
		SELECT property_status, COUNT(*) FROM properties WHERE seller_id = $1 GROUP BY property_status
	`, sellerID)
	if err != nil {
		return SellerStats{}, fmt.Errorf("seller listings by status: %w", err)
	}

	stats.OffersByStatus, err = s.countByStatus(ctx, `
		SELECT o.status, COUNT(*)
		FROM offers o
		JOIN properties p ON p.id = o.property_id
		WHERE p.seller_id = $1
		GROUP BY o.status
	`, sellerID)
	if err != nil {
		return SellerStats{}, fmt.Errorf("seller offers by status: %w", err)
	}
	stats.PendingOffers = stats.OffersByStatus[OfferPending]

	err = s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE((SELECT AVG(o.amount) FROM offers o JOIN properties p ON p.id = o.property_id
				WHERE p.seller_id = $1 AND o.status = 'Accepted'), 0)::float8,
			(SELECT COUNT(*) FROM visits v WHERE v.seller_id = $1 AND v.status IN ('Requested', 'Confirmed') AND v.scheduled_at > NOW()),
			COALESCE((SELECT AVG(r.rating) FROM reviews r JOIN properties p ON p.id = r.property_id WHERE p.seller_id = $1), 0)::float8,
			(SELECT COUNT(*) FROM reviews r JOIN properties p ON p.id = r.property_id WHERE p.seller_id = $1)
	`, sellerID).Scan(&stats.AverageAcceptedOffer, &stats.UpcomingVisits, &stats.AverageRating, &stats.ReviewCount)
	if err != nil {
		return SellerStats{}, fmt.Errorf("seller aggregates: %w", err)
	}
	return stats, nil
}

func (s *PostgresStore) BuyerStats(ctx context.Context, buyerID int64) (BuyerStats, error) {
	var stats BuyerStats
	var err error

	stats.OffersByStatus, err = s.countByStatus(ctx, `
		SELECT status, COUNT(*) FROM offers WHERE buyer_id = $1 GROUP BY status
	`, buyerID)
	if err != nil {
		return BuyerStats{}, fmt.Errorf("buyer offers by status: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM favorites WHERE user_id = $1),
			(SELECT COUNT(*) FROM visits WHERE buyer_id = $1 AND status IN ('Requested', 'Confirmed') AND scheduled_at > NOW()),
			(SELECT COUNT(*) FROM notifications WHERE recipient_id = $1 AND read_at IS NULL)
	`, buyerID).Scan(&stats.Favorites, &stats.UpcomingVisits, &stats.UnreadNotifications)
	if err != nil {
		return BuyerStats{}, fmt.Errorf("buyer aggregates: %w", err)
	}
	return stats, nil
}
