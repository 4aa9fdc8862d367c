package store

import (
	"context"
	"fmt"
)

func (s *PostgresStore) CreateReview(ctx context.Context, review Review) (Review, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO reviews (property_id, reviewer_id, rating, comment)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, review.PropertyID, review.ReviewerID, review.Rating, review.Comment).Scan(&review.ID, &review.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return Review{}, ErrDuplicate
		}
		return Review{}, fmt.Errorf("insert review: %w", err)
	}
	return review, nil
}

func (s *PostgresStore) ListReviews(ctx context.Context, propertyID int64) ([]Review, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.property_id, r.reviewer_id, u.display_name, r.rating, r.comment, r.created_at
		FROM reviews r
		JOIN users u ON u.id = r.reviewer_id
		WHERE r.property_id = $1
		ORDER BY r.created_at DESC
	`, propertyID)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	items := make([]Review, 0)
	for rows.Next() {
		var item Review
		if err := rows.Scan(&item.ID, &item.PropertyID, &item.ReviewerID, &item.ReviewerName, &item.Rating, &item.Comment, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reviews: %w", err)
	}
	return items, nil
}
