package store

import (
	"context"
	"fmt"
)

// AddFavorite is idempotent; saving an already saved property is not an error.
func (s *PostgresStore) AddFavorite(ctx context.Context, userID, propertyID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO favorites (user_id, property_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, property_id) DO NOTHING
	`, userID, propertyID)
	if err != nil {
		return fmt.Errorf("add favorite: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveFavorite(ctx context.Context, userID, propertyID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM favorites WHERE user_id = $1 AND property_id = $2`, userID, propertyID); err != nil {
		return fmt.Errorf("remove favorite: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListFavorites(ctx context.Context, userID int64) ([]Favorite, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.user_id, f.property_id, f.created_at, `+propertyColumns+`
		FROM favorites f
		JOIN properties p ON p.id = f.property_id
		WHERE f.user_id = $1
		ORDER BY f.created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list favorites: %w", err)
	}
	defer rows.Close()

	items := make([]Favorite, 0)
	for rows.Next() {
		var fav Favorite
		p := &fav.Property
		if err := rows.Scan(
			&fav.UserID, &fav.PropertyID, &fav.CreatedAt,
			&p.ID, &p.SellerID, &p.Title, &p.Description, &p.Address, &p.City, &p.PropertyType,
			&p.Price, &p.Bedrooms, &p.Bathrooms, &p.AreaSqft, &p.ImageURL, &p.Status, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan favorite: %w", err)
		}
		items = append(items, fav)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate favorites: %w", err)
	}
	return items, nil
}
