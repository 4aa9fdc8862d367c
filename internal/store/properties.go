package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const propertyColumns = `p.id, p.seller_id, p.title, p.description, p.address, p.city, p.property_type, p.price, p.bedrooms, p.bathrooms, p.area_sqft, p.image_url, p.property_status, p.created_at, p.updated_at`

func scanProperty(row interface{ Scan(...any) error }, extra ...any) (Property, error) {
	var item Property
	dest := []any{
		&item.ID,
		&item.SellerID,
		&item.Title,
		&item.Description,
		&item.Address,
		&item.City,
		&item.PropertyType,
		&item.Price,
		&item.Bedrooms,
		&item.Bathrooms,
		&item.AreaSqft,
		&item.ImageURL,
		&item.Status,
		&item.CreatedAt,
		&item.UpdatedAt,
	}
	err := row.Scan(append(dest, extra...)...)
	return item, err
}

func (s *PostgresStore) CreateProperty(ctx context.Context, item Property) (Property, error) {
	status := item.Status
	if status == "" {
		status = PropertyAvailable
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO properties AS p (seller_id, title, description, address, city, property_type, price, bedrooms, bathrooms, area_sqft, image_url, property_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING `+propertyColumns,
		item.SellerID, item.Title, item.Description, item.Address, item.City, item.PropertyType,
		item.Price, item.Bedrooms, item.Bathrooms, item.AreaSqft, item.ImageURL, status,
	)
	created, err := scanProperty(row)
	if err != nil {
		return Property{}, fmt.Errorf("insert property: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetProperty(ctx context.Context, propertyID int64) (Property, error) {
	return scanProperty(s.db.QueryRowContext(ctx, `SELECT `+propertyColumns+` FROM properties p WHERE p.id = $1`, propertyID))
}

// GetPropertyDetail loads a property with its seller name and review aggregate.
func (s *PostgresStore) GetPropertyDetail(ctx context.Context, propertyID int64) (PropertyDetail, error) {
	var detail PropertyDetail
	row := s.db.QueryRowContext(ctx, `
		SELECT `+propertyColumns+`, u.display_name, COALESCE(AVG(r.rating), 0)::float8, COUNT(r.id)
		FROM properties p
		JOIN users u ON u.id = p.seller_id
		LEFT JOIN reviews r ON r.property_id = p.id
		WHERE p.id = $1
		GROUP BY p.id, u.display_name
	`, propertyID)
	item, err := scanProperty(row, &detail.SellerName, &detail.AverageRating, &detail.ReviewCount)
	if err != nil {
		return PropertyDetail{}, err
	}
	detail.Property = item
	return detail, nil
}

func (s *PostgresStore) ListProperties(ctx context.Context, filter PropertyFilter) ([]Property, int, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.City != "" {
		add("LOWER(p.city) = LOWER($%d)", filter.City)
	}
	if filter.Status != "" {
		add("p.property_status = $%d", filter.Status)
	}
	if filter.Type != "" {
		add("p.property_type = $%d", filter.Type)
	}
	if filter.MinPrice > 0 {
		add("p.price >= $%d", filter.MinPrice)
	}
	if filter.MaxPrice > 0 {
		add("p.price <= $%d", filter.MaxPrice)
	}
	if filter.SellerID > 0 {
		add("p.seller_id = $%d", filter.SellerID)
	}

	whereSQL := ""
	if len(where) > 0 {
		whereSQL = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM properties p `+whereSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count properties: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	query := fmt.Sprintf(`SELECT %s FROM properties p %s ORDER BY p.created_at DESC, p.id DESC LIMIT %d OFFSET %d`, propertyColumns, whereSQL, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list properties: %w", err)
	}
	defer rows.Close()

	items := make([]Property, 0)
	for rows.Next() {
		item, err := scanProperty(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan property: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate properties: %w", err)
	}
	return items, total, nil
}

// ListAllProperties returns every listing, used to rebuild the search index.
func (s *PostgresStore) ListAllProperties(ctx context.Context) ([]Property, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+propertyColumns+` FROM properties p ORDER BY p.id`)
	if err != nil {
		return nil, fmt.Errorf("list all properties: %w", err)
	}
	defer rows.Close()

	items := make([]Property, 0)
	for rows.Next() {
		item, err := scanProperty(rows)
		if err != nil {
			return nil, fmt.Errorf("scan property: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) UpdateProperty(ctx context.Context, item Property) (Property, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE properties AS p
		SET title = $2, description = $3, address = $4, city = $5, property_type = $6, price = $7,
			bedrooms = $8, bathrooms = $9, area_sqft = $10, image_url = $11, property_status = $12, updated_at = NOW()
		WHERE p.id = $1
		RETURNING `+propertyColumns,
		item.ID, item.Title, item.Description, item.Address, item.City, item.PropertyType, item.Price,
		item.Bedrooms, item.Bathrooms, item.AreaSqft, item.ImageURL, item.Status,
	)
	updated, err := scanProperty(row)
	if err != nil {
		return Property{}, err
	}
	return updated, nil
}

func (s *PostgresStore) DeleteProperty(ctx context.Context, propertyID int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM properties WHERE id = $1`, propertyID)
	if err != nil {
		return fmt.Errorf("delete property: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete property rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
