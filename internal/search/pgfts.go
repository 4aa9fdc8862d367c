package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher over the generated properties.fts column.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	where, args := pgWhere(q)

	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM properties p WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT p.id, p.title, p.city, p.address, p.property_type, p.property_status, p.price, p.bedrooms, p.bathrooms, p.image_url,
			ts_headline('english', coalesce(p.description, ''), plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30,StartSel=<mark>,StopSel=</mark>')
		FROM properties p
		WHERE %s
		ORDER BY ts_rank(p.fts, plainto_tsquery('english', $1)) DESC, p.id DESC
		LIMIT %d OFFSET %d`, where, q.limit(), q.offset())

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	results := make([]Result, 0)
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Title, &r.City, &r.Address, &r.PropertyType, &r.Status, &r.Price, &r.Bedrooms, &r.Bathrooms, &r.ImageURL, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// pgWhere builds the filter clause; $1 is always the query text.
func pgWhere(q Query) (string, []any) {
	clauses := []string{"p.fts @@ plainto_tsquery('english', $1)"}
	args := []any{q.Text}
	add := func(format string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(format, len(args)))
	}
	if q.City != "" {
		add("LOWER(p.city) = LOWER($%d)", q.City)
	}
	if q.Status != "" {
		add("p.property_status = $%d", q.Status)
	}
	if q.Type != "" {
		add("p.property_type = $%d", q.Type)
	}
	if q.MinPrice > 0 {
		add("p.price >= $%d", q.MinPrice)
	}
	if q.MaxPrice > 0 {
		add("p.price <= $%d", q.MaxPrice)
	}
	return strings.Join(clauses, " AND "), args
}

// LoadAllRecords returns every listing for a full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]PropertyRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, seller_id, title, description, address, city, property_type, property_status, price, bedrooms, bathrooms, image_url
		FROM properties
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("load properties: %w", err)
	}
	defer rows.Close()

	records := make([]PropertyRecord, 0)
	for rows.Next() {
		var r PropertyRecord
		if err := rows.Scan(&r.ID, &r.SellerID, &r.Title, &r.Description, &r.Address, &r.City, &r.PropertyType, &r.Status, &r.Price, &r.Bedrooms, &r.Bathrooms, &r.ImageURL); err != nil {
			return nil, fmt.Errorf("scan property record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate property records: %w", err)
	}
	return records, nil
}
