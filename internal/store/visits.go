package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const visitColumns = `v.id, v.property_id, v.buyer_id, v.seller_id, v.scheduled_at, v.status, v.note, p.title, v.created_at, v.updated_at`

func scanVisit(row interface{ Scan(...any) error }) (Visit, error) {
	var item Visit
	err := row.Scan(
		&item.ID,
		&item.PropertyID,
		&item.BuyerID,
		&item.SellerID,
		&item.ScheduledAt,
		&item.Status,
		&item.Note,
		&item.PropertyTitle,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	return item, err
}

func (s *PostgresStore) CreateVisitWithNotification(ctx context.Context, visit Visit, notification Notification) (Visit, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Visit{}, fmt.Errorf("begin visit tx: %w", err)
	}
	defer tx.Rollback()

	var visitID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO visits (property_id, buyer_id, seller_id, scheduled_at, status, note)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, visit.PropertyID, visit.BuyerID, visit.SellerID, visit.ScheduledAt, VisitRequested, visit.Note).Scan(&visitID)
	if err != nil {
		return Visit{}, fmt.Errorf("insert visit: %w", err)
	}

	created, err := scanVisit(tx.QueryRowContext(ctx, `
		SELECT `+visitColumns+` FROM visits v JOIN properties p ON p.id = v.property_id WHERE v.id = $1
	`, visitID))
	if err != nil {
		return Visit{}, fmt.Errorf("reload visit: %w", err)
	}

	if _, err := insertNotification(ctx, tx, notification); err != nil {
		return Visit{}, err
	}
	if err := tx.Commit(); err != nil {
		return Visit{}, fmt.Errorf("commit visit: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetVisit(ctx context.Context, visitID int64) (Visit, error) {
	return scanVisit(s.db.QueryRowContext(ctx, `
		SELECT `+visitColumns+` FROM visits v JOIN properties p ON p.id = v.property_id WHERE v.id = $1
	`, visitID))
}

// ListVisitsForUser returns visits where the user is the buyer or the seller.
func (s *PostgresStore) ListVisitsForUser(ctx context.Context, userID int64) ([]Visit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+visitColumns+`
		FROM visits v
		JOIN properties p ON p.id = v.property_id
		WHERE v.buyer_id = $1 OR v.seller_id = $1
		ORDER BY v.scheduled_at ASC, v.id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list visits: %w", err)
	}
	defer rows.Close()

	items := make([]Visit, 0)
	for rows.Next() {
		item, err := scanVisit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan visit: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate visits: %w", err)
	}
	return items, nil
}

// UpdateVisitStatus moves a visit out of fromStatus and notifies the other
// party. ErrConflict means the visit changed underneath the caller.
func (s *PostgresStore) UpdateVisitStatus(ctx context.Context, visitID int64, fromStatus, toStatus string, notification Notification) (Visit, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Visit{}, fmt.Errorf("begin visit status tx: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx, `
		UPDATE visits SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING id
	`, visitID, fromStatus, toStatus).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return Visit{}, ErrConflict
	}
	if err != nil {
		return Visit{}, fmt.Errorf("update visit status: %w", err)
	}

	updated, err := scanVisit(tx.QueryRowContext(ctx, `
		SELECT `+visitColumns+` FROM visits v JOIN properties p ON p.id = v.property_id WHERE v.id = $1
	`, visitID))
	if err != nil {
		return Visit{}, fmt.Errorf("reload visit: %w", err)
	}

	if _, err := insertNotification(ctx, tx, notification); err != nil {
		return Visit{}, err
	}
	if err := tx.Commit(); err != nil {
		return Visit{}, fmt.Errorf("commit visit status: %w", err)
	}
	return updated, nil
}

// CompletePastVisits marks confirmed visits scheduled before now as Completed.
func (s *PostgresStore) CompletePastVisits(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE visits SET status = $1, updated_at = NOW()
		WHERE status = $2 AND scheduled_at < $3
	`, VisitCompleted, VisitConfirmed, now)
	if err != nil {
		return 0, fmt.Errorf("complete past visits: %w", err)
	}
	affected, _ := result.RowsAffected()
	return affected, nil
}
