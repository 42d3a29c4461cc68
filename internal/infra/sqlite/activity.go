package sqlite

import (
	"context"
	"fmt"

	"github.com/mcstaff/staffledger/internal/domain"
)

// ─── Activity Log Operations ────────────────────────────────────────────────

func appendActivity(ctx context.Context, q querier, rec domain.ActivityRecord) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO activity_log (created_at, kind, member_id, performed_by, amount, from_rank, to_rank, balance, description)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, formatTime(rec.Timestamp), string(rec.Kind), rec.MemberID, rec.PerformedBy, rec.Amount,
		rec.FromRank.String(), rec.ToRank.String(), rec.Balance, rec.Description)
	if err != nil {
		return fmt.Errorf("append activity: %w", err)
	}
	return nil
}

// ListActivity returns the most recent activity records, newest first.
// A limit of zero or less returns everything.
func (db *DB) ListActivity(ctx context.Context, limit int) ([]domain.ActivityRecord, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := db.db.QueryContext(ctx, `
		SELECT id, created_at, kind, member_id, performed_by, amount, from_rank, to_rank, balance, description
		FROM activity_log ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	var result []domain.ActivityRecord
	for rows.Next() {
		var (
			rec              domain.ActivityRecord
			createdStr, kind string
			fromStr, toStr   string
		)
		if err := rows.Scan(&rec.ID, &createdStr, &kind, &rec.MemberID, &rec.PerformedBy, &rec.Amount,
			&fromStr, &toStr, &rec.Balance, &rec.Description); err != nil {
			return nil, fmt.Errorf("list activity: %w", err)
		}
		rec.Kind = domain.ActivityKind(kind)
		if rec.Timestamp, err = parseTime(createdStr); err != nil {
			return nil, fmt.Errorf("list activity: %w", err)
		}
		if rec.FromRank, err = domain.ParseRank(fromStr); err != nil {
			return nil, fmt.Errorf("list activity: %w", err)
		}
		if rec.ToRank, err = domain.ParseRank(toStr); err != nil {
			return nil, fmt.Errorf("list activity: %w", err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}
