package sqlite

import (
	"context"
	"fmt"

	"github.com/mcstaff/staffledger/internal/domain"
)

// ─── Seeding ────────────────────────────────────────────────────────────────

// SeedIfEmpty writes each table only when nothing is stored for it yet, so a
// second process opening the same database leaves the running tables alone.
func (db *DB) SeedIfEmpty(ctx context.Context, table domain.ThresholdTable, violations []domain.Violation) error {
	empty, err := db.isEmpty(ctx, "rank_thresholds")
	if err != nil {
		return err
	}
	if empty {
		if err := db.SeedRankThresholds(ctx, table); err != nil {
			return err
		}
	}
	if empty, err = db.isEmpty(ctx, "violations"); err != nil {
		return err
	}
	if empty {
		return db.SeedViolations(ctx, violations)
	}
	return nil
}

func (db *DB) isEmpty(ctx context.Context, table string) (bool, error) {
	var n int
	if err := db.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
		return false, fmt.Errorf("count %s: %w", table, err)
	}
	return n == 0, nil
}

// ─── Violation Table ────────────────────────────────────────────────────────

// SeedViolations upserts the configured violation table. Violations no longer
// configured are left in place so old history rows keep their reference.
func (db *DB) SeedViolations(ctx context.Context, violations []domain.Violation) error {
	for _, v := range violations {
		if err := v.Validate(); err != nil {
			return err
		}
		_, err := db.db.ExecContext(ctx, `
			INSERT INTO violations (id, display_name, points_deduction)
			VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				display_name     = excluded.display_name,
				points_deduction = excluded.points_deduction
		`, v.ID, v.DisplayName, v.PointsDeduction)
		if err != nil {
			return fmt.Errorf("seed violation %s: %w", v.ID, err)
		}
	}
	return nil
}

// LoadViolationTable returns every violation keyed by id.
func (db *DB) LoadViolationTable(ctx context.Context) (map[string]domain.Violation, error) {
	rows, err := db.db.QueryContext(ctx, `SELECT id, display_name, points_deduction FROM violations`)
	if err != nil {
		return nil, fmt.Errorf("load violations: %w", err)
	}
	defer rows.Close()

	result := make(map[string]domain.Violation)
	for rows.Next() {
		var v domain.Violation
		if err := rows.Scan(&v.ID, &v.DisplayName, &v.PointsDeduction); err != nil {
			return nil, fmt.Errorf("load violations: %w", err)
		}
		result[v.ID] = v
	}
	return result, rows.Err()
}

// ─── Rank Threshold Table ───────────────────────────────────────────────────

// SeedRankThresholds replaces the stored threshold table with table.
func (db *DB) SeedRankThresholds(ctx context.Context, table domain.ThresholdTable) (err error) {
	sqlTx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("seed thresholds: %w", err)
	}
	defer func() {
		if err != nil {
			sqlTx.Rollback()
		}
	}()

	if _, err = sqlTx.ExecContext(ctx, `DELETE FROM rank_thresholds`); err != nil {
		return fmt.Errorf("seed thresholds: %w", err)
	}
	for i, row := range table.Rows() {
		_, err = sqlTx.ExecContext(ctx, `
			INSERT INTO rank_thresholds (rank, position, min_points, starting_points, exempt)
			VALUES (?, ?, ?, ?, ?)
		`, row.Rank.String(), i, row.MinPoints, row.StartingPoints, boolInt(row.Exempt))
		if err != nil {
			return fmt.Errorf("seed threshold %s: %w", row.Rank, err)
		}
	}
	return sqlTx.Commit()
}

// LoadRankThresholds reads the table back and re-validates it, so a hand-edited
// table that lost its ordering is reported instead of used.
func (db *DB) LoadRankThresholds(ctx context.Context) (domain.ThresholdTable, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT rank, min_points, starting_points, exempt
		FROM rank_thresholds ORDER BY position
	`)
	if err != nil {
		return domain.ThresholdTable{}, fmt.Errorf("load thresholds: %w", err)
	}
	defer rows.Close()

	var result []domain.RankThreshold
	for rows.Next() {
		var (
			row     domain.RankThreshold
			rankStr string
			exempt  int
		)
		if err := rows.Scan(&rankStr, &row.MinPoints, &row.StartingPoints, &exempt); err != nil {
			return domain.ThresholdTable{}, fmt.Errorf("load thresholds: %w", err)
		}
		if row.Rank, err = domain.ParseRank(rankStr); err != nil {
			return domain.ThresholdTable{}, fmt.Errorf("load thresholds: %w", err)
		}
		row.Exempt = exempt == 1
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return domain.ThresholdTable{}, fmt.Errorf("load thresholds: %w", err)
	}
	return domain.NewThresholdTable(result)
}
