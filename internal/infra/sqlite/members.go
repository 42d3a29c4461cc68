package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/mcstaff/staffledger/internal/domain"
)

// ─── Member Reads ───────────────────────────────────────────────────────────

// LoadMember returns a member with its full points history.
func (db *DB) LoadMember(ctx context.Context, id string) (*domain.Member, error) {
	return loadMember(ctx, db.db, id)
}

// FindMemberByUsername looks a member up by username, case-insensitively.
func (db *DB) FindMemberByUsername(ctx context.Context, username string) (*domain.Member, error) {
	return findMemberByUsername(ctx, db.db, username)
}

// ListMembers returns the roster without histories, most senior first.
func (db *DB) ListMembers(ctx context.Context, includeRemoved bool) ([]domain.Member, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT id, username, rank, points, unbounded, created_at, updated_at, removed_at
		FROM members
	`)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var result []domain.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("list members: %w", err)
		}
		if m.Removed() && !includeRemoved {
			continue
		}
		result = append(result, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	sortRoster(result)
	return result, nil
}

const memberColumns = `id, username, rank, points, unbounded, created_at, updated_at, removed_at`

func loadMember(ctx context.Context, q querier, id string) (*domain.Member, error) {
	row := q.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM members WHERE id = ?`, id)
	m, err := scanMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrMemberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load member %s: %w", id, err)
	}
	if m.History, err = loadHistory(ctx, q, id); err != nil {
		return nil, err
	}
	return m, nil
}

func findMemberByUsername(ctx context.Context, q querier, username string) (*domain.Member, error) {
	var id string
	err := q.QueryRowContext(ctx, `SELECT id FROM members WHERE username = ?`, username).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrMemberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find member %q: %w", username, err)
	}
	return loadMember(ctx, q, id)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMember(s scanner) (*domain.Member, error) {
	var (
		m                      domain.Member
		rankStr                string
		unbounded              int
		createdStr, updatedStr string
		removedStr             sql.NullString
	)
	if err := s.Scan(&m.ID, &m.Username, &rankStr, &m.Points, &unbounded, &createdStr, &updatedStr, &removedStr); err != nil {
		return nil, err
	}
	rank, err := domain.ParseRank(rankStr)
	if err != nil {
		return nil, err
	}
	m.Rank = rank
	m.Unbounded = unbounded == 1
	if m.CreatedAt, err = parseTime(createdStr); err != nil {
		return nil, err
	}
	if m.UpdatedAt, err = parseTime(updatedStr); err != nil {
		return nil, err
	}
	if removedStr.Valid {
		removed, err := parseTime(removedStr.String)
		if err != nil {
			return nil, err
		}
		m.RemovedAt = &removed
	}
	return &m, nil
}

func loadHistory(ctx context.Context, q querier, memberID string) ([]domain.PointsEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT seq, amount, reason, violation_id, awarded_by, created_at
		FROM points_history WHERE member_id = ? ORDER BY seq
	`, memberID)
	if err != nil {
		return nil, fmt.Errorf("load history %s: %w", memberID, err)
	}
	defer rows.Close()

	var history []domain.PointsEntry
	for rows.Next() {
		var (
			e           domain.PointsEntry
			violationID sql.NullString
			createdStr  string
		)
		if err := rows.Scan(&e.Seq, &e.Amount, &e.Reason, &violationID, &e.AwardedBy, &createdStr); err != nil {
			return nil, fmt.Errorf("load history %s: %w", memberID, err)
		}
		e.ViolationID = violationID.String
		if e.Timestamp, err = parseTime(createdStr); err != nil {
			return nil, fmt.Errorf("load history %s: %w", memberID, err)
		}
		history = append(history, e)
	}
	return history, rows.Err()
}

// ─── Member Writes ──────────────────────────────────────────────────────────

func saveMember(ctx context.Context, q querier, m *domain.Member) error {
	if err := m.Validate(); err != nil {
		return err
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO members (id, username, rank, points, unbounded, created_at, updated_at, removed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username   = excluded.username,
			rank       = excluded.rank,
			points     = excluded.points,
			unbounded  = excluded.unbounded,
			updated_at = excluded.updated_at,
			removed_at = excluded.removed_at
	`, m.ID, m.Username, m.Rank.String(), m.Points, boolInt(m.Unbounded),
		formatTime(m.CreatedAt), formatTime(m.UpdatedAt), nullTime(m.RemovedAt))
	if isUniqueViolation(err) {
		return domain.ErrUsernameTaken
	}
	if err != nil {
		return fmt.Errorf("save member %s: %w", m.ID, err)
	}
	return nil
}

func appendHistory(ctx context.Context, q querier, memberID string, e domain.PointsEntry) error {
	var violationID sql.NullString
	if e.ViolationID != "" {
		violationID = sql.NullString{String: e.ViolationID, Valid: true}
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO points_history (member_id, seq, amount, reason, violation_id, awarded_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, memberID, e.Seq, e.Amount, e.Reason, violationID, e.AwardedBy, formatTime(e.Timestamp))
	if err != nil {
		return fmt.Errorf("append history %s: %w", memberID, err)
	}
	return nil
}

// sortRoster orders by rank, then points descending, then username.
func sortRoster(ms []domain.Member) {
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].Rank != ms[j].Rank {
			return ms[i].Rank < ms[j].Rank
		}
		if ms[i].Points != ms[j].Points {
			return ms[i].Points > ms[j].Points
		}
		return ms[i].Username < ms[j].Username
	})
}
