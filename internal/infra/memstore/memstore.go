// Package memstore is an in-memory domain.Store. Every value crossing the
// boundary is deep-copied, and Update stages writes so a failed transaction
// leaves nothing behind.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/mcstaff/staffledger/internal/domain"
)

// Store is a mutex-guarded in-memory ledger store.
type Store struct {
	writeMu sync.Mutex // one Update at a time

	mu         sync.RWMutex
	members    map[string]*domain.Member
	violations map[string]domain.Violation
	thresholds domain.ThresholdTable
	activity   []domain.ActivityRecord
	activityID int64
}

// New creates a store seeded with the given tables.
func New(thresholds domain.ThresholdTable, violations []domain.Violation) *Store {
	s := &Store{
		members:    make(map[string]*domain.Member),
		violations: make(map[string]domain.Violation),
		thresholds: thresholds,
	}
	for _, v := range violations {
		s.violations[v.ID] = v
	}
	return s
}

// ─── Reads ──────────────────────────────────────────────────────────────────

func (s *Store) LoadMember(_ context.Context, id string) (*domain.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[id]
	if !ok {
		return nil, domain.ErrMemberNotFound
	}
	return m.Clone(), nil
}

func (s *Store) FindMemberByUsername(_ context.Context, username string) (*domain.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.members {
		if strings.EqualFold(m.Username, username) {
			return m.Clone(), nil
		}
	}
	return nil, domain.ErrMemberNotFound
}

func (s *Store) ListMembers(_ context.Context, includeRemoved bool) ([]domain.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Member, 0, len(s.members))
	for _, m := range s.members {
		if m.Removed() && !includeRemoved {
			continue
		}
		c := m.Clone()
		c.History = nil
		out = append(out, *c)
	}
	sortRoster(out)
	return out, nil
}

func (s *Store) LoadViolationTable(_ context.Context) (map[string]domain.Violation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.Violation, len(s.violations))
	for id, v := range s.violations {
		out[id] = v
	}
	return out, nil
}

func (s *Store) LoadRankThresholds(_ context.Context) (domain.ThresholdTable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.thresholds.Len() == 0 {
		return domain.ThresholdTable{}, domain.ErrInconsistentThresholdTable
	}
	return s.thresholds, nil
}

func (s *Store) ListActivity(_ context.Context, limit int) ([]domain.ActivityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.activity)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]domain.ActivityRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.activity[i])
	}
	return out, nil
}

// ─── Transactions ───────────────────────────────────────────────────────────

// Update runs fn against a staged view and commits it only if fn succeeds.
func (s *Store) Update(ctx context.Context, fn func(tx domain.StoreTx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &tx{s: s, staged: make(map[string]*domain.Member)}
	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, m := range tx.staged {
		s.members[id] = m
	}
	for _, rec := range tx.activity {
		s.activityID++
		rec.ID = s.activityID
		s.activity = append(s.activity, rec)
	}
	return nil
}

type tx struct {
	s        *Store
	staged   map[string]*domain.Member
	activity []domain.ActivityRecord
}

// stage returns the transaction's working copy of a member.
func (t *tx) stage(id string) (*domain.Member, error) {
	if m, ok := t.staged[id]; ok {
		return m, nil
	}
	m, err := t.s.LoadMember(context.Background(), id)
	if err != nil {
		return nil, err
	}
	t.staged[id] = m
	return m, nil
}

func (t *tx) LoadMember(_ context.Context, id string) (*domain.Member, error) {
	m, err := t.stage(id)
	if err != nil {
		return nil, err
	}
	return m.Clone(), nil
}

func (t *tx) FindMemberByUsername(ctx context.Context, username string) (*domain.Member, error) {
	for _, m := range t.staged {
		if strings.EqualFold(m.Username, username) {
			return m.Clone(), nil
		}
	}
	m, err := t.s.FindMemberByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if staged, ok := t.staged[m.ID]; ok && !strings.EqualFold(staged.Username, username) {
		return nil, domain.ErrMemberNotFound // renamed inside this transaction
	}
	return m, nil
}

func (t *tx) SaveMember(_ context.Context, m *domain.Member) error {
	if err := m.Validate(); err != nil {
		return err
	}
	for id, other := range t.staged {
		if id != m.ID && strings.EqualFold(other.Username, m.Username) {
			return domain.ErrUsernameTaken
		}
	}
	t.s.mu.RLock()
	for id, other := range t.s.members {
		if _, shadowed := t.staged[id]; shadowed || id == m.ID {
			continue
		}
		if strings.EqualFold(other.Username, m.Username) {
			t.s.mu.RUnlock()
			return domain.ErrUsernameTaken
		}
	}
	t.s.mu.RUnlock()

	c := m.Clone()
	if prev, ok := t.staged[m.ID]; ok {
		c.History = prev.History
	} else if committed, err := t.s.LoadMember(context.Background(), m.ID); err == nil {
		c.History = committed.History
	} else {
		c.History = nil
	}
	t.staged[m.ID] = c
	return nil
}

func (t *tx) AppendHistory(_ context.Context, memberID string, e domain.PointsEntry) error {
	m, err := t.stage(memberID)
	if err != nil {
		return err
	}
	m.History = append(m.History, e)
	return nil
}

func (t *tx) AppendActivity(_ context.Context, rec domain.ActivityRecord) error {
	t.activity = append(t.activity, rec)
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
