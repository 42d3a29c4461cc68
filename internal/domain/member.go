// Package domain contains the staff ledger's pure business types with ZERO
// infrastructure imports. It depends on nothing.
package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// SystemActor is the AwardedBy value for changes not made by a member.
const SystemActor = "System"

// ─── Member ─────────────────────────────────────────────────────────────────

// Member is one staff member's ledger record.
type Member struct {
	ID        string        `json:"id"`
	Username  string        `json:"username"`
	Rank      Rank          `json:"rank"`
	Points    int64         `json:"points"`
	Unbounded bool          `json:"unbounded"` // "infinite" balance marker; exemption is policy, not this flag
	History   []PointsEntry `json:"history,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	RemovedAt *time.Time    `json:"removed_at,omitempty"` // nil while on the roster
}

// PointsEntry is one append-only line in a member's points history.
type PointsEntry struct {
	Seq         int64     `json:"seq"`
	Amount      int64     `json:"amount"` // signed
	Reason      string    `json:"reason"`
	ViolationID string    `json:"violation_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	AwardedBy   string    `json:"awarded_by"` // member id or SystemActor
}

// NewMember builds a member of the given rank with that rank's starting points.
// The caller assigns the ID.
func NewMember(id, username string, rank Rank, table ThresholdTable, now time.Time) (*Member, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrInvalidUsername
	}
	if !rank.Active() {
		return nil, fmt.Errorf("%w: cannot create a member as %s", ErrInvalidRank, rank)
	}
	row, ok := table.Lookup(rank)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not in the threshold table", ErrInvalidRank, rank)
	}

	m := &Member{
		ID:        id,
		Username:  username,
		Rank:      rank,
		Points:    row.StartingPoints,
		Unbounded: rank == RankOwner,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if m.Points < 0 && !m.Unbounded {
		return nil, fmt.Errorf("%w: %s would start at %d", ErrNegativePoints, username, m.Points)
	}
	return m, nil
}

// Validate checks the record invariants that hold for the member's whole life.
// Whether a rank is exempt is a policy decision, so balances are checked by
// ValidateBalance.
func (m *Member) Validate() error {
	if strings.TrimSpace(m.Username) == "" {
		return ErrInvalidUsername
	}
	if !m.Rank.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidRank, int(m.Rank))
	}
	return nil
}

// ValidateBalance rejects a negative balance unless the member is Unbounded,
// Removed or holds an exempt rank.
func (m *Member) ValidateBalance(exempt bool) error {
	if m.Points >= 0 || m.Unbounded || m.Removed() || exempt {
		return nil
	}
	return fmt.Errorf("%w: %s holds %d as %s", ErrNegativePoints, m.Username, m.Points, m.Rank)
}

// Removed reports whether the member has reached the terminal state.
func (m *Member) Removed() bool { return m.Rank == RankRemoved }

// NextSeq returns the sequence number the next history entry should carry.
func (m *Member) NextSeq() int64 {
	if len(m.History) == 0 {
		return 1
	}
	return m.History[len(m.History)-1].Seq + 1
}

// Clone returns a deep copy.
func (m *Member) Clone() *Member {
	c := *m
	if m.RemovedAt != nil {
		t := *m.RemovedAt
		c.RemovedAt = &t
	}
	if m.History != nil {
		c.History = make([]PointsEntry, len(m.History))
		copy(c.History, m.History)
	}
	return &c
}

// ─── Point Arithmetic ───────────────────────────────────────────────────────

// AddPoints returns balance+delta, or ErrInvalidAmount when the result does
// not fit in an int64.
func AddPoints(balance, delta int64) (int64, error) {
	if (delta > 0 && balance > math.MaxInt64-delta) || (delta < 0 && balance < math.MinInt64-delta) {
		return balance, fmt.Errorf("%w: %d%+d overflows the balance", ErrInvalidAmount, balance, delta)
	}
	return balance + delta, nil
}

// SubPoints returns balance-delta, or ErrInvalidAmount when the result does
// not fit in an int64.
func SubPoints(balance, delta int64) (int64, error) {
	if (delta < 0 && balance > math.MaxInt64+delta) || (delta > 0 && balance < math.MinInt64+delta) {
		return balance, fmt.Errorf("%w: %d-%d overflows the balance", ErrInvalidAmount, balance, delta)
	}
	return balance - delta, nil
}

// ─── Violation ──────────────────────────────────────────────────────────────

// Violation is a rule breach with a fixed point cost.
type Violation struct {
	ID              string `json:"id" toml:"id"`
	DisplayName     string `json:"display_name" toml:"display_name"`
	PointsDeduction int64  `json:"points_deduction" toml:"points_deduction"`
}

// NewViolation validates and returns a violation.
func NewViolation(id, displayName string, deduction int64) (Violation, error) {
	v := Violation{ID: strings.TrimSpace(id), DisplayName: strings.TrimSpace(displayName), PointsDeduction: deduction}
	if err := v.Validate(); err != nil {
		return Violation{}, err
	}
	if v.DisplayName == "" {
		v.DisplayName = v.ID
	}
	return v, nil
}

// Validate checks a violation definition.
func (v Violation) Validate() error {
	if v.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidViolation)
	}
	if v.PointsDeduction <= 0 {
		return fmt.Errorf("%w: %s deducts %d", ErrInvalidViolation, v.ID, v.PointsDeduction)
	}
	return nil
}

// DefaultViolations is the canonical violation table.
func DefaultViolations() []Violation {
	return []Violation{
		{ID: "spam", DisplayName: "Spam", PointsDeduction: 50},
		{ID: "abuse", DisplayName: "Abuse of power", PointsDeduction: 20},
		{ID: "inactivity", DisplayName: "Inactivity", PointsDeduction: 10},
		{ID: "disrespect", DisplayName: "Disrespect", PointsDeduction: 15},
		{ID: "griefing", DisplayName: "Griefing", PointsDeduction: 100},
		{ID: "leaking", DisplayName: "Leaking staff info", PointsDeduction: 150},
		{ID: "ban_evasion_assist", DisplayName: "Assisting ban evasion", PointsDeduction: 250},
	}
}
