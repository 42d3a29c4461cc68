package domain

import "fmt"

// ─── Rank Thresholds ────────────────────────────────────────────────────────

// RankThreshold describes what it takes to hold a rank.
type RankThreshold struct {
	Rank           Rank  `json:"rank" toml:"rank"`
	MinPoints      int64 `json:"min_points" toml:"min_points"`           // floor; ignored for Owner
	StartingPoints int64 `json:"starting_points" toml:"starting_points"` // balance for new members
	Exempt         bool  `json:"exempt" toml:"exempt"`                   // never demoted automatically
}

// ThresholdTable is an ordered threshold list, most senior rank first.
// Build one with NewThresholdTable so the ordering invariants hold.
type ThresholdTable struct {
	rows []RankThreshold
}

// NewThresholdTable validates rows and returns the table.
//
// Rules: ranks appear in enumeration order with no repeats; Owner, when present,
// is first and carries no floor; floors of the remaining rows strictly decrease
// down to a lowest floor of zero or more; starting points are never below the
// floor. A zero floor is safe because a balance of zero or less means Removed
// before any floor is consulted.
func NewThresholdTable(rows []RankThreshold) (ThresholdTable, error) {
	if len(rows) == 0 {
		return ThresholdTable{}, fmt.Errorf("%w: table is empty", ErrInconsistentThresholdTable)
	}

	prevRank := Rank(-1)
	var prevFloor int64
	haveFloor := false
	for i, row := range rows {
		if !row.Rank.Active() {
			return ThresholdTable{}, fmt.Errorf("%w: row %d has rank %s", ErrInconsistentThresholdTable, i, row.Rank)
		}
		if row.Rank <= prevRank {
			return ThresholdTable{}, fmt.Errorf("%w: %s listed after %s", ErrInconsistentThresholdTable, row.Rank, prevRank)
		}
		prevRank = row.Rank

		if row.Rank == RankOwner {
			continue
		}
		if haveFloor && row.MinPoints >= prevFloor {
			return ThresholdTable{}, fmt.Errorf("%w: %s floor %d is not below %d",
				ErrInconsistentThresholdTable, row.Rank, row.MinPoints, prevFloor)
		}
		if row.StartingPoints < row.MinPoints {
			return ThresholdTable{}, fmt.Errorf("%w: %s starts at %d, below its floor %d",
				ErrInconsistentThresholdTable, row.Rank, row.StartingPoints, row.MinPoints)
		}
		prevFloor = row.MinPoints
		haveFloor = true
	}
	if !haveFloor {
		return ThresholdTable{}, fmt.Errorf("%w: no rank below Owner", ErrInconsistentThresholdTable)
	}
	if prevFloor < 0 {
		return ThresholdTable{}, fmt.Errorf("%w: lowest floor must not be negative, got %d",
			ErrInconsistentThresholdTable, prevFloor)
	}

	out := make([]RankThreshold, len(rows))
	copy(out, rows)
	return ThresholdTable{rows: out}, nil
}

// DefaultThresholds is the canonical threshold table. A fresh Admin survives
// one spam deduction: its floor sits below its starting points.
func DefaultThresholds() []RankThreshold {
	return []RankThreshold{
		{Rank: RankOwner, Exempt: true},
		{Rank: RankCoOwner, MinPoints: 1000, StartingPoints: 1000, Exempt: true},
		{Rank: RankAdmin, MinPoints: 400, StartingPoints: 500},
		{Rank: RankJrAdmin, MinPoints: 300, StartingPoints: 375},
		{Rank: RankModerator, MinPoints: 250, StartingPoints: 275},
		{Rank: RankJrModerator, MinPoints: 150, StartingPoints: 200},
		{Rank: RankSupporter, MinPoints: 75, StartingPoints: 100},
		{Rank: RankJrSupporter, MinPoints: 0, StartingPoints: 50},
	}
}

// DefaultThresholdTable returns the validated canonical table.
func DefaultThresholdTable() ThresholdTable {
	t, err := NewThresholdTable(DefaultThresholds())
	if err != nil {
		panic(err) // the built-in table is fixed
	}
	return t
}

// Rows returns a copy of the table rows.
func (t ThresholdTable) Rows() []RankThreshold {
	out := make([]RankThreshold, len(t.rows))
	copy(out, t.rows)
	return out
}

// Len returns the number of rows.
func (t ThresholdTable) Len() int { return len(t.rows) }

// Lookup returns the row for r.
func (t ThresholdTable) Lookup(r Rank) (RankThreshold, bool) {
	for _, row := range t.rows {
		if row.Rank == r {
			return row, true
		}
	}
	return RankThreshold{}, false
}

// Lowest returns the least senior rank in the table.
func (t ThresholdTable) Lowest() RankThreshold {
	return t.rows[len(t.rows)-1]
}

// HighestFor returns the most senior non-Owner rank whose floor is met by points.
// ok is false when points fall below every floor. Callers treat a balance of
// zero or less as Removed before asking.
func (t ThresholdTable) HighestFor(points int64) (Rank, bool) {
	for _, row := range t.rows {
		if row.Rank == RankOwner {
			continue
		}
		if points >= row.MinPoints {
			return row.Rank, true
		}
	}
	return RankRemoved, false
}
