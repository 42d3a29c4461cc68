package ledger

import (
	"slices"

	"github.com/mcstaff/staffledger/internal/domain"
)

// Policy holds the rank rules that are a stakeholder decision rather than a
// property of the threshold table.
type Policy struct {
	// AutoPromote lets credits lift a member to the highest rank their balance
	// qualifies for. Off by default: promotion is a manual action.
	AutoPromote bool

	// ExemptRanks are never demoted or removed automatically. Rows marked
	// Exempt in the threshold table are exempt as well.
	ExemptRanks []domain.Rank

	// PromoterRanks may run Promote.
	PromoterRanks []domain.Rank

	// ReinstaterRanks may run Reinstate.
	ReinstaterRanks []domain.Rank
}

// DefaultPolicy returns the canonical policy.
func DefaultPolicy() Policy {
	return Policy{
		AutoPromote:     false,
		ExemptRanks:     []domain.Rank{domain.RankOwner, domain.RankCoOwner},
		PromoterRanks:   []domain.Rank{domain.RankOwner, domain.RankCoOwner},
		ReinstaterRanks: []domain.Rank{domain.RankOwner},
	}
}

// Exempt reports whether rank r is shielded from automatic demotion.
func (p Policy) Exempt(r domain.Rank, table domain.ThresholdTable) bool {
	if slices.Contains(p.ExemptRanks, r) {
		return true
	}
	row, ok := table.Lookup(r)
	return ok && row.Exempt
}

// CanPromote reports whether a member of rank r may promote others.
func (p Policy) CanPromote(r domain.Rank) bool {
	return r.Active() && slices.Contains(p.PromoterRanks, r)
}

// CanReinstate reports whether a member of rank r may reinstate removed members.
func (p Policy) CanReinstate(r domain.Rank) bool {
	return r.Active() && slices.Contains(p.ReinstaterRanks, r)
}

// EvaluateRank returns the rank m should hold for its current balance.
// It is pure and idempotent. Rules, in order:
//  1. Removed stays Removed.
//  2. Exempt ranks keep their rank whatever the balance.
//  3. A balance of zero or less means Removed.
//  4. Otherwise the most senior rank whose floor the balance meets, never
//     above the current rank unless AutoPromote is set.
func EvaluateRank(m *domain.Member, table domain.ThresholdTable, p Policy) domain.Rank {
	if m.Rank == domain.RankRemoved {
		return domain.RankRemoved
	}
	if p.Exempt(m.Rank, table) {
		return m.Rank
	}
	if m.Points <= 0 {
		return domain.RankRemoved
	}

	best, ok := table.HighestFor(m.Points)
	if !ok {
		return domain.RankRemoved
	}
	if best.Above(m.Rank) && !p.AutoPromote {
		return m.Rank
	}
	return best
}
