package domain

import (
	"fmt"
	"strings"
)

// ─── Rank ───────────────────────────────────────────────────────────────────

// Rank is a staff rank. Lower values are more senior; RankRemoved is terminal.
type Rank int

const (
	RankOwner Rank = iota
	RankCoOwner
	RankAdmin
	RankJrAdmin
	RankModerator
	RankJrModerator
	RankSupporter
	RankJrSupporter
	RankRemoved
)

var rankNames = [...]string{
	RankOwner:       "Owner",
	RankCoOwner:     "Co-Owner",
	RankAdmin:       "Admin",
	RankJrAdmin:     "Jr. Admin",
	RankModerator:   "Moderator",
	RankJrModerator: "Jr. Moderator",
	RankSupporter:   "Supporter",
	RankJrSupporter: "Jr. Supporter",
	RankRemoved:     "Removed",
}

// ActiveRanks lists every non-terminal rank, most senior first.
func ActiveRanks() []Rank {
	return []Rank{
		RankOwner, RankCoOwner, RankAdmin, RankJrAdmin,
		RankModerator, RankJrModerator, RankSupporter, RankJrSupporter,
	}
}

// String returns the display name.
func (r Rank) String() string {
	if !r.Valid() {
		return fmt.Sprintf("Rank(%d)", int(r))
	}
	return rankNames[r]
}

// Slug returns the lower-case, dash separated form ("jr-admin").
func (r Rank) Slug() string {
	return slugify(r.String())
}

// Valid reports whether r is part of the enumeration (Removed included).
func (r Rank) Valid() bool {
	return r >= RankOwner && r <= RankRemoved
}

// Active reports whether r is a held rank, i.e. valid and not Removed.
func (r Rank) Active() bool {
	return r >= RankOwner && r < RankRemoved
}

// Above reports whether r is strictly more senior than other.
func (r Rank) Above(other Rank) bool {
	return r < other
}

// ParseRank resolves a display name or slug, case-insensitively.
func ParseRank(s string) (Rank, error) {
	want := slugify(s)
	for i, name := range rankNames {
		if slugify(name) == want {
			return Rank(i), nil
		}
	}
	return RankRemoved, fmt.Errorf("%w: %q", ErrInvalidRank, s)
}

// MarshalText implements encoding.TextMarshaler (JSON, TOML).
func (r Rank) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidRank, int(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler (JSON, TOML).
func (r *Rank) UnmarshalText(b []byte) error {
	parsed, err := ParseRank(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, "_", "-")
	return strings.Join(strings.Fields(s), "-")
}
