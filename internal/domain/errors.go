package domain

import (
	"errors"
	"fmt"
)

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure: no infrastructure dependency.

var (
	// Lookup errors
	ErrMemberNotFound    = errors.New("member not found")
	ErrViolationNotFound = errors.New("violation not found")

	// Input errors
	ErrInvalidAmount    = errors.New("amount must be a positive integer")
	ErrInvalidRank      = errors.New("invalid rank")
	ErrInvalidUsername  = errors.New("username must not be empty")
	ErrInvalidViolation = errors.New("invalid violation definition")
	ErrNegativePoints   = errors.New("points must not be negative for a bounded member")

	// State errors
	ErrMemberAlreadyRemoved = errors.New("member already removed")
	ErrMemberNotRemoved     = errors.New("member is not removed")
	ErrUsernameTaken        = errors.New("username already in use")
	ErrNotAuthorized        = errors.New("performer is not allowed to do this")

	// Configuration errors
	ErrInconsistentThresholdTable = errors.New("rank threshold table is not monotonic")
)

// LedgerError attaches the failing operation and member to a sentinel error.
// errors.Is sees through it to the sentinel.
type LedgerError struct {
	Op       string
	MemberID string
	Err      error
}

func (e *LedgerError) Error() string {
	if e.MemberID == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.MemberID, e.Err)
}

func (e *LedgerError) Unwrap() error { return e.Err }

// Kind returns a short stable label for the sentinel behind err, for metrics
// and API error types. Unknown errors map to "internal".
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMemberNotFound):
		return "member_not_found"
	case errors.Is(err, ErrViolationNotFound):
		return "violation_not_found"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrInvalidRank):
		return "invalid_rank"
	case errors.Is(err, ErrInvalidUsername):
		return "invalid_username"
	case errors.Is(err, ErrInvalidViolation):
		return "invalid_violation"
	case errors.Is(err, ErrNegativePoints):
		return "negative_points"
	case errors.Is(err, ErrMemberAlreadyRemoved):
		return "member_already_removed"
	case errors.Is(err, ErrMemberNotRemoved):
		return "member_not_removed"
	case errors.Is(err, ErrUsernameTaken):
		return "username_taken"
	case errors.Is(err, ErrNotAuthorized):
		return "not_authorized"
	case errors.Is(err, ErrInconsistentThresholdTable):
		return "inconsistent_threshold_table"
	default:
		return "internal"
	}
}
