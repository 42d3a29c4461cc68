package domain

import "time"

// ─── Activity Log ───────────────────────────────────────────────────────────
// Every ledger mutation leaves one activity record next to the member's
// points history, so removals stay auditable after a member leaves the roster.

// ActivityKind is the business reason for a ledger mutation.
type ActivityKind string

const (
	ActivityMemberAdded   ActivityKind = "MEMBER_ADDED"
	ActivityDeduction     ActivityKind = "DEDUCTION"
	ActivityCredit        ActivityKind = "CREDIT"
	ActivityDemotion      ActivityKind = "DEMOTION"
	ActivityPromotion     ActivityKind = "PROMOTION"
	ActivityRemoval       ActivityKind = "REMOVAL"
	ActivityReinstatement ActivityKind = "REINSTATEMENT"
)

// ActivityRecord is one row in the ledger-wide activity log.
type ActivityRecord struct {
	ID          int64        `json:"id"`
	Timestamp   time.Time    `json:"timestamp"`
	Kind        ActivityKind `json:"kind"`
	MemberID    string       `json:"member_id"`
	PerformedBy string       `json:"performed_by"`
	Amount      int64        `json:"amount,omitempty"`
	FromRank    Rank         `json:"from_rank"`
	ToRank      Rank         `json:"to_rank"`
	Balance     int64        `json:"balance"`
	Description string       `json:"description,omitempty"`
}
