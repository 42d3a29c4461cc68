package domain

import "context"

// ─── Service Interfaces ─────────────────────────────────────────────────────
// Infrastructure implements these; the ledger depends on them.

// Store is the ledger's persistence boundary. Reads outside Update see the
// last committed state.
type Store interface {
	LoadMember(ctx context.Context, id string) (*Member, error) // ErrMemberNotFound
	FindMemberByUsername(ctx context.Context, username string) (*Member, error)
	ListMembers(ctx context.Context, includeRemoved bool) ([]Member, error)

	LoadViolationTable(ctx context.Context) (map[string]Violation, error)
	LoadRankThresholds(ctx context.Context) (ThresholdTable, error) // ErrInconsistentThresholdTable

	ListActivity(ctx context.Context, limit int) ([]ActivityRecord, error)

	// Update runs fn in one atomic transaction. If fn returns an error nothing
	// it wrote is kept.
	Update(ctx context.Context, fn func(tx StoreTx) error) error
}

// StoreTx is the write side of a Store transaction.
type StoreTx interface {
	LoadMember(ctx context.Context, id string) (*Member, error)
	FindMemberByUsername(ctx context.Context, username string) (*Member, error)

	// SaveMember upserts the member row. History is written only through
	// AppendHistory.
	SaveMember(ctx context.Context, m *Member) error
	AppendHistory(ctx context.Context, memberID string, e PointsEntry) error
	AppendActivity(ctx context.Context, rec ActivityRecord) error
}
