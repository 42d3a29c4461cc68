package sqlite

// ─── Ledger Schema ──────────────────────────────────────────────────────────

// LedgerMigrations returns the schema statements, applied in order on Open.
// Each string is a single SQL statement (SQLite executes one at a time).
func LedgerMigrations() []string {
	return []string{
		// Roster. Rank is stored by display name.
		`CREATE TABLE IF NOT EXISTS members (
			id         TEXT PRIMARY KEY,
			username   TEXT NOT NULL COLLATE NOCASE UNIQUE,
			rank       TEXT NOT NULL,
			points     INTEGER NOT NULL DEFAULT 0,
			unbounded  INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			removed_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_members_rank ON members(rank)`,

		// Append-only points history, ordered by (member_id, seq).
		`CREATE TABLE IF NOT EXISTS points_history (
			member_id    TEXT NOT NULL REFERENCES members(id),
			seq          INTEGER NOT NULL,
			amount       INTEGER NOT NULL,
			reason       TEXT NOT NULL DEFAULT '',
			violation_id TEXT,
			awarded_by   TEXT NOT NULL,
			created_at   TEXT NOT NULL,
			PRIMARY KEY (member_id, seq)
		)`,

		// Canonical violation table
		`CREATE TABLE IF NOT EXISTS violations (
			id               TEXT PRIMARY KEY,
			display_name     TEXT NOT NULL,
			points_deduction INTEGER NOT NULL CHECK(points_deduction > 0)
		)`,

		// Canonical rank threshold table, position 0 = most senior
		`CREATE TABLE IF NOT EXISTS rank_thresholds (
			rank            TEXT PRIMARY KEY,
			position        INTEGER NOT NULL UNIQUE,
			min_points      INTEGER NOT NULL DEFAULT 0,
			starting_points INTEGER NOT NULL DEFAULT 0,
			exempt          INTEGER NOT NULL DEFAULT 0
		)`,

		// Ledger-wide audit trail
		`CREATE TABLE IF NOT EXISTS activity_log (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			created_at   TEXT NOT NULL,
			kind         TEXT NOT NULL,
			member_id    TEXT NOT NULL,
			performed_by TEXT NOT NULL,
			amount       INTEGER NOT NULL DEFAULT 0,
			from_rank    TEXT NOT NULL,
			to_rank      TEXT NOT NULL,
			balance      INTEGER NOT NULL DEFAULT 0,
			description  TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_activity_member ON activity_log(member_id)`,
	}
}
