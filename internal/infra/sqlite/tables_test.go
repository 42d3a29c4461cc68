package sqlite

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/mcstaff/staffledger/internal/domain"
)

// ─── Violation Table ────────────────────────────────────────────────────────

func TestSeedViolations(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.SeedViolations(ctx, domain.DefaultViolations()); err != nil {
		t.Fatalf("SeedViolations() error: %v", err)
	}
	table, err := db.LoadViolationTable(ctx)
	if err != nil {
		t.Fatalf("LoadViolationTable() error: %v", err)
	}
	if len(table) != len(domain.DefaultViolations()) {
		t.Errorf("loaded %d violations, want %d", len(table), len(domain.DefaultViolations()))
	}
	if table["spam"].PointsDeduction != 50 {
		t.Errorf("spam deduction = %d, want 50", table["spam"].PointsDeduction)
	}
}

func TestSeedViolations_Update(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	db.SeedViolations(ctx, []domain.Violation{{ID: "spam", DisplayName: "Spam", PointsDeduction: 50}})
	db.SeedViolations(ctx, []domain.Violation{{ID: "spam", DisplayName: "Chat spam", PointsDeduction: 40}})

	table, _ := db.LoadViolationTable(ctx)
	if table["spam"].PointsDeduction != 40 || table["spam"].DisplayName != "Chat spam" {
		t.Errorf("spam = %+v, want updated row", table["spam"])
	}
}

func TestSeedViolations_RejectsInvalid(t *testing.T) {
	db := newTestDB(t)
	err := db.SeedViolations(context.Background(), []domain.Violation{{ID: "free", PointsDeduction: 0}})
	if !errors.Is(err, domain.ErrInvalidViolation) {
		t.Errorf("error = %v, want ErrInvalidViolation", err)
	}
}

// ─── Rank Threshold Table ───────────────────────────────────────────────────

func TestSeedRankThresholds_RoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	want := domain.DefaultThresholdTable()

	if err := db.SeedRankThresholds(ctx, want); err != nil {
		t.Fatalf("SeedRankThresholds() error: %v", err)
	}
	got, err := db.LoadRankThresholds(ctx)
	if err != nil {
		t.Fatalf("LoadRankThresholds() error: %v", err)
	}
	if !reflect.DeepEqual(got.Rows(), want.Rows()) {
		t.Errorf("rows = %+v, want %+v", got.Rows(), want.Rows())
	}
}

func TestSeedRankThresholds_Replaces(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	db.SeedRankThresholds(ctx, domain.DefaultThresholdTable())

	small, err := domain.NewThresholdTable([]domain.RankThreshold{
		{Rank: domain.RankOwner, Exempt: true},
		{Rank: domain.RankAdmin, MinPoints: 100, StartingPoints: 200},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.SeedRankThresholds(ctx, small); err != nil {
		t.Fatalf("SeedRankThresholds() error: %v", err)
	}
	got, _ := db.LoadRankThresholds(ctx)
	if got.Len() != 2 {
		t.Errorf("Len() = %d, want 2", got.Len())
	}
}

func TestLoadRankThresholds_DetectsNonMonotonic(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	db.SeedRankThresholds(ctx, domain.DefaultThresholdTable())

	// Hand edit: Moderator now needs more than Admin.
	if _, err := db.db.Exec(`UPDATE rank_thresholds SET min_points = 900 WHERE rank = 'Moderator'`); err != nil {
		t.Fatal(err)
	}
	_, err := db.LoadRankThresholds(ctx)
	if !errors.Is(err, domain.ErrInconsistentThresholdTable) {
		t.Errorf("error = %v, want ErrInconsistentThresholdTable", err)
	}
}

func TestLoadRankThresholds_Empty(t *testing.T) {
	db := newTestDB(t)
	_, err := db.LoadRankThresholds(context.Background())
	if !errors.Is(err, domain.ErrInconsistentThresholdTable) {
		t.Errorf("error = %v, want ErrInconsistentThresholdTable", err)
	}
}

func TestSeedIfEmpty_KeepsStoredTables(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.SeedIfEmpty(ctx, domain.DefaultThresholdTable(), domain.DefaultViolations()); err != nil {
		t.Fatalf("SeedIfEmpty() error: %v", err)
	}

	small, err := domain.NewThresholdTable([]domain.RankThreshold{
		{Rank: domain.RankOwner, Exempt: true},
		{Rank: domain.RankAdmin, MinPoints: 100, StartingPoints: 200},
	})
	if err != nil {
		t.Fatal(err)
	}
	other := []domain.Violation{{ID: "xray", DisplayName: "X-ray", PointsDeduction: 75}}
	if err := db.SeedIfEmpty(ctx, small, other); err != nil {
		t.Fatalf("second SeedIfEmpty() error: %v", err)
	}

	ranks, err := db.LoadRankThresholds(ctx)
	if err != nil {
		t.Fatalf("LoadRankThresholds() error: %v", err)
	}
	if ranks.Len() != domain.DefaultThresholdTable().Len() {
		t.Errorf("rank table replaced: Len() = %d", ranks.Len())
	}
	violations, _ := db.LoadViolationTable(ctx)
	if _, ok := violations["xray"]; ok {
		t.Error("violation table changed although it was already seeded")
	}
}
