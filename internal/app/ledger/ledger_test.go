package ledger

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/mcstaff/staffledger/internal/domain"
	"github.com/mcstaff/staffledger/internal/infra/memstore"
	"github.com/mcstaff/staffledger/internal/infra/observability"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestLedger(t *testing.T, p Policy) *Ledger {
	t.Helper()
	store := memstore.New(domain.DefaultThresholdTable(), domain.DefaultViolations())
	return New(store, p,
		WithLogger(zaptest.NewLogger(t)),
		WithTracer(observability.NewTracer(observability.DefaultTracerConfig())),
		WithClock(func() time.Time { return testNow }),
	)
}

func addMember(t *testing.T, l *Ledger, name string, rank domain.Rank) *domain.Member {
	t.Helper()
	m, err := l.AddMember(context.Background(), name, rank, "")
	require.NoError(t, err)
	return m
}

// requireBalanced checks that the balance equals the starting points plus
// the signed sum of history, and that sequence numbers increase.
func requireBalanced(t *testing.T, m *domain.Member, start int64) {
	t.Helper()
	sum := start
	for i, e := range m.History {
		assert.Equal(t, int64(i+1), e.Seq, "history seq")
		sum += e.Amount
	}
	assert.Equal(t, sum, m.Points, "points must equal start plus history")
}

// ─── Deductions ─────────────────────────────────────────────────────────────

func TestApplyDeduction_StaysAboveFloor(t *testing.T) {
	l := newTestLedger(t, DefaultPolicy())
	ctx := context.Background()
	admin := addMember(t, l, "alex", domain.RankAdmin)
	require.Equal(t, int64(500), admin.Points)

	got, err := l.ApplyDeduction(ctx, admin.ID, "spam", "", "")
	require.NoError(t, err)
	assert.Equal(t, int64(450), got.Points)
	assert.Equal(t, domain.RankAdmin, got.Rank)

	require.Len(t, got.History, 1)
	e := got.History[0]
	assert.Equal(t, int64(-50), e.Amount)
	assert.Equal(t, "spam", e.ViolationID)
	assert.Equal(t, "Spam", e.Reason, "reason defaults to the violation name")
	assert.Equal(t, domain.SystemActor, e.AwardedBy)
	assert.Equal(t, testNow, e.Timestamp)
}

func TestApplyDeduction_Demotes(t *testing.T) {
	l := newTestLedger(t, DefaultPolicy())
	ctx := context.Background()
	mod := addMember(t, l, "steve", domain.RankModerator)

	got, err := l.ApplyDeduction(ctx, mod.ID, "disrespect", "rude in chat", "")
	require.NoError(t, err)
	require.Equal(t, int64(260), got.Points)
	require.Equal(t, domain.RankModerator, got.Rank)

	got, err = l.ApplyDeduction(ctx, mod.ID, "abuse", "", "")
	require.NoError(t, err)
	assert.Equal(t, int64(240), got.Points)
	assert.Equal(t, domain.RankJrModerator, got.Rank)
	requireBalanced(t, got, 275)

	activity, err := l.Activity(ctx, 2)
	require.NoError(t, err)
	require.Len(t, activity, 2)
	assert.Equal(t, domain.ActivityDemotion, activity[0].Kind)
	assert.Equal(t, domain.RankModerator, activity[0].FromRank)
	assert.Equal(t, domain.RankJrModerator, activity[0].ToRank)
	assert.Equal(t, domain.ActivityDeduction, activity[1].Kind)
}

func TestApplyDeduction_RemovesAtZero(t *testing.T) {
	l := newTestLedger(t, DefaultPolicy())
	ctx := context.Background()
	m := addMember(t, l, "jr", domain.RankJrSupporter)

	for _, v := range []string{"abuse", "abuse"} {
		_, err := l.ApplyDeduction(ctx, m.ID, v, "", "")
		require.NoError(t, err)
	}
	got, err := l.GetMember(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, int64(10), got.Points)

	got, err = l.ApplyDeduction(ctx, m.ID, "inactivity", "", "")
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Points)
	assert.Equal(t, domain.RankRemoved, got.Rank)
	require.NotNil(t, got.RemovedAt)
	assert.Equal(t, testNow, *got.RemovedAt)

	_, err = l.ApplyDeduction(ctx, m.ID, "spam", "", "")
	assert.ErrorIs(t, err, domain.ErrMemberAlreadyRemoved)

	after, err := l.GetMember(ctx, m.ID)
	require.NoError(t, err)
	assert.Len(t, after.History, 3, "a rejected deduction must not append history")

	roster, err := l.ListMembers(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, roster)
}

func TestApplyDeduction_Overdraw(t *testing.T) {
	l := newTestLedger(t, DefaultPolicy())
	m := addMember(t, l, "jr", domain.RankJrSupporter)

	got, err := l.ApplyDeduction(context.Background(), m.ID, "ban_evasion_assist", "", "")
	require.NoError(t, err)
	assert.Equal(t, int64(-200), got.Points)
	assert.Equal(t, domain.RankRemoved, got.Rank)
}

func TestApplyDeduction_Errors(t *testing.T) {
	l := newTestLedger(t, DefaultPolicy())
	ctx := context.Background()
	m := addMember(t, l, "alex", domain.RankAdmin)

	_, err := l.ApplyDeduction(ctx, "nobody", "spam", "", "")
	assert.ErrorIs(t, err, domain.ErrMemberNotFound)

	_, err = l.ApplyDeduction(ctx, m.ID, "jaywalking", "", "")
	assert.ErrorIs(t, err, domain.ErrViolationNotFound)

	var le *domain.LedgerError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, OpApplyDeduction, le.Op)
	assert.Equal(t, m.ID, le.MemberID)

	got, err := l.GetMember(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(500), got.Points)
	assert.Empty(t, got.History)
}

func TestApplyDeduction_ExemptRanks(t *testing.T) {
	l := newTestLedger(t, DefaultPolicy())
	ctx := context.Background()
	co := addMember(t, l, "coowner", domain.RankCoOwner)
	owner := addMember(t, l, "owner", domain.RankOwner)
	assert.True(t, owner.Unbounded)

	for i := 0; i < 5; i++ {
		_, err := l.ApplyDeduction(ctx, co.ID, "ban_evasion_assist", "", "")
		require.NoError(t, err)
		_, err = l.ApplyDeduction(ctx, owner.ID, "leaking", "", "")
		require.NoError(t, err)
	}

	got, err := l.GetMember(ctx, co.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(-250), got.Points)
	assert.Equal(t, domain.RankCoOwner, got.Rank)

	got, err = l.GetMember(ctx, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RankOwner, got.Rank)
}

func TestApplyDeduction_Concurrent(t *testing.T) {
	l := newTestLedger(t, DefaultPolicy())
	ctx := context.Background()
	co := addMember(t, l, "coowner", domain.RankCoOwner)

	const n = 40
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.ApplyDeduction(ctx, co.ID, "inactivity", "", "")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := l.GetMember(ctx, co.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000-n*10), got.Points)
	assert.Len(t, got.History, n)
	requireBalanced(t, got, 1000)
}

// ─── Credits ────────────────────────────────────────────────────────────────

func TestApplyCredit(t *testing.T) {
	l := newTestLedger(t, DefaultPolicy())
	ctx := context.Background()
	m := addMember(t, l, "sup", domain.RankSupporter)

	got, err := l.ApplyCredit(ctx, m.ID, 400, "event host", "")
	require.NoError(t, err)
	assert.Equal(t, int64(500), got.Points)
	assert.Equal(t, domain.RankSupporter, got.Rank, "credits do not promote by default")
	require.Len(t, got.History, 1)
	assert.Equal(t, int64(400), got.History[0].Amount)
	assert.Equal(t, "event host", got.History[0].Reason)
}

func TestApplyCredit_AutoPromote(t *testing.T) {
	p := DefaultPolicy()
	p.AutoPromote = true
	l := newTestLedger(t, p)
	m := addMember(t, l, "sup", domain.RankSupporter)

	got, err := l.ApplyCredit(context.Background(), m.ID, 200, "", "")
	require.NoError(t, err)
	assert.Equal(t, int64(300), got.Points)
	assert.Equal(t, domain.RankJrAdmin, got.Rank)
}

func TestApplyCredit_NeverDemotes(t *testing.T) {
	store := memstore.New(domain.DefaultThresholdTable(), domain.DefaultViolations())
	l := New(store, DefaultPolicy(), WithClock(func() time.Time { return testNow }))
	ctx := context.Background()

	// An admin left below their floor, e.g. by an older threshold table.
	m := &domain.Member{ID: "m-1", Username: "legacy", Rank: domain.RankAdmin, Points: 100}
	require.NoError(t, store.Update(ctx, func(tx domain.StoreTx) error {
		return tx.SaveMember(ctx, m)
	}))

	got, err := l.ApplyCredit(ctx, m.ID, 1, "", "")
	require.NoError(t, err)
	assert.Equal(t, int64(101), got.Points)
	assert.Equal(t, domain.RankAdmin, got.Rank)
}

func TestApplyCredit_Errors(t *testing.T) {
	l := newTestLedger(t, DefaultPolicy())
	ctx := context.Background()
	m := addMember(t, l, "jr", domain.RankJrSupporter)

	for _, amount := range []int64{0, -5} {
		_, err := l.ApplyCredit(ctx, m.ID, amount, "", "")
		assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	}
	_, err := l.ApplyCredit(ctx, "nobody", 5, "", "")
	assert.ErrorIs(t, err, domain.ErrMemberNotFound)

	_, err = l.ApplyDeduction(ctx, m.ID, "griefing", "", "")
	require.NoError(t, err)
	_, err = l.ApplyCredit(ctx, m.ID, 500, "", "")
	assert.ErrorIs(t, err, domain.ErrMemberAlreadyRemoved)
}

func TestApplyCredit_RejectsOverflow(t *testing.T) {
	l := newTestLedger(t, DefaultPolicy())
	ctx := context.Background()
	m := addMember(t, l, "sup", domain.RankSupporter)

	_, err := l.ApplyCredit(ctx, m.ID, math.MaxInt64, "", "")
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	got, err := l.GetMember(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.Points, "a rejected credit leaves the balance alone")
	assert.Empty(t, got.History)

	got, err = l.ApplyDeduction(ctx, m.ID, "inactivity", "", "")
	require.NoError(t, err)
	assert.Equal(t, int64(90), got.Points)
	assert.Equal(t, domain.RankSupporter, got.Rank)

	got, err = l.ApplyCredit(ctx, m.ID, math.MaxInt64-90, "", "")
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), got.Points)
	requireBalanced(t, got, 100)
}

func TestApplyDeduction_RejectsUnderflow(t *testing.T) {
	store := memstore.New(domain.DefaultThresholdTable(), domain.DefaultViolations())
	l := New(store, DefaultPolicy(), WithClock(func() time.Time { return testNow }))
	ctx := context.Background()

	// Exempt ranks may sit below zero, but not past what int64 can hold.
	m := &domain.Member{ID: "m-1", Username: "co", Rank: domain.RankCoOwner, Points: math.MinInt64 + 10}
	require.NoError(t, store.Update(ctx, func(tx domain.StoreTx) error {
		return tx.SaveMember(ctx, m)
	}))

	_, err := l.ApplyDeduction(ctx, m.ID, "spam", "", "")
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	got, err := l.GetMember(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MinInt64+10), got.Points)
	assert.Empty(t, got.History)
}

// ─── Roster ─────────────────────────────────────────────────────────────────

func TestAddMember(t *testing.T) {
	l := newTestLedger(t, DefaultPolicy())
	ctx := context.Background()
	m := addMember(t, l, "Notch", domain.RankAdmin)
	assert.NotEmpty(t, m.ID)
	assert.Equal(t, testNow, m.CreatedAt)

	_, err := l.AddMember(ctx, "notch", domain.RankSupporter, "")
	assert.ErrorIs(t, err, domain.ErrUsernameTaken)
	_, err = l.AddMember(ctx, "", domain.RankSupporter, "")
	assert.ErrorIs(t, err, domain.ErrInvalidUsername)
	_, err = l.AddMember(ctx, "ghost", domain.RankRemoved, "")
	assert.ErrorIs(t, err, domain.ErrInvalidRank)

	byName, err := l.GetMemberByUsername(ctx, "NOTCH")
	require.NoError(t, err)
	assert.Equal(t, m.ID, byName.ID)

	activity, err := l.Activity(ctx, 0)
	require.NoError(t, err)
	require.Len(t, activity, 1)
	assert.Equal(t, domain.ActivityMemberAdded, activity[0].Kind)
}

func TestGetHistory_Snapshot(t *testing.T) {
	l := newTestLedger(t, DefaultPolicy())
	ctx := context.Background()
	m := addMember(t, l, "alex", domain.RankAdmin)
	_, err := l.ApplyDeduction(ctx, m.ID, "spam", "", "")
	require.NoError(t, err)

	h, err := l.GetHistory(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, h, 1)
	h[0].Amount = 1_000_000

	again, err := l.GetHistory(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(-50), again[0].Amount)

	_, err = l.GetHistory(ctx, "nobody")
	assert.ErrorIs(t, err, domain.ErrMemberNotFound)
}

func TestLedger_EvaluateRankIsReadOnly(t *testing.T) {
	l := newTestLedger(t, DefaultPolicy())
	ctx := context.Background()
	m := addMember(t, l, "alex", domain.RankAdmin)

	m.Points = 10
	got, err := l.EvaluateRank(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, domain.RankJrSupporter, got)
	assert.Equal(t, domain.RankAdmin, m.Rank)

	stored, err := l.GetMember(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(500), stored.Points)
}

// ─── Promotion and Reinstatement ────────────────────────────────────────────

func TestPromote(t *testing.T) {
	l := newTestLedger(t, DefaultPolicy())
	ctx := context.Background()
	owner := addMember(t, l, "owner", domain.RankOwner)
	mod := addMember(t, l, "mod", domain.RankModerator)

	got, err := l.Promote(ctx, mod.ID, domain.RankAdmin, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RankAdmin, got.Rank)
	assert.Equal(t, int64(500), got.Points)
	require.Len(t, got.History, 1)
	assert.Equal(t, int64(225), got.History[0].Amount)
	assert.Equal(t, owner.ID, got.History[0].AwardedBy)

	activity, err := l.Activity(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.ActivityPromotion, activity[0].Kind)
}

func TestPromote_Rejects(t *testing.T) {
	l := newTestLedger(t, DefaultPolicy())
	ctx := context.Background()
	owner := addMember(t, l, "owner", domain.RankOwner)
	co := addMember(t, l, "co", domain.RankCoOwner)
	admin := addMember(t, l, "admin", domain.RankAdmin)
	mod := addMember(t, l, "mod", domain.RankModerator)

	tests := []struct {
		name      string
		member    string
		to        domain.Rank
		performer string
		want      error
	}{
		{"admin cannot promote", mod.ID, domain.RankJrAdmin, admin.ID, domain.ErrNotAuthorized},
		{"no self promotion", co.ID, domain.RankOwner, co.ID, domain.ErrNotAuthorized},
		{"co-owner cannot grant co-owner", admin.ID, domain.RankCoOwner, co.ID, domain.ErrNotAuthorized},
		{"system cannot promote", mod.ID, domain.RankAdmin, "", domain.ErrNotAuthorized},
		{"unknown performer", mod.ID, domain.RankAdmin, "ghost", domain.ErrNotAuthorized},
		{"not upward", admin.ID, domain.RankModerator, owner.ID, domain.ErrInvalidRank},
		{"same rank", admin.ID, domain.RankAdmin, owner.ID, domain.ErrInvalidRank},
		{"unknown member", "nobody", domain.RankAdmin, owner.ID, domain.ErrMemberNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Promote(ctx, tt.member, tt.to, tt.performer)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestReinstate(t *testing.T) {
	l := newTestLedger(t, DefaultPolicy())
	ctx := context.Background()
	owner := addMember(t, l, "owner", domain.RankOwner)
	co := addMember(t, l, "co", domain.RankCoOwner)
	m := addMember(t, l, "jr", domain.RankJrSupporter)

	_, err := l.Reinstate(ctx, m.ID, owner.ID)
	assert.ErrorIs(t, err, domain.ErrMemberNotRemoved)

	_, err = l.ApplyDeduction(ctx, m.ID, "griefing", "", "")
	require.NoError(t, err)

	_, err = l.Reinstate(ctx, m.ID, co.ID)
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)

	got, err := l.Reinstate(ctx, m.ID, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RankJrSupporter, got.Rank)
	assert.Equal(t, int64(50), got.Points)
	assert.Nil(t, got.RemovedAt)
	requireBalanced(t, got, 50)

	_, err = l.ApplyCredit(ctx, m.ID, 10, "", "")
	assert.NoError(t, err, "reinstated members accept credits again")
}
