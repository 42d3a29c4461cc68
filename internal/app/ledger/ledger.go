// Package ledger owns staff point balances and enforces the rank state machine.
//
// Every mutation follows the same lifecycle inside one store transaction:
//  1. Load the member (and, where needed, the performer)
//  2. Change the balance and append a points history entry
//  3. Re-evaluate the rank against the threshold table
//  4. Save the member and append activity records
//
// Either all of it is persisted or none of it is.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mcstaff/staffledger/internal/domain"
	"github.com/mcstaff/staffledger/internal/infra/observability"
)

// Operation names, used for spans, metrics and errors.
const (
	OpAddMember      = "add_member"
	OpApplyDeduction = "apply_deduction"
	OpApplyCredit    = "apply_credit"
	OpPromote        = "promote"
	OpReinstate      = "reinstate"
	OpGetHistory     = "get_history"
)

// Ledger is the single writer of member balances and ranks.
type Ledger struct {
	mu     sync.Mutex // serialises mutations within the process
	store  domain.Store
	policy Policy
	log    *zap.Logger
	tracer *observability.Tracer

	// Injectable for testing.
	now   func() time.Time
	newID func() string
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(lg *Ledger) {
		if l != nil {
			lg.log = l
		}
	}
}

// WithTracer records a span per operation.
func WithTracer(t *observability.Tracer) Option {
	return func(lg *Ledger) { lg.tracer = t }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(lg *Ledger) { lg.now = now }
}

// New creates a ledger over store.
func New(store domain.Store, policy Policy, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		policy: policy,
		log:    zap.NewNop(),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Policy returns the ledger's policy.
func (l *Ledger) Policy() Policy { return l.policy }

// ─── Reads ──────────────────────────────────────────────────────────────────

// GetMember returns a member with history.
func (l *Ledger) GetMember(ctx context.Context, id string) (*domain.Member, error) {
	m, err := l.store.LoadMember(ctx, id)
	if err != nil {
		return nil, &domain.LedgerError{Op: "get_member", MemberID: id, Err: err}
	}
	return m, nil
}

// GetMemberByUsername returns a member by username.
func (l *Ledger) GetMemberByUsername(ctx context.Context, username string) (*domain.Member, error) {
	m, err := l.store.FindMemberByUsername(ctx, username)
	if err != nil {
		return nil, &domain.LedgerError{Op: "get_member", MemberID: username, Err: err}
	}
	return m, nil
}

// ListMembers returns the roster, most senior first.
func (l *Ledger) ListMembers(ctx context.Context, includeRemoved bool) ([]domain.Member, error) {
	return l.store.ListMembers(ctx, includeRemoved)
}

// GetHistory returns a member's points history, oldest first. The slice is a
// snapshot owned by the caller.
func (l *Ledger) GetHistory(ctx context.Context, memberID string) (history []domain.PointsEntry, err error) {
	span := l.startSpan(ctx, OpGetHistory, memberID)
	defer func() { l.endSpan(span, err) }()

	m, err := l.store.LoadMember(ctx, memberID)
	if err != nil {
		return nil, &domain.LedgerError{Op: OpGetHistory, MemberID: memberID, Err: err}
	}
	history = make([]domain.PointsEntry, len(m.History))
	copy(history, m.History)
	return history, nil
}

// Violations returns the violation table.
func (l *Ledger) Violations(ctx context.Context) (map[string]domain.Violation, error) {
	return l.store.LoadViolationTable(ctx)
}

// Thresholds returns the rank threshold table.
func (l *Ledger) Thresholds(ctx context.Context) (domain.ThresholdTable, error) {
	return l.store.LoadRankThresholds(ctx)
}

// Activity returns the most recent activity records, newest first.
func (l *Ledger) Activity(ctx context.Context, limit int) ([]domain.ActivityRecord, error) {
	return l.store.ListActivity(ctx, limit)
}

// EvaluateRank returns the rank m should hold under the stored thresholds
// and the ledger's policy. It does not modify m.
func (l *Ledger) EvaluateRank(ctx context.Context, m *domain.Member) (domain.Rank, error) {
	table, err := l.store.LoadRankThresholds(ctx)
	if err != nil {
		return m.Rank, err
	}
	return EvaluateRank(m, table, l.policy), nil
}

// ─── Mutations ──────────────────────────────────────────────────────────────

// AddMember puts a new member on the roster with their rank's starting points.
func (l *Ledger) AddMember(ctx context.Context, username string, rank domain.Rank, performedBy string) (result *domain.Member, err error) {
	span := l.startSpan(ctx, OpAddMember, username)
	defer func() { l.endSpan(span, err) }()

	table, err := l.store.LoadRankThresholds(ctx)
	if err != nil {
		return nil, &domain.LedgerError{Op: OpAddMember, Err: err}
	}
	performedBy = actor(performedBy)

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	m, err := domain.NewMember(l.newID(), username, rank, table, now)
	if err != nil {
		return nil, &domain.LedgerError{Op: OpAddMember, Err: err}
	}

	err = l.store.Update(ctx, func(tx domain.StoreTx) error {
		if _, err := tx.FindMemberByUsername(ctx, m.Username); err == nil {
			return domain.ErrUsernameTaken
		} else if !errors.Is(err, domain.ErrMemberNotFound) {
			return err
		}
		if err := tx.SaveMember(ctx, m); err != nil {
			return err
		}
		return tx.AppendActivity(ctx, domain.ActivityRecord{
			Timestamp:   now,
			Kind:        domain.ActivityMemberAdded,
			MemberID:    m.ID,
			PerformedBy: performedBy,
			Amount:      m.Points,
			FromRank:    domain.RankRemoved,
			ToRank:      m.Rank,
			Balance:     m.Points,
			Description: fmt.Sprintf("%s joined as %s", m.Username, m.Rank),
		})
	})
	if err != nil {
		return nil, &domain.LedgerError{Op: OpAddMember, MemberID: m.Username, Err: err}
	}

	observability.MembersAdded.WithLabelValues(m.Rank.String()).Inc()
	l.log.Info("member added",
		zap.String("member_id", m.ID),
		zap.String("username", m.Username),
		zap.Stringer("rank", m.Rank),
		zap.Int64("points", m.Points),
		zap.String("performed_by", performedBy))
	return m, nil
}

// ApplyDeduction charges a violation against a member and re-evaluates their
// rank. Removed members cannot be charged.
func (l *Ledger) ApplyDeduction(ctx context.Context, memberID, violationID, reason, performedBy string) (result *domain.Member, err error) {
	span := l.startSpan(ctx, OpApplyDeduction, memberID)
	defer func() { l.endSpan(span, err) }()

	violations, err := l.store.LoadViolationTable(ctx)
	if err != nil {
		return nil, &domain.LedgerError{Op: OpApplyDeduction, MemberID: memberID, Err: err}
	}
	table, err := l.store.LoadRankThresholds(ctx)
	if err != nil {
		return nil, &domain.LedgerError{Op: OpApplyDeduction, MemberID: memberID, Err: err}
	}
	performedBy = actor(performedBy)

	l.mu.Lock()
	defer l.mu.Unlock()

	var (
		from      domain.Rank
		violation domain.Violation
	)
	err = l.store.Update(ctx, func(tx domain.StoreTx) error {
		m, err := tx.LoadMember(ctx, memberID)
		if err != nil {
			return err
		}
		v, ok := violations[violationID]
		if !ok {
			return fmt.Errorf("%w: %q", domain.ErrViolationNotFound, violationID)
		}
		if m.Removed() {
			return domain.ErrMemberAlreadyRemoved
		}
		violation = v
		from = m.Rank

		if strings.TrimSpace(reason) == "" {
			reason = v.DisplayName
		}
		now := l.now()
		entry := domain.PointsEntry{
			Seq:         m.NextSeq(),
			Amount:      -v.PointsDeduction,
			Reason:      reason,
			ViolationID: v.ID,
			Timestamp:   now,
			AwardedBy:   performedBy,
		}
		if m.Points, err = domain.SubPoints(m.Points, v.PointsDeduction); err != nil {
			return err
		}
		m.UpdatedAt = now
		m.Rank = EvaluateRank(m, table, l.policy)
		if m.Removed() {
			m.RemovedAt = &now
		}

		if err := l.persist(ctx, tx, m, entry, table); err != nil {
			return err
		}
		if err := tx.AppendActivity(ctx, domain.ActivityRecord{
			Timestamp:   now,
			Kind:        domain.ActivityDeduction,
			MemberID:    m.ID,
			PerformedBy: performedBy,
			Amount:      entry.Amount,
			FromRank:    from,
			ToRank:      m.Rank,
			Balance:     m.Points,
			Description: fmt.Sprintf("%s: %s", v.ID, reason),
		}); err != nil {
			return err
		}
		if err := l.recordTransition(ctx, tx, m, from, performedBy, now); err != nil {
			return err
		}
		result = m
		return nil
	})
	if err != nil {
		return nil, &domain.LedgerError{Op: OpApplyDeduction, MemberID: memberID, Err: err}
	}

	observability.DeductionsTotal.WithLabelValues(violation.ID).Inc()
	observability.PointsDeducted.Add(float64(violation.PointsDeduction))
	l.observeTransition(from, result.Rank)
	l.log.Info("deduction applied",
		zap.String("member_id", result.ID),
		zap.String("violation", violation.ID),
		zap.Int64("amount", -violation.PointsDeduction),
		zap.Int64("points", result.Points),
		zap.Stringer("from_rank", from),
		zap.Stringer("to_rank", result.Rank),
		zap.String("performed_by", performedBy))
	return result, nil
}

// ApplyCredit adds points to a member. It never demotes; it promotes only
// when the policy enables AutoPromote.
func (l *Ledger) ApplyCredit(ctx context.Context, memberID string, amount int64, reason, awardedBy string) (result *domain.Member, err error) {
	span := l.startSpan(ctx, OpApplyCredit, memberID)
	defer func() { l.endSpan(span, err) }()

	if amount <= 0 {
		return nil, &domain.LedgerError{Op: OpApplyCredit, MemberID: memberID,
			Err: fmt.Errorf("%w: got %d", domain.ErrInvalidAmount, amount)}
	}
	table, err := l.store.LoadRankThresholds(ctx)
	if err != nil {
		return nil, &domain.LedgerError{Op: OpApplyCredit, MemberID: memberID, Err: err}
	}
	awardedBy = actor(awardedBy)

	l.mu.Lock()
	defer l.mu.Unlock()

	var from domain.Rank
	err = l.store.Update(ctx, func(tx domain.StoreTx) error {
		m, err := tx.LoadMember(ctx, memberID)
		if err != nil {
			return err
		}
		if m.Removed() {
			return domain.ErrMemberAlreadyRemoved
		}
		from = m.Rank

		now := l.now()
		entry := domain.PointsEntry{
			Seq:       m.NextSeq(),
			Amount:    amount,
			Reason:    reason,
			Timestamp: now,
			AwardedBy: awardedBy,
		}
		if m.Points, err = domain.AddPoints(m.Points, amount); err != nil {
			return err
		}
		m.UpdatedAt = now
		if next := EvaluateRank(m, table, l.policy); next.Above(m.Rank) {
			m.Rank = next
		}

		if err := l.persist(ctx, tx, m, entry, table); err != nil {
			return err
		}
		if err := tx.AppendActivity(ctx, domain.ActivityRecord{
			Timestamp:   now,
			Kind:        domain.ActivityCredit,
			MemberID:    m.ID,
			PerformedBy: awardedBy,
			Amount:      amount,
			FromRank:    from,
			ToRank:      m.Rank,
			Balance:     m.Points,
			Description: reason,
		}); err != nil {
			return err
		}
		if err := l.recordTransition(ctx, tx, m, from, awardedBy, now); err != nil {
			return err
		}
		result = m
		return nil
	})
	if err != nil {
		return nil, &domain.LedgerError{Op: OpApplyCredit, MemberID: memberID, Err: err}
	}

	observability.CreditsTotal.Inc()
	observability.PointsCredited.Add(float64(amount))
	l.observeTransition(from, result.Rank)
	l.log.Info("credit applied",
		zap.String("member_id", result.ID),
		zap.Int64("amount", amount),
		zap.Int64("points", result.Points),
		zap.Stringer("rank", result.Rank),
		zap.String("awarded_by", awardedBy))
	return result, nil
}

// Promote moves a member up to toRank. The performer must hold a promoter
// rank, must outrank toRank, and cannot promote themselves. A balance below
// the new rank's starting points is topped up and recorded in history.
func (l *Ledger) Promote(ctx context.Context, memberID string, toRank domain.Rank, performedBy string) (result *domain.Member, err error) {
	span := l.startSpan(ctx, OpPromote, memberID)
	defer func() { l.endSpan(span, err) }()

	table, err := l.store.LoadRankThresholds(ctx)
	if err != nil {
		return nil, &domain.LedgerError{Op: OpPromote, MemberID: memberID, Err: err}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var (
		from  domain.Rank
		topUp int64
	)
	err = l.store.Update(ctx, func(tx domain.StoreTx) error {
		m, err := tx.LoadMember(ctx, memberID)
		if err != nil {
			return err
		}
		if m.Removed() {
			return domain.ErrMemberAlreadyRemoved
		}
		performer, err := l.loadPerformer(ctx, tx, performedBy)
		if err != nil {
			return err
		}
		if performer.ID == m.ID {
			return fmt.Errorf("%w: members cannot promote themselves", domain.ErrNotAuthorized)
		}
		if !l.policy.CanPromote(performer.Rank) {
			return fmt.Errorf("%w: %s cannot promote", domain.ErrNotAuthorized, performer.Rank)
		}
		if !performer.Rank.Above(toRank) {
			return fmt.Errorf("%w: %s cannot grant %s", domain.ErrNotAuthorized, performer.Rank, toRank)
		}
		if !toRank.Active() || !toRank.Above(m.Rank) {
			return fmt.Errorf("%w: cannot promote %s to %s", domain.ErrInvalidRank, m.Rank, toRank)
		}
		row, ok := table.Lookup(toRank)
		if !ok {
			return fmt.Errorf("%w: %s is not in the threshold table", domain.ErrInvalidRank, toRank)
		}
		from = m.Rank

		now := l.now()
		m.Rank = toRank
		m.UpdatedAt = now
		var entry *domain.PointsEntry
		if m.Points < row.StartingPoints {
			amount, err := domain.SubPoints(row.StartingPoints, m.Points)
			if err != nil {
				return err
			}
			entry = &domain.PointsEntry{
				Seq:       m.NextSeq(),
				Amount:    amount,
				Reason:    fmt.Sprintf("promoted to %s", toRank),
				Timestamp: now,
				AwardedBy: performer.ID,
			}
			m.Points = row.StartingPoints
		}

		if err := l.save(ctx, tx, m, table); err != nil {
			return err
		}
		if entry != nil {
			topUp = entry.Amount
			if err := tx.AppendHistory(ctx, m.ID, *entry); err != nil {
				return err
			}
			m.History = append(m.History, *entry)
		}
		if err := tx.AppendActivity(ctx, domain.ActivityRecord{
			Timestamp:   now,
			Kind:        domain.ActivityPromotion,
			MemberID:    m.ID,
			PerformedBy: performer.ID,
			Amount:      topUp,
			FromRank:    from,
			ToRank:      toRank,
			Balance:     m.Points,
			Description: fmt.Sprintf("%s promoted %s to %s", performer.Username, m.Username, toRank),
		}); err != nil {
			return err
		}
		result = m
		return nil
	})
	if err != nil {
		return nil, &domain.LedgerError{Op: OpPromote, MemberID: memberID, Err: err}
	}

	if topUp > 0 {
		observability.PointsCredited.Add(float64(topUp))
	}
	l.observeTransition(from, result.Rank)
	l.log.Info("member promoted",
		zap.String("member_id", result.ID),
		zap.Stringer("from_rank", from),
		zap.Stringer("to_rank", result.Rank),
		zap.Int64("points", result.Points),
		zap.String("performed_by", performedBy))
	return result, nil
}

// Reinstate brings a removed member back at the lowest rank with that rank's
// starting points. Only reinstater ranks may do this.
func (l *Ledger) Reinstate(ctx context.Context, memberID, performedBy string) (result *domain.Member, err error) {
	span := l.startSpan(ctx, OpReinstate, memberID)
	defer func() { l.endSpan(span, err) }()

	table, err := l.store.LoadRankThresholds(ctx)
	if err != nil {
		return nil, &domain.LedgerError{Op: OpReinstate, MemberID: memberID, Err: err}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	err = l.store.Update(ctx, func(tx domain.StoreTx) error {
		m, err := tx.LoadMember(ctx, memberID)
		if err != nil {
			return err
		}
		if !m.Removed() {
			return domain.ErrMemberNotRemoved
		}
		performer, err := l.loadPerformer(ctx, tx, performedBy)
		if err != nil {
			return err
		}
		if !l.policy.CanReinstate(performer.Rank) {
			return fmt.Errorf("%w: %s cannot reinstate", domain.ErrNotAuthorized, performer.Rank)
		}

		lowest := table.Lowest()
		amount, err := domain.SubPoints(lowest.StartingPoints, m.Points)
		if err != nil {
			return err
		}
		now := l.now()
		entry := domain.PointsEntry{
			Seq:       m.NextSeq(),
			Amount:    amount,
			Reason:    "reinstated",
			Timestamp: now,
			AwardedBy: performer.ID,
		}
		m.Points = lowest.StartingPoints
		m.Rank = lowest.Rank
		m.RemovedAt = nil
		m.UpdatedAt = now

		if err := l.persist(ctx, tx, m, entry, table); err != nil {
			return err
		}
		if err := tx.AppendActivity(ctx, domain.ActivityRecord{
			Timestamp:   now,
			Kind:        domain.ActivityReinstatement,
			MemberID:    m.ID,
			PerformedBy: performer.ID,
			Amount:      entry.Amount,
			FromRank:    domain.RankRemoved,
			ToRank:      m.Rank,
			Balance:     m.Points,
			Description: fmt.Sprintf("%s reinstated %s", performer.Username, m.Username),
		}); err != nil {
			return err
		}
		result = m
		return nil
	})
	if err != nil {
		return nil, &domain.LedgerError{Op: OpReinstate, MemberID: memberID, Err: err}
	}

	l.observeTransition(domain.RankRemoved, result.Rank)
	l.log.Info("member reinstated",
		zap.String("member_id", result.ID),
		zap.Stringer("rank", result.Rank),
		zap.String("performed_by", performedBy))
	return result, nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// persist saves the member row and appends entry to its history, keeping the
// in-memory copy in step with what was written.
func (l *Ledger) persist(ctx context.Context, tx domain.StoreTx, m *domain.Member, entry domain.PointsEntry, table domain.ThresholdTable) error {
	if err := l.save(ctx, tx, m, table); err != nil {
		return err
	}
	if err := tx.AppendHistory(ctx, m.ID, entry); err != nil {
		return err
	}
	m.History = append(m.History, entry)
	return nil
}

// save writes the member row once its balance is valid for its rank.
func (l *Ledger) save(ctx context.Context, tx domain.StoreTx, m *domain.Member, table domain.ThresholdTable) error {
	if err := m.ValidateBalance(l.policy.Exempt(m.Rank, table)); err != nil {
		return err
	}
	return tx.SaveMember(ctx, m)
}

// recordTransition appends a DEMOTION, PROMOTION or REMOVAL activity record
// when an automatic re-evaluation changed the rank.
func (l *Ledger) recordTransition(ctx context.Context, tx domain.StoreTx, m *domain.Member, from domain.Rank, by string, now time.Time) error {
	if m.Rank == from {
		return nil
	}
	kind := transitionKind(from, m.Rank)
	return tx.AppendActivity(ctx, domain.ActivityRecord{
		Timestamp:   now,
		Kind:        kind,
		MemberID:    m.ID,
		PerformedBy: domain.SystemActor,
		FromRank:    from,
		ToRank:      m.Rank,
		Balance:     m.Points,
		Description: fmt.Sprintf("%s: %s -> %s (triggered by %s)", m.Username, from, m.Rank, by),
	})
}

func (l *Ledger) observeTransition(from, to domain.Rank) {
	if from == to {
		return
	}
	kind := strings.ToLower(string(transitionKind(from, to)))
	observability.RankTransitions.WithLabelValues(kind, from.String(), to.String()).Inc()
	if to == domain.RankRemoved {
		l.log.Warn("member removed from roster", zap.Stringer("from_rank", from))
	}
}

func transitionKind(from, to domain.Rank) domain.ActivityKind {
	switch {
	case to == domain.RankRemoved:
		return domain.ActivityRemoval
	case from == domain.RankRemoved:
		return domain.ActivityReinstatement
	case to.Above(from):
		return domain.ActivityPromotion
	default:
		return domain.ActivityDemotion
	}
}

// loadPerformer resolves the acting member. Unknown or removed performers
// are not authorised to do anything.
func (l *Ledger) loadPerformer(ctx context.Context, tx domain.StoreTx, id string) (*domain.Member, error) {
	if id == "" || id == domain.SystemActor {
		return nil, fmt.Errorf("%w: an acting member is required", domain.ErrNotAuthorized)
	}
	p, err := tx.LoadMember(ctx, id)
	if errors.Is(err, domain.ErrMemberNotFound) {
		return nil, fmt.Errorf("%w: unknown performer %q", domain.ErrNotAuthorized, id)
	}
	if err != nil {
		return nil, err
	}
	if p.Removed() {
		return nil, fmt.Errorf("%w: performer %s is removed", domain.ErrNotAuthorized, p.Username)
	}
	return p, nil
}

func actor(id string) string {
	if strings.TrimSpace(id) == "" {
		return domain.SystemActor
	}
	return id
}

func (l *Ledger) startSpan(ctx context.Context, op, memberID string) *observability.Span {
	return l.tracer.StartSpan(ctx, op, map[string]string{"member": memberID})
}

func (l *Ledger) endSpan(span *observability.Span, err error) {
	l.tracer.EndSpan(span, err, domain.Kind(err))
	if err != nil {
		l.log.Debug("ledger operation failed",
			zap.String("operation", span.Operation),
			zap.String("kind", domain.Kind(err)),
			zap.Error(err))
	}
}
