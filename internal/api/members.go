package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mcstaff/staffledger/internal/domain"
)

// ─── Ledger API ─────────────────────────────────────────────────────────────
// REST endpoints for the staff dashboard.
//
// GET  /api/ranks                           rank threshold table
// GET  /api/violations                      violation table
// GET  /api/activity?limit=N                newest activity first
// GET  /api/members?include_removed=1       roster
// POST /api/members                         add a member
// GET  /api/members/{id}                    member with history
// GET  /api/members/{id}/history            points history
// POST /api/members/{id}/deductions         apply a violation
// POST /api/members/{id}/credits            award points
// POST /api/members/{id}/promotion          manual promotion
// POST /api/members/{id}/reinstatement      bring back a removed member

const defaultActivityLimit = 50

type addMemberRequest struct {
	Username    string `json:"username"`
	Rank        string `json:"rank"`
	PerformedBy string `json:"performed_by"`
}

type deductionRequest struct {
	ViolationID string `json:"violation_id"`
	Reason      string `json:"reason"`
	PerformedBy string `json:"performed_by"`
}

type creditRequest struct {
	Amount    int64  `json:"amount"`
	Reason    string `json:"reason"`
	AwardedBy string `json:"awarded_by"`
}

type promotionRequest struct {
	Rank        string `json:"rank"`
	PerformedBy string `json:"performed_by"`
}

type reinstatementRequest struct {
	PerformedBy string `json:"performed_by"`
}

// decode reads a JSON body into v, writing a 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error(), "bad_request")
		return false
	}
	return true
}

// handleRanks returns the threshold table, most senior first.
// GET /api/ranks
func (s *Server) handleRanks(w http.ResponseWriter, r *http.Request) {
	table, err := s.ledger.Thresholds(r.Context())
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ranks": table.Rows(),
	})
}

// handleViolations returns the violation table.
// GET /api/violations
func (s *Server) handleViolations(w http.ResponseWriter, r *http.Request) {
	violations, err := s.ledger.Violations(r.Context())
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"violations": violations,
	})
}

// handleActivity returns the latest activity records.
// GET /api/activity?limit=N
func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	limit := defaultActivityLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", "bad_request")
			return
		}
		limit = n
	}
	records, err := s.ledger.Activity(r.Context(), limit)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	if records == nil {
		records = []domain.ActivityRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"activity": records,
		"count":    len(records),
	})
}

// handleTraces returns recent ledger operation spans.
// GET /api/traces?limit=N
func (s *Server) handleTraces(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"spans": s.tracer.Spans(limit),
	})
}

// handleListMembers returns the roster.
// GET /api/members?include_removed=1
func (s *Server) handleListMembers(w http.ResponseWriter, r *http.Request) {
	includeRemoved, _ := strconv.ParseBool(r.URL.Query().Get("include_removed"))
	members, err := s.ledger.ListMembers(r.Context(), includeRemoved)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	if members == nil {
		members = []domain.Member{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"members": members,
		"count":   len(members),
	})
}

// handleAddMember adds a member at the starting points for their rank.
// POST /api/members
func (s *Server) handleAddMember(w http.ResponseWriter, r *http.Request) {
	var req addMemberRequest
	if !decode(w, r, &req) {
		return
	}
	rank, err := domain.ParseRank(req.Rank)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	m, err := s.ledger.AddMember(r.Context(), req.Username, rank, req.PerformedBy)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// handleGetMember returns one member including history.
// GET /api/members/{id}
func (s *Server) handleGetMember(w http.ResponseWriter, r *http.Request) {
	m, err := s.ledger.GetMember(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// handleHistory returns a member's points history, oldest first.
// GET /api/members/{id}/history
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.ledger.GetHistory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"history": history,
		"count":   len(history),
	})
}

// handleDeduction applies a violation.
// POST /api/members/{id}/deductions
func (s *Server) handleDeduction(w http.ResponseWriter, r *http.Request) {
	var req deductionRequest
	if !decode(w, r, &req) {
		return
	}
	m, err := s.ledger.ApplyDeduction(r.Context(), chi.URLParam(r, "id"), req.ViolationID, req.Reason, req.PerformedBy)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// handleCredit awards points.
// POST /api/members/{id}/credits
func (s *Server) handleCredit(w http.ResponseWriter, r *http.Request) {
	var req creditRequest
	if !decode(w, r, &req) {
		return
	}
	m, err := s.ledger.ApplyCredit(r.Context(), chi.URLParam(r, "id"), req.Amount, req.Reason, req.AwardedBy)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// handlePromotion promotes a member.
// POST /api/members/{id}/promotion
func (s *Server) handlePromotion(w http.ResponseWriter, r *http.Request) {
	var req promotionRequest
	if !decode(w, r, &req) {
		return
	}
	rank, err := domain.ParseRank(req.Rank)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	m, err := s.ledger.Promote(r.Context(), chi.URLParam(r, "id"), rank, req.PerformedBy)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// handleReinstatement reinstates a removed member.
// POST /api/members/{id}/reinstatement
func (s *Server) handleReinstatement(w http.ResponseWriter, r *http.Request) {
	var req reinstatementRequest
	if !decode(w, r, &req) {
		return
	}
	m, err := s.ledger.Reinstate(r.Context(), chi.URLParam(r, "id"), req.PerformedBy)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}
