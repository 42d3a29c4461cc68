package api

import (
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcstaff/staffledger/internal/app/ledger"
	"github.com/mcstaff/staffledger/internal/domain"
	"github.com/mcstaff/staffledger/internal/infra/observability"
	"github.com/mcstaff/staffledger/internal/infra/sqlite"
)

// ─── Ledger API Tests ───────────────────────────────────────────────────────

func setupServer(t *testing.T) http.Handler {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := t.Context()
	require.NoError(t, db.SeedRankThresholds(ctx, domain.DefaultThresholdTable()))
	require.NoError(t, db.SeedViolations(ctx, domain.DefaultViolations()))

	tracer := observability.NewTracer(observability.DefaultTracerConfig())
	srv := NewServer(ledger.New(db, ledger.DefaultPolicy(), ledger.WithTracer(tracer)), nil)
	srv.EnableMetrics()
	srv.SetTracer(tracer)
	return srv.Handler()
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var resp map[string]interface{}
	if w.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func addMember(t *testing.T, h http.Handler, username, rank string) string {
	t.Helper()
	w, resp := do(t, h, http.MethodPost, "/api/members", map[string]string{
		"username": username,
		"rank":     rank,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return resp["id"].(string)
}

func errorType(resp map[string]interface{}) string {
	e, _ := resp["error"].(map[string]interface{})
	s, _ := e["type"].(string)
	return s
}

func TestHealth(t *testing.T) {
	h := setupServer(t)
	w, resp := do(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", resp["status"])
}

func TestRanksAndViolations(t *testing.T) {
	h := setupServer(t)

	w, resp := do(t, h, http.MethodGet, "/api/ranks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	ranks := resp["ranks"].([]interface{})
	require.Len(t, ranks, 8)
	assert.Equal(t, "Owner", ranks[0].(map[string]interface{})["rank"])

	w, resp = do(t, h, http.MethodGet, "/api/violations", nil)
	require.Equal(t, http.StatusOK, w.Code)
	spam := resp["violations"].(map[string]interface{})["spam"].(map[string]interface{})
	assert.Equal(t, float64(50), spam["points_deduction"])
}

func TestMemberLifecycle(t *testing.T) {
	h := setupServer(t)
	id := addMember(t, h, "steve", "Moderator")

	w, resp := do(t, h, http.MethodPost, "/api/members/"+id+"/deductions", map[string]string{
		"violation_id": "disrespect",
		"performed_by": "console",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(260), resp["points"])
	assert.Equal(t, "Moderator", resp["rank"])

	w, resp = do(t, h, http.MethodPost, "/api/members/"+id+"/deductions", map[string]string{
		"violation_id": "abuse",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(240), resp["points"])
	assert.Equal(t, "Jr. Moderator", resp["rank"])

	w, resp = do(t, h, http.MethodPost, "/api/members/"+id+"/credits", map[string]interface{}{
		"amount": 30,
		"reason": "helped at event",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(270), resp["points"])
	assert.Equal(t, "Jr. Moderator", resp["rank"])

	w, resp = do(t, h, http.MethodGet, "/api/members/"+id+"/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(3), resp["count"])

	w, resp = do(t, h, http.MethodGet, "/api/activity?limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(5), resp["count"], "added, deduction, deduction, demotion, credit")

	w, resp = do(t, h, http.MethodGet, "/api/members", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), resp["count"])
}

func TestRemovalAndReinstatement(t *testing.T) {
	h := setupServer(t)
	owner := addMember(t, h, "owner", "owner")
	id := addMember(t, h, "newbie", "jr-supporter")

	w, resp := do(t, h, http.MethodPost, "/api/members/"+id+"/deductions", map[string]string{"violation_id": "griefing"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Removed", resp["rank"])

	w, resp = do(t, h, http.MethodPost, "/api/members/"+id+"/deductions", map[string]string{"violation_id": "spam"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "member_already_removed", errorType(resp))

	w, _ = do(t, h, http.MethodGet, "/api/members", nil)
	require.Equal(t, http.StatusOK, w.Code)
	_, resp = do(t, h, http.MethodGet, "/api/members?include_removed=true", nil)
	assert.Equal(t, float64(2), resp["count"])

	w, resp = do(t, h, http.MethodPost, "/api/members/"+id+"/reinstatement", map[string]string{"performed_by": id})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "not_authorized", errorType(resp))

	w, resp = do(t, h, http.MethodPost, "/api/members/"+id+"/reinstatement", map[string]string{"performed_by": owner})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Jr. Supporter", resp["rank"])
	assert.Equal(t, float64(50), resp["points"])
}

func TestPromotion(t *testing.T) {
	h := setupServer(t)
	owner := addMember(t, h, "owner", "Owner")
	id := addMember(t, h, "helper", "Supporter")

	w, resp := do(t, h, http.MethodPost, "/api/members/"+id+"/promotion", map[string]string{
		"rank":         "Moderator",
		"performed_by": owner,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Moderator", resp["rank"])
	assert.Equal(t, float64(275), resp["points"])
}

func TestErrorMapping(t *testing.T) {
	h := setupServer(t)
	id := addMember(t, h, "alex", "Admin")

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
		kind   string
	}{
		{"unknown member", http.MethodGet, "/api/members/nope", nil, http.StatusNotFound, "member_not_found"},
		{"unknown violation", http.MethodPost, "/api/members/" + id + "/deductions", map[string]string{"violation_id": "xray"}, http.StatusNotFound, "violation_not_found"},
		{"zero credit", http.MethodPost, "/api/members/" + id + "/credits", map[string]int{"amount": 0}, http.StatusBadRequest, "invalid_amount"},
		{"overflowing credit", http.MethodPost, "/api/members/" + id + "/credits", map[string]int64{"amount": math.MaxInt64}, http.StatusBadRequest, "invalid_amount"},
		{"bad rank", http.MethodPost, "/api/members", map[string]string{"username": "x", "rank": "Builder"}, http.StatusBadRequest, "invalid_rank"},
		{"duplicate username", http.MethodPost, "/api/members", map[string]string{"username": "ALEX", "rank": "Admin"}, http.StatusConflict, "username_taken"},
		{"not removed", http.MethodPost, "/api/members/" + id + "/reinstatement", map[string]string{"performed_by": id}, http.StatusConflict, "member_not_removed"},
		{"bad json", http.MethodPost, "/api/members/" + id + "/credits", "not an object", http.StatusBadRequest, "bad_request"},
		{"bad limit", http.MethodGet, "/api/activity?limit=-1", nil, http.StatusBadRequest, "bad_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := do(t, h, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.kind, errorType(resp))
		})
	}
}

func TestMetricsAndTraces(t *testing.T) {
	h := setupServer(t)
	addMember(t, h, "alex", "Admin")

	w, _ := do(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "staffledger_ledger_members_added_total")

	w, resp := do(t, h, http.MethodGet, "/api/traces", nil)
	require.Equal(t, http.StatusOK, w.Code)
	spans := resp["spans"].([]interface{})
	require.NotEmpty(t, spans)
	assert.Equal(t, ledger.OpAddMember, spans[0].(map[string]interface{})["operation"])
}
