package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/Dan9191/note-lending/internal/auth"
	"github.com/Dan9191/note-lending/internal/integrations/cbr"
	"github.com/Dan9191/note-lending/internal/ledger"
	"github.com/Dan9191/note-lending/internal/lock"
	"github.com/Dan9191/note-lending/internal/models"
	"github.com/Dan9191/note-lending/internal/notify"
	"github.com/Dan9191/note-lending/internal/registry"
	"github.com/Dan9191/note-lending/internal/repository"
	"github.com/Dan9191/note-lending/internal/service"
)

const (
	monitorKey = "monitor-key"
	testSecret = "handler-test-secret-0123456789abcdef"
)

type fixedRate struct {
	kr  *cbr.KeyRate
	err error
}

func (f fixedRate) GetKeyRate(context.Context) (*cbr.KeyRate, error) { return f.kr, f.err }

func setupRouter(t *testing.T, rates RateSource) *mux.Router {
	t.Helper()
	hash, err := auth.HashKey(monitorKey)
	require.NoError(t, err)
	return setupRouterWithKey(t, rates, hash)
}

func setupRouterWithKey(t *testing.T, rates RateSource, monitorKeyHash string) *mux.Router {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	reg := registry.NewMemory()
	led := ledger.NewMemory()
	engine := service.NewEngine(repository.NewMemory(), reg, led, lock.NewMemory(), notify.NewLog(log), log,
		service.Options{EarlyPayoffFeeBps: 300, AccelerationThreshold: 3})
	reg.Subscribe(engine.HandleOwnershipChange)

	issuer := auth.NewIssuer(testSecret, time.Hour)
	login := auth.NewMonitorLogin(monitorKeyHash, issuer)

	var roles []string
	if login.Enabled() {
		roles = append(roles, auth.RoleMonitor)
	}
	r := mux.NewRouter()
	r.Use(auth.Middleware(issuer, roles...))
	NewHandler(engine, reg, led, login, rates, log).Routes(r)
	return r
}

func httpDo(r http.Handler, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		b, _ := json.Marshal(body)
		req = httptest.NewRequest(method, path, bytes.NewReader(b))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func seedNote(t *testing.T, r http.Handler) {
	t.Helper()
	w := httpDo(r, "POST", "/registry/notes", map[string]string{
		"note_id": "note-1", "obligor": "alice", "rights_holder": "bob",
	}, "")
	require.Equal(t, http.StatusCreated, w.Code)

	w = httpDo(r, "POST", "/notes/note-1/schedule", models.NoteTerms{
		Principal: 1_000_000, NominalRateBps: 500, PenaltyRateBps: 900, Periods: 12,
		PaymentDay: 5, Policy: models.EqualInstallment,
	}, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func monitorToken(t *testing.T, r http.Handler) string {
	t.Helper()
	w := httpDo(r, "POST", "/auth/monitor-token", map[string]string{"api_key": monitorKey}, "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func TestRepaymentFlow(t *testing.T) {
	r := setupRouter(t, nil)
	seedNote(t, r)

	w := httpDo(r, "GET", "/notes/note-1", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var rec models.RepaymentRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	require.Equal(t, int64(112825), rec.FixedPaymentAmount)
	require.Equal(t, "alice", rec.ObligorAddress)

	// unfunded obligor
	w = httpDo(r, "POST", "/notes/note-1/cycles", nil, "")
	require.Equal(t, http.StatusPaymentRequired, w.Code)

	w = httpDo(r, "POST", "/ledger/accounts/alice/deposit", map[string]int64{"amount": 2_000_000}, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = httpDo(r, "POST", "/notes/note-1/cycles", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var cyc service.CycleResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cyc))
	require.Equal(t, 11, cyc.Record.RemainingPeriods)
	require.Equal(t, "bob", cyc.Payment.To)

	w = httpDo(r, "GET", "/ledger/accounts/bob/balance", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var bal struct {
		Balance int64 `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &bal))
	require.Equal(t, int64(112825), bal.Balance)

	// rights move to carol; the next cycle pays her
	w = httpDo(r, "PUT", "/registry/notes/note-1/rights-holder", map[string]string{"rights_holder": "carol"}, "")
	require.Equal(t, http.StatusOK, w.Code)
	w = httpDo(r, "POST", "/notes/note-1/cycles", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cyc))
	require.Equal(t, "carol", cyc.Payment.To)

	w = httpDo(r, "GET", "/notes/note-1/payments", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var payments []models.Payment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payments))
	require.Len(t, payments, 2)

	w = httpDo(r, "GET", "/notes/note-1/projection", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var proj models.ScheduleProjection
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &proj))
	require.Len(t, proj.Payments, 10)

	w = httpDo(r, "GET", "/notes", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"notes":["note-1"]}`, w.Body.String())
}

func TestEarlyPayoff(t *testing.T) {
	r := setupRouter(t, nil)
	seedNote(t, r)
	httpDo(r, "POST", "/ledger/accounts/alice/deposit", map[string]int64{"amount": 2_000_000}, "")

	w := httpDo(r, "GET", "/notes/note-1/payoff-fee?amount=500000", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var quote struct {
		Fee int64 `json:"fee"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &quote))
	require.Equal(t, int64(15000), quote.Fee)

	w = httpDo(r, "GET", "/notes/note-1/payoff-fee?amount=abc", nil, "")
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = httpDo(r, "POST", "/notes/note-1/payoff", map[string]int64{"amount": 500_000, "fee": 1}, "")
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = httpDo(r, "POST", "/notes/note-1/payoff", map[string]int64{"amount": 1_000_000, "fee": 30_000}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res service.PayoffResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.False(t, res.Record.Active)

	w = httpDo(r, "POST", "/notes/note-1/cycles", nil, "")
	require.Equal(t, http.StatusNotFound, w.Code)

	w = httpDo(r, "GET", "/notes", nil, "")
	require.JSONEq(t, `{"notes":[]}`, w.Body.String())
}

func TestDelinquencyRequiresMonitorToken(t *testing.T) {
	r := setupRouter(t, nil)
	seedNote(t, r)
	report := models.DelinquencyReport{
		Overdue: true, OverdueDays: 3, ConsecutiveMisses: 1, LifetimeMisses: 1, EffectiveRateBps: 500,
	}

	w := httpDo(r, "PUT", "/notes/note-1/delinquency", report, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = httpDo(r, "PUT", "/notes/note-1/delinquency", report, "not-a-jwt")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = httpDo(r, "POST", "/auth/monitor-token", map[string]string{"api_key": "wrong"}, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	token := monitorToken(t, r)
	w = httpDo(r, "PUT", "/notes/note-1/delinquency", report, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// overdue notes cannot be paid off early
	httpDo(r, "POST", "/ledger/accounts/alice/deposit", map[string]int64{"amount": 2_000_000}, "")
	w = httpDo(r, "POST", "/notes/note-1/payoff", map[string]int64{"amount": 100_000, "fee": 3_000}, "")
	require.Equal(t, http.StatusConflict, w.Code)

	report.EffectiveRateBps = 700
	w = httpDo(r, "PUT", "/notes/note-1/delinquency", report, token)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDelinquencyDisabledWithoutMonitorKey(t *testing.T) {
	r := setupRouterWithKey(t, nil, "")
	seedNote(t, r)

	w := httpDo(r, "POST", "/auth/monitor-token", map[string]string{"api_key": monitorKey}, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	// even a token signed with the server secret carries no monitor rights
	forged, _, err := auth.NewIssuer(testSecret, time.Hour).Sign(auth.Caller{Subject: "x", Role: auth.RoleMonitor})
	require.NoError(t, err)
	report := models.DelinquencyReport{Overdue: true, ConsecutiveMisses: 1, LifetimeMisses: 1, EffectiveRateBps: 500}
	w = httpDo(r, "PUT", "/notes/note-1/delinquency", report, forged)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = httpDo(r, "GET", "/notes/note-1", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var rec models.RepaymentRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	require.False(t, rec.Delinquency.Overdue)
}

func TestErrors(t *testing.T) {
	r := setupRouter(t, nil)

	w := httpDo(r, "GET", "/notes/missing", nil, "")
	require.Equal(t, http.StatusNotFound, w.Code)

	w = httpDo(r, "GET", "/notes/missing/payments", nil, "")
	require.Equal(t, http.StatusNotFound, w.Code)

	w = httpDo(r, "POST", "/notes/missing/schedule", models.NoteTerms{
		Principal: 1, Periods: 1, PaymentDay: 1, Policy: models.BulletAtMaturity,
	}, "")
	require.Equal(t, http.StatusNotFound, w.Code)

	req := httptest.NewRequest("POST", "/registry/notes", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	w = httpDo(r, "POST", "/ledger/accounts/alice/deposit", map[string]int64{"amount": -5}, "")
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = httpDo(r, "GET", "/notes?due_before=yesterday", nil, "")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReferenceRate(t *testing.T) {
	kr := &cbr.KeyRate{Percent: decimal.RequireFromString("16.5"), Bps: 1650, MarginBps: 500, OfferedBps: 2150}
	r := setupRouter(t, fixedRate{kr: kr})

	w := httpDo(r, "GET", "/reference-rate", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var got cbr.KeyRate
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Equal(t, int64(2150), got.OfferedBps)

	r = setupRouter(t, fixedRate{err: errors.New("upstream down")})
	w = httpDo(r, "GET", "/reference-rate", nil, "")
	require.Equal(t, http.StatusBadGateway, w.Code)

	r = setupRouter(t, nil)
	w = httpDo(r, "GET", "/reference-rate", nil, "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}
