package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/Dan9191/note-lending/internal/auth"
	"github.com/Dan9191/note-lending/internal/integrations/cbr"
	"github.com/Dan9191/note-lending/internal/ledger"
	"github.com/Dan9191/note-lending/internal/models"
	"github.com/Dan9191/note-lending/internal/registry"
	"github.com/Dan9191/note-lending/internal/service"
)

// Registry is the note registry surface exposed over HTTP
type Registry interface {
	Mint(ctx context.Context, noteID, obligor, rightsHolder string) (*registry.Note, error)
	TransferRights(ctx context.Context, noteID, newHolder string) error
	GetNote(ctx context.Context, noteID string) (*registry.Note, error)
}

// Ledger is the settlement ledger surface exposed over HTTP
type Ledger interface {
	Deposit(ctx context.Context, address string, amount int64) (int64, error)
	BalanceOf(ctx context.Context, address string) (int64, error)
}

// RateSource quotes the reference rate for new notes
type RateSource interface {
	GetKeyRate(ctx context.Context) (*cbr.KeyRate, error)
}

// Handler serves the lending JSON API
type Handler struct {
	engine   *service.Engine
	registry Registry
	accounts Ledger
	login    *auth.MonitorLogin
	rates    RateSource
	log      *logrus.Logger
}

// NewHandler initializes a new handler
func NewHandler(engine *service.Engine, reg Registry, accounts Ledger, login *auth.MonitorLogin,
	rates RateSource, log *logrus.Logger) *Handler {
	return &Handler{engine: engine, registry: reg, accounts: accounts, login: login, rates: rates, log: log}
}

// Routes registers every endpoint on r
func (h *Handler) Routes(r *mux.Router) {
	r.HandleFunc("/auth/monitor-token", h.MonitorToken).Methods(http.MethodPost)

	r.HandleFunc("/registry/notes", h.MintNote).Methods(http.MethodPost)
	r.HandleFunc("/registry/notes/{id}", h.GetNote).Methods(http.MethodGet)
	r.HandleFunc("/registry/notes/{id}/rights-holder", h.TransferRights).Methods(http.MethodPut)

	r.HandleFunc("/ledger/accounts/{address}/deposit", h.Deposit).Methods(http.MethodPost)
	r.HandleFunc("/ledger/accounts/{address}/balance", h.Balance).Methods(http.MethodGet)

	r.HandleFunc("/notes", h.ListActive).Methods(http.MethodGet)
	r.HandleFunc("/notes/{id}", h.GetRecord).Methods(http.MethodGet)
	r.HandleFunc("/notes/{id}/schedule", h.RegisterSchedule).Methods(http.MethodPost)
	r.HandleFunc("/notes/{id}/cycles", h.ProcessCycle).Methods(http.MethodPost)
	r.HandleFunc("/notes/{id}/delinquency", h.ReportDelinquency).Methods(http.MethodPut)
	r.HandleFunc("/notes/{id}/payoff-fee", h.PayoffFee).Methods(http.MethodGet)
	r.HandleFunc("/notes/{id}/payoff", h.EarlyPayoff).Methods(http.MethodPost)
	r.HandleFunc("/notes/{id}/payments", h.ListPayments).Methods(http.MethodGet)
	r.HandleFunc("/notes/{id}/projection", h.Projection).Methods(http.MethodGet)

	r.HandleFunc("/reference-rate", h.ReferenceRate).Methods(http.MethodGet)
}

// MonitorToken exchanges the monitor API key for a bearer token
func (h *Handler) MonitorToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		APIKey string `json:"api_key"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	token, expiresAt, err := h.login.Login(req.APIKey)
	if err != nil {
		h.writeError(w, r, models.ErrUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "expires_at": expiresAt})
}

// MintNote records a note in the registry
func (h *Handler) MintNote(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NoteID       string `json:"note_id"`
		Obligor      string `json:"obligor"`
		RightsHolder string `json:"rights_holder"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	note, err := h.registry.Mint(r.Context(), req.NoteID, req.Obligor, req.RightsHolder)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, note)
}

// GetNote handles registry note lookup
func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	note, err := h.registry.GetNote(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// TransferRights assigns the note to a new rights-holder
func (h *Handler) TransferRights(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RightsHolder string `json:"rights_holder"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	id := mux.Vars(r)["id"]
	if err := h.registry.TransferRights(r.Context(), id, req.RightsHolder); err != nil {
		h.writeError(w, r, err)
		return
	}
	note, err := h.registry.GetNote(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// Deposit funds a wallet account
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount int64 `json:"amount"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	address := mux.Vars(r)["address"]
	balance, err := h.accounts.Deposit(r.Context(), address, req.Amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"address": address, "balance": balance})
}

// Balance handles account balance queries
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	balance, err := h.accounts.BalanceOf(r.Context(), address)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"address": address, "balance": balance})
}

// RegisterSchedule creates the repayment record of a minted note
func (h *Handler) RegisterSchedule(w http.ResponseWriter, r *http.Request) {
	var terms models.NoteTerms
	if !h.decode(w, r, &terms) {
		return
	}
	terms.NoteID = mux.Vars(r)["id"]
	rec, err := h.engine.RegisterSchedule(r.Context(), terms)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// ProcessCycle settles the current period of a note
func (h *Handler) ProcessCycle(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.ProcessCycle(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ReportDelinquency replaces the delinquency state; monitor token required
func (h *Handler) ReportDelinquency(w http.ResponseWriter, r *http.Request) {
	var rep models.DelinquencyReport
	if !h.decode(w, r, &rep) {
		return
	}
	rec, err := h.engine.ReportDelinquency(r.Context(), mux.Vars(r)["id"], rep)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// PayoffFee quotes the early-payoff fee for ?amount=
func (h *Handler) PayoffFee(w http.ResponseWriter, r *http.Request) {
	amount, err := strconv.ParseInt(r.URL.Query().Get("amount"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "amount must be an integer"})
		return
	}
	id := mux.Vars(r)["id"]
	fee, err := h.engine.ComputeFee(r.Context(), id, amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"note_id": id, "amount": amount, "fee": fee})
}

// EarlyPayoff reduces principal outside the cycle
func (h *Handler) EarlyPayoff(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount int64 `json:"amount"`
		Fee    int64 `json:"fee"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.engine.ProcessEarlyPayoff(r.Context(), mux.Vars(r)["id"], req.Amount, req.Fee)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetRecord handles repayment record lookup, open or closed
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := h.engine.GetRecord(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ListPayments handles the settlement history of a note
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.engine.ListPayments(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if payments == nil {
		payments = []*models.Payment{}
	}
	writeJSON(w, http.StatusOK, payments)
}

// Projection handles the remaining amortization table of a note
func (h *Handler) Projection(w http.ResponseWriter, r *http.Request) {
	proj, err := h.engine.ProjectSchedule(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, proj)
}

// ListActive returns note ids with outstanding obligations; ?due_before=
// (RFC 3339) narrows the list to notes already due.
func (h *Handler) ListActive(w http.ResponseWriter, r *http.Request) {
	var (
		ids []string
		err error
	)
	if v := r.URL.Query().Get("due_before"); v != "" {
		asOf, perr := time.Parse(time.RFC3339, v)
		if perr != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "due_before must be RFC 3339"})
			return
		}
		ids, err = h.engine.ListDue(r.Context(), asOf)
	} else {
		ids, err = h.engine.ListActive(r.Context())
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"notes": ids})
}

// ReferenceRate returns the central bank key rate plus margin
func (h *Handler) ReferenceRate(w http.ResponseWriter, r *http.Request) {
	if h.rates == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "reference rate source not configured"})
		return
	}
	kr, err := h.rates.GetKeyRate(r.Context())
	if err != nil {
		h.log.Warnf("Failed to get key rate: %v", err)
		writeJSON(w, http.StatusBadGateway, errorBody{Error: "reference rate unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, kr)
}

type errorBody struct {
	Error string `json:"error"`
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body"})
		return false
	}
	return true
}

// writeError maps domain errors to HTTP statuses
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.WithFields(logrus.Fields{"method": r.Method, "path": r.URL.Path}).Errorf("Request failed: %v", err)
		writeJSON(w, status, errorBody{Error: "internal error"})
		return
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation), errors.Is(err, ledger.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrPreconditionFailed):
		return http.StatusConflict
	case errors.Is(err, models.ErrSettlementFailed):
		return http.StatusPaymentRequired
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
