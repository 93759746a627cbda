/*
handlers.go - HTTP handlers for the step-rewards engine

PURPOSE:
  Exposes the accounting engines over REST. Handles request parsing, caller
  identity, and the mapping from domain error kinds to HTTP status codes.
  All accounting decisions live in the engines; handlers only translate.

ENDPOINTS:
  Callable (authenticated):
    POST /api/steps/sync             Convert a day's steps to coins
    POST /api/rewards/{id}/redeem    Redeem a reward
    GET  /api/me                     Wallet summary
    GET  /api/wallet?limit=N         Ledger history, newest first
    GET  /api/orders                 Caller's orders

  Boundary (unauthenticated):
    POST /api/accounts               Provisioning upsert (identity event)
    GET  /api/rewards                Active catalog, cost ascending
    POST /api/admin/rewards          Operator catalog upsert

ERROR MAPPING:
  unauthenticated 401, invalid-argument 400, out-of-range 400,
  not-found 404, failed-precondition 409, internal 500.
  Internal errors carry a generic message; details stay in the logs.
*/
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/stridecoin/stride/ledger"
	"github.com/stridecoin/stride/redeem"
	"github.com/stridecoin/stride/steps"
)

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store  ledger.Store
	Steps  *steps.Engine
	Redeem *redeem.Engine
	Log    *logrus.Logger
}

// NewHandler wires the engines onto the given store.
func NewHandler(store ledger.Store, log *logrus.Logger) *Handler {
	return &Handler{
		Store:  store,
		Steps:  steps.New(store, log),
		Redeem: redeem.New(store, log),
		Log:    log,
	}
}

// =============================================================================
// CALLABLE ENDPOINTS
// =============================================================================

// SyncSteps handles POST /api/steps/sync.
func (h *Handler) SyncSteps(w http.ResponseWriter, r *http.Request) {
	uid := UIDFromContext(r.Context())

	var req SyncStepsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDomainError(w, &ledger.InvalidArgumentError{Field: "body", Reason: "malformed JSON"})
		return
	}
	if req.Steps == nil {
		writeDomainError(w, &ledger.InvalidArgumentError{Field: "steps", Reason: "required"})
		return
	}

	res, err := h.Steps.Sync(r.Context(), uid, req.Date, *req.Steps, req.DeviceID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	balance, _ := res.Balance.Float64()
	earned, _ := res.Earned.Float64()
	writeJSON(w, http.StatusOK, SyncStepsResponse{
		Success:    true,
		Balance:    balance,
		Earned:     earned,
		StepsSaved: res.StepsSaved,
	})
}

// RedeemReward handles POST /api/rewards/{id}/redeem.
func (h *Handler) RedeemReward(w http.ResponseWriter, r *http.Request) {
	uid := UIDFromContext(r.Context())
	rewardID := chi.URLParam(r, "id")

	var req RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDomainError(w, &ledger.InvalidArgumentError{Field: "body", Reason: "malformed JSON"})
		return
	}

	res, err := h.Redeem.Redeem(r.Context(), uid, rewardID, req.ShippingAddress)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, RedeemResponse{Success: true, OrderID: res.OrderID})
}

// GetAccount handles GET /api/me.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	uid := UIDFromContext(r.Context())

	acct, err := h.Store.GetAccount(r.Context(), uid)
	if err != nil {
		h.internal(w, err, "failed to read account")
		return
	}
	if acct == nil {
		writeDomainError(w, ledger.ErrAccountNotFound)
		return
	}

	writeJSON(w, http.StatusOK, toAccountDTO(*acct))
}

// GetWallet handles GET /api/wallet?limit=N. Newest entries first.
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	uid := UIDFromContext(r.Context())

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeDomainError(w, &ledger.InvalidArgumentError{Field: "limit", Reason: "must be a non-negative integer"})
			return
		}
		limit = n
	}

	entries, err := h.Store.Entries(r.Context(), uid, limit)
	if err != nil {
		h.internal(w, err, "failed to read wallet history")
		return
	}

	writeJSON(w, http.StatusOK, toLedgerEntryDTOs(entries))
}

// ListOrders handles GET /api/orders.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	uid := UIDFromContext(r.Context())

	orders, err := h.Store.OrdersByUser(r.Context(), uid)
	if err != nil {
		h.internal(w, err, "failed to read orders")
		return
	}

	writeJSON(w, http.StatusOK, toOrderDTOs(orders))
}

// =============================================================================
// BOUNDARY ENDPOINTS
// =============================================================================

// ProvisionAccount handles POST /api/accounts, the identity-creation event.
// Idempotent: a retried event never clobbers an account that has since
// earned coins.
func (h *Handler) ProvisionAccount(w http.ResponseWriter, r *http.Request) {
	var req ProvisionAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UID == "" {
		writeDomainError(w, &ledger.InvalidArgumentError{Field: "uid", Reason: "required"})
		return
	}

	if err := h.Store.UpsertAccount(r.Context(), req.UID); err != nil {
		h.internal(w, err, "failed to provision account")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"uid": req.UID})
}

// ListRewards handles GET /api/rewards: active rewards, cost ascending.
func (h *Handler) ListRewards(w http.ResponseWriter, r *http.Request) {
	rewards, err := h.Store.ActiveRewards(r.Context())
	if err != nil {
		h.internal(w, err, "failed to read rewards")
		return
	}

	writeJSON(w, http.StatusOK, toRewardDTOs(rewards))
}

// SaveReward handles POST /api/admin/rewards, the operator catalog upsert.
func (h *Handler) SaveReward(w http.ResponseWriter, r *http.Request) {
	var req SaveRewardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDomainError(w, &ledger.InvalidArgumentError{Field: "body", Reason: "malformed JSON"})
		return
	}
	if req.ID == "" || req.Name == "" {
		writeDomainError(w, &ledger.InvalidArgumentError{Field: "reward", Reason: "id and name are required"})
		return
	}
	if req.Cost < 0 || req.Stock < 0 {
		writeDomainError(w, &ledger.InvalidArgumentError{Field: "reward", Reason: "cost and stock must be non-negative"})
		return
	}

	rw := ledger.Reward{
		ID:     req.ID,
		Name:   req.Name,
		Cost:   decimal.NewFromFloat(req.Cost),
		Stock:  req.Stock,
		Active: req.Active,
	}
	if err := h.Store.SaveReward(r.Context(), rw); err != nil {
		h.internal(w, err, "failed to save reward")
		return
	}

	writeJSON(w, http.StatusOK, RewardDTO{
		ID: rw.ID, Name: rw.Name, Cost: req.Cost, Stock: rw.Stock, Active: rw.Active,
	})
}

// Healthz handles GET /healthz.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func statusForKind(kind ledger.Kind) int {
	switch kind {
	case ledger.KindUnauthenticated:
		return http.StatusUnauthorized
	case ledger.KindInvalidArgument, ledger.KindOutOfRange:
		return http.StatusBadRequest
	case ledger.KindNotFound:
		return http.StatusNotFound
	case ledger.KindFailedPrecondition:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError maps a domain error to its transport form. Internal
// errors get a generic message; everything else surfaces its own.
func writeDomainError(w http.ResponseWriter, err error) {
	kind := ledger.KindOf(err)
	msg := err.Error()
	if kind == ledger.KindInternal {
		msg = "internal error"
	}
	writeJSON(w, statusForKind(kind), ErrorResponse{Error: msg, Code: string(kind)})
}

// internal logs the real error and sends the collapsed form.
func (h *Handler) internal(w http.ResponseWriter, err error, msg string) {
	h.Log.WithError(err).Error(msg)
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error: "internal error",
		Code:  string(ledger.KindInternal),
	})
}

func writeUnauthenticated(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusUnauthorized, ErrorResponse{
		Error: msg,
		Code:  string(ledger.KindUnauthenticated),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
