/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON structures for API communication, decoupling the internal decimal
  amounts from the wire format. Coin amounts cross the wire as JSON numbers
  (float64), matching what step-counting clients expect; internally
  everything stays decimal.

NAMING CONVENTION:
  - *Request:  request body types from clients
  - *DTO:      response types returned to clients
*/
package api

import (
	"time"

	"github.com/stridecoin/stride/ledger"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// SyncStepsRequest reports a day's cumulative step total (not an increment).
type SyncStepsRequest struct {
	Steps    *int64 `json:"steps"`
	Date     string `json:"date"` // YYYY-MM-DD
	DeviceID string `json:"deviceId"`
}

// RedeemRequest carries the redemption payload; the reward id is in the URL.
type RedeemRequest struct {
	ShippingAddress map[string]any `json:"shippingAddress"`
}

// ProvisionAccountRequest is the identity-creation event payload.
type ProvisionAccountRequest struct {
	UID string `json:"uid"`
}

// SaveRewardRequest is the operator payload for catalog entries.
type SaveRewardRequest struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Cost   float64 `json:"cost"`
	Stock  int64   `json:"stock"`
	Active bool    `json:"active"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// SyncStepsResponse mirrors the engine result.
type SyncStepsResponse struct {
	Success    bool    `json:"success"`
	Balance    float64 `json:"balance"`
	Earned     float64 `json:"earned"`
	StepsSaved int64   `json:"stepsSaved"`
}

// RedeemResponse reports the created order.
type RedeemResponse struct {
	Success bool   `json:"success"`
	OrderID string `json:"orderId"`
}

// AccountDTO is the caller's wallet summary.
type AccountDTO struct {
	UID           string  `json:"uid"`
	Balance       float64 `json:"balance"`
	LifetimeSteps int64   `json:"lifetimeSteps"`
	LifetimeCoins float64 `json:"lifetimeCoins"`
	CreatedAt     string  `json:"createdAt,omitempty"`
}

// LedgerEntryDTO is one wallet history row.
type LedgerEntryDTO struct {
	ID          string  `json:"id"`
	Type        string  `json:"type"`
	Amount      float64 `json:"amount"`
	Description string  `json:"description,omitempty"`
	ReferenceID string  `json:"referenceId,omitempty"`
	Timestamp   string  `json:"timestamp"`
}

// RewardDTO is one catalog row.
type RewardDTO struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Cost   float64 `json:"cost"`
	Stock  int64   `json:"stock"`
	Active bool    `json:"active"`
}

// OrderDTO is one order history row.
type OrderDTO struct {
	ID         string  `json:"id"`
	RewardID   string  `json:"rewardId"`
	RewardName string  `json:"rewardName"`
	Cost       float64 `json:"cost"`
	Status     string  `json:"status"`
	CreatedAt  string  `json:"createdAt"`
}

// ErrorResponse is the standard error payload. Code is the error kind.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toAccountDTO(a ledger.Account) AccountDTO {
	balance, _ := a.Balance.Float64()
	coins, _ := a.LifetimeCoins.Float64()
	return AccountDTO{
		UID:           a.UID,
		Balance:       balance,
		LifetimeSteps: a.LifetimeSteps,
		LifetimeCoins: coins,
		CreatedAt:     a.CreatedAt.Format(time.RFC3339),
	}
}

func toLedgerEntryDTOs(entries []ledger.LedgerEntry) []LedgerEntryDTO {
	dtos := make([]LedgerEntryDTO, len(entries))
	for i, e := range entries {
		amount, _ := e.Amount.Float64()
		dtos[i] = LedgerEntryDTO{
			ID:          e.ID,
			Type:        string(e.Type),
			Amount:      amount,
			Description: e.Description,
			ReferenceID: e.ReferenceID,
			Timestamp:   e.Timestamp.Format(time.RFC3339),
		}
	}
	return dtos
}

func toRewardDTOs(rewards []ledger.Reward) []RewardDTO {
	dtos := make([]RewardDTO, len(rewards))
	for i, rw := range rewards {
		cost, _ := rw.Cost.Float64()
		dtos[i] = RewardDTO{
			ID:     rw.ID,
			Name:   rw.Name,
			Cost:   cost,
			Stock:  rw.Stock,
			Active: rw.Active,
		}
	}
	return dtos
}

func toOrderDTOs(orders []ledger.Order) []OrderDTO {
	dtos := make([]OrderDTO, len(orders))
	for i, o := range orders {
		cost, _ := o.Cost.Float64()
		dtos[i] = OrderDTO{
			ID:         o.ID,
			RewardID:   o.RewardID,
			RewardName: o.RewardName,
			Cost:       cost,
			Status:     string(o.Status),
			CreatedAt:  o.CreatedAt.Format(time.RFC3339),
		}
	}
	return dtos
}
