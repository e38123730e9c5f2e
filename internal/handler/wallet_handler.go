// internal/handler/wallet_handler.go
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tmrdanny/taghere-crm-sub004/internal/apperr"
	"github.com/tmrdanny/taghere-crm-sub004/internal/credit"
	"github.com/tmrdanny/taghere-crm-sub004/internal/model"
	"github.com/tmrdanny/taghere-crm-sub004/internal/wallet"
)

// WalletHandler exposes a tenant's prepaid balance and monthly credit state.
type WalletHandler struct {
	Ledger  *wallet.Ledger
	Credits *credit.Allocator
	Log     *zap.Logger
}

func (h *WalletHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	balance, err := h.Ledger.Balance(r.Context(), tenantID)
	if err != nil {
		http.Error(w, "failed to fetch wallet: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"tenant_id":     tenantID,
		"balance_cents": balance,
	})
}

// GetWalletAudit is the operator view: balance next to the ledger replay.
func (h *WalletHandler) GetWalletAudit(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	balance, ledgerSum, err := h.Ledger.Audit(r.Context(), tenantID)
	if err != nil {
		http.Error(w, "failed to audit wallet: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"tenant_id":        tenantID,
		"balance_cents":    balance,
		"ledger_sum_cents": ledgerSum,
		"consistent":       balance == ledgerSum,
	})
}

// AdjustWallet applies an operator balance correction through the ledgered
// path, so the audit replay stays intact. Negative deltas hit the same floor
// check as a send debit.
func (h *WalletHandler) AdjustWallet(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	var req struct {
		DeltaCents int64  `json:"delta_cents"`
		Reason     string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.DeltaCents == 0 {
		http.Error(w, "delta_cents must be non-zero", http.StatusBadRequest)
		return
	}

	meta := model.LedgerMeta{Reason: req.Reason}
	var balance int64
	var err error
	if req.DeltaCents > 0 {
		balance, err = h.Ledger.Credit(r.Context(), tenantID, req.DeltaCents, model.LedgerKindAdjust, meta)
	} else {
		balance, err = h.Ledger.Debit(r.Context(), tenantID, -req.DeltaCents, model.LedgerKindAdjust, meta)
	}
	if err != nil {
		if errors.Is(err, apperr.ErrInsufficientBalance) {
			http.Error(w, "adjustment would overdraw the wallet", http.StatusConflict)
			return
		}
		http.Error(w, "failed to adjust wallet: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"tenant_id":     tenantID,
		"balance_cents": balance,
	})
}

// AdjustCredits changes the current month's free-message quota.
func (h *WalletHandler) AdjustCredits(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	var req struct {
		TotalDelta int `json:"total_delta"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.TotalDelta == 0 {
		http.Error(w, "total_delta must be non-zero", http.StatusBadRequest)
		return
	}

	if err := h.Credits.Adjust(r.Context(), tenantID, req.TotalDelta); err != nil {
		http.Error(w, "failed to adjust credits: "+err.Error(), http.StatusInternalServerError)
		return
	}
	alloc, err := h.Credits.GetOrCreateAllocation(r.Context(), tenantID)
	if err != nil {
		http.Error(w, "failed to fetch credits: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"tenant_id":  tenantID,
		"year_month": alloc.YearMonth,
		"total":      alloc.TotalCredits,
		"used":       alloc.UsedCredits,
		"remaining":  alloc.Remaining(),
	})
}

func (h *WalletHandler) GetCredits(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	alloc, err := h.Credits.GetOrCreateAllocation(r.Context(), tenantID)
	if err != nil {
		http.Error(w, "failed to fetch credits: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"tenant_id":  tenantID,
		"year_month": alloc.YearMonth,
		"total":      alloc.TotalCredits,
		"used":       alloc.UsedCredits,
		"remaining":  alloc.Remaining(),
	})
}
