// internal/handler/payment_handler.go
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tmrdanny/taghere-crm-sub004/internal/apperr"
	"github.com/tmrdanny/taghere-crm-sub004/internal/model"
	"github.com/tmrdanny/taghere-crm-sub004/internal/payment"
	"github.com/tmrdanny/taghere-crm-sub004/internal/repository"
)

// PaymentHandler exposes top-up order creation and confirmation.
type PaymentHandler struct {
	Payments   repository.PaymentRepositoryInterface
	Reconciler *payment.Reconciler
	Log        *zap.Logger
}

// CreateOrder registers a pending top-up before the client is redirected to
// the payment provider. The order id generated here is what the provider
// echoes back on confirm.
func (h *PaymentHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TenantID    string `json:"tenant_id"`
		AmountCents int64  `json:"amount_cents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if body.TenantID == "" || body.AmountCents <= 0 {
		http.Error(w, "tenant_id and a positive amount_cents are required", http.StatusBadRequest)
		return
	}

	rec := &model.PaymentRecord{
		TenantID:        body.TenantID,
		ProviderOrderID: "order-" + uuid.NewString(),
		AmountCents:     body.AmountCents,
		Status:          model.PaymentPending,
	}
	if err := h.Payments.Create(r.Context(), rec); err != nil {
		http.Error(w, "failed to create order: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(rec)
}

func (h *PaymentHandler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PaymentKey  string `json:"payment_key"`
		OrderID     string `json:"order_id"`
		AmountCents int64  `json:"amount_cents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if body.PaymentKey == "" || body.OrderID == "" {
		http.Error(w, "payment_key and order_id are required", http.StatusBadRequest)
		return
	}

	outcome, err := h.Reconciler.Confirm(r.Context(), body.PaymentKey, body.OrderID, body.AmountCents)
	if err != nil {
		var notFound *apperr.ErrPaymentNotFound
		var mismatch *apperr.ErrAmountMismatch
		switch {
		case errors.As(err, &notFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.As(err, &mismatch):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			h.Log.Error("payment confirm failed",
				zap.String("order_id", body.OrderID), zap.Error(err))
			http.Error(w, "payment confirmation failed: "+err.Error(), http.StatusBadGateway)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(outcome)
}
