// internal/payment/reconciler.go
package payment

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/tmrdanny/taghere-crm-sub004/internal/apperr"
	"github.com/tmrdanny/taghere-crm-sub004/internal/gateway"
	"github.com/tmrdanny/taghere-crm-sub004/internal/metrics"
	"github.com/tmrdanny/taghere-crm-sub004/internal/model"
	"github.com/tmrdanny/taghere-crm-sub004/internal/repository"
)

// WalletLedger is the slice of the wallet service the reconciler needs.
type WalletLedger interface {
	Credit(ctx context.Context, tenantID string, amountCents int64, kind model.LedgerKind, meta model.LedgerMeta) (int64, error)
	Balance(ctx context.Context, tenantID string) (int64, error)
	FindEntryByPaymentKey(ctx context.Context, paymentKey string) (*model.LedgerEntry, error)
}

// ConfirmOutcome is what the dashboard shows after a top-up confirm call.
type ConfirmOutcome struct {
	BalanceCents   int64  `json:"balance_cents"`
	AmountCents    int64  `json:"amount_cents"`
	Method         string `json:"method,omitempty"`
	AlreadySettled bool   `json:"already_settled"`
}

// Reconciler drives a Payment Record through its PENDING -> PAID state
// machine, including recovery when the provider's confirm response was lost
// in flight.
type Reconciler struct {
	Payments repository.PaymentRepositoryInterface
	Ledger   WalletLedger
	Gateway  gateway.PaymentGateway
	Log      *zap.Logger
}

func NewReconciler(payments repository.PaymentRepositoryInterface, ledger WalletLedger, gw gateway.PaymentGateway, log *zap.Logger) *Reconciler {
	return &Reconciler{Payments: payments, Ledger: ledger, Gateway: gw, Log: log}
}

// Confirm settles a top-up. Safe to call repeatedly with the same payment
// key: the ledger is searched first, so a duplicate confirm (user retrying
// after a network blip) returns the existing balance without a second
// credit.
func (r *Reconciler) Confirm(ctx context.Context, paymentKey, orderID string, declaredCents int64) (*ConfirmOutcome, error) {
	rec, err := r.Payments.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	// Tamper guard: the declared amount must match the stored order before
	// any provider call is made.
	if rec.AmountCents != declaredCents {
		return nil, &apperr.ErrAmountMismatch{
			OrderID:       orderID,
			ExpectedCents: rec.AmountCents,
			DeclaredCents: declaredCents,
		}
	}

	if entry, err := r.Ledger.FindEntryByPaymentKey(ctx, paymentKey); err != nil {
		return nil, fmt.Errorf("ledger lookup: %w", err)
	} else if entry != nil {
		balance, err := r.Ledger.Balance(ctx, rec.TenantID)
		if err != nil {
			return nil, err
		}
		return &ConfirmOutcome{
			BalanceCents:   balance,
			AmountCents:    entry.DeltaCents,
			Method:         entry.Meta.Method,
			AlreadySettled: true,
		}, nil
	}

	res, err := r.Gateway.Confirm(ctx, paymentKey, orderID, declaredCents)
	if err == nil {
		return r.settle(ctx, rec, paymentKey, res.TotalAmountCents, res.Method)
	}

	if gateway.IsAmbiguous(err) {
		outcome, recovered := r.recover(ctx, rec, paymentKey)
		if recovered {
			return outcome, nil
		}
	}
	return nil, err
}

// recover resolves an ambiguous confirm failure: if the provider's own
// status endpoint says the payment is DONE, the confirm actually succeeded
// and only its response was lost. Settle with the provider-reported amount.
// At most one extra round-trip; anything inconclusive surfaces the original
// error.
func (r *Reconciler) recover(ctx context.Context, rec *model.PaymentRecord, paymentKey string) (*ConfirmOutcome, bool) {
	lookup, err := r.Gateway.Status(ctx, paymentKey)
	if err != nil {
		r.Log.Warn("payment status lookup failed during recovery",
			zap.String("order_id", rec.ProviderOrderID), zap.Error(err))
		return nil, false
	}
	if lookup.Status != gateway.PaymentDone {
		return nil, false
	}

	outcome, err := r.settle(ctx, rec, paymentKey, lookup.TotalAmountCents, lookup.Method)
	if err != nil {
		r.Log.Error("failed to settle recovered payment",
			zap.String("order_id", rec.ProviderOrderID), zap.Error(err))
		return nil, false
	}
	metrics.PaymentRecoveriesTotal.Inc()
	r.Log.Info("recovered ambiguous payment via status query",
		zap.String("order_id", rec.ProviderOrderID),
		zap.Int64("amount_cents", outcome.AmountCents))
	return outcome, true
}

func (r *Reconciler) settle(ctx context.Context, rec *model.PaymentRecord, paymentKey string, amountCents int64, method string) (*ConfirmOutcome, error) {
	balance, err := r.Ledger.Credit(ctx, rec.TenantID, amountCents, model.LedgerKindTopup, model.LedgerMeta{
		PaymentKey: paymentKey,
		OrderID:    rec.ProviderOrderID,
		Method:     method,
	})
	if err != nil {
		return nil, fmt.Errorf("credit wallet: %w", err)
	}

	if _, err := r.Payments.MarkPaid(ctx, rec.ProviderOrderID, paymentKey); err != nil {
		// The credit has committed; a failed record update is an operator
		// problem, not a reason to report the top-up as failed.
		r.Log.Error("wallet credited but payment record not marked paid",
			zap.String("order_id", rec.ProviderOrderID), zap.Error(err))
	}

	return &ConfirmOutcome{
		BalanceCents: balance,
		AmountCents:  amountCents,
		Method:       method,
	}, nil
}

// IsUserFacing reports whether err should surface as a 4xx rather than a
// server error.
func IsUserFacing(err error) bool {
	var mismatch *apperr.ErrAmountMismatch
	var notFound *apperr.ErrPaymentNotFound
	return errors.As(err, &mismatch) || errors.As(err, &notFound)
}
