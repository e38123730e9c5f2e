// internal/payment/reconciler_test.go
package payment_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tmrdanny/taghere-crm-sub004/internal/apperr"
	"github.com/tmrdanny/taghere-crm-sub004/internal/gateway"
	"github.com/tmrdanny/taghere-crm-sub004/internal/model"
	"github.com/tmrdanny/taghere-crm-sub004/internal/payment"
)

type fakePaymentRepo struct {
	records map[string]*model.PaymentRecord
	paid    []string
}

func (f *fakePaymentRepo) Create(_ context.Context, rec *model.PaymentRecord) error {
	f.records[rec.ProviderOrderID] = rec
	return nil
}

func (f *fakePaymentRepo) GetByOrderID(_ context.Context, orderID string) (*model.PaymentRecord, error) {
	rec, ok := f.records[orderID]
	if !ok {
		return nil, apperr.NewPaymentNotFound(orderID)
	}
	return rec, nil
}

func (f *fakePaymentRepo) MarkPaid(_ context.Context, orderID, paymentKey string) (bool, error) {
	rec, ok := f.records[orderID]
	if !ok || rec.Status != model.PaymentPending {
		return false, nil
	}
	rec.Status = model.PaymentPaid
	rec.ProviderPaymentKey = paymentKey
	f.paid = append(f.paid, orderID)
	return true, nil
}

// fakeLedger records credits and serves the payment-key idempotency probe.
type fakeLedger struct {
	balance int64
	entries map[string]*model.LedgerEntry
	credits int
}

func (f *fakeLedger) Credit(_ context.Context, tenantID string, amountCents int64, kind model.LedgerKind, meta model.LedgerMeta) (int64, error) {
	f.balance += amountCents
	f.credits++
	f.entries[meta.PaymentKey] = &model.LedgerEntry{
		TenantID:   tenantID,
		DeltaCents: amountCents,
		Kind:       kind,
		Meta:       meta,
	}
	return f.balance, nil
}

func (f *fakeLedger) Balance(_ context.Context, _ string) (int64, error) {
	return f.balance, nil
}

func (f *fakeLedger) FindEntryByPaymentKey(_ context.Context, paymentKey string) (*model.LedgerEntry, error) {
	return f.entries[paymentKey], nil
}

type fakePayGateway struct {
	confirmRes   *gateway.ConfirmResult
	confirmErr   error
	confirmCalls int
	statusRes    *gateway.PaymentLookup
	statusErr    error
	statusCalls  int
}

func (f *fakePayGateway) Confirm(_ context.Context, _, _ string, _ int64) (*gateway.ConfirmResult, error) {
	f.confirmCalls++
	if f.confirmErr != nil {
		return nil, f.confirmErr
	}
	return f.confirmRes, nil
}

func (f *fakePayGateway) Status(_ context.Context, _ string) (*gateway.PaymentLookup, error) {
	f.statusCalls++
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return f.statusRes, nil
}

func newFixture(amountCents int64) (*fakePaymentRepo, *fakeLedger, *fakePayGateway, *payment.Reconciler) {
	repo := &fakePaymentRepo{records: map[string]*model.PaymentRecord{
		"order-1": {
			ID:              "p1",
			TenantID:        "t1",
			ProviderOrderID: "order-1",
			AmountCents:     amountCents,
			Status:          model.PaymentPending,
		},
	}}
	ledger := &fakeLedger{entries: make(map[string]*model.LedgerEntry)}
	gw := &fakePayGateway{}
	rec := payment.NewReconciler(repo, ledger, gw, zap.NewNop())
	return repo, ledger, gw, rec
}

func TestConfirmCreditsWalletOnce(t *testing.T) {
	repo, ledger, gw, rec := newFixture(50000)
	gw.confirmRes = &gateway.ConfirmResult{Status: gateway.PaymentDone, TotalAmountCents: 50000, Method: "CARD"}

	ctx := context.Background()
	out, err := rec.Confirm(ctx, "pay-key-1", "order-1", 50000)
	require.NoError(t, err)
	assert.Equal(t, int64(50000), out.BalanceCents)
	assert.False(t, out.AlreadySettled)
	assert.Equal(t, model.PaymentPaid, repo.records["order-1"].Status)

	// A retried confirm with the same key must not double-credit.
	out, err = rec.Confirm(ctx, "pay-key-1", "order-1", 50000)
	require.NoError(t, err)
	assert.True(t, out.AlreadySettled)
	assert.Equal(t, int64(50000), out.BalanceCents)
	assert.Equal(t, 1, ledger.credits)
	assert.Equal(t, 1, gw.confirmCalls)
}

func TestConfirmRejectsAmountMismatch(t *testing.T) {
	_, ledger, gw, rec := newFixture(50000)

	_, err := rec.Confirm(context.Background(), "pay-key-1", "order-1", 49999)
	var mismatch *apperr.ErrAmountMismatch
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, int64(50000), mismatch.ExpectedCents)
	assert.Zero(t, gw.confirmCalls)
	assert.Zero(t, ledger.credits)
}

func TestConfirmRecoversAmbiguousFailure(t *testing.T) {
	repo, ledger, gw, rec := newFixture(50000)
	gw.confirmErr = &gateway.PaymentError{HTTPStatus: 400, Code: gateway.PayErrAlreadyProcessed}
	gw.statusRes = &gateway.PaymentLookup{Status: gateway.PaymentDone, TotalAmountCents: 50000, Method: "CARD"}

	out, err := rec.Confirm(context.Background(), "pay-key-1", "order-1", 50000)
	require.NoError(t, err)
	assert.Equal(t, int64(50000), out.BalanceCents)
	assert.Equal(t, 1, gw.statusCalls)
	assert.Equal(t, 1, ledger.credits)
	assert.Equal(t, model.PaymentPaid, repo.records["order-1"].Status)
}

func TestConfirmSurfacesUnrecoverableAmbiguity(t *testing.T) {
	_, ledger, gw, rec := newFixture(50000)
	gw.confirmErr = &gateway.PaymentError{HTTPStatus: 500, Code: gateway.PayErrProviderProcessing}
	gw.statusRes = &gateway.PaymentLookup{Status: "IN_PROGRESS"}

	_, err := rec.Confirm(context.Background(), "pay-key-1", "order-1", 50000)
	require.Error(t, err)
	assert.True(t, gateway.IsAmbiguous(err))
	assert.Zero(t, ledger.credits)
}

func TestConfirmPlainFailureDoesNotQueryStatus(t *testing.T) {
	_, ledger, gw, rec := newFixture(50000)
	gw.confirmErr = &gateway.PaymentError{HTTPStatus: 400, Code: "INVALID_CARD"}

	_, err := rec.Confirm(context.Background(), "pay-key-1", "order-1", 50000)
	require.Error(t, err)
	assert.Zero(t, gw.statusCalls)
	assert.Zero(t, ledger.credits)
}
