// internal/wallet/notifier.go
package wallet

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/tmrdanny/taghere-crm-sub004/internal/metrics"
	"github.com/tmrdanny/taghere-crm-sub004/internal/model"
)

// OutboxEnqueuer is the slice of the outbox repository the notifier needs.
type OutboxEnqueuer interface {
	Enqueue(ctx context.Context, msg *model.OutboxMessage) (*model.OutboxMessage, error)
	HasPendingKind(ctx context.Context, tenantID string, kind model.MessageKind) (bool, error)
}

// Notifier enqueues one cost-exempt LOW_BALANCE alert when a debit leaves the
// balance under the threshold. The alert is free by the cost table, not by a
// suppressed balance check, so it can never recursively trigger itself.
// Enqueue failures are logged and swallowed; the triggering debit has already
// committed and must not be rolled back or blocked.
type Notifier struct {
	Outbox         OutboxEnqueuer
	ThresholdCents int64
	AlertRecipient func(tenantID string) string
	Log            *zap.Logger
}

func NewNotifier(outbox OutboxEnqueuer, thresholdCents int64, log *zap.Logger) *Notifier {
	return &Notifier{
		Outbox:         outbox,
		ThresholdCents: thresholdCents,
		AlertRecipient: func(tenantID string) string { return "tenant:" + tenantID },
		Log:            log,
	}
}

func (n *Notifier) MaybeNotify(ctx context.Context, tenantID string, balanceCents int64) {
	if balanceCents >= n.ThresholdCents {
		return
	}

	// Fast path only. Concurrent settles can both pass this check; the
	// deterministic idempotency key below is what actually keeps the alert
	// single, enforced by the outbox unique index.
	pending, err := n.Outbox.HasPendingKind(ctx, tenantID, model.KindLowBalance)
	if err != nil {
		n.Log.Warn("low-balance alert suppression check failed",
			zap.String("tenant_id", tenantID), zap.Error(err))
		return
	}
	if pending {
		return
	}

	msg := &model.OutboxMessage{
		TenantID:       tenantID,
		Channel:        model.ChannelAlimTalk,
		Kind:           model.KindLowBalance,
		Recipient:      n.AlertRecipient(tenantID),
		TemplateCode:   "low_balance_alert",
		Variables:      map[string]string{"balance_cents": formatCents(balanceCents)},
		CostCents:      0,
		IdempotencyKey: lowBalanceKey(tenantID, time.Now().UTC()),
	}
	created, err := n.Outbox.Enqueue(ctx, msg)
	if err != nil {
		n.Log.Warn("failed to enqueue low-balance alert",
			zap.String("tenant_id", tenantID), zap.Error(err))
		return
	}
	if created.ID != msg.ID {
		// Landed on an alert another settle already enqueued today.
		return
	}

	metrics.LowBalanceAlertsTotal.Inc()
	n.Log.Info("low-balance alert enqueued",
		zap.String("tenant_id", tenantID),
		zap.Int64("balance_cents", balanceCents))
}

// lowBalanceKey is deterministic per tenant and UTC day, so two settles
// racing below the threshold collapse onto one outbox row. At most one alert
// per tenant per day.
func lowBalanceKey(tenantID string, at time.Time) string {
	return "low-balance:" + tenantID + ":" + at.Format("2006-01-02")
}

func formatCents(v int64) string {
	return strconv.FormatInt(v, 10)
}
