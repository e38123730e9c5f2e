// internal/dispatch/worker.go
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tmrdanny/taghere-crm-sub004/internal/apperr"
	"github.com/tmrdanny/taghere-crm-sub004/internal/gateway"
	"github.com/tmrdanny/taghere-crm-sub004/internal/metrics"
	"github.com/tmrdanny/taghere-crm-sub004/internal/model"
	"github.com/tmrdanny/taghere-crm-sub004/internal/repository"
)

// MaxRetries bounds transient-failure attempts per message; the claim that
// pushes retry_count past it marks the message FAILED for good.
const MaxRetries = 3

// BalanceReader is the pre-flight wallet check.
type BalanceReader interface {
	Balance(ctx context.Context, tenantID string) (int64, error)
}

// Alerter raises the low-balance alert after a debit (or a refused one).
type Alerter interface {
	MaybeNotify(ctx context.Context, tenantID string, balanceCents int64)
}

// Worker is one channel's polling loop. Three instances run per process, one
// per channel; all coordination between them goes through the store's
// conditional claims, never shared memory.
type Worker struct {
	Adapter   ChannelAdapter
	Outbox    repository.OutboxRepositoryInterface
	Campaigns repository.CampaignRepositoryInterface
	Wallet    BalanceReader
	Costs     *CostTable
	Alerter   Alerter

	Interval  time.Duration
	BatchSize int
	Log       *zap.Logger
}

// Run polls until ctx is canceled. Cycle errors are logged, never fatal: the
// next tick retries against whatever state the store is in.
func (w *Worker) Run(ctx context.Context) {
	log := w.Log.With(zap.String("channel", string(w.Adapter.Channel())))
	log.Info("dispatch worker started",
		zap.Duration("interval", w.Interval), zap.Int("batch_size", w.BatchSize))

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("dispatch worker stopped")
			return
		case <-ticker.C:
			if err := w.RunCycle(ctx); err != nil {
				log.Warn("poll cycle aborted", zap.Error(err))
			}
		}
	}
}

// RunCycle claims one batch and drives every claimed message to an outcome.
// A config error (operator-side) releases the rest of the batch and aborts
// the cycle; the messages become claimable again on the next tick.
func (w *Worker) RunCycle(ctx context.Context) error {
	channel := w.Adapter.Channel()
	batch, err := w.Outbox.ClaimBatch(ctx, channel, w.BatchSize, w.Adapter.MinAge())
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		return nil
	}
	metrics.ClaimedMessages.WithLabelValues(string(channel)).Add(float64(len(batch)))

	touched := newCampaignSet()

	if w.Adapter.Concurrent() {
		var wg sync.WaitGroup
		for _, msg := range batch {
			wg.Add(1)
			go func(m *model.OutboxMessage) {
				defer wg.Done()
				if err := w.process(ctx, m, touched); err != nil {
					w.Log.Warn("message left claimable after config error",
						zap.String("message_id", m.ID), zap.Error(err))
				}
			}(msg)
		}
		wg.Wait()
	} else {
		for i, msg := range batch {
			if err := w.process(ctx, msg, touched); err != nil {
				// Operator-side problem: put the untouched remainder back.
				for _, rest := range batch[i+1:] {
					if relErr := w.Outbox.Release(ctx, rest.ID); relErr != nil {
						w.Log.Error("failed to release claim", zap.String("message_id", rest.ID), zap.Error(relErr))
					}
				}
				w.completeCampaigns(ctx, touched)
				return err
			}
		}
	}

	w.completeCampaigns(ctx, touched)
	return nil
}

// process drives one claimed message to PENDING/RETRY/SENT/FAILED. The
// returned error is non-nil only for config errors that should abort the
// cycle.
func (w *Worker) process(ctx context.Context, msg *model.OutboxMessage, touched *campaignSet) error {
	log := w.Log.With(
		zap.String("message_id", msg.ID),
		zap.String("tenant_id", msg.TenantID),
		zap.String("channel", string(msg.Channel)))

	cost := w.Costs.For(msg)

	// Financial precondition before any provider call: a tenant that cannot
	// pay gets a terminal failure and a one-time alert, never a retry loop.
	if cost > 0 {
		balance, err := w.Wallet.Balance(ctx, msg.TenantID)
		if err != nil {
			log.Error("balance pre-check failed, releasing claim", zap.Error(err))
			w.release(ctx, msg)
			return nil
		}
		if balance < cost {
			w.fail(ctx, msg, model.FailReasonInsufficientBalance, touched)
			if w.Alerter != nil {
				w.Alerter.MaybeNotify(ctx, msg.TenantID, balance)
			}
			log.Info("message failed on insufficient balance",
				zap.Int64("balance_cents", balance), zap.Int64("cost_cents", cost))
			return nil
		}
	}

	ref, err := w.Adapter.Dispatch(ctx, msg)
	switch {
	case err == nil:
		w.settle(ctx, msg, ref, cost, touched, log)
		return nil

	case errors.Is(err, ErrNotReady):
		w.release(ctx, msg)
		return nil

	case gateway.IsConfigError(err):
		// Not the message's fault; leave it claimable and stop the cycle.
		w.release(ctx, msg)
		return err

	default:
		var df *DeliveryFailedError
		if errors.As(err, &df) {
			w.fail(ctx, msg, df.Reason, touched)
			log.Info("message failed", zap.String("reason", df.Reason))
			return nil
		}
		var pe *gateway.ProviderError
		if errors.As(err, &pe) && !gateway.IsTransient(err) {
			// Permanent provider rejection; a retry would hit the same wall.
			w.fail(ctx, msg, pe.Error(), touched)
			log.Info("message rejected by provider", zap.Error(pe))
			return nil
		}
		w.retryOrFail(ctx, msg, err, touched, log)
		return nil
	}
}

func (w *Worker) settle(ctx context.Context, msg *model.OutboxMessage, ref string, cost int64, touched *campaignSet, log *zap.Logger) {
	balance, err := w.Outbox.SettleSent(ctx, repository.SettleParams{
		MessageID:   msg.ID,
		TenantID:    msg.TenantID,
		CampaignID:  msg.CampaignID,
		ProviderRef: ref,
		CostCents:   cost,
	})
	if err != nil {
		if errors.Is(err, apperr.ErrInsufficientBalance) {
			// Lost the balance race between pre-check and debit. Same outcome
			// as failing the pre-check, discovered later.
			w.fail(ctx, msg, model.FailReasonInsufficientBalance, touched)
			if w.Alerter != nil {
				if balance, berr := w.Wallet.Balance(ctx, msg.TenantID); berr == nil {
					w.Alerter.MaybeNotify(ctx, msg.TenantID, balance)
				}
			}
			return
		}
		// The provider accepted the message but our settle did not commit.
		// Leave it claimable: re-dispatch is the documented at-least-once
		// trade-off, silent loss is not.
		log.Error("settle transaction failed, releasing claim", zap.Error(err))
		w.release(ctx, msg)
		return
	}

	touched.add(msg.CampaignID)
	metrics.DispatchAttemptsTotal.WithLabelValues(string(msg.Channel), "sent").Inc()
	if cost > 0 {
		metrics.WalletDebitsTotal.WithLabelValues(string(model.LedgerKindSendDebit)).Inc()
		if w.Alerter != nil {
			w.Alerter.MaybeNotify(ctx, msg.TenantID, balance)
		}
	}
	log.Info("message sent", zap.String("provider_ref", ref), zap.Int64("cost_cents", cost))
}

func (w *Worker) retryOrFail(ctx context.Context, msg *model.OutboxMessage, cause error, touched *campaignSet, log *zap.Logger) {
	if msg.RetryCount+1 >= MaxRetries {
		w.fail(ctx, msg, model.FailReasonMaxRetries+": "+cause.Error(), touched)
		log.Warn("message failed after max retries", zap.Error(cause))
		return
	}
	if err := w.Outbox.MarkRetry(ctx, msg.ID, cause.Error()); err != nil {
		log.Error("failed to mark retry", zap.Error(err))
		return
	}
	metrics.DispatchRetriesTotal.WithLabelValues(string(msg.Channel)).Inc()
	log.Info("message scheduled for retry",
		zap.Int("retry_count", msg.RetryCount+1), zap.Error(cause))
}

func (w *Worker) fail(ctx context.Context, msg *model.OutboxMessage, reason string, touched *campaignSet) {
	if err := w.Outbox.MarkFailed(ctx, msg.ID, reason); err != nil {
		w.Log.Error("failed to mark message failed",
			zap.String("message_id", msg.ID), zap.Error(err))
		return
	}
	touched.add(msg.CampaignID)
	metrics.DispatchAttemptsTotal.WithLabelValues(string(msg.Channel), "failed").Inc()
}

func (w *Worker) release(ctx context.Context, msg *model.OutboxMessage) {
	if err := w.Outbox.Release(ctx, msg.ID); err != nil {
		w.Log.Error("failed to release claim",
			zap.String("message_id", msg.ID), zap.Error(err))
	}
}

// completeCampaigns closes campaigns whose last undelivered message reached a
// terminal state this cycle.
func (w *Worker) completeCampaigns(ctx context.Context, touched *campaignSet) {
	for _, id := range touched.ids() {
		pending, err := w.Outbox.PendingCountByCampaign(ctx, id)
		if err != nil {
			w.Log.Error("campaign completion check failed",
				zap.String("campaign_id", id), zap.Error(err))
			continue
		}
		if pending > 0 {
			continue
		}
		done, err := w.Campaigns.MarkCompleted(ctx, id)
		if err != nil {
			w.Log.Error("failed to mark campaign completed",
				zap.String("campaign_id", id), zap.Error(err))
			continue
		}
		if done {
			w.Log.Info("campaign completed", zap.String("campaign_id", id))
		}
	}
}

// campaignSet tracks campaigns touched in one cycle; push batches add to it
// from multiple goroutines.
type campaignSet struct {
	mu  sync.Mutex
	set map[string]struct{}
}

func newCampaignSet() *campaignSet {
	return &campaignSet{set: make(map[string]struct{})}
}

func (s *campaignSet) add(id *string) {
	if id == nil {
		return
	}
	s.mu.Lock()
	s.set[*id] = struct{}{}
	s.mu.Unlock()
}

func (s *campaignSet) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.set))
	for id := range s.set {
		out = append(out, id)
	}
	return out
}
