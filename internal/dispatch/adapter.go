// internal/dispatch/adapter.go
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/tmrdanny/taghere-crm-sub004/internal/gateway"
	"github.com/tmrdanny/taghere-crm-sub004/internal/metrics"
	"github.com/tmrdanny/taghere-crm-sub004/internal/model"
)

// ErrNotReady means the provider has no final status yet. The message goes
// back to PENDING without consuming a retry.
var ErrNotReady = errors.New("delivery status not final yet")

// DeliveryFailedError is a provider-reported terminal delivery failure.
type DeliveryFailedError struct {
	Reason string
}

func (e *DeliveryFailedError) Error() string {
	return "delivery failed: " + e.Reason
}

// ChannelAdapter is the per-channel strategy behind the shared worker: the
// claim/settle transaction logic exists once, parameterized by how a channel
// turns a claimed message into a provider outcome.
type ChannelAdapter interface {
	Channel() model.Channel
	// MinAge is the dwell time a message must reach before it is claimable.
	MinAge() time.Duration
	// Concurrent reports whether a claimed batch may be processed in
	// parallel.
	Concurrent() bool
	// Dispatch resolves the message against the provider and returns the
	// provider reference for the settle transaction.
	Dispatch(ctx context.Context, msg *model.OutboxMessage) (string, error)
}

// PushAdapter sends transactional AlimTalk messages one by one. Each
// message's settlement is independent, so batches run in parallel.
type PushAdapter struct {
	Gateway gateway.MessageGateway
}

func (a *PushAdapter) Channel() model.Channel { return model.ChannelAlimTalk }

func (a *PushAdapter) MinAge() time.Duration { return 0 }

func (a *PushAdapter) Concurrent() bool { return true }

func (a *PushAdapter) Dispatch(ctx context.Context, msg *model.OutboxMessage) (string, error) {
	if msg.TemplateCode == "" {
		return "", &gateway.ConfigError{Reason: fmt.Sprintf("message %s has no template code", msg.ID)}
	}

	start := time.Now()
	res, err := a.Gateway.Send(ctx, gateway.SendRequest{
		Channel:      model.ChannelAlimTalk,
		Recipient:    msg.Recipient,
		TemplateCode: msg.TemplateCode,
		Variables:    msg.Variables,
	})
	metrics.ProviderCallDuration.WithLabelValues(string(model.ChannelAlimTalk), "send").
		Observe(time.Since(start).Seconds())
	if err != nil {
		return "", err
	}
	return res.ProviderMessageID, nil
}

// GroupPollAdapter covers the two SMS channels: the provider accepted the
// batch at enqueue time (group id on the message), so dispatching is purely
// polling that group's delivery status after the dwell time. Status queries
// are rate limited and batches run sequentially to respect the provider.
type GroupPollAdapter struct {
	ChannelID model.Channel
	Gateway   gateway.MessageGateway
	Dwell     time.Duration
	Limiter   *rate.Limiter
}

func (a *GroupPollAdapter) Channel() model.Channel { return a.ChannelID }

func (a *GroupPollAdapter) MinAge() time.Duration { return a.Dwell }

func (a *GroupPollAdapter) Concurrent() bool { return false }

func (a *GroupPollAdapter) Dispatch(ctx context.Context, msg *model.OutboxMessage) (string, error) {
	if msg.ProviderGroupID == "" {
		// Enqueue never produced a group: nothing to poll, nothing to bill.
		return "", &DeliveryFailedError{Reason: "no provider group reference"}
	}

	if a.Limiter != nil {
		if err := a.Limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	start := time.Now()
	st, err := a.Gateway.GroupStatus(ctx, msg.ProviderGroupID, msg.Recipient)
	metrics.ProviderCallDuration.WithLabelValues(string(a.ChannelID), "group_status").
		Observe(time.Since(start).Seconds())
	if err != nil {
		return "", err
	}

	switch st.Status {
	case gateway.DeliverySent:
		return msg.ProviderGroupID, nil
	case gateway.DeliveryFailed:
		reason := st.FailReason
		if reason == "" {
			reason = "provider reported delivery failure"
		}
		return "", &DeliveryFailedError{Reason: reason}
	default:
		return "", ErrNotReady
	}
}
