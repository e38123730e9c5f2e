// internal/campaign/expander.go
package campaign

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tmrdanny/taghere-crm-sub004/internal/gateway"
	"github.com/tmrdanny/taghere-crm-sub004/internal/model"
	"github.com/tmrdanny/taghere-crm-sub004/internal/queue"
	"github.com/tmrdanny/taghere-crm-sub004/internal/repository"
)

// Expander consumes queued send jobs and materializes them into outbox rows.
// For SMS channels it also opens the provider-side group up front, so every
// row carries the group id the dispatch worker later polls against.
type Expander struct {
	Campaigns repository.CampaignRepositoryInterface
	Outbox    repository.OutboxRepositoryInterface
	Gateway   gateway.MessageGateway
	Log       *zap.Logger
}

// Register attaches the expander to the queue.
func (e *Expander) Register(q queue.Queue) error {
	return q.Subscribe(TopicCampaignSends, e.HandleExpand)
}

// HandleExpand runs on the worker side of the queue. Enqueue is idempotent
// per campaign and recipient, so a redelivered job cannot duplicate rows.
func (e *Expander) HandleExpand(body []byte) error {
	var job ExpandJob
	if err := json.Unmarshal(body, &job); err != nil {
		// Malformed payloads never become valid; drop instead of requeue.
		e.Log.Error("dropping malformed expand job", zap.Error(err))
		return nil
	}
	if len(job.Recipients) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	c, err := e.Campaigns.GetByID(ctx, job.CampaignID)
	if err != nil {
		return fmt.Errorf("expand campaign %s: %w", job.CampaignID, err)
	}

	groupID := ""
	if c.Channel != model.ChannelAlimTalk {
		phones := make([]string, len(job.Recipients))
		for i, r := range job.Recipients {
			phones[i] = r.Phone
		}
		res, err := e.Gateway.CreateGroup(ctx, gateway.GroupSendRequest{
			Channel:      c.Channel,
			TemplateCode: c.TemplateCode,
			Body:         c.Body,
			Recipients:   phones,
		})
		if err != nil {
			return fmt.Errorf("create provider group for campaign %s: %w", c.ID, err)
		}
		groupID = res.GroupID
	}

	scheduledAt := scheduledOrNow(c)
	enqueued := 0
	for i, rcpt := range job.Recipients {
		cost := job.UnitCostCents
		if i < job.FreeUnits {
			cost = 0
		}
		campaignID := c.ID
		msg := &model.OutboxMessage{
			TenantID:        c.TenantID,
			CampaignID:      &campaignID,
			Channel:         c.Channel,
			Kind:            model.KindCampaign,
			Recipient:       rcpt.Phone,
			TemplateCode:    c.TemplateCode,
			Variables:       rcpt.Variables,
			CostCents:       cost,
			ScheduledAt:     scheduledAt,
			ProviderGroupID: groupID,
			IdempotencyKey:  c.ID + ":" + rcpt.Phone,
		}
		if _, err := e.Outbox.Enqueue(ctx, msg); err != nil {
			return fmt.Errorf("enqueue campaign %s recipient %s: %w", c.ID, rcpt.Phone, err)
		}
		enqueued++
	}

	e.Log.Info("campaign expanded",
		zap.String("campaign_id", c.ID),
		zap.String("channel", string(c.Channel)),
		zap.Int("rows", enqueued),
		zap.String("provider_group_id", groupID))
	return nil
}
