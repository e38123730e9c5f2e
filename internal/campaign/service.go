// internal/campaign/service.go
package campaign

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tmrdanny/taghere-crm-sub004/internal/apperr"
	"github.com/tmrdanny/taghere-crm-sub004/internal/credit"
	"github.com/tmrdanny/taghere-crm-sub004/internal/dispatch"
	"github.com/tmrdanny/taghere-crm-sub004/internal/model"
	"github.com/tmrdanny/taghere-crm-sub004/internal/queue"
	"github.com/tmrdanny/taghere-crm-sub004/internal/repository"
)

// TopicCampaignSends carries expansion jobs from the API to the worker
// process.
const TopicCampaignSends = "campaign_sends"

// Recipient is one campaign target with its template variables.
type Recipient struct {
	Phone     string            `json:"phone"`
	Variables map[string]string `json:"variables,omitempty"`
}

// ExpandJob is the queued unit of campaign fan-out. FreeUnits of the batch
// were covered by monthly credits at send time and are enqueued at zero
// cost.
type ExpandJob struct {
	CampaignID    string      `json:"campaign_id"`
	Recipients    []Recipient `json:"recipients"`
	FreeUnits     int         `json:"free_units"`
	UnitCostCents int64       `json:"unit_cost_cents"`
}

type SendResult struct {
	CampaignID     string `json:"campaign_id"`
	MessagesQueued int    `json:"messages_queued"`
	FreeCount      int    `json:"free_count"`
	PaidCount      int    `json:"paid_count"`
	TotalCostCents int64  `json:"total_cost_cents"`
	Status         string `json:"status"`
}

type CampaignDetails struct {
	*model.Campaign
	Stats *model.CampaignStats `json:"stats"`
}

type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
	TotalPages int `json:"total_pages"`
}

type Service struct {
	Campaigns repository.CampaignRepositoryInterface
	Credits   *credit.Allocator
	Costs     *dispatch.CostTable
	Queue     queue.Queue
	Log       *zap.Logger
}

func (s *Service) CreateCampaign(ctx context.Context, c *model.Campaign) error {
	c.Status = model.CampaignDraft
	return s.Campaigns.Create(ctx, c)
}

func (s *Service) ListCampaigns(ctx context.Context, tenantID string, page, pageSize int, channel, status string) ([]*model.Campaign, *Pagination, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	campaigns, total, err := s.Campaigns.List(ctx, tenantID, offset, pageSize, channel, status)
	if err != nil {
		return nil, nil, err
	}

	return campaigns, &Pagination{
		Page:       page,
		PageSize:   pageSize,
		TotalCount: total,
		TotalPages: (total + pageSize - 1) / pageSize,
	}, nil
}

func (s *Service) GetDetailsWithStats(ctx context.Context, id string) (*CampaignDetails, error) {
	c, err := s.Campaigns.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	stats, err := s.Campaigns.Stats(ctx, id)
	if err != nil {
		return nil, err
	}
	return &CampaignDetails{Campaign: c, Stats: stats}, nil
}

// SendCampaign splits the batch against the tenant's monthly credits, burns
// the free units, and hands fan-out to the queue. Outbox rows are created by
// the consumer side (Expander), keeping the request path quick for large
// audiences.
func (s *Service) SendCampaign(ctx context.Context, campaignID string, recipients []Recipient) (*SendResult, error) {
	c, err := s.Campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if c.Status != model.CampaignDraft && c.Status != model.CampaignSending {
		return nil, &apperr.ErrInvalidSendState{CampaignID: campaignID, Status: string(c.Status)}
	}

	unitCost := s.Costs.UnitCost(c.Channel, model.KindCampaign)
	split, err := s.Credits.SplitCost(ctx, c.TenantID, len(recipients), unitCost, c.CreditEligible)
	if err != nil {
		return nil, err
	}

	// Burn the free units now; a race against another campaign can shrink
	// the consumed amount, and only what was actually consumed ships free.
	consumed := 0
	if split.Free > 0 {
		consumed, err = s.Credits.Consume(ctx, c.TenantID, split.Free, c.ID, c.Channel)
		if err != nil {
			return nil, err
		}
	}

	job := ExpandJob{
		CampaignID:    c.ID,
		Recipients:    recipients,
		FreeUnits:     consumed,
		UnitCostCents: unitCost,
	}
	if err := s.Queue.Publish(TopicCampaignSends, job); err != nil {
		// Nothing was queued, so the burned credits buy nothing. Hand them
		// back; if the release fails too the usage log still shows the
		// unmatched consumption for an operator to reconcile.
		if consumed > 0 {
			if _, rerr := s.Credits.Release(ctx, c.TenantID, consumed, c.ID, c.Channel); rerr != nil {
				s.Log.Error("failed to release credits after publish failure",
					zap.String("campaign_id", c.ID),
					zap.Int("units", consumed),
					zap.Error(rerr))
			}
		}
		return nil, err
	}

	if c.Status != model.CampaignSending {
		if err := s.Campaigns.UpdateStatus(ctx, c.ID, model.CampaignSending); err != nil {
			return nil, err
		}
	}

	paid := len(recipients) - consumed
	s.Log.Info("campaign send queued",
		zap.String("campaign_id", c.ID),
		zap.Int("recipients", len(recipients)),
		zap.Int("free", consumed),
		zap.Int("paid", paid))

	return &SendResult{
		CampaignID:     c.ID,
		MessagesQueued: len(recipients),
		FreeCount:      consumed,
		PaidCount:      paid,
		TotalCostCents: int64(paid) * unitCost,
		Status:         string(model.CampaignSending),
	}, nil
}

// scheduledOrNow lets scheduled campaigns carry their dispatch time onto the
// outbox rows.
func scheduledOrNow(c *model.Campaign) time.Time {
	if c.ScheduledAt != nil && c.ScheduledAt.After(time.Now()) {
		return *c.ScheduledAt
	}
	return time.Now()
}
