// internal/model/campaign.go
package model

import "time"

type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignSending   CampaignStatus = "sending"
	CampaignCompleted CampaignStatus = "completed"
)

// Campaign is the parent aggregate of campaign outbox messages. Sent/failed
// counters and spend are incremented inside each message's settle transaction
// so they never drift from the ledger.
type Campaign struct {
	ID             string         `db:"id" json:"id"`
	TenantID       string         `db:"tenant_id" json:"tenant_id"`
	Name           string         `db:"name" json:"name"`
	Channel        Channel        `db:"channel" json:"channel"`
	Status         CampaignStatus `db:"status" json:"status"`
	TemplateCode   string         `db:"template_code" json:"template_code"`
	Body           string         `db:"body" json:"body"`
	CreditEligible bool           `db:"credit_eligible" json:"credit_eligible"`
	SentCount      int            `db:"sent_count" json:"sent_count"`
	FailedCount    int            `db:"failed_count" json:"failed_count"`
	SpentCents     int64          `db:"spent_cents" json:"spent_cents"`
	ScheduledAt    *time.Time     `db:"scheduled_at" json:"scheduled_at,omitempty"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      *time.Time     `db:"updated_at" json:"updated_at,omitempty"`
}

// CampaignStats is the per-status message breakdown shown on the dashboard.
type CampaignStats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Retry      int `json:"retry"`
	Sent       int `json:"sent"`
	Failed     int `json:"failed"`
}
