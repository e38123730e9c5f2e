// internal/model/message.go
package model

import "time"

// Channel is a distinct messaging transport.
type Channel string

const (
	ChannelAlimTalk    Channel = "ALIMTALK"     // transactional KakaoTalk push
	ChannelSMS         Channel = "SMS"          // first-party SMS campaigns
	ChannelExternalSMS Channel = "EXTERNAL_SMS" // third-party SMS campaigns
)

// MessageKind decides pricing and credit eligibility of an outbox message.
type MessageKind string

const (
	KindCampaign     MessageKind = "CAMPAIGN"
	KindWaitlistCall MessageKind = "WAITLIST_CALL"
	KindStampReward  MessageKind = "STAMP_REWARD"
	KindLowBalance   MessageKind = "LOW_BALANCE"
)

type MessageStatus string

const (
	StatusPending    MessageStatus = "PENDING"
	StatusProcessing MessageStatus = "PROCESSING"
	StatusRetry      MessageStatus = "RETRY"
	StatusSent       MessageStatus = "SENT"
	StatusFailed     MessageStatus = "FAILED"
)

// Terminal fail reasons surfaced to operators.
const (
	FailReasonInsufficientBalance = "INSUFFICIENT_BALANCE"
	FailReasonMaxRetries          = "MAX_RETRIES_EXCEEDED"
)

// OutboxMessage is a durable outgoing message record. Rows are created by the
// API or by system services (low-balance alerts, waitlist calls) and mutated
// only by the dispatch worker that claims them. Rows are never deleted; they
// are the audit trail for billing support.
type OutboxMessage struct {
	ID              string            `db:"id" json:"id"`
	TenantID        string            `db:"tenant_id" json:"tenant_id"`
	CampaignID      *string           `db:"campaign_id" json:"campaign_id,omitempty"`
	Channel         Channel           `db:"channel" json:"channel"`
	Kind            MessageKind       `db:"kind" json:"kind"`
	Recipient       string            `db:"recipient" json:"recipient"`
	TemplateCode    string            `db:"template_code" json:"template_code"`
	Variables       map[string]string `db:"variables" json:"variables,omitempty"`
	CostCents       int64             `db:"cost_cents" json:"cost_cents"`
	Status          MessageStatus     `db:"status" json:"status"`
	RetryCount      int               `db:"retry_count" json:"retry_count"`
	ScheduledAt     time.Time         `db:"scheduled_at" json:"scheduled_at"`
	ProviderGroupID string            `db:"provider_group_id" json:"provider_group_id,omitempty"`
	ProviderRef     string            `db:"provider_ref" json:"provider_ref,omitempty"`
	FailReason      string            `db:"fail_reason" json:"fail_reason,omitempty"`
	IdempotencyKey  string            `db:"idempotency_key" json:"idempotency_key"`
	CreatedAt       time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time         `db:"updated_at" json:"updated_at"`
}

// Billable reports whether dispatching this message debits the wallet.
// LOW_BALANCE alerts are always free; charging them would re-trigger the
// alert on its own debit.
func (m *OutboxMessage) Billable() bool {
	return m.Kind != KindLowBalance && m.CostCents > 0
}
