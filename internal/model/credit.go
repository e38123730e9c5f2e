// internal/model/credit.go
package model

import "time"

// CreditAllocation is a tenant's free-message quota for one calendar month.
// Created lazily on first access in that month; unused credits never carry
// over. UsedCredits only grows except by explicit admin adjustment.
type CreditAllocation struct {
	ID           string    `db:"id" json:"id"`
	TenantID     string    `db:"tenant_id" json:"tenant_id"`
	YearMonth    string    `db:"year_month" json:"year_month"` // "2026-08"
	TotalCredits int       `db:"total_credits" json:"total_credits"`
	UsedCredits  int       `db:"used_credits" json:"used_credits"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

func (a *CreditAllocation) Remaining() int {
	if r := a.TotalCredits - a.UsedCredits; r > 0 {
		return r
	}
	return 0
}

// CreditUsage is an append-only child of an allocation recording one
// consumption.
type CreditUsage struct {
	ID           string    `db:"id" json:"id"`
	AllocationID string    `db:"allocation_id" json:"allocation_id"`
	CampaignRef  string    `db:"campaign_ref" json:"campaign_ref"`
	Channel      Channel   `db:"channel" json:"channel"`
	UnitsUsed    int       `db:"units_used" json:"units_used"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// CostSplit is the free/paid breakdown of a requested send count.
type CostSplit struct {
	Free           int   `json:"free_count"`
	Paid           int   `json:"paid_count"`
	TotalCostCents int64 `json:"total_cost_cents"`
}
