// internal/dispatch/cost.go
package dispatch

import "github.com/tmrdanny/taghere-crm-sub004/internal/model"

type costKey struct {
	Channel model.Channel
	Kind    model.MessageKind
}

// CostTable maps (channel, kind) to a fixed price in minor units. System
// alert kinds are always free: pricing them would make a low-balance alert
// debit the wallet and re-trigger itself.
type CostTable struct {
	rates map[costKey]int64
}

func DefaultCostTable() *CostTable {
	return &CostTable{rates: map[costKey]int64{
		{model.ChannelAlimTalk, model.KindCampaign}:       15,
		{model.ChannelAlimTalk, model.KindWaitlistCall}:   15,
		{model.ChannelAlimTalk, model.KindStampReward}:    15,
		{model.ChannelSMS, model.KindCampaign}:            20,
		{model.ChannelExternalSMS, model.KindCampaign}:    30,
		{model.ChannelAlimTalk, model.KindLowBalance}:     0,
	}}
}

// UnitCost is the list price for one unit on a channel, used when pricing a
// campaign at enqueue time.
func (t *CostTable) UnitCost(channel model.Channel, kind model.MessageKind) int64 {
	if t.Exempt(kind) {
		return 0
	}
	return t.rates[costKey{channel, kind}]
}

// Exempt kinds are never billed on any channel.
func (t *CostTable) Exempt(kind model.MessageKind) bool {
	return kind == model.KindLowBalance
}

// For resolves the dispatch-time cost of a message. Campaign messages are
// priced at enqueue (free-credit units carry zero) and keep that price;
// everything else takes the table rate.
func (t *CostTable) For(msg *model.OutboxMessage) int64 {
	if t.Exempt(msg.Kind) {
		return 0
	}
	if msg.Kind == model.KindCampaign {
		return msg.CostCents
	}
	return t.rates[costKey{msg.Channel, msg.Kind}]
}
