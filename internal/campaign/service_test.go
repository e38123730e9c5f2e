// internal/campaign/service_test.go
package campaign_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/tmrdanny/taghere-crm-sub004/internal/apperr"
	"github.com/tmrdanny/taghere-crm-sub004/internal/campaign"
	"github.com/tmrdanny/taghere-crm-sub004/internal/credit"
	"github.com/tmrdanny/taghere-crm-sub004/internal/dispatch"
	"github.com/tmrdanny/taghere-crm-sub004/internal/gateway"
	"github.com/tmrdanny/taghere-crm-sub004/internal/model"
	"github.com/tmrdanny/taghere-crm-sub004/internal/queue"
	"github.com/tmrdanny/taghere-crm-sub004/internal/repository"
)

// --- Fakes ---

type fakeCampaignRepo struct {
	campaigns map[string]*model.Campaign
	statuses  []model.CampaignStatus
}

func (f *fakeCampaignRepo) Create(_ context.Context, c *model.Campaign) error {
	f.campaigns[c.ID] = c
	return nil
}
func (f *fakeCampaignRepo) GetByID(_ context.Context, id string) (*model.Campaign, error) {
	c, ok := f.campaigns[id]
	if !ok {
		return nil, apperr.NewCampaignNotFound(id)
	}
	return c, nil
}
func (f *fakeCampaignRepo) List(_ context.Context, _ string, _, _ int, _, _ string) ([]*model.Campaign, int, error) {
	return nil, 0, nil
}
func (f *fakeCampaignRepo) UpdateStatus(_ context.Context, id string, status model.CampaignStatus) error {
	f.campaigns[id].Status = status
	f.statuses = append(f.statuses, status)
	return nil
}
func (f *fakeCampaignRepo) MarkCompleted(_ context.Context, _ string) (bool, error) {
	return false, nil
}
func (f *fakeCampaignRepo) Stats(_ context.Context, _ string) (*model.CampaignStats, error) {
	return &model.CampaignStats{}, nil
}

type fakeCreditRepo struct {
	total, used int
}

func (f *fakeCreditRepo) GetOrCreate(_ context.Context, tenantID, yearMonth string, defaultQuota int) (*model.CreditAllocation, error) {
	if f.total == 0 {
		f.total = defaultQuota
	}
	return &model.CreditAllocation{TenantID: tenantID, YearMonth: yearMonth, TotalCredits: f.total, UsedCredits: f.used}, nil
}
func (f *fakeCreditRepo) Consume(_ context.Context, _, _ string, units int, _ string, _ model.Channel) (int, error) {
	remaining := f.total - f.used
	if units > remaining {
		units = remaining
	}
	f.used += units
	return units, nil
}
func (f *fakeCreditRepo) Release(_ context.Context, _, _ string, units int, _ string, _ model.Channel) (int, error) {
	if units > f.used {
		units = f.used
	}
	f.used -= units
	return units, nil
}
func (f *fakeCreditRepo) Adjust(_ context.Context, _, _ string, delta int) error {
	f.total += delta
	return nil
}

type publishedJob struct {
	topic   string
	payload any
}

type fakeQueue struct {
	published  []publishedJob
	publishErr error
}

func (f *fakeQueue) Publish(topic string, payload any) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, publishedJob{topic, payload})
	return nil
}
func (f *fakeQueue) Subscribe(_ string, _ queue.Handler) error { return nil }

type enqueuedOutbox struct {
	messages map[string]*model.OutboxMessage
}

func (f *enqueuedOutbox) Enqueue(_ context.Context, msg *model.OutboxMessage) (*model.OutboxMessage, error) {
	if existing, ok := f.messages[msg.IdempotencyKey]; ok {
		return existing, nil
	}
	f.messages[msg.IdempotencyKey] = msg
	return msg, nil
}
func (f *enqueuedOutbox) GetByID(_ context.Context, _ string) (*model.OutboxMessage, error) {
	return nil, nil
}
func (f *enqueuedOutbox) ClaimBatch(_ context.Context, _ model.Channel, _ int, _ time.Duration) ([]*model.OutboxMessage, error) {
	return nil, nil
}
func (f *enqueuedOutbox) SettleSent(_ context.Context, _ repository.SettleParams) (int64, error) {
	return 0, nil
}
func (f *enqueuedOutbox) MarkRetry(_ context.Context, _, _ string) error  { return nil }
func (f *enqueuedOutbox) MarkFailed(_ context.Context, _, _ string) error { return nil }
func (f *enqueuedOutbox) Release(_ context.Context, _ string) error       { return nil }
func (f *enqueuedOutbox) HasPendingKind(_ context.Context, _ string, _ model.MessageKind) (bool, error) {
	return false, nil
}
func (f *enqueuedOutbox) PendingCountByCampaign(_ context.Context, _ string) (int, error) {
	return 0, nil
}

type fakeMsgGateway struct {
	groups  int
	groupID string
}

func (f *fakeMsgGateway) Send(_ context.Context, _ gateway.SendRequest) (*gateway.SendResult, error) {
	return &gateway.SendResult{ProviderMessageID: "msg-1"}, nil
}
func (f *fakeMsgGateway) CreateGroup(_ context.Context, req gateway.GroupSendRequest) (*gateway.GroupSendResult, error) {
	f.groups++
	return &gateway.GroupSendResult{GroupID: f.groupID}, nil
}
func (f *fakeMsgGateway) GroupStatus(_ context.Context, _, _ string) (*gateway.StatusResult, error) {
	return &gateway.StatusResult{Status: gateway.DeliveryPending}, nil
}

func recipients(n int) []campaign.Recipient {
	out := make([]campaign.Recipient, n)
	for i := range out {
		out[i] = campaign.Recipient{Phone: "+8210" + string(rune('0'+i%10)) + "0000000"}
	}
	return out
}

func newService(repo *fakeCampaignRepo, credits *fakeCreditRepo, q *fakeQueue) *campaign.Service {
	return &campaign.Service{
		Campaigns: repo,
		Credits:   credit.NewAllocator(credits, 30),
		Costs:     dispatch.DefaultCostTable(),
		Queue:     q,
		Log:       zap.NewNop(),
	}
}

// --- Tests ---

func TestSendCampaignSplitsCreditsAndPublishes(t *testing.T) {
	repo := &fakeCampaignRepo{campaigns: map[string]*model.Campaign{
		"c1": {ID: "c1", TenantID: "t1", Channel: model.ChannelSMS, Status: model.CampaignDraft, CreditEligible: true},
	}}
	credits := &fakeCreditRepo{}
	q := &fakeQueue{}
	svc := newService(repo, credits, q)

	result, err := svc.SendCampaign(context.Background(), "c1", recipients(45))
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}

	// 30 monthly credits cover 30 of 45; the rest bills at the SMS rate.
	if result.FreeCount != 30 || result.PaidCount != 15 {
		t.Errorf("expected 30 free / 15 paid, got %d/%d", result.FreeCount, result.PaidCount)
	}
	if result.TotalCostCents != 15*20 {
		t.Errorf("expected total cost 300, got %d", result.TotalCostCents)
	}
	if repo.campaigns["c1"].Status != model.CampaignSending {
		t.Errorf("expected campaign in sending, got %s", repo.campaigns["c1"].Status)
	}

	if len(q.published) != 1 || q.published[0].topic != campaign.TopicCampaignSends {
		t.Fatalf("expected 1 job on %s, got %+v", campaign.TopicCampaignSends, q.published)
	}
	job := q.published[0].payload.(campaign.ExpandJob)
	if job.FreeUnits != 30 || job.UnitCostCents != 20 {
		t.Errorf("unexpected job: %+v", job)
	}
}

func TestSendCampaignRejectsCompletedCampaign(t *testing.T) {
	repo := &fakeCampaignRepo{campaigns: map[string]*model.Campaign{
		"c1": {ID: "c1", TenantID: "t1", Channel: model.ChannelSMS, Status: model.CampaignCompleted},
	}}
	svc := newService(repo, &fakeCreditRepo{}, &fakeQueue{})

	_, err := svc.SendCampaign(context.Background(), "c1", recipients(5))
	var badState *apperr.ErrInvalidSendState
	if !errors.As(err, &badState) {
		t.Fatalf("expected invalid send state, got %v", err)
	}
}

func TestSendCampaignReturnsCreditsWhenPublishFails(t *testing.T) {
	repo := &fakeCampaignRepo{campaigns: map[string]*model.Campaign{
		"c1": {ID: "c1", TenantID: "t1", Channel: model.ChannelSMS, Status: model.CampaignDraft, CreditEligible: true},
	}}
	credits := &fakeCreditRepo{}
	q := &fakeQueue{publishErr: errors.New("broker down")}
	svc := newService(repo, credits, q)

	_, err := svc.SendCampaign(context.Background(), "c1", recipients(10))
	if err == nil {
		t.Fatal("expected publish failure to surface")
	}

	// No job was queued, so the consumed credits must come back.
	if credits.used != 0 {
		t.Errorf("expected credits returned after publish failure, got %d used", credits.used)
	}
	if repo.campaigns["c1"].Status != model.CampaignDraft {
		t.Errorf("expected campaign left in draft, got %s", repo.campaigns["c1"].Status)
	}
}

func TestSendIneligibleCampaignConsumesNoCredits(t *testing.T) {
	repo := &fakeCampaignRepo{campaigns: map[string]*model.Campaign{
		"c1": {ID: "c1", TenantID: "t1", Channel: model.ChannelAlimTalk, Status: model.CampaignDraft, CreditEligible: false},
	}}
	credits := &fakeCreditRepo{}
	svc := newService(repo, credits, &fakeQueue{})

	result, err := svc.SendCampaign(context.Background(), "c1", recipients(10))
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if result.FreeCount != 0 || result.PaidCount != 10 {
		t.Errorf("expected all paid, got %d/%d", result.FreeCount, result.PaidCount)
	}
	if credits.used != 0 {
		t.Errorf("expected no credits consumed, got %d", credits.used)
	}
}

func TestExpandCreatesGroupAndOutboxRows(t *testing.T) {
	repo := &fakeCampaignRepo{campaigns: map[string]*model.Campaign{
		"c1": {ID: "c1", TenantID: "t1", Channel: model.ChannelSMS, Status: model.CampaignSending, Body: "promo text"},
	}}
	outbox := &enqueuedOutbox{messages: make(map[string]*model.OutboxMessage)}
	gw := &fakeMsgGateway{groupID: "grp-1"}
	exp := &campaign.Expander{Campaigns: repo, Outbox: outbox, Gateway: gw, Log: zap.NewNop()}

	job := campaign.ExpandJob{
		CampaignID:    "c1",
		Recipients:    []campaign.Recipient{{Phone: "+821011111111"}, {Phone: "+821022222222"}, {Phone: "+821033333333"}},
		FreeUnits:     2,
		UnitCostCents: 20,
	}
	body, _ := json.Marshal(job)
	if err := exp.HandleExpand(body); err != nil {
		t.Fatalf("expand failed: %v", err)
	}

	if gw.groups != 1 {
		t.Errorf("expected 1 provider group, got %d", gw.groups)
	}
	if len(outbox.messages) != 3 {
		t.Fatalf("expected 3 outbox rows, got %d", len(outbox.messages))
	}

	free, paid := 0, 0
	for _, msg := range outbox.messages {
		if msg.ProviderGroupID != "grp-1" {
			t.Errorf("row missing group id: %+v", msg)
		}
		if msg.CostCents == 0 {
			free++
		} else if msg.CostCents == 20 {
			paid++
		}
	}
	if free != 2 || paid != 1 {
		t.Errorf("expected 2 free / 1 paid rows, got %d/%d", free, paid)
	}

	// Redelivery of the same job must not duplicate rows.
	if err := exp.HandleExpand(body); err != nil {
		t.Fatalf("redelivered expand failed: %v", err)
	}
	if len(outbox.messages) != 3 {
		t.Errorf("expected idempotent expand, got %d rows", len(outbox.messages))
	}
}

func TestSendCampaignFansOutThroughQueue(t *testing.T) {
	repo := &fakeCampaignRepo{campaigns: map[string]*model.Campaign{
		"c1": {ID: "c1", TenantID: "t1", Channel: model.ChannelSMS, Status: model.CampaignDraft, CreditEligible: true, Body: "promo"},
	}}
	outbox := &enqueuedOutbox{messages: make(map[string]*model.OutboxMessage)}
	gw := &fakeMsgGateway{groupID: "grp-1"}
	q := queue.NewInMemoryQueue()

	exp := &campaign.Expander{Campaigns: repo, Outbox: outbox, Gateway: gw, Log: zap.NewNop()}
	if err := exp.Register(q); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	svc := &campaign.Service{
		Campaigns: repo,
		Credits:   credit.NewAllocator(&fakeCreditRepo{}, 30),
		Costs:     dispatch.DefaultCostTable(),
		Queue:     q,
		Log:       zap.NewNop(),
	}

	// The in-memory queue delivers synchronously, so the outbox is populated
	// by the time SendCampaign returns.
	if _, err := svc.SendCampaign(context.Background(), "c1", recipients(5)); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if len(outbox.messages) != 5 {
		t.Fatalf("expected 5 outbox rows, got %d", len(outbox.messages))
	}
	for _, msg := range outbox.messages {
		if msg.ProviderGroupID != "grp-1" {
			t.Errorf("row missing provider group: %+v", msg)
		}
		if msg.CostCents != 0 {
			t.Errorf("all 5 fit in the free quota, got cost %d", msg.CostCents)
		}
	}
}

func TestExpandPushChannelSkipsGroupCreation(t *testing.T) {
	repo := &fakeCampaignRepo{campaigns: map[string]*model.Campaign{
		"c1": {ID: "c1", TenantID: "t1", Channel: model.ChannelAlimTalk, Status: model.CampaignSending, TemplateCode: "welcome_v2"},
	}}
	outbox := &enqueuedOutbox{messages: make(map[string]*model.OutboxMessage)}
	gw := &fakeMsgGateway{groupID: "grp-1"}
	exp := &campaign.Expander{Campaigns: repo, Outbox: outbox, Gateway: gw, Log: zap.NewNop()}

	body, _ := json.Marshal(campaign.ExpandJob{
		CampaignID: "c1",
		Recipients: []campaign.Recipient{{Phone: "+821011111111"}},
	})
	if err := exp.HandleExpand(body); err != nil {
		t.Fatalf("expand failed: %v", err)
	}
	if gw.groups != 0 {
		t.Error("push channel must not create a provider group")
	}
	for _, msg := range outbox.messages {
		if msg.TemplateCode != "welcome_v2" {
			t.Errorf("expected template carried onto row, got %q", msg.TemplateCode)
		}
	}
}
