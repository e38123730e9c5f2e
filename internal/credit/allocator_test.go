// internal/credit/allocator_test.go
package credit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmrdanny/taghere-crm-sub004/internal/credit"
	"github.com/tmrdanny/taghere-crm-sub004/internal/model"
)

// fakeCreditRepo keeps allocations in memory, one per tenant and month.
type fakeCreditRepo struct {
	allocations map[string]*model.CreditAllocation
	usages      []int
}

func newFakeCreditRepo() *fakeCreditRepo {
	return &fakeCreditRepo{allocations: make(map[string]*model.CreditAllocation)}
}

func (f *fakeCreditRepo) key(tenantID, yearMonth string) string {
	return tenantID + "|" + yearMonth
}

func (f *fakeCreditRepo) GetOrCreate(_ context.Context, tenantID, yearMonth string, defaultQuota int) (*model.CreditAllocation, error) {
	k := f.key(tenantID, yearMonth)
	if a, ok := f.allocations[k]; ok {
		return a, nil
	}
	a := &model.CreditAllocation{
		ID:           k,
		TenantID:     tenantID,
		YearMonth:    yearMonth,
		TotalCredits: defaultQuota,
	}
	f.allocations[k] = a
	return a, nil
}

func (f *fakeCreditRepo) Consume(ctx context.Context, tenantID, yearMonth string, units int, campaignRef string, channel model.Channel) (int, error) {
	a, err := f.GetOrCreate(ctx, tenantID, yearMonth, 0)
	if err != nil {
		return 0, err
	}
	consumed := units
	if remaining := a.Remaining(); consumed > remaining {
		consumed = remaining
	}
	a.UsedCredits += consumed
	f.usages = append(f.usages, consumed)
	return consumed, nil
}

func (f *fakeCreditRepo) Release(ctx context.Context, tenantID, yearMonth string, units int, campaignRef string, channel model.Channel) (int, error) {
	a, err := f.GetOrCreate(ctx, tenantID, yearMonth, 0)
	if err != nil {
		return 0, err
	}
	released := units
	if released > a.UsedCredits {
		released = a.UsedCredits
	}
	a.UsedCredits -= released
	f.usages = append(f.usages, -released)
	return released, nil
}

func (f *fakeCreditRepo) Adjust(ctx context.Context, tenantID, yearMonth string, totalDelta int) error {
	a, err := f.GetOrCreate(ctx, tenantID, yearMonth, 0)
	if err != nil {
		return err
	}
	a.TotalCredits += totalDelta
	return nil
}

func fixedClock(year int, month time.Month) func() time.Time {
	return func() time.Time {
		return time.Date(year, month, 15, 12, 0, 0, 0, time.UTC)
	}
}

func TestSplitCostCoversBatchWithCredits(t *testing.T) {
	repo := newFakeCreditRepo()
	alloc := credit.NewAllocator(repo, 30)
	alloc.SetClock(fixedClock(2026, time.March))

	// 45 recipients at 50 per unit: 30 free, 15 paid.
	split, err := alloc.SplitCost(context.Background(), "t1", 45, 50, true)
	require.NoError(t, err)
	assert.Equal(t, 30, split.Free)
	assert.Equal(t, 15, split.Paid)
	assert.Equal(t, int64(750), split.TotalCostCents)
}

func TestSplitCostIneligibleCampaignPaysFull(t *testing.T) {
	repo := newFakeCreditRepo()
	alloc := credit.NewAllocator(repo, 30)
	alloc.SetClock(fixedClock(2026, time.March))

	split, err := alloc.SplitCost(context.Background(), "t1", 10, 50, false)
	require.NoError(t, err)
	assert.Equal(t, 0, split.Free)
	assert.Equal(t, 10, split.Paid)
	assert.Equal(t, int64(500), split.TotalCostCents)
}

func TestConsumeIsCappedAtRemaining(t *testing.T) {
	repo := newFakeCreditRepo()
	alloc := credit.NewAllocator(repo, 30)
	alloc.SetClock(fixedClock(2026, time.March))

	ctx := context.Background()
	consumed, err := alloc.Consume(ctx, "t1", 20, "c1", model.ChannelSMS)
	require.NoError(t, err)
	assert.Equal(t, 20, consumed)

	// Only 10 left; asking for 20 more consumes 10.
	consumed, err = alloc.Consume(ctx, "t1", 20, "c2", model.ChannelSMS)
	require.NoError(t, err)
	assert.Equal(t, 10, consumed)

	remaining, err := alloc.Remaining(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)
}

func TestReleaseRestoresConsumedCredits(t *testing.T) {
	repo := newFakeCreditRepo()
	alloc := credit.NewAllocator(repo, 30)
	alloc.SetClock(fixedClock(2026, time.March))

	ctx := context.Background()
	_, err := alloc.Consume(ctx, "t1", 20, "c1", model.ChannelSMS)
	require.NoError(t, err)

	released, err := alloc.Release(ctx, "t1", 20, "c1", model.ChannelSMS)
	require.NoError(t, err)
	assert.Equal(t, 20, released)

	remaining, err := alloc.Remaining(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 30, remaining)

	// A release can never restore more than the month has used.
	released, err = alloc.Release(ctx, "t1", 5, "c1", model.ChannelSMS)
	require.NoError(t, err)
	assert.Zero(t, released)
}

func TestAdjustChangesCurrentQuota(t *testing.T) {
	repo := newFakeCreditRepo()
	alloc := credit.NewAllocator(repo, 30)
	alloc.SetClock(fixedClock(2026, time.March))

	ctx := context.Background()
	require.NoError(t, alloc.Adjust(ctx, "t1", 20))

	remaining, err := alloc.Remaining(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 50, remaining)
}

func TestNewMonthGetsFreshQuota(t *testing.T) {
	repo := newFakeCreditRepo()
	alloc := credit.NewAllocator(repo, 30)
	alloc.SetClock(fixedClock(2026, time.March))

	ctx := context.Background()
	_, err := alloc.Consume(ctx, "t1", 30, "c1", model.ChannelSMS)
	require.NoError(t, err)

	// Unused credits never carry over; a fresh month starts at the quota.
	alloc.SetClock(fixedClock(2026, time.April))
	remaining, err := alloc.Remaining(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 30, remaining)
}
