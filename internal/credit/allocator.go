// internal/credit/allocator.go
package credit

import (
	"context"
	"time"

	"github.com/tmrdanny/taghere-crm-sub004/internal/model"
	"github.com/tmrdanny/taghere-crm-sub004/internal/repository"
)

// Allocator owns each tenant's monthly free-message quota and converts a
// requested send count into a free/paid split. Rollover is implicit: the
// first access in a new month creates a fresh allocation and leftover
// credits simply stop being readable.
type Allocator struct {
	Repo         repository.CreditRepositoryInterface
	DefaultQuota int

	// now is swappable for tests crossing month boundaries.
	now func() time.Time
}

func NewAllocator(repo repository.CreditRepositoryInterface, defaultQuota int) *Allocator {
	return &Allocator{Repo: repo, DefaultQuota: defaultQuota, now: time.Now}
}

// SetClock replaces the time source. Tests use it to cross month
// boundaries.
func (a *Allocator) SetClock(now func() time.Time) {
	a.now = now
}

func (a *Allocator) period() string {
	return a.clock().Format("2006-01")
}

func (a *Allocator) clock() time.Time {
	if a.now != nil {
		return a.now()
	}
	return time.Now()
}

// GetOrCreateAllocation returns the current month's allocation, creating it
// with the default quota if absent. Idempotent per tenant+month.
func (a *Allocator) GetOrCreateAllocation(ctx context.Context, tenantID string) (*model.CreditAllocation, error) {
	return a.Repo.GetOrCreate(ctx, tenantID, a.period(), a.DefaultQuota)
}

// Remaining returns max(0, total-used) for the current month.
func (a *Allocator) Remaining(ctx context.Context, tenantID string) (int, error) {
	alloc, err := a.GetOrCreateAllocation(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	return alloc.Remaining(), nil
}

// SplitCost breaks a requested count into free and paid units. Campaign
// types not eligible for credits pay for everything.
func (a *Allocator) SplitCost(ctx context.Context, tenantID string, requested int, perUnitCents int64, eligible bool) (model.CostSplit, error) {
	if !eligible {
		return model.CostSplit{
			Free:           0,
			Paid:           requested,
			TotalCostCents: int64(requested) * perUnitCents,
		}, nil
	}

	remaining, err := a.Remaining(ctx, tenantID)
	if err != nil {
		return model.CostSplit{}, err
	}

	free := requested
	if free > remaining {
		free = remaining
	}
	paid := requested - free
	return model.CostSplit{
		Free:           free,
		Paid:           paid,
		TotalCostCents: int64(paid) * perUnitCents,
	}, nil
}

// Adjust applies an operator change to the current month's quota, creating
// the allocation first so a tenant untouched this month can still be
// adjusted.
func (a *Allocator) Adjust(ctx context.Context, tenantID string, totalDelta int) error {
	if _, err := a.GetOrCreateAllocation(ctx, tenantID); err != nil {
		return err
	}
	return a.Repo.Adjust(ctx, tenantID, a.period(), totalDelta)
}

// Release hands back credits consumed for a send that was never queued.
// Returns the units actually restored, capped at what the month has used.
func (a *Allocator) Release(ctx context.Context, tenantID string, count int, campaignRef string, channel model.Channel) (int, error) {
	return a.Repo.Release(ctx, tenantID, a.period(), count, campaignRef, channel)
}

// Consume burns up to count credits and logs the usage. The actual amount
// may be lower than requested if a concurrent consumer shrank the remainder;
// the repository re-reads remaining inside the consuming transaction.
func (a *Allocator) Consume(ctx context.Context, tenantID string, count int, campaignRef string, channel model.Channel) (int, error) {
	if _, err := a.GetOrCreateAllocation(ctx, tenantID); err != nil {
		return 0, err
	}
	return a.Repo.Consume(ctx, tenantID, a.period(), count, campaignRef, channel)
}
