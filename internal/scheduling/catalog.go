package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Catalog is the read side of the schedule blocks.
type Catalog struct {
	store *PostgresStore
}

// NewCatalog wraps store.
func NewCatalog(store *PostgresStore) *Catalog {
	if store == nil {
		panic("scheduling: store required")
	}
	return &Catalog{store: store}
}

// Get returns a block by id, active or not.
func (c *Catalog) Get(ctx context.Context, id uuid.UUID) (*ScheduleBlock, error) {
	return c.store.GetBlock(ctx, nil, id)
}

// Resolve returns the active block a doctor works on day, earliest start
// first, optionally restricted to a branch.
func (c *Catalog) Resolve(ctx context.Context, doctorID uuid.UUID, day Weekday, branchID *uuid.UUID) (*ScheduleBlock, error) {
	return c.store.FindBlockForDay(ctx, doctorID, day, branchID)
}

// ListForDoctor returns a doctor's active blocks.
func (c *Catalog) ListForDoctor(ctx context.Context, doctorID uuid.UUID) ([]ScheduleBlock, error) {
	return c.store.ListBlocksByDoctor(ctx, doctorID)
}

// IsCancelled reports whether an approved cancellation covers the doctor's
// session at branch on date.
func (c *Catalog) IsCancelled(ctx context.Context, doctorID, branchID uuid.UUID, date time.Time) (bool, error) {
	return c.store.HasApprovedCancellation(ctx, doctorID, branchID, date)
}
