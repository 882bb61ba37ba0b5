package domain

import (
	"context"

	"gorm.io/gorm"
)

// Repository is the persistence contract for meter rows. All cross-request
// serialization for a given row happens inside ConditionalUpsert; the
// service layer holds no locks of its own.
type Repository interface {
	// GetOne is a point lookup; returns nil when the row is absent.
	GetOne(ctx context.Context, db *gorm.DB, organizationID, key string, year, month int) (*Meter, error)

	// GetMany is a filtered scan for reporting. Zero-valued filters are
	// skipped.
	GetMany(ctx context.Context, db *gorm.DB, filter MeterFilter) ([]Meter, error)

	// GetUnsynced returns dirty rows (synced != value) ordered by
	// (organization_id, key, year, month), with the organization's
	// subscription attached when one exists. limit <= 0 means no limit.
	GetUnsynced(ctx context.Context, db *gorm.DB, limit int) ([]Meter, error)

	// ConditionalUpsert inserts the row with value = max(desired, 0) when
	// absent; when present it atomically recomputes
	// value = max(value + inc | set, 0), but only if pred holds against
	// the row at the moment of the write. Returns the committed value, or
	// nil when the predicate rejected the write (no row mutated).
	ConditionalUpsert(ctx context.Context, db *gorm.DB, delta MeterDelta, desired int64, pred Predicate) (*int64, error)

	// SetSynced updates the synced column by primary key and reports the
	// number of rows affected (0 or 1). It never creates rows and is
	// idempotent.
	SetSynced(ctx context.Context, db *gorm.DB, organizationID, key string, year, month int, synced int64) (int64, error)
}

// MeterFilter narrows GetMany. OrganizationID is required.
type MeterFilter struct {
	OrganizationID string
	Key            string
	Year           int
	Month          int
}
