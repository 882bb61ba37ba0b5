package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Service orchestrates admission checks, atomic adjustments and the
// dump/bump synchronization cycle.
type Service interface {
	// Check is a read-only admission check. The returned meter carries the
	// stored pre-adjustment value; callers use allowed to decide whether
	// to follow up with Adjust. Check results are advisory snapshots, not
	// reservations.
	Check(ctx context.Context, delta MeterDelta, quota Quota, anchor *int) (bool, Meter, error)

	// Adjust atomically admits and applies the delta. The returned
	// rollback hook is a no-op today; callers must still invoke it on any
	// post-commit failure path.
	Adjust(ctx context.Context, delta MeterDelta, quota Quota, anchor *int) (bool, Meter, func(), error)

	// Fetch lists meter rows for reporting.
	Fetch(ctx context.Context, filter MeterFilter) ([]Meter, error)

	// Dump exports dirty rows with subscription context attached. Rows
	// that fail conversion are logged and skipped, never aborting the
	// export.
	Dump(ctx context.Context, limit int) ([]Meter, error)

	// Bump acknowledges synced values in chunks with per-row fallback.
	// Missing rows are counted but tolerated; only rows that fail after
	// the row-level retry surface as a *SyncError.
	Bump(ctx context.Context, meters []Meter) error
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidKey          = errors.New("invalid_meter_key")
	ErrInvalidPeriod       = errors.New("invalid_meter_period")
	// ErrMissingDelta is a programming-contract violation: Adjust was
	// called with neither a delta nor an absolute value under a limited
	// strict quota.
	ErrMissingDelta = errors.New("missing_delta_or_value")
)

// SyncError aggregates rows that could not be acknowledged after the
// chunk-level commit and the row-level fallback were both exhausted.
type SyncError struct {
	Failed  int
	Samples []string
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("unresolved sync failures after row fallback: failed=%d samples=[%s]",
		e.Failed, strings.Join(e.Samples, ", "))
}
