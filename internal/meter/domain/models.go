// Package domain defines the persisted usage meter and the value types the
// admission and synchronization paths exchange.
package domain

import (
	"fmt"
	"time"

	subscriptiondomain "github.com/evalhub/meterd/internal/subscription/domain"
)

// Meter is one usage counter, keyed by organization, resource key and
// billing period. Value accumulates usage; Synced is the last value
// acknowledged by the external billing reporter. A row where
// Synced != Value is dirty and forms the working set of Dump/Bump.
type Meter struct {
	OrganizationID string `gorm:"primaryKey;size:64" json:"organization_id"`
	Key            string `gorm:"primaryKey;size:128" json:"key"`
	Year           int    `gorm:"primaryKey" json:"year"`
	Month          int    `gorm:"primaryKey" json:"month"`
	Value          int64  `gorm:"not null" json:"value"`
	Synced         int64  `gorm:"not null;default:0" json:"synced"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"-"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"-"`

	// Attached on export only, never persisted from here.
	Subscription *subscriptiondomain.Subscription `gorm:"-" json:"subscription,omitempty"`
}

// TableName sets the database table name.
func (Meter) TableName() string { return "meters" }

// RowKey renders the composite key for logs and error samples.
func (m Meter) RowKey() string {
	return fmt.Sprintf("%s/%s:%d-%d", m.OrganizationID, m.Key, m.Year, m.Month)
}

// Dirty reports whether the row still has usage the billing reporter has
// not acknowledged.
func (m Meter) Dirty() bool { return m.Synced != m.Value }

// MeterDelta is the transient input to Check and Adjust. Exactly one of
// Inc (signed increment) or Set (absolute target) should be set; Set only
// applies when no row exists yet. Year and Month are ignored for monthly
// quotas, where the period is recomputed from the billing anchor.
type MeterDelta struct {
	OrganizationID string `json:"organization_id"`
	Key            string `json:"key"`
	Year           int    `json:"year"`
	Month          int    `json:"month"`
	Inc            *int64 `json:"delta,omitempty"`
	Set            *int64 `json:"value,omitempty"`
}

// Quota is the caller-supplied admission policy for one meter key.
// A nil Limit means unlimited. Strict quotas evaluate the post-increment
// value; soft quotas evaluate the pre-increment value and therefore allow
// a single overshoot.
type Quota struct {
	Limit   *int64 `json:"limit,omitempty"`
	Monthly bool   `json:"monthly"`
	Strict  bool   `json:"strict"`
}

// PredicateKind selects the admission condition the store re-evaluates
// against the committed row at write time.
type PredicateKind int

const (
	// PredicateAlways admits unconditionally (unlimited quota).
	PredicateAlways PredicateKind = iota
	// PredicateStrict admits iff the post-increment value stays at or
	// under the limit.
	PredicateStrict
	// PredicateSoft admits iff the current stored value is at or under
	// the limit.
	PredicateSoft
)

// Predicate is the store-level admission condition. It is evaluated inside
// the conditional upsert against the row's value at commit time, which is
// what keeps concurrent Adjust calls race-safe.
type Predicate struct {
	Kind  PredicateKind
	Limit int64
}
