// Package domain contains the read-only subscription model. meterd never
// mutates subscriptions; rows are written by the billing control plane and
// consumed here to enrich exported meters and resolve billing anchors.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Subscription captures an organization's billing agreement as mirrored
// from the external billing provider.
type Subscription struct {
	ID             snowflake.ID      `gorm:"primaryKey" json:"-"`
	OrganizationID string            `gorm:"not null;uniqueIndex" json:"organization_id"`
	CustomerID     string            `gorm:"not null" json:"customer_id"`
	SubscriptionID string            `gorm:"not null" json:"subscription_id"`
	Plan           string            `gorm:"type:text;not null" json:"plan"`
	Active         bool              `gorm:"not null;default:true" json:"active"`
	Anchor         *int              `gorm:"type:smallint" json:"anchor,omitempty"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb" json:"-"`
	CreatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"-"`
	UpdatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"-"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }
