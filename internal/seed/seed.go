// Package seed bootstraps a development database with a default
// organization subscription so local setups work out of the box.
package seed

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	meterdomain "github.com/evalhub/meterd/internal/meter/domain"
	subscriptiondomain "github.com/evalhub/meterd/internal/subscription/domain"
	"gorm.io/gorm"
)

const (
	devOrganizationID = "org_dev"
	devCustomerID     = "cus_dev"
	devSubscription   = "sub_dev"
	devPlan           = "developer"
)

// AutoMigrate creates the schema through gorm for dialects the embedded
// sql migrations do not cover.
func AutoMigrate(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}
	return db.AutoMigrate(
		&subscriptiondomain.Subscription{},
		&meterdomain.Meter{},
	)
}

// EnsureDevSubscription seeds the default development subscription,
// anchored to the first of the month. Existing rows are left untouched.
func EnsureDevSubscription(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing subscriptiondomain.Subscription
		err := tx.Where("organization_id = ?", devOrganizationID).First(&existing).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		anchor := 1
		return tx.Create(&subscriptiondomain.Subscription{
			ID:             node.Generate(),
			OrganizationID: devOrganizationID,
			CustomerID:     devCustomerID,
			SubscriptionID: devSubscription,
			Plan:           devPlan,
			Active:         true,
			Anchor:         &anchor,
		}).Error
	})
}
