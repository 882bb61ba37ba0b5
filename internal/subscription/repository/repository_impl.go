package repository

import (
	"context"
	"strings"
	"time"

	subscriptiondomain "github.com/evalhub/meterd/internal/subscription/domain"
	"github.com/evalhub/meterd/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) FindByOrganizationID(ctx context.Context, conn *gorm.DB, organizationID string) (*subscriptiondomain.Subscription, error) {
	organizationID = strings.TrimSpace(organizationID)
	if organizationID == "" {
		return nil, subscriptiondomain.ErrInvalidOrganization
	}

	var subscription subscriptiondomain.Subscription
	err := conn.WithContext(ctx).Raw(
		`SELECT id, organization_id, customer_id, subscription_id, plan, active, anchor, created_at, updated_at
		 FROM subscriptions WHERE organization_id = ?`,
		organizationID,
	).Scan(&subscription).Error
	if err != nil {
		return nil, err
	}
	if subscription.ID == 0 {
		return nil, nil
	}
	return &subscription, nil
}

func (r *repo) List(ctx context.Context, conn *gorm.DB, activeOnly bool) ([]subscriptiondomain.Subscription, error) {
	query := `SELECT id, organization_id, customer_id, subscription_id, plan, active, anchor, created_at, updated_at
		 FROM subscriptions`
	if activeOnly {
		query += ` WHERE active`
	}
	query += ` ORDER BY organization_id ASC`

	var subscriptions []subscriptiondomain.Subscription
	err := conn.WithContext(ctx).Raw(query).Scan(&subscriptions).Error
	if err != nil {
		return nil, err
	}
	return subscriptions, nil
}

func (r *repo) Upsert(ctx context.Context, conn *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	now := time.Now().UTC()
	subscription.UpdatedAt = now
	if subscription.CreatedAt.IsZero() {
		subscription.CreatedAt = now
	}

	err := conn.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (id, organization_id, customer_id, subscription_id, plan, active, anchor, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		subscription.ID,
		subscription.OrganizationID,
		subscription.CustomerID,
		subscription.SubscriptionID,
		subscription.Plan,
		subscription.Active,
		subscription.Anchor,
		subscription.CreatedAt,
		subscription.UpdatedAt,
	).Error
	if err == nil {
		return nil
	}
	if !db.IsDuplicateKeyErr(err) {
		return err
	}

	err = conn.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET customer_id = ?, subscription_id = ?, plan = ?, active = ?, anchor = ?, updated_at = ?
		 WHERE organization_id = ?`,
		subscription.CustomerID,
		subscription.SubscriptionID,
		subscription.Plan,
		subscription.Active,
		subscription.Anchor,
		subscription.UpdatedAt,
		subscription.OrganizationID,
	).Error
	if err != nil {
		return err
	}

	// Keep the caller's view aligned with the persisted row id.
	existing, err := r.FindByOrganizationID(ctx, conn, subscription.OrganizationID)
	if err != nil {
		return err
	}
	if existing != nil {
		subscription.ID = existing.ID
		subscription.CreatedAt = existing.CreatedAt
	}
	return nil
}
