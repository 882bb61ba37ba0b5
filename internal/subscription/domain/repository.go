package domain

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

type Repository interface {
	FindByOrganizationID(ctx context.Context, db *gorm.DB, organizationID string) (*Subscription, error)
	List(ctx context.Context, db *gorm.DB, activeOnly bool) ([]Subscription, error)
	Upsert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
}

var ErrInvalidOrganization = errors.New("invalid_organization")
