// Package repository persists meter rows. The conditional upsert is issued
// as a single INSERT ... ON CONFLICT DO UPDATE ... WHERE ... RETURNING
// statement so that the admission predicate is evaluated against the row's
// value at commit time. A read-then-write implementation would reintroduce
// the lost-update race this store exists to avoid.
package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	meterdomain "github.com/evalhub/meterd/internal/meter/domain"
	subscriptiondomain "github.com/evalhub/meterd/internal/subscription/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() meterdomain.Repository {
	return &repo{}
}

func (r *repo) GetOne(ctx context.Context, conn *gorm.DB, organizationID, key string, year, month int) (*meterdomain.Meter, error) {
	var meter meterdomain.Meter
	err := conn.WithContext(ctx).Raw(
		`SELECT organization_id, key, year, month, value, synced, created_at, updated_at
		 FROM meters
		 WHERE organization_id = ? AND key = ? AND year = ? AND month = ?`,
		organizationID,
		key,
		year,
		month,
	).Scan(&meter).Error
	if err != nil {
		return nil, err
	}
	if meter.Key == "" {
		return nil, nil
	}
	return &meter, nil
}

func (r *repo) GetMany(ctx context.Context, conn *gorm.DB, filter meterdomain.MeterFilter) ([]meterdomain.Meter, error) {
	query := `SELECT organization_id, key, year, month, value, synced, created_at, updated_at
		 FROM meters WHERE organization_id = ?`
	args := []any{filter.OrganizationID}

	if filter.Key != "" {
		query += ` AND key = ?`
		args = append(args, filter.Key)
	}
	if filter.Year != 0 {
		query += ` AND year = ?`
		args = append(args, filter.Year)
	}
	if filter.Month != 0 {
		query += ` AND month = ?`
		args = append(args, filter.Month)
	}
	query += ` ORDER BY key, year, month`

	var meters []meterdomain.Meter
	err := conn.WithContext(ctx).Raw(query, args...).Scan(&meters).Error
	if err != nil {
		return nil, err
	}
	return meters, nil
}

// unsyncedRow flattens the meter/subscription join used by GetUnsynced.
type unsyncedRow struct {
	OrganizationID string
	Key            string
	Year           int
	Month          int
	Value          int64
	Synced         int64

	SubID             snowflake.ID
	SubCustomerID     string
	SubSubscriptionID string
	SubPlan           string
	SubActive         bool
	SubAnchor         *int
}

func (r *repo) GetUnsynced(ctx context.Context, conn *gorm.DB, limit int) ([]meterdomain.Meter, error) {
	query := `SELECT m.organization_id, m.key, m.year, m.month, m.value, m.synced,
		 s.id AS sub_id, s.customer_id AS sub_customer_id, s.subscription_id AS sub_subscription_id,
		 s.plan AS sub_plan, s.active AS sub_active, s.anchor AS sub_anchor
		 FROM meters m
		 LEFT JOIN subscriptions s ON s.organization_id = m.organization_id
		 WHERE m.synced != m.value
		 ORDER BY m.organization_id, m.key, m.year, m.month`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var rows []unsyncedRow
	if err := conn.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}

	meters := make([]meterdomain.Meter, 0, len(rows))
	for _, row := range rows {
		meter := meterdomain.Meter{
			OrganizationID: row.OrganizationID,
			Key:            row.Key,
			Year:           row.Year,
			Month:          row.Month,
			Value:          row.Value,
			Synced:         row.Synced,
		}
		if row.SubID != 0 {
			meter.Subscription = &subscriptiondomain.Subscription{
				ID:             row.SubID,
				OrganizationID: row.OrganizationID,
				CustomerID:     row.SubCustomerID,
				SubscriptionID: row.SubSubscriptionID,
				Plan:           row.SubPlan,
				Active:         row.SubActive,
				Anchor:         row.SubAnchor,
			}
		}
		meters = append(meters, meter)
	}
	return meters, nil
}

func (r *repo) ConditionalUpsert(ctx context.Context, conn *gorm.DB, delta meterdomain.MeterDelta, desired int64, pred meterdomain.Predicate) (*int64, error) {
	greatest := "GREATEST"
	if strings.EqualFold(conn.Dialector.Name(), "sqlite") {
		// sqlite's two-argument scalar max.
		greatest = "MAX"
	}

	if desired < 0 {
		desired = 0
	}

	var setExpr string
	setArgs := []any{}
	if delta.Inc != nil {
		setExpr = fmt.Sprintf("%s(meters.value + ?, 0)", greatest)
		setArgs = append(setArgs, *delta.Inc)
	} else if delta.Set != nil {
		setExpr = fmt.Sprintf("%s(?, 0)", greatest)
		setArgs = append(setArgs, *delta.Set)
	} else {
		setExpr = "meters.value"
	}

	var predExpr string
	predArgs := []any{}
	switch pred.Kind {
	case meterdomain.PredicateStrict:
		predExpr = setExpr + " <= ?"
		predArgs = append(predArgs, setArgs...)
		predArgs = append(predArgs, pred.Limit)
	case meterdomain.PredicateSoft:
		predExpr = "meters.value <= ?"
		predArgs = append(predArgs, pred.Limit)
	default:
		predExpr = "TRUE"
	}

	query := fmt.Sprintf(
		`INSERT INTO meters (organization_id, key, year, month, value, synced, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 0, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		 ON CONFLICT (organization_id, key, year, month)
		 DO UPDATE SET value = %s, updated_at = CURRENT_TIMESTAMP
		 WHERE %s
		 RETURNING value`,
		setExpr,
		predExpr,
	)

	args := []any{
		delta.OrganizationID,
		delta.Key,
		delta.Year,
		delta.Month,
		desired,
	}
	args = append(args, setArgs...)
	args = append(args, predArgs...)

	var committed []int64
	if err := conn.WithContext(ctx).Raw(query, args...).Scan(&committed).Error; err != nil {
		return nil, err
	}
	if len(committed) == 0 {
		// Predicate rejected the write; no row mutated.
		return nil, nil
	}
	return &committed[0], nil
}

func (r *repo) SetSynced(ctx context.Context, conn *gorm.DB, organizationID, key string, year, month int, synced int64) (int64, error) {
	result := conn.WithContext(ctx).Exec(
		`UPDATE meters
		 SET synced = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE organization_id = ? AND key = ? AND year = ? AND month = ?`,
		synced,
		organizationID,
		key,
		year,
		month,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
