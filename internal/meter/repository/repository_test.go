package repository

import (
	"context"
	"fmt"
	"testing"

	meterdomain "github.com/evalhub/meterd/internal/meter/domain"
	subscriptiondomain "github.com/evalhub/meterd/internal/subscription/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&meterdomain.Meter{}, &subscriptiondomain.Subscription{}))
	return conn
}

func int64ptr(v int64) *int64 { return &v }

func unconditional() meterdomain.Predicate {
	return meterdomain.Predicate{Kind: meterdomain.PredicateAlways}
}

func TestConditionalUpsertInsertsWhenAbsent(t *testing.T) {
	conn := newTestDB(t)
	store := Provide()
	ctx := context.Background()

	delta := meterdomain.MeterDelta{OrganizationID: "org_1", Key: "prompts", Year: 2024, Month: 6, Inc: int64ptr(3)}
	committed, err := store.ConditionalUpsert(ctx, conn, delta, 3, unconditional())
	require.NoError(t, err)
	require.NotNil(t, committed)
	assert.Equal(t, int64(3), *committed)

	meter, err := store.GetOne(ctx, conn, "org_1", "prompts", 2024, 6)
	require.NoError(t, err)
	require.NotNil(t, meter)
	assert.Equal(t, int64(3), meter.Value)
	assert.Equal(t, int64(0), meter.Synced)
}

func TestConditionalUpsertIncrementsExistingRow(t *testing.T) {
	conn := newTestDB(t)
	store := Provide()
	ctx := context.Background()

	delta := meterdomain.MeterDelta{OrganizationID: "org_1", Key: "prompts", Year: 2024, Month: 6}

	for i, inc := range []int64{5, 2, -3} {
		delta.Inc = int64ptr(inc)
		committed, err := store.ConditionalUpsert(ctx, conn, delta, max64(inc, 0), unconditional())
		require.NoError(t, err, "step %d", i)
		require.NotNil(t, committed)
	}

	meter, err := store.GetOne(ctx, conn, "org_1", "prompts", 2024, 6)
	require.NoError(t, err)
	assert.Equal(t, int64(4), meter.Value)
}

func TestConditionalUpsertClampsNegative(t *testing.T) {
	conn := newTestDB(t)
	store := Provide()
	ctx := context.Background()

	delta := meterdomain.MeterDelta{OrganizationID: "org_1", Key: "prompts", Year: 2024, Month: 6, Inc: int64ptr(2)}
	_, err := store.ConditionalUpsert(ctx, conn, delta, 2, unconditional())
	require.NoError(t, err)

	delta.Inc = int64ptr(-100)
	committed, err := store.ConditionalUpsert(ctx, conn, delta, 0, unconditional())
	require.NoError(t, err)
	require.NotNil(t, committed)
	assert.Equal(t, int64(0), *committed)
}

func TestConditionalUpsertStrictPredicate(t *testing.T) {
	conn := newTestDB(t)
	store := Provide()
	ctx := context.Background()

	delta := meterdomain.MeterDelta{OrganizationID: "org_1", Key: "prompts", Year: 2024, Month: 6, Inc: int64ptr(1)}
	pred := meterdomain.Predicate{Kind: meterdomain.PredicateStrict, Limit: 5}

	admitted := 0
	for i := 0; i < 8; i++ {
		committed, err := store.ConditionalUpsert(ctx, conn, delta, 1, pred)
		require.NoError(t, err)
		if committed != nil {
			admitted++
		}
	}
	assert.Equal(t, 5, admitted)

	meter, err := store.GetOne(ctx, conn, "org_1", "prompts", 2024, 6)
	require.NoError(t, err)
	assert.Equal(t, int64(5), meter.Value)
}

func TestConditionalUpsertSoftPredicate(t *testing.T) {
	conn := newTestDB(t)
	store := Provide()
	ctx := context.Background()

	delta := meterdomain.MeterDelta{OrganizationID: "org_1", Key: "prompts", Year: 2024, Month: 6, Inc: int64ptr(10)}
	pred := meterdomain.Predicate{Kind: meterdomain.PredicateSoft, Limit: 10}

	committed, err := store.ConditionalUpsert(ctx, conn, delta, 10, pred)
	require.NoError(t, err)
	require.NotNil(t, committed)
	assert.Equal(t, int64(10), *committed)

	// At the limit the overshooting increment is still admitted.
	delta.Inc = int64ptr(5)
	committed, err = store.ConditionalUpsert(ctx, conn, delta, 5, pred)
	require.NoError(t, err)
	require.NotNil(t, committed)
	assert.Equal(t, int64(15), *committed)

	// Already over the limit: rejected.
	delta.Inc = int64ptr(1)
	committed, err = store.ConditionalUpsert(ctx, conn, delta, 1, pred)
	require.NoError(t, err)
	assert.Nil(t, committed)
}

func TestSetSynced(t *testing.T) {
	conn := newTestDB(t)
	store := Provide()
	ctx := context.Background()

	affected, err := store.SetSynced(ctx, conn, "org_1", "prompts", 2024, 6, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(0), affected, "missing row must not be created")

	delta := meterdomain.MeterDelta{OrganizationID: "org_1", Key: "prompts", Year: 2024, Month: 6, Inc: int64ptr(5)}
	_, err = store.ConditionalUpsert(ctx, conn, delta, 5, unconditional())
	require.NoError(t, err)

	affected, err = store.SetSynced(ctx, conn, "org_1", "prompts", 2024, 6, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	// Idempotent: applying the same synced value twice is a no-op.
	affected, err = store.SetSynced(ctx, conn, "org_1", "prompts", 2024, 6, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	meter, err := store.GetOne(ctx, conn, "org_1", "prompts", 2024, 6)
	require.NoError(t, err)
	assert.Equal(t, int64(5), meter.Synced)
	assert.False(t, meter.Dirty())
}

func TestGetUnsynced(t *testing.T) {
	conn := newTestDB(t)
	store := Provide()
	ctx := context.Background()

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	anchor := 12
	require.NoError(t, conn.Create(&subscriptiondomain.Subscription{
		ID:             node.Generate(),
		OrganizationID: "org_a",
		CustomerID:     "cus_123",
		SubscriptionID: "sub_123",
		Plan:           "pro",
		Active:         true,
		Anchor:         &anchor,
	}).Error)

	seed := []meterdomain.MeterDelta{
		{OrganizationID: "org_b", Key: "traces", Year: 2024, Month: 6, Inc: int64ptr(7)},
		{OrganizationID: "org_a", Key: "prompts", Year: 2024, Month: 6, Inc: int64ptr(3)},
		{OrganizationID: "org_a", Key: "evals", Year: 2024, Month: 6, Inc: int64ptr(1)},
	}
	for _, d := range seed {
		_, err := store.ConditionalUpsert(ctx, conn, d, *d.Inc, unconditional())
		require.NoError(t, err)
	}

	// Clean rows are excluded.
	_, err = store.SetSynced(ctx, conn, "org_a", "evals", 2024, 6, 1)
	require.NoError(t, err)

	meters, err := store.GetUnsynced(ctx, conn, 0)
	require.NoError(t, err)
	require.Len(t, meters, 2)

	// Ordered by (organization_id, key, year, month).
	assert.Equal(t, "org_a", meters[0].OrganizationID)
	assert.Equal(t, "prompts", meters[0].Key)
	assert.Equal(t, "org_b", meters[1].OrganizationID)

	require.NotNil(t, meters[0].Subscription)
	assert.Equal(t, "cus_123", meters[0].Subscription.CustomerID)
	assert.Equal(t, "pro", meters[0].Subscription.Plan)
	require.NotNil(t, meters[0].Subscription.Anchor)
	assert.Equal(t, 12, *meters[0].Subscription.Anchor)

	assert.Nil(t, meters[1].Subscription)

	limited, err := store.GetUnsynced(ctx, conn, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestGetMany(t *testing.T) {
	conn := newTestDB(t)
	store := Provide()
	ctx := context.Background()

	seed := []meterdomain.MeterDelta{
		{OrganizationID: "org_a", Key: "prompts", Year: 2024, Month: 5, Inc: int64ptr(1)},
		{OrganizationID: "org_a", Key: "prompts", Year: 2024, Month: 6, Inc: int64ptr(2)},
		{OrganizationID: "org_a", Key: "evals", Year: 2024, Month: 6, Inc: int64ptr(3)},
		{OrganizationID: "org_b", Key: "prompts", Year: 2024, Month: 6, Inc: int64ptr(4)},
	}
	for _, d := range seed {
		_, err := store.ConditionalUpsert(ctx, conn, d, *d.Inc, unconditional())
		require.NoError(t, err)
	}

	all, err := store.GetMany(ctx, conn, meterdomain.MeterFilter{OrganizationID: "org_a"})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	byKey, err := store.GetMany(ctx, conn, meterdomain.MeterFilter{OrganizationID: "org_a", Key: "prompts"})
	require.NoError(t, err)
	assert.Len(t, byKey, 2)

	byPeriod, err := store.GetMany(ctx, conn, meterdomain.MeterFilter{OrganizationID: "org_a", Key: "prompts", Year: 2024, Month: 6})
	require.NoError(t, err)
	require.Len(t, byPeriod, 1)
	assert.Equal(t, int64(2), byPeriod[0].Value)
}

func TestGetOneAbsent(t *testing.T) {
	conn := newTestDB(t)
	store := Provide()

	meter, err := store.GetOne(context.Background(), conn, "org_x", "prompts", 2024, 6)
	require.NoError(t, err)
	assert.Nil(t, meter)
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
