package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/evalhub/meterd/internal/clock"
	"github.com/evalhub/meterd/internal/config"
	meterdomain "github.com/evalhub/meterd/internal/meter/domain"
	meterrepository "github.com/evalhub/meterd/internal/meter/repository"
	meterservice "github.com/evalhub/meterd/internal/meter/service"
	subscriptiondomain "github.com/evalhub/meterd/internal/subscription/domain"
	subscriptionrepository "github.com/evalhub/meterd/internal/subscription/repository"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestServer(t *testing.T) (*Server, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&meterdomain.Meter{}, &subscriptiondomain.Subscription{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	log := zap.NewNop()
	svc := meterservice.NewService(meterservice.ServiceParam{
		DB:    conn,
		Log:   log,
		Repo:  meterrepository.Provide(),
		Clock: clock.NewFakeClock(time.Date(2024, 6, 20, 0, 0, 0, 0, time.UTC)),
	})

	engine := NewEngine()
	srv := NewServer(ServerParam{
		Engine:           engine,
		Config:           config.Config{},
		DB:               conn,
		Log:              log,
		GenID:            node,
		MeterSvc:         svc,
		SubscriptionRepo: subscriptionrepository.Provide(),
	})
	srv.RegisterAPIRoutes()
	return srv, engine
}

func doJSON(t *testing.T, engine *gin.Engine, method, path, orgID string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if orgID != "" {
		req.Header.Set(HeaderOrg, orgID)
	}

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

type admissionEnvelope struct {
	Data admissionResponse `json:"data"`
}

func TestHealthEndpoint(t *testing.T) {
	_, engine := newTestServer(t)
	rec := doJSON(t, engine, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMeterRoutesRequireOrgHeader(t *testing.T) {
	_, engine := newTestServer(t)

	rec := doJSON(t, engine, http.MethodPost, "/v1/meters/check", "", meterRequest{Key: "prompts", Year: 2024, Month: 6})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, engine, http.MethodGet, "/v1/meters", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdjustThenCheck(t *testing.T) {
	_, engine := newTestServer(t)

	inc := int64(4)
	limit := int64(10)

	rec := doJSON(t, engine, http.MethodPost, "/v1/meters/adjust", "org_1", meterRequest{
		Key: "prompts", Year: 2024, Month: 6, Delta: &inc,
		Quota: meterdomain.Quota{Limit: &limit, Strict: true},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var adjusted admissionEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &adjusted))
	assert.True(t, adjusted.Data.Allowed)
	assert.Equal(t, int64(4), adjusted.Data.Meter.Value)

	rec = doJSON(t, engine, http.MethodPost, "/v1/meters/check", "org_1", meterRequest{
		Key: "prompts", Year: 2024, Month: 6, Delta: &inc,
		Quota: meterdomain.Quota{Limit: &limit, Strict: true},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var checked admissionEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &checked))
	assert.True(t, checked.Data.Allowed)
	assert.Equal(t, int64(4), checked.Data.Meter.Value)
}

func TestAdjustStrictRejectionIsNotAnError(t *testing.T) {
	_, engine := newTestServer(t)

	inc := int64(7)
	limit := int64(10)
	req := meterRequest{
		Key: "prompts", Year: 2024, Month: 6, Delta: &inc,
		Quota: meterdomain.Quota{Limit: &limit, Strict: true},
	}

	rec := doJSON(t, engine, http.MethodPost, "/v1/meters/adjust", "org_1", req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, engine, http.MethodPost, "/v1/meters/adjust", "org_1", req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp admissionEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Data.Allowed)
}

func TestAdjustValidationFailureReturns400(t *testing.T) {
	_, engine := newTestServer(t)

	inc := int64(1)
	rec := doJSON(t, engine, http.MethodPost, "/v1/meters/adjust", "org_1", meterRequest{
		Key: "prompts", Year: 2024, Month: 13, Delta: &inc,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListMetersPaginates(t *testing.T) {
	_, engine := newTestServer(t)

	inc := int64(1)
	for i := 0; i < 5; i++ {
		rec := doJSON(t, engine, http.MethodPost, "/v1/meters/adjust", "org_1", meterRequest{
			Key: fmt.Sprintf("key_%d", i), Year: 2024, Month: 6, Delta: &inc,
		})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := doJSON(t, engine, http.MethodGet, "/v1/meters?page_size=3", "org_1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var page struct {
		Data     []meterdomain.Meter `json:"data"`
		PageInfo struct {
			NextPageToken string `json:"next_page_token"`
			HasMore       bool   `json:"has_more"`
		} `json:"page_info"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Len(t, page.Data, 3)
	require.True(t, page.PageInfo.HasMore)

	rec = doJSON(t, engine, http.MethodGet, "/v1/meters?page_size=3&page_token="+url.QueryEscape(page.PageInfo.NextPageToken), "org_1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Len(t, page.Data, 2)
	assert.False(t, page.PageInfo.HasMore)
}

func TestUpsertSubscriptionDrivesMonthlyAnchor(t *testing.T) {
	_, engine := newTestServer(t)

	anchor := 25
	rec := doJSON(t, engine, http.MethodPut, "/v1/subscriptions", "org_1", upsertSubscriptionRequest{
		CustomerID:     "cus_1",
		SubscriptionID: "sub_1",
		Plan:           "team",
		Anchor:         &anchor,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	// Clock is pinned to 2024-06-20; with an anchor on the 25th the
	// current billing period is still May.
	inc := int64(1)
	rec = doJSON(t, engine, http.MethodPost, "/v1/meters/adjust", "org_1", meterRequest{
		Key: "prompts", Delta: &inc,
		Quota: meterdomain.Quota{Monthly: true},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp admissionEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2024, resp.Data.Meter.Year)
	assert.Equal(t, 5, resp.Data.Meter.Month)
}

func TestUpsertSubscriptionRejectsBadAnchor(t *testing.T) {
	_, engine := newTestServer(t)

	anchor := 31
	rec := doJSON(t, engine, http.MethodPut, "/v1/subscriptions", "org_1", upsertSubscriptionRequest{
		CustomerID: "cus_1",
		Anchor:     &anchor,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListSubscriptions(t *testing.T) {
	_, engine := newTestServer(t)

	rec := doJSON(t, engine, http.MethodPut, "/v1/subscriptions", "org_1", upsertSubscriptionRequest{
		CustomerID: "cus_1", Plan: "team",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, engine, http.MethodGet, "/v1/subscriptions?active=true", "org_1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data []subscriptiondomain.Subscription `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "org_1", resp.Data[0].OrganizationID)
}
