package server

import (
	"context"
	"net/http"
	"strings"

	meterdomain "github.com/evalhub/meterd/internal/meter/domain"
	"github.com/evalhub/meterd/internal/orgcontext"
	subscriptiondomain "github.com/evalhub/meterd/internal/subscription/domain"
	"github.com/evalhub/meterd/pkg/db/pagination"
	"github.com/gin-gonic/gin"
)

type meterRequest struct {
	Key   string            `json:"key"`
	Year  int               `json:"year"`
	Month int               `json:"month"`
	Delta *int64            `json:"delta,omitempty"`
	Value *int64            `json:"value,omitempty"`
	Quota meterdomain.Quota `json:"quota"`
}

type admissionResponse struct {
	Allowed bool              `json:"allowed"`
	Meter   meterdomain.Meter `json:"meter"`
}

func (s *Server) CheckMeter(c *gin.Context) {
	delta, quota, anchor, err := s.bindMeterRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	allowed, meter, err := s.meterSvc.Check(c.Request.Context(), delta, quota, anchor)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": admissionResponse{Allowed: allowed, Meter: meter}})
}

func (s *Server) AdjustMeter(c *gin.Context) {
	delta, quota, anchor, err := s.bindMeterRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	allowed, meter, rollback, err := s.meterSvc.Adjust(c.Request.Context(), delta, quota, anchor)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	defer rollback()

	c.JSON(http.StatusOK, gin.H{"data": admissionResponse{Allowed: allowed, Meter: meter}})
}

func (s *Server) ListMeters(c *gin.Context) {
	var query struct {
		Key   string `form:"key"`
		Year  int    `form:"year"`
		Month int    `form:"month"`
		pagination.Pagination
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	orgID, ok := orgcontext.OrgIDFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	meters, err := s.meterSvc.Fetch(c.Request.Context(), meterdomain.MeterFilter{
		OrganizationID: orgID,
		Key:            strings.TrimSpace(query.Key),
		Year:           query.Year,
		Month:          query.Month,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	page, info, err := pagination.Paginate(meters, query.Pagination, meterdomain.Meter.RowKey)
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": page, "page_info": info})
}

func (s *Server) bindMeterRequest(c *gin.Context) (meterdomain.MeterDelta, meterdomain.Quota, *int, error) {
	var req meterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return meterdomain.MeterDelta{}, meterdomain.Quota{}, nil, invalidRequestError()
	}

	orgID, ok := orgcontext.OrgIDFromContext(c.Request.Context())
	if !ok {
		return meterdomain.MeterDelta{}, meterdomain.Quota{}, nil, ErrUnauthorized
	}

	delta := meterdomain.MeterDelta{
		OrganizationID: orgID,
		Key:            strings.TrimSpace(req.Key),
		Year:           req.Year,
		Month:          req.Month,
		Inc:            req.Delta,
		Set:            req.Value,
	}

	var anchor *int
	if req.Quota.Monthly {
		var err error
		anchor, err = s.billingAnchor(c.Request.Context(), orgID)
		if err != nil {
			return meterdomain.MeterDelta{}, meterdomain.Quota{}, nil, err
		}
	}

	return delta, req.Quota, anchor, nil
}

// billingAnchor resolves the org's billing anchor day. Orgs without a
// subscription fall back to calendar months.
func (s *Server) billingAnchor(ctx context.Context, orgID string) (*int, error) {
	if subscription, ok := s.subCache.Get(orgID); ok {
		return anchorOf(subscription), nil
	}

	subscription, err := s.subscriptionRepo.FindByOrganizationID(ctx, s.db, orgID)
	if err != nil {
		return nil, err
	}
	s.subCache.Set(orgID, subscription)
	return anchorOf(subscription), nil
}

func anchorOf(subscription *subscriptiondomain.Subscription) *int {
	if subscription == nil || !subscription.Active {
		return nil
	}
	return subscription.Anchor
}
