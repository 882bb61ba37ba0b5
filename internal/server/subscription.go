package server

import (
	"net/http"
	"strings"

	"github.com/evalhub/meterd/internal/orgcontext"
	subscriptiondomain "github.com/evalhub/meterd/internal/subscription/domain"
	"github.com/gin-gonic/gin"
)

type upsertSubscriptionRequest struct {
	CustomerID     string `json:"customer_id"`
	SubscriptionID string `json:"subscription_id"`
	Plan           string `json:"plan"`
	Active         *bool  `json:"active"`
	Anchor         *int   `json:"anchor"`
}

func (s *Server) ListSubscriptions(c *gin.Context) {
	var query struct {
		Active string `form:"active"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	activeOnly := strings.EqualFold(strings.TrimSpace(query.Active), "true")

	subscriptions, err := s.subscriptionRepo.List(c.Request.Context(), s.db, activeOnly)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": subscriptions})
}

// UpsertSubscription mirrors the caller's billing agreement for the active
// organization. The billing control plane calls this on subscription
// lifecycle events.
func (s *Server) UpsertSubscription(c *gin.Context) {
	var req upsertSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	orgID, ok := orgcontext.OrgIDFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	if req.Anchor != nil && (*req.Anchor < 1 || *req.Anchor > 28) {
		AbortWithError(c, newValidationError("anchor", "invalid_anchor", "anchor must be between 1 and 28"))
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	subscription := &subscriptiondomain.Subscription{
		ID:             s.genID.Generate(),
		OrganizationID: orgID,
		CustomerID:     strings.TrimSpace(req.CustomerID),
		SubscriptionID: strings.TrimSpace(req.SubscriptionID),
		Plan:           strings.TrimSpace(req.Plan),
		Active:         active,
		Anchor:         req.Anchor,
	}

	if err := s.subscriptionRepo.Upsert(c.Request.Context(), s.db, subscription); err != nil {
		AbortWithError(c, err)
		return
	}
	s.subCache.Invalidate(orgID)

	c.JSON(http.StatusOK, gin.H{"data": subscription})
}
