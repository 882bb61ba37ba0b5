package server

import (
	"strings"

	"github.com/evalhub/meterd/internal/orgcontext"
	"github.com/gin-gonic/gin"
)

const (
	HeaderOrg       = "X-Org-ID"
	HeaderRequestID = "X-Request-ID"
)

// RequestID propagates the caller's request id or mints a snowflake one.
func (s *Server) RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(HeaderRequestID))
		if id == "" {
			id = s.genID.Generate().String()
		}
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// OrgContext resolves the active organization from the X-Org-ID header and
// injects it into the request context. Requests without one are rejected.
func (s *Server) OrgContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID := strings.TrimSpace(c.GetHeader(HeaderOrg))
		if orgID == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Request = c.Request.WithContext(orgcontext.WithOrgID(c.Request.Context(), orgID))
		c.Next()
	}
}
