package cache

import (
	"strings"
	"time"

	subscriptiondomain "github.com/evalhub/meterd/internal/subscription/domain"
)

// Subscriptions churn rarely but anchor lookups sit on the admission hot
// path, so a short TTL keeps staleness bounded without a read per request.
const defaultSubscriptionTTL = 45 * time.Second

// SubscriptionCache stores per-organization subscription lookups used to
// resolve billing anchors during admission.
type SubscriptionCache struct {
	subscriptions Cache[string, *subscriptiondomain.Subscription]
	ttl           time.Duration
}

func NewSubscriptionCache() *SubscriptionCache {
	return &SubscriptionCache{
		subscriptions: NewTTLCache[string, *subscriptiondomain.Subscription](),
		ttl:           defaultSubscriptionTTL,
	}
}

// Get returns the cached subscription for an organization. A cached nil
// means the organization is known to have no subscription.
func (c *SubscriptionCache) Get(orgID string) (*subscriptiondomain.Subscription, bool) {
	if c == nil {
		return nil, false
	}
	return c.subscriptions.Get(cacheKey(orgID))
}

func (c *SubscriptionCache) Set(orgID string, subscription *subscriptiondomain.Subscription) {
	if c == nil {
		return
	}
	c.subscriptions.Set(cacheKey(orgID), subscription, c.ttl)
}

// Invalidate drops the cached row after a subscription upsert.
func (c *SubscriptionCache) Invalidate(orgID string) {
	if c == nil {
		return
	}
	c.subscriptions.Delete(cacheKey(orgID))
}

func cacheKey(parts ...string) string {
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		values = append(values, strings.ToLower(trimmed))
	}
	return strings.Join(values, "|")
}
