package pushmonitor

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// CachedClassifier memoizes classifications for a short while, so polling
// many pushes of one store doesn't hammer the liveness source.
type CachedClassifier struct {
	inner InstanceClassifier
	cache *cache.Cache
}

func NewCachedClassifier(inner InstanceClassifier, ttl time.Duration) *CachedClassifier {
	return &CachedClassifier{
		inner: inner,
		cache: cache.New(ttl, ttl*2),
	}
}

func (c *CachedClassifier) Classify(store, instanceId string) InstanceStatus {
	key := store + "/" + instanceId
	if v, ok := c.cache.Get(key); ok {
		return v.(InstanceStatus)
	}
	ans := c.inner.Classify(store, instanceId)
	c.cache.SetDefault(key, ans)
	return ans
}

func (c *CachedClassifier) Invalidate(store, instanceId string) {
	c.cache.Delete(store + "/" + instanceId)
}
