// ABOUTME: LRU-caching Realm decorator for constraint resolution
// ABOUTME: Avoids re-scanning the constraint table for hot method+path pairs

package realm

import (
	"net/http"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedRealm wraps a Realm with an LRU cache over FindSecurityConstraints,
// keyed by method and decoded path. Constraint sets are configuration-owned
// and immutable, so cached entries never go stale within a deployment; calls
// other than constraint resolution pass straight through.
type CachedRealm struct {
	Realm
	cache *lru.Cache[string, []*SecurityConstraint]
}

// NewCachedRealm decorates inner with a constraint-resolution cache holding
// up to size entries.
func NewCachedRealm(inner Realm, size int) (*CachedRealm, error) {
	cache, err := lru.New[string, []*SecurityConstraint](size)
	if err != nil {
		return nil, err
	}
	return &CachedRealm{Realm: inner, cache: cache}, nil
}

// FindSecurityConstraints resolves through the cache.
func (c *CachedRealm) FindSecurityConstraints(r *http.Request) []*SecurityConstraint {
	key := r.Method + " " + r.URL.Path
	if constraints, ok := c.cache.Get(key); ok {
		return constraints
	}
	constraints := c.Realm.FindSecurityConstraints(r)
	c.cache.Add(key, constraints)
	return constraints
}
