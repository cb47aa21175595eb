package statemem

import (
	"context"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/permephem/null-sub005/internal/domain"
)

const DefaultStatusCacheSize = 100_000

var _ domain.SubmissionStore = (*StatusCache)(nil)

// StatusCache is a bounded submission status index. The least recently
// touched entries are evicted together with their digest alias.
type StatusCache struct {
	mu       sync.Mutex
	byID     *lru.Cache[string, domain.SubmissionStatus]
	byDigest map[string]string
}

func NewStatusCache(size int) (*StatusCache, error) {
	if size <= 0 {
		size = DefaultStatusCacheSize
	}
	c := &StatusCache{byDigest: make(map[string]string)}
	cache, err := lru.NewWithEvict(size, func(_ string, status domain.SubmissionStatus) {
		key := digestKey(status.Digest)
		if id, ok := c.byDigest[key]; ok && id == status.ID {
			delete(c.byDigest, key)
		}
	})
	if err != nil {
		return nil, err
	}
	c.byID = cache
	return c, nil
}

func (c *StatusCache) PutStatus(_ context.Context, status domain.SubmissionStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byID.Add(status.ID, status)
	c.byDigest[digestKey(status.Digest)] = status.ID
	return nil
}

func (c *StatusCache) GetStatus(_ context.Context, id string) (domain.SubmissionStatus, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if status, ok := c.byID.Get(id); ok {
		return status, true, nil
	}
	if alias, ok := c.byDigest[strings.ToLower(id)]; ok {
		if status, ok := c.byID.Get(alias); ok {
			return status, true, nil
		}
	}
	return domain.SubmissionStatus{}, false, nil
}

func (c *StatusCache) Len() int {
	return c.byID.Len()
}

func digestKey(d domain.Digest) string {
	return strings.ToLower(d.Hex())
}
