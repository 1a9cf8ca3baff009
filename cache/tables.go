package cache

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"

	"github.com/gobitfly/tabletstore/types"
)

var logger = logrus.StandardLogger().WithField("module", "cache")

type tableEntry struct {
	meta    *types.TableMeta
	expires time.Time
}

// TableCache keeps the catalog entries of recently opened tables.
// Entries are evicted least recently used first and expire after ttl.
// A ttl of 0 keeps entries until they are evicted or removed.
type TableCache struct {
	lru *lru.Cache
	ttl time.Duration
	now func() time.Time
}

func NewTableCache(size int, ttl time.Duration) (*TableCache, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("error creating table cache: %w", err)
	}
	return &TableCache{lru: c, ttl: ttl, now: time.Now}, nil
}

func (c *TableCache) Get(name string) (*types.TableMeta, bool) {
	cachedValue, found := c.lru.Get(name)
	if !found {
		return nil, false
	}
	entry := cachedValue.(tableEntry)
	if c.ttl > 0 && c.now().After(entry.expires) {
		logger.Debugf("table %s expired from cache", name)
		c.lru.Remove(name)
		return nil, false
	}
	return entry.meta, true
}

func (c *TableCache) Add(meta *types.TableMeta) {
	c.lru.Add(meta.Name, tableEntry{meta: meta, expires: c.now().Add(c.ttl)})
}

func (c *TableCache) Remove(name string) {
	c.lru.Remove(name)
}

func (c *TableCache) Purge() {
	c.lru.Purge()
}

func (c *TableCache) Len() int {
	return c.lru.Len()
}
