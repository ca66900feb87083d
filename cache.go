// MIT License
//
// Copyright (c) 2025 kubernetes-awscreds
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package awscreds

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// ExpiryBuffer is the minimum remaining lifetime a cached credential
	// must have to be handed out.
	ExpiryBuffer = 900 * time.Second
	// CredentialDuration is the lifetime requested for newly issued credentials.
	CredentialDuration = 3600 * time.Second
)

// CacheObserver is an interface for observing cache events.
type CacheObserver interface {
	// OnCacheHit is called when a usable credential is found in the cache.
	OnCacheHit()
	// OnCacheMiss is called when a cache miss occurs,
	// which may be due to the credential being close to expiry.
	OnCacheMiss()
	// OnCredentialIssued is called when a credential is issued and
	// stored in the cache.
	OnCredentialIssued(latency time.Duration)
	// OnCredentialEvicted is called when a credential of another role
	// is evicted to make room for a new one.
	OnCredentialEvicted()
	// OnCredentialExpired is called when a cached credential is found
	// inside the expiry buffer and is about to be replaced.
	OnCredentialExpired()
	// OnFailedRequest is called when a request to issue
	// a credential fails.
	OnFailedRequest(latency time.Duration)
}

// Cache keeps one temporary credential per role and issues a new one
// whenever the cached credential gets within ExpiryBuffer of expiring.
// Concurrent misses for the same role each call the issuer; the last
// one to finish wins the slot.
type Cache struct {
	issuer     Issuer
	maxEntries int
	now        func() time.Time
	entries    map[string]*cacheEntry
	mu         *sync.RWMutex

	observer CacheObserver
}

type cacheEntry struct {
	cred     *TemporaryCredential
	lastUsed atomic.Int64
}

// NewCache creates a credential cache backed by the given issuer.
func NewCache(issuer Issuer, opts ...CacheOption) *Cache {
	o := cacheOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	return &Cache{
		issuer:     issuer,
		maxEntries: o.maxEntries,
		now:        o.now,
		entries:    make(map[string]*cacheEntry),
		mu:         &sync.RWMutex{},
	}
}

// WithObserver returns a handler for the cache with the given observer.
// The returned handler shares entries with c.
func (c *Cache) WithObserver(observer CacheObserver) *Cache {
	co := *c
	co.observer = observer
	return &co
}

// Len returns the number of roles currently cached.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// GetCredentials returns a usable credential for roleARN, issuing a new one
// tagged with sessionName if needed. Issuer failures are wrapped with
// ErrIssueFailed and are not retried.
func (c *Cache) GetCredentials(ctx context.Context, roleARN, sessionName string) (cred *TemporaryCredential, err error) {

	var hit, expired, evicted, called bool
	var latency time.Duration

	defer func() {
		if c.observer == nil {
			return
		}

		if hit {
			c.observer.OnCacheHit()
			return
		}
		c.observer.OnCacheMiss()
		if expired {
			c.observer.OnCredentialExpired()
		}
		if !called {
			return
		}
		if err != nil {
			c.observer.OnFailedRequest(latency)
			return
		}
		c.observer.OnCredentialIssued(latency)
		if evicted {
			c.observer.OnCredentialEvicted()
		}
	}()

	now := c.now()

	c.mu.RLock()
	entry, ok := c.entries[roleARN]
	if ok && usable(entry.cred, now) {
		entry.lastUsed.Store(now.UnixNano())
		cred = entry.cred
		c.mu.RUnlock()
		hit = true
		return cred, nil
	}
	c.mu.RUnlock()
	expired = ok

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t := time.Now()
	called = true
	cred, err = c.issuer.Issue(ctx, roleARN, sessionName, CredentialDuration)
	latency = time.Since(t)
	if err == nil && cred == nil {
		err = fmt.Errorf("issuer returned no credentials")
	}
	if err != nil {
		return nil, fmt.Errorf("%w for role '%s': %w", ErrIssueFailed, roleARN, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	evicted = c.upsert(roleARN, cred, c.now())

	return cred, nil
}

// upsert must be called with the write lock held.
func (c *Cache) upsert(roleARN string, cred *TemporaryCredential, now time.Time) bool {
	if entry, ok := c.entries[roleARN]; ok {
		entry.cred = cred
		entry.lastUsed.Store(now.UnixNano())
		return false
	}

	var evicted bool
	if c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.evictLeastRecentlyUsed()
		evicted = true
	}

	entry := &cacheEntry{cred: cred}
	entry.lastUsed.Store(now.UnixNano())
	c.entries[roleARN] = entry
	return evicted
}

func (c *Cache) evictLeastRecentlyUsed() {
	var oldestKey string
	var oldest int64
	first := true
	for k, e := range c.entries {
		if used := e.lastUsed.Load(); first || used < oldest {
			oldestKey, oldest, first = k, used, false
		}
	}
	delete(c.entries, oldestKey)
}

// usable reports whether cred has at least ExpiryBuffer left at now.
// A zero or past expiration is never usable.
func usable(cred *TemporaryCredential, now time.Time) bool {
	if cred == nil || cred.Expiration.IsZero() {
		return false
	}
	remaining := cred.Expiration.Sub(now)
	return remaining > 0 && remaining >= ExpiryBuffer
}
