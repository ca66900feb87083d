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
)

// TokenVerifier identifies the workload presenting a token.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// RoleLookup resolves the role mapped to a service account.
type RoleLookup interface {
	Lookup(namespace, serviceAccount string) (string, bool)
}

// Grant is the outcome of a successful credentials request.
type Grant struct {
	Identity    Identity
	RoleARN     string
	Credentials *TemporaryCredential
}

// Broker hands out temporary credentials to workloads presenting a
// service account token.
type Broker struct {
	verifier TokenVerifier
	mappings RoleLookup
	cache    *Cache
	observe  func(Identity, string) CacheObserver
}

// BrokerOption is a function that sets some option on the broker.
type BrokerOption func(*Broker)

// WithCacheObserverFactory sets a function building a cache observer for
// each request once the identity and role are known.
func WithCacheObserverFactory(f func(id Identity, roleARN string) CacheObserver) BrokerOption {
	return func(b *Broker) {
		b.observe = f
	}
}

// NewBroker creates a broker.
func NewBroker(verifier TokenVerifier, mappings RoleLookup, cache *Cache, opts ...BrokerOption) *Broker {
	b := &Broker{
		verifier: verifier,
		mappings: mappings,
		cache:    cache,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// GetCredentials verifies token, looks up the role mapped to its service
// account and returns credentials for that role.
func (b *Broker) GetCredentials(ctx context.Context, token string) (*Grant, error) {
	id, err := b.verifier.Verify(ctx, token)
	if err != nil {
		return nil, err
	}

	roleARN, ok := b.mappings.Lookup(id.Namespace, id.ServiceAccount)
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", ErrRoleNotMapped, id)
	}

	cache := b.cache
	if b.observe != nil {
		if o := b.observe(*id, roleARN); o != nil {
			cache = cache.WithObserver(o)
		}
	}

	creds, err := cache.GetCredentials(ctx, roleARN, id.SessionName())
	if err != nil {
		return nil, err
	}

	return &Grant{
		Identity:    *id,
		RoleARN:     roleARN,
		Credentials: creds,
	}, nil
}
