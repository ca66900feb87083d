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

package awscreds_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/gomega"

	"github.com/kubernetes-awscreds/awscreds"
)

func TestCache_Usability(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	for _, tt := range []struct {
		name       string
		expiration time.Time
		hit        bool
	}{
		{
			name:       "plenty of time left",
			expiration: now.Add(time.Hour),
			hit:        true,
		},
		{
			name:       "exactly the expiry buffer left",
			expiration: now.Add(awscreds.ExpiryBuffer),
			hit:        true,
		},
		{
			name:       "one second inside the expiry buffer",
			expiration: now.Add(awscreds.ExpiryBuffer - time.Second),
			hit:        false,
		},
		{
			name:       "expiration equal to now",
			expiration: now,
			hit:        false,
		},
		{
			name:       "expiration in the past",
			expiration: now.Add(-time.Hour),
			hit:        false,
		},
		{
			name:       "zero expiration",
			expiration: time.Time{},
			hit:        false,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			g := NewWithT(t)

			issuer := &mockIssuer{expirations: []time.Time{tt.expiration, now.Add(time.Hour)}}
			cache := awscreds.NewCache(issuer, awscreds.WithClock(func() time.Time { return now }))

			first, err := cache.GetCredentials(context.Background(), "role", "ns-sa")
			g.Expect(err).NotTo(HaveOccurred())

			second, err := cache.GetCredentials(context.Background(), "role", "ns-sa")
			g.Expect(err).NotTo(HaveOccurred())

			if tt.hit {
				g.Expect(second).To(BeIdenticalTo(first))
				g.Expect(issuer.calls()).To(HaveLen(1))
			} else {
				g.Expect(second).NotTo(BeIdenticalTo(first))
				g.Expect(issuer.calls()).To(HaveLen(2))
			}
		})
	}
}

func TestCache_IssueRequest(t *testing.T) {
	g := NewWithT(t)

	issuer := &mockIssuer{}
	cache := awscreds.NewCache(issuer)

	cred, err := cache.GetCredentials(context.Background(), "arn:aws:iam::123456789012:role/app", "default-app")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(cred.AccessKeyID).To(Equal("key-1"))
	g.Expect(issuer.calls()).To(Equal([]issueCall{{
		roleARN:     "arn:aws:iam::123456789012:role/app",
		sessionName: "default-app",
		duration:    time.Hour,
	}}))
}

func TestCache_KeyedByRole(t *testing.T) {
	g := NewWithT(t)

	issuer := &mockIssuer{}
	cache := awscreds.NewCache(issuer)

	a, err := cache.GetCredentials(context.Background(), "role-a", "ns-a")
	g.Expect(err).NotTo(HaveOccurred())
	b, err := cache.GetCredentials(context.Background(), "role-b", "ns-b")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(a).NotTo(BeIdenticalTo(b))

	again, err := cache.GetCredentials(context.Background(), "role-a", "other-session")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(again).To(BeIdenticalTo(a))
	g.Expect(issuer.calls()).To(HaveLen(2))
	g.Expect(cache.Len()).To(Equal(2))
}

func TestCache_UpsertsStaleEntry(t *testing.T) {
	g := NewWithT(t)

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	issuer := &mockIssuer{expirations: []time.Time{now.Add(time.Hour), now.Add(2 * time.Hour)}}
	cache := awscreds.NewCache(issuer, awscreds.WithClock(clock))

	_, err := cache.GetCredentials(context.Background(), "role", "ns-sa")
	g.Expect(err).NotTo(HaveOccurred())

	now = now.Add(50 * time.Minute)

	var mu sync.Mutex
	observer := &mockCacheObserver{mu: &mu}
	cred, err := cache.WithObserver(observer).GetCredentials(context.Background(), "role", "ns-sa")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(cred.AccessKeyID).To(Equal("key-2"))
	g.Expect(cache.Len()).To(Equal(1))
	g.Expect(observer.normalize()).To(Equal(&mockCacheObserver{mu: &mu, misses: 1, expired: 1, issued: []time.Duration{1}}))
}

func TestCache_OnCacheHit(t *testing.T) {
	g := NewWithT(t)

	cache := awscreds.NewCache(&mockIssuer{})

	cred, err := cache.GetCredentials(context.Background(), "role", "ns-sa")
	g.Expect(err).NotTo(HaveOccurred())

	var mu sync.Mutex
	observer := &mockCacheObserver{mu: &mu}
	hit, err := cache.WithObserver(observer).GetCredentials(context.Background(), "role", "ns-sa")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(hit).To(BeIdenticalTo(cred))
	g.Expect(observer.normalize()).To(Equal(&mockCacheObserver{mu: &mu, hits: 1}))
}

func TestCache_OnCacheMiss_And_OnCredentialIssued(t *testing.T) {
	g := NewWithT(t)

	cache := awscreds.NewCache(&mockIssuer{})

	var mu sync.Mutex
	observer := &mockCacheObserver{mu: &mu}
	_, err := cache.WithObserver(observer).GetCredentials(context.Background(), "role", "ns-sa")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(observer.normalize()).To(Equal(&mockCacheObserver{mu: &mu, misses: 1, issued: []time.Duration{1}}))
}

func TestCache_OnFailedRequest(t *testing.T) {
	g := NewWithT(t)

	issuer := &mockIssuer{err: fmt.Errorf("mock error")}
	cache := awscreds.NewCache(issuer)

	var mu sync.Mutex
	observer := &mockCacheObserver{mu: &mu}
	cred, err := cache.WithObserver(observer).GetCredentials(context.Background(), "role", "ns-sa")
	g.Expect(err).To(HaveOccurred())
	g.Expect(errors.Is(err, awscreds.ErrIssueFailed)).To(BeTrue())
	g.Expect(err.Error()).To(ContainSubstring("mock error"))
	g.Expect(cred).To(BeNil())
	g.Expect(cache.Len()).To(Equal(0))
	g.Expect(observer.normalize()).To(Equal(&mockCacheObserver{mu: &mu, misses: 1, failed: []time.Duration{1}}))

	// Failures are not retried internally.
	g.Expect(issuer.calls()).To(HaveLen(1))
}

func TestCache_NilCredentials(t *testing.T) {
	g := NewWithT(t)

	issuer := awscreds.IssuerFunc(func(context.Context, string, string, time.Duration) (*awscreds.TemporaryCredential, error) {
		return nil, nil
	})
	cache := awscreds.NewCache(issuer)

	cred, err := cache.GetCredentials(context.Background(), "role", "ns-sa")
	g.Expect(errors.Is(err, awscreds.ErrIssueFailed)).To(BeTrue())
	g.Expect(cred).To(BeNil())
}

func TestCache_CanceledContext(t *testing.T) {
	g := NewWithT(t)

	issuer := &mockIssuer{}
	cache := awscreds.NewCache(issuer)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := cache.GetCredentials(ctx, "role", "ns-sa")
	g.Expect(err).To(MatchError(context.Canceled))
	g.Expect(issuer.calls()).To(BeEmpty())
}

func TestCache_ConcurrentRequests(t *testing.T) {
	g := NewWithT(t)

	var mu sync.Mutex
	observer := &mockCacheObserver{mu: &mu}
	issuer := &mockIssuer{delay: 100 * time.Millisecond}
	cache := awscreds.NewCache(issuer).WithObserver(observer)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cred, err := cache.GetCredentials(context.Background(), "role", "ns-sa")
			g.Expect(err).NotTo(HaveOccurred())
			g.Expect(cred).NotTo(BeNil())
		}()
	}
	wg.Wait()

	// No single flight: every concurrent miss reaches the issuer,
	// but only one entry is kept for the role.
	g.Expect(issuer.calls()).To(HaveLen(10))
	g.Expect(cache.Len()).To(Equal(1))
	g.Expect(observer.normalize().misses).To(Equal(10))

	cred, err := cache.GetCredentials(context.Background(), "role", "ns-sa")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(cred).NotTo(BeNil())
	g.Expect(issuer.calls()).To(HaveLen(10))
}

type issueCall struct {
	roleARN     string
	sessionName string
	duration    time.Duration
}

type mockIssuer struct {
	mu          sync.Mutex
	expirations []time.Time
	delay       time.Duration
	err         error
	issued      []issueCall
}

func (m *mockIssuer) Issue(ctx context.Context, roleARN, sessionName string,
	duration time.Duration) (*awscreds.TemporaryCredential, error) {

	if m.delay > 0 {
		time.Sleep(m.delay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.issued = append(m.issued, issueCall{roleARN, sessionName, duration})
	if m.err != nil {
		return nil, m.err
	}

	n := len(m.issued)
	exp := time.Now().Add(duration)
	if i := n - 1; i < len(m.expirations) {
		exp = m.expirations[i]
	}
	return &awscreds.TemporaryCredential{
		AccessKeyID:     fmt.Sprintf("key-%d", n),
		SecretAccessKey: fmt.Sprintf("secret-%d", n),
		SessionToken:    fmt.Sprintf("token-%d", n),
		Expiration:      exp,
	}, nil
}

func (m *mockIssuer) calls() []issueCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]issueCall(nil), m.issued...)
}

type mockCacheObserver struct {
	mu      *sync.Mutex
	hits    int
	misses  int
	issued  []time.Duration
	evicted int
	expired int
	failed  []time.Duration
}

func (m *mockCacheObserver) OnCacheHit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hits++
}

func (m *mockCacheObserver) OnCacheMiss() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.misses++
}

func (m *mockCacheObserver) OnCredentialIssued(latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.issued = append(m.issued, latency)
}

func (m *mockCacheObserver) OnCredentialEvicted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evicted++
}

func (m *mockCacheObserver) OnCredentialExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expired++
}

func (m *mockCacheObserver) OnFailedRequest(latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed = append(m.failed, latency)
}

func (m *mockCacheObserver) normalize() *mockCacheObserver {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.issued {
		m.issued[i] = 1
	}
	for i := range m.failed {
		m.failed[i] = 1
	}
	return m
}
