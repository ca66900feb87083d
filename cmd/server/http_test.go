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

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/kubernetes-awscreds/awscreds"
)

func TestReadiness(t *testing.T) {
	g := NewWithT(t)

	var r Readiness

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, ReadinessPath, nil))
	g.Expect(rec.Code).To(Equal(http.StatusInternalServerError))
	g.Expect(rec.Body.String()).To(Equal("NotReady"))

	r.Set(true)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, ReadinessPath, nil))
	g.Expect(rec.Code).To(Equal(http.StatusOK))
	g.Expect(rec.Body.String()).To(Equal("Ok"))

	r.Set(false)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, ReadinessPath, nil))
	g.Expect(rec.Code).To(Equal(http.StatusInternalServerError))
}

func TestWithTimeout(t *testing.T) {
	t.Run("handler finishes in time", func(t *testing.T) {
		g := NewWithT(t)

		h := withTimeout(time.Second, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Test", "yes")
			w.WriteHeader(http.StatusCreated)
			fmt.Fprint(w, "created")
		}))

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		g.Expect(rec.Code).To(Equal(http.StatusCreated))
		g.Expect(rec.Header().Get("X-Test")).To(Equal("yes"))
		g.Expect(rec.Body.String()).To(Equal("created"))
	})

	t.Run("implicit status", func(t *testing.T) {
		g := NewWithT(t)

		h := withTimeout(time.Second, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		g.Expect(rec.Code).To(Equal(http.StatusOK))
		g.Expect(rec.Body.String()).To(BeEmpty())
	})

	t.Run("handler exceeds deadline", func(t *testing.T) {
		g := NewWithT(t)

		writeErr := make(chan error, 1)
		h := withTimeout(20*time.Millisecond, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-r.Context().Done()
			time.Sleep(10 * time.Millisecond)
			_, err := fmt.Fprint(w, "late")
			writeErr <- err
		}))

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		g.Expect(rec.Code).To(Equal(http.StatusRequestTimeout))
		g.Expect(rec.Body.String()).To(Equal("Request Timeout"))
		g.Eventually(writeErr).Should(Receive(MatchError(http.ErrHandlerTimeout)))
	})

	t.Run("panics are propagated", func(t *testing.T) {
		g := NewWithT(t)

		h := withTimeout(time.Second, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("boom")
		}))

		g.Expect(func() {
			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		}).To(PanicWith("boom"))
	})
}

func TestMetrics_Instrument(t *testing.T) {
	g := NewWithT(t)

	logger, hook := logtest.NewNullLogger()
	m := NewMetrics(prometheus.NewRegistry())

	h := m.instrument(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		FromContext(r.Context()).Info("handled")
	}), "/known")

	for _, path := range []string{"/known", "/known", "/unknown"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = "10.0.0.1:1234"
		h.ServeHTTP(httptest.NewRecorder(), req)
	}

	g.Expect(testutil.ToFloat64(m.requests.WithLabelValues("/known"))).To(Equal(2.0))
	g.Expect(testutil.ToFloat64(m.requests.WithLabelValues("other"))).To(Equal(1.0))

	entry := hook.LastEntry()
	g.Expect(entry).NotTo(BeNil())
	g.Expect(entry.Message).To(Equal("handled"))
	g.Expect(entry.Data).To(HaveKeyWithValue("path", "/unknown"))
	g.Expect(entry.Data).To(HaveKeyWithValue("method", http.MethodGet))
	g.Expect(entry.Data).To(HaveKeyWithValue("remoteAddr", "10.0.0.1:1234"))
}

func TestMetrics_ObserveReload(t *testing.T) {
	g := NewWithT(t)

	m := NewMetrics(prometheus.NewRegistry())
	observe := m.ObserveReload(ReloadSourceMappings)

	observe(nil)
	observe(nil)
	observe(errors.New("boom"))

	g.Expect(testutil.ToFloat64(m.reloads.WithLabelValues(ReloadSourceMappings, "success"))).To(Equal(2.0))
	g.Expect(testutil.ToFloat64(m.reloads.WithLabelValues(ReloadSourceMappings, "failure"))).To(Equal(1.0))
	g.Expect(testutil.ToFloat64(m.reloads.WithLabelValues(ReloadSourceTLS, "success"))).To(Equal(0.0))
}

func TestMetrics_CacheObserver(t *testing.T) {
	g := NewWithT(t)

	logger, hook := logtest.NewNullLogger()
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	const role = "arn:aws:iam::123456789012:role/app"
	id := awscreds.Identity{Namespace: "default", ServiceAccount: "app"}

	exp := time.Now().Add(time.Hour)
	issuer := awscreds.IssuerFunc(func(_ context.Context, _, _ string, _ time.Duration) (*awscreds.TemporaryCredential, error) {
		return &awscreds.TemporaryCredential{AccessKeyID: "id", Expiration: exp}, nil
	})
	cache := awscreds.NewCache(issuer)
	m.WatchCacheSize(cache)

	observed := cache.WithObserver(m.CacheObserverFactory(logger)(id, role))
	for i := 0; i < 3; i++ {
		_, err := observed.GetCredentials(context.Background(), role, id.SessionName())
		g.Expect(err).NotTo(HaveOccurred())
	}

	g.Expect(testutil.ToFloat64(m.credentialCacheEvents.WithLabelValues(role, "miss"))).To(Equal(1.0))
	g.Expect(testutil.ToFloat64(m.credentialCacheEvents.WithLabelValues(role, "hit"))).To(Equal(2.0))
	g.Expect(testutil.CollectAndCount(m.credentialCacheLatencies)).To(Equal(1))

	entry := hook.LastEntry()
	g.Expect(entry).NotTo(BeNil())
	g.Expect(entry.Message).To(Equal("credentials issued"))
	g.Expect(entry.Data).To(HaveKeyWithValue("role", role))
	g.Expect(entry.Data).To(HaveKeyWithValue("serviceAccount", logrus.Fields{
		"name":      "app",
		"namespace": "default",
	}))

	g.Expect(testutil.GatherAndCount(reg, "awscreds_credential_cache_items")).To(Equal(1))
	families, err := reg.Gather()
	g.Expect(err).NotTo(HaveOccurred())
	var items float64
	for _, f := range families {
		if f.GetName() == "awscreds_credential_cache_items" {
			items = f.GetMetric()[0].GetGauge().GetValue()
		}
	}
	g.Expect(items).To(Equal(1.0))
}
