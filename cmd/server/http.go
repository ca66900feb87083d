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
	"bytes"
	"context"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Well-known paths of the metrics listener.
const (
	MetricsPath   = "/metrics"
	ReadinessPath = "/readyz"
)

// RequestTimeout bounds the handling of every inbound request.
const RequestTimeout = 10 * time.Second

// Readiness reports whether the process accepts traffic.
type Readiness struct {
	ready atomic.Bool
}

// Set flips the readiness state.
func (r *Readiness) Set(ready bool) {
	r.ready.Store(ready)
}

// Ready returns the readiness state.
func (r *Readiness) Ready() bool {
	return r.ready.Load()
}

func (r *Readiness) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if !r.Ready() {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, "NotReady")
		return
	}
	fmt.Fprint(w, "Ok")
}

// instrument counts requests per path and stores a request-scoped logger
// in the request context. Paths not listed in paths are counted as other.
func (m *Metrics) instrument(logger logrus.FieldLogger, next http.Handler, paths ...string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		label := "other"
		if slices.Contains(paths, r.URL.Path) {
			label = r.URL.Path
		}
		m.requests.WithLabelValues(label).Inc()

		l := logger.WithFields(logrus.Fields{
			"path":       r.URL.Path,
			"method":     r.Method,
			"remoteAddr": r.RemoteAddr,
		})
		next.ServeHTTP(w, r.WithContext(IntoContext(r.Context(), l)))
	})
}

// withTimeout answers 408 Request Timeout when next does not finish
// within d. Writes of next are buffered and dropped after the deadline.
func withTimeout(d time.Duration, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), d)
		defer cancel()
		r = r.WithContext(ctx)

		tw := &timeoutWriter{header: make(http.Header)}
		done := make(chan struct{})
		panicked := make(chan any, 1)
		go func() {
			defer func() {
				if p := recover(); p != nil {
					panicked <- p
				}
			}()
			next.ServeHTTP(tw, r)
			close(done)
		}()

		select {
		case p := <-panicked:
			panic(p)
		case <-done:
			tw.mu.Lock()
			defer tw.mu.Unlock()
			dst := w.Header()
			for k, v := range tw.header {
				dst[k] = v
			}
			if tw.code == 0 {
				tw.code = http.StatusOK
			}
			w.WriteHeader(tw.code)
			w.Write(tw.buf.Bytes())
		case <-ctx.Done():
			tw.mu.Lock()
			defer tw.mu.Unlock()
			tw.timedOut = true
			FromContext(ctx).Warn("request timed out")
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusRequestTimeout)
			fmt.Fprint(w, http.StatusText(http.StatusRequestTimeout))
		}
	})
}

type timeoutWriter struct {
	mu       sync.Mutex
	header   http.Header
	buf      bytes.Buffer
	code     int
	timedOut bool
}

func (t *timeoutWriter) Header() http.Header {
	return t.header
}

func (t *timeoutWriter) Write(b []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timedOut {
		return 0, http.ErrHandlerTimeout
	}
	if t.code == 0 {
		t.code = http.StatusOK
	}
	return t.buf.Write(b)
}

func (t *timeoutWriter) WriteHeader(code int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timedOut || t.code != 0 {
		return
	}
	t.code = code
}
