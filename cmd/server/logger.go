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
	"log"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

type loggerContextKey struct{}

var logLevel = logrus.InfoLevel

// NewLogger creates a JSON logger. The level becomes the default for
// loggers created by FromContext.
func NewLogger(level logrus.Level) *logrus.Logger {
	logLevel = level
	return newLogger(level)
}

func newLogger(level logrus.Level) *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
	})
	l.SetLevel(level)
	return l
}

// FromContext returns the logger stored in ctx, or a new one.
func FromContext(ctx context.Context) logrus.FieldLogger {
	if v := ctx.Value(loggerContextKey{}); v != nil {
		if l, ok := v.(logrus.FieldLogger); ok && l != nil {
			return l
		}
	}
	return newLogger(logLevel)
}

// IntoContext returns a copy of ctx carrying l.
func IntoContext(ctx context.Context, l logrus.FieldLogger) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, l)
}

// NewHTTPErrorLog returns a *log.Logger for http.Server.ErrorLog
// writing into l.
func NewHTTPErrorLog(l logrus.FieldLogger) *log.Logger {
	return log.New(httpErrorLogger{l}, "", 0)
}

type httpErrorLogger struct {
	l logrus.FieldLogger
}

func (h httpErrorLogger) Write(b []byte) (n int, _ error) {
	err := fmt.Errorf("%s", strings.TrimSpace(string(b)))
	h.l.WithError(err).Error("net/http error")
	return len(b), nil
}

type promErrorLogger struct {
	l logrus.FieldLogger
}

func (p promErrorLogger) Println(v ...any) {
	if len(v) != 2 {
		p.l.WithField("args", v).Error("unexpected prometheus scrape error")
		return
	}
	msg, ok := v[0].(string)
	if !ok {
		p.l.WithField("args", v).Error("unexpected prometheus scrape error")
		return
	}
	err, ok := v[1].(error)
	if !ok {
		p.l.WithField("args", v).Error("unexpected prometheus scrape error")
		return
	}

	msg = strings.TrimSuffix(msg, ":")

	var pErr prometheus.MultiError
	if !errors.As(err, &pErr) {
		p.l.WithError(err).Error(msg)
		return
	}

	p.l.WithField("errors", pErr).Error(msg)
}

// NewLogr returns a logr.Logger writing into l, for libraries logging
// through logr such as controller-runtime and klog. Verbosity 0 maps to
// info and anything above to debug.
func NewLogr(l logrus.FieldLogger) logr.Logger {
	return logr.New(&logrSink{l: l})
}

type logrSink struct {
	l    logrus.FieldLogger
	name string
}

func (*logrSink) Init(logr.RuntimeInfo) {}

func (s *logrSink) Enabled(level int) bool {
	lvl := logrus.InfoLevel
	if level > 0 {
		lvl = logrus.DebugLevel
	}
	switch l := s.l.(type) {
	case *logrus.Logger:
		return l.IsLevelEnabled(lvl)
	case *logrus.Entry:
		return l.Logger.IsLevelEnabled(lvl)
	}
	return true
}

func (s *logrSink) Info(level int, msg string, keysAndValues ...any) {
	e := s.entry(keysAndValues)
	if level > 0 {
		e.Debug(msg)
		return
	}
	e.Info(msg)
}

func (s *logrSink) Error(err error, msg string, keysAndValues ...any) {
	s.entry(keysAndValues).WithError(err).Error(msg)
}

func (s *logrSink) WithValues(keysAndValues ...any) logr.LogSink {
	return &logrSink{l: s.l.WithFields(fields(keysAndValues)), name: s.name}
}

func (s *logrSink) WithName(name string) logr.LogSink {
	if s.name != "" {
		name = s.name + "." + name
	}
	return &logrSink{l: s.l, name: name}
}

func (s *logrSink) entry(keysAndValues []any) logrus.FieldLogger {
	l := s.l.WithFields(fields(keysAndValues))
	if s.name != "" {
		l = l.WithField("logger", s.name)
	}
	return l
}

func fields(keysAndValues []any) logrus.Fields {
	f := make(logrus.Fields, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		k, ok := keysAndValues[i].(string)
		if !ok {
			k = fmt.Sprint(keysAndValues[i])
		}
		f[k] = keysAndValues[i+1]
	}
	return f
}
