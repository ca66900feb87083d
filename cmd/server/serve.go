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
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/kubernetes-awscreds/awscreds"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
)

// Service is a long-running component of the process. Start blocks until
// ctx is canceled and returns nil on a graceful stop.
type Service interface {
	Name() string
	Start(ctx context.Context) error
}

type service struct {
	name  string
	start func(ctx context.Context) error
}

// NewService returns a Service running start.
func NewService(name string, start func(ctx context.Context) error) Service {
	return &service{name: name, start: start}
}

func (s *service) Name() string                    { return s.name }
func (s *service) Start(ctx context.Context) error { return s.start(ctx) }

// HTTPService serves an http.Handler until its context is canceled.
type HTTPService struct {
	name      string
	addr      string
	listener  net.Listener
	tlsConfig *tls.Config
	server    *http.Server
	logger    logrus.FieldLogger
}

// HTTPServiceOption is a function that sets some option on the service.
type HTTPServiceOption func(*HTTPService)

// WithTLSConfig serves TLS with the given configuration.
func WithTLSConfig(c *tls.Config) HTTPServiceOption {
	return func(h *HTTPService) {
		h.tlsConfig = c
	}
}

// WithListener serves on lis instead of listening on the address.
func WithListener(lis net.Listener) HTTPServiceOption {
	return func(h *HTTPService) {
		h.listener = lis
	}
}

// NewHTTPService creates an HTTP service listening on addr.
func NewHTTPService(name, addr string, handler http.Handler, logger logrus.FieldLogger,
	opts ...HTTPServiceOption) *HTTPService {

	logger = logger.WithField("server", name)
	h := &HTTPService{
		name:   name,
		addr:   addr,
		logger: logger,
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: readHeaderTimeout,
			ErrorLog:          NewHTTPErrorLog(logger),
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *HTTPService) Name() string {
	return h.name
}

func (h *HTTPService) Start(ctx context.Context) error {
	lis := h.listener
	if lis == nil {
		var err error
		lis, err = net.Listen("tcp", h.addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", h.addr, err)
		}
	}
	if h.tlsConfig != nil {
		lis = tls.NewListener(lis, h.tlsConfig)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- h.server.Serve(lis)
	}()
	h.logger.WithField("address", lis.Addr().String()).Info("server started")

	select {
	case err := <-errCh:
		return fmt.Errorf("%s server failed: %w", h.name, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := h.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down %s server: %w", h.name, err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server failed: %w", h.name, err)
	}
	h.logger.Info("server stopped")
	return nil
}

// RunOptions configures Run.
type RunOptions struct {
	// MetricsAddress is the address of the metrics and readiness listener.
	MetricsAddress string
	// MetricsListener, when set, is used instead of MetricsAddress.
	MetricsListener net.Listener
	// ReadyGracePeriod is the time between reporting not ready and
	// stopping the services on shutdown.
	ReadyGracePeriod time.Duration
	Metrics          *Metrics
	Readiness        *Readiness
	Logger           logrus.FieldLogger
	// Signals trigger a graceful shutdown. Defaults to SIGINT and SIGTERM.
	Signals []os.Signal
}

func (o *RunOptions) setDefaults() {
	if o.Metrics == nil {
		o.Metrics = NewMetrics(prometheus.NewRegistry())
	}
	if o.Readiness == nil {
		o.Readiness = &Readiness{}
	}
	if o.Logger == nil {
		o.Logger = newLogger(logLevel)
	}
	if len(o.Signals) == 0 {
		o.Signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}
}

// NewMetricsHandler returns the handler of the metrics listener.
func NewMetricsHandler(metrics *Metrics, readiness *Readiness, logger logrus.FieldLogger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET "+MetricsPath, metrics.Handler(logger))
	mux.Handle("GET "+ReadinessPath, readiness)
	return metrics.instrument(logger, mux, MetricsPath, ReadinessPath)
}

// Run starts primary, the metrics listener and the background services
// and blocks until a shutdown signal arrives or ctx is canceled. On
// shutdown readiness is reported false, the grace period elapses and all
// services are stopped together. Run returns nil after a graceful stop and
// an error when any service exits on its own.
func Run(ctx context.Context, opts RunOptions, primary Service, background ...Service) error {
	opts.setDefaults()
	logger := opts.Logger

	sigCtx, stopSignals := signal.NotifyContext(ctx, opts.Signals...)
	defer stopSignals()

	svcCtx, cancel := context.WithCancel(IntoContext(context.WithoutCancel(ctx), logger))
	defer cancel()

	metrics := NewHTTPService("metrics", opts.MetricsAddress,
		NewMetricsHandler(opts.Metrics, opts.Readiness, logger), logger,
		WithListener(opts.MetricsListener))

	g, gctx := errgroup.WithContext(svcCtx)
	for _, s := range append([]Service{primary, metrics}, background...) {
		s := s
		g.Go(func() error {
			err := s.Start(gctx)
			if err != nil {
				logger.WithError(err).WithField("service", s.Name()).Error("service failed")
				return err
			}
			if gctx.Err() == nil {
				return fmt.Errorf("service %s exited unexpectedly", s.Name())
			}
			return nil
		})
	}

	stopped := make(chan struct{})
	var runErr error
	go func() {
		runErr = g.Wait()
		close(stopped)
	}()

	opts.Readiness.Set(true)
	logger.Info("ready")

	select {
	case <-stopped:
		return runErr
	case <-sigCtx.Done():
	}

	opts.Readiness.Set(false)
	logger.WithField("gracePeriod", opts.ReadyGracePeriod.String()).Info("shutting down")
	if opts.ReadyGracePeriod > 0 {
		t := time.NewTimer(opts.ReadyGracePeriod)
		select {
		case <-t.C:
		case <-stopped:
		}
		t.Stop()
	}

	cancel()
	<-stopped
	if runErr != nil {
		return runErr
	}
	logger.Info("shutdown complete")
	return nil
}

// AgentOptions configures RunAgent.
type AgentOptions struct {
	RunOptions
	ServerAddress  string
	ServerListener net.Listener
	Credentials    CredentialsGetter
	Mappings       *awscreds.MappingStore
}

// RunAgent serves the credential endpoint and keeps the role mappings
// up to date until shutdown.
func RunAgent(ctx context.Context, opts AgentOptions) error {
	opts.setDefaults()
	handler := opts.Metrics.instrument(opts.Logger,
		withTimeout(RequestTimeout, NewAgentHandler(opts.Credentials)),
		awscreds.CredentialsPath)
	primary := NewHTTPService("agent", opts.ServerAddress, handler, opts.Logger,
		WithListener(opts.ServerListener))

	var background []Service
	if opts.Mappings != nil {
		background = append(background, watchService(ReloadSourceMappings, opts.Mappings.Watch, opts.Logger))
	}
	return Run(ctx, opts.RunOptions, primary, background...)
}

// WebhookOptions configures RunWebhook.
type WebhookOptions struct {
	RunOptions
	ServerAddress  string
	ServerListener net.Listener
	Mappings       *awscreds.MappingStore
	TLS            *TLSStore
	AgentAddress   string
	Region         string
}

// RunWebhook serves the pod admission endpoint over TLS and keeps the role
// mappings and the key pair up to date until shutdown.
func RunWebhook(ctx context.Context, opts WebhookOptions) error {
	opts.setDefaults()
	handler := opts.Metrics.instrument(opts.Logger,
		withTimeout(RequestTimeout, NewWebhookHandler(opts.Mappings, opts.AgentAddress, opts.Region, opts.Metrics)),
		awscreds.MutatePodsPath)
	primary := NewHTTPService("webhook", opts.ServerAddress, handler, opts.Logger,
		WithListener(opts.ServerListener), WithTLSConfig(opts.TLS.TLSConfig()))

	background := []Service{
		watchService(ReloadSourceMappings, opts.Mappings.Watch, opts.Logger),
		watchService(ReloadSourceTLS, opts.TLS.Watch, opts.Logger),
	}
	return Run(ctx, opts.RunOptions, primary, background...)
}

func watchService(source string, watch func(context.Context, logrus.FieldLogger), logger logrus.FieldLogger) Service {
	return NewService(source+"-watch", func(ctx context.Context) error {
		watch(ctx, logger)
		return nil
	})
}
