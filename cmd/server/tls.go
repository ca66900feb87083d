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
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/kubernetes-awscreds/awscreds/filewatch"
)

// TLSStore serves the latest successfully loaded certificate and key pair.
type TLSStore struct {
	certFile string
	keyFile  string
	current  atomic.Pointer[tls.Certificate]
	onReload func(error)
}

// TLSStoreOption is a function that sets some option on the store.
type TLSStoreOption func(*TLSStore)

// WithTLSReloadHook sets a function called with the outcome of every
// reload triggered by Watch.
func WithTLSReloadHook(f func(error)) TLSStoreOption {
	return func(s *TLSStore) {
		s.onReload = f
	}
}

// NewTLSStore loads the pair at certFile and keyFile. The store is not
// created if the initial load fails.
func NewTLSStore(certFile, keyFile string, opts ...TLSStoreOption) (*TLSStore, error) {
	s := &TLSStore{
		certFile: certFile,
		keyFile:  keyFile,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Current returns the current pair.
func (s *TLSStore) Current() *tls.Certificate {
	return s.current.Load()
}

// GetCertificate implements tls.Config.GetCertificate.
func (s *TLSStore) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return s.current.Load(), nil
}

// Reload reads the pair and swaps it in. On failure the current pair is kept.
func (s *TLSStore) Reload() error {
	cert, err := tls.LoadX509KeyPair(s.certFile, s.keyFile)
	if err != nil {
		return fmt.Errorf("failed to load TLS key pair: %w", err)
	}
	s.current.Store(&cert)
	return nil
}

// Watch reloads the pair whenever the certificate file changes, until ctx
// is canceled. The key file is expected to be replaced together with the
// certificate.
func (s *TLSStore) Watch(ctx context.Context, logger logrus.FieldLogger) {
	logger = logger.WithField("source", ReloadSourceTLS)
	filewatch.Run(ctx, s.certFile, func() error {
		err := s.Reload()
		if s.onReload != nil {
			s.onReload(err)
		}
		if err == nil {
			logger.Info("TLS key pair reloaded")
		}
		return err
	}, logger)
}

// TLSConfig returns a server configuration presenting the current pair
// of the store on every handshake.
func (s *TLSStore) TLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion:     tls.VersionTLS12,
		NextProtos:     []string{"http/1.1"},
		ClientAuth:     tls.NoClientCert,
		GetCertificate: s.GetCertificate,
	}
}
