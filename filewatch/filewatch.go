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

// Package filewatch keeps a file watch alive for the lifetime of a context,
// recreating the underlying watcher whenever the watched path is replaced.
package filewatch

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/wait"
)

// DefaultBackoff paces retries when a watcher cannot be created.
var DefaultBackoff = wait.Backoff{
	Duration: 100 * time.Millisecond,
	Factor:   2,
	Jitter:   0.1,
	Steps:    32,
	Cap:      5 * time.Second,
}

// Option is a function that sets some option on the watch loop.
type Option func(*loop)

// WithBackoff sets the backoff used between failed watcher creations.
func WithBackoff(b wait.Backoff) Option {
	return func(l *loop) {
		l.backoff = b
	}
}

type loop struct {
	path    string
	reload  func() error
	logger  logrus.FieldLogger
	backoff wait.Backoff
}

// Run watches path and calls reload on every write or create event until
// ctx is canceled. When the file is removed or renamed, or the watcher
// fails, the watcher is torn down and recreated on the same path and
// reload is called once the new watch is in place. Reload failures are
// logged and do not stop the loop.
func Run(ctx context.Context, path string, reload func() error, logger logrus.FieldLogger, opts ...Option) {
	l := &loop{
		path:    path,
		reload:  reload,
		logger:  logger.WithField("path", path),
		backoff: DefaultBackoff,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.run(ctx)
}

func (l *loop) run(ctx context.Context) {
	backoff := l.backoff
	recreated := false

	for {
		w, err := l.start()
		if err != nil {
			d := backoff.Step()
			l.logger.WithError(err).WithField("retryIn", d.String()).
				Error("failed to watch file, retrying")
			if !sleep(ctx, d) {
				return
			}
			continue
		}
		backoff = l.backoff

		if recreated {
			l.doReload("watch recreated")
		}
		recreated = true

		reason := l.consume(ctx, w)
		if err := w.Close(); err != nil {
			l.logger.WithError(err).Debug("failed to close file watcher")
		}
		if ctx.Err() != nil {
			return
		}
		l.logger.WithField("reason", reason).Warn("file watch lost, recreating watcher")
	}
}

func (l *loop) start() (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := w.Add(l.path); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to add path to file watcher: %w", err)
	}
	l.logger.Debug("file watch established")
	return w, nil
}

// consume handles events until the watch must be recreated or ctx is
// canceled, and returns the reason.
func (l *loop) consume(ctx context.Context, w *fsnotify.Watcher) string {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err().Error()
		case ev, ok := <-w.Events:
			if !ok {
				return "event channel closed"
			}
			switch {
			case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
				return fmt.Sprintf("file event %s", ev.Op)
			case ev.Has(fsnotify.Write), ev.Has(fsnotify.Create):
				l.doReload(ev.Op.String())
			}
		case err, ok := <-w.Errors:
			if !ok {
				return "error channel closed"
			}
			l.logger.WithError(err).Error("file watcher error")
			return "watcher error"
		}
	}
}

func (l *loop) doReload(trigger string) {
	logger := l.logger.WithField("trigger", trigger)
	if err := l.reload(); err != nil {
		logger.WithError(err).Error("failed to reload file, keeping previous contents")
		return
	}
	logger.Debug("file reloaded")
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
