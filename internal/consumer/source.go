package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/alexjbarnes/gadget-auth/internal/token"
	"github.com/fsnotify/fsnotify"
)

// Source serves the current registry and can swap in a reloaded one. Each
// registry stays immutable; readers see either the old or the new one.
type Source struct {
	path    string
	current atomic.Pointer[Registry]
	logger  *slog.Logger
}

// NewSource wraps an already-loaded registry. path may be empty when the
// registry did not come from a file.
func NewSource(r *Registry, path string, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Source{path: path, logger: logger}
	s.current.Store(r)

	return s
}

// LoadSource loads path and wraps the result.
func LoadSource(path string, logger *slog.Logger) (*Source, error) {
	r, err := Load(path)
	if err != nil {
		return nil, err
	}

	return NewSource(r, path, logger), nil
}

// Current returns the registry in effect.
func (s *Source) Current() *Registry {
	return s.current.Load()
}

// GetConsumer looks up (app, service, scheme) in the current registry.
func (s *Source) GetConsumer(app, service string, scheme token.Scheme) (any, error) {
	return s.Current().GetConsumer(app, service, scheme)
}

// Reload re-reads the file. An invalid file leaves the current registry in
// place and returns the error.
func (s *Source) Reload() error {
	if s.path == "" {
		return fmt.Errorf("source has no file")
	}

	r, err := Load(s.path)
	if err != nil {
		return err
	}

	s.current.Store(r)
	s.logger.Info("consumer registry reloaded",
		slog.String("path", s.path),
		slog.Int("consumers", r.Len()),
	)

	return nil
}

// Watch reloads the registry whenever its file is written or replaced. It
// watches the parent directory so editors that save via rename are seen.
// Blocks until ctx is cancelled.
func (s *Source) Watch(ctx context.Context) error {
	if s.path == "" {
		return fmt.Errorf("source has no file")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("watching consumer directory: %w", err)
	}

	target := filepath.Clean(s.path)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed")
			}

			if filepath.Clean(event.Name) != target {
				continue
			}

			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			if err := s.Reload(); err != nil {
				s.logger.Warn("consumer registry reload failed, keeping previous",
					slog.String("path", s.path),
					slog.String("error", err.Error()),
				)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed")
			}

			s.logger.Warn("consumer watcher error", slog.String("error", err.Error()))
		}
	}
}
