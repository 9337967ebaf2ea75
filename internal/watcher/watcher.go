package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadFunc re-reads the watched file into memory.
type ReloadFunc func(ctx context.Context) error

// Service watches a single file, typically the webhook store, and calls
// reload after it changes on disk. Events are coalesced over the debounce
// interval. The parent directory is watched rather than the file itself so
// atomic replace-by-rename is seen by every platform backend.
type Service struct {
	path   string
	reload ReloadFunc
	logger *slog.Logger

	debounce     time.Duration
	pollInterval time.Duration
	probeTimeout time.Duration
}

// NewService creates a watcher for path.
func NewService(path string, reload ReloadFunc, logger *slog.Logger) *Service {
	return &Service{
		path:         filepath.Clean(path),
		reload:       reload,
		logger:       logger.With(slog.String("component", "store-watcher")),
		debounce:     500 * time.Millisecond,
		pollInterval: 10 * time.Second,
		probeTimeout: 2 * time.Second,
	}
}

// SetDebounce overrides the default debounce interval (for testing).
func (s *Service) SetDebounce(d time.Duration) {
	s.debounce = d
}

// SetPollInterval overrides the fallback poll interval (for testing).
func (s *Service) SetPollInterval(d time.Duration) {
	s.pollInterval = d
}

// Start blocks until ctx is canceled. When fsnotify does not deliver events
// for the file's directory it falls back to polling the file's size and
// modification time.
func (s *Service) Start(ctx context.Context) {
	dir := filepath.Dir(s.path)
	if !ProbeFSNotify(dir, s.probeTimeout) {
		s.logger.Warn("fsnotify unsupported for store directory, polling instead",
			slog.String("dir", dir),
			slog.Duration("interval", s.pollInterval),
		)
		s.poll(ctx)
		return
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Warn("fsnotify unavailable, polling instead", slog.String("error", err.Error()))
		s.poll(ctx)
		return
	}
	defer w.Close() //nolint:errcheck

	if err := w.Add(dir); err != nil {
		s.logger.Warn("watching store directory failed, polling instead",
			slog.String("dir", dir),
			slog.String("error", err.Error()),
		)
		s.poll(ctx)
		return
	}

	s.logger.Info("store watcher starting", slog.String("path", s.path))

	// Starts stopped; reset on each relevant event.
	debounceTimer := time.NewTimer(0)
	if !debounceTimer.Stop() {
		<-debounceTimer.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("store watcher stopping")
			return

		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if !s.relevant(ev) {
				continue
			}
			if !debounceTimer.Stop() {
				select {
				case <-debounceTimer.C:
				default:
				}
			}
			debounceTimer.Reset(s.debounce)
			pending = true

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.logger.Error("fsnotify error", slog.String("error", err.Error()))

		case <-debounceTimer.C:
			if pending {
				pending = false
				s.runReload(ctx)
			}
		}
	}
}

func (s *Service) relevant(ev fsnotify.Event) bool {
	if filepath.Clean(ev.Name) != s.path {
		return false
	}
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) || ev.Has(fsnotify.Remove)
}

func (s *Service) poll(ctx context.Context) {
	last := stat(s.path)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cur := stat(s.path)
			if cur != last {
				last = cur
				s.runReload(ctx)
			}
		}
	}
}

func (s *Service) runReload(ctx context.Context) {
	s.logger.Info("store file changed, reloading", slog.String("path", s.path))
	if err := s.reload(ctx); err != nil {
		// The previous snapshot stays in effect.
		s.logger.Error("reloading store failed", slog.String("error", err.Error()))
	}
}

type fileState struct {
	exists  bool
	size    int64
	modTime time.Time
}

func stat(path string) fileState {
	info, err := os.Stat(path)
	if err != nil {
		return fileState{}
	}
	return fileState{exists: true, size: info.Size(), modTime: info.ModTime()}
}
