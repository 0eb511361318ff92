package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Store holds the live config. Readers take a Snapshot at the start of a
// pipeline run; later reloads never change a snapshot already handed out.
type Store struct {
	path string
	cur  atomic.Pointer[Config]

	mu       sync.Mutex
	onChange []func(*Config)
}

// NewStore creates a Store holding cfg. path is the file Watch reloads
// from and may be empty.
func NewStore(cfg *Config, path string) *Store {
	s := &Store{path: path}
	s.cur.Store(cfg.clone())
	return s
}

// Snapshot returns a deep copy of the current config.
func (s *Store) Snapshot() *Config {
	return s.cur.Load().clone()
}

// Path returns the watched file path.
func (s *Store) Path() string {
	return s.path
}

// Replace validates cfg and makes it current.
func (s *Store) Replace(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.cur.Store(cfg.clone())

	s.mu.Lock()
	subs := append([]func(*Config){}, s.onChange...)
	s.mu.Unlock()
	for _, fn := range subs {
		fn(cfg.clone())
	}
	return nil
}

// OnChange registers fn to run after every successful reload.
func (s *Store) OnChange(fn func(*Config)) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

// Reload reads the file again. Invalid files leave the current config in place.
func (s *Store) Reload() error {
	cfg, err := Load(s.path)
	if err != nil {
		return err
	}
	if err := s.Replace(cfg); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	return nil
}

// Watch reloads the config whenever its file changes, until ctx is done.
// The directory is watched so editors that replace the file are handled.
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch dir %q: %w", dir, err)
	}
	slog.Debug("[config] watching for changes", "path", s.path)
	return s.watchLoop(ctx, watcher.Events, watcher.Errors)
}

// watchLoop handles watcher events until ctx is done or the watcher closes.
// Watcher errors never stop it.
func (s *Store) watchLoop(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error) error {
	// Editors often emit several events per save; coalesce them.
	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(s.path) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				debounce = time.After(200 * time.Millisecond)
			}
		case <-debounce:
			debounce = nil
			if err := s.Reload(); err != nil {
				slog.Warn("[config] reload failed, keeping previous config", "path", s.path, "error", err)
				continue
			}
			slog.Info("[config] reloaded", "path", s.path)
		case err, ok := <-errs:
			if !ok {
				return nil
			}
			slog.Warn("[config] watcher error", "path", s.path, "error", err)
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				// Events were dropped; the file may have changed.
				debounce = time.After(200 * time.Millisecond)
			}
		}
	}
}
