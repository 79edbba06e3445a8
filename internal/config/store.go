package config

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/zed-industries/claude-code-acp-sub000/internal/logging"
	"github.com/zed-industries/claude-code-acp-sub000/internal/permission"
	"github.com/zed-industries/claude-code-acp-sub000/pkg/types"
)

// DefaultDebounce is how long the store waits after the last file event
// before reloading.
const DefaultDebounce = 100 * time.Millisecond

// ErrStoreClosed is returned by operations on a closed store.
var ErrStoreClosed = errors.New("settings store closed")

// Option configures a Store.
type Option func(*Store)

// WithOnChange registers a callback invoked after every watched reload.
// It must not call back into Reload.
func WithOnChange(fn func(*types.Settings)) Option {
	return func(s *Store) { s.onChange = fn }
}

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(s *Store) { s.debounce = d }
}

// WithManagedPath overrides the platform managed settings path.
func WithManagedPath(path string) Option {
	return func(s *Store) { s.managed = path }
}

type snapshot struct {
	settings *types.Settings
	checker  *permission.Checker
}

// Store holds the merged settings for one working directory and keeps them
// current as the source files change.
type Store struct {
	managed  string
	debounce time.Duration
	onChange func(*types.Settings)
	log      zerolog.Logger

	current atomic.Pointer[snapshot]

	// reloadMu serializes reloads so the last one always reflects the
	// current cwd.
	reloadMu sync.Mutex

	mu      sync.Mutex
	cwd     string
	watcher *fsnotify.Watcher
	watched map[string]bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	timer   *time.Timer
	closed  bool
}

// NewStore loads settings for cwd and starts watching the sources. The
// first load completes before NewStore returns. A failure to set up
// watching is logged and leaves the store without hot reload.
func NewStore(cwd string, opts ...Option) (*Store, error) {
	if cwd == "" {
		return nil, errors.New("settings store requires a working directory")
	}
	s := &Store{
		cwd:      cwd,
		debounce: DefaultDebounce,
		log:      logging.Component("settings"),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.load()

	s.mu.Lock()
	s.startWatch()
	s.mu.Unlock()
	return s, nil
}

// Settings returns the last fully merged snapshot.
func (s *Store) Settings() *types.Settings {
	return s.current.Load().settings
}

// Checker returns the rule checker built from the current snapshot.
func (s *Store) Checker() *permission.Checker {
	return s.current.Load().checker
}

// Cwd returns the working directory the store is scoped to.
func (s *Store) Cwd() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cwd
}

// SetCwd rescopes the store. Watches are torn down and re-established
// and settings are reloaded before returning.
func (s *Store) SetCwd(cwd string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	if cwd == s.cwd {
		s.mu.Unlock()
		return nil
	}
	s.stopWatch()
	s.cwd = cwd
	s.startWatch()
	s.mu.Unlock()

	s.load()
	return nil
}

// Reload re-reads every source and notifies the change callback.
func (s *Store) Reload() {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}

	settings := s.load()
	s.mu.Lock()
	s.refreshWatches()
	s.mu.Unlock()

	if s.onChange != nil {
		s.onChange(settings)
	}
}

// Close stops watching. Pending debounced reloads are dropped.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.stopWatch()
	return nil
}

func (s *Store) load() *types.Settings {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	cwd := s.Cwd()
	settings := Load(Sources(cwd, s.managed))
	var rules permission.Rules
	if p := settings.Permissions; p != nil {
		rules = permission.Rules{Allow: p.Allow, Deny: p.Deny, Ask: p.Ask}
	}
	s.current.Store(&snapshot{
		settings: settings,
		checker:  permission.NewChecker(rules, cwd),
	})
	return settings
}

// scheduleReload cancels any pending reload and schedules a new one.
func (s *Store) scheduleReload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.debounce, s.Reload)
}

// startWatch must be called with mu held.
func (s *Store) startWatch() {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		s.log.Warn().Err(err).Msg("settings watch unavailable")
		return
	}
	s.watcher = w
	s.watched = make(map[string]bool)
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.refreshWatches()
	go s.run(w, s.stopCh, s.doneCh)
}

// refreshWatches adds watches for source directories that exist now.
// A directory that does not exist yet is covered by watching its parent.
// Must be called with mu held.
func (s *Store) refreshWatches() {
	if s.watcher == nil {
		return
	}
	for _, src := range Sources(s.cwd, s.managed) {
		dir := filepath.Dir(src.Path)
		target := dir
		if _, err := os.Stat(dir); err != nil {
			target = filepath.Dir(dir)
		}
		if s.watched[target] {
			continue
		}
		if _, err := os.Stat(target); err != nil {
			continue
		}
		if err := s.watcher.Add(target); err != nil {
			s.log.Warn().Err(err).Str("dir", target).Msg("failed to watch settings directory")
			continue
		}
		s.watched[target] = true
	}
}

// stopWatch must be called with mu held.
func (s *Store) stopWatch() {
	if s.watcher == nil {
		return
	}
	close(s.stopCh)
	_ = s.watcher.Close()
	// run may be blocked on mu in scheduleReload; release it while waiting.
	done := s.doneCh
	s.mu.Unlock()
	<-done
	s.mu.Lock()
	s.watcher = nil
	s.watched = nil
}

func (s *Store) run(w *fsnotify.Watcher, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	for {
		select {
		case <-stopCh:
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if s.relevant(ev.Name) {
				s.log.Debug().Str("path", ev.Name).Str("op", ev.Op.String()).Msg("settings source changed")
				s.scheduleReload()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.log.Warn().Err(err).Msg("settings watcher error")
		}
	}
}

func (s *Store) relevant(name string) bool {
	name = filepath.Clean(name)
	for _, src := range Sources(s.Cwd(), s.managed) {
		if name == filepath.Clean(src.Path) || name == filepath.Dir(src.Path) {
			return true
		}
	}
	return false
}
