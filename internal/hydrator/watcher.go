package hydrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/authz-engine/rbac-core/internal/metrics"
)

// ReloadedEvent represents a fixture reload or rollback
type ReloadedEvent struct {
	Timestamp time.Time
	RoleIDs   []int64
	// Version is the snapshot now being served
	Version int64
	// Unchanged marks a reload whose files matched the served snapshot
	Unchanged bool
	Error     error
}

// FileWatcher monitors a fixture file or directory and swaps the
// MemoryHydrator snapshot when files change. A failed reload keeps the
// previous snapshot.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	path    string
	// file is set when path is a single fixture; its parent directory is
	// watched so replace-by-rename saves are seen
	file string

	loader          *Loader
	target          *MemoryHydrator
	history         *SnapshotHistory
	logger          *zap.Logger
	metrics         metrics.Metrics
	debounceTimeout time.Duration
	debounceTimer   *time.Timer
	onReload        []func()
	eventChan       chan ReloadedEvent
	stopChan        chan struct{}
	mu              sync.Mutex
	isWatching      bool
	stopped         bool
}

// NewFileWatcher creates a new watcher for a fixture file or directory
func NewFileWatcher(path string, target *MemoryHydrator, loader *Loader, logger *zap.Logger, m metrics.Metrics) (*FileWatcher, error) {
	if target == nil {
		return nil, fmt.Errorf("watcher target cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if loader == nil {
		loader = NewLoader(logger)
	}
	if m == nil {
		m = metrics.NewNoOpMetrics()
	}

	history := NewSnapshotHistory(10)
	if _, err := history.Save(target.Roles(), "initial"); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	var file string
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		file = filepath.Clean(path)
	}

	return &FileWatcher{
		watcher:         watcher,
		path:            path,
		file:            file,
		loader:          loader,
		target:          target,
		history:         history,
		logger:          logger,
		metrics:         m,
		debounceTimeout: 500 * time.Millisecond,
		eventChan:       make(chan ReloadedEvent, 10),
		stopChan:        make(chan struct{}),
	}, nil
}

// OnReload registers fn to run after every successful reload, typically to
// invalidate a role cache in front of the hydrator
func (fw *FileWatcher) OnReload(fn func()) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.onReload = append(fw.onReload, fn)
}

// Watch starts watching the fixture path for changes
func (fw *FileWatcher) Watch(ctx context.Context) error {
	fw.mu.Lock()
	if fw.isWatching || fw.stopped {
		fw.mu.Unlock()
		return fmt.Errorf("watcher is already running")
	}
	fw.isWatching = true
	fw.mu.Unlock()

	watched := fw.path
	if fw.file != "" {
		watched = filepath.Dir(fw.file)
	}
	if err := fw.watcher.Add(watched); err != nil {
		fw.mu.Lock()
		fw.isWatching = false
		fw.mu.Unlock()
		return fmt.Errorf("failed to add path to watcher: %w", err)
	}

	fw.logger.Info("Starting role fixture watcher",
		zap.String("path", fw.path),
		zap.Duration("debounce", fw.debounceTimeout),
	)

	go fw.watchLoop(ctx)
	return nil
}

// watchLoop processes file system events with debouncing
func (fw *FileWatcher) watchLoop(ctx context.Context) {
	defer func() {
		fw.mu.Lock()
		fw.isWatching = false
		fw.mu.Unlock()
		fw.logger.Info("Role fixture watcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-fw.stopChan:
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}

			if fw.relevant(event.Name) {
				fw.handleEvent(event)
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Error("Watcher error", zap.Error(err))
		}
	}
}

func (fw *FileWatcher) relevant(name string) bool {
	if fw.file != "" {
		return filepath.Clean(name) == fw.file
	}
	return isFixture(name)
}

// handleEvent resets the debounce timer
func (fw *FileWatcher) handleEvent(event fsnotify.Event) {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	fw.logger.Debug("Role fixture change detected",
		zap.String("file", event.Name),
		zap.String("op", event.Op.String()),
	)

	if fw.debounceTimer != nil {
		fw.debounceTimer.Stop()
	}

	fw.debounceTimer = time.AfterFunc(fw.debounceTimeout, func() {
		fw.Reload()
	})
}

// Reload loads the fixture path and swaps the snapshot. Files identical to the
// served snapshot leave the hydrator and its reload hooks untouched.
func (fw *FileWatcher) Reload() error {
	fw.logger.Info("Reloading roles from disk", zap.String("path", fw.path))

	roles, err := fw.loader.Load(fw.path)
	if err != nil {
		return fw.reloadFailed(err)
	}

	unchanged, err := fw.history.Unchanged(roles)
	if err != nil {
		return fw.reloadFailed(err)
	}
	if unchanged {
		current, _ := fw.history.Current()
		fw.logger.Debug("Role fixtures unchanged", zap.Int64("version", current.Version))
		fw.metrics.RecordReload(true)
		fw.emit(ReloadedEvent{Timestamp: time.Now(), RoleIDs: fw.target.IDs(), Version: current.Version, Unchanged: true})
		return nil
	}

	if err := fw.target.Replace(roles); err != nil {
		return fw.reloadFailed(err)
	}
	snap, err := fw.history.Save(roles, "reload")
	if err != nil {
		return fw.reloadFailed(err)
	}

	fw.applied(snap, "Roles reloaded successfully")
	return nil
}

// Rollback serves a retained snapshot again and records it as a new version
func (fw *FileWatcher) Rollback(version int64) error {
	target, err := fw.history.Get(version)
	if err != nil {
		return err
	}

	if err := fw.target.Replace(target.Roles); err != nil {
		return fmt.Errorf("rollback to version %d: %w", version, err)
	}
	snap, err := fw.history.Save(target.Roles, fmt.Sprintf("rollback to version %d", version))
	if err != nil {
		return err
	}

	fw.applied(snap, "Roles rolled back")
	return nil
}

// RollbackToPrevious serves the version before the current one
func (fw *FileWatcher) RollbackToPrevious() error {
	prev, err := fw.history.Previous()
	if err != nil {
		return err
	}
	return fw.Rollback(prev.Version)
}

// History returns the retained snapshots
func (fw *FileWatcher) History() *SnapshotHistory {
	return fw.history
}

func (fw *FileWatcher) reloadFailed(err error) error {
	fw.logger.Error("Failed to reload roles",
		zap.String("path", fw.path),
		zap.Error(err),
	)
	fw.metrics.RecordReload(false)
	fw.emit(ReloadedEvent{Timestamp: time.Now(), Error: err})
	return err
}

// applied runs reload hooks after the hydrator started serving snap
func (fw *FileWatcher) applied(snap *Snapshot, msg string) {
	fw.mu.Lock()
	hooks := append([]func(){}, fw.onReload...)
	fw.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}

	ids := fw.target.IDs()
	fw.logger.Info(msg,
		zap.Int("count", len(ids)),
		zap.Int64("version", snap.Version),
		zap.String("comment", snap.Comment),
	)
	fw.metrics.RecordReload(true)
	fw.emit(ReloadedEvent{Timestamp: time.Now(), RoleIDs: ids, Version: snap.Version})
}

// emit delivers ev without blocking; events are dropped when nobody reads
func (fw *FileWatcher) emit(ev ReloadedEvent) {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.stopped {
		return
	}
	select {
	case fw.eventChan <- ev:
	default:
		fw.logger.Debug("Reload event dropped, channel full")
	}
}

// EventChan returns a channel for receiving reload events. It is closed by Stop.
func (fw *FileWatcher) EventChan() <-chan ReloadedEvent {
	return fw.eventChan
}

// Stop stops watching for file changes
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.stopped {
		return nil
	}
	fw.stopped = true

	close(fw.stopChan)

	if fw.debounceTimer != nil {
		fw.debounceTimer.Stop()
	}

	close(fw.eventChan)

	if err := fw.watcher.Close(); err != nil {
		fw.logger.Error("Error closing watcher", zap.Error(err))
		return err
	}
	return nil
}

// SetDebounceTimeout sets the debounce timeout for file changes
func (fw *FileWatcher) SetDebounceTimeout(d time.Duration) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.debounceTimeout = d
}

// IsWatching returns true if the watcher is currently active
func (fw *FileWatcher) IsWatching() bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.isWatching
}
