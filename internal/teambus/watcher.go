package teambus

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeEvent reports that the bus file was written, created or replaced.
type ChangeEvent struct {
	Path string
	Op   fsnotify.Op
}

// Watcher turns filesystem notifications on the bus file into a debounced
// stream of ChangeEvents.
type Watcher struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger
	events   chan ChangeEvent
}

// NewWatcher watches path. A zero debounce delivers every notification.
func NewWatcher(path string, debounce time.Duration, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:     filepath.Clean(path),
		debounce: debounce,
		logger:   logger,
		events:   make(chan ChangeEvent, 16),
	}
}

func (w *Watcher) Events() <-chan ChangeEvent {
	return w.events
}

// Start watches the bus's parent directory, so the watch survives the file
// being created after startup or replaced by rotation. The events channel is
// closed when ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		_ = fsw.Close()
		return err
	}

	go func() {
		defer fsw.Close()
		defer close(w.events)

		var (
			pending *ChangeEvent
			timer   *time.Timer
			fire    <-chan time.Time
		)
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != w.path {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				change := ChangeEvent{Path: ev.Name, Op: ev.Op}
				if w.debounce <= 0 {
					w.emit(change)
					continue
				}
				pending = &change
				if timer == nil {
					timer = time.NewTimer(w.debounce)
				} else {
					if !timer.Stop() {
						select {
						case <-timer.C:
						default:
						}
					}
					timer.Reset(w.debounce)
				}
				fire = timer.C
			case <-fire:
				fire = nil
				if pending != nil {
					w.emit(*pending)
					pending = nil
				}
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				w.logger.Error("bus watcher error", "error", err)
			}
		}
	}()
	return nil
}

func (w *Watcher) emit(change ChangeEvent) {
	select {
	case w.events <- change:
	default:
	}
	w.logger.Debug("bus file changed", "path", change.Path, "op", change.Op.String())
}
