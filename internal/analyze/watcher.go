package analyze

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// AudioHandler receives the path of a settled audio artifact.
type AudioHandler func(path string)

// ArtifactWatcher monitors the artifacts directory for audio files and hands
// settled ones to a handler. It backs the retry path: audio saved to disk
// whose analysis never landed gets picked up and resubmitted.
type ArtifactWatcher struct {
	dir     string
	handler AudioHandler
	log     zerolog.Logger

	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc

	// Debounce: coalesce rapid Create+Write events on the same file.
	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer

	filesSeen atomic.Int64
}

// NewArtifactWatcher creates a watcher over dir. The handler runs on a timer
// goroutine after each file settles.
func NewArtifactWatcher(dir string, handler AudioHandler, log zerolog.Logger) *ArtifactWatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &ArtifactWatcher{
		dir:            dir,
		handler:        handler,
		log:            log.With().Str("component", "artifact-watcher").Logger(),
		ctx:            ctx,
		cancel:         cancel,
		debounceTimers: make(map[string]*time.Timer),
	}
}

// Start initializes fsnotify over the directory tree and begins watching.
func (w *ArtifactWatcher) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = fsw

	dirCount := 0
	err = filepath.WalkDir(w.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			w.log.Warn().Err(err).Str("path", path).Msg("error walking directory")
			return nil
		}
		if d.IsDir() {
			if addErr := fsw.Add(path); addErr != nil {
				w.log.Warn().Err(addErr).Str("path", path).Msg("failed to watch directory")
			} else {
				dirCount++
			}
		}
		return nil
	})
	if err != nil {
		fsw.Close()
		return err
	}

	w.log.Info().
		Int("directories", dirCount).
		Str("watch_dir", w.dir).
		Msg("artifact watcher initialized")

	go w.watchLoop()
	return nil
}

// Stop closes the watcher and cancels pending debounce timers.
func (w *ArtifactWatcher) Stop() {
	w.cancel()
	if w.watcher != nil {
		w.watcher.Close()
	}

	w.debounceMu.Lock()
	for path, t := range w.debounceTimers {
		t.Stop()
		delete(w.debounceTimers, path)
	}
	w.debounceMu.Unlock()

	w.log.Info().Int64("files_seen", w.filesSeen.Load()).Msg("artifact watcher stopped")
}

// FilesSeen reports how many audio files the watcher has handed off.
func (w *ArtifactWatcher) FilesSeen() int64 { return w.filesSeen.Load() }

func (w *ArtifactWatcher) watchLoop() {
	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}

			// New session directory: add it so per-question subdirs are seen.
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				if err := w.watcher.Add(event.Name); err != nil {
					w.log.Warn().Err(err).Str("path", event.Name).Msg("failed to watch new directory")
				}
				continue
			}

			if !strings.HasSuffix(strings.ToLower(event.Name), ".wav") {
				continue
			}

			w.scheduleHandle(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("fsnotify error")
		}
	}
}

// scheduleHandle debounces by 500ms so the file is fully written before the
// handler reads it.
func (w *ArtifactWatcher) scheduleHandle(path string) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if t, ok := w.debounceTimers[path]; ok {
		t.Reset(500 * time.Millisecond)
		return
	}

	w.debounceTimers[path] = time.AfterFunc(500*time.Millisecond, func() {
		w.debounceMu.Lock()
		delete(w.debounceTimers, path)
		w.debounceMu.Unlock()

		select {
		case <-w.ctx.Done():
			return
		default:
		}

		w.filesSeen.Add(1)
		w.handler(path)
	})
}
