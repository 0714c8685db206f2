package probe

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

const markerSuffix = ".started"

// MarkerWatcher watches the probe marker directory for "<jobid>.started"
// files. On clusters where the marker directory lives on a shared
// filesystem this detects admission ahead of the next squeue poll.
type MarkerWatcher struct {
	watcher *fsnotify.Watcher
	done    chan struct{}

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewMarkerWatcher starts watching dir for marker files.
func NewMarkerWatcher(dir string) (*MarkerWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	mw := &MarkerWatcher{
		watcher: watcher,
		done:    make(chan struct{}),
		seen:    make(map[string]struct{}),
	}
	go mw.loop()
	return mw, nil
}

func (mw *MarkerWatcher) loop() {
	defer close(mw.done)
	for {
		select {
		case event, ok := <-mw.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			name := filepath.Base(event.Name)
			if !strings.HasSuffix(name, markerSuffix) {
				continue
			}
			id := strings.TrimSuffix(name, markerSuffix)
			mw.mu.Lock()
			mw.seen[id] = struct{}{}
			mw.mu.Unlock()
		case _, ok := <-mw.watcher.Errors:
			if !ok {
				return
			}
			// Watch errors are non-fatal; the observer still polls.
		}
	}
}

// Started reports whether a marker for the given probe id has appeared.
func (mw *MarkerWatcher) Started(probeID string) bool {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	_, ok := mw.seen[probeID]
	return ok
}

// Close stops watching.
func (mw *MarkerWatcher) Close() error {
	err := mw.watcher.Close()
	<-mw.done
	return err
}
