package ml

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Invalidator is anything holding a cached bundle.
type Invalidator interface {
	Invalidate()
}

// ArtifactWatcher 监听 CURRENT 变化，使常驻模型失效
type ArtifactWatcher struct {
	watcher *fsnotify.Watcher
	target  Invalidator
	current string
	log     *zap.Logger
	done    chan struct{}
	once    sync.Once
}

func WatchArtifacts(store *ArtifactStore, target Invalidator, log *zap.Logger) (*ArtifactWatcher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(store.Dir(), 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(store.Dir()); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", store.Dir(), err)
	}
	w := &ArtifactWatcher{
		watcher: fw,
		target:  target,
		current: filepath.Base(store.CurrentFile()),
		log:     log,
		done:    make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *ArtifactWatcher) loop() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != w.current {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				w.log.Info("artifact pointer changed", zap.String("op", event.Op.String()))
				w.target.Invalidate()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("artifact watcher error", zap.Error(err))
		}
	}
}

func (w *ArtifactWatcher) Close() error {
	var err error
	w.once.Do(func() {
		err = w.watcher.Close()
		<-w.done
	})
	return err
}
