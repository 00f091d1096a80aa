package sentiment

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// LexiconWatcher reloads a lexicon file into a LexiconClassifier whenever the
// file is written. A file that fails to parse leaves the active lexicon in place.
type LexiconWatcher struct {
	path       string
	classifier *LexiconClassifier
	onReload   func()
	logger     *zap.Logger

	watcher  *fsnotify.Watcher
	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewLexiconWatcher creates a watcher for path. onReload, if set, runs after
// every successful reload.
func NewLexiconWatcher(path string, classifier *LexiconClassifier, logger *zap.Logger, onReload func()) (*LexiconWatcher, error) {
	if path == "" {
		return nil, errors.New("lexicon path cannot be empty")
	}
	if classifier == nil {
		return nil, errors.New("classifier cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving lexicon path: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating lexicon watcher: %w", err)
	}
	return &LexiconWatcher{
		path:       abs,
		classifier: classifier,
		onReload:   onReload,
		logger:     logger,
		watcher:    w,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}, nil
}

// Start watches the lexicon's directory so editors that replace the file
// (write to temp, rename) are still seen. It returns once watching has begun.
func (w *LexiconWatcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(w.path), err)
	}
	w.started.Store(true)
	go w.loop(ctx)
	return nil
}

// Stop ends watching and waits for the loop to exit.
func (w *LexiconWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		_ = w.watcher.Close()
	})
	if w.started.Load() {
		<-w.done
	}
}

func (w *LexiconWatcher) loop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.reload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("lexicon watcher error", zap.Error(err))
		}
	}
}

func (w *LexiconWatcher) reload() {
	lex, err := LoadLexicon(w.path)
	if err != nil {
		w.logger.Warn("lexicon reload failed, keeping previous lexicon",
			zap.String("path", w.path),
			zap.Error(err))
		return
	}
	w.classifier.SetLexicon(lex)
	if w.onReload != nil {
		w.onReload()
	}
	w.logger.Info("lexicon reloaded",
		zap.String("path", w.path),
		zap.Int("positive", len(lex.Positive)),
		zap.Int("negative", len(lex.Negative)))
}
