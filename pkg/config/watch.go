package config

import (
	"log"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a Config from disk whenever its backing file changes,
// so routing affinity and provider thresholds can be edited without
// restarting rigsd.
type Watcher struct {
	path string

	mu      sync.RWMutex
	current *Config

	fsw *fsnotify.Watcher
	done chan struct{}
}

// NewWatcher loads path once and starts watching it for writes.
func NewWatcher(path string) (*Watcher, error) {
	cfg, err := LoadConfigFromFile(path)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		path:    path,
		current: cfg,
		fsw:     fsw,
		done:    make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Current returns the most recently loaded Config.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := LoadConfigFromFile(w.path)
			if err != nil {
				log.Printf("config: reload %s failed, keeping previous: %v", w.path, err)
				continue
			}
			if err := cfg.Validate(); err != nil {
				log.Printf("config: reload %s failed validation, keeping previous: %v", w.path, err)
				continue
			}
			w.mu.Lock()
			w.current = cfg
			w.mu.Unlock()
			log.Printf("config: reloaded %s", w.path)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("config: watch error: %v", err)
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}
