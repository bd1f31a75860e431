package config

import (
	"context"
	"errors"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "livewatch/pkg/logx"
)

const (
	reloadDebounce = 250 * time.Millisecond
	rewatchFirst   = 250 * time.Millisecond
	rewatchCeiling = 5 * time.Second
	watchedFileOps = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove | fsnotify.Chmod
)

// Watch reloads the file whenever it changes, until ctx ends. The parent
// directory is watched so atomic-rename saves are seen. A watcher that breaks
// is recreated after a jittered, growing delay.
func (m *ConfigManager) Watch(ctx context.Context) error {
	dir, file := filepath.Dir(m.path), filepath.Base(m.path)
	pending := &debouncer{delay: reloadDebounce, fn: func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := m.Reload(ctx); err != nil {
			m.log.Warn("config reload failed", logx.Err(err))
		}
	}}
	defer pending.stop()

	delay := rewatchFirst
	for ctx.Err() == nil {
		w, err := openWatcher(dir)
		if err != nil {
			m.log.Warn("config watch init failed", logx.String("dir", dir), logx.Err(err))
		} else {
			delay = rewatchFirst
			m.log.Debug("config watcher started", logx.String("dir", dir))
			broken := m.drain(ctx, w, file, pending)
			_ = w.Close()
			if !broken {
				return nil
			}
		}

		wait := jitter(delay)
		delay = min(delay*2, rewatchCeiling)
		m.log.Warn("config watcher restarting", logx.Duration("backoff", wait))
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
	return nil
}

func openWatcher(dir string) (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, err
	}
	return w, nil
}

// drain feeds matching events into pending. It reports true when the
// watcher broke and false when ctx ended.
func (m *ConfigManager) drain(ctx context.Context, w *fsnotify.Watcher, file string, pending *debouncer) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-w.Events:
			if !ok {
				return true
			}
			if ev.Op&watchedFileOps != 0 && strings.EqualFold(filepath.Base(ev.Name), file) {
				pending.poke()
			}
		case err, ok := <-w.Errors:
			switch {
			case !ok || errors.Is(err, fsnotify.ErrClosed):
				return true
			case errors.Is(err, fsnotify.ErrEventOverflow):
				// Events were lost; the file may have changed.
				m.log.Warn("config watch overflow; forcing reload", logx.Err(err))
				pending.poke()
			case err != nil:
				m.log.Warn("config watch error", logx.Err(err))
			}
		}
	}
}

// debouncer runs fn once, delay after the last poke.
type debouncer struct {
	delay time.Duration
	fn    func()

	mu    sync.Mutex
	timer *time.Timer
}

func (d *debouncer) poke() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Reset(d.delay)
		return
	}
	d.timer = time.AfterFunc(d.delay, d.fn)
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
}

// jitter spreads d over [d, 1.5d).
func jitter(d time.Duration) time.Duration {
	return d + rand.N(d/2+1)
}
