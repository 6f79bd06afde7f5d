package settings

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"dmrelay/pkg/logx"
)

// Watch reloads the store when the settings file changes on disk (e.g. a
// hand edit while the bot runs). Events are debounced to tolerate partial
// writes; our own tmp+rename saves also land here and reload the content
// we just wrote, which is harmless.
//
// Watch blocks until ctx is done. A broken watcher is recreated after a
// short pause rather than propagated; the store keeps working without the
// watcher either way.
func (s *Store) Watch(ctx context.Context) {
	dir := filepath.Dir(s.path)
	file := filepath.Base(s.path)

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(250*time.Millisecond, func() {
			if err := s.Reload(); err != nil {
				s.log.Warn("settings reload failed", logx.String("path", s.path), logx.Err(err))
				return
			}
			s.log.Debug("settings reloaded", logx.String("path", s.path))
		})
	}

	for {
		if ctx.Err() != nil {
			return
		}

		w, err := fsnotify.NewWatcher()
		if err == nil {
			err = w.Add(dir)
			if err != nil {
				_ = w.Close()
			}
		}
		if err != nil {
			s.log.Warn("settings watch init failed", logx.String("dir", dir), logx.Err(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
				continue
			}
		}

		broken := false
		for !broken {
			select {
			case <-ctx.Done():
				_ = w.Close()
				return
			case ev, ok := <-w.Events:
				if !ok {
					broken = true
					break
				}
				if strings.EqualFold(filepath.Base(ev.Name), file) {
					if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
						debounce()
					}
				}
			case werr, ok := <-w.Errors:
				if !ok {
					broken = true
					break
				}
				if werr != nil {
					s.log.Warn("settings watch error", logx.Err(werr))
				}
			}
		}

		_ = w.Close()
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}
