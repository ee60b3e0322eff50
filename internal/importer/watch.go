package importer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
)

// LoadDir brings the deployed set in line with the definitions directory:
// new or modified files are deployed, files that disappeared are undeployed.
// Definitions deployed through the API are left alone.
func (im *Importer) LoadDir(ctx context.Context) error {
	if im.dir == "" {
		return nil
	}
	entries, err := os.ReadDir(im.dir)
	if err != nil {
		return fmt.Errorf("read definitions dir: %w", err)
	}

	type candidate struct {
		path string
		info os.FileInfo
	}
	var found []candidate
	for _, e := range entries {
		if e.IsDir() || !IsDefinitionFile(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		found = append(found, candidate{filepath.Join(im.dir, e.Name()), info})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].path < found[j].path })

	im.mu.Lock()
	defer im.mu.Unlock()

	var errs []error
	present := make(map[string]bool, len(found))
	for _, c := range found {
		present[c.path] = true
		prev, known := im.files[c.path]
		if known && prev.modTime.Equal(c.info.ModTime()) && prev.size == c.info.Size() {
			continue
		}
		d, err := DecodeFile(c.path)
		if err != nil {
			im.logger.Warn("skipping definition file", "file", c.path, "error", err)
			errs = append(errs, err)
			continue
		}
		if known && prev.key != d.key() {
			if _, still := im.deployed[prev.key]; still {
				_ = im.undeployLocked(ctx, prev.key.id, prev.key.version)
			}
		}
		im.deployLocked(d)
		if err := im.persistLocked(ctx, d); err != nil {
			errs = append(errs, err)
		}
		im.files[c.path] = fileState{key: d.key(), modTime: c.info.ModTime(), size: c.info.Size()}
	}

	for path, fs := range im.files {
		if present[path] {
			continue
		}
		delete(im.files, path)
		if _, ok := im.deployed[fs.key]; ok {
			im.logger.Info("definition file removed", "file", path, "definition", fs.key.id)
			if err := im.undeployLocked(ctx, fs.key.id, fs.key.version); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Watch reloads the directory on file system changes until ctx is done.
// Bursts of events are collapsed into one reload after the debounce delay.
func (im *Importer) Watch(ctx context.Context) error {
	if im.dir == "" {
		return errors.New("importer: no definitions directory configured")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(im.dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch %s: %w", im.dir, err)
	}

	var (
		tmu   sync.Mutex
		timer *time.Timer
	)
	reload := func() {
		if err := im.LoadDir(ctx); err != nil {
			im.logger.Warn("definition reload finished with errors", "error", err)
		}
	}
	debounce := func() {
		tmu.Lock()
		defer tmu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(im.debounce, reload)
	}

	go func() {
		defer func() { _ = w.Close() }()
		for {
			select {
			case <-ctx.Done():
				tmu.Lock()
				if timer != nil {
					timer.Stop()
				}
				tmu.Unlock()
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !IsDefinitionFile(ev.Name) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
					debounce()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				im.logger.Warn("definition watcher error", "error", err)
			}
		}
	}()
	im.logger.Info("watching definitions", "dir", im.dir)
	return nil
}

// StartResync schedules LoadDir with a cron schedule such as "@every 1m" or
// "*/5 * * * *". Calling it again replaces the previous schedule.
func (im *Importer) StartResync(schedule string) error {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		if err := im.LoadDir(context.Background()); err != nil {
			im.logger.Warn("scheduled resync finished with errors", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid resync schedule %q: %w", schedule, err)
	}
	im.cronMu.Lock()
	old := im.cron
	im.cron = c
	im.cronMu.Unlock()
	if old != nil {
		<-old.Stop().Done()
	}
	c.Start()
	im.logger.Info("definition resync scheduled", "schedule", schedule)
	return nil
}

func (im *Importer) StopResync() {
	im.cronMu.Lock()
	c := im.cron
	im.cron = nil
	im.cronMu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}
