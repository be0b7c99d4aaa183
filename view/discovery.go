package view

import (
	"os"

	"github.com/fsnotify/fsnotify"

	"github.com/sysprov/pvm/errors"
	"github.com/sysprov/pvm/sym"
)

// Loader obtains view types from an on-disk plugin artifact. The registry's
// dispatch logic is independent of how a plugin's code is obtained; built-in
// views register directly, while external plugins arrive through a Loader.
type Loader interface {
	// CanLoad reports whether the loader recognizes the artifact at path.
	CanLoad(path string) bool
	// Load returns the view types provided by the artifact.
	Load(path string) ([]Type, error)
}

// DiscoverPath scans a plugin directory once and registers every view type
// the given loaders recognize. A missing or empty path is not an error. In
// strict mode a failing artifact aborts discovery; otherwise it is logged
// and skipped.
func (r *Registry) DiscoverPath(path string, loaders []Loader, strict bool) error {
	if path == "" {
		return nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			r.log.Debugw("Plugin path does not exist, skipping discovery",
				"symbol", sym.View, "path", path)
			return nil
		}
		return errors.Wrapf(errors.ErrConfig, "reading plugin path %s: %v", path, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		artifact := path + string(os.PathSeparator) + entry.Name()
		for _, loader := range loaders {
			if !loader.CanLoad(artifact) {
				continue
			}
			types, err := loader.Load(artifact)
			if err != nil {
				if strict {
					return errors.Wrapf(err, "loading plugin %s", artifact)
				}
				r.log.Warnw("Skipping plugin artifact",
					"symbol", sym.View, "path", artifact, "error", err)
				break
			}
			for _, t := range types {
				if err := r.Register(t); err != nil {
					if strict {
						return err
					}
					r.log.Warnw("Skipping plugin view type",
						"symbol", sym.View, "path", artifact, "error", err)
				}
			}
			break
		}
	}

	r.startWatch(path)
	return nil
}

type pathWatcher struct {
	fsw  *fsnotify.Watcher
	done chan struct{}
}

// startWatch observes the plugin path after discovery. The catalog is
// immutable once built, so changes only produce a log line telling the
// operator a restart is needed to pick them up.
func (r *Registry) startWatch(path string) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		r.log.Debugw("Plugin path watch unavailable", "symbol", sym.View, "error", err)
		return
	}
	if err := fsw.Add(path); err != nil {
		r.log.Debugw("Plugin path watch unavailable", "symbol", sym.View, "path", path, "error", err)
		fsw.Close()
		return
	}

	w := &pathWatcher{fsw: fsw, done: make(chan struct{})}
	r.mu.Lock()
	r.watcher = w
	r.mu.Unlock()

	go func() {
		for {
			select {
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				r.log.Warnw("Plugin path changed after discovery; restart to reload catalog",
					"symbol", sym.View,
					"path", ev.Name,
					"op", ev.Op.String(),
				)
			case _, ok := <-fsw.Errors:
				if !ok {
					return
				}
			case <-w.done:
				return
			}
		}
	}()
}

func (w *pathWatcher) stop() {
	close(w.done)
	w.fsw.Close()
}
