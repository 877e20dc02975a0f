package routing

import (
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the routing table when its config file changes on disk.
// Editors replace files rather than write in place, so it watches the
// parent directory and filters events by name.
type Watcher struct {
	table    *Table
	watcher  *fsnotify.Watcher
	onReload func()
	done     chan struct{}
}

// Watch starts watching the table's config file. onReload, if non-nil,
// runs after every successful reload.
func Watch(table *Table, onReload func()) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(table.Path())); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		table:    table,
		watcher:  fw,
		onReload: onReload,
		done:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	target := filepath.Clean(w.table.Path())
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := w.table.Reload(); err != nil {
				// Keep serving the previous table on a bad edit.
				log.Printf("[routing] reload failed, keeping previous config: %v", err)
				continue
			}
			log.Printf("[routing] config reloaded from %s", target)
			if w.onReload != nil {
				w.onReload()
			}
		case <-w.watcher.Errors:
			// Ignore errors, keep watching
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() {
	close(w.done)
	w.watcher.Close()
}
