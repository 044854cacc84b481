/*
Copyright (C) 2026  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package persistence

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/launix-de/deltadoc/doc"
)

// Watcher ingests change chunks dropped into a document's inbox directory
// by other processes. Files are applied and removed; chunks with missing
// dependencies sit in the document's causal queue until the rest arrives.
type Watcher struct {
	d       *doc.Document
	mu      sync.Mutex // serialises document access with the owner
	w       *fsnotify.Watcher
	path    string
	OnApply func(n int) // called after successful ingestion, may be nil
	done    chan struct{}
}

func NewWatcher(d *doc.Document, inbox string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(inbox); err != nil {
		fw.Close()
		return nil, err
	}
	w := &Watcher{d: d, w: fw, path: inbox, done: make(chan struct{})}
	// drain whatever is already there
	w.sweep()
	go w.run()
	return w, nil
}

// Lock guards the document for the owning caller while the watcher runs.
func (w *Watcher) Lock()   { w.mu.Lock() }
func (w *Watcher) Unlock() { w.mu.Unlock() }

func (w *Watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Rename) != 0 {
				w.ingest(ev.Name)
			}
		case err, ok := <-w.w.Errors:
			if !ok {
				return
			}
			fmt.Println("inbox watcher:", err)
		}
	}
}

func (w *Watcher) sweep() {
	entries, err := os.ReadDir(w.path)
	if err != nil {
		return
	}
	for _, e := range entries {
		w.ingest(w.path + "/" + e.Name())
	}
}

func (w *Watcher) ingest(name string) {
	if !strings.HasSuffix(name, ".change") {
		return
	}
	data, err := os.ReadFile(name)
	if err != nil || len(data) == 0 {
		return
	}
	changes, err := doc.LoadChanges(data)
	if err != nil {
		fmt.Println("inbox: bad chunk", name, ":", err)
		os.Remove(name)
		return
	}
	w.mu.Lock()
	err = w.d.ApplyChanges(changes...)
	w.mu.Unlock()
	if err != nil {
		fmt.Println("inbox: rejected", name, ":", err)
		os.Remove(name)
		return
	}
	os.Remove(name)
	if w.OnApply != nil {
		w.OnApply(len(changes))
	}
}

func (w *Watcher) Close() {
	close(w.done)
	w.w.Close()
}
