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

import "sync"
import "github.com/dc0d/onexit"

type SettingsT struct {
	SnapshotCompression string // "lz4" (default), "xz", "gzip" or "" for raw
	AutoSnapshot        int    // not read by this module; snapshots are written only by SaveDocument
	InboxEnabled        bool
}

var Settings SettingsT = SettingsT{"lz4", 64, true}

var openStores struct {
	mu   sync.Mutex
	list []DocStore
}

// Track registers a store so pending writes are synced on process exit.
func Track(s DocStore) {
	openStores.mu.Lock()
	openStores.list = append(openStores.list, s)
	openStores.mu.Unlock()
}

// call this after you filled Settings
func InitSettings() {
	onexit.Register(func() {
		openStores.mu.Lock()
		defer openStores.mu.Unlock()
		for _, s := range openStores.list {
			s.Sync()
		}
	})
}
