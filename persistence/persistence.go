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

import "io"
import "fmt"
import "github.com/pkg/errors"
import "github.com/launix-de/deltadoc/doc"

/*

persistence interface

deltadoc allows multiple persistence interfaces for storage devices:
 - file system: in data/[docname]
 - S3 compatible object stores

A document store must implement the following operations:
 - load the snapshot
 - append a change chunk to the log
 - replay all logged change chunks
 - replace the snapshot (rescuing the old one)
 - remove the document

*/

type DocStore interface {
	ReadSnapshot() io.ReadCloser
	WriteSnapshot() io.WriteCloser
	AppendChange(data []byte)
	ReplayChanges() chan []byte
	ClearChanges()
	Sync()
	Remove()
}

type StoreFactory interface {
	OpenDocument(name string) DocStore
}

// ErrorReader implements io.ReadCloser for stores that have nothing to
// offer.
type ErrorReader struct {
	E error
}

func (e ErrorReader) Read([]byte) (int, error) { return 0, e.E }
func (e ErrorReader) Close() error             { return nil }

// LoadDocument restores a document: snapshot first, then the change log.
// A missing snapshot yields a fresh document that replays the log alone.
func LoadDocument(store DocStore) (*doc.Document, error) {
	var d *doc.Document
	r := store.ReadSnapshot()
	data, err := io.ReadAll(NewDecompressor(r))
	r.Close()
	if err == nil && len(data) > 0 {
		d, err = doc.Load(data)
		if err != nil {
			return nil, errors.Wrap(err, "snapshot")
		}
	} else {
		d = doc.New()
	}
	for chunk := range store.ReplayChanges() {
		changes, err := doc.LoadChanges(chunk)
		if err != nil {
			// a torn tail write is not fatal, everything before it is
			fmt.Println("skipping bad change chunk in log:", err)
			continue
		}
		if err := d.ApplyChanges(changes...); err != nil {
			return nil, errors.Wrap(err, "change log replay")
		}
	}
	return d, nil
}

// SaveDocument replaces the snapshot with the document's current state and
// clears the change log it subsumes.
func SaveDocument(store DocStore, d *doc.Document) {
	w := store.WriteSnapshot()
	cw := NewCompressor(w, Settings.SnapshotCompression)
	if _, err := cw.Write(d.Save()); err != nil {
		panic(err)
	}
	cw.Close()
	w.Close()
	store.ClearChanges()
	store.Sync()
}

// AppendIncremental logs everything committed since the last snapshot or
// append.
func AppendIncremental(store DocStore, d *doc.Document) {
	data := d.SaveIncremental()
	if len(data) == 0 {
		return
	}
	store.AppendChange(data)
	store.Sync()
}

// MoveDocument transfers a document between storages.
func MoveDocument(src DocStore, dst DocStore) error {
	d, err := LoadDocument(src)
	if err != nil {
		return err
	}
	SaveDocument(dst, d)
	return nil
}
