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
import "os"
import "fmt"
import "sort"
import "strconv"
import "strings"

// FileStore keeps one document per directory:
//   snapshot.bin       last full save (compressed)
//   snapshot.bin.old   rescue copy while replacing
//   NNNNNNNN.change    incremental chunks since the snapshot
//   inbox/             change chunks dropped in by other processes
type FileStore struct {
	path string
}

type FileFactory struct {
	Basepath string
}

func (f *FileFactory) OpenDocument(name string) DocStore {
	return &FileStore{f.Basepath + "/" + name + "/"}
}

func (s *FileStore) ReadSnapshot() io.ReadCloser {
	f, err := os.Open(s.path + "snapshot.bin")
	if err != nil {
		// try the rescue copy (in case of failure while save)
		f, err = os.Open(s.path + "snapshot.bin.old")
		if err != nil {
			return ErrorReader{err}
		}
	}
	return f
}

func (s *FileStore) WriteSnapshot() io.WriteCloser {
	os.MkdirAll(s.path, 0750)
	if stat, err := os.Stat(s.path + "snapshot.bin"); err == nil && stat.Size() > 0 {
		// rescue a copy in case the write is torn
		os.Rename(s.path+"snapshot.bin", s.path+"snapshot.bin.old")
	}
	f, err := os.Create(s.path + "snapshot.bin")
	if err != nil {
		panic(err)
	}
	return f
}

func (s *FileStore) changeFiles() []string {
	entries, err := os.ReadDir(s.path)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".change") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}

func (s *FileStore) AppendChange(data []byte) {
	os.MkdirAll(s.path, 0750)
	names := s.changeFiles()
	next := 1
	if len(names) > 0 {
		if v, err := strconv.Atoi(strings.TrimSuffix(names[len(names)-1], ".change")); err == nil {
			next = v + 1
		} else {
			next = len(names) + 1
		}
	}
	name := fmt.Sprintf("%s%08d.change", s.path, next)
	f, err := os.Create(name + ".tmp")
	if err != nil {
		panic(err)
	}
	f.Write(data)
	f.Sync()
	f.Close()
	os.Rename(name+".tmp", name)
}

func (s *FileStore) ReplayChanges() chan []byte {
	replay := make(chan []byte, 8)
	go func() {
		for _, name := range s.changeFiles() {
			data, err := os.ReadFile(s.path + name)
			if err == nil && len(data) > 0 {
				replay <- data
			}
		}
		close(replay)
	}()
	return replay
}

func (s *FileStore) ClearChanges() {
	for _, name := range s.changeFiles() {
		os.Remove(s.path + name)
	}
}

func (s *FileStore) Sync() {
	if d, err := os.Open(s.path); err == nil {
		d.Sync()
		d.Close()
	}
}

func (s *FileStore) Remove() {
	os.RemoveAll(s.path)
}

// InboxPath is where the watcher expects foreign change chunks.
func (s *FileStore) InboxPath() string {
	p := s.path + "inbox"
	os.MkdirAll(p, 0750)
	return p
}
