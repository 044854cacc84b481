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
/*
	deltadoc document inspection shell

	deltadoc [datadir]

	opens documents stored under datadir and lets you inspect and edit
	them interactively; changes dropped into the document's inbox by
	other processes are ingested live
*/
package main

import (
	"fmt"
	"os"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/dc0d/onexit"
	"github.com/launix-de/deltadoc/doc"
	"github.com/launix-de/deltadoc/persistence"
)

const newprompt = "\033[32m>\033[0m "
const resultprompt = "\033[31m=\033[0m "

type shell struct {
	factory *persistence.FileFactory
	store   persistence.DocStore
	d       *doc.Document
	watcher *persistence.Watcher
	name    string
}

func main() {
	fmt.Print(`deltadoc Copyright (C) 2026   Carl-Philip Hänsch
    This program comes with ABSOLUTELY NO WARRANTY;
    This is free software, and you are welcome to redistribute it
    under certain conditions;
`)
	base := "data"
	if len(os.Args) > 1 {
		base = os.Args[1]
	}
	persistence.InitSettings()
	sh := &shell{factory: &persistence.FileFactory{Basepath: base}}
	onexit.Register(func() { sh.close() })

	l, err := readline.NewEx(&readline.Config{
		Prompt:            newprompt,
		HistoryFile:       ".deltadoc-history.tmp",
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		panic(err)
	}
	defer l.Close()
	l.CaptureExitSignal()

	for {
		line, err := l.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				break
			}
			continue
		} else if err != nil {
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}

		// anti-panic func
		func() {
			defer func() {
				if r := recover(); r != nil {
					fmt.Println("panic:", r, string(debug.Stack()))
				}
			}()
			if out := sh.eval(line); out != "" {
				fmt.Println(resultprompt + out)
			}
		}()
	}
	sh.close()
}

func (sh *shell) close() {
	if sh.watcher != nil {
		sh.watcher.Close()
		sh.watcher = nil
	}
	if sh.store != nil && sh.d != nil {
		persistence.AppendIncremental(sh.store, sh.d)
		sh.store = nil
	}
}

func (sh *shell) lock() func() {
	if sh.watcher != nil {
		sh.watcher.Lock()
		return sh.watcher.Unlock
	}
	return func() {}
}

func (sh *shell) need() {
	if sh.d == nil {
		panic("no document open; use: open <name>")
	}
}

func (sh *shell) eval(line string) string {
	args := strings.Fields(line)
	cmd := args[0]
	args = args[1:]
	switch cmd {
	case "help":
		return `commands:
  open <name>            load or create a document
  put <key> <value>      set a root key
  get <key>              read a root key (with conflicts)
  del <key>              delete a root key
  keys                   list root keys
  text <key>             print a text object at a root key
  splice <key> <idx> <del> <str>  edit a text object
  inc <key> <n>          increment a counter
  heads                  current heads
  changes                change log
  stat                   document and memory statistics
  save                   write a fresh snapshot
  import-csv <file> <key>   seed a list from CSV
  import-json <file> <key>  seed a list from JSONL
  exit`
	case "open":
		if len(args) < 1 {
			panic("usage: open <name>")
		}
		sh.close()
		sh.name = args[0]
		sh.store = sh.factory.OpenDocument(args[0])
		d, err := persistence.LoadDocument(sh.store)
		if err != nil {
			panic(err)
		}
		sh.d = d
		persistence.Track(sh.store)
		if fs, ok := sh.store.(*persistence.FileStore); ok && persistence.Settings.InboxEnabled {
			w, err := persistence.NewWatcher(d, fs.InboxPath())
			if err != nil {
				fmt.Println("inbox watching disabled:", err)
			} else {
				w.OnApply = func(n int) { fmt.Printf("\ringested %d change(s) from inbox\n", n) }
				sh.watcher = w
			}
		}
		return fmt.Sprintf("opened %s (%s)", args[0], persistence.DocStat(d))
	case "put":
		sh.need()
		if len(args) < 2 {
			panic("usage: put <key> <value>")
		}
		defer sh.lock()()
		tx := sh.d.Transact()
		if err := tx.Put(doc.Root, args[0], parseScalar(strings.Join(args[1:], " "))); err != nil {
			tx.Rollback()
			panic(err)
		}
		tx.Commit()
		persistence.AppendIncremental(sh.store, sh.d)
		return "ok"
	case "get":
		sh.need()
		defer sh.lock()()
		vals, err := sh.d.Values(doc.Root, doc.KeyProp(args[0]))
		if err != nil {
			panic(err)
		}
		if len(vals) == 0 {
			return "(unset)"
		}
		var b strings.Builder
		for i, v := range vals {
			if i > 0 {
				b.WriteString("  <conflict> ")
			}
			b.WriteString(v.String())
		}
		return b.String()
	case "del":
		sh.need()
		defer sh.lock()()
		tx := sh.d.Transact()
		if err := tx.Delete(doc.Root, args[0]); err != nil {
			tx.Rollback()
			panic(err)
		}
		tx.Commit()
		persistence.AppendIncremental(sh.store, sh.d)
		return "ok"
	case "keys":
		sh.need()
		defer sh.lock()()
		keys, err := sh.d.Keys(doc.Root)
		if err != nil {
			panic(err)
		}
		return strings.Join(keys, " ")
	case "text":
		sh.need()
		defer sh.lock()()
		obj := sh.rootObject(args[0])
		s, err := sh.d.Text(obj)
		if err != nil {
			panic(err)
		}
		return s
	case "splice":
		sh.need()
		if len(args) < 3 {
			panic("usage: splice <key> <idx> <del> <str>")
		}
		defer sh.lock()()
		idx, _ := strconv.Atoi(args[1])
		del, _ := strconv.Atoi(args[2])
		insert := ""
		if len(args) > 3 {
			insert = strings.Join(args[3:], " ")
		}
		tx := sh.d.Transact()
		obj := sh.rootObject(args[0])
		if err := tx.SpliceText(obj, idx, del, insert); err != nil {
			tx.Rollback()
			panic(err)
		}
		tx.Commit()
		persistence.AppendIncremental(sh.store, sh.d)
		return "ok"
	case "inc":
		sh.need()
		defer sh.lock()()
		n := int64(1)
		if len(args) > 1 {
			n, _ = strconv.ParseInt(args[1], 10, 64)
		}
		tx := sh.d.Transact()
		if err := tx.Increment(doc.Root, doc.KeyProp(args[0]), n); err != nil {
			tx.Rollback()
			panic(err)
		}
		tx.Commit()
		persistence.AppendIncremental(sh.store, sh.d)
		return "ok"
	case "heads":
		sh.need()
		defer sh.lock()()
		var b strings.Builder
		for _, h := range sh.d.GetHeads() {
			b.WriteString(h.String())
			b.WriteString("\n")
		}
		return strings.TrimSpace(b.String())
	case "changes":
		sh.need()
		defer sh.lock()()
		var b strings.Builder
		for _, c := range sh.d.GetChanges(nil) {
			b.WriteString(fmt.Sprintf("%s seq=%d ops=%d %q\n", c.Hash(), c.Seq, len(c.Ops), c.Message))
		}
		return strings.TrimSpace(b.String())
	case "stat":
		sh.need()
		defer sh.lock()()
		return persistence.DocStat(sh.d) + "\n" + persistence.MemUsage()
	case "save":
		sh.need()
		defer sh.lock()()
		persistence.SaveDocument(sh.store, sh.d)
		return "snapshot written"
	case "import-csv", "import-json":
		sh.need()
		if len(args) < 2 {
			panic("usage: " + cmd + " <file> <key>")
		}
		f, err := os.Open(args[0])
		if err != nil {
			panic(err)
		}
		defer f.Close()
		defer sh.lock()()
		var n int
		if cmd == "import-csv" {
			n, err = persistence.LoadCSV(sh.d, args[1], f, ";")
		} else {
			n, err = persistence.LoadJSON(sh.d, args[1], f)
		}
		if err != nil {
			panic(err)
		}
		persistence.AppendIncremental(sh.store, sh.d)
		return fmt.Sprintf("imported %d rows", n)
	}
	panic("unknown command: " + cmd + " (try help)")
}

// rootObject resolves a root key holding a container.
func (sh *shell) rootObject(key string) doc.ObjectId {
	v, ok, err := sh.d.Value(doc.Root, doc.KeyProp(key))
	if err != nil {
		panic(err)
	}
	if !ok {
		// create a text object on first use
		tx := sh.d.Transact()
		obj, err := tx.PutObject(doc.Root, key, doc.TypeText)
		if err != nil {
			tx.Rollback()
			panic(err)
		}
		tx.Commit()
		return obj
	}
	if !v.IsObject {
		panic(key + " is not an object")
	}
	return doc.ObjId(v.Id)
}

func parseScalar(s string) doc.ScalarValue {
	if s == "null" {
		return doc.Null()
	}
	if s == "true" {
		return doc.Bool(true)
	}
	if s == "false" {
		return doc.Bool(false)
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return doc.Int(i)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return doc.F64(f)
	}
	if strings.HasPrefix(s, "counter:") {
		i, _ := strconv.ParseInt(s[8:], 10, 64)
		return doc.Counter(i)
	}
	return doc.Str(strings.Trim(s, "\""))
}
