package persistence

import (
	"os"
	"strings"
	"testing"

	"github.com/launix-de/deltadoc/doc"
)

func tempFactory(t *testing.T) *FileFactory {
	t.Helper()
	return &FileFactory{Basepath: t.TempDir()}
}

func TestFileStoreRoundtrip(t *testing.T) {
	store := tempFactory(t).OpenDocument("birds")

	d := doc.New()
	tx := d.Transact()
	tx.Put(doc.Root, "bird", doc.Str("magpie"))
	tx.Commit()
	SaveDocument(store, d)

	tx = d.Transact()
	tx.Put(doc.Root, "bird", doc.Str("wren"))
	tx.Commit()
	AppendIncremental(store, d)

	d2, err := LoadDocument(store)
	if err != nil {
		t.Fatal(err)
	}
	v, ok, err := d2.Value(doc.Root, doc.KeyProp("bird"))
	if err != nil || !ok {
		t.Fatalf("value: %v %v", ok, err)
	}
	if v.Scalar.S != "wren" {
		t.Errorf("bird = %q, want wren", v.Scalar.S)
	}
	if len(d2.GetHeads()) != 1 || d2.GetHeads()[0] != d.GetHeads()[0] {
		t.Error("heads differ after reload")
	}
}

func TestFileStoreSnapshotRescue(t *testing.T) {
	f := tempFactory(t)
	store := f.OpenDocument("x").(*FileStore)

	d := doc.New()
	tx := d.Transact()
	tx.Put(doc.Root, "k", doc.Int(1))
	tx.Commit()
	SaveDocument(store, d)

	// a second save moves the old snapshot aside
	tx = d.Transact()
	tx.Put(doc.Root, "k", doc.Int(2))
	tx.Commit()
	SaveDocument(store, d)
	if _, err := os.Stat(store.path + "snapshot.bin.old"); err != nil {
		t.Fatal("no rescue copy")
	}
	// corrupt the fresh snapshot: the loader falls back to the rescue
	os.Remove(store.path + "snapshot.bin")
	d2, err := LoadDocument(store)
	if err != nil {
		t.Fatal(err)
	}
	v, _, _ := d2.Value(doc.Root, doc.KeyProp("k"))
	if v.Scalar.I != 1 {
		t.Errorf("rescue value = %d, want 1", v.Scalar.I)
	}
}

func TestCompressionCodecs(t *testing.T) {
	for _, codec := range []string{"", "lz4", "gzip", "xz"} {
		f := tempFactory(t)
		store := f.OpenDocument("c")
		old := Settings.SnapshotCompression
		Settings.SnapshotCompression = codec
		d := doc.New()
		tx := d.Transact()
		tx.Put(doc.Root, "codec", doc.Str(codec))
		tx.Commit()
		SaveDocument(store, d)
		Settings.SnapshotCompression = old

		d2, err := LoadDocument(store)
		if err != nil {
			t.Fatalf("%s: %v", codec, err)
		}
		v, _, _ := d2.Value(doc.Root, doc.KeyProp("codec"))
		if v.Scalar.S != codec {
			t.Errorf("%s: value = %q", codec, v.Scalar.S)
		}
	}
}

func TestWatcherSweep(t *testing.T) {
	f := tempFactory(t)
	store := f.OpenDocument("w").(*FileStore)

	// a peer leaves a change chunk in the inbox before we start
	peer := doc.New()
	tx := peer.Transact()
	tx.Put(doc.Root, "from", doc.Str("peer"))
	tx.Commit()
	inbox := store.InboxPath()
	os.WriteFile(inbox+"/00000001.change", peer.SaveIncremental(), 0640)

	d := doc.New()
	w, err := NewWatcher(d, inbox)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	w.Lock()
	v, ok, _ := d.Value(doc.Root, doc.KeyProp("from"))
	w.Unlock()
	if !ok || v.Scalar.S != "peer" {
		t.Errorf("inbox chunk not applied: %v %v", ok, v)
	}
}

func TestLoadCSV(t *testing.T) {
	d := doc.New()
	csv := "name;weight\nmagpie;220\nwren;10\n"
	n, err := LoadCSV(d, "birds", strings.NewReader(csv), ";")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("rows = %d", n)
	}
	v, ok, _ := d.Value(doc.Root, doc.KeyProp("birds"))
	if !ok || !v.IsObject {
		t.Fatal("no list created")
	}
	list := doc.ObjId(v.Id)
	if l, _ := d.Length(list); l != 2 {
		t.Fatalf("list len = %d", l)
	}
	row, _, _ := d.Value(list, doc.IndexProp(0))
	bird := doc.ObjId(row.Id)
	name, _, _ := d.Value(bird, doc.KeyProp("name"))
	weight, _, _ := d.Value(bird, doc.KeyProp("weight"))
	if name.Scalar.S != "magpie" || weight.Scalar.I != 220 {
		t.Errorf("row 0 = %v %v", name, weight)
	}
}

func TestLoadJSON(t *testing.T) {
	d := doc.New()
	jsonl := `{"name":"magpie","flying":true}` + "\n" + `{"name":"kiwi","flying":false}` + "\n"
	n, err := LoadJSON(d, "birds", strings.NewReader(jsonl))
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("rows = %d", n)
	}
	v, _, _ := d.Value(doc.Root, doc.KeyProp("birds"))
	list := doc.ObjId(v.Id)
	row, _, _ := d.Value(list, doc.IndexProp(1))
	bird := doc.ObjId(row.Id)
	fl, _, _ := d.Value(bird, doc.KeyProp("flying"))
	if fl.Scalar.Kind != doc.KindBool || fl.Scalar.B {
		t.Errorf("kiwi flying = %v", fl.Scalar)
	}
}
