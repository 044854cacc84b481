package doc

import (
	"bytes"
	"testing"
)

func TestTextSpliceGraphemes(t *testing.T) {
	d := New()
	tx := d.Transact()
	text, _ := tx.PutObject(Root, "t", TypeText)
	if err := tx.SpliceText(text, 0, 0, "a👍🏽b"); err != nil {
		t.Fatal(err)
	}
	tx.Commit()
	// the skin-toned thumbs up is one grapheme cluster
	if n, _ := d.Length(text); n != 3 {
		t.Fatalf("len = %d, want 3", n)
	}
	s, _ := d.Text(text)
	if s != "a👍🏽b" {
		t.Fatalf("text = %q", s)
	}
	// delete the middle cluster
	tx = d.Transact()
	if err := tx.SpliceText(text, 1, 1, ""); err != nil {
		t.Fatal(err)
	}
	tx.Commit()
	s, _ = d.Text(text)
	if s != "ab" {
		t.Errorf("after delete = %q", s)
	}
}

func TestTextSpliceNegativeDel(t *testing.T) {
	d := New()
	tx := d.Transact()
	text, _ := tx.PutObject(Root, "t", TypeText)
	tx.SpliceText(text, 0, 0, "abcdef")
	// delete two graphemes behind index 4, then type
	if err := tx.SpliceText(text, 4, -2, "XY"); err != nil {
		t.Fatal(err)
	}
	tx.Commit()
	s, _ := d.Text(text)
	if s != "abXYef" {
		t.Errorf("text = %q, want abXYef", s)
	}
	// negative del past the start clamps
	tx = d.Transact()
	if err := tx.SpliceText(text, 1, -5, ""); err != nil {
		t.Fatal(err)
	}
	tx.Commit()
	s, _ = d.Text(text)
	if s != "bXYef" {
		t.Errorf("after clamped delete = %q", s)
	}
}

func TestNoOpPut(t *testing.T) {
	d := New()
	tx := d.Transact()
	tx.Put(Root, "k", Str("v"))
	tx.Commit()
	n := d.OpSet().Len()

	tx = d.Transact()
	if err := tx.Put(Root, "k", Str("v")); err != nil {
		t.Fatal(err)
	}
	c, _ := tx.Commit()
	if c != nil {
		t.Error("no-op put produced a change")
	}
	if d.OpSet().Len() != n {
		t.Error("no-op put grew the op-set")
	}
}

func TestTransactionRollback(t *testing.T) {
	d := New()
	tx := d.Transact()
	tx.Put(Root, "keep", Int(1))
	tx.Commit()
	before := d.Save()
	nops := d.OpSet().Len()

	tx = d.Transact()
	tx.Put(Root, "keep", Int(2))
	list, _ := tx.PutObject(Root, "l", TypeList)
	tx.Insert(list, 0, Str("x"))
	tx.Insert(list, 1, Str("y"))
	tx.DeleteIndex(list, 0)
	tx.Rollback()

	if d.OpSet().Len() != nops {
		t.Fatalf("op-set len = %d, want %d", d.OpSet().Len(), nops)
	}
	if !bytes.Equal(before, d.Save()) {
		t.Error("rollback left residue")
	}
	v := mustValue(t, d, Root, KeyProp("keep"))
	if v.Scalar.I != 1 {
		t.Errorf("keep = %d, want 1", v.Scalar.I)
	}
	if _, _, ok := d.OpSet().Object(list); ok {
		t.Error("rolled back object still registered")
	}
}

func TestTransactionErrors(t *testing.T) {
	d := New()
	tx := d.Transact()
	if err := tx.Put(Root, "", Str("x")); err != ErrEmptyStringKey {
		t.Errorf("empty key: %v", err)
	}
	if err := tx.Insert(Root, 0, Str("x")); err == nil {
		t.Error("insert into map accepted")
	}
	tx.Put(Root, "s", Str("scalar"))
	if err := tx.Increment(Root, KeyProp("s"), 1); err != ErrMissingCounter {
		t.Errorf("increment non-counter: %v", err)
	}
	list, _ := tx.PutObject(Root, "l", TypeList)
	if err := tx.Insert(list, 5, Str("x")); err != ErrInvalidIndex {
		t.Errorf("out of bounds insert: %v", err)
	}
	tx.Commit()
}

func TestMarkEvents(t *testing.T) {
	d := New()
	tx := d.Transact()
	text, _ := tx.PutObject(Root, "t", TypeText)
	tx.SpliceText(text, 0, 0, "hello")
	if err := tx.Mark(text, 0, 4, "bold", Bool(true), true, false); err != nil {
		t.Fatal(err)
	}
	tx.Commit()

	if n, _ := d.Length(text); n != 5 {
		t.Fatalf("marks changed text length: %d", n)
	}
	var log PatchLog
	d.ObserveCurrentState(&log)
	foundMark := false
	var splices []string
	for _, ev := range log.Events {
		switch ev.Kind {
		case PatchMark:
			foundMark = true
			if ev.Name != "bold" || ev.Start != 0 || ev.End != 4 {
				t.Errorf("mark = %+v", ev)
			}
		case PatchSpliceText:
			splices = append(splices, ev.Text)
		}
	}
	if !foundMark {
		t.Fatalf("no mark event in %+v", log.Events)
	}
	joined := ""
	for _, s := range splices {
		joined += s
	}
	if joined != "hello" {
		t.Errorf("splices = %v", splices)
	}
}

func TestUnmarkEvent(t *testing.T) {
	d := New()
	tx := d.Transact()
	text, _ := tx.PutObject(Root, "t", TypeText)
	tx.SpliceText(text, 0, 0, "abc")
	tx.Mark(text, 0, 3, "bold", Bool(true), true, false)
	tx.Commit()
	heads := d.GetHeads()
	tx = d.Transact()
	if err := tx.Unmark(text, 0, 3, "bold"); err != nil {
		t.Fatal(err)
	}
	tx.Commit()

	var log PatchLog
	if err := d.Diff(heads, nil, &log); err != nil {
		t.Fatal(err)
	}
	found := false
	for _, ev := range log.Events {
		if ev.Kind == PatchUnmark && ev.Name == "bold" && ev.Start == 0 && ev.End == 3 {
			found = true
		}
	}
	if !found {
		t.Errorf("no unmark in %+v", log.Events)
	}
}

func TestSpans(t *testing.T) {
	d := New()
	tx := d.Transact()
	text, _ := tx.PutObject(Root, "t", TypeText)
	tx.SpliceText(text, 0, 0, "hello")
	tx.Mark(text, 0, 4, "bold", Bool(true), true, false)
	tx.Commit()

	spans, err := d.Spans(text)
	if err != nil {
		t.Fatal(err)
	}
	if len(spans) != 2 {
		t.Fatalf("spans = %+v", spans)
	}
	if spans[0].Text != "hell" || !spans[0].Marks["bold"].Equal(Bool(true)) {
		t.Errorf("span 0 = %+v", spans[0])
	}
	if spans[1].Text != "o" || len(spans[1].Marks) != 0 {
		t.Errorf("span 1 = %+v", spans[1])
	}
}

func TestBlocks(t *testing.T) {
	d := New()
	tx := d.Transact()
	text, _ := tx.PutObject(Root, "t", TypeText)
	tx.SpliceText(text, 0, 0, "ab")
	block, err := tx.SplitBlock(text, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.UpdateBlock(text, 1, map[string]ScalarValue{"type": Str("paragraph")}); err != nil {
		t.Fatal(err)
	}
	tx.Commit()

	spans, err := d.Spans(text)
	if err != nil {
		t.Fatal(err)
	}
	if len(spans) != 3 || !spans[1].IsBlock || spans[1].Block != block {
		t.Fatalf("spans = %+v", spans)
	}
	v := mustValue(t, d, block, KeyProp("type"))
	if v.Scalar.S != "paragraph" {
		t.Errorf("block type = %v", v.Scalar)
	}

	tx = d.Transact()
	if err := tx.JoinBlock(text, 1); err != nil {
		t.Fatal(err)
	}
	tx.Commit()
	s, _ := d.Text(text)
	if s != "ab" {
		t.Errorf("after join = %q", s)
	}
}

func TestTransactAt(t *testing.T) {
	d := New()
	tx := d.Transact()
	tx.Put(Root, "k", Str("old"))
	tx.Commit()
	heads := d.GetHeads()
	tx = d.Transact()
	tx.Put(Root, "k", Str("new"))
	tx.Commit()

	// a historical transaction overwrites what was visible then, creating
	// a conflict with the newer write rather than clobbering it
	htx, err := d.TransactAt(heads)
	if err != nil {
		t.Fatal(err)
	}
	if err := htx.Put(Root, "k", Str("historical")); err != nil {
		t.Fatal(err)
	}
	htx.Commit()

	vals, _ := d.Values(Root, KeyProp("k"))
	if len(vals) != 2 {
		t.Fatalf("values = %+v, want a conflict", vals)
	}
}
