package doc

import (
	"bytes"
	"testing"
)

func testActor(b ...byte) ActorId {
	var a ActorId
	copy(a[:], b)
	return a
}

func mkChange(actor ActorId, seq, startOp uint64, deps []ChangeHash, ops ...ChangeOp) *Change {
	c := &Change{Actor: actor, Seq: seq, StartOp: startOp, Deps: deps, Ops: ops}
	c.SortDeps()
	return c
}

func mustApply(t *testing.T, d *Document, changes ...*Change) {
	t.Helper()
	if err := d.ApplyChanges(changes...); err != nil {
		t.Fatalf("apply: %v", err)
	}
}

func mustValue(t *testing.T, d *Document, obj ObjectId, prop Prop) PatchValue {
	t.Helper()
	v, ok, err := d.Value(obj, prop)
	if err != nil {
		t.Fatalf("value %s: %v", prop, err)
	}
	if !ok {
		t.Fatalf("value %s: empty", prop)
	}
	return v
}

// scenario 1: a single put patches root and reads back.
func TestSimplePut(t *testing.T) {
	a := testActor(0xaa)
	d := New()
	c := mkChange(a, 1, 1, nil,
		ChangeOp{Obj: Root, Key: MapKey("bird"), Action: PutOp(Str("magpie"))})
	mustApply(t, d, c)

	v := mustValue(t, d, Root, KeyProp("bird"))
	if v.Scalar.Kind != KindStr || v.Scalar.S != "magpie" {
		t.Errorf("value = %v", v)
	}
	var log PatchLog
	d.ObserveCurrentState(&log)
	if len(log.Events) != 1 {
		t.Fatalf("events = %d, want 1", len(log.Events))
	}
	ev := log.Events[0]
	if ev.Kind != PatchPut || ev.Prop.Key != "bird" || ev.Conflict {
		t.Errorf("event = %+v", ev)
	}
	if ev.Value.Scalar.S != "magpie" {
		t.Errorf("event value = %v", ev.Value)
	}
}

// scenario 2: increments fold into the counter, never materialise alone.
func TestCounterFolding(t *testing.T) {
	a := testActor(0xaa)
	d := New()
	c1 := mkChange(a, 1, 1, nil,
		ChangeOp{Obj: Root, Key: MapKey("n"), Action: PutOp(Counter(1))})
	c2 := mkChange(a, 2, 2, []ChangeHash{c1.Hash()},
		ChangeOp{Obj: Root, Key: MapKey("n"), Action: IncrementOp(2), Pred: []OpId{{1, a}}},
		ChangeOp{Obj: Root, Key: MapKey("n"), Action: IncrementOp(3), Pred: []OpId{{1, a}}})
	mustApply(t, d, c1, c2)

	v := mustValue(t, d, Root, KeyProp("n"))
	if v.Scalar.Kind != KindCounter || v.Scalar.I != 6 {
		t.Errorf("counter = %v, want counter(6)", v.Scalar)
	}
	vals, _ := d.Values(Root, KeyProp("n"))
	if len(vals) != 1 {
		t.Errorf("increments materialised as %d values", len(vals))
	}
}

// counter sums are arrival-order independent.
func TestCounterOrderIndependence(t *testing.T) {
	a, b := testActor(0xaa), testActor(0xbb)
	base := mkChange(a, 1, 1, nil,
		ChangeOp{Obj: Root, Key: MapKey("n"), Action: PutOp(Counter(10))})
	incA := mkChange(a, 2, 2, []ChangeHash{base.Hash()},
		ChangeOp{Obj: Root, Key: MapKey("n"), Action: IncrementOp(5), Pred: []OpId{{1, a}}})
	incB := mkChange(b, 1, 2, []ChangeHash{base.Hash()},
		ChangeOp{Obj: Root, Key: MapKey("n"), Action: IncrementOp(-3), Pred: []OpId{{1, a}}})

	d1 := New()
	mustApply(t, d1, base, incA, incB)
	d2 := New()
	mustApply(t, d2, base, incB, incA)
	for _, d := range []*Document{d1, d2} {
		v := mustValue(t, d, Root, KeyProp("n"))
		if v.Scalar.I != 12 {
			t.Errorf("counter = %d, want 12", v.Scalar.I)
		}
	}
}

// scenario 3: concurrent map writes conflict; the larger id wins and both
// surface.
func TestMapConflict(t *testing.T) {
	a := testActor(0xac, 0x11)
	b := testActor(0xac, 0x22)
	ca := mkChange(a, 1, 1, nil,
		ChangeOp{Obj: Root, Key: MapKey("bird"), Action: PutOp(Str("magpie"))})
	cb := mkChange(b, 1, 1, nil,
		ChangeOp{Obj: Root, Key: MapKey("bird"), Action: PutOp(Str("blackbird"))})
	d := New()
	mustApply(t, d, ca, cb)

	v := mustValue(t, d, Root, KeyProp("bird"))
	// same counter, so the bigger actor id wins
	if v.Scalar.S != "blackbird" {
		t.Errorf("winner = %q, want blackbird", v.Scalar.S)
	}
	conflicts, err := d.GetConflicts(Root, KeyProp("bird"))
	if err != nil {
		t.Fatal(err)
	}
	if len(conflicts) != 2 {
		t.Fatalf("conflicts = %d, want 2", len(conflicts))
	}
	if conflicts[0].Scalar.S != "magpie" || conflicts[1].Scalar.S != "blackbird" {
		t.Errorf("conflicts = %v", conflicts)
	}
}

// scenario 4: list insert then delete, with the diff events to match.
func TestListInsertDelete(t *testing.T) {
	a := testActor(0xaa)
	d := New()
	c1 := mkChange(a, 1, 1, nil,
		ChangeOp{Obj: Root, Key: MapKey("l"), Action: MakeOp(TypeList)},
		ChangeOp{Obj: ObjId(OpId{1, a}), Key: SeqKey(Head), Insert: true, Action: PutOp(Str("chaffinch"))})
	mustApply(t, d, c1)
	heads1 := d.GetHeads()

	list := ObjId(OpId{1, a})
	var log PatchLog
	if err := d.Diff(nil, heads1, &log); err != nil {
		t.Fatal(err)
	}
	foundInsert := false
	for _, ev := range log.Events {
		if ev.Kind == PatchInsert && ev.Obj == list && ev.Prop.Index == 0 {
			foundInsert = true
			if ev.Value.Scalar.S != "chaffinch" {
				t.Errorf("insert value = %v", ev.Value)
			}
		}
	}
	if !foundInsert {
		t.Fatalf("no insert patch in %v", log.Events)
	}

	c2 := mkChange(a, 2, 3, []ChangeHash{c1.Hash()},
		ChangeOp{Obj: list, Key: SeqKey(ElemId(OpId{2, a})), Action: DeleteOp(), Pred: []OpId{{2, a}}})
	mustApply(t, d, c2)

	log = PatchLog{}
	if err := d.Diff(heads1, nil, &log); err != nil {
		t.Fatal(err)
	}
	foundDel := false
	for _, ev := range log.Events {
		if ev.Kind == PatchDeleteSeq && ev.Obj == list && ev.Prop.Index == 0 && ev.Count == 1 {
			foundDel = true
		}
	}
	if !foundDel {
		t.Fatalf("no delete patch in %v", log.Events)
	}
	if n, _ := d.Length(list); n != 0 {
		t.Errorf("len = %d, want 0", n)
	}
}

// scenario 5: concurrent overwrite of the same element.
func TestConcurrentListOverwrite(t *testing.T) {
	d1 := New()
	tx := d1.Transact()
	list, err := tx.PutObject(Root, "l", TypeList)
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Insert(list, 0, Str("original")); err != nil {
		t.Fatal(err)
	}
	if _, err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	d2 := d1.Fork()
	tx = d1.Transact()
	if err := tx.PutIndex(list, 0, Str("from-one")); err != nil {
		t.Fatal(err)
	}
	tx.Commit()
	tx = d2.Transact()
	if err := tx.PutIndex(list, 0, Str("from-two")); err != nil {
		t.Fatal(err)
	}
	tx.Commit()

	if err := d1.Merge(d2); err != nil {
		t.Fatal(err)
	}
	vals, err := d1.Values(list, IndexProp(0))
	if err != nil {
		t.Fatal(err)
	}
	if len(vals) != 2 {
		t.Fatalf("conflicts = %d, want 2", len(vals))
	}
	winner := vals[len(vals)-1]
	if winner.Scalar.S != "from-one" && winner.Scalar.S != "from-two" {
		t.Errorf("winner = %v", winner)
	}
	// deterministic: the merge result agrees from the other side
	if err := d2.Merge(d1); err != nil {
		t.Fatal(err)
	}
	w2 := mustValue(t, d2, list, IndexProp(0))
	if w2.Scalar.S != winner.Scalar.S {
		t.Errorf("merge disagrees: %v vs %v", w2, winner)
	}
}

// scenario 6: a cursor follows its element when earlier inserts shift it.
func TestCursorShift(t *testing.T) {
	d := New()
	tx := d.Transact()
	list, _ := tx.PutObject(Root, "l", TypeList)
	if err := tx.Insert(list, 0, Str("X")); err != nil {
		t.Fatal(err)
	}
	tx.Commit()

	cur, err := d.GetCursor(list, 0)
	if err != nil {
		t.Fatal(err)
	}
	tx = d.Transact()
	if err := tx.Insert(list, 0, Str("Y")); err != nil {
		t.Fatal(err)
	}
	tx.Commit()

	idx, err := d.CursorToPosition(list, cur)
	if err != nil {
		t.Fatal(err)
	}
	if idx != 1 {
		t.Errorf("cursor index = %d, want 1", idx)
	}
}

// applying the same change twice is a no-op.
func TestApplyIdempotent(t *testing.T) {
	a := testActor(0xaa)
	c := mkChange(a, 1, 1, nil,
		ChangeOp{Obj: Root, Key: MapKey("k"), Action: PutOp(Int(1))})
	d := New()
	mustApply(t, d, c)
	save1 := d.Save()
	mustApply(t, d, c)
	mustApply(t, d, c, c)
	save2 := d.Save()
	if !bytes.Equal(save1, save2) {
		t.Error("idempotence violated")
	}
	if d.NumChanges() != 1 {
		t.Errorf("history = %d, want 1", d.NumChanges())
	}
}

// any causally ready permutation produces identical save bytes.
func TestCommutativity(t *testing.T) {
	a, b := testActor(0xaa), testActor(0xbb)
	c1 := mkChange(a, 1, 1, nil,
		ChangeOp{Obj: Root, Key: MapKey("l"), Action: MakeOp(TypeList)})
	list := ObjId(OpId{1, a})
	c2 := mkChange(a, 2, 2, []ChangeHash{c1.Hash()},
		ChangeOp{Obj: list, Key: SeqKey(Head), Insert: true, Action: PutOp(Str("a"))})
	c3 := mkChange(b, 1, 2, []ChangeHash{c1.Hash()},
		ChangeOp{Obj: list, Key: SeqKey(Head), Insert: true, Action: PutOp(Str("b"))})
	c4 := mkChange(b, 2, 3, []ChangeHash{c2.Hash(), c3.Hash()},
		ChangeOp{Obj: Root, Key: MapKey("done"), Action: PutOp(Bool(true))})

	perms := [][]*Change{
		{c1, c2, c3, c4},
		{c1, c3, c2, c4},
		{c4, c3, c2, c1},
		{c2, c4, c1, c3},
		{c3, c2, c4, c1},
	}
	var first []byte
	for i, perm := range perms {
		d := New()
		mustApply(t, d, perm...)
		if d.QueueLen() != 0 {
			t.Fatalf("perm %d: queue not drained", i)
		}
		s := d.Save()
		if first == nil {
			first = s
		} else if !bytes.Equal(first, s) {
			t.Errorf("perm %d: save bytes differ", i)
		}
	}
}

// changes queue until their dependencies land.
func TestCausalQueue(t *testing.T) {
	a := testActor(0xaa)
	c1 := mkChange(a, 1, 1, nil,
		ChangeOp{Obj: Root, Key: MapKey("k"), Action: PutOp(Int(1))})
	c2 := mkChange(a, 2, 2, []ChangeHash{c1.Hash()},
		ChangeOp{Obj: Root, Key: MapKey("k"), Action: PutOp(Int(2)), Pred: []OpId{{1, a}}})

	d := New()
	mustApply(t, d, c2)
	if d.NumChanges() != 0 || d.QueueLen() != 1 {
		t.Fatalf("premature apply: history=%d queue=%d", d.NumChanges(), d.QueueLen())
	}
	missing := d.GetMissingDeps(nil)
	if len(missing) != 1 || missing[0] != c1.Hash() {
		t.Errorf("missing = %v", missing)
	}
	if _, ok, _ := d.Value(Root, KeyProp("k")); ok {
		t.Error("value visible before deps")
	}
	mustApply(t, d, c1)
	if d.NumChanges() != 2 || d.QueueLen() != 0 {
		t.Fatalf("queue not drained: history=%d queue=%d", d.NumChanges(), d.QueueLen())
	}
	v := mustValue(t, d, Root, KeyProp("k"))
	if v.Scalar.I != 2 {
		t.Errorf("value = %d, want 2", v.Scalar.I)
	}
}

// save/load round-trips state, heads and values.
func TestSaveLoadRoundtrip(t *testing.T) {
	d := New()
	tx := d.Transact()
	tx.Put(Root, "title", Str("birds"))
	list, _ := tx.PutObject(Root, "list", TypeList)
	tx.Insert(list, 0, Str("magpie"))
	tx.Insert(list, 1, Str("wren"))
	text, _ := tx.PutObject(Root, "notes", TypeText)
	tx.SpliceText(text, 0, 0, "héllo")
	tx.Put(Root, "count", Counter(3))
	tx.Commit()
	tx = d.Transact()
	tx.Increment(Root, KeyProp("count"), 4)
	tx.DeleteIndex(list, 0)
	tx.Commit()

	saved := d.Save()
	d2, err := Load(saved)
	if err != nil {
		t.Fatal(err)
	}
	h1, h2 := d.GetHeads(), d2.GetHeads()
	if len(h1) != len(h2) || h1[0] != h2[0] {
		t.Fatalf("heads differ: %v vs %v", h1, h2)
	}
	v := mustValue(t, d2, Root, KeyProp("title"))
	if v.Scalar.S != "birds" {
		t.Errorf("title = %v", v.Scalar)
	}
	cnt := mustValue(t, d2, Root, KeyProp("count"))
	if cnt.Scalar.I != 7 {
		t.Errorf("count = %d, want 7", cnt.Scalar.I)
	}
	if n, _ := d2.Length(list); n != 1 {
		t.Errorf("list len = %d, want 1", n)
	}
	txt, err := d2.Text(text)
	if err != nil || txt != "héllo" {
		t.Errorf("text = %q err=%v", txt, err)
	}
	// loading the save of the load yields identical bytes
	if !bytes.Equal(saved, d2.Save()) {
		t.Error("save not canonical after load")
	}
}

// a full save followed by incremental saves equals the original state.
func TestIncrementalSave(t *testing.T) {
	d := New()
	tx := d.Transact()
	tx.Put(Root, "a", Int(1))
	tx.Commit()
	var blob []byte
	blob = append(blob, d.Save()...)

	tx = d.Transact()
	tx.Put(Root, "b", Int(2))
	tx.Commit()
	blob = append(blob, d.SaveIncremental()...)

	tx = d.Transact()
	tx.Put(Root, "a", Int(3))
	tx.Commit()
	blob = append(blob, d.SaveIncremental()...)

	d2, err := Load(blob)
	if err != nil {
		t.Fatal(err)
	}
	if v := mustValue(t, d2, Root, KeyProp("a")); v.Scalar.I != 3 {
		t.Errorf("a = %d, want 3", v.Scalar.I)
	}
	if v := mustValue(t, d2, Root, KeyProp("b")); v.Scalar.I != 2 {
		t.Errorf("b = %d, want 2", v.Scalar.I)
	}
	if !bytes.Equal(d.Save(), d2.Save()) {
		t.Error("incremental load diverges from original")
	}
}

// pred/succ duality: every pred edge has its succ mirror in the op-set.
func TestPredSuccDuality(t *testing.T) {
	a, b := testActor(0xaa), testActor(0xbb)
	c1 := mkChange(a, 1, 1, nil,
		ChangeOp{Obj: Root, Key: MapKey("k"), Action: PutOp(Int(1))})
	c2 := mkChange(a, 2, 2, []ChangeHash{c1.Hash()},
		ChangeOp{Obj: Root, Key: MapKey("k"), Action: PutOp(Int(2)), Pred: []OpId{{1, a}}})
	c3 := mkChange(b, 1, 2, []ChangeHash{c1.Hash()},
		ChangeOp{Obj: Root, Key: MapKey("k"), Action: PutOp(Int(3)), Pred: []OpId{{1, a}}})
	d := New()
	mustApply(t, d, c1, c2, c3)

	predCount := 0
	for _, c := range []*Change{c1, c2, c3} {
		for i := range c.Ops {
			for _, p := range c.Ops[i].Pred {
				predCount++
				pos, ok := d.OpSet().OpIdSearch(Root, p)
				if !ok {
					t.Fatalf("pred op %s not found", p)
				}
				target := d.OpSet().ReadOp(pos)
				if !containsOpId(target.Succ, c.OpId(i)) {
					t.Errorf("succ of %s misses %s", p, c.OpId(i))
				}
			}
		}
	}
	succCount := 0
	for pos := 0; pos < d.OpSet().Len(); pos++ {
		succCount += len(d.OpSet().ReadOp(pos).Succ)
	}
	if succCount != predCount {
		t.Errorf("succ edges = %d, pred edges = %d", succCount, predCount)
	}
}

// a failed apply leaves the document untouched.
func TestApplyAtomicity(t *testing.T) {
	a := testActor(0xaa)
	good := mkChange(a, 1, 1, nil,
		ChangeOp{Obj: Root, Key: MapKey("k"), Action: PutOp(Int(1))})
	bad := mkChange(a, 2, 2, []ChangeHash{good.Hash()},
		ChangeOp{Obj: Root, Key: MapKey("k"), Action: PutOp(Int(2)), Pred: []OpId{{99, a}}})
	d := New()
	mustApply(t, d, good)
	before := d.Save()
	if err := d.ApplyChanges(bad); err == nil {
		t.Fatal("expected error")
	}
	if !bytes.Equal(before, d.Save()) {
		t.Error("failed apply mutated the document")
	}
}
