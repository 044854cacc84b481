package doc

import "testing"

func TestOpSetInsertAndRead(t *testing.T) {
	a := testActor(0xaa)
	os := NewOpSet()
	op := &Op{
		Id:     OpId{1, a},
		Obj:    Root,
		Key:    MapKey("bird"),
		Action: PutOp(Str("magpie")),
	}
	os.InsertOp(0, op)
	got := os.ReadOp(0)
	if got.Id != op.Id || got.Key.Prop != "bird" || got.Action.Value.S != "magpie" {
		t.Errorf("roundtrip: %+v", got)
	}
	if os.Len() != 1 {
		t.Errorf("len = %d", os.Len())
	}
}

func TestOpSetObjRange(t *testing.T) {
	a := testActor(0xaa)
	d := New()
	c := mkChange(a, 1, 1, nil,
		ChangeOp{Obj: Root, Key: MapKey("l"), Action: MakeOp(TypeList)},
		ChangeOp{Obj: ObjId(OpId{1, a}), Key: SeqKey(Head), Insert: true, Action: PutOp(Str("x"))},
		ChangeOp{Obj: ObjId(OpId{1, a}), Key: SeqKey(ElemId(OpId{2, a})), Insert: true, Action: PutOp(Str("y"))},
		ChangeOp{Obj: Root, Key: MapKey("z"), Action: PutOp(Int(1))})
	mustApply(t, d, c)

	start, end := d.OpSet().ObjRange(Root)
	if start != 0 || end != 2 {
		t.Errorf("root range = [%d,%d)", start, end)
	}
	start, end = d.OpSet().ObjRange(ObjId(OpId{1, a}))
	if end-start != 2 {
		t.Errorf("list range = [%d,%d)", start, end)
	}
}

func TestOpSetReplace(t *testing.T) {
	a := testActor(0xaa)
	os := NewOpSet()
	os.InsertOp(0, &Op{Id: OpId{1, a}, Obj: Root, Key: MapKey("n"), Action: PutOp(Counter(1))})
	os.InsertOp(1, &Op{Id: OpId{2, a}, Obj: Root, Key: MapKey("s"), Action: PutOp(Str("long string value"))})

	// fold a value in place; the value blob is rewritten at the op's offset
	os.Replace(0, func(op *Op) {
		op.Action = PutOp(Counter(6))
	})
	got := os.ReadOp(0)
	if got.Action.Value.Kind != KindCounter || got.Action.Value.I != 6 {
		t.Errorf("replaced = %v", got.Action.Value)
	}
	// the neighbour op is untouched
	got = os.ReadOp(1)
	if got.Action.Value.S != "long string value" {
		t.Errorf("neighbour corrupted: %v", got.Action.Value)
	}
}

func TestClock(t *testing.T) {
	a, b := testActor(0xaa), testActor(0xbb)
	c := NewClock()
	c.Include(a, 5)
	c.Include(a, 3) // no regress
	if !c.Covers(OpId{5, a}) || c.Covers(OpId{6, a}) || c.Covers(OpId{1, b}) {
		t.Error("covers wrong")
	}
	var nilClock *Clock
	if !nilClock.Covers(OpId{99, b}) {
		t.Error("nil clock must cover everything")
	}
	c2 := c.Clone()
	c2.Include(b, 2)
	if c.Covers(OpId{1, b}) {
		t.Error("clone leaked into original")
	}
	c.Merge(c2)
	if !c.Covers(OpId{2, b}) {
		t.Error("merge lost entries")
	}
}
