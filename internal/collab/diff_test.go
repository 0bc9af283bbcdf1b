package collab

import (
	"testing"

	"collabcore/internal/ot"
)

// replay 把 DiffOnce 的结果按序回放，验证 old 能变换成 new
func replay(t *testing.T, oldText, newText string) {
	t.Helper()
	cur := oldText
	for _, op := range DiffOnce(oldText, newText) {
		next, err := op.Apply(cur)
		if err != nil {
			t.Fatalf("replay %q -> %q: apply %+v: %v", oldText, newText, op, err)
		}
		cur = next
	}
	if cur != newText {
		t.Fatalf("replay %q -> %q: got %q", oldText, newText, cur)
	}
}

func TestDiffOnce_NoChange(t *testing.T) {
	if ops := DiffOnce("same", "same"); ops != nil {
		t.Fatalf("DiffOnce() = %v, want nil", ops)
	}
}

func TestDiffOnce_PureInsert(t *testing.T) {
	ops := DiffOnce("Hello", "Hello world")
	if len(ops) != 1 {
		t.Fatalf("len(ops) = %d, want 1", len(ops))
	}
	if ops[0].Kind != ot.KindInsert || ops[0].Pos != 5 || ops[0].Text != " world" {
		t.Fatalf("ops[0] = %+v", ops[0])
	}
	replay(t, "Hello", "Hello world")
}

func TestDiffOnce_PureDelete(t *testing.T) {
	ops := DiffOnce("Hello world", "Hello")
	if len(ops) != 1 {
		t.Fatalf("len(ops) = %d, want 1", len(ops))
	}
	if ops[0].Kind != ot.KindDelete || ops[0].Pos != 5 || ops[0].Len != 6 {
		t.Fatalf("ops[0] = %+v", ops[0])
	}
	replay(t, "Hello world", "Hello")
}

func TestDiffOnce_Replace(t *testing.T) {
	ops := DiffOnce("abcdef", "abXYef")
	if len(ops) != 2 {
		t.Fatalf("len(ops) = %d, want 2", len(ops))
	}
	if ops[0].Kind != ot.KindDelete || ops[0].Pos != 2 || ops[0].Len != 2 {
		t.Fatalf("ops[0] = %+v", ops[0])
	}
	if ops[1].Kind != ot.KindInsert || ops[1].Pos != 2 || ops[1].Text != "XY" {
		t.Fatalf("ops[1] = %+v", ops[1])
	}
	replay(t, "abcdef", "abXYef")
}

func TestDiffOnce_Replay(t *testing.T) {
	cases := []struct{ oldText, newText string }{
		{"", "a"},
		{"a", ""},
		{"aaa", "aa"},
		{"你好世界", "你好，世界"},
		{"prefix middle suffix", "prefix other suffix"},
		{"abc", "xyz"},
	}
	for _, c := range cases {
		replay(t, c.oldText, c.newText)
	}
}
