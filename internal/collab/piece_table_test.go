package collab

import (
	"testing"
)

func TestPieceTable_BasicString(t *testing.T) {
	pt := NewPieceTable("Hello world")
	if got := pt.String(); got != "Hello world" {
		t.Fatalf("String() = %q, want %q", got, "Hello world")
	}
	if gotLen := pt.Len(); gotLen != len([]rune("Hello world")) {
		t.Fatalf("Len() = %d, want %d", gotLen, len([]rune("Hello world")))
	}
}

func TestPieceTable_InsertMiddle(t *testing.T) {
	pt := NewPieceTable("Hello world")

	if err := pt.Insert(5, " collaborative"); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	want := "Hello collaborative world"
	if got := pt.String(); got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestPieceTable_InsertAtEnds(t *testing.T) {
	pt := NewPieceTable("bc")
	if err := pt.Insert(0, "a"); err != nil {
		t.Fatalf("Insert(0) error = %v", err)
	}
	if err := pt.Insert(3, "d"); err != nil {
		t.Fatalf("Insert(3) error = %v", err)
	}
	if got := pt.String(); got != "abcd" {
		t.Fatalf("String() = %q, want %q", got, "abcd")
	}
}

func TestPieceTable_DeleteMiddle(t *testing.T) {
	pt := NewPieceTable("Hello collaborative world")

	// 保留 "Hello"，删 " collaborative"
	if err := pt.Delete(5, 14); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	want := "Hello world"
	if got := pt.String(); got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestPieceTable_DeleteAcrossPieces(t *testing.T) {
	pt := NewPieceTable("Hello world")
	if err := pt.Insert(5, "XYZ"); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	// "HelloXYZ world" —— 删 "oXYZ w"，跨三个 piece
	if err := pt.Delete(4, 6); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if got := pt.String(); got != "Hellorld" {
		t.Fatalf("String() = %q, want %q", got, "Hellorld")
	}
}

func TestPieceTable_DeleteAll(t *testing.T) {
	pt := NewPieceTable("abc")
	if err := pt.Delete(0, 3); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if got := pt.String(); got != "" {
		t.Fatalf("String() = %q, want empty", got)
	}
	if pt.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", pt.Len())
	}
}

func TestPieceTable_Unicode(t *testing.T) {
	pt := NewPieceTable("你好世界")
	if err := pt.Insert(2, "，"); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if got := pt.String(); got != "你好，世界" {
		t.Fatalf("String() = %q", got)
	}
	if err := pt.Delete(2, 1); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if got := pt.String(); got != "你好世界" {
		t.Fatalf("String() = %q", got)
	}
}

func TestPieceTable_Reset(t *testing.T) {
	pt := NewPieceTable("old")
	if err := pt.Insert(3, "er"); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	pt.Reset("brand new")
	if got := pt.String(); got != "brand new" {
		t.Fatalf("String() = %q, want %q", got, "brand new")
	}
}

func TestPieceTable_OutOfBounds(t *testing.T) {
	pt := NewPieceTable("abc")
	if err := pt.Insert(4, "x"); err == nil {
		t.Fatal("Insert past end should fail")
	}
	if err := pt.Delete(1, 3); err == nil {
		t.Fatal("Delete past end should fail")
	}
	if got := pt.String(); got != "abc" {
		t.Fatalf("buffer changed on failed op: %q", got)
	}
}
