package info

import (
	"reflect"
	"testing"
)

func TestInfoOrdering(t *testing.T) {
	in := New()
	in.Set("b", "1")
	in.Set("a", "2")
	in.Set("b", "3") // overwrite keeps position

	if got := in.Keys(); !reflect.DeepEqual(got, []string{"b", "a"}) {
		t.Fatalf("keys %v", got)
	}
	if v, ok := in.Get("b"); !ok || v != "3" {
		t.Fatalf("get b: %q/%v", v, ok)
	}
	if in.Len() != 2 {
		t.Fatalf("len %d", in.Len())
	}

	in.Delete("b")
	in.Delete("missing")
	if got := in.Keys(); !reflect.DeepEqual(got, []string{"a"}) {
		t.Fatalf("keys after delete %v", got)
	}
}

func TestInfoDupIsIndependent(t *testing.T) {
	in := New()
	in.Set("k", "v")

	d := in.Dup()
	d.Set("k", "changed")
	d.Set("extra", "1")

	if v, _ := in.Get("k"); v != "v" {
		t.Fatalf("dup wrote through to the original")
	}
	if in.Len() != 1 || d.Len() != 2 {
		t.Fatalf("lengths %d/%d", in.Len(), d.Len())
	}
}
