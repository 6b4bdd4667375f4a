package group

import (
	"reflect"
	"testing"
)

func TestGroupBasics(t *testing.T) {
	ranks := []int{4, 2, 7}
	g := New(ranks, 1)
	ranks[0] = 99 // caller's slice must not alias the group

	if g.Size() != 3 || g.Rank() != 1 {
		t.Fatalf("size %d rank %d", g.Size(), g.Rank())
	}
	if g.WorldRank(0) != 4 {
		t.Fatalf("membership aliased the caller's slice")
	}
	if got := g.WorldRanks(); !reflect.DeepEqual(got, []int{4, 2, 7}) {
		t.Fatalf("WorldRanks %v", got)
	}
	if g.RankOf(7) != 2 {
		t.Fatalf("RankOf(7) = %d", g.RankOf(7))
	}
	if g.RankOf(5) != RankUndefined {
		t.Fatalf("RankOf(5) = %d", g.RankOf(5))
	}
}

func TestTranslateRanks(t *testing.T) {
	a := New([]int{4, 2, 7}, 0)
	b := New([]int{7, 4}, RankUndefined)

	got := a.TranslateRanks([]int{0, 1, 2}, b)
	if !reflect.DeepEqual(got, []int{1, RankUndefined, 0}) {
		t.Fatalf("translated %v", got)
	}
}

func TestReleaseReportsLast(t *testing.T) {
	g := New([]int{0}, 0)
	g.AddRef()
	if g.Release() {
		t.Fatalf("first release reported last")
	}
	if !g.Release() {
		t.Fatalf("last release not reported")
	}
}
