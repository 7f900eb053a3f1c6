// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package omt

import (
	"testing"
)

func intCmp(target int) func(int) int {
	return func(v int) int { return v - target }
}

func TestInsertAtKeepsOrder(t *testing.T) {
	t.Parallel()

	o := New[int]()
	vals := []int{5, 1, 9, 3, 7}
	for _, v := range vals {
		idx, _ := FindZero(o, intCmp(v))
		o.InsertAt(idx, v)
	}

	want := []int{1, 3, 5, 7, 9}
	if o.Size() != len(want) {
		t.Fatalf("size = %d, want %d", o.Size(), len(want))
	}
	for i, w := range want {
		if got := o.Fetch(i); got != w {
			t.Errorf("at %d: got %d, want %d", i, got, w)
		}
	}
}

func TestFindZeroExactAndMiss(t *testing.T) {
	t.Parallel()

	o := FromSorted([]int{1, 3, 5, 7, 9})

	idx, ok := FindZero(o, intCmp(5))
	if !ok || idx != 2 {
		t.Fatalf("FindZero(5) = (%d, %v), want (2, true)", idx, ok)
	}

	idx, ok = FindZero(o, intCmp(4))
	if ok || idx != 2 {
		t.Fatalf("FindZero(4) = (%d, %v), want (2, false)", idx, ok)
	}
}

func TestFindDirections(t *testing.T) {
	t.Parallel()

	o := FromSorted([]int{10, 20, 30})

	if idx, ok := Find(o, intCmp(20), DirEQ); !ok || idx != 1 {
		t.Fatalf("DirEQ exact = (%d,%v)", idx, ok)
	}
	if idx, ok := Find(o, intCmp(25), DirLE); !ok || idx != 1 {
		t.Fatalf("DirLE(25) = (%d,%v), want (1,true)", idx, ok)
	}
	if idx, ok := Find(o, intCmp(25), DirGE); !ok || idx != 2 {
		t.Fatalf("DirGE(25) = (%d,%v), want (2,true)", idx, ok)
	}
	if _, ok := Find(o, intCmp(5), DirLE); ok {
		t.Fatalf("DirLE(5) should miss, nothing sorts below it")
	}
	if _, ok := Find(o, intCmp(35), DirGE); ok {
		t.Fatalf("DirGE(35) should miss, nothing sorts above it")
	}
}

func TestDeleteAtShiftsAndClears(t *testing.T) {
	t.Parallel()

	o := FromSorted([]int{1, 2, 3, 4})
	got := o.DeleteAt(1)
	if got != 2 {
		t.Fatalf("deleted value = %d, want 2", got)
	}
	want := []int{1, 3, 4}
	if o.Size() != len(want) {
		t.Fatalf("size after delete = %d, want %d", o.Size(), len(want))
	}
	for i, w := range want {
		if got := o.Fetch(i); got != w {
			t.Errorf("at %d: got %d, want %d", i, got, w)
		}
	}
}

func TestCloneIsIndependent(t *testing.T) {
	t.Parallel()

	o := FromSorted([]int{1, 2, 3})
	clone := o.Clone()
	clone.SetAt(0, 99)

	if o.Fetch(0) != 1 {
		t.Fatalf("mutating clone affected original: %d", o.Fetch(0))
	}
	if clone.Fetch(0) != 99 {
		t.Fatalf("clone not mutated: %d", clone.Fetch(0))
	}
}

func TestSplitAndAppendRoundtrip(t *testing.T) {
	t.Parallel()

	o := FromSorted([]int{1, 2, 3, 4, 5})
	left, right := o.Split(2)

	if left.Size() != 2 || right.Size() != 3 {
		t.Fatalf("split sizes = %d/%d, want 2/3", left.Size(), right.Size())
	}

	left.Append(right)
	if left.Size() != 5 {
		t.Fatalf("appended size = %d, want 5", left.Size())
	}
	for i := 0; i < 5; i++ {
		if got := left.Fetch(i); got != i+1 {
			t.Errorf("at %d: got %d, want %d", i, got, i+1)
		}
	}
}

func TestEachStopsEarly(t *testing.T) {
	t.Parallel()

	o := FromSorted([]int{1, 2, 3, 4})
	var seen []int
	o.Each(func(_ int, v int) bool {
		seen = append(seen, v)
		return v < 3
	})
	if len(seen) != 3 {
		t.Fatalf("seen = %v, want 3 items", seen)
	}
}

func TestNilReceiverIsEmpty(t *testing.T) {
	t.Parallel()

	var o *OMT[int]
	if o.Size() != 0 {
		t.Fatalf("nil OMT size = %d, want 0", o.Size())
	}
	if _, ok := FindZero(o, intCmp(1)); ok {
		t.Fatalf("FindZero on nil OMT should miss")
	}
}
