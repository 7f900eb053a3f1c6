// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package brt

import (
	"bytes"

	"github.com/erigontech/brt/internal/omt"
)

// seqinsertWindow bounds how many recent right-edge inserts are tracked
// before the basement's "append likely" fast path engages (§4.C).
func seqinsertWindow(size int) int {
	w := size / 16
	if w < 1 {
		w = 1
	}
	if w > 32 {
		w = 32
	}
	return w
}

// BasementNode is a leaf partition: an ordered container of leaf entries
// keyed by the LE's key (§3 Basement node, §4.C). It is built on
// internal/omt, generalizing the teacher's popcount sparse array
// insert/delete-with-shift idiom to byte-string keys.
type BasementNode[V any] struct {
	entries *omt.OMT[*LeafEntry[V]]

	nBytesInBuffer int
	seqinsert      int
	softCopyUpToDate bool
}

// NewBasementNode returns an empty basement partition.
func NewBasementNode[V any]() *BasementNode[V] {
	return &BasementNode[V]{entries: omt.New[*LeafEntry[V]]()}
}

// Size returns the number of leaf entries.
func (b *BasementNode[V]) Size() int { return b.entries.Size() }

// Fetch returns the i-th leaf entry in key order.
func (b *BasementNode[V]) Fetch(i int) *LeafEntry[V] { return b.entries.Fetch(i) }

// NBytesInBuffer returns the tracked serialized-size estimate.
func (b *BasementNode[V]) NBytesInBuffer() int { return b.nBytesInBuffer }

// SoftCopyUpToDate reports whether ancestor messages have been applied to
// this in-memory copy (§3 Basement node flag).
func (b *BasementNode[V]) SoftCopyUpToDate() bool { return b.softCopyUpToDate }

// SetSoftCopyUpToDate marks the partition's ancestor-application state.
func (b *BasementNode[V]) SetSoftCopyUpToDate(v bool) { b.softCopyUpToDate = v }

// FindZero performs the exact lookup used by point reads.
func (b *BasementNode[V]) FindZero(key []byte) (int, bool) {
	return omt.FindZero(b.entries, func(le *LeafEntry[V]) int {
		return bytes.Compare(le.Key(), key)
	})
}

// Find performs a heaviside search in the requested direction, used by
// cursor set_range / set_range_reverse (§4.J).
func (b *BasementNode[V]) Find(key []byte, dir omt.Direction) (int, bool) {
	return omt.Find(b.entries, func(le *LeafEntry[V]) int {
		return bytes.Compare(le.Key(), key)
	}, dir)
}

// InsertAt inserts le at index i and accounts its disk size into the
// buffer estimate.
func (b *BasementNode[V]) InsertAt(i int, le *LeafEntry[V]) {
	b.entries.InsertAt(i, le)
	b.nBytesInBuffer += le.Disksize()
	b.bumpSeqinsert(i)
}

// SetAt replaces the entry at index i, adjusting the buffer estimate by
// the size delta.
func (b *BasementNode[V]) SetAt(i int, le *LeafEntry[V]) {
	old := b.entries.Fetch(i)
	b.nBytesInBuffer += le.Disksize() - old.Disksize()
	b.entries.SetAt(i, le)
}

// DeleteAt removes the entry at index i.
func (b *BasementNode[V]) DeleteAt(i int) {
	le := b.entries.DeleteAt(i)
	b.nBytesInBuffer -= le.Disksize()
	if b.nBytesInBuffer < 0 {
		b.nBytesInBuffer = 0
	}
}

// bumpSeqinsert tracks whether the most recent inserts landed within the
// right-edge window (§4.C). A reset happens whenever an insert lands
// outside the window, mirroring the teacher's fastnode.go trailing-edge
// bias but generalized into an explicit counter rather than an always-on
// compare. The counter is read only through AppendLikely; inserts still
// find their slot by binary search.
func (b *BasementNode[V]) bumpSeqinsert(insertedAt int) {
	window := seqinsertWindow(b.entries.Size())
	if insertedAt >= b.entries.Size()-window {
		b.seqinsert++
	} else {
		b.seqinsert = 0
	}
}

// AppendLikely reports whether recent inserts have been landing at the
// right edge. Its only user is the leaf FUSIBLE test in
// ComputeReactivity; no insert path probes the last element first.
func (b *BasementNode[V]) AppendLikely() bool {
	return b.seqinsert > 0
}

// Clone returns a copy-on-write duplicate of the basement: a new ordered
// table sharing no backing array with the original. Leaf entry pointers
// themselves are not deep-copied (entries are treated as immutable once
// published; apply_message always returns a new *LeafEntry).
func (b *BasementNode[V]) Clone() *BasementNode[V] {
	if b == nil {
		return nil
	}
	return &BasementNode[V]{
		entries:          b.entries.Clone(),
		nBytesInBuffer:   b.nBytesInBuffer,
		seqinsert:        b.seqinsert,
		softCopyUpToDate: b.softCopyUpToDate,
	}
}

// Split divides the basement at entry index i into two new basements.
func (b *BasementNode[V]) Split(i int) (left, right *BasementNode[V]) {
	l, r := b.entries.Split(i)
	left = &BasementNode[V]{entries: l, softCopyUpToDate: b.softCopyUpToDate}
	right = &BasementNode[V]{entries: r, softCopyUpToDate: b.softCopyUpToDate}
	left.recomputeBytes()
	right.recomputeBytes()
	return left, right
}

// Append concatenates other onto the end of b (used by leaf fusion).
func (b *BasementNode[V]) Append(other *BasementNode[V]) {
	b.entries.Append(other.entries)
	b.nBytesInBuffer += other.nBytesInBuffer
}

func (b *BasementNode[V]) recomputeBytes() {
	n := 0
	b.entries.Each(func(_ int, le *LeafEntry[V]) bool {
		n += le.Disksize()
		return true
	})
	b.nBytesInBuffer = n
}

// Each iterates leaf entries in key order.
func (b *BasementNode[V]) Each(yield func(int, *LeafEntry[V]) bool) {
	if b == nil {
		return
	}
	b.entries.Each(yield)
}
