// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package brt

import "bytes"

// Ancestors is a stack-allocated, single-owner linked list recording the
// path from root to the currently pinned node (spec.md §9 "Cyclic
// ancestor references": a linked list of frames parameterized by
// &parent, childnum, &next, living on the caller's stack frames — no
// reference cycles, no GC surface).
type Ancestors[V any] struct {
	node     *Node[V]
	childnum int
	next     *Ancestors[V]
}

// Push returns a new frame linking node/childnum onto the front of the
// chain (the caller's stack frame owns the returned value; it is never
// retained beyond the descent that created it).
func (a *Ancestors[V]) Push(node *Node[V], childnum int) *Ancestors[V] {
	return &Ancestors[V]{node: node, childnum: childnum, next: a}
}

// keyRange computes the lower-exclusive/upper-inclusive bound that
// ancestors[0].childnum must route to, by walking the chain outward from
// the leaf toward the root and narrowing at each level.
func (a *Ancestors[V]) keyRange(cmp func(a, b []byte) int) (lower, upper []byte, hasLower, hasUpper bool) {
	for f := a; f != nil; f = f.next {
		n := f.node
		if f.childnum > 0 {
			cand := n.Pivot(f.childnum - 1)
			if !hasLower || cmp(cand, lower) > 0 {
				lower, hasLower = cand, true
			}
		}
		if f.childnum < len(n.pivots) {
			cand := n.Pivot(f.childnum)
			if !hasUpper || cmp(cand, upper) < 0 {
				upper, hasUpper = cand, true
			}
		}
	}
	return lower, upper, hasLower, hasUpper
}

func keyInRange(key, lower, upper []byte, hasLower, hasUpper bool, cmp func(a, b []byte) int) bool {
	if hasLower && cmp(key, lower) <= 0 {
		return false
	}
	if hasUpper && cmp(key, upper) > 0 {
		return false
	}
	return true
}

// applyAncestors implements §4.F: walk the ancestors chain from root to
// leaf (our chain is linked leaf-to-root, so we walk it and apply in
// reverse, i.e. oldest/root-closest ancestor's messages are logically
// applied in their original MSN order since each ancestor's buffer is
// itself MSN-ordered and a message can only be buffered at a node after
// having been absorbed by every node above it — see §3 invariants).
//
// Applied messages do not modify the ancestor or the on-disk leaf; they
// update only the in-memory leaf's basement and set
// soft_copy_is_up_to_date = true. After application the leaf's
// max_msn_applied_in_memory is bumped to the maximum MSN it saw.
func applyAncestors[V any](leaf *Node[V], leafChildIdx int, ancestors *Ancestors[V], updateFn UpdateFn[V], ctx SnapshotCtx) {
	bn := leaf.BN(leafChildIdx)
	if bn == nil {
		return
	}

	lower, upper, hasLower, hasUpper := ancestorRangeFor(ancestors, leafChildIdx, leaf.cmp)

	maxSeen := leaf.MaxMSNAppliedInMemory

	// Walk from the outermost (root-closest) frame to the innermost
	// (immediate parent of leaf), since frame.next points toward the root.
	frames := collectFrames(ancestors)
	for i := len(frames) - 1; i >= 0; i-- {
		f := frames[i]
		fifo := f.node.FIFO(f.childnum)
		for _, msg := range fifo.Messages() {
			if msg.MSN <= leaf.MaxMSNAppliedOnDisk {
				continue
			}
			if msg.Targeted() && !keyInRange(msg.Key, lower, upper, hasLower, hasUpper, leaf.cmp) {
				continue
			}
			applyOneToBasement(bn, msg, updateFn, ctx)
			if msg.MSN > maxSeen {
				maxSeen = msg.MSN
			}
		}
	}

	leaf.MaxMSNAppliedInMemory = maxSeen
	bn.SetSoftCopyUpToDate(true)
}

func ancestorRangeFor[V any](ancestors *Ancestors[V], _ int, cmp func(a, b []byte) int) (lower, upper []byte, hasLower, hasUpper bool) {
	if ancestors == nil {
		return nil, nil, false, false
	}
	return ancestors.keyRange(cmp)
}

func collectFrames[V any](a *Ancestors[V]) []*Ancestors[V] {
	var out []*Ancestors[V]
	for f := a; f != nil; f = f.next {
		out = append(out, f)
	}
	return out
}

// applyOneToBasement applies msg to the matching LE(s) within bn. For a
// targeted message this is at most one LE; for a broadcast it sweeps
// every LE in the basement.
func applyOneToBasement[V any](bn *BasementNode[V], msg Message, updateFn UpdateFn[V], ctx SnapshotCtx) {
	if msg.Targeted() {
		idx, exact := bn.FindZero(msg.Key)
		var le *LeafEntry[V]
		if exact {
			le = bn.Fetch(idx)
		}
		newLe, changed := le.Apply(msg, updateFn, ctx)
		if !changed {
			return
		}
		switch {
		case newLe == nil && exact:
			bn.DeleteAt(idx)
		case newLe != nil && exact:
			bn.SetAt(idx, newLe)
		case newLe != nil && !exact:
			bn.InsertAt(idx, newLe)
		}
		return
	}

	// broadcast: sweep every existing LE.
	for i := 0; i < bn.Size(); {
		le := bn.Fetch(i)
		newLe, changed := le.Apply(msg, updateFn, ctx)
		switch {
		case !changed:
			i++
		case newLe == nil:
			bn.DeleteAt(i)
		default:
			if !bytes.Equal(newLe.Key(), le.Key()) {
				panic("logic error, broadcast must not change key")
			}
			bn.SetAt(i, newLe)
			i++
		}
	}
}
