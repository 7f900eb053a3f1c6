// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package brt

import "github.com/pkg/errors"

// descendResult bundles everything a completed descent handed back: the
// pinned leaf, the basement partition index within it, the ancestor
// chain recorded along the way (for §4.F lazy message application), and
// every pin acquired so the caller can release them once it is done with
// the leaf.
type descendResult[V any] struct {
	leaf     *Node[V]
	partIdx  int
	lower    []byte
	upper    []byte
	hasLower bool
	hasUpper bool
	pins     []pinned[V]
}

func (d *descendResult[V]) unpinAll(t *Tree[V], dirty bool) {
	for i := len(d.pins) - 1; i >= 0; i-- {
		_ = t.cache.Unpin(d.pins[i].handle, dirty, d.pins[i].node.MemorySize())
	}
}

// descend implements the bounded, non-blocking descent of §4.J: route
// from the root to the leaf owning key, pinning every node visited
// non-blockingly and restarting the whole descent from the root on
// TRY_AGAIN (the "Unlockers" retry protocol — since every node we touch
// here is pinned for the duration of the descent only, unwinding just
// means releasing everything acquired so far and trying again).
func (t *Tree[V]) descend(key []byte) (descendResult[V], error) {
	for {
		pins := make([]pinned[V], 0, 8)

		root, h, err := t.cache.Pin(t.rootBlocknum, FetchMin, t.adapter)
		if errors.Is(err, ErrTryAgain) {
			continue
		}
		if err != nil {
			return descendResult[V]{}, err
		}
		pins = append(pins, pinned[V]{node: root, handle: h})

		node := root
		var ancestors *Ancestors[V]
		retry := false

		for !node.IsLeaf() {
			idx := node.WhichChild(key)
			ancestors = ancestors.Push(node, idx)

			childBlock := node.ChildBlocknum(idx)
			child, ch, err := t.cache.Pin(childBlock, FetchMin, t.adapter)
			if errors.Is(err, ErrTryAgain) {
				for i := len(pins) - 1; i >= 0; i-- {
					_ = t.cache.Unpin(pins[i].handle, false, pins[i].node.MemorySize())
				}
				retry = true
				break
			}
			if err != nil {
				for i := len(pins) - 1; i >= 0; i-- {
					_ = t.cache.Unpin(pins[i].handle, false, pins[i].node.MemorySize())
				}
				return descendResult[V]{}, err
			}
			pins = append(pins, pinned[V]{node: child, handle: ch})
			node = child
		}
		if retry {
			continue
		}

		partIdx := node.WhichChild(key)
		lower, upper, hasLower, hasUpper := ancestorRangeFor(ancestors, partIdx, node.cmp)

		bn := node.BN(partIdx)
		if bn != nil && !bn.SoftCopyUpToDate() {
			applyAncestors(node, partIdx, ancestors, t.update, SnapshotCtx{})
		}

		return descendResult[V]{
			leaf: node, partIdx: partIdx,
			lower: lower, upper: upper, hasLower: hasLower, hasUpper: hasUpper,
			pins: pins,
		}, nil
	}
}

// descendEdge walks straight to the leftmost (first=true) or rightmost
// (first=false) leaf, used by Cursor.First/Last which have no key to
// route on.
func (t *Tree[V]) descendEdge(first bool) (descendResult[V], error) {
	for {
		pins := make([]pinned[V], 0, 8)

		root, h, err := t.cache.Pin(t.rootBlocknum, FetchMin, t.adapter)
		if errors.Is(err, ErrTryAgain) {
			continue
		}
		if err != nil {
			return descendResult[V]{}, err
		}
		pins = append(pins, pinned[V]{node: root, handle: h})

		node := root
		var ancestors *Ancestors[V]
		retry := false

		for !node.IsLeaf() {
			idx := 0
			if !first {
				idx = node.NChildren() - 1
			}
			ancestors = ancestors.Push(node, idx)

			childBlock := node.ChildBlocknum(idx)
			child, ch, err := t.cache.Pin(childBlock, FetchMin, t.adapter)
			if errors.Is(err, ErrTryAgain) {
				for i := len(pins) - 1; i >= 0; i-- {
					_ = t.cache.Unpin(pins[i].handle, false, pins[i].node.MemorySize())
				}
				retry = true
				break
			}
			if err != nil {
				for i := len(pins) - 1; i >= 0; i-- {
					_ = t.cache.Unpin(pins[i].handle, false, pins[i].node.MemorySize())
				}
				return descendResult[V]{}, err
			}
			pins = append(pins, pinned[V]{node: child, handle: ch})
			node = child
		}
		if retry {
			continue
		}

		partIdx := 0
		if !first {
			partIdx = node.NChildren() - 1
		}
		lower, upper, hasLower, hasUpper := ancestorRangeFor(ancestors, partIdx, node.cmp)

		bn := node.BN(partIdx)
		if bn != nil && !bn.SoftCopyUpToDate() {
			applyAncestors(node, partIdx, ancestors, t.update, SnapshotCtx{})
		}

		return descendResult[V]{
			leaf: node, partIdx: partIdx,
			lower: lower, upper: upper, hasLower: hasLower, hasUpper: hasUpper,
			pins: pins,
		}, nil
	}
}
