// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package brt

// splitRoot implements the root-fissile branch of §4.G step 7: split the
// current root into two children of a freshly created root, which
// replaces the dictionary's root blocknum.
func (t *Tree[V]) splitRoot(root *Node[V]) error {
	leftBlock := root.Blocknum
	rightBlock := t.alloc.Allocate()

	left, right, pivot, err := t.splitNode(root, rightBlock)
	if err != nil {
		return err
	}

	newRoot := InitEmpty[V](t.alloc.Allocate(), root.Height+1, t.nodesize)
	newRoot.SetCmp(t.cmp)
	newRoot.AppendChild(nil, leftBlock)
	newRoot.AppendChild(pivot, rightBlock)
	newRoot.SetFIFO(0, NewMessageFIFO())
	newRoot.SetFIFO(1, NewMessageFIFO())
	newRoot.MaxMSNAppliedInMemory = root.MaxMSNAppliedInMemory
	newRoot.MaxMSNAppliedOnDisk = root.MaxMSNAppliedOnDisk

	// The (former) root node is rewritten in place at leftBlock: callers
	// pinned it at root.Blocknum, so we mutate *root into the left half's
	// contents directly, copy-to-new-location for the right half only.
	*root = *left
	root.Blocknum = leftBlock

	if err := t.adapter.Flush(right, true, false, false); err != nil {
		return err
	}

	t.rootBlocknum = newRoot.Blocknum
	if err := t.adapter.Flush(newRoot, true, false, false); err != nil {
		return err
	}
	return nil
}

// splitChild replaces parent's child idx (backed by the gorged node
// child) with two new children separated by a newly computed pivot
// (§4.I). The left half reuses child's own blocknum (copy-to-new-location
// semantics keep the *identity* at the pivot-bearing slot stable for any
// concurrent reader holding an Ancestors frame into it); the right half
// gets a freshly allocated blocknum.
func (t *Tree[V]) splitChild(parent *Node[V], idx int, child *Node[V]) error {
	rightBlock := t.alloc.Allocate()
	left, right, pivot, err := t.splitNode(child, rightBlock)
	if err != nil {
		return err
	}
	*child = *left
	child.Blocknum = parent.ChildBlocknum(idx)

	if err := t.adapter.Flush(right, true, false, false); err != nil {
		return err
	}

	parent.insertChildSlot(idx+1, pivot, right.Blocknum)
	parent.SetChildEstimate(idx, t.estimateOf(child))
	parent.SetChildEstimate(idx+1, t.estimateOf(right))
	parent.Dirty = true
	return nil
}

// insertChildSlot widens a nonleaf node by inserting a new pivot/child
// pair at position i (the new child's FIFO starts empty and its state is
// marked AVAIL so flush accounting has something to read immediately).
func (n *Node[V]) insertChildSlot(i int, pivot []byte, blocknum BlockNum) {
	newPivots := make([][]byte, 0, len(n.pivots)+1)
	newPivots = append(newPivots, n.pivots[:i-1]...)
	newPivots = append(newPivots, pivot)
	newPivots = append(newPivots, n.pivots[i-1:]...)
	n.pivots = newPivots

	newChildren := make([]*childPartition[V], 0, len(n.children)+1)
	newChildren = append(newChildren, n.children[:i]...)
	newChildren = append(newChildren, &childPartition[V]{
		state: PartitionAvail, blocknum: blocknum, fifo: NewMessageFIFO(), clock: 3,
	})
	newChildren = append(newChildren, n.children[i:]...)
	n.children = newChildren
}

// splitNode implements §4.I leaf fission / nonleaf fission for node n,
// returning the left half (built in place from n's contents), a freshly
// built right half (to be flushed to rightBlock), and the pivot
// separating them.
func (t *Tree[V]) splitNode(n *Node[V], rightBlock BlockNum) (left, right *Node[V], pivot []byte, err error) {
	if n.IsLeaf() {
		return t.splitLeaf(n, rightBlock)
	}
	return t.splitNonleaf(n, rightBlock)
}

// splitLeaf picks the split point whose prefix size >= total/2 by
// scanning partitions, producing two leaves whose basement partitions
// cover the original ranges; the pivot is the key of the last entry in
// the left half (§4.I Leaf fission). Both halves inherit the parent's
// max_msn_applied_in_memory.
func (t *Tree[V]) splitLeaf(n *Node[V], rightBlock BlockNum) (left, right *Node[V], pivot []byte, err error) {
	// Flatten into one contiguous run of entries across partitions, then
	// re-partition evenly — simplest correct rendition of "drive the split
	// point by prefix size", since our basements are plain ordered
	// containers rather than a fixed stride.
	var all []*LeafEntry[V]
	for i := 0; i < n.NChildren(); i++ {
		bn := n.BN(i)
		bn.Each(func(_ int, le *LeafEntry[V]) bool {
			all = append(all, le)
			return true
		})
	}

	total := 0
	for _, le := range all {
		total += le.Disksize()
	}
	half := total / 2
	acc := 0
	splitIdx := len(all) / 2
	for i, le := range all {
		acc += le.Disksize()
		if acc >= half {
			splitIdx = i + 1
			break
		}
	}
	if splitIdx <= 0 {
		splitIdx = 1
	}
	if splitIdx >= len(all) {
		splitIdx = len(all) - 1
	}

	leftEntries := all[:splitIdx]
	rightEntries := all[splitIdx:]

	left = InitEmpty[V](n.Blocknum, 0, n.Nodesize)
	left.SetCmp(t.cmp)
	left.children = []*childPartition[V]{{state: PartitionAvail, bn: bnFrom(leftEntries)}}
	left.MaxMSNAppliedInMemory = n.MaxMSNAppliedInMemory
	left.MaxMSNAppliedOnDisk = n.MaxMSNAppliedOnDisk
	left.Dirty = true

	right = InitEmpty[V](rightBlock, 0, n.Nodesize)
	right.SetCmp(t.cmp)
	right.children = []*childPartition[V]{{state: PartitionAvail, bn: bnFrom(rightEntries)}}
	right.MaxMSNAppliedInMemory = n.MaxMSNAppliedInMemory
	right.MaxMSNAppliedOnDisk = n.MaxMSNAppliedOnDisk
	right.Dirty = true

	pivot = leftEntries[len(leftEntries)-1].Key()
	return left, right, pivot, nil
}

func bnFrom[V any](entries []*LeafEntry[V]) *BasementNode[V] {
	bn := NewBasementNode[V]()
	for i, le := range entries {
		bn.InsertAt(i, le)
	}
	return bn
}

// splitNonleaf implements §4.I nonleaf fission: split children in half;
// the pivot between the two halves comes from the original pivot at
// index n/2 - 1.
func (t *Tree[V]) splitNonleaf(n *Node[V], rightBlock BlockNum) (left, right *Node[V], pivot []byte, err error) {
	nc := n.NChildren()
	mid := nc / 2

	left = InitEmpty[V](n.Blocknum, n.Height, n.Nodesize)
	left.SetCmp(t.cmp)
	left.children = nil
	right = InitEmpty[V](rightBlock, n.Height, n.Nodesize)
	right.SetCmp(t.cmp)
	right.children = nil

	for i := 0; i < mid; i++ {
		var p []byte
		if i > 0 {
			p = n.Pivot(i - 1)
		}
		left.AppendChild(p, n.ChildBlocknum(i))
		left.SetFIFO(i, n.FIFO(i))
		left.SetChildEstimate(i, n.ChildEstimate(i))
	}
	for i := mid; i < nc; i++ {
		var p []byte
		if i > mid {
			p = n.Pivot(i - 1)
		}
		right.AppendChild(p, n.ChildBlocknum(i))
		right.SetFIFO(i-mid, n.FIFO(i))
		right.SetChildEstimate(i-mid, n.ChildEstimate(i))
	}

	pivot = n.Pivot(mid - 1)
	left.MaxMSNAppliedInMemory = n.MaxMSNAppliedInMemory
	right.MaxMSNAppliedInMemory = n.MaxMSNAppliedInMemory
	left.Dirty, right.Dirty = true, true
	return left, right, pivot, nil
}

// maybeMergeChild implements §4.I's fusion decision for a FUSIBLE child:
// try to fuse with an adjacent sibling, rebalancing instead of merging if
// the combined size would be too large.
func (t *Tree[V]) maybeMergeChild(parent *Node[V], idx int, child *Node[V]) error {
	siblingIdx := idx + 1
	if siblingIdx >= parent.NChildren() {
		siblingIdx = idx - 1
		if siblingIdx < 0 {
			return nil // only child, nothing to merge with
		}
	}
	leftIdx, rightIdx := idx, siblingIdx
	if rightIdx < leftIdx {
		leftIdx, rightIdx = rightIdx, leftIdx
	}

	siblingBlock := parent.ChildBlocknum(siblingIdx)
	sibling, handle, err := t.cache.Pin(siblingBlock, FetchAll, t.adapter)
	if err != nil {
		return err
	}
	defer t.cache.Unpin(handle, true, sibling.MemorySize())

	var left, right *Node[V]
	if leftIdx == idx {
		left, right = child, sibling
	} else {
		left, right = sibling, child
	}

	leftSize, rightSize := left.SerializedSize(), right.SerializedSize()
	combined := leftSize + rightSize

	if combined > (3*t.nodesize)/4 {
		// do not merge: rebalance (merge then split evenly)
		return t.rebalance(parent, leftIdx, rightIdx, left, right)
	}
	if leftSize < t.nodesize/4 || rightSize < t.nodesize/4 {
		return t.fuse(parent, leftIdx, rightIdx, left, right)
	}
	return nil
}

// fuse implements leaf/nonleaf fusion (§4.I): merge right into left,
// drop right's slot from parent, free right's blocknum.
func (t *Tree[V]) fuse(parent *Node[V], leftIdx, rightIdx int, left, right *Node[V]) error {
	if left.IsLeaf() {
		lbn := left.BN(left.NChildren() - 1)
		if lbn.Size() == 0 && left.NChildren() > 1 {
			left.children = left.children[:left.NChildren()-1]
		}
		for i := 0; i < right.NChildren(); i++ {
			rbn := right.BN(i)
			if left.NChildren() == 0 {
				left.children = append(left.children, &childPartition[V]{state: PartitionAvail, bn: rbn})
				continue
			}
			left.BN(left.NChildren() - 1).Append(rbn)
		}
	} else {
		boundaryPivot := parent.Pivot(leftIdx)
		left.pivots = append(left.pivots, boundaryPivot)
		for i := 0; i < right.NChildren(); i++ {
			var p []byte
			if i > 0 {
				p = right.Pivot(i - 1)
			}
			if i > 0 {
				left.pivots = append(left.pivots, p)
			}
			left.children = append(left.children, right.children[i])
		}
	}
	left.Dirty = true

	parent.removeChildSlot(rightIdx)
	parent.SetChildEstimate(leftIdx, t.estimateOf(left))
	parent.Dirty = true

	t.alloc.Free(right.Blocknum)
	return t.cache.Remove(right.Blocknum)
}

// rebalance merges then evenly re-splits left/right when their combined
// size is too large to fuse outright but one side alone is fusible
// (§4.I "do not merge: rebalance instead").
func (t *Tree[V]) rebalance(parent *Node[V], leftIdx, rightIdx int, left, right *Node[V]) error {
	if err := t.fuse(parent, leftIdx, rightIdx, left, right); err != nil {
		return err
	}
	// left now holds the combined contents at leftIdx; re-split it evenly.
	newRightBlock := t.alloc.Allocate()
	newLeft, newRight, pivot, err := t.splitNode(left, newRightBlock)
	if err != nil {
		return err
	}
	*left = *newLeft
	if err := t.adapter.Flush(newRight, true, false, false); err != nil {
		return err
	}
	parent.insertChildSlot(leftIdx+1, pivot, newRight.Blocknum)
	parent.SetChildEstimate(leftIdx, t.estimateOf(left))
	parent.SetChildEstimate(leftIdx+1, t.estimateOf(newRight))
	return nil
}

// removeChildSlot narrows a nonleaf node by dropping child i and the
// pivot immediately to its left (or right, if i is the first child).
func (n *Node[V]) removeChildSlot(i int) {
	if len(n.pivots) > 0 {
		pi := i - 1
		if pi < 0 {
			pi = 0
		}
		n.pivots = append(n.pivots[:pi], n.pivots[pi+1:]...)
	}
	n.children = append(n.children[:i], n.children[i+1:]...)
}
