// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package brt

import "github.com/pkg/errors"

// rootPut implements §4.G root_put(msg): pin the root non-blocking
// (retrying the whole operation from the top on TRY_AGAIN), stamp the
// MSN, route or apply the message, trigger a flush pass if gorged, fix up
// root reactivity, then unpin.
func (t *Tree[V]) rootPut(msg Message) error {
	for {
		root, handle, err := t.cache.Pin(t.rootBlocknum, FetchAll, t.adapter)
		if errors.Is(err, ErrTryAgain) {
			continue
		}
		if err != nil {
			return err
		}

		retry, err := t.rootPutOnce(root, msg)
		unpinErr := t.cache.Unpin(handle, true, root.MemorySize())
		if err != nil {
			return err
		}
		if unpinErr != nil {
			return unpinErr
		}
		if retry {
			continue
		}
		return nil
	}
}

// rootPutOnce runs steps 2-7 of §4.G against an already-pinned root. It
// returns retry=true only if a structural precondition changed under us
// in a way that requires restarting (kept for symmetry with the
// non-blocking pin contract; the reference single-writer-at-a-time
// scheduling model of §5 means this practically never fires).
func (t *Tree[V]) rootPutOnce(root *Node[V], msg Message) (retry bool, err error) {
	// step 2: assign MSN
	msg.MSN = root.MaxMSNAppliedInMemory + 1

	// step 3: invariant check
	if msg.MSN <= root.MaxMSNAppliedInMemory {
		return false, t.fail(ErrPanic, "MSN non-monotonic at root ingress")
	}

	// step 4: apply directly (leaf root) or buffer (nonleaf root)
	if root.IsLeaf() {
		if msg.Targeted() {
			idx := root.WhichChild(msg.Key)
			applyOneToBasement(root.BN(idx), msg, t.update, SnapshotCtx{Reader: msg.XIDS})
		} else {
			for i := 0; i < root.NChildren(); i++ {
				if root.ChildState(i) == PartitionAvail {
					applyOneToBasement(root.BN(i), msg, t.update, SnapshotCtx{Reader: msg.XIDS})
				}
			}
		}
	} else {
		if msg.Targeted() {
			idx := root.WhichChild(msg.Key)
			root.FIFO(idx).Push(msg)
		} else {
			for i := 0; i < root.NChildren(); i++ {
				root.FIFO(i).Push(msg)
			}
		}
	}
	root.MaxMSNAppliedInMemory = msg.MSN
	root.Dirty = true
	t.rootPutCounter++

	// step 5 (not implemented): §4.G also calls for broadcast messages to
	// be replayed into any in-memory non-root leaves already pinned
	// elsewhere in the cache, so a reader mid-descent observes a
	// concurrent commit/abort without waiting on a later flush. This
	// reference implementation relies instead on lazy ancestor replay at
	// descend time (ancestors.go's applyAncestors) to bring a leaf's view
	// up to date lazily rather than eagerly pushing to every pinned copy
	// — see DESIGN.md Open Question (a).

	// step 6: if gorged, trigger one flush pass of the heaviest child.
	if root.Gorged() {
		if err := t.flushOnePass(root, true); err != nil {
			return false, err
		}
	}

	// step 7: root reactivity fixup.
	switch root.ComputeReactivity(t.fanout) {
	case Fissible:
		if err := t.splitRoot(root); err != nil {
			return false, err
		}
	case Fusible:
		// no-op at the root, per §4.D.
	}

	return false, nil
}
