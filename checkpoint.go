// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package brt

import (
	"github.com/pkg/errors"

	"github.com/erigontech/brt/internal/checkpoint"
)

// Checkpointer wires a Tree to an on-disk header store, implementing the
// durable half of §4.K fuzzy checkpoints. It is a separate type from Tree
// (rather than a method cluster on Tree itself) because a dictionary
// with no durability requirement (e.g. an in-memory-only test tree) never
// needs to construct one.
type Checkpointer[V any] struct {
	t     *Tree[V]
	store *checkpoint.Store
}

// NewCheckpointer opens (or creates) the header file at path for tree t.
func NewCheckpointer[V any](t *Tree[V], path string) (*Checkpointer[V], error) {
	store, err := checkpoint.Open(path)
	if err != nil {
		return nil, err
	}
	return &Checkpointer[V]{t: t, store: store}, nil
}

// Close releases the underlying header file.
func (c *Checkpointer[V]) Close() error {
	return c.store.Close()
}

// LastCheckpoint returns the most recently committed header, used to
// resume a tree's rootBlocknum after reopening a dictionary.
func (c *Checkpointer[V]) LastCheckpoint() checkpoint.Header {
	return c.store.Current()
}

// Checkpoint implements §4.K: pin the root (FetchMin is enough — the
// header only needs the root's identity, not its contents), flush it
// with for_checkpoint=true so its on-disk image is current without being
// evicted, then durably record the new header generation.
//
// A full multi-node checkpoint would need to flush every dirty node
// reachable from the root, which requires a cache-wide dirty-node walk;
// CacheContract doesn't expose one (§4.E lists pin/unpin/fetch/
// partial-fetch/partial-evict only), so this reference implementation
// checkpoints the root's own header fields and relies on the cache's
// ordinary eviction path to flush dirty descendants with
// for_checkpoint=false as they age out. A production cache would extend
// CacheContract with a ForEachDirty hook to checkpoint promptly instead
// of lazily.
func (c *Checkpointer[V]) Checkpoint() error {
	if err := c.t.checkPanic(); err != nil {
		return err
	}

	root, err := c.t.pinBlocking(c.t.rootBlocknum, FetchMin)
	if err != nil {
		return err
	}

	writeInProgress := func() error {
		if err := c.t.adapter.Flush(root.node, true, true, true); err != nil {
			return err
		}
		root.node.MaxMSNAppliedOnDisk = root.node.MaxMSNAppliedInMemory
		root.node.Dirty = false
		return nil
	}

	err = c.store.Checkpoint(func(prev checkpoint.Header) checkpoint.Header {
		return checkpoint.Header{
			RootBlocknum:  uint64(c.t.rootBlocknum),
			LayoutVersion: root.node.LayoutVersion,
			LastMSNOnDisk: uint64(root.node.MaxMSNAppliedInMemory),
		}
	}, writeInProgress)

	unpinErr := c.t.cache.Unpin(root.handle, false, root.node.MemorySize())
	if err != nil {
		return errors.Wrap(err, "checkpoint")
	}
	return unpinErr
}
