// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

// Package blockalloc provides a minimal in-memory block-number allocator
// standing in for the real (out-of-scope, §1) block allocator: tests and
// example wiring need something concrete implementing brt.BlockAllocator.
// Freed block numbers are kept in a google/btree ordered set so the
// allocator always reuses the smallest free number first, matching the
// pack's (erigon-lib) habit of reaching for google/btree for ordered
// in-memory bookkeeping rather than a bespoke free-list.
package blockalloc

import (
	"sync"

	"github.com/google/btree"
)

type blockItem uint64

func (a blockItem) Less(b btree.Item) bool {
	return a < b.(blockItem)
}

// Allocator hands out monotonically increasing block numbers, reusing
// freed ones in ascending order.
type Allocator struct {
	mu    sync.Mutex
	next  uint64
	freed *btree.BTree
}

// New creates an allocator that starts minting fresh block numbers at
// startAt (block 0 is conventionally reserved for the root on a brand
// new dictionary).
func New(startAt uint64) *Allocator {
	return &Allocator{next: startAt, freed: btree.New(32)}
}

// Allocate returns the smallest previously-freed block number, or a
// fresh one if none is free.
func (a *Allocator) Allocate() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.freed.Len() > 0 {
		min := a.freed.Min().(blockItem)
		a.freed.Delete(min)
		return uint64(min)
	}
	n := a.next
	a.next++
	return n
}

// Free returns b to the pool of reusable block numbers.
func (a *Allocator) Free(b uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.freed.ReplaceOrInsert(blockItem(b))
}

// Len reports how many block numbers are currently free, for tests.
func (a *Allocator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.freed.Len()
}
