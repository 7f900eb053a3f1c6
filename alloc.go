// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package brt

import "github.com/erigontech/brt/internal/blockalloc"

// BlockAllocatorFromPool adapts internal/blockalloc.Allocator (which
// traffics in plain uint64) to the BlockAllocator interface Tree expects,
// letting the test-double allocator live in internal/ without depending
// on the root package's BlockNum type.
func BlockAllocatorFromPool(pool *blockalloc.Allocator) BlockAllocator {
	return poolAllocator{pool}
}

type poolAllocator struct {
	pool *blockalloc.Allocator
}

func (p poolAllocator) Allocate() BlockNum { return BlockNum(p.pool.Allocate()) }
func (p poolAllocator) Free(b BlockNum)    { p.pool.Free(uint64(b)) }
