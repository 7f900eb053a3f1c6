// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package pagecache

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// bufferPool recycles scratch buffers used for (de)compression during
// partial fetch/eviction, mirroring the teacher's pool.go: a sync.Pool
// wrapper that additionally tracks live/allocated counts so callers (and
// tests) can see reuse actually happening instead of masking a leak.
type bufferPool struct {
	pool      sync.Pool
	allocated atomic.Int64
	live      atomic.Int64
}

func newBufferPool() *bufferPool {
	bp := &bufferPool{}
	bp.pool.New = func() any {
		bp.allocated.Add(1)
		return new(bytes.Buffer)
	}
	return bp
}

func (p *bufferPool) get() *bytes.Buffer {
	p.live.Add(1)
	buf := p.pool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

func (p *bufferPool) put(buf *bytes.Buffer) {
	p.live.Add(-1)
	p.pool.Put(buf)
}

// Stats reports allocated (ever-created) and live (currently checked
// out) buffer counts, for tests and diagnostics.
func (p *bufferPool) Stats() (allocated, live int64) {
	return p.allocated.Load(), p.live.Load()
}
