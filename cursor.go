// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package brt

import (
	"bytes"

	"github.com/erigontech/brt/internal/omt"
)

// Cursor return codes for a CursorCallback (§4.J).
const (
	// cursorContinue tells the cursor to keep visiting subsequent entries.
	cursorContinue = 0
	// cursorStop halts the scan after the current callback invocation.
	cursorStop = 1
)

// CursorCallback receives one (key, value) pair and returns a control
// code (cursorContinue/cursorStop).
type CursorCallback[V any] func(key []byte, val V) (int, error)

// Cursor implements §4.J's bounded, restart-on-TRY_AGAIN iteration
// contract. Every positioning call (SetRange, Next, ...) descends fresh
// from the root. The pins of a descent stay held while the callback runs
// over that leaf's entries and are released before the call moves to
// another leaf or returns.
type Cursor[V any] struct {
	t   *Tree[V]
	ctx SnapshotCtx

	// rootPutCounterAtOp is the tree's rootPutCounter observed at the last
	// successful positioning. It is only recorded: Next and Prev always
	// re-descend from the root at the remembered key and never resume at
	// a remembered basement index.
	rootPutCounterAtOp uint64

	lastKey  []byte
	haveLast bool
	closed   bool
}

// Cursor implements §6 Tree.cursor(xids, snapshot_read).
func (t *Tree[V]) Cursor(xids XIDS, snapshotRead bool) (*Cursor[V], error) {
	if err := t.checkPanic(); err != nil {
		return nil, err
	}
	return &Cursor[V]{
		t:   t,
		ctx: SnapshotCtx{Reader: xids, IsSnapshotRead: snapshotRead},
	}, nil
}

// Close releases the cursor. The reference implementation holds no
// resources between calls (every positioning call pins-then-unpins), so
// this only guards against further use.
func (c *Cursor[V]) Close() error {
	c.closed = true
	return nil
}

func (c *Cursor[V]) remember(key []byte) {
	c.lastKey = append(c.lastKey[:0], key...)
	c.haveLast = true
	c.rootPutCounterAtOp = c.t.rootPutCounter
}

// SetRange positions at the smallest key >= key and invokes cb, then
// continues forward across partition and leaf boundaries while cb
// returns cursorContinue (§4.J set_range).
func (c *Cursor[V]) SetRange(key []byte, cb CursorCallback[V]) error {
	return c.scanForward(key, true, cb)
}

// SetRangeReverse positions at the greatest key <= key and invokes cb,
// then continues backward while cb returns cursorContinue.
func (c *Cursor[V]) SetRangeReverse(key []byte, cb CursorCallback[V]) error {
	return c.scanBackward(key, true, cb)
}

// First positions at the smallest key in the dictionary.
func (c *Cursor[V]) First(cb CursorCallback[V]) error {
	return c.scanEdge(true, cb)
}

// Last positions at the greatest key in the dictionary.
func (c *Cursor[V]) Last(cb CursorCallback[V]) error {
	return c.scanEdge(false, cb)
}

// Next resumes forward from the last remembered key, exclusive.
func (c *Cursor[V]) Next(cb CursorCallback[V]) error {
	if !c.haveLast {
		return c.scanEdge(true, cb)
	}
	return c.scanForward(c.lastKey, false, cb)
}

// Prev resumes backward from the last remembered key, exclusive.
func (c *Cursor[V]) Prev(cb CursorCallback[V]) error {
	if !c.haveLast {
		return c.scanEdge(false, cb)
	}
	return c.scanBackward(c.lastKey, false, cb)
}

// Current re-reads the value at the last remembered key without moving.
func (c *Cursor[V]) Current(cb CursorCallback[V]) error {
	if !c.haveLast {
		return ErrNotFound
	}
	found := false
	err := c.scanForward(c.lastKey, true, func(k []byte, v V) (int, error) {
		if !bytes.Equal(k, c.lastKey) {
			return cursorStop, nil
		}
		found = true
		code, err := cb(k, v)
		_ = code
		return cursorStop, err
	})
	if err == nil && !found {
		return ErrNotFound
	}
	return err
}

// Delete removes the entry at the cursor's last remembered position
// (§4.J cursor delete), using the cursor's own transaction context.
func (c *Cursor[V]) Delete() error {
	if !c.haveLast {
		return ErrNotFound
	}
	return c.t.Delete(c.lastKey, c.ctx.Reader)
}

func (c *Cursor[V]) scanEdge(first bool, cb CursorCallback[V]) error {
	if c.closed {
		return errNotOpen
	}
	res, err := c.t.descendEdge(first)
	if err != nil {
		return err
	}

	bn := res.leaf.BN(res.partIdx)
	if bn == nil || bn.Size() == 0 {
		res.unpinAll(c.t, false)
		return ErrNotFound
	}
	if first {
		_, err = c.iterateFrom(res, bn, 0, true, cb)
	} else {
		_, err = c.iterateFromReverse(res, bn, bn.Size()-1, cb)
	}
	return err
}

// scanForward implements set_range (inclusive=true) and next
// (inclusive=false): find the first in-leaf entry >= key (> key if
// exclusive), then keep walking right across partitions and, once the
// leaf's upper bound is reached, re-descend starting at that bound.
func (c *Cursor[V]) scanForward(key []byte, inclusive bool, cb CursorCallback[V]) error {
	if c.closed {
		return errNotOpen
	}
	searchKey := key
	for {
		res, err := c.t.descend(searchKey)
		if err != nil {
			return err
		}

		bn := res.leaf.BN(res.partIdx)
		idx, ok := bn.Find(searchKey, omt.DirGE)
		if ok && !inclusive && bytes.Equal(bn.Fetch(idx).Key(), searchKey) {
			idx++
			ok = idx < bn.Size()
		}
		if ok {
			stop, derr := c.iterateFrom(res, bn, idx, true, cb)
			if derr != nil || stop == errScanStop {
				return derr
			}
		} else {
			res.unpinAll(c.t, false)
		}

		if !res.hasUpper {
			return nil
		}
		// res.upper itself routes back to this leaf; the smallest byte
		// string above it routes to the next one.
		searchKey = append(append([]byte(nil), res.upper...), 0)
		inclusive = true
	}
}

func (c *Cursor[V]) scanBackward(key []byte, inclusive bool, cb CursorCallback[V]) error {
	if c.closed {
		return errNotOpen
	}
	searchKey := key
	for {
		res, err := c.t.descend(searchKey)
		if err != nil {
			return err
		}

		bn := res.leaf.BN(res.partIdx)
		idx, ok := bn.Find(searchKey, omt.DirLE)
		if ok && !inclusive && bytes.Equal(bn.Fetch(idx).Key(), searchKey) {
			idx--
			ok = idx >= 0
		}
		if ok {
			stop, derr := c.iterateFromReverse(res, bn, idx, cb)
			if derr != nil || stop == errScanStop {
				return derr
			}
		} else {
			res.unpinAll(c.t, false)
		}

		if !res.hasLower {
			return nil
		}
		// res.lower routes to the previous leaf, whose upper bound it is,
		// so an entry with exactly that key belongs there and is included.
		searchKey = res.lower
		inclusive = true
	}
}

// errScanStop is a private sentinel meaning "the callback asked to stop";
// it is never returned to the caller of a public Cursor method.
type scanSignal int

const errScanStop scanSignal = 1

func (c *Cursor[V]) iterateFrom(res descendResult[V], bn *BasementNode[V], start int, _ bool, cb CursorCallback[V]) (scanSignal, error) {
	defer res.unpinAll(c.t, false)
	for i := start; i < bn.Size(); i++ {
		le := bn.Fetch(i)
		val, ok := le.ValueFor(c.ctx)
		if !ok {
			continue
		}
		c.remember(le.Key())
		code, err := cb(le.Key(), val)
		if err != nil {
			return errScanStop, err
		}
		if code == cursorStop {
			return errScanStop, nil
		}
	}
	return 0, nil
}

func (c *Cursor[V]) iterateFromReverse(res descendResult[V], bn *BasementNode[V], start int, cb CursorCallback[V]) (scanSignal, error) {
	defer res.unpinAll(c.t, false)
	for i := start; i >= 0; i-- {
		le := bn.Fetch(i)
		val, ok := le.ValueFor(c.ctx)
		if !ok {
			continue
		}
		c.remember(le.Key())
		code, err := cb(le.Key(), val)
		if err != nil {
			return errScanStop, err
		}
		if code == cursorStop {
			return errScanStop, nil
		}
	}
	return 0, nil
}

var errNotOpen = cursorClosedError{}

type cursorClosedError struct{}

func (cursorClosedError) Error() string { return "brt: cursor closed" }
