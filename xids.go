// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package brt

// TXNID identifies a transaction. The zero value, TXNIDNone, is reserved
// and never assigned to a real transaction.
type TXNID uint64

// TXNIDNone is the reserved "no transaction" id.
const TXNIDNone TXNID = 0

// XIDS is a transaction's ancestor chain: a stack of TXNIDs from root to
// innermost nested child. It is a plain value, freely duplicated, and
// carried on every Message. The zero value is the root transaction's
// (empty) stack.
//
// XIDS never mutates an existing stack in place: Child always returns a
// new, independently-owned slice, so a stack handed to one Message can be
// safely reused by the caller to build a sibling Message.
type XIDS struct {
	stack []TXNID
}

// RootXIDS returns the empty stack representing the root (non-nested)
// transaction context.
func RootXIDS() XIDS {
	return XIDS{}
}

// Child returns a new stack with txnid pushed as the innermost entry,
// leaving the receiver unmodified.
func (x XIDS) Child(txnid TXNID) XIDS {
	next := make([]TXNID, len(x.stack)+1)
	copy(next, x.stack)
	next[len(x.stack)] = txnid
	return XIDS{stack: next}
}

// Innermost returns the most deeply nested transaction id, and false if
// the stack is empty (the root context).
func (x XIDS) Innermost() (TXNID, bool) {
	if len(x.stack) == 0 {
		return TXNIDNone, false
	}
	return x.stack[len(x.stack)-1], true
}

// Root returns the outermost (root) transaction id, and false if the
// stack is empty.
func (x XIDS) Root() (TXNID, bool) {
	if len(x.stack) == 0 {
		return TXNIDNone, false
	}
	return x.stack[0], true
}

// Len returns the depth of the nesting stack.
func (x XIDS) Len() int {
	return len(x.stack)
}

// At returns the transaction id at nesting depth i (0 = root).
func (x XIDS) At(i int) TXNID {
	return x.stack[i]
}

// All iterates the stack from root to innermost.
func (x XIDS) All(yield func(TXNID) bool) {
	for _, id := range x.stack {
		if !yield(id) {
			return
		}
	}
}

// HasPrefix reports whether other is an ancestor-or-self prefix of x,
// i.e. every entry of other appears, in order, as a prefix of x's stack.
// Used by broadcast commit/abort to match "this transaction or any of its
// descendants".
func (x XIDS) HasPrefix(other XIDS) bool {
	if len(other.stack) > len(x.stack) {
		return false
	}
	for i, id := range other.stack {
		if x.stack[i] != id {
			return false
		}
	}
	return true
}

// Equal reports whether x and other carry the same transaction chain.
func (x XIDS) Equal(other XIDS) bool {
	if len(x.stack) != len(other.stack) {
		return false
	}
	for i, id := range x.stack {
		if other.stack[i] != id {
			return false
		}
	}
	return true
}

// SerializeSize returns the number of bytes the stack occupies in the
// on-disk message format: a u32 count followed by 8 bytes per TXNID
// (§6, message on-disk format).
func (x XIDS) SerializeSize() int {
	return 4 + 8*len(x.stack)
}
