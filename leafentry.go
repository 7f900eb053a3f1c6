// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package brt

import "bytes"

// Cloner, if implemented by the value type V, lets cloneValue deep-copy a
// value instead of making a shallow field copy. Ported from the teacher's
// Cloner[V] (cloner.go) used throughout its Clone()/Union() family.
// Nothing in this package calls cloneValue: split and fusion move leaf
// entry pointers and share their values.
type Cloner[V any] interface {
	Clone() V
}

func cloneValue[V any](v V) V {
	if c, ok := any(v).(Cloner[V]); ok {
		return c.Clone()
	}
	return v
}

// op is one provisional operation on the uncommitted stack of a leaf
// entry: either an insert of a value, or a tombstone.
type op[V any] struct {
	xids    XIDS
	creator TXNID // innermost of xids, cached for quick matching
	isDel   bool
	val     V
}

// LeafEntry holds, for one key, either a single committed value or a
// committed value/tombstone plus a stack of uncommitted provisional
// operations keyed by transaction path (§3 Leaf entry, §4.B).
type LeafEntry[V any] struct {
	key []byte

	hasCommitted   bool
	committedVal   V
	committedIsDel bool

	stack []op[V]
}

// NewLeafEntry builds a clean committed leaf entry.
func NewLeafEntry[V any](key []byte, val V) *LeafEntry[V] {
	return &LeafEntry[V]{key: key, hasCommitted: true, committedVal: val}
}

// Key returns the entry's key.
func (le *LeafEntry[V]) Key() []byte { return le.key }

// Keylen returns len(Key()).
func (le *LeafEntry[V]) Keylen() int { return len(le.key) }

// IsClean reports whether the entry has no uncommitted stack at all.
func (le *LeafEntry[V]) IsClean() bool {
	return len(le.stack) == 0
}

// HasXids reports whether any entry on the uncommitted stack carries the
// given XIDS chain (exact stack match), used by COMMIT_ANY/ABORT_ANY to
// decide whether this LE needs a pop.
func (le *LeafEntry[V]) HasXids(stack XIDS) bool {
	for _, o := range le.stack {
		if o.xids.Equal(stack) {
			return true
		}
	}
	return false
}

// LatestValAndLen returns the most recent (topmost-stack, else committed)
// value and its length indicator, plus whether one exists at all.
func (le *LeafEntry[V]) LatestValAndLen() (val V, ok bool) {
	if n := len(le.stack); n > 0 {
		top := le.stack[n-1]
		if top.isDel {
			return val, false
		}
		return top.val, true
	}
	if le.hasCommitted && !le.committedIsDel {
		return le.committedVal, true
	}
	return val, false
}

// LatestIsDel reports whether the most recent state (uncommitted if
// present, else committed) is a tombstone.
func (le *LeafEntry[V]) LatestIsDel() bool {
	if n := len(le.stack); n > 0 {
		return le.stack[n-1].isDel
	}
	return !le.hasCommitted || le.committedIsDel
}

// ValueFor resolves the value of this entry as visible to ctx's reader,
// walking the uncommitted stack from most to least recent and stopping at
// the first op doesTxnReadEntry admits, falling back to the committed
// value if none on the stack is visible (§4.B does_txn_read_entry).
func (le *LeafEntry[V]) ValueFor(ctx SnapshotCtx) (val V, ok bool) {
	if le == nil {
		return val, false
	}
	for i := len(le.stack) - 1; i >= 0; i-- {
		o := le.stack[i]
		if !doesTxnReadEntry(o.creator, ctx) {
			continue
		}
		if o.isDel {
			return val, false
		}
		return o.val, true
	}
	// Limitation: only the current committed value is retained, not a
	// version chain indexed by commit MSN, so it is returned to every
	// reader regardless of ctx.IsSnapshotRead — a snapshot reader is not
	// actually isolated from a later autocommit write landing on this
	// entry. See SPEC_FULL.md §5.
	if le.hasCommitted && !le.committedIsDel {
		return le.committedVal, true
	}
	return val, false
}

// StackOp is the externally visible form of one uncommitted operation on
// a leaf entry's provisional stack, used by on-disk codecs that live
// outside this package (§6 leaf entry format DIRTY variant).
type StackOp[V any] struct {
	XIDS  XIDS
	IsDel bool
	Val   V
}

// Committed returns the entry's committed half: its value (zero if none
// or a tombstone), whether it is a tombstone, and whether a committed
// state exists at all.
func (le *LeafEntry[V]) Committed() (val V, isDel bool, has bool) {
	return le.committedVal, le.committedIsDel, le.hasCommitted
}

// StackOps returns a copy of the uncommitted stack, oldest first.
func (le *LeafEntry[V]) StackOps() []StackOp[V] {
	out := make([]StackOp[V], len(le.stack))
	for i, o := range le.stack {
		out[i] = StackOp[V]{XIDS: o.xids, IsDel: o.isDel, Val: o.val}
	}
	return out
}

// RebuildLeafEntry reconstructs a LeafEntry from its on-disk constituents
// (§6 leaf entry format), used by codecs deserializing a basement
// partition. It is the inverse of Committed/StackOps.
func RebuildLeafEntry[V any](key []byte, committedVal V, committedIsDel, hasCommitted bool, ops []StackOp[V]) *LeafEntry[V] {
	le := &LeafEntry[V]{key: key, hasCommitted: hasCommitted, committedVal: committedVal, committedIsDel: committedIsDel}
	le.stack = make([]op[V], len(ops))
	for i, o := range ops {
		le.stack[i] = op[V]{xids: o.XIDS, creator: mustInnermost(o.XIDS), isDel: o.IsDel, val: o.Val}
	}
	return le
}

// Disksize estimates the on-disk footprint (§6 leaf entry format:
// CLEAN(keylen,key,vallen,val) or DIRTY(keylen,key,committed,stack[])).
func (le *LeafEntry[V]) Disksize() int {
	n := 4 + len(le.key)
	if le.IsClean() {
		return n + 4 + le.valSize(le.committedVal, le.committedIsDel)
	}
	n += 1 + le.valSize(le.committedVal, le.committedIsDel && le.hasCommitted)
	for _, o := range le.stack {
		n += o.xids.SerializeSize() + 1 + le.valSize(o.val, o.isDel)
	}
	return n
}

// Memsize estimates the in-memory footprint; for the reference
// implementation this tracks Disksize plus a fixed per-entry overhead for
// Go's slice/struct headers.
func (le *LeafEntry[V]) Memsize() int {
	return le.Disksize() + 64
}

func (le *LeafEntry[V]) valSize(v V, isDel bool) int {
	if isDel {
		return 0
	}
	if b, ok := any(v).([]byte); ok {
		return len(b)
	}
	return 8 // fixed-size payload assumption for non-[]byte V
}

// SnapshotCtx carries the information apply_message and
// does_txn_read_entry need to judge visibility: the reader's own ancestor
// chain (for "is my own write") and the oldest still-live transaction id
// at the time the reader's snapshot was taken.
type SnapshotCtx struct {
	Reader              XIDS
	OldestLiveInSnapshot TXNID
	IsSnapshotRead       bool
}

// doesTxnReadEntry implements §4.B's does_txn_read_entry: a value written
// by creator is visible to the reader iff creator is on the reader's own
// ancestor chain (the reader wrote it, possibly in an outer transaction),
// or creator committed before the reader's snapshot was taken.
func doesTxnReadEntry(creator TXNID, ctx SnapshotCtx) bool {
	for i := 0; i < ctx.Reader.Len(); i++ {
		if ctx.Reader.At(i) == creator {
			return true
		}
	}
	return creator < ctx.OldestLiveInSnapshot
}

// Apply is the sole LE mutator (§4.B apply_message). It returns the new
// leaf entry (nil if the key no longer exists) and whether the call
// changed anything.
//
// Applying the same message twice (same MSN) is a no-op beyond the first:
// callers gate repeat application by MSN (§4.F, §8 property 6) before
// ever calling Apply a second time for one (node, message) pair, so Apply
// itself does not need to re-derive idempotence from message content.
func (le *LeafEntry[V]) Apply(msg Message, updateFn UpdateFn[V], ctx SnapshotCtx) (*LeafEntry[V], bool) {
	switch msg.Type {
	case MsgInsert:
		return le.applyInsert(msg, false)
	case MsgInsertNoOverwrite:
		if le != nil {
			if _, ok := le.LatestValAndLen(); ok {
				return le, false // preserve: a live value already exists
			}
		}
		return le.applyInsert(msg, false)
	case MsgDeleteAny:
		return le.applyDelete(msg)
	case MsgCommitAny:
		return le.applyCommitAbort(msg.XIDS, true)
	case MsgAbortAny:
		return le.applyCommitAbort(msg.XIDS, false)
	case MsgCommitBroadcastTxn:
		return le.applyBroadcastSweep(msg.XIDS, true)
	case MsgAbortBroadcastTxn:
		return le.applyBroadcastSweep(msg.XIDS, false)
	case MsgCommitBroadcastAll:
		return le.applyBroadcastSweep(XIDS{}, true)
	case MsgUpdate, MsgUpdateBroadcastAll:
		return le.applyUpdate(msg, updateFn)
	default:
		return le, false
	}
}

func (le *LeafEntry[V]) applyInsert(msg Message, _ bool) (*LeafEntry[V], bool) {
	var val V
	if v, ok := any(msg.Value).(V); ok {
		val = v
	} else if setter, ok := any(&val).(*[]byte); ok {
		*setter = msg.Value
	}

	if _, isRoot := msg.XIDS.Innermost(); !isRoot {
		// root-context write: commits immediately, no provisional stack
		if le == nil {
			le = &LeafEntry[V]{key: msg.Key}
		}
		le.hasCommitted = true
		le.committedVal = val
		le.committedIsDel = false
		le.stack = nil
		return le, true
	}

	if le == nil {
		le = &LeafEntry[V]{key: msg.Key}
	}
	le.pushOp(op[V]{xids: msg.XIDS, creator: mustInnermost(msg.XIDS), isDel: false, val: val})
	return le, true
}

func (le *LeafEntry[V]) applyDelete(msg Message) (*LeafEntry[V], bool) {
	if _, isRoot := msg.XIDS.Innermost(); !isRoot {
		// committed delete: removes the entry outright unless transactions
		// elsewhere still need the tombstone retained on the stack.
		if le == nil || le.IsClean() {
			return nil, le != nil
		}
		le.hasCommitted = false
		le.committedIsDel = true
		return le, true
	}

	if le == nil {
		le = &LeafEntry[V]{key: msg.Key}
	}
	le.pushOp(op[V]{xids: msg.XIDS, creator: mustInnermost(msg.XIDS), isDel: true})
	return le, true
}

func (le *LeafEntry[V]) applyCommitAbort(xids XIDS, commit bool) (*LeafEntry[V], bool) {
	if le == nil {
		return nil, false
	}
	idx := -1
	for i, o := range le.stack {
		if o.xids.Equal(xids) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return le, false
	}
	popped := le.stack[idx]
	le.stack = append(le.stack[:idx], le.stack[idx+1:]...)

	if commit && idx == 0 {
		// promote to committed once its provisional ancestor chain is gone
		le.hasCommitted = !popped.isDel
		le.committedVal = popped.val
		le.committedIsDel = popped.isDel
	}

	if le.IsClean() && !le.hasCommitted {
		return nil, true
	}
	return le, true
}

// applyBroadcastSweep removes every stack entry whose XIDS chain has
// prefix, committing (prefix) or discarding (!commit) it in place. An
// empty prefix (root) matches every entry — used by
// MsgCommitBroadcastAll.
func (le *LeafEntry[V]) applyBroadcastSweep(prefix XIDS, commit bool) (*LeafEntry[V], bool) {
	if le == nil {
		return nil, false
	}
	changed := false
	kept := le.stack[:0]
	for _, o := range le.stack {
		if o.xids.HasPrefix(prefix) {
			changed = true
			if commit {
				le.hasCommitted = !o.isDel
				le.committedVal = o.val
				le.committedIsDel = o.isDel
			}
			continue
		}
		kept = append(kept, o)
	}
	le.stack = kept
	if le.IsClean() && !le.hasCommitted {
		return nil, changed
	}
	return le, changed
}

func (le *LeafEntry[V]) applyUpdate(msg Message, updateFn UpdateFn[V]) (*LeafEntry[V], bool) {
	if updateFn == nil {
		return le, false
	}
	var old V
	hadOld := false
	if le != nil {
		old, hadOld = le.LatestValAndLen()
	}
	newVal, keep := updateFn(msg.Key, old, hadOld, msg.Extra)
	if !keep {
		return le.applyDelete(Message{Type: MsgDeleteAny, XIDS: msg.XIDS, Key: msg.Key})
	}
	return le.applyInsert(Message{Type: MsgInsert, XIDS: msg.XIDS, Key: msg.Key, Value: any(newVal).([]byte)}, false)
}

func (le *LeafEntry[V]) pushOp(o op[V]) {
	le.stack = append(le.stack, o)
}

func mustInnermost(x XIDS) TXNID {
	id, _ := x.Innermost()
	return id
}

// leafEntryComparator orders LEs by key with bytes.Compare. A comparator
// installed with Node.SetCmp is not consulted.
func leafEntryComparator[V any](a, b *LeafEntry[V]) int {
	return bytes.Compare(a.key, b.key)
}
