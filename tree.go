// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package brt

import (
	"github.com/pkg/errors"

	"github.com/erigontech/brt/internal/brtlog"
)

// BlockAllocator is the black-box interface the BRT needs from the
// (out-of-scope, §1) block allocator: assign a new blocknum and return a
// freed one. internal/blockalloc provides a test double.
type BlockAllocator interface {
	Allocate() BlockNum
	Free(BlockNum)
}

// Tree is the top-level contract exposed to higher layers (§6): a single
// dictionary backed by a BRT. A Tree is safe for concurrent reads, but
// concurrent reads and writes must be externally synchronized by the
// caller holding a single coarse-grained lock for the duration of each
// operation — mirroring the teacher's documented contract that Table[V]
// "is safe for concurrent reads, but concurrent reads and writes must be
// externally synchronized" (barttable.go).
type Tree[V any] struct {
	cache   CacheContract[V]
	adapter NodeAdapter[V]
	alloc   BlockAllocator
	msn     *msnGenerator
	cmp     func(a, b []byte) int
	update  UpdateFn[V]

	nodesize int
	fanout   int

	rootBlocknum BlockNum

	panic *PanicState

	log brtlog.Logger

	rootPutCounter uint64
}

// TreeConfig configures a new Tree.
type TreeConfig struct {
	Nodesize int
	Fanout   int
	Cmp      func(a, b []byte) int
	Log      brtlog.Logger
}

// NewTree creates an empty dictionary with a freshly allocated root leaf.
func NewTree[V any](cache CacheContract[V], adapter NodeAdapter[V], alloc BlockAllocator, update UpdateFn[V], cfg TreeConfig) (*Tree[V], error) {
	if cfg.Nodesize <= 0 {
		cfg.Nodesize = 4 << 20
	}
	if cfg.Fanout <= 0 {
		cfg.Fanout = 16
	}
	if cfg.Cmp == nil {
		cfg.Cmp = defaultCmp
	}
	if cfg.Log == nil {
		cfg.Log = brtlog.NopLogger()
	}

	t := &Tree[V]{
		cache:    cache,
		adapter:  adapter,
		alloc:    alloc,
		msn:      newMSNGenerator(MSNNone),
		cmp:      cfg.Cmp,
		update:   update,
		nodesize: cfg.Nodesize,
		fanout:   cfg.Fanout,
		panic:    &PanicState{},
		log:      cfg.Log,
	}

	root := InitEmpty[V](alloc.Allocate(), 0, cfg.Nodesize)
	root.SetCmp(cfg.Cmp)
	t.rootBlocknum = root.Blocknum
	if err := adapter.Flush(root, true, true, false); err != nil {
		return nil, err
	}

	h, err := t.pinBlocking(root.Blocknum, FetchAll)
	if err != nil {
		return nil, err
	}
	defer t.cache.Unpin(h.handle, true, h.node.MemorySize())

	return t, nil
}

func (t *Tree[V]) checkPanic() error {
	if t.panic.Tainted() {
		return t.panic.Err()
	}
	return nil
}

func (t *Tree[V]) fail(err error, msg string) error {
	t.panic.Panic(err, msg)
	t.log.WithField("component", "panic").Error(msg)
	return t.panic.Err()
}

// pinned bundles a pinned node with its cache handle.
type pinned[V any] struct {
	node   *Node[V]
	handle Handle
}

// pinBlocking pins blocknum, retrying on ErrTryAgain until it succeeds —
// used only at points (like Tree construction) where no ancestor locks
// are held and blocking is therefore safe.
func (t *Tree[V]) pinBlocking(blocknum BlockNum, extra FetchExtra) (pinned[V], error) {
	for {
		n, h, err := t.cache.Pin(blocknum, extra, t.adapter)
		if errors.Is(err, ErrTryAgain) {
			continue
		}
		if err != nil {
			return pinned[V]{}, err
		}
		return pinned[V]{node: n, handle: h}, nil
	}
}

// Put implements §6 put(key, val, msg_type, xids, want_log). want_log
// is accepted for contract compatibility with the out-of-scope WAL but
// ignored here (the BRT never itself decides logging policy).
func (t *Tree[V]) Put(key, val []byte, msgType MsgType, xids XIDS, _ bool) error {
	if err := t.checkPanic(); err != nil {
		return err
	}
	if msgType == MsgNone {
		msgType = MsgInsert
	}
	return t.rootPut(Message{Type: msgType, XIDS: xids, Key: key, Value: val})
}

// Delete implements §6 delete(key, xids).
func (t *Tree[V]) Delete(key []byte, xids XIDS) error {
	if err := t.checkPanic(); err != nil {
		return err
	}
	return t.rootPut(Message{Type: MsgDeleteAny, XIDS: xids, Key: key})
}

// Lookup implements §6 lookup(key) -> (found, val) | not_found.
func (t *Tree[V]) Lookup(key []byte) (V, bool, error) {
	var zero V
	if err := t.checkPanic(); err != nil {
		return zero, false, err
	}
	cur, err := t.Cursor(RootXIDS(), false)
	if err != nil {
		return zero, false, err
	}
	defer cur.Close()

	var found V
	ok := false
	err = cur.SetRange(key, func(k []byte, v V) (int, error) {
		if bytesEqual(k, key) {
			found, ok = v, true
		}
		return cursorStop, nil
	})
	if err != nil && !errors.Is(err, ErrNotFound) {
		return zero, false, err
	}
	return found, ok, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Keyrange implements §6 keyrange(key) -> (less, equal, greater) entry
// count estimates, using subtree estimates (§4.H, §8 property 5).
func (t *Tree[V]) Keyrange(key []byte) (less, equal, greater uint64, err error) {
	if err = t.checkPanic(); err != nil {
		return
	}
	root, err := t.pinBlocking(t.rootBlocknum, FetchMin)
	if err != nil {
		return
	}
	defer t.cache.Unpin(root.handle, false, root.node.MemorySize())

	less, equal, greater = keyrangeRec(root.node, key, t.cmp)
	return
}

func keyrangeRec[V any](n *Node[V], key []byte, cmp func(a, b []byte) int) (less, equal, greater uint64) {
	idx := n.WhichChild(key)
	for i, e := range allEstimates(n) {
		switch {
		case i < idx:
			less += e.NKeys
		case i > idx:
			greater += e.NKeys
		default:
			// the child containing key. If it's a leaf partition whose
			// basement is resident, binary-search it directly for an
			// exact split rather than approximating; otherwise fall back
			// to "could contain key" (equal=min(1,NKeys), remainder
			// folded into less) since without descending further a
			// nonleaf/non-resident child can't be split any finer.
			if n.IsLeaf() {
				if bn := n.BN(i); bn != nil {
					zi, exact := bn.FindZero(key)
					less += uint64(zi)
					switch {
					case exact && !bn.Fetch(zi).LatestIsDel():
						// a live match: genuinely equal.
						equal++
						greater += uint64(bn.Size() - zi - 1)
					case exact:
						// the exact key is present only as a tombstone —
						// it no longer equals any leaf entry (§8 "500 no
						// longer equals any leaf"), so its slot folds
						// into greater instead of equal.
						greater += uint64(bn.Size() - zi)
					default:
						greater += uint64(bn.Size() - zi)
					}
					continue
				}
			}
			if e.NKeys > 0 {
				equal++
				less += e.NKeys - 1
			}
		}
	}
	return
}

// allEstimates returns each child's subtree estimate, preferring a live
// count over the cached one for a resident leaf partition: ChildEstimate
// is only refreshed on flush/split/merge (§4.H), so a dictionary that
// never triggered one of those (e.g. a handful of keys still sitting in
// a single leaf root) would otherwise report an estimate frozen at its
// {0,0,0} zero value despite holding live entries.
func allEstimates[V any](n *Node[V]) []Estimate {
	out := make([]Estimate, n.NChildren())
	for i := range out {
		out[i] = liveEstimate(n, i)
	}
	return out
}

func liveEstimate[V any](n *Node[V], i int) Estimate {
	if n.IsLeaf() {
		if bn := n.BN(i); bn != nil {
			return Estimate{NKeys: uint64(bn.Size()), NData: uint64(bn.Size()), DSize: uint64(bn.NBytesInBuffer()), Exact: true}
		}
	}
	return n.ChildEstimate(i)
}

// Stat64Result is §6's stat64() -> {file_size, nkeys, ndata, dsize}.
type Stat64Result struct {
	FileSize uint64
	NKeys    uint64
	NData    uint64
	DSize    uint64
}

// Stat64 implements §6 stat64().
func (t *Tree[V]) Stat64() (Stat64Result, error) {
	var res Stat64Result
	if err := t.checkPanic(); err != nil {
		return res, err
	}
	root, err := t.pinBlocking(t.rootBlocknum, FetchMin)
	if err != nil {
		return res, err
	}
	defer t.cache.Unpin(root.handle, false, root.node.MemorySize())

	for _, e := range allEstimates(root.node) {
		res.NKeys += e.NKeys
		res.NData += e.NData
		res.DSize += e.DSize
	}
	return res, nil
}
