// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package brt

import "encoding/binary"

// ValueCodec converts a stored value to and from its on-disk byte
// representation (§6 leaf entry format). A concrete NodeAdapter supplies
// one matching its V, letting the node/basement/leaf-entry encoders below
// stay generic over any value type instead of assuming []byte.
type ValueCodec[V any] interface {
	Encode(v V) []byte
	Decode(b []byte) (V, error)
}

// BytesCodec is the ValueCodec for V = []byte, the case the reference
// on-disk adapter (internal/pagecache) exercises: encode/decode are the
// identity, modulo a defensive copy so the codec never aliases a buffer
// the caller might reuse.
type BytesCodec struct{}

// Encode returns v unchanged.
func (BytesCodec) Encode(v []byte) []byte { return v }

// Decode copies b so the returned value survives its source buffer being
// recycled.
func (BytesCodec) Decode(b []byte) ([]byte, error) {
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// byteWriter accumulates the little-endian, length-prefixed primitives
// that make up the on-disk formats below (§6). It never errors: writing
// is pure appends.
type byteWriter struct {
	buf []byte
}

func (w *byteWriter) u8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *byteWriter) u32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

func (w *byteWriter) u64(v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

func (w *byteWriter) bytes(b []byte) {
	w.u32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

// byteReader walks a buffer produced by byteWriter, failing with
// ErrCorrupt rather than panicking on a truncated or malformed input —
// the on-disk bytes are untrusted input from the adapter's storage.
type byteReader struct {
	data []byte
	off  int
}

func (r *byteReader) need(n int) error {
	if r.off+n > len(r.data) {
		return ErrCorrupt
	}
	return nil
}

func (r *byteReader) u8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.data[r.off]
	r.off++
	return v, nil
}

func (r *byteReader) u32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v, nil
}

func (r *byteReader) u64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.data[r.off:])
	r.off += 8
	return v, nil
}

// bytesView returns a slice aliasing the reader's own backing array. The
// decoders below that retain it (keys, values) hold it only as long as
// the decoded Node's owner keeps the original buffer alive, which is the
// adapter's responsibility (§6 notes this as a deliberate zero-copy
// reuse, not an oversight).
func (r *byteReader) bytesView(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	v := r.data[r.off : r.off+n]
	r.off += n
	return v, nil
}

func (r *byteReader) lenPrefixed() ([]byte, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	return r.bytesView(int(n))
}

// encodeXIDS appends a transaction ancestor chain: a u32 depth followed
// by one u64 per TXNID, root to innermost (§6 message on-disk format).
func encodeXIDS(w *byteWriter, x XIDS) {
	w.u32(uint32(x.Len()))
	for i := 0; i < x.Len(); i++ {
		w.u64(uint64(x.At(i)))
	}
}

func decodeXIDS(r *byteReader) (XIDS, error) {
	n, err := r.u32()
	if err != nil {
		return XIDS{}, err
	}
	x := RootXIDS()
	for i := uint32(0); i < n; i++ {
		id, err := r.u64()
		if err != nil {
			return XIDS{}, err
		}
		x = x.Child(TXNID(id))
	}
	return x, nil
}

// EncodeFIFO serializes a nonleaf child's message queue in FIFO order
// (§6 "FIFO framing that preserves insertion order"). Message.Value and
// Message.Extra are already raw bytes, so no ValueCodec is needed here —
// only leaf entries carry a generic V.
func EncodeFIFO(f *MessageFIFO) []byte {
	msgs := f.Messages()
	w := &byteWriter{buf: make([]byte, 0, 64+len(msgs)*32)}
	w.u32(uint32(len(msgs)))
	for _, m := range msgs {
		w.u8(uint8(m.Type))
		w.u64(uint64(m.MSN))
		encodeXIDS(w, m.XIDS)
		w.bytes(m.Key)
		w.bytes(m.Value)
		w.bytes(m.Extra)
	}
	return w.buf
}

// DecodeFIFO reconstructs a MessageFIFO from bytes produced by EncodeFIFO.
func DecodeFIFO(data []byte) (*MessageFIFO, error) {
	r := &byteReader{data: data}
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	f := NewMessageFIFO()
	for i := uint32(0); i < n; i++ {
		typ, err := r.u8()
		if err != nil {
			return nil, err
		}
		msn, err := r.u64()
		if err != nil {
			return nil, err
		}
		xids, err := decodeXIDS(r)
		if err != nil {
			return nil, err
		}
		key, err := r.lenPrefixed()
		if err != nil {
			return nil, err
		}
		val, err := r.lenPrefixed()
		if err != nil {
			return nil, err
		}
		extra, err := r.lenPrefixed()
		if err != nil {
			return nil, err
		}
		f.Push(Message{Type: MsgType(typ), MSN: MSN(msn), XIDS: xids, Key: key, Value: val, Extra: extra})
	}
	return f, nil
}

// EncodeBasement serializes a leaf child's ordered entries, committed
// half plus uncommitted stack, using codec for every V-typed value (§6
// leaf entry format, both CLEAN and DIRTY variants).
func EncodeBasement[V any](bn *BasementNode[V], codec ValueCodec[V]) []byte {
	n := bn.Size()
	w := &byteWriter{buf: make([]byte, 0, 64+n*48)}
	w.u32(uint32(n))
	for i := 0; i < n; i++ {
		le := bn.Fetch(i)
		w.bytes(le.Key())

		val, isDel, has := le.Committed()
		if has {
			w.u8(1)
			if isDel {
				w.u8(1)
				w.bytes(nil)
			} else {
				w.u8(0)
				w.bytes(codec.Encode(val))
			}
		} else {
			w.u8(0)
		}

		ops := le.StackOps()
		w.u32(uint32(len(ops)))
		for _, o := range ops {
			encodeXIDS(w, o.XIDS)
			if o.IsDel {
				w.u8(1)
				w.bytes(nil)
			} else {
				w.u8(0)
				w.bytes(codec.Encode(o.Val))
			}
		}
	}
	return w.buf
}

// DecodeBasement reconstructs a BasementNode from bytes produced by
// EncodeBasement, rebuilding each entry via RebuildLeafEntry and
// reinserting in on-disk (already-sorted) order.
func DecodeBasement[V any](data []byte, codec ValueCodec[V]) (*BasementNode[V], error) {
	r := &byteReader{data: data}
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	bn := NewBasementNode[V]()
	for i := uint32(0); i < n; i++ {
		key, err := r.lenPrefixed()
		if err != nil {
			return nil, err
		}

		hasCommitted, err := r.u8()
		if err != nil {
			return nil, err
		}
		var committedVal V
		var committedIsDel bool
		if hasCommitted == 1 {
			isDel, err := r.u8()
			if err != nil {
				return nil, err
			}
			raw, err := r.lenPrefixed()
			if err != nil {
				return nil, err
			}
			committedIsDel = isDel == 1
			if !committedIsDel {
				committedVal, err = codec.Decode(raw)
				if err != nil {
					return nil, err
				}
			}
		}

		nops, err := r.u32()
		if err != nil {
			return nil, err
		}
		ops := make([]StackOp[V], nops)
		for j := uint32(0); j < nops; j++ {
			xids, err := decodeXIDS(r)
			if err != nil {
				return nil, err
			}
			isDel, err := r.u8()
			if err != nil {
				return nil, err
			}
			raw, err := r.lenPrefixed()
			if err != nil {
				return nil, err
			}
			op := StackOp[V]{XIDS: xids, IsDel: isDel == 1}
			if !op.IsDel {
				op.Val, err = codec.Decode(raw)
				if err != nil {
					return nil, err
				}
			}
			ops[j] = op
		}

		le := RebuildLeafEntry(key, committedVal, committedIsDel, hasCommitted == 1, ops)
		bn.InsertAt(bn.Size(), le)
	}
	return bn, nil
}

// RawCodec transforms a partition's already-serialized bytes before they
// are written to storage (typically compression) and reverses the
// transform on read. It lets EncodeNode/DecodeNode stay agnostic of any
// particular compression library; internal/pagecache supplies the
// klauspost/compress-backed implementation actually written to disk.
// IdentityRawCodec is the zero-cost default for tests and in-memory use.
type RawCodec interface {
	// Pack returns the bytes to store for raw, and whether it applied a
	// transform (packed=false means out==raw, stored verbatim).
	Pack(raw []byte) (out []byte, packed bool)
	// Unpack reverses Pack. packed must match what Pack returned for the
	// corresponding bytes.
	Unpack(in []byte, packed bool) ([]byte, error)
}

// IdentityRawCodec never compresses; Pack/Unpack are pass-throughs.
type IdentityRawCodec struct{}

func (IdentityRawCodec) Pack(raw []byte) ([]byte, bool) { return raw, false }
func (IdentityRawCodec) Unpack(in []byte, packed bool) ([]byte, error) {
	return in, nil
}

// WrapCompressedPartition prefixes payload with a 1-byte packed flag,
// the format a childPartition's resident COMPRESSED bytes are always
// stored in (via Node.SetCompressed) so the flag travels with the bytes
// across a PartialFetch or a later EncodeNode passthrough — without it,
// a node that is flushed, partially re-fetched, and flushed again would
// have no way to know whether its still-COMPRESSED partitions need
// unpacking before reaching raw.Unpack.
func WrapCompressedPartition(packed bool, payload []byte) []byte {
	out := make([]byte, 1+len(payload))
	out[0] = boolToU8(packed)
	copy(out[1:], payload)
	return out
}

// UnwrapCompressedPartition reverses WrapCompressedPartition. An empty
// blob decodes as an empty, unpacked payload rather than erroring, since
// an empty partition is a legitimate (if unusual) resident state.
func UnwrapCompressedPartition(blob []byte) (packed bool, payload []byte) {
	if len(blob) == 0 {
		return false, nil
	}
	return blob[0] == 1, blob[1:]
}

// EncodeNode serializes a node's header, pivot directory, and every
// partition's payload (§6 on-disk format). A PartitionCompressed child's
// bytes are written verbatim (already packed by a prior PartialEviction);
// a PartitionAvail child is serialized fresh via codec and then offered
// to raw for packing. PartitionOnDisk/PartitionInvalid children carry no
// resident bytes and are written as an empty placeholder — a node must
// not be flushed with such a child unless its prior on-disk copy is
// still valid and unreferenced by this write, which the caller (the
// concrete adapter) is responsible for ensuring.
func EncodeNode[V any](n *Node[V], codec ValueCodec[V], raw RawCodec) []byte {
	if raw == nil {
		raw = IdentityRawCodec{}
	}
	w := &byteWriter{buf: make([]byte, 0, n.SerializedSize()+128)}
	w.u8(boolToU8(n.IsLeaf()))
	w.u32(uint32(n.Height))
	w.u32(uint32(n.Nodesize))
	w.u32(n.LayoutVersion)
	w.u64(uint64(n.MaxMSNAppliedOnDisk))
	w.u64(uint64(n.MaxMSNAppliedInMemory))

	nc := n.NChildren()
	w.u32(uint32(nc))
	for i := 0; i < nc-1; i++ {
		w.bytes(n.Pivot(i))
	}
	for i := 0; i < nc; i++ {
		w.u64(uint64(n.ChildBlocknum(i)))
		est := n.ChildEstimate(i)
		w.u64(est.NKeys)
		w.u64(est.NData)
		w.u64(est.DSize)
		w.u8(boolToU8(est.Exact))

		state := n.ChildState(i)
		w.u8(uint8(state))

		var payload []byte
		packed := false
		switch state {
		case PartitionAvail:
			if n.IsLeaf() {
				payload = EncodeBasement(n.BN(i), codec)
			} else {
				payload = EncodeFIFO(n.FIFO(i))
			}
			payload, packed = raw.Pack(payload)
		case PartitionCompressed:
			packed, payload = UnwrapCompressedPartition(n.Compressed(i))
		}
		w.u8(boolToU8(packed))
		w.bytes(payload)
	}
	return w.buf
}

func boolToU8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// DecodeNode reconstructs a node's header and pivot directory from bytes
// produced by EncodeNode, always. Partition payloads are then handled
// per extra: FetchMin leaves every partition COMPRESSED (bytes resident,
// undecoded); FetchAll decodes every partition to AVAIL; FetchSubset
// decodes only the partition extra.Query routes to, leaving the rest
// COMPRESSED; FetchNone leaves every partition ON_DISK, retaining
// nothing (a subsequent PartialFetch must re-read from storage).
func DecodeNode[V any](blocknum BlockNum, data []byte, codec ValueCodec[V], raw RawCodec, extra FetchExtra) (*Node[V], error) {
	if raw == nil {
		raw = IdentityRawCodec{}
	}
	r := &byteReader{data: data}

	isLeaf, err := r.u8()
	if err != nil {
		return nil, err
	}
	height, err := r.u32()
	if err != nil {
		return nil, err
	}
	nodesize, err := r.u32()
	if err != nil {
		return nil, err
	}
	layoutVersion, err := r.u32()
	if err != nil {
		return nil, err
	}
	maxOnDisk, err := r.u64()
	if err != nil {
		return nil, err
	}
	maxInMem, err := r.u64()
	if err != nil {
		return nil, err
	}
	if isLeaf == 1 && height != 0 {
		return nil, ErrCorrupt
	}

	n := &Node[V]{
		Blocknum:              blocknum,
		Height:                int(height),
		Nodesize:              int(nodesize),
		LayoutVersion:         layoutVersion,
		MaxMSNAppliedOnDisk:   MSN(maxOnDisk),
		MaxMSNAppliedInMemory: MSN(maxInMem),
		cmp:                   defaultCmp,
	}

	nc, err := r.u32()
	if err != nil {
		return nil, err
	}
	pivotCap := int(nc) - 1
	if pivotCap < 0 {
		pivotCap = 0
	}
	pivots := make([][]byte, 0, pivotCap)
	for i := uint32(0); i+1 < nc; i++ {
		p, err := r.lenPrefixed()
		if err != nil {
			return nil, err
		}
		pivot := make([]byte, len(p))
		copy(pivot, p)
		pivots = append(pivots, pivot)
	}
	n.pivots = pivots

	wantIdx := -1
	if extra.Kind == FetchSubset {
		// WhichChild needs n.pivots populated, which it now is.
		wantIdx = n.WhichChild(extra.Query)
	}

	children := make([]*childPartition[V], 0, nc)
	for i := uint32(0); i < nc; i++ {
		blocknumI, err := r.u64()
		if err != nil {
			return nil, err
		}
		nkeys, err := r.u64()
		if err != nil {
			return nil, err
		}
		ndata, err := r.u64()
		if err != nil {
			return nil, err
		}
		dsize, err := r.u64()
		if err != nil {
			return nil, err
		}
		exact, err := r.u8()
		if err != nil {
			return nil, err
		}
		state, err := r.u8()
		if err != nil {
			return nil, err
		}
		packed, err := r.u8()
		if err != nil {
			return nil, err
		}
		payload, err := r.lenPrefixed()
		if err != nil {
			return nil, err
		}

		c := &childPartition[V]{
			blocknum: BlockNum(blocknumI),
			estimate: Estimate{NKeys: nkeys, NData: ndata, DSize: dsize, Exact: exact == 1},
		}

		decodeToAvail := extra.Kind == FetchAll || (extra.Kind == FetchSubset && int(i) == wantIdx)
		switch PartitionState(state) {
		case PartitionAvail, PartitionCompressed:
			switch {
			case decodeToAvail:
				unpacked, err := raw.Unpack(payload, packed == 1)
				if err != nil {
					return nil, err
				}
				if isLeaf == 1 {
					bn, err := DecodeBasement(unpacked, codec)
					if err != nil {
						return nil, err
					}
					c.bn = bn
				} else {
					f, err := DecodeFIFO(unpacked)
					if err != nil {
						return nil, err
					}
					c.fifo = f
				}
				c.state = PartitionAvail
				c.clock = 3
			case extra.Kind == FetchNone:
				c.state = PartitionOnDisk
			default:
				c.compressed = WrapCompressedPartition(packed == 1, payload)
				c.state = PartitionCompressed
			}
		default:
			c.state = PartitionOnDisk
		}

		children = append(children, c)
	}
	n.children = children
	return n, nil
}
