// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package pagecache

import (
	"encoding/binary"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	"github.com/erigontech/brt"
	"github.com/erigontech/brt/internal/pagecache/diskfile"
)

// zstdRawCodec implements brt.RawCodec: a partition payload at or above
// minSize is packed with zstd (github.com/klauspost/compress), the
// library the rest of the pack reaches for whenever a sub-block needs
// squeezing before it hits storage. Smaller payloads are left raw, since
// framing overhead would outweigh the gain.
type zstdRawCodec struct {
	minSize int
	pool    *bufferPool
	enc     *zstd.Encoder
	dec     *zstd.Decoder
}

func newZstdRawCodec(minSize int) (*zstdRawCodec, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, errors.Wrap(err, "pagecache: zstd encoder")
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, errors.Wrap(err, "pagecache: zstd decoder")
	}
	return &zstdRawCodec{minSize: minSize, pool: newBufferPool(), enc: enc, dec: dec}, nil
}

func (z *zstdRawCodec) Pack(raw []byte) ([]byte, bool) {
	if len(raw) < z.minSize {
		return raw, false
	}
	buf := z.pool.get()
	defer z.pool.put(buf)
	out := z.enc.EncodeAll(raw, buf.Bytes()[:0])
	packed := make([]byte, len(out))
	copy(packed, out)
	return packed, true
}

func (z *zstdRawCodec) Unpack(in []byte, packed bool) ([]byte, error) {
	if !packed {
		return in, nil
	}
	buf := z.pool.get()
	defer z.pool.put(buf)
	out, err := z.dec.DecodeAll(in, buf.Bytes()[:0])
	if err != nil {
		return nil, errors.Wrap(err, "pagecache: zstd decode")
	}
	decoded := make([]byte, len(out))
	copy(decoded, out)
	return decoded, nil
}

// FileAdapter is the reference brt.NodeAdapter[[]byte]: it serializes a
// node via brt.EncodeNode/brt.DecodeNode onto a diskfile.File block
// store, verifying a whole-node xxhash fullhash (brt.Node.Fullhash, §3
// Node) on every read and stamping it on every write, and compressing
// any partition payload at or above CompressionMinSize with zstd.
//
// Every slot is framed as [u32 body length][body][u64 fullhash]; the
// slot size must accommodate the largest node this adapter ever writes
// plus that twelve-byte framing overhead.
type FileAdapter struct {
	file     *diskfile.File
	codec    brt.ValueCodec[[]byte]
	raw      *zstdRawCodec
	nodesize int
}

// NewFileAdapter opens (creating if absent) a diskfile at path sized for
// nodesize-byte slots plus framing overhead, wiring zstd compression for
// partitions at or above minCompressSize (internal/config.Config's
// CompressionMinSize in production use).
func NewFileAdapter(path string, nodesize, minCompressSize int) (*FileAdapter, error) {
	const framingOverhead = 4 + 8 + 64 // length prefix + fullhash trailer + slack
	slotSize := int64(nodesize) + framingOverhead
	f, err := diskfile.Open(path, slotSize)
	if err != nil {
		return nil, err
	}
	raw, err := newZstdRawCodec(minCompressSize)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &FileAdapter{file: f, codec: brt.BytesCodec{}, raw: raw, nodesize: nodesize}, nil
}

// Close releases the underlying storage and the zstd decoder's
// background resources.
func (a *FileAdapter) Close() error {
	a.raw.dec.Close()
	return a.file.Close()
}

// Flush serializes n and writes it to its slot, stamping Fullhash. A
// checkpoint-triggered flush additionally fsyncs so the fuzzy checkpoint
// header (internal/checkpoint) never outlives the node bytes it points
// at (§4.K).
func (a *FileAdapter) Flush(n *brt.Node[[]byte], writeMe, keepMe, forCheckpoint bool) error {
	if !writeMe {
		return nil
	}
	body := brt.EncodeNode(n, a.codec, a.raw)
	n.Fullhash = Fullhash(body)

	framed := make([]byte, 0, 4+len(body)+8)
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(body)))
	framed = append(framed, lenBuf[:]...)
	framed = append(framed, body...)
	var hashBuf [8]byte
	binary.LittleEndian.PutUint64(hashBuf[:], n.Fullhash)
	framed = append(framed, hashBuf[:]...)

	if err := a.file.WriteSlot(int64(n.Blocknum), framed); err != nil {
		return errors.Wrap(err, "pagecache: flush")
	}
	if forCheckpoint {
		return a.file.Sync()
	}
	return nil
}

// Fetch reads blocknum's slot, verifies its fullhash, and decodes it per
// extra.
func (a *FileAdapter) Fetch(blocknum brt.BlockNum, extra brt.FetchExtra) (*brt.Node[[]byte], error) {
	slot, err := a.file.ReadSlot(int64(blocknum))
	if err != nil {
		return nil, errors.Wrap(err, "pagecache: fetch")
	}
	if len(slot) < 4 {
		return nil, brt.ErrCorrupt
	}
	bodyLen := binary.LittleEndian.Uint32(slot[:4])
	rest := slot[4:]
	if uint64(bodyLen)+8 > uint64(len(rest)) {
		return nil, brt.ErrCorrupt
	}
	body := rest[:bodyLen]
	wantHash := binary.LittleEndian.Uint64(rest[bodyLen : bodyLen+8])
	gotHash := Fullhash(body)
	if gotHash != wantHash {
		return nil, errors.Wrap(brt.ErrCorrupt, "pagecache: fullhash mismatch")
	}

	n, err := brt.DecodeNode[[]byte](blocknum, body, a.codec, a.raw, extra)
	if err != nil {
		return nil, err
	}
	n.Fullhash = gotHash
	return n, nil
}

// PartialFetchRequired reports whether extra needs a partition this node
// does not currently hold AVAIL.
func (a *FileAdapter) PartialFetchRequired(n *brt.Node[[]byte], extra brt.FetchExtra) bool {
	for _, i := range a.partitionsNeeded(n, extra) {
		if n.ChildState(i) != brt.PartitionAvail {
			return true
		}
	}
	return false
}

// PartialFetch decodes every COMPRESSED partition extra needs straight
// from its resident bytes (no disk I/O: compression is a memory-vs-CPU
// tradeoff, not a storage-tier one here). A partition that is ON_DISK or
// INVALID has no resident bytes to decode from at all; only a full Fetch
// repopulates it, so PartialFetch reports an error rather than silently
// leaving it unsatisfied.
func (a *FileAdapter) PartialFetch(n *brt.Node[[]byte], extra brt.FetchExtra) error {
	for _, i := range a.partitionsNeeded(n, extra) {
		switch n.ChildState(i) {
		case brt.PartitionAvail:
			continue
		case brt.PartitionCompressed:
			packed, payload := brt.UnwrapCompressedPartition(n.Compressed(i))
			raw, err := a.raw.Unpack(payload, packed)
			if err != nil {
				return err
			}
			if n.IsLeaf() {
				bn, err := brt.DecodeBasement(raw, a.codec)
				if err != nil {
					return err
				}
				n.SetBN(i, bn)
			} else {
				f, err := brt.DecodeFIFO(raw)
				if err != nil {
					return err
				}
				n.SetFIFO(i, f)
			}
		default:
			return errors.Errorf("pagecache: partition %d needs a disk re-read, not a partial fetch", i)
		}
	}
	return nil
}

func (a *FileAdapter) partitionsNeeded(n *brt.Node[[]byte], extra brt.FetchExtra) []int {
	switch extra.Kind {
	case brt.FetchAll:
		out := make([]int, n.NChildren())
		for i := range out {
			out[i] = i
		}
		return out
	case brt.FetchSubset:
		return []int{n.WhichChild(extra.Query)}
	default:
		return nil
	}
}

// PartialEviction moves the ClockTick victim from AVAIL to COMPRESSED.
// Its payload is handed to the zstd raw codec, which only actually
// compresses at or above CompressionMinSize; below that it is kept raw.
// Either way WrapCompressedPartition records which happened so a later
// PartialFetch or flush-time passthrough knows whether to decompress.
func (a *FileAdapter) PartialEviction(n *brt.Node[[]byte]) (bytesFreed int) {
	victim := n.ClockTick()
	if victim < 0 || n.ChildState(victim) != brt.PartitionAvail {
		return 0
	}

	var raw []byte
	if n.IsLeaf() {
		bn := n.BN(victim)
		if bn == nil {
			return 0
		}
		raw = brt.EncodeBasement(bn, a.codec)
	} else {
		f := n.FIFO(victim)
		if f == nil {
			return 0
		}
		raw = brt.EncodeFIFO(f)
	}

	packed, wasPacked := a.raw.Pack(raw)
	blob := brt.WrapCompressedPartition(wasPacked, packed)

	before := n.MemorySize()
	n.SetCompressed(victim, blob)
	after := n.MemorySize()
	if freed := before - after; freed > 0 {
		return freed
	}
	return 0
}
