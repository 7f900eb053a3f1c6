// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package brt

import "testing"

func mkDirtyLE(key, committed string) *LeafEntry[[]byte] {
	le := RebuildLeafEntry[[]byte](
		[]byte(key),
		[]byte(committed),
		false,
		true,
		[]StackOp[[]byte]{
			{XIDS: RootXIDS().Child(1), IsDel: false, Val: []byte("v1")},
			{XIDS: RootXIDS().Child(1).Child(2), IsDel: true},
		},
	)
	return le
}

func TestEncodeDecodeBasementRoundTrip(t *testing.T) {
	t.Parallel()

	bn := NewBasementNode[[]byte]()
	bn.InsertAt(0, mkLE("a", "1"))
	bn.InsertAt(1, mkDirtyLE("b", "b0"))
	bn.InsertAt(2, mkLE("c", "3"))

	data := EncodeBasement(bn, BytesCodec{})
	got, err := DecodeBasement(data, BytesCodec{})
	if err != nil {
		t.Fatalf("DecodeBasement: %v", err)
	}

	if got.Size() != bn.Size() {
		t.Fatalf("Size() = %d, want %d", got.Size(), bn.Size())
	}
	for i := 0; i < bn.Size(); i++ {
		want := bn.Fetch(i)
		have := got.Fetch(i)
		if string(have.Key()) != string(want.Key()) {
			t.Fatalf("entry %d key = %q, want %q", i, have.Key(), want.Key())
		}
		wv, wd, wh := want.Committed()
		hv, hd, hh := have.Committed()
		if wh != hh || wd != hd || string(wv) != string(hv) {
			t.Fatalf("entry %d committed = (%q,%v,%v), want (%q,%v,%v)", i, hv, hd, hh, wv, wd, wh)
		}
		wops, hops := want.StackOps(), have.StackOps()
		if len(wops) != len(hops) {
			t.Fatalf("entry %d stack len = %d, want %d", i, len(hops), len(wops))
		}
		for j := range wops {
			if !wops[j].XIDS.Equal(hops[j].XIDS) || wops[j].IsDel != hops[j].IsDel || string(wops[j].Val) != string(hops[j].Val) {
				t.Fatalf("entry %d op %d = %+v, want %+v", i, j, hops[j], wops[j])
			}
		}
	}
}

func TestEncodeDecodeFIFORoundTrip(t *testing.T) {
	t.Parallel()

	f := NewMessageFIFO()
	f.Push(Message{Type: MsgInsert, MSN: 1, XIDS: RootXIDS(), Key: []byte("k1"), Value: []byte("v1")})
	f.Push(Message{Type: MsgUpdate, MSN: 2, XIDS: RootXIDS().Child(7), Key: []byte("k2"), Extra: []byte("extra")})
	f.Push(Message{Type: MsgCommitBroadcastAll, MSN: 3, XIDS: RootXIDS().Child(7)})

	data := EncodeFIFO(f)
	got, err := DecodeFIFO(data)
	if err != nil {
		t.Fatalf("DecodeFIFO: %v", err)
	}
	want := f.Messages()
	have := got.Messages()
	if len(want) != len(have) {
		t.Fatalf("Messages() len = %d, want %d", len(have), len(want))
	}
	for i := range want {
		w, h := want[i], have[i]
		if w.Type != h.Type || w.MSN != h.MSN || !w.XIDS.Equal(h.XIDS) ||
			string(w.Key) != string(h.Key) || string(w.Value) != string(h.Value) || string(w.Extra) != string(h.Extra) {
			t.Fatalf("message %d = %+v, want %+v", i, h, w)
		}
	}
}

func TestEncodeDecodeNodeRoundTripLeaf(t *testing.T) {
	t.Parallel()

	n := InitEmpty[[]byte](5, 0, 4096)
	for _, k := range []string{"a", "b", "c"} {
		idx, _ := n.BN(0).FindZero([]byte(k))
		n.BN(0).InsertAt(idx, mkLE(k, k+k))
	}
	n.SetChildEstimate(0, Estimate{NKeys: 3, NData: 3, DSize: 12, Exact: true})

	data := EncodeNode[[]byte](n, BytesCodec{}, IdentityRawCodec{})
	got, err := DecodeNode[[]byte](5, data, BytesCodec{}, IdentityRawCodec{}, FetchExtra{Kind: FetchAll})
	if err != nil {
		t.Fatalf("DecodeNode: %v", err)
	}

	if !got.IsLeaf() || got.NChildren() != 1 {
		t.Fatalf("decoded node shape = (leaf=%v, nchildren=%d), want (true,1)", got.IsLeaf(), got.NChildren())
	}
	if got.ChildState(0) != PartitionAvail {
		t.Fatalf("ChildState(0) = %v, want AVAIL", got.ChildState(0))
	}
	if got.BN(0).Size() != 3 {
		t.Fatalf("BN(0).Size() = %d, want 3", got.BN(0).Size())
	}
	for i, k := range []string{"a", "b", "c"} {
		if string(got.BN(0).Fetch(i).Key()) != k {
			t.Fatalf("entry %d key = %q, want %q", i, got.BN(0).Fetch(i).Key(), k)
		}
	}
	est := got.ChildEstimate(0)
	if est.NKeys != 3 || est.DSize != 12 || !est.Exact {
		t.Fatalf("ChildEstimate(0) = %+v, want {NKeys:3 DSize:12 Exact:true}", est)
	}
}

func TestEncodeDecodeNodeRoundTripNonleaf(t *testing.T) {
	t.Parallel()

	n := InitEmpty[[]byte](9, 1, 4096)
	n.AppendChild(nil, 10)
	n.AppendChild([]byte("m"), 20)
	n.SetFIFO(0, NewMessageFIFO())
	n.FIFO(0).Push(Message{Type: MsgInsert, MSN: 1, XIDS: RootXIDS(), Key: []byte("a"), Value: []byte("1")})
	n.SetFIFO(1, NewMessageFIFO())
	n.FIFO(1).Push(Message{Type: MsgDeleteAny, MSN: 2, XIDS: RootXIDS(), Key: []byte("z")})

	data := EncodeNode[[]byte](n, BytesCodec{}, IdentityRawCodec{})
	got, err := DecodeNode[[]byte](9, data, BytesCodec{}, IdentityRawCodec{}, FetchExtra{Kind: FetchAll})
	if err != nil {
		t.Fatalf("DecodeNode: %v", err)
	}

	if got.IsLeaf() || got.NChildren() != 2 {
		t.Fatalf("decoded node shape = (leaf=%v, nchildren=%d), want (false,2)", got.IsLeaf(), got.NChildren())
	}
	if string(got.Pivot(0)) != "m" {
		t.Fatalf("Pivot(0) = %q, want m", got.Pivot(0))
	}
	if got.ChildBlocknum(0) != 10 || got.ChildBlocknum(1) != 20 {
		t.Fatalf("child blocknums = (%d,%d), want (10,20)", got.ChildBlocknum(0), got.ChildBlocknum(1))
	}
	if got.FIFO(0).Len() != 1 || got.FIFO(1).Len() != 1 {
		t.Fatalf("fifo lengths = (%d,%d), want (1,1)", got.FIFO(0).Len(), got.FIFO(1).Len())
	}
	if string(got.FIFO(0).Messages()[0].Key) != "a" {
		t.Fatalf("fifo 0 message key = %q, want a", got.FIFO(0).Messages()[0].Key)
	}
}

func TestDecodeNodeFetchMinLeavesPartitionsCompressed(t *testing.T) {
	t.Parallel()

	n := InitEmpty[[]byte](1, 0, 4096)
	n.BN(0).InsertAt(0, mkLE("a", "1"))

	data := EncodeNode[[]byte](n, BytesCodec{}, IdentityRawCodec{})
	got, err := DecodeNode[[]byte](1, data, BytesCodec{}, IdentityRawCodec{}, FetchExtra{Kind: FetchMin})
	if err != nil {
		t.Fatalf("DecodeNode: %v", err)
	}
	if got.ChildState(0) != PartitionCompressed {
		t.Fatalf("ChildState(0) after FetchMin = %v, want COMPRESSED", got.ChildState(0))
	}
	if got.BN(0) != nil {
		t.Fatalf("BN(0) should be nil until a partial fetch decodes it")
	}

	packed, payload := UnwrapCompressedPartition(got.Compressed(0))
	if packed {
		t.Fatalf("IdentityRawCodec should never mark a partition packed")
	}
	restored, err := DecodeBasement(payload, BytesCodec{})
	if err != nil {
		t.Fatalf("DecodeBasement on retained FetchMin bytes: %v", err)
	}
	if restored.Size() != 1 || string(restored.Fetch(0).Key()) != "a" {
		t.Fatalf("retained FetchMin payload did not decode back to the original entry")
	}
}

func TestEncodeDecodeNodePreservesCompressedPassthrough(t *testing.T) {
	t.Parallel()

	n := InitEmpty[[]byte](3, 0, 4096)
	n.BN(0).InsertAt(0, mkLE("a", "1"))
	n.BN(0).InsertAt(1, mkLE("b", "2"))

	// Simulate a prior partial eviction: the partition is already
	// COMPRESSED, with a packed flag baked into its resident bytes.
	raw := EncodeBasement(n.BN(0), BytesCodec{})
	n.SetCompressed(0, WrapCompressedPartition(true, raw))

	data := EncodeNode[[]byte](n, BytesCodec{}, IdentityRawCodec{})
	got, err := DecodeNode[[]byte](3, data, BytesCodec{}, IdentityRawCodec{}, FetchExtra{Kind: FetchMin})
	if err != nil {
		t.Fatalf("DecodeNode: %v", err)
	}
	if got.ChildState(0) != PartitionCompressed {
		t.Fatalf("ChildState(0) = %v, want COMPRESSED", got.ChildState(0))
	}
	packed, payload := UnwrapCompressedPartition(got.Compressed(0))
	if !packed {
		t.Fatalf("packed flag should have round-tripped as true")
	}
	if string(payload) != string(raw) {
		t.Fatalf("compressed payload did not round-trip verbatim")
	}
}
