// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package pagecache

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/erigontech/brt"
)

func mkEntry(key, val string) *brt.LeafEntry[[]byte] {
	return brt.NewLeafEntry[[]byte]([]byte(key), []byte(val))
}

func TestFileAdapterFlushFetchRoundTripLeaf(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nodes.db")
	a, err := NewFileAdapter(path, 4096, 1<<20) // compression threshold above anything this test writes
	if err != nil {
		t.Fatalf("NewFileAdapter: %v", err)
	}
	defer a.Close()

	n := brt.InitEmpty[[]byte](1, 0, 4096)
	n.BN(0).InsertAt(0, mkEntry("a", "1"))
	n.BN(0).InsertAt(1, mkEntry("b", "2"))
	n.BN(0).InsertAt(2, mkEntry("c", "3"))

	if err := a.Flush(n, true, true, false); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if n.Fullhash == 0 {
		t.Fatalf("Flush should have stamped a nonzero Fullhash")
	}

	got, err := a.Fetch(1, brt.FetchExtra{Kind: brt.FetchAll})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got.Fullhash != n.Fullhash {
		t.Fatalf("Fetch fullhash = %d, want %d", got.Fullhash, n.Fullhash)
	}
	if got.BN(0).Size() != 3 {
		t.Fatalf("BN(0).Size() = %d, want 3", got.BN(0).Size())
	}
	for i, want := range []string{"a", "b", "c"} {
		if string(got.BN(0).Fetch(i).Key()) != want {
			t.Fatalf("entry %d key = %q, want %q", i, got.BN(0).Fetch(i).Key(), want)
		}
	}
}

func TestFileAdapterCompressesLargePartition(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nodes.db")
	a, err := NewFileAdapter(path, 1<<16, 16) // tiny threshold: force zstd on non-trivial payloads
	if err != nil {
		t.Fatalf("NewFileAdapter: %v", err)
	}
	defer a.Close()

	n := brt.InitEmpty[[]byte](2, 0, 1<<16)
	val := strings.Repeat("abcdefgh", 64) // repetitive, compresses well
	for i, k := range []string{"a", "b", "c", "d"} {
		n.BN(0).InsertAt(i, brt.NewLeafEntry[[]byte]([]byte(k), []byte(val)))
	}

	if err := a.Flush(n, true, true, false); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	got, err := a.Fetch(2, brt.FetchExtra{Kind: brt.FetchAll})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got.BN(0).Size() != 4 {
		t.Fatalf("BN(0).Size() = %d, want 4", got.BN(0).Size())
	}
	for i := 0; i < 4; i++ {
		gv, _, has := got.BN(0).Fetch(i).Committed()
		if !has || string(gv) != val {
			t.Fatalf("entry %d value did not survive compress/decompress round trip", i)
		}
	}
}

func TestFileAdapterFetchDetectsCorruption(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nodes.db")
	a, err := NewFileAdapter(path, 4096, 1<<20)
	if err != nil {
		t.Fatalf("NewFileAdapter: %v", err)
	}

	n := brt.InitEmpty[[]byte](1, 0, 4096)
	n.BN(0).InsertAt(0, mkEntry("a", "1"))
	if err := a.Flush(n, true, true, false); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	// Node 1 lives in slot 1 (slots are fixed-size and zero-indexed); flip
	// a byte well inside its encoded body (past the 4-byte length prefix),
	// leaving the fullhash trailer as originally computed so Fetch's
	// verification must be what catches the corruption.
	const slotSize = 4096 + 4 + 8 + 64
	corruptAt := int64(1)*slotSize + 8
	raw[corruptAt] ^= 0xFF
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	a2, err := NewFileAdapter(path, 4096, 1<<20)
	if err != nil {
		t.Fatalf("NewFileAdapter (reopen): %v", err)
	}
	defer a2.Close()

	if _, err := a2.Fetch(1, brt.FetchExtra{Kind: brt.FetchAll}); !errors.Is(err, brt.ErrCorrupt) {
		t.Fatalf("Fetch on corrupted bytes = %v, want ErrCorrupt", err)
	}
}

func TestFileAdapterPartialFetchAndEvictionRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nodes.db")
	a, err := NewFileAdapter(path, 4096, 8) // low threshold so PartialEviction actually compresses
	if err != nil {
		t.Fatalf("NewFileAdapter: %v", err)
	}
	defer a.Close()

	n := brt.InitEmpty[[]byte](1, 0, 4096)
	n.BN(0).InsertAt(0, mkEntry("a", "aaaaaaaaaaaaaaaaaaaaaaaa"))

	freed := a.PartialEviction(n)
	if n.ChildState(0) != brt.PartitionCompressed {
		t.Fatalf("ChildState(0) after PartialEviction = %v, want COMPRESSED", n.ChildState(0))
	}
	if freed <= 0 {
		t.Fatalf("PartialEviction should report bytes freed for a large, compressible partition, got %d", freed)
	}
	if n.BN(0) != nil {
		t.Fatalf("BN(0) should be cleared once the partition is COMPRESSED")
	}

	if !a.PartialFetchRequired(n, brt.FetchExtra{Kind: brt.FetchAll}) {
		t.Fatalf("PartialFetchRequired should report true for a COMPRESSED partition under FetchAll")
	}
	if err := a.PartialFetch(n, brt.FetchExtra{Kind: brt.FetchAll}); err != nil {
		t.Fatalf("PartialFetch: %v", err)
	}
	if n.ChildState(0) != brt.PartitionAvail {
		t.Fatalf("ChildState(0) after PartialFetch = %v, want AVAIL", n.ChildState(0))
	}
	val, _, has := n.BN(0).Fetch(0).Committed()
	if !has || string(val) != "aaaaaaaaaaaaaaaaaaaaaaaa" {
		t.Fatalf("PartialFetch did not restore the original value, got %q", val)
	}
}
