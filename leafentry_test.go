// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package brt

import "testing"

func TestApplyInsertCommittedImmediately(t *testing.T) {
	t.Parallel()

	msg := Message{Type: MsgInsert, XIDS: RootXIDS(), Key: []byte("a"), Value: []byte("1")}
	le, changed := (*LeafEntry[[]byte])(nil).Apply(msg, nil, SnapshotCtx{})
	if !changed {
		t.Fatalf("insert should report changed")
	}
	val, ok := le.ValueFor(SnapshotCtx{})
	if !ok || string(val) != "1" {
		t.Fatalf("ValueFor = (%q,%v), want (1,true)", val, ok)
	}
}

func TestApplyInsertNoOverwritePreservesExisting(t *testing.T) {
	t.Parallel()

	le := NewLeafEntry[[]byte]([]byte("a"), []byte("orig"))
	msg := Message{Type: MsgInsertNoOverwrite, XIDS: RootXIDS(), Key: []byte("a"), Value: []byte("new")}

	got, changed := le.Apply(msg, nil, SnapshotCtx{})
	if changed {
		t.Fatalf("insert-no-overwrite over an existing value should not change anything")
	}
	val, _ := got.ValueFor(SnapshotCtx{})
	if string(val) != "orig" {
		t.Fatalf("value clobbered: got %q, want orig", val)
	}
}

func TestApplyDeleteRemovesCleanCommitted(t *testing.T) {
	t.Parallel()

	le := NewLeafEntry[[]byte]([]byte("a"), []byte("v"))
	msg := Message{Type: MsgDeleteAny, XIDS: RootXIDS(), Key: []byte("a")}

	got, changed := le.Apply(msg, nil, SnapshotCtx{})
	if !changed || got != nil {
		t.Fatalf("delete of a clean committed entry should remove it entirely, got=%v changed=%v", got, changed)
	}
}

func TestUncommittedInsertThenCommit(t *testing.T) {
	t.Parallel()

	txn := RootXIDS().Child(1)
	insert := Message{Type: MsgInsert, XIDS: txn, Key: []byte("a"), Value: []byte("1")}

	le, _ := (*LeafEntry[[]byte])(nil).Apply(insert, nil, SnapshotCtx{})
	if le.IsClean() {
		t.Fatalf("a provisional insert should leave an uncommitted stack entry")
	}

	readerOutside := SnapshotCtx{Reader: RootXIDS(), OldestLiveInSnapshot: TXNIDNone}
	if _, ok := le.ValueFor(readerOutside); ok {
		t.Fatalf("an outside reader should not see an uncommitted value (no committed fallback present)")
	}

	readerSelf := SnapshotCtx{Reader: txn}
	if val, ok := le.ValueFor(readerSelf); !ok || string(val) != "1" {
		t.Fatalf("the writer's own transaction should see its provisional value, got (%q,%v)", val, ok)
	}

	commitMsg := Message{Type: MsgCommitAny, XIDS: txn}
	le, changed := le.Apply(commitMsg, nil, SnapshotCtx{})
	if !changed || !le.IsClean() {
		t.Fatalf("commit should clear the provisional stack")
	}

	readerOutside2 := SnapshotCtx{Reader: RootXIDS(), OldestLiveInSnapshot: TXNID(1000)}
	if val, ok := le.ValueFor(readerOutside2); !ok || string(val) != "1" {
		t.Fatalf("after commit the value should be visible to everyone, got (%q,%v)", val, ok)
	}
}

func TestUncommittedInsertThenAbort(t *testing.T) {
	t.Parallel()

	txn := RootXIDS().Child(7)
	insert := Message{Type: MsgInsert, XIDS: txn, Key: []byte("a"), Value: []byte("1")}
	le, _ := (*LeafEntry[[]byte])(nil).Apply(insert, nil, SnapshotCtx{})

	abort := Message{Type: MsgAbortAny, XIDS: txn}
	le, changed := le.Apply(abort, nil, SnapshotCtx{})
	if !changed {
		t.Fatalf("abort should report changed")
	}
	if le != nil {
		t.Fatalf("aborting the only op on a never-committed entry should remove it, got %+v", le)
	}
}

func TestBroadcastCommitTxnSweepsMatchingTxn(t *testing.T) {
	t.Parallel()

	txn := RootXIDS().Child(3)
	other := RootXIDS().Child(9)

	le, _ := (*LeafEntry[[]byte])(nil).Apply(Message{Type: MsgInsert, XIDS: txn, Key: []byte("a"), Value: []byte("v1")}, nil, SnapshotCtx{})
	le, _ = le.Apply(Message{Type: MsgInsert, XIDS: other, Key: []byte("a"), Value: []byte("v2")}, nil, SnapshotCtx{})

	le, changed := le.Apply(Message{Type: MsgCommitBroadcastTxn, XIDS: txn}, nil, SnapshotCtx{})
	if !changed {
		t.Fatalf("broadcast commit of txn should change the entry")
	}
	if le.HasXids(txn) {
		t.Fatalf("committed txn's stack entry should be gone")
	}
	if !le.HasXids(other) {
		t.Fatalf("unrelated txn's stack entry should survive the targeted broadcast")
	}
}

func TestLatestValAndLenPrefersUncommittedTop(t *testing.T) {
	t.Parallel()

	le := NewLeafEntry[[]byte]([]byte("a"), []byte("committed"))
	txn := RootXIDS().Child(1)
	le, _ = le.Apply(Message{Type: MsgInsert, XIDS: txn, Key: []byte("a"), Value: []byte("provisional")}, nil, SnapshotCtx{})

	val, ok := le.LatestValAndLen()
	if !ok || string(val) != "provisional" {
		t.Fatalf("LatestValAndLen = (%q,%v), want (provisional,true)", val, ok)
	}
}
