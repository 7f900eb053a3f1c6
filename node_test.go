// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package brt

import "testing"

func TestNodeAppendChildAndWhichChild(t *testing.T) {
	t.Parallel()

	n := InitEmpty[[]byte](1, 1, 4096)
	n.AppendChild(nil, 10)
	n.AppendChild([]byte("m"), 20)
	n.AppendChild([]byte("t"), 30)

	if n.NChildren() != 3 {
		t.Fatalf("NChildren = %d, want 3", n.NChildren())
	}

	cases := []struct {
		key  string
		want int
	}{
		{"a", 0},
		{"m", 0}, // a key equal to a pivot routes to the left child
		{"mm", 1},
		{"t", 1}, // a key equal to a pivot routes to the left child
		{"zz", 2},
	}
	for _, c := range cases {
		if got := n.WhichChild([]byte(c.key)); got != c.want {
			t.Errorf("WhichChild(%q) = %d, want %d", c.key, got, c.want)
		}
	}
}

func TestNodeClockTickPicksVictimAtZero(t *testing.T) {
	t.Parallel()

	n := InitEmpty[[]byte](1, 1, 4096)
	n.AppendChild(nil, 10)
	n.SetFIFO(0, NewMessageFIFO())

	if v := n.ClockTick(); v != -1 {
		t.Fatalf("freshly touched clock ticked to victim early: %d", v)
	}
	n.ClockTick()
	if v := n.ClockTick(); v != 0 {
		t.Fatalf("clock should reach zero and name child 0 as victim, got %d", v)
	}
}

func TestNodeHeaviestChildPicksMaxBufferBytes(t *testing.T) {
	t.Parallel()

	n := InitEmpty[[]byte](1, 1, 4096)
	n.AppendChild(nil, 10)
	n.AppendChild([]byte("m"), 20)
	n.SetFIFO(0, NewMessageFIFO())
	n.SetFIFO(1, NewMessageFIFO())

	n.FIFO(1).Push(Message{Type: MsgInsert, XIDS: RootXIDS(), Key: []byte("n"), Value: []byte("v")})

	if got := n.HeaviestChild(); got != 1 {
		t.Fatalf("HeaviestChild = %d, want 1 (the only child with a buffered message)", got)
	}
}

func TestNodeComputeReactivityLeafFusible(t *testing.T) {
	t.Parallel()

	n := InitEmpty[[]byte](1, 0, 4096)
	if got := n.ComputeReactivity(16); got != Fusible {
		t.Fatalf("a fresh empty leaf should be FUSIBLE, got %v", got)
	}
}

func TestNodeComputeReactivityLeafFissible(t *testing.T) {
	t.Parallel()

	n := InitEmpty[[]byte](1, 0, 256)
	bn := n.BN(0)
	bn.InsertAt(0, mkLE("a", "v"))
	big := make([]byte, 512)
	bn.InsertAt(1, mkLE("b", string(big)))
	if got := n.ComputeReactivity(16); got != Fissible {
		t.Fatalf("an oversized leaf should be FISSIBLE, got %v", got)
	}
}

func TestNodeComputeReactivityNonleaf(t *testing.T) {
	t.Parallel()

	n := InitEmpty[[]byte](1, 1, 4096)
	for i := 0; i < 20; i++ {
		n.AppendChild([]byte{byte(i)}, BlockNum(i+1))
	}
	if got := n.ComputeReactivity(16); got != Fissible {
		t.Fatalf("20 children over a fanout of 16 should be FISSIBLE, got %v", got)
	}
}
