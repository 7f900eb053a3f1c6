// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package brt

import (
	"fmt"
	"io"
	"strings"
)

// Fprint writes a recursive, indented tree diagram of n (partition
// states, MSNs, reactivity) to w — a debugging aid in the same spirit as
// the teacher's dumper.go/artserialize.go Fprint, generalized from a
// CIDR trie diagram to this engine's node/partition shape.
func Fprint[V any](w io.Writer, n *Node[V], fanout int) error {
	return fprintNode(w, n, 0, fanout)
}

func fprintNode[V any](w io.Writer, n *Node[V], depth int, fanout int) error {
	indent := strings.Repeat("  ", depth)
	kind := "nonleaf"
	if n.IsLeaf() {
		kind = "leaf"
	}
	_, err := fmt.Fprintf(w, "%sblock=%d %s height=%d children=%d dirty=%t msn_disk=%d msn_mem=%d reactivity=%s\n",
		indent, n.Blocknum, kind, n.Height, n.NChildren(), n.Dirty,
		n.MaxMSNAppliedOnDisk, n.MaxMSNAppliedInMemory, n.ComputeReactivity(fanout))
	if err != nil {
		return err
	}

	for i := 0; i < n.NChildren(); i++ {
		state := n.ChildState(i)
		prefix := indent + "  "
		switch {
		case n.IsLeaf():
			bn := n.BN(i)
			size := 0
			if bn != nil {
				size = bn.Size()
			}
			if _, err := fmt.Fprintf(w, "%spartition[%d] state=%v entries=%d soft_copy_up_to_date=%t\n",
				prefix, i, state, size, bn != nil && bn.SoftCopyUpToDate()); err != nil {
				return err
			}
		default:
			fifo := n.FIFO(i)
			queued := 0
			if fifo != nil {
				queued = fifo.Len()
			}
			if _, err := fmt.Fprintf(w, "%schild[%d] state=%v blocknum=%d queued_msgs=%d estimate=%+v\n",
				prefix, i, state, n.ChildBlocknum(i), queued, n.ChildEstimate(i)); err != nil {
				return err
			}
		}
	}
	return nil
}

// String implements fmt.Stringer for PartitionState, used by Fprint's
// %v formatting.
func (s PartitionState) String() string {
	switch s {
	case PartitionOnDisk:
		return "ON_DISK"
	case PartitionCompressed:
		return "COMPRESSED"
	case PartitionAvail:
		return "AVAIL"
	default:
		return "INVALID"
	}
}
