// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package brt

// MsgType is the kind of a Message (§3 Message).
type MsgType uint8

const (
	// MsgNone is the zero value; never a valid message on the wire.
	MsgNone MsgType = iota
	MsgInsert
	MsgInsertNoOverwrite
	MsgDeleteAny
	MsgAbortAny
	MsgCommitAny
	MsgUpdate
	MsgUpdateBroadcastAll
	MsgCommitBroadcastAll
	MsgCommitBroadcastTxn
	MsgAbortBroadcastTxn
	MsgOptimize
	MsgOptimizeForUpgrade
)

// String renders the message type for logging and debugging.
func (t MsgType) String() string {
	switch t {
	case MsgInsert:
		return "INSERT"
	case MsgInsertNoOverwrite:
		return "INSERT_NO_OVERWRITE"
	case MsgDeleteAny:
		return "DELETE_ANY"
	case MsgAbortAny:
		return "ABORT_ANY"
	case MsgCommitAny:
		return "COMMIT_ANY"
	case MsgUpdate:
		return "UPDATE"
	case MsgUpdateBroadcastAll:
		return "UPDATE_BROADCAST_ALL"
	case MsgCommitBroadcastAll:
		return "COMMIT_BROADCAST_ALL"
	case MsgCommitBroadcastTxn:
		return "COMMIT_BROADCAST_TXN"
	case MsgAbortBroadcastTxn:
		return "ABORT_BROADCAST_TXN"
	case MsgOptimize:
		return "OPTIMIZE"
	case MsgOptimizeForUpgrade:
		return "OPTIMIZE_FOR_UPGRADE"
	default:
		return "NONE"
	}
}

// IsBroadcast reports whether messages of this type are delivered to
// every child (duplicated on descent) rather than routed to one child by
// key.
func (t MsgType) IsBroadcast() bool {
	switch t {
	case MsgUpdateBroadcastAll, MsgCommitBroadcastAll, MsgCommitBroadcastTxn, MsgAbortBroadcastTxn:
		return true
	default:
		return false
	}
}

// UpdateFn synthesizes an insert or delete for MsgUpdate / MsgUpdateBroadcastAll.
// It receives the current value (if any) and the message's extra payload,
// and returns the new value plus whether the key should now exist.
type UpdateFn[V any] func(key []byte, old V, hadOld bool, extra []byte) (newVal V, keep bool)

// Message is a value object describing one pending mutation (§3 Message,
// §4.A). Key is empty for broadcast messages. Extra carries UPDATE's
// callback payload or nothing for other types.
type Message struct {
	Type  MsgType
	MSN   MSN
	XIDS  XIDS
	Key   []byte
	Value []byte
	Extra []byte
}

// Targeted reports whether this message is routed to exactly one child by
// key, as opposed to broadcast to all children.
func (m Message) Targeted() bool {
	return !m.Type.IsBroadcast()
}

// serializeSize returns the on-disk size per §6: type(1) + msn(8) + xids +
// keylen(4)+key + vallen(4)+val.
func (m Message) serializeSize() int {
	return 1 + 8 + m.XIDS.SerializeSize() + 4 + len(m.Key) + 4 + len(m.Value)
}
