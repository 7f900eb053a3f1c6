// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package brt

// MessageFIFO is a nonleaf child's per-child message buffer: an in-order
// queue of buffered messages routed to that child (§3 Nonleaf child
// info). Built on a plain slice since a FIFO only ever appends and, on
// flush, drains everything at once — no mid-queue insert/delete is ever
// needed, unlike the basement node's ordered-by-key container.
type MessageFIFO struct {
	msgs           []Message
	nBytesInBuffer int
}

// NewMessageFIFO returns an empty per-child message queue.
func NewMessageFIFO() *MessageFIFO {
	return &MessageFIFO{}
}

// Len returns the number of buffered messages.
func (f *MessageFIFO) Len() int {
	if f == nil {
		return 0
	}
	return len(f.msgs)
}

// NBytesInBuffer returns the tracked serialized-size estimate driving
// heaviest-child selection (§4.H).
func (f *MessageFIFO) NBytesInBuffer() int {
	if f == nil {
		return 0
	}
	return f.nBytesInBuffer
}

// Push appends msg to the tail of the queue, preserving insertion order
// (§6 "FIFO framing that preserves insertion order").
func (f *MessageFIFO) Push(msg Message) {
	f.msgs = append(f.msgs, msg)
	f.nBytesInBuffer += msg.serializeSize()
}

// Messages exposes the buffered messages in FIFO order for draining
// during a flush.
func (f *MessageFIFO) Messages() []Message {
	if f == nil {
		return nil
	}
	return f.msgs
}

// Drain empties the queue and returns what was in it, in order.
func (f *MessageFIFO) Drain() []Message {
	if f == nil {
		return nil
	}
	out := f.msgs
	f.msgs = nil
	f.nBytesInBuffer = 0
	return out
}

// Clone returns an independent copy sharing no backing array with the
// original, for copy-on-write structural operations.
func (f *MessageFIFO) Clone() *MessageFIFO {
	if f == nil {
		return nil
	}
	msgs := make([]Message, len(f.msgs))
	copy(msgs, f.msgs)
	return &MessageFIFO{msgs: msgs, nBytesInBuffer: f.nBytesInBuffer}
}

// MaxMSN returns the largest MSN among buffered messages, or MSNNone if
// empty.
func (f *MessageFIFO) MaxMSN() MSN {
	max := MSNNone
	for _, m := range f.msgs {
		if m.MSN > max {
			max = m.MSN
		}
	}
	return max
}
