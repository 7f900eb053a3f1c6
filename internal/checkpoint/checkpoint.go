// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

// Package checkpoint implements the on-disk header double-buffering and
// cross-process exclusion a fuzzy checkpoint needs (§4.K): two header
// slots (checkpoint and checkpoint-in-progress), a generation counter,
// and an advisory file lock guarding the clone-then-write-then-swap.
package checkpoint

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
)

// Header is the durable root-of-trust written at checkpoint time: enough
// to reopen a dictionary and resume from its last consistent point
// (§4.K "a checkpoint is a consistent snapshot of the dictionary's
// header").
type Header struct {
	Generation   uint64
	RootBlocknum uint64
	LayoutVersion uint32
	LastMSNOnDisk uint64
}

const headerSize = 8 + 8 + 4 + 8

func (h Header) encode() []byte {
	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint64(buf[0:8], h.Generation)
	binary.LittleEndian.PutUint64(buf[8:16], h.RootBlocknum)
	binary.LittleEndian.PutUint32(buf[16:20], h.LayoutVersion)
	binary.LittleEndian.PutUint64(buf[20:28], h.LastMSNOnDisk)
	return buf
}

func decodeHeader(buf []byte) (Header, error) {
	if len(buf) < headerSize {
		return Header{}, errors.New("checkpoint: truncated header")
	}
	return Header{
		Generation:    binary.LittleEndian.Uint64(buf[0:8]),
		RootBlocknum:  binary.LittleEndian.Uint64(buf[8:16]),
		LayoutVersion: binary.LittleEndian.Uint32(buf[16:20]),
		LastMSNOnDisk: binary.LittleEndian.Uint64(buf[20:28]),
	}, nil
}

// Store owns the two header slots on disk (the live checkpoint and the
// in-progress one being built) plus the advisory lock serializing
// checkpoint attempts across processes, mirroring the teacher's
// clone-the-root-then-swap discipline (table2.go Clone()) generalized
// from an in-memory root pointer swap to an on-disk slot swap.
type Store struct {
	file *os.File
	lock *flock.Flock

	current Header
}

// Open opens (creating if absent) the header file at path and its
// sibling ".lock" advisory lock file.
func Open(path string) (*Store, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "checkpoint: open header file")
	}
	s := &Store{file: f, lock: flock.New(path + ".lock")}

	for slot := 0; slot < 2; slot++ {
		if hdr, err := s.readSlot(slot); err == nil && hdr.Generation >= s.current.Generation {
			s.current = hdr
		}
	}
	return s, nil
}

// Close releases the underlying file handle.
func (s *Store) Close() error {
	return s.file.Close()
}

// Current returns the last successfully committed header.
func (s *Store) Current() Header {
	return s.current
}

// Checkpoint implements §4.K: clone the current header, apply mutate to
// the clone, write it to the alternate slot under the advisory lock, and
// only then swap Current() over to it. writeCheckpointInProgress is the
// caller-supplied step that flushes every dirty node
// (for_checkpoint=true) before the header itself is made durable.
func (s *Store) Checkpoint(mutate func(Header) Header, writeCheckpointInProgress func() error) error {
	locked, err := s.lock.TryLock()
	if err != nil {
		return errors.Wrap(err, "checkpoint: acquire advisory lock")
	}
	if !locked {
		return errors.New("checkpoint: already in progress")
	}
	defer s.lock.Unlock()

	next := mutate(s.current)
	next.Generation = s.current.Generation + 1

	// Dirty nodes are flushed with for_checkpoint=true (their on-disk
	// image is written but they stay resident) before the header that
	// points at them is made durable, so a crash mid-checkpoint always
	// leaves the prior generation's header (and everything it points to)
	// intact — the "fuzzy" part of a fuzzy checkpoint.
	if writeCheckpointInProgress != nil {
		if err := writeCheckpointInProgress(); err != nil {
			return errors.Wrap(err, "checkpoint: flush dirty nodes")
		}
	}

	slot := int(next.Generation % 2)
	if err := s.writeSlot(slot, next); err != nil {
		return err
	}
	if err := s.file.Sync(); err != nil {
		return errors.Wrap(err, "checkpoint: fsync header file")
	}

	s.current = next
	return nil
}

func (s *Store) writeSlot(slot int, h Header) error {
	_, err := s.file.WriteAt(h.encode(), int64(slot*headerSize))
	return err
}

func (s *Store) readSlot(slot int) (Header, error) {
	buf := make([]byte, headerSize)
	_, err := s.file.ReadAt(buf, int64(slot*headerSize))
	if err != nil && err != io.EOF {
		return Header{}, err
	}
	return decodeHeader(buf)
}
