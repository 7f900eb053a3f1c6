// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

// Package diskfile provides a simple append/overwrite mmap-backed block
// store: fixed-size slots addressed by block number, growing the
// underlying file (and its mapping) as new blocks are written. It is the
// concrete storage a reference NodeAdapter serializes partitions into.
package diskfile

import (
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"
)

// File is a growable, slot-addressed mmap file.
type File struct {
	mu       sync.RWMutex
	f        *os.File
	mapping  mmap.MMap
	slotSize int64
	nslots   int64
}

// Open opens (creating if absent) path as a diskfile with the given
// fixed slot size in bytes.
func Open(path string, slotSize int64) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "diskfile: open")
	}
	df := &File{f: f, slotSize: slotSize}
	if err := df.remap(); err != nil {
		f.Close()
		return nil, err
	}
	return df, nil
}

func (d *File) remap() error {
	if d.mapping != nil {
		if err := d.mapping.Unmap(); err != nil {
			return errors.Wrap(err, "diskfile: unmap")
		}
	}
	info, err := d.f.Stat()
	if err != nil {
		return errors.Wrap(err, "diskfile: stat")
	}
	size := info.Size()
	if size == 0 {
		d.mapping = nil
		d.nslots = 0
		return nil
	}
	m, err := mmap.Map(d.f, mmap.RDWR, 0)
	if err != nil {
		return errors.Wrap(err, "diskfile: mmap")
	}
	d.mapping = m
	d.nslots = size / d.slotSize
	return nil
}

// grow extends the file so slot n exists, remapping afterward.
func (d *File) grow(n int64) error {
	need := (n + 1) * d.slotSize
	info, err := d.f.Stat()
	if err != nil {
		return err
	}
	if info.Size() >= need {
		return nil
	}
	if err := d.f.Truncate(need); err != nil {
		return errors.Wrap(err, "diskfile: truncate")
	}
	return d.remap()
}

// WriteSlot writes payload (padded/truncated to slotSize) into slot n.
func (d *File) WriteSlot(n int64, payload []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if n >= d.nslots {
		if err := d.grow(n); err != nil {
			return err
		}
	}
	if int64(len(payload)) > d.slotSize {
		return errors.Errorf("diskfile: payload %d exceeds slot size %d", len(payload), d.slotSize)
	}
	off := n * d.slotSize
	copy(d.mapping[off:off+d.slotSize], payload)
	for i := int64(len(payload)); i < d.slotSize; i++ {
		d.mapping[off+i] = 0
	}
	return nil
}

// ReadSlot returns a copy of slot n's bytes.
func (d *File) ReadSlot(n int64) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if n >= d.nslots {
		return nil, errors.Errorf("diskfile: slot %d not allocated", n)
	}
	off := n * d.slotSize
	out := make([]byte, d.slotSize)
	copy(out, d.mapping[off:off+d.slotSize])
	return out, nil
}

// Sync flushes the mapping to disk.
func (d *File) Sync() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.mapping == nil {
		return nil
	}
	return d.mapping.Flush()
}

// Close unmaps and closes the underlying file.
func (d *File) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.mapping != nil {
		if err := d.mapping.Unmap(); err != nil {
			return err
		}
	}
	return d.f.Close()
}
