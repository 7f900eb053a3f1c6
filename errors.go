// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package brt

import (
	"sync"

	"github.com/pkg/errors"
)

// Sentinel errors forming the taxonomy of §7. ErrTryAgain never escapes
// the package: it is consumed entirely by the retry loops in
// rootingress.go and search.go.
var (
	ErrTryAgain                    = errors.New("brt: try again")
	ErrNotFound                    = errors.New("brt: not found")
	ErrFoundButRejected            = errors.New("brt: found but rejected by caller bound")
	ErrDictionaryTooNewForSnapshot = errors.New("brt: dictionary created after snapshot")
	ErrKeyExists                   = errors.New("brt: key exists")
	ErrPanic                       = errors.New("brt: panicked, dictionary is tainted")
	ErrIO                          = errors.New("brt: io error")
	ErrNoMemory                    = errors.New("brt: no memory")
	ErrDiskFull                    = errors.New("brt: disk full")
	ErrCorrupt                     = errors.New("brt: corrupt on-disk encoding")
)

// PanicState records a non-recoverable error that taints a Tree. Once
// set, every subsequent operation on the owning Tree returns the
// recorded error and checkpoints refuse to write (§4.K, §7).
type PanicState struct {
	mu   sync.RWMutex
	code error
	msg  string
}

// Panic taints the state with err, wrapped with msg for context. Only the
// first panic is retained; subsequent calls are no-ops so the original
// cause is never overwritten by a cascade of follow-on failures.
func (p *PanicState) Panic(err error, msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.code != nil {
		return
	}
	p.code = errors.Wrap(err, msg)
	p.msg = msg
}

// Err returns the recorded panic error, or nil if the state is healthy.
func (p *PanicState) Err() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.code
}

// Tainted reports whether the state has been panicked.
func (p *PanicState) Tainted() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.code != nil
}
