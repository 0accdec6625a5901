// Package codemem provides W^X-disciplined executable memory regions for
// compiled artifacts, per spec.md §4.5 / §9 ("Executable memory allocation
// (W^X discipline)... A correct implementation must enforce W^X; treat this
// as a required refinement").
//
// A Region starts writable and non-executable. The compiler writes machine
// code into it, calls Seal to flip it read+exec, and the tier backend never
// writes to it again; a later retire (driven by codecache's epoch reclaim)
// unmaps it. The two states are mutually exclusive at the mprotect level —
// there is no window where a region is both writable and executable.
package codemem

import (
	"sync"

	"golang.org/x/sys/unix"

	"github.com/dbtcore/rt/rterr"
)

// state is a Region's current protection mode.
type state uint8

const (
	stateWritable state = iota
	stateExecutable
	stateReleased
)

// Region is one mmap'd span of code memory.
type Region struct {
	mu    sync.Mutex
	data  []byte
	state state
}

// Alloc reserves size bytes of anonymous, writable, non-executable memory.
// size is rounded up by the kernel to a page multiple.
func Alloc(size int) (*Region, error) {
	if size <= 0 {
		return nil, rterr.New(rterr.KindOutOfCodeMemory, "codemem", rterr.ErrBlockMalformed)
	}
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, rterr.New(rterr.KindOutOfCodeMemory, "codemem", err)
	}
	return &Region{data: data, state: stateWritable}, nil
}

// Write copies code into the region. It is only valid while the region is
// still writable; calling it after Seal returns an error rather than
// silently violating W^X.
func (r *Region) Write(code []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != stateWritable {
		return rterr.New(rterr.KindStructuralIR, "codemem", rterr.ErrBlockMalformed)
	}
	if len(code) > len(r.data) {
		return rterr.New(rterr.KindOutOfCodeMemory, "codemem", rterr.ErrBlockMalformed)
	}
	copy(r.data, code)
	return nil
}

// Seal transitions the region from writable to executable (read+exec, no
// write) via mprotect. After Seal succeeds the region's bytes can be
// entered as code; Write will refuse further calls.
func (r *Region) Seal() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != stateWritable {
		return rterr.New(rterr.KindStructuralIR, "codemem", rterr.ErrBlockMalformed)
	}
	if err := unix.Mprotect(r.data, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		return rterr.New(rterr.KindOutOfCodeMemory, "codemem", err)
	}
	r.state = stateExecutable
	return nil
}

// Reopen flips a sealed region back to writable. Used only when a tier
// backend needs to patch an already-installed artifact in place (e.g.
// relinking a jump target after a neighboring block moves); callers must
// re-Seal before the region is ever entered as code again.
func (r *Region) Reopen() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != stateExecutable {
		return rterr.New(rterr.KindStructuralIR, "codemem", rterr.ErrBlockMalformed)
	}
	if err := unix.Mprotect(r.data, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return rterr.New(rterr.KindOutOfCodeMemory, "codemem", err)
	}
	r.state = stateWritable
	return nil
}

// Bytes returns the region's backing slice. Callers must not retain it past
// Release.
func (r *Region) Bytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.data
}

// Sealed reports whether the region is currently executable.
func (r *Region) Sealed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == stateExecutable
}

// Release unmaps the region. Called by codecache once an artifact's epoch
// has fully drained (no in-flight execution can still be inside it).
func (r *Region) Release() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == stateReleased {
		return nil
	}
	if err := unix.Munmap(r.data); err != nil {
		return rterr.New(rterr.KindOutOfCodeMemory, "codemem", err)
	}
	r.state = stateReleased
	r.data = nil
	return nil
}
