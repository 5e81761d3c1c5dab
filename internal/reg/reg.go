// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package reg provides access to 32-bit peripheral registers and the
// bounded polling primitive used by the peripheral drivers.
package reg

import (
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/f-secure-foundry/tamago/bits"
)

// Registers represents a bank of 32-bit registers addressed by offset.
type Registers interface {
	Read(off uint32) uint32
	Write(off uint32, val uint32)
}

// MMIO is a memory mapped register bank at the given physical base address.
type MMIO uint32

func (base MMIO) addr(off uint32) *uint32 {
	return (*uint32)(unsafe.Pointer(uintptr(uint32(base) + off)))
}

func (base MMIO) Read(off uint32) uint32 {
	return atomic.LoadUint32(base.addr(off))
}

func (base MMIO) Write(off uint32, val uint32) {
	atomic.StoreUint32(base.addr(off), val)
}

// Memory is a register bank backed by ordinary memory, registers never
// written read as zero.
type Memory struct {
	sync.Mutex
	regs map[uint32]uint32
}

func (m *Memory) Read(off uint32) uint32 {
	m.Lock()
	defer m.Unlock()

	return m.regs[off]
}

func (m *Memory) Write(off uint32, val uint32) {
	m.Lock()
	defer m.Unlock()

	if m.regs == nil {
		m.regs = make(map[uint32]uint32)
	}

	m.regs[off] = val
}

// Get returns the bits of register off at position pos masked with mask.
func Get(r Registers, off uint32, pos int, mask int) uint32 {
	val := r.Read(off)
	return bits.Get(&val, pos, mask)
}

// IsSet reports whether bit pos of register off is set.
func IsSet(r Registers, off uint32, pos int) bool {
	return Get(r, off, pos, 1) == 1
}

// Set performs a read/modify/write setting bit pos of register off.
func Set(r Registers, off uint32, pos int) {
	val := r.Read(off)
	bits.Set(&val, pos)
	r.Write(off, val)
}

// Clear performs a read/modify/write clearing bit pos of register off.
func Clear(r Registers, off uint32, pos int) {
	val := r.Read(off)
	bits.Clear(&val, pos)
	r.Write(off, val)
}

// SetN performs a read/modify/write of the field at position pos, masked
// with mask, of register off.
func SetN(r Registers, off uint32, pos int, mask int, val uint32) {
	v := r.Read(off)
	bits.SetN(&v, pos, mask, val)
	r.Write(off, v)
}

// Wait polls register off until the field at position pos, masked with
// mask, equals val. At most max reads are performed (max <= 0 allows a
// single read), the return value reports whether the condition was met.
// When yield is set the calling goroutine yields between reads.
func Wait(r Registers, off uint32, pos int, mask int, val uint32, max int, yield bool) bool {
	for i := 0; ; i++ {
		if Get(r, off, pos, mask) == val {
			return true
		}

		if i+1 >= max {
			return false
		}

		if yield {
			runtime.Gosched()
		}
	}
}
