// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package aes implements a driver for the Kendryte K210 AES accelerator,
// supporting ECB, CBC and GCM modes with 128, 192 and 256 bit keys over
// polled single word register I/O.
//
// The peripheral is driven through staged session handles, each stage
// returning the handle of the next one:
//
//	LoadKey -> [LoadIV|LoadNonce] -> [AAD] -> PushBlock ... -> [Tag|Verify]
//
// so that the mode and key length of a bound engine determine which
// operations exist at all, while out of order use of stale handles is
// rejected at runtime with ErrInvalidSessionOrder.
package aes

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/f-secure-foundry/armory-aes/internal/reg"
)

// AES registers
const (
	AES_BASE = 0x50450000

	AES_KEY         = 0x00
	AES_ENCRYPT_SEL = 0x10

	AES_MODE_CTL    = 0x14
	MODE_CTL_KMODE  = 3
	MODE_CTL_CIPHER = 0

	AES_IV        = 0x18
	AES_ENDIAN    = 0x28
	AES_FINISH    = 0x2c
	AES_DMA_SEL   = 0x30
	AES_AAD_NUM   = 0x34
	AES_PC_NUM    = 0x3c
	AES_TEXT_DATA = 0x40
	AES_AAD_DATA  = 0x44
	AES_TAG_CHK   = 0x48

	AES_DATA_IN_FLAG = 0x4c
	DATA_IN_READY    = 0

	AES_GCM_IN_TAG = 0x50
	AES_OUT_DATA   = 0x60

	AES_EN    = 0x64
	EN_ENABLE = 0

	AES_DATA_OUT_FLAG = 0x68
	DATA_OUT_READY    = 0

	AES_TAG_IN_FLAG = 0x6c
	TAG_READY       = 0

	AES_TAG_CLEAR   = 0x70
	AES_GCM_OUT_TAG = 0x74
	AES_KEY_EXT     = 0x84
)

// AES_ENCRYPT_SEL values
const (
	SEL_ENCRYPT = 0
	SEL_DECRYPT = 1
)

const (
	BlockSize = 16
	TagSize   = 16
	NonceSize = 12

	// DefaultTimeout is the poll bound used when AES.Timeout is not set.
	DefaultTimeout = 1 << 20
)

var (
	ErrInvalidKeyLength     = errors.New("invalid key length")
	ErrInvalidIVLength      = errors.New("invalid IV length")
	ErrInvalidLength        = errors.New("invalid length")
	ErrInvalidConfig        = errors.New("unsupported mode and key length")
	ErrHardwareTimeout      = errors.New("hardware timeout")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrInvalidSessionOrder  = errors.New("invalid session order")
	ErrBusy                 = errors.New("peripheral busy")
)

// Block represents the hardware transfer unit.
type Block [BlockSize]byte

// Tag represents a GCM authentication tag.
type Tag [TagSize]byte

// Clock represents the clock and reset controller of the peripheral.
type Clock interface {
	Enable(id int)
	AssertReset(id int)
	DeassertReset(id int)
}

// AES represents the cipher accelerator instance.
type AES struct {
	// Register bank
	Regs reg.Registers
	// Clock and reset controller
	Clock Clock
	// Peripheral index within the clock and reset controller
	Index int
	// Maximum number of flag reads for each poll
	Timeout int
	// Yield the processor between flag reads
	Yield bool

	once  sync.Once
	claim *semaphore.Weighted
	epoch uint64
}

// Init enables the peripheral clock, then asserts and deasserts its reset
// line. Any session in progress is aborted, its handles become stale.
//
// Init must be called before first use, it can be called again at any time
// to force a full reset.
func (hw *AES) Init() {
	hw.Clock.Enable(hw.Index)
	hw.Clock.AssertReset(hw.Index)
	hw.Clock.DeassertReset(hw.Index)

	atomic.AddUint64(&hw.epoch, 1)
}

func (hw *AES) resets() uint64 {
	return atomic.LoadUint64(&hw.epoch)
}

func (hw *AES) acquire(ctx context.Context) (err error) {
	hw.once.Do(func() {
		hw.claim = semaphore.NewWeighted(1)
	})

	if err = hw.claim.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%w, %v", ErrBusy, err)
	}

	return
}

func (hw *AES) release() {
	hw.claim.Release(1)
}

// DataInFlag returns the data input flag register.
func (hw *AES) DataInFlag() uint32 {
	return hw.Regs.Read(AES_DATA_IN_FLAG)
}

// DataOutFlag returns the data output flag register.
func (hw *AES) DataOutFlag() uint32 {
	return hw.Regs.Read(AES_DATA_OUT_FLAG)
}

// TagInFlag returns the tag ready flag register.
func (hw *AES) TagInFlag() uint32 {
	return hw.Regs.Read(AES_TAG_IN_FLAG)
}

// TagCheck returns the hardware tag check register.
func (hw *AES) TagCheck() uint32 {
	return hw.Regs.Read(AES_TAG_CHK)
}

// ClearTag triggers the tag clear register.
func (hw *AES) ClearTag() {
	hw.Regs.Write(AES_TAG_CLEAR, 0)
}

func (hw *AES) wait(off uint32, pos int, flag string) error {
	timeout := hw.Timeout

	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	if !reg.Wait(hw.Regs, off, pos, 1, 1, timeout, hw.Yield) {
		return fmt.Errorf("%w, %s flag not set after %d reads", ErrHardwareTimeout, flag, timeout)
	}

	return nil
}
