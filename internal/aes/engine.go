// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package aes

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/f-secure-foundry/armory-aes/internal/reg"
)

type phase int

const (
	// peripheral reset, no key loaded
	idle phase = iota
	// key loaded
	keyed
	// IV or nonce loaded
	ready
	// GCM associated data streaming
	assoc
	// payload streaming
	payload
	// GCM payload done, tag pending
	tagged
	// session done, reset pending
	complete
	// session failed, reset required
	failed
)

var phaseNames = map[phase]string{
	idle:     "idle",
	keyed:    "key loaded",
	ready:    "IV loaded",
	assoc:    "associated data",
	payload:  "payload",
	tagged:   "tag pending",
	complete: "complete",
	failed:   "failed",
}

func (p phase) String() string {
	return phaseNames[p]
}

// engine holds the session state machine shared by all bound engines.
type engine struct {
	hw   *AES
	conf Config

	phase   phase
	session uint64
	epoch   uint64

	aadLen  int
	aadOff  int
	textLen int
	textOff int

	// provisional GCM plaintext, released only on tag match
	plaintext []byte
}

func bind(ctx context.Context, hw *AES, c Config) (e *engine, err error) {
	if err = c.Validate(); err != nil {
		return
	}

	if err = hw.acquire(ctx); err != nil {
		return
	}

	// the previous owner might have left a session behind
	e = &engine{
		hw:    hw,
		conf:  c,
		phase: complete,
		epoch: hw.resets(),
	}

	return
}

// Config returns the mode and key length the engine is bound to.
func (e *engine) Config() Config {
	return e.conf
}

// Abandon discards any session in progress, including provisional
// plaintext, and fully resets the peripheral. It is safe to call repeatedly,
// the engine is left ready for a new session.
func (e *engine) Abandon() {
	if e.hw == nil {
		return
	}

	e.discard()
	e.hw.Init()

	e.epoch = e.hw.resets()
	e.phase = idle
}

// Free releases the peripheral and returns it, the engine and all of its
// session handles are unusable afterwards.
func (e *engine) Free() (hw *AES) {
	if e.hw == nil {
		return
	}

	e.discard()

	hw = e.hw
	e.hw = nil
	hw.release()

	return
}

func (e *engine) zero() {
	for i := range e.plaintext {
		e.plaintext[i] = 0
	}

	e.plaintext = nil
}

func (e *engine) discard() {
	e.zero()
	e.session++
}

func (e *engine) fail(err error) error {
	e.zero()
	e.phase = failed

	return err
}

func (e *engine) check(session uint64, want phase) error {
	switch {
	case e.hw == nil:
		return fmt.Errorf("%w, peripheral released", ErrInvalidSessionOrder)
	case session != e.session || e.epoch != e.hw.resets():
		return fmt.Errorf("%w, stale session", ErrInvalidSessionOrder)
	case e.phase != want:
		return fmt.Errorf("%w, expected %s phase, session is in %s phase", ErrInvalidSessionOrder, want, e.phase)
	}

	return nil
}

func (e *engine) loadKey(key []byte) (session uint64, err error) {
	if e.hw == nil {
		return 0, fmt.Errorf("%w, peripheral released", ErrInvalidSessionOrder)
	}

	if len(key) != int(e.conf.Size) {
		return 0, fmt.Errorf("%w, %s requires %d bytes (got %d)", ErrInvalidKeyLength, e.conf, e.conf.Size, len(key))
	}

	p := e.phase

	if e.epoch != e.hw.resets() {
		p = idle
	}

	switch p {
	case idle, keyed, ready:
	case complete:
		e.hw.Init()
	case failed:
		return 0, fmt.Errorf("%w, reset required after failed session", ErrInvalidSessionOrder)
	default:
		return 0, fmt.Errorf("%w, session in progress", ErrInvalidSessionOrder)
	}

	e.discard()
	e.epoch = e.hw.resets()

	for i := 0; i < len(key)/4; i++ {
		off := uint32(AES_KEY + i*4)

		if i >= 4 {
			off = uint32(AES_KEY_EXT + (i-4)*4)
		}

		e.hw.Regs.Write(off, binary.BigEndian.Uint32(key[i*4:]))
	}

	e.phase = keyed

	return e.session, nil
}

func (e *engine) loadIV(session uint64, iv []byte) (err error) {
	if err = e.check(session, keyed); err != nil {
		return
	}

	if n := e.conf.ivSize(); len(iv) != n {
		return fmt.Errorf("%w, %s requires %d bytes (got %d)", ErrInvalidIVLength, e.conf, n, len(iv))
	}

	for i := 0; i < len(iv)/4; i++ {
		e.hw.Regs.Write(uint32(AES_IV+i*4), binary.BigEndian.Uint32(iv[i*4:]))
	}

	e.phase = ready

	return
}

func (e *engine) start(session uint64, from phase, sel uint32, aadLen int, textLen int) (err error) {
	if err = e.check(session, from); err != nil {
		return
	}

	if aadLen < 0 || textLen < 0 {
		return fmt.Errorf("%w, negative session length", ErrInvalidLength)
	}

	// AES_AAD_NUM and AES_PC_NUM are 32-bit byte counts
	if uint64(aadLen) > math.MaxUint32 || uint64(textLen) > math.MaxUint32 {
		return fmt.Errorf("%w, session length exceeds 32 bits", ErrInvalidLength)
	}

	r := e.hw.Regs

	r.Write(AES_ENCRYPT_SEL, sel)
	reg.SetN(r, AES_MODE_CTL, MODE_CTL_CIPHER, 0b111, uint32(e.conf.Mode))
	reg.SetN(r, AES_MODE_CTL, MODE_CTL_KMODE, 0b11, e.conf.Size.kmode())
	r.Write(AES_ENDIAN, 0)
	r.Write(AES_DMA_SEL, 0)
	r.Write(AES_AAD_NUM, uint32(aadLen))
	r.Write(AES_PC_NUM, uint32(textLen))
	reg.Set(r, AES_EN, EN_ENABLE)

	e.aadLen = aadLen
	e.aadOff = 0
	e.textLen = textLen
	e.textOff = 0

	if e.conf.Mode == MODE_GCM {
		e.phase = assoc
	} else {
		e.phase = payload
	}

	return
}

// writeAAD streams associated data, zero padding a final partial word.
func (e *engine) writeAAD(session uint64, buf []byte) (err error) {
	if err = e.check(session, assoc); err != nil {
		return
	}

	switch {
	case e.aadOff+len(buf) > e.aadLen:
		return fmt.Errorf("%w, associated data exceeds declared %d bytes", ErrInvalidLength, e.aadLen)
	case len(buf)%4 != 0 && e.aadOff+len(buf) != e.aadLen:
		return fmt.Errorf("%w, partial associated data word before end", ErrInvalidLength)
	}

	for off := 0; off < len(buf); off += 4 {
		var word [4]byte
		copy(word[:], buf[off:])

		if err = e.hw.wait(AES_DATA_IN_FLAG, DATA_IN_READY, "data-in"); err != nil {
			return e.fail(err)
		}

		e.hw.Regs.Write(AES_AAD_DATA, binary.BigEndian.Uint32(word[:]))
	}

	e.aadOff += len(buf)

	return
}

func (e *engine) endAAD(session uint64) (err error) {
	if err = e.check(session, assoc); err != nil {
		return
	}

	if e.aadOff != e.aadLen {
		return fmt.Errorf("%w, %d of %d associated data bytes written", ErrInvalidSessionOrder, e.aadOff, e.aadLen)
	}

	if e.textLen == 0 {
		e.phase = tagged
	} else {
		e.phase = payload
	}

	return
}

// push submits one block, word by word, and reads back its output. The
// returned count is the number of payload bytes the block carried, less
// than BlockSize only for a final partial GCM block.
func (e *engine) push(session uint64, in *Block) (out Block, n int, err error) {
	if err = e.check(session, payload); err != nil {
		return
	}

	n = e.textLen - e.textOff

	if n > BlockSize {
		n = BlockSize
	}

	var buf Block
	copy(buf[:n], in[:n])

	r := e.hw.Regs
	words := (n + 3) / 4

	for i := 0; i < words; i++ {
		if err = e.hw.wait(AES_DATA_IN_FLAG, DATA_IN_READY, "data-in"); err != nil {
			return out, 0, e.fail(err)
		}

		r.Write(AES_TEXT_DATA, binary.BigEndian.Uint32(buf[i*4:]))
	}

	for i := 0; i < words; i++ {
		if err = e.hw.wait(AES_DATA_OUT_FLAG, DATA_OUT_READY, "data-out"); err != nil {
			return out, 0, e.fail(err)
		}

		binary.BigEndian.PutUint32(out[i*4:], r.Read(AES_OUT_DATA))
	}

	for i := n; i < BlockSize; i++ {
		out[i] = 0
	}

	e.textOff += n

	if e.textOff == e.textLen {
		if e.conf.Mode == MODE_GCM {
			e.phase = tagged
		} else {
			e.phase = complete
		}
	}

	return
}

// readTag reads and clears the computed tag, the session completes.
func (e *engine) readTag(session uint64) (tag Tag, err error) {
	if err = e.check(session, tagged); err != nil {
		return
	}

	if err = e.hw.wait(AES_TAG_IN_FLAG, TAG_READY, "tag"); err != nil {
		return tag, e.fail(err)
	}

	for i := 0; i < TagSize/4; i++ {
		binary.BigEndian.PutUint32(tag[i*4:], e.hw.Regs.Read(uint32(AES_GCM_OUT_TAG+i*4)))
	}

	e.hw.ClearTag()
	e.phase = complete

	return
}
