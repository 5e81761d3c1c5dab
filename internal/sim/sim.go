// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package sim provides a software model of the K210 AES accelerator, for
// testing the driver and running it on a host without the hardware.
package sim

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"sync"

	k210 "github.com/f-secure-foundry/armory-aes/internal/aes"
	"github.com/f-secure-foundry/armory-aes/internal/reg"
)

// Flags selectable for fault injection.
const (
	DataIn = 1 << iota
	DataOut
	TagReady
)

// Device models the AES accelerator register bank together with its clock
// gate and reset line, it implements reg.Registers and aes.Clock.
type Device struct {
	sync.Mutex

	// Number of flag reads returning zero before a pending flag is raised
	Latency int
	// Flags which are never raised
	Stuck int

	// Number of completed reset cycles
	Resets int
	// Number of flag reads
	Polls int

	mem   reg.Memory
	clock bool
	reset bool
	delay int

	running bool
	decrypt bool
	mode    k210.Mode
	block   cipher.Block
	cbc     cipher.BlockMode

	nonce   []byte
	counter [aes.BlockSize]byte
	aadLen  int
	aad     []byte
	textLen int
	text    []byte
	done    int

	in       []uint32
	out      []uint32
	tag      [4]uint32
	tagReady bool
}

// Enable gates on the peripheral clock.
func (d *Device) Enable(_ int) {
	d.Lock()
	defer d.Unlock()

	d.clock = true
}

// AssertReset holds the peripheral in reset, discarding all state.
func (d *Device) AssertReset(_ int) {
	d.Lock()
	defer d.Unlock()

	d.reset = true
	d.mem = reg.Memory{}
	d.running = false
	d.block = nil
	d.cbc = nil
	d.aad = nil
	d.text = nil
	d.in = nil
	d.out = nil
	d.tag = [4]uint32{}
	d.tagReady = false
}

// DeassertReset releases the peripheral from reset.
func (d *Device) DeassertReset(_ int) {
	d.Lock()
	defer d.Unlock()

	if d.reset {
		d.Resets++
	}

	d.reset = false
}

func (d *Device) alive() bool {
	return d.clock && !d.reset
}

func (d *Device) flag(id int, pending bool) uint32 {
	d.Polls++

	if !pending || d.Stuck&id != 0 {
		return 0
	}

	if d.delay > 0 {
		d.delay--
		return 0
	}

	return 1
}

func (d *Device) accepting() bool {
	if !d.running || len(d.out) > 0 {
		return false
	}

	if d.mode == k210.MODE_GCM && len(d.aad) < d.aadLen {
		return true
	}

	return d.done < d.textLen
}

func (d *Device) Read(off uint32) (val uint32) {
	d.Lock()
	defer d.Unlock()

	if !d.alive() {
		return 0
	}

	switch {
	case off == k210.AES_DATA_IN_FLAG:
		return d.flag(DataIn, d.accepting())
	case off == k210.AES_DATA_OUT_FLAG:
		return d.flag(DataOut, len(d.out) > 0)
	case off == k210.AES_TAG_IN_FLAG:
		return d.flag(TagReady, d.tagReady)
	case off == k210.AES_OUT_DATA:
		if len(d.out) == 0 {
			return 0
		}

		val, d.out = d.out[0], d.out[1:]
		d.delay = d.Latency

		return
	case off >= k210.AES_GCM_OUT_TAG && off < k210.AES_GCM_OUT_TAG+16:
		return d.tag[(off-k210.AES_GCM_OUT_TAG)/4]
	default:
		return d.mem.Read(off)
	}
}

func (d *Device) Write(off uint32, val uint32) {
	d.Lock()
	defer d.Unlock()

	if !d.alive() {
		return
	}

	switch off {
	case k210.AES_EN:
		if val&1 == 1 && !d.running {
			d.start()
		}
	case k210.AES_AAD_DATA:
		d.writeAAD(val)
	case k210.AES_TEXT_DATA:
		d.writeText(val)
	case k210.AES_TAG_CLEAR:
		d.tag = [4]uint32{}
		d.tagReady = false
	}

	d.mem.Write(off, val)
}

func (d *Device) key(size int) (key []byte) {
	key = make([]byte, size)

	for i := 0; i < size/4; i++ {
		off := uint32(k210.AES_KEY + i*4)

		if i >= 4 {
			off = uint32(k210.AES_KEY_EXT + (i-4)*4)
		}

		binary.BigEndian.PutUint32(key[i*4:], d.mem.Read(off))
	}

	return
}

func (d *Device) iv(size int) (iv []byte) {
	iv = make([]byte, size)

	for i := 0; i < size/4; i++ {
		binary.BigEndian.PutUint32(iv[i*4:], d.mem.Read(uint32(k210.AES_IV+i*4)))
	}

	return
}

func (d *Device) start() {
	ctl := d.mem.Read(k210.AES_MODE_CTL)
	size := 16 + 8*int(reg.Get(&d.mem, k210.AES_MODE_CTL, k210.MODE_CTL_KMODE, 0b11))

	block, err := aes.NewCipher(d.key(size))

	if err != nil {
		return
	}

	d.running = true
	d.block = block
	d.mode = k210.Mode(ctl & 0b111)
	d.decrypt = d.mem.Read(k210.AES_ENCRYPT_SEL) == k210.SEL_DECRYPT
	d.aadLen = int(d.mem.Read(k210.AES_AAD_NUM))
	d.textLen = int(d.mem.Read(k210.AES_PC_NUM))
	d.aad = nil
	d.text = nil
	d.done = 0
	d.delay = d.Latency

	switch d.mode {
	case k210.MODE_CBC:
		if d.decrypt {
			d.cbc = cipher.NewCBCDecrypter(block, d.iv(aes.BlockSize))
		} else {
			d.cbc = cipher.NewCBCEncrypter(block, d.iv(aes.BlockSize))
		}
	case k210.MODE_GCM:
		d.nonce = d.iv(k210.NonceSize)
		copy(d.counter[:], d.nonce)
		binary.BigEndian.PutUint32(d.counter[12:], 1)

		if d.aadLen == 0 && d.textLen == 0 {
			d.finish()
		}
	}
}

func (d *Device) writeAAD(val uint32) {
	if !d.running || d.mode != k210.MODE_GCM || len(d.aad) >= d.aadLen {
		return
	}

	var word [4]byte
	binary.BigEndian.PutUint32(word[:], val)

	n := d.aadLen - len(d.aad)

	if n > 4 {
		n = 4
	}

	d.aad = append(d.aad, word[:n]...)
	d.delay = d.Latency

	if len(d.aad) == d.aadLen && d.textLen == 0 {
		d.finish()
	}
}

func (d *Device) writeText(val uint32) {
	if !d.running || d.done >= d.textLen || len(d.out) > 0 {
		return
	}

	if d.mode == k210.MODE_GCM && len(d.aad) < d.aadLen {
		return
	}

	d.in = append(d.in, val)
	d.delay = d.Latency

	n := d.textLen - d.done

	if n > aes.BlockSize {
		n = aes.BlockSize
	}

	if len(d.in) < (n+3)/4 {
		return
	}

	var in, out [aes.BlockSize]byte

	for i, w := range d.in {
		binary.BigEndian.PutUint32(in[i*4:], w)
	}

	d.in = nil

	switch d.mode {
	case k210.MODE_ECB:
		if d.decrypt {
			d.block.Decrypt(out[:], in[:])
		} else {
			d.block.Encrypt(out[:], in[:])
		}
	case k210.MODE_CBC:
		d.cbc.CryptBlocks(out[:], in[:])
	case k210.MODE_GCM:
		var ks [aes.BlockSize]byte

		ctr := binary.BigEndian.Uint32(d.counter[12:])
		binary.BigEndian.PutUint32(d.counter[12:], ctr+1)
		d.block.Encrypt(ks[:], d.counter[:])

		for i := 0; i < n; i++ {
			out[i] = in[i] ^ ks[i]
		}

		if d.decrypt {
			d.text = append(d.text, out[:n]...)
		} else {
			d.text = append(d.text, in[:n]...)
		}
	}

	for i := 0; i < (n+3)/4; i++ {
		d.out = append(d.out, binary.BigEndian.Uint32(out[i*4:]))
	}

	d.done += n

	if d.mode == k210.MODE_GCM && d.done == d.textLen {
		d.finish()
	}
}

// finish computes the GCM tag over the associated data and plaintext.
func (d *Device) finish() {
	gcm, err := cipher.NewGCM(d.block)

	if err != nil {
		return
	}

	sealed := gcm.Seal(nil, d.nonce, d.text, d.aad)
	tag := sealed[len(d.text):]

	for i := range d.tag {
		d.tag[i] = binary.BigEndian.Uint32(tag[i*4:])
	}

	d.tagReady = true
}
