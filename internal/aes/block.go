// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package aes

import (
	"context"
	"fmt"
)

// ECB represents an engine bound to AES-ECB with key length K.
type ECB[K KeyLength] struct {
	*engine
}

// NewECB claims the peripheral for AES-ECB, blocking until it is released
// by its current owner or ctx is done.
func NewECB[K KeyLength](ctx context.Context, hw *AES) (*ECB[K], error) {
	var k K

	e, err := bind(ctx, hw, Config{MODE_ECB, k.size()})

	if err != nil {
		return nil, err
	}

	return &ECB[K]{e}, nil
}

// LoadKey starts a new session by loading the key words.
func (c *ECB[K]) LoadKey(key []byte) (*ECBKeyed, error) {
	session, err := c.loadKey(key)

	if err != nil {
		return nil, err
	}

	return &ECBKeyed{c.engine, session}, nil
}

// ECBKeyed is an ECB session with its key loaded.
type ECBKeyed struct {
	e       *engine
	session uint64
}

// Encrypt starts the encryption of n blocks.
func (s *ECBKeyed) Encrypt(n int) (*Stream, error) {
	return s.e.stream(s.session, keyed, SEL_ENCRYPT, n)
}

// Decrypt starts the decryption of n blocks.
func (s *ECBKeyed) Decrypt(n int) (*Stream, error) {
	return s.e.stream(s.session, keyed, SEL_DECRYPT, n)
}

// CBC represents an engine bound to AES-CBC with key length K.
type CBC[K KeyLength] struct {
	*engine
}

// NewCBC claims the peripheral for AES-CBC, blocking until it is released
// by its current owner or ctx is done.
func NewCBC[K KeyLength](ctx context.Context, hw *AES) (*CBC[K], error) {
	var k K

	e, err := bind(ctx, hw, Config{MODE_CBC, k.size()})

	if err != nil {
		return nil, err
	}

	return &CBC[K]{e}, nil
}

// LoadKey starts a new session by loading the key words.
func (c *CBC[K]) LoadKey(key []byte) (*CBCKeyed, error) {
	session, err := c.loadKey(key)

	if err != nil {
		return nil, err
	}

	return &CBCKeyed{c.engine, session}, nil
}

// CBCKeyed is a CBC session with its key loaded.
type CBCKeyed struct {
	e       *engine
	session uint64
}

// LoadIV loads the 16 bytes initialization vector.
func (s *CBCKeyed) LoadIV(iv []byte) (*CBCReady, error) {
	if err := s.e.loadIV(s.session, iv); err != nil {
		return nil, err
	}

	return &CBCReady{s.e, s.session}, nil
}

// CBCReady is a CBC session with key and IV loaded.
type CBCReady struct {
	e       *engine
	session uint64
}

// Encrypt starts the encryption of n blocks.
func (s *CBCReady) Encrypt(n int) (*Stream, error) {
	return s.e.stream(s.session, ready, SEL_ENCRYPT, n)
}

// Decrypt starts the decryption of n blocks.
func (s *CBCReady) Decrypt(n int) (*Stream, error) {
	return s.e.stream(s.session, ready, SEL_DECRYPT, n)
}

func (e *engine) stream(session uint64, from phase, sel uint32, n int) (*Stream, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w, at least one block required", ErrInvalidLength)
	}

	if err := e.start(session, from, sel, 0, n*BlockSize); err != nil {
		return nil, err
	}

	return &Stream{e, session}, nil
}

// Stream is an ECB or CBC session accepting its declared number of blocks.
type Stream struct {
	e       *engine
	session uint64
}

// PushBlock submits a block and returns its output. Blocks are processed
// strictly in submission order.
func (s *Stream) PushBlock(in Block) (out Block, err error) {
	out, _, err = s.e.push(s.session, &in)
	return
}

// CryptBlocks streams len(src)/BlockSize blocks from src to dst, the two
// buffers may overlap entirely.
func (s *Stream) CryptBlocks(dst []byte, src []byte) (err error) {
	if len(src)%BlockSize != 0 || len(dst) < len(src) {
		return fmt.Errorf("%w, input not full blocks", ErrInvalidLength)
	}

	var in, out Block

	for off := 0; off < len(src); off += BlockSize {
		copy(in[:], src[off:])

		if out, err = s.PushBlock(in); err != nil {
			return
		}

		copy(dst[off:], out[:])
	}

	return
}

// Close ends the session, a session closed before all of its blocks have
// been pushed fails and requires a reset.
func (s *Stream) Close() (err error) {
	if err = s.e.check(s.session, complete); err == nil {
		return
	}

	if s.e.check(s.session, payload) == nil {
		return s.e.fail(fmt.Errorf("%w, %d of %d bytes processed", ErrInvalidSessionOrder, s.e.textOff, s.e.textLen))
	}

	return
}
