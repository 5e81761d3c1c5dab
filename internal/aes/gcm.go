// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package aes

import (
	"context"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
)

// GCM represents an engine bound to AES-GCM with key length K.
type GCM[K KeyLength] struct {
	*engine
}

// NewGCM claims the peripheral for AES-GCM, blocking until it is released
// by its current owner or ctx is done.
func NewGCM[K KeyLength](ctx context.Context, hw *AES) (*GCM[K], error) {
	var k K

	e, err := bind(ctx, hw, Config{MODE_GCM, k.size()})

	if err != nil {
		return nil, err
	}

	return &GCM[K]{e}, nil
}

// LoadKey starts a new session by loading the key words.
func (c *GCM[K]) LoadKey(key []byte) (*GCMKeyed, error) {
	session, err := c.loadKey(key)

	if err != nil {
		return nil, err
	}

	return &GCMKeyed{c.engine, session}, nil
}

// GCMKeyed is a GCM session with its key loaded.
type GCMKeyed struct {
	e       *engine
	session uint64
}

// LoadNonce loads the 12 bytes nonce.
func (s *GCMKeyed) LoadNonce(nonce []byte) (*GCMReady, error) {
	if err := s.e.loadIV(s.session, nonce); err != nil {
		return nil, err
	}

	return &GCMReady{s.e, s.session}, nil
}

// GCMReady is a GCM session with key and nonce loaded.
type GCMReady struct {
	e       *engine
	session uint64
}

// Seal starts an authenticated encryption of textLen bytes with aadLen
// bytes of associated data.
func (s *GCMReady) Seal(aadLen int, textLen int) (*SealAAD, error) {
	if err := s.e.start(s.session, ready, SEL_ENCRYPT, aadLen, textLen); err != nil {
		return nil, err
	}

	return &SealAAD{AAD{s.e, s.session}}, nil
}

// Open starts an authenticated decryption of textLen bytes with aadLen
// bytes of associated data.
func (s *GCMReady) Open(aadLen int, textLen int) (*OpenAAD, error) {
	if err := s.e.start(s.session, ready, SEL_DECRYPT, aadLen, textLen); err != nil {
		return nil, err
	}

	s.e.plaintext = make([]byte, 0, textLen)

	return &OpenAAD{AAD{s.e, s.session}}, nil
}

// AAD is the associated data phase of a GCM session.
type AAD struct {
	e       *engine
	session uint64
}

// WriteAAD writes one word of associated data. Bytes of a final word beyond
// the declared length are written as zero.
func (s *AAD) WriteAAD(word uint32) error {
	if err := s.e.check(s.session, assoc); err != nil {
		return err
	}

	n := s.e.aadLen - s.e.aadOff

	switch {
	case n <= 0:
		return fmt.Errorf("%w, associated data exceeds declared %d bytes", ErrInvalidLength, s.e.aadLen)
	case n > 4:
		n = 4
	}

	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], word)

	return s.e.writeAAD(s.session, buf[:n])
}

// WriteAADBytes writes associated data, which can be split across calls on
// word boundaries.
func (s *AAD) WriteAADBytes(aad []byte) error {
	return s.e.writeAAD(s.session, aad)
}

// SealAAD is the associated data phase of a GCM encryption.
type SealAAD struct {
	AAD
}

// Payload ends the associated data phase, all declared associated data
// must have been written.
func (s *SealAAD) Payload() (*Sealer, error) {
	if err := s.e.endAAD(s.session); err != nil {
		return nil, err
	}

	return &Sealer{s.e, s.session}, nil
}

// OpenAAD is the associated data phase of a GCM decryption.
type OpenAAD struct {
	AAD
}

// Payload ends the associated data phase, all declared associated data
// must have been written.
func (s *OpenAAD) Payload() (*Opener, error) {
	if err := s.e.endAAD(s.session); err != nil {
		return nil, err
	}

	return &Opener{s.e, s.session}, nil
}

// Sealer is the payload phase of a GCM encryption.
type Sealer struct {
	e       *engine
	session uint64
}

// PushBlock encrypts a block. On the final block of a payload that is not
// a multiple of BlockSize, input beyond the payload is ignored and output
// beyond it is zero.
func (s *Sealer) PushBlock(in Block) (out Block, err error) {
	out, _, err = s.e.push(s.session, &in)
	return
}

// Tag returns the authentication tag once the whole payload has been
// pushed, completing the session.
func (s *Sealer) Tag() (Tag, error) {
	return s.e.readTag(s.session)
}

// Opener is the payload phase of a GCM decryption. Decrypted blocks are
// held by the engine until the tag is verified.
type Opener struct {
	e       *engine
	session uint64
}

// PushBlock decrypts a block into the provisional plaintext.
func (s *Opener) PushBlock(in Block) (err error) {
	out, n, err := s.e.push(s.session, &in)

	if err != nil {
		return
	}

	s.e.plaintext = append(s.e.plaintext, out[:n]...)

	return
}

// Verify compares, in constant time, the expected tag against the one
// computed by the hardware. The plaintext is returned only on a match, on
// mismatch it is discarded and ErrAuthenticationFailed is returned.
func (s *Opener) Verify(expected Tag) (plaintext []byte, err error) {
	tag, err := s.e.readTag(s.session)

	if err != nil {
		return
	}

	if subtle.ConstantTimeCompare(tag[:], expected[:]) != 1 {
		return nil, s.e.fail(ErrAuthenticationFailed)
	}

	plaintext = s.e.plaintext
	s.e.plaintext = nil

	return
}
