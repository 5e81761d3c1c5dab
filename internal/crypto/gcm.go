// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package crypto

import (
	"context"
	"crypto/cipher"
	"errors"

	"github.com/f-secure-foundry/armory-aes/internal/aes"
)

type hwGCM struct {
	hw  *aes.AES
	key []byte
}

// NewGCM returns a cipher.AEAD performing hardware accelerated AES-GCM with
// 12 bytes nonces and 16 bytes tags. The key argument should be a 16, 24 or
// 32 bytes AES key.
//
// Each Seal or Open is a complete GCM session on the accelerator.
func NewGCM(hw *aes.AES, key []byte) (cipher.AEAD, error) {
	if _, err := config(aes.MODE_GCM, key); err != nil {
		return nil, err
	}

	return &hwGCM{
		hw:  hw,
		key: append([]byte{}, key...),
	}, nil
}

func (g *hwGCM) NonceSize() int {
	return aes.NonceSize
}

func (g *hwGCM) Overhead() int {
	return aes.TagSize
}

func (g *hwGCM) session(nonce []byte) (gcm aes.GCMEngine, ready *aes.GCMReady, err error) {
	e, err := aes.Bind(context.Background(), g.hw, aes.Config{Mode: aes.MODE_GCM, Size: aes.KeySize(len(g.key))})

	if err != nil {
		return
	}

	gcm = e.(aes.GCMEngine)
	keyed, err := gcm.LoadKey(g.key)

	if err == nil {
		ready, err = keyed.LoadNonce(nonce)
	}

	if err != nil {
		gcm.Free()
		return nil, nil, err
	}

	return
}

func (g *hwGCM) seal(out []byte, nonce []byte, plaintext []byte, additionalData []byte) (err error) {
	gcm, ready, err := g.session(nonce)

	if err != nil {
		return
	}

	defer gcm.Free()

	a, err := ready.Seal(len(additionalData), len(plaintext))

	if err != nil {
		return
	}

	if err = a.WriteAADBytes(additionalData); err != nil {
		return
	}

	s, err := a.Payload()

	if err != nil {
		return
	}

	var in, res aes.Block

	for off := 0; off < len(plaintext); off += aes.BlockSize {
		n := copy(in[:], plaintext[off:])

		if res, err = s.PushBlock(in); err != nil {
			return
		}

		copy(out[off:off+n], res[:n])
	}

	tag, err := s.Tag()

	if err != nil {
		return
	}

	copy(out[len(plaintext):], tag[:])

	return
}

func (g *hwGCM) open(nonce []byte, ciphertext []byte, tag aes.Tag, additionalData []byte) (plaintext []byte, err error) {
	gcm, ready, err := g.session(nonce)

	if err != nil {
		return
	}

	defer gcm.Free()

	a, err := ready.Open(len(additionalData), len(ciphertext))

	if err != nil {
		return
	}

	if err = a.WriteAADBytes(additionalData); err != nil {
		return
	}

	s, err := a.Payload()

	if err != nil {
		return
	}

	var in aes.Block

	for off := 0; off < len(ciphertext); off += aes.BlockSize {
		copy(in[:], ciphertext[off:])

		if err = s.PushBlock(in); err != nil {
			return
		}
	}

	return s.Verify(tag)
}

func (g *hwGCM) Seal(dst, nonce, plaintext, additionalData []byte) []byte {
	if len(nonce) != aes.NonceSize {
		panic("crypto: incorrect nonce length given to GCM")
	}

	ret, out := sliceForAppend(dst, len(plaintext)+aes.TagSize)

	if err := g.seal(out, nonce, plaintext, additionalData); err != nil {
		panic(err)
	}

	return ret
}

func (g *hwGCM) Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error) {
	if len(nonce) != aes.NonceSize {
		panic("crypto: incorrect nonce length given to GCM")
	}

	if len(ciphertext) < aes.TagSize {
		return nil, errors.New("invalid message")
	}

	var tag aes.Tag

	n := len(ciphertext) - aes.TagSize
	copy(tag[:], ciphertext[n:])

	plaintext, err := g.open(nonce, ciphertext[:n], tag, additionalData)

	if err != nil {
		return nil, err
	}

	ret, out := sliceForAppend(dst, len(plaintext))
	copy(out, plaintext)

	for i := range plaintext {
		plaintext[i] = 0
	}

	return ret, nil
}

// sliceForAppend extends in by n bytes, returning the whole slice and the
// extension.
func sliceForAppend(in []byte, n int) (head, tail []byte) {
	if total := len(in) + n; cap(in) >= total {
		head = in[:total]
	} else {
		head = make([]byte, total)
		copy(head, in)
	}

	tail = head[len(in):]

	return
}
