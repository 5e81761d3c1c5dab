// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package crypto adapts the AES accelerator to the standard library cipher
// interfaces and implements full disk encryption sector ciphers on top of it.
package crypto

import (
	"context"
	"crypto/cipher"
	"fmt"

	"github.com/f-secure-foundry/armory-aes/internal/aes"
)

// config returns the engine configuration for a mode and raw key
func config(mode aes.Mode, key []byte) (c aes.Config, err error) {
	c = aes.Config{Mode: mode, Size: aes.KeySize(len(key))}

	if err = c.Validate(); err != nil {
		err = fmt.Errorf("%w (%d bytes)", aes.ErrInvalidKeyLength, len(key))
	}

	return
}

type hwCipher struct {
	hw  *aes.AES
	key []byte
}

// NewCipher creates and returns a new cipher.Block. The key argument should
// be a 16, 24 or 32 bytes AES key for hardware accelerated AES-128, AES-192
// or AES-256.
//
// Each block operation is a complete ECB session on the accelerator.
func NewCipher(hw *aes.AES, key []byte) (c cipher.Block, err error) {
	if _, err = config(aes.MODE_ECB, key); err != nil {
		return
	}

	c = &hwCipher{
		hw:  hw,
		key: append([]byte{}, key...),
	}

	return
}

// BlockSize returns the AES block size in bytes.
func (c *hwCipher) BlockSize() int {
	return aes.BlockSize
}

// Encrypt encrypts the first block in src into dst.
func (c *hwCipher) Encrypt(dst []byte, src []byte) {
	if err := ECB(context.Background(), c.hw, c.key, dst[:aes.BlockSize], src[:aes.BlockSize], true); err != nil {
		panic(err)
	}
}

// Decrypt decrypts the first block in src into dst.
func (c *hwCipher) Decrypt(dst []byte, src []byte) {
	if err := ECB(context.Background(), c.hw, c.key, dst[:aes.BlockSize], src[:aes.BlockSize], false); err != nil {
		panic(err)
	}
}

// ECB performs AES-ECB encryption or decryption of src into dst in a single
// accelerator session, the buffers may overlap entirely.
func ECB(ctx context.Context, hw *aes.AES, key []byte, dst []byte, src []byte, enc bool) (err error) {
	conf, err := config(aes.MODE_ECB, key)

	if err != nil {
		return
	}

	e, err := aes.Bind(ctx, hw, conf)

	if err != nil {
		return
	}

	defer e.Free()

	keyed, err := e.(aes.ECBEngine).LoadKey(key)

	if err != nil {
		return
	}

	start := keyed.Encrypt

	if !enc {
		start = keyed.Decrypt
	}

	return stream(start, dst, src)
}

// CBC performs AES-CBC encryption or decryption of src into dst in a single
// accelerator session, the buffers may overlap entirely.
func CBC(ctx context.Context, hw *aes.AES, key []byte, iv []byte, dst []byte, src []byte, enc bool) (err error) {
	conf, err := config(aes.MODE_CBC, key)

	if err != nil {
		return
	}

	e, err := aes.Bind(ctx, hw, conf)

	if err != nil {
		return
	}

	defer e.Free()

	keyed, err := e.(aes.CBCEngine).LoadKey(key)

	if err != nil {
		return
	}

	ready, err := keyed.LoadIV(iv)

	if err != nil {
		return
	}

	start := ready.Encrypt

	if !enc {
		start = ready.Decrypt
	}

	return stream(start, dst, src)
}

func stream(start func(n int) (*aes.Stream, error), dst []byte, src []byte) (err error) {
	if len(src) == 0 || len(src)%aes.BlockSize != 0 || len(dst) < len(src) {
		return fmt.Errorf("%w, input not full blocks", aes.ErrInvalidLength)
	}

	s, err := start(len(src) / aes.BlockSize)

	if err != nil {
		return
	}

	if err = s.CryptBlocks(dst, src); err != nil {
		return
	}

	return s.Close()
}
