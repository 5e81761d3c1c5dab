// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package crypto

import (
	"bytes"
	"context"
	"crypto/cipher"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/f-secure-foundry/armory-aes/internal/aes"
)

type vector struct {
	name  string
	mode  aes.Mode
	key   string
	iv    string
	aad   string
	input string
	// ciphertext, followed by the tag for GCM
	output string
}

// known answer tests from FIPS-197 Appendix C, NIST SP 800-38A F.2.1 and
// McGrew and Viega GCM test case 4
var vectors = []vector{
	{
		name:   "AES-128 ECB",
		mode:   aes.MODE_ECB,
		key:    "000102030405060708090a0b0c0d0e0f",
		input:  "00112233445566778899aabbccddeeff",
		output: "69c4e0d86a7b0430d8cdb78070b4c55a",
	},
	{
		name:   "AES-192 ECB",
		mode:   aes.MODE_ECB,
		key:    "000102030405060708090a0b0c0d0e0f1011121314151617",
		input:  "00112233445566778899aabbccddeeff",
		output: "dda97ca4864cdfe06eaf70a0ec0d7191",
	},
	{
		name:   "AES-256 ECB",
		mode:   aes.MODE_ECB,
		key:    "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f",
		input:  "00112233445566778899aabbccddeeff",
		output: "8ea2b7ca516745bfeafc49904b496089",
	},
	{
		name:   "AES-128 CBC",
		mode:   aes.MODE_CBC,
		key:    "2b7e151628aed2a6abf7158809cf4f3c",
		iv:     "000102030405060708090a0b0c0d0e0f",
		input:  "6bc1bee22e409f96e93d7e117393172aae2d8a571e03ac9c9eb76fac45af8e51",
		output: "7649abac8119b246cee98e9b12e9197d5086cb9b507219ee95db113a917678b2",
	},
	{
		name: "AES-128 GCM",
		mode: aes.MODE_GCM,
		key:  "feffe9928665731c6d6a8f9467308308",
		iv:   "cafebabefacedbaddecaf888",
		aad:  "feedfacedeadbeeffeedfacedeadbeefabaddad2",
		input: "d9313225f88406e5a55909c5aff5269a86a7a9531534f7da2e4c303d8a318a72" +
			"1c3c0c95956809532fcf0e2449a6b525b16aedf5aa0de657ba637b39",
		output: "42831ec2217774244b7221b784d0d49ce3aa212f2c02a4e035c17e2329aca12e" +
			"21d514b25466931c7d8f6a5aac84aa051ba30b396a0aac973d58e091" +
			"5bc94fbc3221a5db94fae95ae7121a47",
	},
}

func (v *vector) run(hw *aes.AES) (err error) {
	key, _ := hex.DecodeString(v.key)
	iv, _ := hex.DecodeString(v.iv)
	aad, _ := hex.DecodeString(v.aad)
	input, _ := hex.DecodeString(v.input)
	output, _ := hex.DecodeString(v.output)

	var enc, dec []byte

	switch v.mode {
	case aes.MODE_ECB, aes.MODE_CBC:
		enc = make([]byte, len(input))
		dec = make([]byte, len(input))

		if v.mode == aes.MODE_ECB {
			if err = ECB(context.Background(), hw, key, enc, input, true); err == nil {
				err = ECB(context.Background(), hw, key, dec, enc, false)
			}
		} else {
			if err = CBC(context.Background(), hw, key, iv, enc, input, true); err == nil {
				err = CBC(context.Background(), hw, key, iv, dec, enc, false)
			}
		}
	case aes.MODE_GCM:
		var gcm cipher.AEAD

		// Seal panics on hardware errors
		defer func() {
			if r := recover(); r != nil {
				if e, ok := r.(error); ok {
					err = e
				} else {
					err = fmt.Errorf("%v", r)
				}
			}
		}()

		if gcm, err = NewGCM(hw, key); err != nil {
			return
		}

		enc = gcm.Seal(nil, iv, input, aad)

		if dec, err = gcm.Open(nil, iv, enc, aad); err != nil {
			return
		}

		// a corrupted tag must never release plaintext
		bad := append([]byte{}, enc...)
		bad[len(bad)-1] ^= 1

		if _, e := gcm.Open(nil, iv, bad, aad); !errors.Is(e, aes.ErrAuthenticationFailed) {
			return fmt.Errorf("tampered message accepted (%v)", e)
		}
	}

	switch {
	case err != nil:
		return
	case !bytes.Equal(enc, output):
		return fmt.Errorf("encryption mismatch, got %x", enc)
	case !bytes.Equal(dec, input):
		return fmt.Errorf("decryption mismatch, got %x", dec)
	}

	return
}

// SelfTest runs known answer tests for each mode on the accelerator.
func SelfTest(hw *aes.AES) (err error) {
	for _, v := range vectors {
		if err = v.run(hw); err != nil {
			return fmt.Errorf("%s self test failed, %w", v.name, err)
		}
	}

	return
}
