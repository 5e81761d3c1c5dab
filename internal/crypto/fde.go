// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package crypto

import (
	"context"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"log"
	"sync"

	"golang.org/x/crypto/xts"

	"github.com/f-secure-foundry/armory-aes/internal/aes"
)

// Sector ciphers
type Cipher int

const (
	NONE Cipher = iota
	// equivalent to aes-cbc-plain64
	AES128_CBC_PLAIN
	// equivalent to aes-cbc-essiv:sha256
	AES128_CBC_ESSIV
	// equivalent to aes-xts-plain64
	AES128_XTS_PLAIN
	// equivalent to aes-xts-plain64
	AES256_XTS_PLAIN
)

var cipherNames = map[string]Cipher{
	"none":               NONE,
	"aes128-cbc-plain64": AES128_CBC_PLAIN,
	"aes128-cbc-essiv":   AES128_CBC_ESSIV,
	"aes128-xts-plain64": AES128_XTS_PLAIN,
	"aes256-xts-plain64": AES256_XTS_PLAIN,
}

// ParseCipher returns the sector cipher matching a dm-crypt style name.
func ParseCipher(name string) (Cipher, error) {
	if kind, ok := cipherNames[name]; ok {
		return kind, nil
	}

	return NONE, errors.New("unsupported cipher")
}

// FDE performs full disk encryption of contiguous sectors on the AES
// accelerator.
type FDE struct {
	// Accelerator instance
	AES *aes.AES

	// Sector cipher, nil when no cipher is set
	Cipher func(buf []byte, lba int, blocks int, blockSize int, enc bool, wg *sync.WaitGroup)

	essiv bool
	key   []byte
	salt  []byte
	cbxts *xts.Cipher
}

// SetCipher selects the sector cipher. The key must be 16 bytes for the
// CBC ciphers, 32 bytes for AES128_XTS_PLAIN and 64 bytes for
// AES256_XTS_PLAIN.
func (f *FDE) SetCipher(kind Cipher, key []byte) (err error) {
	f.essiv = false
	f.key = nil
	f.salt = nil
	f.cbxts = nil
	f.Cipher = nil

	switch kind {
	case AES128_CBC_PLAIN, AES128_CBC_ESSIV:
		if len(key) != 16 {
			return aes.ErrInvalidKeyLength
		}

		if kind == AES128_CBC_ESSIV {
			// ESSIV salt key is the hash of the block cipher key, IVs
			// are encrypted with AES-256
			salt := sha256.Sum256(key)

			f.essiv = true
			f.salt = salt[:]
		}

		f.key = append([]byte{}, key...)
		f.Cipher = f.cipherCBC
	case AES128_XTS_PLAIN, AES256_XTS_PLAIN:
		size := 16 * 2

		if kind == AES256_XTS_PLAIN {
			size = 32 * 2
		}

		if len(key) != size {
			return aes.ErrInvalidKeyLength
		}

		newCipher := func(key []byte) (cipher.Block, error) {
			return NewCipher(f.AES, key)
		}

		if f.cbxts, err = xts.NewCipher(newCipher, key); err != nil {
			return
		}

		f.Cipher = f.cipherXTS
	case NONE:
	default:
		err = errors.New("unsupported cipher")
	}

	return
}

// sector IV, the sector number in little-endian padded with zeros
func (f *FDE) iv(lba int) (iv []byte, err error) {
	iv = make([]byte, aes.BlockSize)
	binary.LittleEndian.PutUint64(iv, uint64(lba))

	if f.essiv {
		err = ECB(context.Background(), f.AES, f.salt, iv, iv, true)
	}

	return
}

// equivalent to aes-cbc-plain64/aes-cbc-essiv:sha256 (hw)
func (f *FDE) cipherCBC(buf []byte, lba int, blocks int, blockSize int, enc bool, wg *sync.WaitGroup) {
	for i := 0; i < blocks; i++ {
		start := i * blockSize
		end := start + blockSize
		slice := buf[start:end]

		iv, err := f.iv(lba + i)

		if err != nil {
			log.Fatal(err)
		}

		if err = CBC(context.Background(), f.AES, f.key, iv, slice, slice, enc); err != nil {
			log.Fatal(err)
		}
	}

	if wg != nil {
		wg.Done()
	}
}

// equivalent to aes-xts-plain64 (hw)
func (f *FDE) cipherXTS(buf []byte, lba int, blocks int, blockSize int, enc bool, wg *sync.WaitGroup) {
	for i := 0; i < blocks; i++ {
		start := i * blockSize
		end := start + blockSize
		slice := buf[start:end]

		if enc {
			f.cbxts.Encrypt(slice, slice, uint64(lba+i))
		} else {
			f.cbxts.Decrypt(slice, slice, uint64(lba+i))
		}
	}

	if wg != nil {
		wg.Done()
	}
}
