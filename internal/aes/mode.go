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

// Mode represents the AES_MODE_CTL cipher mode field.
type Mode uint32

const (
	MODE_ECB Mode = iota
	MODE_CBC
	MODE_GCM
)

func (m Mode) String() string {
	switch m {
	case MODE_ECB:
		return "ECB"
	case MODE_CBC:
		return "CBC"
	case MODE_GCM:
		return "GCM"
	default:
		return fmt.Sprintf("Mode(%d)", uint32(m))
	}
}

// KeySize represents an AES key length in bytes.
type KeySize int

const (
	KEY_128 KeySize = 16
	KEY_192 KeySize = 24
	KEY_256 KeySize = 32
)

// kmode returns the AES_MODE_CTL key mode field value.
func (k KeySize) kmode() uint32 {
	return uint32(k-KEY_128) / 8
}

// Config represents a mode and key length pair.
type Config struct {
	Mode Mode
	Size KeySize
}

// Validate returns ErrInvalidConfig unless the pair is one of the nine
// supported by the hardware.
func (c Config) Validate() error {
	switch c.Mode {
	case MODE_ECB, MODE_CBC, MODE_GCM:
	default:
		return fmt.Errorf("%w (%s)", ErrInvalidConfig, c)
	}

	switch c.Size {
	case KEY_128, KEY_192, KEY_256:
	default:
		return fmt.Errorf("%w (%s)", ErrInvalidConfig, c)
	}

	return nil
}

func (c Config) String() string {
	return fmt.Sprintf("%s-%d", c.Mode, c.Size*8)
}

// ivSize returns the IV or nonce length expected by the mode.
func (c Config) ivSize() int {
	switch c.Mode {
	case MODE_CBC:
		return BlockSize
	case MODE_GCM:
		return NonceSize
	default:
		return 0
	}
}

// KeyLength is the set of key length marker types.
type KeyLength interface {
	K128 | K192 | K256
	size() KeySize
}

// K128 marks an engine bound to 128 bit keys.
type K128 struct{}

// K192 marks an engine bound to 192 bit keys.
type K192 struct{}

// K256 marks an engine bound to 256 bit keys.
type K256 struct{}

func (K128) size() KeySize { return KEY_128 }
func (K192) size() KeySize { return KEY_192 }
func (K256) size() KeySize { return KEY_256 }

type (
	ECB128 = ECB[K128]
	ECB192 = ECB[K192]
	ECB256 = ECB[K256]
	CBC128 = CBC[K128]
	CBC192 = CBC[K192]
	CBC256 = CBC[K256]
	GCM128 = GCM[K128]
	GCM192 = GCM[K192]
	GCM256 = GCM[K256]
)

// Engine is the mode independent part of a bound engine.
type Engine interface {
	Config() Config
	Abandon()
	Free() *AES
}

// ECBEngine is an ECB engine of any key length.
type ECBEngine interface {
	Engine
	LoadKey(key []byte) (*ECBKeyed, error)
}

// CBCEngine is a CBC engine of any key length.
type CBCEngine interface {
	Engine
	LoadKey(key []byte) (*CBCKeyed, error)
}

// GCMEngine is a GCM engine of any key length.
type GCMEngine interface {
	Engine
	LoadKey(key []byte) (*GCMKeyed, error)
}

// Bind claims the peripheral for an engine selected at runtime, the result
// is one of the nine *ECB[K], *CBC[K] or *GCM[K] types. Unsupported pairs
// are rejected with ErrInvalidConfig.
func Bind(ctx context.Context, hw *AES, c Config) (Engine, error) {
	e, err := bind(ctx, hw, c)

	if err != nil {
		return nil, err
	}

	switch c {
	case Config{MODE_ECB, KEY_128}:
		return &ECB[K128]{e}, nil
	case Config{MODE_ECB, KEY_192}:
		return &ECB[K192]{e}, nil
	case Config{MODE_ECB, KEY_256}:
		return &ECB[K256]{e}, nil
	case Config{MODE_CBC, KEY_128}:
		return &CBC[K128]{e}, nil
	case Config{MODE_CBC, KEY_192}:
		return &CBC[K192]{e}, nil
	case Config{MODE_CBC, KEY_256}:
		return &CBC[K256]{e}, nil
	case Config{MODE_GCM, KEY_128}:
		return &GCM[K128]{e}, nil
	case Config{MODE_GCM, KEY_192}:
		return &GCM[K192]{e}, nil
	default:
		return &GCM[K256]{e}, nil
	}
}
