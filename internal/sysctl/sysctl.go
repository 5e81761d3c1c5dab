// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package sysctl implements peripheral clock gating and reset control of the
// Kendryte K210 system controller.
package sysctl

import (
	"github.com/f-secure-foundry/armory-aes/internal/reg"
)

// SYSCTL registers
const (
	SYSCTL_BASE = 0x50440000

	CLK_EN_PERI = 0x2c
	PERI_RESET  = 0x34
)

// Peripheral indices, shared between CLK_EN_PERI and PERI_RESET.
const (
	GPIO  = 5
	UART1 = 16
	AES   = 19
	FPIOA = 20
)

// Sysctl represents the system controller instance.
type Sysctl struct {
	Regs reg.Registers
}

// Enable gates on the clock of peripheral id.
func (s *Sysctl) Enable(id int) {
	reg.Set(s.Regs, CLK_EN_PERI, id)
}

// Disable gates off the clock of peripheral id.
func (s *Sysctl) Disable(id int) {
	reg.Clear(s.Regs, CLK_EN_PERI, id)
}

// AssertReset holds peripheral id in reset.
func (s *Sysctl) AssertReset(id int) {
	reg.Set(s.Regs, PERI_RESET, id)
}

// DeassertReset releases peripheral id from reset.
func (s *Sysctl) DeassertReset(id int) {
	reg.Clear(s.Regs, PERI_RESET, id)
}
