// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package sysctl

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/f-secure-foundry/armory-aes/internal/reg"
)

func TestClockAndReset(t *testing.T) {
	m := &reg.Memory{}
	m.Write(CLK_EN_PERI, 1<<GPIO)

	s := &Sysctl{Regs: m}

	s.Enable(AES)
	assert.Equal(t, uint32(1<<GPIO|1<<AES), m.Read(CLK_EN_PERI))

	s.AssertReset(AES)
	assert.True(t, reg.IsSet(m, PERI_RESET, AES))

	s.DeassertReset(AES)
	assert.Equal(t, uint32(0), m.Read(PERI_RESET))

	s.Disable(AES)
	assert.Equal(t, uint32(1<<GPIO), m.Read(CLK_EN_PERI))
}
