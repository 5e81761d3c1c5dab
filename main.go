// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package main

import (
	"log"
	"time"

	"github.com/f-secure-foundry/armory-aes/internal/aes"
	"github.com/f-secure-foundry/armory-aes/internal/crypto"
	"github.com/f-secure-foundry/armory-aes/internal/reg"
	"github.com/f-secure-foundry/armory-aes/internal/sysctl"
)

// The tamago runtime hooks (console, timer, memory layout) come from a K210
// board package which is not part of this module: the firmware target only
// links once such a package is imported here alongside the driver.

// Flag polling bound, at 400MHz the accelerator completes a block well
// within a thousand register reads.
const POLL_TIMEOUT = 1 << 16

// K210 AES accelerator
var AES = &aes.AES{
	Regs:    reg.MMIO(aes.AES_BASE),
	Clock:   &sysctl.Sysctl{Regs: reg.MMIO(sysctl.SYSCTL_BASE)},
	Index:   sysctl.AES,
	Timeout: POLL_TIMEOUT,
}

func main() {
	log.Printf("armory-aes %s (%s)", Revision, Build)

	AES.Init()

	start := time.Now()

	if err := crypto.SelfTest(AES); err != nil {
		log.Fatal(err)
	}

	log.Printf("AES self test passed (%v)", time.Since(start))

	// leave the accelerator reset and unclaimed
	AES.Init()
}
