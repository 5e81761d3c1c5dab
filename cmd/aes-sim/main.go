// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package main

import (
	"bytes"
	"crypto/sha256"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"github.com/f-secure-foundry/armory-aes/internal/aes"
	"github.com/f-secure-foundry/armory-aes/internal/crypto"
	"github.com/f-secure-foundry/armory-aes/internal/sim"
	"github.com/f-secure-foundry/armory-aes/internal/sysctl"
)

const usage = `Usage: aes-sim [OPTIONS]
  -t <reads>     flag polling bound (default: 1000)
  -l <reads>     simulated flag latency (default: 0)
  -f <path>      file to round trip through full disk encryption
  -m <cipher>    sector cipher (default: aes128-xts-plain64)
                   aes128-cbc-plain64, aes128-cbc-essiv,
                   aes128-xts-plain64, aes256-xts-plain64
  -p <secret>    passphrase for sector key derivation
  -s <bytes>     sector size (default: 512)`

const (
	// key derivation iteration count
	PBKDF2_ITER = 4096
	// key derivation salt
	PBKDF2_SALT = "armory-aes"
)

type Config struct {
	timeout    int
	latency    int
	file       string
	cipher     string
	passphrase string
	sectorSize int
}

var conf *Config

func init() {
	log.SetFlags(0)
	log.SetOutput(os.Stdout)

	conf = &Config{}

	flag.Usage = func() {
		fmt.Println(usage)
	}

	flag.IntVar(&conf.timeout, "t", 1000, "flag polling bound")
	flag.IntVar(&conf.latency, "l", 0, "simulated flag latency")
	flag.StringVar(&conf.file, "f", "", "file to round trip")
	flag.StringVar(&conf.cipher, "m", "aes128-xts-plain64", "sector cipher")
	flag.StringVar(&conf.passphrase, "p", "", "passphrase")
	flag.IntVar(&conf.sectorSize, "s", 512, "sector size")
}

func main() {
	flag.Parse()

	dev := &sim.Device{
		Latency: conf.latency,
	}

	hw := &aes.AES{
		Regs:    dev,
		Clock:   dev,
		Index:   sysctl.AES,
		Timeout: conf.timeout,
		Yield:   true,
	}

	hw.Init()

	start := time.Now()

	if err := crypto.SelfTest(hw); err != nil {
		log.Fatal(err)
	}

	log.Printf("self test passed (%v, %d resets, %d flag reads)", time.Since(start), dev.Resets, dev.Polls)

	if len(conf.file) == 0 {
		return
	}

	if err := roundTrip(hw, dev); err != nil {
		log.Fatal(err)
	}
}

func roundTrip(hw *aes.AES, dev *sim.Device) (err error) {
	kind, err := crypto.ParseCipher(conf.cipher)

	if err != nil {
		return
	}

	if conf.sectorSize <= 0 || conf.sectorSize%aes.BlockSize != 0 {
		return fmt.Errorf("invalid sector size %d", conf.sectorSize)
	}

	input, err := os.ReadFile(conf.file)

	if err != nil {
		return
	}

	size := 16

	switch kind {
	case crypto.AES128_XTS_PLAIN:
		size = 32
	case crypto.AES256_XTS_PLAIN:
		size = 64
	}

	key := pbkdf2.Key([]byte(conf.passphrase), []byte(PBKDF2_SALT), PBKDF2_ITER, size, sha256.New)

	fde := &crypto.FDE{AES: hw}

	if err = fde.SetCipher(kind, key); err != nil {
		return
	}

	if fde.Cipher == nil {
		return fmt.Errorf("no sector cipher selected")
	}

	// pad to sector size
	blocks := (len(input) + conf.sectorSize - 1) / conf.sectorSize
	buf := make([]byte, blocks*conf.sectorSize)
	copy(buf, input)

	polls := dev.Polls
	start := time.Now()

	fde.Cipher(buf, 0, blocks, conf.sectorSize, true, nil)
	log.Printf("encrypted %d sectors (%v, %d flag reads)", blocks, time.Since(start), dev.Polls-polls)

	if bytes.Equal(buf[:len(input)], input) && len(input) > 0 {
		return fmt.Errorf("ciphertext matches plaintext")
	}

	start = time.Now()

	fde.Cipher(buf, 0, blocks, conf.sectorSize, false, nil)
	log.Printf("decrypted %d sectors (%v)", blocks, time.Since(start))

	if !bytes.Equal(buf[:len(input)], input) {
		return fmt.Errorf("round trip mismatch")
	}

	log.Printf("%s round trip of %s passed", conf.cipher, conf.file)

	return
}
