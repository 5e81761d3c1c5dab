// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package aes_test

import (
	"bytes"
	"context"
	stdaes "crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"math"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/f-secure-foundry/armory-aes/internal/aes"
	"github.com/f-secure-foundry/armory-aes/internal/sim"
)

func ecb[K aes.KeyLength](t *testing.T, hw *aes.AES, key []byte, in []byte, enc bool) []byte {
	c, err := aes.NewECB[K](context.Background(), hw)
	require.NoError(t, err)
	defer c.Free()

	keyed, err := c.LoadKey(key)
	require.NoError(t, err)

	start := keyed.Encrypt

	if !enc {
		start = keyed.Decrypt
	}

	stream, err := start(len(in) / aes.BlockSize)
	require.NoError(t, err)

	out := make([]byte, len(in))
	require.NoError(t, stream.CryptBlocks(out, in))
	require.NoError(t, stream.Close())

	return out
}

func cbc[K aes.KeyLength](t *testing.T, hw *aes.AES, key []byte, iv []byte, in []byte, enc bool) []byte {
	c, err := aes.NewCBC[K](context.Background(), hw)
	require.NoError(t, err)
	defer c.Free()

	keyed, err := c.LoadKey(key)
	require.NoError(t, err)

	ready, err := keyed.LoadIV(iv)
	require.NoError(t, err)

	start := ready.Encrypt

	if !enc {
		start = ready.Decrypt
	}

	stream, err := start(len(in) / aes.BlockSize)
	require.NoError(t, err)

	out := make([]byte, len(in))
	require.NoError(t, stream.CryptBlocks(out, in))
	require.NoError(t, stream.Close())

	return out
}

func seal[K aes.KeyLength](t *testing.T, c *aes.GCM[K], key, nonce, aad, plaintext []byte) (ciphertext []byte, tag aes.Tag) {
	keyed, err := c.LoadKey(key)
	require.NoError(t, err)

	ready, err := keyed.LoadNonce(nonce)
	require.NoError(t, err)

	a, err := ready.Seal(len(aad), len(plaintext))
	require.NoError(t, err)

	require.NoError(t, a.WriteAADBytes(aad))

	sealer, err := a.Payload()
	require.NoError(t, err)

	for off := 0; off < len(plaintext); off += aes.BlockSize {
		var in aes.Block
		n := copy(in[:], plaintext[off:])

		out, err := sealer.PushBlock(in)
		require.NoError(t, err)

		ciphertext = append(ciphertext, out[:n]...)
	}

	tag, err = sealer.Tag()
	require.NoError(t, err)

	return
}

func open[K aes.KeyLength](t *testing.T, c *aes.GCM[K], key, nonce, aad, ciphertext []byte, tag aes.Tag) ([]byte, error) {
	keyed, err := c.LoadKey(key)
	require.NoError(t, err)

	ready, err := keyed.LoadNonce(nonce)
	require.NoError(t, err)

	a, err := ready.Open(len(aad), len(ciphertext))
	require.NoError(t, err)

	// associated data written a word at a time
	for off := 0; off < len(aad); off += 4 {
		var word [4]byte
		copy(word[:], aad[off:])
		require.NoError(t, a.WriteAAD(uint32(word[0])<<24|uint32(word[1])<<16|uint32(word[2])<<8|uint32(word[3])))
	}

	opener, err := a.Payload()
	require.NoError(t, err)

	for off := 0; off < len(ciphertext); off += aes.BlockSize {
		var in aes.Block
		copy(in[:], ciphertext[off:])
		require.NoError(t, opener.PushBlock(in))
	}

	return opener.Verify(tag)
}

func TestECBZeroKey(t *testing.T) {
	hw := newAES(&sim.Device{})

	ct := ecb[aes.K128](t, hw, make([]byte, 16), make([]byte, 16), true)
	assert.Equal(t, mustDecodeHex("66e94bd4ef8a2c3b884cfa59ca342b2e"), ct)

	pt := ecb[aes.K128](t, hw, make([]byte, 16), ct, false)
	assert.Equal(t, make([]byte, 16), pt)
}

// FIPS-197 Appendix C
func TestECBVectors(t *testing.T) {
	hw := newAES(&sim.Device{Latency: 3})
	hw.Yield = true

	pt := mustDecodeHex("00112233445566778899aabbccddeeff")

	key := mustDecodeHex("000102030405060708090a0b0c0d0e0f")
	ct := ecb[aes.K128](t, hw, key, pt, true)
	assert.Equal(t, mustDecodeHex("69c4e0d86a7b0430d8cdb78070b4c55a"), ct)
	assert.Equal(t, pt, ecb[aes.K128](t, hw, key, ct, false))

	key = mustDecodeHex("000102030405060708090a0b0c0d0e0f1011121314151617")
	ct = ecb[aes.K192](t, hw, key, pt, true)
	assert.Equal(t, mustDecodeHex("dda97ca4864cdfe06eaf70a0ec0d7191"), ct)
	assert.Equal(t, pt, ecb[aes.K192](t, hw, key, ct, false))

	key = mustDecodeHex("000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")
	ct = ecb[aes.K256](t, hw, key, pt, true)
	assert.Equal(t, mustDecodeHex("8ea2b7ca516745bfeafc49904b496089"), ct)
	assert.Equal(t, pt, ecb[aes.K256](t, hw, key, ct, false))
}

// NIST SP 800-38A F.2.1 and F.2.2
func TestCBCVectors(t *testing.T) {
	hw := newAES(&sim.Device{Latency: 1})

	key := mustDecodeHex("2b7e151628aed2a6abf7158809cf4f3c")
	iv := mustDecodeHex("000102030405060708090a0b0c0d0e0f")
	pt := mustDecodeHex("6bc1bee22e409f96e93d7e117393172a" +
		"ae2d8a571e03ac9c9eb76fac45af8e51" +
		"30c81c46a35ce411e5fbc1191a0a52ef" +
		"f69f2445df4f9b17ad2b417be66c3710")
	expected := mustDecodeHex("7649abac8119b246cee98e9b12e9197d" +
		"5086cb9b507219ee95db113a917678b2" +
		"73bed6b8e3c1743b7116e69e22229516" +
		"3ff1caa1681fac09120eca307586e1a7")

	ct := cbc[aes.K128](t, hw, key, iv, pt, true)
	assert.Equal(t, expected, ct)
	assert.Equal(t, pt, cbc[aes.K128](t, hw, key, iv, ct, false))
}

func TestCBCChaining(t *testing.T) {
	hw := newAES(&sim.Device{})

	key := make([]byte, 24)
	iv := make([]byte, 16)
	rand.Read(key)
	rand.Read(iv)

	b1 := bytes.Repeat([]byte{0x01}, 16)
	b2 := bytes.Repeat([]byte{0x02}, 16)

	chained := cbc[aes.K192](t, hw, key, iv, append(append([]byte{}, b1...), b2...), true)

	b1[0] ^= 0x80
	altered := cbc[aes.K192](t, hw, key, iv, append(append([]byte{}, b1...), b2...), true)

	single := ecb[aes.K192](t, hw, key, b2, true)

	assert.NotEqual(t, single, chained[16:])
	assert.NotEqual(t, chained[16:], altered[16:])
}

func roundTrip[K aes.KeyLength](t *testing.T, size int) {
	hw := newAES(&sim.Device{Latency: 2})

	for _, n := range []int{0, 1, 15, 16, 17, 64, 100} {
		for _, m := range []int{0, 3, 4, 13, 20} {
			key := make([]byte, size)
			rand.Read(key)

			nonce := make([]byte, aes.NonceSize)
			rand.Read(nonce)

			aad := make([]byte, m)
			rand.Read(aad)

			pt := make([]byte, n)
			rand.Read(pt)

			c, err := aes.NewGCM[K](context.Background(), hw)
			require.NoError(t, err)

			ct, tag := seal(t, c, key, nonce, aad, pt)

			block, err := stdaes.NewCipher(key)
			require.NoError(t, err)

			ref, err := cipher.NewGCM(block)
			require.NoError(t, err)

			sealed := ref.Seal(nil, nonce, pt, aad)
			require.True(t, bytes.Equal(sealed[:n], ct))
			require.Equal(t, sealed[n:], tag[:])

			res, err := open(t, c, key, nonce, aad, ct, tag)
			require.NoError(t, err)
			require.Equal(t, pt, append([]byte{}, res...))

			c.Free()
		}
	}
}

func TestGCMRoundTrip(t *testing.T) {
	t.Run("GCM-128", roundTripTest[aes.K128](16))
	t.Run("GCM-192", roundTripTest[aes.K192](24))
	t.Run("GCM-256", roundTripTest[aes.K256](32))
}

func roundTripTest[K aes.KeyLength](size int) func(t *testing.T) {
	return func(t *testing.T) {
		roundTrip[K](t, size)
	}
}

// The Galois/Counter Mode of Operation (GCM), McGrew and Viega, test cases 1, 2 and 4
func TestGCMVectors(t *testing.T) {
	hw := newAES(&sim.Device{})

	c, err := aes.NewGCM[aes.K128](context.Background(), hw)
	require.NoError(t, err)
	defer c.Free()

	for _, v := range []struct {
		key, nonce, aad, pt, ct, tag string
	}{
		{
			key:   "00000000000000000000000000000000",
			nonce: "000000000000000000000000",
			tag:   "58e2fccefa7e3061367f1d57a4e7455a",
		},
		{
			key:   "00000000000000000000000000000000",
			nonce: "000000000000000000000000",
			pt:    "00000000000000000000000000000000",
			ct:    "0388dace60b6a392f328c2b971b2fe78",
			tag:   "ab6e47d42cec13bdf53a67b21257bddf",
		},
		{
			key:   "feffe9928665731c6d6a8f9467308308",
			nonce: "cafebabefacedbaddecaf888",
			aad:   "feedfacedeadbeeffeedfacedeadbeefabaddad2",
			pt: "d9313225f88406e5a55909c5aff5269a" +
				"86a7a9531534f7da2e4c303d8a318a72" +
				"1c3c0c95956809532fcf0e2449a6b525" +
				"b16aedf5aa0de657ba637b39",
			ct: "42831ec2217774244b7221b784d0d49c" +
				"e3aa212f2c02a4e035c17e2329aca12e" +
				"21d514b25466931c7d8f6a5aac84aa05" +
				"1ba30b396a0aac973d58e091",
			tag: "5bc94fbc3221a5db94fae95ae7121a47",
		},
	} {
		key := mustDecodeHex(v.key)
		nonce := mustDecodeHex(v.nonce)
		aad := mustDecodeHex(v.aad)
		pt := mustDecodeHex(v.pt)

		ct, tag := seal(t, c, key, nonce, aad, pt)
		assert.Equal(t, v.ct, hex.EncodeToString(ct))
		assert.Equal(t, v.tag, hex.EncodeToString(tag[:]))

		res, err := open(t, c, key, nonce, aad, ct, tag)
		require.NoError(t, err)
		assert.Equal(t, v.pt, hex.EncodeToString(res))
	}
}

func TestGCMTamper(t *testing.T) {
	hw := newAES(&sim.Device{})

	c, err := aes.NewGCM[aes.K256](context.Background(), hw)
	require.NoError(t, err)
	defer c.Free()

	key := make([]byte, 32)
	nonce := make([]byte, aes.NonceSize)
	aad := []byte("header")
	pt := []byte("attack at dawn, bring the usual")

	rand.Read(key)
	rand.Read(nonce)

	ct, tag := seal(t, c, key, nonce, aad, pt)

	for i := 0; i < len(tag)*8; i++ {
		bad := tag
		bad[i/8] ^= 1 << (i % 8)

		res, err := open(t, c, key, nonce, aad, ct, bad)
		require.ErrorIs(t, err, aes.ErrAuthenticationFailed)
		require.Nil(t, res)

		// failed authentication requires a reset
		_, err = c.LoadKey(key)
		require.ErrorIs(t, err, aes.ErrInvalidSessionOrder)

		c.Abandon()
	}

	for i := 0; i < len(ct)*8; i++ {
		bad := append([]byte{}, ct...)
		bad[i/8] ^= 1 << (i % 8)

		res, err := open(t, c, key, nonce, aad, bad, tag)
		require.ErrorIs(t, err, aes.ErrAuthenticationFailed)
		require.Nil(t, res)

		c.Abandon()
	}

	res, err := open(t, c, key, nonce, aad, ct, tag)
	require.NoError(t, err)
	assert.Equal(t, pt, res)
}

func TestGCMSessionOrder(t *testing.T) {
	hw := newAES(&sim.Device{})

	c, err := aes.NewGCM[aes.K128](context.Background(), hw)
	require.NoError(t, err)
	defer c.Free()

	keyed, err := c.LoadKey(make([]byte, 16))
	require.NoError(t, err)

	_, err = keyed.LoadNonce(make([]byte, 16))
	require.ErrorIs(t, err, aes.ErrInvalidIVLength)

	ready, err := keyed.LoadNonce(make([]byte, 12))
	require.NoError(t, err)

	a, err := ready.Open(6, 32)
	require.NoError(t, err)

	// partial words only at the end of the associated data
	require.ErrorIs(t, a.WriteAADBytes([]byte{1, 2, 3}), aes.ErrInvalidLength)
	require.ErrorIs(t, a.WriteAADBytes(make([]byte, 8)), aes.ErrInvalidLength)

	require.NoError(t, a.WriteAAD(0x01020304))

	_, err = a.Payload()
	require.ErrorIs(t, err, aes.ErrInvalidSessionOrder)

	require.NoError(t, a.WriteAAD(0x0506ffff))
	require.ErrorIs(t, a.WriteAAD(0), aes.ErrInvalidLength)

	opener, err := a.Payload()
	require.NoError(t, err)

	require.ErrorIs(t, a.WriteAAD(0), aes.ErrInvalidSessionOrder)
	require.NoError(t, opener.PushBlock(aes.Block{}))

	// tag verification before the whole payload
	res, err := opener.Verify(aes.Tag{})
	require.ErrorIs(t, err, aes.ErrInvalidSessionOrder)
	require.Nil(t, res)

	c.Abandon()

	res, err = opener.Verify(aes.Tag{})
	require.ErrorIs(t, err, aes.ErrInvalidSessionOrder)
	require.Nil(t, res)
}

func TestSessionLengthBound(t *testing.T) {
	if strconv.IntSize < 64 {
		t.Skip("lengths beyond 32 bits need a 64-bit int")
	}

	tooLong := int(uint64(math.MaxUint32) + 1)
	hw := newAES(&sim.Device{})

	g, err := aes.NewGCM[aes.K128](context.Background(), hw)
	require.NoError(t, err)

	keyed, err := g.LoadKey(make([]byte, 16))
	require.NoError(t, err)

	ready, err := keyed.LoadNonce(make([]byte, aes.NonceSize))
	require.NoError(t, err)

	_, err = ready.Seal(tooLong, 0)
	require.ErrorIs(t, err, aes.ErrInvalidLength)

	_, err = ready.Open(0, tooLong)
	require.ErrorIs(t, err, aes.ErrInvalidLength)

	// rejected lengths leave the session usable
	a, err := ready.Seal(0, 0)
	require.NoError(t, err)

	sealer, err := a.Payload()
	require.NoError(t, err)

	_, err = sealer.Tag()
	require.NoError(t, err)

	g.Free()

	c, err := aes.NewECB[aes.K128](context.Background(), hw)
	require.NoError(t, err)
	defer c.Free()

	ecbKeyed, err := c.LoadKey(make([]byte, 16))
	require.NoError(t, err)

	_, err = ecbKeyed.Encrypt(tooLong / aes.BlockSize)
	require.ErrorIs(t, err, aes.ErrInvalidLength)
}
