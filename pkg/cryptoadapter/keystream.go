package cryptoadapter

import (
	"encoding/binary"
	"errors"

	"golang.org/x/crypto/salsa20/salsa"
)

// ErrInvalidNonce is returned by NewKeystream when the nonce is not
// exactly the 24-byte XSalsa20 size the protocol requires.
var ErrInvalidNonce = errors.New("cryptoadapter: invalid nonce size")

// Keystream is a stateful XSalsa20 byte sink: Xor XORs a buffer in
// place and advances the stream's position by len(buf). It is never
// rewound; callers that need to re-derive a stream from the same key
// and nonce must construct a new Keystream.
//
// This is built directly on golang.org/x/crypto/salsa20/salsa, the
// same low-level block-and-counter primitive NaCl's own secretbox and
// box packages use internally to implement XSalsa20: HSalsa20 derives
// a per-nonce subkey from the first 16 nonce bytes, and salsa.XORKeyStream
// is driven one 64-byte block at a time from an explicit little-endian
// counter over the last 8 nonce bytes. Buffering the current block and
// a cursor into it is what lets Xor accept arbitrarily sized, non
// block-aligned chunks across many calls.
type Keystream struct {
	subKey  [32]byte
	counter [16]byte
	block   [64]byte
	pos     int // bytes of block already consumed; 64 means block exhausted
}

// NewKeystream derives an XSalsa20 keystream from a 32-byte key and a
// 24-byte nonce, positioned at offset zero.
func NewKeystream(key, nonce []byte) (*Keystream, error) {
	if len(nonce) != 24 {
		return nil, ErrInvalidNonce
	}
	if len(key) != 32 {
		return nil, ErrInvalidKeySize
	}

	var k [32]byte
	copy(k[:], key)

	var hNonce [16]byte
	copy(hNonce[:], nonce[:16])

	ks := &Keystream{pos: 64}
	salsa.HSalsa20(&ks.subKey, &hNonce, &k, &salsa.Sigma)
	copy(ks.counter[:8], nonce[16:24])
	return ks, nil
}

// Xor XORs buf with the next len(buf) keystream bytes, in place.
func (ks *Keystream) Xor(buf []byte) {
	i := 0
	for i < len(buf) {
		if ks.pos == 64 {
			ks.fillBlock()
		}
		avail := 64 - ks.pos
		take := len(buf) - i
		if take > avail {
			take = avail
		}
		for j := 0; j < take; j++ {
			buf[i+j] ^= ks.block[ks.pos+j]
		}
		ks.pos += take
		i += take
	}
}

func (ks *Keystream) fillBlock() {
	var zero [64]byte
	salsa.XORKeyStream(ks.block[:], zero[:], &ks.counter, &ks.subKey)
	ks.pos = 0
	incrementCounter(&ks.counter)
}

// incrementCounter advances the little-endian 64-bit block counter
// held in the last 8 bytes of an XSalsa20 counter array.
func incrementCounter(counter *[16]byte) {
	v := binary.LittleEndian.Uint64(counter[8:])
	v++
	binary.LittleEndian.PutUint64(counter[8:], v)
}
