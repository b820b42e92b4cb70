package trust

import (
	"encoding/binary"
	"errors"
)

// Version 1 is the only Trust Link version this engine will accept or
// issue. A later version bump belongs to the issuance policy, which
// this engine deliberately doesn't own.
const Version1 = 1

// InfiniteExpiration marks a link that never expires. Expiration is
// informational at verification time: the verifier only ever reports
// the minimum across a chain, never rejects on it.
const InfiniteExpiration = ^uint64(0)

const encodedLinkSize = 1 + 32 + 32 + 8 + 64 // version, publicKey, nonce, expiration, signature

// ErrMalformedLink is returned when a Link's opaque bytes don't decode
// to the fixed 137-byte encoding this engine issues and expects.
var ErrMalformedLink = errors.New("trust: malformed link")

// Link is one delegation in a chain: publicKey is signed into
// authority by whoever signs this link (the feed's private key for
// the first link in a chain, the previous link's publicKey's private
// key for every link after that).
type Link struct {
	Version    uint8
	PublicKey  []byte // 32 bytes
	Nonce      []byte // 32 bytes
	Expiration uint64 // unix seconds; InfiniteExpiration for no expiry
	Signature  []byte // 64 bytes, detached over H(HashKey, version||publicKey||nonce)
}

// Encode produces the fixed-width opaque bytes carried in a Handshake
// or Link message's chain/link field.
func (l *Link) Encode() []byte {
	b := make([]byte, encodedLinkSize)
	b[0] = l.Version
	copy(b[1:33], l.PublicKey)
	copy(b[33:65], l.Nonce)
	binary.BigEndian.PutUint64(b[65:73], l.Expiration)
	copy(b[73:137], l.Signature)
	return b
}

// DecodeLink parses one opaque chain element.
func DecodeLink(b []byte) (*Link, error) {
	if len(b) != encodedLinkSize {
		return nil, ErrMalformedLink
	}
	l := &Link{
		Version:    b[0],
		PublicKey:  append([]byte(nil), b[1:33]...),
		Nonce:      append([]byte(nil), b[33:65]...),
		Expiration: binary.BigEndian.Uint64(b[65:73]),
		Signature:  append([]byte(nil), b[73:137]...),
	}
	return l, nil
}

// signedPreimage builds version || publicKey || nonce; a link's
// signature covers H(HashKey, preimage), which callers compute.
func signedPreimage(version uint8, publicKey, nonce []byte) []byte {
	b := make([]byte, 0, 1+len(publicKey)+len(nonce))
	b = append(b, version)
	b = append(b, publicKey...)
	b = append(b, nonce...)
	return b
}
