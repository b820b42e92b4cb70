package protocol

import "errors"

// ErrMalformed is returned whenever a decoded message fails a
// required-field, length, or trailing-byte check.
var ErrMalformed = errors.New("protocol: malformed message")

// ErrVarintOverflow is returned when a varint occupies more than five
// bytes without terminating, per the HyperBloom framing rules.
var ErrVarintOverflow = errors.New("protocol: varint overflow")

// Open is the single plaintext frame that opens a session in each
// direction. feed is the sender's discovery key (H(DiscoveryHashKey,
// feedKey)); nonce seeds that direction's keystream.
type Open struct {
	Feed  []byte
	Nonce []byte
}

// Range narrows a Sync or Request to a subset of the keyspace. End is
// nil when the range is open-ended.
type Range struct {
	Start []byte
	End   []byte
}

// Handshake mutually authenticates the two peers. Signature covers the
// paired-nonce hash; Chain is an ordered list of opaque, fixed-width
// encoded trust links (see pkg/trust).
type Handshake struct {
	ID         []byte
	Extensions []string
	Signature  []byte
	Chain      [][]byte
}

// Sync carries a peer's Bloom filter and reconciliation parameters.
// Limit and Range are optional; a nil pointer means absent, not zero.
type Sync struct {
	Filter []byte
	Size   uint32
	N      uint32
	Seed   uint32
	Limit  *uint32
	Range  *Range
}

// FilterOptions negotiates the Bloom filter's size and hash count
// before either side commits to building one.
type FilterOptions struct {
	Size uint32
	N    uint32
}

// Data carries values discovered during reconciliation. Values must be
// non-empty, and no element may be empty or repeated; session.go
// enforces that invariant on receipt, not this package.
type Data struct {
	Values [][]byte
}

// Request asks the peer for values in [Start, End). Limit is optional;
// when present it must be nonzero.
type Request struct {
	Start []byte
	End   []byte
	Limit *uint32
}

// Link carries a single trust-chain shortening link, opaque to this
// package (see pkg/trust for its internal structure).
type Link struct {
	Link []byte
}
