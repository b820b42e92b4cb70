// Package cryptoadapter wraps the three cryptographic primitives the
// HyperBloom engine is built on (detached signatures, a keyed hash,
// and a resumable XSalsa20 keystream) behind narrow contracts, so
// package session and package trust never import a concrete crypto
// library directly, so swapping the keystream or signature scheme
// later touches only this package.
package cryptoadapter
