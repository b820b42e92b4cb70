package cryptoadapter

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/blake2b"
)

// ErrInvalidKeySize is returned by Sign when the private key is not the
// Ed25519 size the protocol assumes, and by NewKeystream when the key
// is not 32 bytes. Verify reports a wrong-sized public key as false.
var ErrInvalidKeySize = errors.New("cryptoadapter: invalid key size")

// Sign produces a detached Ed25519 signature over msgHash. privateKey
// must be the 64-byte Ed25519 private key (seed || public key), the
// same PRIVATE_KEY_SIZE the data model names.
func Sign(msgHash, privateKey []byte) ([]byte, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return nil, ErrInvalidKeySize
	}
	return ed25519.Sign(ed25519.PrivateKey(privateKey), msgHash), nil
}

// Verify checks a detached signature produced by Sign against the
// given 32-byte Ed25519 public key.
func Verify(msgHash, signature, publicKey []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), msgHash, signature)
}

// Hash computes a 32-byte BLAKE2b keyed hash of input. A nil or empty
// key produces the same result as an unkeyed BLAKE2b-256 hash; the
// handshake and trust-chain code always supplies HashKey or
// DiscoveryHashKey for domain separation.
func Hash(key, input []byte) ([]byte, error) {
	h, err := blake2b.New256(key)
	if err != nil {
		return nil, err
	}
	h.Write(input)
	return h.Sum(nil), nil
}

// RandomBytes returns n cryptographically random bytes.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// GenerateSigningKey generates a fresh Ed25519 keypair, returned as
// (publicKey, privateKey) at the protocol's PUBLIC_KEY_SIZE and
// PRIVATE_KEY_SIZE. It exists mainly for tests and the demo CLI;
// production feed keys are provisioned out of band.
func GenerateSigningKey() (publicKey, privateKey []byte, err error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	return []byte(pub), []byte(priv), nil
}
