package trust

import (
	"bytes"
	"errors"

	"github.com/hyperbloom/engine/pkg/protocol"
)

// ErrUntrustedPeer signals a chain or handshake signature failed
// verification.
var ErrUntrustedPeer = errors.New("trust: untrusted peer")

// ErrInvalidChain signals a chain fails its own internal consistency
// check (too long, or a self-signed walk that doesn't terminate at
// the expected key).
var ErrInvalidChain = errors.New("trust: invalid chain")

// errChainTooLong is Walk's internal signal that a chain exceeds
// MaxChainLength; callers translate it to the sentinel appropriate to
// their context (ErrUntrustedPeer for an incoming handshake,
// ErrInvalidChain for a local self-test).
var errChainTooLong = errors.New("trust: chain exceeds MaxChainLength")

// Crypto is the narrow contract this package needs from
// pkg/cryptoadapter: detached-signature sign/verify, a keyed hash, and
// a source of randomness for issuing new links.
type Crypto interface {
	Sign(msgHash, privateKey []byte) ([]byte, error)
	Verify(msgHash, signature, publicKey []byte) bool
	Hash(key, input []byte) ([]byte, error)
	RandomBytes(n int) ([]byte, error)
}

// Verifier walks and issues Trust Link chains on behalf of a Session.
type Verifier struct {
	crypto Crypto
}

// NewVerifier builds a Verifier over the given crypto contract.
func NewVerifier(crypto Crypto) *Verifier {
	return &Verifier{crypto: crypto}
}

// WalkResult is what walking a chain establishes: the public key that
// terminates it (the one that must sign a handshake) and the minimum
// expiration recorded across all of its links.
type WalkResult struct {
	Terminal      []byte
	MinExpiration uint64
}

// Walk verifies every link in chain in order, starting authority at
// rootPublicKey, and returns the terminal public key plus the minimum
// expiration seen. An empty chain returns rootPublicKey unchanged and
// InfiniteExpiration: the terminal public key remains the feed key.
func (v *Verifier) Walk(rootPublicKey []byte, chain [][]byte) (*WalkResult, error) {
	if len(chain) > protocol.MaxChainLength {
		return nil, errChainTooLong
	}

	current := rootPublicKey
	minExpiration := InfiniteExpiration

	for _, raw := range chain {
		link, err := DecodeLink(raw)
		if err != nil {
			return nil, ErrUntrustedPeer
		}
		if link.Version != Version1 {
			return nil, ErrUntrustedPeer
		}

		preimage := signedPreimage(link.Version, link.PublicKey, link.Nonce)
		digest, err := v.crypto.Hash(protocol.HashKey, preimage)
		if err != nil {
			return nil, err
		}
		if !v.crypto.Verify(digest, link.Signature, current) {
			return nil, ErrUntrustedPeer
		}

		if link.Expiration < minExpiration {
			minExpiration = link.Expiration
		}
		current = link.PublicKey
	}

	return &WalkResult{Terminal: current, MinExpiration: minExpiration}, nil
}

// VerifyHandshake checks a remote handshake signature against the
// chain the remote presented, rooted at feedKey. signature must cover
// signedHash exactly as the remote computed it: the remote's view of
// the paired hash, i.e. this side's reversePairedHash.
func (v *Verifier) VerifyHandshake(feedKey []byte, chain [][]byte, signedHash, signature []byte) error {
	result, err := v.Walk(feedKey, chain)
	if err != nil {
		return ErrUntrustedPeer
	}
	if !v.crypto.Verify(signedHash, signature, result.Terminal) {
		return ErrUntrustedPeer
	}
	return nil
}

// zeroHash is the all-zero HASH_SIZE digest the self-test signs; it
// carries no meaning beyond "prove this private key's public half
// matches the chain's terminal key".
var zeroHash = make([]byte, protocol.HashSize)

// SelfTest performs the start-time chain pre-verification required
// before a session can start: sign the all-zero hash with privateKey
// and confirm the
// signature verifies under the terminal key the chain walks to from
// feedKey. A mismatch means privateKey does not correspond to the key
// the caller's own chain claims to terminate at.
func (v *Verifier) SelfTest(feedKey []byte, chain [][]byte, privateKey []byte) error {
	if len(chain) > protocol.MaxChainLength {
		return ErrInvalidChain
	}
	result, err := v.Walk(feedKey, chain)
	if err != nil {
		return ErrInvalidChain
	}
	signature, err := v.crypto.Sign(zeroHash, privateKey)
	if err != nil {
		return ErrInvalidChain
	}
	if !v.crypto.Verify(zeroHash, signature, result.Terminal) {
		return ErrInvalidChain
	}
	return nil
}

// ShouldShorten reports whether the local side may issue a shortening
// link for the given local/remote chain lengths: issue only when
// remote.chain.length - 1 <= local.chain.length.
func ShouldShorten(localLen, remoteLen int) bool {
	return remoteLen-1 <= localLen
}

// IssueShorteningLink builds a new Trust Link delegating to
// remoteTerminal, signed by privateKey, expiring at remoteMinExpiration
// (the minimum expiration observed walking the remote's chain).
func (v *Verifier) IssueShorteningLink(privateKey, remoteTerminal []byte, remoteMinExpiration uint64) (*Link, error) {
	nonce, err := v.crypto.RandomBytes(32)
	if err != nil {
		return nil, err
	}
	link := &Link{
		Version:    Version1,
		PublicKey:  remoteTerminal,
		Nonce:      nonce,
		Expiration: remoteMinExpiration,
	}
	preimage := signedPreimage(link.Version, link.PublicKey, link.Nonce)
	digest, err := v.crypto.Hash(protocol.HashKey, preimage)
	if err != nil {
		return nil, err
	}
	sig, err := v.crypto.Sign(digest, privateKey)
	if err != nil {
		return nil, err
	}
	link.Signature = sig
	return link, nil
}

// ShouldAcceptExtension reports whether an incoming Link should be
// considered for chain extension: ignore unless
// local.chain.length - 1 <= remote.chain.length.
func ShouldAcceptExtension(localLen, remoteLen int) bool {
	return localLen-1 <= remoteLen
}

// VerifyExtension checks a candidate chain (remote's chain plus one
// new link) by running the same self-test SelfTest does, rooted at
// feedKey with ownPrivateKey. On success the candidate chain may
// replace the local chain and a chain-update event fires.
func (v *Verifier) VerifyExtension(feedKey []byte, candidate [][]byte, ownPrivateKey []byte) error {
	if err := v.SelfTest(feedKey, candidate, ownPrivateKey); err != nil {
		return ErrInvalidChain
	}
	return nil
}

// AppendLink returns a new chain slice with link appended, without
// mutating remoteChain.
func AppendLink(remoteChain [][]byte, link []byte) [][]byte {
	candidate := make([][]byte, 0, len(remoteChain)+1)
	candidate = append(candidate, remoteChain...)
	candidate = append(candidate, link)
	return candidate
}

// EqualChains reports whether two opaque chains are byte-identical,
// element for element.
func EqualChains(a, b [][]byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !bytes.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}
