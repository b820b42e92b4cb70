package protocol

// Wire sizes and limits, per the HyperBloom data model.
const (
	PublicKeySize  = 32
	PrivateKeySize = 64
	IDSize         = 32
	NonceSize      = 24
	HashSize       = 32

	MaxFrameSize   = 262144 // 256 KiB
	MaxChainLength = 5
)

// Magic marks the single plaintext frame every session opens with.
var Magic = [4]byte{0xd5, 0x72, 0xc8, 0x75}

// HashKey personalizes the keyed hash used for paired-nonce binding
// and trust-link signing. DiscoveryHashKey personalizes the keyed hash
// used to derive a feed's publishable discovery identifier from its
// public key. Both are fixed domain-separation constants, not secrets.
var (
	HashKey          = []byte("hyperbloom-handshake-and-chain-hash-key-01")
	DiscoveryHashKey = []byte("hyperbloom-discovery-key-derivation-key-01")
)

// MessageKind identifies a decoded message's wire type. Open has no
// numeric id of its own; it is distinguished by the magic-prefixed
// framing described in doc.go, not by an id field.
type MessageKind uint32

const (
	KindHandshake      MessageKind = 0
	KindSync           MessageKind = 1
	KindFilterOptions  MessageKind = 2
	KindData           MessageKind = 3
	KindRequest        MessageKind = 4
	KindLink           MessageKind = 5
)

// KnownKind reports whether id names one of the six message variants.
func KnownKind(id uint64) bool {
	return id <= uint64(KindLink)
}
