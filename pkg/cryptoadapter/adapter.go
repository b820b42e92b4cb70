package cryptoadapter

// Adapter exposes this package's free functions as a value, so a
// caller that only holds an interface type (pkg/trust.Crypto) can be
// handed one without redeclaring the same four methods itself.
type Adapter struct{}

func (Adapter) Sign(msgHash, privateKey []byte) ([]byte, error) {
	return Sign(msgHash, privateKey)
}

func (Adapter) Verify(msgHash, signature, publicKey []byte) bool {
	return Verify(msgHash, signature, publicKey)
}

func (Adapter) Hash(key, input []byte) ([]byte, error) {
	return Hash(key, input)
}

func (Adapter) RandomBytes(n int) ([]byte, error) {
	return RandomBytes(n)
}
