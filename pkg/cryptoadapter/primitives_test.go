package cryptoadapter

import "testing"

func TestSignVerifyRoundTrip(t *testing.T) {
	pub, priv, err := GenerateSigningKey()
	if err != nil {
		t.Fatalf("GenerateSigningKey() error = %v", err)
	}

	msgHash, err := Hash(nil, []byte("nonce pairing material"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}

	sig, err := Sign(msgHash, priv)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if !Verify(msgHash, sig, pub) {
		t.Fatal("Verify() = false, want true for a correctly signed hash")
	}

	tampered := append([]byte(nil), msgHash...)
	tampered[0] ^= 0xff
	if Verify(tampered, sig, pub) {
		t.Fatal("Verify() = true for a tampered hash, want false")
	}
}

func TestHashIsKeyed(t *testing.T) {
	unkeyed, err := Hash(nil, []byte("input"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	keyed, err := Hash([]byte("some-domain-key"), []byte("input"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if len(unkeyed) != 32 || len(keyed) != 32 {
		t.Fatalf("Hash() length = %d/%d, want 32/32", len(unkeyed), len(keyed))
	}
	if string(unkeyed) == string(keyed) {
		t.Fatal("keyed and unkeyed hashes of the same input collided")
	}
}

func TestRandomBytesLength(t *testing.T) {
	b, err := RandomBytes(24)
	if err != nil {
		t.Fatalf("RandomBytes() error = %v", err)
	}
	if len(b) != 24 {
		t.Fatalf("RandomBytes(24) returned %d bytes", len(b))
	}
}
