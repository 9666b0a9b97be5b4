package crypto_test

import (
	"testing"

	"github.com/ardanlabs/novaledger/internal/crypto"
)

func Test_GenerateSignVerify(t *testing.T) {
	privHex, pubHex, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("should be able to generate a keypair: %s", err)
	}

	digest := crypto.Sha256Hex([]byte("hello ledger"))

	sig, err := crypto.Sign(privHex, digest)
	if err != nil {
		t.Fatalf("should be able to sign: %s", err)
	}

	if !crypto.Verify(pubHex, digest, sig) {
		t.Fatalf("should verify a signature produced by the matching key")
	}
}

func Test_VerifyRejectsWrongKey(t *testing.T) {
	_, pubHex, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("should be able to generate a keypair: %s", err)
	}

	otherPriv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("should be able to generate a keypair: %s", err)
	}

	digest := crypto.Sha256Hex([]byte("hello ledger"))

	sig, err := crypto.Sign(otherPriv, digest)
	if err != nil {
		t.Fatalf("should be able to sign: %s", err)
	}

	if crypto.Verify(pubHex, digest, sig) {
		t.Fatalf("should not verify a signature produced by a different key")
	}
}

func Test_VerifyMalformedInputsReturnFalse(t *testing.T) {
	cases := []struct {
		name   string
		pub    string
		digest string
		sig    string
	}{
		{"bad pubkey hex", "not-hex", "aa", "bb"},
		{"bad digest hex", "04aa", "zz", "bb"},
		{"bad sig hex", "04aa", "aa", "zz"},
		{"empty everything", "", "", ""},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if crypto.Verify(tt.pub, tt.digest, tt.sig) {
				t.Fatalf("expected false for malformed input, got true")
			}
		})
	}
}

func Test_SignRewardHasNoKey(t *testing.T) {
	if _, err := crypto.Sign("", "aa"); err == nil {
		t.Fatalf("expected an error signing with an empty key")
	}
}
