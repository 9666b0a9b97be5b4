// Package crypto provides the hashing and secp256k1 signing primitives used
// throughout the ledger, gossip, and contract packages.
package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ErrCannotSign is returned when a caller asks to sign with a malformed or
// otherwise unusable private key.
var ErrCannotSign = errors.New("crypto: cannot sign with the supplied key")

// curve is the secp256k1 curve used by every key in this package. It is
// shared so generation, signing, and verification all agree on the same
// parameters.
func curve() elliptic.Curve {
	return gethcrypto.S256()
}

// Sha256Hex returns the hex-encoded SHA-256 digest of data.
func Sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// GenerateKeyPair creates a new secp256k1 keypair and returns the private
// key and the uncompressed public key, both hex encoded.
func GenerateKeyPair() (privHex string, pubHex string, err error) {
	priv, err := ecdsa.GenerateKey(curve(), rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("generating key: %w", err)
	}

	privHex = hex.EncodeToString(priv.D.Bytes())
	pubHex = hex.EncodeToString(elliptic.Marshal(curve(), priv.PublicKey.X, priv.PublicKey.Y))

	return privHex, pubHex, nil
}

// Sign signs the hex-encoded digest with the hex-encoded private key and
// returns a DER-encoded signature, hex encoded.
func Sign(privHex string, digestHex string) (string, error) {
	keyBytes, err := hex.DecodeString(privHex)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrCannotSign, err)
	}

	digest, err := hex.DecodeString(digestHex)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrCannotSign, err)
	}

	d := new(big.Int).SetBytes(keyBytes)
	if d.Sign() == 0 || d.Cmp(curve().Params().N) >= 0 {
		return "", fmt.Errorf("%w: private key out of range", ErrCannotSign)
	}
	priv := new(ecdsa.PrivateKey)
	priv.PublicKey.Curve = curve()
	priv.D = d
	priv.PublicKey.X, priv.PublicKey.Y = curve().ScalarBaseMult(d.Bytes())

	sig, err := ecdsa.SignASN1(rand.Reader, priv, digest)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrCannotSign, err)
	}

	return hex.EncodeToString(sig), nil
}

// Verify reports whether sigHex is a valid DER signature over digestHex
// produced by the private key matching pubHex. Any malformed input
// returns false rather than an error, matching the original node's
// behavior of never faulting on bad signature data.
func Verify(pubHex string, digestHex string, sigHex string) bool {
	pubBytes, err := hex.DecodeString(pubHex)
	if err != nil {
		return false
	}

	x, y := elliptic.Unmarshal(curve(), pubBytes)
	if x == nil {
		return false
	}

	digest, err := hex.DecodeString(digestHex)
	if err != nil {
		return false
	}

	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false
	}

	pub := ecdsa.PublicKey{Curve: curve(), X: x, Y: y}
	return ecdsa.VerifyASN1(&pub, digest, sig)
}
