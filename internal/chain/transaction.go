// Package chain implements the ledger core: the transaction and block data
// model, proof-of-work mining, chain validation, balance derivation, and
// fork resolution (spec components C2, C3, C4).
package chain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ardanlabs/novaledger/internal/crypto"
)

// ErrMissingReceiver is returned when a transaction has no receiver.
var ErrMissingReceiver = errors.New("chain: transaction is missing a receiver")

// ErrInvalidTransaction is returned when a transaction fails signature or
// amount validation.
var ErrInvalidTransaction = errors.New("chain: transaction is invalid")

// ErrInsufficientBalance is returned when the sender's derived balance is
// strictly less than the transaction amount.
var ErrInsufficientBalance = errors.New("chain: insufficient balance")

// ErrCannotSignReward is returned from Sign when the transaction has no
// sender, since reward transactions are never signed.
var ErrCannotSignReward = errors.New("chain: cannot sign a reward transaction")

// Transaction is a value transfer between two public-key identified
// accounts. Sender is empty for a mining reward.
type Transaction struct {
	Sender    string `json:"sender"`
	Receiver  string `json:"receiver"`
	Amount    uint64 `json:"amount"`
	Timestamp int64  `json:"timestamp"`
	Signature string `json:"signature"`
}

// NewTransaction constructs a transaction stamped with the current time.
// sender may be empty to construct a mining reward.
func NewTransaction(sender, receiver string, amount uint64) Transaction {
	return Transaction{
		Sender:    sender,
		Receiver:  receiver,
		Amount:    amount,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Hash returns the SHA-256 hex digest this transaction is signed over:
// sender || receiver || amount || timestamp, with an empty sender string
// when the transaction has none.
func (tx Transaction) Hash() string {
	data := fmt.Sprintf("%s%s%d%d", tx.Sender, tx.Receiver, tx.Amount, tx.Timestamp)
	return crypto.Sha256Hex([]byte(data))
}

// Sign signs the transaction hash with the supplied hex-encoded private key.
// It fails with ErrCannotSignReward if the transaction has no sender.
func (tx *Transaction) Sign(privHex string) error {
	if tx.Sender == "" {
		return ErrCannotSignReward
	}

	sig, err := crypto.Sign(privHex, tx.Hash())
	if err != nil {
		return fmt.Errorf("chain: signing transaction: %w", err)
	}

	tx.Signature = sig
	return nil
}

// IsValid reports whether the transaction is internally consistent: a
// reward transaction (no sender) is always valid; otherwise the amount
// must be positive, a non-empty signature must be present, and it must
// verify against the sender's public key.
func (tx Transaction) IsValid() bool {
	if tx.Sender == "" {
		return true
	}

	if tx.Amount == 0 {
		return false
	}

	if tx.Signature == "" {
		return false
	}

	return crypto.Verify(tx.Sender, tx.Hash(), tx.Signature)
}

// IsReward reports whether this transaction is a mining reward.
func (tx Transaction) IsReward() bool {
	return tx.Sender == ""
}

// Fingerprint is the dedup key described in spec.md §3: the
// (sender, receiver, amount, timestamp) tuple.
type Fingerprint string

// Fingerprint returns the transaction's dedup fingerprint.
func (tx Transaction) Fingerprint() Fingerprint {
	return Fingerprint(fmt.Sprintf("%s|%s|%d|%d", tx.Sender, tx.Receiver, tx.Amount, tx.Timestamp))
}

// TxID returns the first 16 hex characters of sha256(sender||receiver||
// amount||timestamp), used as the store's transaction index key.
func (tx Transaction) TxID() string {
	data := fmt.Sprintf("%s%s%d%d", tx.Sender, tx.Receiver, tx.Amount, tx.Timestamp)
	full := crypto.Sha256Hex([]byte(data))
	return full[:16]
}

// MarshalCanonicalJSON returns the transaction encoded with a stable,
// no-whitespace field order (sender, receiver, amount, timestamp,
// signature), matching the wire layout every node must agree on so
// block hashes stay reproducible across implementations.
func (tx Transaction) MarshalCanonicalJSON() ([]byte, error) {
	type canonical struct {
		Sender    string `json:"sender"`
		Receiver  string `json:"receiver"`
		Amount    uint64 `json:"amount"`
		Timestamp int64  `json:"timestamp"`
		Signature string `json:"signature"`
	}

	return json.Marshal(canonical{
		Sender:    tx.Sender,
		Receiver:  tx.Receiver,
		Amount:    tx.Amount,
		Timestamp: tx.Timestamp,
		Signature: tx.Signature,
	})
}
