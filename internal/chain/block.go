package chain

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ardanlabs/novaledger/internal/crypto"
)

// zeroHash is the previous-hash value recorded on the genesis block.
const zeroHash = "0"

// EventHandler is the logging hook every ledger-adjacent package accepts,
// matching the teacher's blockchain packages: components never import a
// logging library directly, they call this function.
type EventHandler func(v string, args ...any)

// noopEventHandler discards every event; used when a caller passes nil.
func noopEventHandler(v string, args ...any) {}

// BlockHeader carries the fields hashed to produce the block's identity,
// distinct from the transaction payload.
type BlockHeader struct {
	Index        uint64 `json:"index"`
	Timestamp    int64  `json:"timestamp"`
	PreviousHash string `json:"previous_hash"`
	Nonce        uint64 `json:"nonce"`
}

// Block is an ordered batch of transactions linked to its parent by hash.
type Block struct {
	Header       BlockHeader   `json:"header"`
	Transactions []Transaction `json:"transactions"`
	Hash         string        `json:"hash"`
}

// NewGenesisBlock constructs the block at index 0: empty transactions,
// previous_hash "0".
func NewGenesisBlock() Block {
	b := Block{
		Header: BlockHeader{
			Index:        0,
			Timestamp:    time.Now().UnixMilli(),
			PreviousHash: zeroHash,
		},
	}
	b.Hash = b.ComputeHash()
	return b
}

// NewBlock constructs the next block linking to parent, with nonce 0 and
// the hash computed immediately (it will be overwritten by Mine).
func NewBlock(parent Block, transactions []Transaction) Block {
	b := Block{
		Header: BlockHeader{
			Index:        parent.Header.Index + 1,
			Timestamp:    time.Now().UnixMilli(),
			PreviousHash: parent.Hash,
		},
		Transactions: transactions,
	}
	b.Hash = b.ComputeHash()
	return b
}

// ComputeHash is the SHA-256 hex digest over
// index || timestamp || canonical_tx_json(transactions) || previous_hash || nonce,
// per spec.md §4.3. The transaction list is encoded with a fixed field
// order and no whitespace so the digest round-trips identically across
// every node's JSON encoder.
func (b Block) ComputeHash() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%d%d", b.Header.Index, b.Header.Timestamp)

	buf.WriteByte('[')
	for i, tx := range b.Transactions {
		if i > 0 {
			buf.WriteByte(',')
		}
		data, err := tx.MarshalCanonicalJSON()
		if err != nil {
			return ""
		}
		buf.Write(data)
	}
	buf.WriteByte(']')

	fmt.Fprintf(&buf, "%s%d", b.Header.PreviousHash, b.Header.Nonce)

	return crypto.Sha256Hex(buf.Bytes())
}

// isHashSolved reports whether hash begins with difficulty hex zero
// characters.
func isHashSolved(difficulty int, hash string) bool {
	if difficulty <= 0 {
		return true
	}
	if len(hash) < difficulty {
		return false
	}
	return strings.Count(hash[:difficulty], "0") == difficulty
}

// Mine increments the nonce until the block's hash satisfies the
// difficulty target, then stores the winning hash. Mining is a
// synchronous, CPU-bound loop; it can be cancelled cooperatively via ctx,
// but a block that returns without error always satisfies the difficulty
// invariant.
func (b *Block) Mine(ctx context.Context, difficulty int, ev EventHandler) error {
	if ev == nil {
		ev = noopEventHandler
	}

	ev("chain: mine: block[%d]: started", b.Header.Index)
	defer ev("chain: mine: block[%d]: completed", b.Header.Index)

	var attempts uint64
	for {
		attempts++
		if attempts%1_000_000 == 0 {
			ev("chain: mine: block[%d]: attempts[%d]", b.Header.Index, attempts)
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		hash := b.ComputeHash()
		if isHashSolved(difficulty, hash) {
			b.Hash = hash
			ev("chain: mine: block[%d]: solved: hash[%s] attempts[%d]", b.Header.Index, hash, attempts)
			return nil
		}

		b.Header.Nonce++
	}
}

// HasValidTransactions reports whether every transaction in the block
// passes IsValid.
func (b Block) HasValidTransactions() bool {
	for _, tx := range b.Transactions {
		if !tx.IsValid() {
			return false
		}
	}
	return true
}
