// Package store implements the persistent, key-prefixed embedded
// key-value layout described in spec.md §4.5, backed by Badger. SaveBlock
// and ClearPending each run as a single atomic Badger transaction.
// ReplaceChain writes one transaction per block, so a whole-chain
// replacement is not atomic.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/ardanlabs/novaledger/internal/chain"
)

func jsonMarshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func jsonUnmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// ErrNotFound is returned when a lookup key does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrLocked is returned by Open when another process already holds the
// exclusive lock on the database directory.
var ErrLocked = errors.New("store: database is locked by another process")

// ErrCorrupt is returned when a record fails to decode. Callers should log
// and fall back to reconstructing from peers, per spec.md §7.
var ErrCorrupt = errors.New("store: corrupt record")

// Key prefixes, per spec.md §4.5.
const (
	prefixBlock    = "block:"
	prefixHeight   = "height:"
	prefixTx       = "tx:"
	prefixPending  = "pending:"
	prefixContract = "contract:"
	keyChainLength = "meta:chainLength"
	keyDifficulty  = "meta:difficulty"
)

// txIndexEntry is the value stored at tx:{txid}.
type txIndexEntry struct {
	BlockHash  string `json:"block_hash"`
	BlockIndex uint64 `json:"block_index"`
}

// Store manages the on-disk Badger database backing the ledger and the
// contract manager.
type Store struct {
	db *badger.DB
	ev chain.EventHandler
}

// Open opens (or creates) the database at path. A second Open against the
// same path returns ErrLocked, matching spec.md §5's exclusive-open
// policy for the store handle.
func Open(path string, ev chain.EventHandler) (*Store, error) {
	if ev == nil {
		ev = func(v string, args ...any) {}
	}

	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		if strings.Contains(strings.ToUpper(err.Error()), "LOCK") {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("store: open: %w", err)
	}

	return &Store{db: db, ev: ev}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveBlock performs one atomic batch containing the block: block:{hash},
// height:{index}, every tx:{txid} for that block, and the updated
// meta:chainLength, per spec.md §4.5.
func (s *Store) SaveBlock(block chain.Block) error {
	return s.db.Update(func(txn *badger.Txn) error {
		data, err := jsonMarshal(block)
		if err != nil {
			return err
		}

		if err := txn.Set(blockKey(block.Hash), data); err != nil {
			return err
		}
		if err := txn.Set(heightKey(block.Header.Index), []byte(block.Hash)); err != nil {
			return err
		}

		for _, tx := range block.Transactions {
			entry := txIndexEntry{BlockHash: block.Hash, BlockIndex: block.Header.Index}
			entryData, err := jsonMarshal(entry)
			if err != nil {
				return err
			}
			if err := txn.Set(txKey(tx.TxID()), entryData); err != nil {
				return err
			}
		}

		length := block.Header.Index + 1
		if err := txn.Set([]byte(keyChainLength), []byte(strconv.FormatUint(length, 10))); err != nil {
			return err
		}

		return nil
	})
}

// LoadChain reads blocks via height:0 .. height:chainLength-1. If any
// block is missing, it returns the shorter prefix it could assemble and
// logs the gap via the event handler -- the caller decides whether that
// represents corruption, per spec.md §4.5.
func (s *Store) LoadChain() ([]chain.Block, error) {
	length, err := s.chainLength()
	if err != nil {
		return nil, err
	}

	var blocks []chain.Block
	for i := uint64(0); i < length; i++ {
		block, err := s.blockAtHeight(i)
		if err != nil {
			s.ev("store: load_chain: missing block at height %d, stopping: %s", i, err)
			break
		}
		blocks = append(blocks, block)
	}

	return blocks, nil
}

func (s *Store) chainLength() (uint64, error) {
	var length uint64
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyChainLength))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				length = 0
				return nil
			}
			return err
		}
		return item.Value(func(val []byte) error {
			n, err := strconv.ParseUint(string(val), 10, 64)
			if err != nil {
				return fmt.Errorf("%w: meta:chainLength: %s", ErrCorrupt, err)
			}
			length = n
			return nil
		})
	})
	return length, err
}

func (s *Store) blockAtHeight(index uint64) (chain.Block, error) {
	var hash string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(heightKey(index))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			hash = string(val)
			return nil
		})
	})
	if err != nil {
		return chain.Block{}, err
	}

	return s.blockByHash(hash)
}

func (s *Store) blockByHash(hash string) (chain.Block, error) {
	var block chain.Block
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blockKey(hash))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			if err := jsonUnmarshal(val, &block); err != nil {
				return fmt.Errorf("%w: block:%s: %s", ErrCorrupt, hash, err)
			}
			return nil
		})
	})
	return block, err
}

// GetTransactionStatus returns which block a transaction was mined into,
// per the tx: index, or ErrNotFound if it was never mined.
func (s *Store) GetTransactionStatus(txID string) (blockHash string, blockIndex uint64, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		item, getErr := txn.Get(txKey(txID))
		if getErr != nil {
			if errors.Is(getErr, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return getErr
		}
		return item.Value(func(val []byte) error {
			var entry txIndexEntry
			if err := jsonUnmarshal(val, &entry); err != nil {
				return fmt.Errorf("%w: tx:%s: %s", ErrCorrupt, txID, err)
			}
			blockHash = entry.BlockHash
			blockIndex = entry.BlockIndex
			return nil
		})
	})
	return blockHash, blockIndex, err
}

// SavePending persists a pending transaction at pending:{txid}.
func (s *Store) SavePending(tx chain.Transaction) error {
	return s.db.Update(func(txn *badger.Txn) error {
		data, err := jsonMarshal(tx)
		if err != nil {
			return err
		}
		return txn.Set(pendingKey(tx.TxID()), data)
	})
}

// DeletePending removes a single pending transaction.
func (s *Store) DeletePending(tx chain.Transaction) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(pendingKey(tx.TxID()))
	})
}

// ClearPending iterates the pending: range and batch-deletes every entry.
func (s *Store) ClearPending() error {
	return s.db.Update(func(txn *badger.Txn) error {
		lo, _ := prefixBlockRange(prefixPending)
		return deletePrefix(txn, lo)
	})
}

// LoadPending returns every persisted pending transaction.
func (s *Store) LoadPending() ([]chain.Transaction, error) {
	var out []chain.Transaction
	err := s.db.View(func(txn *badger.Txn) error {
		lo, hi := prefixBlockRange(prefixPending)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(lo); it.ValidForPrefix([]byte(prefixPending)); it.Next() {
			item := it.Item()
			if string(item.Key()) > hi {
				break
			}
			err := item.Value(func(val []byte) error {
				var tx chain.Transaction
				if err := jsonUnmarshal(val, &tx); err != nil {
					return fmt.Errorf("%w: %s: %s", ErrCorrupt, item.Key(), err)
				}
				out = append(out, tx)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

// ReplaceChain writes every block of the candidate chain in order. As
// noted in spec.md §9, this does not sweep stale block:/tx: entries left
// behind by the chain it replaces -- see DESIGN.md. Each block is saved in
// its own transaction; an error part-way leaves the earlier blocks
// written.
func (s *Store) ReplaceChain(blocks []chain.Block) error {
	for _, block := range blocks {
		if err := s.SaveBlock(block); err != nil {
			return err
		}
	}
	return nil
}

// SaveContractState persists the raw, caller-serialized state for a
// deployed contract at contract:{address}. The contract manager owns the
// encoding; the store treats it as an opaque blob.
func (s *Store) SaveContractState(address string, data []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(contractKey(address), data)
	})
}

// LoadContractState returns the raw state previously saved for address,
// or ErrNotFound if no contract has been deployed there.
func (s *Store) LoadContractState(address string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(contractKey(address))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			out = append([]byte(nil), val...)
			return nil
		})
	})
	return out, err
}

// SetDifficulty persists the chain's current PoW difficulty at
// meta:difficulty. Nothing in this module reads it back at startup; the
// Ledger takes its difficulty from its Config.
func (s *Store) SetDifficulty(difficulty int) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyDifficulty), []byte(strconv.Itoa(difficulty)))
	})
}

// Difficulty reads the persisted difficulty. It returns ok=false if none
// has ever been saved, letting the caller fall back to a default.
func (s *Store) Difficulty() (difficulty int, ok bool, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		item, getErr := txn.Get([]byte(keyDifficulty))
		if getErr != nil {
			if errors.Is(getErr, badger.ErrKeyNotFound) {
				return nil
			}
			return getErr
		}
		ok = true
		return item.Value(func(val []byte) error {
			n, parseErr := strconv.Atoi(string(val))
			if parseErr != nil {
				return fmt.Errorf("%w: meta:difficulty: %s", ErrCorrupt, parseErr)
			}
			difficulty = n
			return nil
		})
	})
	return difficulty, ok, err
}

// =============================================================================
// key helpers

func blockKey(hash string) []byte    { return []byte(prefixBlock + hash) }
func heightKey(index uint64) []byte  { return []byte(prefixHeight + strconv.FormatUint(index, 10)) }
func txKey(txID string) []byte       { return []byte(prefixTx + txID) }
func pendingKey(txID string) []byte  { return []byte(prefixPending + txID) }
func contractKey(addr string) []byte { return []byte(prefixContract + addr) }

// prefixBlockRange returns the inclusive [prefix:, prefix:\xFF] range used
// for prefix scans, per spec.md §4.5.
func prefixBlockRange(prefix string) (lo []byte, hi string) {
	return []byte(prefix), prefix + "\xFF"
}

func deletePrefix(txn *badger.Txn, lo []byte) error {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	var keys [][]byte
	for it.Seek(lo); it.ValidForPrefix(lo); it.Next() {
		k := it.Item().KeyCopy(nil)
		keys = append(keys, k)
	}
	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}
