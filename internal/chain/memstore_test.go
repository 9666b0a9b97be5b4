package chain_test

import (
	"sync"

	"github.com/ardanlabs/novaledger/internal/chain"
)

// memStore is a minimal in-memory chain.Store used to exercise the Ledger
// without pulling in the real badger-backed store.
type memStore struct {
	mu      sync.Mutex
	blocks  []chain.Block
	pending map[chain.Fingerprint]chain.Transaction
}

func newMemStore() *memStore {
	return &memStore{pending: make(map[chain.Fingerprint]chain.Transaction)}
}

func (m *memStore) SaveBlock(block chain.Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.blocks = append(m.blocks, block)
	return nil
}

func (m *memStore) LoadChain() ([]chain.Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]chain.Block, len(m.blocks))
	copy(out, m.blocks)
	return out, nil
}

func (m *memStore) SavePending(tx chain.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pending[tx.Fingerprint()] = tx
	return nil
}

func (m *memStore) DeletePending(tx chain.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.pending, tx.Fingerprint())
	return nil
}

func (m *memStore) ClearPending() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pending = make(map[chain.Fingerprint]chain.Transaction)
	return nil
}

func (m *memStore) LoadPending() ([]chain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]chain.Transaction, 0, len(m.pending))
	for _, tx := range m.pending {
		out = append(out, tx)
	}
	return out, nil
}

func (m *memStore) ReplaceChain(blocks []chain.Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.blocks = blocks
	return nil
}
