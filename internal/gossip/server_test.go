package gossip_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ardanlabs/novaledger/internal/chain"
	"github.com/ardanlabs/novaledger/internal/gossip"
)

const (
	success = "✓"
	failed  = "✗"
)

type memStore struct {
	blocks  []chain.Block
	pending map[chain.Fingerprint]chain.Transaction
}

func newMemStore() *memStore { return &memStore{pending: make(map[chain.Fingerprint]chain.Transaction)} }

func (m *memStore) SaveBlock(b chain.Block) error { m.blocks = append(m.blocks, b); return nil }
func (m *memStore) LoadChain() ([]chain.Block, error) {
	out := make([]chain.Block, len(m.blocks))
	copy(out, m.blocks)
	return out, nil
}
func (m *memStore) SavePending(tx chain.Transaction) error {
	m.pending[tx.Fingerprint()] = tx
	return nil
}
func (m *memStore) DeletePending(tx chain.Transaction) error {
	delete(m.pending, tx.Fingerprint())
	return nil
}
func (m *memStore) ClearPending() error { m.pending = make(map[chain.Fingerprint]chain.Transaction); return nil }
func (m *memStore) LoadPending() ([]chain.Transaction, error) {
	out := make([]chain.Transaction, 0, len(m.pending))
	for _, tx := range m.pending {
		out = append(out, tx)
	}
	return out, nil
}
func (m *memStore) ReplaceChain(blocks []chain.Block) error { m.blocks = blocks; return nil }

func newTestLedger(t *testing.T) *chain.Ledger {
	t.Helper()

	l, err := chain.New(chain.Config{
		Difficulty:    1,
		MiningReward:  chain.DefaultMiningReward,
		TransPerBlock: chain.DefaultTransPerBlock,
		Store:         newMemStore(),
	})
	if err != nil {
		t.Fatalf("%s\tconstructing ledger should succeed: %s", failed, err)
	}
	return l
}

func Test_HandshakeRejectsSelf(t *testing.T) {
	ledgerA := newTestLedger(t)
	srvA := gossip.NewServer("ws://node-a", nil, ledgerA, nil)

	httpSrv := httptest.NewServer(srvA)
	defer httpSrv.Close()

	wsURL := "ws://" + strings.TrimPrefix(httpSrv.URL, "http://")

	ledgerB := newTestLedger(t)
	srvB := gossip.NewServer("ws://node-a", nil, ledgerB, nil)

	// Dialing with the same advertised node_url should be rejected by the
	// remote side and the connection closed; Dial itself only fails if the
	// TCP/websocket handshake fails, so we just give the remote time to
	// reject and confirm no peer was recorded on either side.
	if err := srvB.Dial(wsURL); err != nil {
		t.Fatalf("%s\tdial should succeed at the transport level: %s", failed, err)
	}

	time.Sleep(100 * time.Millisecond)

	if srvA.PeerCount() != 0 {
		t.Fatalf("%s\tself connection should not be recorded as a peer", failed)
	}
	if srvB.PeerCount() != 0 {
		t.Fatalf("%s\tself connection should not be recorded as a peer on the dialing side", failed)
	}
}

func Test_HandshakeSyncsLongerChain(t *testing.T) {
	ledgerA := newTestLedger(t)
	ctx := context.Background()
	if _, err := ledgerA.MinePending(ctx, "miner-a"); err != nil {
		t.Fatalf("%s\tmining should succeed: %s", failed, err)
	}

	srvA := gossip.NewServer("ws://node-a", nil, ledgerA, nil)
	httpSrv := httptest.NewServer(srvA)
	defer httpSrv.Close()
	wsURL := "ws://" + strings.TrimPrefix(httpSrv.URL, "http://")

	ledgerB := newTestLedger(t)
	srvB := gossip.NewServer("ws://node-b", nil, ledgerB, nil)

	if err := srvB.Dial(wsURL); err != nil {
		t.Fatalf("%s\tdial should succeed: %s", failed, err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for ledgerB.Length() < ledgerA.Length() && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}

	if ledgerB.Length() != ledgerA.Length() {
		t.Fatalf("%s\tnode-b should have synced node-a's longer chain, got length %d want %d", failed, ledgerB.Length(), ledgerA.Length())
	}

	t.Logf("%s\thandshake triggered GET_CHAIN and adopted the longer chain", success)
}

func Test_BroadcastTransactionPropagates(t *testing.T) {
	ledgerA := newTestLedger(t)
	srvA := gossip.NewServer("ws://node-a", nil, ledgerA, nil)
	httpSrv := httptest.NewServer(srvA)
	defer httpSrv.Close()
	wsURL := "ws://" + strings.TrimPrefix(httpSrv.URL, "http://")

	ledgerB := newTestLedger(t)
	srvB := gossip.NewServer("ws://node-b", nil, ledgerB, nil)

	if err := srvB.Dial(wsURL); err != nil {
		t.Fatalf("%s\tdial should succeed: %s", failed, err)
	}
	time.Sleep(100 * time.Millisecond)

	tx := chain.NewTransaction("", "miner-b", 50)
	srvA.BroadcastTransaction(tx)

	deadline := time.Now().Add(2 * time.Second)
	for ledgerB.PendingCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}

	if ledgerB.PendingCount() != 1 {
		t.Fatalf("%s\tnode-b should have received the broadcast transaction", failed)
	}
}
