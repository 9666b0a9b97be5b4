package chain_test

import (
	"context"
	"testing"

	"github.com/ardanlabs/novaledger/internal/chain"
	"github.com/ardanlabs/novaledger/internal/crypto"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

func newTestLedger(t *testing.T) *chain.Ledger {
	t.Helper()

	l, err := chain.New(chain.Config{
		Difficulty:   1,
		MiningReward: 50,
		Store:        newMemStore(),
	})
	if err != nil {
		t.Fatalf("%s\tshould be able to construct a ledger: %s", failed, err)
	}
	return l
}

func Test_GenesisMining(t *testing.T) {
	l := newTestLedger(t)

	_, minerPub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("%s\tshould be able to generate a keypair: %s", failed, err)
	}

	if _, err := l.MinePending(context.Background(), minerPub); err != nil {
		t.Fatalf("%s\tshould be able to mine the reward: %s", failed, err)
	}

	if got := l.Balance(minerPub); got != 50 {
		t.Fatalf("%s\tshould have a balance of 50, got %d", failed, got)
	}
	t.Logf("%s\tminer balance is 50", success)

	if got := l.Length(); got != 2 {
		t.Fatalf("%s\tshould have 2 blocks (genesis + reward), got %d", failed, got)
	}

	if !l.IsChainValid() {
		t.Fatalf("%s\tchain should be valid", failed)
	}
}

func Test_Transfer(t *testing.T) {
	l := newTestLedger(t)

	minerPriv, minerPub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("%s\tshould be able to generate a keypair: %s", failed, err)
	}
	if _, err := l.MinePending(context.Background(), minerPub); err != nil {
		t.Fatalf("%s\tshould be able to mine: %s", failed, err)
	}

	_, receiverPub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("%s\tshould be able to generate a keypair: %s", failed, err)
	}

	tx := chain.NewTransaction(minerPub, receiverPub, 25)
	if err := tx.Sign(minerPriv); err != nil {
		t.Fatalf("%s\tshould be able to sign: %s", failed, err)
	}

	if err := l.AddTransaction(tx); err != nil {
		t.Fatalf("%s\tshould accept a valid, funded transfer: %s", failed, err)
	}

	if _, err := l.MinePending(context.Background(), minerPub); err != nil {
		t.Fatalf("%s\tshould be able to mine: %s", failed, err)
	}

	if got := l.Balance(minerPub); got != 75 {
		t.Fatalf("%s\tminer should have 75 (50+50-25), got %d", failed, got)
	}
	if got := l.Balance(receiverPub); got != 25 {
		t.Fatalf("%s\treceiver should have 25, got %d", failed, got)
	}
	t.Logf("%s\tbalances match after transfer", success)
}

func Test_InvalidSignatureRejected(t *testing.T) {
	l := newTestLedger(t)

	minerPriv, minerPub, _ := crypto.GenerateKeyPair()
	l.MinePending(context.Background(), minerPub)

	_, receiverPub, _ := crypto.GenerateKeyPair()
	otherPriv, _, _ := crypto.GenerateKeyPair()
	_ = minerPriv

	tx := chain.NewTransaction(minerPub, receiverPub, 10)
	if err := tx.Sign(otherPriv); err != nil {
		t.Fatalf("%s\tshould be able to sign with the wrong key: %s", failed, err)
	}

	before := l.PendingCount()
	if err := l.AddTransaction(tx); err == nil {
		t.Fatalf("%s\texpected rejection of a mis-signed transaction", failed)
	}
	if l.PendingCount() != before {
		t.Fatalf("%s\tpending pool should be unchanged", failed)
	}
	t.Logf("%s\tmis-signed transaction rejected", success)
}

func Test_InsufficientBalanceRejected(t *testing.T) {
	l := newTestLedger(t)

	senderPriv, senderPub, _ := crypto.GenerateKeyPair()
	_, receiverPub, _ := crypto.GenerateKeyPair()

	tx := chain.NewTransaction(senderPub, receiverPub, 1_000_000)
	if err := tx.Sign(senderPriv); err != nil {
		t.Fatalf("%s\tshould be able to sign: %s", failed, err)
	}

	if err := l.AddTransaction(tx); err == nil {
		t.Fatalf("%s\texpected insufficient balance rejection", failed)
	}
}

func Test_AddBlockRejectsBadParent(t *testing.T) {
	l := newTestLedger(t)

	bad := chain.NewBlock(chain.NewGenesisBlock(), nil)
	bad.Header.PreviousHash = "not-the-tip"
	bad.Hash = bad.ComputeHash()

	if err := l.AddBlock(bad); err == nil {
		t.Fatalf("%s\texpected rejection of a block with a bad parent hash", failed)
	}
	t.Logf("%s\tblock with mismatched previous_hash rejected", success)
}

func Test_ReplaceChainRejectsShorterOrEqual(t *testing.T) {
	l := newTestLedger(t)

	_, minerPub, _ := crypto.GenerateKeyPair()
	l.MinePending(context.Background(), minerPub)

	same := l.Blocks()
	if err := l.ReplaceChain(same); err == nil {
		t.Fatalf("%s\texpected rejection of a same-length candidate", failed)
	}
	t.Logf("%s\tequal-length candidate rejected", success)
}

func Test_ForkResolution(t *testing.T) {
	// Node A mines one block from genesis; Node B mines two. B's chain
	// should win when offered to A via ReplaceChain.
	genesisA := chain.NewGenesisBlock()

	blockA1 := chain.NewBlock(genesisA, nil)
	if err := blockA1.Mine(context.Background(), 1, nil); err != nil {
		t.Fatalf("%s\tshould mine block A1: %s", failed, err)
	}

	blockB1 := chain.NewBlock(genesisA, nil)
	if err := blockB1.Mine(context.Background(), 1, nil); err != nil {
		t.Fatalf("%s\tshould mine block B1: %s", failed, err)
	}
	blockB2 := chain.NewBlock(blockB1, nil)
	if err := blockB2.Mine(context.Background(), 1, nil); err != nil {
		t.Fatalf("%s\tshould mine block B2: %s", failed, err)
	}

	storeA := newMemStore()
	ledgerA, err := chain.New(chain.Config{Difficulty: 1, Store: storeA})
	if err != nil {
		t.Fatalf("%s\tshould construct ledger A: %s", failed, err)
	}
	// Align genesis so the chains are comparable.
	storeA.blocks[0] = genesisA
	ledgerA.ReplaceChain([]chain.Block{genesisA, blockA1})

	bChain := []chain.Block{genesisA, blockB1, blockB2}
	if err := ledgerA.ReplaceChain(bChain); err != nil {
		t.Fatalf("%s\tB's longer chain should be accepted: %s", failed, err)
	}

	if got := ledgerA.Length(); got != 3 {
		t.Fatalf("%s\texpected chain length 3 after fork resolution, got %d", failed, got)
	}
	t.Logf("%s\tlonger chain from B replaced A's chain", success)
}
