package chain_test

import (
	"context"
	"strings"
	"testing"

	"github.com/ardanlabs/novaledger/internal/chain"
)

func Test_MineSatisfiesDifficulty(t *testing.T) {
	genesis := chain.NewGenesisBlock()
	b := chain.NewBlock(genesis, nil)

	if err := b.Mine(context.Background(), 2, nil); err != nil {
		t.Fatalf("%s\tmining should succeed: %s", failed, err)
	}

	if !strings.HasPrefix(b.Hash, "00") {
		t.Fatalf("%s\tmined hash should start with 2 zeros, got %s", failed, b.Hash)
	}
	if b.Hash != b.ComputeHash() {
		t.Fatalf("%s\tstored hash should match recomputed hash", failed)
	}
}

func Test_MineCancellation(t *testing.T) {
	genesis := chain.NewGenesisBlock()
	b := chain.NewBlock(genesis, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := b.Mine(ctx, 8, nil); err == nil {
		t.Fatalf("%s\tmining should observe a cancelled context", failed)
	}
}

func Test_RoundTripHashThroughSerialization(t *testing.T) {
	genesis := chain.NewGenesisBlock()
	b := chain.NewBlock(genesis, []chain.Transaction{chain.NewTransaction("", "miner", 50)})
	b.Mine(context.Background(), 1, nil)

	if b.Hash != b.ComputeHash() {
		t.Fatalf("%s\trecomputed hash should match stored hash", failed)
	}
}
