// Package contract implements the deploy/call lifecycle described in
// spec.md §4.8: address derivation, constructor execution on deploy, and
// persistent per-contract storage backed by internal/store. It follows
// the teacher's mutex-guarded manager pattern (foundation/blockchain
// state.State holding a sync.RWMutex over shared tables) generalized
// from account balances to a contract table.
package contract

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"github.com/ardanlabs/novaledger/internal/chain"
	"github.com/ardanlabs/novaledger/internal/vm"
)

// ErrNotFound is returned by Call when the address has no deployed
// contract, neither in memory nor in the store.
var ErrNotFound = errors.New("contract: not found")

// Store is the persistence boundary the manager depends on for contract
// state, mirroring internal/chain.Store's narrow-interface pattern.
type Store interface {
	SaveContractState(address string, data []byte) error
	LoadContractState(address string) ([]byte, error)
}

// Contract is one deployed contract's live state, per spec.md §3: an
// address, its bytecode, the deploying public key, its 256-bit storage,
// the balance it has accumulated from successful calls, and when it was
// created.
type Contract struct {
	Address   string
	Deployer  string
	Bytecode  []byte
	Storage   map[string]*uint256.Int
	Balance   *uint256.Int
	CreatedAt int64
}

// state is the JSON-serializable form persisted to the Store.
type state struct {
	Deployer  string            `json:"deployer"`
	Bytecode  []byte            `json:"bytecode"`
	Storage   map[string]string `json:"storage"`
	Balance   string            `json:"balance"`
	CreatedAt int64             `json:"created_at"`
}

// DeployResult is returned by Deploy.
type DeployResult struct {
	Address string
	GasUsed uint64
}

// CallResult is returned by Call.
type CallResult struct {
	Success    bool
	GasUsed    uint64
	ReturnData []byte
	Logs       []vm.Log
	Err        error
}

// Manager owns the live contract table, per spec.md §3's ownership rule:
// "the Contract manager owns the live contract table."
type Manager struct {
	mu        sync.Mutex
	callMu    sync.Mutex // held across Call to serialize contract state updates
	contracts map[string]*Contract
	nonces    map[string]uint64
	store     Store
	ev        chain.EventHandler
	now       func() time.Time
}

// New constructs an empty contract manager backed by store.
func New(store Store, ev chain.EventHandler) *Manager {
	if ev == nil {
		ev = func(v string, args ...any) {}
	}

	return &Manager{
		contracts: make(map[string]*Contract),
		nonces:    make(map[string]uint64),
		store:     store,
		ev:        ev,
		now:       time.Now,
	}
}

// Deploy accepts either raw bytecode or assembly-like source (compiled
// first, per spec.md §6.3), derives a fresh address, runs the
// constructor with empty calldata, and persists the contract only on
// success.
func (m *Manager) Deploy(deployer string, bytecodeOrSource []byte, isSource bool, gasLimit uint64) (DeployResult, error) {
	bytecode := bytecodeOrSource
	if isSource {
		compiled, err := vm.Compile(string(bytecodeOrSource))
		if err != nil {
			return DeployResult{}, fmt.Errorf("contract: compile: %w", err)
		}
		bytecode = compiled
	}

	m.mu.Lock()
	nonce := m.nonces[deployer]
	m.nonces[deployer] = nonce + 1
	m.mu.Unlock()

	now := m.now()
	address := deriveAddress(deployer, nonce, now)

	res := vm.Execute(bytecode, nil, vm.CallContext{
		Caller:   deployer,
		Value:    uint256.NewInt(0),
		GasLimit: gasLimit,
	})

	if !res.Success {
		m.ev("contract: deploy for %s failed: %s", deployer, res.Err)
		return DeployResult{}, fmt.Errorf("contract: constructor failed: %w", res.Err)
	}

	c := &Contract{
		Address:   address,
		Deployer:  deployer,
		Bytecode:  bytecode,
		Storage:   res.Storage,
		Balance:   uint256.NewInt(0),
		CreatedAt: now.UnixMilli(),
	}

	if err := m.persist(c); err != nil {
		return DeployResult{}, err
	}

	m.mu.Lock()
	m.contracts[address] = c
	m.mu.Unlock()

	return DeployResult{Address: address, GasUsed: res.GasUsed}, nil
}

// Call looks up a contract (in memory, then the Store), runs it with the
// given caller/value/data/gasLimit, and persists on success. On failure,
// no contract state changes.
func (m *Manager) Call(address, caller string, value *uint256.Int, data []byte, gasLimit uint64) (CallResult, error) {
	m.callMu.Lock()
	defer m.callMu.Unlock()

	c, err := m.lookup(address)
	if err != nil {
		return CallResult{}, err
	}

	res := vm.Execute(c.Bytecode, c.Storage, vm.CallContext{
		Caller:   caller,
		Value:    value,
		Data:     data,
		GasLimit: gasLimit,
	})

	if !res.Success {
		return CallResult{Success: false, GasUsed: res.GasUsed, Err: res.Err}, nil
	}

	m.mu.Lock()
	c.Storage = res.Storage
	if value != nil {
		c.Balance = new(uint256.Int).Add(c.Balance, value)
	}
	m.mu.Unlock()

	if err := m.persist(c); err != nil {
		return CallResult{}, err
	}

	return CallResult{
		Success:    true,
		GasUsed:    res.GasUsed,
		ReturnData: res.ReturnData,
		Logs:       res.Logs,
	}, nil
}

// Get returns a deployed contract's current state (bytecode, creator,
// storage, balance, created_at), the read-only counterpart of Deploy/Call
// named in spec.md §6.4's `get_contract` operation.
func (m *Manager) Get(address string) (*Contract, error) {
	return m.lookup(address)
}

// lookup finds a contract in memory first, falling back to the Store and
// caching the result, per spec.md §4.8.
func (m *Manager) lookup(address string) (*Contract, error) {
	m.mu.Lock()
	c, ok := m.contracts[address]
	m.mu.Unlock()
	if ok {
		return c, nil
	}

	data, err := m.store.LoadContractState(address)
	if err != nil {
		return nil, ErrNotFound
	}

	loaded, err := decodeState(address, data)
	if err != nil {
		return nil, fmt.Errorf("contract: decode %s: %w", address, err)
	}

	m.mu.Lock()
	m.contracts[address] = loaded
	m.mu.Unlock()

	return loaded, nil
}

func (m *Manager) persist(c *Contract) error {
	data, err := encodeState(c)
	if err != nil {
		return fmt.Errorf("contract: encode %s: %w", c.Address, err)
	}
	if err := m.store.SaveContractState(c.Address, data); err != nil {
		return fmt.Errorf("contract: persist %s: %w", c.Address, err)
	}
	return nil
}

// deriveAddress implements spec.md §4.8's derivation rule:
// "contract_" || first_40_hex(sha256(deployer || nonce || now_ms)).
func deriveAddress(deployer string, nonce uint64, now time.Time) string {
	payload := fmt.Sprintf("%s%d%d", deployer, nonce, now.UnixMilli())
	digest := sha256.Sum256([]byte(payload))
	return "contract_" + hex.EncodeToString(digest[:])[:40]
}

// encodeState serializes c for the Store. Per spec.md §6.1, integers that
// exceed 53 bits -- every VM storage value and the balance -- are always
// serialized as decimal strings, never hex or JSON numbers, matching the
// HTTP façade's contractView in internal/api.
func encodeState(c *Contract) ([]byte, error) {
	storage := make(map[string]string, len(c.Storage))
	for k, v := range c.Storage {
		storage[k] = v.Dec()
	}

	balance := c.Balance
	if balance == nil {
		balance = uint256.NewInt(0)
	}

	return json.Marshal(state{
		Deployer:  c.Deployer,
		Bytecode:  c.Bytecode,
		Storage:   storage,
		Balance:   balance.Dec(),
		CreatedAt: c.CreatedAt,
	})
}

func decodeState(address string, data []byte) (*Contract, error) {
	var s state
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}

	storage := make(map[string]*uint256.Int, len(s.Storage))
	for k, v := range s.Storage {
		n, err := uint256.FromDecimal(v)
		if err != nil {
			return nil, fmt.Errorf("bad storage value %q: %w", v, err)
		}
		storage[k] = n
	}

	balance := uint256.NewInt(0)
	if s.Balance != "" {
		n, err := uint256.FromDecimal(s.Balance)
		if err != nil {
			return nil, fmt.Errorf("bad balance %q: %w", s.Balance, err)
		}
		balance = n
	}

	return &Contract{
		Address:   address,
		Deployer:  s.Deployer,
		Bytecode:  s.Bytecode,
		Storage:   storage,
		Balance:   balance,
		CreatedAt: s.CreatedAt,
	}, nil
}
