// Package api exposes the core → HTTP façade contract surface named in
// spec.md §6.4: the operations an external HTTP façade needs from the
// Ledger, Gossip and Contract manager. The façade itself is out of
// scope; this package is the thin, direct surface it would call through,
// built the teacher's way (foundation/web's httptreemux + validator
// stack, referenced from app/services/node/handlers) rather than
// reconstructing the teacher's full middleware chain, which spec.md §1
// explicitly excludes.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/dimfeld/httptreemux/v5"
	"github.com/go-playground/validator/v10"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/ardanlabs/novaledger/internal/chain"
	"github.com/ardanlabs/novaledger/internal/contract"
	"github.com/ardanlabs/novaledger/internal/gossip"
)

var validate = validator.New()

// TransactionStatusStore is the narrow lookup the transaction-status
// endpoint needs; internal/store.Store satisfies it.
type TransactionStatusStore interface {
	GetTransactionStatus(txID string) (blockHash string, blockIndex uint64, err error)
}

// Config wires the dependencies the façade surface needs.
type Config struct {
	Log      *zap.SugaredLogger
	Ledger   *chain.Ledger
	Gossip   *gossip.Server
	Contract *contract.Manager
	Store    TransactionStatusStore
}

// Handler implements http.Handler, routing the spec.md §6.4 operations
// onto a httptreemux router, mirroring the teacher's web.NewApp /
// app.Handle pattern in app/services/node/handlers.handlers.go.
type Handler struct {
	cfg    Config
	router *httptreemux.TreeMux
}

// New constructs the façade-contract router.
func New(cfg Config) *Handler {
	h := &Handler{cfg: cfg, router: httptreemux.New()}
	h.routes()
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) routes() {
	h.router.POST("/v1/tx", h.addTransaction)
	h.router.POST("/v1/mine", h.minePending)
	h.router.GET("/v1/balance/:address", h.balance)
	h.router.GET("/v1/transactions/:address", h.transactionsFor)
	h.router.GET("/v1/chain/valid", h.isChainValid)
	h.router.GET("/v1/tx/:txid/status", h.transactionStatus)
	h.router.GET("/v1/peers", h.getPeers)
	h.router.POST("/v1/contracts", h.deployContract)
	h.router.GET("/v1/contracts/:address", h.getContract)
	h.router.POST("/v1/contracts/:address/call", h.callContract)
}

// =============================================================================
// request/response payloads

type transactionRequest struct {
	Sender    string `json:"sender" validate:"omitempty"`
	Receiver  string `json:"receiver" validate:"required"`
	Amount    uint64 `json:"amount" validate:"required,gt=0"`
	Timestamp int64  `json:"timestamp"`
	Signature string `json:"signature"`
}

type mineRequest struct {
	Miner string `json:"miner" validate:"required"`
}

type deployRequest struct {
	Deployer string `json:"deployer" validate:"required"`
	Source   string `json:"source"`
	Bytecode []byte `json:"bytecode"`
	GasLimit uint64 `json:"gas_limit"`
}

type callRequest struct {
	Caller   string `json:"caller" validate:"required"`
	Value    uint64 `json:"value"`
	Data     []byte `json:"data"`
	GasLimit uint64 `json:"gas_limit"`
}

// =============================================================================
// handlers

func (h *Handler) addTransaction(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req transactionRequest
	if !decode(w, r, &req) {
		return
	}

	tx := chain.Transaction{
		Sender:    req.Sender,
		Receiver:  req.Receiver,
		Amount:    req.Amount,
		Timestamp: req.Timestamp,
		Signature: req.Signature,
	}

	if err := h.cfg.Ledger.AddTransaction(tx); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	if h.cfg.Gossip != nil {
		h.cfg.Gossip.BroadcastTransaction(tx)
	}

	respond(w, http.StatusAccepted, map[string]string{"txid": tx.TxID()})
}

func (h *Handler) minePending(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req mineRequest
	if !decode(w, r, &req) {
		return
	}

	block, err := h.cfg.Ledger.MinePending(r.Context(), req.Miner)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	if h.cfg.Gossip != nil {
		h.cfg.Gossip.BroadcastBlock(block)
	}

	respond(w, http.StatusOK, block)
}

func (h *Handler) balance(w http.ResponseWriter, r *http.Request, params map[string]string) {
	balance := h.cfg.Ledger.Balance(params["address"])
	respond(w, http.StatusOK, map[string]int64{"balance": balance})
}

func (h *Handler) transactionsFor(w http.ResponseWriter, r *http.Request, params map[string]string) {
	records := h.cfg.Ledger.TransactionsFor(params["address"])
	respond(w, http.StatusOK, records)
}

func (h *Handler) isChainValid(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	respond(w, http.StatusOK, map[string]bool{"valid": h.cfg.Ledger.IsChainValid()})
}

func (h *Handler) transactionStatus(w http.ResponseWriter, r *http.Request, params map[string]string) {
	if h.cfg.Store == nil {
		respondError(w, http.StatusServiceUnavailable, errors.New("api: no store wired for transaction status lookups"))
		return
	}

	blockHash, blockIndex, err := h.cfg.Store.GetTransactionStatus(params["txid"])
	if err != nil {
		respondError(w, http.StatusNotFound, err)
		return
	}

	respond(w, http.StatusOK, map[string]any{"block_hash": blockHash, "block_index": blockIndex})
}

func (h *Handler) getPeers(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if h.cfg.Gossip == nil {
		respond(w, http.StatusOK, map[string]int{"peers": 0})
		return
	}
	respond(w, http.StatusOK, map[string]int{"peers": h.cfg.Gossip.PeerCount()})
}

func (h *Handler) deployContract(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req deployRequest
	if !decode(w, r, &req) {
		return
	}

	payload := req.Bytecode
	isSource := false
	if req.Source != "" {
		payload = []byte(req.Source)
		isSource = true
	}

	result, err := h.cfg.Contract.Deploy(req.Deployer, payload, isSource, req.GasLimit)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	respond(w, http.StatusCreated, result)
}

func (h *Handler) callContract(w http.ResponseWriter, r *http.Request, params map[string]string) {
	var req callRequest
	if !decode(w, r, &req) {
		return
	}

	result, err := h.cfg.Contract.Call(params["address"], req.Caller, uint256.NewInt(req.Value), req.Data, req.GasLimit)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	respond(w, http.StatusOK, result)
}

// contractView is the JSON-friendly form of a contract.Contract: 256-bit
// values are rendered as decimal strings, per spec.md §4's serialization
// rule for values that can exceed 53 bits.
type contractView struct {
	Address   string            `json:"address"`
	Deployer  string            `json:"deployer"`
	Bytecode  []byte            `json:"bytecode"`
	Storage   map[string]string `json:"storage"`
	Balance   string            `json:"balance"`
	CreatedAt int64             `json:"created_at"`
}

func (h *Handler) getContract(w http.ResponseWriter, r *http.Request, params map[string]string) {
	c, err := h.cfg.Contract.Get(params["address"])
	if err != nil {
		respondError(w, http.StatusNotFound, err)
		return
	}

	storage := make(map[string]string, len(c.Storage))
	for k, v := range c.Storage {
		storage[k] = v.Dec()
	}

	respond(w, http.StatusOK, contractView{
		Address:   c.Address,
		Deployer:  c.Deployer,
		Bytecode:  c.Bytecode,
		Storage:   storage,
		Balance:   c.Balance.Dec(),
		CreatedAt: c.CreatedAt,
	})
}

// =============================================================================
// decode/respond helpers

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Errorf("api: decode request: %w", err))
		return false
	}
	if err := validate.Struct(v); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Errorf("api: validate request: %w", err))
		return false
	}
	return true
}

func respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respond(w, status, map[string]string{"error": err.Error()})
}
