package gossip

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ardanlabs/novaledger/internal/chain"
)

// ProtocolVersion is advertised in every HANDSHAKE message.
const ProtocolVersion = "1"

const (
	reconnectInterval = 30 * time.Second
	pingInterval      = 20 * time.Second
	pongWait          = 60 * time.Second
	writeWait         = 10 * time.Second
)

// ErrSelfConnection is returned when a peer's advertised node_url matches
// our own, per spec.md §4.6's handshake rejection rule.
var ErrSelfConnection = errors.New("gossip: rejected self connection")

// blockKey identifies a block for dedup purposes, per spec.md §4.6's
// "dedup blocks by (index, hash)" idempotency rule.
type blockKey struct {
	index uint64
	hash  string
}

// Server runs the gossip protocol described in spec.md §4.6: it accepts
// inbound websocket connections, dials outbound ones to seed and
// discovered peers, and keeps the local Ledger in sync via broadcast and
// request/response messages. Grounded on the teacher's websocket usage in
// app/services/node/handlers/v1/public/public.go (Upgrader, ping/pong)
// and its peer.PeerSet (foundation/blockchain/peer/peer.go), generalized
// from HTTP server-sent events to a bidirectional framed protocol.
type Server struct {
	NodeURL string
	Seeds   []string

	ledger *chain.Ledger
	ev     chain.EventHandler

	upgrader websocket.Upgrader
	peers    *PeerSet

	mu         sync.Mutex
	seenBlocks map[blockKey]struct{}
	seenTx     map[chain.Fingerprint]struct{}
}

// NewServer constructs a gossip server bound to the given ledger.
func NewServer(nodeURL string, seeds []string, ledger *chain.Ledger, ev chain.EventHandler) *Server {
	if ev == nil {
		ev = func(v string, args ...any) {}
	}

	return &Server{
		NodeURL:    nodeURL,
		Seeds:      seeds,
		ledger:     ledger,
		ev:         ev,
		upgrader:   websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		peers:      NewPeerSet(),
		seenBlocks: make(map[blockKey]struct{}),
		seenTx:     make(map[chain.Fingerprint]struct{}),
	}
}

// ServeHTTP upgrades an inbound HTTP request to a websocket connection and
// runs the gossip protocol over it until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.ev("gossip: upgrade failed: %s", err)
		return
	}

	s.handleConnection(conn)
}

// Dial opens an outbound connection to a peer's gossip address and runs
// the protocol over it. addr is a ws:// or wss:// URL.
func (s *Server) Dial(addr string) error {
	conn, _, err := websocket.DefaultDialer.Dial(addr, nil)
	if err != nil {
		return fmt.Errorf("gossip: dial %s: %w", addr, err)
	}

	go s.handleConnection(conn)
	return nil
}

// Run starts the background discovery and reconnection loop described in
// spec.md §4.6: it dials every seed once, then retries unconnected known
// peers on a ~30s ticker until ctx is cancelled.
func (s *Server) Run(ctx context.Context) {
	s.connectSeeds()

	ticker := time.NewTicker(reconnectInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reconnectKnown()
		}
	}
}

func (s *Server) connectSeeds() {
	for _, seed := range s.Seeds {
		if seed == s.NodeURL {
			continue
		}
		if err := s.Dial(seed); err != nil {
			s.ev("gossip: seed dial failed: %s", err)
		}
	}
}

func (s *Server) reconnectKnown() {
	for _, url := range s.peers.Known() {
		if err := s.Dial(url); err != nil {
			s.ev("gossip: reconnect failed for %s: %s", url, err)
		}
	}
}

// handleConnection runs the full lifecycle of one connection: handshake,
// then a read loop dispatching each incoming message, until the
// connection closes or errors.
func (s *Server) handleConnection(conn *websocket.Conn) {
	peer := newPeer(conn)
	s.ev("gossip: session[%s]: connection opened", peer.SessionID)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	if err := s.handshake(peer); err != nil {
		s.ev("gossip: session[%s]: handshake failed: %s", peer.SessionID, err)
		conn.Close()
		return
	}

	stopPing := s.startPing(peer)
	defer stopPing()

	defer func() {
		s.peers.RemoveConnected(peer.NodeURL)
		peer.close()
		s.ev("gossip: session[%s]: connection closed", peer.SessionID)
	}()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}

		if err := s.dispatch(peer, msg); err != nil {
			s.ev("gossip: session[%s]: message from %s dropped: %s", peer.SessionID, peer.NodeURL, err)
		}
	}
}

// handshake sends our HANDSHAKE and waits for the peer's, enforcing the
// rules in spec.md §4.6.
func (s *Server) handshake(peer *Peer) error {
	out, err := encode(TypeHandshake, HandshakePayload{
		NodeURL:     s.NodeURL,
		ChainLength: uint64(s.ledger.Length()),
		Version:     ProtocolVersion,
	})
	if err != nil {
		return err
	}
	if err := peer.send(out); err != nil {
		return err
	}

	var in Message
	if err := peer.conn.ReadJSON(&in); err != nil {
		return fmt.Errorf("gossip: reading handshake: %w", err)
	}
	if in.Type != TypeHandshake {
		return fmt.Errorf("gossip: expected HANDSHAKE, got %s", in.Type)
	}

	payload, err := decodeHandshake(in)
	if err != nil {
		return fmt.Errorf("gossip: malformed handshake: %w", err)
	}
	if payload.NodeURL == s.NodeURL {
		return ErrSelfConnection
	}

	peer.NodeURL = payload.NodeURL
	s.peers.AddConnected(peer)

	if payload.ChainLength > uint64(s.ledger.Length()) {
		if err := s.sendGetChain(peer); err != nil {
			return err
		}
	}

	return s.sendGetPeers(peer)
}

func (s *Server) startPing(peer *Peer) (stop func()) {
	ticker := time.NewTicker(pingInterval)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				peer.mu.Lock()
				peer.conn.SetWriteDeadline(time.Now().Add(writeWait))
				err := peer.conn.WriteMessage(websocket.PingMessage, nil)
				peer.mu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	return func() {
		ticker.Stop()
		close(done)
	}
}

// dispatch routes one decoded message to its handler, per spec.md §4.6's
// message set.
func (s *Server) dispatch(peer *Peer, msg Message) error {
	switch msg.Type {
	case TypeGetChain:
		return s.sendChain(peer)

	case TypeChain:
		blocks, err := decodeChain(msg)
		if err != nil {
			return err
		}
		return s.handleChain(blocks)

	case TypeNewBlock:
		block, err := decodeBlock(msg)
		if err != nil {
			return err
		}
		return s.handleNewBlock(block)

	case TypeNewTx:
		tx, err := decodeTransaction(msg)
		if err != nil {
			return err
		}
		return s.handleNewTx(tx)

	case TypeGetPeers:
		return s.sendPeers(peer)

	case TypePeers:
		payload, err := decodePeers(msg)
		if err != nil {
			return err
		}
		s.handlePeers(payload)
		return nil

	default:
		s.ev("gossip: unknown message type %q, ignoring", msg.Type)
		return nil
	}
}

func (s *Server) sendGetChain(peer *Peer) error {
	msg, err := encode(TypeGetChain, nil)
	if err != nil {
		return err
	}
	return peer.send(msg)
}

func (s *Server) sendChain(peer *Peer) error {
	msg, err := encode(TypeChain, s.ledger.Blocks())
	if err != nil {
		return err
	}
	return peer.send(msg)
}

func (s *Server) sendGetPeers(peer *Peer) error {
	msg, err := encode(TypeGetPeers, nil)
	if err != nil {
		return err
	}
	return peer.send(msg)
}

func (s *Server) sendPeers(peer *Peer) error {
	msg, err := encode(TypePeers, PeersPayload{URLs: s.peers.URLs()})
	if err != nil {
		return err
	}
	return peer.send(msg)
}

// handleChain attempts to adopt a received candidate chain if it is
// longer than ours, per spec.md §4's longest-chain resolution rule.
func (s *Server) handleChain(blocks []chain.Block) error {
	if len(blocks) <= s.ledger.Length() {
		return nil
	}

	if err := s.ledger.ReplaceChain(blocks); err != nil {
		return fmt.Errorf("gossip: replace chain: %w", err)
	}

	s.markChainSeen(blocks)
	return nil
}

// handleNewBlock applies an idempotent, dedup-by-(index,hash) append of a
// single incoming block.
func (s *Server) handleNewBlock(block chain.Block) error {
	key := blockKey{index: block.Header.Index, hash: block.Hash}

	s.mu.Lock()
	_, seen := s.seenBlocks[key]
	if !seen {
		s.seenBlocks[key] = struct{}{}
	}
	s.mu.Unlock()

	if seen {
		return nil
	}

	if err := s.ledger.AddBlock(block); err != nil {
		if errors.Is(err, chain.ErrBlockRejected) {
			// Our tip may be behind; ask every peer for their chain.
			s.broadcastGetChain()
			return nil
		}
		return err
	}

	s.BroadcastBlock(block)
	return nil
}

func (s *Server) broadcastGetChain() {
	for _, peer := range s.peers.Connected() {
		s.sendGetChain(peer)
	}
}

// handleNewTx applies an idempotent, dedup-by-fingerprint add of an
// incoming transaction to the pending pool.
func (s *Server) handleNewTx(tx chain.Transaction) error {
	fp := tx.Fingerprint()

	s.mu.Lock()
	_, seen := s.seenTx[fp]
	if !seen {
		s.seenTx[fp] = struct{}{}
	}
	s.mu.Unlock()

	if seen {
		return nil
	}

	if err := s.ledger.AddReceivedTransaction(tx); err != nil {
		return err
	}

	s.BroadcastTransaction(tx)
	return nil
}

func (s *Server) handlePeers(payload PeersPayload) {
	added := false
	for _, url := range payload.URLs {
		if url == s.NodeURL {
			continue
		}
		if s.peers.AddKnown(url) {
			added = true
		}
	}

	if added {
		s.reconnectKnown()
	}
}

func (s *Server) markChainSeen(blocks []chain.Block) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range blocks {
		s.seenBlocks[blockKey{index: b.Header.Index, hash: b.Hash}] = struct{}{}
	}
}

// BroadcastBlock sends a NEW_BLOCK message to every connected peer.
// Failures are silent, per spec.md §4.6: a failed send just drops that
// peer on its next close event.
func (s *Server) BroadcastBlock(block chain.Block) {
	msg, err := encode(TypeNewBlock, block)
	if err != nil {
		s.ev("gossip: encode block broadcast: %s", err)
		return
	}

	s.mu.Lock()
	s.seenBlocks[blockKey{index: block.Header.Index, hash: block.Hash}] = struct{}{}
	s.mu.Unlock()

	for _, peer := range s.peers.Connected() {
		if err := peer.send(msg); err != nil {
			s.ev("gossip: broadcast block to %s failed: %s", peer.NodeURL, err)
		}
	}
}

// BroadcastTransaction sends a NEW_TX message to every connected peer.
func (s *Server) BroadcastTransaction(tx chain.Transaction) {
	msg, err := encode(TypeNewTx, tx)
	if err != nil {
		s.ev("gossip: encode tx broadcast: %s", err)
		return
	}

	s.mu.Lock()
	s.seenTx[tx.Fingerprint()] = struct{}{}
	s.mu.Unlock()

	for _, peer := range s.peers.Connected() {
		if err := peer.send(msg); err != nil {
			s.ev("gossip: broadcast tx to %s failed: %s", peer.NodeURL, err)
		}
	}
}

// PeerCount returns the number of currently connected peers.
func (s *Server) PeerCount() int {
	return len(s.peers.Connected())
}
