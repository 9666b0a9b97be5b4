package gossip

import (
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Peer represents one connected or known remote node, identified by its
// node_url per spec.md §4.6. Generalized from the teacher's
// foundation/blockchain/peer.Peer, which carries only a Host. SessionID
// is a fresh id per connection, used to correlate this peer's log lines
// across handshake, dispatch, and close, the way the teacher correlates
// a request's log lines with a trace id.
type Peer struct {
	NodeURL   string
	SessionID string
	conn      *websocket.Conn
	mu        sync.Mutex
}

// newPeer wraps conn in a Peer with a freshly generated session id.
func newPeer(conn *websocket.Conn) *Peer {
	return &Peer{SessionID: uuid.NewString(), conn: conn}
}

// Match reports whether this peer's URL equals the supplied one, mirroring
// the teacher's Peer.Match.
func (p *Peer) Match(nodeURL string) bool {
	return p.NodeURL == nodeURL
}

// send serializes and writes msg to the peer's connection. A write error
// is returned to the caller; broadcasts only log it, and the peer leaves
// the connected set when its connection's read loop ends.
func (p *Peer) send(msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.conn.WriteJSON(msg)
}

func (p *Peer) close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.conn.Close()
}

// PeerSet is the connected-peer table, keyed by node_url per spec.md
// §4.6's handshake protocol. Generalized from the teacher's
// foundation/blockchain/peer.PeerSet to also track known-but-unconnected
// peer URLs for reconnection.
type PeerSet struct {
	mu        sync.RWMutex
	connected map[string]*Peer
	known     map[string]struct{}
}

// NewPeerSet constructs an empty peer set.
func NewPeerSet() *PeerSet {
	return &PeerSet{
		connected: make(map[string]*Peer),
		known:     make(map[string]struct{}),
	}
}

// AddConnected records an established connection, keyed by node_url.
// Returns false if a connection for that URL already exists.
func (ps *PeerSet) AddConnected(peer *Peer) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if _, exists := ps.connected[peer.NodeURL]; exists {
		return false
	}

	ps.connected[peer.NodeURL] = peer
	ps.known[peer.NodeURL] = struct{}{}
	return true
}

// RemoveConnected drops a connected peer, leaving its URL in the known set
// for later reconnection, per spec.md §4.6.
func (ps *PeerSet) RemoveConnected(nodeURL string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	delete(ps.connected, nodeURL)
}

// IsConnected reports whether nodeURL currently has an open connection.
func (ps *PeerSet) IsConnected(nodeURL string) bool {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	_, ok := ps.connected[nodeURL]
	return ok
}

// AddKnown records nodeURL as a discovered peer worth retrying, without
// requiring an active connection.
func (ps *PeerSet) AddKnown(nodeURL string) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if _, exists := ps.known[nodeURL]; exists {
		return false
	}

	ps.known[nodeURL] = struct{}{}
	return true
}

// Connected returns a snapshot of every currently connected peer.
func (ps *PeerSet) Connected() []*Peer {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	peers := make([]*Peer, 0, len(ps.connected))
	for _, p := range ps.connected {
		peers = append(peers, p)
	}
	return peers
}

// Known returns every known peer URL not currently connected, the set the
// reconnection timer retries.
func (ps *PeerSet) Known() []string {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	var urls []string
	for url := range ps.known {
		if _, connected := ps.connected[url]; !connected {
			urls = append(urls, url)
		}
	}
	return urls
}

// URLs returns every connected peer's URL, the payload of a PEERS
// response.
func (ps *PeerSet) URLs() []string {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	urls := make([]string, 0, len(ps.connected))
	for url := range ps.connected {
		urls = append(urls, url)
	}
	return urls
}
