// Package gossip implements the message-oriented peer protocol described
// in spec.md §4.6: a websocket server that accepts inbound connections
// and dials outbound ones to seed and discovered peers, exchanging
// HANDSHAKE/GET_CHAIN/CHAIN/NEW_BLOCK/NEW_TX/GET_PEERS/PEERS frames.
package gossip

import (
	"encoding/json"
	"fmt"

	"github.com/ardanlabs/novaledger/internal/chain"
)

// MessageType enumerates the gossip wire protocol's message types, per
// spec.md §4.6.
type MessageType string

// The full gossip message set.
const (
	TypeHandshake MessageType = "HANDSHAKE"
	TypeGetChain  MessageType = "GET_CHAIN"
	TypeChain     MessageType = "CHAIN"
	TypeNewBlock  MessageType = "NEW_BLOCK"
	TypeNewTx     MessageType = "NEW_TX"
	TypeGetPeers  MessageType = "GET_PEERS"
	TypePeers     MessageType = "PEERS"
)

// Message is the wire envelope from spec.md §6.2: a UTF-8 JSON object
// {"type": <string>, "data": <value>} delivered as one framed text
// message per protocol message.
type Message struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// HandshakePayload is the data of a HANDSHAKE message.
type HandshakePayload struct {
	NodeURL     string `json:"node_url"`
	ChainLength uint64 `json:"chain_length"`
	Version     string `json:"version"`
}

// PeersPayload is the data of a PEERS message.
type PeersPayload struct {
	URLs []string `json:"urls"`
}

func encode(msgType MessageType, data any) (Message, error) {
	if data == nil {
		return Message{Type: msgType}, nil
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, fmt.Errorf("gossip: encode %s: %w", msgType, err)
	}

	return Message{Type: msgType, Data: raw}, nil
}

func decodeHandshake(msg Message) (HandshakePayload, error) {
	var p HandshakePayload
	if len(msg.Data) == 0 {
		return p, nil
	}
	err := json.Unmarshal(msg.Data, &p)
	return p, err
}

func decodeChain(msg Message) ([]chain.Block, error) {
	var blocks []chain.Block
	if len(msg.Data) == 0 {
		return blocks, nil
	}
	err := json.Unmarshal(msg.Data, &blocks)
	return blocks, err
}

func decodeBlock(msg Message) (chain.Block, error) {
	var b chain.Block
	if len(msg.Data) == 0 {
		return b, nil
	}
	err := json.Unmarshal(msg.Data, &b)
	return b, err
}

func decodeTransaction(msg Message) (chain.Transaction, error) {
	var tx chain.Transaction
	if len(msg.Data) == 0 {
		return tx, nil
	}
	err := json.Unmarshal(msg.Data, &tx)
	return tx, err
}

func decodePeers(msg Message) (PeersPayload, error) {
	var p PeersPayload
	if len(msg.Data) == 0 {
		return p, nil
	}
	err := json.Unmarshal(msg.Data, &p)
	return p, err
}
