package gossip

import (
	"encoding/json"
	"testing"

	"github.com/ardanlabs/novaledger/internal/chain"
)

const (
	success = "✓"
	failed  = "✗"
)

func Test_EncodeDecodeHandshake(t *testing.T) {
	msg, err := encode(TypeHandshake, HandshakePayload{NodeURL: "ws://a:1001", ChainLength: 3, Version: ProtocolVersion})
	if err != nil {
		t.Fatalf("%s\tencoding handshake should succeed: %s", failed, err)
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("%s\tmarshaling envelope should succeed: %s", failed, err)
	}

	var decoded Message
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("%s\tunmarshaling envelope should succeed: %s", failed, err)
	}
	if decoded.Type != TypeHandshake {
		t.Fatalf("%s\texpected type HANDSHAKE, got %s", failed, decoded.Type)
	}

	payload, err := decodeHandshake(decoded)
	if err != nil {
		t.Fatalf("%s\tdecoding handshake payload should succeed: %s", failed, err)
	}
	if payload.NodeURL != "ws://a:1001" || payload.ChainLength != 3 {
		t.Fatalf("%s\tpayload should round trip, got %+v", failed, payload)
	}
}

func Test_NoPayloadMessageCarriesNoData(t *testing.T) {
	msg, err := encode(TypeGetChain, nil)
	if err != nil {
		t.Fatalf("%s\tencoding a no-payload message should succeed: %s", failed, err)
	}
	if len(msg.Data) != 0 {
		t.Fatalf("%s\tGET_CHAIN should carry no data, got %s", failed, msg.Data)
	}
}

func Test_DecodeBlockRoundTrip(t *testing.T) {
	genesis := chain.NewGenesisBlock()
	msg, err := encode(TypeNewBlock, genesis)
	if err != nil {
		t.Fatalf("%s\tencoding block should succeed: %s", failed, err)
	}

	got, err := decodeBlock(msg)
	if err != nil {
		t.Fatalf("%s\tdecoding block should succeed: %s", failed, err)
	}
	if got.Hash != genesis.Hash {
		t.Fatalf("%s\tdecoded block hash should match original", failed)
	}
}

func Test_UnknownFieldsIgnored(t *testing.T) {
	raw := []byte(`{"type":"GET_PEERS","data":{"unexpected":"field"}}`)

	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("%s\tunmarshaling should succeed despite unknown fields: %s", failed, err)
	}
	if msg.Type != TypeGetPeers {
		t.Fatalf("%s\ttype should still decode correctly", failed)
	}
}
