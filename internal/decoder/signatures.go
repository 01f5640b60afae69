package decoder

import (
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// EventKind classifies a raw log by its first topic.
type EventKind string

const (
	KindUnknown        EventKind = "Unknown"
	KindOrderCreated   EventKind = "OrderCreated"
	KindTrade          EventKind = "Trade"
	KindOrdersCanceled EventKind = "OrdersCanceled"
)

// Canonical event signatures emitted by the venue's order book contract.
const (
	OrderCreatedSignature   = "OrderCreated(uint40,address,uint96,uint32,bool)"
	TradeSignature          = "Trade(uint40,address,address,bool,uint256,uint256)"
	OrdersCanceledSignature = "OrdersCanceled(uint40[],address)"
)

// Topic hashes, 0x-prefixed lower-case hex.
var (
	OrderCreatedTopic   = EventTopic(OrderCreatedSignature)
	TradeTopic          = EventTopic(TradeSignature)
	OrdersCanceledTopic = EventTopic(OrdersCanceledSignature)
)

var signatures = map[string]EventKind{
	normalizeTopic(OrderCreatedTopic):   KindOrderCreated,
	normalizeTopic(TradeTopic):          KindTrade,
	normalizeTopic(OrdersCanceledTopic): KindOrdersCanceled,
}

// EventTopic returns the keccak256 topic hash of an event signature.
func EventTopic(signature string) string {
	return crypto.Keccak256Hash([]byte(signature)).Hex()
}

// KindOf returns the event kind for a topic hash, with or without 0x prefix.
func KindOf(topic string) EventKind {
	if kind, ok := signatures[normalizeTopic(topic)]; ok {
		return kind
	}
	return KindUnknown
}

func normalizeTopic(topic string) string {
	t := strings.TrimSpace(topic)
	if len(t) >= 2 && (t[:2] == "0x" || t[:2] == "0X") {
		t = t[2:]
	}
	return strings.ToLower(t)
}
