package node

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/shanmukanaks/protocol/consensus"
	"github.com/shanmukanaks/protocol/lightclient"
)

const (
	EventVaultUpdated = "vault.updated"
	EventSwapUpdated  = "swap.updated"
	EventForkDetected = "lightclient.fork"
)

// Event is the envelope every change notification travels in, on NATS
// and on the websocket stream alike.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// ForkEvent is the payload of a lightclient.fork event.
type ForkEvent struct {
	Kind              string `json:"kind"`
	LightClientHeight uint32 `json:"light_client_height"`
	EngineHeight      uint32 `json:"engine_height"`
	EngineChainwork   string `json:"engine_chainwork"`
}

func newEvent(typ string, payload any, now time.Time) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:        uuid.NewString(),
		Type:      typ,
		Timestamp: now.Unix(),
		Data:      data,
	}, nil
}

func vaultEvent(v consensus.DepositVault, now time.Time) (Event, error) {
	return newEvent(EventVaultUpdated, v, now)
}

func swapEvent(s consensus.ProposedSwap, now time.Time) (Event, error) {
	return newEvent(EventSwapUpdated, s, now)
}

func forkEvent(f lightclient.Fork, now time.Time) (Event, error) {
	return newEvent(EventForkDetected, ForkEvent{
		Kind:              f.Kind.String(),
		LightClientHeight: f.LightClientTip.Height,
		EngineHeight:      f.EngineTip.Height,
		EngineChainwork:   f.EngineTip.CumulativeChainwork.Dec(),
	}, now)
}
