package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/shubham-shewale/tickfeed/pkg/models"
)

// EncodeTick serializes a tick into the payload of one text frame.
func EncodeTick(tick models.MarketTick) ([]byte, error) {
	if err := tick.Validate(); err != nil {
		return nil, err
	}
	b, err := json.Marshal(tick)
	if err != nil {
		return nil, fmt.Errorf("marshal tick: %w", err)
	}
	return b, nil
}

// DecodeTick parses a server frame back into a tick, rejecting other message types.
func DecodeTick(payload []byte) (models.MarketTick, error) {
	var tick models.MarketTick
	if err := json.Unmarshal(payload, &tick); err != nil {
		return models.MarketTick{}, fmt.Errorf("unmarshal tick: %w", err)
	}
	if err := tick.Validate(); err != nil {
		return models.MarketTick{}, err
	}
	return tick, nil
}
