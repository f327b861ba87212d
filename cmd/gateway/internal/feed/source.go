package feed

import (
	"context"

	"github.com/jonboulle/clockwork"

	"github.com/shubham-shewale/tickfeed/pkg/models"
)

// Source produces the tick a session sends on each cycle. Implementations
// stamp the tick at call time so the timestamp reflects the delivery instant.
type Source interface {
	NextTick(ctx context.Context, symbol string) (models.MarketTick, error)
}

// StaticSource always quotes the same price and quantity.
type StaticSource struct {
	price    float64
	quantity int64
	clock    clockwork.Clock
}

func NewStaticSource(price float64, quantity int64, clock clockwork.Clock) *StaticSource {
	return &StaticSource{price: price, quantity: quantity, clock: clock}
}

func (s *StaticSource) NextTick(_ context.Context, symbol string) (models.MarketTick, error) {
	return models.NewMarketTick(symbol, s.price, s.quantity, s.clock.Now())
}
