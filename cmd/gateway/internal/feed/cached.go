package feed

import (
	"context"
	"errors"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/shubham-shewale/tickfeed/cmd/gateway/internal/repository"
	"github.com/shubham-shewale/tickfeed/pkg/metrics"
	"github.com/shubham-shewale/tickfeed/pkg/models"
)

// CachedSource serves the latest tick cached by the processor and
// falls back to another source when the cache cannot answer.
type CachedSource struct {
	store    repository.TickStore
	fallback Source
	clock    clockwork.Clock
	logger   *zap.Logger
}

func NewCachedSource(store repository.TickStore, fallback Source, clock clockwork.Clock, logger *zap.Logger) *CachedSource {
	return &CachedSource{
		store:    store,
		fallback: fallback,
		clock:    clock,
		logger:   logger,
	}
}

func (c *CachedSource) NextTick(ctx context.Context, symbol string) (models.MarketTick, error) {
	cached, err := c.store.Latest(ctx, symbol)
	switch {
	case errors.Is(err, repository.ErrNoSnapshot):
		metrics.FeedFallbacks.WithLabelValues("miss").Inc()
		c.logger.Debug("No cached tick, using fallback", zap.String("symbol", symbol))
		return c.fallback.NextTick(ctx, symbol)
	case err != nil:
		metrics.FeedFallbacks.WithLabelValues("error").Inc()
		c.logger.Warn("Tick cache unavailable, using fallback", zap.String("symbol", symbol), zap.Error(err))
		return c.fallback.NextTick(ctx, symbol)
	}

	// The cached tick keeps its price and quantity but is stamped at send time
	tick := cached.Restamp(c.clock.Now())
	tick.Symbol = symbol
	if err := tick.Validate(); err != nil {
		metrics.FeedFallbacks.WithLabelValues("invalid").Inc()
		c.logger.Warn("Cached tick rejected, using fallback", zap.String("symbol", symbol), zap.Error(err))
		return c.fallback.NextTick(ctx, symbol)
	}
	return tick, nil
}
