package generator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shubham-shewale/tickfeed/pkg/models"
)

// Settings describes the synthetic feed for a single symbol.
type Settings struct {
	Symbol    string
	BasePrice float64
	Quantity  int64
	Spread    float64 // price moves uniformly within +/- Spread of BasePrice
	Interval  time.Duration
}

// TickGenerator publishes synthetic ticks to Kafka, standing in for an upstream exchange feed.
type TickGenerator struct {
	logger   *zap.Logger
	writer   KafkaWriter
	settings Settings
	rand     Rand
	clock    Clock
}

func NewTickGenerator(logger *zap.Logger, writer KafkaWriter, settings Settings, rnd Rand, clock Clock) *TickGenerator {
	return &TickGenerator{
		logger:   logger,
		writer:   writer,
		settings: settings,
		rand:     rnd,
		clock:    clock,
	}
}

func (g *TickGenerator) Run(ctx context.Context) {
	g.logger.Info("Generator Started",
		zap.String("symbol", g.settings.Symbol),
		zap.Duration("interval", g.settings.Interval))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		g.publish(ctx)

		select {
		case <-ctx.Done():
			return
		case <-g.clock.After(g.settings.Interval):
		}
	}
}

func (g *TickGenerator) publish(ctx context.Context) {
	tick, err := models.NewMarketTick(g.settings.Symbol, g.nextPrice(), g.settings.Quantity, g.clock.Now())
	if err != nil {
		g.logger.Error("Invalid tick", zap.Error(err))
		return
	}

	payload, err := json.Marshal(tick)
	if err != nil {
		g.logger.Error("JSON Marshal Error", zap.Error(err))
		return
	}

	// Key ensures partition ordering per symbol
	err = g.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(tick.Symbol),
		Value: payload,
	})
	if err != nil {
		if ctx.Err() == nil {
			g.logger.Error("Kafka Write Error", zap.Error(err))
		}
		return
	}
	g.logger.Debug("Sent update", zap.String("symbol", tick.Symbol), zap.Float64("price", tick.Price))
}

func (g *TickGenerator) nextPrice() float64 {
	fluctuation := (g.rand.Float64()*2 - 1) * g.settings.Spread
	price := g.settings.BasePrice + fluctuation
	if price < 0 {
		return 0
	}
	return price
}
