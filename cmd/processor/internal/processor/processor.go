package processor

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shubham-shewale/tickfeed/pkg/config"
	"github.com/shubham-shewale/tickfeed/pkg/models"
)

const workerBuffer = 100

// Processor consumes ticks from Kafka and keeps the latest one per symbol in Redis.
type Processor struct {
	logger      Logger
	rdb         RedisClient
	reader      KafkaReader
	numWorkers  int
	snapshotTTL time.Duration
}

func NewProcessor(cfg *config.Config, logger Logger, rdb RedisClient, reader KafkaReader) *Processor {
	numWorkers := cfg.Processor.NumWorkers
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &Processor{
		logger:      logger,
		rdb:         rdb,
		reader:      reader,
		numWorkers:  numWorkers,
		snapshotTTL: cfg.Processor.SnapshotTTL,
	}
}

// Run blocks until ctx is done, then drains the workers.
func (p *Processor) Run(ctx context.Context) error {
	workerChans := make([]chan []byte, p.numWorkers)
	var wg sync.WaitGroup

	for i := 0; i < p.numWorkers; i++ {
		workerChans[i] = make(chan []byte, workerBuffer)
		wg.Add(1)
		go p.worker(i, workerChans[i], &wg)
	}

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		p.consume(ctx, workerChans)
	}()

	<-ctx.Done()
	p.logger.Info("Shutdown signal received, stopping processor...")

	// The consumer must stop sending before the channels close
	<-readerDone
	for _, ch := range workerChans {
		close(ch)
	}
	p.logger.Info("Waiting for workers to drain...")
	wg.Wait()

	return nil
}

func (p *Processor) consume(ctx context.Context, workerChans []chan []byte) {
	p.logger.Info("Processor Started", zap.Int("workers", p.numWorkers))
	for {
		m, err := p.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				return
			}
			p.logger.Error("Kafka Read Error", zap.Error(err))
			continue
		}

		// Same symbol always goes to the same worker
		workerID := getWorkerID(m.Key, p.numWorkers)

		select {
		case workerChans[workerID] <- m.Value:
		case <-ctx.Done():
			return
		default:
			// Only the latest tick matters, so a full worker drops rather than blocks
			p.logger.Warn("Dropping slow packet", zap.String("key", string(m.Key)), zap.Int("worker_id", workerID))
		}
	}
}

func (p *Processor) worker(id int, msgs <-chan []byte, wg *sync.WaitGroup) {
	defer wg.Done()
	// Not derived from Run's ctx so an in-flight write completes during drain
	ctx := context.Background()

	// Safe without locking because of deterministic sharding
	lastSeen := make(map[string]time.Time)

	for payload := range msgs {
		var tick models.MarketTick
		if err := json.Unmarshal(payload, &tick); err != nil {
			p.logger.Error("JSON Unmarshal Error", zap.Error(err))
			continue
		}
		if err := tick.Validate(); err != nil {
			p.logger.Warn("Discarding invalid tick", zap.Error(err))
			continue
		}

		if last, ok := lastSeen[tick.Symbol]; ok && !tick.Timestamp.After(last) {
			p.logger.Debug("Skipping stale tick",
				zap.String("symbol", tick.Symbol),
				zap.Time("timestamp", tick.Timestamp),
				zap.Time("last", last))
			continue
		}

		if err := p.store(ctx, tick.Symbol, payload); err != nil {
			p.logger.Error("Redis Pipeline Error", zap.Error(err), zap.String("symbol", tick.Symbol))
			continue
		}
		p.logger.Debug("Processed", zap.String("symbol", tick.Symbol), zap.Int("worker_id", id))
		lastSeen[tick.Symbol] = tick.Timestamp
	}
}

// store writes the snapshot and notifies subscribers in one round trip.
func (p *Processor) store(ctx context.Context, symbol string, payload []byte) error {
	pipe := p.rdb.Pipeline()
	pipe.Set(ctx, models.SnapshotKey(symbol), payload, p.snapshotTTL)
	pipe.Publish(ctx, models.TickChannel(symbol), payload)
	_, err := pipe.Exec(ctx)
	return err
}

func getWorkerID(key []byte, numWorkers int) int {
	h := fnv.New32a()
	h.Write(key)
	return int(h.Sum32() % uint32(numWorkers))
}
