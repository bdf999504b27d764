package pubsub

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mohamedkhairy/session-features/internal/models"
	"github.com/mohamedkhairy/session-features/internal/storage"
	"github.com/mohamedkhairy/session-features/pkg/logger"
)

var (
	// Metrics for stream publishing
	publishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_publish_total",
			Help: "Total number of messages published to streams",
		},
		[]string{"stream", "partition"},
	)

	publishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_publish_errors_total",
			Help: "Total number of publish errors",
		},
		[]string{"stream", "partition"},
	)

	publishLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stream_publish_latency_seconds",
			Help:    "Publish latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"stream", "partition"},
	)

	publishBatchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stream_publish_batch_size",
			Help:    "Batch size for stream publishing",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"stream"},
	)
)

// StreamPublisherConfig holds configuration for the stream publisher
type StreamPublisherConfig struct {
	StreamName    string
	BatchSize     int
	BatchTimeout  time.Duration
	Partitions    int // Number of partitions (0 = no partitioning)
	RetryAttempts int
	RetryDelay    time.Duration
}

// DefaultStreamPublisherConfig returns default configuration
func DefaultStreamPublisherConfig(streamName string) StreamPublisherConfig {
	return StreamPublisherConfig{
		StreamName:    streamName,
		BatchSize:     100,
		BatchTimeout:  100 * time.Millisecond,
		Partitions:    0, // No partitioning by default
		RetryAttempts: 3,
		RetryDelay:    100 * time.Millisecond,
	}
}

// StreamPublisher publishes enriched bars to Redis streams with
// batching and optional trading-day partitioning
type StreamPublisher struct {
	config  StreamPublisherConfig
	redis   storage.RedisClient
	batch   []*models.EnrichedBar
	batchMu sync.Mutex
	ticker  *time.Ticker
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewStreamPublisher creates a new stream publisher
func NewStreamPublisher(redis storage.RedisClient, config StreamPublisherConfig) *StreamPublisher {
	ctx, cancel := context.WithCancel(context.Background())

	return &StreamPublisher{
		config: config,
		redis:  redis,
		batch:  make([]*models.EnrichedBar, 0, config.BatchSize),
		ticker: time.NewTicker(config.BatchTimeout),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start starts the batch publishing loop
func (p *StreamPublisher) Start() {
	p.wg.Add(1)
	go p.batchLoop()
}

// Publish adds an enriched bar to the batch (non-blocking)
func (p *StreamPublisher) Publish(row *models.EnrichedBar) error {
	if row == nil {
		return fmt.Errorf("enriched bar cannot be nil")
	}

	if err := row.Bar.Validate(); err != nil {
		return fmt.Errorf("invalid enriched bar: %w", err)
	}

	p.batchMu.Lock()
	p.batch = append(p.batch, row)
	shouldFlush := len(p.batch) >= p.config.BatchSize
	p.batchMu.Unlock()

	// Flush if batch is full
	if shouldFlush {
		return p.flush()
	}

	return nil
}

// batchLoop periodically flushes the batch
func (p *StreamPublisher) batchLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			// Flush remaining items on shutdown
			p.flush()
			return
		case <-p.ticker.C:
			p.flush()
		}
	}
}

// flush publishes the current batch to Redis streams
func (p *StreamPublisher) flush() error {
	p.batchMu.Lock()
	if len(p.batch) == 0 {
		p.batchMu.Unlock()
		return nil
	}

	// Copy batch and clear
	batch := make([]*models.EnrichedBar, len(p.batch))
	copy(batch, p.batch)
	p.batch = p.batch[:0]
	p.batchMu.Unlock()

	publishBatchSize.WithLabelValues(p.config.StreamName).Observe(float64(len(batch)))

	if p.config.Partitions > 0 {
		return p.publishPartitioned(batch)
	}

	return p.publishBatch(batch, p.config.StreamName, "")
}

// publishPartitioned publishes rows to partitioned streams keyed on
// the trading day, keeping each day's rows on one partition
func (p *StreamPublisher) publishPartitioned(rows []*models.EnrichedBar) error {
	partitions := make(map[int][]*models.EnrichedBar)

	for _, row := range rows {
		partition := p.getPartition(p.partitionKey(row))
		partitions[partition] = append(partitions[partition], row)
	}

	var lastErr error
	for partition, partitionRows := range partitions {
		streamName := fmt.Sprintf("%s.p%d", p.config.StreamName, partition)
		err := p.publishBatch(partitionRows, streamName, fmt.Sprintf("%d", partition))
		if err != nil {
			lastErr = err
		}
	}

	return lastErr
}

// publishBatch publishes a batch of rows to a stream using individual messages
func (p *StreamPublisher) publishBatch(rows []*models.EnrichedBar, streamName string, partition string) error {
	startTime := time.Now()

	if len(rows) == 0 {
		return nil
	}

	messages := make([]map[string]interface{}, 0, len(rows))
	for _, row := range rows {
		rowJSON, marshalErr := json.Marshal(row)
		if marshalErr != nil {
			logger.Error("Failed to marshal enriched bar",
				logger.ErrorField(marshalErr),
				logger.Time("timestamp", row.Timestamp),
			)
			continue
		}
		messages = append(messages, map[string]interface{}{
			"bar": string(rowJSON),
		})
	}

	if len(messages) == 0 {
		return nil
	}

	// Publish batch using pipeline with retries
	var err error
	for attempt := 0; attempt < p.config.RetryAttempts; attempt++ {
		err = p.redis.PublishBatchToStream(p.ctx, streamName, messages)
		if err == nil {
			break
		}

		if attempt < p.config.RetryAttempts-1 {
			logger.Warn("Failed to publish batch, retrying",
				logger.ErrorField(err),
				logger.String("stream", streamName),
				logger.Int("attempt", attempt+1),
				logger.Int("count", len(messages)),
			)
			time.Sleep(p.config.RetryDelay * time.Duration(attempt+1))
		}
	}

	latency := time.Since(startTime).Seconds()

	if err != nil {
		publishErrors.WithLabelValues(streamName, partition).Add(float64(len(messages)))
		logger.Error("Failed to publish batch after retries",
			logger.ErrorField(err),
			logger.String("stream", streamName),
			logger.Int("count", len(messages)),
		)
		return err
	}

	publishTotal.WithLabelValues(streamName, partition).Add(float64(len(messages)))
	publishLatency.WithLabelValues(streamName, partition).Observe(latency)

	logger.Debug("Published batch to stream",
		logger.String("stream", streamName),
		logger.Int("count", len(messages)),
		logger.Duration("latency", time.Since(startTime)),
	)

	return nil
}

// partitionKey returns the partitioning key for a row. Rows without
// resolved markers fall back to the calendar date of the timestamp.
func (p *StreamPublisher) partitionKey(row *models.EnrichedBar) string {
	if row.Markers != nil && !row.Markers.Unresolved {
		return row.Markers.TradingDay.String()
	}
	return models.DateOf(row.Timestamp.UTC()).String()
}

// getPartition calculates the partition for a key using hash-based partitioning
func (p *StreamPublisher) getPartition(key string) int {
	if p.config.Partitions == 0 {
		return 0
	}

	hash := sha256.Sum256([]byte(key))
	hashInt := int(hash[0])<<24 | int(hash[1])<<16 | int(hash[2])<<8 | int(hash[3])
	if hashInt < 0 {
		hashInt = -hashInt
	}
	return hashInt % p.config.Partitions
}

// GetPartitionStreamName returns the stream name for a given partition
func (p *StreamPublisher) GetPartitionStreamName(partition int) string {
	if p.config.Partitions == 0 {
		return p.config.StreamName
	}
	return fmt.Sprintf("%s.p%d", p.config.StreamName, partition)
}

// Flush forces an immediate flush of the current batch
func (p *StreamPublisher) Flush() error {
	return p.flush()
}

// Close stops the publisher and flushes remaining items
func (p *StreamPublisher) Close() error {
	p.cancel()
	p.ticker.Stop()
	p.wg.Wait()
	return p.flush()
}

// GetBatchSize returns the current batch size (for monitoring)
func (p *StreamPublisher) GetBatchSize() int {
	p.batchMu.Lock()
	defer p.batchMu.Unlock()
	return len(p.batch)
}
