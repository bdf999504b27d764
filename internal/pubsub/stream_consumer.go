package pubsub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mohamedkhairy/session-features/internal/data"
	"github.com/mohamedkhairy/session-features/internal/models"
	"github.com/mohamedkhairy/session-features/internal/storage"
	"github.com/mohamedkhairy/session-features/pkg/logger"
)

// StreamConsumerConfig holds configuration for the stream consumer
type StreamConsumerConfig struct {
	StreamName     string
	ConsumerGroup  string
	ConsumerName   string
	BatchSize      int // Number of messages to process before acknowledging
	ProcessTimeout time.Duration
	AckTimeout     time.Duration
	MaxRetries     int
	RetryDelay     time.Duration
	BlockTime      time.Duration // Block time for XReadGroup
}

// DefaultStreamConsumerConfig returns default configuration
func DefaultStreamConsumerConfig(streamName, consumerGroup, consumerName string) StreamConsumerConfig {
	return StreamConsumerConfig{
		StreamName:     streamName,
		ConsumerGroup:  consumerGroup,
		ConsumerName:   consumerName,
		BatchSize:      100,
		ProcessTimeout: 5 * time.Second,
		AckTimeout:     10 * time.Second,
		MaxRetries:     3,
		RetryDelay:     1 * time.Second,
		BlockTime:      1 * time.Second,
	}
}

// BarHandler receives normalized bars from the stream.
// This avoids a circular dependency between pubsub and enricher.
type BarHandler interface {
	ProcessBar(bar *models.Bar) error
}

// StreamConsumer consumes raw bar messages from a Redis stream,
// normalizes them and hands them to a BarHandler
type StreamConsumer struct {
	config     StreamConsumerConfig
	redis      storage.RedisClient
	normalizer data.Normalizer
	handler    BarHandler
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.RWMutex
	running    bool
	stats      ConsumerStats
}

// ConsumerStats holds statistics about the consumer
type ConsumerStats struct {
	MessagesProcessed int64
	MessagesAcked     int64
	MessagesFailed    int64
	LastMessageTime   time.Time
	mu                sync.RWMutex
}

// NewStreamConsumer creates a new stream consumer
func NewStreamConsumer(redis storage.RedisClient, config StreamConsumerConfig) *StreamConsumer {
	ctx, cancel := context.WithCancel(context.Background())

	return &StreamConsumer{
		config:     config,
		redis:      redis,
		normalizer: data.NewNormalizer(),
		ctx:        ctx,
		cancel:     cancel,
		stats:      ConsumerStats{},
	}
}

// SetHandler sets the handler that receives normalized bars
func (c *StreamConsumer) SetHandler(handler BarHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

// Start starts consuming from the stream
func (c *StreamConsumer) Start() error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("consumer is already running")
	}
	c.running = true
	c.mu.Unlock()

	logger.Info("Starting stream consumer",
		logger.String("stream", c.config.StreamName),
		logger.String("group", c.config.ConsumerGroup),
		logger.String("consumer", c.config.ConsumerName),
	)

	c.wg.Add(1)
	go c.consumeStream(c.config.StreamName)

	return nil
}

// Stop stops the consumer
func (c *StreamConsumer) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.mu.Unlock()

	logger.Info("Stopping stream consumer")
	c.cancel()
	c.wg.Wait()
	logger.Info("Stream consumer stopped")
}

// consumeStream consumes messages from a single stream
func (c *StreamConsumer) consumeStream(stream string) {
	defer c.wg.Done()

	messageChan, err := c.redis.ConsumeFromStream(c.ctx, stream, c.config.ConsumerGroup, c.config.ConsumerName)
	if err != nil {
		logger.Error("Failed to start consuming from stream",
			logger.ErrorField(err),
			logger.String("stream", stream),
		)
		return
	}

	batch := make([]storage.StreamMessage, 0, c.config.BatchSize)
	ticker := time.NewTicker(c.config.AckTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			// Process remaining batch before exiting
			if len(batch) > 0 {
				c.processBatch(stream, batch)
			}
			return

		case msg, ok := <-messageChan:
			if !ok {
				logger.Warn("Message channel closed",
					logger.String("stream", stream),
				)
				return
			}

			batch = append(batch, msg)

			if len(batch) >= c.config.BatchSize {
				c.processBatch(stream, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				c.processBatch(stream, batch)
				batch = batch[:0]
			}
		}
	}
}

// processBatch processes a batch of messages
func (c *StreamConsumer) processBatch(stream string, messages []storage.StreamMessage) {
	if len(messages) == 0 {
		return
	}

	processed := make([]string, 0, len(messages)) // Message IDs to acknowledge
	failed := make([]string, 0)                  // Message IDs that failed

	for _, msg := range messages {
		bar, err := c.deserializeBar(msg)
		if err != nil {
			logger.Error("Failed to deserialize bar",
				logger.ErrorField(err),
				logger.String("stream", stream),
				logger.String("message_id", msg.ID),
			)
			logger.RecordError("stream_consumer", "deserialize")
			failed = append(failed, msg.ID)
			c.incrementFailed()
			continue
		}

		c.mu.RLock()
		handler := c.handler
		c.mu.RUnlock()

		if handler == nil {
			logger.Warn("No handler set, skipping bar",
				logger.Time("timestamp", bar.Timestamp),
			)
			failed = append(failed, msg.ID)
			continue
		}

		err = handler.ProcessBar(bar)
		if err != nil {
			logger.Error("Failed to process bar",
				logger.ErrorField(err),
				logger.Time("timestamp", bar.Timestamp),
				logger.String("message_id", msg.ID),
			)
			logger.RecordError("stream_consumer", "process")
			failed = append(failed, msg.ID)
			c.incrementFailed()
			continue
		}

		processed = append(processed, msg.ID)
		c.incrementProcessed()
	}

	// Acknowledge successfully processed messages
	if len(processed) > 0 {
		c.acknowledgeMessages(stream, processed)
		c.incrementAcked(int64(len(processed)))
	}

	// Log failed messages (they will be retried by consumer group)
	if len(failed) > 0 {
		logger.Warn("Some messages failed to process",
			logger.Int("failed_count", len(failed)),
			logger.String("stream", stream),
		)
	}
}

// deserializeBar normalizes a stream message into a Bar
func (c *StreamConsumer) deserializeBar(msg storage.StreamMessage) (*models.Bar, error) {
	// The publisher stores the payload with key "bar"
	barJSON, ok := msg.Values["bar"].(string)
	if !ok {
		// Try to find any string value (fallback)
		for _, v := range msg.Values {
			if str, ok := v.(string); ok {
				barJSON = str
				break
			}
		}
		if barJSON == "" {
			return nil, fmt.Errorf("no bar data found in message")
		}
	}

	return c.normalizer.Normalize([]byte(barJSON))
}

// acknowledgeMessages acknowledges a batch of messages
func (c *StreamConsumer) acknowledgeMessages(stream string, messageIDs []string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.AckTimeout)
	defer cancel()

	for _, id := range messageIDs {
		err := c.redis.AcknowledgeMessage(ctx, stream, c.config.ConsumerGroup, id)
		if err != nil {
			logger.Error("Failed to acknowledge message",
				logger.ErrorField(err),
				logger.String("stream", stream),
				logger.String("message_id", id),
			)
		}
	}
}

// incrementProcessed increments the processed message counter
func (c *StreamConsumer) incrementProcessed() {
	c.stats.mu.Lock()
	defer c.stats.mu.Unlock()
	c.stats.MessagesProcessed++
	c.stats.LastMessageTime = time.Now()
}

// incrementAcked increments the acknowledged message counter
func (c *StreamConsumer) incrementAcked(count int64) {
	c.stats.mu.Lock()
	defer c.stats.mu.Unlock()
	c.stats.MessagesAcked += count
}

// incrementFailed increments the failed message counter
func (c *StreamConsumer) incrementFailed() {
	c.stats.mu.Lock()
	defer c.stats.mu.Unlock()
	c.stats.MessagesFailed++
}

// GetStats returns current consumer statistics
func (c *StreamConsumer) GetStats() (processed, acked, failed int64) {
	c.stats.mu.RLock()
	defer c.stats.mu.RUnlock()
	return c.stats.MessagesProcessed, c.stats.MessagesAcked, c.stats.MessagesFailed
}

// IsRunning returns whether the consumer is running
func (c *StreamConsumer) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}
