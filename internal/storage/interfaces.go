package storage

import (
	"context"
	"time"

	"github.com/mohamedkhairy/session-features/internal/models"
)

// FeatureStorage defines the interface for persisting derived features
type FeatureStorage interface {
	// WriteEnrichedBars enqueues enriched bars for async writing
	WriteEnrichedBars(ctx context.Context, rows []*models.EnrichedBar) error

	// WriteDailyAggregates upserts per-trading-day volatility aggregates
	WriteDailyAggregates(ctx context.Context, aggs []*models.DailyAggregate) error

	// WriteDailyBands upserts per-trading-day level bands
	WriteDailyBands(ctx context.Context, bands []models.DailyBand) error

	// GetEnrichedBars retrieves enriched bars within a time range
	GetEnrichedBars(ctx context.Context, start, end time.Time) ([]*models.EnrichedBar, error)

	// GetDailyAggregates retrieves aggregates within a trading-day range (inclusive)
	GetDailyAggregates(ctx context.Context, start, end models.Date) ([]*models.DailyAggregate, error)

	// Close closes the storage connection
	Close() error
}

// RedisClient defines the interface for Redis stream operations
type RedisClient interface {
	PublishToStream(ctx context.Context, stream string, key string, value interface{}) error
	PublishBatchToStream(ctx context.Context, stream string, messages []map[string]interface{}) error
	ConsumeFromStream(ctx context.Context, stream string, group string, consumer string) (<-chan StreamMessage, error)
	AcknowledgeMessage(ctx context.Context, stream string, group string, id string) error

	// Close closes the Redis connection
	Close() error
}

// StreamMessage represents a message from a Redis stream
type StreamMessage struct {
	ID     string
	Stream string
	Values map[string]interface{}
}
