package storage

import (
	"context"
	"sync"
	"time"

	"github.com/mohamedkhairy/session-features/internal/models"
)

// MockFeatureStorage is a mock implementation of FeatureStorage for testing
type MockFeatureStorage struct {
	mu sync.Mutex

	EnrichedBars []*models.EnrichedBar
	Aggregates   []*models.DailyAggregate
	Bands        []models.DailyBand

	WriteErr error
	GetErr   error
}

func (m *MockFeatureStorage) WriteEnrichedBars(ctx context.Context, rows []*models.EnrichedBar) error {
	if m.WriteErr != nil {
		return m.WriteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EnrichedBars = append(m.EnrichedBars, rows...)
	return nil
}

func (m *MockFeatureStorage) WriteDailyAggregates(ctx context.Context, aggs []*models.DailyAggregate) error {
	if m.WriteErr != nil {
		return m.WriteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// Upsert semantics keyed on trading day
	for _, agg := range aggs {
		replaced := false
		for i, existing := range m.Aggregates {
			if existing.TradingDay == agg.TradingDay {
				m.Aggregates[i] = agg
				replaced = true
				break
			}
		}
		if !replaced {
			m.Aggregates = append(m.Aggregates, agg)
		}
	}
	return nil
}

func (m *MockFeatureStorage) WriteDailyBands(ctx context.Context, bands []models.DailyBand) error {
	if m.WriteErr != nil {
		return m.WriteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, band := range bands {
		replaced := false
		for i, existing := range m.Bands {
			if existing.TradingDay == band.TradingDay {
				m.Bands[i] = band
				replaced = true
				break
			}
		}
		if !replaced {
			m.Bands = append(m.Bands, band)
		}
	}
	return nil
}

func (m *MockFeatureStorage) GetEnrichedBars(ctx context.Context, start, end time.Time) ([]*models.EnrichedBar, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*models.EnrichedBar
	for _, row := range m.EnrichedBars {
		if !row.Timestamp.Before(start) && !row.Timestamp.After(end) {
			result = append(result, row)
		}
	}
	return result, nil
}

func (m *MockFeatureStorage) GetDailyAggregates(ctx context.Context, start, end models.Date) ([]*models.DailyAggregate, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*models.DailyAggregate
	for _, agg := range m.Aggregates {
		if !agg.TradingDay.Before(start) && !end.Before(agg.TradingDay) {
			result = append(result, agg)
		}
	}
	return result, nil
}

func (m *MockFeatureStorage) Close() error {
	return nil
}

// EnrichedCount returns the number of stored enriched bars.
func (m *MockFeatureStorage) EnrichedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.EnrichedBars)
}

// MockRedisClient is a mock implementation of RedisClient for testing.
// Published messages are recorded per stream and consumption is fed
// from a channel owned by the test.
type MockRedisClient struct {
	mu sync.Mutex

	Published  map[string][]map[string]interface{}
	PublishErr error

	ConsumeChan chan StreamMessage
	ConsumeErr  error

	Acked []string
}

func NewMockRedisClient() *MockRedisClient {
	return &MockRedisClient{
		Published:   make(map[string][]map[string]interface{}),
		ConsumeChan: make(chan StreamMessage, 100),
	}
}

func (m *MockRedisClient) PublishToStream(ctx context.Context, stream string, key string, value interface{}) error {
	if m.PublishErr != nil {
		return m.PublishErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Published[stream] = append(m.Published[stream], map[string]interface{}{key: value})
	return nil
}

func (m *MockRedisClient) PublishBatchToStream(ctx context.Context, stream string, messages []map[string]interface{}) error {
	if m.PublishErr != nil {
		return m.PublishErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Published[stream] = append(m.Published[stream], messages...)
	return nil
}

func (m *MockRedisClient) ConsumeFromStream(ctx context.Context, stream string, group string, consumer string) (<-chan StreamMessage, error) {
	if m.ConsumeErr != nil {
		return nil, m.ConsumeErr
	}
	return m.ConsumeChan, nil
}

func (m *MockRedisClient) AcknowledgeMessage(ctx context.Context, stream string, group string, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Acked = append(m.Acked, id)
	return nil
}

func (m *MockRedisClient) Close() error {
	return nil
}

// PublishedTo returns a copy of the messages published to a stream.
func (m *MockRedisClient) PublishedTo(stream string) []map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]map[string]interface{}, len(m.Published[stream]))
	copy(out, m.Published[stream])
	return out
}

// AckedIDs returns a copy of the acknowledged message IDs.
func (m *MockRedisClient) AckedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Acked))
	copy(out, m.Acked)
	return out
}
