package enricher

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mohamedkhairy/session-features/internal/models"
	"github.com/mohamedkhairy/session-features/internal/pipeline"
	"github.com/mohamedkhairy/session-features/internal/storage"
	"github.com/mohamedkhairy/session-features/pkg/logger"
)

var (
	recomputeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enricher_recompute_total",
			Help: "Total number of recompute passes over the bar window",
		},
		[]string{"status"}, // "success" or "error"
	)

	rowsPublishedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "enricher_rows_published_total",
			Help: "Total number of enriched rows published downstream",
		},
	)

	windowSizeGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "enricher_window_size",
			Help: "Number of bars currently held in the recompute window",
		},
	)
)

// Config holds configuration for the enricher service
type Config struct {
	// WindowSize bounds the number of bars kept for recomputation.
	// When exceeded, the oldest bars fall out of the window.
	WindowSize int

	// RecomputeInterval is how often the window is re-enriched.
	RecomputeInterval time.Duration
}

// DefaultConfig returns default service configuration
func DefaultConfig() Config {
	return Config{
		WindowSize:        50000,
		RecomputeInterval: 5 * time.Second,
	}
}

// Publisher publishes enriched rows downstream
type Publisher interface {
	Publish(row *models.EnrichedBar) error
}

// Service buffers incoming bars in a bounded window and periodically
// re-runs the batch pipeline over it. Because the pipeline is a pure
// function of the window, recomputation is idempotent: a row is only
// re-published when its derived values actually change, which happens
// when late bars extend a day's pre-open range or opening range.
type Service struct {
	config    Config
	pipeline  *pipeline.Enricher
	publisher Publisher
	store     storage.FeatureStorage

	mu        sync.Mutex
	window    []models.Bar
	dirty     bool
	published map[int64]string // timestamp (unix nanos) -> payload digest

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	runMu   sync.Mutex
	running bool
}

// New creates a new enricher service
func New(config Config, pipe *pipeline.Enricher, publisher Publisher, store storage.FeatureStorage) (*Service, error) {
	if config.WindowSize <= 0 {
		return nil, fmt.Errorf("window size must be positive")
	}
	if config.RecomputeInterval <= 0 {
		return nil, fmt.Errorf("recompute interval must be positive")
	}
	if pipe == nil {
		return nil, fmt.Errorf("pipeline is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		config:    config,
		pipeline:  pipe,
		publisher: publisher,
		store:     store,
		published: make(map[int64]string),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// ProcessBar adds a bar to the recompute window. It implements the
// pubsub.BarHandler interface.
func (s *Service) ProcessBar(bar *models.Bar) error {
	if bar == nil {
		return fmt.Errorf("bar cannot be nil")
	}
	if err := bar.Validate(); err != nil {
		return fmt.Errorf("invalid bar: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.window = append(s.window, *bar)
	s.dirty = true

	// Trim the oldest bars when the window overflows
	if len(s.window) > s.config.WindowSize {
		sort.SliceStable(s.window, func(i, j int) bool {
			return s.window[i].Timestamp.Before(s.window[j].Timestamp)
		})
		excess := len(s.window) - s.config.WindowSize
		s.window = append(s.window[:0], s.window[excess:]...)
	}
	windowSizeGauge.Set(float64(len(s.window)))

	return nil
}

// Start starts the periodic recompute loop
func (s *Service) Start() error {
	s.runMu.Lock()
	if s.running {
		s.runMu.Unlock()
		return fmt.Errorf("enricher service is already running")
	}
	s.running = true
	s.runMu.Unlock()

	logger.Info("Starting enricher service",
		logger.Int("window_size", s.config.WindowSize),
		logger.Duration("recompute_interval", s.config.RecomputeInterval),
	)

	s.wg.Add(1)
	go s.recomputeLoop()

	return nil
}

// Stop stops the service after a final recompute pass
func (s *Service) Stop() {
	s.runMu.Lock()
	if !s.running {
		s.runMu.Unlock()
		return
	}
	s.running = false
	s.runMu.Unlock()

	logger.Info("Stopping enricher service")
	s.cancel()
	s.wg.Wait()

	// Final pass so bars received since the last tick are not lost
	if err := s.Recompute(); err != nil {
		logger.Error("Final recompute failed", logger.ErrorField(err))
	}
	logger.Info("Enricher service stopped")
}

// recomputeLoop periodically re-enriches the window
func (s *Service) recomputeLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.RecomputeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.Recompute(); err != nil {
				logger.Error("Recompute pass failed", logger.ErrorField(err))
			}
		}
	}
}

// Recompute runs one pass over the current window: enrich, publish
// rows whose derived values are new or changed, persist the per-day
// tables.
func (s *Service) Recompute() error {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	bars := make([]models.Bar, len(s.window))
	copy(bars, s.window)
	s.dirty = false
	s.mu.Unlock()

	if len(bars) == 0 {
		return nil
	}

	rows, err := s.pipeline.Enrich(bars)
	if err != nil {
		recomputeTotal.WithLabelValues("error").Inc()
		logger.RecordError("enricher", "recompute")
		return fmt.Errorf("enrich window: %w", err)
	}

	changed, err := s.publishChanged(rows)
	if err != nil {
		recomputeTotal.WithLabelValues("error").Inc()
		return err
	}

	if err := s.persistDaily(bars); err != nil {
		recomputeTotal.WithLabelValues("error").Inc()
		return err
	}

	// Store writes use a fresh context so the final pass during
	// shutdown still completes after s.ctx is canceled.
	if len(changed) > 0 && s.store != nil {
		if err := s.store.WriteEnrichedBars(context.Background(), changed); err != nil {
			logger.Warn("Failed to persist enriched bars", logger.ErrorField(err))
		}
	}

	recomputeTotal.WithLabelValues("success").Inc()
	logger.Debug("Recompute pass complete",
		logger.Int("window", len(bars)),
		logger.Int("changed", len(changed)),
	)
	return nil
}

// publishChanged publishes rows that are new or whose derived values
// differ from the last published version, and returns them.
func (s *Service) publishChanged(rows []models.EnrichedBar) ([]*models.EnrichedBar, error) {
	changed := make([]*models.EnrichedBar, 0)
	seen := make(map[int64]struct{}, len(rows))

	for i := range rows {
		row := &rows[i]
		key := row.Timestamp.UnixNano()
		seen[key] = struct{}{}

		digest, err := rowDigest(row)
		if err != nil {
			return nil, fmt.Errorf("digest row %s: %w", row.Timestamp, err)
		}

		s.mu.Lock()
		prev, ok := s.published[key]
		s.mu.Unlock()
		if ok && prev == digest {
			continue
		}

		if s.publisher != nil {
			if err := s.publisher.Publish(row); err != nil {
				logger.Warn("Failed to publish enriched bar",
					logger.ErrorField(err),
					logger.Time("timestamp", row.Timestamp),
				)
				continue
			}
		}

		s.mu.Lock()
		s.published[key] = digest
		s.mu.Unlock()
		rowsPublishedTotal.Inc()
		changed = append(changed, row)
	}

	// Drop digests for bars that fell out of the window
	s.mu.Lock()
	for key := range s.published {
		if _, ok := seen[key]; !ok {
			delete(s.published, key)
		}
	}
	s.mu.Unlock()

	return changed, nil
}

// persistDaily writes the per-day aggregate and band tables
func (s *Service) persistDaily(bars []models.Bar) error {
	if s.store == nil {
		return nil
	}

	daily, bands, err := s.pipeline.Daily(bars)
	if err != nil {
		return fmt.Errorf("daily tables: %w", err)
	}

	if err := s.store.WriteDailyAggregates(context.Background(), daily); err != nil {
		logger.Warn("Failed to persist daily aggregates", logger.ErrorField(err))
	}
	if err := s.store.WriteDailyBands(context.Background(), bands); err != nil {
		logger.Warn("Failed to persist daily bands", logger.ErrorField(err))
	}
	return nil
}

// WindowLen returns the current number of buffered bars
func (s *Service) WindowLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.window)
}

// IsRunning returns whether the service is running
func (s *Service) IsRunning() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.running
}

func rowDigest(row *models.EnrichedBar) (string, error) {
	payload, err := json.Marshal(row)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return fmt.Sprintf("%x", sum[:8]), nil
}
