package pipeline

import (
	"fmt"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mohamedkhairy/session-features/internal/levels"
	"github.com/mohamedkhairy/session-features/internal/models"
	"github.com/mohamedkhairy/session-features/internal/session"
	"github.com/mohamedkhairy/session-features/internal/volatility"
	"github.com/mohamedkhairy/session-features/pkg/logger"
)

var (
	barsProcessedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_bars_processed_total",
			Help: "Total number of bars run through the enrichment pipeline",
		},
	)

	daysBandedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_days_banded_total",
			Help: "Total number of trading days that produced a finished band",
		},
	)

	passDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipeline_pass_duration_seconds",
			Help:    "Duration of one full enrichment pass",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
	)
)

// Config bundles the configuration of all three pipeline stages.
type Config struct {
	Session    session.Config
	Volatility volatility.Config
	Levels     levels.Config
}

// DefaultConfig returns the standard pipeline configuration.
func DefaultConfig() Config {
	return Config{
		Session:    session.DefaultConfig(),
		Volatility: volatility.DefaultConfig(),
		Levels:     levels.DefaultConfig(),
	}
}

// Enricher runs the full enrichment pass: session markers, volatility
// score, daily bands and the carry-forward merge. It holds no state
// between passes; a pass is a pure function of the bar sequence and
// the configuration.
type Enricher struct {
	resolver *session.Resolver
	scorer   *volatility.Scorer
	builder  *levels.Builder
}

// New builds an enricher, validating all stage configurations.
func New(cfg Config) (*Enricher, error) {
	resolver, err := session.NewResolver(cfg.Session)
	if err != nil {
		return nil, fmt.Errorf("session config: %w", err)
	}
	scorer, err := volatility.NewScorer(cfg.Volatility)
	if err != nil {
		return nil, fmt.Errorf("volatility config: %w", err)
	}
	builder, err := levels.NewBuilder(cfg.Levels)
	if err != nil {
		return nil, fmt.Errorf("levels config: %w", err)
	}
	return &Enricher{resolver: resolver, scorer: scorer, builder: builder}, nil
}

// Enrich runs one pass over the bar sequence and returns the enriched
// rows in timestamp order. The input slice is not modified; duplicate
// and unsorted timestamps are handled by a stable sort before any
// session-relative computation.
func (e *Enricher) Enrich(bars []models.Bar) ([]models.EnrichedBar, error) {
	start := time.Now()

	sorted := make([]models.Bar, len(bars))
	copy(sorted, bars)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	for i := range sorted {
		if err := sorted[i].Validate(); err != nil {
			return nil, fmt.Errorf("bar %d: %w", i, err)
		}
	}

	markers, err := e.resolver.Resolve(sorted)
	if err != nil {
		return nil, err
	}

	_, aggByDay := e.scorer.Score(sorted, markers)
	bands := e.builder.Build(sorted, markers, aggByDay)
	selections := levels.Select(markers, bands)

	out := make([]models.EnrichedBar, len(sorted))
	for i := range sorted {
		row := models.EnrichedBar{Bar: sorted[i]}
		m := markers[i]
		row.Markers = &m

		if !m.Unresolved {
			if agg, ok := aggByDay[m.TradingDay]; ok {
				row.VolScore = agg.VolScore
				row.IsVolatile = agg.IsVolatile
			}
			row.Band = selections[i].Current
			row.PrevBand = selections[i].Prev
			row.Active = selections[i].Active
		}
		out[i] = row
	}

	barsProcessedTotal.Add(float64(len(sorted)))
	daysBandedTotal.Add(float64(len(bands)))
	passDuration.Observe(time.Since(start).Seconds())

	logger.Debug("enrichment pass complete",
		logger.Int("bars", len(sorted)),
		logger.Int("banded_days", len(bands)),
		logger.Duration("elapsed", time.Since(start)),
	)
	return out, nil
}

// Daily runs the aggregation stages only and returns the per-day
// volatility aggregates and bands, both in ascending trading-day
// order. Useful for persisting the small per-day table.
func (e *Enricher) Daily(bars []models.Bar) ([]*models.DailyAggregate, []models.DailyBand, error) {
	sorted := make([]models.Bar, len(bars))
	copy(sorted, bars)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	markers, err := e.resolver.Resolve(sorted)
	if err != nil {
		return nil, nil, err
	}
	daily, aggByDay := e.scorer.Score(sorted, markers)
	bands := e.builder.Build(sorted, markers, aggByDay)
	return daily, bands, nil
}
