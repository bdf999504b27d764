package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mohamedkhairy/session-features/internal/models"
	"github.com/mohamedkhairy/session-features/pkg/logger"
)

var (
	// Metrics for TimescaleDB operations
	timescaleWriteTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timescale_write_total",
			Help: "Total number of write operations to TimescaleDB",
		},
		[]string{"table", "status"}, // status is "success" or "error"
	)

	timescaleWriteErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timescale_write_errors_total",
			Help: "Total number of write errors to TimescaleDB",
		},
		[]string{"error_type"},
	)

	timescaleWriteLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "timescale_write_latency_seconds",
			Help:    "Write latency to TimescaleDB in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		},
		[]string{"table"},
	)

	timescaleWriteQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "timescale_write_queue_depth",
			Help: "Current depth of the enriched-bar write queue",
		},
	)
)

// DBConfig holds the database connection parameters
type DBConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConnections  int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// WriteConfig holds configuration for write operations
type WriteConfig struct {
	BatchSize  int
	Interval   time.Duration
	QueueSize  int
	MaxRetries int
	RetryDelay time.Duration
}

// TimescaleDBClient implements FeatureStorage for TimescaleDB. The
// enriched-bar table is written asynchronously through a batching
// queue; the small per-day tables are upserted synchronously.
type TimescaleDBClient struct {
	db          *sql.DB
	writeConfig WriteConfig

	// Write queue for enriched bars
	writeQueue chan []*models.EnrichedBar
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.RWMutex
	running    bool
}

// NewTimescaleDBClient creates a new TimescaleDB client
func NewTimescaleDBClient(dbConfig DBConfig, writeConfig WriteConfig) (*TimescaleDBClient, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		dbConfig.Host,
		dbConfig.Port,
		dbConfig.User,
		dbConfig.Password,
		dbConfig.Database,
		dbConfig.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(dbConfig.MaxConnections)
	db.SetMaxIdleConns(dbConfig.MaxIdleConns)
	db.SetConnMaxLifetime(dbConfig.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	clientCtx, clientCancel := context.WithCancel(context.Background())

	client := &TimescaleDBClient{
		db:          db,
		writeConfig: writeConfig,
		writeQueue:  make(chan []*models.EnrichedBar, writeConfig.QueueSize),
		ctx:         clientCtx,
		cancel:      clientCancel,
	}

	logger.Info("Connected to TimescaleDB",
		logger.String("host", dbConfig.Host),
		logger.Int("port", dbConfig.Port),
		logger.String("database", dbConfig.Database),
	)

	return client, nil
}

// Start starts the write queue processor
func (t *TimescaleDBClient) Start() error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return fmt.Errorf("TimescaleDB client is already running")
	}
	t.running = true
	t.mu.Unlock()

	logger.Info("Starting TimescaleDB write queue processor",
		logger.Int("batch_size", t.writeConfig.BatchSize),
		logger.Duration("interval", t.writeConfig.Interval),
	)

	t.wg.Add(1)
	go t.processWriteQueue()

	return nil
}

// Stop stops the write queue processor and flushes remaining writes
func (t *TimescaleDBClient) Stop() error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return nil
	}
	t.running = false
	t.mu.Unlock()

	logger.Info("Stopping TimescaleDB write queue processor")
	t.cancel()

	close(t.writeQueue)
	for rows := range t.writeQueue {
		if len(rows) > 0 {
			t.writeRowsSync(context.Background(), rows)
		}
	}

	t.wg.Wait()

	if err := t.db.Close(); err != nil {
		return fmt.Errorf("failed to close database connection: %w", err)
	}

	logger.Info("TimescaleDB client stopped")
	return nil
}

// WriteEnrichedBars enqueues enriched bars for async writing
func (t *TimescaleDBClient) WriteEnrichedBars(ctx context.Context, rows []*models.EnrichedBar) error {
	if len(rows) == 0 {
		return nil
	}

	validRows := make([]*models.EnrichedBar, 0, len(rows))
	for _, row := range rows {
		if err := row.Bar.Validate(); err != nil {
			logger.Warn("Invalid enriched bar, skipping",
				logger.ErrorField(err),
				logger.Time("timestamp", row.Timestamp),
			)
			continue
		}
		validRows = append(validRows, row)
	}

	if len(validRows) == 0 {
		return nil
	}

	select {
	case t.writeQueue <- validRows:
		timescaleWriteQueueDepth.Set(float64(len(t.writeQueue)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(100 * time.Millisecond):
		logger.Warn("Write queue may be full, attempting to enqueue",
			logger.Int("queue_depth", len(t.writeQueue)),
			logger.Int("rows_count", len(validRows)),
		)
		select {
		case t.writeQueue <- validRows:
			timescaleWriteQueueDepth.Set(float64(len(t.writeQueue)))
			return nil
		default:
			timescaleWriteErrors.WithLabelValues("queue_full").Inc()
			return fmt.Errorf("write queue is full")
		}
	}
}

// WriteDailyAggregates upserts the per-day volatility aggregates. The
// table is tiny (one row per trading day) so writes are synchronous.
func (t *TimescaleDBClient) WriteDailyAggregates(ctx context.Context, aggs []*models.DailyAggregate) error {
	if len(aggs) == 0 {
		return nil
	}
	startTime := time.Now()

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO session_daily (trading_day, preopen_high, preopen_low, preopen_range,
			atr_baseline, vol_score_raw, vol_score, is_volatile)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (trading_day) DO UPDATE SET
			preopen_high = EXCLUDED.preopen_high,
			preopen_low = EXCLUDED.preopen_low,
			preopen_range = EXCLUDED.preopen_range,
			atr_baseline = EXCLUDED.atr_baseline,
			vol_score_raw = EXCLUDED.vol_score_raw,
			vol_score = EXCLUDED.vol_score,
			is_volatile = EXCLUDED.is_volatile
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, agg := range aggs {
		_, err := stmt.ExecContext(ctx,
			agg.TradingDay.String(),
			agg.PreopenHigh,
			agg.PreopenLow,
			agg.PreopenRange,
			agg.ATRBaseline,
			agg.VolScoreRaw,
			agg.VolScore,
			agg.IsVolatile,
		)
		if err != nil {
			timescaleWriteTotal.WithLabelValues("session_daily", "error").Inc()
			return fmt.Errorf("failed to insert aggregate for %s: %w", agg.TradingDay, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	timescaleWriteTotal.WithLabelValues("session_daily", "success").Add(float64(len(aggs)))
	timescaleWriteLatency.WithLabelValues("session_daily").Observe(time.Since(startTime).Seconds())
	return nil
}

// WriteDailyBands upserts the per-day level bands.
func (t *TimescaleDBClient) WriteDailyBands(ctx context.Context, bands []models.DailyBand) error {
	if len(bands) == 0 {
		return nil
	}
	startTime := time.Now()

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO session_bands (trading_day, fv_low_adj, fv_mid_adj, fv_high_adj,
			fv_half_dn, fv_half_up, l1_dn, l1_mid_dn, l1_mid_up, l1_up)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (trading_day) DO UPDATE SET
			fv_low_adj = EXCLUDED.fv_low_adj,
			fv_mid_adj = EXCLUDED.fv_mid_adj,
			fv_high_adj = EXCLUDED.fv_high_adj,
			fv_half_dn = EXCLUDED.fv_half_dn,
			fv_half_up = EXCLUDED.fv_half_up,
			l1_dn = EXCLUDED.l1_dn,
			l1_mid_dn = EXCLUDED.l1_mid_dn,
			l1_mid_up = EXCLUDED.l1_mid_up,
			l1_up = EXCLUDED.l1_up
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, band := range bands {
		_, err := stmt.ExecContext(ctx,
			band.TradingDay.String(),
			band.FVLowAdj,
			band.FVMidAdj,
			band.FVHighAdj,
			band.FVHalfDn,
			band.FVHalfUp,
			band.L1Dn,
			band.L1MidDn,
			band.L1MidUp,
			band.L1Up,
		)
		if err != nil {
			timescaleWriteTotal.WithLabelValues("session_bands", "error").Inc()
			return fmt.Errorf("failed to insert band for %s: %w", band.TradingDay, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	timescaleWriteTotal.WithLabelValues("session_bands", "success").Add(float64(len(bands)))
	timescaleWriteLatency.WithLabelValues("session_bands").Observe(time.Since(startTime).Seconds())
	return nil
}

// GetEnrichedBars retrieves enriched bars within a time range
func (t *TimescaleDBClient) GetEnrichedBars(ctx context.Context, start, end time.Time) ([]*models.EnrichedBar, error) {
	query := `
		SELECT timestamp, trading_day, open, high, low, close, volume,
			vol_score, is_volatile,
			fv_low_adj, fv_mid_adj, fv_high_adj, l1_dn, l1_up
		FROM bars_enriched
		WHERE timestamp >= $1 AND timestamp <= $2
		ORDER BY timestamp ASC
	`

	rows, err := t.db.QueryContext(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query enriched bars: %w", err)
	}
	defer rows.Close()

	var result []*models.EnrichedBar
	for rows.Next() {
		var (
			row        models.EnrichedBar
			tradingDay string
			volScore   sql.NullFloat64
			isVolatile sql.NullBool
			fvLow      sql.NullFloat64
			fvMid      sql.NullFloat64
			fvHigh     sql.NullFloat64
			l1Dn       sql.NullFloat64
			l1Up       sql.NullFloat64
		)
		if err := rows.Scan(
			&row.Timestamp,
			&tradingDay,
			&row.Open,
			&row.High,
			&row.Low,
			&row.Close,
			&row.Volume,
			&volScore,
			&isVolatile,
			&fvLow,
			&fvMid,
			&fvHigh,
			&l1Dn,
			&l1Up,
		); err != nil {
			return nil, fmt.Errorf("failed to scan enriched bar: %w", err)
		}
		if volScore.Valid {
			row.VolScore = &volScore.Float64
		}
		if isVolatile.Valid {
			row.IsVolatile = &isVolatile.Bool
		}
		if fvMid.Valid {
			row.Active = &models.BandValues{
				FVLowAdj:  fvLow.Float64,
				FVMidAdj:  fvMid.Float64,
				FVHighAdj: fvHigh.Float64,
				L1Dn:      l1Dn.Float64,
				L1Up:      l1Up.Float64,
			}
		}
		result = append(result, &row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return result, nil
}

// GetDailyAggregates retrieves aggregates within a trading-day range (inclusive)
func (t *TimescaleDBClient) GetDailyAggregates(ctx context.Context, start, end models.Date) ([]*models.DailyAggregate, error) {
	query := `
		SELECT trading_day, preopen_high, preopen_low, preopen_range,
			atr_baseline, vol_score_raw, vol_score, is_volatile
		FROM session_daily
		WHERE trading_day >= $1 AND trading_day <= $2
		ORDER BY trading_day ASC
	`

	rows, err := t.db.QueryContext(ctx, query, start.String(), end.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query daily aggregates: %w", err)
	}
	defer rows.Close()

	var result []*models.DailyAggregate
	for rows.Next() {
		var (
			agg         models.DailyAggregate
			tradingDay  time.Time
			atrBaseline sql.NullFloat64
			volScoreRaw sql.NullFloat64
			volScore    sql.NullFloat64
			isVolatile  sql.NullBool
		)
		if err := rows.Scan(
			&tradingDay,
			&agg.PreopenHigh,
			&agg.PreopenLow,
			&agg.PreopenRange,
			&atrBaseline,
			&volScoreRaw,
			&volScore,
			&isVolatile,
		); err != nil {
			return nil, fmt.Errorf("failed to scan daily aggregate: %w", err)
		}
		agg.TradingDay = models.DateOf(tradingDay)
		if atrBaseline.Valid {
			agg.ATRBaseline = &atrBaseline.Float64
		}
		if volScoreRaw.Valid {
			agg.VolScoreRaw = &volScoreRaw.Float64
		}
		if volScore.Valid {
			agg.VolScore = &volScore.Float64
		}
		if isVolatile.Valid {
			agg.IsVolatile = &isVolatile.Bool
		}
		result = append(result, &agg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return result, nil
}

// Close closes the database connection
func (t *TimescaleDBClient) Close() error {
	return t.Stop()
}

// processWriteQueue processes the enriched-bar write queue
func (t *TimescaleDBClient) processWriteQueue() {
	defer t.wg.Done()

	batch := make([]*models.EnrichedBar, 0, t.writeConfig.BatchSize)
	ticker := time.NewTicker(t.writeConfig.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			if len(batch) > 0 {
				t.writeRowsSync(context.Background(), batch)
			}
			return

		case rows, ok := <-t.writeQueue:
			if !ok {
				if len(batch) > 0 {
					t.writeRowsSync(context.Background(), batch)
				}
				return
			}

			batch = append(batch, rows...)
			timescaleWriteQueueDepth.Set(float64(len(t.writeQueue)))

			if len(batch) >= t.writeConfig.BatchSize {
				t.writeRowsSync(context.Background(), batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				t.writeRowsSync(context.Background(), batch)
				batch = batch[:0]
			}
		}
	}
}

// writeRowsSync writes enriched bars synchronously with retry logic
func (t *TimescaleDBClient) writeRowsSync(ctx context.Context, rows []*models.EnrichedBar) {
	if len(rows) == 0 {
		return
	}

	startTime := time.Now()

	var err error
	for attempt := 0; attempt < t.writeConfig.MaxRetries; attempt++ {
		err = t.insertRows(ctx, rows)
		if err == nil {
			break
		}

		if attempt < t.writeConfig.MaxRetries-1 {
			delay := t.writeConfig.RetryDelay * time.Duration(1<<uint(attempt)) // Exponential backoff
			logger.Warn("Failed to write enriched bars, retrying",
				logger.ErrorField(err),
				logger.Int("attempt", attempt+1),
				logger.Int("rows_count", len(rows)),
				logger.Duration("delay", delay),
			)
			time.Sleep(delay)
		}
	}

	timescaleWriteLatency.WithLabelValues("bars_enriched").Observe(time.Since(startTime).Seconds())

	if err != nil {
		timescaleWriteErrors.WithLabelValues("write_failed").Inc()
		timescaleWriteTotal.WithLabelValues("bars_enriched", "error").Add(float64(len(rows)))
		logger.Error("Failed to write enriched bars after retries",
			logger.ErrorField(err),
			logger.Int("rows_count", len(rows)),
		)
		return
	}

	timescaleWriteTotal.WithLabelValues("bars_enriched", "success").Add(float64(len(rows)))
	logger.Debug("Wrote enriched bars to TimescaleDB",
		logger.Int("count", len(rows)),
		logger.Duration("latency", time.Since(startTime)),
	)
}

// insertRows inserts enriched bars into the database using batch insert
func (t *TimescaleDBClient) insertRows(ctx context.Context, rows []*models.EnrichedBar) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bars_enriched (timestamp, trading_day, open, high, low, close, volume,
			vol_score, is_volatile, fv_low_adj, fv_mid_adj, fv_high_adj, l1_dn, l1_up)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (timestamp) DO UPDATE SET
			trading_day = EXCLUDED.trading_day,
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume,
			vol_score = EXCLUDED.vol_score,
			is_volatile = EXCLUDED.is_volatile,
			fv_low_adj = EXCLUDED.fv_low_adj,
			fv_mid_adj = EXCLUDED.fv_mid_adj,
			fv_high_adj = EXCLUDED.fv_high_adj,
			l1_dn = EXCLUDED.l1_dn,
			l1_up = EXCLUDED.l1_up
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		var tradingDay interface{}
		if row.Markers != nil && !row.Markers.Unresolved {
			tradingDay = row.Markers.TradingDay.String()
		}

		var fvLow, fvMid, fvHigh, l1Dn, l1Up interface{}
		if row.Active != nil {
			fvLow = row.Active.FVLowAdj
			fvMid = row.Active.FVMidAdj
			fvHigh = row.Active.FVHighAdj
			l1Dn = row.Active.L1Dn
			l1Up = row.Active.L1Up
		}

		_, err := stmt.ExecContext(ctx,
			row.Timestamp,
			tradingDay,
			row.Open,
			row.High,
			row.Low,
			row.Close,
			row.Volume,
			row.VolScore,
			row.IsVolatile,
			fvLow,
			fvMid,
			fvHigh,
			l1Dn,
			l1Up,
		)
		if err != nil {
			return fmt.Errorf("failed to insert enriched bar: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// IsRunning returns whether the client is running
func (t *TimescaleDBClient) IsRunning() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.running
}
