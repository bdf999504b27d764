package session

import (
	"fmt"
	"time"

	"github.com/mohamedkhairy/session-features/internal/models"
	"github.com/mohamedkhairy/session-features/pkg/logger"
)

// AmbiguousPolicy selects how a session boundary falling on an
// ambiguous wall clock (the repeated hour of a fall-back transition)
// is resolved.
type AmbiguousPolicy int

const (
	// AmbiguousEarliest resolves an ambiguous wall clock to its first
	// occurrence, i.e. the pre-transition (DST) offset.
	AmbiguousEarliest AmbiguousPolicy = iota
	// AmbiguousUnresolved refuses to pick: the affected day's markers
	// are reported unresolved and its bars drop out of session-relative
	// aggregation.
	AmbiguousUnresolved
)

// ParseAmbiguousPolicy parses an ambiguity policy name.
func ParseAmbiguousPolicy(s string) (AmbiguousPolicy, error) {
	switch s {
	case "earliest", "infer":
		return AmbiguousEarliest, nil
	case "unresolved":
		return AmbiguousUnresolved, nil
	default:
		return 0, fmt.Errorf("unknown ambiguous policy %q", s)
	}
}

func (p AmbiguousPolicy) String() string {
	switch p {
	case AmbiguousEarliest:
		return "earliest"
	case AmbiguousUnresolved:
		return "unresolved"
	default:
		return fmt.Sprintf("ambiguous_policy(%d)", int(p))
	}
}

// WallClock is a local time-of-day with minute precision.
type WallClock struct {
	Hour   int
	Minute int
}

// ParseWallClock parses "HH:MM".
func ParseWallClock(s string) (WallClock, error) {
	var w WallClock
	if _, err := fmt.Sscanf(s, "%d:%d", &w.Hour, &w.Minute); err != nil {
		return WallClock{}, fmt.Errorf("invalid wall clock %q: %w", s, err)
	}
	if w.Hour < 0 || w.Hour > 23 || w.Minute < 0 || w.Minute > 59 {
		return WallClock{}, fmt.Errorf("wall clock %q out of range", s)
	}
	return w, nil
}

func (w WallClock) String() string {
	return fmt.Sprintf("%02d:%02d", w.Hour, w.Minute)
}

// Minutes returns minutes since local midnight.
func (w WallClock) Minutes() int {
	return w.Hour*60 + w.Minute
}

// Config describes one market's session geometry.
type Config struct {
	Zone         string
	OpenLocal    WallClock
	CloseLocal   WallClock
	Warmup       time.Duration
	RollWeekends bool
	Ambiguous    AmbiguousPolicy
}

// DefaultConfig returns US equities hours in New York.
func DefaultConfig() Config {
	return Config{
		Zone:         "America/New_York",
		OpenLocal:    WallClock{Hour: 9, Minute: 30},
		CloseLocal:   WallClock{Hour: 16},
		Warmup:       30 * time.Minute,
		RollWeekends: true,
		Ambiguous:    AmbiguousEarliest,
	}
}

// Resolver computes per-bar session markers: the trading-day key and
// the open, close and warmup-end instants in both the market's local
// zone and UTC.
type Resolver struct {
	cfg Config
	loc *time.Location
}

// NewResolver creates a resolver and validates the session geometry.
func NewResolver(cfg Config) (*Resolver, error) {
	loc, err := time.LoadLocation(cfg.Zone)
	if err != nil {
		return nil, fmt.Errorf("failed to load zone %q: %w", cfg.Zone, err)
	}
	if cfg.CloseLocal.Minutes() <= cfg.OpenLocal.Minutes() {
		return nil, fmt.Errorf("session close %s must be after open %s", cfg.CloseLocal, cfg.OpenLocal)
	}
	if cfg.Warmup < 0 {
		return nil, fmt.Errorf("warmup duration must not be negative, got %v", cfg.Warmup)
	}
	if int(cfg.Warmup.Minutes()) > cfg.CloseLocal.Minutes()-cfg.OpenLocal.Minutes() {
		return nil, fmt.Errorf("warmup %v exceeds the session length", cfg.Warmup)
	}
	return &Resolver{cfg: cfg, loc: loc}, nil
}

// dayBoundaries are the resolved instants for one trading day.
type dayBoundaries struct {
	openLocal      time.Time
	closeLocal     time.Time
	warmupEndLocal time.Time
	unresolved     bool
}

// Resolve computes markers for every bar, in input order. Bars on a
// weekend local date are reassigned to the following Monday when
// weekend rollover is enabled, and all their boundary instants are
// built from that Monday. A zero timestamp aborts the pass.
func (r *Resolver) Resolve(bars []models.Bar) ([]models.SessionMarkers, error) {
	markers := make([]models.SessionMarkers, len(bars))
	days := make(map[models.Date]dayBoundaries)

	for i := range bars {
		if bars[i].Timestamp.IsZero() {
			return nil, &models.TimestampParseError{
				Row:   i,
				Value: "",
				Err:   models.ErrInvalidTimestamp,
			}
		}

		dtUTC := bars[i].Timestamp.UTC()
		dtLocal := dtUTC.In(r.loc)
		tradingDay := r.tradingDay(dtLocal)

		b, ok := days[tradingDay]
		if !ok {
			b = r.boundaries(tradingDay)
			days[tradingDay] = b
		}

		m := models.SessionMarkers{
			DtUTC:      dtUTC,
			DtLocal:    dtLocal,
			TradingDay: tradingDay,
			Unresolved: b.unresolved,
		}
		if !b.unresolved {
			m.OpenLocal = b.openLocal
			m.CloseLocal = b.closeLocal
			m.WarmupEndLocal = b.warmupEndLocal
			m.OpenUTC = b.openLocal.UTC()
			m.CloseUTC = b.closeLocal.UTC()
			m.WarmupEndUTC = b.warmupEndLocal.UTC()
		}
		markers[i] = m
	}

	return markers, nil
}

// tradingDay derives the trading-day key from a local instant.
func (r *Resolver) tradingDay(local time.Time) models.Date {
	day := models.DateOf(local)
	if !r.cfg.RollWeekends {
		return day
	}
	switch day.Weekday() {
	case time.Saturday:
		return day.AddDays(2)
	case time.Sunday:
		return day.AddDays(1)
	default:
		return day
	}
}

// boundaries constructs the open/close/warmup-end instants for a
// trading day from the configured wall clocks.
func (r *Resolver) boundaries(day models.Date) dayBoundaries {
	open, openOK := r.localize(day, r.cfg.OpenLocal)
	close_, closeOK := r.localize(day, r.cfg.CloseLocal)
	if !openOK || !closeOK {
		logger.Warn("session boundary falls on an ambiguous wall clock, day unresolved",
			logger.Stringer("trading_day", day),
			logger.String("zone", r.cfg.Zone),
		)
		return dayBoundaries{unresolved: true}
	}
	return dayBoundaries{
		openLocal:      open,
		closeLocal:     close_,
		warmupEndLocal: open.Add(r.cfg.Warmup),
	}
}

// localize maps a wall clock on a date to an instant in the market
// zone. A nonexistent wall clock (spring-forward gap) shifts forward
// to the first valid instant. An ambiguous wall clock (fall-back
// overlap) resolves per the configured policy; ok is false when the
// policy refuses to resolve. Assumes transitions shift by one hour,
// which holds for every market zone this runs against.
func (r *Resolver) localize(day models.Date, wc WallClock) (time.Time, bool) {
	t := time.Date(day.Year, day.Month, day.Day, wc.Hour, wc.Minute, 0, 0, r.loc)

	if !matchesWall(t, day, wc.Hour, wc.Minute) {
		// Nonexistent wall clock: walk forward minute by minute until a
		// representable one is found (the far edge of the gap).
		for m := wc.Minutes() + 1; m < 24*60; m++ {
			probe := time.Date(day.Year, day.Month, day.Day, m/60, m%60, 0, 0, r.loc)
			if matchesWall(probe, day, m/60, m%60) {
				return probe, true
			}
		}
		return time.Time{}, false
	}

	// Probe both sides of a possible fall-back overlap. time.Date does
	// not document which occurrence it picks, so both neighbours are
	// checked.
	if earlier := t.Add(-time.Hour); matchesWall(earlier, day, wc.Hour, wc.Minute) {
		// t is the second occurrence; earlier is the first.
		if r.cfg.Ambiguous == AmbiguousUnresolved {
			return time.Time{}, false
		}
		return earlier, true
	}
	if later := t.Add(time.Hour); matchesWall(later, day, wc.Hour, wc.Minute) {
		// t is already the first occurrence.
		if r.cfg.Ambiguous == AmbiguousUnresolved {
			return time.Time{}, false
		}
		return t, true
	}

	return t, true
}

func matchesWall(t time.Time, day models.Date, hour, minute int) bool {
	y, m, d := t.Date()
	return y == day.Year && m == day.Month && d == day.Day &&
		t.Hour() == hour && t.Minute() == minute
}
