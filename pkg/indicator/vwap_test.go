package indicator

import (
	"math"
	"testing"
	"time"

	"github.com/mohamedkhairy/session-features/internal/models"
)

func mkBar(ts time.Time, h, l, c, v float64) models.Bar {
	return models.Bar{Timestamp: ts, Open: c, High: h, Low: l, Close: c, Volume: v}
}

func TestTrailingVWAP_Basic(t *testing.T) {
	base := time.Date(2023, 8, 16, 12, 0, 0, 0, time.UTC)
	bars := []models.Bar{
		mkBar(base.Add(-2*time.Hour), 12, 8, 10, 100), // tp 10
		mkBar(base.Add(-1*time.Hour), 22, 18, 20, 300), // tp 20
	}

	vwap, ok := TrailingVWAP(bars, base, 24*time.Hour)
	if !ok {
		t.Fatal("Expected VWAP to be defined")
	}
	expected := (10.0*100 + 20.0*300) / 400.0
	if math.Abs(vwap-expected) > 1e-12 {
		t.Errorf("Expected VWAP %f, got %f", expected, vwap)
	}
}

func TestTrailingVWAP_WindowBounds(t *testing.T) {
	base := time.Date(2023, 8, 16, 12, 0, 0, 0, time.UTC)
	bars := []models.Bar{
		// exactly 24h before the cutoff: excluded (window is half-open)
		mkBar(base.Add(-24*time.Hour), 100, 100, 100, 50),
		// at the cutoff: included
		mkBar(base, 10, 10, 10, 50),
		// after the cutoff: excluded
		mkBar(base.Add(time.Minute), 999, 999, 999, 50),
	}

	vwap, ok := TrailingVWAP(bars, base, 24*time.Hour)
	if !ok {
		t.Fatal("Expected VWAP to be defined")
	}
	if math.Abs(vwap-10.0) > 1e-12 {
		t.Errorf("Expected VWAP 10, got %f", vwap)
	}
}

func TestTrailingVWAP_NoVolume(t *testing.T) {
	base := time.Date(2023, 8, 16, 12, 0, 0, 0, time.UTC)
	bars := []models.Bar{
		mkBar(base.Add(-time.Hour), 12, 8, 10, 0),
		mkBar(base.Add(-30*time.Minute), 12, 8, 10, 0),
	}

	if _, ok := TrailingVWAP(bars, base, 24*time.Hour); ok {
		t.Error("VWAP should be undefined when the window has no positive volume")
	}

	// Empty window
	if _, ok := TrailingVWAP(nil, base, 24*time.Hour); ok {
		t.Error("VWAP should be undefined for an empty window")
	}
}
