package indicator

import (
	"math"
	"testing"
)

func TestEMA_NewEMA(t *testing.T) {
	ema, err := NewEMA(14, 3)
	if err != nil {
		t.Fatalf("Failed to create EMA: %v", err)
	}
	if ema.Name() != "ema_14" {
		t.Errorf("Expected name 'ema_14', got '%s'", ema.Name())
	}

	if _, err := NewEMA(0, 1); err == nil {
		t.Error("Expected error for window < 1")
	}
}

func TestEMA_Recursion(t *testing.T) {
	// window 3 => alpha = 0.5; seed from the first sample
	ema, _ := NewEMA(3, 1)

	val, ok := ema.Update(10)
	if !ok || val != 10 {
		t.Fatalf("Expected seeded value 10, got %f (ok=%v)", val, ok)
	}

	// (20-10)*0.5 + 10 = 15
	val, _ = ema.Update(20)
	if math.Abs(val-15) > 1e-12 {
		t.Errorf("Expected EMA 15, got %f", val)
	}

	// (30-15)*0.5 + 15 = 22.5
	val, _ = ema.Update(30)
	if math.Abs(val-22.5) > 1e-12 {
		t.Errorf("Expected EMA 22.5, got %f", val)
	}
}

func TestEMA_MinPeriods(t *testing.T) {
	ema, _ := NewEMA(3, 3)

	// The recursion runs from the first sample but the value stays
	// hidden until the minimum observation count is reached.
	if _, ok := ema.Update(10); ok {
		t.Error("EMA should not report a value after 1 sample")
	}
	if _, ok := ema.Update(20); ok {
		t.Error("EMA should not report a value after 2 samples")
	}
	val, ok := ema.Update(30)
	if !ok {
		t.Fatal("EMA should report a value after 3 samples")
	}
	// ((10 -> 15) -> 22.5)
	if math.Abs(val-22.5) > 1e-12 {
		t.Errorf("Expected EMA 22.5, got %f", val)
	}
}

func TestEMA_Reset(t *testing.T) {
	ema, _ := NewEMA(3, 1)
	ema.Update(10)
	ema.Reset()
	if ema.IsReady() {
		t.Error("EMA should not be ready after reset")
	}
	if _, ok := ema.Value(); ok {
		t.Error("Value should not be available after reset")
	}
}
