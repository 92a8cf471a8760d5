package game

import (
	"math"
	"testing"
)

func TestCurve_ValueAt(t *testing.T) {
	curve := NewCurve(DefaultCurveParams())

	if got := curve.ValueAt(0); got != 1.0 {
		t.Errorf("ValueAt(0) = %v, want 1.0", got)
	}

	// 1.018^(1*8)
	want := math.Pow(1.018, 8)
	if got := curve.ValueAt(1); math.Abs(got-want) > 1e-12 {
		t.Errorf("ValueAt(1) = %v, want %v", got, want)
	}

	if got := curve.ValueAt(-5); got != 1.0 {
		t.Errorf("ValueAt(-5) = %v, want 1.0 (clamped)", got)
	}
}

func TestCurve_Monotonic(t *testing.T) {
	curve := NewCurve(DefaultCurveParams())

	prev := curve.ValueAt(0)
	for tick := 1; tick <= 600; tick++ {
		elapsed := float64(tick) * 0.1
		got := curve.ValueAt(elapsed)
		if got <= prev {
			t.Fatalf("ValueAt(%v) = %v not greater than ValueAt(%v) = %v", elapsed, got, elapsed-0.1, prev)
		}
		prev = got
	}
}

func TestCurve_TimeToReach(t *testing.T) {
	curve := NewCurve(DefaultCurveParams())

	tests := []struct {
		target float64
	}{
		{1.5}, {2.0}, {5.0}, {19.99},
	}
	for _, tt := range tests {
		elapsed := curve.TimeToReach(tt.target)
		got := curve.ValueAt(elapsed)
		if math.Abs(got-tt.target) > 1e-9 {
			t.Errorf("ValueAt(TimeToReach(%v)) = %v, want %v", tt.target, got, tt.target)
		}
	}

	if got := curve.TimeToReach(1.0); got != 0 {
		t.Errorf("TimeToReach(1.0) = %v, want 0", got)
	}
}

func TestCurve_InvalidParamsFallBack(t *testing.T) {
	curve := NewCurve(CurveParams{GrowthBase: 0.5, TimeFactor: -1})
	if got := curve.ValueAt(1); got <= 1.0 {
		t.Errorf("fallback curve should grow, ValueAt(1) = %v", got)
	}
}

func TestDisplayMultiplier_NeverExceedsTrueValue(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{1.0, 1.00},
		{1.239999, 1.23},
		{2.999, 2.99},
		{10.001, 10.00},
	}
	for _, tt := range tests {
		if got := displayMultiplier(tt.in); got != tt.want {
			t.Errorf("displayMultiplier(%v) = %v, want %v", tt.in, got, tt.want)
		}
		if got := displayMultiplier(tt.in); got > tt.in {
			t.Errorf("displayMultiplier(%v) = %v exceeds the true value", tt.in, got)
		}
	}
}
