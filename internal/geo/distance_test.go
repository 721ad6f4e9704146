package geo

import (
	"math"
	"testing"
)

func TestHaversineMetersIdenticalPoints(t *testing.T) {
	d := HaversineMeters(41.8781, -87.6298, 41.8781, -87.6298)
	if d != 0 {
		t.Fatalf("expected exactly 0 for identical coordinates, got %v", d)
	}
}

func TestHaversineMetersSymmetry(t *testing.T) {
	// Chicago -> Indianapolis
	d1 := HaversineMeters(41.8781, -87.6298, 39.7684, -86.1581)
	d2 := HaversineMeters(39.7684, -86.1581, 41.8781, -87.6298)
	if math.Abs(d1-d2) > 1e-6 {
		t.Fatalf("distance not symmetric: %v vs %v", d1, d2)
	}
}

func TestHaversineMetersKnownDistance(t *testing.T) {
	// Chicago to Indianapolis is roughly 265 km
	d := HaversineMeters(41.8781, -87.6298, 39.7684, -86.1581)
	if d < 255000 || d > 275000 {
		t.Fatalf("expected ~265km, got %vm", d)
	}
}

func TestHaversineMetersShortDistance(t *testing.T) {
	// Two points ~111m apart (0.001 degrees of latitude)
	d := HaversineMeters(41.8781, -87.6298, 41.8791, -87.6298)
	if d < 100 || d > 120 {
		t.Fatalf("expected ~111m, got %vm", d)
	}
}

func TestIsInsideBoundary(t *testing.T) {
	if !IsInside(300, 300) {
		t.Fatal("distance equal to radius should count as inside")
	}
	if IsInside(300.01, 300) {
		t.Fatal("distance just past radius should not count as inside")
	}
}

func TestHysteresisMarginFloor(t *testing.T) {
	// Small radii use the 100m floor
	if got := HysteresisMargin(150); got != 100 {
		t.Fatalf("expected 100m floor, got %v", got)
	}
	// Large radii scale at 33%
	if got := HysteresisMargin(600); got != 198 {
		t.Fatalf("expected 198m margin for 600m radius, got %v", got)
	}
}

func TestHysteresisDeadZone(t *testing.T) {
	radius := 300.0
	margin := HysteresisMargin(radius) // 100

	// Inside the fence
	if IsOutsideWithHysteresis(radius-1, radius) {
		t.Fatal("point inside the radius classified as outside")
	}
	// In the dead zone: past the radius but within the margin
	mid := radius + margin/2
	if IsInside(mid, radius) {
		t.Fatal("dead-zone point classified as inside")
	}
	if IsOutsideWithHysteresis(mid, radius) {
		t.Fatal("dead-zone point classified as outside")
	}
	// Past radius+margin
	if !IsOutsideWithHysteresis(radius+margin+1, radius) {
		t.Fatal("point beyond radius+margin not classified as outside")
	}
}
