package geo

import (
	"math"
	"testing"
)

func TestHaversineMeters(t *testing.T) {
	tests := []struct {
		name    string
		a, b    Point
		want    float64
		toleran float64
	}{
		{
			name:    "same point",
			a:       Point{Lat: -31.4200, Lon: -64.1880},
			b:       Point{Lat: -31.4200, Lon: -64.1880},
			want:    0,
			toleran: 0.001,
		},
		{
			name:    "cordoba to buenos aires approx",
			a:       Point{Lat: -31.4201, Lon: -64.1888},
			b:       Point{Lat: -34.6037, Lon: -58.3816},
			want:    647000,
			toleran: 10000,
		},
		{
			name:    "one degree of longitude at equator",
			a:       Point{Lat: 0, Lon: 0},
			b:       Point{Lat: 0, Lon: 1},
			want:    111319.49,
			toleran: 50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HaversineMeters(tt.a, tt.b)
			if math.Abs(got-tt.want) > tt.toleran {
				t.Errorf("HaversineMeters(%v, %v) = %v, want %v (+/- %v)", tt.a, tt.b, got, tt.want, tt.toleran)
			}
		})
	}
}

func TestBoundingBoxDiameter(t *testing.T) {
	var box BoundingBox
	if got := box.DiameterMeters(); got != 0 {
		t.Errorf("empty box diameter = %v, want 0", got)
	}

	box.Extend(Point{Lat: -31.4200, Lon: -64.1880})
	if got := box.DiameterMeters(); got != 0 {
		t.Errorf("single point box diameter = %v, want 0", got)
	}

	box.Extend(Point{Lat: -31.4150, Lon: -64.1830})
	got := box.DiameterMeters()
	if got <= 0 {
		t.Errorf("two distinct point box diameter = %v, want > 0", got)
	}

	// extending with a point already inside the box must not change it
	before := box
	box.Extend(Point{Lat: -31.4180, Lon: -64.1860})
	if box != before {
		t.Errorf("extending with an interior point changed the box: before=%v after=%v", before, box)
	}
}
