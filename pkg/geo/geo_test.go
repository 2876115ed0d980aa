package geo

import (
	"math"
	"testing"
)

func TestDistanceNM(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		want                   float64 // Expected distance (NM)
		tolerance              float64
	}{
		{
			name: "Same point",
			lat1: 35.5934, lon1: 129.3520,
			lat2: 35.5934, lon2: 129.3520,
			want: 0, tolerance: 0.001,
		},
		{
			name: "One degree of latitude",
			lat1: 35.0, lon1: 129.0,
			lat2: 36.0, lon2: 129.0,
			want: 60.0, tolerance: 0.5,
		},
		{
			name: "Ulsan to Gimhae",
			lat1: 35.5934, lon1: 129.3520,
			lat2: 35.1795, lon2: 128.9382,
			want: 31.6, tolerance: 1.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DistanceNM(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			if math.Abs(got-tt.want) > tt.tolerance {
				t.Errorf("DistanceNM = %f, want %f ± %f", got, tt.want, tt.tolerance)
			}
		})
	}
}

func TestBearingDeg(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		want                   float64 // Expected bearing (degrees true)
		tolerance              float64
	}{
		{
			name: "Due north",
			lat1: 35.0, lon1: 129.0,
			lat2: 36.0, lon2: 129.0,
			want: 0, tolerance: 0.1,
		},
		{
			name: "Due east",
			lat1: 35.0, lon1: 129.0,
			lat2: 35.0, lon2: 130.0,
			want: 90, tolerance: 0.5,
		},
		{
			name: "Due south",
			lat1: 36.0, lon1: 129.0,
			lat2: 35.0, lon2: 129.0,
			want: 180, tolerance: 0.1,
		},
		{
			name: "Due west",
			lat1: 35.0, lon1: 130.0,
			lat2: 35.0, lon2: 129.0,
			want: 270, tolerance: 0.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BearingDeg(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			if math.Abs(got-tt.want) > tt.tolerance {
				t.Errorf("BearingDeg = %f, want %f ± %f", got, tt.want, tt.tolerance)
			}
		})
	}
}

func TestNormalizeBearing(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0, 0},
		{360, 0},
		{-90, 270},
		{450, 90},
		{-450, 270},
	}

	for _, tt := range tests {
		if got := NormalizeBearing(tt.in); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("NormalizeBearing(%f) = %f, want %f", tt.in, got, tt.want)
		}
	}
}
