package search

import (
	"math"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float64
		want float64
		ok   bool
	}{
		{"identical", []float64{1, 0, 0}, []float64{1, 0, 0}, 1, true},
		{"orthogonal", []float64{1, 0, 0}, []float64{0, 1, 0}, 0, true},
		{"opposite", []float64{1, 0}, []float64{-1, 0}, -1, true},
		{"scaled", []float64{1, 1}, []float64{2, 2}, 1, true},
		{"dimension mismatch", []float64{1, 0}, []float64{1, 0, 0}, 0, false},
		{"zero magnitude", []float64{0, 0}, []float64{1, 0}, 0, false},
		{"empty", nil, nil, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := CosineSimilarity(tt.a, tt.b)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("similarity = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTopK(t *testing.T) {
	scored := []Scored{
		{Index: 0, Score: 0.2},
		{Index: 1, Score: 0.9},
		{Index: 2, Score: 0.5},
	}
	top := TopK(scored, 2)
	if len(top) != 2 || top[0].Index != 1 || top[1].Index != 2 {
		t.Fatalf("TopK = %v", top)
	}
}

func TestTopKStableTies(t *testing.T) {
	scored := []Scored{
		{Index: 0, Score: 0.5},
		{Index: 1, Score: 0.5},
		{Index: 2, Score: 0.5},
	}
	top := TopK(scored, 3)
	for i, s := range top {
		if s.Index != i {
			t.Fatalf("tie order not preserved: %v", top)
		}
	}
}

func TestTopKNoTruncation(t *testing.T) {
	scored := []Scored{{Index: 0, Score: 1}}
	if got := TopK(scored, 0); len(got) != 1 {
		t.Fatalf("k=0 should keep all: %v", got)
	}
}
