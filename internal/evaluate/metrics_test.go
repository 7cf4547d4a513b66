package evaluate

import (
	"math"
	"testing"
)

func TestNDCGAtK(t *testing.T) {
	tests := []struct {
		name      string
		relevance []int
		k         int
		want      float64
	}{
		{"perfect ranking", []int{1, 1, 0, 0}, 4, 1.0},
		{"no relevant items", []int{0, 0, 0, 0}, 4, 0.0},
		{"empty list", []int{}, 10, 0.0},
		{"single hit at top", []int{1, 0, 0}, 3, 1.0},
		// One relevant item at position 3: DCG = 1/log2(4), IDCG = 1.
		{"single hit at position three", []int{0, 0, 1}, 3, 1.0 / math.Log2(4)},
		// Hits at 2 and 3 vs ideal at 1 and 2.
		{
			"imperfect order",
			[]int{0, 1, 1},
			3,
			(1/math.Log2(3) + 1/math.Log2(4)) / (1 + 1/math.Log2(3)),
		},
		{"cutoff drops tail hit", []int{0, 0, 1}, 2, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NDCGAtK(tt.relevance, tt.k)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("NDCGAtK(%v, %d) = %v, want %v", tt.relevance, tt.k, got, tt.want)
			}
		})
	}
}

func TestPrecisionAtK(t *testing.T) {
	if got := PrecisionAtK([]int{1, 0, 1, 0}, 4); got != 0.5 {
		t.Errorf("PrecisionAtK = %v, want 0.5", got)
	}
	// Fewer recommendations than k still divide by k.
	if got := PrecisionAtK([]int{1, 1}, 10); got != 0.2 {
		t.Errorf("PrecisionAtK short list = %v, want 0.2", got)
	}
	if got := PrecisionAtK(nil, 10); got != 0.0 {
		t.Errorf("PrecisionAtK(nil) = %v, want 0", got)
	}
}

func TestRecallAtK(t *testing.T) {
	if got := RecallAtK([]int{1, 0, 1, 0}, 4, 4); got != 0.5 {
		t.Errorf("RecallAtK = %v, want 0.5", got)
	}
	if got := RecallAtK([]int{1, 1}, 2, 2); got != 1.0 {
		t.Errorf("RecallAtK full = %v, want 1.0", got)
	}
	if got := RecallAtK([]int{0, 0}, 2, 0); got != 0.0 {
		t.Errorf("RecallAtK with no relevant = %v, want 0", got)
	}
}

func TestReciprocalRank(t *testing.T) {
	tests := []struct {
		relevance []int
		want      float64
	}{
		{[]int{1, 0, 0}, 1.0},
		{[]int{0, 1, 0}, 0.5},
		{[]int{0, 0, 1}, 1.0 / 3.0},
		{[]int{0, 0, 0}, 0.0},
		{nil, 0.0},
	}
	for _, tt := range tests {
		if got := ReciprocalRank(tt.relevance); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("ReciprocalRank(%v) = %v, want %v", tt.relevance, got, tt.want)
		}
	}
}
