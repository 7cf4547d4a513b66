package features

import (
	"math"
	"reflect"
	"testing"
)

func TestCategoryEntropy(t *testing.T) {
	tests := []struct {
		name        string
		counts      map[string]int64
		wantEntropy float64
		wantTop     []string
	}{
		{
			name:        "empty history",
			counts:      map[string]int64{},
			wantEntropy: 0.0,
			wantTop:     []string{},
		},
		{
			name:        "single category",
			counts:      map[string]int64{"dairy": 12},
			wantEntropy: 0.0,
			wantTop:     []string{"dairy"},
		},
		{
			name:        "two equal categories",
			counts:      map[string]int64{"dairy": 5, "bakery": 5},
			wantEntropy: 1.0,
			wantTop:     []string{"bakery", "dairy"},
		},
		{
			name:        "four equal categories keeps top three",
			counts:      map[string]int64{"dairy": 2, "bakery": 2, "meat": 2, "produce": 2},
			wantEntropy: 2.0,
			wantTop:     []string{"bakery", "dairy", "meat"},
		},
		{
			name:        "dominant category ranks first",
			counts:      map[string]int64{"dairy": 8, "bakery": 1, "meat": 1},
			wantEntropy: -(0.8*math.Log2(0.8) + 2*0.1*math.Log2(0.1)),
			wantTop:     []string{"dairy", "bakery", "meat"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entropy, top := CategoryEntropy(tt.counts)
			if math.Abs(entropy-tt.wantEntropy) > 1e-9 {
				t.Errorf("entropy = %v, want %v", entropy, tt.wantEntropy)
			}
			if !reflect.DeepEqual(top, tt.wantTop) {
				t.Errorf("top categories = %v, want %v", top, tt.wantTop)
			}
		})
	}
}
