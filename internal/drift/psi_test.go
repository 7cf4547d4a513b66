package drift

import (
	"math/rand"
	"testing"

	"github.com/pgEdge/pgedge-recommend/internal/config"
)

func TestComputePSIIdenticalDistributions(t *testing.T) {
	values := make([]float64, 1000)
	rng := rand.New(rand.NewSource(1))
	for i := range values {
		values[i] = rng.NormFloat64()
	}

	psi := ComputePSI(values, values, 10)
	if psi > 0.001 {
		t.Errorf("PSI of identical samples = %v, expected ~0", psi)
	}
}

func TestComputePSIShiftedDistribution(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	baseline := make([]float64, 1000)
	current := make([]float64, 1000)
	for i := range baseline {
		baseline[i] = rng.NormFloat64()
		current[i] = rng.NormFloat64() + 3.0
	}

	psi := ComputePSI(baseline, current, 10)
	if psi < 0.25 {
		t.Errorf("PSI of heavily shifted sample = %v, expected >= 0.25", psi)
	}
}

func TestComputePSIEmptyInputs(t *testing.T) {
	if psi := ComputePSI(nil, []float64{1, 2, 3}, 10); psi != 0 {
		t.Errorf("PSI with empty baseline = %v, want 0", psi)
	}
	if psi := ComputePSI([]float64{1, 2, 3}, nil, 10); psi != 0 {
		t.Errorf("PSI with empty current = %v, want 0", psi)
	}
}

func TestComputePSIDegenerateBaseline(t *testing.T) {
	baseline := []float64{5, 5, 5, 5}
	psi := ComputePSI(baseline, baseline, 10)
	if psi > 0.001 {
		t.Errorf("PSI of constant identical samples = %v, expected ~0", psi)
	}
}

func TestPSINeverNegative(t *testing.T) {
	baseline := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	current := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 5.5}
	if psi := ComputePSI(baseline, current, 10); psi < 0 {
		t.Errorf("PSI = %v, must be >= 0", psi)
	}
}

func TestHistogramRoundTrip(t *testing.T) {
	values := []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	h := NewHistogram(values, 5)

	if len(h.Edges) != 6 {
		t.Fatalf("Expected 6 edges, got %d", len(h.Edges))
	}
	if got := h.total(); got != int64(len(values)) {
		t.Errorf("Histogram binned %d values, want %d", got, len(values))
	}
	// The maximum value lands in the last (closed) bin.
	if i, ok := h.binIndex(10); !ok || i != 4 {
		t.Errorf("binIndex(10) = (%d, %v), want (4, true)", i, ok)
	}
	// Out-of-range values are excluded.
	if _, ok := h.binIndex(11); ok {
		t.Error("binIndex(11) should be out of range")
	}
}

func TestSeverityFor(t *testing.T) {
	tests := []struct {
		psi  float64
		want string
	}{
		{0.0, SeverityOK},
		{0.09, SeverityOK},
		{0.10, SeverityWarn},
		{0.24, SeverityWarn},
		{0.25, SeverityAlert},
		{1.5, SeverityAlert},
	}
	for _, tt := range tests {
		if got := SeverityFor(tt.psi, 0.10, 0.25); got != tt.want {
			t.Errorf("SeverityFor(%v) = %q, want %q", tt.psi, got, tt.want)
		}
	}
}

func TestShouldRetrain(t *testing.T) {
	cfg := config.DefaultConfig()

	alerts := []Result{
		{Feature: "monetary", PSI: 0.3, Severity: SeverityAlert},
		{Feature: "frequency", PSI: 0.15, Severity: SeverityWarn},
	}
	if ShouldRetrain(cfg, alerts) {
		t.Error("One alert should not trigger retraining")
	}

	alerts = []Result{
		{Feature: "monetary", PSI: 0.3, Severity: SeverityAlert},
		{Feature: "frequency", PSI: 0.4, Severity: SeverityAlert},
		{Feature: "recency_days", PSI: 0.5, Severity: SeverityAlert},
	}
	if !ShouldRetrain(cfg, alerts) {
		t.Error("Three alerts should trigger retraining")
	}
}
