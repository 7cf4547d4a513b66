package ranker

import (
	"math"
	"math/rand"
	"reflect"
	"testing"

	"github.com/pgEdge/pgedge-recommend/internal/config"
	"github.com/pgEdge/pgedge-recommend/internal/drift"
)

func TestROCAUC(t *testing.T) {
	tests := []struct {
		name   string
		y      []float64
		scores []float64
		want   float64
	}{
		{"perfect separation", []float64{0, 0, 1, 1}, []float64{0.1, 0.2, 0.8, 0.9}, 1.0},
		{"inverted scores", []float64{0, 0, 1, 1}, []float64{0.9, 0.8, 0.2, 0.1}, 0.0},
		{"all tied scores", []float64{0, 1, 0, 1}, []float64{0.5, 0.5, 0.5, 0.5}, 0.5},
		{"single class", []float64{1, 1, 1}, []float64{0.1, 0.5, 0.9}, 0.5},
		{"one misranked pair", []float64{0, 1, 0, 1}, []float64{0.1, 0.4, 0.6, 0.9}, 0.75},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := rocAUC(tt.y, tt.scores)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("rocAUC = %v, want %v", got, tt.want)
			}
		})
	}
}

// separableData builds a two-cluster sample the models must separate.
func separableData(n int) ([][]float64, []float64) {
	rng := rand.New(rand.NewSource(7))
	X := make([][]float64, 0, 2*n)
	y := make([]float64, 0, 2*n)
	for i := 0; i < n; i++ {
		X = append(X, []float64{rng.Float64() * 0.4, rng.Float64()})
		y = append(y, 0)
		X = append(X, []float64{0.6 + rng.Float64()*0.4, rng.Float64()})
		y = append(y, 1)
	}
	return X, y
}

func TestFitLogRegSeparable(t *testing.T) {
	X, y := separableData(200)
	m := FitLogReg(X, y, config.LogRegConfig{Epochs: 30, LearningRate: 0.1, L2: 1e-4})

	auc := validationAUC(m.PredictProba, X, y)
	if auc < 0.95 {
		t.Errorf("Logistic regression AUC on separable data = %v, want >= 0.95", auc)
	}

	pLow := m.PredictProba([]float64{0.1, 0.5})
	pHigh := m.PredictProba([]float64{0.9, 0.5})
	if pHigh <= pLow {
		t.Errorf("Expected higher probability for positive cluster: low=%v high=%v", pLow, pHigh)
	}
}

func TestFitLogRegRawScaleFeatures(t *testing.T) {
	// Currency-scale inputs must not saturate the sigmoid: the scaler
	// parameters are learned at fit time and applied at predict time.
	rng := rand.New(rand.NewSource(11))
	var X [][]float64
	var y []float64
	for i := 0; i < 200; i++ {
		X = append(X, []float64{1000 + rng.Float64()*1000, rng.Float64()})
		y = append(y, 0)
		X = append(X, []float64{3000 + rng.Float64()*1000, rng.Float64()})
		y = append(y, 1)
	}

	m := FitLogReg(X, y, config.LogRegConfig{Epochs: 30, LearningRate: 0.1, L2: 1e-4})

	if len(m.Means) != 2 || len(m.Stds) != 2 {
		t.Fatalf("Scaler parameters not learned: means=%v stds=%v", m.Means, m.Stds)
	}
	auc := validationAUC(m.PredictProba, X, y)
	if auc < 0.95 {
		t.Errorf("AUC on raw-scale separable data = %v, want >= 0.95", auc)
	}

	pLow := m.PredictProba([]float64{1200, 0.5})
	pHigh := m.PredictProba([]float64{3800, 0.5})
	if pHigh <= pLow {
		t.Errorf("Expected higher probability for positive cluster: low=%v high=%v", pLow, pHigh)
	}
	if pLow > 0.3 || pHigh < 0.7 {
		t.Errorf("Predictions lack separation: low=%v high=%v", pLow, pHigh)
	}
}

func TestFitBoostedSeparable(t *testing.T) {
	X, y := separableData(200)
	m := FitBoosted(X, y, config.BoostedConfig{
		Trees: 20, MaxDepth: 3, LearningRate: 0.1, MinSamplesLeaf: 5,
	})

	auc := validationAUC(m.PredictProba, X, y)
	if auc < 0.95 {
		t.Errorf("Boosted trees AUC on separable data = %v, want >= 0.95", auc)
	}

	p := m.PredictProba([]float64{0.9, 0.5})
	if p < 0 || p > 1 {
		t.Errorf("Probability out of range: %v", p)
	}
}

func TestFitBoostedSingleClass(t *testing.T) {
	X := [][]float64{{1, 2}, {3, 4}, {5, 6}}
	y := []float64{1, 1, 1}
	m := FitBoosted(X, y, config.BoostedConfig{
		Trees: 5, MaxDepth: 2, LearningRate: 0.1, MinSamplesLeaf: 1,
	})
	p := m.PredictProba([]float64{2, 3})
	if p < 0.9 {
		t.Errorf("All-positive training should predict high probability, got %v", p)
	}
}

func TestDownsampleDeterministic(t *testing.T) {
	cfg := config.DefaultConfig()

	var pairs []labeledPair
	for i := int64(0); i < 10; i++ {
		pairs = append(pairs, labeledPair{customerID: i, offerID: i, label: 1})
	}
	for i := int64(10); i < 200; i++ {
		pairs = append(pairs, labeledPair{customerID: i, offerID: i, label: 0})
	}

	first := downsample(pairs, cfg)
	second := downsample(pairs, cfg)

	// 10 positives + 4x negatives.
	if len(first) != 50 {
		t.Errorf("Expected 50 sampled rows, got %d", len(first))
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("Downsampling is not deterministic for a fixed seed")
	}

	var nPos int
	for _, p := range first {
		if p.label > 0.5 {
			nPos++
		}
	}
	if nPos != 10 {
		t.Errorf("Expected all 10 positives kept, got %d", nPos)
	}
}

func TestDownsampleFewNegatives(t *testing.T) {
	cfg := config.DefaultConfig()
	pairs := []labeledPair{
		{1, 1, 1}, {2, 2, 1}, {3, 3, 0},
	}
	out := downsample(pairs, cfg)
	if len(out) != 3 {
		t.Errorf("Expected all rows kept when negatives are scarce, got %d", len(out))
	}
}

func TestArtifactRoundTrip(t *testing.T) {
	dir := t.TempDir()

	X, y := separableData(50)
	logreg := FitLogReg(X, y, config.LogRegConfig{Epochs: 10, LearningRate: 0.1, L2: 1e-4})
	boosted := FitBoosted(X, y, config.BoostedConfig{
		Trees: 5, MaxDepth: 2, LearningRate: 0.1, MinSamplesLeaf: 5,
	})

	a := &Artifact{
		ModelName:    ModelBoosted,
		FeatureNames: FeatureNames,
		LogReg:       logreg,
		Boosted:      boosted,
		Metrics:      Metrics{BestModel: ModelBoosted, BestAUC: 0.97},
		DriftBaselines: map[string]drift.Histogram{
			"monetary": drift.NewHistogram([]float64{1, 2, 3, 4, 5}, 5),
		},
	}
	if err := a.Save(dir); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.ModelName != a.ModelName {
		t.Errorf("ModelName = %q, want %q", loaded.ModelName, a.ModelName)
	}
	if !reflect.DeepEqual(loaded.FeatureNames, a.FeatureNames) {
		t.Error("FeatureNames did not survive the round trip")
	}
	if len(loaded.DriftBaselines["monetary"].Counts) != 5 {
		t.Error("Drift baselines did not survive the round trip")
	}

	// The reloaded winner must score identically.
	for _, x := range X[:10] {
		want := a.PredictProba(x)
		got := loaded.PredictProba(x)
		if math.Abs(got-want) > 1e-9 {
			t.Errorf("Reloaded model prediction %v differs from original %v", got, want)
		}
	}
}

func TestLoadMissingArtifact(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Error("Expected error loading from empty directory")
	}
}
