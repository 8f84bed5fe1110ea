package consolidate

import (
	"math"
	"testing"

	"github.com/optiflow-ai/consolidation/pkg/common"
)

func TestNormalizeName(t *testing.T) {
	synonyms := common.SpecFor(common.TypePainPoint).Synonyms

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "lowercases and trims",
			input: "  Monthly Reconciliation  ",
			want:  "monthly reconciliation",
		},
		{
			name:  "strips punctuation",
			input: "SAP-FI/CO (Finance)",
			want:  "sap fi co finance",
		},
		{
			name:  "collapses whitespace",
			input: "excel   based\ttracking",
			want:  "excel based tracking",
		},
		{
			name:  "empty input",
			input: "",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeName(tt.input, synonyms)
			if got != tt.want {
				t.Errorf("NormalizeName(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNameScoreSymmetry(t *testing.T) {
	scorer := NewScorer(DefaultConfig(), NewMetrics())

	pairs := [][2]string{
		{"Monthly Reconciliation", "monthly reconciliation"},
		{"SAP ERP", "Excel Tracker"},
		{"Invoice Approval Process", "Invoice approval"},
	}
	for _, pair := range pairs {
		ab := scorer.NameScore(pair[0], pair[1], common.TypeProcess)
		ba := scorer.NameScore(pair[1], pair[0], common.TypeProcess)
		if math.Abs(ab-ba) > 1e-9 {
			t.Errorf("NameScore not symmetric for %q/%q: %f vs %f", pair[0], pair[1], ab, ba)
		}
	}
}

func TestNameScore(t *testing.T) {
	scorer := NewScorer(DefaultConfig(), NewMetrics())

	tests := []struct {
		name    string
		a, b    string
		entType common.EntityType
		min     float64
		max     float64
	}{
		{
			name:    "identical after normalization",
			a:       "Monthly  Reconciliation",
			b:       "monthly reconciliation",
			entType: common.TypeProcess,
			min:     1.0,
			max:     1.0,
		},
		{
			name:    "near identical",
			a:       "Invoice Approval Process",
			b:       "Invoice Aproval Process",
			entType: common.TypeProcess,
			min:     0.9,
			max:     1.0,
		},
		{
			name:    "subset name",
			a:       "SAP",
			b:       "SAP ERP Finance Module",
			entType: common.TypeSystem,
			min:     0.5,
			max:     0.95,
		},
		{
			name:    "unrelated names",
			a:       "Excel Tracker",
			b:       "Procurement Policy",
			entType: common.TypeSystem,
			min:     0.0,
			max:     0.5,
		},
		{
			name:    "severity synonym match",
			a:       "alta",
			b:       "high",
			entType: common.TypePainPoint,
			min:     1.0,
			max:     1.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := scorer.NameScore(tt.a, tt.b, tt.entType)
			if got < tt.min || got > tt.max {
				t.Errorf("NameScore(%q, %q) = %f, want in [%f, %f]", tt.a, tt.b, got, tt.min, tt.max)
			}
		})
	}
}

func TestScoreStaysInBounds(t *testing.T) {
	scorer := NewScorer(DefaultConfig(), NewMetrics())

	embA := []float32{1, 0, 0}
	embB := []float32{0.5, 0.5, 0}

	names := []string{"", "a", "Completely Different Name", "Monthly Reconciliation"}
	for _, a := range names {
		for _, b := range names {
			got := scorer.Score(a, b, embA, embB, common.TypeProcess)
			if got < 0 || got > 1 {
				t.Errorf("Score(%q, %q) = %f, out of [0, 1]", a, b, got)
			}
		}
	}
}

func TestScoreUsesCache(t *testing.T) {
	metrics := NewMetrics()
	scorer := NewScorer(DefaultConfig(), metrics)

	scorer.Score("Monthly Reconciliation", "monthly reconciliation delays", nil, nil, common.TypePainPoint)
	first := scorer.Score("Monthly Reconciliation", "monthly reconciliation delays", nil, nil, common.TypePainPoint)
	// order independent key
	second := scorer.Score("monthly reconciliation delays", "Monthly Reconciliation", nil, nil, common.TypePainPoint)

	if first != second {
		t.Errorf("cached score differs by argument order: %f vs %f", first, second)
	}
	report := metrics.Export()
	if report.SimilarityCacheHits < 2 {
		t.Errorf("expected at least 2 cache hits, got %d", report.SimilarityCacheHits)
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{
			name: "identical vectors",
			a:    []float32{1, 2, 3},
			b:    []float32{1, 2, 3},
			want: 1.0,
		},
		{
			name: "orthogonal vectors",
			a:    []float32{1, 0},
			b:    []float32{0, 1},
			want: 0.0,
		},
		{
			name: "opposite vectors clamp to zero",
			a:    []float32{1, 0},
			b:    []float32{-1, 0},
			want: 0.0,
		},
		{
			name: "zero vector",
			a:    []float32{0, 0},
			b:    []float32{1, 1},
			want: 0.0,
		},
		{
			name: "length mismatch",
			a:    []float32{1, 2},
			b:    []float32{1, 2, 3},
			want: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("CosineSimilarity() = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"abc", "abc", 0},
		{"kitten", "sitting", 3},
		{"reconciliation", "reconcilation", 1},
	}

	for _, tt := range tests {
		if got := levenshtein(tt.a, tt.b); got != tt.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}
