package pipeline

import (
	"math"
	"testing"

	"monarch-pipeline/internal/models"
)

func TestTransformSet(t *testing.T) {
	tests := []struct {
		name  string
		prev  float64
		curr  float64
		check func(t *testing.T, s models.TransformSet)
	}{
		{
			name: "decline keeps its sign in every transform",
			prev: 50,
			curr: 30,
			check: func(t *testing.T, s models.TransformSet) {
				if s.Diff != -20 {
					t.Errorf("Expected diff -20, got %v", s.Diff)
				}
				if math.Abs(s.Sqrt+math.Sqrt(20)) > 1e-9 {
					t.Errorf("Expected sqrt %v, got %v", -math.Sqrt(20), s.Sqrt)
				}
				if math.Abs(s.Log+math.Log(21)) > 1e-9 {
					t.Errorf("Expected log %v, got %v", -math.Log(21), s.Log)
				}
				if math.Abs(s.Relative+0.25) > 1e-9 {
					t.Errorf("Expected relative -0.25, got %v", s.Relative)
				}
			},
		},
		{
			name: "appearance from zero saturates relative change",
			prev: 0,
			curr: 10,
			check: func(t *testing.T, s models.TransformSet) {
				if s.Diff != 10 {
					t.Errorf("Expected diff 10, got %v", s.Diff)
				}
				if s.Relative != 1 {
					t.Errorf("Expected relative 1, got %v", s.Relative)
				}
			},
		},
		{
			name: "no change is zero everywhere",
			prev: 12,
			curr: 12,
			check: func(t *testing.T, s models.TransformSet) {
				if s.Diff != 0 || s.Sqrt != 0 || s.Log != 0 || s.Relative != 0 {
					t.Errorf("Expected all-zero transforms, got %+v", s)
				}
			},
		},
		{
			name: "zero against zero falls back to the sentinel",
			prev: 0,
			curr: 0,
			check: func(t *testing.T, s models.TransformSet) {
				if s.Relative != 0 {
					t.Errorf("Expected sentinel 0, got %v", s.Relative)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, transformSet(tt.prev, tt.curr))
		})
	}
}

func TestComputeTransformsCoversAllMetrics(t *testing.T) {
	prev := models.DayRecord{MaxCount: 50, P95Count: 40, Top3MeanCount: 45}
	curr := models.DayRecord{MaxCount: 80, P95Count: 60, Top3MeanCount: 70}

	tr := ComputeTransforms(prev, curr)
	if tr.Max.Diff != 30 {
		t.Errorf("Expected max diff 30, got %v", tr.Max.Diff)
	}
	if tr.P95.Diff != 20 {
		t.Errorf("Expected p95 diff 20, got %v", tr.P95.Diff)
	}
	if tr.Top3.Diff != 25 {
		t.Errorf("Expected top3 diff 25, got %v", tr.Top3.Diff)
	}
}

func TestEvaluateTransforms(t *testing.T) {
	diffs := []float64{-12, -5, -1, 0, 2, 6, 14, 3, -7, 9}
	pairs := make([]models.LagPair, len(diffs))
	for i, d := range diffs {
		prev := models.DayRecord{MaxCount: 20, P95Count: 18, Top3MeanCount: 19}
		curr := models.DayRecord{MaxCount: 20 + d, P95Count: 18 + d, Top3MeanCount: 19 + d}
		pairs[i] = models.LagPair{
			Prev:       prev,
			Curr:       curr,
			Transforms: ComputeTransforms(prev, curr),
		}
	}

	evaluations := EvaluateTransforms(pairs)
	if len(evaluations) != 9 {
		t.Fatalf("Expected 9 metric/transform evaluations, got %d", len(evaluations))
	}
	for _, e := range evaluations {
		if e.N != len(pairs) {
			t.Errorf("Expected n=%d for %s/%s, got %d", len(pairs), e.Metric, e.Transform, e.N)
		}
		if math.IsNaN(e.W) {
			t.Errorf("Expected a defined W for %s/%s", e.Metric, e.Transform)
		}
		if e.W <= 0 || e.W > 1 {
			t.Errorf("Expected W in (0,1] for %s/%s, got %v", e.Metric, e.Transform, e.W)
		}
	}
}

func TestEvaluateTransformsDegenerateSeries(t *testing.T) {
	// Two pairs are below the minimum sample size for the normality test.
	pairs := []models.LagPair{
		{Transforms: ComputeTransforms(models.DayRecord{MaxCount: 1}, models.DayRecord{MaxCount: 5})},
		{Transforms: ComputeTransforms(models.DayRecord{MaxCount: 5}, models.DayRecord{MaxCount: 2})},
	}

	for _, e := range EvaluateTransforms(pairs) {
		if !math.IsNaN(e.W) {
			t.Errorf("Expected NaN W for %s/%s with two samples, got %v", e.Metric, e.Transform, e.W)
		}
	}
}

func TestBestTransforms(t *testing.T) {
	evaluations := []TransformEvaluation{
		{Metric: "max_count", Transform: "sqrt", W: 0.95, N: 30},
		{Metric: "max_count", Transform: "log", W: 0.97, N: 30},
		{Metric: "max_count", Transform: "relative", W: math.NaN(), N: 30},
		{Metric: "p95_count", Transform: "sqrt", W: math.NaN(), N: 30},
	}

	best := BestTransforms(evaluations)
	if len(best) != 1 {
		t.Fatalf("Expected 1 metric with a defined best, got %d", len(best))
	}
	if best["max_count"].Transform != "log" {
		t.Errorf("Expected log to win for max_count, got %s", best["max_count"].Transform)
	}
}
