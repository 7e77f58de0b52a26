package pipeline

import (
	"math"
	"testing"
	"time"

	"monarch-pipeline/internal/models"
)

func window(start, end time.Time) models.ExposureWindow {
	return models.ExposureWindow{
		DeploymentID: "SC5",
		Start:        start,
		End:          end,
		Policy:       models.PolicyFixed24h,
	}
}

func TestSeriesIndexWindowRightOpen(t *testing.T) {
	samples := []models.TempSample{
		{Timestamp: at(1, 10, 0), Celsius: 1},
		{Timestamp: at(1, 10, 30), Celsius: 2},
		{Timestamp: at(1, 11, 0), Celsius: 3},
	}
	ix := newSeriesIndex(samples, func(s models.TempSample) time.Time { return s.Timestamp })

	got := ix.Window(at(1, 10, 0), at(1, 11, 0))
	if len(got) != 2 {
		t.Fatalf("Expected 2 samples in right-open window, got %d", len(got))
	}
	if got[0].Celsius != 1 || got[1].Celsius != 2 {
		t.Errorf("Expected the start-inclusive samples, got %v and %v", got[0].Celsius, got[1].Celsius)
	}

	if n := len(ix.Window(at(1, 12, 0), at(1, 13, 0))); n != 0 {
		t.Errorf("Expected empty result outside the series, got %d samples", n)
	}
}

func TestAggregateTemperature(t *testing.T) {
	temps := []models.TempSample{
		{DeploymentID: "SC5", Timestamp: at(1, 10, 0), Celsius: 10},
		{DeploymentID: "SC5", Timestamp: at(1, 10, 30), Celsius: 15},
		{DeploymentID: "SC5", Timestamp: at(1, 11, 0), Celsius: 20},
		{DeploymentID: "SC5", Timestamp: at(1, 12, 0), Celsius: 30}, // outside window
	}
	agg := NewFeatureAggregator(15, 2, 30, 1, temps, nil, nil, testMetrics)

	f := agg.Aggregate(window(at(1, 10, 0), at(1, 11, 30)))

	if f.TempObsCount != 3 {
		t.Fatalf("Expected 3 temperature observations, got %d", f.TempObsCount)
	}
	if f.TempMin != 10 || f.TempMax != 20 {
		t.Errorf("Expected extrema 10/20, got %v/%v", f.TempMin, f.TempMax)
	}
	if math.Abs(f.TempMean-15) > 1e-9 {
		t.Errorf("Expected mean 15, got %v", f.TempMean)
	}
	// 15 and 20 meet the threshold: 2 samples at 30min each
	if math.Abs(f.HoursAboveThresh-1) > 1e-9 {
		t.Errorf("Expected 1 hour above threshold, got %v", f.HoursAboveThresh)
	}
	// only 20 exceeds it: 5 degrees for half an hour
	if math.Abs(f.DegreeHoursAboveThr-2.5) > 1e-9 {
		t.Errorf("Expected 2.5 degree-hours, got %v", f.DegreeHoursAboveThr)
	}
}

func TestAggregateEmptySourcesYieldNaN(t *testing.T) {
	agg := NewFeatureAggregator(15, 2, 30, 1, nil, nil, nil, testMetrics)

	f := agg.Aggregate(window(at(1, 10, 0), at(1, 11, 0)))

	if f.TempObsCount != 0 || f.WindObsCount != 0 || f.ButterflyObsCount != 0 {
		t.Fatalf("Expected zero observation counts, got %d/%d/%d", f.TempObsCount, f.WindObsCount, f.ButterflyObsCount)
	}
	for name, v := range map[string]float64{
		"temp_min":           f.TempMin,
		"temp_mean":          f.TempMean,
		"hours_above":        f.HoursAboveThresh,
		"wind_gust_max":      f.WindGustMax,
		"wind_minutes_above": f.WindMinutesAbove,
		"wind_gust_sum":      f.WindGustSum,
	} {
		if !math.IsNaN(v) {
			t.Errorf("Expected NaN for %s with no samples, got %v", name, v)
		}
	}
	// Direct sun is a sum over observed frames: no frames means zero exposure
	// observed, and the butterfly coverage score carries the absence.
	if f.SumDirectSun != 0 {
		t.Errorf("Expected zero direct sun sum, got %v", f.SumDirectSun)
	}
}

func TestAggregateWind(t *testing.T) {
	winds := []models.WindSample{
		{MeterID: "cjm2", Timestamp: at(1, 10, 0), Sustained: 1, Gust: 1},
		{MeterID: "cjm2", Timestamp: at(1, 10, 1), Sustained: 2, Gust: 3},
		{MeterID: "cjm2", Timestamp: at(1, 10, 2), Sustained: 3, Gust: 3},
	}
	agg := NewFeatureAggregator(15, 2, 30, 1, nil, winds, nil, testMetrics)

	f := agg.Aggregate(window(at(1, 10, 0), at(1, 11, 0)))

	if f.WindObsCount != 3 {
		t.Fatalf("Expected 3 wind observations, got %d", f.WindObsCount)
	}
	if f.WindGustMin != 1 || f.WindGustMax != 3 {
		t.Errorf("Expected gust extrema 1/3, got %v/%v", f.WindGustMin, f.WindGustMax)
	}
	if math.Abs(f.WindAvgSustained-2) > 1e-9 {
		t.Errorf("Expected mean sustained 2, got %v", f.WindAvgSustained)
	}
	if math.Abs(f.WindGustSD-math.Sqrt(4.0/3.0)) > 1e-9 {
		t.Errorf("Expected gust SD %v, got %v", math.Sqrt(4.0/3.0), f.WindGustSD)
	}
	if f.WindGustMode != 3 {
		t.Errorf("Expected gust mode 3, got %v", f.WindGustMode)
	}
	if math.Abs(f.WindGustSum-7) > 1e-9 {
		t.Errorf("Expected gust sum 7, got %v", f.WindGustSum)
	}
	// strictly above 2: the two 3 m/s gusts
	if math.Abs(f.WindGustSumAbove-6) > 1e-9 {
		t.Errorf("Expected gust sum above threshold 6, got %v", f.WindGustSumAbove)
	}
	// at or above 2: the same two samples, one minute each
	if math.Abs(f.WindMinutesAbove-2) > 1e-9 {
		t.Errorf("Expected 2 minutes above threshold, got %v", f.WindMinutesAbove)
	}
	if math.Abs(f.WindGustHours-7.0/60.0) > 1e-9 {
		t.Errorf("Expected gust hours %v, got %v", 7.0/60.0, f.WindGustHours)
	}
}

func TestSingleWindSampleHasNoSD(t *testing.T) {
	winds := []models.WindSample{
		{MeterID: "cjm2", Timestamp: at(1, 10, 0), Sustained: 2, Gust: 4},
	}
	agg := NewFeatureAggregator(15, 2, 30, 1, nil, winds, nil, testMetrics)

	f := agg.Aggregate(window(at(1, 10, 0), at(1, 11, 0)))
	if !math.IsNaN(f.WindGustSD) {
		t.Errorf("Expected NaN SD for a single sample, got %v", f.WindGustSD)
	}
	if f.WindGustMax != 4 {
		t.Errorf("Expected gust max 4, got %v", f.WindGustMax)
	}
}

func TestGustMode(t *testing.T) {
	tests := []struct {
		name     string
		gusts    []float64
		expected float64
	}{
		{
			name:     "plain majority",
			gusts:    []float64{1.0, 3.1, 2.9, 3.0},
			expected: 3,
		},
		{
			name:     "values round to half steps",
			gusts:    []float64{1.26, 1.24, 1.26},
			expected: 1.5,
		},
		{
			name:     "frequency tie takes the smallest value",
			gusts:    []float64{1, 1, 2, 2},
			expected: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := gustMode(tt.gusts); got != tt.expected {
				t.Errorf("Expected mode %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestAggregateCounts(t *testing.T) {
	observations := []models.Observation{
		mkObs("SC5", at(1, 17, 0), 10, 4, false),
		mkObs("SC5", at(1, 22, 0), 5, 1, true), // night residual still adds direct sun
		mkObs("SC5", at(2, 9, 0), 20, 2, false),
		mkObs("SC5", at(2, 18, 0), 0, 9, false), // outside window
	}
	agg := NewFeatureAggregator(15, 2, 30, 1, nil, nil, observations, testMetrics)

	f := agg.Aggregate(window(at(1, 16, 40), at(2, 16, 40)))

	if f.SumDirectSun != 7 {
		t.Errorf("Expected direct sun sum 7, got %v", f.SumDirectSun)
	}
	if f.ButterflyObsCount != 2 {
		t.Errorf("Expected 2 daytime observations, got %d", f.ButterflyObsCount)
	}
}
