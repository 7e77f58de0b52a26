package pipeline

import (
	"context"
	"io"
	"math"
	"testing"
	"time"

	"monarch-pipeline/internal/models"
	"monarch-pipeline/pkg/logging"
	"monarch-pipeline/pkg/metrics"
)

// Shared fixtures for the package tests. A single collector is created
// because Prometheus registration is process-global.
var (
	testLogger  = newTestLogger()
	testMetrics = metrics.NewCollector("pipeline_test")
)

func newTestLogger() *logging.StructuredLogger {
	l := logging.NewStructuredLogger("pipeline-test", "0.0.0", logging.FatalLevel)
	l.SetOutput(io.Discard)
	return l
}

func mkObs(deploymentID string, ts time.Time, count, directSun float64, night bool) models.Observation {
	return models.Observation{
		DeploymentID: deploymentID,
		Filename:     deploymentID + "_" + ts.Format(models.CompactTimestampLayout) + ".JPG",
		Timestamp:    ts,
		TotalCount:   count,
		DirectSun:    directSun,
		IsNight:      night,
	}
}

func at(day, hour, minute int) time.Time {
	return time.Date(2023, 11, day, hour, minute, 0, 0, time.UTC)
}

func TestPercentile(t *testing.T) {
	tests := []struct {
		name     string
		sorted   []float64
		q        float64
		expected float64
	}{
		{
			name:     "p95 of 1..10 interpolates",
			sorted:   []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
			q:        0.95,
			expected: 9.55,
		},
		{
			name:     "median of four values",
			sorted:   []float64{1, 2, 3, 4},
			q:        0.5,
			expected: 2.5,
		},
		{
			name:     "q zero returns minimum",
			sorted:   []float64{3, 7, 9},
			q:        0,
			expected: 3,
		},
		{
			name:     "q one returns maximum",
			sorted:   []float64{3, 7, 9},
			q:        1,
			expected: 9,
		},
		{
			name:     "single value",
			sorted:   []float64{42},
			q:        0.95,
			expected: 42,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := percentile(tt.sorted, tt.q)
			if math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestTopNMean(t *testing.T) {
	tests := []struct {
		name     string
		sorted   []float64
		n        int
		expected float64
	}{
		{
			name:     "top 3 of five values",
			sorted:   []float64{1, 2, 3, 4, 5},
			n:        3,
			expected: 4,
		},
		{
			name:     "fewer values pad with zeros",
			sorted:   []float64{1, 5},
			n:        3,
			expected: 2,
		},
		{
			name:     "single value still divides by n",
			sorted:   []float64{6},
			n:        3,
			expected: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := topNMean(tt.sorted, tt.n)
			if math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestDailyAggregatorBounds(t *testing.T) {
	seasonStart := time.Date(2023, 10, 15, 0, 0, 0, 0, time.UTC)
	agg := NewDailyAggregator(3, 4, seasonStart, nil, testLogger, testMetrics)

	observations := []models.Observation{
		// Nov 1: 3 daytime photos, valid
		mkObs("SC5", at(1, 9, 0), 10, 2, false),
		mkObs("SC5", at(1, 9, 30), 50, 5, false),
		mkObs("SC5", at(1, 10, 0), 20, 0, false),
		mkObs("SC5", at(1, 22, 0), 0, 0, true), // night frame, not counted

		// Nov 2: 2 daytime photos, too few
		mkObs("SC5", at(2, 9, 0), 5, 0, false),
		mkObs("SC5", at(2, 9, 30), 8, 0, false),

		// Nov 3: 5 daytime photos, too many
		mkObs("SC5", at(3, 9, 0), 1, 0, false),
		mkObs("SC5", at(3, 9, 30), 2, 0, false),
		mkObs("SC5", at(3, 10, 0), 3, 0, false),
		mkObs("SC5", at(3, 10, 30), 4, 0, false),
		mkObs("SC5", at(3, 11, 0), 5, 0, false),
	}

	records, stats := agg.Aggregate(context.Background(), "SC5", observations)

	if stats.DaysSeen != 3 {
		t.Errorf("Expected 3 days seen, got %d", stats.DaysSeen)
	}
	if stats.DaysTooFewPhotos != 1 || stats.DaysTooMany != 1 {
		t.Errorf("Expected 1 too-few and 1 too-many, got %d and %d", stats.DaysTooFewPhotos, stats.DaysTooMany)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 valid day, got %d", len(records))
	}

	day := records[0]
	if day.NPhotos != 3 {
		t.Errorf("Expected 3 daytime photos, got %d", day.NPhotos)
	}
	if day.MaxCount != 50 {
		t.Errorf("Expected max count 50, got %v", day.MaxCount)
	}
	if !day.TimeOfMax.Equal(at(1, 9, 30)) {
		t.Errorf("Expected time of max %v, got %v", at(1, 9, 30), day.TimeOfMax)
	}
	if !day.LastObsTime.Equal(at(1, 10, 0)) {
		t.Errorf("Expected last daytime observation %v, got %v", at(1, 10, 0), day.LastObsTime)
	}
	if day.SumDirectSun != 7 {
		t.Errorf("Expected direct sun sum 7, got %v", day.SumDirectSun)
	}
	if !math.IsNaN(day.TempAtMax) {
		t.Errorf("Expected NaN temp at max without temperature data, got %v", day.TempAtMax)
	}
	if day.DaySequence != 1 {
		t.Errorf("Expected day sequence 1, got %d", day.DaySequence)
	}
	if day.DaysSinceSeasonStart != 17 {
		t.Errorf("Expected 17 days since season start, got %d", day.DaysSinceSeasonStart)
	}
}

func TestDailyAggregatorMaxTieBreak(t *testing.T) {
	agg := NewDailyAggregator(1, 10, time.Date(2023, 10, 15, 0, 0, 0, 0, time.UTC), nil, testLogger, testMetrics)

	observations := []models.Observation{
		mkObs("SC5", at(1, 9, 0), 30, 0, false),
		mkObs("SC5", at(1, 9, 30), 30, 0, false),
		mkObs("SC5", at(1, 10, 0), 10, 0, false),
	}

	records, _ := agg.Aggregate(context.Background(), "SC5", observations)
	if len(records) != 1 {
		t.Fatalf("Expected 1 day, got %d", len(records))
	}
	if !records[0].TimeOfMax.Equal(at(1, 9, 0)) {
		t.Errorf("Expected the earliest maximum to win, got %v", records[0].TimeOfMax)
	}
}

func TestDailyAggregatorSequenceSkipsExcludedDays(t *testing.T) {
	agg := NewDailyAggregator(2, 10, time.Date(2023, 10, 15, 0, 0, 0, 0, time.UTC), nil, testLogger, testMetrics)

	observations := []models.Observation{
		mkObs("SC5", at(1, 9, 0), 1, 0, false),
		mkObs("SC5", at(1, 9, 30), 2, 0, false),
		mkObs("SC5", at(2, 9, 0), 3, 0, false), // single photo, excluded
		mkObs("SC5", at(3, 9, 0), 4, 0, false),
		mkObs("SC5", at(3, 9, 30), 5, 0, false),
	}

	records, _ := agg.Aggregate(context.Background(), "SC5", observations)
	if len(records) != 2 {
		t.Fatalf("Expected 2 valid days, got %d", len(records))
	}
	if records[0].DaySequence != 1 || records[1].DaySequence != 2 {
		t.Errorf("Expected sequences 1 and 2, got %d and %d", records[0].DaySequence, records[1].DaySequence)
	}
}
