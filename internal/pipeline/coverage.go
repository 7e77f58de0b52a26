package pipeline

import (
	"math"

	"monarch-pipeline/internal/models"
	"monarch-pipeline/pkg/metrics"
)

// CoverageScorer compares the samples actually present in a window with the
// count expected from the window duration and each source's nominal sampling
// rate. It has no failure mode: a zero-length window defines coverage as 0
// rather than dividing by zero.
type CoverageScorer struct {
	tempIntervalMin  int
	windIntervalMin  int
	photoIntervalMin int
	metrics          *metrics.Collector
}

// NewCoverageScorer creates a coverage scorer from the nominal sampling
// intervals of the three sources.
func NewCoverageScorer(tempIntervalMin, windIntervalMin, photoIntervalMin int, metricsCollector *metrics.Collector) CoverageScorer {
	return CoverageScorer{
		tempIntervalMin:  tempIntervalMin,
		windIntervalMin:  windIntervalMin,
		photoIntervalMin: photoIntervalMin,
		metrics:          metricsCollector,
	}
}

// Score computes per-source and overall coverage for one window. Overall is
// the geometric mean of the three sources: zero coverage in any one source
// collapses the overall score to zero, since a window with no data from a
// source should not be treated as mostly fine.
func (s CoverageScorer) Score(w models.ExposureWindow, f models.WindowFeatures) models.CoverageScore {
	hours := w.Hours()

	expectedTemp := hours * 60 / float64(s.tempIntervalMin)
	expectedWind := hours * 60 / float64(s.windIntervalMin)

	// The count source only samples during daylight, roughly half of each
	// diurnal cycle, so the expectation is halved before applying the
	// nominal photo cadence.
	expectedButterfly := hours / 2 * 60 / float64(s.photoIntervalMin)

	score := models.CoverageScore{
		Temp:      ratio(f.TempObsCount, expectedTemp),
		Wind:      ratio(f.WindObsCount, expectedWind),
		Butterfly: ratio(f.ButterflyObsCount, expectedButterfly),
	}
	score.Overall = math.Cbrt(score.Temp * score.Wind * score.Butterfly)

	if s.metrics != nil {
		s.metrics.RecordCoverage(score.Temp, score.Wind, score.Butterfly)
	}

	return score
}

// ratio computes min(1, actual/expected), defining coverage as 0 when the
// expectation is not positive.
func ratio(actual int, expected float64) float64 {
	if expected <= 0 {
		return 0
	}
	return math.Min(1, float64(actual)/expected)
}
