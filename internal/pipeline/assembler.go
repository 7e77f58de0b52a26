package pipeline

import (
	"context"

	"monarch-pipeline/internal/models"
	"monarch-pipeline/pkg/logging"
	"monarch-pipeline/pkg/metrics"
)

// assemblerState is the two-state walk over a deployment's day list.
type assemblerState int

const (
	awaitingFirstDay assemblerState = iota
	havePreviousDay
)

// Assembler walks one deployment's chronologically sorted DayRecords and
// emits a LagPair for every valid consecutive-day transition, attaching the
// exposure window, weather features, coverage scores, and response
// transforms. Pairing never crosses deployments; the caller constructs one
// assembler per deployment.
type Assembler struct {
	policy   models.WindowPolicy
	features *FeatureAggregator
	scorer   CoverageScorer
	logger   *logging.StructuredLogger
	metrics  *metrics.Collector
}

// AssembleStats summarizes one deployment's pairing for the run report.
type AssembleStats struct {
	Candidates       int
	GapsSkipped      int
	ExcludedZeroZero int
	Emitted          int
}

// NewAssembler creates a lag-pair assembler for one deployment.
func NewAssembler(policy models.WindowPolicy, features *FeatureAggregator, scorer CoverageScorer, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *Assembler {
	return &Assembler{
		policy:   policy,
		features: features,
		scorer:   scorer,
		logger:   logger,
		metrics:  metricsCollector,
	}
}

// Assemble runs the state machine over the deployment's valid days. Gaps
// (an intervening day that failed the bounds check) are skipped silently and
// never bridged: the later day simply becomes the new held previous day. The
// last day never emits a pair of its own since it has no successor.
func (a *Assembler) Assemble(ctx context.Context, days []models.DayRecord) ([]models.LagPair, AssembleStats) {
	var stats AssembleStats
	var held models.DayRecord

	state := awaitingFirstDay
	pairs := make([]models.LagPair, 0, len(days))

	for _, day := range days {
		if state == awaitingFirstDay {
			held = day
			state = havePreviousDay
			continue
		}

		if !models.IsNextDay(held.Date, day.Date) {
			stats.GapsSkipped++
			a.metrics.RecordPairExcluded("gap")
			a.logger.Debug(ctx, "[ASSEMBLE_GAP] Non-consecutive days skipped", logging.Fields{
				"deployment_id": day.DeploymentID,
				"date_prev":     held.Date.Format("2006-01-02"),
				"date_next":     day.Date.Format("2006-01-02"),
			})
			held = day
			continue
		}

		stats.Candidates++

		// Both endpoints reporting zero animals is uninformative for
		// movement inference.
		if held.MaxCount == 0 && day.MaxCount == 0 {
			stats.ExcludedZeroZero++
			a.metrics.RecordPairExcluded("zero_zero")
			held = day
			continue
		}

		window, err := ResolveWindow(held, day, a.policy)
		if err != nil {
			a.metrics.RecordPairExcluded("invalid_window")
			a.logger.Warn(ctx, "[ASSEMBLE_WINDOW] Dropping pair with invalid window", logging.Fields{
				"deployment_id": day.DeploymentID,
				"date_t":        day.Date.Format("2006-01-02"),
				"error":         err.Error(),
			})
			held = day
			continue
		}

		features := a.features.Aggregate(window)
		coverage := a.scorer.Score(window, features)

		pairs = append(pairs, models.LagPair{
			DeploymentID: day.DeploymentID,
			DateT1:       held.Date,
			DateT:        day.Date,
			Prev:         held,
			Curr:         day,
			Window:       window,
			Features:     features,
			Coverage:     coverage,
			Transforms:   ComputeTransforms(held, day),
		})
		stats.Emitted++

		a.metrics.PairsEmittedTotal.Inc()
		a.metrics.WindowDurationHours.Observe(window.Hours())

		held = day
	}

	return pairs, stats
}
