package pipeline

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"monarch-pipeline/internal/config"
	"monarch-pipeline/internal/models"
	"monarch-pipeline/internal/sources"
	"monarch-pipeline/pkg/logging"
	"monarch-pipeline/pkg/metrics"
)

// Runner orchestrates the full pipeline: read counts, aggregate days, join
// weather over exposure windows, and assemble lag pairs. Deployments are
// independent and are processed by a bounded worker pool; a failure in one
// deployment never aborts the run.
type Runner struct {
	cfg     *config.Config
	policy  models.WindowPolicy
	counts  *sources.CountReader
	temps   *sources.TempReader
	winds   *sources.WindReader
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// RunSummary aggregates per-deployment statistics for the end-of-run report.
type RunSummary struct {
	DeploymentsProcessed int
	DeploymentsFailed    int
	DeploymentsNoWind    int
	DeploymentsEmpty     int

	Counts   sources.CountReadStats
	Daily    DailyStats
	Assembly AssembleStats

	Evaluations []TransformEvaluation
	Best        map[string]TransformEvaluation
}

// RunResult is the merged output of one pipeline run.
type RunResult struct {
	Pairs   []models.LagPair
	Summary RunSummary
}

// deploymentResult carries one worker's output for a single deployment.
type deploymentResult struct {
	deploymentID string
	pairs        []models.LagPair
	counts       sources.CountReadStats
	daily        DailyStats
	assembly     AssembleStats
	noWind       bool
	empty        bool
	err          error
}

// NewRunner wires a runner over the three sources.
func NewRunner(cfg *config.Config, policy models.WindowPolicy, counts *sources.CountReader, temps *sources.TempReader, winds *sources.WindReader, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *Runner {
	return &Runner{
		cfg:     cfg,
		policy:  policy,
		counts:  counts,
		temps:   temps,
		winds:   winds,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// Run processes the given deployments and returns the merged, sorted lag
// pairs. Output order is (deployment_id, date_t) regardless of worker
// scheduling.
func (r *Runner) Run(ctx context.Context, deploymentIDs []string) (RunResult, error) {
	start := time.Now()
	defer func() {
		r.metrics.RunDuration.Observe(time.Since(start).Seconds())
	}()

	workers := r.cfg.Pipeline.Workers
	if workers > len(deploymentIDs) {
		workers = len(deploymentIDs)
	}
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan string)
	results := make(chan deploymentResult, len(deploymentIDs))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for deploymentID := range jobs {
				results <- r.processDeployment(logging.WithDeploymentID(ctx, deploymentID), deploymentID)
			}
		}()
	}

	for _, deploymentID := range deploymentIDs {
		jobs <- deploymentID
	}
	close(jobs)
	wg.Wait()
	close(results)

	var result RunResult
	for res := range results {
		if res.err != nil {
			result.Summary.DeploymentsFailed++
			r.metrics.DeploymentsFailed.Inc()
			r.logger.Error(ctx, "[RUN_DEPLOYMENT] Deployment failed", logging.Fields{
				"deployment_id": res.deploymentID,
			}, res.err)
			continue
		}

		result.Summary.DeploymentsProcessed++
		r.metrics.DeploymentsProcessed.Inc()
		if res.noWind {
			result.Summary.DeploymentsNoWind++
		}
		if res.empty {
			result.Summary.DeploymentsEmpty++
		}

		result.Summary.Counts.Parsed += res.counts.Parsed
		result.Summary.Counts.Dropped += res.counts.Dropped
		result.Summary.Counts.Downsampled += res.counts.Downsampled
		result.Summary.Counts.Daytime += res.counts.Daytime
		result.Summary.Counts.Night += res.counts.Night

		result.Summary.Daily.DaysSeen += res.daily.DaysSeen
		result.Summary.Daily.DaysAggregated += res.daily.DaysAggregated
		result.Summary.Daily.DaysTooFewPhotos += res.daily.DaysTooFewPhotos
		result.Summary.Daily.DaysTooMany += res.daily.DaysTooMany

		result.Summary.Assembly.Candidates += res.assembly.Candidates
		result.Summary.Assembly.GapsSkipped += res.assembly.GapsSkipped
		result.Summary.Assembly.ExcludedZeroZero += res.assembly.ExcludedZeroZero
		result.Summary.Assembly.Emitted += res.assembly.Emitted

		result.Pairs = append(result.Pairs, res.pairs...)
	}

	sort.Slice(result.Pairs, func(i, j int) bool {
		a, b := result.Pairs[i], result.Pairs[j]
		if a.DeploymentID != b.DeploymentID {
			return a.DeploymentID < b.DeploymentID
		}
		return a.DateT.Before(b.DateT)
	})

	result.Summary.Evaluations = EvaluateTransforms(result.Pairs)
	result.Summary.Best = BestTransforms(result.Summary.Evaluations)

	r.logger.Info(ctx, "[RUN_COMPLETE] Pipeline run finished", logging.Fields{
		"deployments_processed": result.Summary.DeploymentsProcessed,
		"deployments_failed":    result.Summary.DeploymentsFailed,
		"pairs_emitted":         len(result.Pairs),
		"duration_ms":           time.Since(start).Milliseconds(),
	})

	return result, nil
}

// processDeployment runs the per-deployment flow end to end. Errors are
// returned rather than logged so the merge loop can count them uniformly.
func (r *Runner) processDeployment(ctx context.Context, deploymentID string) deploymentResult {
	res := deploymentResult{deploymentID: deploymentID}

	observations, readStats, err := r.counts.ReadDeployment(ctx, deploymentID)
	if err != nil {
		res.err = err
		return res
	}
	res.counts = readStats

	daily := NewDailyAggregator(
		r.cfg.Pipeline.MinPhotosPerDay, r.cfg.Pipeline.MaxPhotosPerDay,
		r.cfg.SeasonStartDate(), r.temps, r.logger, r.metrics,
	)
	days, dailyStats := daily.Aggregate(ctx, deploymentID, observations)
	res.daily = dailyStats

	if len(days) < 2 {
		res.empty = true
		r.logger.Warn(ctx, "[RUN_EMPTY] Deployment yields no lag pairs", logging.Fields{
			"deployment_id": deploymentID,
			"valid_days":    len(days),
		})
		return res
	}

	windSamples, noWind, err := r.loadWind(ctx, deploymentID, days)
	if err != nil {
		res.err = err
		return res
	}
	res.noWind = noWind

	features := NewFeatureAggregator(
		r.cfg.Pipeline.TempThresholdC, r.cfg.Pipeline.GustThresholdMS,
		r.cfg.Pipeline.TempIntervalMin, r.cfg.Pipeline.WindIntervalMin,
		r.temps.Series(deploymentID), windSamples, observations, r.metrics,
	)
	scorer := NewCoverageScorer(
		r.cfg.Pipeline.TempIntervalMin, r.cfg.Pipeline.WindIntervalMin,
		r.cfg.Pipeline.PhotoIntervalMin, r.metrics,
	)
	assembler := NewAssembler(r.policy, features, scorer, r.logger, r.metrics)

	res.pairs, res.assembly = assembler.Assemble(ctx, days)

	// Valid days whose transitions were all gap-skipped or excluded still
	// leave the deployment without output; the summary must say so.
	if len(res.pairs) == 0 {
		res.empty = true
		r.logger.Warn(ctx, "[RUN_EMPTY] Deployment yields no lag pairs", logging.Fields{
			"deployment_id": deploymentID,
			"valid_days":    len(days),
			"gaps_skipped":  res.assembly.GapsSkipped,
			"zero_zero":     res.assembly.ExcludedZeroZero,
		})
	}
	return res
}

// loadWind fetches the deployment's wind series over the span that can be
// touched by any candidate window. A deployment without a mapped or present
// meter is degraded, not failed: its windows simply carry zero wind coverage.
func (r *Runner) loadWind(ctx context.Context, deploymentID string, days []models.DayRecord) ([]models.WindSample, bool, error) {
	from := days[0].TimeOfMax
	to := from
	for _, d := range days {
		if fixedEnd := d.TimeOfMax.Add(24 * time.Hour); fixedEnd.After(to) {
			to = fixedEnd
		}
		if d.LastObsTime.After(to) {
			to = d.LastObsTime
		}
	}

	samples, err := r.winds.Series(ctx, deploymentID, from, to)
	if err != nil {
		var missing *sources.MissingMeterError
		if errors.As(err, &missing) {
			r.logger.Warn(ctx, "[RUN_NO_WIND] Proceeding without wind data", logging.Fields{
				"deployment_id": deploymentID,
				"meter":         missing.MeterName,
				"reason":        missing.Reason,
			})
			return nil, true, nil
		}
		return nil, false, err
	}
	return samples, false, nil
}
