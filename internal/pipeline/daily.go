package pipeline

import (
	"context"
	"math"
	"sort"
	"time"

	"monarch-pipeline/internal/models"
	"monarch-pipeline/internal/sources"
	"monarch-pipeline/pkg/logging"
	"monarch-pipeline/pkg/metrics"
)

// DailyAggregator groups count observations by (deployment, calendar date),
// enforces the daytime photo-count bounds, and reduces each surviving day to
// its DayRecord. Days outside the bounds emit nothing at all: they are a
// designed exclusion, not an error, and are invisible to later stages.
type DailyAggregator struct {
	minPhotos   int
	maxPhotos   int
	seasonStart time.Time
	temps       *sources.TempReader
	logger      *logging.StructuredLogger
	metrics     *metrics.Collector
}

// DailyStats summarizes one deployment's aggregation for the run report.
type DailyStats struct {
	DaysSeen         int
	DaysAggregated   int
	DaysTooFewPhotos int
	DaysTooMany      int
}

// NewDailyAggregator creates a daily aggregator.
func NewDailyAggregator(minPhotos, maxPhotos int, seasonStart time.Time, temps *sources.TempReader, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *DailyAggregator {
	return &DailyAggregator{
		minPhotos:   minPhotos,
		maxPhotos:   maxPhotos,
		seasonStart: seasonStart,
		temps:       temps,
		logger:      logger,
		metrics:     metricsCollector,
	}
}

// Aggregate reduces a deployment's observations to chronologically ordered
// DayRecords. A deployment with zero valid days is not an error; it simply
// contributes nothing.
func (a *DailyAggregator) Aggregate(ctx context.Context, deploymentID string, observations []models.Observation) ([]models.DayRecord, DailyStats) {
	var stats DailyStats

	byDate := make(map[time.Time][]models.Observation)
	for _, o := range observations {
		d := o.Date()
		byDate[d] = append(byDate[d], o)
	}

	dates := make([]time.Time, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	records := make([]models.DayRecord, 0, len(dates))
	for _, date := range dates {
		stats.DaysSeen++

		daytime := make([]models.Observation, 0, len(byDate[date]))
		for _, o := range byDate[date] {
			if !o.IsNight {
				daytime = append(daytime, o)
			}
		}

		if len(daytime) < a.minPhotos {
			stats.DaysTooFewPhotos++
			a.metrics.RecordDayExcluded("too_few_photos")
			continue
		}
		if len(daytime) > a.maxPhotos {
			stats.DaysTooMany++
			a.metrics.RecordDayExcluded("too_many_photos")
			continue
		}

		records = append(records, a.reduceDay(deploymentID, date, daytime))
		stats.DaysAggregated++
		a.metrics.DaysAggregatedTotal.Inc()
	}

	// Valid days get their within-deployment ordinal and season offset.
	for i := range records {
		records[i].DaySequence = i + 1
		records[i].DaysSinceSeasonStart = int(records[i].Date.Sub(a.seasonStart).Hours() / 24)
	}

	a.logger.Debug(ctx, "[DAILY_AGG] Deployment days aggregated", logging.Fields{
		"deployment_id":   deploymentID,
		"days_seen":       stats.DaysSeen,
		"days_aggregated": stats.DaysAggregated,
		"too_few_photos":  stats.DaysTooFewPhotos,
		"too_many_photos": stats.DaysTooMany,
	})

	return records, stats
}

// reduceDay computes one day's summary statistics from its daytime
// observations, which are ordered by timestamp.
func (a *DailyAggregator) reduceDay(deploymentID string, date time.Time, daytime []models.Observation) models.DayRecord {
	counts := make([]float64, len(daytime))
	sumDirectSun := 0.0
	for i, o := range daytime {
		counts[i] = o.TotalCount
		sumDirectSun += o.DirectSun
	}

	// Earliest observation achieving the maximum wins ties.
	maxIdx := 0
	for i, c := range counts {
		if c > counts[maxIdx] {
			maxIdx = i
		}
	}
	peak := daytime[maxIdx]

	tempAtMax := math.NaN()
	if a.temps != nil {
		if v, ok := a.temps.ByFilename(peak.Filename); ok {
			tempAtMax = v
		}
	}

	sorted := append([]float64(nil), counts...)
	sort.Float64s(sorted)

	return models.DayRecord{
		DeploymentID:  deploymentID,
		Date:          date,
		NPhotos:       len(daytime),
		MaxCount:      counts[maxIdx],
		P95Count:      percentile(sorted, 0.95),
		Top3MeanCount: topNMean(sorted, 3),
		SumDirectSun:  sumDirectSun,
		TimeOfMax:     peak.Timestamp,
		LastObsTime:   daytime[len(daytime)-1].Timestamp,
		TempAtMax:     tempAtMax,
	}
}

// percentile computes a rank-based percentile with linear interpolation over
// an ascending-sorted slice. q is a fraction in [0,1].
func percentile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if n == 1 {
		return sorted[0]
	}

	h := float64(n-1) * q
	lo := int(math.Floor(h))
	if lo >= n-1 {
		return sorted[n-1]
	}
	frac := h - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

// topNMean computes the mean of the n largest values, padding with zeros when
// fewer than n values exist.
func topNMean(sorted []float64, n int) float64 {
	sum := 0.0
	for i := 0; i < n && i < len(sorted); i++ {
		sum += sorted[len(sorted)-1-i]
	}
	return sum / float64(n)
}
