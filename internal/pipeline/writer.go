package pipeline

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"

	"monarch-pipeline/internal/models"
)

const (
	outputTimeLayout = "2006-01-02 15:04:05"
	outputDateLayout = "2006-01-02"
)

// CSVWriter renders assembled lag pairs as the analysis-ready output table.
// Missing values (NaN) are written as "NA"; zero is never used as a stand-in.
type CSVWriter struct {
	meta            map[string]models.DeploymentMeta
	tempThresholdC  float64
	gustThresholdMS float64
}

// NewCSVWriter creates a writer. Threshold values appear in the derived
// column names so the table is self-describing.
func NewCSVWriter(meta map[string]models.DeploymentMeta, tempThresholdC, gustThresholdMS float64) *CSVWriter {
	return &CSVWriter{
		meta:            meta,
		tempThresholdC:  tempThresholdC,
		gustThresholdMS: gustThresholdMS,
	}
}

func (w *CSVWriter) header() []string {
	tempSuffix := fmt.Sprintf("%gc", w.tempThresholdC)
	gustSuffix := fmt.Sprintf("%gms", w.gustThresholdMS)

	return []string{
		"deployment_id",
		"deployment_day_id_t_1",
		"deployment_day_id_t",
		"date_t_1",
		"date_t",
		"day_sequence_t",
		"days_since_season_start_t",

		"window_policy",
		"window_start",
		"window_end",
		"lag_duration_hours",

		"coverage_temp",
		"coverage_wind",
		"coverage_butterfly",
		"coverage_overall",

		"n_photos_t_1",
		"max_count_t_1",
		"p95_count_t_1",
		"top3_mean_count_t_1",
		"sum_direct_sun_t_1",
		"time_of_max_t_1",
		"temp_at_max_t_1",

		"n_photos_t",
		"max_count_t",
		"p95_count_t",
		"top3_mean_count_t",
		"sum_direct_sun_t",
		"time_of_max_t",
		"temp_at_max_t",

		"temp_min",
		"temp_max",
		"temp_mean",
		"hours_above_" + tempSuffix,
		"degree_hours_above_" + tempSuffix,
		"temp_obs_count",

		"wind_gust_min",
		"wind_gust_max",
		"wind_avg_sustained",
		"wind_gust_sd",
		"wind_gust_mode",
		"wind_gust_sum",
		"gust_sum_above_" + gustSuffix,
		"wind_minutes_above_" + gustSuffix,
		"wind_gust_hours",
		"wind_obs_count",

		"sum_direct_sun_window",
		"butterfly_obs_count",

		"diff_max",
		"sqrt_diff_max",
		"log_diff_max",
		"rel_diff_max",
		"diff_p95",
		"sqrt_diff_p95",
		"log_diff_p95",
		"rel_diff_p95",
		"diff_top3",
		"sqrt_diff_top3",
		"log_diff_top3",
		"rel_diff_top3",

		"observer",
		"horizontal_dist_to_cluster_m",
	}
}

// Write renders all pairs as CSV, header first. The caller supplies pairs
// already sorted in output order.
func (w *CSVWriter) Write(out io.Writer, pairs []models.LagPair) error {
	cw := csv.NewWriter(out)

	if err := cw.Write(w.header()); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for _, p := range pairs {
		if err := cw.Write(w.row(p)); err != nil {
			return fmt.Errorf("writing row for %s/%s: %w", p.DeploymentID, p.DateT.Format(outputDateLayout), err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func (w *CSVWriter) row(p models.LagPair) []string {
	meta := w.meta[p.DeploymentID]

	return []string{
		p.DeploymentID,
		p.Prev.DayID(),
		p.Curr.DayID(),
		p.DateT1.Format(outputDateLayout),
		p.DateT.Format(outputDateLayout),
		strconv.Itoa(p.Curr.DaySequence),
		strconv.Itoa(p.Curr.DaysSinceSeasonStart),

		string(p.Window.Policy),
		p.Window.Start.Format(outputTimeLayout),
		p.Window.End.Format(outputTimeLayout),
		formatFloat(p.Window.Hours()),

		formatFloat(p.Coverage.Temp),
		formatFloat(p.Coverage.Wind),
		formatFloat(p.Coverage.Butterfly),
		formatFloat(p.Coverage.Overall),

		strconv.Itoa(p.Prev.NPhotos),
		formatFloat(p.Prev.MaxCount),
		formatFloat(p.Prev.P95Count),
		formatFloat(p.Prev.Top3MeanCount),
		formatFloat(p.Prev.SumDirectSun),
		p.Prev.TimeOfMax.Format(outputTimeLayout),
		formatFloat(p.Prev.TempAtMax),

		strconv.Itoa(p.Curr.NPhotos),
		formatFloat(p.Curr.MaxCount),
		formatFloat(p.Curr.P95Count),
		formatFloat(p.Curr.Top3MeanCount),
		formatFloat(p.Curr.SumDirectSun),
		p.Curr.TimeOfMax.Format(outputTimeLayout),
		formatFloat(p.Curr.TempAtMax),

		formatFloat(p.Features.TempMin),
		formatFloat(p.Features.TempMax),
		formatFloat(p.Features.TempMean),
		formatFloat(p.Features.HoursAboveThresh),
		formatFloat(p.Features.DegreeHoursAboveThr),
		strconv.Itoa(p.Features.TempObsCount),

		formatFloat(p.Features.WindGustMin),
		formatFloat(p.Features.WindGustMax),
		formatFloat(p.Features.WindAvgSustained),
		formatFloat(p.Features.WindGustSD),
		formatFloat(p.Features.WindGustMode),
		formatFloat(p.Features.WindGustSum),
		formatFloat(p.Features.WindGustSumAbove),
		formatFloat(p.Features.WindMinutesAbove),
		formatFloat(p.Features.WindGustHours),
		strconv.Itoa(p.Features.WindObsCount),

		formatFloat(p.Features.SumDirectSun),
		strconv.Itoa(p.Features.ButterflyObsCount),

		formatFloat(p.Transforms.Max.Diff),
		formatFloat(p.Transforms.Max.Sqrt),
		formatFloat(p.Transforms.Max.Log),
		formatFloat(p.Transforms.Max.Relative),
		formatFloat(p.Transforms.P95.Diff),
		formatFloat(p.Transforms.P95.Sqrt),
		formatFloat(p.Transforms.P95.Log),
		formatFloat(p.Transforms.P95.Relative),
		formatFloat(p.Transforms.Top3.Diff),
		formatFloat(p.Transforms.Top3.Sqrt),
		formatFloat(p.Transforms.Top3.Log),
		formatFloat(p.Transforms.Top3.Relative),

		meta.Observer,
		formatFloat(meta.HorizontalDistM),
	}
}

// formatFloat writes NaN as "NA" and everything else in shortest form.
func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return "NA"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
