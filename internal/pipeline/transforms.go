package pipeline

import (
	"math"

	"monarch-pipeline/internal/models"
)

// ComputeTransforms computes the candidate response encodings for one lag
// pair: the raw day-over-day difference plus three sign-preserving transforms
// for each of the three magnitude metrics.
func ComputeTransforms(prev, curr models.DayRecord) models.ResponseTransforms {
	return models.ResponseTransforms{
		Max:  transformSet(prev.MaxCount, curr.MaxCount),
		P95:  transformSet(prev.P95Count, curr.P95Count),
		Top3: transformSet(prev.Top3MeanCount, curr.Top3MeanCount),
	}
}

func transformSet(prevV, currV float64) models.TransformSet {
	diff := currV - prevV
	s := sign(diff)

	set := models.TransformSet{
		Diff: diff,
		Sqrt: s * math.Sqrt(math.Abs(diff)),
		Log:  s * math.Log(math.Abs(diff)+1),
	}

	// Bounded relative change. The denominator is only zero when both days
	// report zero; such pairs are filtered upstream, but the sentinel keeps
	// the transform total just in case: +/-1 following the sign of the
	// nonzero side, 0 when both sides are zero.
	denom := currV + prevV
	if denom != 0 {
		set.Relative = diff / denom
	} else {
		set.Relative = s
	}

	return set
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

// TransformEvaluation is the normality score of one (metric, transform)
// series across the full run. Advisory metadata only: the downstream modeling
// collaborator chooses what to do with it, the pipeline never branches on it.
type TransformEvaluation struct {
	Metric    string
	Transform string
	W         float64
	N         int
}

// transform extractors, evaluated per metric over the assembled pairs.
var transformAccessors = []struct {
	name string
	get  func(models.TransformSet) float64
}{
	{"sqrt", func(s models.TransformSet) float64 { return s.Sqrt }},
	{"log", func(s models.TransformSet) float64 { return s.Log }},
	{"relative", func(s models.TransformSet) float64 { return s.Relative }},
}

var metricAccessors = []struct {
	name string
	get  func(models.ResponseTransforms) models.TransformSet
}{
	{"max_count", func(t models.ResponseTransforms) models.TransformSet { return t.Max }},
	{"p95_count", func(t models.ResponseTransforms) models.TransformSet { return t.P95 }},
	{"top3_mean_count", func(t models.ResponseTransforms) models.TransformSet { return t.Top3 }},
}

// EvaluateTransforms scores each of the nine (metric, transform) series with
// the Shapiro-Wilk W statistic. Series too short or degenerate for the test
// report W as NaN.
func EvaluateTransforms(pairs []models.LagPair) []TransformEvaluation {
	evaluations := make([]TransformEvaluation, 0, len(metricAccessors)*len(transformAccessors))

	for _, metric := range metricAccessors {
		for _, transform := range transformAccessors {
			series := make([]float64, 0, len(pairs))
			for _, p := range pairs {
				v := transform.get(metric.get(p.Transforms))
				if !math.IsNaN(v) {
					series = append(series, v)
				}
			}

			w, err := ShapiroWilk(series)
			if err != nil {
				w = math.NaN()
			}

			evaluations = append(evaluations, TransformEvaluation{
				Metric:    metric.name,
				Transform: transform.name,
				W:         w,
				N:         len(series),
			})
		}
	}

	return evaluations
}

// BestTransforms picks the highest-W transform per metric, skipping series
// whose statistic is undefined.
func BestTransforms(evaluations []TransformEvaluation) map[string]TransformEvaluation {
	best := make(map[string]TransformEvaluation)
	for _, e := range evaluations {
		if math.IsNaN(e.W) {
			continue
		}
		if cur, ok := best[e.Metric]; !ok || e.W > cur.W {
			best[e.Metric] = e
		}
	}
	return best
}
