package models

import (
	"fmt"
	"time"
)

// WindowPolicy selects how the exposure window's end boundary is computed.
type WindowPolicy string

const (
	// PolicyFixed24h ends the window exactly 24 hours after its start,
	// regardless of data availability.
	PolicyFixed24h WindowPolicy = "fixed_24h"

	// PolicyFunctionalSunset ends the window at the last daytime observation
	// of the current day, giving a variable-length window.
	PolicyFunctionalSunset WindowPolicy = "functional_sunset"
)

// ParseWindowPolicy validates a policy flag value.
func ParseWindowPolicy(s string) (WindowPolicy, error) {
	switch WindowPolicy(s) {
	case PolicyFixed24h, PolicyFunctionalSunset:
		return WindowPolicy(s), nil
	}
	return "", fmt.Errorf("unknown window policy %q (want %s or %s)", s, PolicyFixed24h, PolicyFunctionalSunset)
}

// ExposureWindow is the weather-exposure interval anchored at the previous
// day's peak-count moment. Samples are aggregated over [Start, End).
type ExposureWindow struct {
	DeploymentID string
	Start        time.Time
	End          time.Time
	Policy       WindowPolicy
}

// Duration returns the window length.
func (w ExposureWindow) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Hours returns the window length in fractional hours.
func (w ExposureWindow) Hours() float64 {
	return w.Duration().Hours()
}

// Contains reports whether ts falls inside the right-open window interval.
func (w ExposureWindow) Contains(ts time.Time) bool {
	return !ts.Before(w.Start) && ts.Before(w.End)
}

// WindowFeatures is the fixed-shape feature vector reduced from all samples
// inside one exposure window. A source with no samples in the window yields
// NaN for every one of its statistics: zero is a valid observed value and must
// not stand in for missing data.
type WindowFeatures struct {
	TempMin             float64
	TempMax             float64
	TempMean            float64
	HoursAboveThresh    float64
	DegreeHoursAboveThr float64
	TempObsCount        int

	WindGustMin       float64
	WindGustMax       float64
	WindAvgSustained  float64
	WindGustSD        float64
	WindGustMode      float64
	WindGustSum       float64
	WindGustSumAbove  float64
	WindMinutesAbove  float64
	WindGustHours     float64
	WindObsCount      int

	SumDirectSun      float64
	ButterflyObsCount int
}

// CoverageScore is the per-source and overall data completeness for one
// window, each in [0,1]. Overall is the geometric mean of the three sources,
// so zero coverage in any one source collapses the overall score to zero.
type CoverageScore struct {
	Temp      float64
	Wind      float64
	Butterfly float64
	Overall   float64
}

// TransformSet holds the candidate response encodings of one day-over-day
// difference for a single magnitude metric.
type TransformSet struct {
	Diff     float64
	Sqrt     float64
	Log      float64
	Relative float64
}

// ResponseTransforms carries the transform sets for the three magnitude
// metrics of a lag pair.
type ResponseTransforms struct {
	Max  TransformSet
	P95  TransformSet
	Top3 TransformSet
}

// LagPair is the terminal entity: one valid consecutive-day transition within
// a single deployment, with its exposure window, weather features, coverage
// scores, and response transforms. Immutable once assembled.
type LagPair struct {
	DeploymentID string
	DateT1       time.Time
	DateT        time.Time

	Prev DayRecord
	Curr DayRecord

	Window   ExposureWindow
	Features WindowFeatures
	Coverage CoverageScore

	Transforms ResponseTransforms
}
