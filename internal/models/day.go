package models

import "time"

// DayRecord is the per-(deployment, calendar date) daily aggregate. A record
// exists only for days that passed the daytime photo-count bounds check; a day
// outside the bounds produces no record at all and is invisible downstream.
type DayRecord struct {
	DeploymentID string
	Date         time.Time

	NPhotos        int
	MaxCount       float64
	P95Count       float64
	Top3MeanCount  float64
	SumDirectSun   float64
	TimeOfMax      time.Time
	LastObsTime    time.Time
	TempAtMax      float64 // NaN when the peak frame carried no temperature

	DaysSinceSeasonStart int
	DaySequence          int
}

// DayID is the deployment-qualified day identifier used in output rows.
func (d DayRecord) DayID() string {
	return d.DeploymentID + "_" + d.Date.Format("20060102")
}
