package models

import "time"

// TempSample is one per-image temperature reading, joined to the count stream
// by filename but queried as an independent 24/7 series.
type TempSample struct {
	DeploymentID string    `db:"deployment_id"`
	Timestamp    time.Time `db:"timestamp"`
	Celsius      float64   `db:"temperature"`
}

// WindSample is one per-minute wind reading from a meter's archive. Samples
// are keyed by meter, not deployment: several deployments may share one meter.
type WindSample struct {
	MeterID   string    `db:"meter_id"`
	Timestamp time.Time `db:"time"`
	Sustained float64   `db:"speed"`
	Gust      float64   `db:"gust"`
}

// DeploymentMeta is one row of the deployment metadata table. WindMeterName
// resolves the deployment->meter relation; empty means no meter is associated.
type DeploymentMeta struct {
	DeploymentID    string
	WindMeterName   string
	Observer        string
	HorizontalDistM float64
}

// HasWindMeter reports whether the deployment has an associated wind meter.
func (m DeploymentMeta) HasWindMeter() bool {
	return m.WindMeterName != ""
}
