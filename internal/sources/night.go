package sources

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"monarch-pipeline/internal/models"
)

// NightPeriod is one externally supplied [start, end] night interval for a
// deployment. Bounds are inclusive, matching the supplied tables exactly.
type NightPeriod struct {
	Start time.Time
	End   time.Time
}

// NightTable maps deployment IDs to their night periods. It is an explicit
// configuration object passed into the count reader at construction, never a
// hidden global, so per-deployment overrides are testable.
type NightTable map[string][]NightPeriod

// IsNight reports whether the timestamp falls inside any of the deployment's
// night periods. Deployments without entries have no table-driven nights.
func (t NightTable) IsNight(deploymentID string, ts time.Time) bool {
	for _, p := range t[deploymentID] {
		if !ts.Before(p.Start) && !ts.After(p.End) {
			return true
		}
	}
	return false
}

// DefaultNightTable returns the externally supplied night windows for the
// 2023 field season.
func DefaultNightTable() NightTable {
	mustPeriod := func(start, end string) NightPeriod {
		s, err := models.ParseCompactTimestamp(start)
		if err != nil {
			panic(err)
		}
		e, err := models.ParseCompactTimestamp(end)
		if err != nil {
			panic(err)
		}
		return NightPeriod{Start: s, End: e}
	}

	return NightTable{
		"SC1": {
			mustPeriod("20231117174001", "20231118062001"),
			mustPeriod("20231118172501", "20231119061501"),
			mustPeriod("20231119171001", "20231120062001"),
			mustPeriod("20231120172001", "20231121063001"),
		},
		"SC2": {
			mustPeriod("20231117172501", "20231118062001"),
			mustPeriod("20231118171501", "20231119061501"),
		},
	}
}

// LoadNightTable reads a night-period table from a JSON file of the form
// {"SC1": [["20231117174001", "20231118062001"], ...], ...}.
func LoadNightTable(path string) (NightTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read night period file: %w", err)
	}

	var raw map[string][][2]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse night period file %s: %w", path, err)
	}

	table := make(NightTable, len(raw))
	for deploymentID, periods := range raw {
		for _, p := range periods {
			start, err := models.ParseCompactTimestamp(p[0])
			if err != nil {
				return nil, fmt.Errorf("night period start for %s: %w", deploymentID, err)
			}
			end, err := models.ParseCompactTimestamp(p[1])
			if err != nil {
				return nil, fmt.Errorf("night period end for %s: %w", deploymentID, err)
			}
			if end.Before(start) {
				return nil, fmt.Errorf("night period for %s ends before it starts (%s > %s)", deploymentID, p[0], p[1])
			}
			table[deploymentID] = append(table[deploymentID], NightPeriod{Start: start, End: end})
		}
	}

	return table, nil
}

// DownsampleRule thins a deployment shot faster than the 30-minute grid down
// to the target cadence at ingestion.
type DownsampleRule struct {
	OriginalIntervalMin int
	TargetIntervalMin   int
}

// DownsampleRules maps deployment IDs to their thinning rules.
type DownsampleRules map[string]DownsampleRule

// Keep reports whether a daytime frame at ts survives thinning. Night frames
// are never thinned; deployments without a rule keep everything.
func (r DownsampleRules) Keep(deploymentID string, ts time.Time, isNight bool) bool {
	if isNight {
		return true
	}
	rule, ok := r[deploymentID]
	if !ok {
		return true
	}
	return ts.Minute()%rule.TargetIntervalMin == 0
}

// DefaultDownsampleRules returns the thinning rules for deployments recorded
// at 5- or 10-minute cadence.
func DefaultDownsampleRules() DownsampleRules {
	return DownsampleRules{
		"SC1":    {OriginalIntervalMin: 5, TargetIntervalMin: 30},
		"SC2":    {OriginalIntervalMin: 5, TargetIntervalMin: 30},
		"SC7":    {OriginalIntervalMin: 10, TargetIntervalMin: 30},
		"SC9":    {OriginalIntervalMin: 10, TargetIntervalMin: 30},
		"SC12":   {OriginalIntervalMin: 10, TargetIntervalMin: 30},
		"SLC6_2": {OriginalIntervalMin: 10, TargetIntervalMin: 30},
	}
}
