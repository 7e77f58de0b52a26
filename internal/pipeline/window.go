package pipeline

import (
	"fmt"
	"time"

	"monarch-pipeline/internal/models"
)

// ResolveWindow computes the exposure window for the transition from prev
// (day t-1) to curr (day t). The window is anchored at the previous day's
// peak-count moment; the end boundary depends on the policy:
//
//   - fixed_24h ends exactly 24 hours later, independent of data availability
//   - functional_sunset ends at the current day's last daytime observation,
//     giving a variable-length window
//
// Pure computation over already-validated inputs; no state, no retries.
func ResolveWindow(prev, curr models.DayRecord, policy models.WindowPolicy) (models.ExposureWindow, error) {
	if prev.DeploymentID != curr.DeploymentID {
		return models.ExposureWindow{}, fmt.Errorf("window spans deployments %s and %s", prev.DeploymentID, curr.DeploymentID)
	}

	start := prev.TimeOfMax

	var end time.Time
	switch policy {
	case models.PolicyFixed24h:
		end = start.Add(24 * time.Hour)
	case models.PolicyFunctionalSunset:
		end = curr.LastObsTime
	default:
		return models.ExposureWindow{}, fmt.Errorf("unknown window policy %q", policy)
	}

	if end.Before(start) {
		return models.ExposureWindow{}, fmt.Errorf(
			"window for %s ends before it starts (%s > %s)",
			prev.DeploymentID, start.Format(time.RFC3339), end.Format(time.RFC3339),
		)
	}

	return models.ExposureWindow{
		DeploymentID: prev.DeploymentID,
		Start:        start,
		End:          end,
		Policy:       policy,
	}, nil
}
