package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"monarch-pipeline/internal/models"
	"monarch-pipeline/pkg/logging"
	"monarch-pipeline/pkg/metrics"
)

// CountReader reads labeled-image count observations from per-deployment JSON
// files. Reads are pure: ordered, deduplicated observations with the night
// flag resolved against the supplied night-period table.
type CountReader struct {
	dir        string
	nights     NightTable
	downsample DownsampleRules
	logger     *logging.StructuredLogger
	metrics    *metrics.Collector
}

// CountReadStats summarizes one deployment read for the run report.
type CountReadStats struct {
	Parsed      int
	Dropped     int
	Downsampled int
	Daytime     int
	Night       int
}

// imageRecord is one labeled image entry in a deployment JSON file.
type imageRecord struct {
	IsNight bool                  `json:"isNight"`
	Cells   map[string]cellRecord `json:"cells"`
}

// cellRecord holds one grid cell's label. Count may be a ranged category
// string ("10-99") or a bare number depending on the export.
type cellRecord struct {
	Count     interface{} `json:"count"`
	DirectSun bool        `json:"directSun"`
}

// NewCountReader creates a count reader over a directory of deployment files.
func NewCountReader(dir string, nights NightTable, downsample DownsampleRules, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *CountReader {
	return &CountReader{
		dir:        dir,
		nights:     nights,
		downsample: downsample,
		logger:     logger,
		metrics:    metricsCollector,
	}
}

// ListDeployments returns the deployment IDs present in the count store.
func (r *CountReader) ListDeployments() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(r.dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read count store directory: %w", err)
	}

	ids := make([]string, 0, len(files))
	for _, f := range files {
		ids = append(ids, strings.TrimSuffix(filepath.Base(f), ".json"))
	}
	sort.Strings(ids)

	return ids, nil
}

// ReadDeployment returns the deployment's count observations ordered by
// timestamp, with duplicate timestamps collapsed to the first record.
// Malformed records are dropped and logged, never aborting the read.
func (r *CountReader) ReadDeployment(ctx context.Context, deploymentID string) ([]models.Observation, CountReadStats, error) {
	timer := r.metrics.NewTimer(r.metrics.IngestionDuration)
	defer timer.ObserveDuration()

	var stats CountReadStats

	path := filepath.Join(r.dir, deploymentID+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, stats, fmt.Errorf("failed to read count file for %s: %w", deploymentID, err)
	}

	classifications, err := parseClassifications(data)
	if err != nil {
		return nil, stats, fmt.Errorf("failed to parse count file for %s: %w", deploymentID, err)
	}

	observations := make([]models.Observation, 0, len(classifications))

	for filename, image := range classifications {
		stats.Parsed++

		ts, err := models.TimestampFromFilename(filename)
		if err != nil {
			stats.Dropped++
			r.metrics.RecordDropped("count", "bad_timestamp")
			r.logger.Warn(ctx, "[COUNT_DROP] Dropping record with malformed timestamp", logging.Fields{
				"filename": filename,
			})
			continue
		}

		isNight := image.IsNight || r.nights.IsNight(deploymentID, ts)

		if !r.downsample.Keep(deploymentID, ts, isNight) {
			stats.Downsampled++
			continue
		}

		total, directSun, err := reduceCells(image.Cells)
		if err != nil {
			stats.Dropped++
			r.metrics.RecordDropped("count", "bad_count")
			r.logger.Warn(ctx, "[COUNT_DROP] Dropping record with unparseable count", logging.Fields{
				"filename": filename,
				"error":    err.Error(),
			})
			continue
		}

		if isNight {
			stats.Night++
		} else {
			stats.Daytime++
		}

		observations = append(observations, models.Observation{
			DeploymentID: deploymentID,
			Filename:     filename,
			Timestamp:    ts,
			TotalCount:   total,
			DirectSun:    directSun,
			IsNight:      isNight,
		})
	}

	sort.Slice(observations, func(i, j int) bool {
		if observations[i].Timestamp.Equal(observations[j].Timestamp) {
			return observations[i].Filename < observations[j].Filename
		}
		return observations[i].Timestamp.Before(observations[j].Timestamp)
	})

	observations = dedupeByTimestamp(observations)
	r.metrics.RecordParsed("count", len(observations))

	r.logger.Debug(ctx, "[COUNT_READ] Deployment counts read", logging.Fields{
		"deployment_id": deploymentID,
		"observations":  len(observations),
		"daytime":       stats.Daytime,
		"night":         stats.Night,
		"dropped":       stats.Dropped,
		"downsampled":   stats.Downsampled,
	})

	return observations, stats, nil
}

// parseClassifications accepts both deployment JSON shapes: a top-level map
// of image entries, or the same map wrapped under a "classifications" key.
func parseClassifications(data []byte) (map[string]imageRecord, error) {
	var wrapped struct {
		Classifications map[string]imageRecord `json:"classifications"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && len(wrapped.Classifications) > 0 {
		return wrapped.Classifications, nil
	}

	var flat map[string]imageRecord
	if err := json.Unmarshal(data, &flat); err != nil {
		return nil, err
	}
	return flat, nil
}

// reduceCells sums a frame's cell counts into totals for all butterflies and
// butterflies in direct sun.
func reduceCells(cells map[string]cellRecord) (total, directSun float64, err error) {
	for _, cell := range cells {
		count, err := cellCount(cell.Count)
		if err != nil {
			return 0, 0, err
		}

		total += count
		if cell.DirectSun {
			directSun += count
		}
	}
	return total, directSun, nil
}

// cellCount normalizes a cell count that may arrive as a category string or a
// bare JSON number.
func cellCount(raw interface{}) (float64, error) {
	switch v := raw.(type) {
	case nil:
		return 0, nil
	case float64:
		return v, nil
	case string:
		return models.MapCountCategory(v)
	default:
		return 0, &models.ValidationError{
			Field:   "count",
			Value:   fmt.Sprintf("%v", raw),
			Message: fmt.Sprintf("unsupported count type %T", raw),
		}
	}
}

// dedupeByTimestamp collapses equal-timestamp observations to the first one.
// Input must already be sorted by timestamp.
func dedupeByTimestamp(obs []models.Observation) []models.Observation {
	if len(obs) < 2 {
		return obs
	}

	out := obs[:1]
	for _, o := range obs[1:] {
		if o.Timestamp.Equal(out[len(out)-1].Timestamp) {
			continue
		}
		out = append(out, o)
	}
	return out
}
