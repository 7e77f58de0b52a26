package sources

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"monarch-pipeline/internal/models"
	"monarch-pipeline/pkg/logging"
	"monarch-pipeline/pkg/metrics"
)

// TempReader loads the per-image temperature store (CSV of filename,
// temperature) into per-deployment ordered series. The series carries 24/7
// samples including night frames, so exposure windows spanning overnight
// periods can be answered.
type TempReader struct {
	logger  *logging.StructuredLogger
	metrics *metrics.Collector

	series     map[string][]models.TempSample
	byFilename map[string]float64
}

// NewTempReader creates an empty temperature reader; call Load before use.
func NewTempReader(logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *TempReader {
	return &TempReader{
		logger:     logger,
		metrics:    metricsCollector,
		series:     make(map[string][]models.TempSample),
		byFilename: make(map[string]float64),
	}
}

// Load parses the temperature CSV. Malformed rows are dropped and logged;
// only a missing or headerless file fails the load.
func (r *TempReader) Load(ctx context.Context, path string) error {
	timer := r.metrics.NewTimer(r.metrics.IngestionDuration)
	defer timer.ObserveDuration()

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open temperature file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("failed to read temperature header: %w", err)
	}

	fileCol, tempCol := -1, -1
	for i, name := range header {
		switch strings.TrimSpace(strings.TrimPrefix(name, "\uFEFF")) {
		case "filename":
			fileCol = i
		case "temperature":
			tempCol = i
		}
	}
	if fileCol < 0 || tempCol < 0 {
		return fmt.Errorf("temperature file %s missing filename/temperature columns", path)
	}

	loaded, dropped := 0, 0
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			dropped++
			r.metrics.RecordDropped("temperature", "bad_row")
			continue
		}
		if len(row) <= fileCol || len(row) <= tempCol {
			dropped++
			r.metrics.RecordDropped("temperature", "short_row")
			continue
		}

		filename := strings.TrimSpace(row[fileCol])

		value, err := strconv.ParseFloat(strings.TrimSpace(row[tempCol]), 64)
		if err != nil {
			dropped++
			r.metrics.RecordDropped("temperature", "bad_value")
			continue
		}

		deploymentID, ts, err := splitSampleFilename(filename)
		if err != nil {
			dropped++
			r.metrics.RecordDropped("temperature", "bad_timestamp")
			continue
		}

		r.byFilename[filename] = value
		r.series[deploymentID] = append(r.series[deploymentID], models.TempSample{
			DeploymentID: deploymentID,
			Timestamp:    ts,
			Celsius:      value,
		})
		loaded++
	}

	for id := range r.series {
		s := r.series[id]
		sort.Slice(s, func(i, j int) bool { return s[i].Timestamp.Before(s[j].Timestamp) })
		r.series[id] = s
	}

	r.metrics.RecordParsed("temperature", loaded)
	r.logger.Info(ctx, "[TEMP_LOAD] Temperature store loaded", logging.Fields{
		"path":        path,
		"samples":     loaded,
		"dropped":     dropped,
		"deployments": len(r.series),
	})

	return nil
}

// Series returns the deployment's full temperature series, ordered by
// timestamp. Nil when the deployment has no temperature data.
func (r *TempReader) Series(deploymentID string) []models.TempSample {
	return r.series[deploymentID]
}

// ByFilename returns the temperature joined to a specific image filename.
func (r *TempReader) ByFilename(filename string) (float64, bool) {
	v, ok := r.byFilename[filename]
	return v, ok
}

// splitSampleFilename splits "<deployment>_<YYYYMMDDHHMMSS>..." into the
// deployment ID and the embedded timestamp. Deployment IDs may themselves
// contain underscores, so the split keys off the timestamp position.
func splitSampleFilename(filename string) (string, time.Time, error) {
	ts, err := models.TimestampFromFilename(filename)
	if err != nil {
		return "", time.Time{}, err
	}

	idx := strings.Index(filename, "_"+ts.Format(models.CompactTimestampLayout))
	if idx <= 0 {
		return "", time.Time{}, &models.ValidationError{
			Field:   "filename",
			Value:   filename,
			Message: "no deployment prefix before timestamp",
		}
	}

	return filename[:idx], ts, nil
}
