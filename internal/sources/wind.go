package sources

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"monarch-pipeline/internal/models"
	"monarch-pipeline/pkg/database"
	"monarch-pipeline/pkg/logging"
	"monarch-pipeline/pkg/metrics"
)

// windTimeLayout is the timestamp encoding inside the wind archives.
const windTimeLayout = "2006-01-02 15:04:05"

// MissingMeterError marks a deployment with no usable wind meter: either no
// mapping in the metadata, or no archive file for the mapped meter. Wind
// features for such deployments are undefined with wind coverage 0; the
// deployment's pairs are still emitted.
type MissingMeterError struct {
	DeploymentID string
	MeterName    string
	Reason       string
}

func (e *MissingMeterError) Error() string {
	if e.MeterName == "" {
		return fmt.Sprintf("deployment %s has no wind meter mapping", e.DeploymentID)
	}
	return fmt.Sprintf("deployment %s meter %s: %s", e.DeploymentID, e.MeterName, e.Reason)
}

// IsTransient returns false; a missing meter cannot be retried away.
func (e *MissingMeterError) IsTransient() bool {
	return false
}

// WindReader reads per-minute wind samples from per-meter SQLite archives.
// The deployment->meter relation is resolved through the metadata table at
// construction; archives are opened lazily and cached per meter.
type WindReader struct {
	dbDir   string
	meters  map[string]string // deployment -> meter name
	logger  *logging.StructuredLogger
	metrics *metrics.Collector

	mu       sync.Mutex
	archives map[string]*database.WindArchive
}

// windRow scans one archive row. Values are stored as loosely typed text in
// the archives, so both columns come back as strings and are parsed here.
type windRow struct {
	Time  string `db:"time"`
	Speed string `db:"speed"`
	Gust  string `db:"gust"`
}

// NewWindReader creates a wind reader over a directory of meter archives.
func NewWindReader(dbDir string, meta map[string]models.DeploymentMeta, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *WindReader {
	meters := make(map[string]string, len(meta))
	for id, m := range meta {
		if m.HasWindMeter() {
			meters[id] = m.WindMeterName
		}
	}

	return &WindReader{
		dbDir:    dbDir,
		meters:   meters,
		logger:   logger,
		metrics:  metricsCollector,
		archives: make(map[string]*database.WindArchive),
	}
}

// Meter resolves a deployment's wind meter name.
func (r *WindReader) Meter(deploymentID string) (string, bool) {
	m, ok := r.meters[deploymentID]
	return m, ok
}

// Series returns the deployment's wind samples in [from, to), ordered by
// timestamp and deduplicated. Returns a MissingMeterError when the deployment
// has no usable meter.
func (r *WindReader) Series(ctx context.Context, deploymentID string, from, to time.Time) ([]models.WindSample, error) {
	meter, ok := r.meters[deploymentID]
	if !ok {
		return nil, &MissingMeterError{DeploymentID: deploymentID}
	}

	archive, err := r.archive(deploymentID, meter)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT time, speed, gust
		FROM Wind
		WHERE time >= ? AND time < ?
		ORDER BY time
	`

	var rows []windRow
	err = archive.SelectContext(ctx, "wind_range", &rows, query,
		from.Format(windTimeLayout),
		to.Format(windTimeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query wind archive for %s: %w", deploymentID, err)
	}

	samples := make([]models.WindSample, 0, len(rows))
	dropped := 0

	for _, row := range rows {
		ts, err := time.Parse(windTimeLayout, strings.TrimSpace(row.Time))
		if err != nil {
			dropped++
			r.metrics.RecordDropped("wind", "bad_timestamp")
			continue
		}

		sustained, err1 := strconv.ParseFloat(strings.TrimSpace(row.Speed), 64)
		gust, err2 := strconv.ParseFloat(strings.TrimSpace(row.Gust), 64)
		if err1 != nil || err2 != nil {
			dropped++
			r.metrics.RecordDropped("wind", "bad_value")
			continue
		}

		samples = append(samples, models.WindSample{
			MeterID:   meter,
			Timestamp: ts,
			Sustained: sustained,
			Gust:      gust,
		})
	}

	// The archive's ORDER BY compares the loosely typed text column, which
	// whitespace padding can throw off; order by the parsed timestamps before
	// collapsing duplicate minutes to the first row.
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].Timestamp.Before(samples[j].Timestamp)
	})

	deduped := samples[:0]
	for _, s := range samples {
		if len(deduped) > 0 && s.Timestamp.Equal(deduped[len(deduped)-1].Timestamp) {
			continue
		}
		deduped = append(deduped, s)
	}
	samples = deduped

	r.metrics.RecordParsed("wind", len(samples))

	if dropped > 0 {
		r.logger.Warn(ctx, "[WIND_DROP] Dropped malformed wind rows", logging.Fields{
			"deployment_id": deploymentID,
			"meter":         meter,
			"dropped":       dropped,
		})
	}

	return samples, nil
}

// archive returns the cached archive for a meter, opening it on first use.
// Archive filenames are matched case-insensitively against the meter name.
func (r *WindReader) archive(deploymentID, meter string) (*database.WindArchive, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.archives[meter]; ok {
		return a, nil
	}

	path, err := r.resolveArchivePath(meter)
	if err != nil {
		return nil, &MissingMeterError{
			DeploymentID: deploymentID,
			MeterName:    meter,
			Reason:       err.Error(),
		}
	}

	archive, err := database.OpenWindArchive(path, r.logger, r.metrics)
	if err != nil {
		return nil, &MissingMeterError{
			DeploymentID: deploymentID,
			MeterName:    meter,
			Reason:       err.Error(),
		}
	}

	r.archives[meter] = archive
	return archive, nil
}

func (r *WindReader) resolveArchivePath(meter string) (string, error) {
	want := meter + ".s3db"

	files, err := filepath.Glob(filepath.Join(r.dbDir, "*.s3db"))
	if err != nil {
		return "", fmt.Errorf("failed to read wind directory: %w", err)
	}

	for _, f := range files {
		if strings.EqualFold(filepath.Base(f), want) {
			return f, nil
		}
	}

	return "", fmt.Errorf("no archive file %s", want)
}

// Close closes all opened archives.
func (r *WindReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for meter, a := range r.archives {
		if err := a.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.archives, meter)
	}
	return firstErr
}
