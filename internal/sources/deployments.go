package sources

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"monarch-pipeline/internal/models"
)

// naLike marks metadata values meaning "not available".
var naLike = map[string]bool{
	"": true, "na": true, "n/a": true, "none": true, "null": true,
}

// LoadDeploymentMeta parses the deployment metadata table. The
// wind_meter_name column resolves the many-to-one deployment->meter relation;
// NA-like names normalize to empty (no meter associated).
func LoadDeploymentMeta(path string) (map[string]models.DeploymentMeta, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open deployments file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read deployments header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(strings.TrimPrefix(name, "\uFEFF"))] = i
	}

	idCol, ok := cols["deployment_id"]
	if !ok {
		return nil, fmt.Errorf("deployments file %s missing deployment_id column", path)
	}

	field := func(row []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	meta := make(map[string]models.DeploymentMeta)
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		if idCol >= len(row) {
			continue
		}

		id := strings.TrimSpace(row[idCol])
		if id == "" {
			continue
		}

		meter := field(row, "wind_meter_name")
		if naLike[strings.ToLower(meter)] {
			meter = ""
		}

		dist, err := strconv.ParseFloat(field(row, "horizontal_dist_to_cluster_m"), 64)
		if err != nil {
			dist = 0
		}

		meta[id] = models.DeploymentMeta{
			DeploymentID:    id,
			WindMeterName:   meter,
			Observer:        field(row, "Observer"),
			HorizontalDistM: dist,
		}
	}

	if len(meta) == 0 {
		return nil, fmt.Errorf("deployments file %s contains no deployments", path)
	}

	return meta, nil
}

// WindDBReport is the result of auditing the wind archive directory against
// the meters referenced in the deployment metadata.
type WindDBReport struct {
	UniqueMeters int
	FilesPresent int
	Missing      []string
	Extras       []string
	CaseMismatch [][2]string
}

// OK reports whether every referenced meter has an archive file.
func (r WindDBReport) OK() bool {
	return len(r.Missing) == 0
}

// CheckWindDBs verifies that every wind meter referenced by the metadata has
// a `<meter>.s3db` file under windDir, matching case-insensitively and
// reporting case mismatches and unreferenced extras.
func CheckWindDBs(meta map[string]models.DeploymentMeta, windDir string) (WindDBReport, error) {
	var report WindDBReport

	expected := make(map[string]string) // lowercase -> expected filename
	seen := make(map[string]bool)
	for _, m := range meta {
		if !m.HasWindMeter() || seen[m.WindMeterName] {
			continue
		}
		seen[m.WindMeterName] = true
		name := m.WindMeterName + ".s3db"
		expected[strings.ToLower(name)] = name
	}
	report.UniqueMeters = len(seen)

	files, err := filepath.Glob(filepath.Join(windDir, "*.s3db"))
	if err != nil {
		return report, fmt.Errorf("failed to read wind directory: %w", err)
	}

	actual := make(map[string]string) // lowercase -> actual filename
	for _, f := range files {
		base := filepath.Base(f)
		actual[strings.ToLower(base)] = base
	}
	report.FilesPresent = len(actual)

	for low, want := range expected {
		got, ok := actual[low]
		if !ok {
			report.Missing = append(report.Missing, want)
			continue
		}
		if got != want {
			report.CaseMismatch = append(report.CaseMismatch, [2]string{want, got})
		}
	}

	for low, got := range actual {
		if _, ok := expected[low]; !ok {
			report.Extras = append(report.Extras, got)
		}
	}

	sort.Strings(report.Missing)
	sort.Strings(report.Extras)
	sort.Slice(report.CaseMismatch, func(i, j int) bool {
		return report.CaseMismatch[i][0] < report.CaseMismatch[j][0]
	})

	return report, nil
}
