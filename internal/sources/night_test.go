package sources

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"monarch-pipeline/internal/models"
)

func mustTS(t *testing.T, compact string) time.Time {
	t.Helper()
	ts, err := models.ParseCompactTimestamp(compact)
	if err != nil {
		t.Fatalf("Bad timestamp %q: %v", compact, err)
	}
	return ts
}

func TestNightTableIsNight(t *testing.T) {
	table := DefaultNightTable()

	tests := []struct {
		name         string
		deploymentID string
		ts           string
		expected     bool
	}{
		{
			name:         "inside a night period",
			deploymentID: "SC1",
			ts:           "20231117230000",
			expected:     true,
		},
		{
			name:         "start bound is inclusive",
			deploymentID: "SC1",
			ts:           "20231117174001",
			expected:     true,
		},
		{
			name:         "end bound is inclusive",
			deploymentID: "SC1",
			ts:           "20231118062001",
			expected:     true,
		},
		{
			name:         "one second past the end is day",
			deploymentID: "SC1",
			ts:           "20231118062002",
			expected:     false,
		},
		{
			name:         "midday is day",
			deploymentID: "SC1",
			ts:           "20231118120000",
			expected:     false,
		},
		{
			name:         "deployment without periods has no table nights",
			deploymentID: "SC5",
			ts:           "20231117230000",
			expected:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := table.IsNight(tt.deploymentID, mustTS(t, tt.ts))
			if got != tt.expected {
				t.Errorf("IsNight(%s, %s): expected %v, got %v", tt.deploymentID, tt.ts, tt.expected, got)
			}
		})
	}
}

func TestLoadNightTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nights.json")
	content := `{"SC3": [["20231110180001", "20231111063001"]]}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write fixture: %v", err)
	}

	table, err := LoadNightTable(path)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !table.IsNight("SC3", mustTS(t, "20231110230000")) {
		t.Error("Expected a loaded night period to apply")
	}
	if table.IsNight("SC3", mustTS(t, "20231110120000")) {
		t.Error("Expected midday to remain day")
	}
}

func TestLoadNightTableRejectsReversedPeriod(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nights.json")
	content := `{"SC3": [["20231111063001", "20231110180001"]]}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write fixture: %v", err)
	}

	if _, err := LoadNightTable(path); err == nil {
		t.Error("Expected error for a period ending before it starts")
	}
}

func TestDownsampleRulesKeep(t *testing.T) {
	rules := DefaultDownsampleRules()

	tests := []struct {
		name         string
		deploymentID string
		ts           string
		isNight      bool
		expected     bool
	}{
		{
			name:         "on-grid frame kept",
			deploymentID: "SC1",
			ts:           "20231118103000",
			expected:     true,
		},
		{
			name:         "top of hour kept",
			deploymentID: "SC1",
			ts:           "20231118100000",
			expected:     true,
		},
		{
			name:         "off-grid frame thinned",
			deploymentID: "SC1",
			ts:           "20231118100500",
			expected:     false,
		},
		{
			name:         "night frames never thinned",
			deploymentID: "SC1",
			ts:           "20231118100500",
			isNight:      true,
			expected:     true,
		},
		{
			name:         "deployment without rule keeps everything",
			deploymentID: "SC5",
			ts:           "20231118101000",
			expected:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := rules.Keep(tt.deploymentID, mustTS(t, tt.ts), tt.isNight)
			if got != tt.expected {
				t.Errorf("Keep(%s, %s, night=%v): expected %v, got %v", tt.deploymentID, tt.ts, tt.isNight, tt.expected, got)
			}
		})
	}
}
