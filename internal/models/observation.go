package models

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// CompactTimestampLayout is the 14-digit timestamp encoding embedded in image
// filenames and used throughout the input stores.
const CompactTimestampLayout = "20060102150405"

// countCategories maps labeled count categories to conservative minimum values.
var countCategories = map[string]float64{
	"0":       0,
	"1-9":     1,
	"10-99":   10,
	"100-999": 100,
	"1000+":   1000,
}

var (
	rangePattern     = regexp.MustCompile(`^(\d+)-(\d+)$`)
	plusPattern      = regexp.MustCompile(`^(\d+)\+$`)
	timestampPattern = regexp.MustCompile(`_(\d{14})`)
)

// Observation is a single labeled image: total butterfly count, count in
// direct sun, and the night flag. Immutable once parsed.
type Observation struct {
	DeploymentID string    `json:"deployment_id"`
	Filename     string    `json:"filename"`
	Timestamp    time.Time `json:"timestamp"`
	TotalCount   float64   `json:"total_count"`
	DirectSun    float64   `json:"direct_sun_count"`
	IsNight      bool      `json:"is_night"`
}

// Date returns the observation's local calendar date at UTC midnight.
func (o Observation) Date() time.Time {
	return DateOf(o.Timestamp)
}

// DateOf truncates a timestamp to its calendar date.
func DateOf(ts time.Time) time.Time {
	y, m, d := ts.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// IsNextDay reports whether b is the calendar-day successor of a.
func IsNextDay(a, b time.Time) bool {
	return DateOf(a).AddDate(0, 0, 1).Equal(DateOf(b))
}

// MapCountCategory converts a labeled count value to a numeric count.
// Known categories map to their conservative minimum; generic "N-M" ranges map
// to N, "N+" maps to N, and bare numbers parse directly.
func MapCountCategory(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}

	if v, ok := countCategories[s]; ok {
		return v, nil
	}

	if m := rangePattern.FindStringSubmatch(s); m != nil {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0, &ValidationError{Field: "count", Value: raw, Message: "invalid range minimum"}
		}
		return v, nil
	}

	if m := plusPattern.FindStringSubmatch(s); m != nil {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0, &ValidationError{Field: "count", Value: raw, Message: "invalid plus-range base"}
		}
		return v, nil
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, &ValidationError{
			Field:   "count",
			Value:   raw,
			Message: fmt.Sprintf("cannot parse count value %q", raw),
		}
	}
	return v, nil
}

// ParseCompactTimestamp parses the fixed 14-digit YYYYMMDDHHMMSS encoding.
func ParseCompactTimestamp(s string) (time.Time, error) {
	ts, err := time.Parse(CompactTimestampLayout, s)
	if err != nil {
		return time.Time{}, &ValidationError{
			Field:   "timestamp",
			Value:   s,
			Message: "invalid timestamp, expected YYYYMMDDHHMMSS",
		}
	}
	return ts, nil
}

// TimestampFromFilename extracts the embedded _YYYYMMDDHHMMSS timestamp from
// an image filename.
func TimestampFromFilename(filename string) (time.Time, error) {
	m := timestampPattern.FindStringSubmatch(filename)
	if m == nil {
		return time.Time{}, &ValidationError{
			Field:   "filename",
			Value:   filename,
			Message: "no embedded timestamp in filename",
		}
	}
	return ParseCompactTimestamp(m[1])
}

// ValidationError represents a malformed-record error. Records failing
// validation are dropped and logged, never aborting the batch.
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// IsTransient returns false as validation errors are permanent.
func (e *ValidationError) IsTransient() bool {
	return false
}
