package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnsupportedInterval is returned when an interval cannot be mapped to a
// venue code or parsed from configuration.
var ErrUnsupportedInterval = errors.New("unsupported interval")

// Interval is the fixed bar duration a time series is built on.
type Interval int

const (
	Minute1 Interval = iota + 1
	Minute5
	Minute15
	Minute30
	Hour1
	Hour4
	Hour12
	Day1
	Day5
	Week1
)

var intervalInfo = map[Interval]struct {
	name string
	dur  time.Duration
}{
	Minute1:  {"1m", time.Minute},
	Minute5:  {"5m", 5 * time.Minute},
	Minute15: {"15m", 15 * time.Minute},
	Minute30: {"30m", 30 * time.Minute},
	Hour1:    {"1h", time.Hour},
	Hour4:    {"4h", 4 * time.Hour},
	Hour12:   {"12h", 12 * time.Hour},
	Day1:     {"1d", 24 * time.Hour},
	Day5:     {"5d", 5 * 24 * time.Hour},
	Week1:    {"1w", 7 * 24 * time.Hour},
}

// Duration returns the length of one bar. Unknown intervals return 0.
func (i Interval) Duration() time.Duration {
	return intervalInfo[i].dur
}

func (i Interval) String() string {
	if info, ok := intervalInfo[i]; ok {
		return info.name
	}
	return fmt.Sprintf("Interval(%d)", int(i))
}

// Valid reports whether i is one of the declared intervals.
func (i Interval) Valid() bool {
	_, ok := intervalInfo[i]
	return ok
}

// ParseInterval accepts the String form ("1m", "4h", "1w") case-insensitively.
func ParseInterval(s string) (Interval, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for iv, info := range intervalInfo {
		if info.name == s {
			return iv, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedInterval, s)
}

// BarsBetween counts whole bars between entry and exit. Ten seconds are added
// to absorb timestamps that land just short of a bar boundary.
func BarsBetween(entered, exited time.Time, iv Interval) int {
	d := iv.Duration()
	if d <= 0 {
		return 0
	}
	elapsed := exited.Sub(entered) + 10*time.Second
	return int(elapsed / d)
}
