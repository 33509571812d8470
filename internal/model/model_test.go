package model

import (
	"errors"
	"testing"
	"time"
)

func TestBarsBetween(t *testing.T) {
	entry := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		exit time.Time
		iv   Interval
		want int
	}{
		{"two minutes plus change", entry.Add(125 * time.Second), Minute1, 2},
		{"just short of a bar", entry.Add(55 * time.Second), Minute1, 1},
		{"same candle", entry, Minute1, 0},
		{"hourly", entry.Add(3 * time.Hour), Hour1, 3},
		{"weekly", entry.Add(14 * 24 * time.Hour), Week1, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := BarsBetween(entry, tc.exit, tc.iv); got != tc.want {
				t.Errorf("expected %d bars, got %d", tc.want, got)
			}
		})
	}
}

func TestParseInterval(t *testing.T) {
	iv, err := ParseInterval(" 4H ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if iv != Hour4 {
		t.Errorf("expected Hour4, got %v", iv)
	}
	if iv.Duration() != 4*time.Hour {
		t.Errorf("expected 4h duration, got %v", iv.Duration())
	}

	if _, err := ParseInterval("3m"); !errors.Is(err, ErrUnsupportedInterval) {
		t.Errorf("expected ErrUnsupportedInterval, got %v", err)
	}
}

func TestSetupBuilder_MissingFields(t *testing.T) {
	_, err := NewSetupBuilder().Interval(Minute1).Orientation(Long).Candle(Candle{}).Build()
	var be *BuildError
	if !errors.As(err, &be) {
		t.Fatalf("expected BuildError, got %v", err)
	}
	if err.Error() != "symbol is required to build Setup" {
		t.Errorf("unexpected message %q", err.Error())
	}

	_, err = NewSetupBuilder().Symbol("BTCUSDT").Interval(Minute1).Orientation(Long).Build()
	if err == nil || err.Error() != "candle is required to build Setup" {
		t.Errorf("expected missing candle error, got %v", err)
	}
}

func TestSetupBuilder_SnapshotIsIndependent(t *testing.T) {
	c := Candle{TS: time.Unix(60, 0), Close: 10}
	c.SetIndicator("sma_2", 9.5)

	setup, err := NewSetupBuilder().
		Symbol("BTCUSDT").
		Interval(Minute1).
		Candle(c).
		Orientation(Short).
		Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c.SetIndicator("sma_2", 1)
	if v, _ := setup.Candle.Indicator("sma_2"); v != 9.5 {
		t.Errorf("expected snapshot value 9.5, got %v", v)
	}
	if setup.Orientation.String() != "short" {
		t.Errorf("expected short, got %s", setup.Orientation)
	}
}
