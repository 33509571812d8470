// Package markethours decides which candles a strategy may trade on.
//
// Crypto venues never close, so a Calendar is a set of weekdays plus optional
// blackout dates rather than exchange session hours. All checks are done in
// UTC, the timezone candle timestamps are delivered in.
package markethours

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Weekdays is a bit set of time.Weekday values.
type Weekdays uint8

// AllWeek trades every day.
const AllWeek Weekdays = 1<<7 - 1

// WorkWeek trades Monday through Friday.
const WorkWeek Weekdays = AllWeek &^ (1<<time.Saturday | 1<<time.Sunday)

// Days builds a set from individual weekdays.
func Days(days ...time.Weekday) Weekdays {
	var w Weekdays
	for _, d := range days {
		w |= 1 << d
	}
	return w
}

// Has reports whether d is in the set.
func (w Weekdays) Has(d time.Weekday) bool {
	return w&(1<<d) != 0
}

func (w Weekdays) String() string {
	var names []string
	for d := time.Sunday; d <= time.Saturday; d++ {
		if w.Has(d) {
			names = append(names, d.String()[:3])
		}
	}
	return strings.Join(names, ",")
}

// ParseWeekdays accepts short or long day names ("mon", "Tuesday") and the
// shorthands "all" and "weekdays".
func ParseWeekdays(names []string) (Weekdays, error) {
	var w Weekdays
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		switch n {
		case "all":
			w |= AllWeek
			continue
		case "weekdays":
			w |= WorkWeek
			continue
		}
		found := false
		for d := time.Sunday; d <= time.Saturday; d++ {
			long := strings.ToLower(d.String())
			if n == long || n == long[:3] {
				w |= 1 << d
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("markethours: unknown weekday %q", n)
		}
	}
	return w, nil
}

// Calendar is the set of days a strategy is allowed to open trades on.
type Calendar struct {
	days     Weekdays
	blackout map[string]bool // "2006-01-02"
}

// NewCalendar returns a calendar for days with the given blackout dates.
func NewCalendar(days Weekdays, blackout ...time.Time) Calendar {
	c := Calendar{days: days}
	for _, t := range blackout {
		c.addBlackout(t)
	}
	return c
}

// EveryDay is the calendar used when a strategy does not restrict trading.
func EveryDay() Calendar { return Calendar{days: AllWeek} }

// WithBlackout returns a copy of c that also excludes the given dates
// (format 2006-01-02).
func (c Calendar) WithBlackout(dates ...string) (Calendar, error) {
	out := Calendar{days: c.days, blackout: make(map[string]bool, len(c.blackout)+len(dates))}
	for k := range c.blackout {
		out.blackout[k] = true
	}
	for _, s := range dates {
		t, err := time.Parse("2006-01-02", strings.TrimSpace(s))
		if err != nil {
			return Calendar{}, fmt.Errorf("markethours: blackout date %q: %w", s, err)
		}
		out.addBlackout(t)
	}
	return out, nil
}

func (c *Calendar) addBlackout(t time.Time) {
	if c.blackout == nil {
		c.blackout = make(map[string]bool)
	}
	c.blackout[t.UTC().Format("2006-01-02")] = true
}

// Days returns the weekday set.
func (c Calendar) Days() Weekdays { return c.days }

// Blackouts returns the blackout dates in ascending order.
func (c Calendar) Blackouts() []string {
	out := make([]string, 0, len(c.blackout))
	for k := range c.blackout {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// IsTradingDay reports whether t falls on an allowed weekday that is not
// blacked out.
func (c Calendar) IsTradingDay(t time.Time) bool {
	u := t.UTC()
	if !c.days.Has(u.Weekday()) {
		return false
	}
	return !c.blackout[u.Format("2006-01-02")]
}
