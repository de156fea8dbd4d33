// Package cronexpr evaluates 5-field cron expressions.
//
// Each field (minute, hour, day-of-month, month, day-of-week) accepts "*",
// "n", "n,m,..." and "*/n". Next scans forward minute by minute for at most
// 48 hours and falls back to one hour after now when nothing matches in that
// window (e.g. "0 0 30 2 *"), so a pathological expression delays a job
// instead of disabling it.
//
// Descriptors understood by robfig/cron ("@hourly", "@daily", "@weekly",
// "@monthly", "@every 90m", ...) are accepted too.
package cronexpr

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidCronExpression is returned (wrapped) by Parse.
var ErrInvalidCronExpression = errors.New("invalid cron expression")

const (
	// ScanLimit bounds the minute-by-minute search.
	ScanLimit = 48 * time.Hour
	// Fallback is added to now when the scan finds no match.
	Fallback = time.Hour
)

type field struct {
	name     string
	min, max int
}

var fields = [5]field{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 6},
}

// Schedule is what Parse returns. It is a robfig cron.Schedule.
type Schedule interface {
	cron.Schedule
	String() string
}

// Expression is a parsed 5-field cron expression.
type Expression struct {
	raw string
	// sets[i][v] reports whether value v is permitted for fields[i].
	sets [5][]bool
}

var _ cron.Schedule = (*Expression)(nil)

var descriptorParser = cron.NewParser(cron.Descriptor)

// Parse parses a 5-field expression or a descriptor.
func Parse(raw string) (Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidCronExpression)
	}
	if strings.HasPrefix(s, "@") {
		sched, err := descriptorParser.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidCronExpression, raw, err)
		}
		return descriptor{raw: s, sched: sched}, nil
	}
	return ParseExpression(s)
}

// ParseExpression parses exactly five whitespace-separated fields.
func ParseExpression(raw string) (*Expression, error) {
	parts := strings.Fields(raw)
	if len(parts) != len(fields) {
		return nil, fmt.Errorf("%w: %q: expected 5 fields, got %d", ErrInvalidCronExpression, raw, len(parts))
	}
	e := &Expression{raw: strings.Join(parts, " ")}
	for i, p := range parts {
		set, err := parseField(p, fields[i])
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidCronExpression, raw, err)
		}
		e.sets[i] = set
	}
	return e, nil
}

func parseField(s string, f field) ([]bool, error) {
	set := make([]bool, f.max+1)
	switch {
	case s == "*":
		for v := f.min; v <= f.max; v++ {
			set[v] = true
		}
	case strings.HasPrefix(s, "*/"):
		step, err := strconv.Atoi(s[2:])
		if err != nil || step <= 0 {
			return nil, fmt.Errorf("%s: invalid step %q", f.name, s)
		}
		for v := f.min; v <= f.max; v += step {
			set[v] = true
		}
	default:
		for _, item := range strings.Split(s, ",") {
			v, err := strconv.Atoi(item)
			if err != nil {
				return nil, fmt.Errorf("%s: invalid value %q", f.name, item)
			}
			if v < f.min || v > f.max {
				return nil, fmt.Errorf("%s: %d out of range %d-%d", f.name, v, f.min, f.max)
			}
			set[v] = true
		}
	}
	return set, nil
}

// Next returns the first matching minute strictly after now, or now+Fallback
// when nothing matches within ScanLimit. The result is in now's location.
func (e *Expression) Next(now time.Time) time.Time {
	t := now.Truncate(time.Minute).Add(time.Minute)
	for end := now.Add(ScanLimit); !t.After(end); t = t.Add(time.Minute) {
		if e.Matches(t) {
			return t
		}
	}
	return now.Add(Fallback)
}

// Matches reports whether all five fields permit t.
func (e *Expression) Matches(t time.Time) bool {
	return e.sets[0][t.Minute()] &&
		e.sets[1][t.Hour()] &&
		e.sets[2][t.Day()] &&
		e.sets[3][int(t.Month())] &&
		e.sets[4][int(t.Weekday())]
}

func (e *Expression) String() string { return e.raw }

type descriptor struct {
	raw   string
	sched cron.Schedule
}

func (d descriptor) Next(now time.Time) time.Time { return d.sched.Next(now) }
func (d descriptor) String() string                { return d.raw }

// Preview returns the next n run times after now, each computed from the previous one.
func Preview(s Schedule, now time.Time, n int) []time.Time {
	out := make([]time.Time, 0, n)
	t := now
	for i := 0; i < n; i++ {
		t = s.Next(t)
		if t.IsZero() {
			break
		}
		out = append(out, t)
	}
	return out
}
