package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TimeDuration extends time.Duration with day, week and year units. A year
// is fixed at 52 weeks.
type TimeDuration time.Duration

const (
	dayDuration  = 24 * time.Hour
	weekDuration = 7 * dayDuration
	yearDuration = 52 * weekDuration
)

var durationUnits = map[string]time.Duration{
	"ns": time.Nanosecond,
	"us": time.Microsecond,
	"ms": time.Millisecond,
	"s":  time.Second,
	"m":  time.Minute,
	"h":  time.Hour,
	"d":  dayDuration,
	"w":  weekDuration,
	"y":  yearDuration,
}

func (t TimeDuration) Duration() time.Duration {
	return time.Duration(t)
}

func (t TimeDuration) String() string {
	return DurationToString(time.Duration(t))
}

func (t TimeDuration) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeDuration) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	d, err := ParseDuration(raw)
	if err != nil {
		return err
	}

	*t = TimeDuration(d)
	return nil
}

func (t TimeDuration) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TimeDuration) UnmarshalText(text []byte) error {
	d, err := ParseDuration(string(text))
	if err != nil {
		return err
	}

	*t = TimeDuration(d)
	return nil
}

// ParseDuration parses a duration string made of decimal numbers each with a
// unit suffix: ns, us, ms, s, m, h, d, w or y. "0" is accepted without unit.
func ParseDuration(s string) (time.Duration, error) {
	orig := s
	neg := false

	if s != "" {
		switch s[0] {
		case '-':
			neg = true
			s = s[1:]
		case '+':
			s = s[1:]
		}
	}

	if s == "0" {
		return 0, nil
	}

	if s == "" {
		return 0, fmt.Errorf("time: invalid duration %q", orig)
	}

	var total time.Duration
	for s != "" {
		var intPart, fracPart int64
		var fracScale float64 = 1

		i := 0
		for ; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
			intPart = intPart*10 + int64(s[i]-'0')
		}

		hasInt := i > 0
		hasFrac := false
		if i < len(s) && s[i] == '.' {
			i++
			for ; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
				fracPart = fracPart*10 + int64(s[i]-'0')
				fracScale *= 10
				hasFrac = true
			}
		}

		if !hasInt && !hasFrac {
			return 0, fmt.Errorf("time: invalid duration %q", orig)
		}

		s = s[i:]
		j := 0
		for ; j < len(s); j++ {
			c := s[j]
			if c == '.' || ('0' <= c && c <= '9') {
				break
			}
		}

		unit, ok := durationUnits[s[:j]]
		if !ok {
			return 0, fmt.Errorf("time: invalid duration %q", orig)
		}

		s = s[j:]
		total += time.Duration(intPart) * unit
		if hasFrac {
			total += time.Duration(float64(fracPart) * (float64(unit) / fracScale))
		}
	}

	if neg {
		total = -total
	}

	return total, nil
}

// DurationToString renders a duration using the largest fitting units, from
// years down to nanoseconds. The zero duration renders as "0s".
func DurationToString(d time.Duration) string {
	if d == 0 {
		return "0s"
	}

	var sb strings.Builder
	if d < 0 {
		sb.WriteString("-")
		d = -d
	}

	chunks := []struct {
		unit string
		dur  time.Duration
	}{
		{"y", yearDuration},
		{"w", weekDuration},
		{"d", dayDuration},
		{"h", time.Hour},
		{"m", time.Minute},
		{"s", time.Second},
		{"ms", time.Millisecond},
		{"us", time.Microsecond},
		{"ns", time.Nanosecond},
	}

	for _, chunk := range chunks {
		if d >= chunk.dur {
			n := d / chunk.dur
			d -= n * chunk.dur
			fmt.Fprintf(&sb, "%d%s", n, chunk.unit)
		}
	}

	return sb.String()
}
