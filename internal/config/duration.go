package config

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// MarshalledDuration parses the same strings as time.ParseDuration, and also accepts days and weeks, e.g. "1w 2d".
type MarshalledDuration time.Duration

var durationRegex = regexp.MustCompile(`^(?:(\d+)w)? ?(?:(\d+)d)? ?(?:(\d+)h)? ?(?:(\d+)m)? ?(?:(\d+)s)? ?(?:(\d+)ms)?$`)

// Units of each capture group in durationRegex, in order
var durationUnits = []time.Duration{
	7 * 24 * time.Hour,
	24 * time.Hour,
	time.Hour,
	time.Minute,
	time.Second,
	time.Millisecond,
}

func (d MarshalledDuration) Duration() time.Duration {
	return time.Duration(d)
}

func (d MarshalledDuration) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(time.Duration(d).String())), nil
}

func (d *MarshalledDuration) UnmarshalJSON(data []byte) error {
	s, err := strconv.Unquote(string(data))
	if err != nil {
		return errors.New("invalid duration: must be a string")
	}

	return d.UnmarshalText([]byte(s))
}

func (d *MarshalledDuration) UnmarshalText(text []byte) error {
	duration, err := parseDuration(string(text))
	if err != nil {
		return err
	}

	*d = MarshalledDuration(duration)
	return nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "0" {
		return 0, nil
	}

	// Anything time.ParseDuration understands, e.g. "1h30m" or "1.5s", is accepted as is
	if duration, err := time.ParseDuration(s); err == nil {
		return duration, nil
	}

	groups := durationRegex.FindStringSubmatch(s)
	if s == "" || len(groups) != len(durationUnits)+1 {
		return 0, fmt.Errorf("invalid duration: %s", s)
	}

	var duration time.Duration
	for i, unit := range durationUnits {
		if groups[i+1] == "" {
			continue
		}

		n, err := strconv.Atoi(groups[i+1])
		if err != nil {
			return 0, err
		}

		duration += time.Duration(n) * unit
	}

	return duration, nil
}
