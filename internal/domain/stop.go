package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const secondsPerDay = 24 * 60 * 60

// TimeOfDay is a wall-clock time expressed as seconds since midnight.
// It marshals to and from "HH:MM".
type TimeOfDay int

// DepotDeparture is the fixed instant every vehicle leaves the depot.
const DepotDeparture TimeOfDay = 8 * 60 * 60

func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"15:04", "15:04:05"} {
		t, err := time.Parse(layout, s)
		if err == nil {
			return TimeOfDay(t.Hour()*3600 + t.Minute()*60 + t.Second()), nil
		}
	}
	return 0, fmt.Errorf("%w: time of day %q must be HH:MM", ErrInvalidInput, s)
}

func (t TimeOfDay) String() string {
	v := int(t) % secondsPerDay
	return fmt.Sprintf("%02d:%02d", v/3600, (v%3600)/60)
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeOfDay) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("%w: time of day must be a string", ErrInvalidInput)
	}
	v, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// TimeWindow is the interval during which a stop must be visited.
type TimeWindow struct {
	Start TimeOfDay `json:"start"`
	End   TimeOfDay `json:"end"`
}

// Relative converts the window to seconds after the given departure.
// Only a window whose End precedes its Start crosses midnight. The start is
// clamped at zero afterwards, so a window that closes before departure keeps
// a negative end and can never be met.
func (w TimeWindow) Relative(departure TimeOfDay) (start, end int) {
	start = int(w.Start - departure)
	end = int(w.End - departure)
	if w.End < w.Start {
		end += secondsPerDay
	}
	if start < 0 {
		start = 0
	}
	return start, end
}

// Stop is a depot or delivery location. Never mutated once an optimization starts.
type Stop struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Address    string      `json:"address,omitempty"`
	Coordinate Coordinate  `json:"coordinate"`
	TimeWindow *TimeWindow `json:"time_window,omitempty"`
	Demand     int         `json:"demand,omitempty"`
}

// DemandUnits returns the capacity units consumed by this stop (default 1).
func (s Stop) DemandUnits() int {
	if s.Demand <= 0 {
		return 1
	}
	return s.Demand
}
