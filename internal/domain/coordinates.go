package domain

import (
	"fmt"
	"math"
)

// Immutable geographic position in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"latitude"`
	Lng float64 `json:"longitude"`
}

// Validate rejects NaN and out-of-range latitude/longitude values.
func (c Coordinate) Validate() error {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) || math.IsInf(c.Lat, 0) || math.IsInf(c.Lng, 0) {
		return fmt.Errorf("%w: coordinate is not a finite number", ErrInvalidInput)
	}
	if c.Lat < -90 || c.Lat > 90 {
		return fmt.Errorf("%w: latitude %.6f out of range [-90, 90]", ErrInvalidInput, c.Lat)
	}
	if c.Lng < -180 || c.Lng > 180 {
		return fmt.Errorf("%w: longitude %.6f out of range [-180, 180]", ErrInvalidInput, c.Lng)
	}
	return nil
}

// Return coordinates as [lon, lat] for external API compatibility.
func (c Coordinate) CoordsToList() []float64 { return []float64{c.Lng, c.Lat} }

// IsZero reports an unset location (0, 0).
func (c Coordinate) IsZero() bool { return c.Lat == 0 && c.Lng == 0 }

// Key is a stable cache key with ~0.1 m precision.
func (c Coordinate) Key() string { return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lng) }
