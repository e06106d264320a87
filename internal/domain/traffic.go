package domain

import "time"

type CongestionArea struct {
	ID     string       `json:"way_id"`
	Coords []Coordinate `json:"coords"`
	Level  float64      `json:"congestion_level"`
}

// TrafficSnapshot is the traffic data used for one optimization.
type TrafficSnapshot struct {
	TrafficSignals  []Coordinate     `json:"traffic_signals"`
	CongestionAreas []CongestionArea `json:"congestion_areas"`
	RoadSpeeds      map[string]int   `json:"road_speeds,omitempty"`
	IsSimulated     bool             `json:"is_simulated"`
	FetchedAt       time.Time        `json:"fetched_at"`
}

// Bounds is a lat/lng bounding box.
type Bounds struct {
	MinLat float64 `json:"min_lat"`
	MinLng float64 `json:"min_lng"`
	MaxLat float64 `json:"max_lat"`
	MaxLng float64 `json:"max_lng"`
}
