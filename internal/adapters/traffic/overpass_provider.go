// Package traffic fetches live traffic features from OpenStreetMap.
package traffic

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"fleet-routing-service/internal/domain"
	"fleet-routing-service/internal/platform/obs"

	"go.uber.org/zap"
)

const (
	DefaultOverpassURL = "https://overpass-api.de/api/interpreter"
	userAgent          = "fleet-routing-service/1.0"

	// Ways slower than this are treated as congestion areas.
	slowRoadKmh = 30
	busyLanes   = 3
	// Unparseable maxspeed tags count as an ordinary urban road.
	defaultMaxSpeed = 50

	minCongestion = 0.2
	maxCongestion = 0.8
)

type overpassElement struct {
	Type  string            `json:"type"`
	ID    int64             `json:"id"`
	Lat   float64           `json:"lat"`
	Lon   float64           `json:"lon"`
	Tags  map[string]string `json:"tags"`
	Nodes []int64           `json:"nodes"`
}

type overpassResponse struct {
	Elements []overpassElement `json:"elements"`
}

// OverpassProvider implements ports.TrafficProvider with the Overpass API:
// traffic signal nodes, way speed limits, and congestion areas derived
// from slow or multi-lane ways.
type OverpassProvider struct {
	session *http.Client
	url     string
	log     *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

func NewOverpassProvider(endpoint string, log *zap.Logger) *OverpassProvider {
	if endpoint == "" {
		endpoint = DefaultOverpassURL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &OverpassProvider{
		session: &http.Client{Timeout: 30 * time.Second},
		url:     endpoint,
		log:     log,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		now:     time.Now,
	}
}

func query(b domain.Bounds) string {
	box := fmt.Sprintf("%f,%f,%f,%f", b.MinLat, b.MinLng, b.MaxLat, b.MaxLng)
	return fmt.Sprintf(`[out:json];
(
  way(%[1]s)[highway][maxspeed];
  way(%[1]s)[highway][lanes];
  node(%[1]s)[highway=traffic_signals];
  way(%[1]s)[highway][oneway=yes];
);
out body;
>;
out skel qt;`, box)
}

func (p *OverpassProvider) Snapshot(ctx context.Context, bounds domain.Bounds) (_ *domain.TrafficSnapshot, err error) {
	defer obs.Time(ctx, p.log, "overpass.Snapshot")(&err)

	form := url.Values{"data": {query(bounds)}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("overpass: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.session.Do(req)
	if err != nil {
		return nil, fmt.Errorf("overpass: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("overpass: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var decoded overpassResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("overpass: decode response: %w", err)
	}
	return p.process(decoded), nil
}

// process turns raw OSM elements into a snapshot. Way geometry only refers
// to node ids, so nodes are indexed in a first pass.
func (p *OverpassProvider) process(osm overpassResponse) *domain.TrafficSnapshot {
	snap := &domain.TrafficSnapshot{
		TrafficSignals:  []domain.Coordinate{},
		CongestionAreas: []domain.CongestionArea{},
		RoadSpeeds:      map[string]int{},
		FetchedAt:       p.now().UTC(),
	}

	nodes := map[int64]domain.Coordinate{}
	for _, el := range osm.Elements {
		if el.Type != "node" {
			continue
		}
		c := domain.Coordinate{Lat: el.Lat, Lng: el.Lon}
		nodes[el.ID] = c
		if el.Tags["highway"] == "traffic_signals" {
			snap.TrafficSignals = append(snap.TrafficSignals, c)
		}
	}

	for _, el := range osm.Elements {
		if el.Type != "way" || el.Tags["highway"] == "" {
			continue
		}
		id := strconv.FormatInt(el.ID, 10)

		congested := false
		if raw, ok := el.Tags["maxspeed"]; ok {
			speed := parseMaxSpeed(raw)
			snap.RoadSpeeds[id] = speed
			congested = speed < slowRoadKmh
		}
		if lanes, err := strconv.Atoi(el.Tags["lanes"]); err == nil && lanes >= busyLanes {
			congested = true
		}
		if !congested {
			continue
		}

		var coords []domain.Coordinate
		for _, n := range el.Nodes {
			if c, ok := nodes[n]; ok {
				coords = append(coords, c)
			}
		}
		if len(coords) == 0 {
			continue
		}
		snap.CongestionAreas = append(snap.CongestionAreas, domain.CongestionArea{
			ID:     id,
			Coords: coords,
			Level:  p.congestionLevel(),
		})
	}
	return snap
}

// parseMaxSpeed reads the leading number of tags like "50" or "25 mph".
func parseMaxSpeed(raw string) int {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return defaultMaxSpeed
	}
	v, err := strconv.Atoi(fields[0])
	if err != nil {
		return defaultMaxSpeed
	}
	return v
}

// OSM carries no live congestion, so levels are drawn from [0.2, 0.8].
func (p *OverpassProvider) congestionLevel() float64 {
	p.mu.Lock()
	v := minCongestion + p.rng.Float64()*(maxCongestion-minCongestion)
	p.mu.Unlock()
	return math.Round(v*100) / 100
}
