package distance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"

	"fleet-routing-service/internal/domain"
	"fleet-routing-service/internal/ports"
)

type matrixRequest struct {
	Locations    [][]float64 `json:"locations"`
	Sources      []int       `json:"sources"`
	Destinations []int       `json:"destinations"`
	Metrics      []string    `json:"metrics"`
}

type matrixResponse struct {
	Distances [][]*float64 `json:"distances"`
	Durations [][]*float64 `json:"durations"`
}

// fetchMatrixRow retrieves one origin -> many destinations row from the
// matrix endpoint, keyed by destination Coordinate.Key().
func (o *ORSClient) fetchMatrixRow(ctx context.Context, origin domain.Coordinate, destinations []domain.Coordinate) (map[string]ports.DistanceResult, error) {
	if len(destinations) == 0 {
		return map[string]ports.DistanceResult{}, nil
	}

	endpoint := fmt.Sprintf("%s/v2/matrix/%s", o.baseURL, o.profile)

	body := matrixRequest{
		Locations:    make([][]float64, 0, 1+len(destinations)),
		Sources:      []int{0},
		Destinations: make([]int, 0, len(destinations)),
		Metrics:      []string{"distance", "duration"},
	}
	body.Locations = append(body.Locations, origin.CoordsToList())
	for i, c := range destinations {
		body.Locations = append(body.Locations, c.CoordsToList())
		body.Destinations = append(body.Destinations, i+1)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal matrix request: %w", err)
	}

	resp, err := o.doWithRetry(ctx, func() (*http.Request, error) {
		return o.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	})
	if err != nil {
		return nil, fmt.Errorf("matrix request failed: %w", err)
	}
	defer resp.Body.Close()

	var mr matrixResponse
	if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
		return nil, fmt.Errorf("decode matrix response: %w", err)
	}
	if len(mr.Distances) != 1 || len(mr.Durations) != 1 {
		return nil, fmt.Errorf("expected 1 source row; got distances=%d durations=%d", len(mr.Distances), len(mr.Durations))
	}

	distances, durations := mr.Distances[0], mr.Durations[0]
	if len(distances) != len(destinations) || len(durations) != len(destinations) {
		return nil, fmt.Errorf("row lengths do not match destinations: distances=%d durations=%d destinations=%d",
			len(distances), len(durations), len(destinations))
	}

	out := make(map[string]ports.DistanceResult, len(destinations))
	for i, dest := range destinations {
		// Unroutable pairs come back as null and are left out.
		if distances[i] == nil || durations[i] == nil {
			continue
		}
		out[dest.Key()] = ports.DistanceResult{
			DistanceMeters:  int(math.Round(*distances[i])),
			DurationSeconds: int(math.Round(*durations[i])),
		}
	}
	return out, nil
}
