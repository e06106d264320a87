package distance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"fleet-routing-service/internal/domain"
	"fleet-routing-service/internal/platform/obs"

	"go.uber.org/zap"
)

type geocodeResponse struct {
	Features []struct {
		Geometry struct {
			Coordinates []float64 `json:"coordinates"`
		} `json:"geometry"`
	} `json:"features"`
}

// normalize collapses whitespace so equivalent addresses share a cache entry.
func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Geocode resolves an address with /geocode/search. It returns nil when
// nothing matched. Remote calls wait on the rate limiter.
func (o *ORSClient) Geocode(ctx context.Context, address string) (_ *domain.Coordinate, err error) {
	defer obs.Time(ctx, o.log, "ors.Geocode")(&err)

	norm := normalize(address)
	if norm == "" {
		return nil, fmt.Errorf("geocode: empty address: %w", domain.ErrInvalidInput)
	}

	if o.geocodes != nil {
		c, err := o.geocodes.Get(ctx, norm)
		if err != nil {
			o.log.Warn("geocode cache read failed", zap.Error(err))
		} else if c != nil {
			return c, nil
		}
	}

	if err := o.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("geocode %q: rate limit: %w", norm, err)
	}

	endpoint := o.baseURL + "/geocode/search"
	resp, err := o.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := o.newRequest(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		q := req.URL.Query()
		q.Set("text", norm)
		q.Set("size", "1")
		if o.country != "" {
			q.Set("boundary.country", o.country)
		}
		req.URL.RawQuery = q.Encode()
		return req, nil
	})
	if err != nil {
		return nil, fmt.Errorf("geocode %q: %w", norm, err)
	}
	defer resp.Body.Close()

	var decoded geocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode geocode response: %w", err)
	}
	if len(decoded.Features) == 0 {
		return nil, nil
	}

	coords := decoded.Features[0].Geometry.Coordinates
	if len(coords) != 2 {
		return nil, fmt.Errorf("invalid coordinate format for %q", norm)
	}
	c := domain.Coordinate{Lng: coords[0], Lat: coords[1]}

	if o.geocodes != nil {
		if err := o.geocodes.Put(ctx, norm, c); err != nil {
			o.log.Warn("geocode cache write failed", zap.Error(err))
		}
	}
	return &c, nil
}
