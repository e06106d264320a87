package traffic

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"fleet-routing-service/internal/domain"
	"fleet-routing-service/internal/geo"
	"fleet-routing-service/internal/platform/obs"
	"fleet-routing-service/internal/ports"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTTL          = 300 * time.Second
	DefaultFetchTimeout = 30 * time.Second
	boundsPadding       = 0.05
)

// Service hands out traffic snapshots for a set of coordinates. Snapshots
// are cached by rounded bounding box. Provider failures degrade to a
// simulated snapshot, so Snapshot never fails.
type Service struct {
	cache    ports.Cache
	provider ports.TrafficProvider
	log      *zap.Logger
	ttl      time.Duration
	timeout  time.Duration
	now      func() time.Time

	group singleflight.Group

	mu  sync.Mutex
	rng *rand.Rand
}

type Option func(*Service)

func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithFetchTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithSeed fixes the simulation randomness.
func WithSeed(seed int64) Option {
	return func(s *Service) { s.rng = rand.New(rand.NewSource(seed)) }
}

// NewService wires the cache and provider. Either may be nil: without a
// cache nothing is shared, without a provider every snapshot is simulated.
func NewService(cache ports.Cache, provider ports.TrafficProvider, log *zap.Logger, opts ...Option) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		cache:    cache,
		provider: provider,
		log:      log,
		ttl:      DefaultTTL,
		timeout:  DefaultFetchTimeout,
		now:      time.Now,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CacheKey identifies a bounding box at 4-decimal precision.
func CacheKey(b domain.Bounds) string {
	return fmt.Sprintf("traffic:%.4f_%.4f_%.4f_%.4f", b.MinLat, b.MinLng, b.MaxLat, b.MaxLng)
}

// Snapshot returns traffic data covering coords (padded by 0.05 degrees).
func (s *Service) Snapshot(ctx context.Context, coords []domain.Coordinate) *domain.TrafficSnapshot {
	bounds := geo.BoundsOf(coords, boundsPadding)
	key := CacheKey(bounds)

	if snap, ok := s.fromCache(ctx, key); ok {
		obs.TrafficSnapshots.WithLabelValues("cache").Inc()
		return snap
	}

	v, _, _ := s.group.Do(key, func() (any, error) {
		snap := s.fetch(ctx, bounds)
		s.store(ctx, key, snap)
		return snap, nil
	})
	return v.(*domain.TrafficSnapshot)
}

func (s *Service) fromCache(ctx context.Context, key string) (*domain.TrafficSnapshot, bool) {
	if s.cache == nil {
		return nil, false
	}
	raw, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.log.Warn("traffic cache read failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var snap domain.TrafficSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		s.log.Warn("traffic cache entry is corrupt", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return &snap, true
}

func (s *Service) fetch(ctx context.Context, bounds domain.Bounds) *domain.TrafficSnapshot {
	if s.provider != nil {
		fctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		snap, err := s.provider.Snapshot(fctx, bounds)
		if err == nil && snap != nil {
			obs.TrafficSnapshots.WithLabelValues("provider").Inc()
			if snap.FetchedAt.IsZero() {
				snap.FetchedAt = s.now()
			}
			return snap
		}
		s.log.Warn("traffic provider failed, simulating", zap.Error(err))
	}

	obs.TrafficSnapshots.WithLabelValues("simulated").Inc()
	s.mu.Lock()
	defer s.mu.Unlock()
	return Simulate(bounds, s.now(), s.rng)
}

func (s *Service) store(ctx context.Context, key string, snap *domain.TrafficSnapshot) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		s.log.Warn("encode traffic snapshot", zap.Error(err))
		return
	}
	if err := s.cache.Set(ctx, key, raw, s.ttl); err != nil {
		s.log.Warn("traffic cache write failed", zap.String("key", key), zap.Error(err))
	}
}
