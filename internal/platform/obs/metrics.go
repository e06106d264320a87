package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Optimizations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "route_optimizations_total",
		Help: "Route optimizations by objective and fallback stage.",
	}, []string{"objective", "stage"})

	SolveDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "route_solve_duration_seconds",
		Help:    "Wall-clock time spent in the route solver.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	}, []string{"outcome"})

	TrafficSnapshots = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "traffic_snapshots_total",
		Help: "Traffic snapshots served by source (cache, provider, simulated).",
	}, []string{"source"})

	TransferAcceptances = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transfer_acceptances_total",
		Help: "Transfer acceptance attempts by result.",
	}, []string{"result"})

	FuelPredictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fuel_predictions_total",
		Help: "Fuel predictions by source (model, heuristic).",
	}, []string{"source"})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_sent_total",
		Help: "Notifications delivered by type.",
	}, []string{"type"})
)
