package fuel

import (
	"errors"
	"fmt"
	"sync"

	"fleet-routing-service/internal/domain"
	"fleet-routing-service/internal/platform/obs"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

// MinTrainingRecords is the number of observations required before a learned
// model may override the heuristic.
const MinTrainingRecords = 10

var ErrInsufficientData = errors.New("fuel model: insufficient training data")

// Model is a learned fuel predictor.
type Model interface {
	Trained() bool
	Predict(in Input) (float64, error)
}

// LinearModel corrects the heuristic with a least-squares fit over
// distance-scaled features. Safe for concurrent use.
type LinearModel struct {
	mu      sync.RWMutex
	coef    []float64
	samples int
}

func NewLinearModel() *LinearModel { return &LinearModel{} }

func (m *LinearModel) Trained() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.coef != nil
}

func (m *LinearModel) Samples() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.samples
}

// features are all proportional to distance so a zero-length leg predicts zero.
func features(in Input) []float64 {
	d := in.DistanceKm
	traffic := in.TrafficFactor
	if traffic <= 0 {
		traffic = 1
	}
	var urban, highway float64
	switch in.RoadType {
	case domain.RoadUrban:
		urban = d
	case domain.RoadHighway:
		highway = d
	}
	return []float64{
		Estimate(in),
		d,
		d * traffic,
		d * in.LoadKg / 1000,
		d * in.StopsPerKm,
		urban,
		highway,
	}
}

// Train fits the model to records. Fewer than MinTrainingRecords leaves
// the previous fit untouched and returns ErrInsufficientData.
func (m *LinearModel) Train(records []domain.FuelRecord) error {
	if len(records) < MinTrainingRecords {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientData, len(records), MinTrainingRecords)
	}

	cols := len(features(Input{}))
	a := mat.NewDense(len(records), cols, nil)
	b := mat.NewVecDense(len(records), nil)
	for i, r := range records {
		a.SetRow(i, features(InputFromRecord(r)))
		b.SetVec(i, r.ActualFuel)
	}

	var x mat.VecDense
	if err := x.SolveVec(a, b); err != nil {
		return fmt.Errorf("fuel model: least squares: %w", err)
	}

	coef := make([]float64, cols)
	for i := range coef {
		coef[i] = x.AtVec(i)
	}

	m.mu.Lock()
	m.coef = coef
	m.samples = len(records)
	m.mu.Unlock()
	return nil
}

func (m *LinearModel) Predict(in Input) (float64, error) {
	m.mu.RLock()
	coef := m.coef
	m.mu.RUnlock()
	if coef == nil {
		return 0, errors.New("fuel model: not trained")
	}

	var y float64
	for i, f := range features(in) {
		y += coef[i] * f
	}
	if y <= 0 {
		return 0, fmt.Errorf("fuel model: non-positive prediction %.4f", y)
	}
	return y, nil
}

// InputFromRecord rebuilds the prediction input a record was observed under.
func InputFromRecord(r domain.FuelRecord) Input {
	return Input{
		VehicleType:     r.VehicleType,
		DistanceKm:      r.DistanceKm,
		LoadKg:          r.LoadKg,
		VehicleWeightKg: r.VehicleWeightKg,
		TrafficFactor:   r.TrafficFactor,
		StopsPerKm:      r.StopFrequency,
		RoadType:        r.RoadType,
	}
}

// Predictor prefers a trained model and silently falls back to Estimate
// when the model is absent, untrained or fails.
type Predictor struct {
	model Model
	log   *zap.Logger
}

func NewPredictor(model Model, log *zap.Logger) *Predictor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Predictor{model: model, log: log}
}

func (p *Predictor) Predict(in Input) float64 {
	if p != nil && p.model != nil && p.model.Trained() {
		v, err := p.model.Predict(in)
		if err == nil {
			obs.FuelPredictions.WithLabelValues("model").Inc()
			return v
		}
		p.log.Debug("fuel model prediction failed, using heuristic", zap.Error(err))
	}
	obs.FuelPredictions.WithLabelValues("heuristic").Inc()
	return Estimate(in)
}
