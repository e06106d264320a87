package domain

import (
	"fmt"
	"strings"
)

type VehicleType string

const (
	VehicleCar       VehicleType = "car"
	VehicleVan       VehicleType = "van"
	VehicleTruck     VehicleType = "truck"
	VehicleMotorbike VehicleType = "motorbike"
)

// DefaultStopCapacity is the number of demand units a vehicle carries when
// its profile does not say otherwise.
const DefaultStopCapacity = 100

// TypeSpec holds the per-type defaults used to fill in vehicle profiles.
type TypeSpec struct {
	CruiseSpeedKmh      float64 `yaml:"cruise_speed_kmh" json:"cruise_speed_kmh"`
	BaseFuelPer100Km    float64 `yaml:"base_fuel_per_100km" json:"base_fuel_per_100km"`
	WeightKg            float64 `yaml:"weight_kg" json:"weight_kg"`
	MaxLoadKg           float64 `yaml:"max_load_kg" json:"max_load_kg"`
	VolumeM3            float64 `yaml:"volume_m3" json:"volume_m3"`
	FuelType            string  `yaml:"fuel_type" json:"fuel_type"`
	EfficiencyRatingPct float64 `yaml:"efficiency_rating" json:"efficiency_rating"`
}

// TypeSpecs is the fleet registry of per-type defaults. Overridable from config.
type TypeSpecs map[VehicleType]TypeSpec

// DefaultTypeSpecs returns a fresh copy of the built-in defaults.
func DefaultTypeSpecs() TypeSpecs {
	return TypeSpecs{
		VehicleCar:       {CruiseSpeedKmh: 45, BaseFuelPer100Km: 7.0, WeightKg: 1500, MaxLoadKg: 400, VolumeM3: 2, FuelType: "petrol", EfficiencyRatingPct: 85},
		VehicleVan:       {CruiseSpeedKmh: 40, BaseFuelPer100Km: 10.0, WeightKg: 2500, MaxLoadKg: 1200, VolumeM3: 8, FuelType: "diesel", EfficiencyRatingPct: 75},
		VehicleTruck:     {CruiseSpeedKmh: 35, BaseFuelPer100Km: 20.0, WeightKg: 7500, MaxLoadKg: 5000, VolumeM3: 30, FuelType: "diesel", EfficiencyRatingPct: 60},
		VehicleMotorbike: {CruiseSpeedKmh: 40, BaseFuelPer100Km: 4.0, WeightKg: 200, MaxLoadKg: 50, VolumeM3: 0.2, FuelType: "petrol", EfficiencyRatingPct: 90},
	}
}

// Spec returns the defaults for t, falling back to the van defaults for unknown types.
func (s TypeSpecs) Spec(t VehicleType) TypeSpec {
	if spec, ok := s[t]; ok {
		return spec
	}
	if spec, ok := s[VehicleVan]; ok {
		return spec
	}
	return DefaultTypeSpecs()[VehicleVan]
}

func ParseVehicleType(s string) (VehicleType, error) {
	t := VehicleType(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case VehicleCar, VehicleVan, VehicleTruck, VehicleMotorbike:
		return t, nil
	case "":
		return VehicleVan, nil
	}
	return "", fmt.Errorf("%w: unknown vehicle type %q", ErrInvalidInput, s)
}

// VehicleProfile is read-only during optimization.
type VehicleProfile struct {
	ID                  string      `json:"id"`
	Type                VehicleType `json:"type"`
	Capacity            float64     `json:"capacity"`
	MaxWeight           float64     `json:"max_weight"`
	BaseFuelConsumption float64     `json:"base_fuel_consumption"`
	CruiseSpeed         float64     `json:"cruise_speed"`
	LoadKg              float64     `json:"load_kg,omitempty"`
	WeightKg            float64     `json:"weight_kg,omitempty"`
	FuelType            string      `json:"fuel_type,omitempty"`
	MaxDistanceKm       float64     `json:"max_distance_km,omitempty"`
}

// WithDefaults fills every zero field from the registry entry for the profile's type.
func (p VehicleProfile) WithDefaults(specs TypeSpecs) VehicleProfile {
	if p.Type == "" {
		p.Type = VehicleVan
	}
	spec := specs.Spec(p.Type)
	if p.Capacity <= 0 {
		p.Capacity = DefaultStopCapacity
	}
	if p.MaxWeight <= 0 {
		p.MaxWeight = spec.MaxLoadKg
	}
	if p.BaseFuelConsumption <= 0 {
		p.BaseFuelConsumption = spec.BaseFuelPer100Km
	}
	if p.CruiseSpeed <= 0 {
		p.CruiseSpeed = spec.CruiseSpeedKmh
	}
	if p.WeightKg <= 0 {
		p.WeightKg = spec.WeightKg
	}
	if p.FuelType == "" {
		p.FuelType = spec.FuelType
	}
	return p
}

// StopCapacity is the integral capacity used by the solver.
func (p VehicleProfile) StopCapacity() int {
	if p.Capacity <= 0 {
		return DefaultStopCapacity
	}
	return int(p.Capacity)
}

// CO2 emitted per litre burnt, kg.
var co2PerLiter = map[string]float64{
	"diesel":   2.68,
	"petrol":   2.31,
	"gasoline": 2.31,
	"lpg":      1.51,
	"cng":      1.63,
}

// EmissionsKg converts litres of fuel into kg of CO2. Unknown fuels use the diesel factor.
func EmissionsKg(fuelType string, liters float64) float64 {
	f, ok := co2PerLiter[strings.ToLower(fuelType)]
	if !ok {
		f = co2PerLiter["diesel"]
	}
	return liters * f
}
