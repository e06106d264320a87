package dto

import (
	"fmt"
	"time"

	"fleet-routing-service/internal/domain"
	"fleet-routing-service/internal/services"
)

type OptimizeRequest struct {
	Name  string        `json:"name"`
	Depot domain.Stop   `json:"depot"`
	Stops []domain.Stop `json:"stops"`
	// StopIDs selects stored stops in addition to the inline ones.
	StopIDs      []string                `json:"stop_ids"`
	VehicleCount int                     `json:"vehicle_count"`
	Vehicles     []domain.VehicleProfile `json:"vehicles"`
	VehicleIDs   []string                `json:"vehicle_ids"`
	Objective    string                  `json:"objective"`
	Clusters     [][]int                 `json:"clusters"`
	// Pointers so an omitted flag defaults to true.
	UseClustering  *bool      `json:"use_clustering"`
	UseTimeWindows *bool      `json:"use_time_windows"`
	TrafficAware   bool       `json:"traffic_aware"`
	DepartAt       *time.Time `json:"depart_at"`
	Save           bool       `json:"save"`
}

// ToService converts the request; stored holds the stops matched by StopIDs.
func (r OptimizeRequest) ToService(stored []domain.Stop) (services.OptimizeRequest, error) {
	objective, err := domain.ParseObjective(r.Objective)
	if err != nil {
		return services.OptimizeRequest{}, err
	}

	byID := make(map[string]domain.Stop, len(stored))
	for _, s := range stored {
		byID[s.ID] = s
	}
	stops := append([]domain.Stop(nil), r.Stops...)
	for _, id := range r.StopIDs {
		s, ok := byID[id]
		if !ok {
			return services.OptimizeRequest{}, fmt.Errorf("stop %q: %w", id, domain.ErrNotFound)
		}
		stops = append(stops, s)
	}

	out := services.OptimizeRequest{
		Name:           r.Name,
		Depot:          r.Depot,
		Stops:          stops,
		VehicleCount:   r.VehicleCount,
		Vehicles:       r.Vehicles,
		VehicleIDs:     r.VehicleIDs,
		Objective:      objective,
		Clusters:       r.Clusters,
		UseClustering:  r.UseClustering == nil || *r.UseClustering,
		UseTimeWindows: r.UseTimeWindows == nil || *r.UseTimeWindows,
		TrafficAware:   r.TrafficAware,
		Save:           r.Save,
	}
	if r.DepartAt != nil {
		out.DepartAt = *r.DepartAt
	}
	return out, nil
}

type AssignRouteRequest struct {
	DriverID  string `json:"driver_id" binding:"required"`
	VehicleID string `json:"vehicle_id"`
}

type ListStopsResponse struct {
	Stops []domain.Stop `json:"stops"`
}
