package api

import (
	"fleet-routing-service/internal/api/handlers"
	"fleet-routing-service/internal/ports"
	"fleet-routing-service/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Deps are the services the HTTP surface is built on. Optional checks feed /health.
type Deps struct {
	Optimizer *services.Optimizer
	Incidents *services.IncidentManager
	Drivers   *services.DriverService
	Fuel      *services.FuelTracker
	Stops     ports.StopRepository
	Checks    map[string]handlers.Pinger
	Log       *zap.Logger
}

// NewRouter wires HTTP handlers with their dependencies.
// This is the API composition root (handlers stay unaware of concrete adapters).
func NewRouter(d Deps) *gin.Engine {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}

	r := gin.New()
	r.Use(requestID(), accessLog(log), recovery(log))

	health := &handlers.HealthHandler{Checks: d.Checks}
	routes := &handlers.RouteHandler{Optimizer: d.Optimizer, Stops: d.Stops, Log: log}
	incidents := &handlers.IncidentHandler{Incidents: d.Incidents, Log: log}
	drivers := &handlers.DriverHandler{Drivers: d.Drivers, Log: log}
	fuel := &handlers.FuelHandler{Tracker: d.Fuel, Log: log}

	r.GET("/health", health.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/stops", routes.ListStops)
	r.POST("/routes/optimize", routes.Optimize)
	r.GET("/routes/:id", routes.Get)
	r.POST("/routes/:id/assign", routes.Assign)

	r.POST("/incidents", incidents.Report)
	r.GET("/incidents/:id", incidents.Get)
	r.POST("/incidents/:id/cancel", incidents.Cancel)
	r.POST("/incidents/:id/resolve", incidents.Resolve)
	r.POST("/incidents/:id/substitutes", incidents.Substitutes)
	r.POST("/transfers/:id/accept", incidents.AcceptTransfer)
	r.POST("/transfers/:id/assign", incidents.AssignTransfer)
	r.GET("/drivers/:id/transfers", incidents.DriverTransfers)

	r.POST("/drivers/:id/heartbeat", drivers.Heartbeat)
	r.GET("/driver-routes/:id", drivers.GetRoute)
	r.PUT("/driver-routes/:id/status", drivers.UpdateRouteStatus)
	r.PUT("/driver-stops/:id/status", drivers.UpdateStopStatus)

	r.POST("/fuel/records", fuel.Record)
	r.GET("/fuel/accuracy", fuel.Accuracy)

	return r
}
