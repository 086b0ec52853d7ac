// Package server wires the read-only diagnostic HTTP surface. It never
// exposes writes; all mutation flows through the sync loop.
package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/nicktill/tagcache/pkg/mirror"
	"github.com/nicktill/tagcache/pkg/server/httpx"
	"github.com/nicktill/tagcache/pkg/server/monitor"
)

var startTime = time.Now()

// StorageUsage represents the local database's on-disk footprint.
type StorageUsage struct {
	UsedBytes int64 `json:"used_bytes"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status string              `json:"status"`
	Uptime string              `json:"uptime"`
	Sync   monitor.CycleStatus `json:"sync"`
}

// handleHealth returns service health status. Health follows the sync loop:
// a service that stores stale data is degraded even though HTTP is up.
func handleHealth(cycleMonitor *monitor.CycleMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		overallStatus := "healthy"
		statusCode := http.StatusOK
		if !cycleMonitor.IsHealthy() {
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		response := HealthResponse{
			Status: overallStatus,
			Uptime: time.Since(startTime).String(),
			Sync:   cycleMonitor.Status(),
		}
		httpx.RespondJSON(w, statusCode, response)
	}
}

// handleStatus returns the sync service's status snapshot.
func handleStatus(svc *mirror.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := svc.Status(r.Context())
		if err != nil {
			httpx.RespondError(w, http.StatusInternalServerError, err)
			return
		}
		httpx.RespondJSON(w, http.StatusOK, status)
	}
}

// handleStorageUsage returns current database size.
func handleStorageUsage(storageMonitor *monitor.StorageMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		usedBytes, err := storageMonitor.GetUsage()
		if err != nil {
			httpx.RespondError(w, http.StatusInternalServerError, err)
			return
		}
		httpx.RespondJSON(w, http.StatusOK, StorageUsage{UsedBytes: usedBytes})
	}
}

// SetupRoutes configures all HTTP routes for the server.
func SetupRoutes(
	router *mux.Router,
	svc *mirror.Service,
	cycleMonitor *monitor.CycleMonitor,
	storageMonitor *monitor.StorageMonitor,
) {
	router.HandleFunc("/health", handleHealth(cycleMonitor)).Methods("GET")

	api := router.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/status", handleStatus(svc)).Methods("GET")
	api.HandleFunc("/storage", handleStorageUsage(storageMonitor)).Methods("GET")
}
