package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
)

// Component and overall statuses.
const (
	statusHealthy   = "healthy"
	statusDegraded  = "degraded"
	statusUnhealthy = "unhealthy"
)

func (s *Server) registerHealthRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "healthCheck",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns server health status with component checks",
		Tags:        []string{"Health"},
	}, s.handleHealthCheck)
}

// ComponentHealth describes the health of a single component.
type ComponentHealth struct {
	Status  string `json:"status" doc:"Component status: healthy, degraded, or unhealthy"`
	Latency string `json:"latency,omitempty" doc:"Response time for this component"`
	Message string `json:"message,omitempty" doc:"Additional status information"`
}

// HealthResponse contains health check data in API responses.
type HealthResponse struct {
	Status     string                     `json:"status" doc:"Overall status: healthy, degraded, or unhealthy"`
	Components map[string]ComponentHealth `json:"components" doc:"Individual component statuses"`
}

// HealthOutput wraps the health response for Huma.
type HealthOutput struct {
	Body HealthResponse
}

func (s *Server) handleHealthCheck(ctx context.Context, _ *struct{}) (*HealthOutput, error) {
	components := map[string]ComponentHealth{
		"database":   s.checkDatabase(ctx),
		"sse":        s.checkSSEManager(),
		"conversion": s.checkConversion(),
	}

	overall := statusHealthy
	for _, c := range components {
		switch c.Status {
		case statusUnhealthy:
			overall = statusUnhealthy
		case statusDegraded:
			if overall == statusHealthy {
				overall = statusDegraded
			}
		}
	}

	return &HealthOutput{
		Body: HealthResponse{
			Status:     overall,
			Components: components,
		},
	}, nil
}

func (s *Server) checkDatabase(ctx context.Context) ComponentHealth {
	if s.store == nil {
		return ComponentHealth{Status: statusDegraded, Message: "database not configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	start := time.Now()
	err := s.store.Ping(ctx)
	latency := time.Since(start)

	if err != nil {
		return ComponentHealth{
			Status:  statusUnhealthy,
			Latency: latency.String(),
			Message: "database unreachable",
		}
	}
	return ComponentHealth{Status: statusHealthy, Latency: latency.String()}
}

func (s *Server) checkSSEManager() ComponentHealth {
	if s.sseManager == nil {
		return ComponentHealth{Status: statusDegraded, Message: "SSE manager not configured"}
	}
	return ComponentHealth{
		Status:  statusHealthy,
		Message: formatSSEStatus(s.sseManager.ClientCount()),
	}
}

// checkConversion reports a disabled engine as degraded: the server works,
// but incompatible items cannot be converted.
func (s *Server) checkConversion() ComponentHealth {
	if s.conversions == nil || !s.conversions.IsEnabled() {
		return ComponentHealth{Status: statusDegraded, Message: "conversion disabled"}
	}

	status := s.conversions.Status()
	return ComponentHealth{
		Status:  statusHealthy,
		Message: fmt.Sprintf("%d active, %d pending", len(status.Active), len(status.PendingIDs)),
	}
}

func formatSSEStatus(count int) string {
	switch count {
	case 0:
		return "no connected clients"
	case 1:
		return "1 connected client"
	default:
		return fmt.Sprintf("%d connected clients", count)
	}
}
