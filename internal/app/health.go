// Package app provides application use cases.
package app

import "context"

// HealthUsecase defines the health check use case.
type HealthUsecase interface {
	Handle(ctx context.Context) (HealthResult, error)
}

// HealthResult represents the health check response.
type HealthResult struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Storage  string `json:"storage"`
	Sessions int    `json:"sessions"`
}

// HealthService implements HealthUsecase.
type HealthService struct {
	Version  string
	Storage  string
	Sessions interface{ Count() int }
}

// Handle returns the current health status.
func (s HealthService) Handle(ctx context.Context) (HealthResult, error) {
	res := HealthResult{
		Status:  "ok",
		Version: s.Version,
		Storage: s.Storage,
	}
	if s.Sessions != nil {
		res.Sessions = s.Sessions.Count()
	}
	return res, nil
}
