// Package messaging provides health check utilities for message broker connections.
package messaging

import (
	"context"
	"fmt"
	"time"
)

// HealthChecker can check the health of a messaging connection.
type HealthChecker interface {
	// CheckHealth returns nil if the connection is healthy, error otherwise.
	CheckHealth(ctx context.Context) error
}

// RTTer is implemented by clients that can measure round-trip time to the server.
type RTTer interface {
	RTT() (time.Duration, error)
}

// HealthStatus represents the health state of a messaging connection.
type HealthStatus struct {
	// Connected indicates if the client is connected.
	Connected bool `json:"connected"`

	// Latency is the round-trip time for a health ping.
	Latency time.Duration `json:"latency_ms"`

	// Error contains any error message if unhealthy.
	Error string `json:"error,omitempty"`
}

// Healthy reports whether the status describes a usable connection.
func (s HealthStatus) Healthy() bool {
	return s.Connected && s.Error == ""
}

// CheckClientHealth checks if a Client is healthy by verifying connection
// and, when supported, measuring server round-trip time.
func CheckClientHealth(ctx context.Context, client Client) HealthStatus {
	status := HealthStatus{}

	if client == nil {
		status.Error = "client is nil"
		return status
	}

	status.Connected = client.IsConnected()
	if !status.Connected {
		status.Error = "not connected to message broker"
		return status
	}

	if err := ctx.Err(); err != nil {
		status.Error = fmt.Sprintf("health check cancelled: %v", err)
		return status
	}

	if r, ok := client.(RTTer); ok {
		rtt, err := r.RTT()
		if err != nil {
			status.Error = fmt.Sprintf("health check failed: %v", err)
			return status
		}
		status.Latency = rtt
	}

	return status
}
