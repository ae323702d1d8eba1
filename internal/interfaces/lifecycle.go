package interfaces

import (
	"context"
	"time"

	"github.com/KevinKickass/BragerSync/internal/pipeline"
	"github.com/KevinKickass/BragerSync/internal/service"
	"github.com/KevinKickass/BragerSync/internal/session"
)

// SystemStatus represents the current process state
type SystemStatus struct {
	State     string        `json:"state"`
	Session   string        `json:"session"`
	Profile   string        `json:"profile"`
	Version   string        `json:"version"`
	StartedAt time.Time     `json:"started_at"`
	Uptime    time.Duration `json:"uptime_ns"`
}

// SyncService is what the outer surfaces (REST, MQTT) need from the
// parameter service.
type SyncService interface {
	Write(ctx context.Context, symbol string, value any) (*pipeline.Result, error)
	Parameters() []service.ParameterView
	Parameter(symbol string) (service.ParameterView, bool)
	SessionStatus() session.Status
	Diagnostics() service.Diagnostics
}

type LifecycleManager interface {
	Service() SyncService
	GetCurrentStatus() SystemStatus
	Shutdown(ctx context.Context) error
}
