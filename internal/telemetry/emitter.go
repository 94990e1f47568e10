// Package telemetry publishes lifecycle events to the observability pipeline.
package telemetry

import (
	"context"

	"auth-lifecycle/internal/telemetry/domain"
)

// EventEmitter emits lifecycle events (e.g. to OTel Logs or Kafka). Best-effort;
// callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *domain.LifecycleEvent) error
}
