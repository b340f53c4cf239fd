package api

import "time"

// EventType identifies a run history event.
type EventType string

const (
	EventPipelineStarted   EventType = "pipeline.started"
	EventPipelineCompleted EventType = "pipeline.completed"
	EventPipelineFailed    EventType = "pipeline.failed"

	EventStepStarted    EventType = "step.started"
	EventStepCompleted  EventType = "step.completed"
	EventStepFailed     EventType = "step.failed"
	EventStepRetried    EventType = "step.retried"
	EventStepRolledBack EventType = "step.rolled_back"
	EventRollbackFailed EventType = "rollback.failed"
	EventCleanupFailed  EventType = "cleanup.failed"
)

// RunEvent is a minimal append-only history record for audit/debugging.
// Keep Detail low-volume: do NOT dump context values here.
type RunEvent struct {
	RunID    string
	At       time.Time
	Type     EventType
	Pipeline string
	Step     string
	Detail   string
}
