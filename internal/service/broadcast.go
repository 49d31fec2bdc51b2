package service

// Broadcaster sends real-time stage events to connected clients.
// Implemented by the WebSocket hub.
type Broadcaster interface {
	BroadcastStageEvent(runID string, eventType string, data any)
}

// NoopBroadcaster is a no-op implementation for testing or when WS is disabled.
type NoopBroadcaster struct{}

func (NoopBroadcaster) BroadcastStageEvent(string, string, any) {}

// Outbound event types.
const (
	EventUnitCaptured       = "unit_captured"
	EventUnitLost           = "unit_lost"
	EventUnitsRecruited     = "units_recruited"
	EventObjectiveUpdated   = "objective_updated"
	EventObjectiveCompleted = "objective_completed"
	EventObjectiveFailed    = "objective_failed"
	EventTurnAdvanced       = "turn_advanced"
	EventStageVictory       = "stage_victory"
	EventStageDefeat        = "stage_defeat"
	EventRewardsGranted     = "rewards_granted"
	EventPersistFailed      = "persist_failed"
)
