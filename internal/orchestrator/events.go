package orchestrator

// Event types published to the EventSink.
const (
	EventSessionStarted      = "session_started"
	EventSpeakerActive       = "speaker_active"
	EventSpeakerCleared      = "speaker_cleared"
	EventTurnCommitted       = "turn_committed"
	EventGenerationFailed    = "generation_failed"
	EventChainDecision       = "chain_decision"
	EventPhaseChanged        = "phase_changed"
	EventKeyPointAdvanced    = "key_point_advanced"
	EventSummaryFlow         = "summary_flow"
	EventInterruption        = "interruption"
	EventInterruptionCleared = "interruption_cleared"
	EventMicrophone          = "microphone_activated"
	EventRoundLimit          = "round_limit_reached"
	EventFrozen              = "session_frozen"
	EventEnded               = "session_ended"
)
