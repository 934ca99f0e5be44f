// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldGuildID   = "guild_id"
	FieldNodeID    = "node_id"
	FieldSessionID = "session_id"
	FieldRequestID = "request_id"
	FieldChannelID = "channel_id"
	FieldUserID    = "user_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldOp        = "op"
	FieldEventType = "event_type"
	FieldReason    = "reason"
	FieldAttempt   = "attempt"

	// Playback fields
	FieldTrack    = "track"
	FieldPosition = "position_ms"
	FieldVolume   = "volume"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Request fields
	FieldPath       = "path"
	FieldMethod     = "method"
	FieldStatus     = "status"
	FieldDurationMS = "duration_ms"
	FieldBackend    = "backend"
)
