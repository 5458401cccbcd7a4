package models

// SessionStatus represents the lifecycle state of a crawl session
type SessionStatus string

const (
	SessionStatusUnset     SessionStatus = ""          // Zero value = unset/unknown
	SessionStatusPending   SessionStatus = "pending"   // Session created, controller not started
	SessionStatusRunning   SessionStatus = "running"   // Controller loop active
	SessionStatusCompleted SessionStatus = "completed" // Frontier drained or budget hit, with progress
	SessionStatusFailed    SessionStatus = "failed"    // No seed reachable, zero progress
	SessionStatusStopped   SessionStatus = "stopped"   // Operator-requested cancellation
)

// String implements fmt.Stringer for logging
func (s SessionStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a known operational value
func (s SessionStatus) IsValid() bool {
	switch s {
	case SessionStatusPending, SessionStatusRunning, SessionStatusCompleted,
		SessionStatusFailed, SessionStatusStopped:
		return true
	}
	return false
}

// IsTerminal reports whether the session can no longer change state
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionStatusCompleted, SessionStatusFailed, SessionStatusStopped:
		return true
	}
	return false
}

// DocumentStatus represents the review state of a downloaded document
type DocumentStatus string

const (
	DocumentStatusUnset     DocumentStatus = ""          // Zero value = unset/unknown
	DocumentStatusPending   DocumentStatus = "pending"   // Below confidence threshold, needs review
	DocumentStatusValidated DocumentStatus = "validated" // At or above confidence threshold, or approved
	DocumentStatusRejected  DocumentStatus = "rejected"  // Reviewer rejected the document
)

// String implements fmt.Stringer for logging
func (s DocumentStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a known operational value
func (s DocumentStatus) IsValid() bool {
	switch s {
	case DocumentStatusPending, DocumentStatusValidated, DocumentStatusRejected:
		return true
	}
	return false
}

// Phase is the coarse human-readable stage of a crawl, derived from status
// and progress for display.
type Phase string

const (
	PhaseQueued      Phase = "Queued"
	PhaseScanning    Phase = "Scanning"
	PhaseDownloading Phase = "Downloading"
	PhaseComplete    Phase = "Complete"
	PhaseFailed      Phase = "Failed"
	PhaseStopped     Phase = "Stopped"
)

// LogLevel is the severity of a session log entry
type LogLevel string

const (
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// IsValid returns true if the level is a known value
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	}
	return false
}
