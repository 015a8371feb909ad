package clmmodels

import "time"

// Transition identifies a lifecycle transition recorded in the audit trail
type Transition string

const (
	TransitionWindowOpened   Transition = "window_opened"
	TransitionWindowTimeout  Transition = "window_timeout"
	TransitionClaimCompleted Transition = "claim_completed"
	TransitionUnclaimed      Transition = "unclaimed"
	TransitionRevoked        Transition = "revoked"
	TransitionRevokeRejected Transition = "revoke_rejected"
)

// Source identifies who or what caused a lifecycle transition
type Source string

const (
	SourceButtonLocal    Source = "button_local"
	SourceCloudRevoke    Source = "cloud_revoke"
	SourceAdminDashboard Source = "admin_dashboard"
	SourceFactoryReset   Source = "factory_reset"
)

// AuditEntry is one append-only record of a lifecycle transition
type AuditEntry struct {
	Timestamp  time.Time  `json:"timestamp"`
	Transition Transition `json:"transition"`
	Source     Source     `json:"source"`
	Actor      string     `json:"actor,omitempty"`
}
