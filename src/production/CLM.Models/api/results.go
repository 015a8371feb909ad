package api_models

// Rejection reason codes surfaced to whichever collaborator initiated the
// call (local UI, feedback cues, or HTTP response body). Guard rejections
// are distinct from I/O errors: they come back synchronously with one of
// these strings.
const (
	ReasonAlreadyClaimed   = "device already claimed"
	ReasonNotClaimed       = "device is not claimed"
	ReasonWindowClosed     = "claiming window is not open"
	ReasonWindowExpired    = "claiming window expired"
	ReasonMalformedPayload = "claim payload malformed or incomplete"
	ReasonTokenInvalid     = "revocation token invalid or expired"
	ReasonStorageFailure   = "credential storage failure"
	ReasonCodeRejected     = "claim code rejected"
)

// OpenWindowResult is the outcome of a request to open the claiming window
type OpenWindowResult struct {
	Opened    bool   `json:"opened"`
	SessionID string `json:"session_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// SubmitResult is the outcome of submitting a claim credential or code
type SubmitResult struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// UnclaimResult is the outcome of a local unclaim request
type UnclaimResult struct {
	Cleared bool   `json:"cleared"`
	Reason  string `json:"reason,omitempty"`
}

// ClaimStatus is the read-only snapshot for the local management interface
type ClaimStatus struct {
	Claimed        bool   `json:"claimed"`
	DeviceID       string `json:"device_id,omitempty"`
	TenantID       string `json:"tenant_id,omitempty"`
	BrokerClientID string `json:"broker_client_id,omitempty"`
}
