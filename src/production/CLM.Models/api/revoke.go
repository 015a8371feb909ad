package api_models

import "time"

// RevokeAction is the only action accepted on the device claim topic
const RevokeAction = "revoke"

// RevokeMessage is the out-of-band revoke instruction delivered over the
// message bus. A revoke message alone never clears a credential; the
// token must be verified over the independent HTTP channel first.
type RevokeMessage struct {
	Action    string    `json:"action"`
	Token     string    `json:"token"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
}

// VerifyRevocationRequest is the device-initiated token verification callback
type VerifyRevocationRequest struct {
	DeviceID string `json:"device_id"`
	Token    string `json:"token"`
}

// VerifyRevocationResponse is authoritative only when Valid is explicitly
// true; any other outcome leaves the device claimed.
type VerifyRevocationResponse struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}
