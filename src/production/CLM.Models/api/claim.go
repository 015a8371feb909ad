package api_models

import (
	"time"

	clmmodels "gitlab.com/maplesense1/mpt.claim_agent/src/production/CLM.Models"
)

// ClaimCompletionPayload is the credential payload returned by both the
// seamless check-in poll and the manual claim-code grant. Both protocols
// share this shape and the validation behind it.
type ClaimCompletionPayload struct {
	DeviceID       string `json:"device_id"`
	DeviceName     string `json:"device_name"`
	TenantID       string `json:"tenant_id"`
	BrokerClientID string `json:"broker_client_id"`
	BrokerUsername string `json:"broker_username"`
	BrokerPassword string `json:"broker_password"`
	BrokerHost     string `json:"broker_host"`
	BrokerPort     uint16 `json:"broker_port"`
}

// Credential converts the wire payload into the persisted credential record
func (p ClaimCompletionPayload) Credential() clmmodels.Credential {
	return clmmodels.Credential{
		DeviceID:       p.DeviceID,
		DeviceName:     p.DeviceName,
		TenantID:       p.TenantID,
		BrokerClientID: p.BrokerClientID,
		BrokerUsername: p.BrokerUsername,
		BrokerPassword: p.BrokerPassword,
		BrokerHost:     p.BrokerHost,
		BrokerPort:     p.BrokerPort,
	}
}

// CheckInRequest is the seamless-protocol poll request
type CheckInRequest struct {
	DeviceID  string `json:"device_id"`
	SessionID string `json:"session_id"`
}

// CheckInResponse is the seamless-protocol poll response. Credential is
// nil while the device has not been claimed yet.
type CheckInResponse struct {
	Claimed    bool                    `json:"claimed"`
	Credential *ClaimCompletionPayload `json:"credential,omitempty"`
	Error      string                  `json:"error,omitempty"`
}

// ManualClaimRequest carries a human-entered claim code plus the device identity
type ManualClaimRequest struct {
	DeviceID  string `json:"device_id"`
	ClaimCode string `json:"claim_code"`
}

// ManualClaimResponse is the synchronous manual-protocol grant
type ManualClaimResponse struct {
	Success    bool                    `json:"success"`
	Credential *ClaimCompletionPayload `json:"credential,omitempty"`
	Error      string                  `json:"error,omitempty"`
}

// NotifyClaimingRequest announces an opened claiming window (fire and forget)
type NotifyClaimingRequest struct {
	DeviceID  string    `json:"device_id"`
	SessionID string    `json:"session_id"`
	StartedAt time.Time `json:"started_at"`
}

// UnclaimNotice informs the cloud that the device cleared its credential
// locally (best effort; failure does not roll back the clear)
type UnclaimNotice struct {
	DeviceID string `json:"device_id"`
	TenantID string `json:"tenant_id"`
	Source   string `json:"source"`
	Actor    string `json:"actor,omitempty"`
}
