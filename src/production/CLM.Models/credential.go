package clmmodels

import "fmt"

// Credential is the persisted broker credential record. Either every
// field is populated, or the record is absent entirely; no partially
// populated record may be observable after a commit.
type Credential struct {
	DeviceID       string `json:"device_id"`
	DeviceName     string `json:"device_name"`
	TenantID       string `json:"tenant_id"`
	BrokerClientID string `json:"broker_client_id"`
	BrokerUsername string `json:"broker_username"`
	BrokerPassword string `json:"broker_password"`
	BrokerHost     string `json:"broker_host"`
	BrokerPort     uint16 `json:"broker_port"`
}

// Validate reports whether the credential is complete. This is the single
// validation path for both claim protocols; a credential that fails here
// must never be committed.
func (c Credential) Validate() error {
	for _, field := range []struct {
		name  string
		value string
	}{
		{"device_id", c.DeviceID},
		{"device_name", c.DeviceName},
		{"tenant_id", c.TenantID},
		{"broker_client_id", c.BrokerClientID},
		{"broker_username", c.BrokerUsername},
		{"broker_password", c.BrokerPassword},
		{"broker_host", c.BrokerHost},
	} {
		if field.value == "" {
			return fmt.Errorf("credential field %s is empty", field.name)
		}
	}
	if c.BrokerPort == 0 {
		return fmt.Errorf("credential field broker_port is out of range")
	}
	return nil
}

// BrokerURL returns the broker address in paho URL form
func (c Credential) BrokerURL(useTLS bool) string {
	scheme := "tcp"
	if useTLS {
		scheme = "tcps"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.BrokerHost, c.BrokerPort)
}
