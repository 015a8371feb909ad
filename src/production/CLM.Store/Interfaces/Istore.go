package interfaces

import (
	clmmodels "gitlab.com/maplesense1/mpt.claim_agent/src/production/CLM.Models"
)

// KeyValueStore is the persistence primitive consumed by the credential
// store: atomic per-key get/set/delete that survives power loss.
type KeyValueStore interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	Delete(key string) error
}

// CredentialStore owns the device credential record. No other component
// caches the record across calls; every read goes through Load so that
// the button-input path and the network-input path never observe stale
// state relative to each other.
type CredentialStore interface {
	// Load returns the credential and whether the device is claimed.
	// A record that is present but incomplete reads as unclaimed.
	Load() (clmmodels.Credential, bool, error)

	// Commit atomically replaces the entire record; the claimed marker
	// is the last key written.
	Commit(cred clmmodels.Credential) error

	// Clear atomically removes the record; the claimed marker is the
	// first key removed.
	Clear() error
}
