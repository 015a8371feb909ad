package implementation

import (
	"encoding/json"
	"fmt"

	clmmodels "gitlab.com/maplesense1/mpt.claim_agent/src/production/CLM.Models"
	interfaces "gitlab.com/maplesense1/mpt.claim_agent/src/production/CLM.Store/Interfaces"
)

const (
	credentialRecordKey  = "credential.record"
	credentialClaimedKey = "credential.claimed"
)

// KVCredentialStore persists the credential record over the key/value
// primitive with a staged commit: the record body is written first and
// the claimed marker last. A power loss between the two writes reads
// back as unclaimed, never as a claimed record with missing fields.
type KVCredentialStore struct {
	kv interfaces.KeyValueStore
}

// NewKVCredentialStore creates a credential store over the given backend
func NewKVCredentialStore(kv interfaces.KeyValueStore) *KVCredentialStore {
	return &KVCredentialStore{kv: kv}
}

// Load reads the current credential. The record is claimed only if the
// claimed marker is present and the record body parses and validates;
// anything else reads as unclaimed.
func (s *KVCredentialStore) Load() (clmmodels.Credential, bool, error) {
	_, claimed, err := s.kv.Get(credentialClaimedKey)
	if err != nil {
		return clmmodels.Credential{}, false, err
	}
	if !claimed {
		return clmmodels.Credential{}, false, nil
	}

	raw, found, err := s.kv.Get(credentialRecordKey)
	if err != nil {
		return clmmodels.Credential{}, false, err
	}
	if !found {
		// Marker without a body: interrupted clear. Treat as unclaimed.
		return clmmodels.Credential{}, false, nil
	}

	var cred clmmodels.Credential
	if err := json.Unmarshal(raw, &cred); err != nil {
		return clmmodels.Credential{}, false, nil
	}
	if err := cred.Validate(); err != nil {
		return clmmodels.Credential{}, false, nil
	}
	return cred, true, nil
}

// Commit stages the record body, then flips the claimed marker. The
// marker write is the commit point.
func (s *KVCredentialStore) Commit(cred clmmodels.Credential) error {
	if err := cred.Validate(); err != nil {
		return fmt.Errorf("refusing to commit incomplete credential: %w", err)
	}

	raw, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("failed to encode credential: %w", err)
	}
	if err := s.kv.Set(credentialRecordKey, raw); err != nil {
		return fmt.Errorf("failed to stage credential record: %w", err)
	}
	if err := s.kv.Set(credentialClaimedKey, []byte{1}); err != nil {
		return fmt.Errorf("failed to commit credential record: %w", err)
	}
	return nil
}

// Clear removes the claimed marker first, then the record body. An
// interruption between the two leaves an orphaned body that Load ignores.
func (s *KVCredentialStore) Clear() error {
	if err := s.kv.Delete(credentialClaimedKey); err != nil {
		return fmt.Errorf("failed to remove claimed marker: %w", err)
	}
	if err := s.kv.Delete(credentialRecordKey); err != nil {
		return fmt.Errorf("failed to remove credential record: %w", err)
	}
	return nil
}
