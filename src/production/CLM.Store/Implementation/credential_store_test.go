package implementation

import (
	"fmt"
	"path/filepath"
	"testing"

	bolt "go.etcd.io/bbolt"
	clmmodels "gitlab.com/maplesense1/mpt.claim_agent/src/production/CLM.Models"
)

func testCredential() clmmodels.Credential {
	return clmmodels.Credential{
		DeviceID:       "d1",
		DeviceName:     "Kitchen",
		TenantID:       "t1",
		BrokerClientID: "AA11",
		BrokerUsername: "AA11",
		BrokerPassword: "p",
		BrokerHost:     "10.0.0.5",
		BrokerPort:     1883,
	}
}

func openTestStore(t *testing.T) *KVCredentialStore {
	t.Helper()
	db, err := bolt.Open(filepath.Join(t.TempDir(), "agent.db"), 0o600, nil)
	if err != nil {
		t.Fatalf("failed to open bolt db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	kv, err := NewBoltKeyValueStore(db)
	if err != nil {
		t.Fatalf("failed to create kv store: %v", err)
	}
	return NewKVCredentialStore(kv)
}

func TestCommitThenLoad(t *testing.T) {
	store := openTestStore(t)

	if _, claimed, err := store.Load(); err != nil || claimed {
		t.Fatalf("fresh store: claimed=%v err=%v, want unclaimed", claimed, err)
	}

	want := testCredential()
	if err := store.Commit(want); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	got, claimed, err := store.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !claimed {
		t.Fatal("store reads unclaimed after commit")
	}
	if got != want {
		t.Errorf("loaded credential = %+v, want %+v", got, want)
	}
}

func TestClearRemovesRecord(t *testing.T) {
	store := openTestStore(t)
	if err := store.Commit(testCredential()); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if _, claimed, err := store.Load(); err != nil || claimed {
		t.Fatalf("after clear: claimed=%v err=%v, want unclaimed", claimed, err)
	}
}

func TestCommitRejectsIncompleteCredential(t *testing.T) {
	store := openTestStore(t)
	cred := testCredential()
	cred.BrokerPassword = ""
	if err := store.Commit(cred); err == nil {
		t.Fatal("commit accepted a credential with an empty field")
	}
	if _, claimed, _ := store.Load(); claimed {
		t.Fatal("rejected commit still left the store claimed")
	}
}

// faultKV fails every write after the first n, simulating power loss
// partway through a staged commit.
type faultKV struct {
	data         map[string][]byte
	writesBefore int
	writes       int
}

func newFaultKV(writesBefore int) *faultKV {
	return &faultKV{data: make(map[string][]byte), writesBefore: writesBefore}
}

func (f *faultKV) Get(key string) ([]byte, bool, error) {
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *faultKV) Set(key string, value []byte) error {
	if f.writes >= f.writesBefore {
		return fmt.Errorf("simulated power loss")
	}
	f.writes++
	f.data[key] = value
	return nil
}

func (f *faultKV) Delete(key string) error {
	if f.writes >= f.writesBefore {
		return fmt.Errorf("simulated power loss")
	}
	f.writes++
	delete(f.data, key)
	return nil
}

func TestInterruptedCommitReadsUnclaimed(t *testing.T) {
	// A commit takes two writes: record body, then claimed marker.
	// Interrupt after each prefix of that sequence.
	for writesBefore := 0; writesBefore < 2; writesBefore++ {
		kv := newFaultKV(writesBefore)
		store := NewKVCredentialStore(kv)

		if err := store.Commit(testCredential()); err == nil {
			t.Fatalf("writesBefore=%d: commit succeeded despite write failure", writesBefore)
		}

		_, claimed, err := store.Load()
		if err != nil {
			t.Fatalf("writesBefore=%d: load failed: %v", writesBefore, err)
		}
		if claimed {
			t.Errorf("writesBefore=%d: interrupted commit readable as claimed", writesBefore)
		}
	}
}

func TestInterruptedClearReadsUnclaimed(t *testing.T) {
	// A clear takes two deletes: claimed marker first, then record body.
	// Once the marker is gone the device must read unclaimed even if the
	// orphaned body survives.
	kv := newFaultKV(2)
	store := NewKVCredentialStore(kv)
	if err := store.Commit(testCredential()); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	kv.writesBefore = kv.writes + 1 // allow the marker delete, fail the body delete
	if err := store.Clear(); err == nil {
		t.Fatal("clear succeeded despite write failure")
	}

	_, claimed, err := store.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if claimed {
		t.Error("interrupted clear readable as claimed")
	}
}

func TestTornRecordBodyReadsUnclaimed(t *testing.T) {
	kv := newFaultKV(100)
	store := NewKVCredentialStore(kv)
	if err := store.Commit(testCredential()); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	// Corrupt the staged body behind the store's back.
	kv.data["credential.record"] = []byte(`{"device_id":"d1"`)

	_, claimed, err := store.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if claimed {
		t.Error("torn record body readable as claimed")
	}
}
