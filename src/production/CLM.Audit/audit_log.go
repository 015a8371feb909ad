package audit

import (
	"encoding/binary"
	"encoding/json"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
	clmmodels "gitlab.com/maplesense1/mpt.claim_agent/src/production/CLM.Models"
	logger "gitlab.com/maplesense1/mpt.claim_agent/src/production/CLM.Logger"
)

var auditBucket = []byte("audit")

// maxRetainedEntries bounds local flash use; oldest entries are pruned
const maxRetainedEntries = 512

// Forwarder ships audit entries off-device, best effort. The message-bus
// listener implements it; forwarding failure never affects the caller.
type Forwarder interface {
	ForwardAudit(entry clmmodels.AuditEntry) error
}

// Log is the append-only record of lifecycle transitions. Record never
// fails the caller: local retention and forwarding are both best effort,
// and a forwarding failure does not roll back the transition that
// already occurred.
type Log struct {
	db     *bolt.DB
	logger *logger.Logger

	mu        sync.Mutex
	forwarder Forwarder
}

// NewLog creates the audit log and ensures its bucket exists
func NewLog(db *bolt.DB, log *logger.Logger) (*Log, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(auditBucket)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &Log{db: db, logger: log.WithComponent("audit")}, nil
}

// SetForwarder installs the off-device forwarder. Safe to call after
// entries have already been recorded; those stay local.
func (l *Log) SetForwarder(f Forwarder) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.forwarder = f
}

// Record appends a lifecycle transition. It never returns an error.
func (l *Log) Record(transition clmmodels.Transition, source clmmodels.Source, actor string) {
	entry := clmmodels.AuditEntry{
		Timestamp:  time.Now().UTC(),
		Transition: transition,
		Source:     source,
		Actor:      actor,
	}

	l.logger.Logger.Info().
		Str("transition", string(transition)).
		Str("source", string(source)).
		Str("actor", actor).
		Msg("Lifecycle transition")

	if err := l.append(entry); err != nil {
		l.logger.ErrorWithError(err, "Failed to retain audit entry locally")
	}

	l.mu.Lock()
	forwarder := l.forwarder
	l.mu.Unlock()
	if forwarder != nil {
		if err := forwarder.ForwardAudit(entry); err != nil {
			l.logger.WithError(err).Debug("Audit forwarding failed, entry retained locally")
		}
	}
}

// Recent returns up to limit entries, newest first. The limit is caller
// input (the management API passes the query parameter straight through);
// the bucket never holds more than maxRetainedEntries, so anything beyond
// that is clamped before it can size an allocation.
func (l *Log) Recent(limit int) []clmmodels.AuditEntry {
	if limit < 0 {
		limit = 0
	}
	if limit > maxRetainedEntries {
		limit = maxRetainedEntries
	}
	entries := make([]clmmodels.AuditEntry, 0, limit)
	err := l.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(auditBucket).Cursor()
		for k, v := c.Last(); k != nil && len(entries) < limit; k, v = c.Prev() {
			var entry clmmodels.AuditEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				continue
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		l.logger.ErrorWithError(err, "Failed to read audit entries")
	}
	return entries
}

func (l *Log) append(entry clmmodels.AuditEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(auditBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		if err := b.Put(key, raw); err != nil {
			return err
		}
		// FIFO prune beyond the retention bound
		c := b.Cursor()
		count := 0
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			count++
		}
		for k, _ := c.First(); k != nil && count > maxRetainedEntries; k, _ = c.First() {
			if err := b.Delete(k); err != nil {
				return err
			}
			count--
		}
		return nil
	})
}
