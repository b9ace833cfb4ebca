package guide

import (
	"fmt"
	"time"
)

// StorageError marks a durable-store failure (medium unavailable, quota
// exhausted). Recorders propagate it synchronously so the UI can tell the
// user the action was NOT captured.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Store is the local durable store. It exclusively owns all persisted
// state; every write is durable before the call returns and no method ever
// touches the network. Point lookups return nil (not an error) when the
// row is absent.
type Store interface {
	// Mutation queue operations

	// AppendMutation inserts a mutation with an auto-increment ID and
	// synced=false, and returns the assigned ID.
	AppendMutation(m *Mutation) (int64, error)

	// ListPendingMutations returns all unsynced mutations ordered by ID
	// ascending (FIFO replay order).
	ListPendingMutations() ([]*Mutation, error)

	// CountPendingMutations returns the number of unsynced mutations.
	CountPendingMutations() (int, error)

	// MarkMutationSynced flips synced=true on the mutation and, in the same
	// transaction, on its linked record (if any). Idempotent; a missing ID
	// is not an error (the row may have been pruned or dead-lettered).
	MarkMutationSynced(id int64) error

	// IncrementMutationSkip bumps the skip counter for an unroutable
	// mutation and returns the new count.
	IncrementMutationSkip(id int64) (int64, error)

	// MoveMutationToDeadLetter atomically removes the mutation from the
	// queue and inserts a dead-letter row.
	MoveMutationToDeadLetter(id int64, reason string, at time.Time) error

	// RequeueDeadLetter moves a dead-letter row back into the mutation
	// queue (fresh ID, skip count reset).
	RequeueDeadLetter(id int64) (int64, error)

	// ListDeadLetters returns all dead-letter rows, oldest first.
	ListDeadLetters() ([]*DeadLetter, error)

	// PruneSyncedMutations deletes synced mutations enqueued before the
	// cutoff and returns the number deleted.
	PruneSyncedMutations(before time.Time) (int64, error)

	// Cached snapshot operations (last write wins, never merged)

	PutTrip(t *Trip) error
	GetTrip(id string) (*Trip, error)
	ListTripsByDate(date string) ([]*Trip, error)

	// ReplaceManifest replaces the full participant snapshot for a trip.
	ReplaceManifest(tripID string, participants []*Participant) error
	ListManifest(tripID string) ([]*Participant, error)

	// Recorder operations: each writes the record and its delivery
	// mutation in ONE transaction, returning the mutation ID.

	SaveAttendance(rec *AttendanceRecord, m *Mutation) (int64, error)
	SaveManifestRecord(rec *ManifestRecord, m *Mutation) (int64, error)
	SaveDocument(doc *Document, m *Mutation) (int64, error)

	// Local reads for offline rendering

	ListAttendanceByTrip(tripID string) ([]*AttendanceRecord, error)
	ListManifestRecordsByTrip(tripID string) ([]*ManifestRecord, error)
	GetDocument(id string) (*Document, error)
	ListDocumentsByTrip(tripID string) ([]*Document, error)

	// Sync cycle bookkeeping

	// StartSyncCycle persists the beginning of a drain cycle and returns
	// its ID.
	StartSyncCycle(trigger string, at time.Time) (int64, error)

	// FinishSyncCycle records the end of a drain cycle with its counts.
	FinishSyncCycle(id int64, at time.Time, synced, failed, skipped int64) error

	// ListSyncCycles returns the most recent cycles, newest first.
	ListSyncCycles(limit int) ([]*SyncCycle, error)

	// Close closes the underlying database connection.
	Close() error
}
