package guide

import (
	"encoding/json"
	"fmt"
	"time"
)

// Queue is the durable, ordered, at-least-once delivery buffer for
// operations that must eventually reach the server. It is a thin layer
// over the Store: once Enqueue returns, the mutation survives process
// restart and device reboot. Delivery is at-least-once, never exactly-once
// — the server dedupes by natural key and idempotency key, because the
// client may resubmit a mutation whose MarkSynced failed after a
// successful server call.
type Queue struct {
	store Store
	clock Clock
}

// NewQueue creates a Queue over the given store.
func NewQueue(store Store, clock Clock) *Queue {
	return &Queue{store: store, clock: clock}
}

// Enqueue appends a mutation with synced=false and a strictly increasing
// ID used as the replay-order tie-break. Never touches the network.
// payload must marshal to JSON.
func (q *Queue) Enqueue(mutationType string, payload any) (int64, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("encoding payload: %w", err)
	}
	return q.store.AppendMutation(&Mutation{
		Type:       mutationType,
		Payload:    body,
		EnqueuedAt: q.clock.Now(),
	})
}

// ListPending returns all unsynced mutations in FIFO replay order.
// Insertion order is the only ordering guarantee; mutations are never
// reordered, deduplicated, or merged.
func (q *Queue) ListPending() ([]*Mutation, error) {
	return q.store.ListPendingMutations()
}

// PendingCount returns the number of unsynced mutations, for the UI's
// "N items waiting to sync" indicator.
func (q *Queue) PendingCount() (int, error) {
	return q.store.CountPendingMutations()
}

// MarkSynced flips synced=true on the mutation and its linked record.
// Idempotent; a missing ID is not an error.
func (q *Queue) MarkSynced(id int64) error {
	return q.store.MarkMutationSynced(id)
}

// PruneSynced deletes synced mutations older than the retention window and
// returns the number deleted. Pending mutations are never pruned.
func (q *Queue) PruneSynced(retention time.Duration) (int64, error) {
	return q.store.PruneSyncedMutations(q.clock.Now().Add(-retention))
}
