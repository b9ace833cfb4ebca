package database

import (
	"path/filepath"
	"testing"
	"time"

	"guidesync/internal/guide"
)

// newTestStore creates a new in-memory store with schema applied.
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func testMutation(recordID string) *guide.Mutation {
	return &guide.Mutation{
		Type:       guide.TypeAttendanceCheckIn,
		Payload:    []byte(`{"record_id":"` + recordID + `"}`),
		RecordID:   recordID,
		EnqueuedAt: time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC),
	}
}

func TestSQLiteStore_ReopenPreservesPendingMutations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device-1.db")

	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}

	var ids []int64
	for _, rec := range []string{"rec-1", "rec-2", "rec-3"} {
		id, err := store.AppendMutation(testMutation(rec))
		if err != nil {
			t.Fatalf("AppendMutation(%s) error = %v", rec, err)
		}
		ids = append(ids, id)
	}
	if err := store.MarkMutationSynced(ids[1]); err != nil {
		t.Fatalf("MarkMutationSynced() error = %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore() reopen error = %v", err)
	}
	defer reopened.Close()

	pending, err := reopened.ListPendingMutations()
	if err != nil {
		t.Fatalf("ListPendingMutations() error = %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("len(pending) = %d, want 2", len(pending))
	}
	if pending[0].ID != ids[0] || pending[1].ID != ids[2] {
		t.Errorf("pending IDs = [%d %d], want [%d %d]",
			pending[0].ID, pending[1].ID, ids[0], ids[2])
	}
	if pending[0].RecordID != "rec-1" || pending[1].RecordID != "rec-3" {
		t.Errorf("pending records = [%s %s], want [rec-1 rec-3]",
			pending[0].RecordID, pending[1].RecordID)
	}
}

func TestSQLiteStore_AppendMutation(t *testing.T) {
	t.Run("assigns strictly increasing IDs", func(t *testing.T) {
		store := newTestStore(t)

		id1, err := store.AppendMutation(testMutation("rec-1"))
		if err != nil {
			t.Fatalf("AppendMutation() error = %v", err)
		}
		id2, err := store.AppendMutation(testMutation("rec-2"))
		if err != nil {
			t.Fatalf("AppendMutation() error = %v", err)
		}

		if id2 <= id1 {
			t.Errorf("second ID %d not greater than first %d", id2, id1)
		}
	})

	t.Run("new mutations are pending", func(t *testing.T) {
		store := newTestStore(t)

		if _, err := store.AppendMutation(testMutation("rec-1")); err != nil {
			t.Fatalf("AppendMutation() error = %v", err)
		}

		count, err := store.CountPendingMutations()
		if err != nil {
			t.Fatalf("CountPendingMutations() error = %v", err)
		}
		if count != 1 {
			t.Errorf("pending count = %d, want 1", count)
		}
	})
}

func TestSQLiteStore_ListPendingMutations(t *testing.T) {
	store := newTestStore(t)

	for _, rec := range []string{"rec-1", "rec-2", "rec-3"} {
		if _, err := store.AppendMutation(testMutation(rec)); err != nil {
			t.Fatalf("AppendMutation() error = %v", err)
		}
	}

	pending, err := store.ListPendingMutations()
	if err != nil {
		t.Fatalf("ListPendingMutations() error = %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("len(pending) = %d, want 3", len(pending))
	}

	// Insertion order, oldest first
	for i, want := range []string{"rec-1", "rec-2", "rec-3"} {
		if pending[i].RecordID != want {
			t.Errorf("pending[%d].RecordID = %q, want %q", i, pending[i].RecordID, want)
		}
	}
	if pending[0].ID >= pending[1].ID || pending[1].ID >= pending[2].ID {
		t.Error("pending mutations not ordered by ID ascending")
	}
}

func TestSQLiteStore_MarkMutationSynced(t *testing.T) {
	t.Run("flips mutation and linked record together", func(t *testing.T) {
		store := newTestStore(t)

		rec := &guide.AttendanceRecord{
			ID:      "att-1",
			TripID:  "trip-1",
			GuideID: "guide-1",
			Kind:    guide.AttendanceCheckIn,
			At:      time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC),
		}
		m := testMutation("att-1")
		id, err := store.SaveAttendance(rec, m)
		if err != nil {
			t.Fatalf("SaveAttendance() error = %v", err)
		}

		if err := store.MarkMutationSynced(id); err != nil {
			t.Fatalf("MarkMutationSynced() error = %v", err)
		}

		count, _ := store.CountPendingMutations()
		if count != 0 {
			t.Errorf("pending count after sync = %d, want 0", count)
		}

		records, err := store.ListAttendanceByTrip("trip-1")
		if err != nil {
			t.Fatalf("ListAttendanceByTrip() error = %v", err)
		}
		if len(records) != 1 {
			t.Fatalf("len(records) = %d, want 1", len(records))
		}
		if !records[0].Synced {
			t.Error("linked attendance record not marked synced")
		}
	})

	t.Run("missing ID is not an error", func(t *testing.T) {
		store := newTestStore(t)

		if err := store.MarkMutationSynced(999); err != nil {
			t.Errorf("MarkMutationSynced(999) error = %v, want nil", err)
		}
	})

	t.Run("is idempotent", func(t *testing.T) {
		store := newTestStore(t)

		id, err := store.AppendMutation(testMutation("rec-1"))
		if err != nil {
			t.Fatalf("AppendMutation() error = %v", err)
		}

		if err := store.MarkMutationSynced(id); err != nil {
			t.Fatalf("first MarkMutationSynced() error = %v", err)
		}
		if err := store.MarkMutationSynced(id); err != nil {
			t.Errorf("second MarkMutationSynced() error = %v, want nil", err)
		}
	})
}

func TestSQLiteStore_DeadLetters(t *testing.T) {
	t.Run("move removes from queue and records reason", func(t *testing.T) {
		store := newTestStore(t)

		id, err := store.AppendMutation(&guide.Mutation{
			Type:       "unknown_type",
			Payload:    []byte(`{}`),
			EnqueuedAt: time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC),
		})
		if err != nil {
			t.Fatalf("AppendMutation() error = %v", err)
		}

		movedAt := time.Date(2026, 6, 2, 9, 0, 0, 0, time.UTC)
		if err := store.MoveMutationToDeadLetter(id, "no route", movedAt); err != nil {
			t.Fatalf("MoveMutationToDeadLetter() error = %v", err)
		}

		count, _ := store.CountPendingMutations()
		if count != 0 {
			t.Errorf("pending count after dead-letter = %d, want 0", count)
		}

		letters, err := store.ListDeadLetters()
		if err != nil {
			t.Fatalf("ListDeadLetters() error = %v", err)
		}
		if len(letters) != 1 {
			t.Fatalf("len(letters) = %d, want 1", len(letters))
		}
		if letters[0].ID != id {
			t.Errorf("letter ID = %d, want %d", letters[0].ID, id)
		}
		if letters[0].Reason != "no route" {
			t.Errorf("letter reason = %q, want %q", letters[0].Reason, "no route")
		}
	})

	t.Run("requeue restores to queue with fresh ID", func(t *testing.T) {
		store := newTestStore(t)

		id, _ := store.AppendMutation(&guide.Mutation{
			Type:       "unknown_type",
			Payload:    []byte(`{"x":1}`),
			EnqueuedAt: time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC),
		})
		if err := store.MoveMutationToDeadLetter(id, "no route", time.Now()); err != nil {
			t.Fatalf("MoveMutationToDeadLetter() error = %v", err)
		}

		newID, err := store.RequeueDeadLetter(id)
		if err != nil {
			t.Fatalf("RequeueDeadLetter() error = %v", err)
		}
		if newID == id {
			t.Error("requeued mutation kept old ID")
		}

		pending, _ := store.ListPendingMutations()
		if len(pending) != 1 {
			t.Fatalf("len(pending) = %d, want 1", len(pending))
		}
		if pending[0].SkipCount != 0 {
			t.Errorf("requeued skip count = %d, want 0", pending[0].SkipCount)
		}

		letters, _ := store.ListDeadLetters()
		if len(letters) != 0 {
			t.Errorf("len(letters) after requeue = %d, want 0", len(letters))
		}
	})

	t.Run("requeue of unknown ID fails", func(t *testing.T) {
		store := newTestStore(t)

		if _, err := store.RequeueDeadLetter(42); err == nil {
			t.Error("RequeueDeadLetter(42) expected error, got nil")
		}
	})
}

func TestSQLiteStore_IncrementMutationSkip(t *testing.T) {
	store := newTestStore(t)

	id, _ := store.AppendMutation(testMutation("rec-1"))

	for want := int64(1); want <= 3; want++ {
		count, err := store.IncrementMutationSkip(id)
		if err != nil {
			t.Fatalf("IncrementMutationSkip() error = %v", err)
		}
		if count != want {
			t.Errorf("skip count = %d, want %d", count, want)
		}
	}
}

func TestSQLiteStore_PruneSyncedMutations(t *testing.T) {
	store := newTestStore(t)

	old := &guide.Mutation{
		Type:       guide.TypeManifestBoard,
		Payload:    []byte(`{}`),
		EnqueuedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	oldID, _ := store.AppendMutation(old)
	store.MarkMutationSynced(oldID)

	// Pending mutation with the same age must survive
	oldPending := &guide.Mutation{
		Type:       guide.TypeManifestBoard,
		Payload:    []byte(`{}`),
		EnqueuedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	store.AppendMutation(oldPending)

	recent := &guide.Mutation{
		Type:       guide.TypeManifestBoard,
		Payload:    []byte(`{}`),
		EnqueuedAt: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	recentID, _ := store.AppendMutation(recent)
	store.MarkMutationSynced(recentID)

	n, err := store.PruneSyncedMutations(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("PruneSyncedMutations() error = %v", err)
	}
	if n != 1 {
		t.Errorf("pruned = %d, want 1", n)
	}

	count, _ := store.CountPendingMutations()
	if count != 1 {
		t.Errorf("pending count after prune = %d, want 1 (pending mutations are never pruned)", count)
	}
}

func TestSQLiteStore_Trips(t *testing.T) {
	t.Run("put then get round trip", func(t *testing.T) {
		store := newTestStore(t)

		trip := &guide.Trip{
			ID:        "trip-1",
			Date:      "2026-06-01",
			Title:     "Reef snorkel",
			DepartsAt: time.Date(2026, 6, 1, 9, 30, 0, 0, time.UTC),
			Payload:   []byte(`{"capacity":12}`),
			FetchedAt: time.Date(2026, 5, 30, 18, 0, 0, 0, time.UTC),
		}
		if err := store.PutTrip(trip); err != nil {
			t.Fatalf("PutTrip() error = %v", err)
		}

		got, err := store.GetTrip("trip-1")
		if err != nil {
			t.Fatalf("GetTrip() error = %v", err)
		}
		if got == nil {
			t.Fatal("GetTrip() = nil, want trip")
		}
		if got.Title != "Reef snorkel" {
			t.Errorf("Title = %q, want %q", got.Title, "Reef snorkel")
		}
		if !got.DepartsAt.Equal(trip.DepartsAt) {
			t.Errorf("DepartsAt = %v, want %v", got.DepartsAt, trip.DepartsAt)
		}
		if string(got.Payload) != `{"capacity":12}` {
			t.Errorf("Payload = %s, want %s", got.Payload, `{"capacity":12}`)
		}
	})

	t.Run("absent trip returns nil without error", func(t *testing.T) {
		store := newTestStore(t)

		got, err := store.GetTrip("nope")
		if err != nil {
			t.Fatalf("GetTrip() error = %v", err)
		}
		if got != nil {
			t.Errorf("GetTrip() = %+v, want nil", got)
		}
	})

	t.Run("put overwrites existing snapshot", func(t *testing.T) {
		store := newTestStore(t)

		store.PutTrip(&guide.Trip{ID: "trip-1", Date: "2026-06-01", Title: "Old", FetchedAt: time.Now()})
		store.PutTrip(&guide.Trip{ID: "trip-1", Date: "2026-06-01", Title: "New", FetchedAt: time.Now()})

		got, err := store.GetTrip("trip-1")
		if err != nil {
			t.Fatalf("GetTrip() error = %v", err)
		}
		if got.Title != "New" {
			t.Errorf("Title = %q, want %q (last write wins)", got.Title, "New")
		}
	})

	t.Run("list by date", func(t *testing.T) {
		store := newTestStore(t)

		store.PutTrip(&guide.Trip{ID: "trip-1", Date: "2026-06-01", FetchedAt: time.Now()})
		store.PutTrip(&guide.Trip{ID: "trip-2", Date: "2026-06-01", FetchedAt: time.Now()})
		store.PutTrip(&guide.Trip{ID: "trip-3", Date: "2026-06-02", FetchedAt: time.Now()})

		trips, err := store.ListTripsByDate("2026-06-01")
		if err != nil {
			t.Fatalf("ListTripsByDate() error = %v", err)
		}
		if len(trips) != 2 {
			t.Errorf("len(trips) = %d, want 2", len(trips))
		}
	})
}

func TestSQLiteStore_ReplaceManifest(t *testing.T) {
	store := newTestStore(t)

	first := []*guide.Participant{
		{ID: "p-1", TripID: "trip-1", Name: "Avery", Payload: []byte(`{}`), FetchedAt: time.Now()},
		{ID: "p-2", TripID: "trip-1", Name: "Blake", Payload: []byte(`{}`), FetchedAt: time.Now()},
	}
	if err := store.ReplaceManifest("trip-1", first); err != nil {
		t.Fatalf("ReplaceManifest() error = %v", err)
	}

	// Second snapshot fully replaces the first
	second := []*guide.Participant{
		{ID: "p-3", TripID: "trip-1", Name: "Casey", Payload: []byte(`{}`), FetchedAt: time.Now()},
	}
	if err := store.ReplaceManifest("trip-1", second); err != nil {
		t.Fatalf("ReplaceManifest() error = %v", err)
	}

	got, err := store.ListManifest("trip-1")
	if err != nil {
		t.Fatalf("ListManifest() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len(manifest) = %d, want 1", len(got))
	}
	if got[0].ID != "p-3" {
		t.Errorf("participant ID = %q, want p-3", got[0].ID)
	}
}

func TestSQLiteStore_SaveDocument(t *testing.T) {
	store := newTestStore(t)

	doc := &guide.Document{
		ID:          "doc-1",
		TripID:      "trip-1",
		Name:        "passport.jpg",
		Checksum:    "abc123",
		Size:        2048,
		ContentType: "image/jpeg",
		Encrypted:   true,
		CapturedAt:  time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC),
	}
	m := &guide.Mutation{
		Type:       guide.TypeDocumentUpload,
		Payload:    []byte(`{"document_id":"doc-1","checksum":"abc123"}`),
		RecordID:   "doc-1",
		EnqueuedAt: doc.CapturedAt,
	}

	id, err := store.SaveDocument(doc, m)
	if err != nil {
		t.Fatalf("SaveDocument() error = %v", err)
	}

	got, err := store.GetDocument("doc-1")
	if err != nil {
		t.Fatalf("GetDocument() error = %v", err)
	}
	if got == nil {
		t.Fatal("GetDocument() = nil, want document")
	}
	if !got.Encrypted {
		t.Error("Encrypted flag lost")
	}
	if got.Checksum != "abc123" {
		t.Errorf("Checksum = %q, want abc123", got.Checksum)
	}

	// Same transaction produced the delivery mutation
	count, _ := store.CountPendingMutations()
	if count != 1 {
		t.Errorf("pending count = %d, want 1", count)
	}

	if err := store.MarkMutationSynced(id); err != nil {
		t.Fatalf("MarkMutationSynced() error = %v", err)
	}
	got, _ = store.GetDocument("doc-1")
	if !got.Synced {
		t.Error("document not marked synced with its mutation")
	}
}

func TestSQLiteStore_SyncCycles(t *testing.T) {
	store := newTestStore(t)

	started := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	id, err := store.StartSyncCycle(guide.TriggerManual, started)
	if err != nil {
		t.Fatalf("StartSyncCycle() error = %v", err)
	}

	finished := started.Add(2 * time.Second)
	if err := store.FinishSyncCycle(id, finished, 3, 1, 0); err != nil {
		t.Fatalf("FinishSyncCycle() error = %v", err)
	}

	cycles, err := store.ListSyncCycles(10)
	if err != nil {
		t.Fatalf("ListSyncCycles() error = %v", err)
	}
	if len(cycles) != 1 {
		t.Fatalf("len(cycles) = %d, want 1", len(cycles))
	}
	c := cycles[0]
	if c.Trigger != guide.TriggerManual {
		t.Errorf("Trigger = %q, want %q", c.Trigger, guide.TriggerManual)
	}
	if c.Synced != 3 || c.Failed != 1 || c.Skipped != 0 {
		t.Errorf("counts = %d/%d/%d, want 3/1/0", c.Synced, c.Failed, c.Skipped)
	}
	if c.FinishedAt.IsZero() {
		t.Error("FinishedAt is zero after FinishSyncCycle")
	}
}
