package guide_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"guidesync/internal/encryption"
	"guidesync/internal/guide"
	"guidesync/internal/testutil"
	"guidesync/internal/vault"
)

func newTestService(t *testing.T, store guide.Store, fetcher guide.Fetcher, spool guide.Spool, enc guide.Encryptor) *guide.Service {
	t.Helper()
	queue := guide.NewQueue(store, testutil.FixedClock())
	return guide.NewService(store, queue, fetcher, spool, enc,
		guide.NewNopLogger(), testutil.FixedClock(), testutil.NewStubIDGenerator(),
		15*time.Minute, 5000)
}

func TestService_CheckIn(t *testing.T) {
	t.Run("persists the record and its mutation together", func(t *testing.T) {
		store := testutil.NewTestStore(t)
		svc := newTestService(t, store, nil, nil, nil)

		rec, err := svc.CheckIn("trip-1", "guide-9", guide.Location{Latitude: -16.9, Longitude: 145.7, Accuracy: 8})
		if err != nil {
			t.Fatalf("CheckIn() error = %v", err)
		}
		if rec.ID != "id-1" {
			t.Errorf("record ID = %q, want id-1", rec.ID)
		}
		if rec.Kind != guide.AttendanceCheckIn {
			t.Errorf("kind = %q, want %q", rec.Kind, guide.AttendanceCheckIn)
		}

		records, err := store.ListAttendanceByTrip("trip-1")
		if err != nil {
			t.Fatalf("ListAttendanceByTrip() error = %v", err)
		}
		if len(records) != 1 {
			t.Fatalf("len(records) = %d, want 1", len(records))
		}
		if records[0].Synced {
			t.Error("fresh record already marked synced")
		}

		pending, err := store.ListPendingMutations()
		if err != nil {
			t.Fatalf("ListPendingMutations() error = %v", err)
		}
		if len(pending) != 1 {
			t.Fatalf("len(pending) = %d, want 1", len(pending))
		}
		if pending[0].Type != guide.TypeAttendanceCheckIn {
			t.Errorf("mutation type = %q, want %q", pending[0].Type, guide.TypeAttendanceCheckIn)
		}
		if pending[0].RecordID != rec.ID {
			t.Errorf("mutation RecordID = %q, want %q", pending[0].RecordID, rec.ID)
		}

		var payload struct {
			RecordID string `json:"record_id"`
			TripID   string `json:"trip_id"`
			GuideID  string `json:"guide_id"`
			Kind     string `json:"kind"`
			Location guide.Location `json:"location"`
		}
		if err := json.Unmarshal(pending[0].Payload, &payload); err != nil {
			t.Fatalf("decoding payload: %v", err)
		}
		if payload.RecordID != rec.ID || payload.TripID != "trip-1" || payload.GuideID != "guide-9" {
			t.Errorf("payload = %+v, want record/trip/guide IDs preserved", payload)
		}
		if payload.Location.Latitude != -16.9 {
			t.Errorf("payload latitude = %v, want -16.9", payload.Location.Latitude)
		}
	})

	t.Run("is late past departure plus grace", func(t *testing.T) {
		store := testutil.NewTestStore(t)
		svc := newTestService(t, store, nil, nil, nil)

		// Clock is 08:00; departure 07:00 + 15m grace is long past.
		store.PutTrip(&guide.Trip{
			ID:        "trip-1",
			Date:      "2026-06-01",
			DepartsAt: time.Date(2026, 6, 1, 7, 0, 0, 0, time.UTC),
			FetchedAt: time.Now(),
		})

		rec, err := svc.CheckIn("trip-1", "guide-9", guide.Location{})
		if err != nil {
			t.Fatalf("CheckIn() error = %v", err)
		}
		if !rec.IsLate {
			t.Error("IsLate = false, want true")
		}
		if rec.PenaltyAmount != 5000 {
			t.Errorf("PenaltyAmount = %d, want 5000", rec.PenaltyAmount)
		}
	})

	t.Run("is on time within the grace window", func(t *testing.T) {
		store := testutil.NewTestStore(t)
		svc := newTestService(t, store, nil, nil, nil)

		// Clock is 08:00; departure 07:50 + 15m grace covers it.
		store.PutTrip(&guide.Trip{
			ID:        "trip-1",
			Date:      "2026-06-01",
			DepartsAt: time.Date(2026, 6, 1, 7, 50, 0, 0, time.UTC),
			FetchedAt: time.Now(),
		})

		rec, err := svc.CheckIn("trip-1", "guide-9", guide.Location{})
		if err != nil {
			t.Fatalf("CheckIn() error = %v", err)
		}
		if rec.IsLate {
			t.Error("IsLate = true, want false")
		}
		if rec.PenaltyAmount != 0 {
			t.Errorf("PenaltyAmount = %d, want 0", rec.PenaltyAmount)
		}
	})

	t.Run("never late without a cached trip", func(t *testing.T) {
		store := testutil.NewTestStore(t)
		svc := newTestService(t, store, nil, nil, nil)

		rec, err := svc.CheckIn("uncached-trip", "guide-9", guide.Location{})
		if err != nil {
			t.Fatalf("CheckIn() error = %v", err)
		}
		if rec.IsLate {
			t.Error("IsLate = true, want false (server re-derives lateness)")
		}
	})
}

func TestService_CheckOut(t *testing.T) {
	store := testutil.NewTestStore(t)
	svc := newTestService(t, store, nil, nil, nil)

	rec, err := svc.CheckOut("trip-1", "guide-9", guide.Location{})
	if err != nil {
		t.Fatalf("CheckOut() error = %v", err)
	}
	if rec.Kind != guide.AttendanceCheckOut {
		t.Errorf("kind = %q, want %q", rec.Kind, guide.AttendanceCheckOut)
	}

	pending, _ := store.ListPendingMutations()
	if len(pending) != 1 || pending[0].Type != guide.TypeAttendanceCheckOut {
		t.Errorf("pending = %+v, want one check-out mutation", pending)
	}
}

func TestService_ManifestRecorders(t *testing.T) {
	store := testutil.NewTestStore(t)
	svc := newTestService(t, store, nil, nil, nil)

	board, err := svc.RecordBoarding("trip-1", "p-1")
	if err != nil {
		t.Fatalf("RecordBoarding() error = %v", err)
	}
	if board.Kind != guide.ManifestBoard {
		t.Errorf("board kind = %q, want %q", board.Kind, guide.ManifestBoard)
	}

	ret, err := svc.RecordReturn("trip-1", "p-1")
	if err != nil {
		t.Fatalf("RecordReturn() error = %v", err)
	}
	if ret.Kind != guide.ManifestReturn {
		t.Errorf("return kind = %q, want %q", ret.Kind, guide.ManifestReturn)
	}

	records, err := store.ListManifestRecordsByTrip("trip-1")
	if err != nil {
		t.Fatalf("ListManifestRecordsByTrip() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len(records) = %d, want 2", len(records))
	}

	pending, _ := store.ListPendingMutations()
	if len(pending) != 2 {
		t.Fatalf("len(pending) = %d, want 2", len(pending))
	}
	if pending[0].Type != guide.TypeManifestBoard || pending[1].Type != guide.TypeManifestReturn {
		t.Errorf("mutation types = %q, %q, want board then return", pending[0].Type, pending[1].Type)
	}
}

// signalingEncryptor closes done when Encrypt returns, so a test can
// observe that the encrypt goroutine is not left blocked.
type signalingEncryptor struct {
	done chan struct{}
}

func (e *signalingEncryptor) Setup(string) error { return nil }
func (e *signalingEncryptor) IsConfigured() bool { return true }

func (e *signalingEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	defer close(e.done)
	_, err := io.Copy(w, r)
	return err
}

// truncatingSpool reads a few bytes and then fails, like a disk filling
// up mid-write.
type truncatingSpool struct{}

func (truncatingSpool) StoreContent(r io.Reader) (string, int64, error) {
	if _, err := io.CopyN(io.Discard, r, 8); err != nil {
		return "", 0, err
	}
	return "", 0, errors.New("no space left on device")
}

func (truncatingSpool) OpenContent(string) (io.ReadCloser, error) {
	return nil, errors.New("nothing spooled")
}

func (truncatingSpool) RemoveContent(string) {}

func TestService_AddDocument(t *testing.T) {
	writeSourceFile := func(t *testing.T, name, content string) string {
		t.Helper()
		path := filepath.Join(t.TempDir(), name)
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("writing source file: %v", err)
		}
		return path
	}

	t.Run("encrypts and spools the content", func(t *testing.T) {
		store := testutil.NewTestStore(t)
		spool := vault.NewMemorySpool()
		enc := encryption.NewTestEncryptor()
		enc.Setup("")
		svc := newTestService(t, store, nil, spool, enc)

		path := writeSourceFile(t, "passport.jpg", "raw scan bytes")

		doc, err := svc.AddDocument("trip-1", path, "image/jpeg")
		if err != nil {
			t.Fatalf("AddDocument() error = %v", err)
		}
		if !doc.Encrypted {
			t.Error("Encrypted = false, want true")
		}
		if doc.Name != "passport.jpg" {
			t.Errorf("Name = %q, want passport.jpg", doc.Name)
		}
		if !spool.Has(doc.Checksum) {
			t.Error("spool does not hold the captured content")
		}
		// Test encryptor prepends an 8-byte header.
		if doc.Size != int64(len("raw scan bytes"))+8 {
			t.Errorf("Size = %d, want plaintext length plus header", doc.Size)
		}

		pending, _ := store.ListPendingMutations()
		if len(pending) != 1 || pending[0].Type != guide.TypeDocumentUpload {
			t.Fatalf("pending = %+v, want one document_upload mutation", pending)
		}

		var payload struct {
			DocumentID string `json:"document_id"`
			Checksum   string `json:"checksum"`
			Size       int64  `json:"size"`
		}
		if err := json.Unmarshal(pending[0].Payload, &payload); err != nil {
			t.Fatalf("decoding payload: %v", err)
		}
		if payload.Checksum != doc.Checksum || payload.Size != doc.Size {
			t.Errorf("payload = %+v, want checksum/size of spooled content", payload)
		}
	})

	t.Run("spools plaintext without an encryptor", func(t *testing.T) {
		store := testutil.NewTestStore(t)
		spool := vault.NewMemorySpool()
		svc := newTestService(t, store, nil, spool, nil)

		path := writeSourceFile(t, "waiver.pdf", "signed waiver")

		doc, err := svc.AddDocument("trip-1", path, "application/pdf")
		if err != nil {
			t.Fatalf("AddDocument() error = %v", err)
		}
		if doc.Encrypted {
			t.Error("Encrypted = true, want false")
		}
		if doc.Size != int64(len("signed waiver")) {
			t.Errorf("Size = %d, want %d", doc.Size, len("signed waiver"))
		}
	})

	t.Run("spool failure mid-copy unblocks the encrypt goroutine", func(t *testing.T) {
		store := testutil.NewTestStore(t)
		enc := &signalingEncryptor{done: make(chan struct{})}
		svc := newTestService(t, store, nil, truncatingSpool{}, enc)

		path := writeSourceFile(t, "passport.jpg", strings.Repeat("scan", 1024))

		if _, err := svc.AddDocument("trip-1", path, "image/jpeg"); err == nil {
			t.Fatal("AddDocument() with failing spool expected error, got nil")
		}

		select {
		case <-enc.done:
		case <-time.After(2 * time.Second):
			t.Fatal("encryptor still writing after the spool failed")
		}

		count, _ := store.CountPendingMutations()
		if count != 0 {
			t.Errorf("pending count = %d, want 0", count)
		}
	})

	t.Run("missing source file is an error with nothing persisted", func(t *testing.T) {
		store := testutil.NewTestStore(t)
		spool := vault.NewMemorySpool()
		svc := newTestService(t, store, nil, spool, nil)

		if _, err := svc.AddDocument("trip-1", filepath.Join(t.TempDir(), "nope.jpg"), ""); err == nil {
			t.Fatal("AddDocument() with missing file expected error, got nil")
		}

		count, _ := store.CountPendingMutations()
		if count != 0 {
			t.Errorf("pending count = %d, want 0", count)
		}
	})
}

func TestService_Preload(t *testing.T) {
	store := testutil.NewTestStore(t)
	fetcher := testutil.NewStubFetcher()
	fetcher.Trips = []*guide.Trip{
		{ID: "trip-1", Date: "2026-06-01", Title: "Reef snorkel", Payload: []byte(`{}`)},
		{ID: "trip-2", Date: "2026-06-02", Title: "Island walk", Payload: []byte(`{}`)},
	}
	fetcher.Manifests["trip-1"] = []*guide.Participant{
		{ID: "p-1", Name: "Avery", Payload: []byte(`{}`)},
		{ID: "p-2", Name: "Blake", Payload: []byte(`{}`)},
	}
	svc := newTestService(t, store, fetcher, nil, nil)

	count, err := svc.Preload(context.Background(), "2026-06-01", "2026-06-07")
	if err != nil {
		t.Fatalf("Preload() error = %v", err)
	}
	if count != 2 {
		t.Errorf("Preload() count = %d, want 2", count)
	}

	trip, err := store.GetTrip("trip-1")
	if err != nil {
		t.Fatalf("GetTrip() error = %v", err)
	}
	if trip == nil || trip.Title != "Reef snorkel" {
		t.Errorf("cached trip = %+v, want Reef snorkel", trip)
	}

	manifest, err := store.ListManifest("trip-1")
	if err != nil {
		t.Fatalf("ListManifest() error = %v", err)
	}
	if len(manifest) != 2 {
		t.Fatalf("len(manifest) = %d, want 2", len(manifest))
	}

	// A second preload replaces the snapshot rather than merging.
	fetcher.Manifests["trip-1"] = []*guide.Participant{
		{ID: "p-3", Name: "Casey", Payload: []byte(`{}`)},
	}
	if _, err := svc.Preload(context.Background(), "2026-06-01", "2026-06-07"); err != nil {
		t.Fatalf("second Preload() error = %v", err)
	}
	manifest, _ = store.ListManifest("trip-1")
	if len(manifest) != 1 || manifest[0].ID != "p-3" {
		t.Errorf("manifest after second preload = %+v, want just p-3", manifest)
	}
}
