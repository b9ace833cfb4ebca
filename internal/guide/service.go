package guide

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Fetcher pulls server-owned data to cache locally while the device is
// online. Snapshots written from it are last-write-wins and never
// authoritative for writes.
type Fetcher interface {
	FetchTrips(ctx context.Context, from, to string) ([]*Trip, error)
	FetchManifest(ctx context.Context, tripID string) ([]*Participant, error)
}

// Location is a device GPS fix attached to attendance events.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`
}

// Service is the orchestration layer the app shell calls. Every recorder
// method performs its optimistic local write and its queue entry as one
// store transaction: either the action is durably captured together with
// its delivery wrapper, or the caller gets an error and knows the action
// was not saved.
type Service struct {
	store     Store
	queue     *Queue
	fetcher   Fetcher
	spool     Spool
	encryptor Encryptor
	logger    Logger
	clock     Clock
	idgen     IDGenerator

	lateGrace   time.Duration
	latePenalty int64
}

// NewService creates a Service. fetcher may be nil when preload is not
// needed (pure offline tests); spool/encryptor may be nil when document
// capture is not in use.
func NewService(store Store, queue *Queue, fetcher Fetcher, spool Spool, encryptor Encryptor, logger Logger, clock Clock, idgen IDGenerator, lateGrace time.Duration, latePenalty int64) *Service {
	return &Service{
		store:       store,
		queue:       queue,
		fetcher:     fetcher,
		spool:       spool,
		encryptor:   encryptor,
		logger:      logger,
		clock:       clock,
		idgen:       idgen,
		lateGrace:   lateGrace,
		latePenalty: latePenalty,
	}
}

// attendancePayload is the wire body for attendance mutations.
type attendancePayload struct {
	RecordID      string   `json:"record_id"`
	TripID        string   `json:"trip_id"`
	GuideID       string   `json:"guide_id"`
	Kind          string   `json:"kind"`
	At            string   `json:"at"` // RFC 3339, UTC
	Location      Location `json:"location"`
	IsLate        bool     `json:"is_late"`
	PenaltyAmount int64    `json:"penalty_amount"`
}

// manifestPayload is the wire body for manifest mutations.
type manifestPayload struct {
	RecordID      string `json:"record_id"`
	TripID        string `json:"trip_id"`
	ParticipantID string `json:"participant_id"`
	Kind          string `json:"kind"`
	At            string `json:"at"`
}

// documentPayload is the wire body for document mutations. The content
// itself travels to the attachment vault, keyed by checksum.
type documentPayload struct {
	DocumentID  string `json:"document_id"`
	TripID      string `json:"trip_id"`
	Name        string `json:"name"`
	Checksum    string `json:"checksum"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
	Encrypted   bool   `json:"encrypted"`
	CapturedAt  string `json:"captured_at"`
}

// CheckIn records a guide check-in for a trip. Lateness is judged against
// the cached trip's departure time plus the configured grace period; with
// no cached trip the check-in is never late (the server re-derives it).
func (s *Service) CheckIn(tripID, guideID string, loc Location) (*AttendanceRecord, error) {
	now := s.clock.Now()

	var isLate bool
	var penalty int64
	trip, err := s.store.GetTrip(tripID)
	if err != nil {
		return nil, fmt.Errorf("loading trip snapshot: %w", err)
	}
	if trip != nil && !trip.DepartsAt.IsZero() && now.After(trip.DepartsAt.Add(s.lateGrace)) {
		isLate = true
		penalty = s.latePenalty
	}

	return s.recordAttendance(&AttendanceRecord{
		ID:            s.idgen.New(),
		TripID:        tripID,
		GuideID:       guideID,
		Kind:          AttendanceCheckIn,
		At:            now,
		Latitude:      loc.Latitude,
		Longitude:     loc.Longitude,
		Accuracy:      loc.Accuracy,
		IsLate:        isLate,
		PenaltyAmount: penalty,
	}, TypeAttendanceCheckIn)
}

// CheckOut records a guide check-out for a trip.
func (s *Service) CheckOut(tripID, guideID string, loc Location) (*AttendanceRecord, error) {
	return s.recordAttendance(&AttendanceRecord{
		ID:        s.idgen.New(),
		TripID:    tripID,
		GuideID:   guideID,
		Kind:      AttendanceCheckOut,
		At:        s.clock.Now(),
		Latitude:  loc.Latitude,
		Longitude: loc.Longitude,
		Accuracy:  loc.Accuracy,
	}, TypeAttendanceCheckOut)
}

func (s *Service) recordAttendance(rec *AttendanceRecord, mutationType string) (*AttendanceRecord, error) {
	payload, err := marshalPayload(attendancePayload{
		RecordID:      rec.ID,
		TripID:        rec.TripID,
		GuideID:       rec.GuideID,
		Kind:          rec.Kind,
		At:            rec.At.UTC().Format(time.RFC3339),
		Location:      Location{Latitude: rec.Latitude, Longitude: rec.Longitude, Accuracy: rec.Accuracy},
		IsLate:        rec.IsLate,
		PenaltyAmount: rec.PenaltyAmount,
	})
	if err != nil {
		return nil, err
	}

	id, err := s.store.SaveAttendance(rec, &Mutation{
		Type:       mutationType,
		Payload:    payload,
		RecordID:   rec.ID,
		EnqueuedAt: rec.At,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("attendance recorded",
		"kind", rec.Kind, "trip", rec.TripID, "guide", rec.GuideID, "late", rec.IsLate, "mutation", id)
	return rec, nil
}

// RecordBoarding records a participant boarding event.
func (s *Service) RecordBoarding(tripID, participantID string) (*ManifestRecord, error) {
	return s.recordManifest(tripID, participantID, ManifestBoard, TypeManifestBoard)
}

// RecordReturn records a participant return event.
func (s *Service) RecordReturn(tripID, participantID string) (*ManifestRecord, error) {
	return s.recordManifest(tripID, participantID, ManifestReturn, TypeManifestReturn)
}

func (s *Service) recordManifest(tripID, participantID, kind, mutationType string) (*ManifestRecord, error) {
	rec := &ManifestRecord{
		ID:            s.idgen.New(),
		TripID:        tripID,
		ParticipantID: participantID,
		Kind:          kind,
		At:            s.clock.Now(),
	}

	payload, err := marshalPayload(manifestPayload{
		RecordID:      rec.ID,
		TripID:        rec.TripID,
		ParticipantID: rec.ParticipantID,
		Kind:          rec.Kind,
		At:            rec.At.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, err
	}

	id, err := s.store.SaveManifestRecord(rec, &Mutation{
		Type:       mutationType,
		Payload:    payload,
		RecordID:   rec.ID,
		EnqueuedAt: rec.At,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("manifest event recorded",
		"kind", kind, "trip", tripID, "participant", participantID, "mutation", id)
	return rec, nil
}

// AddDocument captures a file for a trip: the content is encrypted (when
// an encryptor is configured), spooled locally under its checksum, and
// recorded as a document row plus an upload mutation in one transaction.
func (s *Service) AddDocument(tripID, sourcePath, contentType string) (*Document, error) {
	if s.spool == nil {
		return nil, fmt.Errorf("no document spool configured")
	}

	f, err := os.Open(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("opening source file: %w", err)
	}
	defer f.Close()

	encrypted := s.encryptor != nil && s.encryptor.IsConfigured()
	var content io.Reader = f
	if encrypted {
		pr, pw := io.Pipe()
		// Closing the read side on any exit unblocks the encrypt
		// goroutine if spooling stops mid-copy.
		defer pr.Close()
		go func() {
			err := s.encryptor.Encrypt(f, pw)
			pw.CloseWithError(err)
		}()
		content = pr
	}

	checksum, size, err := s.spool.StoreContent(content)
	if err != nil {
		return nil, fmt.Errorf("spooling document: %w", err)
	}

	doc := &Document{
		ID:          s.idgen.New(),
		TripID:      tripID,
		Name:        filepath.Base(sourcePath),
		Checksum:    checksum,
		Size:        size,
		ContentType: contentType,
		Encrypted:   encrypted,
		CapturedAt:  s.clock.Now(),
	}

	payload, err := marshalPayload(documentPayload{
		DocumentID:  doc.ID,
		TripID:      doc.TripID,
		Name:        doc.Name,
		Checksum:    doc.Checksum,
		Size:        doc.Size,
		ContentType: doc.ContentType,
		Encrypted:   doc.Encrypted,
		CapturedAt:  doc.CapturedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		s.spool.RemoveContent(checksum)
		return nil, err
	}

	id, err := s.store.SaveDocument(doc, &Mutation{
		Type:       TypeDocumentUpload,
		Payload:    payload,
		RecordID:   doc.ID,
		EnqueuedAt: doc.CapturedAt,
	})
	if err != nil {
		s.spool.RemoveContent(checksum)
		return nil, err
	}

	s.logger.Info("document captured",
		"trip", tripID, "name", doc.Name, "size", size, "encrypted", encrypted, "mutation", id)
	return doc, nil
}

// Preload fetches the guide's trips in the [from, to] date range and their
// participant manifests, and caches them for offline rendering. Returns
// the number of trips cached.
func (s *Service) Preload(ctx context.Context, from, to string) (int, error) {
	if s.fetcher == nil {
		return 0, fmt.Errorf("no fetcher configured")
	}

	trips, err := s.fetcher.FetchTrips(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("fetching trips: %w", err)
	}

	now := s.clock.Now()
	for _, t := range trips {
		t.FetchedAt = now
		if err := s.store.PutTrip(t); err != nil {
			return 0, fmt.Errorf("caching trip %s: %w", t.ID, err)
		}

		participants, err := s.fetcher.FetchManifest(ctx, t.ID)
		if err != nil {
			return 0, fmt.Errorf("fetching manifest for trip %s: %w", t.ID, err)
		}
		for _, p := range participants {
			p.TripID = t.ID
			p.FetchedAt = now
		}
		if err := s.store.ReplaceManifest(t.ID, participants); err != nil {
			return 0, fmt.Errorf("caching manifest for trip %s: %w", t.ID, err)
		}
	}

	s.logger.Info("preload complete", "trips", len(trips), "from", from, "to", to)
	return len(trips), nil
}

// PendingCount returns the number of mutations waiting to sync.
func (s *Service) PendingCount() (int, error) {
	return s.queue.PendingCount()
}

// History returns the most recent drain cycles, newest first.
func (s *Service) History(limit int) ([]*SyncCycle, error) {
	return s.store.ListSyncCycles(limit)
}

func marshalPayload(v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	return body, nil
}
