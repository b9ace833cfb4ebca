package guide

import (
	"encoding/json"
	"time"
)

// Mutation type tags. Each tag maps to one server endpoint in the sync
// manager's routing table.
const (
	TypeAttendanceCheckIn  = "attendance_check_in"
	TypeAttendanceCheckOut = "attendance_check_out"
	TypeManifestBoard      = "manifest_board"
	TypeManifestReturn     = "manifest_return"
	TypeDocumentUpload     = "document_upload"
)

// Mutation is an outbound operation captured on the device and not yet
// confirmed by the server. The type/payload/enqueued-at triple is immutable
// once created; only the delivery bookkeeping (Synced, SkipCount) changes.
type Mutation struct {
	ID         int64           // Auto-increment, assigned by the store; replay order
	Type       string          // Operation tag, resolves to a server endpoint
	Payload    json.RawMessage // Opaque, type-specific body
	RecordID   string          // Local record this mutation delivers ("" for none)
	EnqueuedAt time.Time
	Synced     bool
	SkipCount  int64 // Consecutive cycles skipped for lack of a route
}

// Trip is a cached snapshot of server-owned trip data, kept so the UI can
// render while offline. Last write wins; never authoritative for writes.
type Trip struct {
	ID        string
	Date      string // YYYY-MM-DD, secondary index for day views
	Title     string
	DepartsAt time.Time
	Payload   json.RawMessage // Full server representation, passed through
	FetchedAt time.Time
}

// Participant is one manifest row preloaded for a trip.
type Participant struct {
	ID        string
	TripID    string
	Name      string
	Payload   json.RawMessage
	FetchedAt time.Time
}

// Attendance event kinds.
const (
	AttendanceCheckIn  = "check_in"
	AttendanceCheckOut = "check_out"
)

// AttendanceRecord is a locally captured guide check-in or check-out,
// pending server confirmation.
type AttendanceRecord struct {
	ID            string // UUID
	TripID        string
	GuideID       string
	Kind          string // "check_in" or "check_out"
	At            time.Time
	Latitude      float64
	Longitude     float64
	Accuracy      float64
	IsLate        bool
	PenaltyAmount int64 // Minor currency units; zero unless late
	Synced        bool
}

// Manifest event kinds.
const (
	ManifestBoard  = "board"
	ManifestReturn = "return"
)

// ManifestRecord is a locally captured participant boarding or return event.
type ManifestRecord struct {
	ID            string // UUID
	TripID        string
	ParticipantID string
	Kind          string // "board" or "return"
	At            time.Time
	Synced        bool
}

// Document is a locally captured file (passport scan, signed waiver)
// spooled for upload. Content lives in the spool under Checksum; the row
// and its mutation carry only metadata.
type Document struct {
	ID          string // UUID
	TripID      string
	Name        string // Original file name
	Checksum    string // SHA-256 of the spooled (possibly encrypted) content
	Size        int64
	ContentType string
	Encrypted   bool
	CapturedAt  time.Time
	Synced      bool
}

// DeadLetter is a mutation evicted from the queue because no route existed
// for its type after repeated drain cycles. Kept for operator inspection;
// requeueing restores it to the mutation queue.
type DeadLetter struct {
	ID         int64 // Original mutation ID
	Type       string
	Payload    json.RawMessage
	RecordID   string
	EnqueuedAt time.Time
	Reason     string
	MovedAt    time.Time
}

// Drain triggers.
const (
	TriggerOnline  = "online"
	TriggerStartup = "startup"
	TriggerManual  = "manual"
)

// SyncCycle is the persisted record of one drain cycle.
type SyncCycle struct {
	ID         int64
	Trigger    string
	StartedAt  time.Time
	FinishedAt time.Time
	Synced     int64
	Failed     int64
	Skipped    int64
}

// OutcomeStatus classifies the result of delivering one mutation.
type OutcomeStatus string

const (
	OutcomeSynced  OutcomeStatus = "synced"
	OutcomeFailed  OutcomeStatus = "failed"
	OutcomeSkipped OutcomeStatus = "skipped"
)

// Outcome is the per-mutation result of a drain cycle. Failures are
// captured here rather than raised; one failing mutation never stops the
// cycle.
type Outcome struct {
	MutationID int64
	Type       string
	Status     OutcomeStatus
	Reason     string // Empty for OutcomeSynced
}

// CycleSummary aggregates one drain cycle for the caller.
type CycleSummary struct {
	Trigger  string
	Outcomes []Outcome
}

// Synced returns the number of mutations delivered and acknowledged.
func (s *CycleSummary) Synced() int { return s.count(OutcomeSynced) }

// Failed returns the number of mutations left pending after a transient
// network or server failure.
func (s *CycleSummary) Failed() int { return s.count(OutcomeFailed) }

// Skipped returns the number of mutations with no route for their type.
func (s *CycleSummary) Skipped() int { return s.count(OutcomeSkipped) }

func (s *CycleSummary) count(status OutcomeStatus) int {
	n := 0
	for _, o := range s.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}
