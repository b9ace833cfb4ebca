package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"guidesync/internal/database/migrations"
	"guidesync/internal/guide"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore implements the guide.Store interface using SQLite.
// Every write is durable before the call returns; the store performs no
// network I/O. Absent rows come back as nil, not errors.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens the store at path and idempotently brings its
// schema to the latest version. path can be a file path or ":memory:".
// Migrations are additive only, so reopening an older store after an app
// upgrade never loses queued mutations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	if err := migrations.Up(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating store: %w", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// NewSQLiteStoreFromDB wraps an existing database connection without
// running migrations. The caller is responsible for the schema and for
// closing the connection via Close.
func NewSQLiteStoreFromDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, path: ""}
}

// OpenConnection opens and configures a SQLite connection with the
// PRAGMAs the store relies on. Exported for tools and tests that need a
// properly configured connection.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign key constraints (SQLite default is OFF for backward compatibility)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// Wait for locks instead of failing when a background drain holds one.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// storageErr wraps write failures so callers can recognize the
// quota/denied class and surface it to the user immediately.
func storageErr(op string, err error) error {
	return &guide.StorageError{Op: op, Err: err}
}

// Mutation queue operations

func (s *SQLiteStore) AppendMutation(m *guide.Mutation) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO mutations (type, payload, record_id, enqueued_at, synced, skip_count)
		 VALUES (?, ?, ?, ?, 0, 0)`,
		m.Type, string(m.Payload), m.RecordID, m.EnqueuedAt)
	if err != nil {
		return 0, storageErr("appending mutation", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading mutation id: %w", err)
	}
	m.ID = id
	return id, nil
}

func (s *SQLiteStore) ListPendingMutations() ([]*guide.Mutation, error) {
	rows, err := s.db.Query(
		`SELECT id, type, payload, record_id, enqueued_at, synced, skip_count
		 FROM mutations WHERE synced = 0 ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing pending mutations: %w", err)
	}
	defer rows.Close()

	var result []*guide.Mutation
	for rows.Next() {
		m, err := scanMutation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing pending mutations: %w", err)
	}
	return result, nil
}

func (s *SQLiteStore) CountPendingMutations() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM mutations WHERE synced = 0`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting pending mutations: %w", err)
	}
	return n, nil
}

// recordTables maps a mutation type to the collection holding its linked
// record, so marking a mutation synced also flips the record's flag.
var recordTables = map[string]string{
	guide.TypeAttendanceCheckIn:  "attendance",
	guide.TypeAttendanceCheckOut: "attendance",
	guide.TypeManifestBoard:      "manifest_records",
	guide.TypeManifestReturn:     "manifest_records",
	guide.TypeDocumentUpload:     "documents",
}

func (s *SQLiteStore) MarkMutationSynced(id int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var mutationType, recordID string
	err = tx.QueryRow(`SELECT type, record_id FROM mutations WHERE id = ?`, id).
		Scan(&mutationType, &recordID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil // Pruned or dead-lettered; idempotent no-op.
	}
	if err != nil {
		return fmt.Errorf("finding mutation: %w", err)
	}

	if _, err := tx.Exec(`UPDATE mutations SET synced = 1 WHERE id = ?`, id); err != nil {
		return storageErr("marking mutation synced", err)
	}

	if table, ok := recordTables[mutationType]; ok && recordID != "" {
		query := fmt.Sprintf(`UPDATE %s SET synced = 1 WHERE id = ?`, table)
		if _, err := tx.Exec(query, recordID); err != nil {
			return storageErr("marking record synced", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) IncrementMutationSkip(id int64) (int64, error) {
	_, err := s.db.Exec(`UPDATE mutations SET skip_count = skip_count + 1 WHERE id = ?`, id)
	if err != nil {
		return 0, storageErr("incrementing skip count", err)
	}

	var count int64
	err = s.db.QueryRow(`SELECT skip_count FROM mutations WHERE id = ?`, id).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading skip count: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) MoveMutationToDeadLetter(id int64, reason string, at time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO dead_letters (id, type, payload, record_id, enqueued_at, reason, moved_at)
		 SELECT id, type, payload, record_id, enqueued_at, ?, ? FROM mutations WHERE id = ?`,
		reason, at, id)
	if err != nil {
		return storageErr("inserting dead letter", err)
	}

	if _, err := tx.Exec(`DELETE FROM mutations WHERE id = ?`, id); err != nil {
		return storageErr("removing dead-lettered mutation", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RequeueDeadLetter(id int64) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var mutationType, payload, recordID string
	var enqueuedAt time.Time
	err = tx.QueryRow(
		`SELECT type, payload, record_id, enqueued_at FROM dead_letters WHERE id = ?`, id).
		Scan(&mutationType, &payload, &recordID, &enqueuedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("dead letter %d not found", id)
	}
	if err != nil {
		return 0, fmt.Errorf("finding dead letter: %w", err)
	}

	res, err := tx.Exec(
		`INSERT INTO mutations (type, payload, record_id, enqueued_at, synced, skip_count)
		 VALUES (?, ?, ?, ?, 0, 0)`,
		mutationType, payload, recordID, enqueuedAt)
	if err != nil {
		return 0, storageErr("requeueing dead letter", err)
	}
	newID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading mutation id: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM dead_letters WHERE id = ?`, id); err != nil {
		return 0, storageErr("removing requeued dead letter", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing transaction: %w", err)
	}
	return newID, nil
}

func (s *SQLiteStore) ListDeadLetters() ([]*guide.DeadLetter, error) {
	rows, err := s.db.Query(
		`SELECT id, type, payload, record_id, enqueued_at, reason, moved_at
		 FROM dead_letters ORDER BY moved_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing dead letters: %w", err)
	}
	defer rows.Close()

	var result []*guide.DeadLetter
	for rows.Next() {
		var d guide.DeadLetter
		var payload string
		if err := rows.Scan(&d.ID, &d.Type, &payload, &d.RecordID, &d.EnqueuedAt, &d.Reason, &d.MovedAt); err != nil {
			return nil, fmt.Errorf("scanning dead letter: %w", err)
		}
		d.Payload = []byte(payload)
		result = append(result, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing dead letters: %w", err)
	}
	return result, nil
}

func (s *SQLiteStore) PruneSyncedMutations(before time.Time) (int64, error) {
	res, err := s.db.Exec(
		`DELETE FROM mutations WHERE synced = 1 AND enqueued_at < ?`, before)
	if err != nil {
		return 0, storageErr("pruning synced mutations", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned mutations: %w", err)
	}
	return n, nil
}

// Cached snapshot operations

func (s *SQLiteStore) PutTrip(t *guide.Trip) error {
	departs := sql.NullTime{Time: t.DepartsAt, Valid: !t.DepartsAt.IsZero()}
	_, err := s.db.Exec(
		`INSERT INTO trips (id, date, title, departs_at, payload, fetched_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   date = excluded.date, title = excluded.title, departs_at = excluded.departs_at,
		   payload = excluded.payload, fetched_at = excluded.fetched_at`,
		t.ID, t.Date, t.Title, departs, string(t.Payload), t.FetchedAt)
	if err != nil {
		return storageErr("caching trip", err)
	}
	return nil
}

func (s *SQLiteStore) GetTrip(id string) (*guide.Trip, error) {
	row := s.db.QueryRow(
		`SELECT id, date, title, departs_at, payload, fetched_at FROM trips WHERE id = ?`, id)

	t, err := scanTrip(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("finding trip: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) ListTripsByDate(date string) ([]*guide.Trip, error) {
	rows, err := s.db.Query(
		`SELECT id, date, title, departs_at, payload, fetched_at
		 FROM trips WHERE date = ? ORDER BY departs_at ASC, id ASC`, date)
	if err != nil {
		return nil, fmt.Errorf("listing trips by date: %w", err)
	}
	defer rows.Close()

	var result []*guide.Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning trip: %w", err)
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing trips by date: %w", err)
	}
	return result, nil
}

func (s *SQLiteStore) ReplaceManifest(tripID string, participants []*guide.Participant) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	// Last write wins: the new snapshot fully replaces the old one.
	if _, err := tx.Exec(`DELETE FROM manifest WHERE trip_id = ?`, tripID); err != nil {
		return storageErr("clearing manifest snapshot", err)
	}

	for _, p := range participants {
		_, err := tx.Exec(
			`INSERT INTO manifest (id, trip_id, name, payload, fetched_at) VALUES (?, ?, ?, ?, ?)`,
			p.ID, tripID, p.Name, string(p.Payload), p.FetchedAt)
		if err != nil {
			return storageErr("caching manifest participant", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListManifest(tripID string) ([]*guide.Participant, error) {
	rows, err := s.db.Query(
		`SELECT id, trip_id, name, payload, fetched_at FROM manifest WHERE trip_id = ? ORDER BY name ASC, id ASC`,
		tripID)
	if err != nil {
		return nil, fmt.Errorf("listing manifest: %w", err)
	}
	defer rows.Close()

	var result []*guide.Participant
	for rows.Next() {
		var p guide.Participant
		var payload string
		if err := rows.Scan(&p.ID, &p.TripID, &p.Name, &payload, &p.FetchedAt); err != nil {
			return nil, fmt.Errorf("scanning participant: %w", err)
		}
		p.Payload = []byte(payload)
		result = append(result, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing manifest: %w", err)
	}
	return result, nil
}

// Recorder operations. Each writes the domain record and its delivery
// mutation in one transaction so local state and the sync queue can never
// diverge.

func (s *SQLiteStore) SaveAttendance(rec *guide.AttendanceRecord, m *guide.Mutation) (int64, error) {
	return s.saveRecordAndMutation(m, func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO attendance (id, trip_id, guide_id, kind, at, latitude, longitude, accuracy, is_late, penalty_amount, synced)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
			rec.ID, rec.TripID, rec.GuideID, rec.Kind, rec.At,
			rec.Latitude, rec.Longitude, rec.Accuracy, rec.IsLate, rec.PenaltyAmount)
		return err
	})
}

func (s *SQLiteStore) SaveManifestRecord(rec *guide.ManifestRecord, m *guide.Mutation) (int64, error) {
	return s.saveRecordAndMutation(m, func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO manifest_records (id, trip_id, participant_id, kind, at, synced)
			 VALUES (?, ?, ?, ?, ?, 0)`,
			rec.ID, rec.TripID, rec.ParticipantID, rec.Kind, rec.At)
		return err
	})
}

func (s *SQLiteStore) SaveDocument(doc *guide.Document, m *guide.Mutation) (int64, error) {
	return s.saveRecordAndMutation(m, func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO documents (id, trip_id, name, checksum, size, content_type, encrypted, captured_at, synced)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)`,
			doc.ID, doc.TripID, doc.Name, doc.Checksum, doc.Size, doc.ContentType, doc.Encrypted, doc.CapturedAt)
		return err
	})
}

// saveRecordAndMutation runs the record insert and the mutation append in
// a single transaction, returning the assigned mutation ID.
func (s *SQLiteStore) saveRecordAndMutation(m *guide.Mutation, insertRecord func(*sql.Tx) error) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertRecord(tx); err != nil {
		return 0, storageErr("saving record", err)
	}

	res, err := tx.Exec(
		`INSERT INTO mutations (type, payload, record_id, enqueued_at, synced, skip_count)
		 VALUES (?, ?, ?, ?, 0, 0)`,
		m.Type, string(m.Payload), m.RecordID, m.EnqueuedAt)
	if err != nil {
		return 0, storageErr("appending mutation", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading mutation id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, storageErr("committing record and mutation", err)
	}
	m.ID = id
	return id, nil
}

// Local reads for offline rendering

func (s *SQLiteStore) ListAttendanceByTrip(tripID string) ([]*guide.AttendanceRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, trip_id, guide_id, kind, at, latitude, longitude, accuracy, is_late, penalty_amount, synced
		 FROM attendance WHERE trip_id = ? ORDER BY at ASC, id ASC`, tripID)
	if err != nil {
		return nil, fmt.Errorf("listing attendance: %w", err)
	}
	defer rows.Close()

	var result []*guide.AttendanceRecord
	for rows.Next() {
		var r guide.AttendanceRecord
		if err := rows.Scan(&r.ID, &r.TripID, &r.GuideID, &r.Kind, &r.At,
			&r.Latitude, &r.Longitude, &r.Accuracy, &r.IsLate, &r.PenaltyAmount, &r.Synced); err != nil {
			return nil, fmt.Errorf("scanning attendance record: %w", err)
		}
		result = append(result, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing attendance: %w", err)
	}
	return result, nil
}

func (s *SQLiteStore) ListManifestRecordsByTrip(tripID string) ([]*guide.ManifestRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, trip_id, participant_id, kind, at, synced
		 FROM manifest_records WHERE trip_id = ? ORDER BY at ASC, id ASC`, tripID)
	if err != nil {
		return nil, fmt.Errorf("listing manifest records: %w", err)
	}
	defer rows.Close()

	var result []*guide.ManifestRecord
	for rows.Next() {
		var r guide.ManifestRecord
		if err := rows.Scan(&r.ID, &r.TripID, &r.ParticipantID, &r.Kind, &r.At, &r.Synced); err != nil {
			return nil, fmt.Errorf("scanning manifest record: %w", err)
		}
		result = append(result, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing manifest records: %w", err)
	}
	return result, nil
}

func (s *SQLiteStore) GetDocument(id string) (*guide.Document, error) {
	var d guide.Document
	err := s.db.QueryRow(
		`SELECT id, trip_id, name, checksum, size, content_type, encrypted, captured_at, synced
		 FROM documents WHERE id = ?`, id).
		Scan(&d.ID, &d.TripID, &d.Name, &d.Checksum, &d.Size, &d.ContentType, &d.Encrypted, &d.CapturedAt, &d.Synced)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("finding document: %w", err)
	}
	return &d, nil
}

func (s *SQLiteStore) ListDocumentsByTrip(tripID string) ([]*guide.Document, error) {
	rows, err := s.db.Query(
		`SELECT id, trip_id, name, checksum, size, content_type, encrypted, captured_at, synced
		 FROM documents WHERE trip_id = ? ORDER BY captured_at ASC, id ASC`, tripID)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var result []*guide.Document
	for rows.Next() {
		var d guide.Document
		if err := rows.Scan(&d.ID, &d.TripID, &d.Name, &d.Checksum, &d.Size, &d.ContentType, &d.Encrypted, &d.CapturedAt, &d.Synced); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		result = append(result, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	return result, nil
}

// Sync cycle bookkeeping

func (s *SQLiteStore) StartSyncCycle(trigger string, at time.Time) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO sync_cycles (trigger_kind, started_at) VALUES (?, ?)`, trigger, at)
	if err != nil {
		return 0, storageErr("recording sync cycle", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading sync cycle id: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) FinishSyncCycle(id int64, at time.Time, synced, failed, skipped int64) error {
	_, err := s.db.Exec(
		`UPDATE sync_cycles SET finished_at = ?, synced = ?, failed = ?, skipped = ? WHERE id = ?`,
		at, synced, failed, skipped, id)
	if err != nil {
		return storageErr("finishing sync cycle", err)
	}
	return nil
}

func (s *SQLiteStore) ListSyncCycles(limit int) ([]*guide.SyncCycle, error) {
	rows, err := s.db.Query(
		`SELECT id, trigger_kind, started_at, finished_at, synced, failed, skipped
		 FROM sync_cycles ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing sync cycles: %w", err)
	}
	defer rows.Close()

	var result []*guide.SyncCycle
	for rows.Next() {
		var c guide.SyncCycle
		var finished sql.NullTime
		if err := rows.Scan(&c.ID, &c.Trigger, &c.StartedAt, &finished, &c.Synced, &c.Failed, &c.Skipped); err != nil {
			return nil, fmt.Errorf("scanning sync cycle: %w", err)
		}
		if finished.Valid {
			c.FinishedAt = finished.Time
		}
		result = append(result, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing sync cycles: %w", err)
	}
	return result, nil
}

// Path returns the database file path (or ":memory:" for in-memory stores).
func (s *SQLiteStore) Path() string {
	return s.path
}

// CheckMigrations verifies the store schema is up-to-date.
func (s *SQLiteStore) CheckMigrations() error {
	return migrations.Status(s.db)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanMutation(sc scanner) (*guide.Mutation, error) {
	var m guide.Mutation
	var payload string
	if err := sc.Scan(&m.ID, &m.Type, &payload, &m.RecordID, &m.EnqueuedAt, &m.Synced, &m.SkipCount); err != nil {
		return nil, fmt.Errorf("scanning mutation: %w", err)
	}
	m.Payload = []byte(payload)
	return &m, nil
}

func scanTrip(sc scanner) (*guide.Trip, error) {
	var t guide.Trip
	var departs sql.NullTime
	var payload string
	if err := sc.Scan(&t.ID, &t.Date, &t.Title, &departs, &payload, &t.FetchedAt); err != nil {
		return nil, err
	}
	if departs.Valid {
		t.DepartsAt = departs.Time
	}
	t.Payload = []byte(payload)
	return &t, nil
}

// Compile-time check that SQLiteStore implements guide.Store
var _ guide.Store = (*SQLiteStore)(nil)
