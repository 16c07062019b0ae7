// Package store provides the SQLite-backed local activity collection.
// It is the single source of truth for what the client renders: records
// are written here first, before any network attempt, and carry a sync
// state flag that only the reconciler flips.
package store

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SyncState tracks whether a record's current content has been confirmed
// accepted by the remote system. It is local-only and never transmitted.
type SyncState int

const (
	// StatePending means the record has local changes the server has not seen.
	StatePending SyncState = iota
	// StateSynced means the server has accepted the record's current content.
	StateSynced
)

// Kinds is the fixed set of activity categories.
var Kinds = []string{
	"Meeting",
	"Phone Call",
	"Site Visit",
	"Product Demo",
	"Training",
	"Consultation",
	"Promotion",
	"BI Sourcing",
}

// ValidKind reports whether kind is one of the known activity categories.
func ValidKind(kind string) bool {
	for _, k := range Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Location is a coordinate captured once at record creation.
type Location struct {
	Latitude   float64
	Longitude  float64
	Accuracy   *float64
	CapturedAt time.Time
}

// Activity is the syncable domain record.
type Activity struct {
	ClientID    string // assigned at creation, immutable, the cross-system join key
	ServerID    *int64 // nil until the remote system accepts the record
	Kind        string
	SubjectName string
	ContactName string
	Email       string
	Phone       string
	Notes       string
	Location    *Location
	OccurredAt  time.Time // business time, distinct from storage time
	SyncState   SyncState
}

// Draft holds the caller-supplied fields for a new activity.
type Draft struct {
	Kind        string
	SubjectName string
	ContactName string
	Email       string
	Phone       string
	Notes       string
	Location    *Location
	OccurredAt  time.Time // zero means "now"
}

// Patch contains optional fields for updating an activity.
// Nil fields are not updated.
type Patch struct {
	Kind        *string
	SubjectName *string
	ContactName *string
	Email       *string
	Phone       *string
	Notes       *string
	OccurredAt  *time.Time
}

// PendingDelete is a queued remote delete for a locally removed record
// that the server had already accepted.
type PendingDelete struct {
	ID       int64
	ServerID int64
	ClientID string
	QueuedAt time.Time
}

// DB is the durable local record store.
type DB struct {
	path string
	conn *sql.DB
}

const createActivitiesSQL = `
CREATE TABLE IF NOT EXISTS activities (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    client_id TEXT NOT NULL UNIQUE,
    server_id INTEGER,
    kind TEXT NOT NULL,
    subject_name TEXT NOT NULL,
    contact_name TEXT NOT NULL,
    email TEXT,
    phone TEXT,
    notes TEXT,
    latitude REAL,
    longitude REAL,
    accuracy REAL,
    location_captured_at TEXT,
    occurred_at TEXT NOT NULL,
    sync_state INTEGER NOT NULL DEFAULT 0
);
`

const createPendingDeletesSQL = `
CREATE TABLE IF NOT EXISTS pending_deletes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    server_id INTEGER NOT NULL,
    client_id TEXT NOT NULL,
    queued_at TEXT NOT NULL
);
`

// Open creates or opens the store at the given path and initializes the schema.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite supports a single writer; one connection prevents
	// "database is locked" errors when the reconciler and the CLI
	// mutate the collection from different goroutines.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	if _, err := conn.Exec(createActivitiesSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create activities table: %w", err)
	}
	if _, err := conn.Exec(createPendingDeletesSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create pending_deletes table: %w", err)
	}

	return &DB{path: path, conn: conn}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Create assigns a client id to the draft and inserts it with SyncState
// Pending. It never touches the network and fails only on invalid input
// or a persistence error, which is surfaced rather than swallowed.
func (db *DB) Create(draft Draft) (*Activity, error) {
	if !ValidKind(draft.Kind) {
		return nil, fmt.Errorf("unknown activity kind %q", draft.Kind)
	}
	if draft.SubjectName == "" || draft.ContactName == "" {
		return nil, fmt.Errorf("subject name and contact name are required")
	}

	occurredAt := draft.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}
	// RFC3339 storage keeps second precision; round now so the value
	// handed back equals what a later read returns.
	occurredAt = occurredAt.UTC().Truncate(time.Second)

	act := Activity{
		ClientID:    uuid.NewString(),
		Kind:        draft.Kind,
		SubjectName: draft.SubjectName,
		ContactName: draft.ContactName,
		Email:       draft.Email,
		Phone:       draft.Phone,
		Notes:       draft.Notes,
		Location:    draft.Location,
		OccurredAt:  occurredAt,
		SyncState:   StatePending,
	}

	if err := db.insert(db.conn, act); err != nil {
		return nil, err
	}
	return &act, nil
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

func (db *DB) insert(e execer, act Activity) error {
	query := `
		INSERT INTO activities (
			client_id, server_id, kind, subject_name, contact_name,
			email, phone, notes, latitude, longitude, accuracy,
			location_captured_at, occurred_at, sync_state
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var serverID sql.NullInt64
	if act.ServerID != nil {
		serverID = sql.NullInt64{Int64: *act.ServerID, Valid: true}
	}

	var lat, lng, acc sql.NullFloat64
	var capturedAt sql.NullString
	if act.Location != nil {
		lat = sql.NullFloat64{Float64: act.Location.Latitude, Valid: true}
		lng = sql.NullFloat64{Float64: act.Location.Longitude, Valid: true}
		if act.Location.Accuracy != nil {
			acc = sql.NullFloat64{Float64: *act.Location.Accuracy, Valid: true}
		}
		if !act.Location.CapturedAt.IsZero() {
			capturedAt = sql.NullString{String: act.Location.CapturedAt.UTC().Format(time.RFC3339), Valid: true}
		}
	}

	_, err := e.Exec(query,
		act.ClientID,
		serverID,
		act.Kind,
		act.SubjectName,
		act.ContactName,
		sql.NullString{String: act.Email, Valid: act.Email != ""},
		sql.NullString{String: act.Phone, Valid: act.Phone != ""},
		sql.NullString{String: act.Notes, Valid: act.Notes != ""},
		lat, lng, acc, capturedAt,
		act.OccurredAt.UTC().Format(time.RFC3339),
		int(act.SyncState),
	)
	if err != nil {
		return fmt.Errorf("failed to insert activity: %w", err)
	}
	return nil
}

const selectColumns = `client_id, server_id, kind, subject_name, contact_name,
       email, phone, notes, latitude, longitude, accuracy,
       location_captured_at, occurred_at, sync_state`

// FindByClientID retrieves an activity by its client id.
// Returns (nil, nil) when the record does not exist.
func (db *DB) FindByClientID(clientID string) (*Activity, error) {
	query := fmt.Sprintf("SELECT %s FROM activities WHERE client_id = ?", selectColumns)
	row := db.conn.QueryRow(query, clientID)
	return scanActivityFrom(row)
}

// List retrieves the full collection ordered by business time descending.
func (db *DB) List() ([]Activity, error) {
	query := fmt.Sprintf("SELECT %s FROM activities ORDER BY occurred_at DESC", selectColumns)
	return db.queryActivities(query)
}

// Pending retrieves all records with SyncState Pending, oldest business
// time first so a push drains the backlog in creation order.
func (db *DB) Pending() ([]Activity, error) {
	query := fmt.Sprintf("SELECT %s FROM activities WHERE sync_state = 0 ORDER BY occurred_at ASC", selectColumns)
	return db.queryActivities(query)
}

func (db *DB) queryActivities(query string, args ...interface{}) ([]Activity, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query activities: %w", err)
	}
	defer rows.Close()

	acts := []Activity{}
	for rows.Next() {
		act, err := scanActivityFrom(rows)
		if err != nil {
			return nil, err
		}
		acts = append(acts, *act)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return acts, nil
}

// Update merges the patch into an existing record and resets its sync
// state to Pending: any local edit invalidates prior sync status.
func (db *DB) Update(clientID string, patch Patch) error {
	var setClauses []string
	var args []interface{}

	if patch.Kind != nil {
		if !ValidKind(*patch.Kind) {
			return fmt.Errorf("unknown activity kind %q", *patch.Kind)
		}
		setClauses = append(setClauses, "kind = ?")
		args = append(args, *patch.Kind)
	}
	if patch.SubjectName != nil {
		setClauses = append(setClauses, "subject_name = ?")
		args = append(args, *patch.SubjectName)
	}
	if patch.ContactName != nil {
		setClauses = append(setClauses, "contact_name = ?")
		args = append(args, *patch.ContactName)
	}
	if patch.Email != nil {
		setClauses = append(setClauses, "email = ?")
		args = append(args, *patch.Email)
	}
	if patch.Phone != nil {
		setClauses = append(setClauses, "phone = ?")
		args = append(args, *patch.Phone)
	}
	if patch.Notes != nil {
		setClauses = append(setClauses, "notes = ?")
		args = append(args, *patch.Notes)
	}
	if patch.OccurredAt != nil {
		setClauses = append(setClauses, "occurred_at = ?")
		args = append(args, patch.OccurredAt.UTC().Format(time.RFC3339))
	}

	setClauses = append(setClauses, "sync_state = 0")
	args = append(args, clientID)

	query := fmt.Sprintf("UPDATE activities SET %s WHERE client_id = ?", strings.Join(setClauses, ", "))

	result, err := db.conn.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update activity: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("no activity found with client id %s", clientID)
	}
	return nil
}

// MarkSynced records that the server accepted the record, storing the
// server-assigned id and flipping the state to Synced. A Synced record
// always carries a server id.
func (db *DB) MarkSynced(clientID string, serverID int64) error {
	result, err := db.conn.Exec(
		"UPDATE activities SET sync_state = 1, server_id = ? WHERE client_id = ?",
		serverID, clientID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark activity synced: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("no activity found with client id %s", clientID)
	}
	return nil
}

// Remove deletes the record locally, immediately. If the server had
// accepted the record, a remote delete is queued for the reconciler.
func (db *DB) Remove(clientID string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var serverID sql.NullInt64
	err = tx.QueryRow("SELECT server_id FROM activities WHERE client_id = ?", clientID).Scan(&serverID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("no activity found with client id %s", clientID)
	}
	if err != nil {
		return fmt.Errorf("failed to look up activity: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM activities WHERE client_id = ?", clientID); err != nil {
		return fmt.Errorf("failed to delete activity: %w", err)
	}

	if serverID.Valid {
		queuedAt := time.Now().UTC().Format(time.RFC3339)
		_, err := tx.Exec(
			"INSERT INTO pending_deletes (server_id, client_id, queued_at) VALUES (?, ?, ?)",
			serverID.Int64, clientID, queuedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to queue remote delete: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ReplaceAll swaps the entire collection for the given set in one
// transaction, sorted by business time descending. This is the merge
// commit path: a failed network call can never leave the collection
// half-mutated because nothing else writes partial fields.
func (db *DB) ReplaceAll(acts []Activity) error {
	sorted := make([]Activity, len(acts))
	copy(sorted, acts)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].OccurredAt.After(sorted[j].OccurredAt)
	})

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM activities"); err != nil {
		return fmt.Errorf("failed to clear activities: %w", err)
	}
	for _, act := range sorted {
		if err := db.insert(tx, act); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// PendingDeletes retrieves queued remote deletes, oldest first.
func (db *DB) PendingDeletes() ([]PendingDelete, error) {
	rows, err := db.conn.Query("SELECT id, server_id, client_id, queued_at FROM pending_deletes ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query pending deletes: %w", err)
	}
	defer rows.Close()

	var dels []PendingDelete
	for rows.Next() {
		var d PendingDelete
		var queuedAt string
		if err := rows.Scan(&d.ID, &d.ServerID, &d.ClientID, &queuedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pending delete: %w", err)
		}
		if t, err := time.Parse(time.RFC3339, queuedAt); err == nil {
			d.QueuedAt = t
		}
		dels = append(dels, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending delete rows: %w", err)
	}
	return dels, nil
}

// RemovePendingDelete drops a queued remote delete after it succeeded.
func (db *DB) RemovePendingDelete(id int64) error {
	if _, err := db.conn.Exec("DELETE FROM pending_deletes WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to remove pending delete: %w", err)
	}
	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanActivityFrom(s scanner) (*Activity, error) {
	var act Activity
	var serverID sql.NullInt64
	var email, phone, notes, capturedAt sql.NullString
	var lat, lng, acc sql.NullFloat64
	var occurredAt string
	var syncState int

	err := s.Scan(
		&act.ClientID,
		&serverID,
		&act.Kind,
		&act.SubjectName,
		&act.ContactName,
		&email,
		&phone,
		&notes,
		&lat,
		&lng,
		&acc,
		&capturedAt,
		&occurredAt,
		&syncState,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan activity: %w", err)
	}

	if serverID.Valid {
		id := serverID.Int64
		act.ServerID = &id
	}
	act.Email = email.String
	act.Phone = phone.String
	act.Notes = notes.String
	act.SyncState = SyncState(syncState)

	if t, err := time.Parse(time.RFC3339, occurredAt); err == nil {
		act.OccurredAt = t
	} else {
		return nil, fmt.Errorf("failed to parse occurred_at %q: %w", occurredAt, err)
	}

	if lat.Valid && lng.Valid {
		loc := Location{Latitude: lat.Float64, Longitude: lng.Float64}
		if acc.Valid {
			a := acc.Float64
			loc.Accuracy = &a
		}
		if capturedAt.Valid && capturedAt.String != "" {
			if t, err := time.Parse(time.RFC3339, capturedAt.String); err == nil {
				loc.CapturedAt = t
			}
		}
		act.Location = &loc
	}

	return &act, nil
}
