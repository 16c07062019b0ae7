package store

import (
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestValidKind(t *testing.T) {
	tests := []struct {
		kind string
		want bool
	}{
		{"Meeting", true},
		{"Phone Call", true},
		{"Site Visit", true},
		{"BI Sourcing", true},
		{"meeting", false},
		{"Lunch", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			if got := ValidKind(tt.kind); got != tt.want {
				t.Errorf("ValidKind(%q) = %v, want %v", tt.kind, got, tt.want)
			}
		})
	}
}

func TestCreateAssignsClientID(t *testing.T) {
	db := testDB(t)

	a, err := db.Create(Draft{Kind: "Meeting", SubjectName: "Acme", ContactName: "Jo Kim"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if a.ClientID == "" {
		t.Error("expected a client id to be assigned")
	}
	if a.SyncState != StatePending {
		t.Errorf("new record SyncState = %v, want StatePending", a.SyncState)
	}
	if a.ServerID != nil {
		t.Errorf("new record ServerID = %v, want nil", *a.ServerID)
	}

	b, err := db.Create(Draft{Kind: "Meeting", SubjectName: "Acme", ContactName: "Jo Kim"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if a.ClientID == b.ClientID {
		t.Error("two creates produced the same client id")
	}
}

func TestCreateValidatesInput(t *testing.T) {
	db := testDB(t)

	tests := []struct {
		name  string
		draft Draft
	}{
		{"unknown kind", Draft{Kind: "Lunch", SubjectName: "Acme", ContactName: "Jo"}},
		{"missing subject", Draft{Kind: "Meeting", ContactName: "Jo"}},
		{"missing contact", Draft{Kind: "Meeting", SubjectName: "Acme"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := db.Create(tt.draft); err == nil {
				t.Error("expected an error, got nil")
			}
		})
	}
}

func TestListOrderMostRecentFirst(t *testing.T) {
	db := testDB(t)
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	for i, subject := range []string{"Oldest", "Middle", "Newest"} {
		_, err := db.Create(Draft{
			Kind:        "Site Visit",
			SubjectName: subject,
			ContactName: "Jo",
			OccurredAt:  base.Add(time.Duration(i) * time.Hour),
		})
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	acts, err := db.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	got := []string{}
	for _, a := range acts {
		got = append(got, a.SubjectName)
	}
	want := []string{"Newest", "Middle", "Oldest"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("List order = %v, want %v", got, want)
	}
}

func TestFindByClientID(t *testing.T) {
	db := testDB(t)

	acc := 12.5
	created, err := db.Create(Draft{
		Kind:        "Product Demo",
		SubjectName: "Acme",
		ContactName: "Jo Kim",
		Email:       "jo@acme.example",
		Phone:       "+254700000001",
		Notes:       "demo of the new line",
		Location: &Location{
			Latitude:   -1.2921,
			Longitude:  36.8219,
			Accuracy:   &acc,
			CapturedAt: time.Date(2026, 8, 1, 9, 30, 0, 0, time.UTC),
		},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	found, err := db.FindByClientID(created.ClientID)
	if err != nil {
		t.Fatalf("FindByClientID failed: %v", err)
	}
	if found == nil {
		t.Fatal("expected to find the record")
	}
	if !reflect.DeepEqual(found, created) {
		t.Errorf("round trip mismatch:\n got  %+v\n want %+v", found, created)
	}
	if found.Location == nil || found.Location.Accuracy == nil || *found.Location.Accuracy != 12.5 {
		t.Error("location accuracy was not preserved")
	}

	missing, err := db.FindByClientID("no-such-id")
	if err != nil {
		t.Fatalf("FindByClientID failed: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for unknown client id, got %+v", missing)
	}
}

func TestUpdateResetsSyncState(t *testing.T) {
	db := testDB(t)

	a, err := db.Create(Draft{Kind: "Meeting", SubjectName: "Acme", ContactName: "Jo"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := db.MarkSynced(a.ClientID, 42); err != nil {
		t.Fatalf("MarkSynced failed: %v", err)
	}

	newNotes := "follow up next week"
	if err := db.Update(a.ClientID, Patch{Notes: &newNotes}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, err := db.FindByClientID(a.ClientID)
	if err != nil {
		t.Fatalf("FindByClientID failed: %v", err)
	}
	if got.Notes != newNotes {
		t.Errorf("Notes = %q, want %q", got.Notes, newNotes)
	}
	if got.SyncState != StatePending {
		t.Error("local edit must reset SyncState to Pending")
	}
	if got.ServerID == nil || *got.ServerID != 42 {
		t.Error("local edit must not drop the server id")
	}
}

func TestUpdateUnknownID(t *testing.T) {
	db := testDB(t)
	subject := "Acme"
	if err := db.Update("no-such-id", Patch{SubjectName: &subject}); err == nil {
		t.Error("expected an error for unknown client id")
	}
}

func TestUpdateRejectsUnknownKind(t *testing.T) {
	db := testDB(t)
	a, err := db.Create(Draft{Kind: "Meeting", SubjectName: "Acme", ContactName: "Jo"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	bad := "Lunch"
	if err := db.Update(a.ClientID, Patch{Kind: &bad}); err == nil {
		t.Error("expected an error for unknown kind")
	}
}

func TestMarkSynced(t *testing.T) {
	db := testDB(t)

	a, err := db.Create(Draft{Kind: "Training", SubjectName: "Acme", ContactName: "Jo"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := db.MarkSynced(a.ClientID, 7); err != nil {
		t.Fatalf("MarkSynced failed: %v", err)
	}

	got, err := db.FindByClientID(a.ClientID)
	if err != nil {
		t.Fatalf("FindByClientID failed: %v", err)
	}
	if got.SyncState != StateSynced {
		t.Error("expected StateSynced after MarkSynced")
	}
	if got.ServerID == nil || *got.ServerID != 7 {
		t.Error("a synced record must carry its server id")
	}

	if err := db.MarkSynced("no-such-id", 1); err == nil {
		t.Error("expected an error for unknown client id")
	}
}

func TestPendingSelectsOnlyPending(t *testing.T) {
	db := testDB(t)

	a, _ := db.Create(Draft{Kind: "Meeting", SubjectName: "A", ContactName: "Jo"})
	b, _ := db.Create(Draft{Kind: "Meeting", SubjectName: "B", ContactName: "Jo"})
	if err := db.MarkSynced(a.ClientID, 1); err != nil {
		t.Fatalf("MarkSynced failed: %v", err)
	}

	pending, err := db.Pending()
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if len(pending) != 1 || pending[0].ClientID != b.ClientID {
		t.Errorf("Pending = %v records, want exactly the unsynced one", len(pending))
	}
}

func TestRemoveQueuesRemoteDelete(t *testing.T) {
	db := testDB(t)

	synced, _ := db.Create(Draft{Kind: "Meeting", SubjectName: "Synced", ContactName: "Jo"})
	if err := db.MarkSynced(synced.ClientID, 42); err != nil {
		t.Fatalf("MarkSynced failed: %v", err)
	}
	local, _ := db.Create(Draft{Kind: "Meeting", SubjectName: "LocalOnly", ContactName: "Jo"})

	if err := db.Remove(synced.ClientID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := db.Remove(local.ClientID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	if got, _ := db.FindByClientID(synced.ClientID); got != nil {
		t.Error("removed record still present")
	}

	// Only the server-accepted record produces a queued remote delete.
	dels, err := db.PendingDeletes()
	if err != nil {
		t.Fatalf("PendingDeletes failed: %v", err)
	}
	if len(dels) != 1 {
		t.Fatalf("PendingDeletes = %d, want 1", len(dels))
	}
	if dels[0].ServerID != 42 || dels[0].ClientID != synced.ClientID {
		t.Errorf("queued delete = %+v, want server id 42 for %s", dels[0], synced.ClientID)
	}

	if err := db.RemovePendingDelete(dels[0].ID); err != nil {
		t.Fatalf("RemovePendingDelete failed: %v", err)
	}
	dels, _ = db.PendingDeletes()
	if len(dels) != 0 {
		t.Errorf("PendingDeletes after removal = %d, want 0", len(dels))
	}
}

func TestRemoveUnknownID(t *testing.T) {
	db := testDB(t)
	if err := db.Remove("no-such-id"); err == nil {
		t.Error("expected an error for unknown client id")
	}
}

func TestReplaceAll(t *testing.T) {
	db := testDB(t)
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	db.Create(Draft{Kind: "Meeting", SubjectName: "OldContent", ContactName: "Jo"})

	id1, id2 := int64(1), int64(2)
	replacement := []Activity{
		{ClientID: "c-old", ServerID: &id1, Kind: "Meeting", SubjectName: "Older",
			ContactName: "Jo", OccurredAt: base, SyncState: StateSynced},
		{ClientID: "c-new", ServerID: &id2, Kind: "Site Visit", SubjectName: "Newer",
			ContactName: "Jo", OccurredAt: base.Add(time.Hour), SyncState: StateSynced},
	}

	if err := db.ReplaceAll(replacement); err != nil {
		t.Fatalf("ReplaceAll failed: %v", err)
	}

	acts, err := db.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(acts) != 2 {
		t.Fatalf("List = %d records, want 2", len(acts))
	}
	if acts[0].ClientID != "c-new" || acts[1].ClientID != "c-old" {
		t.Error("ReplaceAll must leave the collection sorted by business time descending")
	}

	// Replacing with the same set again yields the same collection.
	if err := db.ReplaceAll(replacement); err != nil {
		t.Fatalf("second ReplaceAll failed: %v", err)
	}
	again, _ := db.List()
	if !reflect.DeepEqual(acts, again) {
		t.Error("ReplaceAll with the same input is not idempotent")
	}
}

func TestDurabilityAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "durable.db")

	db, err := Open(path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	created, err := db.Create(Draft{Kind: "Consultation", SubjectName: "Acme", ContactName: "Jo"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.FindByClientID(created.ClientID)
	if err != nil {
		t.Fatalf("FindByClientID failed: %v", err)
	}
	if got == nil {
		t.Fatal("record lost across reopen")
	}
	if !reflect.DeepEqual(got, created) {
		t.Errorf("rehydrated record mismatch:\n got  %+v\n want %+v", got, created)
	}
}
