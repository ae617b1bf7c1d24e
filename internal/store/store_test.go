package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/dmsync/internal/model"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := testDB(t)

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
}

func TestPendingOps(t *testing.T) {
	db := testDB(t)
	base := time.UnixMilli(1_700_000_000_000)

	ops := []model.PendingOp{
		{Recipient: "bob", Content: "one", ClientMessageID: "c1", Timestamp: base},
		{Recipient: "bob", Content: "two", ClientMessageID: "c2", Timestamp: base.Add(time.Second)},
	}
	for _, op := range ops {
		if err := db.InsertPendingOp(op); err != nil {
			t.Fatal(err)
		}
	}
	// Same client id again must not duplicate.
	if err := db.InsertPendingOp(model.PendingOp{Recipient: "bob", Content: "dup", ClientMessageID: "c1"}); err != nil {
		t.Fatal(err)
	}

	got, err := db.ListPendingOps()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d ops, want 2", len(got))
	}
	if got[0].ClientMessageID != "c1" || got[0].Content != "one" {
		t.Errorf("first op = %+v, want c1/one", got[0])
	}
	if !got[0].Timestamp.Equal(base) {
		t.Errorf("timestamp = %v, want %v", got[0].Timestamp, base)
	}

	removed, err := db.DeletePendingOp("c1")
	if err != nil {
		t.Fatal(err)
	}
	if !removed {
		t.Error("DeletePendingOp(c1) = false, want true")
	}
	removed, _ = db.DeletePendingOp("c1")
	if removed {
		t.Error("second DeletePendingOp(c1) = true, want false")
	}

	n, err := db.CountPendingOps()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}

	if err := db.ClearPendingOps(); err != nil {
		t.Fatal(err)
	}
	n, _ = db.CountPendingOps()
	if n != 0 {
		t.Errorf("count after clear = %d, want 0", n)
	}
}

func TestPendingOpsSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	if err := db.InsertPendingOp(model.PendingOp{Recipient: "bob", Content: "x", ClientMessageID: "c1"}); err != nil {
		t.Fatal(err)
	}
	_ = db.Close()

	db, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()
	ops, err := db.ListPendingOps()
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 1 || ops[0].ClientMessageID != "c1" {
		t.Errorf("after reopen got %+v, want one op c1", ops)
	}
}

func TestUserLookup(t *testing.T) {
	db := testDB(t)

	if err := db.PutUserLookup(UserLookup{Username: "bob", UserID: "7"}); err != nil {
		t.Fatal(err)
	}
	id, err := db.UserIDByName("bob")
	if err != nil {
		t.Fatal(err)
	}
	if id != "7" {
		t.Errorf("UserIDByName(bob) = %q, want 7", id)
	}
	name, err := db.UsernameByID("7")
	if err != nil {
		t.Fatal(err)
	}
	if name != "bob" {
		t.Errorf("UsernameByID(7) = %q, want bob", name)
	}

	missing, err := db.UserIDByName("nobody")
	if err != nil {
		t.Fatal(err)
	}
	if missing != "" {
		t.Errorf("UserIDByName(nobody) = %q, want empty", missing)
	}

	all, err := db.ListUserLookups()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Errorf("got %d lookups, want 1", len(all))
	}
}

func TestCheckpoint(t *testing.T) {
	db := testDB(t)

	if _, ok, err := db.Checkpoint("last_message_id:bob"); err != nil || ok {
		t.Fatalf("Checkpoint on empty db = ok %v err %v, want false nil", ok, err)
	}
	if err := db.SetCheckpoint("last_message_id:bob", "10"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetCheckpoint("last_message_id:bob", "12"); err != nil {
		t.Fatal(err)
	}
	v, ok, err := db.Checkpoint("last_message_id:bob")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || v != "12" {
		t.Errorf("Checkpoint = %q %v, want 12 true", v, ok)
	}
}

func TestListCheckpoints(t *testing.T) {
	db := testDB(t)

	if err := db.SetCheckpoint("last_message_id:carol", "3"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetCheckpoint("last_message_id:bob", "9"); err != nil {
		t.Fatal(err)
	}
	got, err := db.ListCheckpoints()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d checkpoints, want 2", len(got))
	}
	if got[0].Key != "last_message_id:bob" || got[0].Value != "9" {
		t.Errorf("first = %+v, want bob=9", got[0])
	}
	if got[1].UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set")
	}
}
