package store

import (
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/orbitalworks/constellation/pkg/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db
}

func sampleConstellation(id string) *models.Constellation {
	c := models.NewConstellation(id, "sample")
	c.State = models.StateCompleted
	c.LLMSource = "oracle-v1"

	a := models.NewTask("A", "first")
	a.Status = models.TaskStatusCompleted
	a.Result = "ok"
	b := models.NewTask("B", "second")
	b.Status = models.TaskStatusFailed
	b.Error = "boom"
	c.Tasks["A"] = a
	c.Tasks["B"] = b
	c.Dependencies["l1"] = models.NewDependency("l1", "A", "B")
	return c
}

func TestArchiveRoundTrip(t *testing.T) {
	db := openTestDB(t)
	c := sampleConstellation("c1")

	if err := db.Archive(c); err != nil {
		t.Fatalf("Archive() error = %v", err)
	}

	loaded, err := db.Load("c1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !reflect.DeepEqual(c, loaded) {
		t.Errorf("archived constellation does not round-trip:\n got %+v\nwant %+v", loaded, c)
	}
}

func TestListSummaries(t *testing.T) {
	db := openTestDB(t)

	if err := db.Archive(sampleConstellation("c1")); err != nil {
		t.Fatal(err)
	}
	c2 := sampleConstellation("c2")
	c2.State = models.StatePartiallyFailed
	if err := db.Archive(c2); err != nil {
		t.Fatal(err)
	}

	entries, err := db.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}

	byID := map[string]ArchiveEntry{}
	for _, e := range entries {
		byID[e.ConstellationID] = e
	}
	e1 := byID["c1"]
	if e1.TaskCount != 2 || e1.FailedCount != 1 {
		t.Errorf("c1 summary = %+v, want 2 tasks / 1 failed", e1)
	}
	if e1.LLMSource != "oracle-v1" {
		t.Errorf("c1 llm_source = %q", e1.LLMSource)
	}
	if byID["c2"].State != models.StatePartiallyFailed {
		t.Errorf("c2 state = %s", byID["c2"].State)
	}
	if time.Since(e1.ArchivedAt) > time.Minute {
		t.Errorf("archived_at not recent: %v", e1.ArchivedAt)
	}
}

func TestRearchiveReplacesDocument(t *testing.T) {
	db := openTestDB(t)
	c := sampleConstellation("c1")
	if err := db.Archive(c); err != nil {
		t.Fatal(err)
	}

	c.Tasks["C"] = models.NewTask("C", "third")
	if err := db.Archive(c); err != nil {
		t.Fatalf("re-Archive() error = %v", err)
	}

	entries, err := db.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1 (replace, not duplicate)", len(entries))
	}
	if entries[0].TaskCount != 3 {
		t.Errorf("task_count = %d, want 3 after re-archive", entries[0].TaskCount)
	}

	loaded, err := db.Load("c1")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := loaded.Tasks["C"]; !ok {
		t.Error("re-archived document missing new task C")
	}
}

func TestLoadMissing(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.Load("nope"); err == nil {
		t.Error("Load() of unknown id should fail")
	}
}

func TestLoadRejectsCorruptDocument(t *testing.T) {
	db := openTestDB(t)
	_, err := db.conn.Exec(`
		INSERT INTO archives (constellation_id, name, state, task_count, failed_count, document, archived_at)
		VALUES ('bad', 'bad', 'completed', 0, 0, '{"constellation_id": "bad", "tasks": {"X":', ?)
	`, formatTime(time.Now()))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := db.Load("bad"); err == nil {
		t.Error("Load() of a corrupt document should fail, not return a partial constellation")
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	if err := db.Migrate(); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
	if err := db.Archive(sampleConstellation("c1")); err != nil {
		t.Fatalf("Archive() after re-migrate error = %v", err)
	}
}
