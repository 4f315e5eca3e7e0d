package cache

import (
	"os"
	"testing"

	"roomsync/pkg/logger"
	"roomsync/pkg/models"
)

func TestMain(m *testing.M) {
	logger.Init()
	os.Exit(m.Run())
}

func entry(id string, ts int64, author, body string) models.Entry {
	return models.Entry{Message: models.Message{ID: id, CreatedTS: ts, Author: author, Body: body, Kind: models.KindText}}
}

func TestUpsertIdempotence(t *testing.T) {
	c, err := Open(t.TempDir(), "r1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	ins, err := c.Upsert(entry("m1", 10, "u1", "first"))
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if !ins {
		t.Fatalf("first upsert should insert")
	}
	ins, err = c.Upsert(entry("m1", 10, "u1", "rewritten"))
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if ins {
		t.Fatalf("second upsert of same id should replace, not insert")
	}

	got, ok, err := c.Get("m1")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.Body != "rewritten" {
		t.Fatalf("content must equal last-applied upsert, got %q", got.Body)
	}
	entries, err := c.QueryLatest(0)
	if err != nil {
		t.Fatalf("QueryLatest: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("cache must hold exactly one entry per id, got %d", len(entries))
	}
}

func TestQueryLatestWindowOrder(t *testing.T) {
	c, err := Open(t.TempDir(), "r1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	// insert out of order, including a timestamp tie broken by id
	for _, e := range []models.Entry{
		entry("m3", 30, "u1", "c"),
		entry("m1", 10, "u1", "a"),
		entry("m4", 30, "u2", "d"),
		entry("m2", 20, "u2", "b"),
	} {
		if _, err := c.Upsert(e); err != nil {
			t.Fatalf("Upsert %s: %v", e.ID, err)
		}
	}

	entries, err := c.QueryLatest(3)
	if err != nil {
		t.Fatalf("QueryLatest: %v", err)
	}
	want := []string{"m2", "m3", "m4"}
	if len(entries) != len(want) {
		t.Fatalf("want %d entries, got %d", len(want), len(entries))
	}
	for i, id := range want {
		if entries[i].ID != id {
			t.Fatalf("position %d: want %s got %s", i, id, entries[i].ID)
		}
	}
}

func TestQueryLatestEmptyCache(t *testing.T) {
	c, err := Open(t.TempDir(), "r1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()
	entries, err := c.QueryLatest(10)
	if err != nil {
		t.Fatalf("empty cache must not error: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty result, got %d", len(entries))
	}
}

func TestUpsertRekeysWhenTimestampResolves(t *testing.T) {
	c, err := Open(t.TempDir(), "r1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	if _, err := c.Upsert(entry("m1", 5, "u1", "early")); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if _, err := c.Upsert(entry("m1", 7, "u1", "final")); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	entries, err := c.QueryLatest(0)
	if err != nil {
		t.Fatalf("QueryLatest: %v", err)
	}
	if len(entries) != 1 || entries[0].CreatedTS != 7 {
		t.Fatalf("expected single rekeyed entry with ts=7, got %+v", entries)
	}
}

func TestMembersRoundTrip(t *testing.T) {
	c, err := Open(t.TempDir(), "r1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	if err := c.PutMember(models.Member{ID: "u1", Name: "Alice"}); err != nil {
		t.Fatalf("PutMember: %v", err)
	}
	m, ok, err := c.Member("u1")
	if err != nil || !ok {
		t.Fatalf("Member: ok=%v err=%v", ok, err)
	}
	if m.Name != "Alice" {
		t.Fatalf("unexpected member: %+v", m)
	}
	if _, ok, _ := c.Member("u2"); ok {
		t.Fatalf("unknown member must not be found")
	}
}

func TestClearRemovesOnlyThisRoom(t *testing.T) {
	root := t.TempDir()
	c1, err := Open(root, "r1")
	if err != nil {
		t.Fatalf("Open r1: %v", err)
	}
	defer c1.Close()
	c2, err := Open(root, "r2")
	if err != nil {
		t.Fatalf("Open r2: %v", err)
	}
	defer c2.Close()

	if _, err := c1.Upsert(entry("m1", 1, "u1", "a")); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if _, err := c2.Upsert(entry("m2", 1, "u1", "b")); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := c1.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	e1, _ := c1.QueryLatest(0)
	if len(e1) != 0 {
		t.Fatalf("r1 must be empty after clear")
	}
	e2, _ := c2.QueryLatest(0)
	if len(e2) != 1 {
		t.Fatalf("r2 must be untouched, got %d entries", len(e2))
	}
}

func TestClearAllRemovesRoomDirs(t *testing.T) {
	root := t.TempDir()
	c, err := Open(root, "r1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := c.Upsert(entry("m1", 1, "u1", "a")); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := ClearAll(root); err != nil {
		t.Fatalf("ClearAll: %v", err)
	}
	if _, err := os.Stat(Dir(root, "r1")); !os.IsNotExist(err) {
		t.Fatalf("room dir should be gone, stat err=%v", err)
	}
	// clearing an empty root is fine
	if err := ClearAll(root); err != nil {
		t.Fatalf("ClearAll on empty root: %v", err)
	}
}

func TestCloseTwice(t *testing.T) {
	c, err := Open(t.TempDir(), "r1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close must be a no-op: %v", err)
	}
}
