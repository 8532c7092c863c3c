package graph

import (
	"errors"
	"path/filepath"
	"testing"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	db, err := Open(filepath.Join(dir, "db.sqlite"), filepath.Join(dir, "objects"))
	if err != nil {
		t.Fatalf("opening db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestInsertNode_Idempotent(t *testing.T) {
	db := setupTestDB(t)

	tx, err := db.BeginTx()
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()

	payload := map[string]interface{}{"entries": []interface{}{}}
	id1, err := db.InsertNode(tx, KindTree, payload)
	if err != nil {
		t.Fatalf("InsertNode: %v", err)
	}
	id2, err := db.InsertNode(tx, KindTree, payload)
	if err != nil {
		t.Fatalf("InsertNode again: %v", err)
	}
	if id1 != id2 {
		t.Errorf("expected same id, got %s and %s", id1, id2)
	}

	node, err := db.GetNode(tx, id1)
	if err != nil {
		t.Fatal(err)
	}
	if node == nil || node.Kind != KindTree {
		t.Fatalf("unexpected node: %+v", node)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
}

func TestGetNode_Missing(t *testing.T) {
	db := setupTestDB(t)

	node, err := db.GetNode(db.conn, "deadbeef")
	if err != nil {
		t.Fatal(err)
	}
	if node != nil {
		t.Errorf("expected nil node, got %+v", node)
	}
}

func TestNode_Decode(t *testing.T) {
	db := setupTestDB(t)

	type payload struct {
		Description string `json:"description"`
	}
	id, err := db.InsertNode(db.conn, KindCommit, payload{Description: "hello"})
	if err != nil {
		t.Fatal(err)
	}
	node, err := db.GetNode(db.conn, id)
	if err != nil {
		t.Fatal(err)
	}
	var got payload
	if err := node.Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Description != "hello" {
		t.Errorf("description = %q", got.Description)
	}
}

func TestEdges_OrderedByAt(t *testing.T) {
	db := setupTestDB(t)

	for i, dst := range []string{"p0", "p1", "p2"} {
		at := string(rune('0' + i))
		if err := db.InsertEdge(db.conn, "child", EdgeParent, dst, at); err != nil {
			t.Fatal(err)
		}
	}
	// duplicate is ignored
	if err := db.InsertEdge(db.conn, "child", EdgeParent, "p1", "1"); err != nil {
		t.Fatal(err)
	}

	edges, err := db.GetEdges(db.conn, "child", EdgeParent)
	if err != nil {
		t.Fatal(err)
	}
	if len(edges) != 3 {
		t.Fatalf("expected 3 edges, got %d", len(edges))
	}
	for i, want := range []string{"p0", "p1", "p2"} {
		if edges[i].Dst != want {
			t.Errorf("edge %d: got %s, want %s", i, edges[i].Dst, want)
		}
	}

	incoming, err := db.GetEdgesTo(db.conn, "p2", EdgeParent)
	if err != nil {
		t.Fatal(err)
	}
	if len(incoming) != 1 || incoming[0].Src != "child" {
		t.Errorf("unexpected incoming edges: %+v", incoming)
	}
}

func TestObjects_RoundTrip(t *testing.T) {
	db := setupTestDB(t)

	content := []byte("line one\nline two\n")
	digest, err := db.WriteObject(content)
	if err != nil {
		t.Fatalf("WriteObject: %v", err)
	}
	if !db.HasObject(digest) {
		t.Error("object should exist after write")
	}

	// writing again is a no-op
	again, err := db.WriteObject(content)
	if err != nil || again != digest {
		t.Fatalf("second write: %s, %v", again, err)
	}

	got, err := db.ReadObject(digest)
	if err != nil {
		t.Fatalf("ReadObject: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("got %q, want %q", got, content)
	}
}

func TestReadObject_Missing(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.ReadObject("00000000000000000000")
	if !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound, got %v", err)
	}
}
