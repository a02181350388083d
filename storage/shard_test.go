package storage

import (
	"path/filepath"
	"testing"

	"github.com/nlpnorth/decaf/models"
)

func TestOpenShardCreatesSchema(t *testing.T) {
	dir := t.TempDir()
	shard, err := OpenShard(filepath.Join(dir, "shard-0.decaf"), 0, true)
	if err != nil {
		t.Fatalf("OpenShard() error: %v", err)
	}
	defer shard.Close()

	for _, table := range []string{"literals", "structures", "structure_literals", "hierarchical_structures"} {
		if _, err := shard.Count(table); err != nil {
			t.Errorf("Count(%q) error: %v", table, err)
		}
	}
}

func TestShardAddAssignsIDsAndOrdersWrites(t *testing.T) {
	dir := t.TempDir()
	shard, err := OpenShard(filepath.Join(dir, "shard-0.decaf"), 0, true)
	if err != nil {
		t.Fatalf("OpenShard() error: %v", err)
	}
	defer shard.Close()

	lit := &models.Literal{Start: 0, End: 3, Value: "cat"}
	structure := models.NewConstituentStructure(0, 3, "token", []*models.Literal{lit})

	if err := shard.Add([]*models.Literal{lit}, []*models.Structure{structure}, nil); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	if lit.ID <= 0 {
		t.Errorf("literal ID = %d, want assigned (>0)", lit.ID)
	}
	if structure.ID <= 0 {
		t.Errorf("structure ID = %d, want assigned (>0)", structure.ID)
	}

	n, err := shard.Count("literals")
	if err != nil {
		t.Fatalf("Count(literals) error: %v", err)
	}
	if n != 1 {
		t.Errorf("literals count = %d, want 1", n)
	}
}

func TestShardAddRejectsUnpersistedLiteralReference(t *testing.T) {
	dir := t.TempDir()
	shard, err := OpenShard(filepath.Join(dir, "shard-0.decaf"), 0, true)
	if err != nil {
		t.Fatalf("OpenShard() error: %v", err)
	}
	defer shard.Close()

	// A Structure referencing a Literal never passed to Add: the
	// Literal has no assigned ID, so the whole call must fail with an
	// Integrity error and leave no rows behind (atomic per call).
	lit := &models.Literal{Start: 0, End: 3, Value: "cat"}
	structure := models.NewConstituentStructure(0, 3, "token", []*models.Literal{lit})

	err = shard.Add(nil, []*models.Structure{structure}, nil)
	if err == nil {
		t.Fatal("Add() error = nil, want Integrity error")
	}
	if !models.IsKind(err, models.Integrity) {
		t.Errorf("Add() error kind = %v, want Integrity", err)
	}

	n, err := shard.Count("structures")
	if err != nil {
		t.Fatalf("Count(structures) error: %v", err)
	}
	if n != 0 {
		t.Errorf("structures count = %d, want 0 (failed Add must not leave partial rows)", n)
	}
}

func TestShardAddRejectsUnresolvedHierarchy(t *testing.T) {
	dir := t.TempDir()
	shard, err := OpenShard(filepath.Join(dir, "shard-0.decaf"), 0, true)
	if err != nil {
		t.Fatalf("OpenShard() error: %v", err)
	}
	defer shard.Close()

	parent := models.NewConstituentStructure(0, 3, "sentence", nil)
	child := models.NewConstituentStructure(0, 3, "token", nil)

	pending := models.NewPendingHierarchy(parent, child)
	if err := shard.Add(nil, nil, []models.PendingHierarchy{pending}); err == nil {
		t.Fatal("Add() error = nil, want Integrity error for unassigned endpoints")
	}
}

func TestShardAddIsNoOpForAlreadyPersistedEntities(t *testing.T) {
	dir := t.TempDir()
	shard, err := OpenShard(filepath.Join(dir, "shard-0.decaf"), 0, true)
	if err != nil {
		t.Fatalf("OpenShard() error: %v", err)
	}
	defer shard.Close()

	lit := &models.Literal{Start: 0, End: 3, Value: "cat"}
	if err := shard.Add([]*models.Literal{lit}, nil, nil); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	firstID := lit.ID

	// Re-submitting the same (now-persisted) Literal must be a no-op,
	// not a duplicate row.
	if err := shard.Add([]*models.Literal{lit}, nil, nil); err != nil {
		t.Fatalf("Add() (second call) error: %v", err)
	}
	if lit.ID != firstID {
		t.Errorf("literal ID changed from %d to %d on re-add", firstID, lit.ID)
	}

	n, err := shard.Count("literals")
	if err != nil {
		t.Fatalf("Count(literals) error: %v", err)
	}
	if n != 1 {
		t.Errorf("literals count = %d, want 1 (re-add must not duplicate)", n)
	}
}

func TestShardWriteToReadOnlyIsRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shard-0.decaf")

	writable, err := OpenShard(path, 0, true)
	if err != nil {
		t.Fatalf("OpenShard() (writable) error: %v", err)
	}
	writable.Close()

	readonly, err := OpenShard(path, 0, false)
	if err != nil {
		t.Fatalf("OpenShard() (read-only) error: %v", err)
	}
	defer readonly.Close()

	lit := &models.Literal{Start: 0, End: 1, Value: "x"}
	if err := readonly.Add([]*models.Literal{lit}, nil, nil); err == nil {
		t.Fatal("Add() on read-only shard error = nil, want error")
	}
}

func TestShardCountRejectsUnknownTable(t *testing.T) {
	dir := t.TempDir()
	shard, err := OpenShard(filepath.Join(dir, "shard-0.decaf"), 0, true)
	if err != nil {
		t.Fatalf("OpenShard() error: %v", err)
	}
	defer shard.Close()

	if _, err := shard.Count("not_a_table"); !models.IsKind(err, models.Configuration) {
		t.Errorf("Count() error = %v, want Configuration error", err)
	}
}
