package models

import "fmt"

// Hierarchy is a directed edge expressing that Parent transitively
// contains Child at the annotation level, independent of whether their
// offset ranges happen to nest. The relation is a DAG: redundant edges are
// allowed (and common — a sentence points directly at every token and
// every dependency Structure within it) but cycles are not.
//
// IDs, not in-memory pointers, are used for both endpoints so that the
// relation serializes losslessly to and from the hierarchical_structures
// table.
type Hierarchy struct {
	ParentID int64
	ChildID  int64
}

// NewHierarchy builds an edge between two already-persisted Structures.
// Both structures must carry assigned IDs; storage.Shard.Add rejects
// edges whose endpoints are unassigned with an Integrity error.
func NewHierarchy(parent, child *Structure) Hierarchy {
	return Hierarchy{ParentID: parent.ID, ChildID: child.ID}
}

// PendingHierarchy is a Hierarchy edge between two Structures that may not
// yet have assigned IDs. Ingestion builds a document's Structures and
// their containment edges in one pass — a sentence Structure exists, and
// the edges to its token Structures are known, before any of them have
// been handed to a Shard for persistence.
//
// Structure IDs are assigned in place (Shard.Add takes *Structure and
// mutates ID on success), so a PendingHierarchy holding pointers into the
// same batch resolves to real IDs once that batch is persisted, without
// the ingest package needing to track ID assignment itself.
type PendingHierarchy struct {
	Parent *Structure
	Child  *Structure
}

// NewPendingHierarchy records a containment edge between two Structures
// that are about to be persisted together.
func NewPendingHierarchy(parent, child *Structure) PendingHierarchy {
	return PendingHierarchy{Parent: parent, Child: child}
}

// Resolve converts the edge to a Hierarchy once both endpoints carry
// assigned IDs, returning an Integrity error otherwise.
func (p PendingHierarchy) Resolve() (Hierarchy, error) {
	if !p.Parent.Persisted() || !p.Child.Persisted() {
		return Hierarchy{}, NewError(Integrity, "PendingHierarchy.Resolve", fmt.Errorf("edge %s->%s references an unassigned structure ID", p.Parent.Type, p.Child.Type))
	}
	return Hierarchy{ParentID: p.Parent.ID, ChildID: p.Child.ID}, nil
}
