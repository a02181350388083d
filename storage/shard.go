// Package storage implements the DECAF shard store and shard manager: one
// embedded SQLite file per shard, a single writer per shard, and a bounded
// worker pool for fanning reads out across every shard in an index.
package storage

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nlpnorth/decaf/logger"
	"github.com/nlpnorth/decaf/models"
)

// Shard wraps a single shard file: literals, structures, and the two
// join tables that relate them. A Shard is either opened writable (the
// active, newest shard during ingestion) or read-only (every shard
// during querying, including the active one once ingestion has closed
// it).
type Shard struct {
	Index    int
	Path     string
	writable bool
	db       *sql.DB
}

// OpenShard opens (creating if necessary) the shard file at path.
// Read-only shards are opened with SQLite's mode=ro query parameter so
// that concurrent readers never block on the writer's
// journal.
func OpenShard(path string, index int, writable bool) (*Shard, error) {
	dsn := path
	if writable {
		dsn += "?_journal_mode=WAL&_busy_timeout=5000"
	} else {
		dsn += "?mode=ro&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, models.NewError(models.Storage, "OpenShard", err)
	}

	if writable {
		if _, err := db.Exec(schema); err != nil {
			db.Close()
			return nil, models.NewError(models.Storage, "OpenShard", fmt.Errorf("initializing schema: %w", err))
		}
		db.SetMaxOpenConns(1)
	}

	logger.Debug("shard %d opened at %s (writable=%v)", index, path, writable)

	return &Shard{Index: index, Path: path, writable: writable, db: db}, nil
}

// DB exposes the underlying connection for the view compiler and query
// engine to run compiled SQL against. Callers outside this package must
// treat the handle as read-only unless they hold the Shard returned by
// the manager for the active, writable shard.
func (s *Shard) DB() *sql.DB { return s.db }

// Writable reports whether this Shard accepts Add calls.
func (s *Shard) Writable() bool { return s.writable }

// Close releases the shard's connection.
func (s *Shard) Close() error {
	if err := s.db.Close(); err != nil {
		return models.NewError(models.Storage, "Shard.Close", err)
	}
	return nil
}

// Add persists literals, then structures, then hierarchy edges, in a
// single transaction, assigning IDs in place. Re-submitting an
// already-persisted Literal or Structure (ID already set) is a no-op for
// that entry. Every PendingHierarchy must resolve against already- or
// newly-assigned Structure IDs; one that doesn't fails the whole
// transaction with an Integrity error so a shard file never contains a
// dangling hierarchy edge.
func (s *Shard) Add(literals []*models.Literal, structures []*models.Structure, pending []models.PendingHierarchy) error {
	if !s.writable {
		return models.NewError(models.Integrity, "Shard.Add", fmt.Errorf("shard %d is read-only", s.Index))
	}

	tx, err := s.db.Begin()
	if err != nil {
		return models.NewError(models.Storage, "Shard.Add", err)
	}
	defer tx.Rollback()

	if err := addLiterals(tx, literals); err != nil {
		return err
	}
	if err := addStructures(tx, structures); err != nil {
		return err
	}
	if err := addHierarchies(tx, pending); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return models.NewError(models.Storage, "Shard.Add", err)
	}
	return nil
}

func addLiterals(tx *sql.Tx, literals []*models.Literal) error {
	stmt, err := tx.Prepare(`INSERT INTO literals(start, end, value) VALUES (?, ?, ?)`)
	if err != nil {
		return models.NewError(models.Storage, "addLiterals", err)
	}
	defer stmt.Close()

	for _, l := range literals {
		if l.Persisted() {
			continue
		}
		res, err := stmt.Exec(l.Start, l.End, l.Value)
		if err != nil {
			return models.NewError(models.Storage, "addLiterals", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return models.NewError(models.Storage, "addLiterals", err)
		}
		l.ID = id
	}
	return nil
}

func addStructures(tx *sql.Tx, structures []*models.Structure) error {
	insert, err := tx.Prepare(`INSERT INTO structures(start, end, type, value) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return models.NewError(models.Storage, "addStructures", err)
	}
	defer insert.Close()

	link, err := tx.Prepare(`INSERT INTO structure_literals(structure, literal) VALUES (?, ?)`)
	if err != nil {
		return models.NewError(models.Storage, "addStructures", err)
	}
	defer link.Close()

	for _, st := range structures {
		if st.Persisted() {
			continue
		}

		var value sql.NullString
		if st.HasVal {
			value = sql.NullString{String: st.Value, Valid: true}
		}

		res, err := insert.Exec(st.Start, st.End, st.Type, value)
		if err != nil {
			return models.NewError(models.Storage, "addStructures", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return models.NewError(models.Storage, "addStructures", err)
		}
		st.ID = id

		for _, l := range st.Literals {
			if !l.Persisted() {
				return models.NewError(models.Integrity, "addStructures",
					fmt.Errorf("structure %q references an unpersisted literal at offset %d", st.Type, l.Start))
			}
			if _, err := link.Exec(st.ID, l.ID); err != nil {
				return models.NewError(models.Storage, "addStructures", err)
			}
		}
	}
	return nil
}

func addHierarchies(tx *sql.Tx, pending []models.PendingHierarchy) error {
	if len(pending) == 0 {
		return nil
	}

	stmt, err := tx.Prepare(`INSERT INTO hierarchical_structures(parent, child) VALUES (?, ?)`)
	if err != nil {
		return models.NewError(models.Storage, "addHierarchies", err)
	}
	defer stmt.Close()

	for _, p := range pending {
		edge, err := p.Resolve()
		if err != nil {
			return err
		}
		if _, err := stmt.Exec(edge.ParentID, edge.ChildID); err != nil {
			return models.NewError(models.Storage, "addHierarchies", err)
		}
	}
	return nil
}

var countableTables = map[string]bool{
	"literals":                true,
	"structures":              true,
	"structure_literals":      true,
	"hierarchical_structures": true,
}

// Count returns the number of rows in one of the shard's four tables.
func (s *Shard) Count(table string) (int64, error) {
	if !countableTables[table] {
		return 0, models.NewError(models.Configuration, "Shard.Count", fmt.Errorf("unknown table %q", table))
	}
	var n int64
	row := s.db.QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table))
	if err := row.Scan(&n); err != nil {
		return 0, models.NewError(models.Storage, "Shard.Count", err)
	}
	return n, nil
}
