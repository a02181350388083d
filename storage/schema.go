package storage

// schema is the fixed four-table layout (plus its indices) every shard
// file is initialized with. Literals and Structures are append-only rows; structure_literals
// and hierarchical_structures are pure many-to-many join tables with no
// surrogate key of their own.
const schema = `
CREATE TABLE IF NOT EXISTS literals (
	id    INTEGER PRIMARY KEY AUTOINCREMENT,
	start INTEGER NOT NULL,
	end   INTEGER NOT NULL,
	value TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_literals_range ON literals(start, end);

CREATE TABLE IF NOT EXISTS structures (
	id    INTEGER PRIMARY KEY AUTOINCREMENT,
	start INTEGER NOT NULL,
	end   INTEGER NOT NULL,
	type  TEXT NOT NULL,
	value TEXT
);
CREATE INDEX IF NOT EXISTS idx_structures_type  ON structures(type);
CREATE INDEX IF NOT EXISTS idx_structures_range ON structures(start, end);

CREATE TABLE IF NOT EXISTS structure_literals (
	structure INTEGER NOT NULL REFERENCES structures(id),
	literal   INTEGER NOT NULL REFERENCES literals(id)
);
CREATE INDEX IF NOT EXISTS idx_structure_literals_structure ON structure_literals(structure);
CREATE INDEX IF NOT EXISTS idx_structure_literals_literal   ON structure_literals(literal);

CREATE TABLE IF NOT EXISTS hierarchical_structures (
	parent INTEGER NOT NULL REFERENCES structures(id),
	child  INTEGER NOT NULL REFERENCES structures(id)
);
CREATE INDEX IF NOT EXISTS idx_hierarchy_parent ON hierarchical_structures(parent);
CREATE INDEX IF NOT EXISTS idx_hierarchy_child  ON hierarchical_structures(child);
`
