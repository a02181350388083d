// Package view compiles a constraint.Filter into a cascade of named SQL
// common table expressions ("views" in the filtering vocabulary) that a
// query.Engine issues against a shard.
//
// The terminal-view dispatch (relevant_structures / filtered_literals /
// filtered_sequences / filtered_structures /
// filtered_constrained_substructures / filtered_substructures) is
// reproduced here against DECAF's
// literals/structures/structure_literals/hierarchical_structures schema.
package view

import (
	"fmt"
	"strings"

	"github.com/nlpnorth/decaf/constraint"
	"github.com/nlpnorth/decaf/models"
	"github.com/nlpnorth/decaf/storage/pools"
)

// OutputLevel selects whether a filter's results are scoping parent
// Structures or the matched child substructures.
type OutputLevel int

const (
	// OutputNone means no hierarchy scoping was requested; results are
	// always substructures.
	OutputNone OutputLevel = iota
	OutputSubstructures
	OutputStructures
)

// Plan is a compiled view cascade ready to be embedded in a query.
// SQL is the full "WITH ..." prefix (without a trailing SELECT);
// TerminalView names the view the caller should SELECT FROM;
// OutputColumns lists the columns that view exposes for the requested
// OutputLevel.
type Plan struct {
	SQL           string
	TerminalView  string
	OutputColumns string
}

// Compile builds the view cascade for filter at the given output level.
// viewPrefix lets two filters coexist in one query (co-occurrence joins
// a "source_" and a "target_" cascade together).
func Compile(filter constraint.Filter, level OutputLevel, viewPrefix string) (*Plan, error) {
	if filter.Hierarchy == nil && level == OutputStructures {
		return nil, models.NewError(models.Configuration, "view.Compile",
			fmt.Errorf("output_level=structures requires a hierarchy"))
	}
	if filter.Hierarchy != nil && level == OutputNone {
		return nil, models.NewError(models.Configuration, "view.Compile",
			fmt.Errorf("a hierarchy-scoped filter requires output_level to be substructures or structures"))
	}

	buf := pools.GetStringBuilder()
	defer pools.PutStringBuilder(buf)

	views := []string{}

	relevant := viewPrefix + "relevant_structures"
	views = append(views, buildRelevantStructures(filter, relevant))

	source := relevant
	if filter.HasLiterals() {
		literals := viewPrefix + "filtered_literals"
		views = append(views, buildFilteredLiterals(relevant, literals))
		source = literals
	}

	if filter.Sequential {
		sequences := viewPrefix + "filtered_sequences"
		views = append(views, buildFilteredSequences(filter, source, sequences))
		source = sequences
	}

	terminal := viewPrefix + "filtered_substructures"
	outputColumns := "substructure_id, start, end"

	switch {
	case filter.Hierarchy != nil && level == OutputSubstructures:
		constrained := viewPrefix + "filtered_constrained_substructures"
		grouped := viewPrefix + "filtered_structures"
		views = append(views, buildFilteredStructures(filter, source, grouped))
		views = append(views, buildFilteredConstrainedSubstructures(filter, source, grouped, constrained))
		terminal = constrained
		outputColumns = "substructure_id, start, end, structure_id"

	case filter.Hierarchy != nil && level == OutputStructures:
		grouped := viewPrefix + "filtered_structures"
		views = append(views, buildFilteredStructures(filter, source, grouped))
		terminal = grouped
		outputColumns = "DISTINCT structure_id, structure_start AS start, structure_end AS end"

	default:
		if filter.Sequential {
			// filtered_sequences already applies each condition exactly and
			// exposes no type/value columns to re-check against.
			terminal = source
		} else {
			views = append(views, buildFilteredSubstructures(filter, source, terminal))
		}
	}

	buf.WriteString("WITH ")
	buf.WriteString(strings.Join(views, ",\n"))

	return &Plan{SQL: buf.String(), TerminalView: terminal, OutputColumns: outputColumns}, nil
}

// buildRelevantStructures scopes candidates to a parent of
// filter.Hierarchy.ParentType by offset containment rather than a
// direct hierarchical_structures edge: a condition's type (e.g. "upos")
// is frequently not the parent's direct hierarchy child (that's
// "token"; the upos Structure hangs off the token, not the sentence),
// so the scoping join has to reach any ancestor whose range covers the
// candidate, which offset containment gives for free using the
// existing (start,end) index.
func buildRelevantStructures(filter constraint.Filter, name string) string {
	prefilter := filter.Criteria.ToPrefilterSQL(false, "")
	if filter.Hierarchy != nil {
		// sub and par both carry type/value columns, so the prefilter
		// must name sub's explicitly.
		prefilter = filter.Criteria.ToPrefilterSQL(false, "sub.")
		return fmt.Sprintf(`%s AS (
	SELECT sub.id AS substructure_id, sub.start AS start, sub.end AS end, sub.type AS type, sub.value AS value,
	       par.id AS structure_id, par.start AS structure_start, par.end AS structure_end
	FROM structures sub
	JOIN structures par ON par.type = %s AND sub.start >= par.start AND sub.end <= par.end
	WHERE %s
)`, name, quote(filter.Hierarchy.ParentType), prefilter)
	}

	return fmt.Sprintf(`%s AS (
	SELECT id AS substructure_id, start AS start, end AS end, type AS type, value AS value
	FROM structures
	WHERE %s
)`, name, prefilter)
}

// buildFilteredLiterals left-joins each candidate substructure with the
// offset-ordered concatenation of its Literals' text, exposed as a
// `literal` column so a Condition's to_sql (`literal = '...'`) can be
// evaluated against it like any other column.
func buildFilteredLiterals(source, name string) string {
	return fmt.Sprintf(`%s AS (
	SELECT r.*,
	       (SELECT GROUP_CONCAT(value, '') FROM (
	            SELECT l.value AS value FROM structure_literals sl
	            JOIN literals l ON l.id = sl.literal
	            WHERE sl.structure = r.substructure_id
	            ORDER BY l.start
	       )) AS literal
	FROM %s r
)`, name, source)
}

// buildFilteredSequences self-joins source once per leaf Condition,
// requiring each consecutive pair of matches to appear in strictly
// increasing offset order, scoped to the same parent when a hierarchy is
// present.
//
// Simplification: the filter's criteria must be a flat All/Any of
// Conditions (no nested All-of-Any); see DESIGN.md for why arbitrarily
// nested sequential constraints are out of scope.
func buildFilteredSequences(filter constraint.Filter, source, name string) string {
	conditions := flattenConditions(filter.Criteria)

	aliases := make([]string, len(conditions))
	joins := make([]string, 0, len(conditions))
	selectCols := make([]string, 0, len(conditions)*3)

	for i := range conditions {
		alias := fmt.Sprintf("seq%d", i)
		aliases[i] = alias

		if i == 0 {
			joins = append(joins, fmt.Sprintf("%s %s", source, alias))
		} else {
			prev := aliases[i-1]
			onClauses := []string{fmt.Sprintf("%s.start < %s.start", prev, alias)}
			if filter.Hierarchy != nil {
				onClauses = append(onClauses, fmt.Sprintf("%s.structure_id = %s.structure_id", prev, alias))
			}
			joins = append(joins, fmt.Sprintf("JOIN %s %s ON %s", source, alias, strings.Join(onClauses, " AND ")))
		}
		selectCols = append(selectCols, fmt.Sprintf("%s.substructure_id AS substructure_id_%d", alias, i))
		selectCols = append(selectCols, fmt.Sprintf("%s.start AS start_%d", alias, i))
		selectCols = append(selectCols, fmt.Sprintf("%s.end AS end_%d", alias, i))
	}

	// A flat result also surfaces the first match's identity under the
	// plain substructure_id/start/end columns so this view composes
	// with the same terminal-selection logic as the non-sequential
	// cascades.
	selectCols = append([]string{
		fmt.Sprintf("%s.substructure_id AS substructure_id", aliases[0]),
		fmt.Sprintf("%s.start AS start", aliases[0]),
		fmt.Sprintf("%s.end AS end", aliases[0]),
	}, selectCols...)
	if filter.Hierarchy != nil {
		selectCols = append(selectCols, fmt.Sprintf("%s.structure_id AS structure_id", aliases[0]))
		selectCols = append(selectCols, fmt.Sprintf("%s.structure_start AS structure_start", aliases[0]))
		selectCols = append(selectCols, fmt.Sprintf("%s.structure_end AS structure_end", aliases[0]))
	}

	whereClauses := make([]string, len(conditions))
	for i, c := range conditions {
		whereClauses[i] = fmt.Sprintf("(%s)", withColumnPrefix(c.ToSQL(), aliases[i]+"."))
	}

	return fmt.Sprintf("%s AS (\n\tSELECT %s\n\tFROM %s\n\tWHERE %s\n)",
		name, strings.Join(selectCols, ", "), strings.Join(joins, "\n\t"), strings.Join(whereClauses, " AND "))
}

// buildFilteredStructures groups candidates by structure_id and applies
// the HAVING-clause grouped predicate, returning parent Structures whose
// contained substructures jointly satisfy the filter's criteria.
func buildFilteredStructures(filter constraint.Filter, source, name string) string {
	return fmt.Sprintf(`%s AS (
	SELECT structure_id, structure_start, structure_end
	FROM %s
	GROUP BY structure_id
	HAVING %s
)`, name, source, filter.Criteria.ToGroupedSQL())
}

// buildFilteredConstrainedSubstructures intersects the prefiltered
// substructures with the set of parents that passed the grouped HAVING
// test. Each row is checked against the widened prefilter predicate, not
// the exact ToSQL: an All's ToSQL would require one row to match every
// condition at once.
func buildFilteredConstrainedSubstructures(filter constraint.Filter, source, groupedView, name string) string {
	return fmt.Sprintf(`%s AS (
	SELECT r.substructure_id, r.start, r.end, r.type, r.value, r.structure_id
	FROM %s r
	JOIN %s g ON g.structure_id = r.structure_id
	WHERE %s
)`, name, source, groupedView, filter.Criteria.ToPrefilterSQL(false, "r."))
}

// buildFilteredSubstructures is the default terminal view when no
// hierarchy scopes the filter: the prefiltered candidates re-checked
// against the exact, unwidened predicate.
func buildFilteredSubstructures(filter constraint.Filter, source, name string) string {
	return fmt.Sprintf(`%s AS (
	SELECT substructure_id, start, end, type, value
	FROM %s
	WHERE %s
)`, name, source, filter.Criteria.ToSQL())
}

func flattenConditions(c constraint.Constraint) []constraint.Condition {
	if cond, ok := c.(constraint.Condition); ok {
		return []constraint.Condition{cond}
	}
	return leafConditions(c)
}

// leafConditions reads a combinator's children through its exported
// Conditions() accessor rather than reaching into unexported fields of
// All/Any, keeping the constraint and view packages decoupled. Only
// children that are themselves Conditions are returned; a nested
// combinator child is skipped.
func leafConditions(c constraint.Constraint) []constraint.Condition {
	type exposesConditions interface {
		Conditions() []constraint.Constraint
	}
	if e, ok := c.(exposesConditions); ok {
		var out []constraint.Condition
		for _, inner := range e.Conditions() {
			if cond, ok := inner.(constraint.Condition); ok {
				out = append(out, cond)
			}
		}
		return out
	}
	return nil
}

func withColumnPrefix(sql, prefix string) string {
	for _, col := range []string{"type", "value", "literal"} {
		sql = strings.ReplaceAll(sql, col+" =", prefix+col+" =")
		sql = strings.ReplaceAll(sql, col+" IN", prefix+col+" IN")
	}
	return sql
}

// quote renders s as a single-quoted SQL string literal, matching
// constraint.quote: a double-quoted string is an identifier in
// SQL/SQLite, not a literal, and silently compares against a same-named
// column instead of the intended parent type whenever s collides with
// one (e.g. a parent type literally named "value").
func quote(s string) string {
	return `'` + strings.ReplaceAll(s, `'`, `''`) + `'`
}
