// Package constraint implements the DECAF constraint algebra: Condition,
// Criterion, and Filter, each able to render the three SQL fragments the
// view compiler needs (a row-level predicate, a widened prefilter
// predicate, and a HAVING-clause predicate over a per-parent
// aggregation).
//
// A duck-typed dispatch on shared `to_sql`/`to_prefilter_sql`/
// `to_grouped_sql` methods doesn't translate directly: Go has no
// structural subtyping for methods with differing field shapes, so
// both are expressed here as leaves of one Constraint interface:
// `Constraint = Condition | All | Any`, with the grouping operator
// folded into which of All/Any wraps the leaves.
package constraint

import (
	"fmt"
	"strings"
)

// Constraint is the shared interface implemented by Condition, All, and
// Any. A Constraint renders itself into the three SQL fragments the view
// compiler's cascade assembles.
type Constraint interface {
	// ToSQL renders a row-level predicate matching a single Structure.
	ToSQL() string
	// ToPrefilterSQL renders a relaxed predicate for the initial broad
	// scan: conjunctions are widened to disjunctions so the prefilter
	// retrieves a superset of the eventual matches. onlyLiterals
	// restricts the prefilter to conditions that constrain on literal
	// text (used when building the filtered_literals view).
	ToPrefilterSQL(onlyLiterals bool, columnPrefix string) string
	// ToGroupedSQL renders a HAVING-clause predicate over an
	// aggregation keyed by parent Structure.
	ToGroupedSQL() string
	// HasLiterals reports whether any leaf Condition constrains on
	// literal text.
	HasLiterals() bool
	// Types returns every distinct Structure type any leaf Condition
	// matches against, used to build the co-occurrence label columns.
	Types() []string
}

// Condition matches a Structure whose type equals Type. If Values is
// non-empty, the Structure's Value must be one of them. If Literal is
// set, the surface text concatenated from the Structure's Literals must
// equal it. MinCount applies only inside a structural-scope context: the
// parent must contain more than MinCount matches (the default 0 requires
// at least one).
type Condition struct {
	Type     string
	Values   []string
	Literal  string
	HasLit   bool
	MinCount int
}

// NewCondition builds a Condition matching Structures of the given type
// and (if non-empty) value set.
func NewCondition(stype string, values ...string) Condition {
	return Condition{Type: stype, Values: values}
}

// WithLiteral constrains the condition to Structures whose concatenated
// Literal text equals text.
func (c Condition) WithLiteral(text string) Condition {
	c.Literal, c.HasLit = text, true
	return c
}

// WithMinCount sets the match threshold within a structural-scope
// context: the parent must contain more than n matches.
func (c Condition) WithMinCount(n int) Condition {
	c.MinCount = n
	return c
}

func (c Condition) HasLiterals() bool { return c.HasLit }
func (c Condition) Types() []string   { return []string{c.Type} }

func (c Condition) ToSQL() string {
	var b strings.Builder
	fmt.Fprintf(&b, "type = %s", quote(c.Type))
	if len(c.Values) > 0 {
		fmt.Fprintf(&b, " AND value IN %s", quoteSet(c.Values))
	}
	if c.HasLit {
		fmt.Fprintf(&b, " AND literal = %s", quote(c.Literal))
	}
	return b.String()
}

func (c Condition) ToGroupedSQL() string {
	parts := make([]string, 0, len(c.Values))
	for _, v := range c.Values {
		cond := fmt.Sprintf("type = %s AND value = %s", quote(c.Type), quote(v))
		if c.HasLit {
			cond += fmt.Sprintf(" AND literal = %s", quote(c.Literal))
		}
		parts = append(parts, fmt.Sprintf("SUM(CASE WHEN %s THEN 1 ELSE 0 END) > %d", cond, c.MinCount))
	}
	return strings.Join(parts, " AND ")
}

func (c Condition) ToPrefilterSQL(onlyLiterals bool, columnPrefix string) string {
	if onlyLiterals && !c.HasLit {
		return ""
	}
	if len(c.Values) == 0 {
		return fmt.Sprintf("%stype = %s", columnPrefix, quote(c.Type))
	}
	return fmt.Sprintf("%stype = %s AND %svalue IN %s", columnPrefix, quote(c.Type), columnPrefix, quoteSet(c.Values))
}

// op is the boolean combinator shared by All (AND) and Any (OR).
type op struct {
	conditions []Constraint
	joiner     string
}

// Conditions returns the combinator's immediate children.
func (o op) Conditions() []Constraint { return o.conditions }

func (o op) HasLiterals() bool {
	for _, c := range o.conditions {
		if c.HasLiterals() {
			return true
		}
	}
	return false
}

func (o op) Types() []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range o.conditions {
		for _, t := range c.Types() {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}

func (o op) ToSQL() string {
	parts := make([]string, 0, len(o.conditions))
	for _, c := range o.conditions {
		parts = append(parts, fmt.Sprintf("(%s)", c.ToSQL()))
	}
	return strings.Join(parts, fmt.Sprintf(" %s ", o.joiner))
}

func (o op) ToGroupedSQL() string {
	parts := make([]string, 0, len(o.conditions))
	for _, c := range o.conditions {
		parts = append(parts, fmt.Sprintf("(%s)", c.ToGroupedSQL()))
	}
	return strings.Join(parts, fmt.Sprintf(" %s ", o.joiner))
}

// ToPrefilterSQL always widens to OR regardless of the combinator's own
// operator, per the prefilter's job: retrieve a superset, never narrow
// it by an AND that a later, exact stage re-checks anyway.
func (o op) ToPrefilterSQL(onlyLiterals bool, columnPrefix string) string {
	parts := make([]string, 0, len(o.conditions))
	for _, c := range o.conditions {
		if frag := c.ToPrefilterSQL(onlyLiterals, columnPrefix); frag != "" {
			parts = append(parts, fmt.Sprintf("(%s)", frag))
		}
	}
	return strings.Join(parts, " OR ")
}

// All is a Criterion whose conditions must all hold (op=AND).
type All struct{ op }

// NewAll builds a conjunction of constraints. A single-constraint All is
// legal (mirrors a Criterion with exactly one condition, which the
// original constraint algebra allows without requiring an operation).
func NewAll(conditions ...Constraint) All {
	return All{op{conditions: conditions, joiner: "AND"}}
}

// Any is a Criterion whose conditions are disjunctive (op=OR).
type Any struct{ op }

// NewAny builds a disjunction of constraints.
func NewAny(conditions ...Constraint) Any {
	return Any{op{conditions: conditions, joiner: "OR"}}
}

// quote renders s as a single-quoted SQL string literal, the way
// SQLite expects a value (as opposed to a double-quoted identifier,
// which SQLite only falls back to treating as a string literal when no
// column or table of that name exists — a trap for any Condition whose
// Type/Value/Literal happens to collide with a real column name such as
// "value", "end", or "child").
func quote(s string) string {
	return `'` + strings.ReplaceAll(s, `'`, `''`) + `'`
}

func quoteSet(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = quote(v)
	}
	return "(" + strings.Join(quoted, ", ") + ")"
}
