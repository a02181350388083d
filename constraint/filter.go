package constraint

// Hierarchy scopes a Filter's evaluation to substructures of ChildType
// lying inside a parent of ParentType, e.g. {ParentType: "sentence",
// ChildType: "token"}.
type Hierarchy struct {
	ParentType string
	ChildType  string
}

// Filter is the top-level query object: a boolean combination of
// Criteria (itself a Constraint, usually an All or Any), optionally
// scoped to a Hierarchy and/or requiring its matches to appear in
// strict offset order (Sequential).
type Filter struct {
	Criteria   Constraint
	Sequential bool
	Hierarchy  *Hierarchy
}

// NewFilter builds an unscoped Filter over criteria.
func NewFilter(criteria Constraint) Filter {
	return Filter{Criteria: criteria}
}

// WithHierarchy scopes the filter to substructures of childType inside a
// parentType parent.
func (f Filter) WithHierarchy(parentType, childType string) Filter {
	f.Hierarchy = &Hierarchy{ParentType: parentType, ChildType: childType}
	return f
}

// WithSequential requires matches to appear in offset order across
// criteria, for adjacency patterns such as pronoun-then-noun.
func (f Filter) WithSequential() Filter {
	f.Sequential = true
	return f
}

// HasLiterals reports whether any leaf Condition constrains on literal
// text.
func (f Filter) HasLiterals() bool { return f.Criteria.HasLiterals() }

// Types returns every Structure type referenced by the filter's
// criteria.
func (f Filter) Types() []string { return f.Criteria.Types() }
