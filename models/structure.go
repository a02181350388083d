package models

// Structure is a typed annotation covering a half-open offset range
// [Start, End). Type is a free-form tag such as "token", "upos",
// "dependency", "sentence", "paragraph", "document", or a metadata key.
// Value carries the annotation's value; it is absent (empty string, see
// HasVal) for purely constituent structures such as "sentence".
//
// Literals holds the Literals formally covered by the Structure, as
// pointers rather than values: ingestion builds a Structure's Literals
// from the same Literal instances it is about to hand a Shard for
// persistence, and a Shard assigns each Literal's ID in place. Holding
// pointers means a Structure's view of its own Literals picks up those
// IDs without ingestion having to thread them back through separately.
// Every entry must satisfy Structure.Start <= Literal.Start and
// Literal.End <= Structure.End; the converse does not hold — a Literal
// inside a Structure's offset range is not automatically one of its
// Literals.
//
// The "tags" are the Structure's (Type, Value) pair plus its offset
// range, and containment is explicit via Literals rather than an
// entity-wide tag list.
type Structure struct {
	ID       int64
	Start    int
	End      int
	Type     string
	Value    string
	HasVal   bool
	Literals []*Literal
}

// NewStructure builds a valued Structure (e.g. an "upos" annotation).
func NewStructure(start, end int, stype, value string, literals []*Literal) *Structure {
	return &Structure{Start: start, End: end, Type: stype, Value: value, HasVal: true, Literals: literals}
}

// NewConstituentStructure builds a Structure with no value of its own
// (e.g. a "sentence" or "document" boundary marker).
func NewConstituentStructure(start, end int, stype string, literals []*Literal) *Structure {
	return &Structure{Start: start, End: end, Type: stype, HasVal: false, Literals: literals}
}

// Persisted reports whether the Structure has already been assigned a
// shard-scoped ID.
func (s *Structure) Persisted() bool { return s.ID > 0 }

// Text concatenates the Structure's Literals, ordered by Start, into the
// surface text they cover.
func (s *Structure) Text() string {
	ordered := make([]*Literal, len(s.Literals))
	copy(ordered, s.Literals)
	insertionSortLiteralsByStart(ordered)

	buf := make([]byte, 0, s.End-s.Start)
	for _, l := range ordered {
		buf = append(buf, l.Value...)
	}
	return string(buf)
}

// insertionSortLiteralsByStart sorts small Literal slices in place.
// Structures typically cover a handful of Literals (a token's characters,
// a sentence's tokens), so an O(n^2) insertion sort avoids pulling in
// sort.Slice's reflection overhead for the common case.
func insertionSortLiteralsByStart(literals []*Literal) {
	for i := 1; i < len(literals); i++ {
		for j := i; j > 0 && literals[j-1].Start > literals[j].Start; j-- {
			literals[j-1], literals[j] = literals[j], literals[j-1]
		}
	}
}
