package models

// Literal is the atomic unit of surface text in a shard: a character or a
// token, anchored at a half-open, shard-local offset range [Start, End)
// into the shard's virtual text. Value is the literal substring.
//
// Literals are append-only: once ID is assigned (> 0) the Literal is
// considered persisted, and re-submitting it to a Shard is a no-op (see
// storage.Shard.Add).
type Literal struct {
	ID    int64
	Start int
	End   int
	Value string
}

// Len returns the number of characters the Literal spans.
func (l Literal) Len() int { return l.End - l.Start }

// Persisted reports whether the Literal has already been assigned a
// shard-scoped ID by a prior Add call.
func (l Literal) Persisted() bool { return l.ID > 0 }
