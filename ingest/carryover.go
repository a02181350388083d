package ingest

import (
	"regexp"

	"github.com/nlpnorth/decaf/models"
)

var carryoverPatterns = []struct {
	pattern *regexp.Regexp
	field   string // empty means "keep the matched key as-is" (meta::* fields)
}{
	{regexp.MustCompile(`^newdoc( id)?$`), "document"},
	{regexp.MustCompile(`^newpar( id)?$`), "paragraph"},
	{regexp.MustCompile(`^meta::.+`), ""},
}

// carryoverField maps a sentence metadata key to the carryover scope it
// belongs to ("document", "paragraph", or its own "meta::..." name), or
// reports ok=false for an ordinary per-sentence metadata key.
func carryoverField(key string) (field string, ok bool) {
	for _, p := range carryoverPatterns {
		if p.pattern.MatchString(key) {
			if p.field == "" {
				return key, true
			}
			return p.field, true
		}
	}
	return "", false
}

// carryoverValue is one pending carryover metadata field: the value
// captured when its scope opened, and the shard-local offset it opened
// at.
type carryoverValue struct {
	value string
	start int
}

// Carryover is the cross-sentence state machine that accumulates
// paragraph- and document-scoped Literals and sentence Structures until
// their scope closes (a new paragraph/document opens, or the stream
// ends), at which point it emits the paragraph/document Structure and
// the hierarchy edges to everything it accumulated.
//
// Restructured from positional tuple-threading into a stateful type
// whose Apply/Flush methods each return exactly the new Structures and
// PendingHierarchy edges to add to the current batch.
type Carryover struct {
	fields   map[string]carryoverValue
	literals map[string][]*models.Literal
	// sentences holds, per scope, the sentence Structures accumulated
	// since that scope last opened.
	sentences map[string][]*models.Structure
}

// NewCarryover starts an empty carryover state machine.
func NewCarryover() *Carryover {
	return &Carryover{
		fields:    make(map[string]carryoverValue),
		literals:  map[string][]*models.Literal{"paragraph": nil, "document": nil},
		sentences: map[string][]*models.Structure{"paragraph": nil, "document": nil},
	}
}

// Apply folds one sentence's carryover metadata (produced by
// Parser.ParseSentence) into the running state, returning any
// paragraph/document Structures and hierarchy edges that close as a
// result (a new paragraph or document opening flushes the one it
// replaces).
func (c *Carryover) Apply(next map[string]carryoverValue, sentenceLiterals []*models.Literal, sentence *models.Structure, cursor int) ([]*models.Structure, []models.PendingHierarchy) {
	var structures []*models.Structure
	var hierarchies []models.PendingHierarchy

	_, newParagraph := next["paragraph"]
	_, newDocument := next["document"]

	if newParagraph || newDocument {
		if prev, ok := c.fields["paragraph"]; ok {
			paragraph := models.NewConstituentStructure(prev.start, cursor, "paragraph", c.literals["paragraph"])
			structures = append(structures, paragraph)
			if prev.value != "" {
				idStructure := models.NewStructure(prev.start, cursor, "paragraph_id", prev.value, c.literals["paragraph"])
				structures = append(structures, idStructure)
			}
			for _, s := range c.sentences["paragraph"] {
				hierarchies = append(hierarchies, models.NewPendingHierarchy(paragraph, s))
			}
		}
		if v, ok := next["paragraph"]; ok {
			c.fields["paragraph"] = v
		} else {
			c.fields["paragraph"] = carryoverValue{start: cursor}
		}
		c.literals["paragraph"] = nil
		c.sentences["paragraph"] = nil
	}

	if newDocument {
		var document *models.Structure
		var docStructures []*models.Structure
		for field, v := range c.fields {
			if field == "paragraph" {
				continue
			}
			if field == "document" {
				document = models.NewConstituentStructure(v.start, cursor, "document", c.literals["document"])
				if v.value != "" {
					docStructures = append(docStructures, models.NewStructure(v.start, cursor, "document_id", v.value, c.literals["document"]))
				}
				continue
			}
			docStructures = append(docStructures, models.NewStructure(v.start, cursor, field, v.value, c.literals["document"]))
		}
		if document != nil {
			for _, s := range docStructures {
				hierarchies = append(hierarchies, models.NewPendingHierarchy(document, s))
			}
			for _, s := range c.sentences["document"] {
				hierarchies = append(hierarchies, models.NewPendingHierarchy(document, s))
			}
			structures = append(structures, document)
			structures = append(structures, docStructures...)
		}

		c.fields = make(map[string]carryoverValue)
		for k, v := range next {
			c.fields[k] = v
		}
		c.literals = map[string][]*models.Literal{"paragraph": nil, "document": nil}
		c.sentences = map[string][]*models.Structure{"paragraph": nil, "document": nil}
	}

	for field := range next {
		if field != "document" && field != "paragraph" {
			if _, ok := c.fields[field]; !ok {
				c.fields[field] = next[field]
			}
		}
	}

	for scope := range c.literals {
		c.literals[scope] = append(c.literals[scope], sentenceLiterals...)
	}
	for scope := range c.sentences {
		c.sentences[scope] = append(c.sentences[scope], sentence)
	}

	return structures, hierarchies
}

// Flush closes every open scope at end of stream, as though a synthetic
// final document and paragraph boundary were seen at cursor.
func (c *Carryover) Flush(cursor int) ([]*models.Structure, []models.PendingHierarchy) {
	return c.Apply(map[string]carryoverValue{"document": {start: cursor}, "paragraph": {start: cursor}}, nil, nil, cursor)
}
