package ingest

import (
	"testing"

	"github.com/nlpnorth/decaf/config"
)

func tokenLevelConfig() *config.Config {
	return &config.Config{LiteralLevel: config.LiteralLevelToken}
}

func simpleSentence() Sentence {
	// "The cat sleeps ." with The -> cat (det), cat -> sleeps (nsubj),
	// . -> sleeps (punct); sleeps is the root.
	return Sentence{
		Tokens: []Token{
			{ID: 1, Form: "The", Upos: "DET", Head: 2, Deprel: "det"},
			{ID: 2, Form: "cat", Upos: "NOUN", Head: 3, Deprel: "nsubj"},
			{ID: 3, Form: "sleeps", Upos: "VERB", Head: 0, Deprel: "root"},
			{ID: 4, Form: ".", Upos: "PUNCT", Head: 3, Deprel: "punct"},
		},
		Metadata: []MetadataEntry{{Key: "sent_id", Value: "1"}},
	}
}

func TestParseSentenceTokenLevelReconstructsText(t *testing.T) {
	p := NewParser(tokenLevelConfig())
	parsed, err := p.ParseSentence(simpleSentence(), 0)
	if err != nil {
		t.Fatalf("ParseSentence() error: %v", err)
	}

	var text string
	for _, l := range parsed.Literals {
		text += l.Value
	}
	if want := "The cat sleeps . "; text != want {
		t.Errorf("reconstructed text = %q, want %q", text, want)
	}
	if parsed.Sentence.Start != 0 || parsed.Sentence.End != parsed.NextCursor {
		t.Errorf("sentence span = [%d,%d), want [0,%d)", parsed.Sentence.Start, parsed.Sentence.End, parsed.NextCursor)
	}
}

func TestParseSentenceProducesOneTokenStructurePerToken(t *testing.T) {
	p := NewParser(tokenLevelConfig())
	parsed, err := p.ParseSentence(simpleSentence(), 0)
	if err != nil {
		t.Fatalf("ParseSentence() error: %v", err)
	}

	tokenCount := 0
	uposCount := 0
	for _, s := range parsed.Structures {
		switch s.Type {
		case "token":
			tokenCount++
		case "upos":
			uposCount++
		}
	}
	if tokenCount != 4 {
		t.Errorf("token structures = %d, want 4", tokenCount)
	}
	if uposCount != 4 {
		t.Errorf("upos structures = %d, want 4", uposCount)
	}
}

func TestParseSentenceSuppressesSpaceAfterNo(t *testing.T) {
	sentence := simpleSentence()
	sentence.Tokens[1].Misc = map[string]string{"SpaceAfter": "No"}

	p := NewParser(tokenLevelConfig())
	parsed, err := p.ParseSentence(sentence, 0)
	if err != nil {
		t.Fatalf("ParseSentence() error: %v", err)
	}

	var text string
	for _, l := range parsed.Literals {
		text += l.Value
	}
	if want := "The catsleeps . "; text != want {
		t.Errorf("reconstructed text = %q, want %q", text, want)
	}
}

func TestParseSentenceDependencySpansCoverDependents(t *testing.T) {
	p := NewParser(tokenLevelConfig())
	parsed, err := p.ParseSentence(simpleSentence(), 0)
	if err != nil {
		t.Fatalf("ParseSentence() error: %v", err)
	}

	var root *struct{ start, end int }
	for _, s := range parsed.Structures {
		if s.Type == "dependency" && s.Value == "root" {
			root = &struct{ start, end int }{s.Start, s.End}
		}
	}
	if root == nil {
		t.Fatal("no root dependency structure found")
	}
	// The span ends where "." ends; the trailing space Literal after it
	// belongs to the sentence but to no token.
	if root.start != 0 || root.end != parsed.Sentence.End-1 {
		t.Errorf("root dependency span = [%d,%d), want [0,%d) (spans every token via det->cat->sleeps and punct->sleeps)",
			root.start, root.end, parsed.Sentence.End-1)
	}
}

func TestParseSentenceCharacterLevelSplitsIntoRunes(t *testing.T) {
	cfg := &config.Config{LiteralLevel: config.LiteralLevelCharacter}
	sentence := Sentence{Tokens: []Token{{ID: 1, Form: "cafe", Head: 0, Deprel: "root"}}}

	p := NewParser(cfg)
	parsed, err := p.ParseSentence(sentence, 0)
	if err != nil {
		t.Fatalf("ParseSentence() error: %v", err)
	}
	// 4 character literals + 1 trailing space
	if len(parsed.Literals) != 5 {
		t.Fatalf("got %d literals, want 5", len(parsed.Literals))
	}
	for i, want := range []string{"c", "a", "f", "e", " "} {
		if parsed.Literals[i].Value != want {
			t.Errorf("literal %d = %q, want %q", i, parsed.Literals[i].Value, want)
		}
	}
}

func TestParseSentenceForceAlignmentReconstructsOriginalSpacing(t *testing.T) {
	cfg := &config.Config{LiteralLevel: config.LiteralLevelToken, ForceAlignment: true}
	sentence := Sentence{
		Tokens: []Token{
			{ID: 1, Form: "The", Head: 2, Deprel: "det"},
			{ID: 2, Form: "cat", Head: 0, Deprel: "root"},
		},
		Metadata: []MetadataEntry{{Key: "text", Value: "The  cat"}},
	}

	p := NewParser(cfg)
	parsed, err := p.ParseSentence(sentence, 0)
	if err != nil {
		t.Fatalf("ParseSentence() error: %v", err)
	}
	var text string
	for _, l := range parsed.Literals {
		text += l.Value
	}
	if text != "The  cat" {
		t.Errorf("reconstructed text = %q, want %q", text, "The  cat")
	}
}

func TestParseSentenceForceAlignmentMissingTextIsAlignmentError(t *testing.T) {
	cfg := &config.Config{LiteralLevel: config.LiteralLevelToken, ForceAlignment: true}
	sentence := Sentence{Tokens: []Token{{ID: 1, Form: "cat", Head: 0, Deprel: "root"}}}

	p := NewParser(cfg)
	if _, err := p.ParseSentence(sentence, 0); err == nil {
		t.Fatal("ParseSentence() error = nil, want an Alignment error")
	}
}

func TestParseSentenceMultiwordTokenUsesSpanTrailingSpace(t *testing.T) {
	cfg := &config.Config{LiteralLevel: config.LiteralLevelToken}
	sentence := Sentence{
		Tokens: []Token{
			{ID: 1, IsMultiword: true, MultiwordEnd: 2, Form: "don't", Misc: map[string]string{"SpaceAfter": "No"}},
			{ID: 1, Form: "do", Head: 0, Deprel: "root"},
			{ID: 2, Form: "n't", Head: 1, Deprel: "advmod"},
		},
	}

	p := NewParser(cfg)
	parsed, err := p.ParseSentence(sentence, 0)
	if err != nil {
		t.Fatalf("ParseSentence() error: %v", err)
	}
	var text string
	for _, l := range parsed.Literals {
		text += l.Value
	}
	if text != "don't" {
		t.Errorf("reconstructed text = %q, want %q (multiword span, no trailing space)", text, "don't")
	}
}

func TestParseSentenceSentenceTerminatorAppendsLiteral(t *testing.T) {
	cfg := &config.Config{LiteralLevel: config.LiteralLevelToken, SentenceTerminator: "\n"}
	sentence := Sentence{Tokens: []Token{{ID: 1, Form: "cat", Head: 0, Deprel: "root", Misc: map[string]string{"SpaceAfter": "No"}}}}

	p := NewParser(cfg)
	parsed, err := p.ParseSentence(sentence, 0)
	if err != nil {
		t.Fatalf("ParseSentence() error: %v", err)
	}
	last := parsed.Literals[len(parsed.Literals)-1]
	if last.Value != "\n" {
		t.Errorf("final literal = %q, want %q", last.Value, "\n")
	}
}

func TestParseSentenceNewdocMetadataIsCarriedNotStructured(t *testing.T) {
	cfg := tokenLevelConfig()
	sentence := Sentence{
		Tokens:   []Token{{ID: 1, Form: "cat", Head: 0, Deprel: "root"}},
		Metadata: []MetadataEntry{{Key: "newdoc", Value: ""}, {Key: "sent_id", Value: "1"}},
	}

	p := NewParser(cfg)
	parsed, err := p.ParseSentence(sentence, 0)
	if err != nil {
		t.Fatalf("ParseSentence() error: %v", err)
	}
	if _, ok := parsed.Carryover["document"]; !ok {
		t.Fatal("carryover missing \"document\" field")
	}
	for _, s := range parsed.Structures {
		if s.Type == "newdoc" {
			t.Error("newdoc must not become its own Structure; it is carryover-only")
		}
	}
}
