package ingest

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/nlpnorth/decaf/config"
	"github.com/nlpnorth/decaf/logger"
	"github.com/nlpnorth/decaf/models"
)

// Parser turns one already-tokenised Sentence into Literals, Structures,
// and Hierarchy edges, per the configured literal granularity and
// spacing mode.
type Parser struct {
	cfg *config.Config
}

// NewParser builds a Parser from cfg's literal_level, force_alignment,
// and sentence_terminator options.
func NewParser(cfg *config.Config) *Parser {
	return &Parser{cfg: cfg}
}

// ParsedSentence is everything ParseSentence produces for one sentence.
// Carryover is this sentence's own newdoc/newpar/meta::* fields, ready
// to fold into a Carryover state machine; ordinary per-sentence
// metadata keys are already represented as Structures.
type ParsedSentence struct {
	Literals    []*models.Literal
	Structures  []*models.Structure
	Hierarchies []models.PendingHierarchy
	Sentence    *models.Structure
	Carryover   map[string]carryoverValue
	NextCursor  int
}

// Shift adds delta to every offset a ParsedSentence carries: each
// Literal and Structure's Start/End, each pending Carryover field's
// opening offset, and NextCursor. Structures is a flat, deduplicated
// list (Sentence is the same pointer as Structures[0], not a second
// copy), so each Structure is shifted exactly once even though several
// Structures and the Carryover map reference the same underlying
// Literals.
//
// Parser.ParseSentence bakes the cursor it is given directly into every
// offset it produces, which makes offset assignment for one sentence
// inherently sequential — the next sentence's cursor is this one's
// NextCursor. Shift lets a caller parse a batch of sentences
// concurrently against a nominal cursor of 0 (none of the tokenizing,
// dependency-tree, or Structure-construction work depends on the
// absolute cursor value) and then apply the real, sequential running
// cursor afterward in one cheap pass, rather than serializing
// ParseSentence itself.
func (p *ParsedSentence) Shift(delta int) {
	if delta == 0 {
		return
	}
	for _, l := range p.Literals {
		l.Start += delta
		l.End += delta
	}
	for _, s := range p.Structures {
		s.Start += delta
		s.End += delta
	}
	for field, v := range p.Carryover {
		v.start += delta
		p.Carryover[field] = v
	}
	p.NextCursor += delta
}

// ParseSentence parses sentence, whose content begins at shard-local
// offset cursor.
func (p *Parser) ParseSentence(sentence Sentence, cursor int) (*ParsedSentence, error) {
	var literals []*models.Literal
	var structures []*models.Structure
	var hierarchies []models.PendingHierarchy

	tokenStructures := make(map[int]*models.Structure)

	tokenCursor := cursor
	inMultiword := false
	var multiwordEnd int
	var multiwordSpaceAfter bool

	forceAligned := p.cfg.ForceAlignment
	var gaps []string
	if forceAligned {
		text, ok := sentence.MetadataValue("text")
		if !ok {
			return nil, models.NewError(models.Alignment, "Parser.ParseSentence", fmt.Errorf("force_alignment requires a \"text\" metadata field"))
		}
		forms := formsOf(sentence.Tokens)
		var err error
		gaps, err = alignGaps(text, forms)
		if err != nil {
			return nil, err
		}
		if leading := gaps[0]; leading != "" {
			lit := &models.Literal{Start: tokenCursor, End: tokenCursor + runeLen(leading), Value: leading}
			literals = append(literals, lit)
			tokenCursor += runeLen(leading)
		}
	}

	formIndex := 0
	for _, tok := range sentence.Tokens {
		if tok.IsMultiword {
			multiwordEnd = tok.MultiwordEnd
			multiwordSpaceAfter = tok.SpaceAfter()
			inMultiword = true
			continue
		}

		trailing := tok.SpaceAfter()
		if inMultiword {
			trailing = false
			if tok.ID >= multiwordEnd {
				trailing = multiwordSpaceAfter
				inMultiword = false
			}
		}

		content, tokEnd, tokStruct, annotations, tokHierarchies := p.buildToken(tok, tokenCursor)
		literals = append(literals, content...)
		structures = append(structures, tokStruct)
		structures = append(structures, annotations...)
		hierarchies = append(hierarchies, tokHierarchies...)
		tokenStructures[tok.ID] = tokStruct

		tokenCursor = tokEnd
		formIndex++

		if forceAligned {
			gap := gaps[formIndex]
			if gap != "" {
				warnOnSuspiciousGap(gap)
				lit := &models.Literal{Start: tokenCursor, End: tokenCursor + runeLen(gap), Value: gap}
				literals = append(literals, lit)
				tokenCursor += runeLen(gap)
			}
		} else if trailing {
			lit := &models.Literal{Start: tokenCursor, End: tokenCursor + 1, Value: " "}
			literals = append(literals, lit)
			tokenCursor++
		}
	}

	dependencyStructures, dependencyHierarchies, err := p.parseDependencies(sentence.Tokens, tokenStructures)
	if err != nil {
		return nil, err
	}
	structures = append(dependencyStructures, structures...)
	hierarchies = append(dependencyHierarchies, hierarchies...)

	if p.cfg.SentenceTerminator != "" {
		lit := &models.Literal{Start: tokenCursor, End: tokenCursor + runeLen(p.cfg.SentenceTerminator), Value: p.cfg.SentenceTerminator}
		literals = append(literals, lit)
		tokenCursor += runeLen(p.cfg.SentenceTerminator)
	}

	sentenceStruct := models.NewConstituentStructure(cursor, tokenCursor, "sentence", append([]*models.Literal{}, literals...))
	var sentenceMeta []*models.Structure
	carryover := make(map[string]carryoverValue)

	for _, entry := range sentence.Metadata {
		if entry.Key == "text" {
			continue
		}
		if field, ok := carryoverField(entry.Key); ok {
			carryover[field] = carryoverValue{value: entry.Value, start: cursor}
			continue
		}
		meta := models.NewStructure(cursor, tokenCursor, entry.Key, entry.Value, append([]*models.Literal{}, literals...))
		sentenceMeta = append(sentenceMeta, meta)
	}

	structures = append([]*models.Structure{sentenceStruct}, structures...)
	structures = append(structures, sentenceMeta...)

	orderedTokenIDs := make([]int, 0, len(tokenStructures))
	for id := range tokenStructures {
		orderedTokenIDs = append(orderedTokenIDs, id)
	}
	sort.Ints(orderedTokenIDs)
	for _, id := range orderedTokenIDs {
		hierarchies = append(hierarchies, models.NewPendingHierarchy(sentenceStruct, tokenStructures[id]))
	}
	for _, d := range dependencyStructures {
		hierarchies = append(hierarchies, models.NewPendingHierarchy(sentenceStruct, d))
	}
	for _, m := range sentenceMeta {
		hierarchies = append(hierarchies, models.NewPendingHierarchy(sentenceStruct, m))
	}

	return &ParsedSentence{
		Literals:    literals,
		Structures:  structures,
		Hierarchies: hierarchies,
		Sentence:    sentenceStruct,
		Carryover:   carryover,
		NextCursor:  tokenCursor,
	}, nil
}

// buildToken produces a token's content Literals (excluding any
// trailing space, which the caller decides and appends separately), its
// token Structure, one Structure per non-empty annotation field, and
// the hierarchy edges from the token to each annotation.
func (p *Parser) buildToken(tok Token, cursor int) (content []*models.Literal, end int, tokenStruct *models.Structure, annotations []*models.Structure, hierarchies []models.PendingHierarchy) {
	switch p.cfg.LiteralLevel {
	case config.LiteralLevelToken:
		content = append(content, &models.Literal{Start: cursor, End: cursor + runeLen(tok.Form), Value: tok.Form})
	default: // character
		for _, r := range tok.Form {
			content = append(content, &models.Literal{Start: cursor, End: cursor + 1, Value: string(r)})
			cursor++
		}
		// cursor has been advanced in the loop; recompute against the
		// original start for callers that need [start,end).
		if len(content) > 0 {
			cursor = content[0].Start + len(content)
		}
	}

	start := cursor
	if len(content) > 0 {
		start = content[0].Start
	}
	end = start + runeLen(tok.Form)

	tokenStruct = models.NewConstituentStructure(start, end, "token", append([]*models.Literal{}, content...))

	add := func(stype, value string) {
		a := models.NewStructure(start, end, stype, value, content)
		annotations = append(annotations, a)
		hierarchies = append(hierarchies, models.NewPendingHierarchy(tokenStruct, a))
	}

	if tok.Lemma != "" {
		add("lemma", tok.Lemma)
	}
	if tok.Upos != "" {
		add("upos", tok.Upos)
	}
	if tok.Xpos != "" {
		add("xpos", tok.Xpos)
	}
	if tok.Deprel != "" {
		add("deprel", tok.Deprel)
	}
	add("head", strconv.Itoa(tok.Head))
	for _, k := range sortedKeys(tok.Feats) {
		add(k, tok.Feats[k])
	}
	for _, k := range sortedKeys(tok.Misc) {
		add(k, tok.Misc[k])
	}

	return content, end, tokenStruct, annotations, hierarchies
}

// parseDependencies builds one "dependency" Structure per token reachable
// from a root of the dependency tree, leaf tokens included, recursing
// bottom-up so a dependency's offset range spans the minimum
// start and maximum end of its transitive dependents.
func (p *Parser) parseDependencies(tokens []Token, tokenStructures map[int]*models.Structure) ([]*models.Structure, []models.PendingHierarchy, error) {
	children := make(map[int][]int)
	var roots []int
	for _, tok := range tokens {
		if tok.IsMultiword {
			continue
		}
		if tok.Head == 0 {
			roots = append(roots, tok.ID)
			continue
		}
		if _, ok := tokenStructures[tok.Head]; !ok {
			return nil, nil, models.NewError(models.Parse, "Parser.parseDependencies",
				fmt.Errorf("token %d has head %d, which is not a token in this sentence", tok.ID, tok.Head))
		}
		children[tok.Head] = append(children[tok.Head], tok.ID)
	}

	var structures []*models.Structure
	var hierarchies []models.PendingHierarchy

	var visit func(id int, deprel string) *models.Structure
	visit = func(id int, deprel string) *models.Structure {
		tok := tokenStructures[id]
		start, end := tok.Start, tok.End
		literals := append([]*models.Literal{}, tok.Literals...)

		var childDependencies []*models.Structure
		childIDs := append([]int{}, children[id]...)
		sort.Ints(childIDs)
		for _, childID := range childIDs {
			childDeprel := deprelOf(tokens, childID)
			childDep := visit(childID, childDeprel)
			childDependencies = append(childDependencies, childDep)
			literals = append(literals, tokenStructures[childID].Literals...)
			if childDep.Start < start {
				start = childDep.Start
			}
			if childDep.End > end {
				end = childDep.End
			}
		}

		dependency := models.NewStructure(start, end, "dependency", deprel, literals)
		for _, childDep := range childDependencies {
			hierarchies = append(hierarchies, models.NewPendingHierarchy(dependency, childDep))
		}
		hierarchies = append(hierarchies, models.NewPendingHierarchy(dependency, tok))
		structures = append(structures, dependency)
		return dependency
	}

	sort.Ints(roots)
	for _, root := range roots {
		visit(root, deprelOf(tokens, root))
	}

	return structures, hierarchies, nil
}

func deprelOf(tokens []Token, id int) string {
	for _, t := range tokens {
		if t.ID == id {
			return t.Deprel
		}
	}
	return ""
}

func formsOf(tokens []Token) []string {
	var forms []string
	for _, t := range tokens {
		if t.IsMultiword {
			continue
		}
		forms = append(forms, t.Form)
	}
	return forms
}

// alignGaps locates each form in text in order, returning len(forms)+1
// gap strings: the text before the first token, between consecutive
// tokens, and after the last one.
func alignGaps(text string, forms []string) ([]string, error) {
	gaps := make([]string, len(forms)+1)
	pos := 0
	for i, form := range forms {
		idx := strings.Index(text[pos:], form)
		if idx < 0 {
			return nil, models.NewError(models.Alignment, "Parser.alignGaps",
				fmt.Errorf("token %q not found in sentence text at or after offset %d", form, pos))
		}
		gaps[i] = text[pos : pos+idx]
		pos += idx + len(form)
	}
	gaps[len(forms)] = text[pos:]
	return gaps, nil
}

// warnOnSuspiciousGap logs a warning for an intermediate whitespace run
// that is unusually long and not pure whitespace, per the propagation
// policy that accepts such gaps rather than failing alignment outright.
func warnOnSuspiciousGap(gap string) {
	if utf8.RuneCountInString(gap) <= 5 {
		return
	}
	for _, r := range gap {
		if !unicode.IsSpace(r) {
			logger.Warn("force-alignment: accepted an unusually long, non-whitespace gap: %q", gap)
			return
		}
	}
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
