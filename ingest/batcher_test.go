package ingest

import (
	"context"
	"testing"

	"github.com/nlpnorth/decaf/config"
	"github.com/nlpnorth/decaf/storage"
)

func newTestBatcher(t *testing.T, batchSize int) *Batcher {
	t.Helper()
	cfg := &config.Config{
		DataPath:  t.TempDir(),
		BatchSize: batchSize,
		ShardSize: 100000,
	}
	mgr, err := storage.Open(cfg)
	if err != nil {
		t.Fatalf("storage.Open() error: %v", err)
	}
	t.Cleanup(func() { mgr.Close() })
	return NewBatcher(cfg, mgr)
}

func sentenceWithMeta(meta ...MetadataEntry) Sentence {
	return Sentence{
		Tokens:   []Token{{ID: 1, Form: "w", Head: 0, Deprel: "root"}},
		Metadata: meta,
	}
}

// A newpar boundary must not force a batch flush before BatchSize is
// reached: only a newdoc boundary closes the document scope that
// applyParsed checks for.
func TestParagraphBoundaryDoesNotForceBatchFlush(t *testing.T) {
	b := newTestBatcher(t, 10)

	sentences := []Sentence{
		sentenceWithMeta(),
		sentenceWithMeta(MetadataEntry{Key: "newpar"}),
		sentenceWithMeta(MetadataEntry{Key: "newpar"}),
		sentenceWithMeta(MetadataEntry{Key: "newpar"}),
	}

	var stats Stats
	for _, s := range sentences {
		parsed, err := b.parser.ParseSentence(s, b.cursor)
		if err != nil {
			t.Fatalf("ParseSentence() error: %v", err)
		}
		if err := b.applyParsed(context.Background(), parsed, &stats); err != nil {
			t.Fatalf("applyParsed() error: %v", err)
		}
	}

	if b.pendingSentences != len(sentences) {
		t.Errorf("pendingSentences = %d, want %d (a newpar-only boundary must not flush)", b.pendingSentences, len(sentences))
	}
}

// A newdoc boundary does force a flush, regardless of BatchSize: the
// prior document's batch is written and the sentence opening the new
// document is the only one left pending.
func TestDocumentBoundaryForcesBatchFlush(t *testing.T) {
	b := newTestBatcher(t, 10)

	var stats Stats
	first, err := b.parser.ParseSentence(sentenceWithMeta(MetadataEntry{Key: "newdoc"}), b.cursor)
	if err != nil {
		t.Fatalf("ParseSentence() error: %v", err)
	}
	if err := b.applyParsed(context.Background(), first, &stats); err != nil {
		t.Fatalf("applyParsed() error: %v", err)
	}

	second, err := b.parser.ParseSentence(sentenceWithMeta(MetadataEntry{Key: "newdoc"}), b.cursor)
	if err != nil {
		t.Fatalf("ParseSentence() error: %v", err)
	}
	if err := b.applyParsed(context.Background(), second, &stats); err != nil {
		t.Fatalf("applyParsed() error: %v", err)
	}

	if b.pendingSentences != 1 {
		t.Errorf("pendingSentences = %d, want 1 (a newdoc boundary must flush the prior batch)", b.pendingSentences)
	}
}

func sentenceSeq(n int) []Sentence {
	out := make([]Sentence, n)
	for i := range out {
		out[i] = Sentence{Tokens: []Token{{ID: 1, Form: "w", Head: 0, Deprel: "root"}}}
	}
	return out
}

func TestGetSizeCountsWithoutParsing(t *testing.T) {
	source := NewSliceSource(sentenceSeq(5))
	n, err := GetSize(source)
	if err != nil {
		t.Fatalf("GetSize() error: %v", err)
	}
	if n != 5 {
		t.Errorf("GetSize() = %d, want 5", n)
	}
}

func TestWindowSourceRestrictsToRange(t *testing.T) {
	source := WindowSource(NewSliceSource(sentenceSeq(10)), 3, 6)

	var n int
	for {
		_, ok, err := source.Next()
		if err != nil {
			t.Fatalf("Next() error: %v", err)
		}
		if !ok {
			break
		}
		n++
	}
	if n != 3 {
		t.Errorf("windowed sentence count = %d, want 3 (indices [3,6))", n)
	}
}

func TestWindowSourceZeroEndMeansUnbounded(t *testing.T) {
	source := WindowSource(NewSliceSource(sentenceSeq(4)), 2, 0)

	var n int
	for {
		_, ok, _ := source.Next()
		if !ok {
			break
		}
		n++
	}
	if n != 2 {
		t.Errorf("windowed sentence count = %d, want 2 (indices [2,4))", n)
	}
}
