package ingest

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/nlpnorth/decaf/config"
	"github.com/nlpnorth/decaf/logger"
	"github.com/nlpnorth/decaf/models"
	"github.com/nlpnorth/decaf/storage"
)

// Batcher drives a SentenceSource through a Parser and a Carryover state
// machine, grouping the result into write-sized batches before handing
// them to a storage.Manager.
//
// Parses one sentence at a time, folds its carryover metadata into the
// running paragraph/document state, and adds the result to the index;
// Batcher adds the batching and sharding boundaries DECAF's storage
// layer expects on top of that per-sentence core.
type Batcher struct {
	cfg       *config.Config
	manager   *storage.Manager
	parser    *Parser
	carryover *Carryover

	cursor           int
	pendingLiterals  []*models.Literal
	pendingStructs   []*models.Structure
	pendingHierarchs []models.PendingHierarchy
	pendingSentences int

	sentencesSinceCommit int
	sentencesInShard     int64
}

// NewBatcher builds a Batcher writing through manager, using cfg's
// literal_level/force_alignment/sentence_terminator options to parse and
// its batch_size/shard_size/commit_steps options to decide flush and
// rollover points.
func NewBatcher(cfg *config.Config, manager *storage.Manager) *Batcher {
	return &Batcher{
		cfg:       cfg,
		manager:   manager,
		parser:    NewParser(cfg),
		carryover: NewCarryover(),
	}
}

// Stats summarizes one Run call.
type Stats struct {
	Sentences   int
	Literals    int
	Structures  int
	Hierarchies int
}

// Run consumes every sentence from source, writing complete batches to
// the manager as it goes and flushing whatever remains (plus the final
// carryover paragraph/document) once source is exhausted. Parsing runs
// on the calling goroutine, one sentence at a time; use RunParallel to
// spread the CPU-bound parsing work across cfg.Threads workers.
func (b *Batcher) Run(ctx context.Context, source SentenceSource) (Stats, error) {
	var stats Stats

	for {
		sentence, ok, err := source.Next()
		if err != nil {
			return stats, models.NewError(models.Parse, "Batcher.Run", err)
		}
		if !ok {
			break
		}

		parsed, err := b.parser.ParseSentence(sentence, b.cursor)
		if err != nil {
			return stats, err
		}

		if err := b.applyParsed(ctx, parsed, &stats); err != nil {
			return stats, err
		}
	}

	if err := b.finish(ctx, &stats); err != nil {
		return stats, err
	}

	logger.Info("ingestion complete: %d sentence(s), %d literal(s), %d structure(s), %d hierarchy edge(s)",
		stats.Sentences, stats.Literals, stats.Structures, stats.Hierarchies)
	return stats, nil
}

// RunParallel is Run with its CPU-bound parsing stage spread across
// threads workers: sentences are still read from source, and every
// batch is still committed to the manager, in strict one-writer,
// in-order fashion — only the tokenizing, dependency-tree,
// and Structure-construction work inside Parser.ParseSentence runs
// concurrently, each call against a nominal cursor of 0 and then
// ParsedSentence.Shift into the real running cursor once results are
// collected back in source order.
//
// threads <= 1 falls back to Run directly; there is no benefit to
// standing up a worker pool of size one.
func (b *Batcher) RunParallel(ctx context.Context, source SentenceSource, threads int) (Stats, error) {
	if threads <= 1 {
		return b.Run(ctx, source)
	}

	var stats Stats

	for {
		chunk, err := readChunk(source, threads)
		if err != nil {
			return stats, models.NewError(models.Parse, "Batcher.RunParallel", err)
		}
		if len(chunk) == 0 {
			break
		}

		parsed := make([]*ParsedSentence, len(chunk))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(threads)
		for i, sentence := range chunk {
			i, sentence := i, sentence
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				p, err := b.parser.ParseSentence(sentence, 0)
				if err != nil {
					return err
				}
				parsed[i] = p
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return stats, err
		}

		for _, p := range parsed {
			p.Shift(b.cursor)
			if err := b.applyParsed(ctx, p, &stats); err != nil {
				return stats, err
			}
		}
	}

	if err := b.finish(ctx, &stats); err != nil {
		return stats, err
	}

	logger.Info("parallel ingestion complete (%d worker(s)): %d sentence(s), %d literal(s), %d structure(s), %d hierarchy edge(s)",
		threads, stats.Sentences, stats.Literals, stats.Structures, stats.Hierarchies)
	return stats, nil
}

// RunAuto is RunParallel sized by the Batcher's own config.Threads,
// resolving the documented "0 means runtime.NumCPU()" default. Callers
// that want to choose a specific worker count (e.g. to leave headroom
// for the query side of a mixed read/write process) should call
// RunParallel directly instead.
func (b *Batcher) RunAuto(ctx context.Context, source SentenceSource) (Stats, error) {
	return b.RunParallel(ctx, source, b.cfg.ResolvedThreads())
}

// readChunk reads up to n sentences from source, stopping early (with a
// shorter, possibly empty, chunk) once source is exhausted.
func readChunk(source SentenceSource, n int) ([]Sentence, error) {
	chunk := make([]Sentence, 0, n)
	for i := 0; i < n; i++ {
		sentence, ok, err := source.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		chunk = append(chunk, sentence)
	}
	return chunk, nil
}

// applyParsed folds one already-offset ParsedSentence into the
// Batcher's pending batch and carryover state, flushing and rolling
// over shards as needed; both Run and RunParallel go through it.
func (b *Batcher) applyParsed(ctx context.Context, parsed *ParsedSentence, stats *Stats) error {
	b.cursor = parsed.NextCursor

	closedStructs, closedHierarchies := b.carryover.Apply(parsed.Carryover, parsed.Literals, parsed.Sentence, b.cursor)
	// Carryover.Apply closes the paragraph scope on both newpar and
	// newdoc, so closedStructs alone can't distinguish them; a batch
	// must only be forced shut on an actual document boundary.
	_, documentClosed := parsed.Carryover["document"]

	b.pendingStructs = append(b.pendingStructs, closedStructs...)
	b.pendingHierarchs = append(b.pendingHierarchs, closedHierarchies...)
	if documentClosed {
		// The closed document goes out with its own batch; this
		// sentence opens the new document and starts the next batch.
		if err := b.flush(ctx); err != nil {
			return err
		}
	}

	b.pendingLiterals = append(b.pendingLiterals, parsed.Literals...)
	b.pendingStructs = append(b.pendingStructs, parsed.Structures...)
	b.pendingHierarchs = append(b.pendingHierarchs, parsed.Hierarchies...)
	b.pendingSentences++
	b.sentencesSinceCommit++
	b.sentencesInShard++

	stats.Sentences++
	stats.Literals += len(parsed.Literals)
	stats.Structures += len(parsed.Structures) + len(closedStructs)
	stats.Hierarchies += len(parsed.Hierarchies) + len(closedHierarchies)

	flushDue := b.pendingSentences >= b.cfg.BatchSize
	commitDue := b.cfg.CommitSteps > 0 && b.sentencesSinceCommit >= b.cfg.CommitSteps
	if flushDue || commitDue {
		if err := b.flush(ctx); err != nil {
			return err
		}
	}

	if b.cfg.ShardSize > 0 && b.sentencesInShard >= int64(b.cfg.ShardSize) {
		if err := b.flush(ctx); err != nil {
			return err
		}
		if err := b.manager.Rollover(); err != nil {
			return err
		}
		b.sentencesInShard = 0
	}
	return nil
}

// finish flushes the final carryover paragraph/document and whatever
// batch remains pending, common to both Run and RunParallel.
func (b *Batcher) finish(ctx context.Context, stats *Stats) error {
	finalStructs, finalHierarchies := b.carryover.Flush(b.cursor)
	b.pendingStructs = append(b.pendingStructs, finalStructs...)
	b.pendingHierarchs = append(b.pendingHierarchs, finalHierarchies...)
	stats.Structures += len(finalStructs)
	stats.Hierarchies += len(finalHierarchies)

	return b.flush(ctx)
}

// WindowSource restricts source to sentence indices in the half-open
// range [start, end) (0-based), for slicing one corpus across several
// ingestion workers each driving their own Batcher and Manager over a
// disjoint window. Sentences before start are still read from source
// (most SentenceSource implementations are one-pass streams with no
// seek) but are discarded without being parsed; reading stops as soon
// as end is reached, leaving the rest of source unconsumed.
func WindowSource(source SentenceSource, start, end int) SentenceSource {
	return &windowedSource{inner: source, start: start, end: end, remaining: start}
}

type windowedSource struct {
	inner     SentenceSource
	start     int // source index of the first in-window sentence
	remaining int // sentences still to skip before entering the window
	index     int // how many in-window sentences have been yielded
	end       int
}

func (w *windowedSource) Next() (Sentence, bool, error) {
	for w.remaining > 0 {
		if _, ok, err := w.inner.Next(); err != nil || !ok {
			return Sentence{}, false, err
		}
		w.remaining--
	}
	if w.end > 0 && w.start+w.index >= w.end {
		return Sentence{}, false, nil
	}
	sentence, ok, err := w.inner.Next()
	if err != nil || !ok {
		return Sentence{}, ok, err
	}
	w.index++
	return sentence, true, nil
}

// GetSize consumes every sentence from source, returning the total
// count without running it through Parser.ParseSentence — callers use
// this to size ingestion windows (e.g. split a file evenly across
// Threads workers) before committing to a full parse.
func GetSize(source SentenceSource) (int, error) {
	var n int
	for {
		_, ok, err := source.Next()
		if err != nil {
			return n, models.NewError(models.Parse, "ingest.GetSize", err)
		}
		if !ok {
			return n, nil
		}
		n++
	}
}

func (b *Batcher) flush(ctx context.Context) error {
	if len(b.pendingLiterals) == 0 && len(b.pendingStructs) == 0 && len(b.pendingHierarchs) == 0 {
		return nil
	}
	if err := b.manager.Write(ctx, b.pendingLiterals, b.pendingStructs, b.pendingHierarchs); err != nil {
		return err
	}
	b.pendingLiterals = nil
	b.pendingStructs = nil
	b.pendingHierarchs = nil
	b.pendingSentences = 0
	b.sentencesSinceCommit = 0
	return nil
}
