// Package query implements the public DECAF query operations: filter,
// export, mask, co-occurrence, and corpus statistics. Each operation
// compiles one or two view.Plan cascades and fans the resulting SQL out
// across every shard via storage.Manager.QueryShards, merging per-shard
// results according to the operation's own merge rule (concatenation
// for row-producing operations, summation for aggregates).
//
// Each operation (filter, get_filter_ranges, export_ranges, get_size,
// get_atom_counts, get_structure_counts, get_cooccurence) is adapted
// from a single sqlite3-backed connection to a sharded,
// concurrently-queried manager.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nlpnorth/decaf/cache"
	"github.com/nlpnorth/decaf/constraint"
	"github.com/nlpnorth/decaf/models"
	"github.com/nlpnorth/decaf/storage"
	"github.com/nlpnorth/decaf/storage/pools"
	"github.com/nlpnorth/decaf/view"
)

// defaultViewCacheSize and defaultViewCacheTTL bound the per-Engine
// compiled-plan cache: a corpus explored interactively re-issues the
// same handful of Filters far more often than it invents new ones.
const (
	defaultViewCacheSize = 512
	defaultViewCacheTTL  = 10 * time.Minute
)

// Engine executes compiled view plans against every shard a Manager
// owns. Compiled view.Plans are memoized in a content-addressed
// cache.ViewCache, keyed off the filter's own rendered SQL fragments, so
// that repeated filter/mask/cooccurrence calls against the same Filter
// skip recompiling the view cascade.
type Engine struct {
	manager *storage.Manager
	plans   *cache.ViewCache
}

// New builds an Engine over manager with a default-sized view-plan
// cache.
func New(manager *storage.Manager) *Engine {
	return NewWithCache(manager, cache.NewViewCache(defaultViewCacheSize, defaultViewCacheTTL))
}

// NewWithCache builds an Engine over manager using an explicitly sized
// view.Plan cache, for callers (e.g. long-lived query servers) that want
// to tune eviction behavior away from the default.
func NewWithCache(manager *storage.Manager, plans *cache.ViewCache) *Engine {
	return &Engine{manager: manager, plans: plans}
}

// compilePlan compiles filter at the given output level and view
// prefix, serving a cached *view.Plan when an identical filter has
// already been compiled under the same prefix. The cache key folds in
// every input view.Compile's output actually depends on: the filter's
// three SQL renderings and its hierarchy (which together determine
// relevant_structures, filtered_literals and
// filtered_structures/filtered_constrained_substructures), plus
// Sequential, the output level, and the view prefix, since those select
// which terminal view the cascade ends on.
func compilePlan(plans *cache.ViewCache, filter constraint.Filter, level view.OutputLevel, viewPrefix string) (*view.Plan, error) {
	hierarchy := ""
	if filter.Hierarchy != nil {
		hierarchy = filter.Hierarchy.ParentType + ">" + filter.Hierarchy.ChildType
	}
	key := cache.Key(
		filter.Criteria.ToSQL(),
		filter.Criteria.ToPrefilterSQL(false, ""),
		filter.Criteria.ToGroupedSQL(),
		hierarchy,
		strconv.FormatBool(filter.Sequential),
		strconv.Itoa(int(level)),
		viewPrefix,
	)

	if cached, ok := plans.Get(key); ok {
		return cached.(*view.Plan), nil
	}

	plan, err := view.Compile(filter, level, viewPrefix)
	if err != nil {
		return nil, err
	}
	plans.Set(key, plan)
	return plan, nil
}

// Row is one matched (sub)structure, optionally carrying its assembled
// surface text.
type Row struct {
	Shard       int
	StructureID int64
	Start       int
	End         int
	Text        string
}

// Range is a half-open shard-local offset range.
type Range struct {
	Start int
	End   int
}

// Size is the corpus-wide entity count, summed across every shard.
type Size struct {
	NumLiterals    int64
	NumStructures  int64
	NumHierarchies int64
}

// CooccurrenceCount is one cell of a co-occurrence table: how many
// times source and target were jointly matched.
type CooccurrenceCount struct {
	Source    string
	Target    string
	Frequency int64
}

// GetFilterRanges compiles filter at the given output level and returns
// the matched (sub)structure ranges without assembling surface text,
// for use as input to Mask and ExportStructures.
func (e *Engine) GetFilterRanges(ctx context.Context, filter constraint.Filter, level view.OutputLevel) ([]Row, error) {
	plan, err := compilePlan(e.plans, filter, level, "")
	if err != nil {
		return nil, err
	}

	results, err := e.manager.QueryShards(ctx, func(ctx context.Context, shard *storage.Shard) (interface{}, error) {
		return selectRanges(ctx, shard, plan)
	})
	if err != nil {
		return nil, err
	}

	var rows []Row
	for _, r := range results {
		rows = append(rows, r.([]Row)...)
	}
	return rows, nil
}

func selectRanges(ctx context.Context, shard *storage.Shard, plan *view.Plan) ([]Row, error) {
	query := plan.SQL + " SELECT " + plan.OutputColumns + " FROM " + plan.TerminalView

	rows, err := shard.DB().QueryContext(ctx, query)
	if err != nil {
		return nil, models.NewError(models.Storage, "query.GetFilterRanges", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, models.NewError(models.Storage, "query.GetFilterRanges", err)
	}

	var out []Row
	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, models.NewError(models.Storage, "query.GetFilterRanges", err)
		}

		row := Row{Shard: shard.Index}
		for i, col := range cols {
			switch col {
			case "substructure_id":
				row.StructureID = toInt64(vals[i])
			case "structure_id":
				// Substructure-level plans also select the parent's id;
				// the row keeps the matched substructure's own id.
				if cols[0] != "substructure_id" {
					row.StructureID = toInt64(vals[i])
				}
			case "start", "structure_start":
				row.Start = int(toInt64(vals[i]))
			case "end", "structure_end":
				row.End = int(toInt64(vals[i]))
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}

// Filter runs GetFilterRanges and assembles each row's surface text by
// joining structure_literals with literals and concatenating value in
// offset order.
func (e *Engine) Filter(ctx context.Context, filter constraint.Filter, level view.OutputLevel) ([]Row, error) {
	rows, err := e.GetFilterRanges(ctx, filter, level)
	if err != nil {
		return nil, err
	}

	shards := make(map[int]*storage.Shard)
	for _, s := range e.manager.Shards() {
		shards[s.Index] = s
	}

	for i, r := range rows {
		text, err := exportStructureText(ctx, shards[r.Shard].DB(), r.StructureID)
		if err != nil {
			return nil, err
		}
		rows[i].Text = text
	}
	return rows, nil
}

func exportStructureText(ctx context.Context, db *sql.DB, structureID int64) (string, error) {
	const q = `
SELECT GROUP_CONCAT(value, '') FROM (
	SELECT l.value AS value FROM structure_literals sl
	JOIN literals l ON l.id = sl.literal
	WHERE sl.structure = ?
	ORDER BY l.start
)`
	var text sql.NullString
	if err := db.QueryRowContext(ctx, q, structureID).Scan(&text); err != nil {
		return "", models.NewError(models.Storage, "query.Filter", err)
	}
	return text.String, nil
}

// ExportRanges returns the concatenated text of every Literal in shard
// whose offsets lie inside (or, when invert, outside) any of ranges.
func (e *Engine) ExportRanges(ctx context.Context, shard *storage.Shard, ranges []Range, invert bool) (string, error) {
	if len(ranges) == 0 {
		if invert {
			return exportAllLiterals(ctx, shard.DB())
		}
		return "", nil
	}

	buf := pools.GetStringBuilder()
	defer pools.PutStringBuilder(buf)

	for i, r := range ranges {
		if i > 0 {
			buf.WriteString(" OR ")
		}
		fmt.Fprintf(buf, "(start >= %d AND end <= %d)", r.Start, r.End)
	}

	where := buf.String()
	if invert {
		where = "NOT (" + where + ")"
	}

	query := fmt.Sprintf(`SELECT GROUP_CONCAT(value, '') FROM (SELECT value FROM literals WHERE %s ORDER BY start)`, where)

	var text sql.NullString
	if err := shard.DB().QueryRowContext(ctx, query).Scan(&text); err != nil {
		return "", models.NewError(models.Storage, "query.ExportRanges", err)
	}
	return text.String, nil
}

func exportAllLiterals(ctx context.Context, db *sql.DB) (string, error) {
	var text sql.NullString
	const q = `SELECT GROUP_CONCAT(value, '') FROM (SELECT value FROM literals ORDER BY start)`
	if err := db.QueryRowContext(ctx, q).Scan(&text); err != nil {
		return "", models.NewError(models.Storage, "query.ExportRanges", err)
	}
	return text.String, nil
}

// ExportStructures is like ExportRanges but follows the
// structure_literals mapping, yielding only literals formally part of
// each structure rather than everything falling inside its offset
// range.
func (e *Engine) ExportStructures(ctx context.Context, shard *storage.Shard, structureIDs []int64) ([]string, error) {
	texts := make([]string, len(structureIDs))
	for i, id := range structureIDs {
		text, err := exportStructureText(ctx, shard.DB(), id)
		if err != nil {
			return nil, err
		}
		texts[i] = text
	}
	return texts, nil
}

// Mask returns, per shard, the shard's full text with the Literals
// belonging to every structure matched by filter (scoped by
// maskLevel) removed. When cleanWhitespace is set, runs of whitespace
// in the result are collapsed to a single space.
func (e *Engine) Mask(ctx context.Context, filter constraint.Filter, maskLevel view.OutputLevel, cleanWhitespace bool) (map[int]string, error) {
	rows, err := e.GetFilterRanges(ctx, filter, maskLevel)
	if err != nil {
		return nil, err
	}

	byShard := make(map[int][]Range)
	for _, r := range rows {
		byShard[r.Shard] = append(byShard[r.Shard], Range{Start: r.Start, End: r.End})
	}

	out := make(map[int]string)
	for _, shard := range e.manager.Shards() {
		text, err := e.ExportRanges(ctx, shard, byShard[shard.Index], true)
		if err != nil {
			return nil, err
		}
		if cleanWhitespace {
			text = collapseWhitespace(text)
		}
		out[shard.Index] = text
	}
	return out, nil
}

func collapseWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

// GetSize returns the corpus-wide literal, structure, and hierarchy
// edge counts, summed across every shard.
func (e *Engine) GetSize(ctx context.Context) (Size, error) {
	results, err := e.manager.QueryShards(ctx, func(ctx context.Context, shard *storage.Shard) (interface{}, error) {
		literals, err := shard.Count("literals")
		if err != nil {
			return nil, err
		}
		structures, err := shard.Count("structures")
		if err != nil {
			return nil, err
		}
		hierarchies, err := shard.Count("hierarchical_structures")
		if err != nil {
			return nil, err
		}
		return Size{NumLiterals: literals, NumStructures: structures, NumHierarchies: hierarchies}, nil
	})
	if err != nil {
		return Size{}, err
	}

	var total Size
	for _, r := range results {
		s := r.(Size)
		total.NumLiterals += s.NumLiterals
		total.NumStructures += s.NumStructures
		total.NumHierarchies += s.NumHierarchies
	}
	return total, nil
}

// GetLiteralCounts returns a frequency map of Literal.value across the
// whole corpus.
func (e *Engine) GetLiteralCounts(ctx context.Context) (map[string]int64, error) {
	results, err := e.manager.QueryShards(ctx, func(ctx context.Context, shard *storage.Shard) (interface{}, error) {
		return groupCount(ctx, shard.DB(), `SELECT value, COUNT(*) FROM literals GROUP BY value`)
	})
	if err != nil {
		return nil, err
	}
	return mergeCounts(results), nil
}

// GetStructureCounts returns a frequency map of Structures grouped by
// type (and, when requested, narrowed to specific values or literal
// surface forms). An empty types/values/literals filter groups by type
// alone, mirroring the unfiltered original get_structure_counts.
func (e *Engine) GetStructureCounts(ctx context.Context, types, values, literals []string) (map[string]int64, error) {
	buf := pools.GetStringBuilder()
	defer pools.PutStringBuilder(buf)

	buf.WriteString(`SELECT s.type`)
	needsLiteralJoin := len(literals) > 0
	if needsLiteralJoin {
		buf.WriteString(` || '=' || s.value || '=' || lit.text`)
	} else if len(values) > 0 {
		buf.WriteString(` || '=' || s.value`)
	}
	buf.WriteString(` AS label, COUNT(*) FROM structures s`)

	if needsLiteralJoin {
		buf.WriteString(` JOIN (SELECT sl.structure AS structure, GROUP_CONCAT(l.value, '') AS text
			FROM structure_literals sl JOIN literals l ON l.id = sl.literal
			GROUP BY sl.structure) lit ON lit.structure = s.id`)
	}

	var clauses []string
	if len(types) > 0 {
		clauses = append(clauses, "s.type IN "+quoteSet(types))
	}
	if len(values) > 0 {
		clauses = append(clauses, "s.value IN "+quoteSet(values))
	}
	if needsLiteralJoin {
		clauses = append(clauses, "lit.text IN "+quoteSet(literals))
	}
	if len(clauses) > 0 {
		buf.WriteString(" WHERE " + strings.Join(clauses, " AND "))
	}
	buf.WriteString(" GROUP BY label")

	queryStr := buf.String()

	results, err := e.manager.QueryShards(ctx, func(ctx context.Context, shard *storage.Shard) (interface{}, error) {
		return groupCount(ctx, shard.DB(), queryStr)
	})
	if err != nil {
		return nil, err
	}
	return mergeCounts(results), nil
}

func groupCount(ctx context.Context, db *sql.DB, query string) (map[string]int64, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, models.NewError(models.Storage, "query.groupCount", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return nil, models.NewError(models.Storage, "query.groupCount", err)
		}
		counts[key] = count
	}
	return counts, rows.Err()
}

func mergeCounts(results []interface{}) map[string]int64 {
	merged := make(map[string]int64)
	for _, r := range results {
		for k, v := range r.(map[string]int64) {
			merged[k] += v
		}
	}
	return merged
}

// quoteSet renders values as single-quoted SQL string literals (not
// double-quoted identifiers, which SQLite treats as a same-named column
// reference whenever one exists) for an IN (...) clause.
func quoteSet(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = `'` + strings.ReplaceAll(v, `'`, `''`) + `'`
	}
	return "(" + strings.Join(quoted, ", ") + ")"
}

// GetCooccurrence compiles source and target under the "source_" and
// "target_" view prefixes and joins them either on matching offsets
// (when neither filter carries a hierarchy) or on matching parent
// structure_id (when both do); asymmetric hierarchy combinations are a
// Configuration error, per the engine's join-key decision.
//
// Labeling reads the type/value columns exposed by
// filtered_substructures and filtered_constrained_substructures; a
// sequential source or target filter compiles to filtered_sequences
// instead, which does not carry those columns, so sequential
// co-occurrence filters are not supported here.
func (e *Engine) GetCooccurrence(ctx context.Context, source, target constraint.Filter) ([]CooccurrenceCount, error) {
	if (source.Hierarchy == nil) != (target.Hierarchy == nil) {
		return nil, models.NewError(models.Configuration, "query.GetCooccurrence",
			fmt.Errorf("source and target filters must either both carry a hierarchy or neither"))
	}

	level := view.OutputNone
	joinCriterion := "src.start = tgt.start AND src.end = tgt.end"
	if source.Hierarchy != nil {
		level = view.OutputSubstructures
		joinCriterion = "src.structure_id = tgt.structure_id"
	}

	sourcePlan, err := compilePlan(e.plans, source, level, "source_")
	if err != nil {
		return nil, err
	}
	targetPlan, err := compilePlan(e.plans, target, level, "target_")
	if err != nil {
		return nil, err
	}

	sourceTypes := source.Types()
	targetTypes := target.Types()

	query := buildCooccurrenceQuery(sourcePlan, targetPlan, sourceTypes, targetTypes, joinCriterion)

	results, err := e.manager.QueryShards(ctx, func(ctx context.Context, shard *storage.Shard) (interface{}, error) {
		return selectCooccurrence(ctx, shard.DB(), query)
	})
	if err != nil {
		return nil, err
	}

	merged := make(map[[2]string]int64)
	for _, r := range results {
		for k, v := range r.(map[[2]string]int64) {
			merged[k] += v
		}
	}

	counts := make([]CooccurrenceCount, 0, len(merged))
	for k, v := range merged {
		counts = append(counts, CooccurrenceCount{Source: k[0], Target: k[1], Frequency: v})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Source != counts[j].Source {
			return counts[i].Source < counts[j].Source
		}
		return counts[i].Target < counts[j].Target
	})
	return counts, nil
}

// buildCooccurrenceQuery joins the source and target view cascades and
// groups by the textual labels (structure type=value) both filters
// expose, producing (source_label, target_label, frequency) triples.
func buildCooccurrenceQuery(sourcePlan, targetPlan *view.Plan, sourceTypes, targetTypes []string, joinCriterion string) string {
	sourceLabel := "src.type"
	if len(sourceTypes) > 0 {
		sourceLabel = `src.type || '=' || src.value`
	}
	targetLabel := "tgt.type"
	if len(targetTypes) > 0 {
		targetLabel = `tgt.type || '=' || tgt.value`
	}

	return fmt.Sprintf(`%s,
%s
SELECT %s AS source_label, %s AS target_label, COUNT(*) AS frequency
FROM %s src
JOIN %s tgt ON (%s)
GROUP BY source_label, target_label`,
		sourcePlan.SQL, strings.TrimPrefix(targetPlan.SQL, "WITH "),
		sourceLabel, targetLabel, sourcePlan.TerminalView, targetPlan.TerminalView, joinCriterion)
}

func selectCooccurrence(ctx context.Context, db *sql.DB, query string) (map[[2]string]int64, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, models.NewError(models.Storage, "query.GetCooccurrence", err)
	}
	defer rows.Close()

	counts := make(map[[2]string]int64)
	for rows.Next() {
		var source, target string
		var freq int64
		if err := rows.Scan(&source, &target, &freq); err != nil {
			return nil, models.NewError(models.Storage, "query.GetCooccurrence", err)
		}
		counts[[2]string{source, target}] += freq
	}
	return counts, rows.Err()
}

// PivotCooccurrence reshapes GetCooccurrence's triples into a dense
// source-by-target frequency matrix, filling every (source, target)
// pair not present in counts with zero. This is the pure-reshaping half
// of the reference implementation's pivot step; the numerical
// post-processing performed downstream of it (casting, divergence
// analysis) is a collaborator and stops at this matrix form.
func PivotCooccurrence(counts []CooccurrenceCount) map[string]map[string]int64 {
	sources := make(map[string]bool)
	targets := make(map[string]bool)
	for _, c := range counts {
		sources[c.Source] = true
		targets[c.Target] = true
	}

	matrix := make(map[string]map[string]int64, len(sources))
	for s := range sources {
		row := make(map[string]int64, len(targets))
		for t := range targets {
			row[t] = 0
		}
		matrix[s] = row
	}
	for _, c := range counts {
		matrix[c.Source][c.Target] = c.Frequency
	}
	return matrix
}
