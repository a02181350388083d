package logger

import (
	"fmt"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// TraceContext represents a traced operation, e.g. one query engine call
// fanning out across shards, or one ingestion batch flowing through the
// parser and into a shard.
type TraceContext struct {
	TraceID     string
	Operation   string
	StartTime   time.Time
	GoroutineID int
	ThreadID    int
	mu          sync.Mutex
	spans       []TraceSpan
	isActive    bool
}

// TraceSpan represents a named sub-step within a trace, e.g. a single
// shard's contribution to a fanned-out query.
type TraceSpan struct {
	Name        string
	StartTime   time.Time
	EndTime     time.Time
	GoroutineID int
	ThreadID    int
	Attributes  map[string]string
}

var (
	activeTraces   = make(map[string]*TraceContext)
	activeTracesMu sync.RWMutex

	traceCounter uint64

	tracingEnabled atomic.Bool
)

// EnableTracing enables operation tracing across the engine.
func EnableTracing(enabled bool) {
	tracingEnabled.Store(enabled)
	if enabled {
		Info("operation tracing enabled")
	} else {
		Info("operation tracing disabled")
	}
}

// IsTracingEnabled returns whether tracing is enabled.
func IsTracingEnabled() bool {
	return tracingEnabled.Load()
}

// StartTrace begins a new trace context for a named operation, e.g.
// "query.filter" or "ingest.batch".
func StartTrace(operation string, detail string) *TraceContext {
	if !IsTracingEnabled() {
		return nil
	}

	traceID := fmt.Sprintf("trace_%d_%d", time.Now().UnixNano(), atomic.AddUint64(&traceCounter, 1))

	ctx := &TraceContext{
		TraceID:     traceID,
		Operation:   operation,
		StartTime:   time.Now(),
		GoroutineID: getGoroutineID(),
		ThreadID:    getThreadID(),
		spans:       make([]TraceSpan, 0),
		isActive:    true,
	}

	activeTracesMu.Lock()
	activeTraces[traceID] = ctx
	activeTracesMu.Unlock()

	Trace("[TRACE_START] ID=%s Op=%s Detail=%s Goroutine=%d Thread=%d",
		traceID, operation, detail, ctx.GoroutineID, ctx.ThreadID)

	return ctx
}

// StartSpan begins a new span within a trace, e.g. one shard's portion of
// a fanned-out query.
func (tc *TraceContext) StartSpan(name string, attributes ...string) {
	if tc == nil || !tc.isActive {
		return
	}

	tc.mu.Lock()
	defer tc.mu.Unlock()

	span := TraceSpan{
		Name:        name,
		StartTime:   time.Now(),
		GoroutineID: getGoroutineID(),
		ThreadID:    getThreadID(),
		Attributes:  make(map[string]string),
	}

	for _, attr := range attributes {
		parts := strings.SplitN(attr, "=", 2)
		if len(parts) == 2 {
			span.Attributes[parts[0]] = parts[1]
		}
	}

	tc.spans = append(tc.spans, span)

	elapsed := time.Since(tc.StartTime)
	Trace("[SPAN_START] Trace=%s Span=%s Elapsed=%v Goroutine=%d Thread=%d Attrs=%v",
		tc.TraceID, name, elapsed, span.GoroutineID, span.ThreadID, span.Attributes)
}

// EndSpan completes the most recent open span with the given name.
func (tc *TraceContext) EndSpan(name string) {
	if tc == nil || !tc.isActive {
		return
	}

	tc.mu.Lock()
	defer tc.mu.Unlock()

	for i := len(tc.spans) - 1; i >= 0; i-- {
		if tc.spans[i].Name == name && tc.spans[i].EndTime.IsZero() {
			tc.spans[i].EndTime = time.Now()
			duration := tc.spans[i].EndTime.Sub(tc.spans[i].StartTime)
			elapsed := time.Since(tc.StartTime)

			Trace("[SPAN_END] Trace=%s Span=%s Duration=%v Elapsed=%v Goroutine=%d",
				tc.TraceID, name, duration, elapsed, getGoroutineID())
			break
		}
	}
}

// EndTrace completes the trace and logs a summary, flagging any span that
// was never closed.
func (tc *TraceContext) EndTrace() {
	if tc == nil || !tc.isActive {
		return
	}

	tc.mu.Lock()
	tc.isActive = false
	duration := time.Since(tc.StartTime)
	tc.mu.Unlock()

	activeTracesMu.Lock()
	delete(activeTraces, tc.TraceID)
	activeTracesMu.Unlock()

	tc.mu.Lock()
	defer tc.mu.Unlock()

	Trace("[TRACE_END] ID=%s Op=%s Duration=%v Spans=%d",
		tc.TraceID, tc.Operation, duration, len(tc.spans))

	for _, span := range tc.spans {
		if span.EndTime.IsZero() {
			Warn("[UNCLOSED_SPAN] Trace=%s Span=%s Started=%v Goroutine=%d",
				tc.TraceID, span.Name, span.StartTime, span.GoroutineID)
		}
	}
}

// LogLockOperation logs single-writer queue lock acquisition/release for
// deadlock diagnosis.
func LogLockOperation(traceID, lockType, lockName, operation string) {
	if !IsTracingEnabled() {
		return
	}

	goroutineID := getGoroutineID()
	threadID := getThreadID()

	buf := make([]byte, 1024)
	n := runtime.Stack(buf, false)
	stack := string(buf[:n])

	frames := strings.Split(stack, "\n")
	caller := "unknown"
	if len(frames) > 5 {
		for i := 4; i < len(frames); i += 2 {
			if !strings.Contains(frames[i], "logger.LogLockOperation") &&
				!strings.Contains(frames[i], "runtime.") {
				caller = strings.TrimSpace(frames[i])
				break
			}
		}
	}

	Trace("[LOCK_%s] Type=%s Name=%s Goroutine=%d Thread=%d Caller=%s TraceID=%s",
		strings.ToUpper(operation), lockType, lockName, goroutineID, threadID, caller, traceID)
}

// GetActiveTraces returns currently active traces, for diagnostics.
func GetActiveTraces() []string {
	activeTracesMu.RLock()
	defer activeTracesMu.RUnlock()

	traces := make([]string, 0, len(activeTraces))
	for traceID, ctx := range activeTraces {
		duration := time.Since(ctx.StartTime)
		traces = append(traces, fmt.Sprintf("%s: %s (duration: %v)", traceID, ctx.Operation, duration))
	}
	return traces
}

// getThreadID returns a stand-in OS thread identifier derived from the
// goroutine ID; an exact mapping would require a platform-specific
// syscall DECAF has no other need for.
func getThreadID() int {
	return getGoroutineID() % 1000
}
