package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/nlpnorth/decaf/config"
	"github.com/nlpnorth/decaf/logger"
	"github.com/nlpnorth/decaf/models"
)

// Manager discovers and owns every shard in an index directory, routes
// writes to the newest (active) shard, and fans queries out across all
// shards.
//
// Construction follows a config-driven factory idiom, and query
// fan-out is built on golang.org/x/sync/errgroup rather than a
// hand-rolled worker pool, since errgroup already gives bounded
// concurrency plus first-error propagation and cancellation (see
// DESIGN.md for the full rationale).
type Manager struct {
	cfg *config.Config

	mu     sync.RWMutex
	shards []*Shard

	active      *Shard
	activeQueue *WriteQueue
}

// Open discovers every shard-<n>.decaf file under cfg.DataPath (creating
// the directory if necessary), opening each read-only except the newest,
// which is opened writable and given a WriteQueue.
func Open(cfg *config.Config) (*Manager, error) {
	if err := os.MkdirAll(cfg.DataPath, 0o755); err != nil {
		return nil, models.NewError(models.Storage, "storage.Open", err)
	}

	indices, err := discoverShardIndices(cfg.DataPath)
	if err != nil {
		return nil, err
	}

	m := &Manager{cfg: cfg}

	if len(indices) == 0 {
		indices = []int{0}
	}

	for i, idx := range indices {
		writable := i == len(indices)-1
		shard, err := OpenShard(cfg.ShardPath(idx), idx, writable)
		if err != nil {
			m.closeAll()
			return nil, err
		}
		m.shards = append(m.shards, shard)
		if writable {
			m.active = shard
			m.activeQueue = NewWriteQueue(shard, 64)
			if err := m.activeQueue.Start(); err != nil {
				m.closeAll()
				return nil, models.NewError(models.Storage, "storage.Open", err)
			}
		}
	}

	logger.Info("index opened at %s: %d shard(s), active shard %d", cfg.DataPath, len(m.shards), m.active.Index)
	return m, nil
}

func discoverShardIndices(dataPath string) ([]int, error) {
	entries, err := os.ReadDir(dataPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, models.NewError(models.Storage, "discoverShardIndices", err)
	}

	var indices []int
	for _, e := range entries {
		var idx int
		if n, err := fmt.Sscanf(e.Name(), "shard-%d.decaf", &idx); err == nil && n == 1 {
			indices = append(indices, idx)
		}
	}
	sort.Ints(indices)
	return indices, nil
}

func (m *Manager) closeAll() {
	for _, s := range m.shards {
		s.Close()
	}
}

// Close stops the active shard's write queue and closes every shard
// connection.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.activeQueue != nil {
		m.activeQueue.Stop()
	}
	var firstErr error
	for _, s := range m.shards {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Shards returns the currently open shards in index order. Callers must
// not mutate the returned slice.
func (m *Manager) Shards() []*Shard {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Shard, len(m.shards))
	copy(out, m.shards)
	return out
}

// Active returns the shard currently accepting writes.
func (m *Manager) Active() *Shard {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// Write submits a batch to the active shard's write queue, blocking
// until it is applied.
func (m *Manager) Write(ctx context.Context, literals []*models.Literal, structures []*models.Structure, hierarchies []models.PendingHierarchy) error {
	m.mu.RLock()
	queue := m.activeQueue
	m.mu.RUnlock()

	if queue == nil {
		return models.NewError(models.NotConnected, "Manager.Write", fmt.Errorf("no active shard"))
	}
	return queue.Submit(ctx, &WriteBatch{Literals: literals, Structures: structures, Hierarchies: hierarchies})
}

// Rollover closes the active shard to further writes and opens a new,
// empty shard as the new active shard. Callers invoke this once the
// active shard has accumulated roughly cfg.ShardSize sentences.
func (m *Manager) Rollover() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.activeQueue.Stop(); err != nil {
		return models.NewError(models.Storage, "Manager.Rollover", err)
	}
	m.active.writable = false

	newIndex := m.active.Index + 1
	shard, err := OpenShard(m.cfg.ShardPath(newIndex), newIndex, true)
	if err != nil {
		return err
	}

	m.shards = append(m.shards, shard)
	m.active = shard
	m.activeQueue = NewWriteQueue(shard, 64)
	if err := m.activeQueue.Start(); err != nil {
		return models.NewError(models.Storage, "Manager.Rollover", err)
	}

	logger.Info("rolled over to shard %d", newIndex)
	return nil
}

// QueryFunc is applied to each shard during a fanned-out query.
type QueryFunc func(ctx context.Context, shard *Shard) (interface{}, error)

// QueryShards runs fn against every shard concurrently, bounded to
// max(1, NumCPU()/2) workers so query fan-out leaves headroom for the
// active shard's single writer and the OS page cache. Results are
// returned in shard index order; the first error from any shard cancels
// the remaining work and is returned.
func (m *Manager) QueryShards(ctx context.Context, fn QueryFunc) ([]interface{}, error) {
	shards := m.Shards()

	limit := runtime.NumCPU() / 2
	if limit < 1 {
		limit = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	results := make([]interface{}, len(shards))
	for i, shard := range shards {
		i, shard := i, shard
		g.Go(func() error {
			res, err := fn(ctx, shard)
			if err != nil {
				return fmt.Errorf("shard %d: %w", shard.Index, err)
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, models.NewError(models.Storage, "Manager.QueryShards", err)
	}
	return results, nil
}
