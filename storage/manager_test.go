package storage

import (
	"context"
	"testing"

	"github.com/nlpnorth/decaf/config"
	"github.com/nlpnorth/decaf/models"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{DataPath: t.TempDir(), ShardSize: 100000}
}

func TestOpenCreatesShardZeroWhenIndexIsEmpty(t *testing.T) {
	mgr, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer mgr.Close()

	shards := mgr.Shards()
	if len(shards) != 1 {
		t.Fatalf("got %d shards, want 1", len(shards))
	}
	if shards[0].Index != 0 {
		t.Errorf("shard index = %d, want 0", shards[0].Index)
	}
	if mgr.Active().Index != 0 {
		t.Errorf("active shard index = %d, want 0", mgr.Active().Index)
	}
}

func TestOpenRediscoversExistingShards(t *testing.T) {
	cfg := testConfig(t)

	mgr, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if err := mgr.Rollover(); err != nil {
		t.Fatalf("Rollover() error: %v", err)
	}
	if err := mgr.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	reopened, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open() (reopen) error: %v", err)
	}
	defer reopened.Close()

	shards := reopened.Shards()
	if len(shards) != 2 {
		t.Fatalf("got %d shards after reopen, want 2", len(shards))
	}
	if shards[0].Writable() {
		t.Error("shard 0 is writable after reopen, want only the newest shard writable")
	}
	if !shards[1].Writable() {
		t.Error("shard 1 (the newest) is not writable after reopen")
	}
}

func TestManagerWriteRoutesToActiveShard(t *testing.T) {
	mgr, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer mgr.Close()

	lit := &models.Literal{Start: 0, End: 3, Value: "cat"}
	if err := mgr.Write(context.Background(), []*models.Literal{lit}, nil, nil); err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	n, err := mgr.Active().Count("literals")
	if err != nil {
		t.Fatalf("Count(literals) error: %v", err)
	}
	if n != 1 {
		t.Errorf("literals count = %d, want 1", n)
	}
}

func TestManagerRolloverOpensNewActiveShard(t *testing.T) {
	mgr, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer mgr.Close()

	if err := mgr.Rollover(); err != nil {
		t.Fatalf("Rollover() error: %v", err)
	}

	if mgr.Active().Index != 1 {
		t.Errorf("active shard index = %d, want 1", mgr.Active().Index)
	}
	shards := mgr.Shards()
	if len(shards) != 2 {
		t.Fatalf("got %d shards, want 2", len(shards))
	}
	if shards[0].Writable() {
		t.Error("shard 0 still writable after rollover")
	}
	if !shards[1].Writable() {
		t.Error("shard 1 not writable after rollover")
	}
}

func TestQueryShardsFansOutAndPreservesShardIndex(t *testing.T) {
	mgr, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer mgr.Close()

	if err := mgr.Write(context.Background(), []*models.Literal{{Start: 0, End: 1, Value: "a"}}, nil, nil); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if err := mgr.Rollover(); err != nil {
		t.Fatalf("Rollover() error: %v", err)
	}
	if err := mgr.Write(context.Background(), []*models.Literal{{Start: 0, End: 1, Value: "b"}, {Start: 1, End: 2, Value: "c"}}, nil, nil); err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	results, err := mgr.QueryShards(context.Background(), func(ctx context.Context, shard *Shard) (interface{}, error) {
		return shard.Count("literals")
	})
	if err != nil {
		t.Fatalf("QueryShards() error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].(int64) != 1 {
		t.Errorf("shard 0 literal count = %d, want 1", results[0].(int64))
	}
	if results[1].(int64) != 2 {
		t.Errorf("shard 1 literal count = %d, want 2", results[1].(int64))
	}
}

func TestQueryShardsPropagatesFirstError(t *testing.T) {
	mgr, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer mgr.Close()

	_, err = mgr.QueryShards(context.Background(), func(ctx context.Context, shard *Shard) (interface{}, error) {
		return shard.Count("not_a_table")
	})
	if err == nil {
		t.Fatal("QueryShards() error = nil, want propagated Configuration error")
	}
}
