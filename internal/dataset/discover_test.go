package dataset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/janpfeifer/must"
)

func TestDiscoverShardsBasic(t *testing.T) {
	dir := t.TempDir()
	touch(filepath.Join(dir, "shard-000000.tar"))
	touch(filepath.Join(dir, "nested", "shard-000001.tar"))
	touch(filepath.Join(dir, "ignore.txt"))

	shards, err := DiscoverShards(dir)
	if err != nil {
		t.Fatalf("DiscoverShards error: %v", err)
	}
	want := []string{
		filepath.Join(dir, "nested", "shard-000001.tar"),
		filepath.Join(dir, "shard-000000.tar"),
	}
	if len(shards) != len(want) {
		t.Fatalf("expected %d shards, got %d", len(want), len(shards))
	}
	for i, shard := range want {
		if shards[i] != shard {
			t.Fatalf("shard[%d]=%s want %s", i, shards[i], shard)
		}
	}
}

func TestDiscoverByRootRequiresShards(t *testing.T) {
	full := t.TempDir()
	empty := t.TempDir()
	touch(filepath.Join(full, "shard-000000.tar"))

	byRoot, err := DiscoverByRoot([]string{full})
	if err != nil {
		t.Fatalf("DiscoverByRoot: %v", err)
	}
	if len(byRoot[full]) != 1 {
		t.Fatalf("expected 1 shard, got %v", byRoot)
	}
	if _, err := DiscoverByRoot([]string{full, empty}); err == nil {
		t.Fatal("expected error for root without shards")
	}
}

func touch(path string) {
	must.M(os.MkdirAll(filepath.Dir(path), 0o755))
	must.M(os.WriteFile(path, []byte(""), 0o644))
}
