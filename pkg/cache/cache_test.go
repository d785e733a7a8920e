package cache_test

import (
	"testing"

	"github.com/bassosimone/rv32dbt/pkg/cache"
	"github.com/bassosimone/rv32dbt/pkg/cpu"
	"github.com/bassosimone/rv32dbt/pkg/engine"
)

type stubBlock struct{}

func (stubBlock) Invoke(*cpu.State) (bool, uint32, error) { return false, 0, nil }

func TestLookupMissOnEmptyCache(t *testing.T) {
	c := cache.New()
	if _, ok := c.Lookup(0x1000); ok {
		t.Fatalf("Lookup on empty cache returned ok=true")
	}
	if c.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", c.Len())
	}
}

func TestInsertThenLookupHits(t *testing.T) {
	c := cache.New()
	var blk engine.Block = stubBlock{}
	c.Insert(0x1000, blk)
	got, ok := c.Lookup(0x1000)
	if !ok {
		t.Fatalf("Lookup after Insert returned ok=false")
	}
	if got != blk {
		t.Fatalf("Lookup returned a different block than was inserted")
	}
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}
}

func TestDistinctPCsDoNotCollide(t *testing.T) {
	c := cache.New()
	c.Insert(0x1000, stubBlock{})
	c.Insert(0x2000, stubBlock{})
	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", c.Len())
	}
}
