// Package cache implements the Translation Cache: an append-only map from
// guest PC to compiled block handle. There is no eviction in this core;
// self-modifying guest code is unsupported.
package cache

import "github.com/bassosimone/rv32dbt/pkg/engine"

// Cache maps guest pc to a compiled block. It is owned and mutated only
// by the Dispatch Loop; in the single-threaded core this needs no
// synchronization.
type Cache struct {
	blocks map[uint32]engine.Block
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{blocks: make(map[uint32]engine.Block)}
}

// Lookup returns the block compiled for pc, if any.
func (c *Cache) Lookup(pc uint32) (engine.Block, bool) {
	b, ok := c.blocks[pc]
	return b, ok
}

// Insert records the block compiled for pc. Insertion happens exactly
// once, here, from the Dispatch Loop, after a successful compile.
func (c *Cache) Insert(pc uint32, b engine.Block) {
	c.blocks[pc] = b
}

// Len reports how many blocks are currently cached.
func (c *Cache) Len() int {
	return len(c.blocks)
}
