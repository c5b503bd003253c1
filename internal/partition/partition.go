// Package partition implements row-to-shard hashing for the Partition
// parallelizer (spec.md §4.2): rows are sharded by their id-column hash so
// that all rows for the same logical record land on the same shard and
// keep in-order, while unrelated rows fan out across shards concurrently.
// Grounded on ape-dts's dt-parallelizer/src/partition_parallelizer.rs.
package partition

import (
	"hash/fnv"

	"github.com/sdlhq/dflow/internal/meta"
)

// Partitioner assigns rows to one of N shards by id-column hash, and
// detects rows that can't be partitioned safely (spec.md: no unique key,
// or a null id-column value) so the caller can fall back to serial
// handling for them.
type Partitioner struct {
	shardCount int
}

func New(shardCount int) *Partitioner {
	if shardCount < 1 {
		shardCount = 1
	}
	return &Partitioner{shardCount: shardCount}
}

// Shard returns the shard index for row given its table's id columns, or
// ok=false if the row is unpartitionable (missing id cols, or a None id
// value) — such rows must be drained serially by the caller, stopping
// shard fan-out at that point to preserve ordering (spec.md's "early-stop
// on unpartitionable rows").
func (p *Partitioner) Shard(row *meta.RowData, idCols []string) (shard int, ok bool) {
	if len(idCols) == 0 {
		return 0, false
	}
	vals, ok := row.IDCols(idCols)
	if !ok {
		return 0, false
	}

	h := fnv.New64a()
	for _, v := range vals {
		h.Write([]byte{byte(v.Kind)})
		h.Write([]byte(v.String()))
		h.Write([]byte{0})
	}
	return int(h.Sum64() % uint64(p.shardCount)), true
}

// ShardCount reports the configured number of shards.
func (p *Partitioner) ShardCount() int { return p.shardCount }
