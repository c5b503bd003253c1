package parallel

import (
	"context"
	"fmt"
	"sync"

	"github.com/sdlhq/dflow/internal/meta"
	"github.com/sdlhq/dflow/internal/partition"
	"github.com/sdlhq/dflow/internal/sink"
)

// Partition shards each table's DML rows by id-column hash across a fixed
// number of concurrent workers, so unrelated rows sink in parallel while
// rows sharing an identity stay ordered on the same shard. Each shard is
// fed concurrently to a distinct configured sinker (sinkers[shard %
// len(sinkers)]) — spec.md §4.2's fan-out contract for this mode, unlike
// Serial/Merge which keep one logical destination. The moment a row
// can't be partitioned (no id cols, a null id value), the rest of that
// table's contiguous run — including the unpartitionable one — is
// drained serially to the first sinker instead (a later run of the same
// table is partitioned afresh), preserving order around
// the row we can't reason about (spec.md's "early-stop on
// unpartitionable rows"). Grounded on ape-dts's
// dt-parallelizer/src/partition_parallelizer.rs.
type Partition struct {
	workers int
}

func NewPartition(workers int) *Partition {
	if workers < 1 {
		workers = 1
	}
	return &Partition{workers: workers}
}

func (p *Partition) Name() string { return "partition" }

func (p *Partition) Drain(ctx context.Context, items []*meta.DtItem, sinkers []sink.Sinker, idColsFn IDColsFunc) error {
	if len(sinkers) == 0 {
		return fmt.Errorf("parallel: partition: no sinkers configured")
	}
	runs, ddls, raws := split(items)

	for _, run := range runs {
		if err := p.drainRun(ctx, run, sinkers, idColsFn); err != nil {
			return err
		}
	}
	for _, d := range ddls {
		if err := fanOutDDL(ctx, d, sinkers); err != nil {
			return err
		}
	}
	for _, r := range raws {
		if err := fanOutRaw(ctx, r, sinkers); err != nil {
			return err
		}
	}
	return nil
}

func (p *Partition) drainRun(ctx context.Context, run tableRun, sinkers []sink.Sinker, idColsFn IDColsFunc) error {
	idCols := idColsFn(run.schema, run.table)
	parter := partition.New(p.workers)

	shards := make([][]*meta.RowData, p.workers)
	for i, row := range run.rows {
		shard, ok := parter.Shard(row, idCols)
		if !ok {
			// Early stop: everything from this row onward for this table
			// goes through serial instead, in original order.
			if err := p.sinkShards(ctx, shards, sinkers); err != nil {
				return err
			}
			return p.drainSerialTail(ctx, run.rows[i:], sinkers[0])
		}
		shards[shard] = append(shards[shard], row)
	}
	return p.sinkShards(ctx, shards, sinkers)
}

func (p *Partition) sinkShards(ctx context.Context, shards [][]*meta.RowData, sinkers []sink.Sinker) error {
	var wg sync.WaitGroup
	errs := make([]error, len(shards))
	for i, rows := range shards {
		if len(rows) == 0 {
			continue
		}
		wg.Add(1)
		s := sinkers[i%len(sinkers)]
		go func(i int, rows []*meta.RowData, s sink.Sinker) {
			defer wg.Done()
			errs[i] = s.SinkDML(ctx, rows)
		}(i, rows, s)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	for i := range shards {
		shards[i] = nil
	}
	return nil
}

func (p *Partition) drainSerialTail(ctx context.Context, rows []*meta.RowData, s sink.Sinker) error {
	if len(rows) == 0 {
		return nil
	}
	return s.SinkDML(ctx, rows)
}
