// Package pipeline implements the pipeline loop (spec.md §4.1, C7): pull
// items from the extractor's buffer, accumulate a batch until either
// batch_sink_interval elapses or MaxBatchSize items are buffered (a commit
// alone does not trigger a drain), hand the batch to the configured parallelizer, and only then advance
// the shared checkpoint — and only as far as the last *committed*
// position, never a position still mid-transaction. Grounded on ape-dts's
// dt-pipeline/src/base_pipeline.rs.
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sdlhq/dflow/internal/buffer"
	"github.com/sdlhq/dflow/internal/logutil"
	"github.com/sdlhq/dflow/internal/meta"
	"github.com/sdlhq/dflow/internal/monitor"
	"github.com/sdlhq/dflow/internal/parallel"
	"github.com/sdlhq/dflow/internal/registry"
	"github.com/sdlhq/dflow/internal/sink"
	"github.com/sdlhq/dflow/internal/udf"
)

// Pipeline wires one extractor's output buffer through a Parallelizer to
// one or more Sinkers, with periodic checkpointing.
type Pipeline struct {
	Buf          *buffer.Buffer[*meta.DtItem]
	Parallelizer parallel.Parallelizer
	Sinkers      []sink.Sinker
	Registry     *registry.Registry
	Syncer       *meta.Syncer
	Transformer  udf.RowTransformer

	// BatchSinkInterval bounds how long the pipeline accumulates items
	// before forcing a drain, whether or not the batch ends on a commit
	// (spec.md §4.1's batch_sink_interval).
	BatchSinkInterval time.Duration
	// CheckpointInterval bounds how often a drained commit position is
	// actually written to the shared Syncer, a cadence spec.md §4.1 step
	// 5 keeps independent of BatchSinkInterval: batches can drain to
	// sinkers far more often than the checkpoint advances.
	CheckpointInterval time.Duration
	// MaxBatchSize forces an early drain if the buffer backs up, so a
	// slow sinker can't let the in-memory batch grow unbounded.
	MaxBatchSize int

	rowsCounter  *monitor.Counter
	tpsCounter   *monitor.StatisticCounter
}

func New(p Pipeline) *Pipeline {
	pp := p
	if pp.BatchSinkInterval <= 0 {
		pp.BatchSinkInterval = 200 * time.Millisecond
	}
	if pp.CheckpointInterval <= 0 {
		pp.CheckpointInterval = 3 * time.Second
	}
	if pp.MaxBatchSize <= 0 {
		pp.MaxBatchSize = 8192
	}
	pp.rowsCounter = monitor.NewCounter("dflow_rows_sunk_total", "total rows sunk")
	pp.tpsCounter = monitor.NewStatisticCounter("dflow_rows_per_second", "rolling rows/sec", 5*time.Second)
	return &pp
}

// Stats returns the pipeline's cumulative rows-sunk count and rolling
// rows/sec rate, served by internal/statusapi's /status endpoint that
// cmd/dflowtop polls.
func (p *Pipeline) Stats() (rowsSunk int64, rowsPerSec float64) {
	return p.rowsCounter.Get(), p.tpsCounter.TPS()
}

func (p *Pipeline) idColsFor(schema, table string) []string {
	tm, err := p.Registry.Get(schema, table)
	if err != nil || tm == nil {
		return nil
	}
	if len(tm.IDCols) == 0 {
		tm.DeriveIDCols()
	}
	return tm.IDCols
}

// Run drives the loop until ctx is canceled. It never returns nil on a
// canceled context except via ctx.Err(), matching extractor.Start's fatal-
// error convention (spec.md's "Fatal PG extractor errors" decision
// applies symmetrically to the pipeline: it does not swallow sink errors
// and keep going).
func (p *Pipeline) Run(ctx context.Context) error {
	var batch []*meta.DtItem
	var lastCommitPosition meta.Position
	var lastReceivedPosition meta.Position
	haveCommitPending := false
	lastCheckpoint := time.Now()

	ticker := time.NewTicker(p.BatchSinkInterval)
	defer ticker.Stop()

	checkpoint := func(force bool) {
		if !haveCommitPending {
			return
		}
		if !force && time.Since(lastCheckpoint) < p.CheckpointInterval {
			return
		}
		p.Syncer.Set(lastCommitPosition)
		logutil.Position(lastCommitPosition.ToText())
		haveCommitPending = false
		lastCheckpoint = time.Now()
	}

	drain := func() error {
		if len(batch) == 0 {
			return nil
		}
		if p.Transformer != nil {
			transformed, err := p.applyTransform(batch)
			if err != nil {
				return err
			}
			batch = transformed
		}
		if err := p.Parallelizer.Drain(ctx, batch, p.Sinkers, p.idColsFor); err != nil {
			return err
		}
		p.rowsCounter.Add(int64(countDML(batch)))
		p.tpsCounter.Add(int64(countDML(batch)))
		logutil.Monitor("pipeline drain", zap.Int("items", len(batch)))
		logutil.Received(lastReceivedPosition.ToText())

		batch = batch[:0]
		checkpoint(false)
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			if err := drain(); err != nil {
				return err
			}
			checkpoint(true)
			return ctx.Err()

		case <-ticker.C:
			if err := drain(); err != nil {
				return err
			}

		default:
		}

		item, ok := p.popWithTimeout(ctx, p.BatchSinkInterval)
		if !ok {
			continue
		}
		batch = append(batch, item)
		lastReceivedPosition = item.Position

		if item.Data.Kind == meta.DtCommit {
			lastCommitPosition = item.Position
			haveCommitPending = true
		}

		if len(batch) >= p.MaxBatchSize {
			if err := drain(); err != nil {
				return err
			}
		}
	}
}

func (p *Pipeline) popWithTimeout(ctx context.Context, timeout time.Duration) (*meta.DtItem, bool) {
	popCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	item, ok := p.Buf.Pop(popCtx)
	return item, ok
}

func (p *Pipeline) applyTransform(batch []*meta.DtItem) ([]*meta.DtItem, error) {
	out := batch[:0]
	for _, it := range batch {
		if it.Data.Kind != meta.DtDml {
			out = append(out, it)
			continue
		}
		row, ok, err := p.Transformer.Transform(it.Data.Row)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		it.Data.Row = row
		out = append(out, it)
	}
	return out, nil
}

func countDML(items []*meta.DtItem) int {
	n := 0
	for _, it := range items {
		if it != nil && it.Data.Kind == meta.DtDml {
			n++
		}
	}
	return n
}
