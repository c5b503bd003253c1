// Package parallel implements the three DML fan-out strategies spec.md
// §4.2 defines (Serial, Partition, Merge) plus the Redis cluster-aware
// variant, each grounded on the matching ape-dts
// dt-parallelizer/src/*.rs source.
package parallel

import (
	"context"

	"github.com/sdlhq/dflow/internal/meta"
	"github.com/sdlhq/dflow/internal/sink"
)

// IDColsFunc resolves a table's identity columns, backed by the registry.
type IDColsFunc func(schema, table string) []string

// Parallelizer is the strategy the pipeline hands a drained batch of
// DtItems to, once per batch_sink_interval tick or buffer-full drain
// (spec.md §4.1). Implementations own dispatching to Sinkers; the
// pipeline itself never calls Sinker methods directly for DML/DDL/raw.
type Parallelizer interface {
	Name() string
	Drain(ctx context.Context, items []*meta.DtItem, sinkers []sink.Sinker, idCols IDColsFunc) error
}

// split separates one batch into ordered DML rows (grouped by
// contiguous same-table runs, preserving overall order), DDL events, and
// raw items — the shape every strategy below starts from.
type tableRun struct {
	schema, table string
	rows          []*meta.RowData
}

func split(items []*meta.DtItem) (runs []tableRun, ddls []*meta.DdlData, raws []*meta.DtItem) {
	var cur *tableRun
	flush := func() {
		if cur != nil && len(cur.rows) > 0 {
			runs = append(runs, *cur)
		}
		cur = nil
	}
	for _, it := range items {
		switch it.Data.Kind {
		case meta.DtDml:
			r := it.Data.Row
			if cur == nil || cur.schema != r.Schema || cur.table != r.Table {
				flush()
				cur = &tableRun{schema: r.Schema, table: r.Table}
			}
			cur.rows = append(cur.rows, r)
		case meta.DtDdl:
			flush()
			ddls = append(ddls, it.Data.Ddl)
		case meta.DtRedis:
			flush()
			raws = append(raws, it)
		case meta.DtBegin, meta.DtCommit:
			// Begin/Commit carry no payload to sink; they only matter for
			// checkpoint bookkeeping, handled by the pipeline itself.
		}
	}
	flush()
	return
}

// fanOutDDL applies a DDL event to every sinker and invalidates every
// sinker's cached metadata for the affected table, per spec.md §4.1's
// fan-out contract.
func fanOutDDL(ctx context.Context, ddl *meta.DdlData, sinkers []sink.Sinker) error {
	for _, s := range sinkers {
		if err := s.SinkDDL(ctx, ddl); err != nil {
			return err
		}
		s.RefreshMeta(ddl.Schema, ddl.Table)
	}
	return nil
}

func fanOutRaw(ctx context.Context, item *meta.DtItem, sinkers []sink.Sinker) error {
	for _, s := range sinkers {
		if err := s.SinkRaw(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

// primary returns the first configured sinker: the single destination
// Serial and Merge sink DML rows to. Partition and Redis instead spread
// DML/raw items across every configured sinker by shard index — primary
// is only a single-destination convenience for the strategies that keep
// one logical output.
func primary(sinkers []sink.Sinker) sink.Sinker {
	if len(sinkers) == 0 {
		return nil
	}
	return sinkers[0]
}
