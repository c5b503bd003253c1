package parallel

import (
	"context"
	"fmt"

	"github.com/sdlhq/dflow/internal/meta"
	"github.com/sdlhq/dflow/internal/sink"
)

// Serial sinks every table run, DDL and raw item strictly in the order
// they appear in the batch, to a single sinker. It is the simplest and
// safest strategy — no concurrency, no merging — and the one every other
// strategy falls back to for a tail it can't handle more cleverly.
// Grounded on ape-dts's SerialParallelizer (folded through
// dt-pipeline/src/base_pipeline.rs's plain sink_dml call).
type Serial struct{}

func NewSerial() *Serial { return &Serial{} }

func (s *Serial) Name() string { return "serial" }

func (s *Serial) Drain(ctx context.Context, items []*meta.DtItem, sinkers []sink.Sinker, idCols IDColsFunc) error {
	p := primary(sinkers)
	if p == nil {
		return fmt.Errorf("parallel: serial: no sinkers configured")
	}

	var pending []*meta.RowData
	var pendingSchema, pendingTable string

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		err := p.SinkDML(ctx, pending)
		pending = nil
		return err
	}

	for _, it := range items {
		switch it.Data.Kind {
		case meta.DtDml:
			r := it.Data.Row
			if len(pending) > 0 && (r.Schema != pendingSchema || r.Table != pendingTable) {
				if err := flush(); err != nil {
					return err
				}
			}
			pendingSchema, pendingTable = r.Schema, r.Table
			pending = append(pending, r)
		case meta.DtDdl:
			if err := flush(); err != nil {
				return err
			}
			if err := fanOutDDL(ctx, it.Data.Ddl, sinkers); err != nil {
				return err
			}
		case meta.DtRedis:
			if err := flush(); err != nil {
				return err
			}
			if err := fanOutRaw(ctx, it, sinkers); err != nil {
				return err
			}
		case meta.DtBegin, meta.DtCommit:
			// no sink action; pipeline tracks checkpointing separately.
		}
	}
	return flush()
}
