package parallel

import (
	"context"
	"fmt"

	"github.com/sdlhq/dflow/internal/meta"
	"github.com/sdlhq/dflow/internal/merger"
	"github.com/sdlhq/dflow/internal/sink"
)

// Merge runs every table's rows through the row merger (spec.md §4.3)
// before sinking, so a batch that touches the same record many times
// becomes one delete-or-insert instead of a full replay. Grounded on
// ape-dts's dt-parallelizer/src/merge_parallelizer.rs, which wraps
// rdb_merger and sinks deletes, then inserts, then the unmerged tail.
type Merge struct{}

func NewMerge() *Merge { return &Merge{} }

func (m *Merge) Name() string { return "merge" }

func (m *Merge) Drain(ctx context.Context, items []*meta.DtItem, sinkers []sink.Sinker, idColsFn IDColsFunc) error {
	s := primary(sinkers)
	if s == nil {
		return fmt.Errorf("parallel: merge: no sinkers configured")
	}
	runs, ddls, raws := split(items)

	mg := merger.New()
	for _, run := range runs {
		idCols := idColsFn(run.schema, run.table)
		for _, row := range run.rows {
			mg.MergeRow(row, idCols)
		}
	}

	for table, merged := range mg.Drain() {
		if len(merged.DeleteRows) > 0 {
			if err := s.SinkDML(ctx, merged.DeleteRows); err != nil {
				return fmt.Errorf("parallel: merge: sink deletes for %s: %w", table, err)
			}
		}
		if len(merged.InsertRows) > 0 {
			if err := s.SinkDML(ctx, merged.InsertRows); err != nil {
				return fmt.Errorf("parallel: merge: sink inserts for %s: %w", table, err)
			}
		}
		if len(merged.UnmergedRows) > 0 {
			if err := s.SinkDML(ctx, merged.UnmergedRows); err != nil {
				return fmt.Errorf("parallel: merge: sink unmerged tail for %s: %w", table, err)
			}
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
