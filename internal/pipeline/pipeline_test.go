package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdlhq/dflow/internal/buffer"
	"github.com/sdlhq/dflow/internal/meta"
	"github.com/sdlhq/dflow/internal/parallel"
	"github.com/sdlhq/dflow/internal/registry"
	"github.com/sdlhq/dflow/internal/sink"
)

type fakeSinker struct {
	sunk int
}

func (f *fakeSinker) SinkDML(ctx context.Context, rows []*meta.RowData) error {
	f.sunk += len(rows)
	return nil
}
func (f *fakeSinker) SinkDDL(ctx context.Context, d *meta.DdlData) error { return nil }
func (f *fakeSinker) SinkRaw(ctx context.Context, it *meta.DtItem) error { return nil }
func (f *fakeSinker) RefreshMeta(schema, table string)                  {}
func (f *fakeSinker) GetID() string                                     { return "fake" }
func (f *fakeSinker) Close() error                                      { return nil }

func dmlItem(id int64, pos meta.Position) *meta.DtItem {
	return &meta.DtItem{
		Data: meta.DtData{Kind: meta.DtDml, Row: &meta.RowData{
			Schema: "s", Table: "t", Type: meta.RowInsert,
			After: map[string]meta.ColValue{"id": meta.NewInt(meta.KindBigInt, id)},
		}},
		Position: pos,
	}
}

func commitItem(pos meta.Position) *meta.DtItem {
	return &meta.DtItem{Data: meta.DtData{Kind: meta.DtCommit}, Position: pos}
}

// S6: the checkpoint only advances once a commit boundary has been
// drained, never mid-transaction.
func TestPipeline_ChecksPointOnlyAdvancesOnCommit(t *testing.T) {
	buf := buffer.New[*meta.DtItem](16)
	syncer := meta.NewSyncer()
	reg := registry.New(func(schema, table string) (*meta.TableMeta, error) {
		return &meta.TableMeta{Schema: schema, Table: table, KeyMap: map[string][]string{"primary": {"id"}}}, nil
	})
	f := &fakeSinker{}

	p := New(Pipeline{
		Buf:          buf,
		Parallelizer: parallel.NewSerial(),
		Sinkers:      []sink.Sinker{f},
		Registry:     reg,
		Syncer:       syncer,

		BatchSinkInterval: 20 * time.Millisecond,
		MaxBatchSize:      10,
	})

	posA := meta.Position{Kind: meta.PositionMySQL, BinlogFile: "bin.1", BinlogPos: 100}
	posCommit := meta.Position{Kind: meta.PositionMySQL, BinlogFile: "bin.1", BinlogPos: 200}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	go func() {
		_ = buf.Push(ctx, dmlItem(1, posA))
		_ = buf.Push(ctx, dmlItem(2, posA))
		_ = buf.Push(ctx, commitItem(posCommit))
	}()

	err := p.Run(ctx)
	require.Error(t, err) // ctx deadline exceeded once drained

	assert.Equal(t, 2, f.sunk)
	assert.Equal(t, posCommit, syncer.Get())
}

// CheckpointInterval is a cadence independent of BatchSinkInterval: a
// commit can drain to sinkers well before the syncer's position actually
// advances.
func TestPipeline_CheckpointIntervalGatesSyncerWrite(t *testing.T) {
	buf := buffer.New[*meta.DtItem](16)
	syncer := meta.NewSyncer()
	reg := registry.New(func(schema, table string) (*meta.TableMeta, error) {
		return &meta.TableMeta{Schema: schema, Table: table, KeyMap: map[string][]string{"primary": {"id"}}}, nil
	})
	f := &fakeSinker{}

	p := New(Pipeline{
		Buf:          buf,
		Parallelizer: parallel.NewSerial(),
		Sinkers:      []sink.Sinker{f},
		Registry:     reg,
		Syncer:       syncer,

		BatchSinkInterval:  10 * time.Millisecond,
		CheckpointInterval: time.Hour,
		MaxBatchSize:       10,
	})

	posCommit := meta.Position{Kind: meta.PositionMySQL, BinlogFile: "bin.1", BinlogPos: 200}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	go func() {
		_ = buf.Push(ctx, dmlItem(1, posCommit))
		_ = buf.Push(ctx, commitItem(posCommit))
	}()

	done := make(chan struct{})
	go func() {
		_ = p.Run(ctx)
		close(done)
	}()

	// commit drained to the sinker, but the hour-long checkpoint
	// interval hasn't elapsed, so the syncer must still be at its zero
	// value until shutdown forces a final checkpoint write.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, meta.Position{}, syncer.Get(), "checkpoint interval must hold back the syncer write")
	<-done

	assert.Equal(t, 1, f.sunk)
	assert.Equal(t, posCommit, syncer.Get(), "shutdown must force a final checkpoint regardless of interval")
}
