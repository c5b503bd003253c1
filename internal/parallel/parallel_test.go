package parallel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdlhq/dflow/internal/meta"
	"github.com/sdlhq/dflow/internal/sink"
)

type fakeSinker struct {
	id         string
	dmlBatches [][]*meta.RowData
	ddls       []*meta.DdlData
	raws       []*meta.DtItem
}

func (f *fakeSinker) SinkDML(ctx context.Context, rows []*meta.RowData) error {
	f.dmlBatches = append(f.dmlBatches, rows)
	return nil
}
func (f *fakeSinker) SinkDDL(ctx context.Context, d *meta.DdlData) error {
	f.ddls = append(f.ddls, d)
	return nil
}
func (f *fakeSinker) SinkRaw(ctx context.Context, it *meta.DtItem) error {
	f.raws = append(f.raws, it)
	return nil
}
func (f *fakeSinker) RefreshMeta(schema, table string) {}
func (f *fakeSinker) GetID() string                    { return f.id }
func (f *fakeSinker) Close() error                     { return nil }

func dmlItem(id int64) *meta.DtItem {
	return &meta.DtItem{Data: meta.DtData{
		Kind: meta.DtDml,
		Row: &meta.RowData{
			Schema: "s", Table: "t", Type: meta.RowInsert,
			After: map[string]meta.ColValue{"id": meta.NewInt(meta.KindBigInt, id)},
		},
	}}
}

func idColOnly(schema, table string) []string { return []string{"id"} }

func TestSerial_GroupsContiguousRowsPerTable(t *testing.T) {
	f := &fakeSinker{id: "f"}
	s := NewSerial()
	items := []*meta.DtItem{dmlItem(1), dmlItem(2), dmlItem(3)}

	require.NoError(t, s.Drain(context.Background(), items, []sink.Sinker{f}, idColOnly))
	require.Len(t, f.dmlBatches, 1)
	assert.Len(t, f.dmlBatches[0], 3)
}

func TestSerial_DDLFlushesPendingRowsFirst(t *testing.T) {
	f := &fakeSinker{id: "f"}
	s := NewSerial()
	items := []*meta.DtItem{
		dmlItem(1),
		{Data: meta.DtData{Kind: meta.DtDdl, Ddl: &meta.DdlData{Schema: "s", Table: "t", Query: "ALTER TABLE t ADD c INT"}}},
		dmlItem(2),
	}
	require.NoError(t, s.Drain(context.Background(), items, []sink.Sinker{f}, idColOnly))
	require.Len(t, f.dmlBatches, 2)
	require.Len(t, f.ddls, 1)
}

func TestMerge_SinksDeletesBeforeInserts(t *testing.T) {
	f := &fakeSinker{id: "f"}
	m := NewMerge()
	items := []*meta.DtItem{
		{Data: meta.DtData{Kind: meta.DtDml, Row: &meta.RowData{
			Schema: "s", Table: "t", Type: meta.RowDelete,
			Before: map[string]meta.ColValue{"id": meta.NewInt(meta.KindBigInt, 1)},
		}}},
		dmlItem(2),
	}
	require.NoError(t, m.Drain(context.Background(), items, []sink.Sinker{f}, idColOnly))
	require.Len(t, f.dmlBatches, 2)
	// delete batch sunk before insert batch.
	assert.Equal(t, meta.RowDelete, f.dmlBatches[0][0].Type)
	assert.Equal(t, meta.RowInsert, f.dmlBatches[1][0].Type)
}

func TestPartition_AllRowsReachSinker(t *testing.T) {
	f := &fakeSinker{id: "f"}
	p := NewPartition(4)
	var items []*meta.DtItem
	for i := int64(0); i < 20; i++ {
		items = append(items, dmlItem(i))
	}
	require.NoError(t, p.Drain(context.Background(), items, []sink.Sinker{f}, idColOnly))

	total := 0
	for _, b := range f.dmlBatches {
		total += len(b)
	}
	assert.Equal(t, 20, total)
}

func TestPartition_ShardsFanOutAcrossDistinctSinkers(t *testing.T) {
	f1 := &fakeSinker{id: "a"}
	f2 := &fakeSinker{id: "b"}
	p := NewPartition(4)
	var items []*meta.DtItem
	for i := int64(0); i < 40; i++ {
		items = append(items, dmlItem(i))
	}
	require.NoError(t, p.Drain(context.Background(), items, []sink.Sinker{f1, f2}, idColOnly))

	total := 0
	for _, b := range f1.dmlBatches {
		total += len(b)
	}
	for _, b := range f2.dmlBatches {
		total += len(b)
	}
	assert.Equal(t, 40, total)
	assert.NotEmpty(t, f1.dmlBatches, "shard 0/2 should route to the first sinker")
	assert.NotEmpty(t, f2.dmlBatches, "shard 1/3 should route to the second sinker")
}

func TestRedis_CrossSlotCommandRejected(t *testing.T) {
	f := &fakeSinker{id: "f"}
	r := NewRedis()
	items := []*meta.DtItem{{Data: meta.DtData{Kind: meta.DtRedis, Redis: &meta.RedisEntry{
		CmdName: "MSET", Keys: []string{"a", "zzzzzzzzzz"},
	}}}}
	err := r.Drain(context.Background(), items, []sink.Sinker{f}, idColOnly)
	require.Error(t, err)
}

func TestRedis_SlotlessCommandBroadcastsToAllShards(t *testing.T) {
	f1 := &fakeSinker{id: "a"}
	f2 := &fakeSinker{id: "b"}
	r := NewRedis()
	items := []*meta.DtItem{{Data: meta.DtData{Kind: meta.DtRedis, Redis: &meta.RedisEntry{
		CmdName: "SWAPDB",
	}}}}
	require.NoError(t, r.Drain(context.Background(), items, []sink.Sinker{f1, f2}, idColOnly))
	assert.Len(t, f1.raws, 1)
	assert.Len(t, f2.raws, 1)
}
