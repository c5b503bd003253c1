package merger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdlhq/dflow/internal/meta"
)

func idRow(typ meta.RowType, before, after int64) *meta.RowData {
	r := &meta.RowData{Schema: "s", Table: "t", Type: typ}
	if before >= 0 {
		r.Before = map[string]meta.ColValue{"id": meta.NewInt(meta.KindBigInt, before)}
	}
	if after >= 0 {
		r.After = map[string]meta.ColValue{"id": meta.NewInt(meta.KindBigInt, after)}
	}
	return r
}

var idCols = []string{"id"}

// S1: two inserts/updates to the same key collapse into a single insert.
func TestMerge_S1_CollapsesToSingleInsert(t *testing.T) {
	m := New()
	m.MergeRow(idRow(meta.RowInsert, -1, 1), idCols)
	m.MergeRow(idRow(meta.RowUpdate, 1, 1), idCols)

	out := m.Drain()
	tbl := out["s.t"]
	require.NotNil(t, tbl)
	assert.Empty(t, tbl.DeleteRows)
	assert.Len(t, tbl.InsertRows, 1)
	assert.Empty(t, tbl.UnmergedRows)
}

// S2: an update that changes the identity column can't be safely merged
// and must fall into the unmerged tail, in order.
func TestMerge_S2_KeyChangeForcesUnmerged(t *testing.T) {
	m := New()
	m.MergeRow(idRow(meta.RowInsert, -1, 1), idCols)
	m.MergeRow(idRow(meta.RowUpdate, 1, 2), idCols) // id 1 -> id 2

	out := m.Drain()
	tbl := out["s.t"]
	require.NotNil(t, tbl)
	// insert of id=1 still stands, the key-changing update is unmerged.
	assert.Len(t, tbl.InsertRows, 1)
	require.Len(t, tbl.UnmergedRows, 1)
	assert.Equal(t, meta.RowUpdate, tbl.UnmergedRows[0].Type)
}

// S3: a delete cancels a prior insert of the same key within the batch,
// but the delete itself still must be emitted — a sink that already
// applied the stale insert from an earlier, partially replayed run needs
// the corrective delete on redelivery.
func TestMerge_S3_DeleteCancelsPriorInsertButStillEmitsDelete(t *testing.T) {
	m := New()
	m.MergeRow(idRow(meta.RowInsert, -1, 1), idCols)
	m.MergeRow(idRow(meta.RowDelete, 1, -1), idCols)

	out := m.Drain()
	tbl := out["s.t"]
	require.NotNil(t, tbl)
	assert.Empty(t, tbl.InsertRows)
	require.Len(t, tbl.DeleteRows, 1)
}

func TestMerge_DeleteWithNoPriorInsertIsKept(t *testing.T) {
	m := New()
	m.MergeRow(idRow(meta.RowDelete, 5, -1), idCols)

	out := m.Drain()
	tbl := out["s.t"]
	require.NotNil(t, tbl)
	require.Len(t, tbl.DeleteRows, 1)
	assert.Empty(t, tbl.InsertRows)
}

func TestMerge_UnhashableRowGoesToUnmergedAndPoisonsTable(t *testing.T) {
	m := New()
	unhashable := &meta.RowData{Schema: "s", Table: "t", Type: meta.RowInsert, After: map[string]meta.ColValue{}}
	m.MergeRow(unhashable, idCols)
	m.MergeRow(idRow(meta.RowInsert, -1, 9), idCols)

	out := m.Drain()
	tbl := out["s.t"]
	require.NotNil(t, tbl)
	// once unmerged is non-empty, every later row for the table joins it.
	require.Len(t, tbl.UnmergedRows, 2)
	assert.Empty(t, tbl.InsertRows)
}

func TestMerge_DrainResetsState(t *testing.T) {
	m := New()
	m.MergeRow(idRow(meta.RowInsert, -1, 1), idCols)
	first := m.Drain()
	require.Contains(t, first, "s.t")

	second := m.Drain()
	assert.Empty(t, second)
}
