// Package merger implements the row merger (spec.md §4.3): per-table
// reduction of a batch of DML events into a minimal set of deletes and
// inserts, plus an ordered fallback tail for rows that can't be merged
// safely (key changes, unhashable rows). Rows are matched by their id-column
// hash alone: two different id tuples that hash alike are not detected as a
// collision, and the later row replaces the earlier one. Grounded on
// ape-dts's dt-parallelizer/src/rdb_merger.rs.
package merger

import (
	"hash/fnv"

	"github.com/sdlhq/dflow/internal/meta"
)

// idHash is the 128-bit digest of a row's id-column values, used as the
// merge key. fnv128a gives us a well-distributed 128-bit hash from the
// standard library with no extra dependency (this is pure in-process
// hashing, not a protocol or storage concern — nothing in the pack wraps
// it, so stdlib is the right call here).
type idHash [16]byte

var zeroHash idHash

// MergedTable is the drained result for one table: the minimal delete/
// insert sets plus the ordered unmerged tail, ready for a sinker or
// parallelizer to apply (deletes first, then inserts, then the unmerged
// tail in original order — spec.md §4.3).
type MergedTable struct {
	DeleteRows   []*meta.RowData
	InsertRows   []*meta.RowData
	UnmergedRows []*meta.RowData
}

func (m *MergedTable) isEmpty() bool {
	return len(m.DeleteRows) == 0 && len(m.InsertRows) == 0 && len(m.UnmergedRows) == 0
}

type tableState struct {
	deleteRows map[idHash]*meta.RowData
	insertRows map[idHash]*meta.RowData
	unmerged   []*meta.RowData
}

func newTableState() *tableState {
	return &tableState{
		deleteRows: make(map[idHash]*meta.RowData),
		insertRows: make(map[idHash]*meta.RowData),
	}
}

// Merger accumulates rows for possibly many tables and drains them into
// MergedTable batches. One Merger instance belongs to one Merge
// parallelizer shard's lifetime of a single drain cycle; callers construct
// a fresh one per batch (matching ape-dts's RdbMerger::new() per round).
type Merger struct {
	tables map[string]*tableState
}

func New() *Merger {
	return &Merger{tables: make(map[string]*tableState)}
}

// computeHash hashes id-column values in order; returns ok=false if the
// hash collapses to the zero sentinel (vanishingly unlikely with fnv128a,
// but checked for parity with ape-dts's "hash == 0 means unhashable"
// convention).
func computeHash(vals []meta.ColValue) (idHash, bool) {
	h := fnv.New128a()
	for _, v := range vals {
		h.Write([]byte{byte(v.Kind)})
		h.Write([]byte(v.String()))
		h.Write([]byte{0})
	}
	var out idHash
	copy(out[:], h.Sum(nil))
	return out, out != zeroHash
}

// MergeRow folds one row event into the merger's per-table state. idCols
// gives the table's identity columns (from the registry's TableMeta).
func (m *Merger) MergeRow(row *meta.RowData, idCols []string) {
	ts, ok := m.tables[row.FullTable()]
	if !ok {
		ts = newTableState()
		m.tables[row.FullTable()] = ts
	}

	// Conservative fallback: once a table has any unmerged row, every
	// subsequent row for that table joins the tail in order, rather than
	// risk reordering around a row whose identity we couldn't reason
	// about (spec.md's "Delete-after-unmergeable-update" decision).
	if len(ts.unmerged) > 0 {
		ts.unmerged = append(ts.unmerged, row)
		return
	}

	switch row.Type {
	case meta.RowInsert:
		vals, ok := row.IDCols(idCols)
		if !ok {
			ts.unmerged = append(ts.unmerged, row)
			return
		}
		hash, ok := computeHash(vals)
		if !ok {
			ts.unmerged = append(ts.unmerged, row)
			return
		}
		delete(ts.deleteRows, hash)
		ts.insertRows[hash] = row

	case meta.RowDelete:
		vals, ok := row.IDCols(idCols)
		if !ok {
			ts.unmerged = append(ts.unmerged, row)
			return
		}
		hash, ok := computeHash(vals)
		if !ok {
			ts.unmerged = append(ts.unmerged, row)
			return
		}
		// Even when this delete cancels an insert from earlier in the
		// same batch, the delete itself still has to land: a sink that
		// already applied the stale insert from a prior, partially
		// replayed run needs the corrective delete on redelivery.
		delete(ts.insertRows, hash)
		ts.deleteRows[hash] = row

	case meta.RowUpdate:
		m.mergeUpdate(ts, row, idCols)
	}
}

func (m *Merger) mergeUpdate(ts *tableState, row *meta.RowData, idCols []string) {
	afterVals, afterOk := idColsFromMap(row.After, idCols)
	beforeVals, beforeOk := idColsFromMap(row.Before, idCols)
	if !afterOk || !beforeOk {
		ts.unmerged = append(ts.unmerged, row)
		return
	}

	afterHash, afterHashOk := computeHash(afterVals)
	beforeHash, beforeHashOk := computeHash(beforeVals)
	if !afterHashOk || !beforeHashOk {
		ts.unmerged = append(ts.unmerged, row)
		return
	}

	if beforeHash != afterHash {
		// The identity column(s) changed: treat conservatively as
		// unmergeable so a correct delete-then-insert ordering against
		// everything around it is preserved (spec.md §4.3 "key change").
		ts.unmerged = append(ts.unmerged, row)
		return
	}

	delete(ts.deleteRows, afterHash)
	ts.insertRows[afterHash] = row
}

func idColsFromMap(cols map[string]meta.ColValue, idCols []string) ([]meta.ColValue, bool) {
	vals := make([]meta.ColValue, len(idCols))
	for i, c := range idCols {
		v, ok := cols[c]
		if !ok || v.IsNone() {
			return nil, false
		}
		vals[i] = v
	}
	return vals, true
}

// Drain returns every table's merged result and resets the merger to an
// empty state, ready for the next batch.
func (m *Merger) Drain() map[string]*MergedTable {
	out := make(map[string]*MergedTable, len(m.tables))
	for tbl, ts := range m.tables {
		mt := &MergedTable{
			DeleteRows:   mapValues(ts.deleteRows),
			InsertRows:   mapValues(ts.insertRows),
			UnmergedRows: ts.unmerged,
		}
		if !mt.isEmpty() {
			out[tbl] = mt
		}
	}
	m.tables = make(map[string]*tableState)
	return out
}

func mapValues(m map[idHash]*meta.RowData) []*meta.RowData {
	out := make([]*meta.RowData, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}
