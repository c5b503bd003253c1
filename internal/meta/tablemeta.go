package meta

import "sort"

// ColumnMeta describes one column's name, origin (source-reported) type and
// rich (normalized) type, matching the two-type-string shape spec.md §3
// calls for so sinkers can pick whichever is useful (pass-through DDL vs.
// value decoding).
type ColumnMeta struct {
	Name       string
	OriginType string
	RichType   string
	Nullable   bool
	Ordinal    int
}

// TableMeta is the registry's cached shape for one table: columns, keys and
// the derived id/order/partition columns the parallelizers and merger use.
type TableMeta struct {
	Schema  string
	Table   string
	Columns []ColumnMeta

	// KeyMap holds every unique key, keyed by lower-cased key name, to the
	// ordered list of column names it covers (spec.md §4.5).
	KeyMap map[string][]string

	// IDCols is the tie-broken identity column list (spec.md §4.5's rule:
	// prefer a key literally named "primary", else the fewest-column key,
	// else the alphabetically-first key name).
	IDCols []string

	OrderCol     string
	PartitionCol string

	// ForeignKeys lists (column, referenced schema.table) pairs, kept for
	// completeness even though no parallelizer consults them today.
	ForeignKeys []ForeignKey

	// OID is set only for Postgres tables, used by pgcdc's dual index.
	OID uint32
}

type ForeignKey struct {
	Column       string
	RefTable     string
	RefColumn    string
}

// DeriveIDCols applies spec.md §4.5's tie-break rule over KeyMap and caches
// the result in IDCols, also returning it.
func (t *TableMeta) DeriveIDCols() []string {
	if len(t.KeyMap) == 0 {
		t.IDCols = nil
		return nil
	}
	if primary, ok := t.KeyMap["primary"]; ok {
		t.IDCols = primary
		return primary
	}
	names := make([]string, 0, len(t.KeyMap))
	for name := range t.KeyMap {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		li, lj := len(t.KeyMap[names[i]]), len(t.KeyMap[names[j]])
		if li != lj {
			return li < lj
		}
		return names[i] < names[j]
	})
	t.IDCols = t.KeyMap[names[0]]
	return t.IDCols
}

// ColumnNames returns every column name in ordinal order.
func (t *TableMeta) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}
