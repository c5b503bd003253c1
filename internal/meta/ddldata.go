package meta

// DdlData is a decoded DDL statement, carried through the pipeline so every
// sinker gets a chance to apply it (or at least invalidate its cached
// metadata for the affected table) before any later DML is sunk (spec.md
// §4.1 step "DDL fan-out").
type DdlData struct {
	Schema   string
	Table    string // empty when the statement is schema-level (e.g. CREATE SCHEMA)
	Query    string
	Position Position
}
