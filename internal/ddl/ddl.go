// Package ddl classifies DDL statement text into the (schema, table) pair
// the registry needs to invalidate (spec.md §4.5), using
// github.com/pingcap/tidb/pkg/parser — already a transitive dependency of
// the teacher's go-mysql-org/go-mysql stack, promoted here to a direct
// import for real use rather than left dangling.
package ddl

import (
	"strings"

	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
	_ "github.com/pingcap/tidb/pkg/parser/test_driver"
)

// Target is the (schema, table) pair a DDL statement affects, as far as
// cache invalidation is concerned. Table is empty for schema-level
// statements (CREATE/DROP SCHEMA) — callers should treat that as
// "invalidate everything in Schema" per the registry's Invalidate
// contract.
type Target struct {
	Schema string
	Table  string
}

// Classify parses a single DDL statement and returns every table it
// affects. Falls back to a single Target with the caller's default schema
// and no table — i.e. an invalidation of that whole schema (of the whole
// registry when defaultSchema is empty) — if the statement can't be
// parsed, matching ape-dts's conservative "invalidate broadly when
// unsure" stance for DDL it doesn't specifically recognize.
func Classify(defaultSchema, query string) []Target {
	p := parser.New()
	stmt, err := p.ParseOneStmt(query, "", "")
	if err != nil {
		return []Target{{Schema: defaultSchema}}
	}

	switch n := stmt.(type) {
	case *ast.CreateTableStmt:
		return []Target{tableTarget(defaultSchema, n.Table)}
	case *ast.DropTableStmt:
		out := make([]Target, 0, len(n.Tables))
		for _, t := range n.Tables {
			out = append(out, tableTarget(defaultSchema, t))
		}
		return out
	case *ast.AlterTableStmt:
		return []Target{tableTarget(defaultSchema, n.Table)}
	case *ast.TruncateTableStmt:
		return []Target{tableTarget(defaultSchema, n.Table)}
	case *ast.RenameTableStmt:
		out := make([]Target, 0, len(n.TableToTables)*2)
		for _, pair := range n.TableToTables {
			out = append(out, tableTarget(defaultSchema, pair.OldTable), tableTarget(defaultSchema, pair.NewTable))
		}
		return out
	case *ast.CreateDatabaseStmt:
		return []Target{{Schema: n.Name.O}}
	case *ast.DropDatabaseStmt:
		return []Target{{Schema: n.Name.O}}
	default:
		return []Target{{Schema: defaultSchema}}
	}
}

func tableTarget(defaultSchema string, t *ast.TableName) Target {
	schema := defaultSchema
	if t.Schema.O != "" {
		schema = t.Schema.O
	}
	return Target{Schema: schema, Table: t.Name.O}
}

// IsSchemaLevel reports whether t should invalidate an entire schema
// rather than one table.
func (t Target) IsSchemaLevel() bool { return t.Table == "" }

// Normalize lower-cases a query for simple keyword sniffing in contexts
// that don't need a full parse (e.g. quick logging of DDL category).
func Normalize(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}
