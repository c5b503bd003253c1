// Package clickhousesink implements the ClickHouse analytical-sink target
// (spec.md's DOMAIN STACK): rows are appended into a driver.Batch and sent
// per table per drain, the same PrepareBatch/Append/Send shape the pack's
// ClickHouse dataset-writer example uses, simplified from that example's
// staging/argMax delta machinery down to INSERT-only replication (dflow
// doesn't need ClickHouse-side dedup — the merger already collapsed each
// batch upstream).
package clickhousesink

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/sdlhq/dflow/internal/logutil"
	"github.com/sdlhq/dflow/internal/meta"
	"go.uber.org/zap"
)

type Sink struct {
	id   string
	conn driver.Conn
}

func New(id string, addr []string, db, user, password string) (*Sink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: addr,
		Auth: clickhouse.Auth{Database: db, Username: user, Password: password},
	})
	if err != nil {
		return nil, fmt.Errorf("clickhousesink: open: %w", err)
	}
	return &Sink{id: id, conn: conn}, nil
}

func (s *Sink) GetID() string { return s.id }
func (s *Sink) Close() error  { return s.conn.Close() }

func (s *Sink) RefreshMeta(schema, table string) {}

// SinkDML groups rows by table (a batch may already be single-table thanks
// to the parallelizer's run-splitting, but SinkDML doesn't assume that)
// and appends each row as a single INSERT, replicating deletes as
// tombstone rows the way an append-only analytical sink must — ClickHouse
// has no row-level DELETE/UPDATE in the MergeTree engines dflow targets.
func (s *Sink) SinkDML(ctx context.Context, rows []*meta.RowData) error {
	if len(rows) == 0 {
		return nil
	}
	byTable := map[string][]*meta.RowData{}
	for _, r := range rows {
		key := r.Schema + "." + r.Table
		byTable[key] = append(byTable[key], r)
	}
	for key, trows := range byTable {
		if err := s.sinkTable(ctx, trows[0].Schema, trows[0].Table, trows); err != nil {
			return fmt.Errorf("clickhousesink: table %s: %w", key, err)
		}
	}
	return nil
}

func (s *Sink) sinkTable(ctx context.Context, schema, table string, rows []*meta.RowData) error {
	cols := unionColumns(rows)
	colList := append(append([]string{}, cols...), "_dflow_op", "_dflow_ts")

	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s.%s (%s)", schema, table, joinCols(colList)))
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, r := range rows {
		current := r.Current()
		vals := make([]any, 0, len(colList))
		for _, c := range cols {
			v, ok := current[c]
			if !ok {
				vals = append(vals, nil)
				continue
			}
			vals = append(vals, v.String())
		}
		vals = append(vals, opCode(r.Type), r.Position.ToText())
		if err := batch.Append(vals...); err != nil {
			return fmt.Errorf("append row: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	logutil.Monitor("clickhousesink batch sent", zap.String("table", schema+"."+table), zap.Int("rows", len(rows)))
	return nil
}

func (s *Sink) SinkDDL(ctx context.Context, ddl *meta.DdlData) error {
	// ClickHouse DDL is never passed through: the event is logged and an
	// operator applies schema migrations explicitly, same as the teacher's
	// handler logs schema changes rather than mutating Mongo's schemaless
	// collections.
	logutil.Info("clickhousesink: DDL event observed, not auto-applied",
		zap.String("table", ddl.Schema+"."+ddl.Table), zap.String("query", ddl.Query))
	return nil
}

func (s *Sink) SinkRaw(ctx context.Context, item *meta.DtItem) error { return nil }

func opCode(t meta.RowType) string {
	switch t {
	case meta.RowInsert:
		return "I"
	case meta.RowUpdate:
		return "U"
	case meta.RowDelete:
		return "D"
	default:
		return "?"
	}
}

func unionColumns(rows []*meta.RowData) []string {
	seen := map[string]bool{}
	var cols []string
	for _, r := range rows {
		for c := range r.Current() {
			if !seen[c] {
				seen[c] = true
				cols = append(cols, c)
			}
		}
	}
	return cols
}

func joinCols(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}
