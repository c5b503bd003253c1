// Package sink defines the narrow contract every destination connector
// implements (spec.md §5 "sinker contract"). Concrete sinkers live
// in sibling packages (mongosink, redissink, kafkasink, clickhousesink,
// starrockssink).
package sink

import (
	"context"

	"github.com/sdlhq/dflow/internal/meta"
)

// Sinker is the contract every destination connector implements. A single
// pipeline run may fan out to several Sinkers (spec.md §4.1's DDL
// fan-out requires every configured sinker to see every DDL event, even
// ones whose own table isn't affected, so each can decide whether to
// invalidate cached metadata).
type Sinker interface {
	// SinkDML applies a batch of row events, already merged/partitioned
	// as the configured parallelizer produced them. Implementations must
	// not reorder rows within the slice.
	SinkDML(ctx context.Context, rows []*meta.RowData) error

	// SinkDDL applies (or, for sinkers that don't support schema
	// mutation, simply acknowledges) a DDL event.
	SinkDDL(ctx context.Context, ddl *meta.DdlData) error

	// SinkRaw applies a raw-mode item (Redis/Kafka/Foxlake) that bypasses
	// the row model entirely.
	SinkRaw(ctx context.Context, item *meta.DtItem) error

	// RefreshMeta is called after any DDL event, for every sinker,
	// regardless of whether that sinker's own target actually needs to
	// change — it gives the sinker a chance to drop cached column/type
	// information for the affected schema.table (spec.md §4.1).
	RefreshMeta(schema, table string)

	// GetID returns a stable identifier for logging/metrics (e.g.
	// "mongosink:primary").
	GetID() string

	Close() error
}
