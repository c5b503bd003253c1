// Package extractor defines the source-agnostic contract the pipeline
// drives (spec.md §6): start reading from a position, push decoded items
// into a shared buffer, and acknowledge progress once the pipeline's
// Syncer confirms a checkpoint.
package extractor

import (
	"context"

	"github.com/sdlhq/dflow/internal/buffer"
	"github.com/sdlhq/dflow/internal/meta"
)

// Extractor is implemented by internal/pgcdc.Extractor and
// internal/mysqlcdc.Extractor. Start runs until ctx is canceled or a
// fatal source error occurs; it owns pushing every decoded DtItem into
// buf.
type Extractor interface {
	Start(ctx context.Context, buf *buffer.Buffer[*meta.DtItem], syncer *meta.Syncer) error
	Close() error
}
