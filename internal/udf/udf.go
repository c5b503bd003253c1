// Package udf defines the row-transform hook point the pipeline calls
// before dispatching DML to a parallelizer. No implementation ships here
// by design: spec.md's Non-goals explicitly exclude any scripting/UDF
// hook, matching ape-dts's optional
// dt-pipeline/src/udf/wasm/wasm_udf_loader.rs (referenced from
// base_pipeline.rs's fetch_dml as work_with_data). dflow keeps the hook
// point so a future WASM/Lua loader has somewhere to attach, without
// building one.
package udf

import "github.com/sdlhq/dflow/internal/meta"

// RowTransformer mutates (or vetoes, by returning ok=false) a single row
// before it reaches the parallelizer. The pipeline calls this once per
// DML row if a transformer is configured; none is configured by default.
type RowTransformer interface {
	Transform(row *meta.RowData) (out *meta.RowData, ok bool, err error)
}

// NoopTransformer passes every row through unchanged. The pipeline does not
// install it: with no transformer configured the transform step is skipped.
type NoopTransformer struct{}

func (NoopTransformer) Transform(row *meta.RowData) (*meta.RowData, bool, error) {
	return row, true, nil
}
