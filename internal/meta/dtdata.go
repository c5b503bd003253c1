package meta

// RedisEntry is a parsed Redis command/RDB-key event, carried through raw
// mode untouched (no row-model translation — spec.md §4.2 Redis
// parallelizer). The full key/slot parsing lives in internal/redisproto;
// this is just the envelope shape shared across packages.
type RedisEntry struct {
	IsBaseEntry bool // true for RDB-loaded keys, false for streamed commands
	CmdName     string
	Args        [][]byte
	Keys        []string // extracted keys, used for slot routing
	DbID        int
}

// DtDataKind tags the DtData union — mirrors ape-dts's DtData enum in
// dt-meta/src/dt_data.rs (Ddl | Dml | Begin | Commit | Redis).
type DtDataKind uint8

const (
	DtDml DtDataKind = iota
	DtDdl
	DtBegin
	DtCommit
	DtRedis
)

// DtData is the tagged payload carried by a DtItem through the buffer and
// pipeline. Exactly one of Row/Ddl/Redis is populated, selected by Kind;
// Begin and Commit carry no payload beyond Xid.
type DtData struct {
	Kind DtDataKind

	Row   *RowData
	Ddl   *DdlData
	Redis *RedisEntry
	Xid   string // set for DtCommit, empty otherwise
}

// DtItem pairs a DtData payload with the position it was read at — the
// same pairing ape-dts's DtItem{dt_data, position} makes, so the pipeline
// can record a checkpoint the moment it finishes sinking a commit.
type DtItem struct {
	Data     DtData
	Position Position
}
