package pgcdc

import (
	"sync"

	"github.com/sdlhq/dflow/internal/meta"
)

// metaRegistry is the PG extractor's own table-metadata cache: Relation
// messages arrive keyed by oid on the wire, but the pipeline and sinkers
// address tables by schema.table name, so this keeps both indices over
// one shared *meta.TableMeta record (SPEC_FULL.md Supplemented Feature 5
// / spec.md §9 design notes), grounded on ape-dts's PgMetaManager which
// keeps exactly this oid<->name pairing.
type metaRegistry struct {
	mu     sync.RWMutex
	byOID  map[uint32]*meta.TableMeta
	byName map[string]*meta.TableMeta
}

func newMetaRegistry() *metaRegistry {
	return &metaRegistry{
		byOID:  make(map[uint32]*meta.TableMeta),
		byName: make(map[string]*meta.TableMeta),
	}
}

func (r *metaRegistry) put(m *meta.TableMeta) {
	m.DeriveIDCols()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byOID[m.OID] = m
	r.byName[m.Schema+"."+m.Table] = m
}

func (r *metaRegistry) byOid(oid uint32) (*meta.TableMeta, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byOID[oid]
	return m, ok
}

func (r *metaRegistry) byFullName(schema, table string) (*meta.TableMeta, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byName[schema+"."+table]
	return m, ok
}

// invalidate drops an oid's cached metadata (e.g. on a later Relation
// message with a bumped relation-message version, or an explicit DDL
// notification from elsewhere).
func (r *metaRegistry) invalidate(oid uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.byOID[oid]; ok {
		delete(r.byOID, oid)
		delete(r.byName, m.Schema+"."+m.Table)
	}
}

func relationToTableMeta(rel msgRelation) *meta.TableMeta {
	cols := make([]meta.ColumnMeta, len(rel.columns))
	keyCols := make([]string, 0, len(rel.columns))
	for i, c := range rel.columns {
		cols[i] = meta.ColumnMeta{
			Name:       c.name,
			OriginType: richTypeName(c.typeOID),
			RichType:   richTypeName(c.typeOID),
			Ordinal:    i,
		}
		if c.isKey {
			keyCols = append(keyCols, c.name)
		}
	}
	m := &meta.TableMeta{
		Schema:  rel.namespace,
		Table:   rel.name,
		Columns: cols,
		OID:     rel.oid,
	}
	if len(keyCols) > 0 {
		m.KeyMap = map[string][]string{"primary": keyCols}
	}
	return m
}
