package pgcdc

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/sdlhq/dflow/internal/meta"
)

// This file decodes pgoutput logical-decoding messages directly off the
// replication stream's WAL data bytes. jackc/pglogrepl only parses the
// outer streaming-replication envelope (XLogData/PrimaryKeepalive); the
// pgoutput plugin's own message format (Begin/Relation/Insert/Update/
// Delete/Commit/Origin/Truncate/Type/tuple data) has no parser in the
// pack, so dflow implements it directly against the protocol Postgres
// documents (https://www.postgresql.org/docs/current/protocol-logicalrep-message-formats.html),
// the same wire format ape-dts's pg_cdc_extractor.rs decodes by hand.

type msgBegin struct {
	finalLSN uint64
	tsMicros int64
	xid      uint32
}

type msgCommit struct {
	flags      byte
	commitLSN  uint64
	endLSN     uint64
	tsMicros   int64
}

type msgOrigin struct {
	commitLSN uint64
	name      string
}

type msgRelationColumn struct {
	isKey    bool
	name     string
	typeOID  uint32
	typeMod  int32
}

type msgRelation struct {
	oid       uint32
	namespace string
	name      string
	replIdent byte
	columns   []msgRelationColumn
}

type msgType struct {
	oid       uint32
	namespace string
	name      string
}

// tupleDatum is one column's decoded wire value before ColValue
// conversion: isNull/isUnchangedToast flags the two special cases,
// otherwise text holds the column's text-format bytes.
type tupleDatum struct {
	isNull           bool
	isUnchangedToast bool
	text             []byte
}

type msgInsert struct {
	relOID uint32
	new    []tupleDatum
}

type msgUpdate struct {
	relOID  uint32
	hasOld  bool
	oldKeyOnly bool
	old     []tupleDatum
	new     []tupleDatum
}

type msgDelete struct {
	relOID  uint32
	keyOnly bool
	old     []tupleDatum
}

type msgTruncate struct {
	relOIDs []uint32
	cascade bool
	restart bool
}

// errUnchangedToastInKey signals that a column in any decoded tuple (new,
// old or key image) came back as "unchanged toast" — i.e. Postgres didn't
// send us a usable value at all. spec.md §4.4 treats this as fatal: there
// is no way to recover the column's value from the wire.
var errUnchangedToastInKey = fmt.Errorf("pgcdc: unchanged-toast column in tuple data")

func readUint64(r *bytes.Reader) (uint64, error) {
	var v uint64
	err := binary.Read(r, binary.BigEndian, &v)
	return v, err
}
func readUint32(r *bytes.Reader) (uint32, error) {
	var v uint32
	err := binary.Read(r, binary.BigEndian, &v)
	return v, err
}
func readInt32(r *bytes.Reader) (int32, error) {
	var v int32
	err := binary.Read(r, binary.BigEndian, &v)
	return v, err
}
func readInt64(r *bytes.Reader) (int64, error) {
	var v int64
	err := binary.Read(r, binary.BigEndian, &v)
	return v, err
}
func readInt16(r *bytes.Reader) (int16, error) {
	var v int16
	err := binary.Read(r, binary.BigEndian, &v)
	return v, err
}
func readByte(r *bytes.Reader) (byte, error) { return r.ReadByte() }

func readCString(r *bytes.Reader) (string, error) {
	s, err := r.ReadString(0)
	if err != nil {
		return "", err
	}
	return s[:len(s)-1], nil
}

func readTuple(r *bytes.Reader) ([]tupleDatum, error) {
	n, err := readInt16(r)
	if err != nil {
		return nil, err
	}
	out := make([]tupleDatum, n)
	for i := 0; i < int(n); i++ {
		kind, err := readByte(r)
		if err != nil {
			return nil, err
		}
		switch kind {
		case 'n':
			out[i] = tupleDatum{isNull: true}
		case 'u':
			out[i] = tupleDatum{isUnchangedToast: true}
		case 't', 'b':
			l, err := readInt32(r)
			if err != nil {
				return nil, err
			}
			buf := make([]byte, l)
			if _, err := r.Read(buf); err != nil {
				return nil, err
			}
			out[i] = tupleDatum{text: buf}
		default:
			return nil, fmt.Errorf("pgcdc: unknown tuple datum kind %q", kind)
		}
	}
	return out, nil
}

// decodeMessage parses one pgoutput message; the returned value's dynamic
// type is one of the msg* structs above.
func decodeMessage(data []byte) (interface{}, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("pgcdc: empty message")
	}
	r := bytes.NewReader(data[1:])
	switch data[0] {
	case 'B':
		lsn, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		ts, err := readInt64(r)
		if err != nil {
			return nil, err
		}
		xid, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		return msgBegin{finalLSN: lsn, tsMicros: ts, xid: xid}, nil

	case 'C':
		flags, err := readByte(r)
		if err != nil {
			return nil, err
		}
		commitLSN, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		endLSN, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		ts, err := readInt64(r)
		if err != nil {
			return nil, err
		}
		return msgCommit{flags: flags, commitLSN: commitLSN, endLSN: endLSN, tsMicros: ts}, nil

	case 'O':
		lsn, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		name, err := readCString(r)
		if err != nil {
			return nil, err
		}
		return msgOrigin{commitLSN: lsn, name: name}, nil

	case 'R':
		oid, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		ns, err := readCString(r)
		if err != nil {
			return nil, err
		}
		name, err := readCString(r)
		if err != nil {
			return nil, err
		}
		identity, err := readByte(r)
		if err != nil {
			return nil, err
		}
		ncols, err := readInt16(r)
		if err != nil {
			return nil, err
		}
		cols := make([]msgRelationColumn, ncols)
		for i := 0; i < int(ncols); i++ {
			flags, err := readByte(r)
			if err != nil {
				return nil, err
			}
			cname, err := readCString(r)
			if err != nil {
				return nil, err
			}
			typeOID, err := readUint32(r)
			if err != nil {
				return nil, err
			}
			typeMod, err := readInt32(r)
			if err != nil {
				return nil, err
			}
			cols[i] = msgRelationColumn{isKey: flags == 1, name: cname, typeOID: typeOID, typeMod: typeMod}
		}
		return msgRelation{oid: oid, namespace: ns, name: name, replIdent: identity, columns: cols}, nil

	case 'Y':
		oid, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		ns, err := readCString(r)
		if err != nil {
			return nil, err
		}
		name, err := readCString(r)
		if err != nil {
			return nil, err
		}
		return msgType{oid: oid, namespace: ns, name: name}, nil

	case 'I':
		oid, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		if _, err := readByte(r); err != nil { // 'N'
			return nil, err
		}
		tup, err := readTuple(r)
		if err != nil {
			return nil, err
		}
		return msgInsert{relOID: oid, new: tup}, nil

	case 'U':
		oid, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		tag, err := readByte(r)
		if err != nil {
			return nil, err
		}
		m := msgUpdate{relOID: oid}
		if tag == 'K' || tag == 'O' {
			m.hasOld = true
			m.oldKeyOnly = tag == 'K'
			old, err := readTuple(r)
			if err != nil {
				return nil, err
			}
			m.old = old
			if _, err := readByte(r); err != nil { // 'N'
				return nil, err
			}
		}
		new, err := readTuple(r)
		if err != nil {
			return nil, err
		}
		m.new = new
		return m, nil

	case 'D':
		oid, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		tag, err := readByte(r)
		if err != nil {
			return nil, err
		}
		old, err := readTuple(r)
		if err != nil {
			return nil, err
		}
		return msgDelete{relOID: oid, keyOnly: tag == 'K', old: old}, nil

	case 'T':
		n, err := readInt32(r)
		if err != nil {
			return nil, err
		}
		flags, err := readByte(r)
		if err != nil {
			return nil, err
		}
		oids := make([]uint32, n)
		for i := 0; i < int(n); i++ {
			oids[i], err = readUint32(r)
			if err != nil {
				return nil, err
			}
		}
		return msgTruncate{relOIDs: oids, cascade: flags&1 != 0, restart: flags&2 != 0}, nil

	default:
		return nil, fmt.Errorf("pgcdc: unknown pgoutput message type %q", data[0])
	}
}

// tupleToColValues zips decoded column metadata with wire datums into a
// name-keyed ColValue map, using each column's rich type to pick the
// right ColValue kind. An unchanged-toast datum is an error per spec.md
// §4.4, in whichever tuple (new, old or key image) it appears.
func tupleToColValues(cols []msgRelationColumn, datums []tupleDatum) (map[string]meta.ColValue, error) {
	out := make(map[string]meta.ColValue, len(cols))
	for i, c := range cols {
		if i >= len(datums) {
			break
		}
		d := datums[i]
		switch {
		case d.isNull:
			out[c.name] = meta.None
		case d.isUnchangedToast:
			return nil, fmt.Errorf("%w: column %s", errUnchangedToastInKey, c.name)
		default:
			out[c.name] = colValueFromText(c.typeOID, string(d.text))
		}
	}
	return out, nil
}
