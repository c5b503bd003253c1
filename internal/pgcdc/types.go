package pgcdc

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/sdlhq/dflow/internal/meta"
)

// Well-known Postgres type OIDs (pg_catalog.pg_type), the same constants
// pgx/v5's pgtype package exposes but inlined here so this file has no
// dependency on pgx's internal OID table shape.
const (
	oidBool        = 16
	oidBytea       = 17
	oidInt8        = 20
	oidInt2        = 21
	oidInt4        = 23
	oidText        = 25
	oidJSON        = 114
	oidFloat4      = 700
	oidFloat8      = 701
	oidBpchar      = 1042
	oidVarchar     = 1043
	oidDate        = 1082
	oidTime        = 1083
	oidTimestamp   = 1114
	oidTimestamptz = 1184
	oidNumeric     = 1700
	oidUUID        = 2950
	oidJSONB       = 3802
)

// colValueFromText converts a pgoutput text-format value into a ColValue,
// tagging it with the kind the column's OID implies (spec.md §3's
// normalized rich-type requirement). Values stay as text for everything
// except integers/floats/bool and bytea (hex-decoded to bytes), matching
// the extractor's "decimal and temporal values travel as text" design note.
func colValueFromText(oid uint32, text string) meta.ColValue {
	switch oid {
	case oidInt2:
		n, _ := strconv.ParseInt(text, 10, 64)
		return meta.NewInt(meta.KindSmallInt, n)
	case oidInt4:
		n, _ := strconv.ParseInt(text, 10, 64)
		return meta.NewInt(meta.KindInt, n)
	case oidInt8:
		n, _ := strconv.ParseInt(text, 10, 64)
		return meta.NewInt(meta.KindBigInt, n)
	case oidFloat4:
		f, _ := strconv.ParseFloat(text, 64)
		return meta.NewFloat(meta.KindFloat, f)
	case oidFloat8:
		f, _ := strconv.ParseFloat(text, 64)
		return meta.NewFloat(meta.KindDouble, f)
	case oidNumeric:
		return meta.NewString(meta.KindDecimal, text)
	case oidBool:
		return meta.NewBool(text == "t")
	case oidDate:
		return meta.NewString(meta.KindDate, text)
	case oidTime:
		return meta.NewString(meta.KindTime, text)
	case oidTimestamp:
		return meta.NewString(meta.KindDateTime, text)
	case oidTimestamptz:
		return meta.NewString(meta.KindTimestamp, text)
	case oidJSON, oidJSONB:
		return meta.NewString(meta.KindJSON, text)
	case oidBytea:
		if b, err := hex.DecodeString(strings.TrimPrefix(text, `\x`)); err == nil {
			return meta.NewBinary(meta.KindBinary, b)
		}
		return meta.NewBinary(meta.KindBinary, []byte(text))
	case oidText, oidVarchar, oidBpchar, oidUUID:
		return meta.NewString(meta.KindString, text)
	default:
		return meta.NewString(meta.KindString, text)
	}
}

// richTypeName gives a human string for a TableMeta.ColumnMeta's rich
// type, used when registering Relation messages into the registry.
func richTypeName(oid uint32) string {
	switch oid {
	case oidInt2:
		return "smallint"
	case oidInt4:
		return "integer"
	case oidInt8:
		return "bigint"
	case oidFloat4:
		return "real"
	case oidFloat8:
		return "double precision"
	case oidNumeric:
		return "numeric"
	case oidBool:
		return "boolean"
	case oidDate:
		return "date"
	case oidTime:
		return "time"
	case oidTimestamp:
		return "timestamp"
	case oidTimestamptz:
		return "timestamptz"
	case oidJSON:
		return "json"
	case oidJSONB:
		return "jsonb"
	case oidBytea:
		return "bytea"
	case oidUUID:
		return "uuid"
	case oidText:
		return "text"
	case oidVarchar:
		return "varchar"
	case oidBpchar:
		return "char"
	default:
		return "unknown"
	}
}
