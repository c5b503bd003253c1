package mysqlcdc

import (
	"fmt"

	"github.com/go-mysql-org/go-mysql/schema"

	"github.com/sdlhq/dflow/internal/meta"
)

// toColValue converts one canal-decoded column value (already typed as a
// Go native by go-mysql's row decoder) into a ColValue, picking the kind
// from the column's schema.TableColumn.Type. Grounded on the teacher's
// own ad-hoc use of `any`/`reflect.DeepEqual` over raw row values in
// main.go's OnRow — dflow replaces that untyped handling with the shared
// ColValue model every extractor produces.
func toColValue(col schema.TableColumn, v interface{}) meta.ColValue {
	if v == nil {
		return meta.None
	}
	switch col.Type {
	case schema.TYPE_NUMBER:
		if col.IsUnsigned {
			return meta.NewUint(kindForUnsigned(col), toUint64(v))
		}
		return meta.NewInt(kindForSigned(col), toInt64(v))
	case schema.TYPE_FLOAT:
		return meta.NewFloat(meta.KindFloat, toFloat64(v))
	case schema.TYPE_DECIMAL:
		return meta.NewString(meta.KindDecimal, fmt.Sprint(v))
	case schema.TYPE_ENUM:
		return meta.NewString(meta.KindEnum, fmt.Sprint(v))
	case schema.TYPE_SET:
		return meta.NewString(meta.KindSet, fmt.Sprint(v))
	case schema.TYPE_BIT:
		return meta.NewUint(meta.KindUnsigned, toUint64(v))
	case schema.TYPE_DATETIME:
		return meta.NewString(meta.KindDateTime, fmt.Sprint(v))
	case schema.TYPE_TIMESTAMP:
		return meta.NewString(meta.KindTimestamp, fmt.Sprint(v))
	case schema.TYPE_DATE:
		return meta.NewString(meta.KindDate, fmt.Sprint(v))
	case schema.TYPE_TIME:
		return meta.NewString(meta.KindTime, fmt.Sprint(v))
	case schema.TYPE_JSON:
		return meta.NewString(meta.KindJSON, fmt.Sprint(v))
	case schema.TYPE_BINARY:
		if b, ok := v.([]byte); ok {
			return meta.NewBinary(meta.KindBinary, b)
		}
		return meta.NewBinary(meta.KindBinary, []byte(fmt.Sprint(v)))
	case schema.TYPE_POINT:
		return meta.NewString(meta.KindString, fmt.Sprint(v))
	default:
		return meta.NewString(meta.KindString, fmt.Sprint(v))
	}
}

func kindForSigned(col schema.TableColumn) meta.ColValueKind {
	switch {
	case col.RawType == "tinyint":
		return meta.KindTinyInt
	case col.RawType == "smallint":
		return meta.KindSmallInt
	case col.RawType == "bigint":
		return meta.KindBigInt
	default:
		return meta.KindInt
	}
}

func kindForUnsigned(col schema.TableColumn) meta.ColValueKind {
	switch {
	case col.RawType == "tinyint":
		return meta.KindTinyUnsigned
	case col.RawType == "smallint":
		return meta.KindSmallUnsigned
	case col.RawType == "bigint":
		return meta.KindBigUnsigned
	default:
		return meta.KindUnsigned
	}
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case uint64:
		return int64(n)
	default:
		return 0
	}
}

func toUint64(v interface{}) uint64 {
	switch n := v.(type) {
	case uint64:
		return n
	case int64:
		return uint64(n)
	case uint32:
		return uint64(n)
	default:
		return 0
	}
}

func toFloat64(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	default:
		return 0
	}
}
