// Package meta holds the wire-level data model shared by every extractor,
// parallelizer and sinker: column values, row events, positions and table
// metadata.
package meta

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ColValueKind tags the concrete shape stored in a ColValue.
type ColValueKind uint8

const (
	KindNone ColValueKind = iota
	KindTinyInt
	KindSmallInt
	KindInt
	KindBigInt
	KindTinyUnsigned
	KindSmallUnsigned
	KindUnsigned
	KindBigUnsigned
	KindFloat
	KindDouble
	KindDecimal
	KindBool
	KindString
	KindBinary
	KindJSON
	KindDate
	KindTime
	KindDateTime
	KindTimestamp
	KindYear
	KindEnum
	KindSet
	KindMongoDoc
)

// ColValue is a tagged value covering every SQL/document column shape the
// extractors decode. Temporal kinds are kept as text to avoid timezone loss
// across heterogeneous sources (spec.md §3).
type ColValue struct {
	Kind ColValueKind

	i64  int64
	u64  uint64
	f64  float64
	text string
	bin  []byte
	b    bool
}

// None is the distinguished absent value. Two Nones never compare equal for
// uniqueness purposes (spec.md §3): callers that need that semantic must use
// IsNone plus an explicit has-seen-null tracker, never ColValue equality on
// two None values to mean "same". Equality below treats two Nones as equal
// for general comparison (e.g. diffing before/after), which is the common
// case; the merger and partitioner check IsNone themselves and treat a row
// with a None id value as unhashable.
var None = ColValue{Kind: KindNone}

func (c ColValue) IsNone() bool { return c.Kind == KindNone }

func NewInt(kind ColValueKind, v int64) ColValue  { return ColValue{Kind: kind, i64: v} }
func NewUint(kind ColValueKind, v uint64) ColValue { return ColValue{Kind: kind, u64: v} }
func NewFloat(kind ColValueKind, v float64) ColValue { return ColValue{Kind: kind, f64: v} }
func NewBool(v bool) ColValue                     { return ColValue{Kind: KindBool, b: v} }
func NewString(kind ColValueKind, v string) ColValue {
	return ColValue{Kind: kind, text: v}
}
func NewBinary(kind ColValueKind, v []byte) ColValue {
	return ColValue{Kind: kind, bin: v}
}

// NewDecimal stores a decimal as its canonical text form, matching the
// spec's "decimal-as-text" requirement while still validating the value
// parses as a real decimal.
func NewDecimal(d decimal.Decimal) ColValue {
	return ColValue{Kind: KindDecimal, text: d.String()}
}

func (c ColValue) Int64() int64      { return c.i64 }
func (c ColValue) Uint64() uint64    { return c.u64 }
func (c ColValue) Float64() float64  { return c.f64 }
func (c ColValue) Bool() bool        { return c.b }
func (c ColValue) Text() string      { return c.text }
func (c ColValue) Bytes() []byte     { return c.bin }

// Decimal parses the stored text back into a decimal.Decimal. Only valid
// when Kind == KindDecimal.
func (c ColValue) Decimal() (decimal.Decimal, error) {
	return decimal.NewFromString(c.text)
}

// Equal is componentwise equality across the full tagged union, used when
// diffing before/after images (mongosink's update change set). The merger
// compares id-column hashes, not ColValues.
func (c ColValue) Equal(o ColValue) bool {
	if c.Kind != o.Kind {
		return false
	}
	switch c.Kind {
	case KindNone:
		return true
	case KindTinyInt, KindSmallInt, KindInt, KindBigInt:
		return c.i64 == o.i64
	case KindTinyUnsigned, KindSmallUnsigned, KindUnsigned, KindBigUnsigned:
		return c.u64 == o.u64
	case KindFloat, KindDouble:
		return c.f64 == o.f64
	case KindBool:
		return c.b == o.b
	case KindBinary:
		if len(c.bin) != len(o.bin) {
			return false
		}
		for i := range c.bin {
			if c.bin[i] != o.bin[i] {
				return false
			}
		}
		return true
	default:
		// String, Decimal, JSON, Date, Time, DateTime, Timestamp, Year, Enum,
		// Set, MongoDoc are all carried as text.
		return c.text == o.text
	}
}

// String renders a value for logging; it is not a wire format.
func (c ColValue) String() string {
	switch c.Kind {
	case KindNone:
		return "<nil>"
	case KindTinyInt, KindSmallInt, KindInt, KindBigInt:
		return fmt.Sprintf("%d", c.i64)
	case KindTinyUnsigned, KindSmallUnsigned, KindUnsigned, KindBigUnsigned:
		return fmt.Sprintf("%d", c.u64)
	case KindFloat, KindDouble:
		return fmt.Sprintf("%v", c.f64)
	case KindBool:
		return fmt.Sprintf("%v", c.b)
	case KindBinary:
		return fmt.Sprintf("0x%x", c.bin)
	default:
		return c.text
	}
}
