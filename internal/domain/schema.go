package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ColumnType is a primitive data type tag understood by the store.
type ColumnType string

// Supported column type tags.
const (
	TypeBigInt      ColumnType = "BIGINT"
	TypeBit         ColumnType = "BIT"
	TypeBlob        ColumnType = "BLOB"
	TypeBoolean     ColumnType = "BOOLEAN"
	TypeDate        ColumnType = "DATE"
	TypeDouble      ColumnType = "DOUBLE"
	TypeFloat       ColumnType = "FLOAT"
	TypeHugeInt     ColumnType = "HUGEINT"
	TypeInteger     ColumnType = "INTEGER"
	TypeInterval    ColumnType = "INTERVAL"
	TypeSmallInt    ColumnType = "SMALLINT"
	TypeSQLNull     ColumnType = "SQLNULL"
	TypeTimeTZ      ColumnType = "TIME_TZ"
	TypeTime        ColumnType = "TIME"
	TypeTimestampMS ColumnType = "TIMESTAMP_MS"
	TypeTimestampNS ColumnType = "TIMESTAMP_NS"
	TypeTimestampS  ColumnType = "TIMESTAMP_S"
	TypeTimestampTZ ColumnType = "TIMESTAMP_TZ"
	TypeTimestamp   ColumnType = "TIMESTAMP"
	TypeTinyInt     ColumnType = "TINYINT"
	TypeUBigInt     ColumnType = "UBIGINT"
	TypeUHugeInt    ColumnType = "UHUGEINT"
	TypeUInteger    ColumnType = "UINTEGER"
	TypeUSmallInt   ColumnType = "USMALLINT"
	TypeUTinyInt    ColumnType = "UTINYINT"
	TypeUUID        ColumnType = "UUID"
	TypeVarchar     ColumnType = "VARCHAR"
)

var knownTypes = map[ColumnType]struct{}{
	TypeBigInt: {}, TypeBit: {}, TypeBlob: {}, TypeBoolean: {}, TypeDate: {},
	TypeDouble: {}, TypeFloat: {}, TypeHugeInt: {}, TypeInteger: {}, TypeInterval: {},
	TypeSmallInt: {}, TypeSQLNull: {}, TypeTimeTZ: {}, TypeTime: {}, TypeTimestampMS: {},
	TypeTimestampNS: {}, TypeTimestampS: {}, TypeTimestampTZ: {}, TypeTimestamp: {},
	TypeTinyInt: {}, TypeUBigInt: {}, TypeUHugeInt: {}, TypeUInteger: {}, TypeUSmallInt: {},
	TypeUTinyInt: {}, TypeUUID: {}, TypeVarchar: {},
}

// ParseColumnType normalizes a type tag and rejects tags outside the
// supported set.
func ParseColumnType(tag string) (ColumnType, error) {
	t := ColumnType(strings.ToUpper(strings.TrimSpace(tag)))
	if _, ok := knownTypes[t]; !ok {
		return "", ErrValidation("unsupported column data type %q", tag)
	}
	return t, nil
}

// Valid reports whether t is a supported tag.
func (t ColumnType) Valid() bool {
	_, ok := knownTypes[t]
	return ok
}

// IsInteger reports whether t is one of the integer widths.
func (t ColumnType) IsInteger() bool {
	switch t {
	case TypeTinyInt, TypeSmallInt, TypeInteger, TypeBigInt, TypeHugeInt,
		TypeUTinyInt, TypeUSmallInt, TypeUInteger, TypeUBigInt, TypeUHugeInt:
		return true
	}
	return false
}

// IsFloat reports whether t is a floating-point width.
func (t ColumnType) IsFloat() bool {
	return t == TypeFloat || t == TypeDouble
}

// Coerce converts a row value into the Go representation bound for a column
// of type t. Nil stays nil. Integer values must be integral and fit the
// column width; FLOAT values must fit a float32.
func (t ColumnType) Coerce(v any) (any, error) {
	if v == nil || t == TypeSQLNull {
		return nil, nil
	}
	switch {
	case t.IsInteger():
		return t.coerceInt(v)
	case t.IsFloat():
		return t.coerceFloat(v)
	case t == TypeBoolean:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			return strconv.ParseBool(strings.TrimSpace(b))
		}
	case t == TypeBlob:
		switch b := v.(type) {
		case []byte:
			return b, nil
		case string:
			return []byte(b), nil
		}
	default:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return FormatValue(v), nil
	}
	return nil, fmt.Errorf("cannot convert %T to %s", v, t)
}

// intBounds holds the inclusive range of an integer column. HUGEINT and
// UHUGEINT values are limited to 64 bits on the Go side.
var intBounds = map[ColumnType]struct {
	min int64
	max uint64
}{
	TypeTinyInt:   {math.MinInt8, math.MaxInt8},
	TypeSmallInt:  {math.MinInt16, math.MaxInt16},
	TypeInteger:   {math.MinInt32, math.MaxInt32},
	TypeBigInt:    {math.MinInt64, math.MaxInt64},
	TypeHugeInt:   {math.MinInt64, math.MaxInt64},
	TypeUTinyInt:  {0, math.MaxUint8},
	TypeUSmallInt: {0, math.MaxUint16},
	TypeUInteger:  {0, math.MaxUint32},
	TypeUBigInt:   {0, math.MaxUint64},
	TypeUHugeInt:  {0, math.MaxUint64},
}

// coerceInt returns int64, or uint64 for the 64-bit-and-wider unsigned
// columns.
func (t ColumnType) coerceInt(v any) (any, error) {
	var (
		i        int64
		u        uint64
		unsigned bool
	)
	switch n := v.(type) {
	case int:
		i = int64(n)
	case int8:
		i = int64(n)
	case int16:
		i = int64(n)
	case int32:
		i = int64(n)
	case int64:
		i = n
	case uint:
		u, unsigned = uint64(n), true
	case uint8:
		u, unsigned = uint64(n), true
	case uint16:
		u, unsigned = uint64(n), true
	case uint32:
		u, unsigned = uint64(n), true
	case uint64:
		u, unsigned = n, true
	case float32:
		return t.coerceInt(float64(n))
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) || n != math.Trunc(n) {
			return nil, fmt.Errorf("%v is not an integer", n)
		}
		switch {
		case n >= -(1<<63) && n < 1<<63:
			i = int64(n)
		case n >= 0 && n < 1<<64:
			u, unsigned = uint64(n), true
		default:
			return nil, fmt.Errorf("%v out of range for %s", n, t)
		}
	case string:
		s := strings.TrimSpace(n)
		parsed, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			pu, uerr := strconv.ParseUint(s, 10, 64)
			if uerr != nil {
				return nil, err
			}
			u, unsigned = pu, true
		} else {
			i = parsed
		}
	default:
		return nil, fmt.Errorf("cannot convert %T to %s", v, t)
	}

	b := intBounds[t]
	wide := b.max > math.MaxInt64
	if unsigned {
		if u > b.max {
			return nil, fmt.Errorf("%d out of range for %s", u, t)
		}
		if wide {
			return u, nil
		}
		return int64(u), nil
	}
	if i < b.min || (i > 0 && uint64(i) > b.max) {
		return nil, fmt.Errorf("%d out of range for %s", i, t)
	}
	if wide {
		return uint64(i), nil
	}
	return i, nil
}

func (t ColumnType) coerceFloat(v any) (any, error) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int8:
		f = float64(n)
	case int16:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint8:
		f = float64(n)
	case uint16:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return nil, err
		}
		f = parsed
	default:
		return nil, fmt.Errorf("cannot convert %T to %s", v, t)
	}
	if t == TypeFloat && !math.IsInf(f, 0) && math.Abs(f) > math.MaxFloat32 {
		return nil, fmt.Errorf("%v out of range for %s", f, t)
	}
	return f, nil
}

// FormatValue renders a value as text for text-typed destinations.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case bool:
		return strconv.FormatBool(x)
	case []byte:
		return string(x)
	default:
		return fmt.Sprint(x)
	}
}

// Column is one named, typed column of a Schema.
type Column struct {
	Name string
	Type ColumnType
}

// Schema is an ordered column declaration.
type Schema []Column

// Names returns the column names in declaration order.
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, c := range s {
		names[i] = c.Name
	}
	return names
}

// Validate checks that the schema is non-empty, names are unique and every
// type tag is supported.
func (s Schema) Validate() error {
	if len(s) == 0 {
		return ErrValidation("schema must declare at least one column")
	}
	seen := make(map[string]struct{}, len(s))
	for _, c := range s {
		if c.Name == "" {
			return ErrValidation("schema column with empty name")
		}
		if _, dup := seen[c.Name]; dup {
			return ErrValidation("duplicate column %q", c.Name)
		}
		seen[c.Name] = struct{}{}
		if !c.Type.Valid() {
			return ErrValidation("unsupported column data type %q for column %q", c.Type, c.Name)
		}
	}
	return nil
}

// Quarantine returns the schema used for rows that failed validation: every
// column as VARCHAR, followed by the error field.
func (s Schema) Quarantine(errorField string) Schema {
	out := make(Schema, 0, len(s)+1)
	for _, c := range s {
		out = append(out, Column{Name: c.Name, Type: TypeVarchar})
	}
	return append(out, Column{Name: errorField, Type: TypeVarchar})
}
