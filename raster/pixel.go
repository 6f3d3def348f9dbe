// Package raster contains the gridded data model: pixel types, grids, geo transforms,
// tiling specifications and tiles.
package raster

import (
	"encoding/json"
	"fmt"
	"math"

	"golang.org/x/exp/constraints"
)

// Pixel is the set of types raster cells can have.
type Pixel interface {
	constraints.Integer | constraints.Float
}

type DataType uint8

const (
	U8 DataType = iota + 1
	U16
	U32
	U64
	I8
	I16
	I32
	I64
	F32
	F64
)

var dataTypeNames = map[DataType]string{
	U8: "U8", U16: "U16", U32: "U32", U64: "U64",
	I8: "I8", I16: "I16", I32: "I32", I64: "I64",
	F32: "F32", F64: "F64",
}

// AllDataTypes lists every supported pixel type.
func AllDataTypes() []DataType {
	return []DataType{U8, U16, U32, U64, I8, I16, I32, I64, F32, F64}
}

func (d DataType) String() string {
	if name, ok := dataTypeNames[d]; ok {
		return name
	}
	return fmt.Sprintf("DataType(%d)", uint8(d))
}

func (d DataType) IsIntegral() bool {
	return d != F32 && d != F64
}

// Range returns the smallest and largest value of the type as float64.
func (d DataType) Range() (float64, float64) {
	switch d {
	case U8:
		return 0, math.MaxUint8
	case U16:
		return 0, math.MaxUint16
	case U32:
		return 0, math.MaxUint32
	case U64:
		return 0, math.MaxUint64
	case I8:
		return math.MinInt8, math.MaxInt8
	case I16:
		return math.MinInt16, math.MaxInt16
	case I32:
		return math.MinInt32, math.MaxInt32
	case I64:
		return math.MinInt64, math.MaxInt64
	case F32:
		return -math.MaxFloat32, math.MaxFloat32
	default:
		return -math.MaxFloat64, math.MaxFloat64
	}
}

func ParseDataType(s string) (DataType, error) {
	for d, name := range dataTypeNames {
		if name == s {
			return d, nil
		}
	}
	return 0, fmt.Errorf(`unknown raster data type "%s"`, s)
}

func (d DataType) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *DataType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDataType(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// DataTypeOf returns the DataType of T. Platform dependent integers (int, uint, uintptr) are not supported.
func DataTypeOf[T Pixel]() (DataType, error) {
	var zero T
	switch any(zero).(type) {
	case uint8:
		return U8, nil
	case uint16:
		return U16, nil
	case uint32:
		return U32, nil
	case uint64:
		return U64, nil
	case int8:
		return I8, nil
	case int16:
		return I16, nil
	case int32:
		return I32, nil
	case int64:
		return I64, nil
	case float32:
		return F32, nil
	case float64:
		return F64, nil
	}
	return 0, fmt.Errorf("unsupported pixel type %T", zero)
}

// MustDataTypeOf panics for unsupported pixel types.
func MustDataTypeOf[T Pixel]() DataType {
	d, err := DataTypeOf[T]()
	if err != nil {
		panic(err)
	}
	return d
}

// FromFloat64 converts v to T. Integer targets truncate toward zero and clamp to the range of T, NaN becomes 0.
func FromFloat64[T Pixel](v float64) T {
	dataType, err := DataTypeOf[T]()
	if err != nil || !dataType.IsIntegral() {
		return T(v)
	}
	if math.IsNaN(v) {
		return 0
	}
	lo, hi := dataType.Range()
	switch {
	case v <= lo:
		return T(lo)
	case v >= hi:
		// float64(MaxUint64) and float64(MaxInt64) round up, so the max needs to be built from integers
		return maxOf[T]()
	}
	return T(math.Trunc(v))
}

func AsFloat64[T Pixel](v T) float64 {
	return float64(v)
}

func maxOf[T Pixel]() T {
	var zero T
	switch any(zero).(type) {
	case uint64:
		var m uint64 = math.MaxUint64
		return T(m)
	case int64:
		var m int64 = math.MaxInt64
		return T(m)
	}
	_, hi := MustDataTypeOf[T]().Range()
	return T(hi)
}
