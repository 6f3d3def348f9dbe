// Package collections contains columnar feature collections: geometries, validity intervals and typed columns.
package collections

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/pdok/geoflow/mathhelp"
)

var (
	ErrColumnDoesNotExist   = errors.New("column does not exist")
	ErrColumnAlreadyExists  = errors.New("column already exists")
	ErrSchemaMismatch       = errors.New("collections have different schemas")
	ErrLengthMismatch       = errors.New("lengths of collection parts differ")
	ErrFeatureDataMismatch  = errors.New("feature data types differ")
	ErrFeatureIndexOutRange = errors.New("feature index out of range")
)

type FeatureDataType string

const (
	Int      FeatureDataType = "int"
	Float    FeatureDataType = "float"
	Text     FeatureDataType = "text"
	Category FeatureDataType = "category"
)

func (t FeatureDataType) IsNumeric() bool {
	return t == Int || t == Float
}

func ParseFeatureDataType(s string) (FeatureDataType, error) {
	switch t := FeatureDataType(s); t {
	case Int, Float, Text, Category:
		return t, nil
	}
	return "", fmt.Errorf(`unknown feature data type "%s"`, s)
}

func (t *FeatureDataType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseFeatureDataType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// FeatureData is one column. Only the slice matching Type is used. Nulls is nil when no value is null.
type FeatureData struct {
	Type       FeatureDataType
	Ints       []int64
	Floats     []float64
	Texts      []string
	Categories []uint8
	Nulls      []bool
}

func IntData(values []int64) FeatureData {
	return FeatureData{Type: Int, Ints: values}
}

func FloatData(values []float64) FeatureData {
	return FeatureData{Type: Float, Floats: values}
}

func TextData(values []string) FeatureData {
	return FeatureData{Type: Text, Texts: values}
}

func CategoryData(values []uint8) FeatureData {
	return FeatureData{Type: Category, Categories: values}
}

func NullableIntData(values []*int64) FeatureData {
	d := FeatureData{Type: Int, Ints: make([]int64, len(values)), Nulls: make([]bool, len(values))}
	for i, v := range values {
		if v == nil {
			d.Nulls[i] = true
			continue
		}
		d.Ints[i] = *v
	}
	return d
}

func NullableFloatData(values []*float64) FeatureData {
	d := FeatureData{Type: Float, Floats: make([]float64, len(values)), Nulls: make([]bool, len(values))}
	for i, v := range values {
		if v == nil {
			d.Nulls[i] = true
			continue
		}
		d.Floats[i] = *v
	}
	return d
}

func NullableTextData(values []*string) FeatureData {
	d := FeatureData{Type: Text, Texts: make([]string, len(values)), Nulls: make([]bool, len(values))}
	for i, v := range values {
		if v == nil {
			d.Nulls[i] = true
			continue
		}
		d.Texts[i] = *v
	}
	return d
}

func (d FeatureData) Len() int {
	switch d.Type {
	case Int:
		return len(d.Ints)
	case Float:
		return len(d.Floats)
	case Text:
		return len(d.Texts)
	case Category:
		return len(d.Categories)
	}
	return 0
}

func (d FeatureData) IsNull(i int) bool {
	return d.Nulls != nil && d.Nulls[i]
}

// FloatAt returns the value as float64. Text columns and nulls report false.
func (d FeatureData) FloatAt(i int) (float64, bool) {
	if d.IsNull(i) {
		return 0, false
	}
	switch d.Type {
	case Int:
		return float64(d.Ints[i]), true
	case Float:
		return d.Floats[i], true
	case Category:
		return float64(d.Categories[i]), true
	}
	return 0, false
}

// ValueAt returns the value as int64, float64, string or uint8, or nil for nulls.
func (d FeatureData) ValueAt(i int) any {
	if d.IsNull(i) {
		return nil
	}
	switch d.Type {
	case Int:
		return d.Ints[i]
	case Float:
		return d.Floats[i]
	case Text:
		return d.Texts[i]
	case Category:
		return d.Categories[i]
	}
	return nil
}

func (d FeatureData) Take(indices []int) FeatureData {
	out := FeatureData{Type: d.Type}
	out.Ints = take(d.Ints, indices)
	out.Floats = take(d.Floats, indices)
	out.Texts = take(d.Texts, indices)
	out.Categories = take(d.Categories, indices)
	out.Nulls = take(d.Nulls, indices)
	return out
}

func take[T any](values []T, indices []int) []T {
	if values == nil {
		return nil
	}
	out := make([]T, len(indices))
	for i, idx := range indices {
		out[i] = values[idx]
	}
	return out
}

func (d FeatureData) Append(other FeatureData) (FeatureData, error) {
	if d.Type != other.Type {
		return FeatureData{}, fmt.Errorf("%w: %s and %s", ErrFeatureDataMismatch, d.Type, other.Type)
	}
	out := FeatureData{Type: d.Type}
	switch d.Type {
	case Int:
		out.Ints = concat(d.Ints, other.Ints)
	case Float:
		out.Floats = concat(d.Floats, other.Floats)
	case Text:
		out.Texts = concat(d.Texts, other.Texts)
	case Category:
		out.Categories = concat(d.Categories, other.Categories)
	}
	if d.Nulls != nil || other.Nulls != nil {
		out.Nulls = append(d.nullsOrFalse(), other.nullsOrFalse()...)
	}
	return out, nil
}

func concat[T any](a, b []T) []T {
	out := make([]T, 0, len(a)+len(b))
	return append(append(out, a...), b...)
}

func (d FeatureData) nullsOrFalse() []bool {
	if d.Nulls != nil {
		return slices.Clone(d.Nulls)
	}
	return make([]bool, d.Len())
}

// ByteSize approximates the memory held by the values.
func (d FeatureData) ByteSize() int {
	size := len(d.Ints)*8 + len(d.Floats)*8 + len(d.Categories)
	for _, null := range d.Nulls {
		size += mathhelp.Bool2int(null)
	}
	for _, s := range d.Texts {
		size += len(s) + stringHeaderSize
	}
	return size
}
