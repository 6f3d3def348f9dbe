package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/perimeterx/marshmallow"
)

var registry = struct {
	sync.RWMutex
	raster map[string]func() RasterOperator
	vector map[string]func() VectorOperator
	plot   map[string]func() PlotOperator
}{
	raster: make(map[string]func() RasterOperator),
	vector: make(map[string]func() VectorOperator),
	plot:   make(map[string]func() PlotOperator),
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// RegisterRasterOperator makes a raster operator decodable by name. It panics on duplicates, like
// database/sql.Register, since it runs from init functions.
func RegisterRasterOperator(name string, factory func() RasterOperator) {
	registry.Lock()
	defer registry.Unlock()
	if _, exists := registry.raster[name]; exists {
		panic(fmt.Errorf("%w: raster %s", ErrOperatorAlreadyRegistered, name))
	}
	registry.raster[name] = factory
}

func RegisterVectorOperator(name string, factory func() VectorOperator) {
	registry.Lock()
	defer registry.Unlock()
	if _, exists := registry.vector[name]; exists {
		panic(fmt.Errorf("%w: vector %s", ErrOperatorAlreadyRegistered, name))
	}
	registry.vector[name] = factory
}

func RegisterPlotOperator(name string, factory func() PlotOperator) {
	registry.Lock()
	defer registry.Unlock()
	if _, exists := registry.plot[name]; exists {
		panic(fmt.Errorf("%w: plot %s", ErrOperatorAlreadyRegistered, name))
	}
	registry.plot[name] = factory
}

// RegisteredOperators lists the names per kind, sorted.
func RegisteredOperators() map[string][]string {
	registry.RLock()
	defer registry.RUnlock()
	return map[string][]string{
		"Raster": sortedKeys(registry.raster),
		"Vector": sortedKeys(registry.vector),
		"Plot":   sortedKeys(registry.plot),
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// envelopeProbe lists the known keys of an operator. Anything else is rejected.
type envelopeProbe struct {
	Type          string                 `json:"type"`
	Params        map[string]interface{} `json:"params"`
	RasterSources []interface{}          `json:"rasterSources"`
	VectorSources []interface{}          `json:"vectorSources"`
}

type envelope struct {
	Type          string            `json:"type"`
	Params        json.RawMessage   `json:"params,omitempty"`
	RasterSources []json.RawMessage `json:"rasterSources,omitempty"`
	VectorSources []json.RawMessage `json:"vectorSources,omitempty"`
}

func decodeEnvelope(data []byte) (envelope, error) {
	var probe envelopeProbe
	unknown, err := marshmallow.Unmarshal(data, &probe, marshmallow.WithExcludeKnownFieldsFromMap(true))
	if err != nil {
		return envelope{}, InvalidOperatorSpecError{Reason: err.Error()}
	}
	if len(unknown) > 0 {
		return envelope{}, InvalidOperatorSpecError{Reason: fmt.Sprintf("unknown keys %s", strings.Join(sortedKeys(unknown), ", "))}
	}
	if probe.Type == "" {
		return envelope{}, InvalidOperatorSpecError{Reason: `missing key "type"`}
	}
	var env envelope
	if err = json.Unmarshal(data, &env); err != nil {
		return envelope{}, InvalidOperatorSpecError{Reason: err.Error()}
	}
	return env, nil
}

// decodeInto fills the parameters and sources of op from env.
func decodeInto(op any, env envelope) error {
	d, ok := op.(declarative)
	if !ok {
		return InvalidOperatorSpecError{Reason: fmt.Sprintf("%s does not embed engine.Operator", env.Type)}
	}
	params := d.operatorParams()
	if err := defaults.Set(params); err != nil {
		return err
	}
	if len(env.Params) > 0 {
		dec := json.NewDecoder(bytes.NewReader(env.Params))
		dec.DisallowUnknownFields()
		if err := dec.Decode(params); err != nil {
			return InvalidOperatorSpecError{Reason: fmt.Sprintf("%s params: %v", env.Type, err)}
		}
	}
	if err := validate.Struct(params); err != nil {
		if _, invalid := err.(*validator.InvalidValidationError); !invalid {
			return InvalidOperatorSpecError{Reason: fmt.Sprintf("%s params: %v", env.Type, err)}
		}
	}

	rasters := make([]RasterOperator, 0, len(env.RasterSources))
	for _, raw := range env.RasterSources {
		source, err := DecodeRasterOperator(raw)
		if err != nil {
			return err
		}
		rasters = append(rasters, source)
	}
	vectors := make([]VectorOperator, 0, len(env.VectorSources))
	for _, raw := range env.VectorSources {
		source, err := DecodeVectorOperator(raw)
		if err != nil {
			return err
		}
		vectors = append(vectors, source)
	}
	d.setSources(rasters, vectors)
	return nil
}

func DecodeRasterOperator(data []byte) (RasterOperator, error) {
	env, err := decodeEnvelope(data)
	if err != nil {
		return nil, err
	}
	registry.RLock()
	factory, ok := registry.raster[env.Type]
	registry.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: raster operator %s", ErrUnknownOperator, env.Type)
	}
	op := factory()
	return op, decodeInto(op, env)
}

func DecodeVectorOperator(data []byte) (VectorOperator, error) {
	env, err := decodeEnvelope(data)
	if err != nil {
		return nil, err
	}
	registry.RLock()
	factory, ok := registry.vector[env.Type]
	registry.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vector operator %s", ErrUnknownOperator, env.Type)
	}
	op := factory()
	return op, decodeInto(op, env)
}

func DecodePlotOperator(data []byte) (PlotOperator, error) {
	env, err := decodeEnvelope(data)
	if err != nil {
		return nil, err
	}
	registry.RLock()
	factory, ok := registry.plot[env.Type]
	registry.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: plot operator %s", ErrUnknownOperator, env.Type)
	}
	op := factory()
	return op, decodeInto(op, env)
}

type namedOperator interface {
	TypeName() string
}

// EncodeOperator produces the envelope DecodeRasterOperator and friends accept.
func EncodeOperator(op namedOperator) ([]byte, error) {
	d, ok := op.(declarative)
	if !ok {
		return nil, InvalidOperatorSpecError{Reason: fmt.Sprintf("%s does not embed engine.Operator", op.TypeName())}
	}
	params, err := json.Marshal(d.operatorParams())
	if err != nil {
		return nil, err
	}
	env := envelope{Type: op.TypeName(), Params: params}
	rasters, vectors := d.sources()
	for _, source := range rasters {
		raw, err := EncodeOperator(source)
		if err != nil {
			return nil, err
		}
		env.RasterSources = append(env.RasterSources, raw)
	}
	for _, source := range vectors {
		raw, err := EncodeOperator(source)
		if err != nil {
			return nil, err
		}
		env.VectorSources = append(env.VectorSources, raw)
	}
	return json.Marshal(env)
}

type OperatorKind string

const (
	RasterKind OperatorKind = "Raster"
	VectorKind OperatorKind = "Vector"
	PlotKind   OperatorKind = "Plot"
)

// TypedOperator is a workflow root: {"type": "Raster"|"Vector"|"Plot", "operator": {...}}.
// Exactly one of the operator fields is set.
type TypedOperator struct {
	Kind   OperatorKind
	Raster RasterOperator
	Vector VectorOperator
	Plot   PlotOperator
}

type typedOperatorJSON struct {
	Type     OperatorKind    `json:"type"`
	Operator json.RawMessage `json:"operator"`
}

func (t *TypedOperator) UnmarshalJSON(data []byte) error {
	var raw typedOperatorJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var err error
	*t = TypedOperator{Kind: raw.Type}
	switch raw.Type {
	case RasterKind:
		t.Raster, err = DecodeRasterOperator(raw.Operator)
	case VectorKind:
		t.Vector, err = DecodeVectorOperator(raw.Operator)
	case PlotKind:
		t.Plot, err = DecodePlotOperator(raw.Operator)
	default:
		err = InvalidOperatorSpecError{Reason: fmt.Sprintf(`unknown workflow type "%s"`, raw.Type)}
	}
	return err
}

func (t TypedOperator) MarshalJSON() ([]byte, error) {
	var op namedOperator
	switch t.Kind {
	case RasterKind:
		op = t.Raster
	case VectorKind:
		op = t.Vector
	case PlotKind:
		op = t.Plot
	}
	if op == nil {
		return nil, InvalidOperatorSpecError{Reason: fmt.Sprintf("no %s operator", t.Kind)}
	}
	raw, err := EncodeOperator(op)
	if err != nil {
		return nil, err
	}
	return json.Marshal(typedOperatorJSON{Type: t.Kind, Operator: raw})
}
