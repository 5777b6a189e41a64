package ovsdb

import (
	"encoding/json"
	"math"
	"strconv"

	"github.com/pkg/errors"
)

// Kind identifies which of the five OVSDB atomic types a BaseType/Value
// carries. There is no "set" or "map" Kind: those multiplicities live in
// ColumnType, never in BaseType itself (RFC 7047 §3.2).
type Kind int

const (
	KindInteger Kind = iota
	KindReal
	KindBoolean
	KindString
	KindUUID
)

func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindReal:
		return "real"
	case KindBoolean:
		return "boolean"
	case KindString:
		return "string"
	case KindUUID:
		return "uuid"
	default:
		return "unknown"
	}
}

// RefType names the reference semantics of a Uuid BaseType with a RefTable.
type RefType string

const (
	RefStrong RefType = "strong"
	RefWeak   RefType = "weak"
)

// Value is a single decoded atomic value. Exactly one of the typed fields
// is meaningful, selected by Kind. Value is comparable so it can be used as
// a map key when building OrderedMap pairs into a lookup table.
type Value struct {
	Kind    Kind
	Int     int64
	Real    float64
	Bool    bool
	Str     string
	UUIDVal UUID
}

func IntegerValue(v int64) Value  { return Value{Kind: KindInteger, Int: v} }
func RealValue(v float64) Value   { return Value{Kind: KindReal, Real: v} }
func BooleanValue(v bool) Value   { return Value{Kind: KindBoolean, Bool: v} }
func StringValue(v string) Value  { return Value{Kind: KindString, Str: v} }
func UUIDValue(v UUID) Value      { return Value{Kind: KindUUID, UUIDVal: v} }

// Equal reports whether two Values represent the same OVSDB atom. Used by
// the round-trip property tests (spec §8, property 2).
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindInteger:
		return v.Int == o.Int
	case KindReal:
		return v.Real == o.Real
	case KindBoolean:
		return v.Bool == o.Bool
	case KindString:
		return v.Str == o.Str
	case KindUUID:
		return v.UUIDVal == o.UUIDVal
	default:
		return false
	}
}

// BaseType is a tagged variant over the five OVSDB atomic types, each
// carrying its own optional constraints (RFC 7047 §3.2). It replaces the
// "try each subclass" dispatch idiom the original Java implementation used
// with a single parse entry point (ColumnType.fromJson) that probes the
// JSON shape once and constructs the matching variant directly.
type BaseType interface {
	Kind() Kind
	// ParseValue decodes a bare JSON scalar (never a ["set",...] or
	// ["map",...] wrapper - those are handled by ColumnType) into a Value
	// of this BaseType's Kind, or a TypeMismatch error.
	ParseValue(raw json.RawMessage) (Value, error)
	// Validate checks range/enum/length constraints against an
	// already-decoded Value of this BaseType's Kind.
	Validate(v Value) error
	// MarshalValue produces the JSON-ready representation of v (a bare
	// scalar, or a ["uuid",...]/["named-uuid",...] pair for KindUUID).
	MarshalValue(v Value) (interface{}, error)
}

const unlimited = math.MaxInt64

// IntegerType is the BaseType for OVSDB "integer" columns.
type IntegerType struct {
	Min, Max int64 // inclusive; Min defaults to MinInt64, Max to MaxInt64
	Enum     []int64
	hasRange bool
}

func (t IntegerType) Kind() Kind { return KindInteger }

func (t IntegerType) ParseValue(raw json.RawMessage) (Value, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return Value{}, NewError(TypeMismatch, errors.Wrapf(err, "expected integer, got %s", raw))
	}
	if f != math.Trunc(f) {
		return Value{}, Errorf(TypeMismatch, "expected integer, got non-integral number %v", f)
	}
	return IntegerValue(int64(f)), nil
}

func (t IntegerType) Validate(v Value) error {
	if v.Kind != KindInteger {
		return Errorf(TypeMismatch, "expected integer value, got %s", v.Kind)
	}
	if len(t.Enum) > 0 {
		for _, e := range t.Enum {
			if e == v.Int {
				return nil
			}
		}
		return Errorf(InvalidValue, "%d is not one of the permitted enum values %v", v.Int, t.Enum)
	}
	if t.hasRange && (v.Int < t.Min || v.Int > t.Max) {
		return Errorf(InvalidValue, "%d is not in the range [%d,%d]", v.Int, t.Min, t.Max)
	}
	return nil
}

func (t IntegerType) MarshalValue(v Value) (interface{}, error) {
	if v.Kind != KindInteger {
		return nil, Errorf(TypeMismatch, "expected integer value, got %s", v.Kind)
	}
	return v.Int, nil
}

// RealType is the BaseType for OVSDB "real" columns.
type RealType struct {
	Min, Max float64
	Enum     []float64
	hasRange bool
}

func (t RealType) Kind() Kind { return KindReal }

func (t RealType) ParseValue(raw json.RawMessage) (Value, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return Value{}, NewError(TypeMismatch, errors.Wrapf(err, "expected real, got %s", raw))
	}
	return RealValue(f), nil
}

func (t RealType) Validate(v Value) error {
	if v.Kind != KindReal {
		return Errorf(TypeMismatch, "expected real value, got %s", v.Kind)
	}
	if len(t.Enum) > 0 {
		for _, e := range t.Enum {
			if e == v.Real {
				return nil
			}
		}
		return Errorf(InvalidValue, "%v is not one of the permitted enum values %v", v.Real, t.Enum)
	}
	if t.hasRange && (v.Real < t.Min || v.Real > t.Max) {
		return Errorf(InvalidValue, "%v is not in the range [%v,%v]", v.Real, t.Min, t.Max)
	}
	return nil
}

func (t RealType) MarshalValue(v Value) (interface{}, error) {
	if v.Kind != KindReal {
		return nil, Errorf(TypeMismatch, "expected real value, got %s", v.Kind)
	}
	return v.Real, nil
}

// BooleanType is the BaseType for OVSDB "boolean" columns. It has no
// constraints beyond its Kind.
type BooleanType struct{}

func (t BooleanType) Kind() Kind { return KindBoolean }

func (t BooleanType) ParseValue(raw json.RawMessage) (Value, error) {
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return Value{}, NewError(TypeMismatch, errors.Wrapf(err, "expected boolean, got %s", raw))
	}
	return BooleanValue(b), nil
}

func (t BooleanType) Validate(v Value) error {
	if v.Kind != KindBoolean {
		return Errorf(TypeMismatch, "expected boolean value, got %s", v.Kind)
	}
	return nil
}

func (t BooleanType) MarshalValue(v Value) (interface{}, error) {
	if v.Kind != KindBoolean {
		return nil, Errorf(TypeMismatch, "expected boolean value, got %s", v.Kind)
	}
	return v.Bool, nil
}

// StringType is the BaseType for OVSDB "string" columns.
type StringType struct {
	MinLength, MaxLength int64
	Enum                 []string
	hasLength            bool
}

func (t StringType) Kind() Kind { return KindString }

func (t StringType) ParseValue(raw json.RawMessage) (Value, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return Value{}, NewError(TypeMismatch, errors.Wrapf(err, "expected string, got %s", raw))
	}
	return StringValue(s), nil
}

func (t StringType) Validate(v Value) error {
	if v.Kind != KindString {
		return Errorf(TypeMismatch, "expected string value, got %s", v.Kind)
	}
	if len(t.Enum) > 0 {
		for _, e := range t.Enum {
			if e == v.Str {
				return nil
			}
		}
		return Errorf(InvalidValue, "%q is not one of the permitted enum values %v", v.Str, t.Enum)
	}
	if t.hasLength {
		l := int64(len(v.Str))
		if l < t.MinLength || l > t.MaxLength {
			return Errorf(InvalidValue, "string of length %d is not in the range [%d,%d]", l, t.MinLength, t.MaxLength)
		}
	}
	return nil
}

func (t StringType) MarshalValue(v Value) (interface{}, error) {
	if v.Kind != KindString {
		return nil, Errorf(TypeMismatch, "expected string value, got %s", v.Kind)
	}
	return v.Str, nil
}

// UUIDType is the BaseType for OVSDB "uuid" columns, optionally
// constrained to reference rows of another table.
type UUIDType struct {
	RefTable string
	RefType  RefType
}

func (t UUIDType) Kind() Kind { return KindUUID }

func (t UUIDType) ParseValue(raw json.RawMessage) (Value, error) {
	u, err := parseUUIDNotation(raw)
	if err != nil {
		return Value{}, NewError(TypeMismatch, err)
	}
	return UUIDValue(u), nil
}

func (t UUIDType) Validate(v Value) error {
	if v.Kind != KindUUID {
		return Errorf(TypeMismatch, "expected uuid value, got %s", v.Kind)
	}
	return nil
}

func (t UUIDType) MarshalValue(v Value) (interface{}, error) {
	if v.Kind != KindUUID {
		return nil, Errorf(TypeMismatch, "expected uuid value, got %s", v.Kind)
	}
	return v.UUIDVal.MarshalNotation(), nil
}

// baseTypeJSON mirrors the object shape BaseType.fromJson(JSON, fieldName)
// accepts when the field is not a bare string (RFC 7047 §3.2).
type baseTypeJSON struct {
	Type        string           `json:"type"`
	MinInteger  *json.Number     `json:"minInteger,omitempty"`
	MaxInteger  *json.Number     `json:"maxInteger,omitempty"`
	MinReal     *float64         `json:"minReal,omitempty"`
	MaxReal     *float64         `json:"maxReal,omitempty"`
	MinLength   *int64           `json:"minLength,omitempty"`
	MaxLength   *int64           `json:"maxLength,omitempty"`
	Enum        *json.RawMessage `json:"enum,omitempty"`
	RefTable    string           `json:"refTable,omitempty"`
	RefType     RefType          `json:"refType,omitempty"`
}

// parseBaseType implements BaseType.fromJson(JSON, fieldName) from spec
// §4.1: raw is the value of the schema's "key" or "value" property (field
// names it purely for error messages); it may be a bare string naming a
// scalar type, an object carrying "type" plus constraints, or absent
// (nil raw), in which case parseBaseType returns (nil, nil).
func parseBaseType(raw json.RawMessage, field string) (BaseType, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	trimmed := bytesTrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var name string
		if err := json.Unmarshal(raw, &name); err != nil {
			return nil, NewError(Parsing, errors.Wrapf(err, "%s: malformed scalar type name", field))
		}
		return scalarBaseType(name, nil)
	}
	var obj baseTypeJSON
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, NewError(Parsing, errors.Wrapf(err, "%s: malformed base type object", field))
	}
	if obj.Type == "" {
		return nil, Errorf(UnknownColumnType, "%s: base type object missing \"type\"", field)
	}
	return scalarBaseType(obj.Type, &obj)
}

func scalarBaseType(name string, obj *baseTypeJSON) (BaseType, error) {
	switch name {
	case "integer":
		it := IntegerType{Min: math.MinInt64, Max: math.MaxInt64}
		if obj != nil {
			if obj.MinInteger != nil {
				v, err := obj.MinInteger.Int64()
				if err != nil {
					return nil, Errorf(Parsing, "minInteger: %v", err)
				}
				it.Min, it.hasRange = v, true
			}
			if obj.MaxInteger != nil {
				v, err := obj.MaxInteger.Int64()
				if err != nil {
					return nil, Errorf(Parsing, "maxInteger: %v", err)
				}
				it.Max, it.hasRange = v, true
			}
			if obj.Enum != nil {
				enum, err := decodeIntEnum(*obj.Enum)
				if err != nil {
					return nil, err
				}
				it.Enum = enum
			}
		}
		return it, nil
	case "real":
		rt := RealType{Min: -math.MaxFloat64, Max: math.MaxFloat64}
		if obj != nil {
			if obj.MinReal != nil {
				rt.Min, rt.hasRange = *obj.MinReal, true
			}
			if obj.MaxReal != nil {
				rt.Max, rt.hasRange = *obj.MaxReal, true
			}
			if obj.Enum != nil {
				enum, err := decodeRealEnum(*obj.Enum)
				if err != nil {
					return nil, err
				}
				rt.Enum = enum
			}
		}
		return rt, nil
	case "boolean":
		return BooleanType{}, nil
	case "string":
		st := StringType{MinLength: 0, MaxLength: unlimited}
		if obj != nil {
			if obj.MinLength != nil {
				st.MinLength, st.hasLength = *obj.MinLength, true
			}
			if obj.MaxLength != nil {
				st.MaxLength, st.hasLength = *obj.MaxLength, true
			}
			if obj.Enum != nil {
				enum, err := decodeStringEnum(*obj.Enum)
				if err != nil {
					return nil, err
				}
				st.Enum = enum
			}
		}
		return st, nil
	case "uuid":
		ut := UUIDType{}
		if obj != nil {
			ut.RefTable = obj.RefTable
			ut.RefType = obj.RefType
			if ut.RefTable != "" && ut.RefType == "" {
				ut.RefType = RefStrong
			}
		}
		return ut, nil
	default:
		return nil, Errorf(UnknownColumnType, "unrecognized atomic type %q", name)
	}
}

// enum values may be a bare scalar or ["set", [...]] per RFC 7047's atom
// encoding rules; decode via the generic set decoder and coerce.
func decodeIntEnum(raw json.RawMessage) ([]int64, error) {
	vals, err := decodeEnumValues(raw)
	if err != nil {
		return nil, err
	}
	out := make([]int64, 0, len(vals))
	for _, v := range vals {
		var f float64
		if err := json.Unmarshal(v, &f); err != nil {
			return nil, Errorf(Parsing, "enum: expected integer, got %s", v)
		}
		out = append(out, int64(f))
	}
	return out, nil
}

func decodeRealEnum(raw json.RawMessage) ([]float64, error) {
	vals, err := decodeEnumValues(raw)
	if err != nil {
		return nil, err
	}
	out := make([]float64, 0, len(vals))
	for _, v := range vals {
		var f float64
		if err := json.Unmarshal(v, &f); err != nil {
			return nil, Errorf(Parsing, "enum: expected real, got %s", v)
		}
		out = append(out, f)
	}
	return out, nil
}

func decodeStringEnum(raw json.RawMessage) ([]string, error) {
	vals, err := decodeEnumValues(raw)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return nil, Errorf(Parsing, "enum: expected string, got %s", v)
		}
		out = append(out, s)
	}
	return out, nil
}

// decodeEnumValues accepts either a bare scalar or the ["set",[v...]]
// wrapper, returning the raw element list either way.
func decodeEnumValues(raw json.RawMessage) ([]json.RawMessage, error) {
	var probe []json.RawMessage
	if err := json.Unmarshal(raw, &probe); err == nil && len(probe) == 2 {
		var tag string
		if err := json.Unmarshal(probe[0], &tag); err == nil && tag == "set" {
			var elems []json.RawMessage
			if err := json.Unmarshal(probe[1], &elems); err != nil {
				return nil, NewError(Parsing, err)
			}
			return elems, nil
		}
	}
	return []json.RawMessage{raw}, nil
}

func bytesTrimSpace(b []byte) []byte {
	i, j := 0, len(b)
	for i < j && isJSONSpace(b[i]) {
		i++
	}
	for j > i && isJSONSpace(b[j-1]) {
		j--
	}
	return b[i:j]
}

func isJSONSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// parseMax reconciles the AtomicColumnType/KeyValuedColumnType "isNumber
// vs isLong" divergence noted in spec §9's Open Questions: both variants
// now go through this one helper, accepting "unlimited" or any JSON number
// representable as int64.
func parseMax(raw json.RawMessage) (int64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "unlimited" {
			return unlimited, nil
		}
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, Errorf(Parsing, "max: %q is neither \"unlimited\" nor an integer", s)
		}
		return v, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, NewError(Parsing, errors.Wrap(err, "max: expected integer or \"unlimited\""))
	}
	return int64(f), nil
}
