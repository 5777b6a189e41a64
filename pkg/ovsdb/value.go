package ovsdb

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// TypedValue is the decoded form of a column's contents: a Scalar, an
// OrderedSet, or an OrderedMap, matching spec §4.2's three shapes.
type TypedValue interface {
	// MarshalWire produces the JSON-ready representation (bare scalar,
	// ["set",[...]], or ["map",[[k,v]...]]).
	MarshalWire() (interface{}, error)
}

// Scalar is a column decoded as a single atomic value (min==max==1, no
// keyType).
type Scalar struct {
	Value Value
}

func (s Scalar) MarshalWire() (interface{}, error) {
	return marshalAtom(s.Value)
}

// OrderedSet is a column decoded as a multi-valued atomic column. Order is
// the order elements appeared on the wire; OVSDB sets have no duplicate
// elements but this package does not itself enforce uniqueness (the server
// is the source of truth for that invariant).
type OrderedSet struct {
	Values []Value
}

func (s OrderedSet) MarshalWire() (interface{}, error) {
	elems := make([]interface{}, 0, len(s.Values))
	for _, v := range s.Values {
		w, err := marshalAtom(v)
		if err != nil {
			return nil, err
		}
		elems = append(elems, w)
	}
	return []interface{}{"set", elems}, nil
}

// MapPair is one key/value entry of an OrderedMap.
type MapPair struct {
	Key   Value
	Value Value
}

// OrderedMap is a column decoded as a key-valued column.
type OrderedMap struct {
	Pairs []MapPair
}

func (m OrderedMap) MarshalWire() (interface{}, error) {
	pairs := make([]interface{}, 0, len(m.Pairs))
	for _, p := range m.Pairs {
		k, err := marshalAtom(p.Key)
		if err != nil {
			return nil, err
		}
		v, err := marshalAtom(p.Value)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, []interface{}{k, v})
	}
	return []interface{}{"map", pairs}, nil
}

func marshalAtom(v Value) (interface{}, error) {
	switch v.Kind {
	case KindInteger:
		return v.Int, nil
	case KindReal:
		return v.Real, nil
	case KindBoolean:
		return v.Bool, nil
	case KindString:
		return v.Str, nil
	case KindUUID:
		return v.UUIDVal.MarshalNotation(), nil
	default:
		return nil, Errorf(TypeMismatch, "value has no recognized Kind")
	}
}

func parseAtom(kind Kind, raw json.RawMessage) (Value, error) {
	switch kind {
	case KindInteger:
		return IntegerType{}.ParseValue(raw)
	case KindReal:
		return RealType{}.ParseValue(raw)
	case KindBoolean:
		return BooleanType{}.ParseValue(raw)
	case KindString:
		return StringType{}.ParseValue(raw)
	case KindUUID:
		return UUIDType{}.ParseValue(raw)
	default:
		return Value{}, Errorf(TypeMismatch, "unrecognized base kind")
	}
}

// ColumnType is (valueType, min, max) with an optional keyType, per spec
// §3. Key/Value name the JSON "key"/"value" schema properties directly
// (RFC 7047 §3.2); IsMap reports whether Value is present.
type ColumnType struct {
	Key   BaseType
	Value BaseType // nil unless this is a key-valued (map) column
	Min   int64
	Max   int64
}

// IsMap reports whether this column is key-valued.
func (c ColumnType) IsMap() bool { return c.Value != nil }

// IsMultiValued reports set/map multiplicity per spec's invariant
// isMultiValued ⇔ min ≠ max.
func (c ColumnType) IsMultiValued() bool { return c.Min != c.Max }

// ValueType is the BaseType that column values decode to: for atomic/set
// columns this is Key (the JSON "key" field is the element type); for map
// columns this is Value (the JSON "value" field is the map's value type).
func (c ColumnType) ValueType() BaseType {
	if c.IsMap() {
		return c.Value
	}
	return c.Key
}

// KeyType is the BaseType of map keys, or nil for non-map columns.
func (c ColumnType) KeyType() BaseType {
	if c.IsMap() {
		return c.Key
	}
	return nil
}

// columnTypeJSON mirrors the raw {"key":..., "value":..., "min":...,
// "max":...} schema shape (RFC 7047 §3.2), or a bare string for the
// shorthand atomic-with-defaults form.
type columnTypeJSON struct {
	Key   json.RawMessage `json:"key"`
	Value json.RawMessage `json:"value,omitempty"`
	Min   *json.RawMessage `json:"min,omitempty"`
	Max   *json.RawMessage `json:"max,omitempty"`
}

// ColumnTypeFromJSON implements ColumnType.fromJson from spec §4.1: try
// atomic then key-valued. A bare string or an object without a "value"
// property is atomic; an object with both "key" and "value" is key-valued.
func ColumnTypeFromJSON(raw json.RawMessage) (ColumnType, error) {
	trimmed := bytesTrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var name string
		if err := json.Unmarshal(raw, &name); err != nil {
			return ColumnType{}, NewError(Parsing, err)
		}
		base, err := scalarBaseType(name, nil)
		if err != nil {
			return ColumnType{}, err
		}
		return ColumnType{Key: base, Min: 1, Max: 1}, nil
	}

	var obj columnTypeJSON
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ColumnType{}, NewError(Parsing, err)
	}
	if len(obj.Key) == 0 {
		return ColumnType{}, Errorf(UnknownColumnType, "column type object has no \"key\" property")
	}

	min, max, err := parseMinMax(obj.Min, obj.Max)
	if err != nil {
		return ColumnType{}, err
	}

	keyBase, err := parseBaseType(obj.Key, "key")
	if err != nil {
		return ColumnType{}, err
	}
	if keyBase == nil {
		return ColumnType{}, Errorf(UnknownColumnType, "\"key\" did not resolve to a base type")
	}

	if len(obj.Value) == 0 {
		// Atomic: no "value" property.
		return ColumnType{Key: keyBase, Min: min, Max: max}, nil
	}

	// Key-valued: both "key" and "value" present.
	valBase, err := parseBaseType(obj.Value, "value")
	if err != nil {
		return ColumnType{}, err
	}
	if valBase == nil {
		return ColumnType{}, Errorf(UnknownColumnType, "\"value\" did not resolve to a base type")
	}
	return ColumnType{Key: keyBase, Value: valBase, Min: min, Max: max}, nil
}

// parseMinMax applies RFC 7047's multiplicity defaults and post-default
// validation shared by the atomic and key-valued shapes: min defaults to
// 1 and must end up 0 or 1; max defaults to 1 (or "unlimited"->MaxInt64)
// and must be >= max(min,1).
func parseMinMax(minRaw, maxRaw *json.RawMessage) (min, max int64, err error) {
	min, max = 1, 1
	if minRaw != nil {
		if err := json.Unmarshal(*minRaw, &min); err != nil {
			return 0, 0, NewError(Parsing, errors.Wrap(err, "min"))
		}
	}
	if maxRaw != nil {
		max, err = parseMax(*maxRaw)
		if err != nil {
			return 0, 0, err
		}
	}
	if min != 0 && min != 1 {
		return 0, 0, Errorf(InvalidValue, "min must be 0 or 1, got %d", min)
	}
	if max < 1 {
		return 0, 0, Errorf(InvalidValue, "max must be >= 1, got %d", max)
	}
	if max < min {
		return 0, 0, Errorf(InvalidValue, "max (%d) must be >= min (%d)", max, min)
	}
	return min, max, nil
}

// Validate checks every element of v against the column's ValueType (and,
// for maps, KeyType), per spec §4.1's "ColumnType.validate delegates to
// valueType.validate for each element."
func (c ColumnType) Validate(v TypedValue) error {
	switch tv := v.(type) {
	case Scalar:
		return c.ValueType().Validate(tv.Value)
	case OrderedSet:
		for _, e := range tv.Values {
			if err := c.ValueType().Validate(e); err != nil {
				return err
			}
		}
		if int64(len(tv.Values)) < c.Min || int64(len(tv.Values)) > c.Max {
			return Errorf(InvalidValue, "set has %d elements, column allows [%d,%d]", len(tv.Values), c.Min, c.Max)
		}
		return nil
	case OrderedMap:
		if !c.IsMap() {
			return Errorf(TypeMismatch, "column is not key-valued but got a map")
		}
		for _, p := range tv.Pairs {
			if err := c.KeyType().Validate(p.Key); err != nil {
				return err
			}
			if err := c.ValueType().Validate(p.Value); err != nil {
				return err
			}
		}
		if int64(len(tv.Pairs)) < c.Min || int64(len(tv.Pairs)) > c.Max {
			return Errorf(InvalidValue, "map has %d pairs, column allows [%d,%d]", len(tv.Pairs), c.Min, c.Max)
		}
		return nil
	default:
		return Errorf(TypeMismatch, "unrecognized TypedValue implementation")
	}
}

// ValueFromJSON implements the decode table from spec §4.2.
func (c ColumnType) ValueFromJSON(raw json.RawMessage) (TypedValue, error) {
	if c.IsMap() {
		return c.mapValueFromJSON(raw)
	}
	if c.Min == 1 && c.Max == 1 {
		v, err := c.ValueType().ParseValue(raw)
		if err != nil {
			return nil, err
		}
		return Scalar{Value: v}, nil
	}
	return c.setValueFromJSON(raw)
}

func (c ColumnType) setValueFromJSON(raw json.RawMessage) (TypedValue, error) {
	var probe []json.RawMessage
	if err := json.Unmarshal(raw, &probe); err == nil && len(probe) == 2 {
		var tag string
		if json.Unmarshal(probe[0], &tag) == nil && tag == "set" {
			var elems []json.RawMessage
			if err := json.Unmarshal(probe[1], &elems); err != nil {
				return nil, NewError(MalformedValue, errors.Wrapf(err, "malformed set body: %s", raw))
			}
			values := make([]Value, 0, len(elems))
			for _, e := range elems {
				v, err := c.ValueType().ParseValue(e)
				if err != nil {
					return nil, err
				}
				values = append(values, v)
			}
			return OrderedSet{Values: values}, nil
		}
	}
	// Legacy shorthand: a single scalar JSON value stands for a
	// one-element set.
	v, err := c.ValueType().ParseValue(raw)
	if err != nil {
		return nil, NewError(MalformedValue, errors.Wrapf(err, "value does not match [\"set\",[...]] or a bare scalar: %s", raw))
	}
	return OrderedSet{Values: []Value{v}}, nil
}

func (c ColumnType) mapValueFromJSON(raw json.RawMessage) (TypedValue, error) {
	var probe []json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil || len(probe) != 2 {
		return nil, NewError(MalformedValue, errors.Wrapf(err, "value does not match [\"map\",[...]]: %s", raw))
	}
	var tag string
	if err := json.Unmarshal(probe[0], &tag); err != nil || tag != "map" {
		return nil, Errorf(MalformedValue, "expected \"map\" tag, got %s", probe[0])
	}
	var pairs []json.RawMessage
	if err := json.Unmarshal(probe[1], &pairs); err != nil {
		return nil, NewError(MalformedValue, errors.Wrapf(err, "malformed map body: %s", raw))
	}
	if len(pairs) == 0 {
		return OrderedMap{}, nil
	}
	out := make([]MapPair, 0, len(pairs))
	for _, pairRaw := range pairs {
		// Spec §9 Open Question 1: the size check on each pair, not on
		// the outer node (which is always 2 by construction of the
		// ["map",[...]] wrapper itself).
		var pair []json.RawMessage
		if err := json.Unmarshal(pairRaw, &pair); err != nil || len(pair) != 2 {
			return nil, Errorf(MalformedValue, "map entry is not a [key,value] pair: %s", pairRaw)
		}
		k, err := c.KeyType().ParseValue(pair[0])
		if err != nil {
			return nil, err
		}
		v, err := c.ValueType().ParseValue(pair[1])
		if err != nil {
			return nil, err
		}
		out = append(out, MapPair{Key: k, Value: v})
	}
	return OrderedMap{Pairs: out}, nil
}

// ColumnSchema is (name, ColumnType); immutable once parsed.
type ColumnSchema struct {
	Name   string
	Type   ColumnType
	Mutable bool
}

type columnSchemaJSON struct {
	Type    json.RawMessage `json:"type"`
	Mutable *bool           `json:"mutable,omitempty"`
}

// ColumnSchemaFromJSON parses one entry of a table's "columns" map.
func ColumnSchemaFromJSON(name string, raw json.RawMessage) (ColumnSchema, error) {
	var obj columnSchemaJSON
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ColumnSchema{}, NewError(Parsing, errors.Wrapf(err, "column %q", name))
	}
	ct, err := ColumnTypeFromJSON(obj.Type)
	if err != nil {
		return ColumnSchema{}, errors.Wrapf(err, "column %q", name)
	}
	mutable := true
	if obj.Mutable != nil {
		mutable = *obj.Mutable
	}
	return ColumnSchema{Name: name, Type: ct, Mutable: mutable}, nil
}

// TableSchema is (name, columns-by-name); column names are unique per
// table by construction (a JSON object cannot repeat a key).
type TableSchema struct {
	Name    string
	Columns map[string]ColumnSchema
	IsRoot  bool
	MaxRows int64
}

func (t *TableSchema) Column(name string) (ColumnSchema, bool) {
	c, ok := t.Columns[name]
	return c, ok
}

type tableSchemaJSON struct {
	Columns map[string]json.RawMessage `json:"columns"`
	IsRoot  bool                       `json:"isRoot,omitempty"`
	MaxRows *int64                     `json:"maxRows,omitempty"`
}

// TableSchemaFromJSON parses one entry of a database's "tables" map.
func TableSchemaFromJSON(name string, raw json.RawMessage) (*TableSchema, error) {
	var obj tableSchemaJSON
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, NewError(Parsing, errors.Wrapf(err, "table %q", name))
	}
	t := &TableSchema{
		Name:    name,
		Columns: make(map[string]ColumnSchema, len(obj.Columns)),
		IsRoot:  obj.IsRoot,
	}
	if obj.MaxRows != nil {
		t.MaxRows = *obj.MaxRows
	}
	for colName, colRaw := range obj.Columns {
		col, err := ColumnSchemaFromJSON(colName, colRaw)
		if err != nil {
			return nil, err
		}
		t.Columns[colName] = col
	}
	return t, nil
}

// DatabaseSchema is (name, version, tables-by-name). Client fills in the
// implicit "_uuid"/"_version" columns via PopulateInternallyGeneratedColumns
// after parsing, per spec §3.
type DatabaseSchema struct {
	Name    string
	Version string
	Tables  map[string]*TableSchema
}

func (d *DatabaseSchema) Table(name string) (*TableSchema, bool) {
	t, ok := d.Tables[name]
	return t, ok
}

type databaseSchemaJSON struct {
	Name    string                     `json:"name"`
	Version string                     `json:"version"`
	Tables  map[string]json.RawMessage `json:"tables"`
}

// DatabaseSchemaFromJSON parses the full get_schema reply body.
func DatabaseSchemaFromJSON(name string, raw json.RawMessage) (*DatabaseSchema, error) {
	var obj databaseSchemaJSON
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, NewError(Parsing, err)
	}
	dbName := name
	if obj.Name != "" {
		dbName = obj.Name
	}
	db := &DatabaseSchema{
		Name:    dbName,
		Version: obj.Version,
		Tables:  make(map[string]*TableSchema, len(obj.Tables)),
	}
	for tableName, tableRaw := range obj.Tables {
		table, err := TableSchemaFromJSON(tableName, tableRaw)
		if err != nil {
			return nil, err
		}
		db.Tables[tableName] = table
	}
	db.PopulateInternallyGeneratedColumns()
	return db, nil
}

// PopulateInternallyGeneratedColumns adds the "_uuid" and "_version"
// columns RFC 7047 §3.1 guarantees exist on every table but which servers
// never spell out explicitly in the schema document.
func (d *DatabaseSchema) PopulateInternallyGeneratedColumns() {
	for _, table := range d.Tables {
		if _, ok := table.Columns["_uuid"]; !ok {
			table.Columns["_uuid"] = ColumnSchema{
				Name:    "_uuid",
				Type:    ColumnType{Key: UUIDType{}, Min: 1, Max: 1},
				Mutable: false,
			}
		}
		if _, ok := table.Columns["_version"]; !ok {
			table.Columns["_version"] = ColumnSchema{
				Name:    "_version",
				Type:    ColumnType{Key: UUIDType{}, Min: 1, Max: 1},
				Mutable: false,
			}
		}
	}
}
