package ovsdb

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// UUID is the wire notation for an OVSDB row reference: either a resolved
// server-assigned identifier (["uuid", "<hex>"]) or a transaction-local
// forward reference (["named-uuid", "<token>"]). Named references are only
// meaningful within the operation batch that declared them via
// Operation.UUIDName; the multiplexer never resolves them itself.
type UUID struct {
	GoUUID string
	Named  bool
}

func NewUUID(id string) UUID      { return UUID{GoUUID: id} }
func NewNamedUUID(name string) UUID { return UUID{GoUUID: name, Named: true} }

func (u UUID) MarshalNotation() []interface{} {
	tag := "uuid"
	if u.Named {
		tag = "named-uuid"
	}
	return []interface{}{tag, u.GoUUID}
}

func (u UUID) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.MarshalNotation())
}

func (u *UUID) UnmarshalJSON(data []byte) error {
	v, err := parseUUIDNotation(data)
	if err != nil {
		return err
	}
	*u = v
	return nil
}

func parseUUIDNotation(raw json.RawMessage) (UUID, error) {
	var pair [2]json.RawMessage
	if err := json.Unmarshal(raw, &pair); err != nil {
		return UUID{}, errors.Wrapf(err, "expected [\"uuid\"|\"named-uuid\", <id>], got %s", raw)
	}
	var tag, id string
	if err := json.Unmarshal(pair[0], &tag); err != nil {
		return UUID{}, errors.Wrap(err, "uuid: malformed tag")
	}
	if err := json.Unmarshal(pair[1], &id); err != nil {
		return UUID{}, errors.Wrap(err, "uuid: malformed id")
	}
	switch tag {
	case "uuid":
		return UUID{GoUUID: id}, nil
	case "named-uuid":
		return UUID{GoUUID: id, Named: true}, nil
	default:
		return UUID{}, errors.Errorf("expected \"uuid\" or \"named-uuid\" tag, got %q", tag)
	}
}

// Row is an ordered mapping from column name to typed value, decoded
// against a TableSchema. Column order is not semantically meaningful on
// the wire (RFC 7047 rows are JSON objects); Row records the order in which
// columns were first Set and returns it from Columns(). A row decoded by
// FromJSON has no defined column order.
type Row struct {
	Values map[string]TypedValue
	order  []string
}

func NewRow() *Row {
	return &Row{Values: map[string]TypedValue{}}
}

func (r *Row) Set(column string, v TypedValue) {
	if _, exists := r.Values[column]; !exists {
		r.order = append(r.order, column)
	}
	r.Values[column] = v
}

func (r *Row) Get(column string) (TypedValue, bool) {
	v, ok := r.Values[column]
	return v, ok
}

// Columns returns column names in first-set order.
func (r *Row) Columns() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// FromJSON decodes a wire row object against schema, applying
// ColumnType.valueFromJson per spec §4.2 to every property present.
// Unknown columns (not in schema) are rejected as Parsing errors rather
// than silently dropped, per spec §4.2's "must never silently drop
// elements" mandate.
func (r *Row) FromJSON(table *TableSchema, raw json.RawMessage) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return NewError(Parsing, err)
	}
	for name, val := range obj {
		col, ok := table.Column(name)
		if !ok {
			return Errorf(Parsing, "row references unknown column %q in table %q", name, table.Name)
		}
		tv, err := col.Type.ValueFromJSON(val)
		if err != nil {
			return err
		}
		r.Set(name, tv)
	}
	return nil
}

// MarshalJSON encodes the row back to the wire object shape, dropping
// nothing: every stored column is emitted.
func (r *Row) MarshalJSON() ([]byte, error) {
	obj := make(map[string]interface{}, len(r.Values))
	for name, tv := range r.Values {
		encoded, err := tv.MarshalWire()
		if err != nil {
			return nil, err
		}
		obj[name] = encoded
	}
	return json.Marshal(obj)
}

// Condition is a single [column, function, value] triple used in Operation
// "where"/"until" clauses (RFC 7047 §5.1).
type Condition struct {
	Column   string
	Function string
	Value    interface{}
}

func (c Condition) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{c.Column, c.Function, c.Value})
}

func (c *Condition) UnmarshalJSON(data []byte) error {
	var triple [3]json.RawMessage
	if err := json.Unmarshal(data, &triple); err != nil {
		return err
	}
	if err := json.Unmarshal(triple[0], &c.Column); err != nil {
		return err
	}
	if err := json.Unmarshal(triple[1], &c.Function); err != nil {
		return err
	}
	var v interface{}
	if err := json.Unmarshal(triple[2], &v); err != nil {
		return err
	}
	c.Value = v
	return nil
}

// NewCondition builds a Condition with the value already reduced to its
// wire notation for transmission (a scalar, or a UUID's ["uuid",id] pair).
func NewCondition(column, fn string, value TypedValue) (Condition, error) {
	wire, err := value.MarshalWire()
	if err != nil {
		return Condition{}, err
	}
	return Condition{Column: column, Function: fn, Value: wire}, nil
}

// Mutation is a single [column, mutator, value] triple used in "mutate"
// operations (RFC 7047 §5.1).
type Mutation struct {
	Column  string
	Mutator string
	Value   interface{}
}

func (m Mutation) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{m.Column, m.Mutator, m.Value})
}

func (m *Mutation) UnmarshalJSON(data []byte) error {
	var triple [3]json.RawMessage
	if err := json.Unmarshal(data, &triple); err != nil {
		return err
	}
	if err := json.Unmarshal(triple[0], &m.Column); err != nil {
		return err
	}
	if err := json.Unmarshal(triple[1], &m.Mutator); err != nil {
		return err
	}
	var v interface{}
	if err := json.Unmarshal(triple[2], &v); err != nil {
		return err
	}
	m.Value = v
	return nil
}

// Operation names constants for the "op" field (RFC 7047 §5.2).
const (
	OpInsert  = "insert"
	OpSelect  = "select"
	OpUpdate  = "update"
	OpMutate  = "mutate"
	OpDelete  = "delete"
	OpWait    = "wait"
	OpCommit  = "commit"
	OpAbort   = "abort"
	OpComment = "comment"
	OpAssert  = "assert"
)

// Operation represents a single transact operation (RFC 7047 §5.2).
type Operation struct {
	Op        string      `json:"op"`
	Table     string      `json:"table,omitempty"`
	Row       *Row        `json:"row,omitempty"`
	Rows      []*Row      `json:"rows,omitempty"`
	Columns   []string    `json:"columns,omitempty"`
	Mutations []Mutation  `json:"mutations,omitempty"`
	Timeout   int         `json:"timeout,omitempty"`
	Where     []Condition `json:"where,omitempty"`
	Until     string      `json:"until,omitempty"`
	Durable   *bool       `json:"durable,omitempty"`
	Comment   *string     `json:"comment,omitempty"`
	Lock      *string     `json:"lock,omitempty"`
	UUIDName  string      `json:"uuid-name,omitempty"`
}

// MarshalJSON special-cases "select": RFC 7047 requires "where" to be
// present (possibly empty) so the server treats a missing clause as
// "match all rows" rather than a malformed request, matching the teacher's
// own Operation.MarshalJSON override.
func (o Operation) MarshalJSON() ([]byte, error) {
	type alias Operation
	if o.Op == OpSelect {
		where := o.Where
		if where == nil {
			where = []Condition{}
		}
		return json.Marshal(&struct {
			Where []Condition `json:"where"`
			alias
		}{Where: where, alias: (alias)(o)})
	}
	return json.Marshal((alias)(o))
}

// OperationResult is the decoded result of a single transact operation
// (RFC 7047 §5.2). Exactly the fields relevant to Op are populated; Error
// is set when the server aborted this operation, including when a
// preceding operation in the same transaction failed.
type OperationResult struct {
	Count   int               `json:"count,omitempty"`
	Error   string            `json:"error,omitempty"`
	Details string            `json:"details,omitempty"`
	UUID    *UUID             `json:"uuid,omitempty"`
	Rows    []json.RawMessage `json:"rows,omitempty"`
}

// Failed reports whether the server reported an error for this operation.
func (r OperationResult) Failed() bool { return r.Error != "" }

// DecodeRows decodes each raw row in this result against table using
// Row.FromJSON, propagating the first decode failure.
func (r OperationResult) DecodeRows(table *TableSchema) ([]*Row, error) {
	rows := make([]*Row, 0, len(r.Rows))
	for _, raw := range r.Rows {
		row := NewRow()
		if err := row.FromJSON(table, raw); err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// MonitorSelect narrows which kinds of row events a MonitorRequest wants
// (RFC 7047 §4.1.5).
type MonitorSelect struct {
	Initial *bool `json:"initial,omitempty"`
	Insert  *bool `json:"insert,omitempty"`
	Delete  *bool `json:"delete,omitempty"`
	Modify  *bool `json:"modify,omitempty"`
}

// MonitorRequest is a per-table monitor specification (RFC 7047 §4.1.5).
type MonitorRequest struct {
	Columns []string       `json:"columns,omitempty"`
	Select  *MonitorSelect `json:"select,omitempty"`
}

// RowUpdate is a single row's before/after state within a table update
// notification (RFC 7047 §4.1.6).
type RowUpdate struct {
	Old *Row `json:"old,omitempty"`
	New *Row `json:"new,omitempty"`
}

// TableUpdate maps row UUID (as a string) to its RowUpdate.
type TableUpdate map[string]RowUpdate

// TableUpdates maps table name to TableUpdate; this is the payload of both
// a monitor reply and every subsequent "update" notification.
type TableUpdates map[string]TableUpdate

// UpdatesFromJSON decodes a raw {table: {uuid: {old,new}}} document,
// resolving each row against its TableSchema. An "old" or "new" member that
// is absent or JSON null leaves the matching RowUpdate field nil.
// Corresponds to spec §4.4's TableSchema.updatesFromJson.
func UpdatesFromJSON(db *DatabaseSchema, raw json.RawMessage) (TableUpdates, error) {
	var wire map[string]map[string]struct {
		Old json.RawMessage `json:"old"`
		New json.RawMessage `json:"new"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, NewError(Parsing, err)
	}
	out := make(TableUpdates, len(wire))
	for tableName, rows := range wire {
		table, ok := db.Table(tableName)
		if !ok {
			return nil, Errorf(Parsing, "update references unknown table %q", tableName)
		}
		tu := make(TableUpdate, len(rows))
		for uuid, ru := range rows {
			var out RowUpdate
			if len(ru.Old) > 0 && string(ru.Old) != "null" {
				old := NewRow()
				if err := old.FromJSON(table, ru.Old); err != nil {
					return nil, err
				}
				out.Old = old
			}
			if len(ru.New) > 0 && string(ru.New) != "null" {
				n := NewRow()
				if err := n.FromJSON(table, ru.New); err != nil {
					return nil, err
				}
				out.New = n
			}
			tu[uuid] = out
		}
		out[tableName] = tu
	}
	return out, nil
}
