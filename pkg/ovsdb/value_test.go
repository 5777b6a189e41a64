package ovsdb

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bridgeTable(t *testing.T) *TableSchema {
	t.Helper()
	raw := []byte(`{
		"columns": {
			"name": {"type": "string"},
			"flood_vlans": {"type": {"key": {"type":"integer","minInteger":0,"maxInteger":4095}, "min":0, "max":"unlimited"}},
			"fail_mode": {"type": {"key": {"type":"string","enum":["set",["standalone","secure"]]}, "min":0, "max":1}}
		}
	}`)
	table, err := TableSchemaFromJSON("Bridge", raw)
	require.NoError(t, err)
	return table
}

// Property 2: valueFromJson(serialize(v)) == v, for a representative value
// of each column shape.
func TestValueRoundTrip_Scalar(t *testing.T) {
	table := bridgeTable(t)
	col, _ := table.Column("name")
	tv, err := col.Type.ValueFromJSON([]byte(`"br-int"`))
	require.NoError(t, err)

	wire, err := tv.MarshalWire()
	require.NoError(t, err)
	encoded, err := json.Marshal(wire)
	require.NoError(t, err)

	tv2, err := col.Type.ValueFromJSON(encoded)
	require.NoError(t, err)
	assert.Equal(t, tv.(Scalar).Value, tv2.(Scalar).Value)
}

func TestValueRoundTrip_Set(t *testing.T) {
	table := bridgeTable(t)
	col, _ := table.Column("flood_vlans")
	tv, err := col.Type.ValueFromJSON([]byte(`["set",[100,200,300]]`))
	require.NoError(t, err)

	wire, err := tv.MarshalWire()
	require.NoError(t, err)
	encoded, err := json.Marshal(wire)
	require.NoError(t, err)

	tv2, err := col.Type.ValueFromJSON(encoded)
	require.NoError(t, err)
	assert.ElementsMatch(t, tv.(OrderedSet).Values, tv2.(OrderedSet).Values)
}

func TestRow_FromJSON_RejectsUnknownColumn(t *testing.T) {
	table := bridgeTable(t)
	row := NewRow()
	err := row.FromJSON(table, []byte(`{"nope": 1}`))
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, Parsing, kind)
}

func TestRow_FromJSON_DecodesKnownColumns(t *testing.T) {
	table := bridgeTable(t)
	row := NewRow()
	err := row.FromJSON(table, []byte(`{"name":"br-int","flood_vlans":["set",[100,200]]}`))
	require.NoError(t, err)

	nameVal, ok := row.Get("name")
	require.True(t, ok)
	assert.Equal(t, StringValue("br-int"), nameVal.(Scalar).Value)

	vlanVal, ok := row.Get("flood_vlans")
	require.True(t, ok)
	assert.Len(t, vlanVal.(OrderedSet).Values, 2)
}

func TestOperation_SelectMarshalsEmptyWhere(t *testing.T) {
	op := Operation{Op: OpSelect, Table: "Bridge", Columns: []string{"name"}}
	b, err := json.Marshal(op)
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &decoded))
	where, ok := decoded["where"].([]interface{})
	require.True(t, ok, "select must always carry a \"where\" array")
	assert.Empty(t, where)
}

// S4 — Transact round-trip: four operations, each result keeps its index.
// The request side of this scenario (staging insert/update/select/commit
// through TransactBuilder) is covered by
// pkg/client's TestTransactBuilder_S4StagesInsertUpdateSelectCommit.
func TestTransactResponse_DecodesPerOperationResults(t *testing.T) {
	raw := []byte(`[
		{"uuid": ["uuid", "b1"]},
		{"count": 1},
		{"rows": [{"name": "br-int"}]},
		{}
	]`)
	var results []OperationResult
	require.NoError(t, json.Unmarshal(raw, &results))
	require.Len(t, results, 4)
	assert.Equal(t, "b1", results[0].UUID.GoUUID)
	assert.Equal(t, 1, results[1].Count)
	require.Len(t, results[2].Rows, 1)
	assert.False(t, results[3].Failed())

	table := bridgeTable(t)
	rows, err := results[2].DecodeRows(table)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	nameVal, _ := rows[0].Get("name")
	assert.Equal(t, StringValue("br-int"), nameVal.(Scalar).Value)
}

func TestTransactResponse_ErrorHaltsSubsequentOperations(t *testing.T) {
	raw := []byte(`[
		{"count": 1},
		{"error": "referential integrity violation", "details": "row is still referenced"},
		{"error": "referenced operation failed"}
	]`)
	var results []OperationResult
	require.NoError(t, json.Unmarshal(raw, &results))
	require.Len(t, results, 3)
	assert.False(t, results[0].Failed())
	assert.True(t, results[1].Failed())
	assert.True(t, results[2].Failed())
}

func TestUpdatesFromJSON(t *testing.T) {
	db := &DatabaseSchema{Name: "D", Tables: map[string]*TableSchema{"Bridge": bridgeTable(t)}}
	raw := []byte(`{
		"Bridge": {
			"row-uuid-1": {
				"old": null,
				"new": {"name": "br-int"}
			}
		}
	}`)
	updates, err := UpdatesFromJSON(db, raw)
	require.NoError(t, err)
	tableUpdate, ok := updates["Bridge"]
	require.True(t, ok)
	rowUpdate, ok := tableUpdate["row-uuid-1"]
	require.True(t, ok)
	require.Nil(t, rowUpdate.Old)
	require.NotNil(t, rowUpdate.New)
	nameVal, _ := rowUpdate.New.Get("name")
	assert.Equal(t, StringValue("br-int"), nameVal.(Scalar).Value)
}
