package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashsdn/hashsdn-ovsdb/pkg/ovsdb"
)

// S4 — Transact round-trip: insert, update, select, commit(true), staged
// through the fluent builder rather than constructed by hand (spec.md's
// scenario names the exact four operations this asserts).
func TestTransactBuilder_S4StagesInsertUpdateSelectCommit(t *testing.T) {
	tb := &TransactBuilder{dbName: "hardware_vtep"}

	insertRow := ovsdb.NewRow()
	insertRow.Set("name", ovsdb.Scalar{Value: ovsdb.StringValue("br-int")})
	insertRow.Set("flood_vlans", ovsdb.OrderedSet{Values: []ovsdb.Value{ovsdb.IntegerValue(100), ovsdb.IntegerValue(200)}})
	name := tb.Insert("Bridge", insertRow)
	assert.Equal(t, "row0", name)

	updateRow := ovsdb.NewRow()
	updateRow.Set("fail_mode", ovsdb.Scalar{Value: ovsdb.StringValue("secure")})
	tb.Update("Bridge", updateRow, []ovsdb.Condition{{Column: "name", Function: "==", Value: "br-int"}})
	tb.Select("Bridge", []string{"name"}, []ovsdb.Condition{{Column: "name", Function: "==", Value: "br-int"}})
	tb.Commit(true)

	ops := tb.Operations()
	require.Len(t, ops, 4)
	assert.Equal(t, ovsdb.OpInsert, ops[0].Op)
	assert.Equal(t, "Bridge", ops[0].Table)
	assert.Equal(t, "row0", ops[0].UUIDName)
	assert.Equal(t, ovsdb.OpUpdate, ops[1].Op)
	assert.Equal(t, ovsdb.OpSelect, ops[2].Op)
	assert.Equal(t, ovsdb.OpCommit, ops[3].Op)
	require.NotNil(t, ops[3].Durable)
	assert.True(t, *ops[3].Durable)
}

// S4's follow-up: a fresh batch of delete-then-commit(true) stages exactly
// two operations.
func TestTransactBuilder_S4DeleteThenCommit(t *testing.T) {
	tb := &TransactBuilder{dbName: "hardware_vtep"}

	tb.Delete("Bridge", []ovsdb.Condition{{Column: "name", Function: "==", Value: "br-int"}})
	tb.Commit(true)

	ops := tb.Operations()
	require.Len(t, ops, 2)
	assert.Equal(t, ovsdb.OpDelete, ops[0].Op)
	assert.Equal(t, ovsdb.OpCommit, ops[1].Op)
}
