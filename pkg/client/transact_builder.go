package client

import (
	"context"
	"strconv"

	"github.com/hashsdn/hashsdn-ovsdb/pkg/ovsdb"
)

// TransactBuilder accumulates a batch of operations for one transact call
// with a fluent API, grounded on TomCodeLV's dbtransaction.Transaction:
// each staging method appends one Operation and returns the builder so
// calls chain, and Insert hands back a named-uuid placeholder the caller
// can thread into a later operation's row values before Execute.
type TransactBuilder struct {
	client  *ovsdbClient
	dbName  string
	ops     []ovsdb.Operation
	counter int
}

// Insert stages an insert of row into table and returns the uuid-name
// placeholder assigned to the new row (e.g. "row0"), usable as an
// ovsdb.UUID{Named: true} reference in subsequent operations of the same
// transaction.
func (tb *TransactBuilder) Insert(table string, row *ovsdb.Row) string {
	name := "row" + strconv.Itoa(tb.counter)
	tb.counter++
	tb.ops = append(tb.ops, ovsdb.Operation{
		Op:       ovsdb.OpInsert,
		Table:    table,
		Row:      row,
		UUIDName: name,
	})
	return name
}

// Update stages an update of every row matching where.
func (tb *TransactBuilder) Update(table string, row *ovsdb.Row, where []ovsdb.Condition) *TransactBuilder {
	tb.ops = append(tb.ops, ovsdb.Operation{
		Op:    ovsdb.OpUpdate,
		Table: table,
		Row:   row,
		Where: where,
	})
	return tb
}

// Mutate stages mutations against every row matching where.
func (tb *TransactBuilder) Mutate(table string, where []ovsdb.Condition, mutations []ovsdb.Mutation) *TransactBuilder {
	tb.ops = append(tb.ops, ovsdb.Operation{
		Op:        ovsdb.OpMutate,
		Table:     table,
		Where:     where,
		Mutations: mutations,
	})
	return tb
}

// Delete stages deletion of every row matching where.
func (tb *TransactBuilder) Delete(table string, where []ovsdb.Condition) *TransactBuilder {
	tb.ops = append(tb.ops, ovsdb.Operation{
		Op:    ovsdb.OpDelete,
		Table: table,
		Where: where,
	})
	return tb
}

// Select stages a select of columns from every row matching where. Where
// may be empty, in which case the wire form is still a "where":[] array
// (spec §3), never omitted or null.
func (tb *TransactBuilder) Select(table string, columns []string, where []ovsdb.Condition) *TransactBuilder {
	tb.ops = append(tb.ops, ovsdb.Operation{
		Op:      ovsdb.OpSelect,
		Table:   table,
		Columns: columns,
		Where:   where,
	})
	return tb
}

// Wait stages a wait precondition on the given table/columns/rows.
func (tb *TransactBuilder) Wait(table string, timeoutMillis int, columns []string, until string, rows []*ovsdb.Row, where []ovsdb.Condition) *TransactBuilder {
	tb.ops = append(tb.ops, ovsdb.Operation{
		Op:      ovsdb.OpWait,
		Table:   table,
		Where:   where,
		Columns: columns,
		Until:   until,
		Rows:    rows,
		Timeout: timeoutMillis,
	})
	return tb
}

// Comment stages a comment operation, recorded in the server's transaction
// log without affecting the database.
func (tb *TransactBuilder) Comment(text string) *TransactBuilder {
	tb.ops = append(tb.ops, ovsdb.Operation{Op: ovsdb.OpComment, Comment: &text})
	return tb
}

// Commit stages a commit operation, freezing every preceding operation in
// the batch into the database; durable requests the server fsync the
// transaction to disk before replying, per RFC 7047 §5.2's "commit" op.
// Grounded on TomCodeLV's dbtransaction.Transaction.Commit, adapted from an
// eager network call into a staged Operation so it composes with the rest
// of this builder's fluent chain and only takes effect on Execute.
func (tb *TransactBuilder) Commit(durable bool) *TransactBuilder {
	tb.ops = append(tb.ops, ovsdb.Operation{Op: ovsdb.OpCommit, Durable: &durable})
	return tb
}

// Operations returns the staged operations without executing them, for
// callers that want to inspect or serialize the batch themselves.
func (tb *TransactBuilder) Operations() []ovsdb.Operation {
	return tb.ops
}

// Execute issues the accumulated operations as a single transact call.
// Per spec §4.4 semantics, a failed operation aborts every operation after
// it; the caller inspects the returned OperationResult slice to find where
// the abort happened (OperationResult.Failed()).
func (tb *TransactBuilder) Execute(ctx context.Context) ([]ovsdb.OperationResult, error) {
	schema, err := tb.client.GetSchema(ctx, tb.dbName)
	if err != nil {
		return nil, err
	}
	return tb.client.Transact(ctx, schema, tb.ops)
}
