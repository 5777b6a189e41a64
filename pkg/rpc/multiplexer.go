// Package rpc implements the OVSDB JSON-RPC multiplexer: a long-lived,
// full-duplex session that correlates outbound requests with inbound
// replies, dispatches server-initiated calls to a registered sink, and
// exposes a futures-style API for the six RPC methods this module speaks
// (spec §4.3). Transport is github.com/cenkalti/rpc2 framed with its
// jsonrpc codec, the same pairing the teacher's OVSDB client uses.
package rpc

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/rpc2"
	"github.com/cenkalti/rpc2/jsonrpc"
	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/google/uuid"
	stdlog "log"

	"github.com/hashsdn/hashsdn-ovsdb/pkg/ovsdb"
)

// NoTimeout disables the deadline on RPC calls that accept one.
const NoTimeout time.Duration = 0

// Sink receives server-initiated calls: table update notifications and the
// lock family (spec §4.3, §6). Update is delivered with jsonContext still
// raw - the Client Façade owns decoding it into a MonitorHandle plus the
// TableSchema needed to interpret tableUpdates.
type Sink interface {
	Update(jsonContext json.RawMessage, tableUpdates json.RawMessage)
	Locked(ids []string)
	Stolen(ids []string)
}

// Future is a single outstanding RPC call. At most one of {the transport's
// reply, disconnect} ever supplies its result — see complete's guard. A
// Wait that ends on its timeout or context returns an error to that caller
// without completing the Future.
type Future struct {
	mu     sync.Mutex
	done   chan struct{}
	result json.RawMessage
	err    error
	fired  bool
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// complete reports true if this call is the one that actually resolved
// the future (spec §8 property 6: at most one completion wins).
func (f *Future) complete(result json.RawMessage, err error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fired {
		return false
	}
	f.fired = true
	f.result, f.err = result, err
	close(f.done)
	return true
}

// Wait blocks until the future resolves, ctx is cancelled, or timeout
// elapses (timeout == NoTimeout disables the deadline).
func (f *Future) Wait(ctx context.Context, timeout time.Duration) (json.RawMessage, error) {
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, ovsdb.Wrap(ovsdb.ConnectionClosed, ctx.Err(), "rpc call context ended")
	case <-timeoutCh:
		return nil, ovsdb.Errorf(ovsdb.Timeout, "rpc call did not complete within %s", timeout)
	}
}

// Multiplexer owns one duplex connection and every request/notification
// flowing over it.
type Multiplexer struct {
	client *rpc2.Client
	logger logr.Logger

	mu      sync.Mutex
	pending map[string]*Future
	sink    Sink
	closed  bool
	closeCh chan struct{}

	// updateQueue serializes notification delivery to the sink so that
	// causally ordered "update" events for one monitor are never
	// delivered out of order or concurrently with each other (spec §5).
	updateQueue chan func()
	queueDone   chan struct{}
}

// Option configures a Multiplexer at construction time.
type Option func(*Multiplexer)

// WithLogger overrides the default stdr logger.
func WithLogger(l logr.Logger) Option {
	return func(m *Multiplexer) { m.logger = l }
}

// NewMultiplexer wraps conn in a JSON-RPC 1.0 session and starts its read
// loop. The returned Multiplexer has no sink registered until
// RegisterCallback is called; "update" notifications received before that
// are logged and dropped, and "locked"/"stolen" ones are dropped.
func NewMultiplexer(conn net.Conn, opts ...Option) *Multiplexer {
	m := &Multiplexer{
		client:      rpc2.NewClientWithCodec(jsonrpc.NewJSONCodec(conn)),
		logger:      stdr.New(stdlog.Default()),
		pending:     make(map[string]*Future),
		closeCh:     make(chan struct{}),
		updateQueue: make(chan func(), 256),
		queueDone:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.client.SetBlocking(true)
	m.client.Handle("echo", m.handleEcho)
	m.client.Handle("update", m.handleUpdate)
	m.client.Handle("locked", m.handleLocked)
	m.client.Handle("stolen", m.handleStolen)

	go m.client.Run()
	go m.runUpdateQueue()
	go m.watchDisconnect()
	return m
}

// RegisterCallback installs the sink that receives server-initiated calls.
// Only one sink is active at a time, matching spec §4.3's single
// registered "sink" for the whole session.
func (m *Multiplexer) RegisterCallback(sink Sink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sink = sink
}

func (m *Multiplexer) runUpdateQueue() {
	defer close(m.queueDone)
	for job := range m.updateQueue {
		job()
	}
}

func (m *Multiplexer) watchDisconnect() {
	<-m.client.DisconnectNotify()
	m.mu.Lock()
	m.closed = true
	pending := m.pending
	m.pending = map[string]*Future{}
	m.sink = nil
	m.mu.Unlock()
	for _, f := range pending {
		f.complete(nil, ovsdb.NewError(ovsdb.ConnectionClosed, nil))
	}
	close(m.closeCh)
	close(m.updateQueue)
}

// RFC 7047 §4.1.6: a server-initiated echo must be answered with the same
// arguments it carried.
func (m *Multiplexer) handleEcho(_ *rpc2.Client, args []interface{}, reply *[]interface{}) error {
	*reply = args
	return nil
}

func (m *Multiplexer) handleUpdate(_ *rpc2.Client, args []json.RawMessage, reply *[]interface{}) error {
	*reply = []interface{}{}
	if len(args) != 2 {
		return ovsdb.Errorf(ovsdb.Parsing, "update notification requires exactly 2 args, got %d", len(args))
	}
	jsonContext, tableUpdates := args[0], args[1]
	m.mu.Lock()
	sink := m.sink
	m.mu.Unlock()
	if sink == nil {
		m.logger.V(1).Info("dropping update notification, no sink registered")
		return nil
	}
	// Enqueue rather than call directly: this is what makes per-monitor
	// notification order and single-flight delivery hold even though
	// rpc2 may invoke handlers from more than one goroutine.
	select {
	case m.updateQueue <- func() { sink.Update(jsonContext, tableUpdates) }:
	default:
		m.logger.Info("update notification queue full, dropping oldest ordering guarantee", "table", string(tableUpdates))
		sink.Update(jsonContext, tableUpdates)
	}
	return nil
}

func (m *Multiplexer) handleLocked(_ *rpc2.Client, args []interface{}, reply *[]interface{}) error {
	*reply = []interface{}{}
	m.mu.Lock()
	sink := m.sink
	m.mu.Unlock()
	if sink != nil {
		sink.Locked(stringsOf(args))
	}
	return nil
}

func (m *Multiplexer) handleStolen(_ *rpc2.Client, args []interface{}, reply *[]interface{}) error {
	*reply = []interface{}{}
	m.mu.Lock()
	sink := m.sink
	m.mu.Unlock()
	if sink != nil {
		sink.Stolen(stringsOf(args))
	}
	return nil
}

func stringsOf(args []interface{}) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		if s, ok := a.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// call issues method with params and returns a Future for the raw JSON
// result. The blocking rpc2.Call runs on its own goroutine so Wait's
// caller-side timeout can fire independently of the transport actually
// answering.
func (m *Multiplexer) call(method string, params interface{}) *Future {
	f := newFuture()
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		f.complete(nil, ovsdb.NewError(ovsdb.ConnectionClosed, nil))
		return f
	}
	id := uuid.NewString()
	m.pending[id] = f
	m.mu.Unlock()

	go func() {
		var reply json.RawMessage
		err := m.client.Call(method, params, &reply)
		m.mu.Lock()
		delete(m.pending, id)
		m.mu.Unlock()
		if err != nil {
			f.complete(nil, ovsdb.Wrap(ovsdb.Parsing, err, "rpc call "+method+" failed"))
			return
		}
		f.complete(reply, nil)
	}()
	return f
}

// ListDatabases issues RFC 7047's list_dbs.
func (m *Multiplexer) ListDatabases() *Future { return m.call("list_dbs", nil) }

// GetSchema issues RFC 7047's get_schema for dbName.
func (m *Multiplexer) GetSchema(dbName string) *Future {
	return m.call("get_schema", []interface{}{dbName})
}

// Transact issues RFC 7047's transact with dbName and the given operation
// batch, built by the caller (the Client Façade owns building the
// operation list via TransactBuilder) and serialized by the JSON codec.
func (m *Multiplexer) Transact(dbName string, ops []ovsdb.Operation) *Future {
	params := make([]interface{}, 0, len(ops)+1)
	params = append(params, dbName)
	for _, op := range ops {
		params = append(params, op)
	}
	return m.call("transact", params)
}

// Monitor issues RFC 7047's monitor. argProvider defers building the
// per-table request map until just before send, per spec §4.3, so a
// caller building requests from a schema fetched moments earlier never
// races the fetch.
func (m *Multiplexer) Monitor(dbName string, jsonContext interface{}, argProvider func() map[string]ovsdb.MonitorRequest) *Future {
	return m.call("monitor", []interface{}{dbName, jsonContext, argProvider()})
}

// MonitorCancel issues RFC 7047's monitor_cancel for the given handle.
func (m *Multiplexer) MonitorCancel(jsonContext interface{}) *Future {
	return m.call("monitor_cancel", []interface{}{jsonContext})
}

// Echo issues RFC 7047's echo, used as a liveness probe.
func (m *Multiplexer) Echo() *Future {
	return m.call("echo", []interface{}{})
}

// Lock/Steal/Unlock are accepted and reported as Unimplemented until
// support is added (spec §6); the notification plumbing for their
// "locked"/"stolen" replies already exists in handleLocked/handleStolen.
func (m *Multiplexer) Lock(string) *Future   { return failedFuture(ovsdb.Unimplemented, "lock") }
func (m *Multiplexer) Steal(string) *Future  { return failedFuture(ovsdb.Unimplemented, "steal") }
func (m *Multiplexer) Unlock(string) *Future { return failedFuture(ovsdb.Unimplemented, "unlock") }

func failedFuture(kind ovsdb.ErrorKind, op string) *Future {
	f := newFuture()
	f.complete(nil, ovsdb.Errorf(kind, "%s is not implemented", op))
	return f
}

// Closed reports whether the underlying connection has disconnected.
func (m *Multiplexer) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// DisconnectNotify returns a channel closed once the session has ended.
func (m *Multiplexer) DisconnectNotify() <-chan struct{} { return m.closeCh }

// Close tears down the underlying connection. Idempotent: closing an
// already-closed Multiplexer is a no-op.
func (m *Multiplexer) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.client.Close()
}
