// Package client implements the OVSDB Client Façade (spec §4.4): schema
// caching, transaction batch construction, monitor-handle routing, and
// session lifecycle, layered over the RPC Multiplexer in pkg/rpc.
package client

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/hashsdn/hashsdn-ovsdb/pkg/deviceinfo"
	"github.com/hashsdn/hashsdn-ovsdb/pkg/depqueue"
	"github.com/hashsdn/hashsdn-ovsdb/pkg/ovsdb"
	"github.com/hashsdn/hashsdn-ovsdb/pkg/rpc"
)

// MonitorHandle correlates a subscription with its callback (spec §3).
// Concretely a random opaque string, matching the teacher's MonitorCookie.
type MonitorHandle string

// MonitorCallBack receives decoded table updates for one monitor. Lifetime
// is owned by the Client Façade; the RPC Multiplexer only ever sees the
// Client as a rpc.Sink, never individual callbacks (spec §9's "shared
// weakly" note - severing on disconnect is just clearing the map here).
type MonitorCallBack interface {
	Update(updates ovsdb.TableUpdates, dbSchema *ovsdb.DatabaseSchema)
}

// MonitorCallBackFunc adapts a plain function to MonitorCallBack.
type MonitorCallBackFunc func(updates ovsdb.TableUpdates, dbSchema *ovsdb.DatabaseSchema)

func (f MonitorCallBackFunc) Update(updates ovsdb.TableUpdates, dbSchema *ovsdb.DatabaseSchema) {
	f(updates, dbSchema)
}

// OvsdbClient is the public API surface named in spec §6.
type OvsdbClient interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsActive() bool
	IsConnectionPublished() bool
	GetConnectionInfo() string

	ListDatabases(ctx context.Context) ([]string, error)
	GetSchema(ctx context.Context, dbName string) (*ovsdb.DatabaseSchema, error)
	Transact(ctx context.Context, schema *ovsdb.DatabaseSchema, ops []ovsdb.Operation) ([]ovsdb.OperationResult, error)
	Monitor(ctx context.Context, schema *ovsdb.DatabaseSchema, requests map[string]ovsdb.MonitorRequest, cb MonitorCallBack, timeout time.Duration) (MonitorHandle, ovsdb.TableUpdates, error)
	MonitorWithHandle(ctx context.Context, schema *ovsdb.DatabaseSchema, requests map[string]ovsdb.MonitorRequest, handle MonitorHandle, cb MonitorCallBack, timeout time.Duration) (ovsdb.TableUpdates, error)
	CancelMonitor(ctx context.Context, handle MonitorHandle, timeout time.Duration) error
	Echo(ctx context.Context) error

	Lock(ctx context.Context, id string) error
	Steal(ctx context.Context, id string) error
	Unlock(ctx context.Context, id string) error

	IsReady(ctx context.Context, timeoutSec int) bool
	NewTransactBuilder(dbName string) *TransactBuilder
}

type monitorEntry struct {
	schema *ovsdb.DatabaseSchema
	cb     MonitorCallBack
}

type ovsdbClient struct {
	opts *Options
	mux  *rpc.Multiplexer

	mu               sync.RWMutex
	schemaCache      map[string]*ovsdb.DatabaseSchema
	monitors         map[MonitorHandle]monitorEntry
	active           bool
	connInfo         string
	tlsReload        func()
	registry         *deviceinfo.Registry
	depQueue         *depqueue.Queue
	manualDisconnect bool
}

// New creates an OvsdbClient with the given options. It does not connect;
// call Connect to establish the session (spec §4.4's lifecycle is
// create-then-connect, mirroring the teacher's NewOVSDBClient/Connect
// split).
func New(opts ...Option) OvsdbClient {
	return &ovsdbClient{
		opts:        newOptions(opts...),
		schemaCache: make(map[string]*ovsdb.DatabaseSchema),
		monitors:    make(map[MonitorHandle]monitorEntry),
	}
}

func (c *ovsdbClient) Connect(ctx context.Context) error {
	u, err := url.Parse(c.opts.Endpoint)
	if err != nil {
		return ovsdb.Wrap(ovsdb.Parsing, err, "invalid endpoint")
	}

	var conn net.Conn
	var dialer net.Dialer
	switch u.Scheme {
	case "unix":
		conn, err = dialer.DialContext(ctx, "unix", u.Path)
	case "tcp":
		conn, err = dialer.DialContext(ctx, "tcp", u.Host)
	case "ssl":
		tlsCfg := c.opts.TLSConfig
		if tlsCfg == nil {
			tlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		if c.opts.TLSCertFile != "" && c.opts.TLSKeyFile != "" {
			watcher, watchErr := watchTLSCertPair(c.opts.TLSCertFile, c.opts.TLSKeyFile, tlsCfg, c.opts.Logger)
			if watchErr != nil {
				return ovsdb.Wrap(ovsdb.Parsing, watchErr, "starting TLS cert watcher")
			}
			c.tlsReload = watcher.Stop
		}
		td := tls.Dialer{Config: tlsCfg}
		conn, err = td.DialContext(ctx, "tcp", u.Host)
	default:
		return ovsdb.Errorf(ovsdb.Parsing, "unsupported endpoint scheme %q", u.Scheme)
	}
	if err != nil {
		return ovsdb.Wrap(ovsdb.ConnectionClosed, err, "dial "+c.opts.Endpoint)
	}

	c.mux = rpc.NewMultiplexer(conn, rpc.WithLogger(c.opts.Logger))
	c.mux.RegisterCallback(c)

	c.mu.Lock()
	c.active = true
	c.manualDisconnect = false
	c.connInfo = fmt.Sprintf("%s->%s", conn.LocalAddr(), conn.RemoteAddr())
	c.registry = deviceinfo.New(c.opts.InTransitExpiry)
	c.depQueue = depqueue.New(depqueueCapacity, depqueue.WithLogger(c.opts.Logger), depqueue.WithWorkerCount(c.opts.WorkerCount))
	c.mu.Unlock()

	go c.watchDisconnect()
	return nil
}

// depqueueCapacity bounds how many submitted runnables a session's
// Dependency Queue buffers for its workers before Submit falls back to
// running inline (spec §4.6, mirroring depqueue.New's own default). Jobs
// still waiting on dependencies are not counted against it.
const depqueueCapacity = 256

// teardownSession destroys the per-connection Device Info Registry and
// Dependency Queue (spec §3's "destroyed on disconnect"). Safe to call more
// than once; only the first call finds anything to tear down.
func (c *ovsdbClient) teardownSession() {
	c.mu.Lock()
	queue := c.depQueue
	c.registry = nil
	c.depQueue = nil
	c.monitors = map[MonitorHandle]monitorEntry{}
	c.mu.Unlock()
	if queue != nil {
		queue.Close()
	}
}

func (c *ovsdbClient) watchDisconnect() {
	<-c.mux.DisconnectNotify()
	c.mu.Lock()
	c.active = false
	manual := c.manualDisconnect
	c.mu.Unlock()
	c.teardownSession()
	if !manual && c.opts.ReconnectTimeout > 0 {
		go c.reconnect()
	}
}

// reconnect implements spec §6's ReconnectTimeout/Backoff knobs: it retries
// Connect using the configured backoff.BackOff until it succeeds or the
// backoff gives up, matching the teacher's client.WithReconnect contract.
func (c *ovsdbClient) reconnect() {
	b := c.opts.Backoff
	if b == nil {
		b = &backoff.ZeroBackOff{}
	}
	b.Reset()
	operation := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.ReconnectTimeout)
		defer cancel()
		return c.Connect(ctx)
	}
	if err := backoff.Retry(operation, b); err != nil {
		c.opts.Logger.Info("giving up reconnecting", "endpoint", c.opts.Endpoint, "error", err.Error())
	}
}

func (c *ovsdbClient) Disconnect() {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	c.active = false
	c.manualDisconnect = true
	reload := c.tlsReload
	c.mu.Unlock()
	if reload != nil {
		reload()
	}
	if c.mux != nil {
		c.mux.Close()
	}
	c.teardownSession()
}

func (c *ovsdbClient) IsActive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

func (c *ovsdbClient) IsConnectionPublished() bool { return c.IsActive() }

func (c *ovsdbClient) GetConnectionInfo() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connInfo
}

func (c *ovsdbClient) ListDatabases(ctx context.Context) ([]string, error) {
	raw, err := c.mux.ListDatabases().Wait(ctx, NoTimeout)
	if err != nil {
		return nil, err
	}
	var dbs []string
	if err := json.Unmarshal(raw, &dbs); err != nil {
		return nil, ovsdb.NewError(ovsdb.Parsing, err)
	}
	return dbs, nil
}

// GetSchema returns the cached DatabaseSchema if present; otherwise it
// fetches, parses, populates internal columns, caches, and returns it
// (spec §4.4). The cache is copy-on-insert: once a *DatabaseSchema is
// published under a name it is never mutated again, so concurrent readers
// never race a writer.
func (c *ovsdbClient) GetSchema(ctx context.Context, dbName string) (*ovsdb.DatabaseSchema, error) {
	c.mu.RLock()
	if s, ok := c.schemaCache[dbName]; ok {
		c.mu.RUnlock()
		return s, nil
	}
	c.mu.RUnlock()

	raw, err := c.mux.GetSchema(dbName).Wait(ctx, NoTimeout)
	if err != nil {
		return nil, err
	}
	schema, err := ovsdb.DatabaseSchemaFromJSON(dbName, raw)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	// Another goroutine may have raced us to populate the cache; keep
	// whichever schema was published first so every caller observes one
	// consistent instance.
	if existing, ok := c.schemaCache[dbName]; ok {
		c.mu.Unlock()
		return existing, nil
	}
	c.schemaCache[dbName] = schema
	c.mu.Unlock()
	return schema, nil
}

// operationKey extracts the (class, key) identity spec §4.5's Device Info
// Registry indexes by, from a generic RFC 7047 operation: the row's
// caller-assigned named-uuid for an insert, or the row a "_uuid == [uuid,
// ...]" equality condition names for update/mutate/delete. Operations that
// carry neither (e.g. select, or a condition over some other column) are
// not tracked; ok reports whether a key was found.
func operationKey(op ovsdb.Operation) (key string, ok bool) {
	if op.Op == ovsdb.OpInsert {
		if op.UUIDName == "" {
			return "", false
		}
		return op.UUIDName, true
	}
	for _, cond := range op.Where {
		if cond.Column != "_uuid" || cond.Function != "==" {
			continue
		}
		pair, ok := cond.Value.([]interface{})
		if !ok || len(pair) != 2 {
			continue
		}
		if id, ok := pair[1].(string); ok {
			return id, true
		}
	}
	return "", false
}

// Transact builds and issues a transact RPC for the given operations
// (spec §4.4). The result list is exactly what the server returned;
// callers that need TransactBuilder's fluent construction should build
// with NewTransactBuilder first and call .Execute. Along the way it drives
// the Device Info Registry's IN_TRANSIT bookkeeping for spec §3's
// caller-originated path: each identifiable operation is marked IN_TRANSIT
// before the RPC is sent and confirmed or rejected once the result is in,
// then the Dependency Queue is given a chance to replay anything that was
// waiting on the outcome.
func (c *ovsdbClient) Transact(ctx context.Context, schema *ovsdb.DatabaseSchema, ops []ovsdb.Operation) ([]ovsdb.OperationResult, error) {
	c.mu.RLock()
	registry, queue := c.registry, c.depQueue
	c.mu.RUnlock()

	keys := make([]string, len(ops))
	if registry != nil {
		for i, op := range ops {
			if key, ok := operationKey(op); ok {
				keys[i] = key
				registry.MarkKeyAsInTransit(op.Table, key)
			}
		}
	}

	raw, err := c.mux.Transact(schema.Name, ops).Wait(ctx, NoTimeout)
	if err != nil {
		if registry != nil {
			for i, op := range ops {
				if keys[i] != "" {
					registry.ClearInTransit(op.Table, keys[i])
				}
			}
		}
		return nil, err
	}
	var results []ovsdb.OperationResult
	if err := json.Unmarshal(raw, &results); err != nil {
		return nil, ovsdb.NewError(ovsdb.Parsing, err)
	}

	if registry != nil {
		for i, op := range ops {
			if keys[i] == "" {
				continue
			}
			var result ovsdb.OperationResult
			if i < len(results) {
				result = results[i]
			}
			if result.Failed() {
				registry.ClearInTransit(op.Table, keys[i])
				continue
			}
			if op.Op == ovsdb.OpInsert && result.UUID != nil {
				registry.UpdateDeviceOperData(op.Table, keys[i], result.UUID, op.Row)
			} else {
				registry.ClearInTransit(op.Table, keys[i])
			}
		}
		if queue != nil {
			queue.ProcessReadyJobsFromConfigQueue(registry)
		}
	}
	return results, nil
}

func (c *ovsdbClient) Monitor(ctx context.Context, schema *ovsdb.DatabaseSchema, requests map[string]ovsdb.MonitorRequest, cb MonitorCallBack, timeout time.Duration) (MonitorHandle, ovsdb.TableUpdates, error) {
	handle := MonitorHandle(uuid.NewString())
	updates, err := c.MonitorWithHandle(ctx, schema, requests, handle, cb, timeout)
	return handle, updates, err
}

func (c *ovsdbClient) MonitorWithHandle(ctx context.Context, schema *ovsdb.DatabaseSchema, requests map[string]ovsdb.MonitorRequest, handle MonitorHandle, cb MonitorCallBack, timeout time.Duration) (ovsdb.TableUpdates, error) {
	if timeout == 0 {
		timeout = c.opts.MonitorDefaultTimeout
	}
	c.mu.Lock()
	c.monitors[handle] = monitorEntry{schema: schema, cb: cb}
	c.mu.Unlock()

	raw, err := c.mux.Monitor(schema.Name, string(handle), func() map[string]ovsdb.MonitorRequest {
		return requests
	}).Wait(ctx, timeout)
	if err != nil {
		c.mu.Lock()
		delete(c.monitors, handle)
		c.mu.Unlock()
		return nil, err
	}
	updates, err := ovsdb.UpdatesFromJSON(schema, raw)
	if err != nil {
		return nil, err
	}
	return updates, nil
}

// CancelMonitor issues monitor_cancel. Failure is swallowed into a logged
// warning per spec §4.4's "best-effort" post-condition: the handler may
// remain registered until the session closes, so callers must not assume
// the subscription actually stopped just because this returned nil.
func (c *ovsdbClient) CancelMonitor(ctx context.Context, handle MonitorHandle, timeout time.Duration) error {
	_, err := c.mux.MonitorCancel(string(handle)).Wait(ctx, timeout)
	c.mu.Lock()
	delete(c.monitors, handle)
	c.mu.Unlock()
	if err != nil {
		c.opts.Logger.Info("monitor_cancel did not complete cleanly, handler may remain registered", "handle", handle, "error", err.Error())
	}
	return nil
}

func (c *ovsdbClient) Echo(ctx context.Context) error {
	_, err := c.mux.Echo().Wait(ctx, NoTimeout)
	return err
}

func (c *ovsdbClient) Lock(ctx context.Context, id string) error {
	_, err := c.mux.Lock(id).Wait(ctx, NoTimeout)
	return err
}

func (c *ovsdbClient) Steal(ctx context.Context, id string) error {
	_, err := c.mux.Steal(id).Wait(ctx, NoTimeout)
	return err
}

func (c *ovsdbClient) Unlock(ctx context.Context, id string) error {
	_, err := c.mux.Unlock(id).Wait(ctx, NoTimeout)
	return err
}

// IsReady polls the schema cache once per second until it is non-empty or
// timeoutSec elapses. Spec §4.4 notes this is for integration tests only.
func (c *ovsdbClient) IsReady(ctx context.Context, timeoutSec int) bool {
	deadline := time.After(time.Duration(timeoutSec) * time.Second)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		c.mu.RLock()
		ready := len(c.schemaCache) > 0
		c.mu.RUnlock()
		if ready {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-deadline:
			return false
		case <-ticker.C:
		}
	}
}

func (c *ovsdbClient) NewTransactBuilder(dbName string) *TransactBuilder {
	return &TransactBuilder{client: c, dbName: dbName}
}

// --- rpc.Sink implementation -------------------------------------------

// Update implements rpc.Sink. jsonContext is decoded as the MonitorHandle
// string this client always sends as the monitor "json context" (spec
// §4.4's sink.update(context, notification) path). Before the caller's
// callback ever sees the notification, every row is mirrored into the
// Device Info Registry's oper-side map (spec §3's device-originated path)
// and the Dependency Queue is given a chance to replay jobs that were
// waiting on the newly-arrived data.
func (c *ovsdbClient) Update(jsonContext json.RawMessage, tableUpdates json.RawMessage) {
	var handleStr string
	if err := json.Unmarshal(jsonContext, &handleStr); err != nil {
		c.opts.Logger.Info("dropping update notification with unparseable context", "error", err.Error())
		return
	}
	handle := MonitorHandle(handleStr)
	c.mu.RLock()
	entry, ok := c.monitors[handle]
	registry, queue := c.registry, c.depQueue
	c.mu.RUnlock()
	if !ok {
		c.opts.Logger.Info("dropping update notification for unknown monitor handle", "handle", handle)
		return
	}
	updates, err := ovsdb.UpdatesFromJSON(entry.schema, tableUpdates)
	if err != nil {
		c.opts.Logger.Info("dropping malformed update notification", "handle", handle, "error", err.Error())
		return
	}

	if registry != nil {
		for table, rows := range updates {
			for uuidStr, rowUpdate := range rows {
				if rowUpdate.New == nil {
					registry.ClearDeviceOperData(table, uuidStr)
					continue
				}
				u := ovsdb.NewUUID(uuidStr)
				registry.UpdateDeviceOperData(table, uuidStr, &u, rowUpdate.New)
			}
		}
		if queue != nil {
			queue.ProcessReadyJobsFromOpQueue(registry)
		}
	}

	entry.cb.Update(updates, entry.schema)
}

func (c *ovsdbClient) Locked(ids []string) {
	c.opts.Logger.Info("received locked notification for unimplemented lock family", "ids", ids)
}

func (c *ovsdbClient) Stolen(ids []string) {
	c.opts.Logger.Info("received stolen notification for unimplemented lock family", "ids", ids)
}
