package client

import (
	"crypto/tls"
	stdlog "log"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
)

// ConnectionType records who initiated the TCP session (spec §6).
type ConnectionType int

const (
	Active ConnectionType = iota
	Passive
)

// SocketConnectionType governs worker-thread naming conventions only in
// the core (spec §6); it does not itself decide whether TLS is used - that
// is implied by the "ssl://" endpoint scheme.
type SocketConnectionType int

const (
	NonSSL SocketConnectionType = iota
	SSL
)

const (
	// DefaultInTransitExpiry is spec §3's default for how long a
	// DeviceData entry may sit IN_TRANSIT before it is considered stale.
	DefaultInTransitExpiry = 30 * time.Second
	// NoTimeout disables an RPC deadline.
	NoTimeout time.Duration = 0
)

// Options collects every configuration knob spec §6 names, plus the
// ambient plumbing (logger, reconnect backoff, worker pool size, TLS)
// needed to actually run a connection.
type Options struct {
	Endpoint              string
	ConnectionType        ConnectionType
	SocketConnectionType  SocketConnectionType
	TLSConfig             *tls.Config
	TLSCertFile           string
	TLSKeyFile            string
	InTransitExpiry       time.Duration
	MonitorDefaultTimeout time.Duration
	Logger                logr.Logger
	ReconnectTimeout      time.Duration
	Backoff               backoff.BackOff
	WorkerCount           int
}

func defaultOptions() *Options {
	return &Options{
		ConnectionType:        Active,
		SocketConnectionType:  NonSSL,
		InTransitExpiry:       DefaultInTransitExpiry,
		MonitorDefaultTimeout: NoTimeout,
		Logger:                stdr.New(stdlog.New(os.Stderr, "", stdlog.LstdFlags)),
		Backoff:               &backoff.ZeroBackOff{},
	}
}

// Option configures Options via the functional-options pattern, matching
// the teacher's []client.Option construction style.
type Option func(*Options)

func WithEndpoint(endpoint string) Option {
	return func(o *Options) { o.Endpoint = endpoint }
}

func WithConnectionType(t ConnectionType) Option {
	return func(o *Options) { o.ConnectionType = t }
}

func WithSocketConnectionType(t SocketConnectionType) Option {
	return func(o *Options) { o.SocketConnectionType = t }
}

func WithTLSConfig(cfg *tls.Config) Option {
	return func(o *Options) { o.TLSConfig = cfg }
}

// WithTLSCertReload additionally arranges for the cert/key pair to be
// hot-reloaded on change, matching the teacher's newSSLKeyPairWatcherFunc.
func WithTLSCertReload(certFile, keyFile string) Option {
	return func(o *Options) { o.TLSCertFile, o.TLSKeyFile = certFile, keyFile }
}

func WithInTransitExpiry(d time.Duration) Option {
	return func(o *Options) { o.InTransitExpiry = d }
}

func WithMonitorDefaultTimeout(d time.Duration) Option {
	return func(o *Options) { o.MonitorDefaultTimeout = d }
}

func WithLogger(l logr.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithReconnect matches the teacher's client.WithReconnect(timeout,
// backoff.BackOff) call site; timeout bounds a single reconnect attempt.
func WithReconnect(timeout time.Duration, b backoff.BackOff) Option {
	return func(o *Options) {
		o.ReconnectTimeout = timeout
		o.Backoff = b
	}
}

func WithWorkerCount(n int) Option {
	return func(o *Options) { o.WorkerCount = n }
}

func newOptions(opts ...Option) *Options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return o
}
