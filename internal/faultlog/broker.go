package faultlog

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Broker is an embedded NATS server listening on the logging-proxy port.
type Broker struct {
	ns             *server.Server
	startupTimeout time.Duration
	log            *zap.Logger
}

// NewBroker prepares a broker bound to listen ("host:port").
func NewBroker(listen string, log *zap.Logger) (*Broker, error) {
	host, portStr, err := net.SplitHostPort(listen)
	if err != nil {
		return nil, fmt.Errorf("faultlog listen %q: %w", listen, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("faultlog listen port %q: %w", portStr, err)
	}
	ns, err := server.NewServer(&server.Options{
		Host:   host,
		Port:   port,
		NoSigs: true,
		NoLog:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("create nats server: %w", err)
	}
	return &Broker{ns: ns, startupTimeout: 10 * time.Second, log: log}, nil
}

// Start launches the broker and blocks until it is ready.
func (b *Broker) Start() error {
	b.ns.Start()
	if !b.ns.ReadyForConnections(b.startupTimeout) {
		return fmt.Errorf("nats server not ready for connections")
	}
	b.log.Info("fault broker listening", zap.String("addr", b.ns.Addr().String()))
	return nil
}

// ClientURL is the URL a local client connects to.
func (b *Broker) ClientURL() string {
	return b.ns.ClientURL()
}

// Run blocks until ctx is cancelled, then shuts the broker down.
func (b *Broker) Run(ctx context.Context) error {
	<-ctx.Done()
	b.ns.Shutdown()
	b.ns.WaitForShutdown()
	return nil
}

// Connect dials a NATS server for publishing faults.
func Connect(url string) (*nats.Conn, error) {
	conn, err := nats.Connect(url, nats.Name("realm-faultlog"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return conn, nil
}
