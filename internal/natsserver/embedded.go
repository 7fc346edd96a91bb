package natsserver

import (
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/loqalabs/textreel/internal/config"
	"github.com/nats-io/nats-server/v2/server"
)

const readyTimeout = 5 * time.Second

// EmbeddedServer runs NATS with JetStream inside the daemon so a single binary
// can accept render requests and keep the outcome stream.
type EmbeddedServer struct {
	ns  *server.Server
	log *slog.Logger
}

// Start launches the embedded server. It returns nil when the config points at
// an external server. Port -1 picks a free port.
func Start(cfg config.BusConfig, log *slog.Logger) (*EmbeddedServer, error) {
	if !cfg.Embedded {
		return nil, nil
	}
	log = log.With(slog.String("component", "nats-embedded"))

	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}
	storeDir := cfg.StoreDir
	if storeDir == "" {
		storeDir = "./data/nats"
	}
	opts := &server.Options{
		ServerName: "textreel",
		Host:       host,
		Port:       cfg.Port,
		JetStream:  true,
		StoreDir:   storeDir,
		NoSigs:     true,
		NoLog:      true,
	}
	// Clients authenticate with the same credentials the bus client sends.
	switch {
	case cfg.Token != "":
		opts.Authorization = cfg.Token
	case cfg.Username != "":
		opts.Username = cfg.Username
		opts.Password = cfg.Password
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create embedded nats: %w", err)
	}
	go ns.Start()

	if !ns.ReadyForConnections(readyTimeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded nats not ready after %s", readyTimeout)
	}

	e := &EmbeddedServer{ns: ns, log: log}
	log.Info("embedded nats started", slog.String("url", e.ClientURL()), slog.String("store_dir", storeDir))
	return e, nil
}

// ClientURL is the address clients should dial, with the port actually bound.
func (e *EmbeddedServer) ClientURL() string {
	if e == nil || e.ns == nil {
		return ""
	}
	if addr, ok := e.ns.Addr().(*net.TCPAddr); ok {
		host := addr.IP.String()
		if addr.IP.IsUnspecified() {
			host = "127.0.0.1"
		}
		return fmt.Sprintf("nats://%s", net.JoinHostPort(host, fmt.Sprint(addr.Port)))
	}
	return e.ns.ClientURL()
}

// Shutdown stops the server and waits for JetStream to flush.
func (e *EmbeddedServer) Shutdown() {
	if e == nil || e.ns == nil {
		return
	}
	e.log.Info("stopping embedded nats")
	e.ns.Shutdown()
	e.ns.WaitForShutdown()
}
