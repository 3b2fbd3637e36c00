package gateway

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	uuid "github.com/hashicorp/go-uuid"
	"golang.org/x/sync/errgroup"

	"github.com/stephnangue/lessor/lease"
	"github.com/stephnangue/lessor/logger"
)

// relayDialTimeout bounds every outbound connection to the relay
const relayDialTimeout = 10 * time.Second

// tunnelHello is the frame sent to the relay on each connection,
// declaring the true target and the caller's identity. It is the only
// part of the relay protocol the engine speaks; everything after it is
// raw bytes.
type tunnelHello struct {
	TargetHost    string `json:"target_host"`
	TargetPort    int    `json:"target_port"`
	IdentityToken string `json:"identity_token"`
	OrgScope      string `json:"org_scope"`
	Session       string `json:"session"`
}

// WithTunnel opens a relay-backed tunnel to targetHost:targetPort and
// invokes fn with the local loopback endpoint standing in for the target.
// The tunnel lives exactly as long as fn: the listener and every proxied
// connection are torn down when fn returns, on success, error or
// cancellation alike. The loopback port is allocated fresh per call.
//
// If the relay cannot be reached or rejects the engine's credentials the
// call fails before fn runs, so no backend session is ever attempted.
func WithTunnel(ctx context.Context, details *RelayDetails, targetHost string, targetPort int, log logger.Logger, fn func(host string, port int) error) error {
	tlsConf, err := clientTLSConfig(details)
	if err != nil {
		return err
	}

	session, err := uuid.GenerateUUID()
	if err != nil {
		return fmt.Errorf("%w: failed to generate session id: %v", lease.ErrGateway, err)
	}

	hello, err := json.Marshal(tunnelHello{
		TargetHost:    targetHost,
		TargetPort:    targetPort,
		IdentityToken: details.IdentityToken,
		OrgScope:      details.OrgScope,
		Session:       session,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", lease.ErrGateway, err)
	}

	// Probe the relay before opening the local listener; a dead relay
	// must fail the whole operation up front.
	probe, err := dialRelay(details.RelayAddress, tlsConf)
	if err != nil {
		return err
	}
	probe.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("%w: failed to open local tunnel port: %v", lease.ErrGateway, err)
	}

	t := &tunnel{
		listener:  ln,
		relayAddr: details.RelayAddress,
		tlsConf:   tlsConf,
		hello:     append(hello, '\n'),
		conns:     make(map[net.Conn]struct{}),
		log: log.WithSubsystem("gateway").WithFields(
			logger.String("session", session),
			logger.String("relay", details.RelayAddress),
		),
	}

	go t.acceptLoop()
	defer t.close()

	// Tear the tunnel down early if the caller's context is canceled
	// while fn is still running.
	stop := context.AfterFunc(ctx, t.close)
	defer stop()

	port := ln.Addr().(*net.TCPAddr).Port
	t.log.Debug("tunnel established", logger.Int("local_port", port))

	return fn("localhost", port)
}

// tunnel forwards bytes between the local listener and the relay
type tunnel struct {
	listener  net.Listener
	relayAddr string
	tlsConf   *tls.Config
	hello     []byte
	log       logger.Logger

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	wg     sync.WaitGroup
	closed atomic.Bool
}

func (t *tunnel) acceptLoop() {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if !t.closed.Load() {
				t.log.Error("tunnel accept failed", logger.Err(err))
			}
			return
		}

		t.track(conn)
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			defer t.untrack(conn)
			t.forward(conn)
		}()
	}
}

// forward proxies one local connection through the relay to the target
func (t *tunnel) forward(local net.Conn) {
	defer local.Close()

	remote, err := dialRelay(t.relayAddr, t.tlsConf)
	if err != nil {
		t.log.Error("relay dial failed", logger.Err(err))
		return
	}
	t.track(remote)
	defer t.untrack(remote)
	defer remote.Close()

	if _, err := remote.Write(t.hello); err != nil {
		t.log.Error("failed to declare tunnel target", logger.Err(err))
		return
	}

	// Either direction finishing closes both sides so the other copy
	// unblocks.
	var once sync.Once
	closeBoth := func() {
		once.Do(func() {
			local.Close()
			remote.Close()
		})
	}

	g := new(errgroup.Group)
	g.Go(func() error {
		defer closeBoth()
		_, err := io.Copy(remote, local)
		return err
	})
	g.Go(func() error {
		defer closeBoth()
		_, err := io.Copy(local, remote)
		return err
	})
	if err := g.Wait(); err != nil && !t.closed.Load() {
		t.log.Trace("tunnel stream closed", logger.Err(err))
	}
}

func (t *tunnel) track(conn net.Conn) {
	t.mu.Lock()
	t.conns[conn] = struct{}{}
	t.mu.Unlock()
}

func (t *tunnel) untrack(conn net.Conn) {
	t.mu.Lock()
	delete(t.conns, conn)
	t.mu.Unlock()
}

// close releases the local port and every in-flight connection. Safe to
// call more than once.
func (t *tunnel) close() {
	if !t.closed.CompareAndSwap(false, true) {
		return
	}

	t.listener.Close()

	t.mu.Lock()
	for conn := range t.conns {
		conn.Close()
	}
	t.mu.Unlock()

	t.wg.Wait()
	t.log.Debug("tunnel closed")
}

// dialRelay opens a mutually-authenticated TLS connection to the relay
func dialRelay(addr string, tlsConf *tls.Config) (*tls.Conn, error) {
	dialer := &net.Dialer{Timeout: relayDialTimeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", addr, tlsConf)
	if err != nil {
		return nil, fmt.Errorf("%w: relay %s: %v", lease.ErrGateway, addr, err)
	}
	return conn, nil
}

// clientTLSConfig builds the TLS config presenting the relay-issued
// client certificate and trusting the relay-issued CA.
func clientTLSConfig(details *RelayDetails) (*tls.Config, error) {
	cert, err := tls.X509KeyPair([]byte(details.ClientCertificate), []byte(details.ClientPrivateKey))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid relay client certificate: %v", lease.ErrGateway, err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM([]byte(details.CACertificate)) {
		return nil, fmt.Errorf("%w: invalid relay CA certificate", lease.ErrGateway)
	}

	host, _, err := net.SplitHostPort(details.RelayAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid relay address %q: %v", lease.ErrGateway, details.RelayAddress, err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		ServerName:   host,
		MinVersion:   tls.VersionTLS12,
	}, nil
}
