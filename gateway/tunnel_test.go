package gateway

import (
	"bufio"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stephnangue/lessor/lease"
	"github.com/stephnangue/lessor/logger"
)

// testCA issues the TLS material a relay would hand out: a CA, a server
// certificate for the relay itself and a client certificate for the
// engine.
type testCA struct {
	caPEM     string
	caCert    *x509.Certificate
	caKey     *ecdsa.PrivateKey
	serverTLS tls.Certificate
	clientPEM string
	keyPEM    string
}

func newTestCA(t *testing.T) *testCA {
	t.Helper()

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	caTpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "relay-test-ca"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTpl, caTpl, &caKey.PublicKey, caKey)
	require.NoError(t, err)
	caCert, err := x509.ParseCertificate(caDER)
	require.NoError(t, err)

	ca := &testCA{
		caPEM:  string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: caDER})),
		caCert: caCert,
		caKey:  caKey,
	}

	// Server leaf for the relay listening on loopback
	serverCertPEM, serverKeyPEM := ca.issue(t, &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "relay-server"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	})
	serverTLS, err := tls.X509KeyPair([]byte(serverCertPEM), []byte(serverKeyPEM))
	require.NoError(t, err)
	ca.serverTLS = serverTLS

	// Client leaf for the engine
	ca.clientPEM, ca.keyPEM = ca.issue(t, &x509.Certificate{
		SerialNumber: big.NewInt(3),
		Subject:      pkix.Name{CommonName: "engine-client"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	})

	return ca
}

func (ca *testCA) issue(t *testing.T, tpl *x509.Certificate) (certPEM, keyPEM string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	der, err := x509.CreateCertificate(rand.Reader, tpl, ca.caCert, &key.PublicKey, ca.caKey)
	require.NoError(t, err)

	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})),
		string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}))
}

// fakeRelay accepts mutually-authenticated TLS connections, records the
// hello frame and then echoes every byte back to the engine.
type fakeRelay struct {
	listener net.Listener

	mu     sync.Mutex
	hellos []tunnelHello
}

func newFakeRelay(t *testing.T, ca *testCA, echo bool) *fakeRelay {
	t.Helper()

	clientPool := x509.NewCertPool()
	require.True(t, clientPool.AppendCertsFromPEM([]byte(ca.caPEM)))

	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{
		Certificates: []tls.Certificate{ca.serverTLS},
		ClientCAs:    clientPool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS12,
	})
	require.NoError(t, err)

	r := &fakeRelay{listener: ln}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go r.serve(conn, echo)
		}
	}()

	return r
}

func (r *fakeRelay) serve(conn net.Conn, echo bool) {
	defer conn.Close()

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return
	}

	var hello tunnelHello
	if err := json.Unmarshal(line, &hello); err != nil {
		return
	}
	r.mu.Lock()
	r.hellos = append(r.hellos, hello)
	r.mu.Unlock()

	if echo {
		io.Copy(conn, conn)
	} else {
		// Hold the stream open until the engine tears it down
		io.Copy(io.Discard, conn)
	}
}

func (r *fakeRelay) receivedHellos() []tunnelHello {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]tunnelHello(nil), r.hellos...)
}

func (ca *testCA) details(relayAddr string) *RelayDetails {
	return &RelayDetails{
		RelayAddress:      relayAddr,
		IdentityToken:     "identity-token-1",
		OrgScope:          "org-1",
		CACertificate:     ca.caPEM,
		ClientCertificate: ca.clientPEM,
		ClientPrivateKey:  ca.keyPEM,
	}
}

func testLogger() logger.Logger {
	return logger.NewZerologLogger(logger.DefaultConfig())
}

func TestWithTunnel_EndToEnd(t *testing.T) {
	ca := newTestCA(t)
	relay := newFakeRelay(t, ca, true)

	var tunnelPort int
	err := WithTunnel(context.Background(), ca.details(relay.listener.Addr().String()), "db.internal", 5432, testLogger(), func(host string, port int) error {
		assert.Equal(t, "localhost", host)
		tunnelPort = port

		conn, err := net.Dial("tcp", net.JoinHostPort(host, fmt.Sprint(port)))
		if err != nil {
			return err
		}
		defer conn.Close()

		if _, err := conn.Write([]byte("ping")); err != nil {
			return err
		}
		buf := make([]byte, 4)
		if _, err := io.ReadFull(conn, buf); err != nil {
			return err
		}
		assert.Equal(t, "ping", string(buf))
		return nil
	})
	require.NoError(t, err)

	// Only proxied connections declare the target; the reachability
	// check closes its connection before sending any frame.
	hellos := relay.receivedHellos()
	require.NotEmpty(t, hellos)
	last := hellos[len(hellos)-1]
	assert.Equal(t, "db.internal", last.TargetHost)
	assert.Equal(t, 5432, last.TargetPort)
	assert.Equal(t, "identity-token-1", last.IdentityToken)
	assert.Equal(t, "org-1", last.OrgScope)
	assert.NotEmpty(t, last.Session)

	// The loopback port must be released once the callback returns
	_, err = net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", fmt.Sprint(tunnelPort)), 500*time.Millisecond)
	assert.Error(t, err)
}

func TestWithTunnel_FreshPortPerCall(t *testing.T) {
	ca := newTestCA(t)
	relay := newFakeRelay(t, ca, true)
	details := ca.details(relay.listener.Addr().String())

	ports := make(map[int]bool)
	for i := 0; i < 3; i++ {
		err := WithTunnel(context.Background(), details, "db.internal", 5432, testLogger(), func(host string, port int) error {
			ports[port] = true
			return nil
		})
		require.NoError(t, err)
	}
	assert.Len(t, ports, 3)
}

func TestWithTunnel_RelayUnreachable(t *testing.T) {
	ca := newTestCA(t)

	// Grab a port that is certainly closed
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	called := false
	err = WithTunnel(context.Background(), ca.details(addr), "db.internal", 5432, testLogger(), func(host string, port int) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, lease.ErrGateway)
	assert.False(t, called, "callback must not run when the relay is unreachable")
}

func TestWithTunnel_UntrustedClient(t *testing.T) {
	serverCA := newTestCA(t)
	otherCA := newTestCA(t)
	relay := newFakeRelay(t, serverCA, true)

	// Client material from a different CA: the relay rejects the
	// handshake, so the engine must fail before the callback.
	details := serverCA.details(relay.listener.Addr().String())
	details.ClientCertificate = otherCA.clientPEM
	details.ClientPrivateKey = otherCA.keyPEM

	called := false
	err := WithTunnel(context.Background(), details, "db.internal", 5432, testLogger(), func(host string, port int) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, lease.ErrGateway)
	assert.False(t, called)
}

func TestWithTunnel_BadMaterial(t *testing.T) {
	ca := newTestCA(t)

	t.Run("garbage client certificate", func(t *testing.T) {
		details := ca.details("relay.example.com:8443")
		details.ClientCertificate = "not-pem"
		err := WithTunnel(context.Background(), details, "db.internal", 5432, testLogger(), func(string, int) error { return nil })
		require.Error(t, err)
		assert.ErrorIs(t, err, lease.ErrGateway)
	})

	t.Run("garbage CA certificate", func(t *testing.T) {
		details := ca.details("relay.example.com:8443")
		details.CACertificate = "not-pem"
		err := WithTunnel(context.Background(), details, "db.internal", 5432, testLogger(), func(string, int) error { return nil })
		require.Error(t, err)
		assert.ErrorIs(t, err, lease.ErrGateway)
	})

	t.Run("relay address without port", func(t *testing.T) {
		details := ca.details("relay.example.com")
		err := WithTunnel(context.Background(), details, "db.internal", 5432, testLogger(), func(string, int) error { return nil })
		require.Error(t, err)
		assert.ErrorIs(t, err, lease.ErrGateway)
	})
}

func TestWithTunnel_ContextCancelTearsDown(t *testing.T) {
	ca := newTestCA(t)
	relay := newFakeRelay(t, ca, false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := WithTunnel(ctx, ca.details(relay.listener.Addr().String()), "db.internal", 5432, testLogger(), func(host string, port int) error {
		conn, err := net.Dial("tcp", net.JoinHostPort(host, fmt.Sprint(port)))
		if err != nil {
			return err
		}
		defer conn.Close()

		if _, err := conn.Write([]byte("ping")); err != nil {
			return err
		}

		// The relay never answers; cancellation must close the proxied
		// connection and unblock this read.
		go func() {
			time.Sleep(100 * time.Millisecond)
			cancel()
		}()

		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, err = conn.Read(make([]byte, 1))
		assert.Error(t, err)
		return nil
	})
	require.NoError(t, err)
}

func TestStaticDirectory(t *testing.T) {
	dir := NewStaticDirectory()
	details := &RelayDetails{RelayAddress: "relay.example.com:8443"}
	dir.Register("relay-1", details)

	t.Run("known relay", func(t *testing.T) {
		got, err := dir.ResolveRelay(context.Background(), "relay-1")
		require.NoError(t, err)
		assert.Equal(t, details, got)
	})

	t.Run("unknown relay", func(t *testing.T) {
		_, err := dir.ResolveRelay(context.Background(), "relay-2")
		require.Error(t, err)
		assert.ErrorIs(t, err, lease.ErrGateway)
	})
}
