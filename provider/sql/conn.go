package sql

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	uuid "github.com/hashicorp/go-uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	go_ora "github.com/sijms/go-ora/v2"

	_ "github.com/microsoft/go-mssqldb"

	"github.com/stephnangue/lessor/lease"
)

// ConnectTimeout bounds session acquisition for every dialect
const ConnectTimeout = 10 * time.Second

// session is a single-use backend session. Close must be called on every
// exit path; it is safe to call once and only once per session.
type session struct {
	db      *sql.DB
	cleanup func()
}

func (s *session) Close() error {
	err := s.db.Close()
	if s.cleanup != nil {
		s.cleanup()
	}
	return err
}

// open builds a client session to host:port using the administrative
// credentials in cfg. host and port may be a tunnel's local endpoint
// rather than the real target. TLS is enabled when a CA certificate is
// present; MSSQL shapes its TLS options differently (see mssqlDSN).
func (d Dialect) open(ctx context.Context, cfg *Config, host string, port int) (*session, error) {
	var (
		dsn     string
		cleanup func()
		err     error
	)

	switch d.Name {
	case KindPostgres:
		dsn, cleanup, err = postgresDSN(cfg, host, port)
	case KindMySQL:
		dsn, cleanup, err = mysqlDSN(cfg, host, port)
	case KindMSSQL:
		dsn, cleanup, err = mssqlDSN(cfg, host, port)
	case KindOracle:
		dsn, err = oracleDSN(cfg, host, port)
	default:
		return nil, fmt.Errorf("%w: unsupported dialect %q", lease.ErrValidation, d.Name)
	}
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(d.DriverName, dsn)
	if err != nil {
		if cleanup != nil {
			cleanup()
		}
		return nil, fmt.Errorf("%w: %v", lease.ErrConnection, err)
	}
	sess := &session{db: db, cleanup: cleanup}

	// One lifecycle call, one connection. The pool must never hand the
	// transaction and the liveness probe different sessions.
	sess.db.SetMaxOpenConns(1)
	sess.db.SetMaxIdleConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()

	if err := sess.db.PingContext(pingCtx); err != nil {
		sess.Close()
		return nil, fmt.Errorf("%w: %s %s:%d: %v", lease.ErrConnection, d.Name, host, port, err)
	}

	return sess, nil
}

func postgresDSN(cfg *Config, host string, port int) (string, func(), error) {
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.AdminUsername, cfg.AdminPassword),
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   "/" + cfg.Database,
	}
	q := u.Query()
	q.Set("connect_timeout", "10")
	if cfg.CACertificate == "" {
		q.Set("sslmode", "disable")
	}
	u.RawQuery = q.Encode()

	connCfg, err := pgx.ParseConfig(u.String())
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", lease.ErrConnection, err)
	}

	if cfg.CACertificate != "" {
		pool, err := caPool(cfg.CACertificate)
		if err != nil {
			return "", nil, err
		}
		connCfg.TLSConfig = &tls.Config{
			RootCAs:    pool,
			ServerName: cfg.Host,
			MinVersion: tls.VersionTLS12,
		}
	}

	// Registration is keyed globally in the stdlib adapter, one entry per
	// session; the session's cleanup unregisters it.
	dsn := stdlib.RegisterConnConfig(connCfg)
	return dsn, func() { stdlib.UnregisterConnConfig(dsn) }, nil
}

func mysqlDSN(cfg *Config, host string, port int) (string, func(), error) {
	mysqlCfg := gomysql.NewConfig()
	mysqlCfg.User = cfg.AdminUsername
	mysqlCfg.Passwd = cfg.AdminPassword
	mysqlCfg.Net = "tcp"
	mysqlCfg.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	mysqlCfg.DBName = cfg.Database
	mysqlCfg.Timeout = ConnectTimeout

	var cleanup func()
	if cfg.CACertificate != "" {
		pool, err := caPool(cfg.CACertificate)
		if err != nil {
			return "", nil, err
		}
		// TLS config registration is keyed globally in the driver, so
		// each session registers under a unique name.
		key, err := uuid.GenerateUUID()
		if err != nil {
			return "", nil, fmt.Errorf("%w: %v", lease.ErrConnection, err)
		}
		if err := gomysql.RegisterTLSConfig(key, &tls.Config{
			RootCAs:    pool,
			ServerName: cfg.Host,
			MinVersion: tls.VersionTLS12,
		}); err != nil {
			return "", nil, fmt.Errorf("%w: %v", lease.ErrConnection, err)
		}
		mysqlCfg.TLSConfig = key
		cleanup = func() { gomysql.DeregisterTLSConfig(key) }
	}

	return mysqlCfg.FormatDSN(), cleanup, nil
}

// mssqlDSN shapes TLS differently from the other dialects: without a CA
// the server certificate is accepted untrusted, with one the CA is handed
// to the driver's crypto layer via a certificate file.
func mssqlDSN(cfg *Config, host string, port int) (string, func(), error) {
	u := &url.URL{
		Scheme: "sqlserver",
		User:   url.UserPassword(cfg.AdminUsername, cfg.AdminPassword),
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
	}
	q := u.Query()
	q.Set("database", cfg.Database)
	q.Set("encrypt", "true")
	q.Set("dial timeout", "10")

	var cleanup func()
	if cfg.CACertificate == "" {
		q.Set("trustservercertificate", "true")
	} else {
		// The driver reads trust material from a file path
		caFile, err := os.CreateTemp("", "lessor-mssql-ca-*.pem")
		if err != nil {
			return "", nil, fmt.Errorf("%w: %v", lease.ErrConnection, err)
		}
		if _, err := caFile.WriteString(cfg.CACertificate); err != nil {
			caFile.Close()
			os.Remove(caFile.Name())
			return "", nil, fmt.Errorf("%w: %v", lease.ErrConnection, err)
		}
		caFile.Close()
		cleanup = func() { os.Remove(caFile.Name()) }

		q.Set("trustservercertificate", "false")
		q.Set("certificate", caFile.Name())
		q.Set("hostnameincertificate", cfg.Host)
	}
	u.RawQuery = q.Encode()

	return u.String(), cleanup, nil
}

func oracleDSN(cfg *Config, host string, port int) (string, error) {
	opts := map[string]string{
		"TIMEOUT": "10",
	}
	if cfg.CACertificate != "" {
		// go-ora takes trust material as a wallet directory; server
		// identity is not pinned to the configured CA here.
		opts["SSL"] = "TRUE"
		opts["SSL VERIFY"] = "FALSE"
	}

	return go_ora.BuildUrl(host, port, cfg.Database, cfg.AdminUsername, cfg.AdminPassword, opts), nil
}

func caPool(caPEM string) (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM([]byte(caPEM)) {
		return nil, fmt.Errorf("%w: invalid CA certificate", lease.ErrValidation)
	}
	return pool, nil
}
