package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jhoicas/warehouse-monitor/pkg/config"
)

const (
	defaultMaxConns = 25
	defaultPort     = "5432"
	// DNS público de respaldo cuando el del contenedor solo devuelve AAAA.
	fallbackNameserver = "8.8.8.8:53"
)

var errNoIPv4 = errors.New("sin dirección IPv4")

// NewPool abre el pool de los ledgers con el DSN de cfg (DATABASE_URL o DB_HOST, DB_PORT, ...).
// El host se fija a su IPv4 cuando se puede resolver.
func NewPool(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	resolver := newIPv4Resolver(fallbackNameserver)
	return openPool(ctx, resolver.pin(ctx, cfg.ConnectionString()), cfg.MaxConns, resolver)
}

// NewPoolFromDSN abre el pool tal cual (tests con testcontainers).
func NewPoolFromDSN(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	return openPool(ctx, dsn, 0, nil)
}

func openPool(ctx context.Context, dsn string, maxConns int32, resolver *ipv4Resolver) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}
	if resolver != nil {
		poolConfig.ConnConfig.DialFunc = resolver.dial
	}

	poolConfig.MaxConns = defaultMaxConns
	if maxConns > 0 {
		poolConfig.MaxConns = maxConns
	}
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	// transit_seconds es NUMERIC: se lee y escribe como decimal.Decimal
	poolConfig.AfterConnect = func(_ context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("crear pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping DB: %w", err)
	}
	return pool, nil
}

// ipv4Resolver resuelve hosts a IPv4: primero el resolver del sistema y luego un nameserver
// externo. Docker suele no tener IPv6 y algunos proveedores publican solo AAAA internamente.
type ipv4Resolver struct {
	fallback *net.Resolver
}

func newIPv4Resolver(nameserver string) *ipv4Resolver {
	r := &ipv4Resolver{}
	if nameserver != "" {
		r.fallback = &net.Resolver{
			PreferGo: true,
			Dial: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "udp", nameserver)
			},
		}
	}
	return r
}

func (r *ipv4Resolver) lookup(ctx context.Context, host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		if ip.To4() == nil {
			return "", fmt.Errorf("%s: %w", host, errNoIPv4)
		}
		return host, nil
	}
	ip, err := firstIPv4(ctx, net.DefaultResolver, host)
	if err == nil || r.fallback == nil {
		return ip, err
	}
	return firstIPv4(ctx, r.fallback, host)
}

func firstIPv4(ctx context.Context, res *net.Resolver, host string) (string, error) {
	ips, err := res.LookupIP(ctx, "ip4", host)
	if err != nil {
		return "", err
	}
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			return v4.String(), nil
		}
	}
	return "", fmt.Errorf("%s: %w", host, errNoIPv4)
}

// pin reescribe el host de un DSN en forma URL por su IPv4. Ante cualquier fallo lo deja igual.
func (r *ipv4Resolver) pin(ctx context.Context, dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.Host == "" {
		return dsn
	}
	ip, err := r.lookup(ctx, u.Hostname())
	if err != nil {
		return dsn
	}
	port := u.Port()
	if port == "" {
		port = defaultPort
	}
	u.Host = net.JoinHostPort(ip, port)
	return u.String()
}

// dial DialFunc del pool: tcp4 contra la IPv4 resuelta, o dial normal si no la hay.
func (r *ipv4Resolver) dial(ctx context.Context, network, addr string) (net.Conn, error) {
	var d net.Dialer
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	ip, err := r.lookup(ctx, host)
	if err != nil {
		return d.DialContext(ctx, network, addr)
	}
	return d.DialContext(ctx, "tcp4", net.JoinHostPort(ip, port))
}
