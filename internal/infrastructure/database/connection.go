package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/davidleathers/adaptive-auth-backend/internal/infrastructure/config"
)

// ConnectionPool wraps the pgx pool with health checks and basic
// connection metrics. Profiles and auth events share one single-node
// PostgreSQL instance; there is no replica routing.
type ConnectionPool struct {
	pool            *pgxpool.Pool
	config          *config.DatabaseConfig
	logger          *zap.Logger
	healthCheckStop chan struct{}
	stopOnce        sync.Once

	metricsMu sync.RWMutex
	metrics   ConnectionMetrics
}

// ConnectionMetrics tracks database performance metrics
type ConnectionMetrics struct {
	TotalConnections  int64
	ActiveConnections int64
	IdleConnections   int64

	TransactionsStarted    int64
	TransactionsCommitted  int64
	TransactionsRolledBack int64

	LastHealthCheck time.Time
	LastHealthError string
}

// NewConnectionPool creates the pool and verifies connectivity before
// returning it.
func NewConnectionPool(cfg *config.DatabaseConfig, logger *zap.Logger) (*ConnectionPool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	p := &ConnectionPool{
		config:          cfg,
		logger:          logger,
		healthCheckStop: make(chan struct{}),
	}
	p.configurePgxPool(poolConfig)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p.pool, err = pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := p.pool.Ping(ctx); err != nil {
		p.pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	go p.healthCheckRoutine()

	logger.Info("database connection pool initialized",
		zap.Int32("max_connections", poolConfig.MaxConns))

	return p, nil
}

// configurePgxPool applies pool sizing and per-connection runtime parameters.
func (p *ConnectionPool) configurePgxPool(poolConfig *pgxpool.Config) {
	if p.config.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(p.config.MaxOpenConns)
	} else {
		poolConfig.MaxConns = 25
	}
	if p.config.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(p.config.MaxIdleConns)
	} else {
		poolConfig.MinConns = 5
	}
	if p.config.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = p.config.ConnMaxLifetime
	} else {
		poolConfig.MaxConnLifetime = 30 * time.Minute
	}
	poolConfig.MaxConnIdleTime = 10 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	poolConfig.ConnConfig.ConnectTimeout = 5 * time.Second

	poolConfig.ConnConfig.RuntimeParams = map[string]string{
		"application_name":  "adaptive_auth_backend",
		"timezone":          "UTC",
		"lock_timeout":      "10s",
		"statement_timeout": "30s",
	}

	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		p.metricsMu.Lock()
		p.metrics.TotalConnections++
		p.metricsMu.Unlock()
		return nil
	}
}

// Pool returns the underlying pgx pool.
func (p *ConnectionPool) Pool() *pgxpool.Pool {
	return p.pool
}

// GetDB returns a standard database/sql DB backed by the same pool, for the
// repository layer.
func (p *ConnectionPool) GetDB() *sql.DB {
	return stdlib.OpenDBFromPool(p.pool)
}

// Transaction executes a function within a database transaction
func (p *ConnectionPool) Transaction(ctx context.Context, fn func(pgx.Tx) error) error {
	p.metricsMu.Lock()
	p.metrics.TransactionsStarted++
	p.metricsMu.Unlock()

	err := pgx.BeginTxFunc(ctx, p.pool, pgx.TxOptions{}, fn)

	p.metricsMu.Lock()
	if err != nil {
		p.metrics.TransactionsRolledBack++
	} else {
		p.metrics.TransactionsCommitted++
	}
	p.metricsMu.Unlock()

	return err
}

// Healthy pings the database; readiness probes call this.
func (p *ConnectionPool) Healthy(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return p.pool.Ping(ctx)
}

// Metrics returns a snapshot of the pool's counters.
func (p *ConnectionPool) Metrics() ConnectionMetrics {
	stats := p.pool.Stat()

	p.metricsMu.RLock()
	defer p.metricsMu.RUnlock()

	snapshot := p.metrics
	snapshot.ActiveConnections = int64(stats.AcquiredConns())
	snapshot.IdleConnections = int64(stats.IdleConns())
	return snapshot
}

func (p *ConnectionPool) healthCheckRoutine() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.performHealthCheck()
		case <-p.healthCheckStop:
			return
		}
	}
}

func (p *ConnectionPool) performHealthCheck() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var healthErr string
	if err := p.pool.Ping(ctx); err != nil {
		p.logger.Error("database health check failed", zap.Error(err))
		healthErr = err.Error()
	}

	p.metricsMu.Lock()
	p.metrics.LastHealthCheck = time.Now()
	p.metrics.LastHealthError = healthErr
	p.metricsMu.Unlock()
}

// Close closes the pool and stops the health checker.
func (p *ConnectionPool) Close() error {
	p.stopOnce.Do(func() {
		close(p.healthCheckStop)
	})
	p.pool.Close()
	p.logger.Info("database connection pool closed")
	return nil
}
