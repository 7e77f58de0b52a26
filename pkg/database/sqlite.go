package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"monarch-pipeline/pkg/logging"
	"monarch-pipeline/pkg/metrics"
)

// WindArchive wraps a read-only connection to one meter's SQLite archive
// (a `<meter>.s3db` file with a Wind(time, speed, gust) table).
type WindArchive struct {
	db      *sqlx.DB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
	path    string
}

// OpenWindArchive opens a wind archive file read-only.
func OpenWindArchive(path string, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) (*WindArchive, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro", path)

	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open wind archive %s: %w", path, err)
	}

	// A single reader is enough for batch sweeps over a local file.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping wind archive %s: %w", path, err)
	}

	logger.Debug(context.Background(), "[DB_INIT] Wind archive opened", logging.Fields{
		"path": path,
	})

	return &WindArchive{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
		path:    path,
	}, nil
}

// Close closes the archive connection.
func (a *WindArchive) Close() error {
	a.logger.Debug(context.Background(), "[DB_CLOSE] Closing wind archive", logging.Fields{
		"path": a.path,
	})
	return a.db.Close()
}

// DB returns the underlying sqlx.DB instance.
func (a *WindArchive) DB() *sqlx.DB {
	return a.db
}

// QueryContext executes a query with context and metrics.
func (a *WindArchive) QueryContext(ctx context.Context, queryType, query string, args ...interface{}) (*sqlx.Rows, error) {
	timer := time.Now()
	defer func() {
		duration := time.Since(timer)
		a.metrics.DBQueryDuration.WithLabelValues(queryType).Observe(duration.Seconds())

		a.logger.Debug(ctx, "[DB_QUERY] Query executed", logging.Fields{
			"query_type":  queryType,
			"duration_ms": duration.Milliseconds(),
			"path":        a.path,
		})
	}()

	rows, err := a.db.QueryxContext(ctx, query, args...)
	if err != nil {
		a.metrics.RecordDBError("query_error")
		a.logger.Error(ctx, "[DB_QUERY_ERROR] Query failed", logging.Fields{
			"query_type": queryType,
			"path":       a.path,
		}, err)
		return nil, err
	}

	return rows, nil
}

// GetContext executes a query that returns a single row.
func (a *WindArchive) GetContext(ctx context.Context, queryType string, dest interface{}, query string, args ...interface{}) error {
	timer := time.Now()
	defer func() {
		duration := time.Since(timer)
		a.metrics.DBQueryDuration.WithLabelValues(queryType).Observe(duration.Seconds())
	}()

	err := a.db.GetContext(ctx, dest, query, args...)
	if err != nil && err != sql.ErrNoRows {
		a.metrics.RecordDBError("get_error")
		a.logger.Error(ctx, "[DB_GET_ERROR] Get query failed", logging.Fields{
			"query_type": queryType,
			"path":       a.path,
		}, err)
	}

	return err
}

// SelectContext executes a query that returns multiple rows.
func (a *WindArchive) SelectContext(ctx context.Context, queryType string, dest interface{}, query string, args ...interface{}) error {
	timer := time.Now()
	defer func() {
		duration := time.Since(timer)
		a.metrics.DBQueryDuration.WithLabelValues(queryType).Observe(duration.Seconds())
	}()

	err := a.db.SelectContext(ctx, dest, query, args...)
	if err != nil {
		a.metrics.RecordDBError("select_error")
		a.logger.Error(ctx, "[DB_SELECT_ERROR] Select query failed", logging.Fields{
			"query_type": queryType,
			"path":       a.path,
		}, err)
		return err
	}

	return nil
}

// HealthCheck performs an archive health check.
func (a *WindArchive) HealthCheck(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := a.db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("wind archive health check failed: %w", err)
	}

	return nil
}
