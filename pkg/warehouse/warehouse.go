// Package warehouse implements the WarehouseClient (C3): a synchronous
// executor for parameterized SQL against the analytics warehouse. Grounded
// on original_source/backend/lab/core/clickhouse.py's ClickHouseClient,
// ported from Python SQLAlchemy to the real ClickHouse Go driver
// (github.com/ClickHouse/clickhouse-go/v2) — see DESIGN.md for why this
// dependency is named without a pack-internal grounding repo.
package warehouse

import (
	"context"
	"database/sql"

	clickhouse "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ethpandaops/lab/internal/errs"
	"github.com/ethpandaops/lab/pkg/metrics"
	"github.com/rs/zerolog"
)

// Client wraps a single long-lived ClickHouse connection. Reconnection is
// not implemented per spec.md §4.3: errors are surfaced verbatim.
type Client struct {
	url    string
	db     *sql.DB
	logger zerolog.Logger
}

// New builds a Client against the given DSN.
func New(url string, logger zerolog.Logger) *Client {
	return &Client{url: url, logger: logger}
}

// Start opens the connection and verifies it with a trivial query.
func (c *Client) Start(ctx context.Context) error {
	c.logger.Info().Msg("starting clickhouse client")
	opts, err := clickhouse.ParseDSN(c.url)
	if err != nil {
		return errs.New(errs.Fatal, "warehouse.Start", err)
	}
	c.db = clickhouse.OpenDB(opts)

	if _, err := c.db.ExecContext(ctx, "SELECT 1"); err != nil {
		c.logger.Error().Err(err).Msg("failed to connect to clickhouse")
		return errs.New(errs.Fatal, "warehouse.Start", err)
	}
	c.logger.Info().Msg("successfully connected to clickhouse")
	return nil
}

// Stop closes the connection.
func (c *Client) Stop() error {
	c.logger.Info().Msg("stopping clickhouse client")
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

// Rows is the row-iterator contract returned by Query, kept minimal so
// callers in pkg/beacon don't depend on database/sql directly.
type Rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
	Close() error
}

// Query executes a parameterized SQL statement using ClickHouse named
// arguments and returns a row iterator. Calls may block; in Go this simply
// runs on the calling goroutine — see SPEC_FULL.md §5 for why no separate
// worker-pool offload is needed here.
func (c *Client) Query(ctx context.Context, query string, namedArgs map[string]interface{}) (Rows, error) {
	if c.db == nil {
		return nil, errs.New(errs.Fatal, "warehouse.Query", errNotStarted{})
	}
	args := make([]interface{}, 0, len(namedArgs))
	for k, v := range namedArgs {
		args = append(args, sql.Named(k, v))
	}

	timer := metrics.NewTimer()
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		timer.ObserveDurationVec(metrics.WarehouseQueryDuration, "failure")
		metrics.WarehouseQueriesTotal.WithLabelValues("failure").Inc()
		return nil, errs.New(errs.Transient, "warehouse.Query", err)
	}
	timer.ObserveDurationVec(metrics.WarehouseQueryDuration, "success")
	metrics.WarehouseQueriesTotal.WithLabelValues("success").Inc()
	return rows, nil
}

type errNotStarted struct{}

func (errNotStarted) Error() string { return "client not started" }
