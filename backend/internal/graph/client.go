package graph

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	apperrors "dune-rag/backend/pkg/errors"
	"dune-rag/backend/pkg/logger"
)

// Client handles all Neo4j operations of the knowledge graph: schema
// introspection, read-only query execution, vector search and the writes
// the ingest pipeline needs.
type Client struct {
	driver   neo4j.DriverWithContext
	database string
	timeout  time.Duration
	logger   *zap.Logger

	mu         sync.RWMutex
	schema     *Schema
	loadedAt   time.Time
	schemaTTL  time.Duration
	introspect func(ctx context.Context) (*Schema, error)
	now        func() time.Time
}

// DefaultSchemaTTL is how long an introspected schema is reused
const DefaultSchemaTTL = 5 * time.Minute

// NewClient creates a new graph client. timeout bounds every individual
// database call; zero means only the caller's context applies.
func NewClient(driver neo4j.DriverWithContext, database string, timeout time.Duration) *Client {
	c := &Client{
		driver:    driver,
		database:  database,
		timeout:   timeout,
		logger:    logger.Named("graph"),
		schemaTTL: DefaultSchemaTTL,
		now:       time.Now,
	}
	c.introspect = c.readSchema
	return c
}

// SetSchemaTTL changes how long a schema is reused. Zero or less re-reads the
// schema on every call.
func (c *Client) SetSchemaTTL(ttl time.Duration) {
	c.mu.Lock()
	c.schemaTTL = ttl
	c.mu.Unlock()
}

// Driver exposes the underlying driver so other stores can share the pool
func (c *Client) Driver() neo4j.DriverWithContext {
	return c.driver
}

// Database returns the configured database name (empty means the server default)
func (c *Client) Database() string {
	return c.database
}

// Ping verifies the driver can reach the server
func (c *Client) Ping(ctx context.Context) error {
	if err := c.driver.VerifyConnectivity(ctx); err != nil {
		target := c.driver.Target()
		return apperrors.NewGraphConnectionFailed(target.String(), err)
	}
	return nil
}

// Close closes the Neo4j driver connection
func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

// Query runs a read-only Cypher statement and returns at most maxRows rows,
// each as a column → value map with graph values converted to plain maps.
// maxRows <= 0 returns every row.
func (c *Client) Query(ctx context.Context, cypher string, params map[string]interface{}, maxRows int) ([]map[string]interface{}, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	session := c.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: c.database,
	})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		rows := make([]map[string]interface{}, 0)
		for res.Next(ctx) {
			rows = append(rows, recordToMap(res.Record()))
			if maxRows > 0 && len(rows) >= maxRows {
				break
			}
		}
		if err := res.Err(); err != nil {
			return nil, err
		}
		return rows, nil
	})
	if err != nil {
		return nil, c.classify(ctx, cypher, err)
	}

	rows := result.([]map[string]interface{})
	c.logger.Debug("Query executed",
		zap.Int("rows", len(rows)),
		zap.Int("max_rows", maxRows),
	)
	return rows, nil
}

// Write runs a Cypher statement in a write transaction, discarding results
func (c *Client) Write(ctx context.Context, cypher string, params map[string]interface{}) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	session := c.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: c.database,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		_, err = res.Consume(ctx)
		return nil, err
	})
	if err != nil {
		return c.classify(ctx, cypher, err)
	}
	return nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout > 0 {
		return context.WithTimeout(ctx, c.timeout)
	}
	return context.WithCancel(ctx)
}

// classify maps driver failures onto the typed error kinds: statement errors
// raised by the server mean the query itself is bad, anything else means the
// store is unavailable or failed.
func (c *Client) classify(ctx context.Context, cypher string, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return apperrors.NewContextTimeout("graph query", c.timeout, err)
	}

	var neoErr *neo4j.Neo4jError
	if errors.As(err, &neoErr) && isStatementError(neoErr.Code) {
		c.logger.Warn("Query rejected by database",
			zap.String("code", neoErr.Code),
			zap.String("query", cypher),
		)
		return apperrors.NewQueryInvalid(cypher, neoErr.Code, err)
	}

	c.logger.Error("Graph query failed", zap.Error(err))
	return apperrors.NewGraphQueryFailed(cypher, err)
}

func isStatementError(code string) bool {
	return strings.HasPrefix(code, "Neo.ClientError.Statement.") ||
		strings.HasPrefix(code, "Neo.ClientError.Procedure.")
}
