// Package cluster wraps the gocql driver behind the narrow surface the
// sweep needs: schema discovery and range-scoped repair reads.
package cluster

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gocql/gocql"
	"github.com/scylladb/gocqlx/v2"
	"github.com/scylladb/gocqlx/v2/qb"

	"github.com/cqlops/cql-repairer/internal/token"
)

// Config carries everything needed to open a session.
type Config struct {
	Hosts    []string
	Username string
	Password string
	CACert   string // path to a CA certificate bundle; enables TLS
	Timeout  time.Duration
	Keyspace string // optional; sessions for table drivers bind to one
}

// clusterConfig translates Config into gocql's cluster settings. Wire
// compression stays off; the repair reads are count-only and the
// sweep is bounded by the cluster, not the network.
func (c Config) clusterConfig() *gocql.ClusterConfig {
	cluster := gocql.NewCluster(c.Hosts...)
	cluster.Timeout = c.Timeout
	cluster.ConnectTimeout = c.Timeout
	if c.Keyspace != "" {
		cluster.Keyspace = c.Keyspace
	}
	if c.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: c.Username,
			Password: c.Password,
		}
	}
	if c.CACert != "" {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 c.CACert,
			EnableHostVerification: false,
		}
	}
	return cluster
}

// Client owns one gocql session. Each table driver gets its own Client
// so sessions are never shared across sweep workers.
type Client struct {
	session gocqlx.Session
}

// Connect opens a session against the configured contact points.
func Connect(cfg Config) (*Client, error) {
	session, err := gocqlx.WrapSession(cfg.clusterConfig().CreateSession())
	if err != nil {
		return nil, errors.Wrapf(err, "connect to %s", strings.Join(cfg.Hosts, ","))
	}
	return &Client{session: session}, nil
}

// Close tears down the session.
func (c *Client) Close() {
	c.session.Close()
}

// Keyspaces lists every keyspace known to the cluster, system
// keyspaces included.
func (c *Client) Keyspaces(ctx context.Context) ([]string, error) {
	stmt, names := qb.Select("system_schema.keyspaces").
		Columns("keyspace_name").
		ToCql()

	var keyspaces []string
	if err := c.session.Query(stmt, names).WithContext(ctx).SelectRelease(&keyspaces); err != nil {
		return nil, errors.Wrap(err, "list keyspaces")
	}
	return keyspaces, nil
}

// Tables lists the tables of one keyspace.
func (c *Client) Tables(ctx context.Context, keyspace string) ([]string, error) {
	stmt, names := qb.Select("system_schema.tables").
		Columns("table_name").
		Where(qb.Eq("keyspace_name")).
		ToCql()

	var tables []string
	q := c.session.Query(stmt, names).WithContext(ctx).BindMap(qb.M{"keyspace_name": keyspace})
	if err := q.SelectRelease(&tables); err != nil {
		return nil, errors.Wrapf(err, "list tables of %s", keyspace)
	}
	return tables, nil
}

// PartitionKeyColumns resolves the partition key of a table in column
// order, from the driver's schema metadata.
func (c *Client) PartitionKeyColumns(keyspace, table string) ([]string, error) {
	md, err := c.session.KeyspaceMetadata(keyspace)
	if err != nil {
		return nil, errors.Wrapf(err, "keyspace metadata for %s", keyspace)
	}
	tableMeta, ok := md.Tables[table]
	if !ok {
		return nil, errors.Newf("table %s.%s not found in schema metadata", keyspace, table)
	}

	columns := make([]string, 0, len(tableMeta.PartitionKey))
	for _, col := range tableMeta.PartitionKey {
		columns = append(columns, col.Name)
	}
	return columns, nil
}

// RepairRange runs one repair read at consistency ALL. Every replica
// owning data in the range must answer, which is what triggers the
// cluster's read repair for divergent rows.
func (c *Client) RepairRange(ctx context.Context, stmt string, rng token.Range) (uint64, error) {
	q := c.session.Session.Query(stmt, rng.Start, rng.End).
		WithContext(ctx).
		Consistency(gocql.All).
		Idempotent(true)
	defer q.Release()

	var count int64
	if err := q.Scan(&count); err != nil {
		return 0, err
	}
	return uint64(count), nil
}
