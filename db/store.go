// Package db provides the relational side of the engine: reference-data
// queries and the bulk summary sink.
package db

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"ocp-cost/core/types"
	"ocp-cost/internal/errors"
)

// Store wraps the reference-data queries invoked once per run.
type Store struct {
	db     *sqlx.DB
	schema string
}

// Open connects to Postgres and verifies the connection.
func Open(dsn, schema string) (*Store, error) {
	if dsn == "" {
		return nil, errors.Config("database.dsn not provided")
	}
	if schema == "" {
		schema = "public"
	}
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(errors.TypeSink, "connecting to database", err)
	}
	return &Store{db: db, schema: schema}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for the sink.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

type nodeRoleRecord struct {
	Node       string `db:"node"`
	ResourceID string `db:"resource_id"`
	Role       string `db:"node_role"`
}

// NodeRoles returns (node, resource-id, role) for the cluster.
func (s *Store) NodeRoles(ctx context.Context, clusterID string) ([]types.NodeRoleRow, error) {
	query := fmt.Sprintf(`
		SELECT node, resource_id, node_role
		FROM %s.reporting_ocp_nodes
		WHERE cluster_id = $1`, s.schema)

	var records []nodeRoleRecord
	if err := s.db.SelectContext(ctx, &records, query, clusterID); err != nil {
		return nil, errors.Wrap(errors.TypeSink, "querying node roles", err)
	}
	out := make([]types.NodeRoleRow, 0, len(records))
	for _, r := range records {
		out = append(out, types.NodeRoleRow{
			Node:       r.Node,
			ResourceID: r.ResourceID,
			Role:       types.NodeRole(r.Role),
		})
	}
	return out, nil
}

// EnabledTagKeys returns the label-key allow-list for the provider type. The
// fixed kubevirt key is prepended by the label layer, not here.
func (s *Store) EnabledTagKeys(ctx context.Context, providerType string) ([]string, error) {
	query := fmt.Sprintf(`
		SELECT key
		FROM %s.reporting_enabledtagkeys
		WHERE enabled = true AND provider_type = $1
		ORDER BY key`, s.schema)

	var keys []string
	if err := s.db.SelectContext(ctx, &keys, query, providerType); err != nil {
		return nil, errors.Wrap(errors.TypeSink, "querying enabled tag keys", err)
	}
	return keys, nil
}

type categoryRecord struct {
	Pattern    string `db:"namespace"`
	CategoryID int    `db:"cost_category_id"`
}

// CostCategoryRules returns the namespace-pattern rules; may be empty.
func (s *Store) CostCategoryRules(ctx context.Context) ([]types.CostCategoryRule, error) {
	query := fmt.Sprintf(`
		SELECT namespace, cost_category_id
		FROM %s.reporting_ocp_cost_category_namespace`, s.schema)

	var records []categoryRecord
	if err := s.db.SelectContext(ctx, &records, query); err != nil {
		return nil, errors.Wrap(errors.TypeSink, "querying cost category rules", err)
	}
	out := make([]types.CostCategoryRule, 0, len(records))
	for _, r := range records {
		out = append(out, types.CostCategoryRule{
			NamespacePattern: r.Pattern,
			CategoryID:       r.CategoryID,
		})
	}
	return out, nil
}

// ReportPeriodID resolves the report period for a cluster and month start,
// used when the configuration leaves it unset.
func (s *Store) ReportPeriodID(ctx context.Context, clusterID string, periodStart string) (int, error) {
	query := fmt.Sprintf(`
		SELECT id
		FROM %s.reporting_ocpusagereportperiod
		WHERE cluster_id = $1 AND report_period_start = $2`, s.schema)

	var id int
	if err := s.db.GetContext(ctx, &id, query, clusterID, periodStart); err != nil {
		return 0, errors.Wrap(errors.TypeSink, "querying report period", err)
	}
	return id, nil
}
