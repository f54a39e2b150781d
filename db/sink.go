package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"ocp-cost/core/types"
	"ocp-cost/internal/errors"
	"ocp-cost/internal/metrics"
)

var summaryColumns = []string{
	"uuid", "report_period_id", "cluster_id", "cluster_alias", "source_uuid",
	"usage_start", "usage_end", "namespace", "node", "resource_id",
	"persistentvolumeclaim", "persistentvolume", "storageclass", "csi_volume_handle",
	"data_source",
	"pod_usage_cpu_core_hours", "pod_request_cpu_core_hours",
	"pod_limit_cpu_core_hours", "pod_effective_usage_cpu_core_hours",
	"pod_usage_memory_gigabyte_hours", "pod_request_memory_gigabyte_hours",
	"pod_limit_memory_gigabyte_hours", "pod_effective_usage_memory_gigabyte_hours",
	"node_capacity_cpu_cores", "node_capacity_cpu_core_hours",
	"node_capacity_memory_gigabytes", "node_capacity_memory_gigabyte_hours",
	"cluster_capacity_cpu_core_hours", "cluster_capacity_memory_gigabyte_hours",
	"persistentvolumeclaim_capacity_gigabyte", "persistentvolumeclaim_capacity_gigabyte_months",
	"volume_request_storage_gigabyte_months", "persistentvolumeclaim_usage_gigabyte_months",
	"pod_labels", "volume_labels", "all_labels", "cost_category_id",
}

// SummarySink loads summary rows inside a single transaction, using the
// Postgres COPY protocol by default or plain inserts when bulk copy is
// disabled. It satisfies the executor's streaming sink contract; only one
// chunk writer is ever in flight.
type SummarySink struct {
	db    *sqlx.DB
	table string
	bulk  bool

	tx   *sql.Tx
	stmt *sql.Stmt
}

// NewSummarySink targets schema.table for the bulk load.
func NewSummarySink(store *Store, table string) *SummarySink {
	return &SummarySink{db: store.db, table: fmt.Sprintf("%s.%s", store.schema, table), bulk: true}
}

// SetBulkCopy selects between the COPY protocol and per-row inserts.
func (s *SummarySink) SetBulkCopy(enabled bool) {
	s.bulk = enabled
}

// Begin opens the transaction and prepares the write statement.
func (s *SummarySink) Begin(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Sink("beginning transaction", err)
	}
	query := pq.CopyInSchema(schemaOf(s.table), tableOf(s.table), summaryColumns...)
	if !s.bulk {
		query = insertQuery(s.table, summaryColumns)
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		tx.Rollback()
		return errors.Sink("preparing write statement", err)
	}
	s.tx = tx
	s.stmt = stmt
	return nil
}

// Write streams one chunk of rows into the COPY buffer. Exactly one of the
// Pod and Storage column families is non-NULL per row.
func (s *SummarySink) Write(ctx context.Context, rows []types.SummaryRow) error {
	if s.stmt == nil {
		return errors.Sink("write before begin", nil)
	}
	for i := range rows {
		r := &rows[i]

		var pod [14]interface{}
		var storage [4]interface{}
		if r.Pod != nil {
			p := r.Pod
			pod = [14]interface{}{
				p.PodUsageCPUCoreHours, p.PodRequestCPUCoreHours,
				p.PodLimitCPUCoreHours, p.PodEffectiveUsageCPUCoreHours,
				p.PodUsageMemoryGigabyteHours, p.PodRequestMemoryGigabyteHours,
				p.PodLimitMemoryGigabyteHours, p.PodEffectiveUsageMemoryGigabyteHours,
				p.NodeCapacityCPUCores, p.NodeCapacityCPUCoreHours,
				p.NodeCapacityMemoryGigabytes, p.NodeCapacityMemoryGigabyteHours,
				p.ClusterCapacityCPUCoreHours, p.ClusterCapacityMemoryGigabyteHours,
			}
		}
		if r.Storage != nil {
			st := r.Storage
			storage = [4]interface{}{
				st.PersistentVolumeClaimCapacityGigabyte,
				st.PersistentVolumeClaimCapacityGigabyteMonths,
				st.VolumeRequestStorageGigabyteMonths,
				st.PersistentVolumeClaimUsageGigabyteMonths,
			}
		}

		var categoryID interface{}
		if r.CostCategoryID != nil {
			categoryID = *r.CostCategoryID
		}

		args := []interface{}{
			r.ID.String(), r.ReportPeriodID, r.ClusterID, r.ClusterAlias, r.SourceUUID,
			r.UsageStart, r.UsageEnd, r.Namespace, nullable(r.Node), nullable(r.ResourceID),
			nullable(r.PersistentVolumeClaim), nullable(r.PersistentVolume),
			nullable(r.StorageClass), nullable(r.CSIVolumeHandle),
			string(r.DataSource),
		}
		args = append(args, pod[:]...)
		args = append(args, storage[:]...)
		args = append(args, r.PodLabels, r.VolumeLabels, r.AllLabels, categoryID)

		if _, err := s.stmt.ExecContext(ctx, args...); err != nil {
			return errors.Sink("copying summary row", err)
		}
	}
	metrics.SinkRowsWritten.Add(float64(len(rows)))
	return nil
}

// Commit flushes the COPY buffer, if any, and commits.
func (s *SummarySink) Commit() error {
	if s.stmt == nil {
		return errors.Sink("commit before begin", nil)
	}
	if s.bulk {
		if _, err := s.stmt.Exec(); err != nil {
			s.tx.Rollback()
			return errors.Sink("flushing bulk copy", err)
		}
	}
	if err := s.stmt.Close(); err != nil {
		s.tx.Rollback()
		return errors.Sink("closing bulk copy", err)
	}
	if err := s.tx.Commit(); err != nil {
		return errors.Sink("committing", err)
	}
	s.stmt = nil
	s.tx = nil
	return nil
}

// Rollback aborts the open transaction.
func (s *SummarySink) Rollback() error {
	if s.tx == nil {
		return nil
	}
	err := s.tx.Rollback()
	s.stmt = nil
	s.tx = nil
	if err != nil {
		return errors.Sink("rolling back", err)
	}
	return nil
}

var attributedColumns = []string{
	"uuid", "report_period_id", "cost_entry_bill_id", "cluster_id", "cluster_alias",
	"source_uuid", "usage_start", "usage_end", "namespace", "node", "resource_id",
	"usage_account_id", "region", "availability_zone", "instance_type",
	"persistentvolumeclaim", "persistentvolume", "storageclass",
	"data_transfer_direction", "currency_code",
	"unblended_cost", "markup_cost",
	"blended_cost", "markup_cost_blended",
	"savingsplan_effective_cost", "markup_cost_savingsplan",
	"calculated_amortized_cost", "markup_cost_amortized",
	"pod_labels", "tags", "aws_cost_category",
}

// AttributedSink loads attributed rows, same lifecycle as SummarySink.
type AttributedSink struct {
	db    *sqlx.DB
	table string
	bulk  bool

	tx   *sql.Tx
	stmt *sql.Stmt
}

// NewAttributedSink targets schema.table for the bulk load.
func NewAttributedSink(store *Store, table string) *AttributedSink {
	return &AttributedSink{db: store.db, table: fmt.Sprintf("%s.%s", store.schema, table), bulk: true}
}

// SetBulkCopy selects between the COPY protocol and per-row inserts.
func (s *AttributedSink) SetBulkCopy(enabled bool) {
	s.bulk = enabled
}

// Begin opens the transaction and prepares the write statement.
func (s *AttributedSink) Begin(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Sink("beginning transaction", err)
	}
	query := pq.CopyInSchema(schemaOf(s.table), tableOf(s.table), attributedColumns...)
	if !s.bulk {
		query = insertQuery(s.table, attributedColumns)
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		tx.Rollback()
		return errors.Sink("preparing write statement", err)
	}
	s.tx = tx
	s.stmt = stmt
	return nil
}

// Write streams one chunk of attributed rows.
func (s *AttributedSink) Write(ctx context.Context, rows []types.AttributedRow) error {
	if s.stmt == nil {
		return errors.Sink("write before begin", nil)
	}
	for i := range rows {
		r := &rows[i]
		args := []interface{}{
			r.ID.String(), r.ReportPeriodID, r.CostEntryBillID, r.ClusterID, r.ClusterAlias,
			r.SourceUUID, r.UsageStart, r.UsageEnd, r.Namespace, nullable(r.Node), nullable(r.ResourceID),
			nullable(r.AccountID), nullable(r.Region), nullable(r.AvailabilityZone), nullable(r.InstanceType),
			nullable(r.PersistentVolumeClaim), nullable(r.PersistentVolume), nullable(r.StorageClass),
			nullable(string(r.DataTransferDirection)), nullable(r.Currency),
			r.Cost.Unblended.String(), r.Markup.Unblended.String(),
			r.Cost.Blended.String(), r.Markup.Blended.String(),
			r.Cost.SavingsPlan.String(), r.Markup.SavingsPlan.String(),
			r.Cost.Amortized.String(), r.Markup.Amortized.String(),
			r.PodLabels, r.Tags, r.CostCategory,
		}
		if _, err := s.stmt.ExecContext(ctx, args...); err != nil {
			return errors.Sink("copying attributed row", err)
		}
	}
	metrics.SinkRowsWritten.Add(float64(len(rows)))
	return nil
}

// Commit flushes the COPY buffer, if any, and commits.
func (s *AttributedSink) Commit() error {
	if s.stmt == nil {
		return errors.Sink("commit before begin", nil)
	}
	if s.bulk {
		if _, err := s.stmt.Exec(); err != nil {
			s.tx.Rollback()
			return errors.Sink("flushing bulk copy", err)
		}
	}
	if err := s.stmt.Close(); err != nil {
		s.tx.Rollback()
		return errors.Sink("closing bulk copy", err)
	}
	if err := s.tx.Commit(); err != nil {
		return errors.Sink("committing", err)
	}
	s.stmt = nil
	s.tx = nil
	return nil
}

// Rollback aborts the open transaction.
func (s *AttributedSink) Rollback() error {
	if s.tx == nil {
		return nil
	}
	err := s.tx.Rollback()
	s.stmt = nil
	s.tx = nil
	if err != nil {
		return errors.Sink("rolling back", err)
	}
	return nil
}

// insertQuery builds the prepared per-row INSERT used when bulk copy is
// disabled.
func insertQuery(table string, columns []string) string {
	placeholders := make([]string, len(columns))
	for i := range columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(columns, ", "), strings.Join(placeholders, ", "))
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func schemaOf(qualified string) string {
	for i := 0; i < len(qualified); i++ {
		if qualified[i] == '.' {
			return qualified[:i]
		}
	}
	return "public"
}

func tableOf(qualified string) string {
	for i := 0; i < len(qualified); i++ {
		if qualified[i] == '.' {
			return qualified[i+1:]
		}
	}
	return qualified
}
