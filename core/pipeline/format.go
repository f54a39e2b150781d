// Package pipeline orchestrates the OCP daily-summary and OCP-AWS
// attribution paths over the streaming executor.
package pipeline

import (
	"github.com/google/uuid"

	"ocp-cost/core/aggregate"
	"ocp-cost/core/labels"
	"ocp-cost/core/types"
	"ocp-cost/internal/config"
)

// metaFromConfig builds the cluster metadata stamped on every output row.
func metaFromConfig(cfg *config.Config) aggregate.Meta {
	return aggregate.Meta{
		ClusterID:      cfg.OCP.ClusterID,
		ClusterAlias:   cfg.OCP.ClusterAlias,
		SourceUUID:     cfg.OCP.ProviderUUID,
		ReportPeriodID: cfg.OCP.ReportPeriodID,
	}
}

// FormatSummary finalizes summary rows for the sink: ids are filled, usage
// timestamps collapse to timezone-naive dates, and every JSON column is
// validated, replacing non-JSON payloads with "{}".
func FormatSummary(rows []types.SummaryRow, meta aggregate.Meta) []types.SummaryRow {
	for i := range rows {
		r := &rows[i]
		if r.ID == uuid.Nil {
			r.ID = uuid.New()
		}
		if r.ClusterID == "" {
			r.ClusterID = meta.ClusterID
			r.ClusterAlias = meta.ClusterAlias
			r.SourceUUID = meta.SourceUUID
			r.ReportPeriodID = meta.ReportPeriodID
		}
		if r.Namespace == "" && r.Synthetic != types.SyntheticNone {
			r.Namespace = r.Synthetic.String()
		}
		r.UsageStart = types.DayOf(r.UsageStart)
		r.UsageEnd = types.DayOf(r.UsageEnd)
		r.PodLabels = labels.ValidJSONOrEmpty(r.PodLabels)
		r.VolumeLabels = labels.ValidJSONOrEmpty(r.VolumeLabels)
		r.AllLabels = labels.ValidJSONOrEmpty(r.AllLabels)
	}
	return rows
}

// FormatAttributed finalizes attributed rows the same way; tags and cost
// categories are serialized strings, never nested objects.
func FormatAttributed(rows []types.AttributedRow, meta aggregate.Meta, billID int) []types.AttributedRow {
	for i := range rows {
		r := &rows[i]
		if r.ID == uuid.Nil {
			r.ID = uuid.New()
		}
		if r.ClusterID == "" {
			r.ClusterID = meta.ClusterID
			r.ClusterAlias = meta.ClusterAlias
			r.SourceUUID = meta.SourceUUID
		}
		if r.ReportPeriodID == 0 {
			r.ReportPeriodID = meta.ReportPeriodID
		}
		if r.CostEntryBillID == 0 {
			r.CostEntryBillID = billID
		}
		if r.Namespace == "" && r.Synthetic != types.SyntheticNone {
			r.Namespace = r.Synthetic.String()
		}
		r.UsageStart = types.DayOf(r.UsageStart)
		r.UsageEnd = types.DayOf(r.UsageEnd)
		r.PodLabels = labels.ValidJSONOrEmpty(r.PodLabels)
		r.Tags = labels.ValidJSONOrEmpty(r.Tags)
		r.CostCategory = labels.ValidJSONOrEmpty(r.CostCategory)
	}
	return rows
}
