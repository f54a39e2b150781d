package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ocp-cost/core/executor"
	"ocp-cost/core/pipeline"
	"ocp-cost/core/source"
	"ocp-cost/core/types"
	"ocp-cost/db"
	"ocp-cost/internal/config"
	"ocp-cost/internal/logging"
)

var (
	summarizePods      string
	summarizeStorage   string
	summarizeNodeLbls  string
	summarizeNsLbls    string
	summarizeStreaming bool
	summarizeChunkSize int
	summarizeWrite     bool
	summarizeTable     string
)

var summarizeCmd = &cobra.Command{
	Use:   "summarize",
	Short: "Produce the OCP daily usage summary",
	Long: `Aggregates hourly pod and storage usage into the daily summary:
pod and storage rows, node and cluster capacity, and the unallocated pass.

Reference data (node roles, enabled tag keys, cost categories) is read from
the database when a DSN is configured; otherwise the summary runs with the
fixed kubevirt label key only.`,
	RunE: runSummarize,
}

func init() {
	summarizeCmd.Flags().StringVar(&summarizePods, "pods", "", "pod usage CSV (required)")
	summarizeCmd.Flags().StringVar(&summarizeStorage, "storage", "", "storage usage CSV")
	summarizeCmd.Flags().StringVar(&summarizeNodeLbls, "node-labels", "", "node label CSV")
	summarizeCmd.Flags().StringVar(&summarizeNsLbls, "namespace-labels", "", "namespace label CSV")
	summarizeCmd.Flags().BoolVar(&summarizeStreaming, "streaming", false, "stream the pod file in chunks")
	summarizeCmd.Flags().IntVar(&summarizeChunkSize, "chunk-size", 0, "rows per chunk (default from config)")
	summarizeCmd.Flags().BoolVar(&summarizeWrite, "write", false, "bulk-load the summary into the database")
	summarizeCmd.Flags().StringVar(&summarizeTable, "table", "reporting_ocpusagelineitem_daily_summary", "target summary table")
	summarizeCmd.MarkFlagRequired("pods")
}

func runSummarize(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	if summarizeStreaming {
		cfg.Performance.UseStreaming = true
	}
	if summarizeChunkSize > 0 {
		cfg.Performance.ChunkSize = summarizeChunkSize
	}

	ctx := context.Background()
	in, store, err := loadOCPInputs(ctx, cfg)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	rows, err := pipeline.RunOCPSummary(ctx, in, cfg)
	if err != nil {
		logging.Error("summary failed", zap.Error(err))
		return err
	}
	logging.Info("summary complete", zap.Int("rows", len(rows)))

	if summarizeWrite {
		if store == nil {
			return fmt.Errorf("--write requires database.dsn in the configuration")
		}
		return writeSummary(ctx, store, rows)
	}
	return printJSON(rows)
}

func loadOCPInputs(ctx context.Context, cfg *config.Config) (pipeline.OCPInputs, *db.Store, error) {
	var in pipeline.OCPInputs
	var err error

	if summarizeStorage != "" {
		if in.Storage, err = source.ReadStorageUsage(summarizeStorage); err != nil {
			return in, nil, err
		}
	}
	if summarizeNodeLbls != "" {
		if in.NodeLabels, err = source.ReadLabelRows(summarizeNodeLbls, "node", "node_labels"); err != nil {
			return in, nil, err
		}
	}
	if summarizeNsLbls != "" {
		if in.NamespaceLabels, err = source.ReadLabelRows(summarizeNsLbls, "namespace", "namespace_labels"); err != nil {
			return in, nil, err
		}
	}

	var store *db.Store
	if cfg.Database.DSN != "" {
		if store, err = db.Open(cfg.Database.DSN, cfg.Database.Schema); err != nil {
			return in, nil, err
		}
		if in.NodeRoles, err = store.NodeRoles(ctx, cfg.OCP.ClusterID); err != nil {
			return in, store, err
		}
		if in.EnabledTagKeys, err = store.EnabledTagKeys(ctx, "OCP"); err != nil {
			return in, store, err
		}
		if in.CategoryRules, err = store.CostCategoryRules(ctx); err != nil {
			return in, store, err
		}
	}

	if cfg.Performance.UseStreaming {
		it, err := source.OpenPodUsageCSV(summarizePods, cfg.Performance.ChunkSize)
		if err != nil {
			return in, store, err
		}
		in.Pods = it
		return in, store, nil
	}

	pods, err := source.ReadPodUsage(summarizePods)
	if err != nil {
		return in, store, err
	}
	in = pipeline.InMemoryOCPInputs(pods, in, cfg.Performance.ChunkSize)
	return in, store, nil
}

func writeSummary(ctx context.Context, store *db.Store, rows []types.SummaryRow) error {
	sink := db.NewSummarySink(store, summarizeTable)
	sink.SetBulkCopy(config.Get().Performance.UseBulkCopy)
	var s executor.Sink[[]types.SummaryRow] = sink
	if err := s.Begin(ctx); err != nil {
		return err
	}
	if err := s.Write(ctx, rows); err != nil {
		s.Rollback()
		return err
	}
	return s.Commit()
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
