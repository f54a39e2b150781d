package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ocp-cost/core/pipeline"
	"ocp-cost/core/source"
	"ocp-cost/core/types"
	"ocp-cost/db"
	"ocp-cost/internal/config"
	"ocp-cost/internal/logging"
)

var (
	attributePods      string
	attributeStorage   string
	attributeCloud     string
	attributeSummary   string
	attributeStreaming bool
	attributeChunkSize int
	attributeWrite     bool
	attributeTable     string
)

var attributeCmd = &cobra.Command{
	Use:   "attribute",
	Short: "Attribute AWS costs to OCP workloads",
	Long: `Matches AWS billing line items to cluster resources and tags, then
splits compute, storage, and network costs across the workloads that used
them.

Storage attribution needs the PVC claims from the daily summary; pass the
summarize command's JSON output with --summary. Without it, storage costs
fall back to the tag and unattributed paths.`,
	RunE: runAttribute,
}

func init() {
	attributeCmd.Flags().StringVar(&attributePods, "pods", "", "pod usage CSV (required)")
	attributeCmd.Flags().StringVar(&attributeStorage, "storage", "", "storage usage CSV")
	attributeCmd.Flags().StringVar(&attributeCloud, "cloud", "", "AWS cost and usage report CSV (required)")
	attributeCmd.Flags().StringVar(&attributeSummary, "summary", "", "daily summary JSON from the summarize command")
	attributeCmd.Flags().BoolVar(&attributeStreaming, "streaming", false, "stream the pod file in chunks")
	attributeCmd.Flags().IntVar(&attributeChunkSize, "chunk-size", 0, "rows per chunk (default from config)")
	attributeCmd.Flags().BoolVar(&attributeWrite, "write", false, "bulk-load attributed rows into the database")
	attributeCmd.Flags().StringVar(&attributeTable, "table", "reporting_ocpawscostlineitem_project_daily_summary_p", "target attribution table")
	attributeCmd.MarkFlagRequired("pods")
	attributeCmd.MarkFlagRequired("cloud")
}

func runAttribute(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	if attributeStreaming {
		cfg.Performance.UseStreaming = true
	}
	if attributeChunkSize > 0 {
		cfg.Performance.ChunkSize = attributeChunkSize
	}

	ctx := context.Background()
	in, store, err := loadAWSInputs(ctx, cfg)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	if attributeWrite {
		if store == nil {
			return fmt.Errorf("--write requires database.dsn in the configuration")
		}
		sink := db.NewAttributedSink(store, attributeTable)
		sink.SetBulkCopy(cfg.Performance.UseBulkCopy)
		if err := pipeline.RunAWSAttributionIncremental(ctx, in, cfg, sink); err != nil {
			logging.Error("attribution failed", zap.Error(err))
			return err
		}
		logging.Info("attribution committed", zap.String("table", attributeTable))
		return nil
	}

	rows, err := pipeline.RunAWSAttribution(ctx, in, cfg)
	if err != nil {
		logging.Error("attribution failed", zap.Error(err))
		return err
	}
	logging.Info("attribution complete", zap.Int("rows", len(rows)))
	return printJSON(rows)
}

func loadAWSInputs(ctx context.Context, cfg *config.Config) (pipeline.AWSInputs, *db.Store, error) {
	var in pipeline.AWSInputs
	var err error

	if in.Cloud, err = source.ReadCloudLineItems(attributeCloud); err != nil {
		return in, nil, err
	}
	if attributeStorage != "" {
		if in.Storage, err = source.ReadStorageUsage(attributeStorage); err != nil {
			return in, nil, err
		}
	}
	if attributeSummary != "" {
		if in.StorageSummary, err = readSummaryJSON(attributeSummary); err != nil {
			return in, nil, err
		}
	}

	var store *db.Store
	if cfg.Database.DSN != "" {
		if store, err = db.Open(cfg.Database.DSN, cfg.Database.Schema); err != nil {
			return in, nil, err
		}
		if in.EnabledTagKeys, err = store.EnabledTagKeys(ctx, "AWS"); err != nil {
			return in, store, err
		}
	}

	if cfg.Performance.UseStreaming {
		it, err := source.OpenPodUsageCSV(attributePods, cfg.Performance.ChunkSize)
		if err != nil {
			return in, store, err
		}
		in.Pods = it
		return in, store, nil
	}

	pods, err := source.ReadPodUsage(attributePods)
	if err != nil {
		return in, store, err
	}
	in = pipeline.InMemoryAWSInputs(pods, in, cfg.Performance.ChunkSize)
	return in, store, nil
}

func readSummaryJSON(path string) ([]types.SummaryRow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rows []types.SummaryRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("parsing summary %s: %w", path, err)
	}
	return rows, nil
}
