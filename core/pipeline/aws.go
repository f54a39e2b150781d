package pipeline

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"ocp-cost/core/attribute"
	"ocp-cost/core/executor"
	"ocp-cost/core/labels"
	"ocp-cost/core/match"
	"ocp-cost/core/source"
	"ocp-cost/core/types"
	"ocp-cost/internal/config"
	"ocp-cost/internal/errors"
	"ocp-cost/internal/logging"
)

// AWSInputs carries the frames for the attribution path. Cloud rows and
// storage frames stay resident for the run; the pod stream is consumed once.
// The resident reference data is read-only after the run starts.
type AWSInputs struct {
	Pods executor.Iterator[[]types.PodUsage]

	Storage []types.StorageUsage

	// StorageSummary is the aggregated Storage output of the daily summary,
	// the source of PVC claims for storage cost attribution
	StorageSummary []types.SummaryRow

	Cloud          []types.CloudLineItem
	EnabledTagKeys []string
}

// InMemoryAWSInputs wraps fully loaded pod rows in a chunk iterator.
func InMemoryAWSInputs(pods []types.PodUsage, in AWSInputs, chunkSize int) AWSInputs {
	in.Pods = source.NewChunked(pods, chunkSize)
	return in
}

// awsRef is the resident reference data shared by every chunk. Per-chunk
// functions must not mutate it; the cloud slice is cloned before matching.
type awsRef struct {
	cloud   []types.CloudLineItem
	storage []types.StorageUsage
	enabled map[string]struct{}
	opts    attribute.ComputeOptions
	attr    attribute.Attribution
	cfg     *config.Config
}

// RunAWSAttribution runs matcher, tag matcher, disk solver, attributor, and
// network handler, merging compute, storage, network, and unattributed rows.
// Compute attribution is chunk-scoped; the storage and network phases run
// once over the identifiers accumulated across the whole stream. Parallel
// chunks are disabled on this path: the resident cloud frame would otherwise
// be duplicated per worker.
func RunAWSAttribution(ctx context.Context, in AWSInputs, cfg *config.Config) ([]types.AttributedRow, error) {
	var out []types.AttributedRow
	collect := func(_ context.Context, rows []types.AttributedRow) error {
		out = append(out, rows...)
		return nil
	}
	if err := runAWS(ctx, in, cfg, collect); err != nil {
		return nil, err
	}
	return out, nil
}

// RunAWSAttributionIncremental pushes each formatted chunk through the sink
// in a single transaction instead of accumulating.
func RunAWSAttributionIncremental(ctx context.Context, in AWSInputs, cfg *config.Config, sink executor.Sink[[]types.AttributedRow]) (err error) {
	if cfg.Performance.ParallelChunks {
		return errors.NotSupported("parallel chunks with an incremental sink")
	}
	if err = sink.Begin(ctx); err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := sink.Rollback(); rbErr != nil && err == nil {
				err = rbErr
			}
		}
	}()

	write := func(ctx context.Context, rows []types.AttributedRow) error {
		if len(rows) == 0 {
			return nil
		}
		return sink.Write(ctx, rows)
	}
	if err = runAWS(ctx, in, cfg, write); err != nil {
		return err
	}
	if err = sink.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func runAWS(ctx context.Context, in AWSInputs, cfg *config.Config, emit func(context.Context, []types.AttributedRow) error) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	log := logging.Phase("ocp_aws_attribution")
	if cfg.Performance.ParallelChunks {
		log.Warn("parallel chunks disabled for attribution: the shared cloud frame is not duplicated per worker")
	}

	weights := cfg.ProviderWeights("aws")
	meta := metaFromConfig(cfg)
	ref := &awsRef{
		cloud:   in.Cloud,
		storage: in.Storage,
		enabled: labels.EnabledSet(in.EnabledTagKeys),
		opts: attribute.ComputeOptions{
			Method:       cfg.Cost.Distribution.Method,
			CPUWeight:    weights.CPU,
			MemoryWeight: weights.Memory,
			Enabled:      labels.EnabledSet(in.EnabledTagKeys),
		},
		attr: attribute.Attribution{
			ClusterID:       cfg.OCP.ClusterID,
			ClusterAlias:    cfg.OCP.ClusterAlias,
			SourceUUID:      cfg.AWS.ProviderUUID,
			ReportPeriodID:  cfg.OCP.ReportPeriodID,
			CostEntryBillID: cfg.AWS.CostEntryBillID,
			Markup:          decimal.NewFromFloat(cfg.AWSMarkup()),
		},
		cfg: cfg,
	}

	// Identifier union across the whole stream, for the storage and network
	// phases that run once at the end.
	allIDs := match.Identifiers{
		ClusterID:       cfg.OCP.ClusterID,
		ClusterAlias:    cfg.OCP.ClusterAlias,
		NodeResourceIDs: map[string]struct{}{},
		PVNames:         map[string]struct{}{},
		CSIHandles:      map[string]struct{}{},
		Nodes:           map[string]struct{}{},
		Namespaces:      map[string]struct{}{},
	}
	allIDs.AddStorage(in.Storage)
	nodeByResourceID := map[string]string{}

	fn := func(ctx context.Context, chunk []types.PodUsage, ref *awsRef, index int) ([]types.AttributedRow, error) {
		ids := match.CollectIdentifiers(chunk, ref.storage, ref.cfg.OCP.ClusterID, ref.cfg.OCP.ClusterAlias)
		allIDs.AddPods(chunk)
		for i := range chunk {
			if chunk[i].ResourceID != "" && chunk[i].Node != "" {
				nodeByResourceID[chunk[i].ResourceID] = chunk[i].Node
			}
		}

		items := append([]types.CloudLineItem(nil), ref.cloud...)
		items, err := match.NewResourceMatcher(ids, ref.cfg.Cost.MatchRateWarnThreshold, ref.cfg.Cost.MatchRateFatal).Match(items)
		if err != nil {
			return nil, err
		}
		items = match.NewTagMatcher(ids, ref.enabled).Match(items)

		_, rest := attribute.SplitNetwork(items)
		var compute []types.CloudLineItem
		for i := range rest {
			if rest[i].Matched() && !rest[i].IsStorage() {
				compute = append(compute, rest[i])
			}
		}
		rows, err := attribute.AttributeCompute(chunk, compute, ref.opts, ref.attr)
		if err != nil {
			return nil, err
		}
		return FormatAttributed(rows, metaFromConfig(ref.cfg), ref.cfg.AWS.CostEntryBillID), nil
	}

	err := executor.RunIncremental(ctx, in.Pods, ref, fn, emitSink(emit), executor.Options{GCInterval: gcInterval(cfg)})
	if err != nil {
		return err
	}
	if cerr := in.Pods.Close(); cerr != nil {
		log.Warn("closing pod source", zap.Error(cerr))
	}

	// Final pass on the resident frames with the full identifier union:
	// storage family and network rows.
	items := append([]types.CloudLineItem(nil), in.Cloud...)
	items, err = match.NewResourceMatcher(allIDs, cfg.Cost.MatchRateWarnThreshold, false).Match(items)
	if err != nil {
		return err
	}
	items = match.NewTagMatcher(allIDs, ref.enabled).Match(items)

	network, rest := attribute.SplitNetwork(items)
	var final []types.AttributedRow
	final = append(final, attribute.AttributeNetwork(network, nodeByResourceID, ref.attr)...)

	var storageItems []types.CloudLineItem
	for i := range rest {
		if rest[i].IsStorage() {
			storageItems = append(storageItems, rest[i])
		}
	}
	disks := attribute.SolveDiskCapacity(storageItems, attribute.VolumeIdentifiers(in.Storage))
	claims := attribute.ClaimsFromSummary(in.StorageSummary)
	final = append(final, attribute.AttributeStorage(storageItems, disks, claims, ref.attr)...)

	final = FormatAttributed(final, meta, cfg.AWS.CostEntryBillID)
	if len(final) > 0 {
		if err := emit(ctx, final); err != nil {
			return err
		}
	}
	return nil
}

// emitSink adapts a plain emit function to the executor's sink contract; the
// surrounding pipeline owns begin/commit when a real transaction is in play.
type emitFunc func(context.Context, []types.AttributedRow) error

func emitSink(emit emitFunc) executor.Sink[[]types.AttributedRow] {
	return passthroughSink{emit: emit}
}

type passthroughSink struct {
	emit emitFunc
}

func (passthroughSink) Begin(context.Context) error { return nil }

func (s passthroughSink) Write(ctx context.Context, rows []types.AttributedRow) error {
	return s.emit(ctx, rows)
}

func (passthroughSink) Commit() error   { return nil }
func (passthroughSink) Rollback() error { return nil }
