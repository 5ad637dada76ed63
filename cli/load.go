package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	ipfslab "github.com/WithoutAName25/ipfs-lab"
	"github.com/WithoutAName25/ipfs-lab/cidset"
	"github.com/WithoutAName25/ipfs-lab/execlog"
	"github.com/WithoutAName25/ipfs-lab/nodeapi"
	"github.com/WithoutAName25/ipfs-lab/workload"
)

// LoadOptions holds flags for the load command. Zero values defer to the
// environment configuration.
type LoadOptions struct {
	*RootOptions
	Operations int
	MeanDelay  time.Duration
	Timeout    time.Duration
	Seed       int64
}

// NewLoadCommand creates the load command: drive randomized upload and
// download traffic against the cluster
func NewLoadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LoadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Run a synthetic storage workload against the cluster",
		Long: `Schedule randomized upload and download operations with Poisson
arrival timing and run them concurrently against randomly chosen nodes.
One row per operation lands in the workload log.

Example:
  ipfs-lab load
  ipfs-lab load --operations 500 --mean-delay 500ms`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(cmd, opts)
		},
	}

	cmd.Flags().IntVar(&opts.Operations, "operations", 0, "operations to schedule (default from environment)")
	cmd.Flags().DurationVar(&opts.MeanDelay, "mean-delay", 0, "mean inter-arrival delay (default from environment)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "per-operation timeout (default from environment)")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 0, "random seed (default from environment)")

	return cmd
}

func runLoad(cmd *cobra.Command, opts *LoadOptions) error {
	cfg, err := opts.config()
	if err != nil {
		return err
	}
	if opts.Operations > 0 {
		cfg.Operations = opts.Operations
	}
	if opts.MeanDelay > 0 {
		cfg.MeanDelay = opts.MeanDelay
	}
	if opts.Timeout > 0 {
		cfg.OpTimeout = opts.Timeout
	}
	if opts.Seed != 0 {
		cfg.Seed = opts.Seed
	}

	nodes := ipfslab.MakeNodes(cfg.NodePrefix, cfg.Nodes, cfg.APIPort, cfg.SwarmPort)
	api := opts.api(cfg)

	readyCtx, cancel := context.WithTimeout(cmd.Context(), cfg.OpTimeout)
	err = nodeapi.WaitReady(readyCtx, api, nodes)
	cancel()
	if err != nil {
		return err
	}

	workloadLog, err := execlog.OpenWorkloadLog(cfg.WorkloadLog, true)
	if err != nil {
		return err
	}

	store, err := cidset.OpenDatastore(cfg.RegistryDir)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			log.Errorf("closing registry store: %s", closeErr)
		}
	}()
	registry, err := cidset.New(cmd.Context(), store)
	if err != nil {
		return err
	}

	generatorOpts := []workload.Option{
		workload.WithSeed(cfg.Seed),
		workload.WithOpTimeout(cfg.OpTimeout),
	}
	if opts.Verbose {
		bus, shutdown := progressBus(cmd)
		defer shutdown()
		generatorOpts = append(generatorOpts, workload.WithBus(bus))
	}

	generator, err := workload.New(api, nodes, registry, workloadLog, generatorOpts...)
	if err != nil {
		return err
	}

	plan := workload.Plan{
		Operations: cfg.Operations,
		MeanSize:   cfg.MeanSize,
		MaxSize:    cfg.MaxSize,
		MeanDelay:  cfg.MeanDelay,
	}
	summary, err := generator.Run(cmd.Context(), plan)
	if err != nil {
		return err
	}
	cmd.Printf("workload complete: %s\n", summary)
	return nil
}
