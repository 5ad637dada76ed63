package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/xerrors"

	ipfslab "github.com/WithoutAName25/ipfs-lab"
	"github.com/WithoutAName25/ipfs-lab/execlog"
	"github.com/WithoutAName25/ipfs-lab/nodeapi"
	"github.com/WithoutAName25/ipfs-lab/topology"
)

// TopoOptions holds flags for the topo command
type TopoOptions struct {
	*RootOptions
	Topology string
	Nodes    int
	Matrix   bool
	Attach   int
}

// NewTopoCommand creates the topo command: build a topology over the
// cluster, or just read the current connection matrix back out
func NewTopoCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TopoOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "topo",
		Short: "Configure the cluster's connection topology",
		Long: `Wire the cluster into a chosen topology and read the resulting
connection matrix back out of the nodes' live peer sessions.

Every connect attempt and every completed action lands in the topology log.
With --matrix no connections are made; the current state is read as is.

Example:
  ipfs-lab topo --topology ring --nodes 16
  ipfs-lab topo --topology barabasi --attach 2
  ipfs-lab topo --matrix`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTopo(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Topology, "topology", "t", "", "topology to create (ring|grid|full|barabasi)")
	cmd.Flags().IntVarP(&opts.Nodes, "nodes", "n", 0, "number of nodes (default from environment)")
	cmd.Flags().BoolVarP(&opts.Matrix, "matrix", "m", false, "only print the connection matrix")
	cmd.Flags().IntVar(&opts.Attach, "attach", 2, "connections per joining node for barabasi")

	return cmd
}

func runTopo(cmd *cobra.Command, opts *TopoOptions) error {
	cfg, err := opts.config()
	if err != nil {
		return err
	}
	if opts.Nodes > 0 {
		cfg.Nodes = opts.Nodes
	}
	nodes := ipfslab.MakeNodes(cfg.NodePrefix, cfg.Nodes, cfg.APIPort, cfg.SwarmPort)

	// a fresh build starts a fresh record; a bare matrix read appends
	topoLog, err := execlog.OpenTopologyLog(cfg.TopologyLog, cfg.Nodes, opts.Topology != "")
	if err != nil {
		return err
	}

	api := opts.api(cfg)
	ctx := cmd.Context()

	builderOpts := []topology.Option{topology.WithSeed(cfg.Seed), topology.WithRecorder(topoLog)}
	verifierOpts := []topology.VerifierOption{topology.WithDHTProtocols(cfg.DHTProtocols...)}
	if opts.Verbose {
		bus, shutdown := progressBus(cmd)
		defer shutdown()
		builderOpts = append(builderOpts, topology.WithBus(bus))
		verifierOpts = append(verifierOpts, topology.WithVerifierBus(bus))
	}

	verifier, err := topology.NewVerifier(api, nodes, verifierOpts...)
	if err != nil {
		return err
	}

	switch {
	case opts.Matrix:
		if err := printMatrix(cmd, verifier); err != nil {
			logFailure(topoLog, err)
			return err
		}
		if err := topoLog.Action("matrix_read", execlog.StatusCompleted, ""); err != nil {
			return err
		}
		return nil

	case opts.Topology != "":
		kind, err := ipfslab.ParseKind(opts.Topology)
		if err != nil {
			err = xerrors.Errorf("%w: %q", err, opts.Topology)
			logFailure(topoLog, err)
			return err
		}
		readyCtx, cancel := context.WithTimeout(ctx, cfg.OpTimeout)
		err = nodeapi.WaitReady(readyCtx, api, nodes)
		cancel()
		if err != nil {
			logFailure(topoLog, err)
			return err
		}
		builder, err := topology.NewBuilder(api, nodes, builderOpts...)
		if err != nil {
			return err
		}
		results, err := builder.Build(ctx, kind, opts.Attach)
		if err != nil {
			logFailure(topoLog, err)
			return err
		}
		succeeded := 0
		for _, result := range results {
			if result.Success() {
				succeeded++
			}
		}
		cmd.Printf("%s topology: %d/%d edges connected\n", kind, succeeded, len(results))
		if err := printMatrix(cmd, verifier); err != nil {
			logFailure(topoLog, err)
			return err
		}
		return topoLog.Action("topology_"+kind.String(), execlog.StatusCompleted,
			fmt.Sprintf("%d/%d edges connected", succeeded, len(results)))

	default:
		err := xerrors.Errorf("%w: pass --topology or --matrix", ipfslab.ErrNoAction)
		if logErr := topoLog.Action("invalid_args", execlog.StatusError, "No action specified"); logErr != nil {
			log.Errorf("recording invalid invocation: %s", logErr)
		}
		return err
	}
}

func printMatrix(cmd *cobra.Command, verifier *topology.Verifier) error {
	matrix, err := verifier.Snapshot(cmd.Context())
	if err != nil {
		return err
	}
	cmd.Println("Connection Matrix:")
	cmd.Print(matrix.String())
	return nil
}

// logFailure records a fatal action outcome before the error propagates to
// the exit code
func logFailure(topoLog *execlog.TopologyLog, err error) {
	details := fmt.Sprintf("%s: %s", ipfslab.FailureKind(err), err)
	if logErr := topoLog.Action("error", execlog.StatusFailed, details); logErr != nil {
		log.Errorf("recording failed action: %s", logErr)
	}
}
