// Package cli assembles the driver's command surface: topo wires and
// inspects the cluster's connection graph, load drives synthetic storage
// traffic against it. Both read their cluster settings from the environment
// and let flags override.
package cli

import (
	"io"

	logging "github.com/ipfs/go-log/v2"
	"github.com/spf13/cobra"

	ipfslab "github.com/WithoutAName25/ipfs-lab"
	"github.com/WithoutAName25/ipfs-lab/config"
	"github.com/WithoutAName25/ipfs-lab/nodeapi"
)

var log = logging.Logger("lab-cli")

// RootOptions holds global flags and the test seams shared by all commands
type RootOptions struct {
	Verbose bool

	// API overrides the node API client, letting tests run commands
	// against a fake cluster. Nil means drive live nodes over HTTP.
	API nodeapi.API

	// Config overrides the environment, letting tests inject settings
	// without mutating the process environment
	Config *config.Config
}

func (opts *RootOptions) config() (config.Config, error) {
	if opts.Config != nil {
		return *opts.Config, nil
	}
	return config.FromEnv()
}

func (opts *RootOptions) api(cfg config.Config) nodeapi.API {
	if opts.API != nil {
		return opts.API
	}
	return nodeapi.NewKuboAPI(nodeapi.RequestTimeout(cfg.OpTimeout))
}

// NewRootCommand creates the ipfs-lab root command
func NewRootCommand(out io.Writer) *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "ipfs-lab",
		Short:         "Drive topology and workload experiments against an IPFS cluster",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.Verbose {
				logging.SetAllLoggers(logging.LevelDebug)
			}
		},
	}
	cmd.SetOut(out)

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewTopoCommand(opts))
	cmd.AddCommand(NewLoadCommand(opts))

	return cmd
}

// progressBus returns a bus whose events are rendered to the command's
// output as they happen, and a function to disconnect it
func progressBus(cmd *cobra.Command) (*ipfslab.Bus, func()) {
	bus := ipfslab.NewBus()
	bus.Subscribe(func(evt ipfslab.Event) {
		cmd.Printf("[%s] %s: %s\n", evt.Timestamp.Format("15:04:05.000"), evt.Code, evt.Message)
	})
	return bus, bus.Shutdown
}
