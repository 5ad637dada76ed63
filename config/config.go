// Package config reads driver settings from the environment, the way the
// cluster's compose file delivers them. Every knob has a default tuned for
// the standard 16 node lab cluster, so an empty environment yields a runnable
// configuration.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/libp2p/go-libp2p-core/protocol"
	"golang.org/x/xerrors"
)

// Environment variable names. The two log file variables predate the rest
// and keep their unprefixed names, since the cluster's compose file already
// sets them.
const (
	EnvNodes        = "LAB_NODES"
	EnvNodePrefix   = "LAB_NODE_PREFIX"
	EnvAPIPort      = "LAB_API_PORT"
	EnvSwarmPort    = "LAB_SWARM_PORT"
	EnvTopologyLog  = "TOPOLOGY_LOG_FILE"
	EnvWorkloadLog  = "SIMULATION_LOG_FILE"
	EnvOpTimeout    = "LAB_OP_TIMEOUT"
	EnvOperations   = "LAB_OPERATIONS"
	EnvMeanSize     = "LAB_MEAN_SIZE"
	EnvMaxSize      = "LAB_MAX_SIZE"
	EnvMeanDelay    = "LAB_MEAN_DELAY"
	EnvSeed         = "LAB_SEED"
	EnvRegistryDir  = "LAB_REGISTRY_DIR"
	EnvDHTProtocols = "LAB_DHT_PROTOCOLS"
)

// Config carries every setting the driver reads at startup
type Config struct {
	// Nodes is the cluster size N
	Nodes int

	// NodePrefix is the container name prefix; node i is named prefix + i
	NodePrefix string

	// APIPort is the TCP port every node's control API listens on
	APIPort int

	// SwarmPort is the TCP port every node's peer transport listens on
	SwarmPort int

	// TopologyLog is the path of the topology action log
	TopologyLog string

	// WorkloadLog is the path of the workload operation log
	WorkloadLog string

	// OpTimeout bounds each storage operation
	OpTimeout time.Duration

	// Operations is the number of workload tasks to schedule
	Operations int

	// MeanSize is the mean of the exponential payload size distribution
	MeanSize int64

	// MaxSize clips sampled payload sizes
	MaxSize int64

	// MeanDelay is the mean of the exponential inter-arrival distribution
	MeanDelay time.Duration

	// Seed initializes the workload's random source
	Seed int64

	// RegistryDir is where the uploaded-content registry persists; empty
	// keeps the registry in memory
	RegistryDir string

	// DHTProtocols are the protocol streams that mark a peer session as an
	// overlay edge when reading the connectivity matrix
	DHTProtocols []protocol.ID
}

// Default returns the configuration used when the environment sets nothing
func Default() Config {
	return Config{
		Nodes:       16,
		NodePrefix:  "ipfs",
		APIPort:     5001,
		SwarmPort:   4001,
		TopologyLog: "topology.csv",
		WorkloadLog: "ipfs_simulation.csv",
		OpTimeout:   30 * time.Second,
		Operations:  100,
		MeanSize:    128 * 1024 * 1024,
		MaxSize:     512 * 1024 * 1024,
		MeanDelay:   2 * time.Second,
		Seed:        42,
		RegistryDir: "",
		DHTProtocols: []protocol.ID{
			"/ipfs/kad/1.0.0",
			"/ipfs/lan/kad/1.0.0",
		},
	}
}

// FromEnv builds a configuration from the environment, starting from
// Default. A variable that is set but unparseable is an error, not a silent
// fallback.
func FromEnv() (Config, error) {
	cfg := Default()

	var err error
	if cfg.Nodes, err = envInt(EnvNodes, cfg.Nodes); err != nil {
		return Config{}, err
	}
	if v := os.Getenv(EnvNodePrefix); v != "" {
		cfg.NodePrefix = v
	}
	if cfg.APIPort, err = envInt(EnvAPIPort, cfg.APIPort); err != nil {
		return Config{}, err
	}
	if cfg.SwarmPort, err = envInt(EnvSwarmPort, cfg.SwarmPort); err != nil {
		return Config{}, err
	}
	if v := os.Getenv(EnvTopologyLog); v != "" {
		cfg.TopologyLog = v
	}
	if v := os.Getenv(EnvWorkloadLog); v != "" {
		cfg.WorkloadLog = v
	}
	if cfg.OpTimeout, err = envDuration(EnvOpTimeout, cfg.OpTimeout); err != nil {
		return Config{}, err
	}
	if cfg.Operations, err = envInt(EnvOperations, cfg.Operations); err != nil {
		return Config{}, err
	}
	if cfg.MeanSize, err = envSize(EnvMeanSize, cfg.MeanSize); err != nil {
		return Config{}, err
	}
	if cfg.MaxSize, err = envSize(EnvMaxSize, cfg.MaxSize); err != nil {
		return Config{}, err
	}
	if cfg.MeanDelay, err = envDuration(EnvMeanDelay, cfg.MeanDelay); err != nil {
		return Config{}, err
	}
	if cfg.Seed, err = envInt64(EnvSeed, cfg.Seed); err != nil {
		return Config{}, err
	}
	if v := os.Getenv(EnvRegistryDir); v != "" {
		cfg.RegistryDir = v
	}
	if v := os.Getenv(EnvDHTProtocols); v != "" {
		cfg.DHTProtocols = nil
		for _, p := range strings.Split(v, ",") {
			p = strings.TrimSpace(p)
			if p != "" {
				cfg.DHTProtocols = append(cfg.DHTProtocols, protocol.ID(p))
			}
		}
	}

	return cfg, cfg.validate()
}

func (cfg Config) validate() error {
	if cfg.Nodes <= 0 {
		return xerrors.Errorf("%s: cluster needs at least one node, got %d", EnvNodes, cfg.Nodes)
	}
	if cfg.Operations < 0 {
		return xerrors.Errorf("%s: operation count cannot be negative, got %d", EnvOperations, cfg.Operations)
	}
	if cfg.MeanSize <= 0 || cfg.MaxSize <= 0 {
		return xerrors.Errorf("payload sizes must be positive, got mean %d max %d", cfg.MeanSize, cfg.MaxSize)
	}
	if cfg.MaxSize < cfg.MeanSize {
		return xerrors.Errorf("%s: size clip %s is below the mean %s", EnvMaxSize,
			humanize.IBytes(uint64(cfg.MaxSize)), humanize.IBytes(uint64(cfg.MeanSize)))
	}
	if cfg.OpTimeout <= 0 {
		return xerrors.Errorf("%s: operation timeout must be positive, got %s", EnvOpTimeout, cfg.OpTimeout)
	}
	if cfg.MeanDelay < 0 {
		return xerrors.Errorf("%s: mean delay cannot be negative, got %s", EnvMeanDelay, cfg.MeanDelay)
	}
	return nil
}

func envInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, xerrors.Errorf("parsing %s=%q: %w", key, v, err)
	}
	return n, nil
}

func envInt64(key string, def int64) (int64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, xerrors.Errorf("parsing %s=%q: %w", key, v, err)
	}
	return n, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, xerrors.Errorf("parsing %s=%q: %w", key, v, err)
	}
	return d, nil
}

// envSize accepts either a bare byte count or a humanized size like "128MiB"
func envSize(key string, def int64) (int64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := humanize.ParseBytes(v)
	if err != nil {
		return 0, xerrors.Errorf("parsing %s=%q: %w", key, v, err)
	}
	return int64(n), nil
}
