package cli_test

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	ipfslab "github.com/WithoutAName25/ipfs-lab"
	"github.com/WithoutAName25/ipfs-lab/cli"
	"github.com/WithoutAName25/ipfs-lab/config"
	"github.com/WithoutAName25/ipfs-lab/testutil"
)

func testConfig(t *testing.T, nodes int) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Nodes = nodes
	cfg.TopologyLog = filepath.Join(dir, "topology.csv")
	cfg.WorkloadLog = filepath.Join(dir, "workload.csv")
	cfg.Operations = 5
	cfg.MeanSize = 1024
	cfg.MaxSize = 4096
	cfg.MeanDelay = 0
	cfg.OpTimeout = 10 * time.Second
	return &cfg
}

func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func readRows(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestTopoBuildsRingAndPrintsMatrix(t *testing.T) {
	fc := testutil.NewFakeCluster(4)
	cfg := testConfig(t, 4)
	cmd := cli.NewTopoCommand(&cli.RootOptions{API: fc, Config: cfg})

	out, err := execute(t, cmd, "--topology", "ring")
	require.NoError(t, err)
	require.Contains(t, out, "ring topology: 4/4 edges connected")
	require.Contains(t, out, "Connection Matrix:")
	require.Contains(t, out, "x 1 0 1\n1 x 1 0\n0 1 x 1\n1 0 1 x\n")

	rows := readRows(t, cfg.TopologyLog)
	require.Len(t, rows, 6, "header, four connects, one completed action")
	for _, row := range rows[1:5] {
		require.Equal(t, "connect", row[1])
		require.Equal(t, "completed", row[3])
	}
	require.Equal(t, "topology_ring", rows[5][1])
	require.Equal(t, "completed", rows[5][3])
}

func TestTopoAcceptsPreferentialAttachmentAlias(t *testing.T) {
	fc := testutil.NewFakeCluster(4)
	cfg := testConfig(t, 4)
	cmd := cli.NewTopoCommand(&cli.RootOptions{API: fc, Config: cfg})

	out, err := execute(t, cmd, "--topology", "preferential-attachment", "--attach", "1")
	require.NoError(t, err)
	require.Contains(t, out, "barabasi topology: 3/3 edges connected")

	rows := readRows(t, cfg.TopologyLog)
	require.Equal(t, "topology_barabasi", rows[len(rows)-1][1])
}

func TestTopoMatrixOnlySkipsConstruction(t *testing.T) {
	fc := testutil.NewFakeCluster(3)
	cfg := testConfig(t, 3)
	cmd := cli.NewTopoCommand(&cli.RootOptions{API: fc, Config: cfg})

	out, err := execute(t, cmd, "--matrix")
	require.NoError(t, err)
	require.Contains(t, out, "Connection Matrix:")
	require.Empty(t, fc.Attempts(), "--matrix makes no connect calls")

	rows := readRows(t, cfg.TopologyLog)
	require.Len(t, rows, 2)
	require.Equal(t, "matrix_read", rows[1][1])
	require.Equal(t, "completed", rows[1][3])
}

func TestTopoNonSquareGridIsFatal(t *testing.T) {
	fc := testutil.NewFakeCluster(8)
	cfg := testConfig(t, 8)
	cmd := cli.NewTopoCommand(&cli.RootOptions{API: fc, Config: cfg})

	_, err := execute(t, cmd, "--topology", "grid")
	require.ErrorIs(t, err, ipfslab.ErrNotSquare)

	rows := readRows(t, cfg.TopologyLog)
	require.Len(t, rows, 2, "the failure is logged before the process dies")
	require.Equal(t, "error", rows[1][1])
	require.Equal(t, "failed", rows[1][3])
	require.Contains(t, rows[1][4], "ConfigurationError")
}

func TestTopoUnknownTopologyIsFatal(t *testing.T) {
	fc := testutil.NewFakeCluster(2)
	cfg := testConfig(t, 2)
	cmd := cli.NewTopoCommand(&cli.RootOptions{API: fc, Config: cfg})

	_, err := execute(t, cmd, "--topology", "torus")
	require.ErrorIs(t, err, ipfslab.ErrUnknownKind)

	rows := readRows(t, cfg.TopologyLog)
	require.Equal(t, "failed", rows[1][3])
}

func TestTopoWaitsForNodesBeforeBuilding(t *testing.T) {
	fc := testutil.NewFakeCluster(4)
	fc.FailIdentity(2)
	cfg := testConfig(t, 4)
	cfg.OpTimeout = 200 * time.Millisecond
	cmd := cli.NewTopoCommand(&cli.RootOptions{API: fc, Config: cfg})

	_, err := execute(t, cmd, "--topology", "ring")
	require.ErrorIs(t, err, ipfslab.ErrIdentityUnavailable)
	require.Empty(t, fc.Attempts(), "no edges are attempted against an unready cluster")

	rows := readRows(t, cfg.TopologyLog)
	require.Len(t, rows, 2)
	require.Equal(t, "error", rows[1][1])
	require.Equal(t, "failed", rows[1][3])
	require.Contains(t, rows[1][4], "IdentityFetchFailure")
}

func TestLoadWaitsForNodesBeforeScheduling(t *testing.T) {
	fc := testutil.NewFakeCluster(3)
	fc.FailIdentity(0)
	cfg := testConfig(t, 3)
	cfg.OpTimeout = 200 * time.Millisecond
	cmd := cli.NewLoadCommand(&cli.RootOptions{API: fc, Config: cfg})

	_, err := execute(t, cmd, "--operations", "4")
	require.ErrorIs(t, err, ipfslab.ErrIdentityUnavailable)
	require.NoFileExists(t, cfg.WorkloadLog, "no operations run against an unready cluster")
}

func TestTopoWithoutActionIsFatal(t *testing.T) {
	fc := testutil.NewFakeCluster(2)
	cfg := testConfig(t, 2)
	cmd := cli.NewTopoCommand(&cli.RootOptions{API: fc, Config: cfg})

	_, err := execute(t, cmd)
	require.ErrorIs(t, err, ipfslab.ErrNoAction)

	rows := readRows(t, cfg.TopologyLog)
	require.Len(t, rows, 2)
	require.Equal(t, "invalid_args", rows[1][1])
	require.Equal(t, "error", rows[1][3])
}

func TestLoadRunsWorkload(t *testing.T) {
	fc := testutil.NewFakeCluster(3)
	cfg := testConfig(t, 3)
	cmd := cli.NewLoadCommand(&cli.RootOptions{API: fc, Config: cfg})

	out, err := execute(t, cmd, "--operations", "8", "--seed", "42")
	require.NoError(t, err)
	require.Contains(t, out, "workload complete:")

	rows := readRows(t, cfg.WorkloadLog)
	require.Len(t, rows, 9, "header plus one row per operation")
	require.Equal(t, []string{"timestamp", "node", "action", "file_size", "cid", "duration", "success"}, rows[0])
	require.Equal(t, "upload", rows[1][2], "the first operation is always an upload")
	for _, row := range rows[1:] {
		require.Equal(t, "true", row[6])
		require.True(t, strings.HasPrefix(row[1], "ipfs"))
	}
}

func TestTopoVerboseRendersProgress(t *testing.T) {
	fc := testutil.NewFakeCluster(3)
	cfg := testConfig(t, 3)
	cmd := cli.NewTopoCommand(&cli.RootOptions{API: fc, Config: cfg, Verbose: true})

	out, err := execute(t, cmd, "--topology", "ring")
	require.NoError(t, err)
	require.Contains(t, out, "TopologyStarted")
	require.Contains(t, out, "Connected")
	require.Contains(t, out, "MatrixRead")
}

func TestRootCommandWiresSubcommands(t *testing.T) {
	root := cli.NewRootCommand(&bytes.Buffer{})
	names := []string{}
	for _, sub := range root.Commands() {
		names = append(names, sub.Name())
	}
	require.Contains(t, names, "topo")
	require.Contains(t, names, "load")
}
