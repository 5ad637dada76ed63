package execlog_test

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	ipfslab "github.com/WithoutAName25/ipfs-lab"
	"github.com/WithoutAName25/ipfs-lab/execlog"
	"github.com/WithoutAName25/ipfs-lab/workload"
)

func readRows(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestStreamWritesHeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.csv")
	header := []string{"timestamp", "action", "num_nodes", "status", "details"}

	s, err := execlog.Open(path, header, false)
	require.NoError(t, err)
	require.Equal(t, path, s.Path())
	require.NoError(t, s.Append("t0", "connect", "4", "completed", "ipfs0->ipfs1"))

	// reopening without reset keeps accumulated rows
	s, err = execlog.Open(path, header, false)
	require.NoError(t, err)
	require.NoError(t, s.Append("t1", "connect", "4", "failed", "ipfs1->ipfs2: refused"))

	rows := readRows(t, path)
	require.Len(t, rows, 3)
	require.Equal(t, header, rows[0])
	require.Equal(t, "t0", rows[1][0])
	require.Equal(t, "t1", rows[2][0])
}

func TestStreamResetTruncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.csv")
	header := []string{"a", "b"}

	s, err := execlog.Open(path, header, false)
	require.NoError(t, err)
	require.NoError(t, s.Append("1", "2"))

	s, err = execlog.Open(path, header, true)
	require.NoError(t, err)
	require.NoError(t, s.Append("3", "4"))

	rows := readRows(t, path)
	require.Len(t, rows, 2)
	require.Equal(t, []string{"3", "4"}, rows[1])
}

func TestStreamRejectsMisshapenRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.csv")
	s, err := execlog.Open(path, []string{"a", "b"}, false)
	require.NoError(t, err)
	require.Error(t, s.Append("only one field"))
	require.Len(t, readRows(t, path), 1, "a rejected row leaves only the header")
}

func TestStreamCreatesLogDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deep", "nested", "log.csv")
	s, err := execlog.Open(path, []string{"a"}, false)
	require.NoError(t, err)
	require.NoError(t, s.Append("1"))
	require.Len(t, readRows(t, path), 2)
}

func TestTopologyLogRecordsConnectsAndActions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topology.csv")
	l, err := execlog.OpenTopologyLog(path, 4, true)
	require.NoError(t, err)

	nodes := ipfslab.MakeNodes("ipfs", 4, 5001, 4001)
	require.NoError(t, l.Connect(nodes[0], nodes[1], nil))
	require.NoError(t, l.Connect(nodes[1], nodes[2], xerrors.New("dial refused")))
	require.NoError(t, l.Action("topology_ring", execlog.StatusCompleted, ""))
	require.NoError(t, l.Action("error", execlog.StatusFailed, "grid: node count is not a perfect square"))

	rows := readRows(t, path)
	require.Len(t, rows, 5)
	require.Equal(t, []string{"timestamp", "action", "num_nodes", "status", "details"}, rows[0])

	require.Equal(t, "connect", rows[1][1])
	require.Equal(t, "4", rows[1][2])
	require.Equal(t, execlog.StatusCompleted, rows[1][3])
	require.Equal(t, "ipfs0->ipfs1", rows[1][4])

	require.Equal(t, execlog.StatusFailed, rows[2][3])
	require.Contains(t, rows[2][4], "dial refused")

	require.Equal(t, "topology_ring", rows[3][1])
	require.Equal(t, execlog.StatusFailed, rows[4][3])

	for _, row := range rows[1:] {
		_, err := time.Parse(time.RFC3339Nano, row[0])
		require.NoError(t, err, "timestamps are RFC3339Nano")
	}
}

func TestWorkloadLogRecordsOperations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workload.csv")
	l, err := execlog.OpenWorkloadLog(path, true)
	require.NoError(t, err)

	start := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	require.NoError(t, l.Record(workload.OperationRecord{
		Start:    start,
		Node:     "ipfs3",
		Action:   ipfslab.Upload,
		Size:     4096,
		CID:      "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG",
		Duration: 1500 * time.Millisecond,
		Success:  true,
	}))
	require.NoError(t, l.Record(workload.OperationRecord{
		Start:    start.Add(time.Second),
		Node:     "ipfs0",
		Action:   ipfslab.Upload,
		Size:     1024,
		CID:      workload.FailedCID,
		Duration: 30 * time.Second,
	}))

	rows := readRows(t, path)
	require.Len(t, rows, 3)
	require.Equal(t, []string{"timestamp", "node", "action", "file_size", "cid", "duration", "success"}, rows[0])

	require.Equal(t, []string{
		start.Format(time.RFC3339Nano), "ipfs3", "upload", "4096",
		"QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG", "1.5", "true",
	}, rows[1])

	require.Equal(t, "error", rows[2][4], "failed uploads log the placeholder identifier")
	require.Equal(t, "false", rows[2][6])
	duration, err := strconv.ParseFloat(rows[2][5], 64)
	require.NoError(t, err)
	require.Equal(t, 30.0, duration)
}
