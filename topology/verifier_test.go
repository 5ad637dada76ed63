package topology_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	ipfslab "github.com/WithoutAName25/ipfs-lab"
	"github.com/WithoutAName25/ipfs-lab/testutil"
	"github.com/WithoutAName25/ipfs-lab/topology"
)

func newVerifier(t *testing.T, fc *testutil.FakeCluster, options ...topology.VerifierOption) *topology.Verifier {
	t.Helper()
	v, err := topology.NewVerifier(fc, fc.Nodes(), options...)
	require.NoError(t, err)
	return v
}

func TestSnapshotOfRing(t *testing.T) {
	ctx := context.Background()
	fc := testutil.NewFakeCluster(4)
	b := newBuilder(t, fc)
	for _, result := range b.Ring(ctx) {
		require.True(t, result.Success())
	}

	matrix, err := newVerifier(t, fc).Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, matrix.Dimension())

	// live sessions show up on both ends, so each directed attempt is
	// observed symmetrically
	for i := 0; i < 4; i++ {
		next := (i + 1) % 4
		require.Equal(t, 1, matrix[i][next], "edge %d->%d", i, next)
		require.Equal(t, 1, matrix[next][i], "edge %d->%d", next, i)
	}
	require.Zero(t, matrix[0][2], "no chord in a 4 ring")
	require.Zero(t, matrix[1][3])
}

func TestSnapshotIsIdempotent(t *testing.T) {
	ctx := context.Background()
	fc := testutil.NewFakeCluster(5)
	b := newBuilder(t, fc)
	b.Ring(ctx)
	v := newVerifier(t, fc)

	first, err := v.Snapshot(ctx)
	require.NoError(t, err)
	second, err := v.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, first, second, "a stable cluster snapshots the same matrix twice")
}

func TestSnapshotObservesDirectionally(t *testing.T) {
	ctx := context.Background()
	fc := testutil.NewFakeCluster(4)
	b := newBuilder(t, fc)
	b.Ring(ctx)
	// node 1 no longer reports its session with node 0
	fc.DropSession(1, 0)

	matrix, err := newVerifier(t, fc).Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, matrix[0][1], "node 0 still reports the session")
	require.Zero(t, matrix[1][0], "observation is per node, not symmetric by construction")
}

func TestSnapshotFiltersNonOverlayStreams(t *testing.T) {
	ctx := context.Background()
	fc := testutil.NewFakeCluster(3)
	b := newBuilder(t, fc)
	b.FullMesh(ctx)
	// sessions still exist but advertise no overlay stream
	fc.SetStreams("/ipfs/bitswap/1.2.0", "/ipfs/id/1.0.0")

	matrix, err := newVerifier(t, fc).Snapshot(ctx)
	require.NoError(t, err)
	require.Empty(t, matrix.Edges(), "sessions without an overlay stream are not edges")
}

func TestSnapshotHonorsConfiguredProtocols(t *testing.T) {
	ctx := context.Background()
	fc := testutil.NewFakeCluster(2)
	b := newBuilder(t, fc)
	b.FullMesh(ctx)
	fc.SetStreams("/custom/overlay/1.0.0")

	matrix, err := newVerifier(t, fc, topology.WithDHTProtocols("/custom/overlay/1.0.0")).Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, matrix[0][1])
	require.Equal(t, 1, matrix[1][0])
}

func TestSnapshotSkipsUnresolvablePeers(t *testing.T) {
	ctx := context.Background()
	fc := testutil.NewFakeCluster(3)
	b := newBuilder(t, fc)
	b.Ring(ctx)
	// node 1 stops answering identity probes, so its sessions cannot be
	// resolved back to an index
	fc.FailIdentity(1)

	matrix, err := newVerifier(t, fc).Snapshot(ctx)
	require.NoError(t, err)
	require.Zero(t, matrix[0][1], "an unresolvable peer leaves no matrix entry")
	require.Zero(t, matrix[2][1])
	require.Equal(t, 1, matrix[0][2], "resolution of the other peers is unaffected")
	require.Equal(t, 1, matrix[2][0])
}

func TestSnapshotCancelled(t *testing.T) {
	fc := testutil.NewFakeCluster(3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newVerifier(t, fc).Snapshot(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestSnapshotPublishesMatrixRead(t *testing.T) {
	ctx := context.Background()
	fc := testutil.NewFakeCluster(2)
	bus := ipfslab.NewBus()
	defer bus.Shutdown()

	var codes []ipfslab.EventCode
	bus.Subscribe(func(evt ipfslab.Event) {
		codes = append(codes, evt.Code)
	})

	_, err := newVerifier(t, fc, topology.WithVerifierBus(bus)).Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, []ipfslab.EventCode{ipfslab.MatrixRead}, codes)
}
