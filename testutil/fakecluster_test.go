package testutil_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/WithoutAName25/ipfs-lab/testutil"
)

func TestFakeClusterRoundTrip(t *testing.T) {
	ctx := context.Background()
	fc := testutil.NewFakeCluster(4)
	nodes := fc.Nodes()
	payload := testutil.RandomBytes(4096)

	c, err := fc.Upload(ctx, nodes[1], payload)
	require.NoError(t, err)

	// fetching through any node yields the bytes that were uploaded
	for _, node := range nodes {
		fetched, err := fc.Fetch(ctx, node, c)
		require.NoError(t, err)
		require.Equal(t, payload, fetched)
	}
}

func TestFakeClusterContentAddressing(t *testing.T) {
	ctx := context.Background()
	fc := testutil.NewFakeCluster(2)
	nodes := fc.Nodes()
	payload := testutil.RandomBytes(1024)

	c1, err := fc.Upload(ctx, nodes[0], payload)
	require.NoError(t, err)
	c2, err := fc.Upload(ctx, nodes[1], payload)
	require.NoError(t, err)
	require.Equal(t, c1, c2, "equal payloads collide to equal identifiers")

	other, err := fc.Upload(ctx, nodes[0], testutil.RandomBytes(1024))
	require.NoError(t, err)
	require.NotEqual(t, c1, other)
}

func TestFakeClusterUnknownIdentifier(t *testing.T) {
	fc := testutil.NewFakeCluster(1)
	_, err := fc.Fetch(context.Background(), fc.Nodes()[0], testutil.GenerateCids(1)[0])
	require.Error(t, err)
}
