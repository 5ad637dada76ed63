package testutil

import (
	"context"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	blocks "github.com/ipfs/go-block-format"
	cid "github.com/ipfs/go-cid"
	"github.com/ipfs/go-datastore"
	dss "github.com/ipfs/go-datastore/sync"
	blockstore "github.com/ipfs/go-ipfs-blockstore"
	delay "github.com/ipfs/go-ipfs-delay"
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/libp2p/go-libp2p-core/protocol"
	ma "github.com/multiformats/go-multiaddr"
	"golang.org/x/xerrors"

	ipfslab "github.com/WithoutAName25/ipfs-lab"
	"github.com/WithoutAName25/ipfs-lab/nodeapi"
)

// ConnectAttempt is one connect call a test observed, successful or not
type ConnectAttempt struct {
	Source int
	Target int
	Addr   ma.Multiaddr
}

// FakeCluster implements the node control and storage surfaces over an
// in-memory cluster: each node gets its own blockstore, uploads become
// blocks, and connects become symmetric peer sessions. Latency and failures
// are scriptable per node so tests can drive the failure paths without a
// live deployment.
type FakeCluster struct {
	nodes   []ipfslab.Node
	ids     []peer.ID
	ips     []net.IP
	stores  []blockstore.Blockstore
	latency delay.D

	lk           sync.Mutex
	sessions     map[int]map[int]bool
	attempts     []ConnectAttempt
	streams      []protocol.ID
	failResolve  map[int]bool
	failIdentity map[int]bool
	failConnect  map[int]bool
	uploadErrs   map[int]error
	fetchErrs    map[int]error
}

var _ nodeapi.API = (*FakeCluster)(nil)

// NewFakeCluster builds a cluster of n nodes named ipfs0 through ipfs(n-1),
// fully disconnected, with no latency and no scripted failures
func NewFakeCluster(n int) *FakeCluster {
	fc := &FakeCluster{
		nodes:        ipfslab.MakeNodes("ipfs", n, 5001, 4001),
		ids:          GeneratePeers(n),
		latency:      delay.Fixed(0),
		sessions:     make(map[int]map[int]bool),
		streams:      []protocol.ID{"/ipfs/lan/kad/1.0.0", "/ipfs/id/1.0.0"},
		failResolve:  make(map[int]bool),
		failIdentity: make(map[int]bool),
		failConnect:  make(map[int]bool),
		uploadErrs:   make(map[int]error),
		fetchErrs:    make(map[int]error),
	}
	for i := 0; i < n; i++ {
		fc.ips = append(fc.ips, net.IPv4(172, 20, 0, byte(i+2)))
		store := blockstore.NewBlockstore(dss.MutexWrap(datastore.NewMapDatastore()))
		fc.stores = append(fc.stores, store)
		fc.sessions[i] = make(map[int]bool)
	}
	return fc
}

// Nodes returns the cluster roster
func (fc *FakeCluster) Nodes() []ipfslab.Node {
	return fc.nodes
}

// IDs returns every node's peer identity, by index
func (fc *FakeCluster) IDs() []peer.ID {
	return fc.ids
}

// SetLatency makes every subsequent call wait the given duration
func (fc *FakeCluster) SetLatency(d time.Duration) {
	fc.latency.Set(d)
}

// SetStreams changes the protocol streams advertised on every session
func (fc *FakeCluster) SetStreams(protocols ...protocol.ID) {
	fc.lk.Lock()
	defer fc.lk.Unlock()
	fc.streams = protocols
}

// FailResolve makes address resolution fail for the given node
func (fc *FakeCluster) FailResolve(index int) {
	fc.lk.Lock()
	defer fc.lk.Unlock()
	fc.failResolve[index] = true
}

// FailIdentity makes identity lookups fail for the given node
func (fc *FakeCluster) FailIdentity(index int) {
	fc.lk.Lock()
	defer fc.lk.Unlock()
	fc.failIdentity[index] = true
}

// FailConnect makes every connect sourced at the given node fail
func (fc *FakeCluster) FailConnect(source int) {
	fc.lk.Lock()
	defer fc.lk.Unlock()
	fc.failConnect[source] = true
}

// FailUploads makes uploads through the given node return err
func (fc *FakeCluster) FailUploads(index int, err error) {
	fc.lk.Lock()
	defer fc.lk.Unlock()
	fc.uploadErrs[index] = err
}

// FailFetches makes fetches through the given node return err
func (fc *FakeCluster) FailFetches(index int, err error) {
	fc.lk.Lock()
	defer fc.lk.Unlock()
	fc.fetchErrs[index] = err
}

// DropSession removes one direction of an established session, for tests
// that need an asymmetric connectivity snapshot
func (fc *FakeCluster) DropSession(from int, to int) {
	fc.lk.Lock()
	defer fc.lk.Unlock()
	delete(fc.sessions[from], to)
}

// Attempts returns every connect call seen so far, in order
func (fc *FakeCluster) Attempts() []ConnectAttempt {
	fc.lk.Lock()
	defer fc.lk.Unlock()
	out := make([]ConnectAttempt, len(fc.attempts))
	copy(out, fc.attempts)
	return out
}

func (fc *FakeCluster) ResolveAddr(ctx context.Context, node ipfslab.Node) (net.IP, error) {
	if err := fc.wait(ctx); err != nil {
		return nil, err
	}
	fc.lk.Lock()
	defer fc.lk.Unlock()
	if fc.failResolve[node.Index] {
		return nil, xerrors.Errorf("%w: %s", ipfslab.ErrAddressUnresolved, node.Name)
	}
	return fc.ips[node.Index], nil
}

func (fc *FakeCluster) Identity(ctx context.Context, node ipfslab.Node) (peer.ID, error) {
	if err := fc.wait(ctx); err != nil {
		return "", err
	}
	fc.lk.Lock()
	defer fc.lk.Unlock()
	if fc.failIdentity[node.Index] {
		return "", xerrors.Errorf("%w: %s", ipfslab.ErrIdentityUnavailable, node.Name)
	}
	return fc.ids[node.Index], nil
}

func (fc *FakeCluster) Connect(ctx context.Context, node ipfslab.Node, target ma.Multiaddr) error {
	if err := fc.wait(ctx); err != nil {
		return err
	}
	fc.lk.Lock()
	defer fc.lk.Unlock()

	idStr, err := target.ValueForProtocol(ma.P_P2P)
	if err != nil {
		return xerrors.Errorf("%w: %s has no peer component", ipfslab.ErrConnectRefused, target)
	}
	id, err := peer.Decode(idStr)
	if err != nil {
		return xerrors.Errorf("%w: undecodable peer in %s", ipfslab.ErrConnectRefused, target)
	}
	targetIndex := -1
	for i, known := range fc.ids {
		if known == id {
			targetIndex = i
			break
		}
	}
	fc.attempts = append(fc.attempts, ConnectAttempt{Source: node.Index, Target: targetIndex, Addr: target})

	if fc.failConnect[node.Index] {
		return xerrors.Errorf("%w: %s is refusing dials", ipfslab.ErrConnectRefused, node.Name)
	}
	if targetIndex < 0 {
		return xerrors.Errorf("%w: no node answers to %s", ipfslab.ErrConnectRefused, id)
	}
	// live swarms report connections on both ends
	fc.sessions[node.Index][targetIndex] = true
	fc.sessions[targetIndex][node.Index] = true
	return nil
}

func (fc *FakeCluster) PeerSessions(ctx context.Context, node ipfslab.Node) ([]nodeapi.PeerSession, error) {
	if err := fc.wait(ctx); err != nil {
		return nil, err
	}
	fc.lk.Lock()
	defer fc.lk.Unlock()

	indexes := make([]int, 0, len(fc.sessions[node.Index]))
	for j := range fc.sessions[node.Index] {
		indexes = append(indexes, j)
	}
	sort.Ints(indexes)

	sessions := make([]nodeapi.PeerSession, 0, len(indexes))
	for _, j := range indexes {
		addr, err := ma.NewMultiaddr(fmt.Sprintf("/ip4/%s/tcp/%d", fc.ips[j], fc.nodes[j].SwarmPort))
		if err != nil {
			return nil, err
		}
		streams := make([]protocol.ID, len(fc.streams))
		copy(streams, fc.streams)
		sessions = append(sessions, nodeapi.PeerSession{
			Peer:    fc.ids[j],
			Addr:    addr,
			Latency: "1ms",
			Streams: streams,
		})
	}
	return sessions, nil
}

func (fc *FakeCluster) Upload(ctx context.Context, node ipfslab.Node, payload []byte) (cid.Cid, error) {
	if err := fc.wait(ctx); err != nil {
		return cid.Undef, err
	}
	fc.lk.Lock()
	uploadErr := fc.uploadErrs[node.Index]
	fc.lk.Unlock()
	if uploadErr != nil {
		return cid.Undef, uploadErr
	}
	blk := blocks.NewBlock(payload)
	if err := fc.stores[node.Index].Put(ctx, blk); err != nil {
		return cid.Undef, err
	}
	return blk.Cid(), nil
}

func (fc *FakeCluster) Fetch(ctx context.Context, node ipfslab.Node, c cid.Cid) ([]byte, error) {
	if err := fc.wait(ctx); err != nil {
		return nil, err
	}
	fc.lk.Lock()
	fetchErr := fc.fetchErrs[node.Index]
	fc.lk.Unlock()
	if fetchErr != nil {
		return nil, fetchErr
	}
	// the serving node finds cluster content it does not hold itself, the
	// way a live node would through the overlay
	if blk, err := fc.stores[node.Index].Get(ctx, c); err == nil {
		return blk.RawData(), nil
	}
	for _, store := range fc.stores {
		if blk, err := store.Get(ctx, c); err == nil {
			return blk.RawData(), nil
		}
	}
	return nil, blockstore.ErrNotFound
}

// wait applies the cluster's scripted latency, giving up early if the
// caller's deadline expires first
func (fc *FakeCluster) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d := fc.latency.NextWaitTime()
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
