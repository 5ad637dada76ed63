package topology

import (
	"context"
	"fmt"

	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/libp2p/go-libp2p-core/protocol"
	"golang.org/x/xerrors"

	ipfslab "github.com/WithoutAName25/ipfs-lab"
	"github.com/WithoutAName25/ipfs-lab/nodeapi"
)

// DefaultDHTProtocols are the protocol streams that mark a peer session as an
// overlay edge. Sessions carrying only bitswap or identify streams are
// transport artifacts, not topology.
var DefaultDHTProtocols = []protocol.ID{
	"/ipfs/kad/1.0.0",
	"/ipfs/lan/kad/1.0.0",
}

// VerifierOption is an option for configuring a topology verifier
type VerifierOption func(*Verifier)

// WithDHTProtocols overrides the protocol streams that qualify a session as
// an overlay edge
func WithDHTProtocols(protocols ...protocol.ID) VerifierOption {
	return func(v *Verifier) {
		v.protocols = protocols
	}
}

// WithVerifierBus publishes snapshot events to the given bus
func WithVerifierBus(bus *ipfslab.Bus) VerifierOption {
	return func(v *Verifier) {
		v.bus = bus
	}
}

// Verifier reads the cluster's live connection graph back out of each node's
// session list. One Snapshot call probes every node once, so repeated
// snapshots double as liveness checks across the roster.
type Verifier struct {
	ctrl      nodeapi.Control
	nodes     []ipfslab.Node
	protocols []protocol.ID
	bus       *ipfslab.Bus
}

// NewVerifier initializes a verifier over the given roster
func NewVerifier(ctrl nodeapi.Control, nodes []ipfslab.Node, options ...VerifierOption) (*Verifier, error) {
	if ctrl == nil {
		return nil, xerrors.New("topology verifier needs a control surface")
	}
	if len(nodes) == 0 {
		return nil, xerrors.New("topology verifier needs at least one node")
	}
	v := &Verifier{ctrl: ctrl, nodes: nodes, protocols: DefaultDHTProtocols}
	for _, option := range options {
		option(v)
	}
	return v, nil
}

// Snapshot queries every node for its live peer sessions and assembles the
// adjacency matrix: row i holds a 1 for every node whose identity appears
// among i's overlay sessions. Nodes that fail the identity probe or the
// session query are logged and skipped, leaving their slots empty, so a
// partially reachable cluster still yields a matrix. Snapshot only errors
// when the context is done.
func (v *Verifier) Snapshot(ctx context.Context) (Matrix, error) {
	matrix := NewMatrix(len(v.nodes))

	// one identity probe per node per pass; a peer that restarts with a
	// fresh identity mid-pass is missed until the next snapshot
	indexByID := make(map[peer.ID]int, len(v.nodes))
	for _, node := range v.nodes {
		if err := ctx.Err(); err != nil {
			return matrix, err
		}
		id, err := v.ctrl.Identity(ctx, node)
		if err != nil {
			log.Warnf("skipping identity of %s: %s", node.Name, err)
			continue
		}
		// first match wins: a duplicate identity keeps its lowest index
		if _, seen := indexByID[id]; !seen {
			indexByID[id] = node.Index
		}
	}

	for _, node := range v.nodes {
		if err := ctx.Err(); err != nil {
			return matrix, err
		}
		sessions, err := v.ctrl.PeerSessions(ctx, node)
		if err != nil {
			log.Warnf("skipping sessions of %s: %s", node.Name, err)
			continue
		}
		for _, session := range sessions {
			if !session.HasStream(v.protocols...) {
				continue
			}
			target, known := indexByID[session.Peer]
			if !known {
				log.Debugf("%s has an overlay session with unknown peer %s", node.Name, session.Peer)
				continue
			}
			matrix.Set(node.Index, target)
		}
	}

	if v.bus != nil {
		v.bus.Publish(ipfslab.MatrixRead, fmt.Sprintf("%d nodes, %d edges", matrix.Dimension(), len(matrix.Edges())))
	}
	return matrix, nil
}
