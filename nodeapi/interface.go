package nodeapi

import (
	"context"
	"net"

	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/libp2p/go-libp2p-core/protocol"
	ma "github.com/multiformats/go-multiaddr"

	ipfslab "github.com/WithoutAName25/ipfs-lab"
)

// PeerSession is one live peer connection as a node reports it, along with
// the protocol streams open over it
type PeerSession struct {
	// Peer is the remote side's identity
	Peer peer.ID

	// Addr is the remote side's transport address, nil when the node
	// reported something unparseable
	Addr ma.Multiaddr

	// Latency is the node's latency estimate, verbatim from the API
	Latency string

	// Streams lists the protocols active over this session
	Streams []protocol.ID
}

// HasStream reports whether any of the given protocols is active over this
// session
func (ps PeerSession) HasStream(protocols ...protocol.ID) bool {
	for _, stream := range ps.Streams {
		for _, p := range protocols {
			if stream == p {
				return true
			}
		}
	}
	return false
}

// Control is the management surface of one node: who it is, where it lives,
// and who it talks to. The driver holds no live connection to any node;
// every call is a fresh request to the node's HTTP API.
type Control interface {
	// ResolveAddr resolves a node's name to the IP address its peer
	// transport listens on
	ResolveAddr(ctx context.Context, node ipfslab.Node) (net.IP, error)

	// Identity fetches the node's peer identity
	Identity(ctx context.Context, node ipfslab.Node) (peer.ID, error)

	// Connect asks the node to open a peer connection to the target address
	Connect(ctx context.Context, node ipfslab.Node, target ma.Multiaddr) error

	// PeerSessions lists the node's live peer connections
	PeerSessions(ctx context.Context, node ipfslab.Node) ([]PeerSession, error)
}

// Storage is the content surface of one node
type Storage interface {
	// Upload adds a payload to the node's store and returns the identifier
	// the cluster will know it by
	Upload(ctx context.Context, node ipfslab.Node, payload []byte) (cid.Cid, error)

	// Fetch retrieves a payload by identifier through the given node,
	// wherever in the cluster the content actually lives
	Fetch(ctx context.Context, node ipfslab.Node, c cid.Cid) ([]byte, error)
}

// API is the full surface of one node
type API interface {
	Control
	Storage
}
