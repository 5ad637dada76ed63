// Package topology wires a cluster of storage nodes into a chosen connection
// graph and reads the live graph back out as an adjacency matrix. Both halves
// are best effort: a node that will not answer costs an edge or a matrix row,
// never the whole pass.
package topology

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	logging "github.com/ipfs/go-log/v2"
	ma "github.com/multiformats/go-multiaddr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/xerrors"

	ipfslab "github.com/WithoutAName25/ipfs-lab"
	"github.com/WithoutAName25/ipfs-lab/nodeapi"
)

var log = logging.Logger("lab-topology")

// EdgeResult is the outcome of one connect attempt. Err carries the failure
// kind when the attempt did not go through; a nil Err means the source node
// acknowledged the connection.
type EdgeResult struct {
	Edge Edge
	Err  error
}

// Success reports whether the attempt went through
func (er EdgeResult) Success() bool {
	return er.Err == nil
}

// Recorder receives exactly one call per connect attempt. The execution log
// satisfies this; tests substitute their own.
type Recorder interface {
	Connect(source ipfslab.Node, target ipfslab.Node, connectErr error) error
}

// Option is an option for configuring a topology builder
type Option func(*Builder)

// WithSeed fixes the random source used by randomized topologies
func WithSeed(seed int64) Option {
	return func(b *Builder) {
		b.seed = seed
	}
}

// WithRecorder logs every connect attempt to the given recorder
func WithRecorder(rec Recorder) Option {
	return func(b *Builder) {
		b.recorder = rec
	}
}

// WithBus publishes build and edge events to the given bus
func WithBus(bus *ipfslab.Bus) Option {
	return func(b *Builder) {
		b.bus = bus
	}
}

// Builder issues the connect commands that wire a cluster into a chosen
// graph. Edge attempts never retry and never abort the walk; the caller
// reads per-edge outcomes out of the returned results.
type Builder struct {
	ctrl     nodeapi.Control
	nodes    []ipfslab.Node
	recorder Recorder
	bus      *ipfslab.Bus
	seed     int64
	rng      *rand.Rand
}

// NewBuilder initializes a builder over the given roster
func NewBuilder(ctrl nodeapi.Control, nodes []ipfslab.Node, options ...Option) (*Builder, error) {
	if ctrl == nil {
		return nil, xerrors.New("topology builder needs a control surface")
	}
	if len(nodes) == 0 {
		return nil, xerrors.New("topology builder needs at least one node")
	}
	b := &Builder{ctrl: ctrl, nodes: nodes, seed: 1}
	for _, option := range options {
		option(b)
	}
	b.rng = rand.New(rand.NewSource(b.seed))
	return b, nil
}

// Build constructs the named topology. Preferential attachment reads its
// parameter from m; the other kinds ignore it.
func (b *Builder) Build(ctx context.Context, kind ipfslab.Kind, m int) ([]EdgeResult, error) {
	switch kind {
	case ipfslab.Ring:
		return b.Ring(ctx), nil
	case ipfslab.Grid:
		return b.Grid(ctx)
	case ipfslab.FullMesh:
		return b.FullMesh(ctx), nil
	case ipfslab.PreferentialAttachment:
		return b.PreferentialAttachment(ctx, m)
	default:
		return nil, xerrors.Errorf("%w: %d", ipfslab.ErrUnknownKind, kind)
	}
}

// Ring connects every node to its successor, closing the cycle back at node
// 0: exactly N attempts, one per node.
func (b *Builder) Ring(ctx context.Context) []EdgeResult {
	n := len(b.nodes)
	b.begin(ipfslab.Ring, n)
	results := make([]EdgeResult, 0, n)
	for i := 0; i < n; i++ {
		results = append(results, b.connect(ctx, i, (i+1)%n))
	}
	b.finish(ipfslab.Ring, results)
	return results
}

// Grid arranges the nodes into a square lattice: cell (i,j) is node i*S+j,
// connected to its right and down neighbors. The node count must be a
// perfect square.
func (b *Builder) Grid(ctx context.Context) ([]EdgeResult, error) {
	n := len(b.nodes)
	side := int(math.Sqrt(float64(n)))
	if side*side != n {
		return nil, xerrors.Errorf("%w: %d nodes", ipfslab.ErrNotSquare, n)
	}
	b.begin(ipfslab.Grid, n)
	var results []EdgeResult
	for i := 0; i < side; i++ {
		for j := 0; j < side; j++ {
			current := i*side + j
			if j < side-1 {
				results = append(results, b.connect(ctx, current, current+1))
			}
			if i < side-1 {
				results = append(results, b.connect(ctx, current, current+side))
			}
		}
	}
	b.finish(ipfslab.Grid, results)
	return results, nil
}

// FullMesh connects every unordered pair exactly once: N*(N-1)/2 attempts,
// always sourced at the lower index.
func (b *Builder) FullMesh(ctx context.Context) []EdgeResult {
	n := len(b.nodes)
	b.begin(ipfslab.FullMesh, n)
	results := make([]EdgeResult, 0, n*(n-1)/2)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			results = append(results, b.connect(ctx, i, j))
		}
	}
	b.finish(ipfslab.FullMesh, results)
	return results
}

// PreferentialAttachment grows the graph one node at a time. Node 0 seeds
// the connected set; each joining node k attempts connections to m members
// sampled uniformly without replacement (all of them while the set is
// smaller than m), and joins the set once at least one attempt succeeds. A
// node whose every attempt fails stays outside the set and is never sampled
// as a target, though later nodes still attempt to join after it.
func (b *Builder) PreferentialAttachment(ctx context.Context, m int) ([]EdgeResult, error) {
	n := len(b.nodes)
	if m < 1 || m >= n {
		return nil, xerrors.Errorf("%w: m=%d with %d nodes", ipfslab.ErrAttachment, m, n)
	}
	b.begin(ipfslab.PreferentialAttachment, n)
	connected := []int{0}
	var results []EdgeResult
	for k := 1; k < n; k++ {
		targets := b.sample(connected, m)
		joined := false
		for _, target := range targets {
			result := b.connect(ctx, k, target)
			results = append(results, result)
			if result.Success() {
				joined = true
			}
		}
		if joined {
			connected = append(connected, k)
		}
	}
	b.finish(ipfslab.PreferentialAttachment, results)
	return results, nil
}

// sample draws min(m, len(members)) distinct members uniformly at random,
// leaving the members slice untouched
func (b *Builder) sample(members []int, m int) []int {
	if m >= len(members) {
		out := make([]int, len(members))
		copy(out, members)
		return out
	}
	perm := b.rng.Perm(len(members))
	out := make([]int, 0, m)
	for _, idx := range perm[:m] {
		out = append(out, members[idx])
	}
	return out
}

// connect attempts one edge: resolve the target's address, fetch its
// identity, and ask the source to dial the assembled multiaddr. Whichever
// step fails, the outcome is recorded and the walk moves on.
func (b *Builder) connect(ctx context.Context, i int, j int) EdgeResult {
	source, target := b.nodes[i], b.nodes[j]

	ctx, span := otel.Tracer("lab-topology").Start(ctx, "connect")
	span.SetAttributes(
		attribute.String("source", source.Name),
		attribute.String("target", target.Name),
	)
	defer span.End()

	result := EdgeResult{Edge: Edge{Source: i, Target: j}}
	result.Err = b.dial(ctx, source, target)

	if result.Err != nil {
		span.RecordError(result.Err)
		span.SetStatus(codes.Error, result.Err.Error())
		log.Warnf("connect %s -> %s: %s", source.Name, target.Name, result.Err)
		b.publish(ipfslab.ConnectFailed, fmt.Sprintf("%s -> %s: %s", source.Name, target.Name, result.Err))
	} else {
		log.Debugf("connected %s -> %s", source.Name, target.Name)
		b.publish(ipfslab.Connected, fmt.Sprintf("%s -> %s", source.Name, target.Name))
	}
	if b.recorder != nil {
		if err := b.recorder.Connect(source, target, result.Err); err != nil {
			log.Errorw("dropping connect record", "source", source.Name, "target", target.Name, "err", err)
		}
	}
	return result
}

func (b *Builder) dial(ctx context.Context, source ipfslab.Node, target ipfslab.Node) error {
	ip, err := b.ctrl.ResolveAddr(ctx, target)
	if err != nil {
		return err
	}
	id, err := b.ctrl.Identity(ctx, target)
	if err != nil {
		return err
	}
	addr, err := ma.NewMultiaddr(fmt.Sprintf("/ip4/%s/tcp/%d/p2p/%s", ip, target.SwarmPort, id))
	if err != nil {
		return xerrors.Errorf("%w: assembling dial address for %s: %s", ipfslab.ErrConnectRefused, target.Name, err)
	}
	return b.ctrl.Connect(ctx, source, addr)
}

func (b *Builder) begin(kind ipfslab.Kind, n int) {
	log.Infow("building topology", "kind", kind, "nodes", n)
	b.publish(ipfslab.TopologyStarted, fmt.Sprintf("%s over %d nodes", kind, n))
}

func (b *Builder) finish(kind ipfslab.Kind, results []EdgeResult) {
	succeeded := 0
	for _, r := range results {
		if r.Success() {
			succeeded++
		}
	}
	log.Infow("topology built", "kind", kind, "attempts", len(results), "succeeded", succeeded)
	b.publish(ipfslab.TopologyCompleted, fmt.Sprintf("%s: %d/%d edges connected", kind, succeeded, len(results)))
}

func (b *Builder) publish(code ipfslab.EventCode, message string) {
	if b.bus != nil {
		b.bus.Publish(code, message)
	}
}
