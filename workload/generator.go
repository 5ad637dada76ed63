// Package workload generates randomized storage traffic against a cluster:
// a Poisson-style arrival schedule of upload and download operations, every
// outcome recorded. Runs with the same seed draw the same schedule and the
// same payload content.
package workload

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	ipfslab "github.com/WithoutAName25/ipfs-lab"
	"github.com/WithoutAName25/ipfs-lab/cidset"
	"github.com/WithoutAName25/ipfs-lab/nodeapi"
)

var log = logging.Logger("lab-workload")

var defaultOpTimeout = time.Second * 30

// Plan describes one workload run
type Plan struct {
	// Operations is how many tasks to schedule
	Operations int

	// MeanSize is the mean of the exponential payload size distribution
	MeanSize int64

	// MaxSize clips sampled payload sizes
	MaxSize int64

	// MeanDelay is the mean of the exponential inter-arrival distribution
	MeanDelay time.Duration
}

// Option is an option for configuring a workload generator
type Option func(*Generator)

// WithSeed fixes the random source so a run can be reproduced
func WithSeed(seed int64) Option {
	return func(g *Generator) {
		g.seed = seed
	}
}

// WithOpTimeout bounds each storage operation
func WithOpTimeout(d time.Duration) Option {
	return func(g *Generator) {
		g.opTimeout = d
	}
}

// WithClock substitutes the timer source, letting tests drive the schedule
// without waiting out real delays
func WithClock(clk clock.Clock) Option {
	return func(g *Generator) {
		g.clk = clk
	}
}

// WithBus publishes run and operation events to the given bus
func WithBus(bus *ipfslab.Bus) Option {
	return func(g *Generator) {
		g.bus = bus
	}
}

// Generator schedules and executes storage operations against the cluster.
// One generator drives one run at a time.
type Generator struct {
	storage   nodeapi.Storage
	nodes     []ipfslab.Node
	registry  *cidset.Registry
	recorder  Recorder
	bus       *ipfslab.Bus
	clk       clock.Clock
	opTimeout time.Duration
	seed      int64

	rngLk sync.Mutex
	rng   *rand.Rand

	uploads         *atomic.Int64
	downloads       *atomic.Int64
	succeeded       *atomic.Int64
	failed          *atomic.Int64
	bytesUploaded   *atomic.Int64
	bytesDownloaded *atomic.Int64
}

// New initializes a generator over the given cluster surfaces. The recorder
// may be nil when no log is wanted; every other collaborator is required.
func New(storage nodeapi.Storage, nodes []ipfslab.Node, registry *cidset.Registry, recorder Recorder, options ...Option) (*Generator, error) {
	if storage == nil {
		return nil, xerrors.New("workload needs a storage surface")
	}
	if len(nodes) == 0 {
		return nil, xerrors.New("workload needs at least one node")
	}
	if registry == nil {
		return nil, xerrors.New("workload needs an upload registry")
	}
	g := &Generator{
		storage:         storage,
		nodes:           nodes,
		registry:        registry,
		recorder:        recorder,
		clk:             clock.New(),
		opTimeout:       defaultOpTimeout,
		seed:            1,
		uploads:         atomic.NewInt64(0),
		downloads:       atomic.NewInt64(0),
		succeeded:       atomic.NewInt64(0),
		failed:          atomic.NewInt64(0),
		bytesUploaded:   atomic.NewInt64(0),
		bytesDownloaded: atomic.NewInt64(0),
	}
	for _, option := range options {
		option(g)
	}
	g.rng = rand.New(rand.NewSource(g.seed))
	return g, nil
}

// Schedule draws the arrival offset of every task in the plan: exponential
// inter-arrival gaps accumulated from run start, so offsets never decrease.
// Drawing the schedule consumes random state; two generators with the same
// seed produce the same schedule.
func (g *Generator) Schedule(plan Plan) []time.Duration {
	offsets := make([]time.Duration, 0, plan.Operations)
	var at time.Duration
	for i := 0; i < plan.Operations; i++ {
		at += time.Duration(g.expFloat() * float64(plan.MeanDelay))
		offsets = append(offsets, at)
	}
	return offsets
}

// Run draws a schedule for the plan and executes it: every task sleeps out
// its offset, picks an action based on what has been uploaded by the moment
// it wakes, performs it, and records the outcome. Run blocks until every
// task has finished or the context is cancelled, and returns the tally
// either way. Individual operation failures are recorded, not returned.
func (g *Generator) Run(ctx context.Context, plan Plan) (Summary, error) {
	offsets := g.Schedule(plan)
	runID := uuid.New()

	log.Infow("workload starting", "run", runID, "operations", len(offsets),
		"meanSize", plan.MeanSize, "maxSize", plan.MaxSize, "meanDelay", plan.MeanDelay)
	g.publish(ipfslab.WorkloadStarted, fmt.Sprintf("run %s: %d operations", runID, len(offsets)))

	eg, gctx := errgroup.WithContext(ctx)
	for i, offset := range offsets {
		i, offset := i, offset
		eg.Go(func() error {
			select {
			case <-g.clk.After(offset):
			case <-gctx.Done():
				return gctx.Err()
			}
			g.runOperation(gctx, runID, i, plan)
			return nil
		})
	}
	err := eg.Wait()

	summary := g.summary()
	log.Infow("workload finished", "run", runID, "summary", summary)
	g.publish(ipfslab.WorkloadCompleted, fmt.Sprintf("run %s: %s", runID, summary))
	if err != nil {
		return summary, xerrors.Errorf("run %s interrupted: %w", runID, err)
	}
	return summary, nil
}

// runOperation is one task waking up: it sizes up what the cluster knows at
// this instant and either uploads fresh content or downloads a known piece.
// The decision deliberately races with concurrent uploads; that is the
// workload being generated, not a defect.
func (g *Generator) runOperation(ctx context.Context, runID uuid.UUID, seq int, plan Plan) {
	known := g.registry.Snapshot()
	slot := g.intn(len(known) + 1)
	node := g.nodes[g.intn(len(g.nodes))]

	ctx, span := otel.Tracer("lab-workload").Start(ctx, "operation", trace.WithAttributes(
		attribute.String("run", runID.String()),
		attribute.Int("seq", seq),
		attribute.String("node", node.Name),
	))
	defer span.End()

	if slot == len(known) {
		g.upload(ctx, span, node, seq, plan)
	} else {
		g.download(ctx, span, node, seq, known[slot])
	}
}

func (g *Generator) upload(ctx context.Context, span trace.Span, node ipfslab.Node, seq int, plan Plan) {
	size := g.sampleSize(plan.MeanSize, plan.MaxSize)
	span.SetAttributes(attribute.String("action", ipfslab.Upload.String()), attribute.Int64("bytes", size))
	g.publish(ipfslab.OperationStarted, fmt.Sprintf("op %d: upload %d bytes to %s", seq, size, node.Name))

	payload := g.Payload(size)

	opCtx, cancel := context.WithTimeout(ctx, g.opTimeout)
	defer cancel()
	start := g.clk.Now()
	c, err := g.storage.Upload(opCtx, node, payload)
	duration := g.clk.Since(start)

	g.uploads.Inc()
	if err != nil {
		g.failed.Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warnw("upload failed", "seq", seq, "node", node.Name, "bytes", size, "err", err)
		g.record(OperationRecord{Start: start, Node: node.Name, Action: ipfslab.Upload, Size: size, CID: FailedCID, Duration: duration})
		g.publish(ipfslab.OperationFailed, fmt.Sprintf("op %d: upload to %s: %s", seq, node.Name, err))
		return
	}

	g.succeeded.Inc()
	g.bytesUploaded.Add(size)
	span.SetAttributes(attribute.String("cid", c.String()))
	g.record(OperationRecord{Start: start, Node: node.Name, Action: ipfslab.Upload, Size: size, CID: c.String(), Duration: duration, Success: true})

	// registration must survive run cancellation, or the acknowledged
	// upload would be unreachable for every later download
	if err := g.registry.Append(context.Background(), c); err != nil {
		log.Errorw("upload completed but was not registered", "cid", c, "err", err)
	}
	g.publish(ipfslab.OperationCompleted, fmt.Sprintf("op %d: uploaded %s to %s", seq, c, node.Name))
}

func (g *Generator) download(ctx context.Context, span trace.Span, node ipfslab.Node, seq int, c cid.Cid) {
	span.SetAttributes(attribute.String("action", ipfslab.Download.String()), attribute.String("cid", c.String()))
	g.publish(ipfslab.OperationStarted, fmt.Sprintf("op %d: download %s from %s", seq, c, node.Name))

	opCtx, cancel := context.WithTimeout(ctx, g.opTimeout)
	defer cancel()
	start := g.clk.Now()
	payload, err := g.storage.Fetch(opCtx, node, c)
	duration := g.clk.Since(start)

	g.downloads.Inc()
	if err != nil {
		g.failed.Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warnw("download failed", "seq", seq, "node", node.Name, "cid", c, "err", err)
		g.record(OperationRecord{Start: start, Node: node.Name, Action: ipfslab.Download, Size: 0, CID: c.String(), Duration: duration})
		g.publish(ipfslab.OperationFailed, fmt.Sprintf("op %d: download %s from %s: %s", seq, c, node.Name, err))
		return
	}

	g.succeeded.Inc()
	g.bytesDownloaded.Add(int64(len(payload)))
	g.record(OperationRecord{Start: start, Node: node.Name, Action: ipfslab.Download, Size: int64(len(payload)), CID: c.String(), Duration: duration, Success: true})
	g.publish(ipfslab.OperationCompleted, fmt.Sprintf("op %d: downloaded %s from %s", seq, c, node.Name))
}

func (g *Generator) record(rec OperationRecord) {
	if g.recorder == nil {
		return
	}
	if err := g.recorder.Record(rec); err != nil {
		log.Errorw("dropping workload record", "node", rec.Node, "action", rec.Action, "err", err)
	}
}

func (g *Generator) publish(code ipfslab.EventCode, message string) {
	if g.bus != nil {
		g.bus.Publish(code, message)
	}
}

func (g *Generator) summary() Summary {
	return Summary{
		Uploads:         g.uploads.Load(),
		Downloads:       g.downloads.Load(),
		Succeeded:       g.succeeded.Load(),
		Failed:          g.failed.Load(),
		BytesUploaded:   g.bytesUploaded.Load(),
		BytesDownloaded: g.bytesDownloaded.Load(),
	}
}

// sampleSize draws an exponentially distributed payload size around mean,
// clipped at max
func (g *Generator) sampleSize(mean int64, max int64) int64 {
	size := int64(g.expFloat() * float64(mean))
	if size > max {
		size = max
	}
	return size
}

func (g *Generator) intn(n int) int {
	g.rngLk.Lock()
	defer g.rngLk.Unlock()
	return g.rng.Intn(n)
}

func (g *Generator) expFloat() float64 {
	g.rngLk.Lock()
	defer g.rngLk.Unlock()
	return g.rng.ExpFloat64()
}
