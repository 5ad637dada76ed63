// Package execlog writes the driver's two append-only CSV records: topology
// actions and workload operations. Every row is written with its own open,
// append, close cycle, so acknowledged rows are on disk even if the driver
// dies mid-run, and an external tail only ever sees whole lines.
package execlog

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"golang.org/x/xerrors"

	ipfslab "github.com/WithoutAName25/ipfs-lab"
	"github.com/WithoutAName25/ipfs-lab/topology"
	"github.com/WithoutAName25/ipfs-lab/workload"
)

// Statuses recorded in the topology log
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusError     = "error"
)

var topologyHeader = []string{"timestamp", "action", "num_nodes", "status", "details"}
var workloadHeader = []string{"timestamp", "node", "action", "file_size", "cid", "duration", "success"}

// Stream is one append-only CSV record on disk
type Stream struct {
	lk     sync.Mutex
	path   string
	header []string
}

// Open ensures the record exists and starts with its header row. With reset
// set an existing record is truncated; otherwise rows accumulate across
// runs.
func Open(path string, header []string, reset bool) (*Stream, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, xerrors.Errorf("creating log dir for %s: %w", path, err)
		}
	}
	_, err := os.Stat(path)
	switch {
	case reset || os.IsNotExist(err):
		if err := writeHeader(path, header); err != nil {
			return nil, xerrors.Errorf("initializing %s: %w", path, err)
		}
	case err != nil:
		return nil, xerrors.Errorf("checking %s: %w", path, err)
	}
	return &Stream{path: path, header: header}, nil
}

// Path returns where the record lives
func (s *Stream) Path() string {
	return s.path
}

// Append writes one row and flushes it to disk before returning
func (s *Stream) Append(fields ...string) (err error) {
	if len(fields) != len(s.header) {
		return xerrors.Errorf("%s: row has %d fields, header has %d", s.path, len(fields), len(s.header))
	}
	s.lk.Lock()
	defer s.lk.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0666)
	if err != nil {
		return err
	}
	defer func() {
		closeErr := f.Close()
		if err == nil {
			err = closeErr
		}
	}()
	w := csv.NewWriter(f)
	if err := w.Write(fields); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func writeHeader(path string, header []string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		closeErr := f.Close()
		if err == nil {
			err = closeErr
		}
	}()
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// TopologyLog is the record of topology actions and edge attempts
type TopologyLog struct {
	s        *Stream
	numNodes int
}

var _ topology.Recorder = (*TopologyLog)(nil)

// OpenTopologyLog opens the topology record for a cluster of numNodes
func OpenTopologyLog(path string, numNodes int, reset bool) (*TopologyLog, error) {
	s, err := Open(path, topologyHeader, reset)
	if err != nil {
		return nil, err
	}
	return &TopologyLog{s: s, numNodes: numNodes}, nil
}

// Connect records one edge attempt between two nodes
func (l *TopologyLog) Connect(source ipfslab.Node, target ipfslab.Node, connectErr error) error {
	status := StatusCompleted
	details := fmt.Sprintf("%s->%s", source.Name, target.Name)
	if connectErr != nil {
		status = StatusFailed
		details = fmt.Sprintf("%s->%s: %s", source.Name, target.Name, connectErr)
	}
	return l.s.Append(timestamp(time.Now()), "connect", strconv.Itoa(l.numNodes), status, details)
}

// Action records one driver-level action, such as a whole topology build or
// a matrix read
func (l *TopologyLog) Action(action string, status string, details string) error {
	return l.s.Append(timestamp(time.Now()), action, strconv.Itoa(l.numNodes), status, details)
}

// WorkloadLog is the record of workload operations
type WorkloadLog struct {
	s *Stream
}

var _ workload.Recorder = (*WorkloadLog)(nil)

// OpenWorkloadLog opens the workload record. Workload runs start fresh, so
// reset is usually true.
func OpenWorkloadLog(path string, reset bool) (*WorkloadLog, error) {
	s, err := Open(path, workloadHeader, reset)
	if err != nil {
		return nil, err
	}
	return &WorkloadLog{s: s}, nil
}

// Record writes one operation outcome
func (l *WorkloadLog) Record(rec workload.OperationRecord) error {
	return l.s.Append(
		timestamp(rec.Start),
		rec.Node,
		rec.Action.String(),
		strconv.FormatInt(rec.Size, 10),
		rec.CID,
		strconv.FormatFloat(rec.Duration.Seconds(), 'f', -1, 64),
		strconv.FormatBool(rec.Success),
	)
}
