package workload

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	ipfslab "github.com/WithoutAName25/ipfs-lab"
)

// FailedCID is the identifier column placeholder for uploads that failed
// before the cluster assigned one
const FailedCID = "error"

// OperationRecord is the outcome of one storage operation, carrying exactly
// the fields of one workload log row
type OperationRecord struct {
	// Start is when the operation began
	Start time.Time

	// Node is the name of the node that served the operation
	Node string

	// Action is what the task did
	Action ipfslab.Action

	// Size is the payload size in bytes: the attempted size for uploads,
	// the received size for downloads, 0 for failed downloads
	Size int64

	// CID is the content identifier as logged: the attempted identifier
	// for downloads, FailedCID for uploads that never produced one
	CID string

	// Duration is how long the operation ran before finishing or timing out
	Duration time.Duration

	// Success is whether the operation completed
	Success bool
}

// Recorder receives exactly one record per attempted operation. Records
// arrive from concurrent tasks; implementations serialize internally.
type Recorder interface {
	Record(rec OperationRecord) error
}

// Summary tallies one finished run
type Summary struct {
	Uploads         int64
	Downloads       int64
	Succeeded       int64
	Failed          int64
	BytesUploaded   int64
	BytesDownloaded int64
}

func (s Summary) String() string {
	return fmt.Sprintf("%d uploads (%s), %d downloads (%s), %d succeeded, %d failed",
		s.Uploads, humanize.IBytes(uint64(s.BytesUploaded)),
		s.Downloads, humanize.IBytes(uint64(s.BytesDownloaded)),
		s.Succeeded, s.Failed)
}
