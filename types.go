package ipfslab

import "errors"

type errorString string

func (es errorString) Error() string {
	return string(es)
}

// ErrAddressUnresolved indicates a node name could not be resolved to an IP
// address, so no dial address could be built for it
const ErrAddressUnresolved = errorString("node address unresolved")

// ErrIdentityUnavailable indicates a node's control API did not return its
// peer identity
const ErrIdentityUnavailable = errorString("peer identity unavailable")

// ErrConnectRefused indicates a node rejected a swarm connect request
const ErrConnectRefused = errorString("connect refused")

// ErrOpTimeout indicates a storage operation ran past its deadline
const ErrOpTimeout = errorString("operation timed out")

// ErrNotSquare indicates a grid topology was requested for a node count with
// no integer square root
const ErrNotSquare = errorString("node count is not a perfect square")

// ErrAttachment indicates a preferential attachment parameter outside
// 1 <= m < N
const ErrAttachment = errorString("attachment parameter out of range")

// ErrUnknownKind indicates a topology name that this cluster does not know
// how to build
const ErrUnknownKind = errorString("unknown topology kind")

// ErrNoAction indicates a command line that selects nothing to do
const ErrNoAction = errorString("no action specified")

// FailureKinds are the taxonomy names failures are recorded under in log
// details, keyed by sentinel
var FailureKinds = map[error]string{
	ErrAddressUnresolved:   "AddressResolutionFailure",
	ErrIdentityUnavailable: "IdentityFetchFailure",
	ErrConnectRefused:      "ConnectionRequestFailure",
	ErrOpTimeout:           "OperationTimeout",
	ErrNotSquare:           "ConfigurationError",
	ErrAttachment:          "ConfigurationError",
	ErrUnknownKind:         "ConfigurationError",
	ErrNoAction:            "ConfigurationError",
}

// FailureKind names the taxonomy bucket of an error, however deeply it is
// wrapped. Errors outside the taxonomy report as a plain Error.
func FailureKind(err error) string {
	for sentinel, name := range FailureKinds {
		if errors.Is(err, sentinel) {
			return name
		}
	}
	return "Error"
}

// Action is the kind of storage operation a workload task performs against a
// node
type Action uint64

const (
	// Upload adds a freshly generated payload to a node's store
	Upload Action = iota

	// Download fetches a previously uploaded payload by its identifier
	Download
)

// Actions are human readable names for workload actions, in the form they
// appear in the workload log
var Actions = map[Action]string{
	Upload:   "upload",
	Download: "download",
}

func (a Action) String() string {
	s, ok := Actions[a]
	if !ok {
		return "unknown"
	}
	return s
}

// Kind identifies a wiring pattern the topology builder knows how to
// construct over a cluster
type Kind uint64

const (
	// Ring wires each node to its successor, closing the cycle at the end
	Ring Kind = iota

	// Grid wires nodes into a square lattice with right and down neighbors
	Grid

	// FullMesh wires every unordered pair of nodes
	FullMesh

	// PreferentialAttachment grows the cluster one node at a time, wiring
	// each new node to targets chosen in proportion to their degree
	PreferentialAttachment
)

// Kinds are human readable names for topology kinds, matching the names
// accepted on the command line and recorded in the topology log
var Kinds = map[Kind]string{
	Ring:                   "ring",
	Grid:                   "grid",
	FullMesh:               "full",
	PreferentialAttachment: "barabasi",
}

func (k Kind) String() string {
	s, ok := Kinds[k]
	if !ok {
		return "unknown"
	}
	return s
}

// ParseKind maps a topology name from the command line onto its Kind.
// "preferential-attachment" is accepted as an alias of barabasi.
func ParseKind(name string) (Kind, error) {
	if name == "preferential-attachment" {
		return PreferentialAttachment, nil
	}
	for k, s := range Kinds {
		if s == name {
			return k, nil
		}
	}
	return 0, ErrUnknownKind
}
