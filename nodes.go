package ipfslab

import "fmt"

// Node is one storage daemon in the cluster, addressed by the DNS name its
// container was given. The driver never holds a live connection to a node;
// everything goes through its HTTP control API.
type Node struct {
	// Index is the node's position in the cluster, 0 through N-1
	Index int

	// Name is the node's DNS-resolvable host name
	Name string

	// APIAddr is the host:port the node's control API listens on
	APIAddr string

	// SwarmPort is the TCP port the node's peer-to-peer transport listens on
	SwarmPort int
}

func (n Node) String() string {
	return n.Name
}

// MakeNodes builds the standard cluster roster: prefix0 through
// prefix(count-1), all sharing one API port and one swarm port
func MakeNodes(prefix string, count int, apiPort int, swarmPort int) []Node {
	nodes := make([]Node, 0, count)
	for i := 0; i < count; i++ {
		name := fmt.Sprintf("%s%d", prefix, i)
		nodes = append(nodes, Node{
			Index:     i,
			Name:      name,
			APIAddr:   fmt.Sprintf("%s:%d", name, apiPort),
			SwarmPort: swarmPort,
		})
	}
	return nodes
}

// NodesFromNames builds a roster from explicit host names, for clusters whose
// containers do not follow the prefix convention
func NodesFromNames(names []string, apiPort int, swarmPort int) []Node {
	nodes := make([]Node, 0, len(names))
	for i, name := range names {
		nodes = append(nodes, Node{
			Index:     i,
			Name:      name,
			APIAddr:   fmt.Sprintf("%s:%d", name, apiPort),
			SwarmPort: swarmPort,
		})
	}
	return nodes
}
