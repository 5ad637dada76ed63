package topology

import "strings"

// Edge is one attempted or observed connection between two nodes, identified
// by their roster indexes
type Edge struct {
	Source int
	Target int
}

// Matrix is a square adjacency snapshot: Matrix[i][j] is 1 when node i
// reported an overlay session with node j. The diagonal carries no meaning;
// rendering marks it so a self slot is never mistaken for a missing edge.
type Matrix [][]int

// NewMatrix returns an n by n matrix with no observed edges
func NewMatrix(n int) Matrix {
	m := make(Matrix, n)
	for i := range m {
		m[i] = make([]int, n)
	}
	return m
}

// Dimension returns the node count the matrix was built over
func (m Matrix) Dimension() int {
	return len(m)
}

// Set records an observed edge from source to target. Out-of-range indexes
// are ignored; the matrix never grows past the roster it was built for.
func (m Matrix) Set(source int, target int) {
	if source < 0 || source >= len(m) || target < 0 || target >= len(m) {
		return
	}
	m[source][target] = 1
}

// Edges returns every observed edge in row-major order, diagonal excluded
func (m Matrix) Edges() []Edge {
	var edges []Edge
	for i, row := range m {
		for j, val := range row {
			if i != j && val != 0 {
				edges = append(edges, Edge{Source: i, Target: j})
			}
		}
	}
	return edges
}

// String renders the matrix one row per line, cells space separated, with an
// unobserved diagonal cell printed as "x" so it reads as "self", not "no
// edge"
func (m Matrix) String() string {
	var sb strings.Builder
	for i, row := range m {
		for j, val := range row {
			if j > 0 {
				sb.WriteByte(' ')
			}
			if i == j && val == 0 {
				sb.WriteByte('x')
			} else {
				sb.WriteByte('0' + byte(val))
			}
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
