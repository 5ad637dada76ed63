package workload

import (
	"bytes"

	random "github.com/jbenet/go-random"
)

// Payload synthesizes size bytes of pseudo-random content. The fill runs
// off a seed derived from the generator's random source, so the source is
// held only long enough to draw the seed and concurrent tasks do not stall
// behind a large fill. The underlying writer produces bytes in fixed-size
// chunks, keeping the working set bounded while the payload accumulates.
func (g *Generator) Payload(size int64) []byte {
	g.rngLk.Lock()
	seed := g.rng.Int63()
	g.rngLk.Unlock()

	buf := bytes.NewBuffer(make([]byte, 0, size))
	_ = random.WritePseudoRandomBytes(size, buf, seed)
	return buf.Bytes()
}
