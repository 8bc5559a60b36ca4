package proxy

import (
	"sync"
)

// chunkSize is the most a relay reads before forwarding.
const chunkSize = 4096

type chunk [chunkSize]byte

// Chunks are pooled by pointer so Put does not allocate.
var chunkPool = sync.Pool{
	New: func() any {
		return new(chunk)
	},
}

func getChunk() *chunk {
	return chunkPool.Get().(*chunk)
}

func putChunk(c *chunk) {
	chunkPool.Put(c)
}
