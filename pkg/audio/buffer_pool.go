package audio

import (
	"sync"
	"sync/atomic"
)

// Pool tiers match the pipeline's working sizes: playback chunks, serial
// read buffers, and capture blocks.
const (
	smallBufferSize  = ChunkSize
	mediumBufferSize = 1024
	largeBufferSize  = 4096
)

// BufferPoolStats is a point-in-time view of pool effectiveness.
type BufferPoolStats struct {
	Hits     uint64 `json:"hits"`
	Misses   uint64 `json:"misses"`
	Returns  uint64 `json:"returns"`
	Discards uint64 `json:"discards"`
}

// BufferPool recycles audio buffers across the RX hot path so steady-state
// streaming stops allocating.
type BufferPool struct {
	small  sync.Pool
	medium sync.Pool
	large  sync.Pool

	gets     atomic.Uint64
	misses   atomic.Uint64 // fresh allocations, a subset of gets
	returns  atomic.Uint64
	discards atomic.Uint64
}

// NewBufferPool creates a pool with all tiers empty.
func NewBufferPool() *BufferPool {
	p := &BufferPool{}
	p.small.New = func() interface{} {
		p.misses.Add(1)
		return make([]byte, smallBufferSize)
	}
	p.medium.New = func() interface{} {
		p.misses.Add(1)
		return make([]byte, mediumBufferSize)
	}
	p.large.New = func() interface{} {
		p.misses.Add(1)
		return make([]byte, largeBufferSize)
	}
	return p
}

// Get returns a buffer of exactly n bytes backed by the smallest fitting
// tier. Requests beyond the largest tier allocate directly.
func (p *BufferPool) Get(n int) []byte {
	p.gets.Add(1)
	var buf []byte
	switch {
	case n <= smallBufferSize:
		buf = p.small.Get().([]byte)
	case n <= mediumBufferSize:
		buf = p.medium.Get().([]byte)
	case n <= largeBufferSize:
		buf = p.large.Get().([]byte)
	default:
		p.misses.Add(1)
		return make([]byte, n)
	}
	return buf[:n]
}

// Put returns a buffer to its tier. Buffers that fit no tier are dropped.
func (p *BufferPool) Put(buf []byte) {
	switch cap(buf) {
	case smallBufferSize:
		p.small.Put(buf[:cap(buf)])
	case mediumBufferSize:
		p.medium.Put(buf[:cap(buf)])
	case largeBufferSize:
		p.large.Put(buf[:cap(buf)])
	default:
		p.discards.Add(1)
		return
	}
	p.returns.Add(1)
}

// Stats returns cumulative pool counters.
func (p *BufferPool) Stats() BufferPoolStats {
	misses := p.misses.Load()
	gets := p.gets.Load()
	return BufferPoolStats{
		Hits:     gets - misses,
		Misses:   misses,
		Returns:  p.returns.Load(),
		Discards: p.discards.Load(),
	}
}
