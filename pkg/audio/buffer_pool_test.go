package audio

import "testing"

func TestBufferPoolTiers(t *testing.T) {
	p := NewBufferPool()

	cases := []struct {
		name    string
		request int
		wantCap int
	}{
		{"Chunk", ChunkSize, smallBufferSize},
		{"Partial Chunk", 10, smallBufferSize},
		{"Serial Read", 1000, mediumBufferSize},
		{"Capture Block", 4000, largeBufferSize},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			buf := p.Get(tc.request)
			if len(buf) != tc.request {
				t.Errorf("Expected len %d, got %d", tc.request, len(buf))
			}
			if cap(buf) != tc.wantCap {
				t.Errorf("Expected cap %d, got %d", tc.wantCap, cap(buf))
			}
		})
	}

	t.Run("Oversized", func(t *testing.T) {
		buf := p.Get(10000)
		if len(buf) != 10000 {
			t.Errorf("Expected len 10000, got %d", len(buf))
		}
	})
}

func TestBufferPoolRecycling(t *testing.T) {
	p := NewBufferPool()

	buf := p.Get(ChunkSize)
	p.Put(buf)

	stats := p.Stats()
	if stats.Misses != 1 {
		t.Errorf("Expected 1 miss on first get, got %d", stats.Misses)
	}
	if stats.Returns != 1 {
		t.Errorf("Expected 1 return, got %d", stats.Returns)
	}

	// The recycled buffer satisfies the next request without allocating
	p.Get(ChunkSize)
	stats = p.Stats()
	if stats.Hits != 1 {
		t.Errorf("Expected 1 hit after recycle, got %d", stats.Hits)
	}
	if stats.Misses != 1 {
		t.Errorf("Expected misses to stay at 1, got %d", stats.Misses)
	}
}

func TestBufferPoolDiscardsForeignBuffers(t *testing.T) {
	p := NewBufferPool()

	p.Put(make([]byte, 33))

	stats := p.Stats()
	if stats.Discards != 1 {
		t.Errorf("Expected 1 discard, got %d", stats.Discards)
	}
	if stats.Returns != 0 {
		t.Errorf("Expected no returns, got %d", stats.Returns)
	}
}
