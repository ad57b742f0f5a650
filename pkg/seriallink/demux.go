package seriallink

import "bytes"

// The radio multiplexes CAT frames and audio samples on one serial line.
// An "US" marker at frame-start switches the stream to audio; the next ';'
// switches it back to CAT.

// ChunkKind tells CAT frames apart from audio runs.
type ChunkKind int

const (
	ChunkCAT ChunkKind = iota
	ChunkAudio
)

// Chunk is one demultiplexed piece of the radio stream. A CAT chunk is a
// complete ';'-terminated frame; an audio chunk is a run of raw samples.
type Chunk struct {
	Kind ChunkKind
	Data []byte
}

// Demux splits the radio's interleaved stream. State persists across Feed
// calls, so the "US" marker and frame terminators may arrive fragmented.
type Demux struct {
	streaming bool
	frame     bytes.Buffer
}

// Streaming reports whether the demuxer is currently inside an audio run.
func (d *Demux) Streaming() bool {
	return d.streaming
}

// Feed consumes raw radio bytes and returns the completed chunks. Data in
// returned chunks is copied; callers may reuse their buffer.
func (d *Demux) Feed(data []byte) []Chunk {
	var out []Chunk

	for len(data) > 0 {
		if d.streaming {
			idx := bytes.IndexByte(data, ';')
			if idx < 0 {
				out = appendAudio(out, data)
				return out
			}
			if idx > 0 {
				out = appendAudio(out, data[:idx])
			}
			d.streaming = false
			data = data[idx+1:]
			continue
		}

		// CAT frames are tiny; scan byte-wise until a terminator or the
		// audio marker completes.
		b := data[0]
		data = data[1:]
		d.frame.WriteByte(b)

		if b == ';' {
			frame := make([]byte, d.frame.Len())
			copy(frame, d.frame.Bytes())
			d.frame.Reset()
			if len(frame) > 1 {
				out = append(out, Chunk{Kind: ChunkCAT, Data: frame})
			}
			continue
		}
		if d.frame.Len() == 2 && d.frame.Bytes()[0] == 'U' && d.frame.Bytes()[1] == 'S' {
			d.frame.Reset()
			d.streaming = true
		}
	}
	return out
}

func appendAudio(out []Chunk, data []byte) []Chunk {
	audio := make([]byte, len(data))
	copy(audio, data)
	return append(out, Chunk{Kind: ChunkAudio, Data: audio})
}
