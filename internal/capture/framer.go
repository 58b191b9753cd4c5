// Package capture turns a continuous microphone signal into fixed-size frames
// and ships them to a live session.
//
// Microphone drivers deliver audio in whatever block size the device picks.
// [Framer] re-blocks it into frames of a constant length; [Pump] encodes each
// frame as 16-bit PCM and sends it, applying an explicit [Policy] to frames
// that arrive while no session is open.
package capture

// DefaultFrameSize is the number of samples per frame sent to the model.
const DefaultFrameSize = 4096

// Framer re-blocks a sample stream into frames of Size samples. It is not
// safe for concurrent use.
type Framer struct {
	// Size is the frame length. Zero means [DefaultFrameSize].
	Size int

	pending []float32
}

// Push appends samples and returns every complete frame. The returned frames
// do not alias samples or each other. Leftover samples are kept for the next
// call.
func (f *Framer) Push(samples []float32) [][]float32 {
	size := f.Size
	if size <= 0 {
		size = DefaultFrameSize
	}
	f.pending = append(f.pending, samples...)

	var frames [][]float32
	for len(f.pending) >= size {
		frame := make([]float32, size)
		copy(frame, f.pending[:size])
		frames = append(frames, frame)
		f.pending = f.pending[size:]
	}
	// Compact so the backing array does not grow without bound.
	if len(f.pending) > 0 && cap(f.pending) > 4*size {
		f.pending = append([]float32(nil), f.pending...)
	}
	return frames
}

// Buffered returns the number of samples waiting for a complete frame.
func (f *Framer) Buffered() int { return len(f.pending) }

// Reset discards buffered samples.
func (f *Framer) Reset() { f.pending = nil }
