package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	// InputSampleRate is the rate at which microphone audio is captured and
	// streamed to the model.
	InputSampleRate = 16000

	// OutputSampleRate is the rate of the PCM fragments the model streams back.
	OutputSampleRate = 24000

	// pcmScale maps the float range [-1, 1) onto signed 16-bit integers.
	pcmScale = 32768
)

var (
	// ErrOddLength is returned when a 16-bit PCM byte slice has an odd length.
	ErrOddLength = errors.New("audio: odd byte count in 16-bit PCM data")

	// ErrEmptyFragment is returned when a fragment carries no samples.
	ErrEmptyFragment = errors.New("audio: empty fragment")
)

// PCMMIMEType returns the MIME type used for raw 16-bit PCM at the given rate,
// e.g. "audio/pcm;rate=16000".
func PCMMIMEType(rate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", rate)
}

// FloatToPCM16 converts float samples in [-1, 1] to signed 16-bit samples by
// scaling with 32768 and truncating toward zero. Out-of-range results are
// clamped, so 1.0 becomes 32767 instead of wrapping. NaN becomes silence.
func FloatToPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		f := float64(s)
		if math.IsNaN(f) {
			continue
		}
		f *= pcmScale
		if f >= 32767 {
			out[i] = 32767
			continue
		}
		if f <= -32768 {
			out[i] = -32768
			continue
		}
		out[i] = int16(f)
	}
	return out
}

// PCM16ToFloat converts signed 16-bit samples to floats by dividing by 32768.
func PCM16ToFloat(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / pcmScale
	}
	return out
}

// EncodePCM16LE serialises samples as little-endian 16-bit PCM.
func EncodePCM16LE(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// DecodePCM16LE parses little-endian 16-bit PCM bytes.
func DecodePCM16LE(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrOddLength, len(data))
	}
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out, nil
}

// Blob is a base64-encoded media chunk as carried by realtime session
// protocols.
type Blob struct {
	MIMEType string
	Data     string
}

// NewPCMBlob converts one captured frame into a transmittable blob: float
// samples are scaled to 16-bit PCM, serialised little-endian and base64
// encoded.
func NewPCMBlob(samples []float32, rate int) Blob {
	return Blob{
		MIMEType: PCMMIMEType(rate),
		Data:     base64.StdEncoding.EncodeToString(EncodePCM16LE(FloatToPCM16(samples))),
	}
}

// Bytes returns the decoded payload of the blob.
func (b Blob) Bytes() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(b.Data)
	if err != nil {
		return nil, fmt.Errorf("audio: decode blob: %w", err)
	}
	return data, nil
}

// Buffer is decoded, de-interleaved float audio ready for playback.
type Buffer struct {
	SampleRate int
	Channels   int

	// Data holds one slice per channel, all of equal length.
	Data [][]float32
}

// Frames returns the number of sample frames in the buffer.
func (b *Buffer) Frames() int {
	if b == nil || len(b.Data) == 0 {
		return 0
	}
	return len(b.Data[0])
}

// Duration returns the playback length of the buffer in seconds.
func (b *Buffer) Duration() float64 {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}

// DecodeBuffer turns interleaved little-endian 16-bit PCM into a [Buffer]
// with the given sample rate and channel count. A trailing partial frame is
// ignored.
func DecodeBuffer(data []byte, sampleRate, channels int) (*Buffer, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("audio: invalid format %s", formatString(sampleRate, channels))
	}
	samples, err := DecodePCM16LE(data)
	if err != nil {
		return nil, err
	}
	frames := len(samples) / channels
	if frames == 0 {
		return nil, ErrEmptyFragment
	}

	buf := &Buffer{
		SampleRate: sampleRate,
		Channels:   channels,
		Data:       make([][]float32, channels),
	}
	for ch := range channels {
		chData := make([]float32, frames)
		for i := range frames {
			chData[i] = float32(samples[i*channels+ch]) / pcmScale
		}
		buf.Data[ch] = chData
	}
	return buf, nil
}
