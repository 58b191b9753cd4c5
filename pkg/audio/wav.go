package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const wavHeaderSize = 44

// ErrNotWAV is returned by [ReadWAV] when the input is not a 16-bit PCM RIFF/WAVE stream.
var ErrNotWAV = errors.New("audio: not a 16-bit PCM WAV stream")

// wavHeader is the canonical 44-byte RIFF header for PCM data.
type wavHeader struct {
	ChunkID       [4]byte
	ChunkSize     uint32
	Format        [4]byte
	Subchunk1ID   [4]byte
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte
	Subchunk2Size uint32
}

func newWAVHeader(rate, channels int, dataSize uint32) wavHeader {
	return wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   uint16(channels),
		SampleRate:    uint32(rate),
		ByteRate:      uint32(rate * channels * 2),
		BlockAlign:    uint16(channels * 2),
		BitsPerSample: 16,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}
}

// WriteWAV writes mono 16-bit samples as a complete WAV file.
func WriteWAV(w io.Writer, samples []int16, rate int) error {
	if rate <= 0 {
		return fmt.Errorf("audio: sample rate must be positive, got %d", rate)
	}
	if err := binary.Write(w, binary.LittleEndian, newWAVHeader(rate, 1, uint32(len(samples)*2))); err != nil {
		return fmt.Errorf("audio: write wav header: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, samples); err != nil {
		return fmt.Errorf("audio: write wav data: %w", err)
	}
	return nil
}

// WAVWriter streams mono 16-bit PCM into a seekable file. The header sizes are
// patched when the writer is closed.
type WAVWriter struct {
	w    io.WriteSeeker
	rate int
	size uint32
}

// NewWAVWriter writes a placeholder header to w and returns a writer that
// appends samples to it.
func NewWAVWriter(w io.WriteSeeker, rate int) (*WAVWriter, error) {
	if rate <= 0 {
		return nil, fmt.Errorf("audio: sample rate must be positive, got %d", rate)
	}
	if err := binary.Write(w, binary.LittleEndian, newWAVHeader(rate, 1, 0)); err != nil {
		return nil, fmt.Errorf("audio: write wav header: %w", err)
	}
	return &WAVWriter{w: w, rate: rate}, nil
}

// WriteFloat appends float samples, converting them to 16-bit PCM.
func (ww *WAVWriter) WriteFloat(samples []float32) error {
	data := EncodePCM16LE(FloatToPCM16(samples))
	n, err := ww.w.Write(data)
	ww.size += uint32(n)
	if err != nil {
		return fmt.Errorf("audio: write wav data: %w", err)
	}
	return nil
}

// Close rewrites the header with the final data size. It does not close the
// underlying writer.
func (ww *WAVWriter) Close() error {
	if _, err := ww.w.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("audio: seek wav header: %w", err)
	}
	if err := binary.Write(ww.w, binary.LittleEndian, newWAVHeader(ww.rate, 1, ww.size)); err != nil {
		return fmt.Errorf("audio: patch wav header: %w", err)
	}
	_, err := ww.w.Seek(0, io.SeekEnd)
	return err
}

// WAV is a decoded 16-bit PCM WAV file.
type WAV struct {
	SampleRate int
	Channels   int

	// Samples are interleaved when Channels > 1.
	Samples []int16
}

// ReadWAV decodes a 16-bit PCM WAV stream. Chunks other than "fmt " and
// "data" are skipped.
func ReadWAV(r io.Reader) (*WAV, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return nil, fmt.Errorf("audio: read riff header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, ErrNotWAV
	}

	out := &WAV{}
	var haveFmt bool
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return nil, fmt.Errorf("audio: read chunk header: %w", err)
		}
		id := string(hdr[0:4])
		size := binary.LittleEndian.Uint32(hdr[4:8])

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("%w: fmt chunk too short", ErrNotWAV)
			}
			chunk := make([]byte, size)
			if _, err := io.ReadFull(r, chunk); err != nil {
				return nil, fmt.Errorf("audio: read fmt chunk: %w", err)
			}
			format := binary.LittleEndian.Uint16(chunk[0:2])
			bits := binary.LittleEndian.Uint16(chunk[14:16])
			if format != 1 || bits != 16 {
				return nil, fmt.Errorf("%w: format=%d bits=%d", ErrNotWAV, format, bits)
			}
			out.Channels = int(binary.LittleEndian.Uint16(chunk[2:4]))
			out.SampleRate = int(binary.LittleEndian.Uint32(chunk[4:8]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, fmt.Errorf("%w: data chunk before fmt chunk", ErrNotWAV)
			}
			data := make([]byte, size)
			n, err := io.ReadFull(r, data)
			if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, fmt.Errorf("audio: read data chunk: %w", err)
			}
			samples, err := DecodePCM16LE(data[:n-n%2])
			if err != nil {
				return nil, err
			}
			out.Samples = samples
			return out, nil
		default:
			if _, err := io.CopyN(io.Discard, r, int64(size+size%2)); err != nil {
				return nil, fmt.Errorf("audio: skip %q chunk: %w", id, err)
			}
		}
	}
}
