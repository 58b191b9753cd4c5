package audio_test

import (
	"encoding/base64"
	"errors"
	"math"
	"testing"

	"github.com/MrWong99/brainstorm/pkg/audio"
)

func TestFloatToPCM16_Scaling(t *testing.T) {
	t.Parallel()

	got := audio.FloatToPCM16([]float32{0.5, -0.5, 0.0})
	want := []int16{16384, -16384, 0}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestFloatToPCM16_Clamping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   float32
		want int16
	}{
		{"full scale positive", 1.0, 32767},
		{"over range positive", 1.5, 32767},
		{"full scale negative", -1.0, -32768},
		{"over range negative", -2.0, -32768},
		{"truncates toward zero", 0.00003, 0},
		{"nan is silence", float32(math.NaN()), 0},
		{"positive infinity", float32(math.Inf(1)), 32767},
		{"negative infinity", float32(math.Inf(-1)), -32768},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := audio.FloatToPCM16([]float32{tc.in})[0]
			if got != tc.want {
				t.Errorf("FloatToPCM16(%v) = %d, want %d", tc.in, got, tc.want)
			}
		})
	}
}

func TestPCM16_RoundTripWithinOneStep(t *testing.T) {
	t.Parallel()

	in := make([]float32, 0, 2001)
	for i := -1000; i <= 1000; i++ {
		in = append(in, float32(i)/1000*0.999)
	}
	out := audio.PCM16ToFloat(audio.FloatToPCM16(in))
	for i := range in {
		if diff := math.Abs(float64(out[i] - in[i])); diff > 1.0/32768 {
			t.Fatalf("sample %d: %v -> %v, diff %v exceeds one quantization step", i, in[i], out[i], diff)
		}
	}
}

func TestEncodeDecodePCM16LE(t *testing.T) {
	t.Parallel()

	samples := []int16{0, 1, -1, 32767, -32768}
	data := audio.EncodePCM16LE(samples)
	if len(data) != 10 {
		t.Fatalf("encoded length = %d, want 10", len(data))
	}
	if data[2] != 0x01 || data[3] != 0x00 {
		t.Errorf("sample 1 not little-endian: % x", data[2:4])
	}
	got, err := audio.DecodePCM16LE(data)
	if err != nil {
		t.Fatalf("DecodePCM16LE: %v", err)
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], samples[i])
		}
	}
}

func TestDecodePCM16LE_OddLength(t *testing.T) {
	t.Parallel()

	_, err := audio.DecodePCM16LE([]byte{1, 2, 3})
	if !errors.Is(err, audio.ErrOddLength) {
		t.Fatalf("err = %v, want ErrOddLength", err)
	}
}

func TestNewPCMBlob(t *testing.T) {
	t.Parallel()

	blob := audio.NewPCMBlob([]float32{0.5, -0.5, 0}, audio.InputSampleRate)
	if blob.MIMEType != "audio/pcm;rate=16000" {
		t.Errorf("MIMEType = %q", blob.MIMEType)
	}
	raw, err := base64.StdEncoding.DecodeString(blob.Data)
	if err != nil {
		t.Fatalf("blob data is not base64: %v", err)
	}
	samples, err := audio.DecodePCM16LE(raw)
	if err != nil {
		t.Fatalf("DecodePCM16LE: %v", err)
	}
	want := []int16{16384, -16384, 0}
	for i := range want {
		if samples[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, samples[i], want[i])
		}
	}

	b, err := blob.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if len(b) != 6 {
		t.Errorf("Bytes length = %d, want 6", len(b))
	}
}

func TestDecodeBuffer_Mono24k(t *testing.T) {
	t.Parallel()

	// 24000 samples at 24 kHz is exactly one second.
	data := audio.EncodePCM16LE(make([]int16, 24000))
	buf, err := audio.DecodeBuffer(data, audio.OutputSampleRate, 1)
	if err != nil {
		t.Fatalf("DecodeBuffer: %v", err)
	}
	if buf.Frames() != 24000 {
		t.Errorf("Frames = %d, want 24000", buf.Frames())
	}
	if buf.Duration() != 1.0 {
		t.Errorf("Duration = %v, want 1.0", buf.Duration())
	}
}

func TestDecodeBuffer_Deinterleaves(t *testing.T) {
	t.Parallel()

	data := audio.EncodePCM16LE([]int16{16384, -16384, 8192, -8192})
	buf, err := audio.DecodeBuffer(data, 48000, 2)
	if err != nil {
		t.Fatalf("DecodeBuffer: %v", err)
	}
	if buf.Frames() != 2 || len(buf.Data) != 2 {
		t.Fatalf("got %d frames in %d channels", buf.Frames(), len(buf.Data))
	}
	if buf.Data[0][0] != 0.5 || buf.Data[1][0] != -0.5 {
		t.Errorf("frame 0 = (%v, %v), want (0.5, -0.5)", buf.Data[0][0], buf.Data[1][0])
	}
	if buf.Data[0][1] != 0.25 || buf.Data[1][1] != -0.25 {
		t.Errorf("frame 1 = (%v, %v), want (0.25, -0.25)", buf.Data[0][1], buf.Data[1][1])
	}
}

func TestDecodeBuffer_Errors(t *testing.T) {
	t.Parallel()

	if _, err := audio.DecodeBuffer(nil, audio.OutputSampleRate, 1); !errors.Is(err, audio.ErrEmptyFragment) {
		t.Errorf("empty: err = %v, want ErrEmptyFragment", err)
	}
	if _, err := audio.DecodeBuffer([]byte{1}, audio.OutputSampleRate, 1); !errors.Is(err, audio.ErrOddLength) {
		t.Errorf("odd: err = %v, want ErrOddLength", err)
	}
	if _, err := audio.DecodeBuffer([]byte{1, 2}, 0, 1); err == nil {
		t.Error("zero rate: expected error")
	}
}
