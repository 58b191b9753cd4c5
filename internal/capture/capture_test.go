package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/brainstorm/internal/observe"
	"github.com/MrWong99/brainstorm/pkg/audio"
)

// recordingSender collects every blob it receives.
type recordingSender struct {
	mu    sync.Mutex
	blobs []audio.Blob
	err   error
}

func (s *recordingSender) SendAudio(b audio.Blob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.blobs = append(s.blobs, b)
	return nil
}

func (s *recordingSender) samples(t *testing.T) [][]int16 {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]int16, 0, len(s.blobs))
	for _, b := range s.blobs {
		raw, err := b.Bytes()
		if err != nil {
			t.Fatalf("Bytes: %v", err)
		}
		pcm, err := audio.DecodePCM16LE(raw)
		if err != nil {
			t.Fatalf("DecodePCM16LE: %v", err)
		}
		out = append(out, pcm)
	}
	return out
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// frame returns a one-sample frame tagged with v so order can be checked.
func frame(v float32) []float32 { return []float32{v} }

func TestFramer_Push(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		size       int
		pushes     [][]float32
		wantFrames int
		wantLeft   int
	}{
		{"exact", 4, [][]float32{{1, 2, 3, 4}}, 1, 0},
		{"short", 4, [][]float32{{1, 2, 3}}, 0, 3},
		{"spans pushes", 4, [][]float32{{1, 2, 3}, {4, 5}}, 1, 1},
		{"many at once", 2, [][]float32{{1, 2, 3, 4, 5, 6, 7}}, 3, 1},
		{"default size", 0, [][]float32{make([]float32, DefaultFrameSize+10)}, 1, 10},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := &Framer{Size: tc.size}
			var frames [][]float32
			for _, p := range tc.pushes {
				frames = append(frames, f.Push(p)...)
			}
			if len(frames) != tc.wantFrames {
				t.Errorf("got %d frames, want %d", len(frames), tc.wantFrames)
			}
			if f.Buffered() != tc.wantLeft {
				t.Errorf("Buffered = %d, want %d", f.Buffered(), tc.wantLeft)
			}
		})
	}
}

func TestFramer_PreservesOrderAndDoesNotAlias(t *testing.T) {
	t.Parallel()

	f := &Framer{Size: 3}
	in := []float32{1, 2, 3, 4, 5, 6}
	frames := f.Push(in)
	in[0] = 99

	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if frames[0][0] != 1 || frames[1][2] != 6 {
		t.Errorf("frames = %v", frames)
	}
	frames[0][1] = 42
	if frames[1][0] != 4 {
		t.Error("frames alias each other")
	}
}

func TestParsePolicy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{"", PolicyDrop, false},
		{"drop", PolicyDrop, false},
		{"buffer", PolicyBuffer, false},
		{"queue", "", true},
	}
	for _, tc := range tests {
		got, err := ParsePolicy(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParsePolicy(%q) err = %v, wantErr %v", tc.in, err, tc.wantErr)
		}
		if got != tc.want {
			t.Errorf("ParsePolicy(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestPump_EncodesFrames(t *testing.T) {
	t.Parallel()

	p := NewPump(Config{Metrics: testMetrics(t)})
	s := &recordingSender{}
	p.Open(context.Background(), s)

	if err := p.Write(context.Background(), []float32{0.5, -0.5, 0}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if s.blobs[0].MIMEType != "audio/pcm;rate=16000" {
		t.Errorf("MIMEType = %q", s.blobs[0].MIMEType)
	}
	got := s.samples(t)[0]
	want := []int16{16384, -16384, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("samples = %v, want %v", got, want)
		}
	}
	if st := p.Stats(); st.Sent != 1 || st.Dropped != 0 {
		t.Errorf("Stats = %+v", st)
	}
}

func TestPump_DropPolicyCountsFrames(t *testing.T) {
	t.Parallel()

	p := NewPump(Config{Policy: PolicyDrop, Metrics: testMetrics(t)})
	for i := range 3 {
		if err := p.Write(context.Background(), frame(float32(i))); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	s := &recordingSender{}
	p.Open(context.Background(), s)
	_ = p.Write(context.Background(), frame(0.25))

	if st := p.Stats(); st.Dropped != 3 || st.Sent != 1 || st.Pending != 0 {
		t.Errorf("Stats = %+v, want 3 dropped, 1 sent", st)
	}
	if len(s.blobs) != 1 {
		t.Errorf("sender got %d blobs, want 1", len(s.blobs))
	}
}

func TestPump_BufferPolicyFlushesInOrder(t *testing.T) {
	t.Parallel()

	p := NewPump(Config{Policy: PolicyBuffer, MaxPending: 3, Metrics: testMetrics(t)})
	// Five frames into a three-frame buffer: the two oldest are dropped.
	for i := 1; i <= 5; i++ {
		_ = p.Write(context.Background(), frame(float32(i)/10))
	}
	if st := p.Stats(); st.Pending != 3 || st.Dropped != 2 {
		t.Fatalf("Stats before open = %+v", st)
	}

	s := &recordingSender{}
	p.Open(context.Background(), s)
	_ = p.Write(context.Background(), frame(0.6))

	got := s.samples(t)
	want := []int16{9830, 13107, 16384, 19660} // 0.3 .. 0.6 scaled and truncated
	if len(got) != len(want) {
		t.Fatalf("sent %d frames, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i][0] != want[i] {
			t.Errorf("frame %d = %d, want %d", i, got[i][0], want[i])
		}
	}
}

func TestPump_CloseDiscardsPending(t *testing.T) {
	t.Parallel()

	p := NewPump(Config{Policy: PolicyBuffer, Metrics: testMetrics(t)})
	_ = p.Write(context.Background(), frame(0.1))
	_ = p.Write(context.Background(), frame(0.2))
	p.Close()

	if st := p.Stats(); st.Pending != 0 || st.Dropped != 2 {
		t.Errorf("Stats = %+v, want 0 pending, 2 dropped", st)
	}
}

func TestPump_SendErrorIsCounted(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	p := NewPump(Config{Metrics: testMetrics(t)})
	p.Open(context.Background(), &recordingSender{err: boom})

	err := p.Write(context.Background(), frame(0.1))
	if !errors.Is(err, boom) {
		t.Fatalf("Write err = %v, want %v", err, boom)
	}
	if st := p.Stats(); st.SendErrors != 1 || st.Dropped != 1 {
		t.Errorf("Stats = %+v", st)
	}
}

func TestPump_Run(t *testing.T) {
	t.Parallel()

	p := NewPump(Config{Metrics: testMetrics(t)})
	s := &recordingSender{}
	p.Open(context.Background(), s)

	in := make(chan []float32, 4)
	in <- []float32{0.1, 0.1, 0.1}
	in <- []float32{0.1, 0.1, 0.1, 0.1, 0.1}
	close(in)

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background(), in, &Framer{Size: 4}) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after input closed")
	}
	if got := p.Stats().Sent; got != 2 {
		t.Errorf("Sent = %d, want 2", got)
	}
}

func TestPump_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	p := NewPump(Config{Metrics: testMetrics(t)})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, make(chan []float32), &Framer{}) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run err = %v, want context.Canceled", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestPump_ClosedPumpDropsLateFrames(t *testing.T) {
	t.Parallel()

	p := NewPump(Config{Policy: PolicyBuffer, Metrics: testMetrics(t)})
	p.Close()

	// A frame read from the microphone after teardown must not be kept for
	// a later session.
	if err := p.Write(context.Background(), frame(0.9)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	s := &recordingSender{}
	p.Open(context.Background(), s)
	_ = p.Write(context.Background(), frame(0.1))

	if len(s.blobs) != 0 {
		t.Errorf("closed pump sent %d blobs, want 0", len(s.blobs))
	}
	if st := p.Stats(); st.Pending != 0 || st.Dropped != 2 || st.Sent != 0 {
		t.Errorf("Stats = %+v, want 2 dropped and nothing pending or sent", st)
	}
}

func TestPump_WriteAfterCancelIsDropped(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		policy Policy
		open   bool
	}{
		{"buffer before open", PolicyBuffer, false},
		{"drop before open", PolicyDrop, false},
		{"open sender", PolicyBuffer, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := NewPump(Config{Policy: tt.policy, Metrics: testMetrics(t)})
			s := &recordingSender{}
			if tt.open {
				p.Open(context.Background(), s)
			}
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			if err := p.Write(ctx, frame(0.9)); !errors.Is(err, context.Canceled) {
				t.Fatalf("Write err = %v, want context.Canceled", err)
			}
			if len(s.blobs) != 0 {
				t.Errorf("sender got %d blobs, want 0", len(s.blobs))
			}
			if st := p.Stats(); st.Pending != 0 || st.Dropped != 1 {
				t.Errorf("Stats = %+v, want 1 dropped, 0 pending", st)
			}
		})
	}
}

func TestPump_RunStopsWritingOnceCancelled(t *testing.T) {
	t.Parallel()

	p := NewPump(Config{Policy: PolicyBuffer, Metrics: testMetrics(t)})
	in := make(chan []float32, 8)
	for range 8 {
		in <- []float32{0.9}
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Blocks are still queued when Run starts; none of them may be buffered.
	if err := p.Run(ctx, in, &Framer{Size: 1}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run err = %v, want context.Canceled", err)
	}
	if st := p.Stats(); st.Pending != 0 {
		t.Errorf("Pending = %d, want 0", st.Pending)
	}
}
