package ui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/MrWong99/brainstorm/internal/brainstorm"
	"github.com/MrWong99/brainstorm/internal/transcript"
)

// fakeController records calls and serves a fixed snapshot.
type fakeController struct {
	mu      sync.Mutex
	snap    brainstorm.Snapshot
	starts  int
	stops   int
	clears  int
	updates chan struct{}
}

func newFakeController(state brainstorm.State) *fakeController {
	return &fakeController{
		snap:    brainstorm.Snapshot{State: state},
		updates: make(chan struct{}, 1),
	}
}

func (c *fakeController) Start(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starts++
	c.snap.State = brainstorm.StateConnecting
	return nil
}

func (c *fakeController) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
	c.snap.State = brainstorm.StateDisconnected
}

func (c *fakeController) ClearTranscript() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clears++
	c.snap.Turns = nil
}

func (c *fakeController) Snapshot() brainstorm.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

func (c *fakeController) Updates() <-chan struct{} { return c.updates }

func (c *fakeController) set(fn func(*brainstorm.Snapshot)) {
	c.mu.Lock()
	fn(&c.snap)
	c.mu.Unlock()
}

func key(s string) tea.KeyMsg {
	switch s {
	case " ":
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	nm, ok := next.(Model)
	if !ok {
		t.Fatalf("Update returned %T, want Model", next)
	}
	return nm, cmd
}

func TestToggleStartsWhenDisconnected(t *testing.T) {
	ctrl := newFakeController(brainstorm.StateDisconnected)
	m := NewModel(context.Background(), ctrl)

	m, cmd := update(t, m, key(" "))
	if cmd == nil {
		t.Fatal("expected a start command")
	}
	if !m.pending {
		t.Error("expected pending while start runs")
	}

	// A second press while the first is pending does nothing.
	if _, again := update(t, m, key(" ")); again != nil {
		t.Error("expected no command while a toggle is pending")
	}

	msg := cmd()
	if _, ok := msg.(startedMsg); !ok {
		t.Fatalf("command returned %T, want startedMsg", msg)
	}
	if ctrl.starts != 1 {
		t.Errorf("Start called %d times, want 1", ctrl.starts)
	}

	m, _ = update(t, m, msg)
	if m.pending {
		t.Error("expected pending cleared after start")
	}
	if m.snap.State != brainstorm.StateConnecting {
		t.Errorf("state = %v, want connecting", m.snap.State)
	}
}

func TestToggleStopsWhenConnected(t *testing.T) {
	ctrl := newFakeController(brainstorm.StateConnected)
	m := NewModel(context.Background(), ctrl)

	m, cmd := update(t, m, key("enter"))
	if cmd == nil {
		t.Fatal("expected a stop command")
	}
	m, _ = update(t, m, cmd())
	if ctrl.stops != 1 {
		t.Errorf("Stop called %d times, want 1", ctrl.stops)
	}
	if m.snap.State != brainstorm.StateDisconnected {
		t.Errorf("state = %v, want disconnected", m.snap.State)
	}
}

func TestToggleIgnoredWhileConnecting(t *testing.T) {
	ctrl := newFakeController(brainstorm.StateConnecting)
	m := NewModel(context.Background(), ctrl)

	if _, cmd := update(t, m, key(" ")); cmd != nil {
		t.Error("expected no command while connecting")
	}
}

func TestToggleRestartsAfterError(t *testing.T) {
	ctrl := newFakeController(brainstorm.StateError)
	m := NewModel(context.Background(), ctrl)

	_, cmd := update(t, m, key(" "))
	if cmd == nil {
		t.Fatal("expected a start command")
	}
	cmd()
	if ctrl.starts != 1 {
		t.Errorf("Start called %d times, want 1", ctrl.starts)
	}
}

func TestClearKey(t *testing.T) {
	ctrl := newFakeController(brainstorm.StateConnected)
	ctrl.set(func(s *brainstorm.Snapshot) {
		s.Turns = []transcript.Turn{{Speaker: transcript.SpeakerUser, Text: "oi"}}
	})
	m := NewModel(context.Background(), ctrl)

	m, _ = update(t, m, key("c"))
	if ctrl.clears != 1 {
		t.Errorf("ClearTranscript called %d times, want 1", ctrl.clears)
	}
	if len(m.snap.Turns) != 0 {
		t.Errorf("turns = %v, want none", m.snap.Turns)
	}
}

func TestQuitKeys(t *testing.T) {
	for _, k := range []string{"q", "ctrl+c"} {
		m := NewModel(context.Background(), newFakeController(brainstorm.StateDisconnected))
		_, cmd := update(t, m, key(k))
		if cmd == nil {
			t.Fatalf("%s: expected quit command", k)
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Errorf("%s: expected tea.QuitMsg", k)
		}
	}
}

func TestUpdateMsgRefreshesAndResubscribes(t *testing.T) {
	ctrl := newFakeController(brainstorm.StateConnecting)
	m := NewModel(context.Background(), ctrl)

	ctrl.set(func(s *brainstorm.Snapshot) { s.State = brainstorm.StateConnected })
	m, cmd := update(t, m, updateMsg{})
	if m.snap.State != brainstorm.StateConnected {
		t.Errorf("state = %v, want connected", m.snap.State)
	}
	if cmd == nil {
		t.Fatal("expected a new wait command")
	}

	ctrl.updates <- struct{}{}
	if _, ok := cmd().(updateMsg); !ok {
		t.Error("wait command did not yield updateMsg")
	}
}

func TestViewStatus(t *testing.T) {
	tests := []struct {
		name  string
		state brainstorm.State
		err   error
		want  []string
	}{
		{"disconnected", brainstorm.StateDisconnected, nil, []string{"Desconectado", "espaço: falar"}},
		{"connecting", brainstorm.StateConnecting, nil, []string{"Conectando..."}},
		{"connected", brainstorm.StateConnected, nil, []string{"Ao vivo", "espaço: encerrar"}},
		{"error", brainstorm.StateError, errors.New("mic busy"), []string{"Erro: mic busy"}},
		{"last failure", brainstorm.StateDisconnected, errors.New("quota"), []string{"última sessão: quota"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := newFakeController(tt.state)
			ctrl.set(func(s *brainstorm.Snapshot) { s.Err = tt.err })
			view := NewModel(context.Background(), ctrl).View()
			for _, w := range tt.want {
				if !strings.Contains(view, w) {
					t.Errorf("view missing %q:\n%s", w, view)
				}
			}
		})
	}
}

func TestViewTranscript(t *testing.T) {
	ctrl := newFakeController(brainstorm.StateConnected)
	ctrl.set(func(s *brainstorm.Snapshot) {
		s.Turns = []transcript.Turn{
			{Speaker: transcript.SpeakerUser, Text: "qual o próximo passo?"},
			{Speaker: transcript.SpeakerModel, Text: "validar o preço"},
		}
	})
	view := NewModel(context.Background(), ctrl).View()

	for _, w := range []string{"Você: qual o próximo passo?", "IA: validar o preço"} {
		if !strings.Contains(view, w) {
			t.Errorf("view missing %q:\n%s", w, view)
		}
	}
	if strings.Contains(view, "Fale naturalmente") {
		t.Error("intro shown alongside a transcript")
	}
}

func TestViewKeepsLatestLinesWhenShort(t *testing.T) {
	ctrl := newFakeController(brainstorm.StateConnected)
	ctrl.set(func(s *brainstorm.Snapshot) {
		for i := 0; i < 20; i++ {
			sp := transcript.SpeakerUser
			if i%2 == 1 {
				sp = transcript.SpeakerModel
			}
			s.Turns = append(s.Turns, transcript.Turn{Speaker: sp, Text: strings.Repeat("x", i+1)})
		}
	})
	m := NewModel(context.Background(), ctrl)
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 80, Height: 10})

	view := m.View()
	if strings.Contains(view, "Você: x\n") {
		t.Error("oldest turn still visible")
	}
	if !strings.Contains(view, strings.Repeat("x", 20)) {
		t.Error("newest turn not visible")
	}
}

func TestWrap(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		width int
		want  []string
	}{
		{"empty", "", 10, nil},
		{"fits", "a b c", 10, []string{"a b c"}},
		{"breaks at spaces", "alpha beta gamma", 10, []string{"alpha beta", "gamma"}},
		{"counts cells not bytes", "ação não é", 6, []string{"ação", "não é"}},
		{"long url", "IA: https://example.com/uma-url-bem-comprida-que-nao-cabe", 20, nil},
		{"long word", "supercalifragilistic ok", 5, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := wrap(tt.in, tt.width)
			for i, line := range got {
				if w := lipgloss.Width(line); w > tt.width {
					t.Errorf("line %d %q is %d cells wide, limit %d", i, line, w, tt.width)
				}
			}
			if squash(strings.Join(got, "")) != squash(tt.in) {
				t.Errorf("wrap(%q, %d) = %q lost content", tt.in, tt.width, got)
			}
			if tt.want != nil && strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("wrap(%q, %d) = %q, want %q", tt.in, tt.width, got, tt.want)
			}
		})
	}
}

func TestViewFitsNarrowTerminal(t *testing.T) {
	ctrl := newFakeController(brainstorm.StateError)
	ctrl.set(func(s *brainstorm.Snapshot) {
		s.Err = errors.New("dial wss://generativelanguage.example.com/ws/very/long/path: refused")
		s.Turns = []transcript.Turn{
			{Speaker: transcript.SpeakerModel, Text: "https://example.com/uma-url-bem-comprida-que-nao-cabe"},
		}
	})
	m := NewModel(context.Background(), ctrl)
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 20, Height: 40})

	for i, line := range strings.Split(m.View(), "\n") {
		if w := lipgloss.Width(line); w > 20 {
			t.Errorf("line %d %q is %d cells wide, limit 20", i, line, w)
		}
	}
}

func squash(s string) string {
	return strings.Join(strings.Fields(s), "")
}
