// Package ui is the terminal front end of a brainstorm session: a status
// line, the coalesced transcript and a single start/stop key.
package ui

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/MrWong99/brainstorm/internal/brainstorm"
	"github.com/MrWong99/brainstorm/internal/transcript"
)

// Controller is the part of a session the UI drives. *brainstorm.Session
// satisfies it.
type Controller interface {
	Start(ctx context.Context) error
	Stop()
	ClearTranscript()
	Snapshot() brainstorm.Snapshot
	Updates() <-chan struct{}
}

// updateMsg signals that the session snapshot changed.
type updateMsg struct{}

// startedMsg carries the result of a Start call.
type startedMsg struct{ err error }

// stoppedMsg reports that a Stop call returned.
type stoppedMsg struct{}

// Model is the bubbletea model.
type Model struct {
	ctx  context.Context
	ctrl Controller
	snap brainstorm.Snapshot

	// pending is set while a Start or Stop command runs.
	pending bool

	width  int
	height int
}

// NewModel returns a model driving ctrl. Sessions started from the UI live
// under ctx.
func NewModel(ctx context.Context, ctrl Controller) Model {
	return Model{ctx: ctx, ctrl: ctrl, snap: ctrl.Snapshot()}
}

// Run starts the UI on the alternate screen and blocks until the user quits.
// The session is stopped before Run returns.
func Run(ctx context.Context, ctrl Controller) error {
	p := tea.NewProgram(NewModel(ctx, ctrl), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	ctrl.Stop()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Init subscribes to session updates.
func (m Model) Init() tea.Cmd {
	return m.waitForUpdate()
}

func (m Model) waitForUpdate() tea.Cmd {
	updates := m.ctrl.Updates()
	return func() tea.Msg {
		<-updates
		return updateMsg{}
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case updateMsg:
		m.snap = m.ctrl.Snapshot()
		return m, m.waitForUpdate()
	case startedMsg:
		m.pending = false
		m.snap = m.ctrl.Snapshot()
	case stoppedMsg:
		m.pending = false
		m.snap = m.ctrl.Snapshot()
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "c":
		m.ctrl.ClearTranscript()
		m.snap = m.ctrl.Snapshot()
	case " ", "space", "enter":
		return m.toggle()
	}
	return m, nil
}

// toggle starts or stops the session. The key does nothing while connecting
// or while a previous toggle is still running.
func (m Model) toggle() (tea.Model, tea.Cmd) {
	if m.pending {
		return m, nil
	}
	ctx, ctrl := m.ctx, m.ctrl
	switch m.snap.State {
	case brainstorm.StateConnecting:
		return m, nil
	case brainstorm.StateConnected:
		m.pending = true
		return m, func() tea.Msg {
			ctrl.Stop()
			return stoppedMsg{}
		}
	default:
		m.pending = true
		return m, func() tea.Msg {
			return startedMsg{err: ctrl.Start(ctx)}
		}
	}
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))

	liveStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	connectingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	errorStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	idleStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))

	userStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	modelStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))

	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	helpStyle  = lipgloss.NewStyle().Faint(true)
)

// View renders the UI.
func (m Model) View() string {
	width := m.contentWidth()

	var b strings.Builder
	b.WriteString(titleStyle.Render("Voice Brainstorm"))
	b.WriteByte('\n')
	b.WriteString(m.statusLine(width))
	b.WriteString("\n\n")

	body := m.transcriptLines(width)
	if len(body) == 0 && m.snap.State != brainstorm.StateConnected {
		body = wrap(valueStyle.Render("Discuta estratégias de produto em tempo real com a IA. Fale naturalmente."), width)
	}
	if room := m.height - 6; room > 0 && len(body) > room {
		body = body[len(body)-room:]
	}
	for _, line := range body {
		b.WriteString(line)
		b.WriteByte('\n')
	}

	b.WriteByte('\n')
	b.WriteString(m.statsLine(width))
	b.WriteByte('\n')
	b.WriteString(m.helpLine(width))
	return b.String()
}

func (m Model) contentWidth() int {
	if m.width <= 0 {
		return 80
	}
	return m.width
}

func (m Model) statusLine(width int) string {
	var line string
	style := idleStyle
	switch m.snap.State {
	case brainstorm.StateConnecting:
		line, style = "● Conectando...", connectingStyle
	case brainstorm.StateConnected:
		line, style = "● Ao vivo", liveStyle
	case brainstorm.StateError:
		line, style = "✗ Erro", errorStyle
		if m.snap.Err != nil {
			line += ": " + m.snap.Err.Error()
		}
	default:
		line = "○ Desconectado"
		if m.snap.Err != nil {
			line += " (última sessão: " + m.snap.Err.Error() + ")"
		}
	}
	return strings.Join(wrap(style.Render(line), width), "\n")
}

func (m Model) statsLine(width int) string {
	st := m.snap.Stats
	line := fmt.Sprintf("enviados: %d  descartados: %d  vozes: %d  relógio: %.1fs",
		st.Sent, st.Dropped, m.snap.Active, m.snap.Clock)
	return strings.Join(wrap(valueStyle.Render(line), width), "\n")
}

func (m Model) helpLine(width int) string {
	action := "falar"
	if m.snap.State == brainstorm.StateConnected {
		action = "encerrar"
	}
	return strings.Join(wrap(helpStyle.Render(fmt.Sprintf("espaço: %s  c: limpar  q: sair", action)), width), "\n")
}

func (m Model) transcriptLines(width int) []string {
	var lines []string
	for _, t := range m.snap.Turns {
		lines = append(lines, wrap(formatTurn(t), width)...)
	}
	return lines
}

func formatTurn(t transcript.Turn) string {
	label := userStyle
	if t.Speaker == transcript.SpeakerModel {
		label = modelStyle
	}
	return label.Render(t.Speaker.Label()+":") + " " + t.Text
}

// wrap lays s out in lines of at most width cells. Words wider than width
// are broken across lines.
func wrap(s string, width int) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	lines := strings.Split(lipgloss.NewStyle().Width(width).Render(s), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " ")
	}
	return lines
}
