// Package tui is the terminal transport view of the player.
package tui

import (
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/zurustar/smfplay/pkg/chanstate"
	"github.com/zurustar/smfplay/pkg/engine"
)

// RefreshInterval is how often the view asks the engine for its state.
const RefreshInterval = 100 * time.Millisecond

// SeekStep is the seek distance of the arrow keys in seconds.
const SeekStep = 5.0

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#fff"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#555"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888"))
	barStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#5fafff"))
	keyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#ffaf00"))
	drumStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#d787ff"))
)

func Key(help string, keyboardKey ...string) key.Binding {
	return key.NewBinding(key.WithKeys(keyboardKey...), key.WithHelp(keyboardKey[0], help))
}

type keyMap struct {
	Pause, Next, Previous, Forward, Back key.Binding
	Faster, Slower, ResetSpeed           key.Binding
	Repeat, Output, Quit                 key.Binding
}

var keys = keyMap{
	Pause:      Key("pause", "p", " "),
	Next:       Key("next", "n"),
	Previous:   Key("prev", "b"),
	Forward:    Key("+5s", "right", "l"),
	Back:       Key("-5s", "left", "h"),
	Faster:     Key("faster", "+", "="),
	Slower:     Key("slower", "-", "_"),
	ResetSpeed: Key("x1", "0"),
	Repeat:     Key("repeat", "r"),
	Output:     Key("output", "o"),
	Quit:       Key("quit", "q", "ctrl+c"),
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Pause, k.Next, k.Previous, k.Forward, k.Back, k.Faster, k.Slower, k.Repeat, k.Output, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Pause, k.Next, k.Previous, k.Forward, k.Back},
		{k.Faster, k.Slower, k.ResetSpeed, k.Repeat, k.Output, k.Quit},
	}
}

func Is(msg tea.KeyMsg, k ...key.Binding) bool {
	return key.Matches(msg, k...)
}

// Controller is the part of the engine the view drives.
type Controller interface {
	TogglePause()
	Next()
	Previous()
	SeekRelative(delta float64)
	SetSpeed(speed float64)
	SetRepeat(mode engine.RepeatMode)
	RequestState()
	ListOutputs() ([]string, error)
	SelectOutput(id string) error
}

// StateMsg carries a snapshot from the engine.
type StateMsg engine.State

type refreshMsg time.Time

// outputMsg reports the result of an output switch.
type outputMsg struct {
	id  string
	err error
}

// Model is the bubbletea model.
type Model struct {
	ctrl   Controller
	states <-chan engine.State
	state  engine.State
	status string
	// switching is set while an output switch runs.
	switching bool
	help      help.Model
	quitting  bool
}

// NewModel returns a model driving ctrl. states receives the snapshots the
// engine reports through its OnState callback.
func NewModel(ctrl Controller, states <-chan engine.State) Model {
	return Model{ctrl: ctrl, states: states, help: help.New()}
}

// ListenForState waits for the next snapshot.
func ListenForState(states <-chan engine.State) tea.Cmd {
	return func() tea.Msg {
		s, ok := <-states
		if !ok {
			return tea.Quit()
		}
		return StateMsg(s)
	}
}

func refresh() tea.Cmd {
	return tea.Tick(RefreshInterval, func(t time.Time) tea.Msg { return refreshMsg(t) })
}

func (m Model) Init() tea.Cmd {
	m.ctrl.RequestState()
	return tea.Batch(ListenForState(m.states), refresh())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.help.Width = msg.Width
		return m, nil

	case StateMsg:
		m.state = engine.State(msg)
		return m, ListenForState(m.states)

	case refreshMsg:
		m.ctrl.RequestState()
		return m, refresh()

	case outputMsg:
		m.switching = false
		if msg.err != nil {
			m.status = msg.err.Error()
			return m, nil
		}
		m.state.Output = msg.id
		m.status = "output " + msg.id
		return m, nil
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case Is(msg, keys.Quit):
		m.quitting = true
		return m, tea.Quit
	case Is(msg, keys.Pause):
		m.ctrl.TogglePause()
	case Is(msg, keys.Next):
		m.ctrl.Next()
	case Is(msg, keys.Previous):
		m.ctrl.Previous()
	case Is(msg, keys.Forward):
		m.ctrl.SeekRelative(SeekStep)
	case Is(msg, keys.Back):
		m.ctrl.SeekRelative(-SeekStep)
	case Is(msg, keys.Faster):
		m.ctrl.SetSpeed(m.speed() + 0.1)
	case Is(msg, keys.Slower):
		m.ctrl.SetSpeed(m.speed() - 0.1)
	case Is(msg, keys.ResetSpeed):
		m.ctrl.SetSpeed(1)
	case Is(msg, keys.Repeat):
		next := (m.state.Repeat + 1) % 3
		m.ctrl.SetRepeat(next)
		m.state.Repeat = next
		m.status = "repeat " + next.String()
	case Is(msg, keys.Output):
		if m.switching {
			return m, nil
		}
		m.switching = true
		m.status = "switching output..."
		return m, cycleOutput(m.ctrl, m.state.Output)
	}
	return m, nil
}

func (m Model) speed() float64 {
	if m.state.Speed == 0 {
		return 1
	}
	return m.state.Speed
}

// cycleOutput selects the output after current. Switching silences and
// re-seeks the song, so it runs outside Update.
func cycleOutput(ctrl Controller, current string) tea.Cmd {
	return func() tea.Msg {
		outs, err := ctrl.ListOutputs()
		if err != nil || len(outs) == 0 {
			return outputMsg{err: errors.New("no outputs")}
		}
		next := outs[(slices.Index(outs, current)+1)%len(outs)]
		if err := ctrl.SelectOutput(next); err != nil {
			return outputMsg{id: next, err: fmt.Errorf("output %s: %w", next, err)}
		}
		return outputMsg{id: next}
	}
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	s := m.state
	var b strings.Builder

	title := s.Metadata.Title
	if title == "" {
		title = path.Base(s.Path)
	}
	if s.Path == "" {
		title = "(stopped)"
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n")
	if s.Metadata.Copyright != "" {
		b.WriteString(dimStyle.Render(s.Metadata.Copyright))
		b.WriteString("\n")
	}

	state := "paused"
	if s.Playing {
		state = "playing"
	}
	fmt.Fprintf(&b, "%s %s / %s  %s\n",
		barStyle.Render(progressBar(s.Position, s.Duration, 40)),
		formatTime(s.Position), formatTime(s.Duration), state)
	b.WriteString(statusStyle.Render(fmt.Sprintf("tempo %.1f bpm  speed x%.2f  repeat %s  %s  out %s",
		s.Tempo, s.Speed, s.Repeat, s.Spec, s.Output)))
	b.WriteString("\n\n")

	for i := range s.Channels {
		b.WriteString(channelLine(i, &s.Channels[i]))
		b.WriteString("\n")
	}

	if m.status != "" {
		b.WriteString("\n" + statusStyle.Render(m.status) + "\n")
	}
	b.WriteString("\n" + m.help.View(keys) + "\n")
	return b.String()
}

func channelLine(i int, c *chanstate.Channel) string {
	name := fmt.Sprintf("%2d", i+1)
	if c.Percussion {
		name = drumStyle.Render(name)
	}
	keys := c.ActiveKeys()
	meter := keyStyle.Render(strings.Repeat("|", min(keys, 16))) + strings.Repeat(" ", 16-min(keys, 16))
	return fmt.Sprintf("%s  prg %3d  vol %3d  pan %3d  bend %+5d  %s",
		name, c.Program, c.Controllers[7], c.Controllers[10], int(c.PitchBend)-8192, meter)
}

func progressBar(pos, dur float64, width int) string {
	filled := 0
	if dur > 0 {
		filled = int(float64(width) * min(pos/dur, 1))
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func formatTime(sec float64) string {
	d := time.Duration(sec * float64(time.Second)).Round(time.Second)
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}
