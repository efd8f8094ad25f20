// Package tui is the terminal front end. It drives the playback engine
// exclusively through the session's exported API and observes it through the
// event subscription; no engine internals cross this boundary.
package tui

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"stemsplit/playback"
	"stemsplit/separation"
)

const (
	positionRefresh = 200 * time.Millisecond
	volumeStep      = 0.05
	seekStep        = 5 * time.Second
	opTimeout       = 5 * time.Second
)

// Model is the bubbletea model for the stem player.
type Model struct {
	session *playback.Session
	title   string

	events <-chan playback.Event
	cancel func()

	bar      progress.Model
	width    int
	height   int
	selected int
	status   string
}

// New creates the player model for an already started session.
func New(session *playback.Session, title string) Model {
	events, cancel := session.Subscribe()
	return Model{
		session: session,
		title:   title,
		events:  events,
		cancel:  cancel,
		bar: progress.New(
			progress.WithSolidFill(string(colorPrimary)),
			progress.WithoutPercentage(),
		),
	}
}

// Run blocks until the user quits.
func Run(session *playback.Session, title string) error {
	_, err := tea.NewProgram(New(session, title), tea.WithAltScreen()).Run()
	return err
}

type engineMsg playback.Event

type tickMsg time.Time

type opDoneMsg struct{ err error }

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.waitForEvent(), tick())
}

// waitForEvent bridges the engine's subscription channel into the bubbletea
// message loop, one event per command.
func (m Model) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return nil
		}
		return engineMsg(ev)
	}
}

func tick() tea.Cmd {
	return tea.Tick(positionRefresh, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// op runs one engine command off the update loop so a slow settlement never
// freezes the UI.
func op(fn func(context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		return opDoneMsg{err: fn(ctx)}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.bar.Width = msg.Width - 4
		return m, nil

	case tickMsg:
		return m, tick()

	case engineMsg:
		if msg.Kind == playback.EventTrackState && msg.State == playback.TrackError {
			m.status = fmt.Sprintf("stem %s failed to load", msg.TrackID)
		}
		return m, m.waitForEvent()

	case opDoneMsg:
		if msg.err != nil {
			m.status = msg.err.Error()
		} else {
			m.status = ""
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	tr := m.session.Transport()
	mix := m.session.Mixer()
	tracks := m.session.Registry().All()

	switch msg.String() {
	case "q", "ctrl+c":
		m.cancel()
		return m, tea.Quit

	case " ":
		if tr.IsPlaying() {
			return m, op(tr.PauseAll)
		}
		return m, op(tr.PlayAll)

	case "r":
		return m, op(tr.RestartAll)

	case "left", "right":
		pos := m.position(tracks)
		if msg.String() == "left" {
			pos -= seekStep
			if pos < 0 {
				pos = 0
			}
		} else {
			pos += seekStep
		}
		return m, op(func(ctx context.Context) error {
			return tr.SeekAll(ctx, pos)
		})

	case "up":
		return m, m.setMaster(mix.MasterVolume() + volumeStep)
	case "down":
		return m, m.setMaster(mix.MasterVolume() - volumeStep)

	case "tab", "j":
		if len(tracks) > 0 {
			m.selected = (m.selected + 1) % len(tracks)
		}
		return m, nil
	case "shift+tab", "k":
		if len(tracks) > 0 {
			m.selected = (m.selected + len(tracks) - 1) % len(tracks)
		}
		return m, nil

	case "m":
		if t := m.selectedTrack(tracks); t != nil {
			return m, op(func(context.Context) error {
				return mix.SetTrackMuted(t.ID(), !t.Muted())
			})
		}
		return m, nil

	case "s":
		if t := m.selectedTrack(tracks); t != nil {
			solo := m.session.Solo()
			return m, op(func(context.Context) error {
				return solo.ToggleSolo(t.ID())
			})
		}
		return m, nil

	case "+", "=":
		return m, m.setTrackVolume(tracks, volumeStep)
	case "-":
		return m, m.setTrackVolume(tracks, -volumeStep)
	}
	return m, nil
}

func (m Model) setMaster(v float64) tea.Cmd {
	v = clamp(v)
	mix := m.session.Mixer()
	return op(func(context.Context) error {
		return mix.SetMasterVolume(v)
	})
}

func (m Model) setTrackVolume(tracks []*playback.Track, delta float64) tea.Cmd {
	t := m.selectedTrack(tracks)
	if t == nil {
		return nil
	}
	v := clamp(t.Volume() + delta)
	mix := m.session.Mixer()
	return op(func(context.Context) error {
		return mix.SetTrackVolume(t.ID(), v)
	})
}

func (m Model) selectedTrack(tracks []*playback.Track) *playback.Track {
	if m.selected < 0 || m.selected >= len(tracks) {
		return nil
	}
	return tracks[m.selected]
}

// position is the ensemble position shown in the header: the furthest-ahead
// loaded track, matching what drift correction converges on.
func (m Model) position(tracks []*playback.Track) time.Duration {
	var max time.Duration
	for _, t := range tracks {
		if p := t.Position(); p > max {
			max = p
		}
	}
	return max
}

func (m Model) View() string {
	tracks := m.session.Registry().All()
	tr := m.session.Transport()
	mix := m.session.Mixer()

	var b strings.Builder

	state := "stopped"
	if tr.IsPlaying() {
		state = "playing"
	}
	pos := m.position(tracks)
	var dur time.Duration
	for _, t := range tracks {
		if d := t.Duration(); d > dur {
			dur = d
		}
	}
	b.WriteString(styleTitle.Render(m.title))
	b.WriteString(styleMuted.Render(fmt.Sprintf("  %s  %s / %s  master %3.0f%%",
		state, formatDuration(pos), formatDuration(dur), mix.MasterVolume()*100)))
	b.WriteString("\n")

	frac := 0.0
	if dur > 0 {
		frac = float64(pos) / float64(dur)
	}
	b.WriteString("  " + m.bar.ViewAs(frac))
	b.WriteString("\n\n")

	solo := mix.Solo()
	for i, t := range tracks {
		b.WriteString(m.trackRow(t, i == m.selected, solo == t.ID()))
		b.WriteString("\n")
	}

	if m.status != "" {
		b.WriteString("\n")
		b.WriteString(styleError.Render(m.status))
	}

	b.WriteString("\n")
	b.WriteString(styleHelp.Render(
		"space play/pause · r restart · ←/→ seek · ↑/↓ master · j/k select · m mute · s solo · +/- volume · q quit"))
	return b.String()
}

func (m Model) trackRow(t *playback.Track, selected, soloed bool) string {
	cursor := "  "
	if selected {
		cursor = styleSelected.Render("> ")
	}

	state := t.State().String()
	flags := " "
	if soloed {
		flags = "S"
	} else if t.Muted() {
		flags = "M"
	}

	name := fmt.Sprintf("%-8s", t.ID())
	if selected {
		name = styleSelected.Render(name)
	} else {
		name = styleTitle.Render(name)
	}

	row := fmt.Sprintf("%s%s %s %s %s %s",
		cursor,
		name,
		stateStyle(state).Render(fmt.Sprintf("%-7s", state)),
		volumeBar(t.Volume()),
		flags,
		m.waveform(t),
	)

	if tags := stemTags(t); tags != "" {
		row += "  " + styleDim.Render(tags)
	}
	return row
}

func (m Model) waveform(t *playback.Track) string {
	width := m.width - 50
	if width < 10 {
		width = 10
	}
	peaks := t.Waveform().Peaks(width)
	if peaks == nil {
		return styleDim.Render(strings.Repeat("·", width))
	}

	blocks := []rune(" ▁▂▃▄▅▆▇█")
	var b strings.Builder
	progress := 0
	if d := t.Duration(); d > 0 {
		progress = int(float64(t.Position()) / float64(d) * float64(width))
	}
	for i, p := range peaks {
		idx := int(math.Round(p * float64(len(blocks)-1)))
		if idx >= len(blocks) {
			idx = len(blocks) - 1
		}
		ch := string(blocks[idx])
		if i <= progress {
			b.WriteString(lipgloss.NewStyle().Foreground(colorPrimary).Render(ch))
		} else {
			b.WriteString(styleDim.Render(ch))
		}
	}
	return b.String()
}

func volumeBar(v float64) string {
	const width = 10
	filled := int(v*width + 0.5)
	return styleMuted.Render("[" + strings.Repeat("=", filled) + strings.Repeat(" ", width-filled) + "]")
}

// stemTags renders the AI tags attached to a stem, when the separation
// service provided any.
func stemTags(t *playback.Track) string {
	a, ok := t.Meta().(*separation.Analysis)
	if !ok || a == nil {
		return ""
	}

	var parts []string
	if a.BPM != nil {
		parts = append(parts, fmt.Sprintf("%.0f bpm", *a.BPM))
	}
	if a.Key != "" && a.Key != "Unknown" {
		parts = append(parts, a.Key)
	}
	if a.Gemini != nil && len(a.Gemini.Tags) > 0 {
		n := len(a.Gemini.Tags)
		if n > 3 {
			n = 3
		}
		parts = append(parts, strings.Join(a.Gemini.Tags[:n], ", "))
	}
	return strings.Join(parts, " · ")
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
