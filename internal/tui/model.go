// Package tui is the interactive presentation of a mesh session.
package tui

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mossy-p/mesh-signaling/internal/mesh"
	"github.com/mossy-p/mesh-signaling/internal/models"
)

const (
	joinTimeout  = 30 * time.Second
	leaveTimeout = 5 * time.Second
	maxNotices   = 4
)

// Controller is the part of the orchestrator the UI drives. Calls are made
// from commands, never from Update, because the orchestrator reports back
// through the program.
type Controller interface {
	Join(ctx context.Context, roomID string) error
	Leave(ctx context.Context) error
	ToggleAudio() (bool, error)
	ToggleVideo() (bool, error)
}

type joinDoneMsg struct{ err error }

type toggledMsg struct {
	kind    models.MediaKind
	enabled bool
	err     error
}

type leftMsg struct{}

type keyMap struct {
	Audio key.Binding
	Video key.Binding
	Quit  key.Binding
}

var keys = keyMap{
	Audio: key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "mic")),
	Video: key.NewBinding(key.WithKeys("v"), key.WithHelp("v", "camera")),
	Quit:  key.NewBinding(key.WithKeys("q", "ctrl+c", "esc"), key.WithHelp("q", "leave")),
}

type peerRow struct {
	role       mesh.Role
	state      mesh.NegotiationState
	media      models.MediaState
	mediaKnown bool
	streams    map[string]int
}

// Model is the bubbletea model for one session
type Model struct {
	ctrl   Controller
	roomID string

	self    models.ParticipantID
	joined  bool
	leaving bool
	local   models.MediaState
	peers   map[models.ParticipantID]*peerRow
	notices []string
	lastErr error
	fatal   error

	spinner spinner.Model
}

// NewModel returns a model that joins roomID through ctrl when started
func NewModel(ctrl Controller, roomID string) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = pendingStyle

	return Model{
		ctrl:    ctrl,
		roomID:  roomID,
		local:   models.MediaState{Audio: true, Video: true},
		peers:   make(map[models.ParticipantID]*peerRow),
		spinner: s,
	}
}

// Err is the error that ended the session, if any
func (m Model) Err() error {
	return m.fatal
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.joinCmd())
}

func (m Model) joinCmd() tea.Cmd {
	ctrl, roomID := m.ctrl, m.roomID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), joinTimeout)
		defer cancel()
		return joinDoneMsg{err: ctrl.Join(ctx, roomID)}
	}
}

func (m Model) toggleCmd(kind models.MediaKind) tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		var enabled bool
		var err error
		if kind == models.MediaAudio {
			enabled, err = ctrl.ToggleAudio()
		} else {
			enabled, err = ctrl.ToggleVideo()
		}
		return toggledMsg{kind: kind, enabled: enabled, err: err}
	}
}

func (m Model) leaveCmd() tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
		defer cancel()
		ctrl.Leave(ctx)
		return leftMsg{}
	}
}

func (m Model) row(peer models.ParticipantID) *peerRow {
	r, ok := m.peers[peer]
	if !ok {
		r = &peerRow{streams: make(map[string]int)}
		m.peers[peer] = r
	}
	return r
}

func (m *Model) notice(text string) {
	m.notices = append(m.notices, text)
	if len(m.notices) > maxNotices {
		m.notices = m.notices[len(m.notices)-maxNotices:]
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			if m.leaving {
				return m, nil
			}
			m.leaving = true
			return m, tea.Sequence(m.leaveCmd(), tea.Quit)
		case key.Matches(msg, keys.Audio):
			if m.joined && !m.leaving {
				return m, m.toggleCmd(models.MediaAudio)
			}
		case key.Matches(msg, keys.Video):
			if m.joined && !m.leaving {
				return m, m.toggleCmd(models.MediaVideo)
			}
		}
		return m, nil

	case joinDoneMsg:
		if msg.err != nil {
			m.fatal = fmt.Errorf("join room %s: %w", m.roomID, msg.err)
			return m, tea.Quit
		}
		m.joined = true
		return m, nil

	case roomJoinedMsg:
		m.joined = true
		m.roomID = msg.roomID
		m.self = msg.self
		for _, p := range msg.peers {
			m.row(p).role = mesh.RoleAnswerer
		}
		return m, nil

	case linkStateMsg:
		if msg.state == mesh.StateClosed {
			delete(m.peers, msg.peer)
			return m, nil
		}
		r := m.row(msg.peer)
		r.role = msg.role
		r.state = msg.state
		return m, nil

	case peerMediaMsg:
		r := m.row(msg.peer)
		r.media = msg.state
		r.mediaKnown = true
		return m, nil

	case streamMsg:
		r, ok := m.peers[msg.peer]
		if !ok {
			return m, nil
		}
		if msg.attached {
			r.streams[msg.kind]++
		} else if r.streams[msg.kind] > 0 {
			r.streams[msg.kind]--
		}
		return m, nil

	case localMediaMsg:
		m.local = models.MediaState(msg)
		return m, nil

	case toggledMsg:
		if msg.err != nil {
			m.lastErr = msg.err
			return m, nil
		}
		m.local = m.local.With(msg.kind, msg.enabled)
		return m, nil

	case noticeMsg:
		m.notice(string(msg))
		return m, nil

	case errorMsg:
		m.lastErr = msg.err
		if errors.Is(msg.err, mesh.ErrTransportLost) {
			m.fatal = msg.err
			return m, tea.Quit
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder

	title := titleStyle.Render("room " + m.roomID)
	if !m.joined {
		b.WriteString(fmt.Sprintf("%s %s\n", m.spinner.View(), mutedStyle.Render("joining "+m.roomID+"...")))
		return b.String()
	}

	you := fmt.Sprintf("you %s   %s  %s",
		mutedStyle.Render(string(m.self)),
		onOff(m.local.Audio, "mic on", "mic off"),
		onOff(m.local.Video, "cam on", "cam off"))
	b.WriteString(boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, title, you)))
	b.WriteString("\n")

	if len(m.peers) == 0 {
		b.WriteString(mutedStyle.Render("nobody else is here yet"))
		b.WriteString("\n")
	} else {
		b.WriteString(m.peerTable())
		b.WriteString("\n")
	}

	for _, n := range m.notices {
		b.WriteString(mutedStyle.Render(n))
		b.WriteString("\n")
	}
	if m.lastErr != nil {
		b.WriteString(errorStyle.Render(m.lastErr.Error()))
		b.WriteString("\n")
	}
	if m.leaving {
		b.WriteString(pendingStyle.Render("leaving..."))
		b.WriteString("\n")
	}

	b.WriteString(helpLine())
	b.WriteString("\n")
	return b.String()
}

func (m Model) peerTable() string {
	ids := make([]string, 0, len(m.peers))
	for id := range m.peers {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)

	rows := make([][]string, 0, len(ids))
	for _, id := range ids {
		r := m.peers[models.ParticipantID(id)]
		audio, video := "?", "?"
		if r.mediaKnown {
			audio = onOff(r.media.Audio, "on", "off")
			video = onOff(r.media.Video, "on", "off")
		}
		rows = append(rows, []string{
			id,
			r.role.String(),
			stateLabel(r.state),
			audio,
			video,
			fmt.Sprintf("%d", r.streams["audio"]+r.streams["video"]),
		})
	}

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(mutedStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers("Peer", "Role", "Link", "Audio", "Video", "Tracks").
		Rows(rows...).
		String()
}

func stateLabel(s mesh.NegotiationState) string {
	switch s {
	case mesh.StateConnected:
		return onStyle.Render(s.String())
	case mesh.StateFailed:
		return errorStyle.Render(s.String())
	default:
		return pendingStyle.Render(s.String())
	}
}

func helpLine() string {
	parts := make([]string, 0, 3)
	for _, b := range []key.Binding{keys.Audio, keys.Video, keys.Quit} {
		h := b.Help()
		parts = append(parts, keyStyle.Render(h.Key)+" "+mutedStyle.Render(h.Desc))
	}
	return strings.Join(parts, mutedStyle.Render("  |  "))
}

// Run drives a session interactively until the user leaves or the
// connection to the hub is lost
func Run(ctrl Controller, obs *Observer, roomID string) error {
	p := tea.NewProgram(NewModel(ctrl, roomID))
	obs.Attach(p)

	final, err := p.Run()
	if err != nil {
		return err
	}
	if m, ok := final.(Model); ok {
		return m.Err()
	}
	return nil
}
