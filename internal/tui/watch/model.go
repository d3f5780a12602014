package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/hearken/internal/bus"
)

const maxEventLog = 50

// Model is the BubbleTea model for the watch TUI.
type Model struct {
	apiURL string

	width  int
	height int

	health     HealthState
	parsers    map[string]*ParserState
	utterances []UtteranceState
	eventLog   []bus.Event
	lastID     int64

	pulse Pulse
	meter Meter

	theme       Theme
	parserTable table.Model

	hubEvents chan bus.Event
	now       func() time.Time

	lastError string
}

// New creates a watch model for the hearken API at apiURL.
func New(apiURL string) *Model {
	theme := NewDefaultTheme()
	return &Model{
		apiURL:      apiURL,
		parsers:     make(map[string]*ParserState),
		eventLog:    make([]bus.Event, 0),
		hubEvents:   make(chan bus.Event, 100),
		theme:       theme,
		parserTable: newParserTable(theme),
		now:         time.Now,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.apiURL, 0, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		func() tea.Msg { return fetchHealth(m.apiURL) },
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.parserTable.SetWidth(max(0, m.width-6))

	case tickMsg:
		m.pulse.Tick()
		m.meter.Decay(time.Time(msg))
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		m.applyEvent(bus.Event(msg))
		return m, receiveNextEvent(m.hubEvents)

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.ParsersLoaded = msg.ParsersLoaded
		m.health.ParsersFailed = msg.ParsersFailed
		m.health.Connected = true
		m.health.LastCheck = m.now()
		m.lastError = ""
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg {
			return fetchHealth(m.apiURL)
		})

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "SSE disconnected, reconnecting..."
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg {
			return reconnectMsg{}
		})

	case reconnectMsg:
		return m, subscribeToEvents(m.apiURL, m.lastID, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg {
			return fetchHealth(m.apiURL)
		})
	}

	var cmd tea.Cmd
	m.parserTable, cmd = m.parserTable.Update(msg)
	return m, cmd
}

// applyEvent folds one event into the model. Events at or below the last
// seen ID are replays and are dropped.
func (m *Model) applyEvent(e bus.Event) {
	if e.ID != 0 && e.ID <= m.lastID {
		return
	}
	if e.ID > m.lastID {
		m.lastID = e.ID
	}

	m.eventLog = append([]bus.Event{e}, m.eventLog...)
	if len(m.eventLog) > maxEventLog {
		m.eventLog = m.eventLog[:maxEventLog]
	}
	m.meter.OnEvent(m.now())

	updateParserState(m.parsers, e)
	if u, ok := parseUtterance(e); ok {
		m.utterances = append([]UtteranceState{u}, m.utterances...)
		if len(m.utterances) > maxUtterances {
			m.utterances = m.utterances[:maxUtterances]
		}
	}
	m.parserTable.SetRows(parserRows(m.parsers, m.theme))

	m.health.Connected = true
	m.lastError = ""
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to hearken..."
	}

	parts := []string{
		renderHeader(m.health, m.pulse, m.meter, m.theme, m.width, m.now()),
		renderParsers(m.parserTable, m.theme, m.width),
		renderUtterances(m.utterances, m.theme, m.width),
		renderEventStream(m.eventLog, m.theme, m.width),
	}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(fmt.Sprintf(" ⚠ %s", m.lastError)))
	}
	parts = append(parts, lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [↑/↓] Scroll parsers"))

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}
