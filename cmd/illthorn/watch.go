package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/illthorn/internal/game"
	"github.com/mattjoyce/illthorn/internal/parser"
)

func runWatch(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	apiBase := fs.String("api", "http://127.0.0.1:8090", "base URL for illthorn API")
	token := fs.String("token", os.Getenv("ILLTHORN_API_TOKEN"), "Bearer token for API auth")
	pollInterval := fs.Duration("poll-interval", 2*time.Second, "poll interval while waiting for a session")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 1 {
		return fmt.Errorf("usage: illthorn watch [--api <url>] [--token <token>] [--poll-interval <duration>] [session]")
	}
	if strings.TrimSpace(*token) == "" {
		return fmt.Errorf("token is required (use --token or ILLTHORN_API_TOKEN)")
	}
	if *pollInterval <= 0 {
		return fmt.Errorf("poll-interval must be positive")
	}

	cfg := watchConfig{
		APIBase:      strings.TrimRight(*apiBase, "/"),
		Token:        *token,
		Session:      fs.Arg(0),
		PollInterval: *pollInterval,
	}

	p := tea.NewProgram(newWatchModel(cfg), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

type watchConfig struct {
	APIBase      string
	Token        string
	Session      string
	PollInterval time.Duration
}

type streamEventMsg struct {
	Event string
	Data  []byte
	Err   error
	EOF   bool
}

type streamStartedMsg struct{}

type sessionFoundMsg struct {
	Name string
}

type pollTickMsg struct{}

type commandSentMsg struct {
	Command string
	Err     error
}

type watchModel struct {
	cfg             watchConfig
	explicitSession bool
	waiting         bool
	streamEvents    chan streamEventMsg
	width           int
	height          int
	connected       bool
	done            bool
	err             error
	status          string
	lines           []string
	partial         string
	game            *game.State
	input           string
}

func newWatchModel(cfg watchConfig) watchModel {
	waiting := cfg.Session == ""
	status := "connecting"
	if waiting {
		status = "waiting"
	}
	return watchModel{
		cfg:             cfg,
		explicitSession: !waiting,
		waiting:         waiting,
		streamEvents:    make(chan streamEventMsg, 32),
		status:          status,
		game:            game.NewState(),
	}
}

func (m watchModel) Init() tea.Cmd {
	if m.waiting {
		return pollForSessionCmd(m.cfg.APIBase, m.cfg.Token, m.cfg.PollInterval)
	}
	return tea.Batch(
		startEventStreamCmd(m.cfg, m.streamEvents),
		waitForStreamEventCmd(m.streamEvents),
	)
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(msg)
	case pollTickMsg:
		return m, pollForSessionCmd(m.cfg.APIBase, m.cfg.Token, m.cfg.PollInterval)
	case sessionFoundMsg:
		m.cfg.Session = msg.Name
		m.waiting = false
		m.status = "connecting"
		m.streamEvents = make(chan streamEventMsg, 32)
		m.game = game.NewState()
		m.appendLine(fmt.Sprintf("[%s] found session %s", time.Now().Format("15:04:05"), msg.Name))
		return m, tea.Batch(
			startEventStreamCmd(m.cfg, m.streamEvents),
			waitForStreamEventCmd(m.streamEvents),
		)
	case streamStartedMsg:
		m.connected = true
		return m, nil
	case commandSentMsg:
		if msg.Err != nil {
			m.appendLine("command failed: " + msg.Err.Error())
		}
		return m, nil
	case streamEventMsg:
		if msg.Err != nil {
			m.err = msg.Err
			m.appendLine("stream error: " + msg.Err.Error())
			return m, nil
		}
		if msg.EOF {
			m.appendLine("stream closed by server")
			return m, m.resetToWaiting()
		}
		m.handleEvent(msg.Event, msg.Data)
		if m.done {
			return m, m.resetToWaiting()
		}
		return m, waitForStreamEventCmd(m.streamEvents)
	default:
		return m, nil
	}
}

func (m watchModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		return m, tea.Quit
	case tea.KeyEnter:
		command := m.input
		m.input = ""
		if m.cfg.Session == "" || m.waiting {
			return m, nil
		}
		m.appendLine("> " + command)
		return m, sendCommandCmd(m.cfg, command)
	case tea.KeyBackspace:
		if r := []rune(m.input); len(r) > 0 {
			m.input = string(r[:len(r)-1])
		}
		return m, nil
	case tea.KeySpace:
		m.input += " "
		return m, nil
	case tea.KeyRunes:
		m.input += string(msg.Runes)
		return m, nil
	}
	return m, nil
}

func (m watchModel) View() string {
	accent := lipgloss.Color("#10B981")
	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#022C22")).
		Background(accent).
		Padding(0, 1).
		Render("Illthorn")

	statusStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#022C22")).
		Background(accent).
		Padding(0, 1)
	switch m.status {
	case "waiting":
		statusStyle = statusStyle.Background(lipgloss.Color("#6B7280"))
	case "closed":
		statusStyle = statusStyle.Background(lipgloss.Color("#6EE7B7"))
	case "failed":
		statusStyle = statusStyle.Background(lipgloss.Color("#EF4444")).Foreground(lipgloss.Color("#ECFDF5"))
	}

	sessionLabel := m.cfg.Session
	if sessionLabel == "" {
		sessionLabel = "-"
	}
	streamLabel := connectionLabel(m.connected, m.done, m.err)
	if m.waiting {
		streamLabel = "polling"
	}
	meta := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#6EE7B7")).
		Render(fmt.Sprintf("session=%s  api=%s  stream=%s", sessionLabel, m.cfg.APIBase, streamLabel))

	status := statusStyle.Render(strings.ToUpper(m.status))
	footer := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#6EE7B7")).
		Render("> " + m.input + "_   enter: send  esc: quit")
	if m.err != nil {
		footer = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444")).
			Render("error: " + m.err.Error() + "  esc: quit")
	}

	panelWidth := bodyWidth(m.width)
	feedHeight, statusHeight := panelHeights(m.height)

	feedLines := m.lines
	if m.partial != "" {
		feedLines = append(append([]string{}, m.lines...), m.partial)
	}
	if len(feedLines) == 0 {
		if m.waiting {
			feedLines = []string{"waiting for a live session..."}
		} else {
			feedLines = []string{"waiting for game text..."}
		}
	}
	feedPanel := renderPanel("Game", feedLines, panelWidth, feedHeight, accent, false)
	statusPanel := renderPanel("Character", m.statusPanelLines(statusHeight-1), panelWidth, statusHeight, accent, true)

	return strings.Join([]string{title + " " + status, meta, feedPanel, statusPanel, footer}, "\n")
}

func panelHeights(terminalHeight int) (feed, status int) {
	available := terminalHeight - 5
	if available < 12 {
		available = 12
	}
	status = 6
	feed = available - status
	return feed, status
}

func renderPanel(title string, lines []string, width, height int, accent lipgloss.Color, keepHead bool) string {
	if height < 3 {
		height = 3
	}
	contentHeight := height - 1
	if len(lines) > contentHeight {
		if keepHead {
			lines = lines[:contentHeight]
		} else {
			lines = lines[len(lines)-contentHeight:]
		}
	}
	for len(lines) < contentHeight {
		lines = append(lines, "")
	}
	content := lipgloss.NewStyle().Bold(true).Foreground(accent).Render(title) + "\n" + strings.Join(lines, "\n")

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(accent).
		Foreground(lipgloss.Color("#ECFDF5")).
		Background(lipgloss.Color("#052E16")).
		Width(width).
		Height(height).
		Padding(0, 1).
		Render(content)
}

func (m *watchModel) handleEvent(event string, data []byte) {
	switch event {
	case "snapshot":
		var payload struct {
			Game json.RawMessage `json:"game"`
			Feed string          `json:"feed"`
		}
		if err := json.Unmarshal(data, &payload); err != nil {
			m.appendLine("snapshot (unparsed)")
			return
		}
		state := game.NewState()
		if len(payload.Game) > 0 {
			if err := json.Unmarshal(payload.Game, state); err != nil {
				m.appendLine("snapshot game state (unparsed)")
			}
		}
		m.game = state
		m.status = "live"
		m.appendText(payload.Feed)
	case "data":
		var payload struct {
			CleanText string       `json:"clean_text"`
			Tags      []parser.Tag `json:"tags"`
		}
		if err := json.Unmarshal(data, &payload); err != nil {
			m.appendLine("data (unparsed)")
			return
		}
		m.appendText(payload.CleanText)
		// Folding the same records the server folded keeps the panel in step
		// without refetching the snapshot.
		m.game.Apply(payload.Tags)
	case "stream.closed":
		var payload struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(data, &payload)
		m.status = "closed"
		if payload.Error != "" {
			m.status = "failed"
		}
		m.done = true
		m.appendLine(fmt.Sprintf("[%s] session closed %s", time.Now().Format("15:04:05"), payload.Error))
	case "error":
		var payload struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(data, &payload); err != nil {
			payload.Error = "unknown stream error"
		}
		m.err = errors.New(payload.Error)
	default:
		m.appendLine(fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), event))
	}
}

func (m *watchModel) statusPanelLines(maxLines int) []string {
	var vitals []string
	for name, v := range m.game.Vitals {
		if v.Max > 0 {
			vitals = append(vitals, fmt.Sprintf("%s %d/%d", name, v.Current, v.Max))
		} else {
			vitals = append(vitals, fmt.Sprintf("%s %d%%", name, v.Value))
		}
	}
	sort.Strings(vitals)

	lines := []string{}
	if m.game.RoomTitle != "" {
		lines = append(lines, "room: "+displayText(m.game.RoomTitle))
	}
	if len(vitals) > 0 {
		lines = append(lines, strings.Join(vitals, "  "))
	}
	if len(m.game.Exits) > 0 {
		lines = append(lines, "exits: "+strings.Join(m.game.Exits, ", "))
	}
	if h := m.game.Hands; h.Left != "" || h.Right != "" || h.Spell != "" {
		lines = append(lines, fmt.Sprintf("left: %s  right: %s  spell: %s", orDash(displayText(h.Left)), orDash(displayText(h.Right)), orDash(displayText(h.Spell))))
	}
	if len(lines) == 0 {
		lines = append(lines, "waiting for character state...")
	}
	return trimPanelLines(lines, maxLines)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func trimPanelLines(lines []string, maxLines int) []string {
	if maxLines <= 0 {
		return []string{}
	}
	if len(lines) <= maxLines {
		return lines
	}
	trimmed := append([]string{}, lines[:maxLines]...)
	trimmed[maxLines-1] = "..."
	return trimmed
}

var reMarkup = regexp.MustCompile(`<[^>]*>`)

// displayText turns clean text into terminal text: style spans are removed
// and entities decoded.
func displayText(clean string) string {
	return html.UnescapeString(reMarkup.ReplaceAllString(clean, ""))
}

// appendText adds clean game text to the feed, holding an unterminated last
// line until more text arrives.
func (m *watchModel) appendText(clean string) {
	if clean == "" {
		return
	}
	text := strings.ReplaceAll(m.partial+displayText(clean), "\r\n", "\n")
	parts := strings.Split(text, "\n")
	m.partial = parts[len(parts)-1]
	for _, line := range parts[:len(parts)-1] {
		m.appendLine(line)
	}
}

func (m *watchModel) appendLine(line string) {
	m.lines = append(m.lines, line)
	if len(m.lines) > 800 {
		m.lines = m.lines[len(m.lines)-800:]
	}
}

// resetToWaiting resets model state to poll for the next session.
// If a session was named on the CLI, it returns tea.Quit instead.
func (m *watchModel) resetToWaiting() tea.Cmd {
	if m.explicitSession {
		return tea.Quit
	}
	m.cfg.Session = ""
	m.waiting = true
	m.connected = false
	m.done = false
	m.err = nil
	m.status = "waiting"
	m.partial = ""
	m.game = game.NewState()
	return pollForSessionCmd(m.cfg.APIBase, m.cfg.Token, m.cfg.PollInterval)
}

func pollForSessionCmd(apiBase, token string, pollInterval time.Duration) tea.Cmd {
	return func() tea.Msg {
		if pollInterval <= 0 {
			pollInterval = 2 * time.Second
		}
		req, err := http.NewRequest(http.MethodGet, apiBase+"/v1/sessions", nil)
		if err == nil {
			req.Header.Set("Authorization", "Bearer "+token)
			if resp, err := http.DefaultClient.Do(req); err == nil {
				var payload struct {
					Sessions []struct {
						Name string `json:"name"`
					} `json:"sessions"`
				}
				_ = json.NewDecoder(resp.Body).Decode(&payload)
				resp.Body.Close()
				if len(payload.Sessions) > 0 {
					return sessionFoundMsg{Name: payload.Sessions[0].Name}
				}
			}
		}
		time.Sleep(pollInterval)
		return pollTickMsg{}
	}
}

func sendCommandCmd(cfg watchConfig, command string) tea.Cmd {
	return func() tea.Msg {
		body, _ := json.Marshal(map[string]string{"command": command})
		u := fmt.Sprintf("%s/v1/sessions/%s/commands", cfg.APIBase, url.PathEscape(cfg.Session))
		req, err := http.NewRequest(http.MethodPost, u, bytes.NewReader(body))
		if err != nil {
			return commandSentMsg{Command: command, Err: err}
		}
		req.Header.Set("Authorization", "Bearer "+cfg.Token)
		req.Header.Set("Content-Type", "application/json")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return commandSentMsg{Command: command, Err: err}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusAccepted {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return commandSentMsg{Command: command, Err: fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))}
		}
		return commandSentMsg{Command: command}
	}
}

func startEventStreamCmd(cfg watchConfig, out chan streamEventMsg) tea.Cmd {
	return func() tea.Msg {
		go streamSessionEvents(cfg, out)
		return streamStartedMsg{}
	}
}

func waitForStreamEventCmd(in <-chan streamEventMsg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-in
		if !ok {
			return streamEventMsg{EOF: true}
		}
		return msg
	}
}

func streamSessionEvents(cfg watchConfig, out chan<- streamEventMsg) {
	defer close(out)

	u := fmt.Sprintf("%s/v1/sessions/%s/events", cfg.APIBase, url.PathEscape(cfg.Session))
	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		out <- streamEventMsg{Err: fmt.Errorf("create request: %w", err)}
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+cfg.Token)

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		out <- streamEventMsg{Err: fmt.Errorf("connect stream: %w", err)}
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		out <- streamEventMsg{Err: fmt.Errorf("stream request failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))}
		return
	}

	if err := readSSE(resp.Body, out); err != nil {
		out <- streamEventMsg{Err: fmt.Errorf("read stream: %w", err)}
		return
	}
	out <- streamEventMsg{EOF: true}
}

// readSSE decodes a server-sent event stream into messages on out.
func readSSE(r io.Reader, out chan<- streamEventMsg) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var eventName string
	var dataLines []string

	flushEvent := func() {
		if len(dataLines) == 0 {
			eventName = ""
			return
		}
		if eventName == "" {
			eventName = "message"
		}
		out <- streamEventMsg{
			Event: eventName,
			Data:  []byte(strings.Join(dataLines, "\n")),
		}
		eventName = ""
		dataLines = nil
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			flushEvent()
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		if strings.HasPrefix(line, "event:") {
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			continue
		}
		if strings.HasPrefix(line, "data:") {
			part := strings.TrimPrefix(line, "data:")
			if strings.HasPrefix(part, " ") {
				part = part[1:]
			}
			dataLines = append(dataLines, part)
		}
	}
	flushEvent()
	return scanner.Err()
}

func bodyWidth(terminalWidth int) int {
	if terminalWidth <= 0 {
		return 80
	}
	w := terminalWidth - 2
	if w < 40 {
		return 40
	}
	return w
}

func connectionLabel(connected, done bool, err error) string {
	if err != nil {
		return "error"
	}
	if done {
		return "closed"
	}
	if connected {
		return "open"
	}
	return "connecting"
}
