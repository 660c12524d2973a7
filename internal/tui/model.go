package tui

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"agrirag/internal/answer"
	"agrirag/internal/domain"
	"agrirag/internal/ingest"
	"agrirag/internal/tabular"
)

// Backend is the TUI-facing subset of the application.
type Backend interface {
	Ask(ctx context.Context, question string) (*answer.Result, error)
	Ingest(ctx context.Context, req ingest.Request) (int, error)
}

const uploadCommand = ":upload"

type role int

const (
	roleUser role = iota
	roleAssistant
	roleSystem
)

type entry struct {
	role    role
	text    string
	sources []domain.Hit
	query   string
}

type answerMsg struct {
	question string
	result   *answer.Result
	err      error
}

type ingestMsg struct {
	path  string
	added int
	err   error
}

// Model is the Bubble Tea model for the chat client.
type Model struct {
	backend     Backend
	timeout     time.Duration
	showSources bool

	input      textinput.Model
	viewport   viewport.Model
	transcript []entry
	status     string
	busy       bool
	ready      bool
}

// New creates a chat model. showSources lists the retrieved units under
// each answer.
func New(backend Backend, timeout time.Duration, showSources bool) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about commodity prices, or :upload <file>"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return Model{
		backend:     backend,
		timeout:     timeout,
		showSources: showSources,
		input:       ti,
		viewport:    vp,
		status:      "Ready. Ctrl+S toggles sources, Ctrl+C quits.",
	}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key, window and backend events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, th := transcriptBoxStyle.GetFrameSize()
		_, ih := inputBoxStyle.GetFrameSize()
		reserved := 1 + 1 + ih + 1 // header, status, spacer
		m.viewport.Width = max(20, msg.Width-2)
		m.viewport.Height = max(3, msg.Height-reserved-th)
		m.refresh()
		return m, nil

	case answerMsg:
		m.busy = false
		if msg.err != nil {
			m.transcript = append(m.transcript, entry{role: roleAssistant, text: answer.ErrorAnswer(msg.err)})
			m.status = "Query failed."
		} else {
			m.transcript = append(m.transcript, entry{
				role:    roleAssistant,
				text:    msg.result.Answer,
				sources: msg.result.Sources,
				query:   msg.question,
			})
			m.status = fmt.Sprintf("Answered from %d retrieved rows.", len(msg.result.Sources))
			if msg.result.Cached {
				m.status = "Answered from cache."
			}
		}
		m.refresh()
		return m, nil

	case ingestMsg:
		m.busy = false
		if msg.err != nil {
			m.transcript = append(m.transcript, entry{role: roleSystem, text: "Upload failed: " + msg.err.Error()})
			m.status = "Upload failed."
		} else {
			m.transcript = append(m.transcript, entry{role: roleSystem, text: fmt.Sprintf("Successfully processed %s (%d rows added)", msg.path, msg.added)})
			m.status = "Upload complete."
		}
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "ctrl+s":
			m.showSources = !m.showSources
			m.refresh()
			return m, nil
		case "up", "down", "pgup", "pgdown":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		case "enter":
			if m.busy {
				return m, nil
			}
			line := strings.TrimSpace(m.input.Value())
			if line == "" {
				return m, nil
			}
			m.input.SetValue("")
			cmd := m.submit(line)
			m.refresh()
			return m, cmd
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) submit(line string) tea.Cmd {
	m.busy = true
	if path, ok := strings.CutPrefix(line, uploadCommand); ok {
		path = strings.TrimSpace(path)
		if path == "" {
			m.busy = false
			m.status = "Usage: :upload <path to .csv/.xls/.xlsx>"
			return nil
		}
		if !tabular.Supported(path) {
			m.busy = false
			m.status = "Unsupported file type: " + path + " (expected .csv, .tsv, .xls or .xlsx)"
			return nil
		}
		m.transcript = append(m.transcript, entry{role: roleUser, text: line})
		m.status = "Ingesting " + path + "..."
		return m.ingestCmd(path)
	}
	m.transcript = append(m.transcript, entry{role: roleUser, text: line})
	m.status = "Thinking..."
	return m.askCmd(line)
}

func (m Model) askCmd(question string) tea.Cmd {
	backend, timeout := m.backend, m.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		res, err := backend.Ask(ctx, question)
		return answerMsg{question: question, result: res, err: err}
	}
}

func (m Model) ingestCmd(path string) tea.Cmd {
	backend := m.backend
	return func() tea.Msg {
		added, err := backend.Ingest(context.Background(), ingest.Request{Path: path})
		return ingestMsg{path: path, added: added, err: err}
	}
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

// View renders the TUI layout.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("Agricultural Price Assistant")
	transcript := transcriptBoxStyle.Render(m.viewport.View())
	input := inputBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	return header + "\n" + transcript + "\n" + input + "\n" + status
}

func (m Model) renderTranscript() string {
	if len(m.transcript) == 0 {
		return mutedStyle.Render("No messages yet. Upload a price sheet with :upload <file>, then ask a question.")
	}
	var b strings.Builder
	for i, e := range m.transcript {
		if i > 0 {
			b.WriteString("\n\n")
		}
		switch e.role {
		case roleUser:
			b.WriteString(userStyle.Render("You: "))
			b.WriteString(e.text)
		case roleAssistant:
			b.WriteString(assistantStyle.Render("Assistant: "))
			b.WriteString(e.text)
			if m.showSources {
				for j, h := range e.sources {
					fmt.Fprintf(&b, "\n  %s %s",
						mutedStyle.Render(fmt.Sprintf("[%d] %.3f", j+1, h.Score)),
						highlightBestStatement(h.Unit.Text, e.query))
				}
			}
		case roleSystem:
			b.WriteString(mutedStyle.Render(e.text))
		}
	}
	return b.String()
}

var (
	transcriptBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputBoxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	userStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	assistantStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	mutedStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	unicodeWordRe      = regexp.MustCompile(`[\p{L}\p{N}]+(?:['’][\p{L}\p{N}]+)*`)
)

// highlightBestStatement emphasises the "Label: value" statement of a unit
// sharing the most words with the question.
func highlightBestStatement(text, question string) string {
	statements := strings.Split(text, ", ")
	qTokens := toTokenSet(question)
	if len(qTokens) == 0 || len(statements) < 2 {
		return text
	}
	bestIdx, bestScore := -1, 0
	for i, s := range statements {
		if score := tokenOverlapScore(qTokens, s); score > bestScore {
			bestScore, bestIdx = score, i
		}
	}
	if bestIdx < 0 {
		return text
	}
	statements[bestIdx] = highlightStyle.Render(statements[bestIdx])
	return strings.Join(statements, ", ")
}

func toTokenSet(s string) map[string]struct{} {
	tokens := unicodeWordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

func tokenOverlapScore(queryTokens map[string]struct{}, sentence string) int {
	score := 0
	tokens := unicodeWordRe.FindAllString(strings.ToLower(sentence), -1)
	seen := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := queryTokens[t]; ok {
			score++
		}
	}
	return score
}
