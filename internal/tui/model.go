// Package tui is an interactive terminal front end for querying the index.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"ragapi/internal/domain"
	"ragapi/internal/textproc"
)

// Querier is the TUI-facing subset of the pipeline.
type Querier interface {
	Query(ctx context.Context, q domain.Query, topK int) (domain.Answer, error)
}

// answerMsg carries a finished query back into Update.
type answerMsg struct {
	query  string
	answer domain.Answer
	err    error
}

// Model is the Bubble Tea model for the TUI application.
type Model struct {
	querier  Querier
	topK     int
	timeout  time.Duration
	input    textinput.Model
	viewport viewport.Model
	answer   domain.Answer
	banner   string
	status   string
	cursor   int
	ready    bool
	busy     bool
	query    string
}

// New creates a TUI model. banner is shown under the title, typically the
// backend description.
func New(querier Querier, topK int, timeout time.Duration, banner string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return Model{
		querier:  querier,
		topK:     topK,
		timeout:  timeout,
		input:    ti,
		viewport: viewport.New(0, 0),
		banner:   banner,
		status:   "Ready. Type a question.",
	}
}

func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) runQuery(q string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		ans, err := m.querier.Query(ctx, domain.Query{Text: q}, m.topK)
		return answerMsg{query: q, answer: ans, err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1 // header, banner, status, spacer
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-rh)
		m.viewport.SetContent(m.renderCurrent())
		return m, nil
	case answerMsg:
		m.busy = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			m.answer = domain.Answer{}
		} else {
			m.status = fmt.Sprintf("%d sources for %q", len(msg.answer.Matches), msg.query)
			m.answer = msg.answer
			m.cursor = 0
			m.query = msg.query
		}
		m.viewport.SetContent(m.renderCurrent())
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q != "" && !m.busy {
				m.busy = true
				m.status = "Searching..."
				return m, m.runQuery(q)
			}
		case "down":
			if n := len(m.answer.Matches); n > 0 {
				m.cursor = (m.cursor + 1) % n
				m.viewport.SetContent(m.renderCurrent())
				return m, nil
			}
		case "up":
			if n := len(m.answer.Matches); n > 0 {
				m.cursor = (m.cursor - 1 + n) % n
				m.viewport.SetContent(m.renderCurrent())
				return m, nil
			}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("RAG Query")
	banner := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(m.banner)
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	results := resultBoxStyle.Render(m.viewport.View())
	return header + "\n" + banner + "\n" + results + "\n" + input + "\n" + status
}

func (m Model) renderCurrent() string {
	matches := m.answer.Matches
	if len(matches) == 0 {
		return "No results yet."
	}
	var b strings.Builder
	if m.answer.Response != "" {
		b.WriteString(answerStyle.Render(m.answer.Response))
		b.WriteString("\n\n")
	}
	r := matches[m.cursor]
	fmt.Fprintf(&b, "Source %d/%d  score=%.3f  %s#%d\n\n", m.cursor+1, len(matches), r.Score, r.SourceID, r.Index)
	b.WriteString(highlightBestSentence(r.Text, m.query))
	return b.String()
}

var (
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	answerStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
)

// highlightBestSentence emphasizes the sentence sharing the most content
// words with query.
func highlightBestSentence(text, query string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	sentences := textproc.Sentences(text)
	if len(sentences) == 0 {
		sentences = []string{strings.TrimSpace(text)}
	}
	q := textproc.TokenSet(query)
	if len(q) == 0 {
		return strings.Join(sentences, " ")
	}
	best, bestScore := 0, -1
	for i, s := range sentences {
		if score := overlap(q, s); score > bestScore {
			best, bestScore = i, score
		}
	}
	out := make([]string, len(sentences))
	for i, s := range sentences {
		if i == best {
			out[i] = highlightStyle.Render(s)
		} else {
			out[i] = s
		}
	}
	return strings.Join(out, " ")
}

func overlap(query map[string]struct{}, sentence string) int {
	score := 0
	for t := range textproc.TokenSet(sentence) {
		if _, ok := query[t]; ok {
			score++
		}
	}
	return score
}
