package tui

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"regexp"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"bookrag/internal/domain"
)

// AnswerPort is the TUI-facing subset of the RAG service.
type AnswerPort interface {
	Stream(ctx context.Context, bookID, question string) (iter.Seq[domain.StreamEvent], error)
}

// turn is one question and its streamed answer.
type turn struct {
	question string
	answer   string
	sources  []domain.StreamSource
	err      error
}

type streamEventMsg struct{ event domain.StreamEvent }

type streamEndMsg struct{}

// Model is the Bubble Tea model for chatting with one book.
type Model struct {
	service  AnswerPort
	bookID   string
	input    textinput.Model
	viewport viewport.Model
	turns    []turn
	status   string
	cursor   int
	ready    bool
	quitting bool

	// set while an answer is streaming
	next   func() (domain.StreamEvent, bool)
	stop   func()
	cancel context.CancelFunc
}

// New creates a new TUI model instance.
func New(service AnswerPort, bookID string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Escribe tu pregunta y pulsa Enter"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	return Model{service: service, bookID: bookID, input: ti, viewport: vp, status: "Listo. Esc cancela una respuesta, Ctrl+C sale."}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) streaming() bool { return m.next != nil }

// Update handles key, window and stream events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, th := transcriptBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 1 + sourcesPaneLines + 1 + qh + 1 // header, sources, input, status
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-th)
		m.refresh()
		return m, nil

	case streamEventMsg:
		return m.handleEvent(msg.event)

	case streamEndMsg:
		m.finish()
		if m.quitting {
			return m, tea.Quit
		}
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			if !m.streaming() {
				return m, tea.Quit
			}
			// let the cancelled stream drain before quitting
			m.quitting = true
			m.cancel()
			return m, nil
		}
		switch msg.String() {
		case "esc":
			if m.streaming() {
				m.cancel()
				m.status = "Cancelando..."
				return m, nil
			}
		case "enter":
			if m.streaming() {
				return m, nil
			}
			q := strings.TrimSpace(m.input.Value())
			if q == "" {
				return m, nil
			}
			return m.ask(q)
		case "down":
			if n := len(m.lastSources()); n > 0 {
				m.cursor = (m.cursor + 1) % n
				return m, nil
			}
		case "up":
			if n := len(m.lastSources()); n > 0 {
				m.cursor = (m.cursor - 1 + n) % n
				return m, nil
			}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) ask(q string) (tea.Model, tea.Cmd) {
	ctx, cancel := context.WithCancel(context.Background())
	seq, err := m.service.Stream(ctx, m.bookID, q)
	if err != nil {
		cancel()
		if errors.Is(err, domain.ErrNotFound) {
			m.status = fmt.Sprintf("El libro %q no está indexado", m.bookID)
		} else {
			m.status = "Error: " + err.Error()
		}
		return m, nil
	}
	m.next, m.stop = iter.Pull(seq)
	m.cancel = cancel
	m.turns = append(m.turns, turn{question: q})
	m.cursor = 0
	m.input.Reset()
	m.status = "Generando..."
	m.refresh()
	return m, waitEvent(m.next)
}

func (m Model) handleEvent(ev domain.StreamEvent) (tea.Model, tea.Cmd) {
	cur := &m.turns[len(m.turns)-1]
	switch ev.Type {
	case domain.EventSources:
		cur.sources = ev.Sources
	case domain.EventToken:
		cur.answer += ev.Token
	case domain.EventDone:
		m.status = fmt.Sprintf("%d fuentes. Flechas para recorrerlas.", len(cur.sources))
	case domain.EventError:
		cur.err = ev.Err
		if errors.Is(ev.Err, context.Canceled) {
			m.status = "Respuesta cancelada"
		} else {
			m.status = "Error: " + ev.Err.Error()
		}
	}
	m.refresh()
	return m, waitEvent(m.next)
}

// finish releases the stream once it has ended.
func (m *Model) finish() {
	if m.stop != nil {
		m.stop()
	}
	if m.cancel != nil {
		m.cancel()
	}
	m.next, m.stop, m.cancel = nil, nil, nil
}

// waitEvent pulls the next stream event off the UI goroutine.
func waitEvent(next func() (domain.StreamEvent, bool)) tea.Cmd {
	return func() tea.Msg {
		ev, ok := next()
		if !ok {
			return streamEndMsg{}
		}
		return streamEventMsg{event: ev}
	}
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

func (m Model) lastSources() []domain.StreamSource {
	if len(m.turns) == 0 {
		return nil
	}
	return m.turns[len(m.turns)-1].sources
}

// View renders the TUI layout.
func (m Model) View() string {
	if !m.ready {
		return "Cargando..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("bookrag · " + m.bookID)
	transcript := transcriptBoxStyle.Render(m.viewport.View())
	sources := sourceStyle.Render(m.renderSource())
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	return header + "\n" + transcript + "\n" + sources + "\n" + input + "\n" + status
}

func (m Model) renderTranscript() string {
	if len(m.turns) == 0 {
		return "Todavía no hay preguntas."
	}
	var b strings.Builder
	for i, t := range m.turns {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(questionStyle.Render("> " + t.question))
		b.WriteString("\n")
		b.WriteString(HighlightCitations(t.answer))
		if t.err != nil && !errors.Is(t.err, context.Canceled) {
			b.WriteString("\n")
			b.WriteString(errorStyle.Render("error: " + t.err.Error()))
		}
	}
	return b.String()
}

const sourcesPaneLines = 2

func (m Model) renderSource() string {
	src := m.lastSources()
	if len(src) == 0 {
		return "Sin fuentes."
	}
	s := src[m.cursor%len(src)]
	heading := s.SourceFile
	for _, h := range []*string{s.Titulo, s.Seccion} {
		if h != nil {
			heading += " › " + *h
		}
	}
	title := fmt.Sprintf("[%d/%d] %s  score=%.3f", m.cursor%len(src)+1, len(src), heading, s.Score)
	return title + "\n" + strings.ReplaceAll(s.Content, "\n", " ")
}

var (
	transcriptBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	sourceStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).MaxHeight(sourcesPaneLines)
	questionStyle      = lipgloss.NewStyle().Bold(true)
	citationStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	errorStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	citationRe         = regexp.MustCompile(`\[\d+\]`)
)

// HighlightCitations renders every [N] marker in the citation style.
func HighlightCitations(text string) string {
	return citationRe.ReplaceAllStringFunc(text, func(c string) string {
		return citationStyle.Render(c)
	})
}
