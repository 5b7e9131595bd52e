// Package chat is the interactive TUI: a viewport transcript over a
// textarea prompt, with answers streamed token by token from the
// orchestrator.
package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/google/uuid"

	"quarry/internal/answer"
	"quarry/internal/config"
	"quarry/internal/store"
)

// Message is one transcript entry.
type Message struct {
	Role    string // user, assistant, system
	Content string
	Mode    string
}

type streamEventMsg struct{ event answer.Event }

type streamClosedMsg struct{}

// Model is the bubbletea model for the chat interface.
type Model struct {
	textarea textarea.Model
	viewport viewport.Model
	spinner  spinner.Model
	styles   Styles
	renderer *glamour.TermRenderer

	manager *config.Manager
	orch    *answer.Orchestrator
	st      *store.Store

	history        []Message
	conversationID string
	preferMode     string
	includeWeb     bool

	events    <-chan answer.Event
	cancel    context.CancelFunc
	isLoading bool

	width  int
	height int
	ready  bool
}

// New creates the chat model.
func New(manager *config.Manager, orch *answer.Orchestrator, st *store.Store) Model {
	ta := textarea.New()
	ta.Placeholder = "Ask a question (/help for commands)"
	ta.ShowLineNumbers = false
	ta.SetHeight(2)
	ta.CharLimit = 4000
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		textarea:       ta,
		spinner:        sp,
		styles:         DefaultStyles(),
		manager:        manager,
		orch:           orch,
		st:             st,
		conversationID: uuid.NewString(),
		includeWeb:     true,
		history: []Message{{
			Role:    "system",
			Content: "Welcome to quarry. Ask a question, or type /help for commands.",
		}},
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spinner.Tick)
}

// listenStream delivers the next orchestrator event as a tea message.
func listenStream(events <-chan answer.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-events
		if !ok {
			return streamClosedMsg{}
		}
		return streamEventMsg{event: event}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var taCmd, vpCmd tea.Cmd
	m.textarea, taCmd = m.textarea.Update(msg)
	m.viewport, vpCmd = m.viewport.Update(msg)

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		vpHeight := msg.Height - m.textarea.Height() - 4
		if vpHeight < 1 {
			vpHeight = 1
		}
		if !m.ready {
			m.viewport = viewport.New(msg.Width, vpHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = vpHeight
		}
		m.textarea.SetWidth(msg.Width - 2)
		if r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(), glamour.WithWordWrap(msg.Width-4)); err == nil {
			m.renderer = r
		}
		m.refreshViewport()
		return m, tea.Batch(taCmd, vpCmd)

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		case tea.KeyEnter:
			if m.isLoading {
				return m, nil
			}
			query := strings.TrimSpace(m.textarea.Value())
			m.textarea.Reset()
			if query == "" {
				return m, nil
			}
			if strings.HasPrefix(query, "/") {
				return m.handleCommand(query)
			}
			return m.submit(query)
		}

	case streamEventMsg:
		last := len(m.history) - 1
		switch data := msg.event.Data.(type) {
		case answer.MetaData:
			m.history[last].Mode = data.Mode
		case answer.TokenData:
			m.history[last].Content += data.Text
		case answer.DoneData:
			m.history[last].Content = data.FinalText
		case answer.ErrorData:
			m.history[last].Content = "Error: " + data.Message
		}
		m.refreshViewport()
		return m, listenStream(m.events)

	case streamClosedMsg:
		m.isLoading = false
		if m.cancel != nil {
			m.cancel()
			m.cancel = nil
		}
		m.events = nil
		m.refreshViewport()
		return m, nil

	case spinner.TickMsg:
		if m.isLoading {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
	}

	return m, tea.Batch(taCmd, vpCmd)
}

// submit starts a streamed answer for the query.
func (m Model) submit(query string) (tea.Model, tea.Cmd) {
	m.history = append(m.history,
		Message{Role: "user", Content: query},
		Message{Role: "assistant"})
	m.isLoading = true

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.events = m.orch.StreamAnswer(ctx, query, m.conversationID, answer.Options{
		PreferMode:       m.preferMode,
		IncludeWeb:       m.includeWeb,
		IncludeDocuments: true,
	})
	m.refreshViewport()
	return m, tea.Batch(m.spinner.Tick, listenStream(m.events))
}

func (m Model) handleCommand(input string) (tea.Model, tea.Cmd) {
	fields := strings.Fields(input)
	switch fields[0] {
	case "/quit", "/exit":
		return m, tea.Quit
	case "/help":
		m.say(helpText)
	case "/offline":
		m.preferMode = "OFFLINE"
		m.say("Answering from the local archive only.")
	case "/online":
		m.preferMode = "ONLINE"
		m.say("Forcing fresh web retrieval.")
	case "/auto":
		m.preferMode = ""
		m.say("Online first, offline fallback.")
	case "/web":
		m.includeWeb = !m.includeWeb
		if m.includeWeb {
			m.say("Web sources enabled.")
		} else {
			m.say("Web sources disabled.")
		}
	case "/docs":
		m.say(m.describeDocuments())
	case "/stats":
		m.say(m.describeStats())
	default:
		m.say(fmt.Sprintf("Unknown command %s. Try /help.", fields[0]))
	}
	m.refreshViewport()
	return m, nil
}

const helpText = `Commands:
  /offline   answer from the local archive only
  /online    force fresh web retrieval
  /auto      online first, offline fallback (default)
  /web       toggle web sources on or off
  /docs      list uploaded documents
  /stats     show archive statistics
  /quit      exit`

func (m *Model) say(text string) {
	m.history = append(m.history, Message{Role: "system", Content: text})
}

func (m Model) describeDocuments() string {
	docs, err := m.st.ListDocuments(context.Background())
	if err != nil {
		return "Failed to list documents: " + err.Error()
	}
	if len(docs) == 0 {
		return "No documents uploaded."
	}
	var sb strings.Builder
	for _, doc := range docs {
		fmt.Fprintf(&sb, "%s  [%s]  %s (%s)\n", doc.ID, doc.Status, doc.Filename, doc.DocType)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (m Model) describeStats() string {
	stats, err := m.st.GetStats()
	if err != nil {
		return "Failed to read stats: " + err.Error()
	}
	return fmt.Sprintf("Pages: %d  Answers: %d  Documents: %d  Chunks: %d  Vectors: %d",
		stats.Pages, stats.Answers, stats.Documents, stats.Chunks, stats.Vectors)
}
