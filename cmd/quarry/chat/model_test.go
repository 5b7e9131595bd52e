package chat

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quarry/internal/answer"
)

func updated(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out
}

func TestStreamEventsAccumulate(t *testing.T) {
	m := New(nil, nil, nil)
	m.history = append(m.history,
		Message{Role: "user", Content: "q"},
		Message{Role: "assistant"})
	m.events = make(chan answer.Event)
	m.isLoading = true

	m = updated(t, m, streamEventMsg{event: answer.Event{
		Type: answer.EventMeta,
		Data: answer.MetaData{Mode: "OFFLINE_ARCHIVE", ConversationID: "conv-1"},
	}})
	m = updated(t, m, streamEventMsg{event: answer.Event{
		Type: answer.EventToken, Data: answer.TokenData{Text: "Hel"},
	}})
	m = updated(t, m, streamEventMsg{event: answer.Event{
		Type: answer.EventToken, Data: answer.TokenData{Text: "lo"},
	}})

	last := m.history[len(m.history)-1]
	assert.Equal(t, "OFFLINE_ARCHIVE", last.Mode)
	assert.Equal(t, "Hello", last.Content)

	m = updated(t, m, streamEventMsg{event: answer.Event{
		Type: answer.EventDone, Data: answer.DoneData{FinalText: "Hello."},
	}})
	assert.Equal(t, "Hello.", m.history[len(m.history)-1].Content)

	m = updated(t, m, streamClosedMsg{})
	assert.False(t, m.isLoading)
}

func TestStreamErrorReplacesContent(t *testing.T) {
	m := New(nil, nil, nil)
	m.history = append(m.history,
		Message{Role: "user", Content: "q"},
		Message{Role: "assistant", Content: "partial"})
	m.events = make(chan answer.Event)

	m = updated(t, m, streamEventMsg{event: answer.Event{
		Type: answer.EventError,
		Data: answer.ErrorData{Code: answer.ErrCodeStream, Message: "backend down"},
	}})
	assert.Equal(t, "Error: backend down", m.history[len(m.history)-1].Content)
}

func TestModeCommands(t *testing.T) {
	m := New(nil, nil, nil)

	next, _ := m.handleCommand("/offline")
	m = next.(Model)
	assert.Equal(t, "OFFLINE", m.preferMode)

	next, _ = m.handleCommand("/auto")
	m = next.(Model)
	assert.Equal(t, "", m.preferMode)

	next, _ = m.handleCommand("/web")
	m = next.(Model)
	assert.False(t, m.includeWeb)

	next, _ = m.handleCommand("/bogus")
	m = next.(Model)
	assert.Contains(t, m.history[len(m.history)-1].Content, "Unknown command")
}

func TestRenderHistoryShowsModeTag(t *testing.T) {
	m := New(nil, nil, nil)
	m.history = []Message{
		{Role: "user", Content: "question"},
		{Role: "assistant", Content: "answer", Mode: "ONLINE"},
	}
	out := m.renderHistory()
	assert.Contains(t, out, "question")
	assert.Contains(t, out, "answer")
	assert.Contains(t, out, "ONLINE")
}
