package answer

import (
	"context"

	"quarry/internal/logging"
	"quarry/internal/retrieval"
)

// Event is one server-sent event in an answer stream. The sequence is
// always meta, token*, done - or a single error event.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Event types.
const (
	EventMeta  = "meta"
	EventToken = "token"
	EventDone  = "done"
	EventError = "error"
)

// ErrCodeStream labels stream-level failures in error events.
const ErrCodeStream = "STREAM_ERROR"

// MetaData is the payload of the leading meta event.
type MetaData struct {
	Mode           string             `json:"mode"`
	Sources        []retrieval.Source `json:"sources"`
	ConversationID string             `json:"conversation_id"`
}

// TokenData carries one incremental text delta.
type TokenData struct {
	Text string `json:"text"`
}

// DoneData carries the assembled final text.
type DoneData struct {
	FinalText string `json:"final_text"`
}

// ErrorData describes a stream failure.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StreamAnswer produces the answer as an event stream. The channel is
// closed when the stream ends.
func (o *Orchestrator) StreamAnswer(ctx context.Context, query, conversationID string, opts Options) <-chan Event {
	events := make(chan Event, 16)

	go func() {
		defer close(events)

		emit := func(e Event) bool {
			select {
			case events <- e:
				return true
			case <-ctx.Done():
				return false
			}
		}

		cfg := o.manager.Current()

		if opts.IncludeDocuments {
			if result := o.tryAnalytics(ctx, query, opts.DocumentIDs); result != nil {
				text := formatAnalyticsAnswer(result)
				emit(Event{Type: EventMeta, Data: MetaData{
					Mode: retrieval.ModeOfflineArchive,
					Sources: []retrieval.Source{{
						URL:           "analytics://tabular",
						Snippet:       result.Summary,
						RetrievalType: "document_keyword",
						SourceType:    "document",
					}},
					ConversationID: conversationID,
				}})
				emit(Event{Type: EventToken, Data: TokenData{Text: text}})
				emit(Event{Type: EventDone, Data: DoneData{FinalText: text}})
				return
			}
		}

		mode, contexts := o.gatherContexts(ctx, query, opts)
		emit(Event{Type: EventMeta, Data: MetaData{
			Mode:           mode,
			Sources:        retrieval.ContextsToSources(contexts, mode, cfg.OfflineRetrievalMode),
			ConversationID: conversationID,
		}})

		prompt := answerPrompt(mode, contexts, opts.IncludeDocuments)
		full := ""
		contentChan, errorChan := o.llm.Stream(ctx, prompt, query, 0.2)
		for delta := range contentChan {
			full += delta
			if !emit(Event{Type: EventToken, Data: TokenData{Text: delta}}) {
				return
			}
		}

		if err := <-errorChan; err != nil {
			// Degrade to a unary completion delivered as one token.
			logging.AnswerWarn("stream failed, unary fallback: %v", err)
			response, cerr := o.llm.Complete(ctx, prompt, query, 0.2)
			if cerr != nil {
				emit(Event{Type: EventError, Data: ErrorData{Code: ErrCodeStream, Message: cerr.Error()}})
				return
			}
			full = response
			if !emit(Event{Type: EventToken, Data: TokenData{Text: full}}) {
				return
			}
		}

		emit(Event{Type: EventDone, Data: DoneData{FinalText: full}})
	}()

	return events
}
